//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func ordersPath(number, action string) string {
	return "/api/orders/" + number + "/" + action
}

func TestSettlement_NoAuth(t *testing.T) {
	resp := doPost(t, ordersPath(demoOrder, "complete"), map[string]any{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSettlement_InvalidKey(t *testing.T) {
	resp := doPostWithAuth(t, ordersPath(demoOrder, "complete"), map[string]any{}, "wrong-key")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSettlement_UnknownOrder(t *testing.T) {
	resp := doPostWithAuth(t, ordersPath("R404", "complete"), map[string]any{"ok_capture": true}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("code: got %d, want 404", body.Code)
	}
}

func TestSettlement_PackageValidation(t *testing.T) {
	req := map[string]any{
		"packages": []map[string]any{{"id": "1"}},
	}
	resp := doPostWithAuth(t, ordersPath(demoOrder, "packages"), req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSettlement_UnknownLocation(t *testing.T) {
	req := map[string]any{
		"packages": []map[string]any{{
			"id":       "X1",
			"from":     "NOWHERE",
			"contents": []map[string]any{{"line_item_id": demoOrder + "-MUG", "quantity": 1}},
		}},
	}
	resp := doPostWithAuth(t, ordersPath(demoOrder, "packages"), req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestSettlement_UnknownLineItem(t *testing.T) {
	req := map[string]any{
		"packages": []map[string]any{{
			"id":       "X2",
			"from":     "WH1",
			"contents": []map[string]any{{"line_item_id": "missing", "quantity": 1}},
		}},
	}
	resp := doPostWithAuth(t, ordersPath(demoOrder, "packages"), req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// TestSettlement_Lifecycle ships the demo order in one package, completes it
// with capture, then books a refund and credits it back.
func TestSettlement_Lifecycle(t *testing.T) {
	pkgReq := map[string]any{
		"packages": []map[string]any{{
			"id":       1001,
			"from":     "WH1",
			"tracking": "1Z999",
			"date":     "2024-05-01 12:00:00",
			"contents": []map[string]any{
				{"line_item_id": demoOrder + "-SHIRT-M", "quantity": 2},
				{"line_item_id": demoOrder + "-MUG", "quantity": 1},
			},
		}},
	}

	for i := range 2 {
		resp := doPostWithAuth(t, ordersPath(demoOrder, "packages"), pkgReq, testAPIKey)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("packages attempt %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doPostWithAuth(t, ordersPath(demoOrder, "complete"), map[string]any{
		"ok_capture":         true,
		"ok_partial_capture": true,
		"ok_void":            true,
	}, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("complete: expected 200, got %d", resp.StatusCode)
	}
	completed := decodeJSON[settlementResponse](t, resp)
	resp.Body.Close()

	if len(completed.Errors) != 0 {
		t.Fatalf("complete errors: %v", completed.Errors)
	}
	if len(completed.Status) != 1 {
		t.Fatalf("complete status: got %d payments, want 1", len(completed.Status))
	}
	if completed.Status[0].State != "completed" {
		t.Errorf("payment state: got %q, want completed", completed.Status[0].State)
	}

	refund := map[string]any{"refund_id": "RF-1", "amount": "12.50", "ok_refund": true}
	resp = doPostWithAuth(t, ordersPath(demoOrder, "refunds"), refund, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("refund: expected 200, got %d", resp.StatusCode)
	}
	refunded := decodeJSON[settlementResponse](t, resp)
	resp.Body.Close()

	if len(refunded.Errors) != 0 {
		t.Fatalf("refund errors: %v", refunded.Errors)
	}
	if len(refunded.Status) != 1 || refunded.Status[0].Credit == "0.00" {
		t.Fatalf("refund status: got %+v, want one credited payment", refunded.Status)
	}
	credit := refunded.Status[0].Credit

	// Replaying the same refund id books nothing new.
	resp = doPostWithAuth(t, ordersPath(demoOrder, "refunds"), refund, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("refund replay: expected 200, got %d", resp.StatusCode)
	}
	replayed := decodeJSON[settlementResponse](t, resp)
	resp.Body.Close()

	if len(replayed.Status) != 1 || replayed.Status[0].Credit != credit {
		t.Errorf("refund replay status: got %+v, want credit %s", replayed.Status, credit)
	}
}

func TestSettlement_RefundValidation(t *testing.T) {
	resp := doPostWithAuth(t, ordersPath(demoOrder, "refunds"), map[string]any{"refund_id": "RF-2", "amount": "-1"}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
