// Package handler exposes the settlement engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/auth"
	"github.com/xenking/rop-settlement/internal/domain/settlement"
)

// Settler is the settlement surface the handlers drive.
type Settler interface {
	AddPackages(ctx context.Context, number string, req settlement.AddPackagesRequest) error
	MarkComplete(ctx context.Context, number string, req settlement.CompleteRequest) (*settlement.Result, error)
	AddRefund(ctx context.Context, number string, req settlement.RefundRequest) (*settlement.Result, error)
}

// Handler serves the settlement endpoints.
type Handler struct {
	settler Settler
}

// NewHandler creates a Handler.
func NewHandler(settler Settler) *Handler {
	return &Handler{settler: settler}
}

// Register mounts the settlement routes on mux. Routes expect an
// authenticated key in the request context, see Authenticator.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders/{number}/packages", h.AddPackages)
	mux.HandleFunc("POST /api/orders/{number}/complete", h.MarkComplete)
	mux.HandleFunc("POST /api/orders/{number}/refunds", h.AddRefund)
}

// AddPackages applies ROP packages to the order.
func (h *Handler) AddPackages(w http.ResponseWriter, r *http.Request) {
	number, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req packagesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.settler.AddPackages(r.Context(), number, in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeEmpty())
}

// MarkComplete finalizes the order and settles its payments.
func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	number, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settler.MarkComplete(r.Context(), number, req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeResult(res))
}

// AddRefund books a ROP refund and settles payments.
func (h *Handler) AddRefund(w http.ResponseWriter, r *http.Request) {
	number, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settler.AddRefund(r.Context(), number, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeResult(res))
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	number := r.PathValue("number")
	if err := auth.CanUpdateOrder(r.Context(), number); err != nil {
		writeError(w, r, err)
		return "", false
	}
	if k := auth.KeyFrom(r.Context()); k != nil {
		zctx.From(r.Context()).Debug("Authorized settlement call",
			zap.String("order", number),
			zap.String("key", k.Name),
		)
	}
	return number, true
}
