package square

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

// --- Mock implementations ---

type mockPayments struct {
	completed []string
	canceled  []string
	updates   []*sq.UpdatePaymentRequest
	err       error
}

func (m *mockPayments) Complete(_ context.Context, req *sq.CompletePaymentRequest, _ ...sqoption.RequestOption) (*sq.CompletePaymentResponse, error) {
	m.completed = append(m.completed, req.PaymentID)
	return &sq.CompletePaymentResponse{}, m.err
}

func (m *mockPayments) Cancel(_ context.Context, req *sq.CancelPaymentsRequest, _ ...sqoption.RequestOption) (*sq.CancelPaymentResponse, error) {
	m.canceled = append(m.canceled, req.PaymentID)
	return &sq.CancelPaymentResponse{}, m.err
}

func (m *mockPayments) Update(_ context.Context, req *sq.UpdatePaymentRequest, _ ...sqoption.RequestOption) (*sq.UpdatePaymentResponse, error) {
	m.updates = append(m.updates, req)
	return &sq.UpdatePaymentResponse{}, m.err
}

type mockRefunds struct {
	reqs []*sq.RefundPaymentRequest
	err  error
}

func (m *mockRefunds) RefundPayment(_ context.Context, req *sq.RefundPaymentRequest, _ ...sqoption.RequestOption) (*sq.RefundPaymentResponse, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &sq.RefundPaymentResponse{}, nil
}

func newTestPayment() *order.Payment {
	return &order.Payment{
		ID:           "pay-1",
		Method:       Name,
		Amount:       decimal.RequireFromString("42.50"),
		Currency:     "usd",
		State:        order.PaymentPending,
		ResponseCode: "sq-123",
	}
}

// --- Tests ---

func TestMoney(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		cents    int64
		code     string
	}{
		{"whole", "10", "USD", 1000, "USD"},
		{"fraction", "42.50", "eur", 4250, "EUR"},
		{"rounds", "0.005", "", 1, "USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Money(decimal.RequireFromString(tt.amount), tt.currency)
			require.NotNil(t, m.Amount)
			require.NotNil(t, m.Currency)
			assert.Equal(t, tt.cents, *m.Amount)
			assert.Equal(t, tt.code, string(*m.Currency))
		})
	}
}

func TestGateway_Capture(t *testing.T) {
	payments := &mockPayments{}
	g := NewWithAPI(payments, &mockRefunds{}, zap.NewNop())

	require.NoError(t, g.Capture(context.Background(), newTestPayment()))
	assert.Equal(t, []string{"sq-123"}, payments.completed)
	assert.False(t, g.Capabilities().CaptureAmount)
}

func TestGateway_NoReference(t *testing.T) {
	g := NewWithAPI(&mockPayments{}, &mockRefunds{}, zap.NewNop())
	p := newTestPayment()
	p.ResponseCode = ""

	require.ErrorIs(t, g.Capture(context.Background(), p), ErrNoReference)
	require.ErrorIs(t, g.Void(context.Background(), p), ErrNoReference)
	_, err := g.Credit(context.Background(), p, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrNoReference)
}

func TestGateway_UpdateAmount(t *testing.T) {
	payments := &mockPayments{}
	g := NewWithAPI(payments, &mockRefunds{}, zap.NewNop())

	require.NoError(t, g.UpdateAmount(context.Background(), newTestPayment(), decimal.RequireFromString("30.25")))
	require.Len(t, payments.updates, 1)

	req := payments.updates[0]
	assert.Equal(t, "sq-123", req.PaymentID)
	assert.NotEmpty(t, req.IdempotencyKey)
	require.NotNil(t, req.Payment)
	assert.Equal(t, int64(3025), *req.Payment.AmountMoney.Amount)
}

func TestGateway_Credit(t *testing.T) {
	refunds := &mockRefunds{}
	g := NewWithAPI(&mockPayments{}, refunds, zap.NewNop())

	_, err := g.Credit(context.Background(), newTestPayment(), decimal.RequireFromString("5"))
	require.NoError(t, err)
	require.Len(t, refunds.reqs, 1)

	req := refunds.reqs[0]
	require.NotNil(t, req.PaymentID)
	assert.Equal(t, "sq-123", *req.PaymentID)
	assert.Equal(t, int64(500), *req.AmountMoney.Amount)
	assert.Equal(t, "USD", string(*req.AmountMoney.Currency))
}

func TestGateway_RetriesReuseIdempotencyKeys(t *testing.T) {
	payments := &mockPayments{}
	refunds := &mockRefunds{}
	g := NewWithAPI(payments, refunds, zap.NewNop())
	ctx := context.Background()
	p := newTestPayment()

	for range 2 {
		_, err := g.Credit(ctx, p, decimal.RequireFromString("5"))
		require.NoError(t, err)
		require.NoError(t, g.UpdateAmount(ctx, p, decimal.RequireFromString("30.25")))
	}
	require.Len(t, refunds.reqs, 2)
	require.Len(t, payments.updates, 2)
	assert.Equal(t, refunds.reqs[0].IdempotencyKey, refunds.reqs[1].IdempotencyKey)
	assert.Equal(t, payments.updates[0].IdempotencyKey, payments.updates[1].IdempotencyKey)
	assert.LessOrEqual(t, len(refunds.reqs[0].IdempotencyKey), 45)

	// A recorded credit changes the payment, so the next refund is a new one.
	p.Credited = decimal.RequireFromString("5")
	_, err := g.Credit(ctx, p, decimal.RequireFromString("5"))
	require.NoError(t, err)
	require.Len(t, refunds.reqs, 3)
	assert.NotEqual(t, refunds.reqs[0].IdempotencyKey, refunds.reqs[2].IdempotencyKey)

	_, err = g.Credit(ctx, p, decimal.RequireFromString("4"))
	require.NoError(t, err)
	require.Len(t, refunds.reqs, 4)
	assert.NotEqual(t, refunds.reqs[2].IdempotencyKey, refunds.reqs[3].IdempotencyKey)
}

func TestGateway_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"declined", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[]}`)), ErrDeclined},
		{"server error", sqcore.NewAPIError(http.StatusBadGateway, errors.New("bad gateway")), ErrUnavailable},
		{"transport", errors.New("connection reset"), ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithAPI(&mockPayments{err: tt.err}, &mockRefunds{}, zap.NewNop())

			err := g.Void(context.Background(), newTestPayment())
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{AccessToken: "token", Environment: "staging"}, zap.NewNop())
	require.Error(t, err)

	g, err := New(Config{AccessToken: "token"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, g)
}
