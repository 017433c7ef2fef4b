// Package square drives payments authorized through Square.
//
// A payment's ResponseCode holds the Square payment id. Square captures an
// authorization in full, so partial captures lower the authorized amount with
// an update first.
package square

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/domain/payment"
)

// Name is the registry name of the gateway.
const Name = "square"

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var (
	// ErrNoReference is returned for payments that carry no Square payment id.
	ErrNoReference = errors.New("payment has no square reference")
	// ErrDeclined wraps 4xx responses: Square rejected the action.
	ErrDeclined = errors.New("square declined")
	// ErrUnavailable wraps transport failures and 5xx responses.
	ErrUnavailable = errors.New("square unavailable")
)

// PaymentsAPI is the subset of the Square payments client the gateway uses.
type PaymentsAPI interface {
	Complete(ctx context.Context, req *sq.CompletePaymentRequest, opts ...sqoption.RequestOption) (*sq.CompletePaymentResponse, error)
	Cancel(ctx context.Context, req *sq.CancelPaymentsRequest, opts ...sqoption.RequestOption) (*sq.CancelPaymentResponse, error)
	Update(ctx context.Context, req *sq.UpdatePaymentRequest, opts ...sqoption.RequestOption) (*sq.UpdatePaymentResponse, error)
}

// RefundsAPI is the subset of the Square refunds client the gateway uses.
type RefundsAPI interface {
	RefundPayment(ctx context.Context, req *sq.RefundPaymentRequest, opts ...sqoption.RequestOption) (*sq.RefundPaymentResponse, error)
}

// Config configures the Square gateway.
type Config struct {
	AccessToken string `yaml:"access_token"`
	Environment string `default:"sandbox"`
}

// Gateway implements payment.Gateway on top of the Square SDK.
type Gateway struct {
	payments PaymentsAPI
	refunds  RefundsAPI
	lg       *zap.Logger
}

// New creates a Gateway with an SDK client for the configured environment.
func New(cfg Config, lg *zap.Logger) (*Gateway, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "" {
		env = sandboxEnv
	}
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errors.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)
	return NewWithAPI(sdk.Payments, sdk.Refunds, lg), nil
}

// NewWithAPI creates a Gateway over explicit API clients.
func NewWithAPI(payments PaymentsAPI, refunds RefundsAPI, lg *zap.Logger) *Gateway {
	return &Gateway{payments: payments, refunds: refunds, lg: lg.Named("square")}
}

func (g *Gateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{CaptureAmount: false}
}

func (g *Gateway) Capture(ctx context.Context, p *order.Payment) error {
	if p.ResponseCode == "" {
		return ErrNoReference
	}
	_, err := g.payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: p.ResponseCode})
	return g.result("complete", p, err)
}

func (g *Gateway) CaptureAmount(context.Context, *order.Payment, decimal.Decimal) error {
	return errors.New("square cannot capture a partial amount")
}

func (g *Gateway) UpdateAmount(ctx context.Context, p *order.Payment, amount decimal.Decimal) error {
	if p.ResponseCode == "" {
		return ErrNoReference
	}
	_, err := g.payments.Update(ctx, &sq.UpdatePaymentRequest{
		PaymentID:      p.ResponseCode,
		IdempotencyKey: payment.IdempotencyKey("update", p, amount),
		Payment: &sq.Payment{
			AmountMoney: Money(amount, p.Currency),
		},
	})
	return g.result("update", p, err)
}

func (g *Gateway) Void(ctx context.Context, p *order.Payment) error {
	if p.ResponseCode == "" {
		return ErrNoReference
	}
	_, err := g.payments.Cancel(ctx, &sq.CancelPaymentsRequest{PaymentID: p.ResponseCode})
	return g.result("cancel", p, err)
}

func (g *Gateway) Credit(ctx context.Context, p *order.Payment, amount decimal.Decimal) (string, error) {
	if p.ResponseCode == "" {
		return "", ErrNoReference
	}
	paymentID := p.ResponseCode
	resp, err := g.refunds.RefundPayment(ctx, &sq.RefundPaymentRequest{
		IdempotencyKey: payment.IdempotencyKey("refund", p, amount),
		AmountMoney:    Money(amount, p.Currency),
		PaymentID:      &paymentID,
	})
	if err := g.result("refund", p, err); err != nil {
		return "", err
	}
	if refund := resp.GetRefund(); refund != nil {
		return refund.GetID(), nil
	}
	return "", nil
}

func (g *Gateway) result(op string, p *order.Payment, err error) error {
	if err == nil {
		g.lg.Debug("Square call succeeded", zap.String("op", op), zap.String("payment", p.ID))
		return nil
	}
	g.lg.Warn("Square call failed",
		zap.String("op", op),
		zap.String("payment", p.ID),
		zap.Error(err),
	)
	return mapError(op, err)
}

// mapError classifies SDK errors. Rejections are reported as declines so
// operators can tell them apart from outages.
func mapError(op string, err error) error {
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %w", ErrDeclined, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Money converts a decimal amount to Square minor units.
func Money(amount decimal.Decimal, currency string) *sq.Money {
	cents := amount.Shift(2).Round(0).IntPart()
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "USD"
	}
	c := sq.Currency(code)
	return &sq.Money{Amount: &cents, Currency: &c}
}
