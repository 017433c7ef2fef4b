// Package payment defines the gateway surface settlement drives.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

// ErrUnknownGateway is returned when a payment names a gateway that is not registered.
var ErrUnknownGateway = errors.New("unknown payment gateway")

// Capabilities declares optional gateway features.
type Capabilities struct {
	// CaptureAmount is set when the gateway can capture less than the
	// authorized amount in a single call.
	CaptureAmount bool
}

// Gateway executes money movements for a payment. Implementations must not
// mutate the payment; the caller applies state changes after success.
type Gateway interface {
	Capabilities() Capabilities
	Capture(ctx context.Context, p *order.Payment) error
	CaptureAmount(ctx context.Context, p *order.Payment, amount decimal.Decimal) error
	UpdateAmount(ctx context.Context, p *order.Payment, amount decimal.Decimal) error
	Void(ctx context.Context, p *order.Payment) error
	// Credit refunds amount and returns the gateway reference of the refund.
	Credit(ctx context.Context, p *order.Payment, amount decimal.Decimal) (string, error)
}

// Registry resolves gateways by payment method name.
type Registry struct {
	gateways map[string]Gateway
	fallback string
}

// NewRegistry creates a Registry. Payments with an empty method use fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{gateways: make(map[string]Gateway), fallback: fallback}
}

// Register adds a gateway under name.
func (r *Registry) Register(name string, g Gateway) {
	r.gateways[name] = g
}

// For returns the gateway handling p.
func (r *Registry) For(p *order.Payment) (Gateway, error) {
	name := p.Method
	if name == "" {
		name = r.fallback
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownGateway, "method %q", name)
	}
	return g, nil
}
