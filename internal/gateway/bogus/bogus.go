// Package bogus implements an in-memory payment gateway for development and
// tests. Every action succeeds unless the payment was marked to fail.
package bogus

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/domain/payment"
)

// Name is the registry name of the gateway.
const Name = "bogus"

// ErrDeclined is returned for payments marked to fail.
var ErrDeclined = errors.New("bogus gateway: declined")

// Call is one recorded gateway invocation.
type Call struct {
	Op        string
	PaymentID string
	Amount    decimal.Decimal
}

// Gateway records calls and fails on configured payments.
type Gateway struct {
	caps payment.Capabilities

	mu      sync.Mutex
	fail    map[string]struct{}
	calls   []Call
	refunds map[string]string // idempotency key -> credit reference
}

// New creates a Gateway. captureAmount toggles single-call partial capture.
func New(captureAmount bool) *Gateway {
	return &Gateway{
		caps: payment.Capabilities{CaptureAmount: captureAmount},
		fail:    make(map[string]struct{}),
		refunds: make(map[string]string),
	}
}

// FailOn makes every action on the payment fail.
func (g *Gateway) FailOn(paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[paymentID] = struct{}{}
}

// Calls returns a copy of the recorded calls.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *Gateway) Capabilities() payment.Capabilities { return g.caps }

func (g *Gateway) Capture(_ context.Context, p *order.Payment) error {
	return g.record("capture", p, p.Amount)
}

func (g *Gateway) CaptureAmount(_ context.Context, p *order.Payment, amount decimal.Decimal) error {
	if !g.caps.CaptureAmount {
		return errors.New("bogus gateway: capture with amount disabled")
	}
	return g.record("capture_amount", p, amount)
}

func (g *Gateway) UpdateAmount(_ context.Context, p *order.Payment, amount decimal.Decimal) error {
	return g.record("update_amount", p, amount)
}

func (g *Gateway) Void(_ context.Context, p *order.Payment) error {
	return g.record("void", p, p.Amount)
}

// Credit replays the earlier reference when the same credit is retried, the
// way a real gateway honours an idempotency key.
func (g *Gateway) Credit(_ context.Context, p *order.Payment, amount decimal.Decimal) (string, error) {
	key := payment.IdempotencyKey("refund", p, amount)
	g.mu.Lock()
	ref, ok := g.refunds[key]
	g.mu.Unlock()
	if ok {
		return ref, nil
	}

	if err := g.record("credit", p, amount); err != nil {
		return "", err
	}
	ref = "bogus-credit-" + key

	g.mu.Lock()
	g.refunds[key] = ref
	g.mu.Unlock()
	return ref, nil
}

func (g *Gateway) record(op string, p *order.Payment, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: op, PaymentID: p.ID, Amount: amount})
	if _, ok := g.fail[p.ID]; ok {
		return errors.Wrapf(ErrDeclined, "%s %s", op, p.ID)
	}
	return nil
}
