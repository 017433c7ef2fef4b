package settlement

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/domain/payment"
)

// Payment operations, used in error messages and metrics.
const (
	opCapture        = "capture"
	opPartialCapture = "partial_capture"
	opVoid           = "void"
	opCredit         = "credit"
)

// settlePayments reloads the committed order and runs the enabled payment
// actions. Gateway failures are collected in the result, never returned.
func (e *Engine) settlePayments(ctx context.Context, number string, flags PaymentFlags) (*Result, error) {
	o, err := loadOrder(ctx, e.store, number, false)
	if err != nil {
		return nil, errors.Wrap(err, "reload order for payments")
	}

	m := &paymentMachine{
		e:        e,
		order:    o,
		payments: sortedPayments(o.Payments),
		lg:       zctx.From(ctx).With(zap.String("order", number)),
	}
	m.run(ctx, flags)
	return m.result(), nil
}

// paymentMachine walks a snapshot of the order's payments. Each action loop
// attempts every payment at most once, which bounds it by the number of
// payments.
type paymentMachine struct {
	e        *Engine
	order    *order.Order
	payments []*order.Payment
	errs     []string
	lg       *zap.Logger
}

func sortedPayments(ps []*order.Payment) []*order.Payment {
	out := slices.Clone(ps)
	slices.SortStableFunc(out, func(a, b *order.Payment) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (m *paymentMachine) balance() decimal.Decimal {
	return OutstandingBalance(m.order, m.e.costs)
}

func (m *paymentMachine) run(ctx context.Context, flags PaymentFlags) {
	if flags.Capture {
		m.loop(ctx, opCapture,
			func(bal decimal.Decimal) bool { return bal.IsPositive() },
			func(p *order.Payment, bal decimal.Decimal) bool {
				return p.State == order.PaymentPending && p.Amount.IsPositive() && p.Amount.LessThanOrEqual(bal)
			},
			m.capture,
		)
	}
	if flags.PartialCapture {
		m.loop(ctx, opPartialCapture,
			func(bal decimal.Decimal) bool { return bal.IsPositive() },
			func(p *order.Payment, bal decimal.Decimal) bool {
				return p.State == order.PaymentPending && p.Amount.IsPositive() && p.Amount.GreaterThan(bal)
			},
			m.partialCapture,
		)
	}
	if flags.Void {
		m.loop(ctx, opVoid,
			func(bal decimal.Decimal) bool { return !bal.IsPositive() },
			func(p *order.Payment, _ decimal.Decimal) bool {
				return p.State == order.PaymentPending && p.Amount.IsPositive()
			},
			m.void,
		)
	}
	if flags.Refund {
		m.loop(ctx, opCredit,
			func(bal decimal.Decimal) bool { return bal.IsNegative() },
			func(p *order.Payment, _ decimal.Decimal) bool {
				return p.State == order.PaymentCompleted && p.CreditAllowed().IsPositive()
			},
			m.credit,
		)
	}
}

type actionFunc func(ctx context.Context, gw payment.Gateway, p *order.Payment, bal decimal.Decimal) error

func (m *paymentMachine) loop(
	ctx context.Context,
	op string,
	while func(bal decimal.Decimal) bool,
	eligible func(p *order.Payment, bal decimal.Decimal) bool,
	act actionFunc,
) {
	attempted := make(map[string]struct{})
	for {
		bal := m.balance()
		if !while(bal) {
			return
		}
		p := m.next(attempted, func(p *order.Payment) bool { return eligible(p, bal) })
		if p == nil {
			return
		}
		attempted[p.ID] = struct{}{}

		err := m.attempt(ctx, p, bal, act)
		if err != nil {
			gerr := &GatewayError{PaymentID: p.ID, Op: op, Err: err}
			m.errs = append(m.errs, gerr.Error())
			m.e.metrics.paymentAction(ctx, op, false)
			m.lg.Warn("Payment action failed",
				zap.String("payment", p.ID),
				zap.String("op", op),
				zap.Error(err),
			)
			continue
		}
		m.e.metrics.paymentAction(ctx, op, true)
		m.lg.Info("Payment action succeeded",
			zap.String("payment", p.ID),
			zap.String("op", op),
			zap.String("balance", m.balance().String()),
		)
	}
}

func (m *paymentMachine) attempt(ctx context.Context, p *order.Payment, bal decimal.Decimal, act actionFunc) error {
	gw, err := m.e.gateways.For(p)
	if err != nil {
		return err
	}
	return act(ctx, gw, p, bal)
}

// next returns the first payment not in attempted that matches ok.
func (m *paymentMachine) next(attempted map[string]struct{}, ok func(p *order.Payment) bool) *order.Payment {
	for _, p := range m.payments {
		if _, done := attempted[p.ID]; done {
			continue
		}
		if ok(p) {
			return p
		}
	}
	return nil
}

func (m *paymentMachine) capture(ctx context.Context, gw payment.Gateway, p *order.Payment, _ decimal.Decimal) error {
	if err := gw.Capture(ctx, p); err != nil {
		m.markFailed(ctx, p)
		return err
	}
	p.State = order.PaymentCompleted
	return m.save(ctx, p)
}

func (m *paymentMachine) partialCapture(ctx context.Context, gw payment.Gateway, p *order.Payment, bal decimal.Decimal) error {
	amount := bal.Round(2)
	if err := captureStrategyFor(gw).capture(ctx, gw, p, amount); err != nil {
		m.markFailed(ctx, p)
		return err
	}
	p.Amount = amount
	p.State = order.PaymentCompleted
	return m.save(ctx, p)
}

func (m *paymentMachine) void(ctx context.Context, gw payment.Gateway, p *order.Payment, _ decimal.Decimal) error {
	if err := gw.Void(ctx, p); err != nil {
		m.markFailed(ctx, p)
		return err
	}
	p.State = order.PaymentVoid
	return m.save(ctx, p)
}

func (m *paymentMachine) credit(ctx context.Context, gw payment.Gateway, p *order.Payment, bal decimal.Decimal) error {
	amount := decimal.Min(p.CreditAllowed(), bal.Abs())
	ref, err := gw.Credit(ctx, p, amount)
	if err != nil {
		return err
	}
	p.Credited = p.Credited.Add(amount)

	c := &order.Credit{
		PaymentID:    p.ID,
		Amount:       amount,
		ResponseCode: ref,
		CreatedAt:    m.e.now(),
	}
	if err := m.e.store.CreateCredit(ctx, c); err != nil {
		return errors.Wrap(err, "record credit")
	}
	return nil
}

func (m *paymentMachine) save(ctx context.Context, p *order.Payment) error {
	if err := m.e.store.UpdatePayment(ctx, p); err != nil {
		return errors.Wrap(err, "save payment")
	}
	return nil
}

// markFailed records a gateway rejection on the payment. A failure to persist
// it is only logged; the gateway error is what gets reported.
func (m *paymentMachine) markFailed(ctx context.Context, p *order.Payment) {
	p.State = order.PaymentFailed
	if err := m.e.store.UpdatePayment(ctx, p); err != nil {
		m.lg.Error("Save failed payment", zap.String("payment", p.ID), zap.Error(err))
	}
}

func (m *paymentMachine) result() *Result {
	res := &Result{Errors: m.errs}
	for _, p := range m.payments {
		if p.Amount.IsZero() {
			continue
		}
		res.Status = append(res.Status, PaymentStatus{
			ID:     p.ID,
			State:  p.State,
			Amount: p.Amount,
			Credit: p.Credited,
		})
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return res
}

// captureStrategy captures part of a payment's authorized amount.
type captureStrategy interface {
	capture(ctx context.Context, gw payment.Gateway, p *order.Payment, amount decimal.Decimal) error
}

// captureWithAmount passes the amount to the gateway capture call.
type captureWithAmount struct{}

func (captureWithAmount) capture(ctx context.Context, gw payment.Gateway, p *order.Payment, amount decimal.Decimal) error {
	return gw.CaptureAmount(ctx, p, amount)
}

// updateThenCapture lowers the authorized amount first, then captures it in full.
type updateThenCapture struct{}

func (updateThenCapture) capture(ctx context.Context, gw payment.Gateway, p *order.Payment, amount decimal.Decimal) error {
	if err := gw.UpdateAmount(ctx, p, amount); err != nil {
		return errors.Wrap(err, "update amount")
	}
	p.Amount = amount
	return gw.Capture(ctx, p)
}

func captureStrategyFor(gw payment.Gateway) captureStrategy {
	if gw.Capabilities().CaptureAmount {
		return captureWithAmount{}
	}
	return updateThenCapture{}
}
