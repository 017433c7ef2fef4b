package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

var (
	// ErrRefundIDRequired is returned when a refund carries no ROP id.
	ErrRefundIDRequired = errors.New("refund id required")
	// ErrInvalidRefundAmount is returned for a zero or negative refund amount.
	ErrInvalidRefundAmount = errors.New("refund amount must be greater than 0")
)

// addRefund books the ROP-reported refund as a negative adjustment. The
// amount is taken as is; a refund id already booked is ignored.
func (c *call) addRefund(ctx context.Context, refundID string, amount decimal.Decimal) error {
	if refundID == "" {
		return ErrRefundIDRequired
	}
	if !amount.IsPositive() {
		return ErrInvalidRefundAmount
	}
	lg := zctx.From(ctx).With(
		zap.String("order", c.order.Number),
		zap.String("refund", refundID),
	)

	for _, a := range c.order.Adjustments {
		if a.Source == order.SourceRefund && a.SourceRef == refundID {
			lg.Debug("Refund already booked")
			return nil
		}
	}

	adj := &order.Adjustment{
		Label:     c.e.cfg.RefundLabel,
		Amount:    amount.Neg(),
		Mandatory: true,
		Source:    order.SourceRefund,
		SourceRef: refundID,
		CreatedAt: c.e.now(),
	}
	if err := c.store.CreateAdjustment(ctx, c.order.ID, adj); err != nil {
		return errors.Wrap(err, "create refund adjustment")
	}
	c.order.Adjustments = append(c.order.Adjustments, adj)

	lg.Info("Booked refund", zap.String("amount", amount.String()))
	return nil
}
