package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

// ShortShipValuer values quantity that was ordered but will never ship.
// pending maps line item id to the number of units still pending.
type ShortShipValuer interface {
	Value(o *order.Order, pending map[string]int) decimal.Decimal
}

// UnitPriceValuer values each pending unit at its line item unit price.
type UnitPriceValuer struct{}

func (UnitPriceValuer) Value(o *order.Order, pending map[string]int) decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		n := pending[li.ID]
		if n == 0 {
			continue
		}
		total = total.Add(li.Price.Mul(decimal.NewFromInt(int64(n))))
	}
	return total.Round(2)
}

// ResolveValuer returns the valuer registered under name. "none" yields nil,
// which leaves short-ship valuation unimplemented.
func ResolveValuer(name string) (ShortShipValuer, error) {
	switch name {
	case "", "unit_price":
		return UnitPriceValuer{}, nil
	case "none":
		return nil, nil
	default:
		return nil, errors.Errorf("unknown short ship valuation %q", name)
	}
}

// finalize drops every shipment that never shipped and books the value of the
// units left pending as one negative short-ship adjustment, replacing any
// booked by an earlier completion.
func (c *call) finalize(ctx context.Context) error {
	if c.e.valuer == nil {
		return &NotImplementedError{Feature: "short ship valuation"}
	}
	lg := zctx.From(ctx).With(zap.String("order", c.order.Number))

	var unshipped []*order.Shipment
	for _, s := range c.order.Shipments {
		if s.State != order.ShipmentShipped {
			unshipped = append(unshipped, s)
		}
	}
	for _, s := range unshipped {
		s.State = order.ShipmentCanceled
		if err := c.store.UpdateShipment(ctx, s); err != nil {
			return errors.Wrapf(err, "cancel shipment %s", s.Number)
		}
		if err := c.store.DeleteShipment(ctx, s.ID); err != nil {
			return errors.Wrapf(err, "delete shipment %s", s.Number)
		}
		c.order.RemoveShipment(s.ID)
	}

	pending := make(map[string]int)
	for _, u := range c.order.Units {
		if u.State == order.UnitPending {
			pending[u.LineItemID]++
		}
	}
	value := c.e.valuer.Value(c.order, pending)

	kept := c.order.Adjustments[:0]
	for _, a := range c.order.Adjustments {
		if a.Source != order.SourceShortShip {
			kept = append(kept, a)
			continue
		}
		if err := c.store.DeleteAdjustment(ctx, a.ID); err != nil {
			return errors.Wrap(err, "delete previous short ship adjustment")
		}
	}
	c.order.Adjustments = kept

	if value.IsPositive() {
		adj := &order.Adjustment{
			Label:     c.e.cfg.ShortShipLabel,
			Amount:    value.Neg(),
			Mandatory: true,
			Source:    order.SourceShortShip,
			CreatedAt: c.e.now(),
		}
		if err := c.store.CreateAdjustment(ctx, c.order.ID, adj); err != nil {
			return errors.Wrap(err, "create short ship adjustment")
		}
		c.order.Adjustments = append(c.order.Adjustments, adj)
	}

	now := c.e.now()
	c.order.FulfilledAt = &now
	if err := c.store.MarkFulfilled(ctx, c.order); err != nil {
		return errors.Wrap(err, "mark order fulfilled")
	}

	lg.Info("Finalized shipping",
		zap.Int("dropped_shipments", len(unshipped)),
		zap.String("short_ship", value.String()),
	)
	return nil
}
