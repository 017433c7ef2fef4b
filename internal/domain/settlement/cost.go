package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

// CostModel reads the cost of a shipment. Platforms store shipping cost
// either on the shipment itself or as adjustments attached to it.
type CostModel interface {
	Name() string
	Cost(s *order.Shipment) decimal.Decimal
}

// FieldCost reads the shipment cost field.
type FieldCost struct{}

func (FieldCost) Name() string { return "field" }

func (FieldCost) Cost(s *order.Shipment) decimal.Decimal {
	return s.Cost
}

// AdjustmentCost sums the adjustments attached to the shipment.
type AdjustmentCost struct{}

func (AdjustmentCost) Name() string { return "adjustment" }

func (AdjustmentCost) Cost(s *order.Shipment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Adjustments {
		total = total.Add(a.Amount)
	}
	return total
}

// ResolveCostModel returns the cost model registered under name.
func ResolveCostModel(name string) (CostModel, error) {
	switch name {
	case "", "field":
		return FieldCost{}, nil
	case "adjustment":
		return AdjustmentCost{}, nil
	default:
		return nil, errors.Errorf("unknown shipment cost model %q", name)
	}
}

// OutstandingBalance is the order total minus payments captured net of credits.
func OutstandingBalance(o *order.Order, costs CostModel) decimal.Decimal {
	total := o.ItemTotal().Add(o.AdjustmentTotal())
	for _, s := range o.Shipments {
		if s.State != order.ShipmentCanceled {
			total = total.Add(costs.Cost(s))
		}
	}
	return total.Sub(o.PaymentTotal())
}

// extractShipmentCosts moves every positive shipment cost into a single
// order-level shipping adjustment and zeroes the shipments. Already extracted
// shipments cost nothing, so repeated calls book nothing.
func (c *call) extractShipmentCosts(ctx context.Context) error {
	total := decimal.Zero
	var method string

	for _, s := range c.order.Shipments {
		if s.State == order.ShipmentCanceled {
			continue
		}
		cost := c.e.costs.Cost(s)
		if !cost.IsPositive() {
			continue
		}

		if method == "" {
			m, err := c.methods.resolve(ctx, c.methods.defaultName(c.e.cfg.MethodName))
			if err != nil {
				return err
			}
			method = m.ID
		}

		if err := c.clearShipmentCharges(ctx, s); err != nil {
			return err
		}
		s.ShippingMethodID = method
		if err := c.store.UpdateShipment(ctx, s); err != nil {
			return errors.Wrapf(err, "update shipment %s", s.Number)
		}
		total = total.Add(cost)
	}

	if !total.IsPositive() {
		return nil
	}

	adj := &order.Adjustment{
		Label:     c.e.cfg.ShippingLabel,
		Amount:    total,
		Mandatory: false,
		Source:    order.SourceShipping,
		CreatedAt: c.e.now(),
	}
	if err := c.store.CreateAdjustment(ctx, c.order.ID, adj); err != nil {
		return errors.Wrap(err, "create shipping adjustment")
	}
	c.order.Adjustments = append(c.order.Adjustments, adj)

	zctx.From(ctx).Info("Extracted shipment costs",
		zap.String("order", c.order.Number),
		zap.String("amount", total.String()),
	)
	return nil
}

// clearShipmentCharges drops rates and shipment adjustments and zeroes the cost.
func (c *call) clearShipmentCharges(ctx context.Context, s *order.Shipment) error {
	if err := c.store.ClearShipmentCharges(ctx, s.ID); err != nil {
		return errors.Wrapf(err, "clear charges of shipment %s", s.Number)
	}
	s.Rates = nil
	s.Adjustments = nil
	s.Cost = decimal.Zero
	return nil
}
