package settlement

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/catalog"
	"github.com/xenking/rop-settlement/internal/domain/order"
)

// ShipmentNumber returns the shipment number a package maps to.
func (e *Engine) ShipmentNumber(packageID string) string {
	return e.cfg.ShipmentPrefix + packageID
}

// applyPackage materializes one package as a shipped shipment. A package
// whose shipment already exists is skipped without changes.
func (c *call) applyPackage(ctx context.Context, p Package) error {
	lg := zctx.From(ctx).With(
		zap.String("order", c.order.Number),
		zap.String("package", p.ID),
	)

	number := c.e.ShipmentNumber(p.ID)
	if c.order.Shipment(number) != nil {
		lg.Debug("Package already applied")
		c.e.metrics.packageSkipped(ctx)
		return nil
	}

	for _, item := range p.Contents {
		if c.order.LineItem(item.LineItemID) == nil {
			return &NotFoundError{Kind: "line item", Key: item.LineItemID}
		}
	}

	loc, err := c.store.FindStockLocation(ctx, p.From)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &ConfigurationError{Reason: "stock location not found: " + p.From}
		}
		return errors.Wrapf(err, "find stock location %q", p.From)
	}

	shipCode := strings.TrimSpace(p.ShipCode)
	if shipCode == "" {
		shipCode = c.methods.defaultName(c.e.cfg.MethodName)
	}
	method, err := c.methods.resolve(ctx, shipCode)
	if err != nil {
		return err
	}

	now := c.e.now()
	shippedAt := p.Date
	if shippedAt.IsZero() {
		shippedAt = now
	}

	s := &order.Shipment{
		Number:           number,
		StockLocationID:  loc.ID,
		ShippingMethodID: method.ID,
		Cost:             decimal.Zero,
		Tracking:         p.Tracking,
		State:            order.ShipmentShipped,
		ShippedAt:        &shippedAt,
		CreatedAt:        now,
	}
	if err := c.store.CreateShipment(ctx, c.order.ID, s); err != nil {
		return errors.Wrapf(err, "create shipment %s", number)
	}
	c.order.Shipments = append(c.order.Shipments, s)

	moved := c.reassignUnits(p.Contents, s.ID)
	if len(moved) > 0 {
		if err := c.store.AssignUnits(ctx, s.ID, order.UnitShipped, moved); err != nil {
			return errors.Wrapf(err, "assign units to shipment %s", number)
		}
	}

	pruned, err := c.pruneEmptyShipments(ctx)
	if err != nil {
		return err
	}

	if len(moved) == 0 {
		// Every requested quantity was capped, the new shipment was pruned.
		c.e.metrics.packageCapped(ctx)
		lg.Warn("Package shipped no units",
			zap.String("shipment", number),
			zap.Int("pruned", pruned),
		)
		return nil
	}

	c.e.metrics.packageApplied(ctx)
	lg.Info("Applied package",
		zap.String("shipment", number),
		zap.Int("units", len(moved)),
		zap.Int("pruned", pruned),
	)
	return nil
}

// reassignUnits moves up to the requested quantity of unshipped units per line
// item onto the shipment and returns their ids. Requests beyond what is
// available are capped.
func (c *call) reassignUnits(contents []PackageItem, shipmentID string) []string {
	var moved []string
	for _, item := range contents {
		if item.Quantity <= 0 {
			continue
		}
		available := c.availableUnits(item.LineItemID)
		if len(available) > item.Quantity {
			available = available[:item.Quantity]
		}
		for _, u := range available {
			u.ShipmentID = shipmentID
			u.State = order.UnitShipped
			moved = append(moved, u.ID)
		}
	}
	return moved
}

// availableUnits returns the pending units of a line item in first-created order.
func (c *call) availableUnits(lineItemID string) []*order.InventoryUnit {
	var units []*order.InventoryUnit
	for _, u := range c.order.Units {
		if u.LineItemID == lineItemID && u.State == order.UnitPending {
			units = append(units, u)
		}
	}
	slices.SortStableFunc(units, func(a, b *order.InventoryUnit) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return units
}

// pruneEmptyShipments deletes every shipment left without units.
func (c *call) pruneEmptyShipments(ctx context.Context) (int, error) {
	var empty []*order.Shipment
	for _, s := range c.order.Shipments {
		if len(c.order.UnitsOn(s.ID)) == 0 {
			empty = append(empty, s)
		}
	}
	for _, s := range empty {
		if err := c.store.DeleteShipment(ctx, s.ID); err != nil {
			return 0, errors.Wrapf(err, "delete empty shipment %s", s.Number)
		}
		c.order.RemoveShipment(s.ID)
		c.e.metrics.shipmentPruned(ctx)
	}
	return len(empty), nil
}
