package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/rop-settlement/internal/domain/auth"
	"github.com/xenking/rop-settlement/internal/domain/catalog"
	"github.com/xenking/rop-settlement/internal/domain/order"
)

const (
	upsertStockLocationSQL = `INSERT INTO stock_locations (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`

	upsertShippingCategorySQL = `INSERT INTO shipping_categories (id, name, is_default) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET is_default = EXCLUDED.is_default RETURNING id`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active) VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
		scopes = EXCLUDED.scopes, active = TRUE`

	insertOrderSQL = `INSERT INTO orders (id, number, currency, created_at) VALUES ($1, $2, $3, $4)`

	insertLineItemSQL = `INSERT INTO line_items (id, order_id, sku, quantity, price) VALUES ($1, $2, $3, $4, $5)`

	insertUnitSQL = `INSERT INTO inventory_units (id, order_id, line_item_id, shipment_id, state, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`

	insertPaymentSQL = `INSERT INTO payments (id, order_id, method, amount, state, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertRateSQL = `INSERT INTO shipping_rates (id, shipment_id, shipping_method_id, cost, selected)
		VALUES ($1, $2, $3, $4, $5)`
)

// UpsertStockLocation creates the location if its name is new and sets loc.ID.
func (s *Store) UpsertStockLocation(ctx context.Context, loc *catalog.StockLocation) error {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if err := s.db.QueryRow(ctx, upsertStockLocationSQL, loc.ID, loc.Name).Scan(&loc.ID); err != nil {
		return fmt.Errorf("upserting stock location %q: %w", loc.Name, err)
	}
	return nil
}

// UpsertShippingCategory creates the category if its name is new and sets c.ID.
func (s *Store) UpsertShippingCategory(ctx context.Context, c *catalog.ShippingCategory) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.db.QueryRow(ctx, upsertShippingCategorySQL, c.ID, c.Name, c.IsDefault).Scan(&c.ID); err != nil {
		return fmt.Errorf("upserting shipping category %q: %w", c.Name, err)
	}
	return nil
}

// UpsertAPIKey stores an active API key.
func (s *Store) UpsertAPIKey(ctx context.Context, k *auth.APIKeyInfo) error {
	if _, err := s.db.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.Scopes); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}

// CreateOrder inserts a complete order aggregate in one transaction. Missing
// IDs are generated; shipments and their rates keep the IDs they carry.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	return s.withTx(ctx, func(tx *Store) error {
		return tx.createOrder(ctx, o)
	})
}

func (s *Store) createOrder(ctx context.Context, o *order.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if _, err := s.db.Exec(ctx, insertOrderSQL, o.ID, o.Number, o.Currency, o.CreatedAt); err != nil {
		return fmt.Errorf("inserting order %q: %w", o.Number, err)
	}

	for _, li := range o.LineItems {
		if li.ID == "" {
			li.ID = uuid.NewString()
		}
		if _, err := s.db.Exec(ctx, insertLineItemSQL, li.ID, o.ID, li.SKU, li.Quantity, li.Price); err != nil {
			return fmt.Errorf("inserting line item %q: %w", li.SKU, err)
		}
	}

	for _, sh := range o.Shipments {
		id := sh.ID
		if err := s.CreateShipment(ctx, o.ID, sh); err != nil {
			return err
		}
		// Units and rates reference the caller's shipment ID.
		if id != "" {
			for _, u := range o.Units {
				if u.ShipmentID == id {
					u.ShipmentID = sh.ID
				}
			}
		}
		for _, r := range sh.Rates {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if _, err := s.db.Exec(ctx, insertRateSQL, r.ID, sh.ID, r.ShippingMethodID, r.Cost, r.Selected); err != nil {
				return fmt.Errorf("inserting shipping rate: %w", err)
			}
		}
		for _, a := range sh.Adjustments {
			a.ShipmentID = sh.ID
			if err := s.CreateAdjustment(ctx, o.ID, a); err != nil {
				return err
			}
		}
	}

	for _, u := range o.Units {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now()
		}
		_, err := s.db.Exec(ctx, insertUnitSQL, u.ID, o.ID, u.LineItemID, u.ShipmentID, u.State, u.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting inventory unit: %w", err)
		}
	}

	for _, a := range o.Adjustments {
		if err := s.CreateAdjustment(ctx, o.ID, a); err != nil {
			return err
		}
	}

	for _, p := range o.Payments {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		_, err := s.db.Exec(ctx, insertPaymentSQL, p.ID, o.ID, p.Method, p.Amount, p.State, p.ResponseCode, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting payment: %w", err)
		}
	}
	return nil
}
