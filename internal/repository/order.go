package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, number, currency, fulfilled_at, created_at
		FROM orders WHERE number = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listLineItemsSQL = `SELECT id, sku, quantity, price
		FROM line_items WHERE order_id = $1 ORDER BY id`

	listUnitsSQL = `SELECT id, line_item_id, COALESCE(shipment_id, ''), state, created_at
		FROM inventory_units WHERE order_id = $1 ORDER BY created_at, id`

	listShipmentsSQL = `SELECT id, number, COALESCE(stock_location_id, ''), COALESCE(shipping_method_id, ''),
		cost, tracking, state, shipped_at, created_at
		FROM shipments WHERE order_id = $1 ORDER BY created_at, id`

	listRatesSQL = `SELECT r.shipment_id, r.id, r.shipping_method_id, r.cost, r.selected
		FROM shipping_rates r JOIN shipments s ON s.id = r.shipment_id
		WHERE s.order_id = $1 ORDER BY r.id`

	listAdjustmentsSQL = `SELECT id, COALESCE(shipment_id, ''), label, amount, mandatory, source, source_ref, created_at
		FROM adjustments WHERE order_id = $1 ORDER BY created_at, id`

	listPaymentsSQL = `SELECT p.id, p.method, p.amount, o.currency, p.state, p.response_code,
		COALESCE((SELECT SUM(c.amount) FROM payment_credits c WHERE c.payment_id = p.id), 0),
		p.created_at
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE p.order_id = $1 ORDER BY p.created_at, p.id`

	markFulfilledSQL = `UPDATE orders SET fulfilled_at = $2 WHERE id = $1`

	createShipmentSQL = `INSERT INTO shipments
		(id, order_id, number, stock_location_id, shipping_method_id, cost, tracking, state, shipped_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)`

	updateShipmentSQL = `UPDATE shipments SET number = $2, stock_location_id = NULLIF($3, ''),
		shipping_method_id = NULLIF($4, ''), cost = $5, tracking = $6, state = $7, shipped_at = $8
		WHERE id = $1`

	deleteShipmentSQL = `DELETE FROM shipments WHERE id = $1`

	deleteShipmentRatesSQL       = `DELETE FROM shipping_rates WHERE shipment_id = $1`
	deleteShipmentAdjustmentsSQL = `DELETE FROM adjustments WHERE shipment_id = $1`
	zeroShipmentCostSQL          = `UPDATE shipments SET cost = 0 WHERE id = $1`

	assignUnitsSQL = `UPDATE inventory_units SET shipment_id = $1, state = $2 WHERE id = ANY($3)`

	createAdjustmentSQL = `INSERT INTO adjustments
		(id, order_id, shipment_id, label, amount, mandatory, source, source_ref, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`

	deleteAdjustmentSQL = `DELETE FROM adjustments WHERE id = $1`

	updatePaymentSQL = `UPDATE payments SET state = $2, amount = $3, updated_at = NOW() WHERE id = $1`

	createCreditSQL = `INSERT INTO payment_credits (id, payment_id, amount, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ order.Repository = (*Store)(nil)

// GetByNumber loads the order aggregate. forUpdate locks the order row for
// the rest of the enclosing transaction.
func (s *Store) GetByNumber(ctx context.Context, number string, forUpdate bool) (*order.Order, error) {
	query := getOrderSQL
	if forUpdate && s.inTx {
		query = getOrderForUpdateSQL
	}

	var o order.Order
	err := s.db.QueryRow(ctx, query, number).Scan(&o.ID, &o.Number, &o.Currency, &o.FulfilledAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", number, err)
	}

	if o.LineItems, err = s.listLineItems(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Units, err = s.listUnits(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Shipments, err = s.listShipments(ctx, o.ID); err != nil {
		return nil, err
	}
	if err := s.attachRates(ctx, &o); err != nil {
		return nil, err
	}
	if err := s.attachAdjustments(ctx, &o); err != nil {
		return nil, err
	}
	if o.Payments, err = s.listPayments(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) listLineItems(ctx context.Context, orderID string) ([]*order.LineItem, error) {
	rows, err := s.db.Query(ctx, listLineItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.LineItem, error) {
		var li order.LineItem
		err := row.Scan(&li.ID, &li.SKU, &li.Quantity, &li.Price)
		return &li, err
	})
}

func (s *Store) listUnits(ctx context.Context, orderID string) ([]*order.InventoryUnit, error) {
	rows, err := s.db.Query(ctx, listUnitsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing inventory units: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.InventoryUnit, error) {
		var u order.InventoryUnit
		err := row.Scan(&u.ID, &u.LineItemID, &u.ShipmentID, &u.State, &u.CreatedAt)
		return &u, err
	})
}

func (s *Store) listShipments(ctx context.Context, orderID string) ([]*order.Shipment, error) {
	rows, err := s.db.Query(ctx, listShipmentsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing shipments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Shipment, error) {
		var sh order.Shipment
		err := row.Scan(
			&sh.ID, &sh.Number, &sh.StockLocationID, &sh.ShippingMethodID,
			&sh.Cost, &sh.Tracking, &sh.State, &sh.ShippedAt, &sh.CreatedAt,
		)
		return &sh, err
	})
}

func (s *Store) attachRates(ctx context.Context, o *order.Order) error {
	rows, err := s.db.Query(ctx, listRatesSQL, o.ID)
	if err != nil {
		return fmt.Errorf("listing shipping rates: %w", err)
	}

	byShipment := shipmentIndex(o)
	var shipmentID string
	var r order.ShippingRate
	_, err = pgx.ForEachRow(rows, []any{&shipmentID, &r.ID, &r.ShippingMethodID, &r.Cost, &r.Selected}, func() error {
		if sh, ok := byShipment[shipmentID]; ok {
			rate := r
			sh.Rates = append(sh.Rates, &rate)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning shipping rates: %w", err)
	}
	return nil
}

// attachAdjustments splits adjustments into order-level entries and entries
// owned by a shipment.
func (s *Store) attachAdjustments(ctx context.Context, o *order.Order) error {
	rows, err := s.db.Query(ctx, listAdjustmentsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("listing adjustments: %w", err)
	}
	adjustments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Adjustment, error) {
		var a order.Adjustment
		err := row.Scan(&a.ID, &a.ShipmentID, &a.Label, &a.Amount, &a.Mandatory, &a.Source, &a.SourceRef, &a.CreatedAt)
		return &a, err
	})
	if err != nil {
		return fmt.Errorf("scanning adjustments: %w", err)
	}

	byShipment := shipmentIndex(o)
	for _, a := range adjustments {
		if a.ShipmentID == "" {
			o.Adjustments = append(o.Adjustments, a)
			continue
		}
		if sh, ok := byShipment[a.ShipmentID]; ok {
			sh.Adjustments = append(sh.Adjustments, a)
		}
	}
	return nil
}

func (s *Store) listPayments(ctx context.Context, orderID string) ([]*order.Payment, error) {
	rows, err := s.db.Query(ctx, listPaymentsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Payment, error) {
		var p order.Payment
		err := row.Scan(&p.ID, &p.Method, &p.Amount, &p.Currency, &p.State, &p.ResponseCode, &p.Credited, &p.CreatedAt)
		return &p, err
	})
}

func shipmentIndex(o *order.Order) map[string]*order.Shipment {
	idx := make(map[string]*order.Shipment, len(o.Shipments))
	for _, sh := range o.Shipments {
		idx[sh.ID] = sh
	}
	return idx
}

// MarkFulfilled stores the order's fulfillment time.
func (s *Store) MarkFulfilled(ctx context.Context, o *order.Order) error {
	if _, err := s.db.Exec(ctx, markFulfilledSQL, o.ID, o.FulfilledAt); err != nil {
		return fmt.Errorf("marking order %q fulfilled: %w", o.Number, err)
	}
	return nil
}

// CreateShipment inserts sh and assigns its ID.
func (s *Store) CreateShipment(ctx context.Context, orderID string, sh *order.Shipment) error {
	sh.ID = uuid.NewString()
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, createShipmentSQL,
		sh.ID, orderID, sh.Number, sh.StockLocationID, sh.ShippingMethodID,
		sh.Cost, sh.Tracking, sh.State, sh.ShippedAt, sh.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating shipment %q: %w", sh.Number, err)
	}
	return nil
}

func (s *Store) UpdateShipment(ctx context.Context, sh *order.Shipment) error {
	_, err := s.db.Exec(ctx, updateShipmentSQL,
		sh.ID, sh.Number, sh.StockLocationID, sh.ShippingMethodID,
		sh.Cost, sh.Tracking, sh.State, sh.ShippedAt,
	)
	if err != nil {
		return fmt.Errorf("updating shipment %q: %w", sh.Number, err)
	}
	return nil
}

// DeleteShipment removes the shipment. Its units become unassigned.
func (s *Store) DeleteShipment(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, deleteShipmentSQL, id); err != nil {
		return fmt.Errorf("deleting shipment %q: %w", id, err)
	}
	return nil
}

// ClearShipmentCharges drops the shipment's rates and adjustments and zeroes
// its cost.
func (s *Store) ClearShipmentCharges(ctx context.Context, shipmentID string) error {
	for _, q := range []string{deleteShipmentRatesSQL, deleteShipmentAdjustmentsSQL, zeroShipmentCostSQL} {
		if _, err := s.db.Exec(ctx, q, shipmentID); err != nil {
			return fmt.Errorf("clearing charges of shipment %q: %w", shipmentID, err)
		}
	}
	return nil
}

func (s *Store) AssignUnits(ctx context.Context, shipmentID string, state order.UnitState, unitIDs []string) error {
	if _, err := s.db.Exec(ctx, assignUnitsSQL, shipmentID, state, unitIDs); err != nil {
		return fmt.Errorf("assigning units to shipment %q: %w", shipmentID, err)
	}
	return nil
}

// CreateAdjustment inserts a and assigns its ID.
func (s *Store) CreateAdjustment(ctx context.Context, orderID string, a *order.Adjustment) error {
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, createAdjustmentSQL,
		a.ID, orderID, a.ShipmentID, a.Label, a.Amount, a.Mandatory, a.Source, a.SourceRef, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating adjustment %q: %w", a.Label, err)
	}
	return nil
}

func (s *Store) DeleteAdjustment(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, deleteAdjustmentSQL, id); err != nil {
		return fmt.Errorf("deleting adjustment %q: %w", id, err)
	}
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *order.Payment) error {
	if _, err := s.db.Exec(ctx, updatePaymentSQL, p.ID, p.State, p.Amount); err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	return nil
}

// CreateCredit records a gateway refund and assigns its ID.
func (s *Store) CreateCredit(ctx context.Context, c *order.Credit) error {
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, createCreditSQL, c.ID, c.PaymentID, c.Amount, c.ResponseCode, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating credit for payment %q: %w", c.PaymentID, err)
	}
	return nil
}
