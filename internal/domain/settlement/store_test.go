package settlement

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/rop-settlement/internal/domain/catalog"
	"github.com/xenking/rop-settlement/internal/domain/order"
)

// --- Mock implementations ---

// memStore keeps committed state in memory. InTx restores a snapshot when fn
// fails so tests can observe rollback.
type memStore struct {
	orders    map[string]*order.Order
	locations map[string]*catalog.StockLocation
	methods   []catalog.ShippingMethod
	category  *catalog.ShippingCategory
	credits   []*order.Credit
	seq       int

	createdMethods int
	failCredits    int
}

func newMemStore(orders ...*order.Order) *memStore {
	s := &memStore{
		orders:    make(map[string]*order.Order),
		locations: make(map[string]*catalog.StockLocation),
		category:  &catalog.ShippingCategory{ID: "cat-1", Name: "Default", IsDefault: true},
	}
	for _, o := range orders {
		s.orders[o.Number] = o
	}
	s.locations["WH1"] = &catalog.StockLocation{ID: "loc-1", Name: "WH1"}
	return s
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	orders := make(map[string]*order.Order, len(s.orders))
	for k, o := range s.orders {
		orders[k] = cloneOrder(o)
	}
	methods := slices.Clone(s.methods)
	credits := slices.Clone(s.credits)

	if err := fn(ctx, s); err != nil {
		s.orders = orders
		s.methods = methods
		s.credits = credits
		return err
	}
	return nil
}

func (s *memStore) GetByNumber(_ context.Context, number string, _ bool) (*order.Order, error) {
	o, ok := s.orders[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *memStore) MarkFulfilled(_ context.Context, o *order.Order) error {
	stored := s.orders[o.Number]
	stored.FulfilledAt = o.FulfilledAt
	return nil
}

func (s *memStore) orderByID(id string) *order.Order {
	for _, o := range s.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (s *memStore) shipment(id string) (*order.Order, *order.Shipment) {
	for _, o := range s.orders {
		for _, sh := range o.Shipments {
			if sh.ID == id {
				return o, sh
			}
		}
	}
	return nil, nil
}

func (s *memStore) CreateShipment(_ context.Context, orderID string, sh *order.Shipment) error {
	o := s.orderByID(orderID)
	if o == nil {
		return order.ErrNotFound
	}
	sh.ID = s.nextID("shp")
	o.Shipments = append(o.Shipments, cloneShipment(sh))
	return nil
}

func (s *memStore) UpdateShipment(_ context.Context, sh *order.Shipment) error {
	_, stored := s.shipment(sh.ID)
	if stored == nil {
		return order.ErrNotFound
	}
	stored.Number = sh.Number
	stored.StockLocationID = sh.StockLocationID
	stored.ShippingMethodID = sh.ShippingMethodID
	stored.Cost = sh.Cost
	stored.Tracking = sh.Tracking
	stored.State = sh.State
	stored.ShippedAt = sh.ShippedAt
	return nil
}

func (s *memStore) DeleteShipment(_ context.Context, id string) error {
	o, _ := s.shipment(id)
	if o == nil {
		return order.ErrNotFound
	}
	o.RemoveShipment(id)
	return nil
}

func (s *memStore) ClearShipmentCharges(_ context.Context, id string) error {
	_, sh := s.shipment(id)
	if sh == nil {
		return order.ErrNotFound
	}
	sh.Rates = nil
	sh.Adjustments = nil
	sh.Cost = decimal.Zero
	return nil
}

func (s *memStore) AssignUnits(_ context.Context, shipmentID string, state order.UnitState, ids []string) error {
	o, _ := s.shipment(shipmentID)
	if o == nil {
		return order.ErrNotFound
	}
	for _, u := range o.Units {
		if slices.Contains(ids, u.ID) {
			u.ShipmentID = shipmentID
			u.State = state
		}
	}
	return nil
}

func (s *memStore) CreateAdjustment(_ context.Context, orderID string, a *order.Adjustment) error {
	o := s.orderByID(orderID)
	if o == nil {
		return order.ErrNotFound
	}
	a.ID = s.nextID("adj")
	cp := *a
	o.Adjustments = append(o.Adjustments, &cp)
	return nil
}

func (s *memStore) DeleteAdjustment(_ context.Context, id string) error {
	for _, o := range s.orders {
		o.Adjustments = slices.DeleteFunc(o.Adjustments, func(a *order.Adjustment) bool { return a.ID == id })
	}
	return nil
}

func (s *memStore) payment(id string) *order.Payment {
	for _, o := range s.orders {
		for _, p := range o.Payments {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

func (s *memStore) UpdatePayment(_ context.Context, p *order.Payment) error {
	stored := s.payment(p.ID)
	if stored == nil {
		return order.ErrNotFound
	}
	stored.State = p.State
	stored.Amount = p.Amount
	return nil
}

func (s *memStore) CreateCredit(_ context.Context, c *order.Credit) error {
	if s.failCredits > 0 {
		s.failCredits--
		return errors.New("credits table unavailable")
	}
	stored := s.payment(c.PaymentID)
	if stored == nil {
		return order.ErrNotFound
	}
	c.ID = s.nextID("crd")
	stored.Credited = stored.Credited.Add(c.Amount)
	s.credits = append(s.credits, c)
	return nil
}

func (s *memStore) FindStockLocation(_ context.Context, name string) (*catalog.StockLocation, error) {
	loc, ok := s.locations[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *loc
	return &cp, nil
}

func (s *memStore) FindShippingMethods(_ context.Context, name string) ([]catalog.ShippingMethod, error) {
	var out []catalog.ShippingMethod
	for _, m := range s.methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) CreateShippingMethod(_ context.Context, m *catalog.ShippingMethod) error {
	m.ID = s.nextID("sm")
	s.methods = append(s.methods, *m)
	s.createdMethods++
	return nil
}

func (s *memStore) DefaultShippingCategory(_ context.Context) (*catalog.ShippingCategory, error) {
	if s.category == nil {
		return nil, catalog.ErrNotFound
	}
	cp := *s.category
	return &cp, nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.LineItems = clonePtrs(o.LineItems)
	c.Units = clonePtrs(o.Units)
	c.Adjustments = clonePtrs(o.Adjustments)
	c.Payments = clonePtrs(o.Payments)
	c.Shipments = make([]*order.Shipment, len(o.Shipments))
	for i, sh := range o.Shipments {
		c.Shipments[i] = cloneShipment(sh)
	}
	return &c
}

func cloneShipment(sh *order.Shipment) *order.Shipment {
	c := *sh
	c.Rates = clonePtrs(sh.Rates)
	c.Adjustments = clonePtrs(sh.Adjustments)
	return &c
}

func clonePtrs[T any](in []*T) []*T {
	if in == nil {
		return nil
	}
	out := make([]*T, len(in))
	for i, v := range in {
		cp := *v
		out[i] = &cp
	}
	return out
}
