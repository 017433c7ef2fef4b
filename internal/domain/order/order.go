package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitState is the lifecycle state of a single inventory unit.
type UnitState string

const (
	UnitPending  UnitState = "pending"
	UnitShipped  UnitState = "shipped"
	UnitReturned UnitState = "returned"
)

// ShipmentState is the lifecycle state of a shipment.
type ShipmentState string

const (
	ShipmentBuilding ShipmentState = "building"
	ShipmentReady    ShipmentState = "ready"
	ShipmentShipped  ShipmentState = "shipped"
	ShipmentCanceled ShipmentState = "canceled"
)

// PaymentState is the lifecycle state of a payment.
type PaymentState string

const (
	PaymentCheckout   PaymentState = "checkout"
	PaymentPending    PaymentState = "pending"
	PaymentProcessing PaymentState = "processing"
	PaymentCompleted  PaymentState = "completed"
	PaymentFailed     PaymentState = "failed"
	PaymentVoid       PaymentState = "void"
)

// Adjustment sources used for idempotent bookkeeping.
const (
	SourceShipping  = "shipping"
	SourceShortShip = "short_ship"
	SourceRefund    = "refund"
)

// Order is the local order aggregate as seen by settlement. Number is the
// external reference shared with ROP.
type Order struct {
	ID          string
	Number      string
	Currency    string
	LineItems   []*LineItem
	Units       []*InventoryUnit
	Shipments   []*Shipment
	Adjustments []*Adjustment
	Payments    []*Payment
	FulfilledAt *time.Time
	CreatedAt   time.Time
}

// LineItem is an ordered product with quantity and unit price.
type LineItem struct {
	ID       string
	SKU      string
	Quantity int
	Price    decimal.Decimal
}

// Total returns price * quantity.
func (li *LineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// InventoryUnit is one physical unit of a line item.
type InventoryUnit struct {
	ID         string
	LineItemID string
	ShipmentID string
	State      UnitState
	CreatedAt  time.Time
}

// Shipment groups inventory units leaving one stock location.
type Shipment struct {
	ID               string
	Number           string
	StockLocationID  string
	ShippingMethodID string
	Cost             decimal.Decimal
	Tracking         string
	State            ShipmentState
	ShippedAt        *time.Time
	CreatedAt        time.Time
	Rates            []*ShippingRate
	Adjustments      []*Adjustment
}

// ShippingRate is a platform-computed rate option attached to a shipment.
type ShippingRate struct {
	ID               string
	ShippingMethodID string
	Cost             decimal.Decimal
	Selected         bool
}

// Adjustment is a signed monetary entry. ShipmentID is empty for
// order-level adjustments.
type Adjustment struct {
	ID         string
	ShipmentID string
	Label      string
	Amount     decimal.Decimal
	Mandatory  bool
	Source     string
	SourceRef  string
	CreatedAt  time.Time
}

// Payment is a gateway-backed payment against the order. ResponseCode is the
// gateway's reference for the authorization.
type Payment struct {
	ID           string
	Method       string
	Amount       decimal.Decimal
	Currency     string
	State        PaymentState
	ResponseCode string
	Credited     decimal.Decimal
	CreatedAt    time.Time
}

// CreditAllowed returns how much of a completed payment can still be refunded.
func (p *Payment) CreditAllowed() decimal.Decimal {
	if p.State != PaymentCompleted {
		return decimal.Zero
	}
	allowed := p.Amount.Sub(p.Credited)
	if allowed.IsNegative() {
		return decimal.Zero
	}
	return allowed
}

// Credit records a refund issued against a completed payment.
type Credit struct {
	ID           string
	PaymentID    string
	Amount       decimal.Decimal
	ResponseCode string
	CreatedAt    time.Time
}

// LineItem returns the line item with the given id, or nil.
func (o *Order) LineItem(id string) *LineItem {
	for _, li := range o.LineItems {
		if li.ID == id {
			return li
		}
	}
	return nil
}

// Shipment returns the shipment with the given number, or nil.
func (o *Order) Shipment(number string) *Shipment {
	for _, s := range o.Shipments {
		if s.Number == number {
			return s
		}
	}
	return nil
}

// UnitsOn returns the units currently assigned to the shipment.
func (o *Order) UnitsOn(shipmentID string) []*InventoryUnit {
	var units []*InventoryUnit
	for _, u := range o.Units {
		if u.ShipmentID == shipmentID {
			units = append(units, u)
		}
	}
	return units
}

// ItemTotal sums line item totals.
func (o *Order) ItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Total())
	}
	return total
}

// AdjustmentTotal sums order-level adjustments.
func (o *Order) AdjustmentTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.Adjustments {
		total = total.Add(a.Amount)
	}
	return total
}

// PaymentTotal is the amount captured so far net of credits.
func (o *Order) PaymentTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		if p.State == PaymentCompleted {
			total = total.Add(p.Amount).Sub(p.Credited)
		}
	}
	return total
}

// RemoveShipment drops a shipment from the aggregate and unassigns its units.
func (o *Order) RemoveShipment(id string) {
	kept := o.Shipments[:0]
	for _, s := range o.Shipments {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	o.Shipments = kept
	for _, u := range o.Units {
		if u.ShipmentID == id {
			u.ShipmentID = ""
		}
	}
}
