package order

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Repository defines persistence operations on the order aggregate.
// Implementations must apply each call immediately; transactional grouping
// is the caller's concern.
type Repository interface {
	// GetByNumber loads the full aggregate. When forUpdate is set and the
	// repository runs inside a transaction the order row is locked.
	GetByNumber(ctx context.Context, number string, forUpdate bool) (*Order, error)
	MarkFulfilled(ctx context.Context, o *Order) error

	CreateShipment(ctx context.Context, orderID string, s *Shipment) error
	UpdateShipment(ctx context.Context, s *Shipment) error
	DeleteShipment(ctx context.Context, id string) error
	ClearShipmentCharges(ctx context.Context, shipmentID string) error
	AssignUnits(ctx context.Context, shipmentID string, state UnitState, unitIDs []string) error

	CreateAdjustment(ctx context.Context, orderID string, a *Adjustment) error
	DeleteAdjustment(ctx context.Context, id string) error

	UpdatePayment(ctx context.Context, p *Payment) error
	CreateCredit(ctx context.Context, c *Credit) error
}
