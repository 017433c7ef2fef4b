// Package catalog holds the stock location and shipping method records that
// settlement resolves by name.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// AdvisoryCalculator marks a shipping method whose cost is decided outside
// the platform.
const AdvisoryCalculator = "advisory"

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// StockLocation is a warehouse packages ship from.
type StockLocation struct {
	ID   string
	Name string
}

// ShippingCategory groups shipping methods.
type ShippingCategory struct {
	ID        string
	Name      string
	IsDefault bool
}

// ShippingMethod is a named shipping catalog entry.
type ShippingMethod struct {
	ID         string
	Name       string
	Calculator string
	CategoryID string
	CreatedAt  time.Time
}

// IsAdvisory reports whether the method uses the advisory calculator.
func (m *ShippingMethod) IsAdvisory() bool {
	return m.Calculator == AdvisoryCalculator
}

// Repository defines the catalog lookups settlement needs.
type Repository interface {
	FindStockLocation(ctx context.Context, name string) (*StockLocation, error)
	FindShippingMethods(ctx context.Context, name string) ([]ShippingMethod, error)
	CreateShippingMethod(ctx context.Context, m *ShippingMethod) error
	DefaultShippingCategory(ctx context.Context) (*ShippingCategory, error)
}
