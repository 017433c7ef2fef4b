package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/rop-settlement/internal/domain/catalog"
)

const (
	findStockLocationSQL = `SELECT id, name FROM stock_locations WHERE name = $1`

	findShippingMethodsSQL = `SELECT id, name, calculator, category_id, created_at
		FROM shipping_methods WHERE name = $1 ORDER BY created_at, id`

	createShippingMethodSQL = `INSERT INTO shipping_methods (id, name, calculator, category_id)
		VALUES ($1, $2, $3, $4) RETURNING created_at`

	defaultShippingCategorySQL = `SELECT id, name, is_default
		FROM shipping_categories WHERE is_default`
)

var _ catalog.Repository = (*Store)(nil)

// FindStockLocation returns the stock location with the given name.
func (s *Store) FindStockLocation(ctx context.Context, name string) (*catalog.StockLocation, error) {
	rows, err := s.db.Query(ctx, findStockLocationSQL, name)
	if err != nil {
		return nil, fmt.Errorf("finding stock location %q: %w", name, err)
	}

	loc, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.StockLocation])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding stock location %q: %w", name, err)
	}
	return &loc, nil
}

// FindShippingMethods returns every method with the given name, oldest first.
func (s *Store) FindShippingMethods(ctx context.Context, name string) ([]catalog.ShippingMethod, error) {
	rows, err := s.db.Query(ctx, findShippingMethodsSQL, name)
	if err != nil {
		return nil, fmt.Errorf("finding shipping methods %q: %w", name, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.ShippingMethod])
}

// CreateShippingMethod inserts m and assigns its ID.
func (s *Store) CreateShippingMethod(ctx context.Context, m *catalog.ShippingMethod) error {
	m.ID = uuid.NewString()
	err := s.db.QueryRow(ctx, createShippingMethodSQL, m.ID, m.Name, m.Calculator, m.CategoryID).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating shipping method %q: %w", m.Name, err)
	}
	return nil
}

// DefaultShippingCategory returns the category flagged as default.
func (s *Store) DefaultShippingCategory(ctx context.Context) (*catalog.ShippingCategory, error) {
	rows, err := s.db.Query(ctx, defaultShippingCategorySQL)
	if err != nil {
		return nil, fmt.Errorf("finding default shipping category: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.ShippingCategory])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding default shipping category: %w", err)
	}
	return &c, nil
}
