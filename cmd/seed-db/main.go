// Command seed-db prepares a database for local settlement runs: catalog
// defaults, an API key and optionally a demo order awaiting ROP events.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/auth"
	"github.com/xenking/rop-settlement/internal/domain/catalog"
	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/gateway/bogus"
	"github.com/xenking/rop-settlement/internal/handler"
	"github.com/xenking/rop-settlement/internal/repository"
)

type options struct {
	databaseURL string
	apiKey      string
	pepper      string
	locations   string
	demoOrder   string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or ROP_SEED_API_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ROP_API_KEY_PEPPER env)")
	flag.StringVar(&opts.locations, "stock-locations", "WH1", "comma-separated stock location names ROP ships from")
	flag.StringVar(&opts.demoOrder, "demo-order", "", "number of a demo order to create, empty to skip")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = firstNonEmpty(opts.databaseURL, os.Getenv("DATABASE_URL"))
	opts.apiKey = firstNonEmpty(opts.apiKey, os.Getenv("ROP_SEED_API_KEY"))
	opts.pepper = firstNonEmpty(opts.pepper, os.Getenv("ROP_API_KEY_PEPPER"))
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or ROP_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := repository.NewStore(pool)

	category := &catalog.ShippingCategory{Name: "Default", IsDefault: true}
	if err := store.UpsertShippingCategory(ctx, category); err != nil {
		return errors.Wrap(err, "seed shipping category")
	}
	lg.Info("Upserted shipping category", zap.String("id", category.ID))

	var first *catalog.StockLocation
	for _, name := range strings.Split(opts.locations, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		loc := &catalog.StockLocation{Name: name}
		if err := store.UpsertStockLocation(ctx, loc); err != nil {
			return errors.Wrap(err, "seed stock location")
		}
		if first == nil {
			first = loc
		}
		lg.Info("Upserted stock location", zap.String("name", name), zap.String("id", loc.ID))
	}

	key := &auth.APIKeyInfo{
		ID:      "rop",
		KeyHash: handler.HashKey([]byte(opts.pepper), opts.apiKey),
		Name:    "ROP integration",
		Scopes:  []string{auth.ScopeSettle},
	}
	if err := store.UpsertAPIKey(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))

	if opts.demoOrder == "" {
		return nil
	}
	if first == nil {
		return errors.New("demo order needs at least one stock location")
	}
	switch _, err := store.GetByNumber(ctx, opts.demoOrder, false); {
	case err == nil:
		lg.Info("Demo order exists, skipping", zap.String("number", opts.demoOrder))
		return nil
	case !errors.Is(err, order.ErrNotFound):
		return errors.Wrap(err, "check demo order")
	}

	o := demoOrder(opts.demoOrder, first.ID)
	if err := store.CreateOrder(ctx, o); err != nil {
		return errors.Wrap(err, "seed demo order")
	}
	lg.Info("Created demo order",
		zap.String("number", o.Number),
		zap.String("id", o.ID),
		zap.Strings("line_items", []string{o.LineItems[0].ID, o.LineItems[1].ID}),
	)
	return nil
}

// demoOrder builds an unfulfilled order: two line items with pending units
// on one ready shipment carrying a 10.00 cost, paid by a pending payment
// covering items and shipping. Line item ids are NUMBER-SKU so ROP fixtures
// can reference them.
func demoOrder(number, locationID string) *order.Order {
	o := &order.Order{
		ID:       uuid.NewString(),
		Number:   number,
		Currency: "USD",
		LineItems: []*order.LineItem{
			{ID: number + "-SHIRT-M", SKU: "SHIRT-M", Quantity: 2, Price: decimal.RequireFromString("19.99")},
			{ID: number + "-MUG", SKU: "MUG", Quantity: 1, Price: decimal.RequireFromString("12.50")},
		},
	}
	shipment := &order.Shipment{
		ID:              uuid.NewString(),
		Number:          "H" + number,
		StockLocationID: locationID,
		Cost:            decimal.NewFromInt(10),
		State:           order.ShipmentReady,
	}
	o.Shipments = []*order.Shipment{shipment}

	total := shipment.Cost
	for _, li := range o.LineItems {
		total = total.Add(li.Total())
		for range li.Quantity {
			o.Units = append(o.Units, &order.InventoryUnit{
				LineItemID: li.ID,
				ShipmentID: shipment.ID,
				State:      order.UnitPending,
			})
		}
	}

	o.Payments = []*order.Payment{{
		Method:       bogus.Name,
		Amount:       total,
		Currency:     o.Currency,
		State:        order.PaymentPending,
		ResponseCode: "seed-auth",
	}}
	return o
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
