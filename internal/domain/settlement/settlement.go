// Package settlement reconciles ROP fulfillment and refund events with the
// local order: shipments, adjustments, inventory units and payments.
//
// Every call runs in two phases. The mutation phase (cost extraction, package
// application, completion, refund adjustment) executes inside one store
// transaction and either commits entirely or not at all. The payment phase
// runs after commit, one gateway action at a time, and reports failures in
// the returned Result instead of failing the call. Both phases run under a
// per-order lock.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/rop-settlement/internal/domain/catalog"
	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/domain/payment"
	"github.com/xenking/rop-settlement/internal/lock"
)

// Store is the persistence surface of settlement.
type Store interface {
	order.Repository
	catalog.Repository
	// InTx runs fn with a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Locker serializes settlement calls per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Gateways resolves the gateway for a payment.
type Gateways interface {
	For(p *order.Payment) (payment.Gateway, error)
}

// Config holds settlement behaviour that does not vary per call.
type Config struct {
	// ShipmentPrefix is prepended to package ids to form shipment numbers.
	ShipmentPrefix string
	// MethodName names the advisory method tagged on extracted shipments
	// when a call does not supply one.
	MethodName string
	// AutoCreateMethods allows missing advisory methods to be created.
	AutoCreateMethods bool

	ShippingLabel  string
	ShortShipLabel string
	RefundLabel    string
}

func (c *Config) setDefaults() {
	if c.ShipmentPrefix == "" {
		c.ShipmentPrefix = "P"
	}
	if c.MethodName == "" {
		c.MethodName = "ROP"
	}
	if c.ShippingLabel == "" {
		c.ShippingLabel = "Shipping"
	}
	if c.ShortShipLabel == "" {
		c.ShortShipLabel = "Short ship"
	}
	if c.RefundLabel == "" {
		c.RefundLabel = "Refund"
	}
}

// Package is one shipped parcel reported by ROP.
type Package struct {
	ID       string
	ShipCode string
	Tracking string
	From     string
	Date     time.Time
	Contents []PackageItem
}

// PackageItem is a (line item, quantity) entry of a package.
type PackageItem struct {
	LineItemID string
	Quantity   int
}

// MethodOptions control advisory shipping method resolution for one call.
type MethodOptions struct {
	UseAnyMethod  bool
	NoAutoMethods bool
	// MethodName overrides Config.MethodName for extracted shipments.
	MethodName string
}

// PaymentFlags select which payment actions the call may take.
type PaymentFlags struct {
	Capture        bool
	PartialCapture bool
	Void           bool
	Refund         bool
}

// AddPackagesRequest is the input of AddPackages.
type AddPackagesRequest struct {
	Packages []Package
	Methods  MethodOptions
}

// CompleteRequest is the input of MarkComplete.
type CompleteRequest struct {
	Payments PaymentFlags
	Methods  MethodOptions
}

// RefundRequest is the input of AddRefund. Amount is positive and booked as
// a negative adjustment.
type RefundRequest struct {
	RefundID string
	Amount   decimal.Decimal
	Payments PaymentFlags
}

// Result reports the outcome of the payment phase.
type Result struct {
	Errors []string
	Status []PaymentStatus
}

// PaymentStatus is the final state of one payment.
type PaymentStatus struct {
	ID     string
	State  order.PaymentState
	Amount decimal.Decimal
	Credit decimal.Decimal
}

// Engine runs settlement calls.
type Engine struct {
	store    Store
	gateways Gateways
	locker   Locker
	costs    CostModel
	valuer   ShortShipValuer
	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer
	metrics  *metrics
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	locker Locker
	costs  CostModel
	valuer ShortShipValuer
	now    func() time.Time
	mp     metric.MeterProvider
	tp     trace.TracerProvider
}

// WithLocker sets the per-order locker. Defaults to an in-process locker.
func WithLocker(l Locker) Option {
	return func(o *engineOptions) { o.locker = l }
}

// WithCostModel sets the shipment cost model. Defaults to FieldCost.
func WithCostModel(m CostModel) Option {
	return func(o *engineOptions) { o.costs = m }
}

// WithShortShipValuer sets the short-ship valuation. A nil valuer makes
// MarkComplete fail with NotImplementedError.
func WithShortShipValuer(v ShortShipValuer) Option {
	return func(o *engineOptions) { o.valuer = v }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithMeterProvider sets the meter provider for settlement metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *engineOptions) { o.mp = mp }
}

// WithTracerProvider sets the tracer provider for settlement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tp = tp }
}

// New creates an Engine.
func New(store Store, gateways Gateways, cfg Config, opts ...Option) (*Engine, error) {
	o := engineOptions{
		costs:  FieldCost{},
		valuer: UnitPriceValuer{},
		now:    time.Now,
		mp:     metricnoop.NewMeterProvider(),
		tp:     tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = lock.NewLocal()
	}

	m, err := newMetrics(o.mp)
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}

	cfg.setDefaults()
	return &Engine{
		store:    store,
		gateways: gateways,
		locker:   o.locker,
		costs:    o.costs,
		valuer:   o.valuer,
		cfg:      cfg,
		now:      o.now,
		tracer:   o.tp.Tracer("github.com/xenking/rop-settlement/settlement"),
		metrics:  m,
	}, nil
}

// AddPackages extracts shipment costs and applies each package. All packages
// commit together or not at all; already applied packages are skipped.
func (e *Engine) AddPackages(ctx context.Context, number string, req AddPackagesRequest) error {
	ctx, span := e.tracer.Start(ctx, "settlement.AddPackages",
		trace.WithAttributes(
			attribute.String("order.number", number),
			attribute.Int("packages", len(req.Packages)),
		),
	)
	defer span.End()

	err := e.withOrderLock(ctx, number, func(ctx context.Context) error {
		return e.mutate(ctx, number, req.Methods, func(ctx context.Context, c *call) error {
			if err := c.extractShipmentCosts(ctx); err != nil {
				return errors.Wrap(err, "extract shipment costs")
			}
			for _, p := range req.Packages {
				if err := c.applyPackage(ctx, p); err != nil {
					return errors.Wrapf(err, "apply package %s", p.ID)
				}
			}
			return nil
		})
	})
	recordSpanError(span, err)
	return err
}

// MarkComplete finalizes shipping for the order and then settles payments.
func (e *Engine) MarkComplete(ctx context.Context, number string, req CompleteRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.MarkComplete",
		trace.WithAttributes(attribute.String("order.number", number)),
	)
	defer span.End()

	var res *Result
	err := e.withOrderLock(ctx, number, func(ctx context.Context) error {
		err := e.mutate(ctx, number, req.Methods, func(ctx context.Context, c *call) error {
			if err := c.extractShipmentCosts(ctx); err != nil {
				return errors.Wrap(err, "extract shipment costs")
			}
			return c.finalize(ctx)
		})
		if err != nil {
			return err
		}
		res, err = e.settlePayments(ctx, number, req.Payments)
		return err
	})
	recordSpanError(span, err)
	return res, err
}

// AddRefund books the refund reported by ROP and then settles payments.
func (e *Engine) AddRefund(ctx context.Context, number string, req RefundRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.AddRefund",
		trace.WithAttributes(
			attribute.String("order.number", number),
			attribute.String("refund.id", req.RefundID),
		),
	)
	defer span.End()

	var res *Result
	err := e.withOrderLock(ctx, number, func(ctx context.Context) error {
		err := e.mutate(ctx, number, MethodOptions{}, func(ctx context.Context, c *call) error {
			return c.addRefund(ctx, req.RefundID, req.Amount)
		})
		if err != nil {
			return err
		}
		res, err = e.settlePayments(ctx, number, req.Payments)
		return err
	})
	recordSpanError(span, err)
	return res, err
}

// call holds the state of one mutation phase.
type call struct {
	e       *Engine
	store   Store
	order   *order.Order
	methods *methodResolver
}

func (e *Engine) mutate(ctx context.Context, number string, opts MethodOptions, fn func(ctx context.Context, c *call) error) error {
	return e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		o, err := loadOrder(ctx, tx, number, true)
		if err != nil {
			return err
		}
		c := &call{
			e:       e,
			store:   tx,
			order:   o,
			methods: newMethodResolver(tx, e.cfg.AutoCreateMethods, opts),
		}
		return fn(ctx, c)
	})
}

func (e *Engine) withOrderLock(ctx context.Context, number string, fn func(ctx context.Context) error) error {
	release, err := e.locker.Acquire(ctx, "settlement:order:"+number)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return ErrOrderBusy
		}
		return errors.Wrap(err, "acquire order lock")
	}
	defer func() {
		// Released on a fresh context so a canceled request still frees the order.
		_ = release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

func loadOrder(ctx context.Context, s Store, number string, forUpdate bool) (*order.Order, error) {
	o, err := s.GetByNumber(ctx, number, forUpdate)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, &NotFoundError{Kind: "order", Key: number}
		}
		return nil, errors.Wrapf(err, "load order %s", number)
	}
	return o, nil
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
