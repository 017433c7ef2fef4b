package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	packages metric.Int64Counter
	pruned   metric.Int64Counter
	payments metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("github.com/xenking/rop-settlement/settlement")

	packages, err := meter.Int64Counter("settlement.packages",
		metric.WithDescription("Packages received from ROP, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "packages counter")
	}
	pruned, err := meter.Int64Counter("settlement.shipments.pruned",
		metric.WithDescription("Shipments deleted after losing all their units"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pruned counter")
	}
	payments, err := meter.Int64Counter("settlement.payment.actions",
		metric.WithDescription("Gateway actions taken during settlement, by operation and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payments counter")
	}

	return &metrics{
		packages: packages,
		pruned:   pruned,
		payments: payments,
	}, nil
}

func (m *metrics) packageApplied(ctx context.Context) {
	m.packages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "applied")))
}

func (m *metrics) packageSkipped(ctx context.Context) {
	m.packages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
}

func (m *metrics) packageCapped(ctx context.Context) {
	m.packages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "capped")))
}

func (m *metrics) shipmentPruned(ctx context.Context) {
	m.pruned.Add(ctx, 1)
}

func (m *metrics) paymentAction(ctx context.Context, op string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.payments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
