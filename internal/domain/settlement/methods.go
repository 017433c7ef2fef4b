package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/catalog"
)

// methodResolver looks up or creates advisory shipping methods. It lives for
// one call so a method created mid-call is reused and nothing leaks across
// calls.
type methodResolver struct {
	repo       catalog.Repository
	autoCreate bool
	opts       MethodOptions
	memo       map[string]*catalog.ShippingMethod
}

func newMethodResolver(repo catalog.Repository, autoCreate bool, opts MethodOptions) *methodResolver {
	return &methodResolver{
		repo:       repo,
		autoCreate: autoCreate && !opts.NoAutoMethods,
		opts:       opts,
		memo:       make(map[string]*catalog.ShippingMethod),
	}
}

// defaultName returns the per-call method name override, or fallback.
func (r *methodResolver) defaultName(fallback string) string {
	if r.opts.MethodName != "" {
		return r.opts.MethodName
	}
	return fallback
}

func (r *methodResolver) resolve(ctx context.Context, name string) (*catalog.ShippingMethod, error) {
	if m, ok := r.memo[name]; ok {
		return m, nil
	}

	found, err := r.repo.FindShippingMethods(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "find shipping method %q", name)
	}
	for i := range found {
		m := &found[i]
		if r.opts.UseAnyMethod || m.IsAdvisory() {
			r.memo[name] = m
			return m, nil
		}
	}

	if !r.autoCreate {
		return nil, &ConfigurationError{Reason: "shipping method " + name + " not found"}
	}

	category, err := r.repo.DefaultShippingCategory(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &ConfigurationError{Reason: "default shipping category not found"}
		}
		return nil, errors.Wrap(err, "find default shipping category")
	}

	m := &catalog.ShippingMethod{
		Name:       name,
		Calculator: catalog.AdvisoryCalculator,
		CategoryID: category.ID,
	}
	if err := r.repo.CreateShippingMethod(ctx, m); err != nil {
		return nil, errors.Wrapf(err, "create shipping method %q", name)
	}
	zctx.From(ctx).Info("Created advisory shipping method", zap.String("name", name))

	r.memo[name] = m
	return m, nil
}
