package bogus

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

func TestGateway_RecordsCalls(t *testing.T) {
	g := New(true)
	p := &order.Payment{ID: "p1", Amount: decimal.NewFromInt(10)}
	ctx := context.Background()

	require.NoError(t, g.Capture(ctx, p))
	require.NoError(t, g.CaptureAmount(ctx, p, decimal.NewFromInt(4)))
	ref, err := g.Credit(ctx, p, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	calls := g.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "capture", calls[0].Op)
	assert.Equal(t, "capture_amount", calls[1].Op)
	assert.True(t, decimal.NewFromInt(4).Equal(calls[1].Amount))
	assert.Equal(t, "credit", calls[2].Op)
}

func TestGateway_FailOn(t *testing.T) {
	g := New(false)
	g.FailOn("p1")
	ctx := context.Background()

	require.ErrorIs(t, g.Void(ctx, &order.Payment{ID: "p1"}), ErrDeclined)
	require.NoError(t, g.Void(ctx, &order.Payment{ID: "p2"}))
}

func TestGateway_CaptureAmountDisabled(t *testing.T) {
	g := New(false)
	assert.False(t, g.Capabilities().CaptureAmount)
	require.Error(t, g.CaptureAmount(context.Background(), &order.Payment{ID: "p1"}, decimal.NewFromInt(1)))
}

func TestGateway_CreditReplay(t *testing.T) {
	g := New(true)
	p := &order.Payment{ID: "p1", Amount: decimal.NewFromInt(10)}
	ctx := context.Background()

	first, err := g.Credit(ctx, p, decimal.NewFromInt(3))
	require.NoError(t, err)
	again, err := g.Credit(ctx, p, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	require.Len(t, g.Calls(), 1, "retry moves no money")

	p.Credited = decimal.NewFromInt(3)
	next, err := g.Credit(ctx, p, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.NotEqual(t, first, next)
	assert.Len(t, g.Calls(), 2)
}
