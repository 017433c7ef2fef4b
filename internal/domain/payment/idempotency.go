package payment

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/rop-settlement/internal/domain/order"
)

// keySpace namespaces idempotency keys derived by IdempotencyKey.
var keySpace = uuid.MustParse("6f1c8e52-3d0a-4b7e-9c61-2a5d4e8f0b17")

// IdempotencyKey derives the gateway idempotency key for a money movement on
// p. The key depends only on the operation, the payment and its persisted
// amounts, so retrying a movement whose result was never recorded yields the
// same key and the gateway replays the original outcome.
//
// Keys are UUIDs so they fit gateway length limits (Square allows 45 chars).
func IdempotencyKey(op string, p *order.Payment, amount decimal.Decimal) string {
	seed := strings.Join([]string{
		op,
		p.ID,
		p.Amount.StringFixed(2),
		p.Credited.StringFixed(2),
		amount.StringFixed(2),
	}, "|")
	return uuid.NewSHA1(keySpace, []byte(seed)).String()
}
