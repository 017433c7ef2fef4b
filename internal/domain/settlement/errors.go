package settlement

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrOrderBusy is returned when another settlement call holds the order.
var ErrOrderBusy = errors.New("order is being settled by another request")

// NotFoundError indicates a referenced order, line item or record does not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// ConfigurationError indicates the catalog is missing something settlement
// requires and is not allowed to create.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// GatewayError records a failed payment action. It never aborts a call; its
// message is reported in Result.Errors.
type GatewayError struct {
	PaymentID string
	Op        string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment %s: %s: %v", e.PaymentID, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NotImplementedError is returned for settlement steps whose valuation has not
// been configured.
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return e.Feature + " is not implemented"
}
