package orders

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("order not found")
	ErrVariantNotFound   = errors.New("variant not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("order can no longer be cancelled by the customer")
	ErrTerminalState     = errors.New("order is in a terminal state")
	ErrInvalidTransition = errors.New("illegal status transition")

	// ErrOrderNumberTaken is returned by stores on a unique violation of the
	// order number. The checkout retries with a fresh number; callers outside
	// the orchestrator never see it.
	ErrOrderNumberTaken = errors.New("order number already taken")

	// ErrStockConflict means a conditional decrement found less stock than the
	// locked validation read did. Impossible while every writer takes the row
	// lock first; kept as a hard failure rather than a silent oversell.
	ErrStockConflict = errors.New("stock update would go negative")
)

// StockErrorKind discriminates the per-line checkout failures.
type StockErrorKind string

const (
	StockItemUnavailable StockErrorKind = "ITEM_UNAVAILABLE"
	StockOutOfStock      StockErrorKind = "OUT_OF_STOCK"
	StockInsufficient    StockErrorKind = "INSUFFICIENT_STOCK"
)

// StockError names the first offending cart line, in cart order, so the UI can
// show exactly why checkout failed.
type StockError struct {
	Kind      StockErrorKind
	VariantID string
	Name      string // item name as recorded in the cart / variant display name
	Requested int
	Available int
}

func (e *StockError) Error() string {
	switch e.Kind {
	case StockItemUnavailable:
		return fmt.Sprintf("%q is no longer available", e.Name)
	case StockOutOfStock:
		return fmt.Sprintf("%q is out of stock", e.Name)
	default:
		return fmt.Sprintf("%q only has %d units available", e.Name, e.Available)
	}
}

// IsStockError unwraps err into a *StockError if there is one in the chain.
func IsStockError(err error) (*StockError, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
