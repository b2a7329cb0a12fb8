package orders

import "context"

// Tx is the transactional handle handed to InTx closures. Every multi-step
// operation (checkout, cancellation, admin status change) runs entirely inside
// one Tx; a returned error rolls back everything, so partial state is never
// observable to other transactions or to a retry.
type Tx interface {
	// VariantsForUpdate fetches the given variants and write-locks their rows
	// until the transaction ends. Missing ids are simply absent from the map.
	VariantsForUpdate(ctx context.Context, ids []string) (map[string]ProductVariant, error)

	// DecrementStock subtracts qty from the variant's stock only if the result
	// stays >= 0, returning ErrStockConflict when the guard refuses. The store
	// must express this as a conditional update, never read-modify-write.
	DecrementStock(ctx context.Context, variantID string, qty int) error

	// IncrementStock adds qty back (cancellation restock).
	IncrementStock(ctx context.Context, variantID string, qty int) error

	// InsertOrder persists the order and its items. A duplicate order number
	// maps to ErrOrderNumberTaken.
	InsertOrder(ctx context.Context, o Order, items []OrderItem) error

	// OrderForUpdate fetches an order plus items and write-locks the order row,
	// serialising concurrent cancellations of the same order.
	OrderForUpdate(ctx context.Context, id string) (Order, []OrderItem, error)

	UpdateOrderStatus(ctx context.Context, id string, st Status) error
	UpdateShipping(ctx context.Context, id, carrier, trackingCode string) error
	UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus) error
}

// Store is the persistence boundary of the order core. InTx opens a
// transaction, runs fn with the transactional handle, and commits iff fn
// returns nil; it commits or rolls back exactly once.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	// Read-only lookups outside any transaction.
	GetOrder(ctx context.Context, id string) (Order, []OrderItem, error)
	GetOrderByNumber(ctx context.Context, number string) (Order, []OrderItem, error)
}

// EmailDirectory resolves an account's email for the public order-tracking
// match. It is a collaborator boundary: the order core never manages users.
type EmailDirectory interface {
	Email(ctx context.Context, userID string) (string, error)
}
