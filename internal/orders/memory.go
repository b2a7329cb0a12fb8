package orders

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development. A single
// mutex held for the whole InTx call serialises transactions, which gives the
// same observable behaviour as the row-locked Postgres store: a concurrent
// writer blocks, then sees the committed state. Mutations run against staged
// copies and are swapped in only on commit, so a failed closure leaves nothing
// behind.
type MemoryStore struct {
	mu       sync.Mutex
	variants map[string]ProductVariant
	orders   map[string]Order
	items    map[string][]OrderItem // keyed by order id
	byNumber map[string]string      // order number -> order id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		variants: make(map[string]ProductVariant),
		orders:   make(map[string]Order),
		items:    make(map[string][]OrderItem),
		byNumber: make(map[string]string),
	}
}

// SeedVariant inserts or replaces a variant row. Test/setup helper only; the
// order core itself never writes absolute stock values.
func (m *MemoryStore) SeedVariant(v ProductVariant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

// Variant returns a copy of the current row, for assertions.
func (m *MemoryStore) Variant(id string) (ProductVariant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[id]
	return v, ok
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		variants: cloneMap(m.variants),
		orders:   cloneMap(m.orders),
		items:    cloneItems(m.items),
		byNumber: cloneMap(m.byNumber),
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.variants = tx.variants
	m.orders = tx.orders
	m.items = tx.items
	m.byNumber = tx.byNumber
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (Order, []OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, nil, ErrNotFound
	}
	return o, append([]OrderItem(nil), m.items[id]...), nil
}

func (m *MemoryStore) GetOrderByNumber(ctx context.Context, number string) (Order, []OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumber[number]
	if !ok {
		return Order{}, nil, ErrNotFound
	}
	o := m.orders[id]
	return o, append([]OrderItem(nil), m.items[id]...), nil
}

type memTx struct {
	variants map[string]ProductVariant
	orders   map[string]Order
	items    map[string][]OrderItem
	byNumber map[string]string
}

var _ Tx = (*memTx)(nil)

func (t *memTx) VariantsForUpdate(ctx context.Context, ids []string) (map[string]ProductVariant, error) {
	out := make(map[string]ProductVariant, len(ids))
	for _, id := range ids {
		if v, ok := t.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(ctx context.Context, variantID string, qty int) error {
	v, ok := t.variants[variantID]
	if !ok || v.Stock < qty {
		return ErrStockConflict
	}
	v.Stock -= qty
	t.variants[variantID] = v
	return nil
}

func (t *memTx) IncrementStock(ctx context.Context, variantID string, qty int) error {
	v, ok := t.variants[variantID]
	if !ok {
		return ErrVariantNotFound
	}
	v.Stock += qty
	t.variants[variantID] = v
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o Order, items []OrderItem) error {
	if _, taken := t.byNumber[o.Number]; taken {
		return ErrOrderNumberTaken
	}
	t.orders[o.ID] = o
	t.items[o.ID] = append([]OrderItem(nil), items...)
	t.byNumber[o.Number] = o.ID
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id string) (Order, []OrderItem, error) {
	o, ok := t.orders[id]
	if !ok {
		return Order{}, nil, ErrNotFound
	}
	return o, append([]OrderItem(nil), t.items[id]...), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, id string, st Status) error {
	o, ok := t.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	t.orders[id] = o
	return nil
}

func (t *memTx) UpdateShipping(ctx context.Context, id, carrier, trackingCode string) error {
	o, ok := t.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Carrier = carrier
	o.TrackingCode = trackingCode
	t.orders[id] = o
	return nil
}

func (t *memTx) UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus) error {
	o, ok := t.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = ps
	t.orders[id] = o
	return nil
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneItems(in map[string][]OrderItem) map[string][]OrderItem {
	out := make(map[string][]OrderItem, len(in))
	for k, v := range in {
		out[k] = append([]OrderItem(nil), v...)
	}
	return out
}

// MemoryEmails is the EmailDirectory counterpart of MemoryStore.
type MemoryEmails map[string]string

var _ EmailDirectory = MemoryEmails{}

func (m MemoryEmails) Email(ctx context.Context, userID string) (string, error) {
	email, ok := m[userID]
	if !ok {
		return "", ErrNotFound
	}
	return email, nil
}
