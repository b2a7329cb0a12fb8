package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testShippingFee = int64(1500)

func testService(store Store, emails EmailDirectory) *Service {
	return NewService(store, emails, zap.NewNop(), testShippingFee)
}

func seedVariant(store *MemoryStore, id string, stock int, priceCents int64) {
	store.SeedVariant(ProductVariant{
		ID:          id,
		ProductName: "Product " + id,
		VariantName: "Default",
		PriceCents:  priceCents,
		Stock:       stock,
	})
}

func guestShipping() ShippingInfo {
	return ShippingInfo{
		Name:    "Budi Santoso",
		Email:   "budi@example.com",
		Phone:   "+62-812-0000",
		Address: "Jl. Melati 4, Bandung",
	}
}

func guestCmd(lines ...CartLine) PlaceOrderCmd {
	return PlaceOrderCmd{Lines: lines, Shipping: guestShipping(), Payment: PaymentCashOnDelivery}
}

func userCmd(userID string, lines ...CartLine) PlaceOrderCmd {
	cmd := guestCmd(lines...)
	cmd.UserID = &userID
	return cmd
}

func mustStock(t *testing.T, store *MemoryStore, id string, want int) {
	t.Helper()
	v, ok := store.Variant(id)
	if !ok {
		t.Fatalf("variant %s missing", id)
	}
	if v.Stock != want {
		t.Fatalf("variant %s stock = %d, want %d", id, v.Stock, want)
	}
}

func assertTotals(t *testing.T, o Order, items []OrderItem) {
	t.Helper()
	var subtotal int64
	for _, it := range items {
		subtotal += it.PriceCents * int64(it.Quantity)
	}
	if o.SubtotalCents != subtotal {
		t.Fatalf("subtotal = %d, want Σ(price×qty) = %d", o.SubtotalCents, subtotal)
	}
	if o.TotalCents != o.SubtotalCents+o.ShippingCents-o.DiscountCents {
		t.Fatalf("total = %d, want subtotal %d + shipping %d - discount %d",
			o.TotalCents, o.SubtotalCents, o.ShippingCents, o.DiscountCents)
	}
}

func TestPlaceOrderComputesTotals(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 10, 1000)
	seedVariant(store, "v2", 10, 500)
	svc := testService(store, nil)

	order, items, err := svc.PlaceOrder(context.Background(),
		guestCmd(CartLine{VariantID: "v1", Quantity: 2}, CartLine{VariantID: "v2", Quantity: 1}))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.Status != StatusPending || order.PaymentStatus != PaymentPending {
		t.Fatalf("new order status = %s/%s, want PENDING/PENDING", order.Status, order.PaymentStatus)
	}
	if order.SubtotalCents != 2500 {
		t.Fatalf("subtotal = %d, want 2500", order.SubtotalCents)
	}
	if order.TotalCents != 2500+testShippingFee {
		t.Fatalf("total = %d, want %d", order.TotalCents, 2500+testShippingFee)
	}
	assertTotals(t, order, items)
	mustStock(t, store, "v1", 8)
	mustStock(t, store, "v2", 9)

	got, gotItems, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Number != order.Number || len(gotItems) != 2 {
		t.Fatalf("persisted order mismatch: %+v", got)
	}
}

func TestPlaceOrderSnapshotsSalePrice(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sale := int64(800)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	store := NewMemoryStore()
	store.SeedVariant(ProductVariant{
		ID: "v1", ProductName: "Kopi Gayo", VariantName: "250g",
		PriceCents: 1000, SalePriceCents: &sale, SaleStartsAt: &start, SaleEndsAt: &end,
		Stock: 5,
	})
	svc := testService(store, nil)
	svc.now = func() time.Time { return now }

	_, items, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if items[0].PriceCents != 800 || items[0].OriginalPriceCents != 1000 {
		t.Fatalf("price snapshot = %d/%d, want 800/1000", items[0].PriceCents, items[0].OriginalPriceCents)
	}
	if items[0].Name != "Kopi Gayo - 250g" {
		t.Fatalf("item name = %q", items[0].Name)
	}

	// Expired window charges list price.
	svc.now = func() time.Time { return end.Add(time.Minute) }
	_, items, err = svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if items[0].PriceCents != 1000 {
		t.Fatalf("expired sale price = %d, want 1000", items[0].PriceCents)
	}
}

func TestPlaceOrderExactStock(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	svc := testService(store, nil)

	if _, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 5})); err != nil {
		t.Fatalf("PlaceOrder at exact stock: %v", err)
	}
	mustStock(t, store, "v1", 0)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	svc := testService(store, nil)

	_, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 6}))
	se, ok := IsStockError(err)
	if !ok || se.Kind != StockInsufficient {
		t.Fatalf("err = %v, want insufficient-stock error", err)
	}
	if se.Available != 5 {
		t.Fatalf("available = %d, want 5", se.Available)
	}
	if !strings.Contains(se.Error(), "only has 5 units available") {
		t.Fatalf("message %q not user-actionable", se.Error())
	}
	// Whole checkout failed: stock untouched, nothing committed.
	mustStock(t, store, "v1", 5)
}

func TestPlaceOrderOutOfStock(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 0, 1000)
	svc := testService(store, nil)

	_, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
	if se, ok := IsStockError(err); !ok || se.Kind != StockOutOfStock {
		t.Fatalf("err = %v, want out-of-stock", err)
	}
}

func TestPlaceOrderUnavailableItems(t *testing.T) {
	store := NewMemoryStore()
	store.SeedVariant(ProductVariant{ID: "gone", ProductName: "Old", PriceCents: 100, Stock: 3, Archived: true})
	svc := testService(store, nil)

	// Archived variant.
	_, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "gone", Quantity: 1}))
	if se, ok := IsStockError(err); !ok || se.Kind != StockItemUnavailable {
		t.Fatalf("archived: err = %v, want item-unavailable", err)
	}

	// Deleted variant: the message falls back to the name the cart recorded.
	_, _, err = svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "missing", Quantity: 1, Name: "Kaos Polos - XL"}))
	se, ok := IsStockError(err)
	if !ok || se.Kind != StockItemUnavailable {
		t.Fatalf("missing: err = %v, want item-unavailable", err)
	}
	if !strings.Contains(se.Error(), "Kaos Polos - XL") {
		t.Fatalf("message %q does not name the cart item", se.Error())
	}
}

func TestPlaceOrderFailsFastInCartOrder(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 0, 1000) // would be OutOfStock
	seedVariant(store, "v2", 1, 1000) // would be Insufficient
	svc := testService(store, nil)

	_, _, err := svc.PlaceOrder(context.Background(), guestCmd(
		CartLine{VariantID: "v2", Quantity: 5},
		CartLine{VariantID: "v1", Quantity: 1},
	))
	se, ok := IsStockError(err)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if se.VariantID != "v2" || se.Kind != StockInsufficient {
		t.Fatalf("first failing line should win, got %s/%s", se.VariantID, se.Kind)
	}
}

func TestPlaceOrderAggregatesRepeatedLines(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 3, 1000)
	svc := testService(store, nil)

	_, _, err := svc.PlaceOrder(context.Background(), guestCmd(
		CartLine{VariantID: "v1", Quantity: 2},
		CartLine{VariantID: "v1", Quantity: 2},
	))
	se, ok := IsStockError(err)
	if !ok || se.Kind != StockInsufficient || se.Available != 1 {
		t.Fatalf("err = %v, want insufficient with 1 remaining after first line", err)
	}
	mustStock(t, store, "v1", 3)
}

func TestPlaceOrderValidation(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	svc := testService(store, nil)
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, PlaceOrderCmd{}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("empty cart: %v", err)
	}

	cmd := guestCmd(CartLine{VariantID: "v1", Quantity: 0})
	if _, _, err := svc.PlaceOrder(ctx, cmd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero qty: %v", err)
	}

	cmd = guestCmd(CartLine{VariantID: "v1", Quantity: 1})
	cmd.Shipping.Email = ""
	if _, _, err := svc.PlaceOrder(ctx, cmd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("guest without email: %v", err)
	}

	// Signed-in customers don't need the guest contact fields.
	cmd = userCmd("u1", CartLine{VariantID: "v1", Quantity: 1})
	cmd.Shipping.Name = ""
	cmd.Shipping.Email = ""
	if _, _, err := svc.PlaceOrder(ctx, cmd); err != nil {
		t.Fatalf("signed-in without contact: %v", err)
	}

	cmd = guestCmd(CartLine{VariantID: "v1", Quantity: 1})
	cmd.Payment = PaymentMethod("CRYPTO")
	if _, _, err := svc.PlaceOrder(ctx, cmd); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad payment method: %v", err)
	}
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 1, 1000)
	svc := testService(store, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		if se, ok := IsStockError(err); ok && (se.Kind == StockOutOfStock || se.Kind == StockInsufficient) {
			lost++
		} else {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one of each", won, lost)
	}
	mustStock(t, store, "v1", 0)
}

// collideStore forces a configurable number of order-number collisions to
// prove the checkout regenerates and retries instead of failing.
type collideStore struct {
	*MemoryStore
	remaining int
}

func (c *collideStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return c.MemoryStore.InTx(ctx, func(tx Tx) error {
		return fn(&collideTx{Tx: tx, store: c})
	})
}

type collideTx struct {
	Tx
	store *collideStore
}

func (c *collideTx) InsertOrder(ctx context.Context, o Order, items []OrderItem) error {
	if c.store.remaining > 0 {
		c.store.remaining--
		return ErrOrderNumberTaken
	}
	return c.Tx.InsertOrder(ctx, o, items)
}

func TestPlaceOrderRetriesNumberCollision(t *testing.T) {
	mem := NewMemoryStore()
	seedVariant(mem, "v1", 5, 1000)

	store := &collideStore{MemoryStore: mem, remaining: 2}
	svc := testService(store, nil)

	order, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
	if err != nil {
		t.Fatalf("PlaceOrder with collisions: %v", err)
	}
	if order.Number == "" {
		t.Fatal("order number empty after retry")
	}
	mustStock(t, mem, "v1", 4)

	// More collisions than attempts surfaces the transient error.
	store.remaining = 10
	if _, _, err := svc.PlaceOrder(context.Background(), guestCmd(CartLine{VariantID: "v1", Quantity: 1})); !errors.Is(err, ErrOrderNumberTaken) {
		t.Fatalf("exhausted retries: %v", err)
	}
	mustStock(t, mem, "v1", 4)
}

func placeTestOrder(t *testing.T, svc *Service, cmd PlaceOrderCmd) Order {
	t.Helper()
	order, _, err := svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order
}

func TestCancelOwnOrderRestocks(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v3", 10, 1000)
	svc := testService(store, nil)

	order := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v3", Quantity: 2}))
	mustStock(t, store, "v3", 8)

	cancelled, items, err := svc.CancelOwnOrder(context.Background(), order.ID, "u1")
	if err != nil {
		t.Fatalf("CancelOwnOrder: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("restocked items %+v", items)
	}
	mustStock(t, store, "v3", 10)
}

func TestCancelOwnOrderTwiceRestocksOnce(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v3", 10, 1000)
	svc := testService(store, nil)

	order := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v3", Quantity: 2}))
	if _, _, err := svc.CancelOwnOrder(context.Background(), order.ID, "u1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, _, err := svc.CancelOwnOrder(context.Background(), order.ID, "u1"); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("second cancel = %v, want ErrTerminalState", err)
	}
	mustStock(t, store, "v3", 10) // not 12
}

func TestCancelOwnOrderConcurrent(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 10, 1000)
	svc := testService(store, nil)

	order := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v1", Quantity: 4}))
	mustStock(t, store, "v1", 6)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.CancelOwnOrder(context.Background(), order.ID, "u1")
		}(i)
	}
	wg.Wait()

	var ok, terminal int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTerminalState):
			terminal++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || terminal != 1 {
		t.Fatalf("ok=%d terminal=%d, want exactly one winner", ok, terminal)
	}
	mustStock(t, store, "v1", 10)
}

func TestCancelOwnOrderGuards(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 10, 1000)
	svc := testService(store, nil)
	ctx := context.Background()

	owned := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v1", Quantity: 1}))
	guest := placeTestOrder(t, svc, guestCmd(CartLine{VariantID: "v1", Quantity: 1}))

	if _, _, err := svc.CancelOwnOrder(ctx, "no-such-order", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: %v", err)
	}
	if _, _, err := svc.CancelOwnOrder(ctx, owned.ID, "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("someone else's order: %v", err)
	}
	if _, _, err := svc.CancelOwnOrder(ctx, guest.ID, "u1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest order: %v", err)
	}

	// Once confirmed, self-service cancel is closed; only an admin may cancel.
	if _, _, _, err := svc.SetOrderStatus(ctx, owned.ID, StatusConfirmed, "", ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, _, err := svc.CancelOwnOrder(ctx, owned.ID, "u1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("confirmed self-cancel: %v", err)
	}
	mustStock(t, store, "v1", 8)

	if _, _, _, err := svc.SetOrderStatus(ctx, owned.ID, StatusCancelled, "", ""); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	mustStock(t, store, "v1", 9)
}

func TestSetOrderStatusLifecycle(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	svc := testService(store, nil)
	ctx := context.Background()

	order := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v1", Quantity: 1}))

	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusDelivered, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("PENDING->DELIVERED: %v", err)
	}

	if _, _, from, err := svc.SetOrderStatus(ctx, order.ID, StatusConfirmed, "", ""); err != nil || from != StatusPending {
		t.Fatalf("confirm: %v (from %s)", err, from)
	}
	shipped, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusShipping, "JNE", "JNE-123")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.Carrier != "JNE" || shipped.TrackingCode != "JNE-123" {
		t.Fatalf("carrier/tracking not recorded: %+v", shipped)
	}
	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusDelivered, "", ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	// DELIVERED is terminal, even against CANCELLED.
	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusCancelled, "", ""); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("cancel delivered: %v", err)
	}
	mustStock(t, store, "v1", 4) // delivered order never restocked
}

func TestAdminCancelShippingOrderRestocks(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 10, 1000)
	seedVariant(store, "v2", 10, 2000)
	svc := testService(store, nil)
	ctx := context.Background()

	order := placeTestOrder(t, svc, userCmd("u1",
		CartLine{VariantID: "v1", Quantity: 3}, CartLine{VariantID: "v2", Quantity: 1}))
	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusConfirmed, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusShipping, "", ""); err != nil {
		t.Fatal(err)
	}
	mustStock(t, store, "v1", 7)
	mustStock(t, store, "v2", 9)

	cancelled, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusCancelled, "", "")
	if err != nil {
		t.Fatalf("admin cancel shipping order: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	mustStock(t, store, "v1", 10)
	mustStock(t, store, "v2", 10)

	if _, _, _, err := svc.SetOrderStatus(ctx, order.ID, StatusConfirmed, "", ""); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("transition out of CANCELLED: %v", err)
	}
}

func TestSetPaymentStatusIndependent(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	svc := testService(store, nil)
	ctx := context.Background()

	order := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v1", Quantity: 1}))

	updated, err := svc.SetPaymentStatus(ctx, order.ID, PaymentPaid)
	if err != nil {
		t.Fatalf("SetPaymentStatus: %v", err)
	}
	if updated.PaymentStatus != PaymentPaid || updated.Status != StatusPending {
		t.Fatalf("payment status must not touch order status: %+v", updated)
	}
	mustStock(t, store, "v1", 4) // no stock side effect

	if _, err := svc.SetPaymentStatus(ctx, order.ID, PaymentStatus("REFUNDED")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown payment status: %v", err)
	}
}

func TestTrackOrder(t *testing.T) {
	store := NewMemoryStore()
	seedVariant(store, "v1", 5, 1000)
	emails := MemoryEmails{"u1": "Owner@Example.com"}
	svc := testService(store, emails)
	ctx := context.Background()

	guest := placeTestOrder(t, svc, guestCmd(CartLine{VariantID: "v1", Quantity: 1}))
	owned := placeTestOrder(t, svc, userCmd("u1", CartLine{VariantID: "v1", Quantity: 1}))

	if _, _, err := svc.TrackOrder(ctx, guest.Number, "BUDI@example.com"); err != nil {
		t.Fatalf("guest email case-insensitive match: %v", err)
	}
	if _, _, err := svc.TrackOrder(ctx, owned.Number, "owner@example.COM"); err != nil {
		t.Fatalf("owner email match: %v", err)
	}

	// Wrong email or wrong number discloses nothing.
	if _, _, err := svc.TrackOrder(ctx, guest.Number, "attacker@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong email: %v", err)
	}
	if _, _, err := svc.TrackOrder(ctx, "ORD-NOPE-0000", "budi@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong number: %v", err)
	}
	if _, _, err := svc.TrackOrder(ctx, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank query: %v", err)
	}
}
