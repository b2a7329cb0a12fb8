package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderNumberAttempts bounds regeneration after a unique violation. A collision
// needs two checkouts in the same second drawing the same 4-char suffix, so a
// handful of retries is plenty.
const orderNumberAttempts = 3

// CartLine is one entry of the cart handed to checkout. Name is the item name
// the cart recorded when the line was added; it is only used to word the
// failure message when the variant has vanished since.
type CartLine struct {
	VariantID string
	Quantity  int
	Name      string
}

// ShippingInfo is the checkout form. For guest checkouts (nil user id) Name and
// Email are mandatory; for signed-in customers they are optional extras.
type ShippingInfo struct {
	Name    string
	Email   string
	Phone   string
	Address string
	Note    string
}

type PlaceOrderCmd struct {
	Lines    []CartLine
	Shipping ShippingInfo
	Payment  PaymentMethod
	UserID   *string // resolved principal, nil for guest checkout
}

// Service implements the checkout and cancellation orchestrators plus the read
// operations around them. Every mutating operation runs as a single store
// transaction; the service itself keeps no state between calls.
type Service struct {
	store  Store
	emails EmailDirectory
	log    *zap.Logger

	shippingFeeCents int64
	now              func() time.Time
}

func NewService(store Store, emails EmailDirectory, log *zap.Logger, shippingFeeCents int64) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:            store,
		emails:           emails,
		log:              log,
		shippingFeeCents: shippingFeeCents,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder converts a cart into a durable order. Validation, price/stock
// snapshot, order insert and stock decrement all happen inside one transaction;
// on any failure nothing is committed, so no partial order and no partial
// decrement is ever observable.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCmd) (Order, []OrderItem, error) {
	if len(cmd.Lines) == 0 {
		return Order{}, nil, ErrEmptyCart
	}
	if err := validatePlaceOrder(cmd); err != nil {
		return Order{}, nil, err
	}

	var (
		order Order
		items []OrderItem
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		variants, err := tx.VariantsForUpdate(ctx, distinctVariantIDs(cmd.Lines))
		if err != nil {
			return err
		}
		if err := validateStock(cmd.Lines, variants); err != nil {
			return err
		}

		now := s.now()
		order, items = s.buildOrder(cmd, variants, now)

		for attempt := 0; ; attempt++ {
			err = tx.InsertOrder(ctx, order, items)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrOrderNumberTaken) || attempt+1 >= orderNumberAttempts {
				return err
			}
			order.Number = NewOrderNumber(now)
		}

		for vid, qty := range quantityByVariant(cmd.Lines) {
			if err := tx.DecrementStock(ctx, vid, qty); err != nil {
				return fmt.Errorf("decrement %s: %w", vid, err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, nil, err
	}

	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.Int64("total_cents", order.TotalCents),
		zap.Int("lines", len(items)),
	)
	return order, items, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (Order, []OrderItem, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, nil, ErrNotFound
	}
	return s.store.GetOrder(ctx, id)
}

// CancelOwnOrder is the self-service cancellation: only the owner, and only
// while the order is still PENDING. The status write and the restock commit
// together. A concurrent second cancel blocks on the row lock, then observes
// CANCELLED and fails with ErrTerminalState, so restock happens exactly once.
func (s *Service) CancelOwnOrder(ctx context.Context, orderID, userID string) (Order, []OrderItem, error) {
	if strings.TrimSpace(userID) == "" {
		return Order{}, nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	var (
		order Order
		items []OrderItem
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		order, items, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID == nil || *order.UserID != userID {
			return ErrForbidden
		}
		if order.Status.Terminal() {
			return ErrTerminalState
		}
		if order.Status != StatusPending {
			return ErrInvalidState
		}
		return s.cancelLocked(ctx, tx, &order, items)
	})
	if err != nil {
		return Order{}, nil, err
	}

	s.log.Info("order cancelled by customer",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
	)
	return order, items, nil
}

// SetOrderStatus is the administrative transition. The lifecycle table is the
// only authority on legality; moving into CANCELLED restocks every line in the
// same transaction, moving into SHIPPING may attach carrier/tracking info.
func (s *Service) SetOrderStatus(ctx context.Context, orderID string, to Status, carrier, trackingCode string) (Order, []OrderItem, Status, error) {
	if !to.Valid() {
		return Order{}, nil, "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}

	var (
		order Order
		items []OrderItem
		from  Status
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		order, items, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if to == StatusCancelled {
			if from.Terminal() {
				return ErrTerminalState
			}
			return s.cancelLocked(ctx, tx, &order, items)
		}
		if err := Transition(from, to); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, to); err != nil {
			return err
		}
		if to == StatusShipping && (carrier != "" || trackingCode != "") {
			if err := tx.UpdateShipping(ctx, order.ID, carrier, trackingCode); err != nil {
				return err
			}
			order.Carrier = carrier
			order.TrackingCode = trackingCode
		}
		order.Status = to
		return nil
	})
	if err != nil {
		return Order{}, nil, "", err
	}

	s.log.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
	)
	return order, items, from, nil
}

// SetPaymentStatus records a payment outcome. It is independent of the order
// lifecycle and never touches stock.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus) (Order, error) {
	if !ps.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, ps)
	}

	var order Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		order, _, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, order.ID, ps); err != nil {
			return err
		}
		order.PaymentStatus = ps
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.log.Info("payment status changed",
		zap.String("order_id", order.ID),
		zap.String("payment_status", string(ps)),
	)
	return order, nil
}

// TrackOrder is the public lookup. The caller must present the order number
// and an email matching either the guest email or the owning account's email,
// case-insensitively; anything else is reported as not found so the endpoint
// leaks nothing about which order numbers exist.
func (s *Service) TrackOrder(ctx context.Context, number, email string) (Order, []OrderItem, error) {
	number = strings.TrimSpace(number)
	email = strings.TrimSpace(email)
	if number == "" || email == "" {
		return Order{}, nil, ErrNotFound
	}

	order, items, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return Order{}, nil, err
	}
	if strings.EqualFold(order.GuestEmail, email) {
		return order, items, nil
	}
	if order.UserID != nil && s.emails != nil {
		ownerEmail, err := s.emails.Email(ctx, *order.UserID)
		if err == nil && strings.EqualFold(ownerEmail, email) {
			return order, items, nil
		}
	}
	return Order{}, nil, ErrNotFound
}

// cancelLocked flips a locked, non-terminal order to CANCELLED and restocks
// every line. Restock mirrors the decrement done at checkout: same variant,
// same quantity, and it can only ever run once because the transition guard
// rejects already-cancelled orders.
func (s *Service) cancelLocked(ctx context.Context, tx Tx, order *Order, items []OrderItem) error {
	if err := Transition(order.Status, StatusCancelled); err != nil {
		return err
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, StatusCancelled); err != nil {
		return err
	}
	for _, it := range items {
		if err := tx.IncrementStock(ctx, it.VariantID, it.Quantity); err != nil {
			return fmt.Errorf("restock %s: %w", it.VariantID, err)
		}
	}
	order.Status = StatusCancelled
	return nil
}

func (s *Service) buildOrder(cmd PlaceOrderCmd, variants map[string]ProductVariant, now time.Time) (Order, []OrderItem) {
	order := Order{
		ID:            uuid.NewString(),
		Number:        NewOrderNumber(now),
		UserID:        cmd.UserID,
		GuestName:     strings.TrimSpace(cmd.Shipping.Name),
		GuestEmail:    strings.TrimSpace(cmd.Shipping.Email),
		GuestPhone:    strings.TrimSpace(cmd.Shipping.Phone),
		ShipAddress:   strings.TrimSpace(cmd.Shipping.Address),
		Note:          strings.TrimSpace(cmd.Shipping.Note),
		PaymentMethod: cmd.Payment,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		ShippingCents: s.shippingFeeCents,
		DiscountCents: 0, // vouchers/coupons are out of scope
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	items := make([]OrderItem, 0, len(cmd.Lines))
	var subtotal int64
	for _, line := range cmd.Lines {
		v := variants[line.VariantID]
		price := v.EffectivePriceCents(now)
		items = append(items, OrderItem{
			ID:                 uuid.NewString(),
			OrderID:            order.ID,
			VariantID:          v.ID,
			Name:               v.DisplayName(),
			Quantity:           line.Quantity,
			PriceCents:         price,
			OriginalPriceCents: v.PriceCents,
		})
		subtotal += price * int64(line.Quantity)
	}

	order.SubtotalCents = subtotal
	order.TotalCents = subtotal + order.ShippingCents - order.DiscountCents
	return order, items
}

func validatePlaceOrder(cmd PlaceOrderCmd) error {
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.VariantID) == "" {
			return fmt.Errorf("%w: cart line missing variant id", ErrInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}
	}
	if !cmd.Payment.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, cmd.Payment)
	}
	if strings.TrimSpace(cmd.Shipping.Address) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrInvalidInput)
	}
	if cmd.UserID == nil {
		if strings.TrimSpace(cmd.Shipping.Name) == "" || strings.TrimSpace(cmd.Shipping.Email) == "" {
			return fmt.Errorf("%w: guest checkout requires contact name and email", ErrInvalidInput)
		}
	}
	return nil
}

// validateStock checks every cart line against the freshly locked variant rows,
// failing fast on the first offending line in cart order. Repeated lines for
// one variant are validated against the running remainder so their sum cannot
// exceed stock.
func validateStock(lines []CartLine, variants map[string]ProductVariant) error {
	remaining := make(map[string]int, len(variants))
	for id, v := range variants {
		remaining[id] = v.Stock
	}
	for _, line := range lines {
		v, ok := variants[line.VariantID]
		if !ok || v.Archived {
			name := line.Name
			if ok {
				name = v.DisplayName()
			}
			return &StockError{Kind: StockItemUnavailable, VariantID: line.VariantID, Name: name, Requested: line.Quantity}
		}
		left := remaining[line.VariantID]
		if left == 0 {
			return &StockError{Kind: StockOutOfStock, VariantID: v.ID, Name: v.DisplayName(), Requested: line.Quantity}
		}
		if left < line.Quantity {
			return &StockError{Kind: StockInsufficient, VariantID: v.ID, Name: v.DisplayName(), Requested: line.Quantity, Available: left}
		}
		remaining[line.VariantID] = left - line.Quantity
	}
	return nil
}

func distinctVariantIDs(lines []CartLine) []string {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.VariantID] {
			seen[line.VariantID] = true
			ids = append(ids, line.VariantID)
		}
	}
	return ids
}

func quantityByVariant(lines []CartLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.VariantID] += line.Quantity
	}
	return out
}
