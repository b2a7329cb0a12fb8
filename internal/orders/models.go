package orders

import "time"

// All money is in minor units (cents). Keeping a single integer representation
// avoids rounding drift when subtotal/shipping/discount/total are combined.

// ProductVariant is the purchasable SKU and the unit of stock tracking.
// Stock is only ever changed through the conditional decrement/increment in the
// store; nothing in this package writes an absolute stock value.
type ProductVariant struct {
	ID             string
	ProductName    string
	VariantName    string
	PriceCents     int64
	SalePriceCents *int64
	SaleStartsAt   *time.Time
	SaleEndsAt     *time.Time
	Stock          int
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName is what checkout failures and order lines show to customers,
// e.g. "Kopi Gayo - 250g".
func (v ProductVariant) DisplayName() string {
	if v.VariantName == "" {
		return v.ProductName
	}
	return v.ProductName + " - " + v.VariantName
}

// EffectivePriceCents returns the price to charge at instant now: the sale
// price while the sale window is open, the list price otherwise. Callers pass
// the same "now" used for the rest of the checkout so price and stock come
// from one transactional snapshot.
func (v ProductVariant) EffectivePriceCents(now time.Time) int64 {
	if v.SalePriceCents == nil {
		return v.PriceCents
	}
	if v.SaleStartsAt != nil && now.Before(*v.SaleStartsAt) {
		return v.PriceCents
	}
	if v.SaleEndsAt != nil && !now.Before(*v.SaleEndsAt) {
		return v.PriceCents
	}
	return *v.SalePriceCents
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "COD"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentGateway        PaymentMethod = "GATEWAY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBankTransfer, PaymentGateway:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// Order is one checkout transaction. Cancellation is a status, never a delete.
type Order struct {
	ID          string
	Number      string // human-facing, unique, immutable
	UserID      *string
	GuestName   string
	GuestEmail  string
	GuestPhone  string
	ShipAddress string
	Note        string

	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Status        Status

	SubtotalCents int64
	ShippingCents int64
	DiscountCents int64
	TotalCents    int64

	Carrier      string
	TrackingCode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is an immutable line of an order. PriceCents is what was actually
// charged (sale price if one was active); OriginalPriceCents is the list price
// at purchase time, kept for markdown display. Both are permanent snapshots
// independent of later variant price changes.
type OrderItem struct {
	ID                 string
	OrderID            string
	VariantID          string
	Name               string // variant display name at purchase time
	Quantity           int
	PriceCents         int64
	OriginalPriceCents int64
}
