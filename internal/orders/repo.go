package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Store. All invariants lean on the database:
// variant rows are locked FOR UPDATE for the life of the transaction, the
// decrement carries its own stock >= qty guard, and the order number has a
// unique index.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgxTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, []OrderItem, error) {
	return getOrder(ctx, r.DB, `WHERE id = $1`, id)
}

func (r *Repo) GetOrderByNumber(ctx context.Context, number string) (Order, []OrderItem, error) {
	return getOrder(ctx, r.DB, `WHERE number = $1`, number)
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers can
// run inside or outside a transaction.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgxTx struct{ tx pgx.Tx }

var _ Tx = (*pgxTx)(nil)

// VariantsForUpdate locks in id order, so two checkouts touching the same
// variants always take their locks in the same sequence and cannot deadlock.
func (t *pgxTx) VariantsForUpdate(ctx context.Context, ids []string) (map[string]ProductVariant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, product_name, variant_name, price_cents, sale_price_cents,
		       sale_starts_at, sale_ends_at, stock, archived, created_at, updated_at
		FROM product_variants
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ProductVariant, len(ids))
	for rows.Next() {
		var v ProductVariant
		if err := rows.Scan(&v.ID, &v.ProductName, &v.VariantName, &v.PriceCents, &v.SalePriceCents,
			&v.SaleStartsAt, &v.SaleEndsAt, &v.Stock, &v.Archived, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (t *pgxTx) DecrementStock(ctx context.Context, variantID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrStockConflict
	}
	return nil
}

func (t *pgxTx) IncrementStock(ctx context.Context, variantID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// InsertOrder runs under a savepoint so a duplicate order number aborts only
// the insert, not the surrounding checkout transaction, and the caller can try
// again with a fresh number.
func (t *pgxTx) InsertOrder(ctx context.Context, o Order, items []OrderItem) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}

	_, err = sp.Exec(ctx, `
		INSERT INTO orders (id, number, user_id, guest_name, guest_email, guest_phone,
		                    ship_address, note, payment_method, payment_status, status,
		                    subtotal_cents, shipping_cents, discount_cents, total_cents,
		                    carrier, tracking_code, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.Number, o.UserID, o.GuestName, o.GuestEmail, o.GuestPhone,
		o.ShipAddress, o.Note, o.PaymentMethod, o.PaymentStatus, o.Status,
		o.SubtotalCents, o.ShippingCents, o.DiscountCents, o.TotalCents,
		o.Carrier, o.TrackingCode, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOrderNumberTaken
		}
		return err
	}

	for _, it := range items {
		if _, err := sp.Exec(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, name, quantity, price_cents, original_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, it.OrderID, it.VariantID, it.Name, it.Quantity, it.PriceCents, it.OriginalPriceCents); err != nil {
			_ = sp.Rollback(ctx)
			return err
		}
	}
	return sp.Commit(ctx)
}

func (t *pgxTx) OrderForUpdate(ctx context.Context, id string) (Order, []OrderItem, error) {
	row := t.tx.QueryRow(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, nil, err
	}
	items, err := loadItems(ctx, t.tx, o.ID)
	if err != nil {
		return Order{}, nil, err
	}
	return o, items, nil
}

func (t *pgxTx) UpdateOrderStatus(ctx context.Context, id string, st Status) error {
	return execOrderUpdate(ctx, t.tx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, st)
}

func (t *pgxTx) UpdateShipping(ctx context.Context, id, carrier, trackingCode string) error {
	return execOrderUpdate(ctx, t.tx, `UPDATE orders SET carrier = $2, tracking_code = $3, updated_at = now() WHERE id = $1`, id, carrier, trackingCode)
}

func (t *pgxTx) UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus) error {
	return execOrderUpdate(ctx, t.tx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, id, ps)
}

const selectOrder = `
	SELECT id, number, user_id, guest_name, guest_email, guest_phone,
	       ship_address, note, payment_method, payment_status, status,
	       subtotal_cents, shipping_cents, discount_cents, total_cents,
	       carrier, tracking_code, created_at, updated_at
	FROM orders`

func getOrder(ctx context.Context, q pgxQuerier, where string, arg any) (Order, []OrderItem, error) {
	o, err := scanOrder(q.QueryRow(ctx, selectOrder+" "+where, arg))
	if err != nil {
		return Order{}, nil, err
	}
	items, err := loadItems(ctx, q, o.ID)
	if err != nil {
		return Order{}, nil, err
	}
	return o, items, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.GuestName, &o.GuestEmail, &o.GuestPhone,
		&o.ShipAddress, &o.Note, &o.PaymentMethod, &o.PaymentStatus, &o.Status,
		&o.SubtotalCents, &o.ShippingCents, &o.DiscountCents, &o.TotalCents,
		&o.Carrier, &o.TrackingCode, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func loadItems(ctx context.Context, q pgxQuerier, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, variant_id, name, quantity, price_cents, original_price_cents
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Name, &it.Quantity, &it.PriceCents, &it.OriginalPriceCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func execOrderUpdate(ctx context.Context, q pgxQuerier, sql string, args ...any) error {
	ct, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserEmails resolves account emails for order tracking. The users table is
// owned by the auth collaborator; this is a read-only peek at its boundary.
type UserEmails struct{ DB *pgxpool.Pool }

var _ EmailDirectory = (*UserEmails)(nil)

func (u *UserEmails) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := u.DB.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return email, err
}
