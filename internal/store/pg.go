package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PG implements Store on PostgreSQL.
type PG struct {
	Pool *pgxpool.Pool
}

// NewPG constructs a PostgreSQL-backed store.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{Pool: pool}
}

// GetOrder loads an order with its customer and line items.
func (s *PG) GetOrder(ctx context.Context, id string) (Order, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, status, currency, subtotal_amount, shipping_amount, tax_amount,
		       discount_amount, total_amount, customer, items, created_at, updated_at
		FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// CreateOrderFromCart materialises a cart snapshot into a new order.
func (s *PG) CreateOrderFromCart(ctx context.Context, cart Cart, status OrderStatus) (Order, error) {
	customer, err := json.Marshal(cart.Customer)
	if err != nil {
		return Order{}, fmt.Errorf("encode customer: %w", err)
	}
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return Order{}, fmt.Errorf("encode items: %w", err)
	}
	id := uuid.NewString()
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO orders (id, status, currency, subtotal_amount, shipping_amount,
		                    tax_amount, discount_amount, total_amount, customer, items)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, status, currency, subtotal_amount, shipping_amount, tax_amount,
		          discount_amount, total_amount, customer, items, created_at, updated_at`,
		id, status, cart.Currency, cart.SubtotalAmount, cart.ShippingAmount,
		cart.TaxAmount, cart.DiscountAmount, cart.TotalAmount, customer, items)
	order, err := scanOrder(row)
	if isUniqueViolation(err) {
		return Order{}, fmt.Errorf("order %s already exists: %w", id, err)
	}
	return order, err
}

// SetOrderStatus overwrites the order status unconditionally.
func (s *PG) SetOrderStatus(ctx context.Context, id string, status OrderStatus) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOrderPaid performs the guarded on-hold to paid transition. The WHERE
// clause makes the check-then-act atomic under concurrent deliveries.
func (s *PG) MarkOrderPaid(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`,
		id, StatusPaid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddOrderNote appends a note to the order's audit trail.
func (s *PG) AddOrderNote(ctx context.Context, orderID, note string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, orderID, note)
	return err
}

// SetMetadata upserts a metadata key/value for the order.
func (s *PG) SetMetadata(ctx context.Context, orderID, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO order_metadata (order_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (order_id, key) DO UPDATE SET value = EXCLUDED.value`,
		orderID, key, value)
	return err
}

// GetMetadata returns the metadata value or "" when absent.
func (s *PG) GetMetadata(ctx context.Context, orderID, key string) (string, error) {
	var value string
	err := s.Pool.QueryRow(ctx,
		`SELECT value FROM order_metadata WHERE order_id = $1 AND key = $2`,
		orderID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetCart loads a cart snapshot.
func (s *PG) GetCart(ctx context.Context, id string) (Cart, error) {
	return s.cartBy(ctx, `SELECT id, payload FROM carts WHERE id = $1`, id)
}

// LinkCheckout records the hosted-checkout correlation id on the cart.
func (s *PG) LinkCheckout(ctx context.Context, cartID, checkoutRef string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE carts SET checkout_ref = $2 WHERE id = $1`, cartID, checkoutRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCartByCheckoutRef loads the cart previously linked to a checkout.
func (s *PG) GetCartByCheckoutRef(ctx context.Context, checkoutRef string) (Cart, error) {
	return s.cartBy(ctx, `SELECT id, payload FROM carts WHERE checkout_ref = $1`, checkoutRef)
}

// LinkOrder consumes the checkout ref by recording the order it produced.
func (s *PG) LinkOrder(ctx context.Context, checkoutRef, orderID string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE carts SET order_id = $2 WHERE checkout_ref = $1`, checkoutRef, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrderByCheckoutRef loads the order a consumed checkout ref produced.
func (s *PG) GetOrderByCheckoutRef(ctx context.Context, checkoutRef string) (Order, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT o.id, o.status, o.currency, o.subtotal_amount, o.shipping_amount,
		       o.tax_amount, o.discount_amount, o.total_amount, o.customer,
		       o.items, o.created_at, o.updated_at
		FROM orders o
		JOIN carts c ON c.order_id = o.id
		WHERE c.checkout_ref = $1`, checkoutRef)
	return scanOrder(row)
}

// SaveCart stores a cart snapshot, replacing any previous payload.
func (s *PG) SaveCart(ctx context.Context, cart Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO carts (id, payload) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		cart.ID, payload)
	return err
}

func (s *PG) cartBy(ctx context.Context, query, arg string) (Cart, error) {
	var (
		id      string
		payload []byte
	)
	err := s.Pool.QueryRow(ctx, query, arg).Scan(&id, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, err
	}
	var cart Cart
	if err := json.Unmarshal(payload, &cart); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	cart.ID = id
	return cart, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		order    Order
		customer []byte
		items    []byte
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&order.ID, &order.Status, &order.Currency, &order.SubtotalAmount,
		&order.ShippingAmount, &order.TaxAmount, &order.DiscountAmount,
		&order.TotalAmount, &customer, &items, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(customer, &order.Customer); err != nil {
		return Order{}, fmt.Errorf("decode customer: %w", err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return Order{}, fmt.Errorf("decode items: %w", err)
		}
	}
	order.CreatedAt = created
	order.UpdatedAt = updated
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
