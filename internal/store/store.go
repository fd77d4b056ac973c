// Package store persists the narrow slice of commerce state the gateway
// needs: orders with their status, append-only order notes, per-order
// metadata and cart snapshots. The hosting platform's full object model
// stays out of scope.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an order or cart does not exist.
var ErrNotFound = errors.New("store: not found")

// OrderStatus is the local order lifecycle state.
type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusOnHold   OrderStatus = "ON_HOLD"
	StatusPaid     OrderStatus = "PAID"
	StatusFailed   OrderStatus = "FAILED"
	StatusRefunded OrderStatus = "REFUNDED"
)

// Address is a local billing or shipping address.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Country string `json:"country"`
	ZipCode string `json:"zipCode,omitempty"`
}

// Customer identifies the shopper attached to an order or cart. ExternalID
// is empty for guest checkouts.
type Customer struct {
	ExternalID string  `json:"externalId,omitempty"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone,omitempty"`
	Billing    Address `json:"billing"`
	Shipping   Address `json:"shipping"`
}

// Item is an order or cart line. UnitPrice is in minor currency units.
type Item struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Order is the local order record. Amounts are in minor currency units.
type Order struct {
	ID             string
	Status         OrderStatus
	Currency       string
	SubtotalAmount int64
	ShippingAmount int64
	TaxAmount      int64
	DiscountAmount int64
	TotalAmount    int64
	Customer       Customer
	Items          []Item
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Cart is the pre-order snapshot used by the hosted checkout flow.
type Cart struct {
	ID             string
	Currency       string
	SubtotalAmount int64
	ShippingAmount int64
	TaxAmount      int64
	DiscountAmount int64
	TotalAmount    int64
	Customer       Customer
	Items          []Item
}

// Store is the platform surface the gateway depends on.
type Store interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	CreateOrderFromCart(ctx context.Context, cart Cart, status OrderStatus) (Order, error)
	SetOrderStatus(ctx context.Context, id string, status OrderStatus) error
	// MarkOrderPaid transitions the order to PAID only when it is not
	// already paid, and reports whether this call performed the
	// transition. Concurrent webhook deliveries race on this check.
	MarkOrderPaid(ctx context.Context, id string) (bool, error)
	AddOrderNote(ctx context.Context, orderID, note string) error
	SetMetadata(ctx context.Context, orderID, key, value string) error
	// GetMetadata returns the stored value, or "" when the key is absent.
	GetMetadata(ctx context.Context, orderID, key string) (string, error)
	GetCart(ctx context.Context, id string) (Cart, error)
	SaveCart(ctx context.Context, cart Cart) error
	// LinkCheckout associates a hosted-checkout correlation id with a cart
	// so the return handler can recover the snapshot.
	LinkCheckout(ctx context.Context, cartID, checkoutRef string) error
	GetCartByCheckoutRef(ctx context.Context, checkoutRef string) (Cart, error)
	// LinkOrder consumes a checkout ref by recording the order materialised
	// from it. A ref produces at most one order.
	LinkOrder(ctx context.Context, checkoutRef, orderID string) error
	// GetOrderByCheckoutRef returns the order a consumed ref produced, or
	// ErrNotFound while the ref is still unconsumed.
	GetOrderByCheckoutRef(ctx context.Context, checkoutRef string) (Order, error)
}

// Metadata keys persisted per order for refund correlation.
const (
	MetaRemoteOrderID   = "orkestapay_order_id"
	MetaRemotePaymentID = "orkestapay_payment_id"
)
