package orkesta

import "encoding/json"

// Remote payment and order statuses reported by the OrkestaPay API.
const (
	StatusPending              = "PENDING"
	StatusPaymentActionNeeded  = "PAYMENT_ACTION_REQUIRED"
	StatusCompleted            = "COMPLETED"
	StatusFailed               = "FAILED"
	StatusDeclined             = "DECLINED"
	StatusCanceled             = "CANCELED"
	StatusExpired              = "EXPIRED"
	StatusRefunded             = "REFUNDED"
)

// PaymentMethodCard is the only payment-method type created by this
// integration. Cards are always tokenized as one-time-use.
const PaymentMethodCard = "CARD"

// Address is the nested address block shared by customer, order and
// payment-method payloads.
type Address struct {
	Line1   string `json:"line_1"`
	Line2   string `json:"line_2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Country string `json:"country"`
	ZipCode string `json:"zip_code,omitempty"`
}

// ContactAddress couples a person with a postal address.
type ContactAddress struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone,omitempty"`
	Address   Address `json:"address"`
}

// CustomerParams is the payload for POST /v1/customers. ExternalID is the
// local user id and is omitted for guest checkouts.
type CustomerParams struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Customer is the remote customer record.
type Customer struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// CustomerList is the response of GET /v1/customers?email=&limit=.
type CustomerList struct {
	Data []Customer `json:"data"`
}

// Product is a cart or order line item as sent to the remote order.
type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// Charges carries per-order additional charges.
type Charges struct {
	Shipment float64 `json:"shipment"`
	Taxes    float64 `json:"taxes"`
}

// Discounts carries per-order discounts.
type Discounts struct {
	PromoDiscount float64 `json:"promo_discount"`
}

// OrderParams is the payload for POST /v1/orders. MerchantOrderID is the
// local order id, or an opaque cart correlation id before the local order
// exists (hosted checkout).
type OrderParams struct {
	MerchantOrderID   string         `json:"merchant_order_id"`
	CustomerID        string         `json:"customer_id,omitempty"`
	Currency          string         `json:"currency"`
	SubtotalAmount    float64        `json:"subtotal_amount"`
	OrderCountry      string         `json:"order_country,omitempty"`
	AdditionalCharges Charges        `json:"additional_charges"`
	Discounts         Discounts      `json:"discounts"`
	TotalAmount       float64        `json:"total_amount"`
	Products          []Product      `json:"products"`
	ShippingAddress   ContactAddress `json:"shipping_address"`
	BillingAddress    ContactAddress `json:"billing_address"`
}

// Order is the remote order as returned by the API. Some endpoints name the
// identifier "id" and others "order_id"; RemoteID resolves whichever is set.
type Order struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	Status          string `json:"status"`
}

// RemoteID returns the remote order identifier regardless of the field the
// endpoint used.
func (o Order) RemoteID() string {
	if o.ID != "" {
		return o.ID
	}
	return o.OrderID
}

// CardParams carries raw card details for tokenization. Instances must never
// be persisted or logged; they exist only for the duration of the remote
// payment-method call.
type CardParams struct {
	HolderName      string `json:"holder_name"`
	HolderLastName  string `json:"holder_last_name"`
	Number          string `json:"number"`
	ExpirationMonth string `json:"expiration_month"`
	ExpirationYear  string `json:"expiration_year"`
	CVV             int    `json:"cvv"`
	OneTimeUse      bool   `json:"one_time_use"`
}

// PaymentMethodParams is the payload for
// POST /v1/customers/{id}/payment-methods.
type PaymentMethodParams struct {
	Type           string         `json:"type"`
	Card           CardParams     `json:"card"`
	BillingAddress ContactAddress `json:"billing_address"`
}

// PaymentMethod is the tokenized card returned by the API.
type PaymentMethod struct {
	ID string `json:"id"`
}

// PaymentAmount is the amount block of a payment request.
type PaymentAmount struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// DeviceInfo carries the browser device session used for fraud screening.
type DeviceInfo struct {
	DeviceSessionID string `json:"device_session_id"`
}

// PaymentOptions controls capture behaviour of a payment.
type PaymentOptions struct {
	Capture bool   `json:"capture"`
	CVV     string `json:"cvv,omitempty"`
}

// PaymentMetadata correlates the remote payment with the local order.
type PaymentMetadata struct {
	MerchantOrderID string `json:"merchant_order_id"`
}

// PaymentParams is the payload for POST /v1/orders/{id}/payments.
type PaymentParams struct {
	PaymentMethod  string          `json:"payment_method"`
	PaymentAmount  PaymentAmount   `json:"payment_amount"`
	DeviceInfo     DeviceInfo      `json:"device_info"`
	PaymentOptions PaymentOptions  `json:"payment_options"`
	Metadata       PaymentMetadata `json:"metadata"`
}

// Payment is the result of charging a payment method.
type Payment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CheckoutConfig toggles remote checkout behaviour.
type CheckoutConfig struct {
	Use3DS bool `json:"use_3ds"`
}

// CheckoutCustomer is the customer block embedded in a checkout-session
// order. ExternalID is omitted for guests.
type CheckoutCustomer struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
}

// CheckoutOrder is the order snapshot embedded in a checkout session.
type CheckoutOrder struct {
	MerchantOrderID   string           `json:"merchant_order_id"`
	Currency          string           `json:"currency"`
	SubtotalAmount    float64          `json:"subtotal_amount"`
	OrderCountry      string           `json:"order_country,omitempty"`
	AdditionalCharges Charges          `json:"additional_charges"`
	Discounts         Discounts        `json:"discounts"`
	TotalAmount       float64          `json:"total_amount"`
	Products          []Product        `json:"products"`
	Customer          CheckoutCustomer `json:"customer"`
	ShippingAddress   ContactAddress   `json:"shipping_address"`
	BillingAddress    ContactAddress   `json:"billing_address"`
	Config            CheckoutConfig   `json:"config"`
}

// CheckoutParams is the payload for POST /v1/checkouts. ExpiresAt is in
// milliseconds since epoch.
type CheckoutParams struct {
	ExpiresAt            int64         `json:"expires_at"`
	CompletedRedirectURL string        `json:"completed_redirect_url"`
	CanceledRedirectURL  string        `json:"canceled_redirect_url"`
	Order                CheckoutOrder `json:"order"`
}

// Checkout is the hosted checkout session returned by the API.
type Checkout struct {
	ID          string `json:"id"`
	RedirectURL string `json:"checkout_redirect_url"`
}

// RefundParams is the payload for POST /v1/payments/{id}/refund.
type RefundParams struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// EventData is the data block of a verified webhook event.
type EventData struct {
	MerchantOrderID string `json:"merchantOrderId"`
	Status          string `json:"status"`
	OrderID         string `json:"orderId"`
	PaymentID       string `json:"paymentId"`
}

// Event is a verified webhook notification. Raw holds the exact payload the
// signature was computed over.
type Event struct {
	EventType string          `json:"eventType"`
	Data      EventData       `json:"data"`
	Raw       json.RawMessage `json:"-"`
}
