package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/gateway-orkestapay/internal/obs"
	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
)

// Mode selects which checkout strategy the merchant runs.
type Mode string

const (
	// ModeHosted redirects the shopper to the provider-hosted checkout page.
	ModeHosted Mode = "hosted"
	// ModeEmbedded keeps the shopper on-site and charges a tokenized card.
	ModeEmbedded Mode = "embedded"
)

// ParseMode validates a configured flow mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHosted:
		return ModeHosted, nil
	case ModeEmbedded:
		return ModeEmbedded, nil
	}
	return "", fmt.Errorf("unknown flow mode %q", s)
}

// ErrFlowModeDisabled is returned when a checkout operation belonging to the
// other flow mode is invoked. Each deployment runs exactly one mode.
var ErrFlowModeDisabled = errors.New("gateway: flow mode disabled")

func (s *Service) requireMode(m Mode) error {
	if s.Mode != m {
		return fmt.Errorf("%w: %s checkout is not enabled", ErrFlowModeDisabled, m)
	}
	return nil
}

// Service coordinates local order state with the OrkestaPay API: customer
// and order mirroring, payment submission, hosted checkout sessions,
// webhook reconciliation and refund propagation.
type Service struct {
	Store  store.Store
	API    *orkesta.Client
	Logger zerolog.Logger

	Mode Mode
	// MarkPaidOnResponse selects the synchronous paid transition on a
	// COMPLETED payment response instead of waiting for the webhook.
	MarkPaidOnResponse bool
	Use3DS             bool

	CompletedRedirectURL string
	CanceledRedirectURL  string
}

// PaymentInput is the embedded-mode payment submission. Tokenized ids come
// from the browser SDK; Card is the raw-card fallback and is never stored.
type PaymentInput struct {
	CustomerID      string
	PaymentMethodID string
	DeviceSessionID string
	Card            *orkesta.CardParams
}

// PaymentResult reports the outcome of a payment submission.
type PaymentResult struct {
	Paid          bool
	Status        string
	RemoteOrderID string
	PaymentID     string
	FailureReason string
}

// terminalFailure reports whether a remote status can never become paid.
func terminalFailure(status string) bool {
	switch status {
	case orkesta.StatusFailed, orkesta.StatusDeclined, orkesta.StatusCanceled, orkesta.StatusExpired:
		return true
	}
	return false
}

// newCheckoutRef generates the opaque correlation id a hosted checkout is
// keyed on before the local order exists.
func newCheckoutRef() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate checkout ref: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// EnsureCustomer returns the remote customer id for the shopper, looking up
// by email before creating so each local identity maps to at most one
// remote customer.
func (s *Service) EnsureCustomer(ctx context.Context, customer store.Customer) (string, error) {
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.EnsureCustomer")
	defer span.End()

	query := url.Values{}
	query.Set("email", customer.Email)
	query.Set("limit", "1")
	body, err := s.API.Retrieve(ctx, "/v1/customers?"+query.Encode(), nil)
	if err == nil {
		var list orkesta.CustomerList
		if err := json.Unmarshal(body, &list); err == nil && len(list.Data) > 0 {
			span.SetAttributes(attribute.Bool("customer.reused", true))
			return list.Data[0].ID, nil
		}
	}

	body, err = s.API.Post(ctx, "/v1/customers", CustomerParams(customer))
	if err != nil {
		return "", err
	}
	var created orkesta.Customer
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode customer: %w", err)
	}
	return created.ID, nil
}

// CreateCheckout opens a hosted checkout session for the cart and returns
// the redirect URL the shopper is sent to.
func (s *Service) CreateCheckout(ctx context.Context, cartID string) (string, error) {
	if err := s.requireMode(ModeHosted); err != nil {
		return "", err
	}
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.CreateCheckout")
	defer span.End()

	result := "error"
	defer func() {
		if obs.CheckoutSessionTotal != nil {
			obs.CheckoutSessionTotal.WithLabelValues(result).Inc()
		}
	}()

	cart, err := s.Store.GetCart(ctx, cartID)
	if err != nil {
		return "", err
	}
	ref, err := newCheckoutRef()
	if err != nil {
		return "", err
	}
	if err := s.Store.LinkCheckout(ctx, cartID, ref); err != nil {
		return "", err
	}

	params := CheckoutParams(cart, ref, s.CompletedRedirectURL, s.CanceledRedirectURL, s.Use3DS, time.Now())
	body, err := s.API.Post(ctx, "/v1/checkouts", params)
	if err != nil {
		return "", err
	}
	var checkout orkesta.Checkout
	if err := json.Unmarshal(body, &checkout); err != nil {
		return "", fmt.Errorf("decode checkout: %w", err)
	}
	if checkout.RedirectURL == "" {
		return "", &orkesta.UpstreamError{Message: "checkout session missing redirect url"}
	}
	result = "success"
	span.SetAttributes(attribute.String("checkout.id", checkout.ID))
	return checkout.RedirectURL, nil
}

// HandleReturn finalizes a hosted checkout when the shopper lands back on
// the store: it fetches the remote order, materialises the local order from
// the linked cart, points the remote order at the local id and settles the
// status.
func (s *Service) HandleReturn(ctx context.Context, remoteOrderID string) (store.Order, error) {
	if err := s.requireMode(ModeHosted); err != nil {
		return store.Order{}, err
	}
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.HandleReturn")
	defer span.End()
	span.SetAttributes(attribute.String("orkesta.order_id", remoteOrderID))

	body, err := s.API.Retrieve(ctx, "/v1/orders/"+url.PathEscape(remoteOrderID), nil)
	if err != nil {
		return store.Order{}, err
	}
	var remote orkesta.Order
	if err := json.Unmarshal(body, &remote); err != nil {
		return store.Order{}, fmt.Errorf("decode order: %w", err)
	}

	// A refreshed return URL must not materialise a second order: once the
	// checkout ref has been consumed, hand back the order it produced.
	if existing, err := s.Store.GetOrderByCheckoutRef(ctx, remote.MerchantOrderID); err == nil {
		if remote.Status == orkesta.StatusCompleted && existing.Status != store.StatusPaid {
			if err := s.settle(ctx, existing.ID, "Hosted checkout completed (OrkestaPay order "+remote.RemoteID()+")."); err != nil {
				return store.Order{}, err
			}
			existing.Status = store.StatusPaid
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Order{}, err
	}

	cart, err := s.Store.GetCartByCheckoutRef(ctx, remote.MerchantOrderID)
	if err != nil {
		return store.Order{}, fmt.Errorf("resolve checkout %q: %w", remote.MerchantOrderID, err)
	}
	order, err := s.Store.CreateOrderFromCart(ctx, cart, store.StatusOnHold)
	if err != nil {
		return store.Order{}, err
	}
	if err := s.Store.LinkOrder(ctx, remote.MerchantOrderID, order.ID); err != nil {
		return store.Order{}, fmt.Errorf("consume checkout %q: %w", remote.MerchantOrderID, err)
	}

	// Repoint the remote order at the now-existing local id so later
	// webhooks correlate directly.
	if _, err := s.API.Patch(ctx, "/v1/orders/"+url.PathEscape(remote.RemoteID()),
		map[string]string{"merchant_order_id": order.ID}); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", order.ID).Msg("update remote merchant_order_id")
	}
	if err := s.Store.SetMetadata(ctx, order.ID, store.MetaRemoteOrderID, remote.RemoteID()); err != nil {
		return store.Order{}, err
	}

	if remote.Status == orkesta.StatusCompleted {
		if err := s.settle(ctx, order.ID, "Hosted checkout completed (OrkestaPay order "+remote.RemoteID()+")."); err != nil {
			return store.Order{}, err
		}
		order.Status = store.StatusPaid
	}
	return order, nil
}

// ProcessPayment runs the embedded-mode charge for an existing on-hold
// order.
func (s *Service) ProcessPayment(ctx context.Context, orderID string, in PaymentInput) (PaymentResult, error) {
	if err := s.requireMode(ModeEmbedded); err != nil {
		return PaymentResult{}, err
	}
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.ProcessPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	result := "error"
	defer func() {
		if obs.PaymentAttemptTotal != nil {
			obs.PaymentAttemptTotal.WithLabelValues(string(s.Mode), result).Inc()
		}
	}()

	if in.DeviceSessionID == "" {
		return PaymentResult{}, &orkesta.ValidationError{Field: "device_session_id"}
	}
	if in.PaymentMethodID == "" && in.Card == nil {
		return PaymentResult{}, &orkesta.ValidationError{Field: "payment_method_id"}
	}

	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentResult{}, err
	}

	customerID := in.CustomerID
	if customerID == "" {
		customerID, err = s.EnsureCustomer(ctx, order.Customer)
		if err != nil {
			return PaymentResult{}, err
		}
	}

	paymentMethodID := in.PaymentMethodID
	if paymentMethodID == "" {
		body, err := s.API.Post(ctx, "/v1/customers/"+url.PathEscape(customerID)+"/payment-methods",
			PaymentMethodParams(*in.Card, order.Customer))
		if err != nil {
			return PaymentResult{}, err
		}
		var method orkesta.PaymentMethod
		if err := json.Unmarshal(body, &method); err != nil {
			return PaymentResult{}, fmt.Errorf("decode payment method: %w", err)
		}
		paymentMethodID = method.ID
	}

	body, err := s.API.Post(ctx, "/v1/orders", OrderParams(order, customerID))
	if err != nil {
		return PaymentResult{}, err
	}
	var remote orkesta.Order
	if err := json.Unmarshal(body, &remote); err != nil {
		return PaymentResult{}, fmt.Errorf("decode order: %w", err)
	}
	if err := s.Store.SetMetadata(ctx, order.ID, store.MetaRemoteOrderID, remote.RemoteID()); err != nil {
		return PaymentResult{}, err
	}

	body, err = s.API.Post(ctx, "/v1/orders/"+url.PathEscape(remote.RemoteID())+"/payments",
		PaymentParams(order, paymentMethodID, in.DeviceSessionID))
	if err != nil {
		var upstream *orkesta.UpstreamError
		if errors.As(err, &upstream) {
			result = "declined"
			note := "OrkestaPay payment failed: " + upstream.Message
			if noteErr := s.Store.AddOrderNote(ctx, order.ID, note); noteErr != nil {
				s.Logger.Error().Err(noteErr).Str("order_id", order.ID).Msg("record failure note")
			}
			if stErr := s.Store.SetOrderStatus(ctx, order.ID, store.StatusFailed); stErr != nil {
				return PaymentResult{}, stErr
			}
			return PaymentResult{Status: orkesta.StatusFailed, RemoteOrderID: remote.RemoteID(), FailureReason: upstream.Message}, nil
		}
		return PaymentResult{}, err
	}
	var payment orkesta.Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return PaymentResult{}, fmt.Errorf("decode payment: %w", err)
	}
	if err := s.Store.SetMetadata(ctx, order.ID, store.MetaRemotePaymentID, payment.ID); err != nil {
		return PaymentResult{}, err
	}

	res := PaymentResult{
		Status:        payment.Status,
		RemoteOrderID: remote.RemoteID(),
		PaymentID:     payment.ID,
		FailureReason: payment.FailureReason,
	}
	switch {
	case payment.Status == orkesta.StatusCompleted:
		result = "success"
		if s.MarkPaidOnResponse {
			if err := s.settle(ctx, order.ID, "OrkestaPay payment "+payment.ID+" completed."); err != nil {
				return PaymentResult{}, err
			}
			res.Paid = true
		}
	case terminalFailure(payment.Status):
		result = "declined"
		reason := payment.FailureReason
		if reason == "" {
			reason = payment.Status
		}
		if err := s.Store.AddOrderNote(ctx, order.ID, "OrkestaPay payment "+payment.ID+" failed: "+reason); err != nil {
			s.Logger.Error().Err(err).Str("order_id", order.ID).Msg("record failure note")
		}
		if err := s.Store.SetOrderStatus(ctx, order.ID, store.StatusFailed); err != nil {
			return PaymentResult{}, err
		}
	default:
		// PENDING or PAYMENT_ACTION_REQUIRED: stays on hold until the
		// webhook confirms.
		result = "pending"
	}
	return res, nil
}

// HandleWebhookEvent applies a verified notification to the local order.
// COMPLETED settles the order exactly once; terminal failures mark it
// failed; everything else is ignored.
func (s *Service) HandleWebhookEvent(ctx context.Context, event orkesta.Event) error {
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.HandleWebhookEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("orkesta.event_type", event.EventType),
		attribute.String("orkesta.status", event.Data.Status),
	)

	orderID := event.Data.MerchantOrderID
	if orderID == "" {
		return fmt.Errorf("event %s has no merchant order id", event.EventType)
	}
	if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	if event.Data.OrderID != "" {
		if err := s.Store.SetMetadata(ctx, orderID, store.MetaRemoteOrderID, event.Data.OrderID); err != nil {
			return err
		}
	}
	if event.Data.PaymentID != "" {
		if err := s.Store.SetMetadata(ctx, orderID, store.MetaRemotePaymentID, event.Data.PaymentID); err != nil {
			return err
		}
	}

	switch {
	case event.Data.Status == orkesta.StatusCompleted:
		return s.settle(ctx, orderID, "OrkestaPay notification: payment completed.")
	case terminalFailure(event.Data.Status):
		if err := s.Store.AddOrderNote(ctx, orderID, "OrkestaPay notification: payment "+strings.ToLower(event.Data.Status)+"."); err != nil {
			s.Logger.Error().Err(err).Str("order_id", orderID).Msg("record failure note")
		}
		return s.Store.SetOrderStatus(ctx, orderID, store.StatusFailed)
	}
	s.Logger.Debug().
		Str("order_id", orderID).
		Str("status", event.Data.Status).
		Msg("webhook status ignored")
	return nil
}

// settle performs the idempotent paid transition: the note is written only
// by the call that actually flipped the status.
func (s *Service) settle(ctx context.Context, orderID, note string) error {
	performed, err := s.Store.MarkOrderPaid(ctx, orderID)
	if err != nil {
		return err
	}
	if !performed {
		s.Logger.Info().Str("order_id", orderID).Msg("order already paid")
		return nil
	}
	if err := s.Store.AddOrderNote(ctx, orderID, note); err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("record fulfilment note")
	}
	return nil
}

// Refund propagates a local refund to the provider. Missing correlation
// metadata makes it a silent no-op, and an upstream failure is recorded as
// an order note without failing the local refund.
func (s *Service) Refund(ctx context.Context, orderID string, amount int64, reason string) error {
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "GatewayService.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	result := "error"
	defer func() {
		if obs.RefundPropagationTotal != nil {
			obs.RefundPropagationTotal.WithLabelValues(result).Inc()
		}
	}()

	remoteOrderID, err := s.Store.GetMetadata(ctx, orderID, store.MetaRemoteOrderID)
	if err != nil {
		return err
	}
	paymentID, err := s.Store.GetMetadata(ctx, orderID, store.MetaRemotePaymentID)
	if err != nil {
		return err
	}
	if remoteOrderID == "" && paymentID == "" {
		result = "skipped"
		return nil
	}
	if paymentID == "" {
		result = "skipped"
		s.Logger.Warn().Str("order_id", orderID).Msg("refund skipped: no remote payment id")
		return nil
	}

	description := reason
	if description == "" {
		description = "Refund for order " + orderID
	}
	_, err = s.API.Post(ctx, "/v1/payments/"+url.PathEscape(paymentID)+"/refund",
		RefundParams(description, amount))
	if err != nil {
		note := "OrkestaPay refund failed: " + err.Error()
		if noteErr := s.Store.AddOrderNote(ctx, orderID, note); noteErr != nil {
			s.Logger.Error().Err(noteErr).Str("order_id", orderID).Msg("record refund note")
		}
		s.Logger.Error().Err(err).Str("order_id", orderID).Str("payment_id", paymentID).Msg("refund propagation failed")
		return nil
	}
	result = "success"
	return s.Store.AddOrderNote(ctx, orderID, "OrkestaPay refund submitted for payment "+paymentID+".")
}
