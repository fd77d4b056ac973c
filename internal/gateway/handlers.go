package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gateway-orkestapay/internal/common"
	"github.com/noah-isme/gateway-orkestapay/internal/obs"
	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
)

// RefundEnqueuer hands refund propagation off to the background worker.
type RefundEnqueuer interface {
	EnqueueRefund(ctx context.Context, orderID string, amount int64, reason string) error
}

// ClientConfig is the browser-side tokenizer configuration served at
// /api/v1/client-config.
type ClientConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	MerchantID  string `json:"merchant_id"`
	PublicKey   string `json:"public_key"`
	DeviceKey   string `json:"device_key"`
	TokenURL    string `json:"token_url"`
	FlowMode    string `json:"flow_mode"`
	Use3DS      bool   `json:"use_3ds"`
	CurrencyISO string `json:"currency"`
}

// Handler adapts the gateway service to HTTP.
type Handler struct {
	Service  *Service
	Verifier *orkesta.Verifier
	Validate *validator.Validate
	Refunds  RefundEnqueuer
	Logger   zerolog.Logger

	// Replay guards duplicate webhook deliveries when configured.
	Replay    *redis.Client
	ReplayTTL time.Duration

	Client ClientConfig

	// Idem, when set, is applied to the write endpoints so storefront
	// clients can retry safely with an Idempotency-Key header.
	Idem func(http.Handler) http.Handler

	// SuccessURL and FailureURL are where the hosted-checkout return
	// handler sends the shopper.
	SuccessURL string
	FailureURL string
}

// Routes mounts the gateway endpoints.
func (h *Handler) Routes(r chi.Router) {
	writes := func(r chi.Router) chi.Router {
		if h.Idem != nil {
			return r.With(h.Idem)
		}
		return r
	}
	r.Route("/api/v1", func(r chi.Router) {
		writes(r).Post("/checkout", h.CreateCheckout)
		r.Get("/checkout/return", h.CheckoutReturn)
		writes(r).Post("/orders/{orderID}/pay", h.Pay)
		writes(r).Post("/orders/{orderID}/refund", h.Refund)
		r.Get("/client-config", h.ClientConfigHandler)
		r.Get("/brands", h.Brands)
	})
	r.Handle("/webhooks/orkestapay", http.HandlerFunc(h.Webhook))
}

type checkoutRequest struct {
	CartID string `json:"cart_id" validate:"required"`
}

// CreateCheckout opens a hosted checkout session and returns the redirect
// URL.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	redirect, err := h.Service.CreateCheckout(r.Context(), req.CartID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"redirect_url": redirect})
}

// CheckoutReturn finalizes the hosted flow when the shopper lands back on
// the store. Failures redirect back to the checkout page rather than
// rendering an error.
func (h *Handler) CheckoutReturn(w http.ResponseWriter, r *http.Request) {
	remoteOrderID := r.URL.Query().Get("order_id")
	if remoteOrderID == "" {
		http.Redirect(w, r, h.FailureURL, http.StatusFound)
		return
	}
	order, err := h.Service.HandleReturn(r.Context(), remoteOrderID)
	if err != nil {
		h.Logger.Error().Err(err).Str("orkesta_order_id", remoteOrderID).Msg("checkout return failed")
		http.Redirect(w, r, h.FailureURL, http.StatusFound)
		return
	}
	http.Redirect(w, r, h.SuccessURL+"?order_id="+order.ID, http.StatusFound)
}

type cardRequest struct {
	HolderName      string `json:"holder_name" validate:"required"`
	HolderLastName  string `json:"holder_last_name"`
	Number          string `json:"number" validate:"required"`
	ExpirationMonth string `json:"expiration_month" validate:"required"`
	ExpirationYear  string `json:"expiration_year" validate:"required"`
	CVV             int    `json:"cvv" validate:"required"`
}

type payRequest struct {
	CustomerID      string       `json:"customer_id"`
	PaymentMethodID string       `json:"payment_method_id"`
	DeviceSessionID string       `json:"device_session_id" validate:"required"`
	Card            *cardRequest `json:"card"`
}

// Pay runs the embedded-mode payment for an on-hold order.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := PaymentInput{
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		DeviceSessionID: req.DeviceSessionID,
	}
	if req.Card != nil {
		in.Card = &orkesta.CardParams{
			HolderName:      req.Card.HolderName,
			HolderLastName:  req.Card.HolderLastName,
			Number:          req.Card.Number,
			ExpirationMonth: req.Card.ExpirationMonth,
			ExpirationYear:  req.Card.ExpirationYear,
			CVV:             req.Card.CVV,
		}
	}
	result, err := h.Service.ProcessPayment(r.Context(), chi.URLParam(r, "orderID"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if terminalFailure(result.Status) {
		common.JSONError(w, http.StatusBadRequest, "PAYMENT_FAILED", failureMessage(result), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"status":     result.Status,
		"paid":       result.Paid,
		"payment_id": result.PaymentID,
	})
}

func failureMessage(result PaymentResult) string {
	if result.FailureReason != "" {
		return result.FailureReason
	}
	return "payment was not accepted"
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

// Refund enqueues best-effort refund propagation to the provider.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if err := h.Refunds.EnqueueRefund(r.Context(), orderID, req.Amount, req.Reason); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REFUND_ENQUEUE_FAILED", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// ClientConfigHandler serves the parameters the browser tokenizer needs.
func (h *Handler) ClientConfigHandler(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, h.Client)
}

// Brands proxies the provider's card-brand listing for checkout rendering.
func (h *Handler) Brands(w http.ResponseWriter, r *http.Request) {
	body, err := h.Service.API.Retrieve(r.Context(), "/v1/merchants/providers/brands", nil)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Webhook authenticates and applies provider notifications. The contract is
// strict: 405 for non-POST, 400 when verification fails or the event cannot
// be correlated, 500 on internal failure, otherwise 200 {"success":true}.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "webhook accepts POST only", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	event, err := h.Verifier.Verify(body, r.Header)
	if err != nil {
		if obs.WebhookVerifyTotal != nil {
			obs.WebhookVerifyTotal.WithLabelValues("rejected").Inc()
		}
		h.Logger.Warn().Err(err).Msg("webhook rejected")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "signature verification failed", nil)
		return
	}
	if obs.WebhookVerifyTotal != nil {
		obs.WebhookVerifyTotal.WithLabelValues("accepted").Inc()
	}

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = "wh:orkesta:" + common.Sha256Hex(string(body))
		fresh, err := h.Replay.SetNX(r.Context(), replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			// Settlement is idempotent anyway; acknowledge the duplicate
			// so the sender stops retrying.
			common.JSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}

	if err := h.Service.HandleWebhookEvent(r.Context(), event); err != nil {
		// Free the dedup slot: the delivery was not applied, so the
		// sender's retry must be reprocessed, not swallowed for the TTL.
		h.releaseReplay(r.Context(), replayKey)
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusBadRequest, "UNKNOWN_ORDER", "event does not match a local order", nil)
			return
		}
		h.Logger.Error().Err(err).Str("event_type", event.EventType).Msg("webhook processing failed")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_PROCESSING_ERROR", "unable to process event", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) releaseReplay(ctx context.Context, key string) {
	if h.Replay == nil || key == "" {
		return
	}
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Error().Err(err).Msg("release webhook replay key")
	}
}

// decode parses and validates a JSON request body, writing the error
// response itself when the input is bad.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(v); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return false
		}
	}
	return true
}

// writeError maps domain errors onto the canonical error shape. Upstream
// rejections surface to the shopper as 400s; configuration faults stay 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validation *orkesta.ValidationError
	if errors.As(err, &validation) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", validation.Error(), nil)
		return
	}
	var upstream *orkesta.UpstreamError
	if errors.As(err, &upstream) {
		common.JSONError(w, http.StatusBadRequest, "PAYMENT_REJECTED", upstream.Message, nil)
		return
	}
	var auth *orkesta.AuthError
	if errors.As(err, &auth) {
		h.Logger.Error().Err(err).Msg("credential failure")
		common.JSONError(w, http.StatusInternalServerError, "GATEWAY_MISCONFIGURED", "payment gateway unavailable", nil)
		return
	}
	if errors.Is(err, ErrFlowModeDisabled) {
		common.JSONError(w, http.StatusConflict, "FLOW_MODE_DISABLED", err.Error(), nil)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	h.Logger.Error().Err(err).Msg("request failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected error", nil)
}
