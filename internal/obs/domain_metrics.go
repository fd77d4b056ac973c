package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentAttemptTotal counts payment submissions by flow mode and result.
	PaymentAttemptTotal *prometheus.CounterVec
	// CheckoutSessionTotal counts hosted checkout session creations.
	CheckoutSessionTotal *prometheus.CounterVec
	// WebhookVerifyTotal counts inbound webhook verification outcomes.
	WebhookVerifyTotal *prometheus.CounterVec
	// TokenRequestsTotal tracks token cache hits, fetches and errors.
	TokenRequestsTotal *prometheus.CounterVec
	// RefundPropagationTotal counts remote refund notifications by result.
	RefundPropagationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the gateway's domain
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentAttemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_attempt_total",
			Help:      "Count of payment submissions by flow mode and result.",
		}, []string{"mode", "result"})
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of hosted checkout session creations by result.",
		}, []string{"result"})
		WebhookVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_verify_total",
			Help:      "Count of inbound webhook verification outcomes.",
		}, []string{"result"})
		TokenRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Access token resolutions by source (cache_hit, fetched, error).",
		}, []string{"result"})
		RefundPropagationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_propagation_total",
			Help:      "Remote refund notification outcomes.",
		}, []string{"result"})

		PaymentAttemptTotal = registerOrReuse(reg, PaymentAttemptTotal)
		CheckoutSessionTotal = registerOrReuse(reg, CheckoutSessionTotal)
		WebhookVerifyTotal = registerOrReuse(reg, WebhookVerifyTotal)
		TokenRequestsTotal = registerOrReuse(reg, TokenRequestsTotal)
		RefundPropagationTotal = registerOrReuse(reg, RefundPropagationTotal)
	})
}
