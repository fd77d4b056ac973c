package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
)

// memStore is an in-memory store.Store for service and handler tests.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]store.Order
	notes    map[string][]string
	metadata map[string]map[string]string
	carts     map[string]store.Cart
	refs      map[string]string // checkoutRef -> cartID
	refOrders map[string]string // checkoutRef -> orderID once consumed
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{
		orders:    map[string]store.Order{},
		notes:     map[string][]string{},
		metadata:  map[string]map[string]string{},
		carts:     map[string]store.Cart{},
		refs:      map[string]string{},
		refOrders: map[string]string{},
	}
}

func (m *memStore) GetOrder(_ context.Context, id string) (store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (m *memStore) CreateOrderFromCart(_ context.Context, cart store.Cart, status store.OrderStatus) (store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	order := store.Order{
		ID:             fmt.Sprintf("local-%03d", m.nextID),
		Status:         status,
		Currency:       cart.Currency,
		SubtotalAmount: cart.SubtotalAmount,
		ShippingAmount: cart.ShippingAmount,
		TaxAmount:      cart.TaxAmount,
		DiscountAmount: cart.DiscountAmount,
		TotalAmount:    cart.TotalAmount,
		Customer:       cart.Customer,
		Items:          cart.Items,
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *memStore) SetOrderStatus(_ context.Context, id string, status store.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	order.Status = status
	m.orders[id] = order
	return nil
}

func (m *memStore) MarkOrderPaid(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if order.Status == store.StatusPaid {
		return false, nil
	}
	order.Status = store.StatusPaid
	m.orders[id] = order
	return true, nil
}

func (m *memStore) AddOrderNote(_ context.Context, orderID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[orderID] = append(m.notes[orderID], note)
	return nil
}

func (m *memStore) SetMetadata(_ context.Context, orderID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metadata[orderID] == nil {
		m.metadata[orderID] = map[string]string{}
	}
	m.metadata[orderID][key] = value
	return nil
}

func (m *memStore) GetMetadata(_ context.Context, orderID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata[orderID][key], nil
}

func (m *memStore) GetCart(_ context.Context, id string) (store.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[id]
	if !ok {
		return store.Cart{}, store.ErrNotFound
	}
	return cart, nil
}

func (m *memStore) SaveCart(_ context.Context, cart store.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.ID] = cart
	return nil
}

func (m *memStore) LinkCheckout(_ context.Context, cartID, checkoutRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[cartID]; !ok {
		return store.ErrNotFound
	}
	m.refs[checkoutRef] = cartID
	return nil
}

func (m *memStore) GetCartByCheckoutRef(_ context.Context, checkoutRef string) (store.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cartID, ok := m.refs[checkoutRef]
	if !ok {
		return store.Cart{}, store.ErrNotFound
	}
	return m.carts[cartID], nil
}

func (m *memStore) LinkOrder(_ context.Context, checkoutRef, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[checkoutRef]; !ok {
		return store.ErrNotFound
	}
	m.refOrders[checkoutRef] = orderID
	return nil
}

func (m *memStore) GetOrderByCheckoutRef(_ context.Context, checkoutRef string) (store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orderID, ok := m.refOrders[checkoutRef]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	order, ok := m.orders[orderID]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (m *memStore) orderStatus(t *testing.T, id string) store.OrderStatus {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	require.True(t, ok, "order %s not found", id)
	return order.Status
}

// upstream fakes the OrkestaPay API for service tests.
type upstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []upstreamRequest

	customers      []orkesta.Customer
	paymentStatus  string
	failureReason  string
	rejectPayments bool
	orderStatus    string
	merchantRef    string
}

type upstreamRequest struct {
	Method string
	Path   string
	Body   []byte
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{paymentStatus: orkesta.StatusCompleted, orderStatus: orkesta.StatusCompleted}
	mux := http.NewServeMux()
	mux.HandleFunc("/", u.handle)
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) record(r *http.Request) upstreamRequest {
	body, _ := io.ReadAll(r.Body)
	req := upstreamRequest{Method: r.Method, Path: r.URL.Path, Body: body}
	u.mu.Lock()
	u.requests = append(u.requests, req)
	u.mu.Unlock()
	return req
}

func (u *upstream) calls(method, pathPrefix string) []upstreamRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []upstreamRequest
	for _, req := range u.requests {
		if req.Method == method && strings.HasPrefix(req.Path, pathPrefix) {
			out = append(out, req)
		}
	}
	return out
}

func (u *upstream) handle(w http.ResponseWriter, r *http.Request) {
	req := u.record(r)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
		_ = json.NewEncoder(w).Encode(orkesta.CustomerList{Data: u.customers})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
		_ = json.NewEncoder(w).Encode(orkesta.Customer{ID: "cus_1"})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/payment-methods"):
		_ = json.NewEncoder(w).Encode(orkesta.PaymentMethod{ID: "pm_1"})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
		var params orkesta.OrderParams
		_ = json.Unmarshal(req.Body, &params)
		_ = json.NewEncoder(w).Encode(orkesta.Order{ID: "ord_1", MerchantOrderID: params.MerchantOrderID, Status: orkesta.StatusPending})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/payments"):
		if u.rejectPayments {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "card declined by issuer"})
			return
		}
		_ = json.NewEncoder(w).Encode(orkesta.Payment{ID: "pay_1", Status: u.paymentStatus, FailureReason: u.failureReason})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkouts":
		_ = json.NewEncoder(w).Encode(orkesta.Checkout{ID: "chk_1", RedirectURL: "https://pay.orkestapay.test/chk_1"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/orders/"):
		_ = json.NewEncoder(w).Encode(orkesta.Order{ID: "ord_1", MerchantOrderID: u.merchantRef, Status: u.orderStatus})
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/v1/orders/"):
		_ = json.NewEncoder(w).Encode(orkesta.Order{ID: "ord_1", Status: u.orderStatus})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/refund"):
		if u.rejectPayments {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "payment not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ref_1", "status": "REFUNDED"})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/merchants/providers/brands":
		_ = json.NewEncoder(w).Encode(map[string]any{"brands": []string{"visa", "mastercard"}})
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "no such endpoint"})
	}
}

// newService wires a Service against the fake upstream and an in-memory
// store.
func newService(t *testing.T, st store.Store, up *upstream) *Service {
	t.Helper()
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":60}`))
	}))
	t.Cleanup(auth.Close)

	client := &orkesta.Client{
		BaseURL: up.srv.URL,
		Tokens: &orkesta.TokenSource{
			AuthURL:     auth.URL,
			Credentials: orkesta.Credentials{ClientID: "id", ClientSecret: "secret"},
			Cache:       orkesta.NewMemoryCache(),
			Logger:      zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	}
	return &Service{
		Store:                st,
		API:                  client,
		Logger:               zerolog.Nop(),
		Mode:                 ModeEmbedded,
		MarkPaidOnResponse:   true,
		CompletedRedirectURL: "https://shop.test/checkout/done",
		CanceledRedirectURL:  "https://shop.test/checkout",
	}
}

func testCart() store.Cart {
	return store.Cart{
		ID:             "cart-1",
		Currency:       "MXN",
		SubtotalAmount: 90000,
		ShippingAmount: 5000,
		TaxAmount:      14400,
		DiscountAmount: 1000,
		TotalAmount:    108400,
		Customer: store.Customer{
			ExternalID: "77",
			FirstName:  "Frida",
			LastName:   "Kahlo",
			Email:      "frida@example.com",
			Billing:    store.Address{Line1: "Londres 247", City: "Coyoacan", Country: "MX", ZipCode: "04100"},
			Shipping:   store.Address{Line1: "Londres 247", City: "Coyoacan", Country: "MX", ZipCode: "04100"},
		},
		Items: []store.Item{
			{ProductID: "sku-1", Name: "Print", Quantity: 2, UnitPrice: 45000},
		},
	}
}

func seedOrder(t *testing.T, st *memStore, id string) store.Order {
	t.Helper()
	cart := testCart()
	order := store.Order{
		ID:             id,
		Status:         store.StatusOnHold,
		Currency:       cart.Currency,
		SubtotalAmount: cart.SubtotalAmount,
		ShippingAmount: cart.ShippingAmount,
		TaxAmount:      cart.TaxAmount,
		DiscountAmount: cart.DiscountAmount,
		TotalAmount:    cart.TotalAmount,
		Customer:       cart.Customer,
		Items:          cart.Items,
	}
	st.mu.Lock()
	st.orders[id] = order
	st.mu.Unlock()
	return order
}
