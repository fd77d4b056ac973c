package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
)

func TestCustomerParamsGuestOmitsExternalID(t *testing.T) {
	customer := testCart().Customer
	customer.ExternalID = ""
	params := CustomerParams(customer)
	require.Empty(t, params.ExternalID)
	require.Equal(t, "Frida", params.Name)
	require.Equal(t, "MX", params.Country)
}

func TestOrderParamsAmountsAreDecimal(t *testing.T) {
	cart := testCart()
	order := store.Order{
		ID:             "42",
		Currency:       cart.Currency,
		SubtotalAmount: cart.SubtotalAmount,
		ShippingAmount: cart.ShippingAmount,
		TaxAmount:      cart.TaxAmount,
		DiscountAmount: cart.DiscountAmount,
		TotalAmount:    cart.TotalAmount,
		Customer:       cart.Customer,
		Items:          cart.Items,
	}
	params := OrderParams(order, "cus_1")

	require.Equal(t, "42", params.MerchantOrderID)
	require.Equal(t, "cus_1", params.CustomerID)
	require.InDelta(t, 900.0, params.SubtotalAmount, 1e-9)
	require.InDelta(t, 50.0, params.AdditionalCharges.Shipment, 1e-9)
	require.InDelta(t, 144.0, params.AdditionalCharges.Taxes, 1e-9)
	require.InDelta(t, 10.0, params.Discounts.PromoDiscount, 1e-9)
	require.InDelta(t, 1084.0, params.TotalAmount, 1e-9)
	require.Len(t, params.Products, 1)
	require.InDelta(t, 450.0, params.Products[0].UnitPrice, 1e-9)
	require.Equal(t, "Frida", params.BillingAddress.FirstName)
	require.Equal(t, "Londres 247", params.ShippingAddress.Address.Line1)
}

func TestOrderParamsTruncatesDescription(t *testing.T) {
	order := store.Order{
		Items: []store.Item{{ProductID: "sku", Name: "x", Quantity: 1, Description: strings.Repeat("d", 400)}},
	}
	params := OrderParams(order, "")
	require.Len(t, params.Products[0].Description, maxDescriptionLen)
}

func TestPaymentMethodParamsForcesOneTimeUse(t *testing.T) {
	card := orkesta.CardParams{Number: "4242424242424242", CVV: 123}
	params := PaymentMethodParams(card, testCart().Customer)
	require.Equal(t, orkesta.PaymentMethodCard, params.Type)
	require.True(t, params.Card.OneTimeUse)
}

func TestPaymentParamsCorrelation(t *testing.T) {
	order := store.Order{ID: "42", Currency: "MXN", TotalAmount: 108400}
	params := PaymentParams(order, "pm_1", "dev_1")
	require.Equal(t, "pm_1", params.PaymentMethod)
	require.Equal(t, "dev_1", params.DeviceInfo.DeviceSessionID)
	require.True(t, params.PaymentOptions.Capture)
	require.Equal(t, "42", params.Metadata.MerchantOrderID)
	require.InDelta(t, 1084.0, params.PaymentAmount.Amount, 1e-9)
	require.Equal(t, "MXN", params.PaymentAmount.Currency)
}

func TestCheckoutParamsExpiryAndRef(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := CheckoutParams(testCart(), "ref-abc", "https://done", "https://back", true, now)

	require.Equal(t, now.Add(time.Hour).UnixMilli(), params.ExpiresAt)
	require.Equal(t, "ref-abc", params.Order.MerchantOrderID)
	require.Equal(t, "https://done", params.CompletedRedirectURL)
	require.Equal(t, "https://back", params.CanceledRedirectURL)
	require.True(t, params.Order.Config.Use3DS)
	require.Equal(t, "77", params.Order.Customer.ExternalID)
}

func TestRefundParams(t *testing.T) {
	params := RefundParams("duplicate charge", 5000)
	require.Equal(t, "duplicate charge", params.Description)
	require.InDelta(t, 50.0, params.Amount, 1e-9)
}
