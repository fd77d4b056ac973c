package gateway

import (
	"time"

	"github.com/noah-isme/gateway-orkestapay/internal/orkesta"
	"github.com/noah-isme/gateway-orkestapay/internal/store"
)

// maxDescriptionLen caps product descriptions sent upstream.
const maxDescriptionLen = 250

// checkoutTTL is how long a hosted checkout session stays open.
const checkoutTTL = time.Hour

// decimal converts a minor-unit amount into the decimal representation the
// API expects.
func decimal(minor int64) float64 {
	return float64(minor) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func toAddress(a store.Address) orkesta.Address {
	return orkesta.Address{
		Line1:   a.Line1,
		Line2:   a.Line2,
		City:    a.City,
		State:   a.State,
		Country: a.Country,
		ZipCode: a.ZipCode,
	}
}

func toContactAddress(c store.Customer, a store.Address) orkesta.ContactAddress {
	return orkesta.ContactAddress{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   toAddress(a),
	}
}

// CustomerParams builds the remote customer payload. ExternalID stays empty
// for guest checkouts so the field is omitted from the request.
func CustomerParams(c store.Customer) orkesta.CustomerParams {
	return orkesta.CustomerParams{
		ExternalID: c.ExternalID,
		Name:       c.FirstName,
		LastName:   c.LastName,
		Email:      c.Email,
		Phone:      c.Phone,
		Country:    c.Billing.Country,
	}
}

func toProducts(items []store.Item) []orkesta.Product {
	products := make([]orkesta.Product, 0, len(items))
	for _, item := range items {
		products = append(products, orkesta.Product{
			ID:           item.ProductID,
			Name:         item.Name,
			Description:  truncate(item.Description, maxDescriptionLen),
			Quantity:     item.Quantity,
			UnitPrice:    decimal(item.UnitPrice),
			ThumbnailURL: item.ThumbnailURL,
		})
	}
	return products
}

// OrderParams builds the remote order payload for an existing local order.
func OrderParams(order store.Order, customerID string) orkesta.OrderParams {
	return orkesta.OrderParams{
		MerchantOrderID: order.ID,
		CustomerID:      customerID,
		Currency:        order.Currency,
		SubtotalAmount:  decimal(order.SubtotalAmount),
		OrderCountry:    order.Customer.Billing.Country,
		AdditionalCharges: orkesta.Charges{
			Shipment: decimal(order.ShippingAmount),
			Taxes:    decimal(order.TaxAmount),
		},
		Discounts: orkesta.Discounts{
			PromoDiscount: decimal(order.DiscountAmount),
		},
		TotalAmount:     decimal(order.TotalAmount),
		Products:        toProducts(order.Items),
		ShippingAddress: toContactAddress(order.Customer, order.Customer.Shipping),
		BillingAddress:  toContactAddress(order.Customer, order.Customer.Billing),
	}
}

// PaymentMethodParams wraps raw card details for one-time tokenization. The
// card values flow straight to the remote call and are never stored.
func PaymentMethodParams(card orkesta.CardParams, customer store.Customer) orkesta.PaymentMethodParams {
	card.OneTimeUse = true
	return orkesta.PaymentMethodParams{
		Type:           orkesta.PaymentMethodCard,
		Card:           card,
		BillingAddress: toContactAddress(customer, customer.Billing),
	}
}

// PaymentParams builds the charge payload for a tokenized payment method.
func PaymentParams(order store.Order, paymentMethodID, deviceSessionID string) orkesta.PaymentParams {
	return orkesta.PaymentParams{
		PaymentMethod: paymentMethodID,
		PaymentAmount: orkesta.PaymentAmount{
			Amount:   decimal(order.TotalAmount),
			Currency: order.Currency,
		},
		DeviceInfo: orkesta.DeviceInfo{DeviceSessionID: deviceSessionID},
		PaymentOptions: orkesta.PaymentOptions{
			Capture: true,
		},
		Metadata: orkesta.PaymentMetadata{MerchantOrderID: order.ID},
	}
}

// CheckoutParams builds the hosted checkout session payload. checkoutRef is
// the opaque correlation id standing in for the not-yet-created local order,
// and use3DS comes from merchant configuration.
func CheckoutParams(cart store.Cart, checkoutRef string, completedURL, canceledURL string, use3DS bool, now time.Time) orkesta.CheckoutParams {
	return orkesta.CheckoutParams{
		ExpiresAt:            now.Add(checkoutTTL).UnixMilli(),
		CompletedRedirectURL: completedURL,
		CanceledRedirectURL:  canceledURL,
		Order: orkesta.CheckoutOrder{
			MerchantOrderID: checkoutRef,
			Currency:        cart.Currency,
			SubtotalAmount:  decimal(cart.SubtotalAmount),
			OrderCountry:    cart.Customer.Billing.Country,
			AdditionalCharges: orkesta.Charges{
				Shipment: decimal(cart.ShippingAmount),
				Taxes:    decimal(cart.TaxAmount),
			},
			Discounts: orkesta.Discounts{
				PromoDiscount: decimal(cart.DiscountAmount),
			},
			TotalAmount: decimal(cart.TotalAmount),
			Products:    toProducts(cart.Items),
			Customer: orkesta.CheckoutCustomer{
				ExternalID: cart.Customer.ExternalID,
				Name:       cart.Customer.FirstName,
				LastName:   cart.Customer.LastName,
				Email:      cart.Customer.Email,
				Phone:      cart.Customer.Phone,
			},
			ShippingAddress: toContactAddress(cart.Customer, cart.Customer.Shipping),
			BillingAddress:  toContactAddress(cart.Customer, cart.Customer.Billing),
			Config:          orkesta.CheckoutConfig{Use3DS: use3DS},
		},
	}
}

// RefundParams builds the refund payload. amount is in minor units.
func RefundParams(description string, amount int64) orkesta.RefundParams {
	return orkesta.RefundParams{
		Description: description,
		Amount:      decimal(amount),
	}
}
