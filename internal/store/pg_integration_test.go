//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// newPGForTests connects to TEST_DATABASE_URL and applies migrations. Run
// with: go test -tags integration ./internal/store/...
func newPGForTests(t *testing.T) *PG {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(databaseURL))
	pool, err := pgxpool.New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPG(pool)
}

func integrationCart() Cart {
	return Cart{
		ID:             "cart-" + uuid.NewString(),
		Currency:       "MXN",
		SubtotalAmount: 90000,
		ShippingAmount: 5000,
		TaxAmount:      14400,
		DiscountAmount: 1000,
		TotalAmount:    108400,
		Customer: Customer{
			FirstName: "Frida",
			LastName:  "Kahlo",
			Email:     "frida@example.com",
			Billing:   Address{Line1: "Londres 247", City: "Coyoacan", Country: "MX"},
			Shipping:  Address{Line1: "Londres 247", City: "Coyoacan", Country: "MX"},
		},
		Items: []Item{
			{ProductID: "sku-1", Name: "Print", Quantity: 2, UnitPrice: 45000},
		},
	}
}

func TestPGMarkOrderPaidGuardedTransition(t *testing.T) {
	pg := newPGForTests(t)
	ctx := context.Background()

	order, err := pg.CreateOrderFromCart(ctx, integrationCart(), StatusOnHold)
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, order.Status)

	performed, err := pg.MarkOrderPaid(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, performed, "first transition flips the status")

	// The guarded UPDATE matches zero rows once the order is paid, so a
	// concurrent redelivery reports that it performed nothing.
	performed, err = pg.MarkOrderPaid(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, performed)

	got, err := pg.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
}

func TestPGMarkOrderPaidMissingOrder(t *testing.T) {
	pg := newPGForTests(t)

	performed, err := pg.MarkOrderPaid(context.Background(), uuid.NewString())
	require.NoError(t, err)
	require.False(t, performed)
}

func TestPGCheckoutRefConsumption(t *testing.T) {
	pg := newPGForTests(t)
	ctx := context.Background()

	cart := integrationCart()
	ref := "ref-" + uuid.NewString()
	require.NoError(t, pg.SaveCart(ctx, cart))
	require.NoError(t, pg.LinkCheckout(ctx, cart.ID, ref))

	// The ref resolves to the cart but not to an order until it is consumed.
	linked, err := pg.GetCartByCheckoutRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, cart.ID, linked.ID)
	_, err = pg.GetOrderByCheckoutRef(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	order, err := pg.CreateOrderFromCart(ctx, cart, StatusOnHold)
	require.NoError(t, err)
	require.NoError(t, pg.LinkOrder(ctx, ref, order.ID))

	got, err := pg.GetOrderByCheckoutRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, order.TotalAmount, got.TotalAmount)

	require.ErrorIs(t, pg.LinkOrder(ctx, "ref-"+uuid.NewString(), order.ID), ErrNotFound)
}
