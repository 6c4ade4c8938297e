package cart_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/cart"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func line(part string, qty int, price string) cart.LineItem {
	return cart.LineItem{
		PartID:     part,
		SupplierID: "acme",
		Quantity:   qty,
		UnitPrice:  decimal.RequireFromString(price),
		Currency:   "usd",
	}
}

func TestCartAddMergesSamePart(t *testing.T) {
	c := cart.New("tok")
	require.NoError(t, c.Add(line("A-1", 2, "10.00"), now))
	require.NoError(t, c.Add(line("B-2", 1, "3.50"), now))
	require.NoError(t, c.Add(line("A-1", 3, "9.00"), now.Add(time.Minute)))

	require.Len(t, c.Items, 2)
	require.Equal(t, "A-1", c.Items[0].PartID)
	require.Equal(t, 5, c.Items[0].Quantity)
	require.Equal(t, "USD", c.Currency())
	require.Equal(t, "48.50", c.Total().StringFixed(2))
	require.Equal(t, now.Add(time.Minute), c.UpdatedAt)
}

func TestCartRejectsInvalidLines(t *testing.T) {
	c := cart.New("tok")
	require.ErrorIs(t, c.Add(line("A-1", 0, "1"), now), cart.ErrInvalidInput)
	require.ErrorIs(t, c.Add(line("", 1, "1"), now), cart.ErrInvalidInput)
	require.ErrorIs(t, c.Add(line("A-1", 1, "-1"), now), cart.ErrInvalidInput)

	require.NoError(t, c.Add(line("A-1", 1, "1"), now))
	eur := line("B-1", 1, "1")
	eur.Currency = "EUR"
	require.ErrorIs(t, c.Add(eur, now), cart.ErrMixedCurrency)
}

func TestCartSetQuantityAndRemove(t *testing.T) {
	c := cart.New("tok")
	require.NoError(t, c.Add(line("A-1", 1, "2"), now))
	require.NoError(t, c.Add(line("B-1", 1, "3"), now))

	require.NoError(t, c.SetQuantity("A-1", 4, now))
	require.Equal(t, 4, c.Items[0].Quantity)
	require.ErrorIs(t, c.SetQuantity("A-1", 0, now), cart.ErrInvalidInput)
	require.ErrorIs(t, c.SetQuantity("Z-9", 1, now), cart.ErrNotFound)

	require.NoError(t, c.Remove("A-1", now))
	require.Len(t, c.Items, 1)
	require.Equal(t, "B-1", c.Items[0].PartID)
	require.ErrorIs(t, c.Remove("A-1", now), cart.ErrNotFound)
}

func TestCartReplaceIsAtomic(t *testing.T) {
	c := cart.New("tok")
	require.NoError(t, c.Add(line("A-1", 1, "2"), now))

	err := c.Replace([]cart.LineItem{line("B-1", 1, "1"), line("C-1", 0, "1")}, now)
	require.ErrorIs(t, err, cart.ErrInvalidInput)
	require.Len(t, c.Items, 1)
	require.Equal(t, "A-1", c.Items[0].PartID)

	require.NoError(t, c.Replace([]cart.LineItem{line("B-1", 1, "1"), line("C-1", 2, "1")}, now))
	require.Len(t, c.Items, 2)

	clone := c.Clone()
	clone.Items[0].Quantity = 99
	require.Equal(t, 1, c.Items[0].Quantity)
}

func TestStoresRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]cart.Store{
		"memory": cart.NewMemoryStore(),
		"redis":  cart.NewRedisStore(client, time.Hour),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			empty, err := store.Load(ctx, "tok-"+name)
			require.NoError(t, err)
			require.Empty(t, empty.Items)

			require.NoError(t, empty.Add(line("A-1", 2, "10.25"), now))
			require.NoError(t, store.Save(ctx, empty))

			loaded, err := store.Load(ctx, "tok-"+name)
			require.NoError(t, err)
			require.Len(t, loaded.Items, 1)
			require.Equal(t, "20.50", loaded.Total().StringFixed(2))

			require.NoError(t, store.Delete(ctx, "tok-"+name))
			loaded, err = store.Load(ctx, "tok-"+name)
			require.NoError(t, err)
			require.Empty(t, loaded.Items)
		})
	}
}
