package orderdoc_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/cart"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
)

var preparedAt = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func sampleCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New("tok-1")
	require.NoError(t, c.Add(cart.LineItem{
		PartID:             "BOLT-M8",
		SupplierID:         "acme",
		Quantity:           10,
		UnitPrice:          decimal.RequireFromString("0.824"),
		Currency:           "USD",
		Description:        `<b>Hex bolt</b> M8 &amp; washer <script>alert(1)</script>`,
		ClassificationCode: "31161500",
		ManufacturerName:   "Bolt Co",
		ManufacturerPartID: "BC-8",
	}, preparedAt))
	require.NoError(t, c.Add(cart.LineItem{
		PartID:        "GLOVE-L",
		SupplierID:    "safety",
		Quantity:      2,
		UnitPrice:     decimal.RequireFromString("12.50"),
		Currency:      "USD",
		UnitOfMeasure: "PR",
		Description:   "Gloves",
	}, preparedAt))
	return c
}

func sampleShipping() orderdoc.ShippingForm {
	return orderdoc.ShippingForm{
		Address: orderdoc.Address{
			Name: "Plant 4", Street: "1 Main St", City: "Springfield", PostalCode: "12345", CountryCode: "us",
		},
		Contact:               orderdoc.Contact{Name: "Pat Buyer", Email: "pat@example.com"},
		RequestedDeliveryDate: "2025-03-15",
		Instructions:          "Dock <i>B</i>",
	}
}

func source() orderdoc.Source {
	return orderdoc.Source{
		Token:       "tok-1",
		Buyer:       orderdoc.Party{Domain: "NetworkID", Identity: "AN-BUYER"},
		BuyerCookie: "cookie-123",
		PreparedAt:  preparedAt,
	}
}

func TestBuildMapsLinesAndTotals(t *testing.T) {
	b := orderdoc.NewBuilder(orderdoc.Party{Domain: "DUNS", Identity: "catalog"})
	c := sampleCart(t)
	doc, err := b.Build(source(), c, sampleShipping())
	require.NoError(t, err)

	require.Equal(t, "cookie-123", doc.BuyerCookie)
	require.Equal(t, "create", doc.Operation)
	require.Equal(t, "USD", doc.Currency)
	require.Equal(t, preparedAt, doc.Timestamp)
	require.True(t, strings.HasSuffix(doc.PayloadID, "@catalog"))
	require.Len(t, doc.Lines, 2)

	first := doc.Lines[0]
	require.Equal(t, 1, first.LineNumber)
	require.Equal(t, "BOLT-M8", first.SupplierPartID)
	require.Equal(t, "0.82", first.UnitPrice.StringFixed(2))
	require.Equal(t, "Hex bolt M8 & washer", first.Description)
	require.Equal(t, "EA", first.UnitOfMeasure)
	require.Equal(t, "UNSPSC", first.ClassificationDomain)
	require.Equal(t, "31161500", first.ClassificationCode)
	require.Equal(t, "Bolt Co", first.ManufacturerName)
	require.Equal(t, "BC-8", first.ManufacturerPartID)
	require.Equal(t, "PR", doc.Lines[1].UnitOfMeasure)

	require.Equal(t, "33.20", doc.Total.StringFixed(2))
	require.Equal(t, "Dock B", doc.Shipping.Instructions)
	require.Equal(t, "US", doc.Shipping.Address.CountryCode)

	require.Equal(t, "<b>Hex bolt</b> M8 &amp; washer <script>alert(1)</script>", c.Items[0].Description, "cart is not mutated")
}

func TestBuildIsDeterministicPerSession(t *testing.T) {
	b := orderdoc.NewBuilder(orderdoc.Party{Domain: "DUNS", Identity: "catalog"})
	first, err := b.Build(source(), sampleCart(t), sampleShipping())
	require.NoError(t, err)
	second, err := b.Build(source(), sampleCart(t), sampleShipping())
	require.NoError(t, err)
	require.Equal(t, first, second)

	other := source()
	other.Token = "tok-2"
	third, err := b.Build(other, sampleCart(t), sampleShipping())
	require.NoError(t, err)
	require.NotEqual(t, first.PayloadID, third.PayloadID)
}

func TestBuildRejectsEmptyAndMixedCarts(t *testing.T) {
	b := orderdoc.NewBuilder(orderdoc.Party{Identity: "catalog"})
	_, err := b.Build(source(), cart.New("tok-1"), sampleShipping())
	require.ErrorIs(t, err, orderdoc.ErrEmptyCart)
	_, err = b.Build(source(), nil, sampleShipping())
	require.ErrorIs(t, err, orderdoc.ErrEmptyCart)

	mixed := &cart.Cart{SessionToken: "tok-1", Items: []cart.LineItem{
		{PartID: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(1), Currency: "USD"},
		{PartID: "B", Quantity: 1, UnitPrice: decimal.NewFromInt(1), Currency: "EUR"},
	}}
	_, err = b.Build(source(), mixed, sampleShipping())
	require.ErrorIs(t, err, orderdoc.ErrMixedCurrency)
}

func TestMinimumDeliveryDate(t *testing.T) {
	now := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	require.Equal(t, "2025-03-15", orderdoc.MinimumDeliveryDate(now, time.UTC, 14).Format(orderdoc.DateLayout))

	tokyo := time.FixedZone("JST", 9*60*60)
	require.Equal(t, "2025-03-16", orderdoc.MinimumDeliveryDate(now, tokyo, 14).Format(orderdoc.DateLayout))

	form := sampleShipping()
	form.RequestedDeliveryDate = "2025-03-01"
	require.ErrorIs(t, orderdoc.CheckDeliveryDate(form, now, time.UTC, 14), orderdoc.ErrDeliveryTooSoon)
	form.RequestedDeliveryDate = "2025-03-14"
	require.ErrorIs(t, orderdoc.CheckDeliveryDate(form, now, time.UTC, 14), orderdoc.ErrDeliveryTooSoon)
	form.RequestedDeliveryDate = "2025-03-15"
	require.NoError(t, orderdoc.CheckDeliveryDate(form, now, time.UTC, 14))
	form.RequestedDeliveryDate = "15/03/2025"
	require.Error(t, orderdoc.CheckDeliveryDate(form, now, time.UTC, 14))
}
