package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/config"
	"github.com/noah-isme/backend-punchout/internal/contract"
	"github.com/noah-isme/backend-punchout/internal/pricing"
)

func testConfig() *config.Config {
	return &config.Config{
		StorefrontURL:       "https://shop.example",
		SessionTTL:          8 * time.Hour,
		SessionRetention:    24 * time.Hour,
		Credentials:         []config.Credential{{Domain: "NetworkID", Identity: "AN01", SecretHash: "$argon2id$v=19$m=16,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g"}},
		SenderDomain:        "NetworkID",
		SenderIdentity:      "catalog",
		OrderEncoding:       "xml",
		DeliveryLeadDays:    14,
		DeliveryTimezone:    time.UTC,
		TransferTimeout:     time.Second,
		TransferMaxAttempts: 1,
		CircuitMinRequests:  5,
		CircuitFailureRatio: 0.5,
		CircuitOpenFor:      time.Second,
		MarginBands:         "0:12,50:9,100:7,1000:5",
		GlobalDiscountPct:   "0",
		DefaultCurrency:     "USD",
		DefaultCountry:      "US",
		PriceCacheTTL:       time.Minute,
		LockTTL:             time.Second,
	}
}

func TestNewServicesInMemory(t *testing.T) {
	deps, err := Open(context.Background(), &config.Config{}, Options{}, zerolog.Nop())
	require.NoError(t, err)

	svcs, err := NewServices(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, svcs.Punchout)
	require.Equal(t, 14, svcs.Punchout.LeadDays())
}

func TestNewServicesRejectsBadMarginBands(t *testing.T) {
	deps, err := Open(context.Background(), &config.Config{}, Options{}, zerolog.Nop())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MarginBands = "10:5"
	_, err = NewServices(cfg, deps, zerolog.Nop())
	require.Error(t, err)
}

func TestContractChangeInvalidatesCachedOffers(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, err := Open(context.Background(), &config.Config{RedisURL: "redis://" + mr.Addr()}, Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer deps.Close()

	svcs, err := NewServices(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	req := pricing.Request{ListPrice: decimal.NewFromInt(100), Currency: "USD", Supplier: "acme", Category: "tools", Country: "US"}
	offer, err := svcs.Pricing.Price(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "100", offer.PurchasePrice.String())
	require.NotEmpty(t, mr.Keys())

	err = svcs.Contracts.UpsertDiscounts(ctx, "acme", []contract.Entry{{Category: "tools", Percent: decimal.NewFromInt(10)}})
	require.NoError(t, err)

	offer, err = svcs.Pricing.Price(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "90", offer.PurchasePrice.String())
}
