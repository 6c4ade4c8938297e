package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/cart"
	"github.com/noah-isme/backend-punchout/internal/config"
	"github.com/noah-isme/backend-punchout/internal/contract"
	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/lock"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/orders"
	"github.com/noah-isme/backend-punchout/internal/pricing"
	"github.com/noah-isme/backend-punchout/internal/punchout"
	"github.com/noah-isme/backend-punchout/internal/resilience"
	"github.com/noah-isme/backend-punchout/internal/transport"
)

// UserAgent identifies the gateway on outbound order posts.
const UserAgent = "procurement-punchout-gateway/1.0"

// Services are the domain components shared by the API and the worker.
type Services struct {
	Contracts *contract.Service
	Pricing   *pricing.CachedEngine
	Punchout  *punchout.Manager
}

// NewServices builds the domain graph, picking Postgres or Redis backed stores
// when deps provides them.
func NewServices(cfg *config.Config, deps *Dependencies, logger zerolog.Logger) (*Services, error) {
	var contractStore contract.Store = contract.NewMemoryStore()
	var orderRepo orders.Repository = orders.NewMemoryRepository()
	if deps.DB != nil {
		contractStore = contract.NewPGStore(deps.DB)
		orderRepo = orders.NewPGRepository(deps.DB)
	}

	var (
		sessions punchout.Store  = punchout.NewMemoryStore()
		carts    cart.Store      = cart.NewMemoryStore()
		locks    punchout.Locker = lock.NewLocal()
	)
	if deps.Redis != nil {
		sessions = punchout.NewRedisStore(deps.Redis, cfg.SessionRetention)
		carts = cart.NewRedisStore(deps.Redis, cfg.SessionTTL+cfg.SessionRetention)
		locks = lock.Locker{R: deps.Redis, Prefix: "lock:", RetryBackoff: cfg.LockRetryBackoff}
	}

	margins, err := pricing.ParseMarginBands(cfg.MarginBands)
	if err != nil {
		return nil, fmt.Errorf("PRICING_MARGIN_BANDS: %w", err)
	}
	global, err := decimal.NewFromString(cfg.GlobalDiscountPct)
	if err != nil {
		return nil, fmt.Errorf("PRICING_GLOBAL_DISCOUNT_PCT: %w", err)
	}
	engine, err := pricing.NewEngine(pricing.EngineConfig{
		Discounts:       pricing.DefaultChain(contractStore, global),
		Margins:         margins,
		DefaultCurrency: cfg.DefaultCurrency,
		DefaultCountry:  cfg.DefaultCountry,
	})
	if err != nil {
		return nil, err
	}
	cached := pricing.NewCachedEngine(engine, deps.Redis, cfg.PriceCacheTTL, logger)

	contracts := &contract.Service{
		Store: contractStore,
		OnChange: func(ctx context.Context, supplier string) {
			if err := cached.InvalidateSupplier(ctx, supplier); err != nil {
				logger.Warn().Err(err).Str("supplier", supplier).Msg("invalidate cached offers")
			}
		},
	}

	breakers := resilience.NewBreakerSet(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithLogger(logger)
	sender := &transport.Sender{
		HTTP: resilience.HTTPClient{
			Client:      transport.NewHTTPClient(cfg.TransferTimeout, false),
			BaseBackoff: cfg.TransferBackoffBase,
			MaxAttempts: cfg.TransferMaxAttempts,
			Jitter:      cfg.TransferBackoffJitter,
			Timeout:     cfg.TransferTimeout,
			Target:      "return-url",
			Logger:      &logger,
		},
		Breakers:      breakers,
		AllowInsecure: cfg.TransferAllowInsecure,
		UserAgent:     UserAgent,
	}

	creds := make([]punchout.Credential, len(cfg.Credentials))
	for i, c := range cfg.Credentials {
		creds[i] = punchout.Credential{Domain: c.Domain, Identity: c.Identity, SecretHash: c.SecretHash}
		for _, p := range c.OnBehalfOf {
			creds[i].OnBehalfOf = append(creds[i].OnBehalfOf, cxml.Identity{Domain: p.Domain, Identity: p.Identity})
		}
	}

	manager, err := punchout.NewManager(punchout.ManagerConfig{
		Store:          sessions,
		Carts:          carts,
		Locks:          locks,
		Credentials:    punchout.NewCredentials(creds),
		Builder:        orderdoc.NewBuilder(orderdoc.Party{Domain: cfg.SenderDomain, Identity: cfg.SenderIdentity}),
		Sender:         sender,
		Orders:         orderRepo,
		Quoter:         cached,
		Validate:       deps.Validator,
		Logger:         logger.With().Str("component", "punchout").Logger(),
		TTL:            cfg.SessionTTL,
		Retention:      cfg.SessionRetention,
		LockTTL:        cfg.LockTTL,
		LeadDays:       cfg.DeliveryLeadDays,
		Location:       cfg.DeliveryTimezone,
		StorefrontURL:  cfg.StorefrontURL,
		Encoding:       cxml.Encoding(cfg.OrderEncoding),
		UserAgent:      UserAgent,
		AllowInsecure:  cfg.TransferAllowInsecure,
		DefaultCountry: cfg.DefaultCountry,
	})
	if err != nil {
		return nil, err
	}

	return &Services{Contracts: contracts, Pricing: cached, Punchout: manager}, nil
}
