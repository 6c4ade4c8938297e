package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned when the request cannot be priced, e.g. a non-positive list price.
	ErrInvalidInput = errors.New("pricing: invalid input")
	// ErrConfiguration marks margin schedule problems. Use errors.As with *ConfigurationError for details.
	ErrConfiguration = errors.New("pricing: configuration error")
)

var (
	maxDiscount = decimal.NewFromInt(99)
	zero        = decimal.Zero
)

// ConfigurationError reports a margin schedule that cannot price a purchase price.
type ConfigurationError struct {
	Reason string
	Price  decimal.Decimal
}

func (e *ConfigurationError) Error() string {
	if e.Price.IsZero() {
		return "pricing: configuration error: " + e.Reason
	}
	return fmt.Sprintf("pricing: configuration error: %s for price %s", e.Reason, e.Price.String())
}

// Is lets callers match any ConfigurationError against ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Request describes a single list price to be priced for a buyer.
type Request struct {
	ListPrice decimal.Decimal `json:"listPrice"`
	Currency  string          `json:"currency"`
	Supplier  string          `json:"supplier"`
	Category  string          `json:"category"`
	Country   string          `json:"country"`
}

// Offer is the computed price for a Request.
type Offer struct {
	Supplier            string          `json:"supplier"`
	Category            string          `json:"category"`
	Country             string          `json:"country"`
	Currency            string          `json:"currency"`
	ListPrice           decimal.Decimal `json:"listPrice"`
	DiscountPercent     decimal.Decimal `json:"discountPercent"`
	MarginPercent       decimal.Decimal `json:"marginPercent"`
	PurchasePrice       decimal.Decimal `json:"purchasePrice"`
	PreferredPrice      decimal.Decimal `json:"preferredPrice"`
	DisplayPrice        decimal.Decimal `json:"displayPrice"`
	SavingsAmount       decimal.Decimal `json:"savingsAmount"`
	SavingsPercent      decimal.Decimal `json:"savingsPercent"`
	NoDiscountDisplayed bool            `json:"noDiscountDisplayed"`
	Anomaly             bool            `json:"anomaly"`
}

// Quoter prices requests. Engine and CachedEngine both satisfy it.
type Quoter interface {
	Price(ctx context.Context, req Request) (Offer, error)
}

// EngineConfig wires the discount chain and margin schedule.
type EngineConfig struct {
	Discounts       Resolver
	Margins         MarginSchedule
	DefaultCurrency string
	DefaultCountry  string
}

// Engine computes preferred prices. It holds no mutable state.
type Engine struct {
	discounts       Resolver
	margins         MarginSchedule
	defaultCurrency string
	defaultCountry  string
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Margins.Validate(); err != nil {
		return nil, err
	}
	discounts := cfg.Discounts
	if discounts == nil {
		discounts = ConstantResolver(zero)
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	if _, err := CurrencyScale(currency); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("default currency %q is not ISO 4217", cfg.DefaultCurrency)}
	}
	return &Engine{
		discounts:       discounts,
		margins:         cfg.Margins,
		defaultCurrency: currency,
		defaultCountry:  strings.ToUpper(strings.TrimSpace(cfg.DefaultCountry)),
	}, nil
}

// Normalize applies engine defaults to req so equal requests share a cache key.
func (e *Engine) Normalize(req Request) Request {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = e.defaultCurrency
	}
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if req.Country == "" {
		req.Country = e.defaultCountry
	}
	req.Supplier = strings.TrimSpace(req.Supplier)
	return req
}

// Price converts a list price into the buyer's preferred price:
//
//	purchase  = list * (1 - discount/100)
//	preferred = purchase * (1 + margin/100)
//
// The margin band is chosen by purchase price, kept at least four digits past
// the minor unit. The preferred price is rounded half-up to the currency's
// minor unit exactly once and is always positive.
func (e *Engine) Price(ctx context.Context, req Request) (Offer, error) {
	req = e.Normalize(req)
	if !req.ListPrice.IsPositive() {
		return Offer{}, fmt.Errorf("list price must be positive, got %s: %w", req.ListPrice.String(), ErrInvalidInput)
	}
	if req.Supplier == "" {
		return Offer{}, fmt.Errorf("supplier is required: %w", ErrInvalidInput)
	}
	scale, err := CurrencyScale(req.Currency)
	if err != nil {
		return Offer{}, err
	}
	work := workingScale(scale)

	discount, found, err := e.discounts(ctx, Key{Supplier: req.Supplier, Category: req.Category, Country: req.Country})
	if err != nil {
		return Offer{}, fmt.Errorf("resolve discount: %w", err)
	}
	if !found {
		discount = zero
	}
	discount = clampPercent(discount, zero, maxDiscount)

	list := req.ListPrice
	purchase := list.Mul(hundred.Sub(discount)).Div(hundred).Round(work)
	band, err := e.margins.Match(purchase)
	if err != nil {
		return Offer{}, err
	}
	// Rounded once from the exact product; purchase is only used to pick the band.
	preferred := list.Mul(hundred.Sub(discount)).Mul(hundred.Add(band.Margin)).Div(hundred).Div(hundred).Round(scale)
	if !preferred.IsPositive() {
		return Offer{}, fmt.Errorf("list price %s %s rounds to a non-positive preferred price after a %s%% discount: %w",
			list.String(), req.Currency, discount.String(), ErrInvalidInput)
	}

	offer := Offer{
		Supplier:        req.Supplier,
		Category:        req.Category,
		Country:         req.Country,
		Currency:        req.Currency,
		ListPrice:       list,
		DiscountPercent: discount,
		MarginPercent:   band.Margin,
		PurchasePrice:   purchase.Round(scale),
		PreferredPrice:  preferred,
	}
	if preferred.GreaterThanOrEqual(list) {
		offer.DisplayPrice = list
		offer.SavingsAmount = zero
		offer.SavingsPercent = zero
		offer.NoDiscountDisplayed = true
		offer.Anomaly = discount.IsPositive()
		return offer, nil
	}
	savings := list.Sub(preferred)
	offer.DisplayPrice = preferred
	offer.SavingsAmount = savings.Round(scale)
	offer.SavingsPercent = savings.Mul(hundred).Div(list).Round(2)
	return offer, nil
}
