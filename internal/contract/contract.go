package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDiscount is returned when a discount is negative or at least 100%.
	ErrInvalidDiscount = errors.New("contract: discount must be in [0, 100)")
	// ErrInvalidEntry is returned for malformed entries such as a missing supplier or duplicate keys.
	ErrInvalidEntry = errors.New("contract: invalid entry")
	// ErrStoreUnavailable indicates the backing database is not configured.
	ErrStoreUnavailable = errors.New("contract: store unavailable")
)

var hundred = decimal.NewFromInt(100)

// Entry is one contractual discount for a supplier. An empty Category is the
// supplier-level default and an empty Country applies to every country.
type Entry struct {
	Category string          `json:"category"`
	Country  string          `json:"country"`
	Percent  decimal.Decimal `json:"percent"`
}

func (e Entry) key() entryKey {
	return entryKey{category: e.Category, country: e.Country}
}

type entryKey struct {
	category string
	country  string
}

// Store persists contract discounts.
type Store interface {
	UpsertDiscounts(ctx context.Context, supplier string, entries []Entry) error
	Lookup(ctx context.Context, supplier, category, country string) (decimal.Decimal, bool, error)
	List(ctx context.Context, supplier string) ([]Entry, error)
}

// InvalidDiscountError names the offending entry.
type InvalidDiscountError struct {
	Supplier string
	Entry    Entry
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("contract: discount %s for supplier %q category %q country %q must be in [0, 100)",
		e.Entry.Percent.String(), e.Supplier, e.Entry.Category, e.Entry.Country)
}

// Is matches ErrInvalidDiscount.
func (e *InvalidDiscountError) Is(target error) bool {
	return target == ErrInvalidDiscount
}

// Normalize trims identifiers and upper-cases the country code. Category is
// matched as an exact string and is only trimmed.
func Normalize(supplier string, entries []Entry) (string, []Entry) {
	supplier = strings.TrimSpace(supplier)
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{
			Category: strings.TrimSpace(e.Category),
			Country:  normalizeCountry(e.Country),
			Percent:  e.Percent,
		}
	}
	return supplier, out
}

// Validate checks a whole batch so an upsert is never partially applied.
func Validate(supplier string, entries []Entry) error {
	if supplier == "" {
		return fmt.Errorf("supplier is required: %w", ErrInvalidEntry)
	}
	if len(entries) == 0 {
		return fmt.Errorf("at least one entry is required: %w", ErrInvalidEntry)
	}
	seen := make(map[entryKey]struct{}, len(entries))
	for _, e := range entries {
		if e.Percent.IsNegative() || e.Percent.GreaterThanOrEqual(hundred) {
			return &InvalidDiscountError{Supplier: supplier, Entry: e}
		}
		if e.Country != "" && len(e.Country) != 2 {
			return fmt.Errorf("country %q must be an ISO 3166 alpha-2 code: %w", e.Country, ErrInvalidEntry)
		}
		if _, dup := seen[e.key()]; dup {
			return fmt.Errorf("duplicate entry for category %q country %q: %w", e.Category, e.Country, ErrInvalidEntry)
		}
		seen[e.key()] = struct{}{}
	}
	return nil
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

// Notifier is told which supplier changed after a successful upsert.
type Notifier func(ctx context.Context, supplier string)

// Service validates writes and fans out change notifications, e.g. to drop
// cached prices.
type Service struct {
	Store    Store
	OnChange Notifier
}

// UpsertDiscounts validates and stores entries for supplier.
func (s *Service) UpsertDiscounts(ctx context.Context, supplier string, entries []Entry) error {
	supplier, entries = Normalize(supplier, entries)
	if err := Validate(supplier, entries); err != nil {
		return err
	}
	if err := s.Store.UpsertDiscounts(ctx, supplier, entries); err != nil {
		return err
	}
	if s.OnChange != nil {
		s.OnChange(ctx, supplier)
	}
	return nil
}

// Lookup resolves a discount for an exact category. A country-specific entry
// wins over one that applies to every country.
func (s *Service) Lookup(ctx context.Context, supplier, category, country string) (decimal.Decimal, bool, error) {
	return s.Store.Lookup(ctx, strings.TrimSpace(supplier), category, normalizeCountry(country))
}

// List returns every entry for supplier.
func (s *Service) List(ctx context.Context, supplier string) ([]Entry, error) {
	return s.Store.List(ctx, strings.TrimSpace(supplier))
}
