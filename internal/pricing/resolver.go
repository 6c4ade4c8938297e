package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Key identifies the contract scope a discount is resolved for.
type Key struct {
	Supplier string
	Category string
	Country  string
}

// Resolver returns a discount percentage for key, or found=false to defer to
// the next resolver in a chain.
type Resolver func(ctx context.Context, key Key) (pct decimal.Decimal, found bool, err error)

// DiscountLookup is the read side of the contract store.
type DiscountLookup interface {
	Lookup(ctx context.Context, supplier, category, country string) (decimal.Decimal, bool, error)
}

// Chain composes resolvers left to right; the first hit wins.
func Chain(resolvers ...Resolver) Resolver {
	return func(ctx context.Context, key Key) (decimal.Decimal, bool, error) {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			pct, ok, err := r(ctx, key)
			if err != nil {
				return decimal.Decimal{}, false, err
			}
			if ok {
				return pct, true, nil
			}
		}
		return decimal.Decimal{}, false, nil
	}
}

// ContractResolver matches supplier, category and country exactly.
func ContractResolver(store DiscountLookup) Resolver {
	return func(ctx context.Context, key Key) (decimal.Decimal, bool, error) {
		if key.Category == "" {
			return decimal.Decimal{}, false, nil
		}
		return store.Lookup(ctx, key.Supplier, key.Category, key.Country)
	}
}

// SupplierDefaultResolver falls back to the supplier-wide entry, stored with
// an empty category.
func SupplierDefaultResolver(store DiscountLookup) Resolver {
	return func(ctx context.Context, key Key) (decimal.Decimal, bool, error) {
		return store.Lookup(ctx, key.Supplier, "", key.Country)
	}
}

// ConstantResolver always answers pct.
func ConstantResolver(pct decimal.Decimal) Resolver {
	return func(context.Context, Key) (decimal.Decimal, bool, error) {
		return pct, true, nil
	}
}

// DefaultChain is exact contract match, then supplier default, then global.
func DefaultChain(store DiscountLookup, global decimal.Decimal) Resolver {
	return Chain(ContractResolver(store), SupplierDefaultResolver(store), ConstantResolver(global))
}
