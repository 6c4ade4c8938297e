package pricing

import (
	"errors"
	"sort"
)

// ErrNoOffers is returned by Lowest when there is nothing to compare.
var ErrNoOffers = errors.New("pricing: no offers to compare")

// Ranked is an offer annotated for the lowest-price badge.
type Ranked struct {
	Offer
	Lowest bool `json:"lowest"`
}

// Lowest compares offers for the same part across suppliers by display
// price. Every offer tied at the minimum is badged. Offers in a currency
// other than the first one's cannot be compared and are never badged.
func Lowest(offers []Offer) (Offer, []Ranked, error) {
	if len(offers) == 0 {
		return Offer{}, nil, ErrNoOffers
	}
	currency := offers[0].Currency
	best := -1
	for i, o := range offers {
		if o.Currency != currency {
			continue
		}
		if best < 0 || o.DisplayPrice.LessThan(offers[best].DisplayPrice) ||
			(o.DisplayPrice.Equal(offers[best].DisplayPrice) && o.Supplier < offers[best].Supplier) {
			best = i
		}
	}
	ranked := make([]Ranked, len(offers))
	for i, o := range offers {
		ranked[i] = Ranked{
			Offer:  o,
			Lowest: o.Currency == currency && o.DisplayPrice.Equal(offers[best].DisplayPrice),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Currency != ranked[j].Currency {
			return ranked[i].Currency == currency
		}
		return ranked[i].DisplayPrice.LessThan(ranked[j].DisplayPrice)
	})
	return offers[best], ranked, nil
}
