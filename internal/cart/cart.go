package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the requested cart or line could not be located.
	ErrNotFound = errors.New("cart: not found")
	// ErrInvalidInput is returned when a line item is malformed.
	ErrInvalidInput = errors.New("cart: invalid input")
	// ErrMixedCurrency is returned when a line's currency differs from the cart's.
	ErrMixedCurrency = errors.New("cart: mixed currencies")
)

// LineItem is one selected part. UnitPrice is the buyer's preferred price.
type LineItem struct {
	PartID               string          `json:"partId" validate:"required,max=128"`
	SupplierID           string          `json:"supplierId" validate:"required,max=128"`
	Quantity             int             `json:"quantity" validate:"min=1,max=1000000"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	ListPrice            decimal.Decimal `json:"listPrice"`
	Currency             string          `json:"currency" validate:"required,len=3,alpha"`
	UnitOfMeasure        string          `json:"unitOfMeasure" validate:"max=16"`
	Description          string          `json:"description" validate:"max=2000"`
	ClassificationDomain string          `json:"classificationDomain" validate:"max=64"`
	ClassificationCode   string          `json:"classificationCode" validate:"max=64"`
	ManufacturerName     string          `json:"manufacturerName" validate:"max=256"`
	ManufacturerPartID   string          `json:"manufacturerPartId" validate:"max=128"`
}

// Subtotal is quantity times unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (li LineItem) check() error {
	if strings.TrimSpace(li.PartID) == "" {
		return fmt.Errorf("part id is required: %w", ErrInvalidInput)
	}
	if li.Quantity < 1 {
		return fmt.Errorf("quantity for %s must be at least 1: %w", li.PartID, ErrInvalidInput)
	}
	if li.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price for %s must not be negative: %w", li.PartID, ErrInvalidInput)
	}
	if len(strings.TrimSpace(li.Currency)) != 3 {
		return fmt.Errorf("currency for %s must be an ISO 4217 code: %w", li.PartID, ErrInvalidInput)
	}
	return nil
}

// Cart is the ordered list of lines bound to one session token.
type Cart struct {
	SessionToken string     `json:"sessionToken"`
	Items        []LineItem `json:"items"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// New returns an empty cart for token.
func New(token string) *Cart {
	return &Cart{SessionToken: token, Items: []LineItem{}}
}

// Currency reports the cart currency, or "" while empty.
func (c *Cart) Currency() string {
	if len(c.Items) == 0 {
		return ""
	}
	return c.Items[0].Currency
}

func (c *Cart) index(partID string) int {
	for i, li := range c.Items {
		if li.PartID == partID {
			return i
		}
	}
	return -1
}

// Add appends item, or merges its quantity into an existing line for the same
// part. The newest price and descriptive fields replace the old ones.
func (c *Cart) Add(item LineItem, now time.Time) error {
	item.Currency = strings.ToUpper(strings.TrimSpace(item.Currency))
	if err := item.check(); err != nil {
		return err
	}
	if cur := c.Currency(); cur != "" && cur != item.Currency {
		return fmt.Errorf("cart is in %s, line is in %s: %w", cur, item.Currency, ErrMixedCurrency)
	}
	if i := c.index(item.PartID); i >= 0 {
		item.Quantity += c.Items[i].Quantity
		c.Items[i] = item
	} else {
		c.Items = append(c.Items, item)
	}
	c.UpdatedAt = now
	return nil
}

// SetQuantity changes a line's quantity. Quantity must stay at least 1; use
// Remove to drop a line.
func (c *Cart) SetQuantity(partID string, qty int, now time.Time) error {
	if qty < 1 {
		return fmt.Errorf("quantity must be at least 1: %w", ErrInvalidInput)
	}
	i := c.index(partID)
	if i < 0 {
		return fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}
	c.Items[i].Quantity = qty
	c.UpdatedAt = now
	return nil
}

// Remove deletes the line for partID.
func (c *Cart) Remove(partID string, now time.Time) error {
	i := c.index(partID)
	if i < 0 {
		return fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.UpdatedAt = now
	return nil
}

// Replace swaps every line at once. The cart is untouched when any line is invalid.
func (c *Cart) Replace(items []LineItem, now time.Time) error {
	next := New(c.SessionToken)
	for _, item := range items {
		if err := next.Add(item, now); err != nil {
			return err
		}
	}
	c.Items = next.Items
	c.UpdatedAt = now
	return nil
}

// Clear drops every line.
func (c *Cart) Clear(now time.Time) {
	c.Items = []LineItem{}
	c.UpdatedAt = now
}

// Total sums every line's subtotal.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range c.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Cart) Clone() *Cart {
	out := &Cart{SessionToken: c.SessionToken, UpdatedAt: c.UpdatedAt}
	out.Items = make([]LineItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}
