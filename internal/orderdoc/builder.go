package orderdoc

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/cart"
	"github.com/noah-isme/backend-punchout/internal/pricing"
)

var (
	// ErrEmptyCart is returned when there is nothing to order.
	ErrEmptyCart = errors.New("orderdoc: cart is empty")
	// ErrMixedCurrency is returned when cart lines disagree on currency.
	ErrMixedCurrency = errors.New("orderdoc: cart mixes currencies")
)

const (
	maxDescription  = 2000
	maxInstructions = 2000
)

// Party identifies one side of the exchange by credential domain and identity.
type Party struct {
	Domain   string `json:"domain"`
	Identity string `json:"identity"`
}

// Source is the session data a document is built from.
type Source struct {
	Token       string
	Buyer       Party
	BuyerCookie string
	Operation   string
	PreparedAt  time.Time
}

// Line is one ordered item.
type Line struct {
	LineNumber           int             `json:"lineNumber"`
	SupplierPartID       string          `json:"supplierPartId"`
	SupplierID           string          `json:"supplierId"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	UnitOfMeasure        string          `json:"unitOfMeasure"`
	ClassificationDomain string          `json:"classificationDomain"`
	ClassificationCode   string          `json:"classificationCode"`
	ManufacturerName     string          `json:"manufacturerName,omitempty"`
	ManufacturerPartID   string          `json:"manufacturerPartId,omitempty"`
}

// Document is the order handed back to the buyer's procurement system.
type Document struct {
	PayloadID   string          `json:"payloadId"`
	Timestamp   time.Time       `json:"timestamp"`
	Buyer       Party           `json:"buyer"`
	Sender      Party           `json:"sender"`
	BuyerCookie string          `json:"buyerCookie"`
	Operation   string          `json:"operation"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total"`
	Shipping    ShippingForm    `json:"shipping"`
	Lines       []Line          `json:"lines"`
}

// Builder turns a prepared cart into a Document. It never mutates its inputs.
type Builder struct {
	Sender                      Party
	DefaultUnitOfMeasure        string
	DefaultClassificationDomain string

	policy *bluemonday.Policy
}

// NewBuilder returns a Builder that signs documents as sender.
func NewBuilder(sender Party) *Builder {
	return &Builder{
		Sender:                      sender,
		DefaultUnitOfMeasure:        "EA",
		DefaultClassificationDomain: "UNSPSC",
		policy:                      bluemonday.StrictPolicy(),
	}
}

// Build produces the same document for the same session and cart. The
// payload id is a ULID whose time is the prepare time and whose entropy is
// derived from the session token.
func (b *Builder) Build(src Source, c *cart.Cart, shipping ShippingForm) (Document, error) {
	if c == nil || len(c.Items) == 0 {
		return Document{}, ErrEmptyCart
	}
	currency := strings.ToUpper(c.Items[0].Currency)
	scale, err := pricing.CurrencyScale(currency)
	if err != nil {
		return Document{}, err
	}
	payloadID, err := b.payloadID(src)
	if err != nil {
		return Document{}, err
	}

	lines := make([]Line, 0, len(c.Items))
	total := decimal.Zero
	for i, item := range c.Items {
		if !strings.EqualFold(item.Currency, currency) {
			return Document{}, fmt.Errorf("line %d is %s, cart is %s: %w", i+1, item.Currency, currency, ErrMixedCurrency)
		}
		unitPrice := item.UnitPrice.Round(scale)
		total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, Line{
			LineNumber:           i + 1,
			SupplierPartID:       item.PartID,
			SupplierID:           item.SupplierID,
			Quantity:             item.Quantity,
			UnitPrice:            unitPrice,
			Currency:             currency,
			Description:          b.clean(item.Description, maxDescription),
			UnitOfMeasure:        orDefault(item.UnitOfMeasure, b.DefaultUnitOfMeasure),
			ClassificationDomain: orDefault(item.ClassificationDomain, b.DefaultClassificationDomain),
			ClassificationCode:   item.ClassificationCode,
			ManufacturerName:     b.clean(item.ManufacturerName, 256),
			ManufacturerPartID:   item.ManufacturerPartID,
		})
	}

	shipping.Instructions = b.clean(shipping.Instructions, maxInstructions)
	shipping.Address.CountryCode = strings.ToUpper(shipping.Address.CountryCode)
	operation := src.Operation
	if operation == "" {
		operation = "create"
	}
	return Document{
		PayloadID:   payloadID,
		Timestamp:   src.PreparedAt.UTC(),
		Buyer:       src.Buyer,
		Sender:      b.Sender,
		BuyerCookie: src.BuyerCookie,
		Operation:   operation,
		Currency:    currency,
		Total:       total.Round(scale),
		Shipping:    shipping,
		Lines:       lines,
	}, nil
}

func (b *Builder) payloadID(src Source) (string, error) {
	sum := sha256.Sum256([]byte(src.Token))
	id, err := ulid.New(ulid.Timestamp(src.PreparedAt), bytes.NewReader(sum[:]))
	if err != nil {
		return "", fmt.Errorf("payload id: %w", err)
	}
	domain := b.Sender.Identity
	if domain == "" {
		domain = "punchout"
	}
	return id.String() + "@" + domain, nil
}

// clean strips markup from free text, collapses whitespace and truncates.
func (b *Builder) clean(s string, limit int) string {
	policy := b.policy
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	s = html.UnescapeString(policy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit])
	}
	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
