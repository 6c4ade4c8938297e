package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/orderdoc"
)

var (
	// ErrNotFound indicates no order was recorded for the session.
	ErrNotFound = errors.New("orders: not found")
	// ErrAlreadyRecorded is returned when a session already has a transferred order.
	ErrAlreadyRecorded = errors.New("orders: already recorded for session")
	// ErrStoreUnavailable indicates the backing database is not configured.
	ErrStoreUnavailable = errors.New("orders: store unavailable")
)

// TransferredOrder is the immutable record of a completed hand-off.
type TransferredOrder struct {
	ID            uuid.UUID             `json:"id"`
	SessionDigest string                `json:"sessionDigest"`
	BuyerDomain   string                `json:"buyerDomain"`
	BuyerIdentity string                `json:"buyerIdentity"`
	PayloadID     string                `json:"payloadId"`
	Lines         []orderdoc.Line       `json:"lines"`
	Shipping      orderdoc.ShippingForm `json:"shipping"`
	Total         decimal.Decimal       `json:"total"`
	Currency      string                `json:"currency"`
	GeneratedAt   time.Time             `json:"generatedAt"`
	DeliveredAt   time.Time             `json:"deliveredAt"`
	Attempts      int                   `json:"attempts"`
	Direct        bool                  `json:"direct"`
}

// FromDocument builds the record for a delivered document.
func FromDocument(digest string, doc orderdoc.Document, deliveredAt time.Time, attempts int, direct bool) TransferredOrder {
	lines := make([]orderdoc.Line, len(doc.Lines))
	copy(lines, doc.Lines)
	return TransferredOrder{
		ID:            uuid.New(),
		SessionDigest: digest,
		BuyerDomain:   doc.Buyer.Domain,
		BuyerIdentity: doc.Buyer.Identity,
		PayloadID:     doc.PayloadID,
		Lines:         lines,
		Shipping:      doc.Shipping,
		Total:         doc.Total,
		Currency:      doc.Currency,
		GeneratedAt:   doc.Timestamp,
		DeliveredAt:   deliveredAt,
		Attempts:      attempts,
		Direct:        direct,
	}
}

// Repository stores transferred orders keyed by the session token digest.
// Insert is create-once per session.
type Repository interface {
	Insert(ctx context.Context, order TransferredOrder) error
	BySession(ctx context.Context, digest string) (TransferredOrder, error)
}

// MemoryRepository keeps orders in process.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]TransferredOrder
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]TransferredOrder)}
}

// Insert implements Repository.
func (m *MemoryRepository) Insert(_ context.Context, order TransferredOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.SessionDigest]; exists {
		return ErrAlreadyRecorded
	}
	m.orders[order.SessionDigest] = order
	return nil
}

// BySession implements Repository.
func (m *MemoryRepository) BySession(_ context.Context, digest string) (TransferredOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[digest]
	if !ok {
		return TransferredOrder{}, ErrNotFound
	}
	return order, nil
}
