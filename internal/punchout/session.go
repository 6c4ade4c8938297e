package punchout

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/backend-punchout/internal/orderdoc"
)

// State is a session lifecycle state.
type State string

// Session states. TRANSFERRED, EXPIRED and REJECTED are terminal.
const (
	StateRequested    State = "REQUESTED"
	StateActive       State = "ACTIVE"
	StateCartPrepared State = "CART_PREPARED"
	StateTransferred  State = "TRANSFERRED"
	StateExpired      State = "EXPIRED"
	StateRejected     State = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateTransferred, StateExpired, StateRejected:
		return true
	default:
		return false
	}
}

var (
	// ErrBadCredential is returned when the setup credential does not verify.
	ErrBadCredential = errors.New("punchout: bad credential")
	// ErrMalformedRequest is returned for setup payloads missing required data.
	ErrMalformedRequest = errors.New("punchout: malformed request")
	// ErrSessionNotFound is returned for unknown tokens.
	ErrSessionNotFound = errors.New("punchout: session not found")
	// ErrSessionExpired is returned once a session's TTL has elapsed.
	ErrSessionExpired = errors.New("punchout: session expired")
	// ErrInvalidState is matched by every *StateError.
	ErrInvalidState = errors.New("punchout: invalid state transition")
	// ErrEmptyCart is returned when preparing or transferring an empty cart.
	ErrEmptyCart = errors.New("punchout: cart is empty")
	// ErrValidation is returned for invalid line items or shipping forms.
	ErrValidation = errors.New("punchout: validation failed")
)

// StateError names the current state and the state a caller tried to reach.
type StateError struct {
	Current State
	Target  State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("punchout: cannot move session from %s to %s", e.Current, e.Target)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Session is a token-identified browsing session.
type Session struct {
	Token             string                 `json:"token"`
	BuyerDomain       string                 `json:"buyerDomain"`
	BuyerIdentity     string                 `json:"buyerIdentity"`
	SenderDomain      string                 `json:"senderDomain,omitempty"`
	SenderIdentity    string                 `json:"senderIdentity,omitempty"`
	UserEmail         string                 `json:"userEmail,omitempty"`
	UserName          string                 `json:"userName,omitempty"`
	ReturnURL         string                 `json:"returnUrl,omitempty"`
	BuyerCookie       string                 `json:"buyerCookie,omitempty"`
	Operation         string                 `json:"operation"`
	Country           string                 `json:"country"`
	Direct            bool                   `json:"direct"`
	State             State                  `json:"state"`
	CreatedAt         time.Time              `json:"createdAt"`
	ExpiresAt         time.Time              `json:"expiresAt"`
	PreparedAt        *time.Time             `json:"preparedAt,omitempty"`
	Shipping          *orderdoc.ShippingForm `json:"shipping,omitempty"`
	TransferAttempts  int                    `json:"transferAttempts"`
	LastTransferError string                 `json:"lastTransferError,omitempty"`
	LastAttemptAt     *time.Time             `json:"lastAttemptAt,omitempty"`
	TransferredAt     *time.Time             `json:"transferredAt,omitempty"`
}

// overdue reports whether a live session has passed its expiry.
func (s Session) overdue(now time.Time) bool {
	return !s.State.Terminal() && !now.Before(s.ExpiresAt)
}

// transition moves s to target if the current state allows it.
func (s *Session) transition(target State) error {
	if !allowed(s.State, target) {
		return &StateError{Current: s.State, Target: target}
	}
	s.State = target
	return nil
}

func allowed(from, to State) bool {
	switch from {
	case StateRequested:
		return to == StateActive || to == StateRejected
	case StateActive:
		return to == StateCartPrepared || to == StateExpired
	case StateCartPrepared:
		return to == StateTransferred || to == StateActive || to == StateExpired
	default:
		return false
	}
}

func (s Session) source() orderdoc.Source {
	src := orderdoc.Source{
		Token:       s.Token,
		Buyer:       orderdoc.Party{Domain: s.BuyerDomain, Identity: s.BuyerIdentity},
		BuyerCookie: s.BuyerCookie,
		Operation:   s.Operation,
	}
	if s.PreparedAt != nil {
		src.PreparedAt = *s.PreparedAt
	}
	return src
}
