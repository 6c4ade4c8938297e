package punchout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-punchout/internal/cart"
	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/obs"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/orders"
	"github.com/noah-isme/backend-punchout/internal/pricing"
	"github.com/noah-isme/backend-punchout/internal/transport"
)

// DirectDomain is the buyer domain of synthetic sessions opened for direct
// purchases.
const DirectDomain = "direct"

// Locker serializes work per key. lock.Local and lock.Locker satisfy it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Sender delivers an encoded order document to a return URL.
type Sender interface {
	Send(ctx context.Context, returnURL string, body []byte, contentType string) (transport.Delivery, error)
}

// ManagerConfig groups Manager dependencies and settings.
type ManagerConfig struct {
	Store       Store
	Carts       cart.Store
	Locks       Locker
	Credentials *Credentials
	Builder     *orderdoc.Builder
	Sender      Sender
	Orders      orders.Repository
	Quoter      pricing.Quoter
	Validate    *validator.Validate
	Logger      zerolog.Logger
	Now         func() time.Time

	TTL            time.Duration
	Retention      time.Duration
	LockTTL        time.Duration
	LeadDays       int
	Location       *time.Location
	StorefrontURL  string
	Encoding       cxml.Encoding
	UserAgent      string
	AllowInsecure  bool
	DefaultCountry string
}

// Manager owns the session state machine. Every mutation of a session or its
// cart runs under the per-token lock.
type Manager struct {
	store       Store
	carts       cart.Store
	locks       Locker
	credentials *Credentials
	builder     *orderdoc.Builder
	sender      Sender
	orders      orders.Repository
	quoter      pricing.Quoter
	validate    *validator.Validate
	log         zerolog.Logger
	now         func() time.Time

	ttl            time.Duration
	retention      time.Duration
	lockTTL        time.Duration
	leadDays       int
	location       *time.Location
	storefront     *url.URL
	encoding       cxml.Encoding
	userAgent      string
	allowInsecure  bool
	defaultCountry string
}

// NewManager validates cfg and applies defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("punchout: session store is required")
	case cfg.Carts == nil:
		return nil, errors.New("punchout: cart store is required")
	case cfg.Locks == nil:
		return nil, errors.New("punchout: locker is required")
	case cfg.Credentials == nil:
		return nil, errors.New("punchout: credentials are required")
	case cfg.Builder == nil:
		return nil, errors.New("punchout: document builder is required")
	case cfg.Sender == nil:
		return nil, errors.New("punchout: sender is required")
	case cfg.Orders == nil:
		return nil, errors.New("punchout: order repository is required")
	case cfg.Quoter == nil:
		return nil, errors.New("punchout: quoter is required")
	}
	storefront, err := url.Parse(cfg.StorefrontURL)
	if err != nil || !storefront.IsAbs() {
		return nil, fmt.Errorf("punchout: storefront url %q must be absolute", cfg.StorefrontURL)
	}
	m := &Manager{
		store:          cfg.Store,
		carts:          cfg.Carts,
		locks:          cfg.Locks,
		credentials:    cfg.Credentials,
		builder:        cfg.Builder,
		sender:         cfg.Sender,
		orders:         cfg.Orders,
		quoter:         cfg.Quoter,
		validate:       cfg.Validate,
		log:            cfg.Logger,
		now:            cfg.Now,
		ttl:            cfg.TTL,
		retention:      cfg.Retention,
		lockTTL:        cfg.LockTTL,
		leadDays:       cfg.LeadDays,
		location:       cfg.Location,
		storefront:     storefront,
		encoding:       cfg.Encoding,
		userAgent:      cfg.UserAgent,
		allowInsecure:  cfg.AllowInsecure,
		defaultCountry: strings.ToUpper(cfg.DefaultCountry),
	}
	if m.validate == nil {
		m.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.ttl <= 0 {
		m.ttl = 8 * time.Hour
	}
	if m.retention <= 0 {
		m.retention = 24 * time.Hour
	}
	if m.lockTTL <= 0 {
		m.lockTTL = 2 * time.Minute
	}
	if m.leadDays < 0 {
		m.leadDays = 0
	}
	if m.location == nil {
		m.location = time.UTC
	}
	if m.encoding == "" {
		m.encoding = cxml.EncodingXML
	}
	if m.defaultCountry == "" {
		m.defaultCountry = "US"
	}
	return m, nil
}

func (m *Manager) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &m.log
}

// Setup verifies a decoded setup request and opens an ACTIVE session. A
// failed credential check yields ErrBadCredential and stores nothing.
func (m *Manager) Setup(ctx context.Context, req cxml.SetupRequest) (Session, string, error) {
	log := m.logger(ctx)
	if err := req.Validate(); err != nil {
		obs.IncCounter(obs.PunchoutSetupTotal, "malformed")
		return Session{}, "", fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	now := m.now().UTC()
	sess := Session{
		BuyerDomain:    req.Sender.Domain,
		BuyerIdentity:  req.Sender.Identity,
		SenderDomain:   req.Sender.Domain,
		SenderIdentity: req.Sender.Identity,
		UserEmail:      req.UserEmail,
		UserName:       req.UserName,
		ReturnURL:      req.ReturnURL,
		BuyerCookie:    req.BuyerCookie,
		Operation:      req.Operation,
		Country:        m.country(req.Country),
		State:          StateRequested,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}
	buyer, ok := m.credentials.Authenticate(req.Sender, req.From, req.SharedSecret)
	if !ok {
		_ = sess.transition(StateRejected)
		obs.IncCounter(obs.PunchoutSetupTotal, "bad_credential")
		log.Warn().
			Str("domain", req.Sender.Domain).
			Str("identity", req.Sender.Identity).
			Str("from_domain", req.From.Domain).
			Str("from_identity", req.From.Identity).
			Msg("punchout setup rejected")
		return sess, "", ErrBadCredential
	}
	sess.BuyerDomain = buyer.Domain
	sess.BuyerIdentity = buyer.Identity

	// Return URL is checked only once the caller is authenticated.
	if err := transport.ValidateReturnURL(req.ReturnURL, m.allowInsecure); err != nil {
		obs.IncCounter(obs.PunchoutSetupTotal, "malformed")
		return Session{}, "", fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	token, err := NewToken()
	if err != nil {
		return Session{}, "", fmt.Errorf("punchout: generate token: %w", err)
	}
	sess.Token = token
	if err := sess.transition(StateActive); err != nil {
		return Session{}, "", err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, "", fmt.Errorf("punchout: store session: %w", err)
	}
	obs.IncCounter(obs.PunchoutSetupTotal, "ok")
	log.Info().
		Str("buyer_domain", sess.BuyerDomain).
		Str("buyer_identity", sess.BuyerIdentity).
		Str("operation", sess.Operation).
		Str("session", TokenDigest(token)[:12]).
		Msg("punchout session opened")
	return sess, m.StartURL(token), nil
}

// DirectRequest opens a synthetic session for a buyer purchasing without an
// external procurement system.
type DirectRequest struct {
	Subject   string `json:"-"`
	UserEmail string `json:"userEmail" validate:"omitempty,email"`
	UserName  string `json:"userName" validate:"max=256"`
	Country   string `json:"country" validate:"omitempty,len=2,alpha"`
}

// OpenDirect creates an ACTIVE direct session. Direct sessions never POST
// to a return URL.
func (m *Manager) OpenDirect(ctx context.Context, req DirectRequest) (Session, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return Session{}, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if err := m.validate.Struct(req); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	token, err := NewToken()
	if err != nil {
		return Session{}, fmt.Errorf("punchout: generate token: %w", err)
	}
	now := m.now().UTC()
	sess := Session{
		Token:         token,
		BuyerDomain:   DirectDomain,
		BuyerIdentity: req.Subject,
		UserEmail:     req.UserEmail,
		UserName:      req.UserName,
		Operation:     cxml.OperationCreate,
		Country:       m.country(req.Country),
		Direct:        true,
		State:         StateRequested,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := sess.transition(StateActive); err != nil {
		return Session{}, err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("punchout: store session: %w", err)
	}
	return sess, nil
}

// StartURL is the storefront page a new session is redirected to.
func (m *Manager) StartURL(token string) string {
	u := *m.storefront
	q := u.Query()
	q.Set("session", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) country(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return m.defaultCountry
	}
	return code
}

// Get returns the session for token. An overdue session is moved to EXPIRED
// under the lock and returned together with ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, token string) (Session, error) {
	if !validTokenShape(token) {
		return Session{}, ErrSessionNotFound
	}
	sess, err := m.store.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if sess.State == StateExpired {
		return sess, ErrSessionExpired
	}
	if !sess.overdue(m.now()) {
		return sess, nil
	}
	var expired Session
	err = m.locks.WithLock(ctx, lockKey(token), m.lockTTL, func(ctx context.Context) error {
		var loadErr error
		expired, loadErr = m.load(ctx, token)
		return loadErr
	})
	if err == nil {
		// Another holder moved it on before expiry was observed.
		return expired, nil
	}
	return expired, err
}

// load reads a session while holding its lock and applies lazy expiry.
func (m *Manager) load(ctx context.Context, token string) (Session, error) {
	sess, err := m.store.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if sess.State == StateExpired {
		return sess, ErrSessionExpired
	}
	if sess.overdue(m.now()) {
		if err := sess.transition(StateExpired); err != nil {
			return sess, err
		}
		if err := m.store.Put(ctx, sess); err != nil {
			return sess, fmt.Errorf("punchout: store session: %w", err)
		}
		m.logger(ctx).Info().Str("session", TokenDigest(token)[:12]).Msg("punchout session expired")
		return sess, ErrSessionExpired
	}
	return sess, nil
}

// mutate loads the session under its lock, applies fn and stores the result.
// The session is not written when fn fails.
func (m *Manager) mutate(ctx context.Context, token string, fn func(ctx context.Context, sess *Session) error) (Session, error) {
	if !validTokenShape(token) {
		return Session{}, ErrSessionNotFound
	}
	var out Session
	err := m.locks.WithLock(ctx, lockKey(token), m.lockTTL, func(ctx context.Context) error {
		sess, err := m.load(ctx, token)
		out = sess
		if err != nil {
			return err
		}
		if err := fn(ctx, &sess); err != nil {
			return err
		}
		if err := m.store.Put(ctx, sess); err != nil {
			return fmt.Errorf("punchout: store session: %w", err)
		}
		out = sess
		return nil
	})
	return out, err
}

func lockKey(token string) string {
	return "punchout:session:" + TokenDigest(token)
}

func requireState(sess *Session, want, target State) error {
	if sess.State != want {
		return &StateError{Current: sess.State, Target: target}
	}
	return nil
}

// ItemInput is a catalog selection. The unit price is always computed by
// the pricing engine from the list price.
type ItemInput struct {
	PartID               string          `json:"partId" validate:"required,max=128"`
	SupplierID           string          `json:"supplierId" validate:"required,max=128"`
	Quantity             int             `json:"quantity" validate:"min=1,max=1000000"`
	ListPrice            decimal.Decimal `json:"listPrice"`
	Currency             string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Category             string          `json:"category" validate:"max=128"`
	UnitOfMeasure        string          `json:"unitOfMeasure" validate:"max=16"`
	Description          string          `json:"description" validate:"max=2000"`
	ClassificationDomain string          `json:"classificationDomain" validate:"max=64"`
	ClassificationCode   string          `json:"classificationCode" validate:"max=64"`
	ManufacturerName     string          `json:"manufacturerName" validate:"max=256"`
	ManufacturerPartID   string          `json:"manufacturerPartId" validate:"max=128"`
}

func (m *Manager) priceItem(ctx context.Context, sess Session, in ItemInput) (cart.LineItem, error) {
	if err := m.validate.Struct(in); err != nil {
		return cart.LineItem{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	offer, err := m.quoter.Price(ctx, pricing.Request{
		ListPrice: in.ListPrice,
		Currency:  in.Currency,
		Supplier:  in.SupplierID,
		Category:  in.Category,
		Country:   sess.Country,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidInput) {
			return cart.LineItem{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return cart.LineItem{}, err
	}
	return cart.LineItem{
		PartID:               in.PartID,
		SupplierID:           in.SupplierID,
		Quantity:             in.Quantity,
		UnitPrice:            offer.DisplayPrice,
		ListPrice:            offer.ListPrice,
		Currency:             offer.Currency,
		UnitOfMeasure:        in.UnitOfMeasure,
		Description:          in.Description,
		ClassificationDomain: in.ClassificationDomain,
		ClassificationCode:   in.ClassificationCode,
		ManufacturerName:     in.ManufacturerName,
		ManufacturerPartID:   in.ManufacturerPartID,
	}, nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrInvalidInput), errors.Is(err, cart.ErrMixedCurrency):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return err
	}
}

// AddItem prices in and adds it to the session cart. Only ACTIVE sessions
// accept cart edits.
func (m *Manager) AddItem(ctx context.Context, token string, in ItemInput) (*cart.Cart, error) {
	var out *cart.Cart
	_, err := m.mutate(ctx, token, func(ctx context.Context, sess *Session) error {
		if err := requireState(sess, StateActive, StateActive); err != nil {
			return err
		}
		item, err := m.priceItem(ctx, *sess, in)
		if err != nil {
			return err
		}
		c, err := m.carts.Load(ctx, token)
		if err != nil {
			return err
		}
		if err := c.Add(item, m.now().UTC()); err != nil {
			return cartError(err)
		}
		out = c
		return m.carts.Save(ctx, c)
	})
	return out, err
}

// UpdateItem sets the quantity of an existing line.
func (m *Manager) UpdateItem(ctx context.Context, token, partID string, quantity int) (*cart.Cart, error) {
	var out *cart.Cart
	_, err := m.mutate(ctx, token, func(ctx context.Context, sess *Session) error {
		if err := requireState(sess, StateActive, StateActive); err != nil {
			return err
		}
		c, err := m.carts.Load(ctx, token)
		if err != nil {
			return err
		}
		if err := c.SetQuantity(partID, quantity, m.now().UTC()); err != nil {
			return cartError(err)
		}
		out = c
		return m.carts.Save(ctx, c)
	})
	return out, err
}

// RemoveItem drops a line from the cart.
func (m *Manager) RemoveItem(ctx context.Context, token, partID string) (*cart.Cart, error) {
	var out *cart.Cart
	_, err := m.mutate(ctx, token, func(ctx context.Context, sess *Session) error {
		if err := requireState(sess, StateActive, StateActive); err != nil {
			return err
		}
		c, err := m.carts.Load(ctx, token)
		if err != nil {
			return err
		}
		if err := c.Remove(partID, m.now().UTC()); err != nil {
			return err
		}
		out = c
		return m.carts.Save(ctx, c)
	})
	return out, err
}

// Cart returns the current cart of a live or terminal session.
func (m *Manager) Cart(ctx context.Context, token string) (*cart.Cart, error) {
	if _, err := m.Get(ctx, token); err != nil {
		return nil, err
	}
	return m.carts.Load(ctx, token)
}

// PrepareInput finalizes the cart. When Items is non-nil it replaces the
// cart contents before the checks run.
type PrepareInput struct {
	Items    []ItemInput           `json:"items"`
	Shipping orderdoc.ShippingForm `json:"shipping"`
}

// PrepareCart moves an ACTIVE session to CART_PREPARED once the shipping
// form is valid, the delivery date honours the lead time and the cart holds
// at least one line. Nothing is written when any check fails.
func (m *Manager) PrepareCart(ctx context.Context, token string, in PrepareInput) (Session, error) {
	return m.mutate(ctx, token, func(ctx context.Context, sess *Session) error {
		if err := requireState(sess, StateActive, StateCartPrepared); err != nil {
			return err
		}
		if err := m.validate.Struct(in.Shipping); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		now := m.now()
		if err := orderdoc.CheckDeliveryDate(in.Shipping, now, m.location, m.leadDays); err != nil {
			return err
		}

		c, err := m.carts.Load(ctx, token)
		if err != nil {
			return err
		}
		replace := in.Items != nil
		if replace {
			items := make([]cart.LineItem, 0, len(in.Items))
			for _, raw := range in.Items {
				item, err := m.priceItem(ctx, *sess, raw)
				if err != nil {
					return err
				}
				items = append(items, item)
			}
			if err := c.Replace(items, now.UTC()); err != nil {
				return cartError(err)
			}
		}
		if len(c.Items) == 0 {
			return ErrEmptyCart
		}
		if err := sess.transition(StateCartPrepared); err != nil {
			return err
		}
		if replace {
			if err := m.carts.Save(ctx, c); err != nil {
				return err
			}
		}
		shipping := in.Shipping
		preparedAt := now.UTC()
		sess.Shipping = &shipping
		sess.PreparedAt = &preparedAt
		return nil
	})
}

// Reopen returns a prepared session to ACTIVE so the buyer can revise it.
func (m *Manager) Reopen(ctx context.Context, token string) (Session, error) {
	return m.mutate(ctx, token, func(_ context.Context, sess *Session) error {
		if err := requireState(sess, StateCartPrepared, StateActive); err != nil {
			return err
		}
		if err := sess.transition(StateActive); err != nil {
			return err
		}
		sess.PreparedAt = nil
		return nil
	})
}

// TransferResult reports a completed transfer.
type TransferResult struct {
	Session   Session            `json:"session"`
	PayloadID string             `json:"payloadId"`
	Delivery  transport.Delivery `json:"delivery"`
}

// Transfer builds the order document and delivers it to the return URL while
// holding the session lock for the whole call. A failed delivery leaves the
// session CART_PREPARED with the attempt recorded; the returned error wraps
// transport.ErrDownstreamUnreachable. A second transfer of the same session
// fails with a StateError naming TRANSFERRED.
func (m *Manager) Transfer(ctx context.Context, token string) (TransferResult, error) {
	ctx, span := otel.Tracer("punchout.Manager").Start(ctx, "Manager.Transfer")
	defer span.End()

	if !validTokenShape(token) {
		return TransferResult{}, ErrSessionNotFound
	}
	var result TransferResult
	err := m.locks.WithLock(ctx, lockKey(token), m.lockTTL, func(ctx context.Context) error {
		sess, err := m.load(ctx, token)
		result.Session = sess
		if err != nil {
			return err
		}
		if err := requireState(&sess, StateCartPrepared, StateTransferred); err != nil {
			return err
		}
		if sess.Shipping == nil {
			return fmt.Errorf("%w: shipping form missing", ErrValidation)
		}
		c, err := m.carts.Load(ctx, token)
		if err != nil {
			return err
		}
		doc, err := m.builder.Build(sess.source(), c, *sess.Shipping)
		if err != nil {
			if errors.Is(err, orderdoc.ErrEmptyCart) {
				return ErrEmptyCart
			}
			return err
		}
		result.PayloadID = doc.PayloadID
		span.SetAttributes(
			attribute.String("punchout.payload_id", doc.PayloadID),
			attribute.Bool("punchout.direct", sess.Direct),
			attribute.Int("punchout.lines", len(doc.Lines)),
		)

		log := m.logger(ctx).With().Str("session", TokenDigest(token)[:12]).Str("payload_id", doc.PayloadID).Logger()
		if !sess.Direct {
			body, contentType, err := cxml.EncodeOrder(doc, m.encoding, m.userAgent)
			if err != nil {
				return err
			}
			delivery, sendErr := m.sender.Send(ctx, sess.ReturnURL, body, contentType)
			result.Delivery = delivery
			attemptedAt := m.now().UTC()
			sess.TransferAttempts += max(delivery.Attempts, 1)
			sess.LastAttemptAt = &attemptedAt
			if sendErr != nil {
				if !errors.Is(sendErr, transport.ErrDownstreamUnreachable) {
					sendErr = fmt.Errorf("%w: %w", transport.ErrDownstreamUnreachable, sendErr)
				}
				sess.LastTransferError = sendErr.Error()
				if err := m.store.Put(ctx, sess); err != nil {
					log.Error().Err(err).Msg("record failed transfer attempt")
				}
				result.Session = sess
				obs.IncCounter(obs.PunchoutTransferTotal, "downstream_unreachable")
				span.RecordError(sendErr)
				span.SetStatus(codes.Error, "delivery failed")
				log.Warn().Err(sendErr).Int("attempts", sess.TransferAttempts).Msg("punchout transfer failed")
				return sendErr
			}
		}

		deliveredAt := m.now().UTC()
		record := orders.FromDocument(TokenDigest(token), doc, deliveredAt, sess.TransferAttempts, sess.Direct)
		if err := m.orders.Insert(ctx, record); err != nil {
			if !errors.Is(err, orders.ErrAlreadyRecorded) {
				// Delivery already happened; the session must still reach TRANSFERRED.
				log.Error().Err(err).Msg("record transferred order")
			}
		}
		if err := sess.transition(StateTransferred); err != nil {
			return err
		}
		sess.TransferredAt = &deliveredAt
		sess.LastTransferError = ""
		if err := m.store.Put(ctx, sess); err != nil {
			return fmt.Errorf("punchout: store session: %w", err)
		}
		if err := m.carts.Delete(ctx, token); err != nil {
			log.Warn().Err(err).Msg("clear transferred cart")
		}
		result.Session = sess
		obs.IncCounter(obs.PunchoutTransferTotal, "ok")
		log.Info().Int("attempts", sess.TransferAttempts).Bool("direct", sess.Direct).Msg("punchout order transferred")
		return nil
	})
	return result, err
}

// Order returns the recorded order of a transferred session.
func (m *Manager) Order(ctx context.Context, token string) (orders.TransferredOrder, error) {
	return m.orders.BySession(ctx, TokenDigest(token))
}

// Cancel removes the session and its cart. An expired session fails with
// ErrSessionExpired and is left for the sweeper.
func (m *Manager) Cancel(ctx context.Context, token string) error {
	if !validTokenShape(token) {
		return ErrSessionNotFound
	}
	return m.locks.WithLock(ctx, lockKey(token), m.lockTTL, func(ctx context.Context) error {
		if _, err := m.load(ctx, token); err != nil {
			return err
		}
		if err := m.carts.Delete(ctx, token); err != nil {
			return err
		}
		return m.store.Delete(ctx, token)
	})
}

// SweepResult counts the sessions a sweep touched.
type SweepResult struct {
	Expired int `json:"expired"`
	Deleted int `json:"deleted"`
}

// Sweep expires overdue sessions and deletes terminal sessions whose
// retention window has passed. Correctness never depends on it running.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := m.now()
	err := m.store.Scan(ctx, func(sess Session) error {
		switch {
		case sess.overdue(now):
			err := m.locks.WithLock(ctx, lockKey(sess.Token), m.lockTTL, func(ctx context.Context) error {
				_, err := m.load(ctx, sess.Token)
				return err
			})
			switch {
			case errors.Is(err, ErrSessionExpired):
				res.Expired++
				obs.IncCounter(obs.PunchoutSessionsSwept, "expired")
			case err != nil && !errors.Is(err, ErrSessionNotFound):
				return err
			}
		case sess.State.Terminal() && now.After(retainedUntil(sess, m.retention)):
			err := m.locks.WithLock(ctx, lockKey(sess.Token), m.lockTTL, func(ctx context.Context) error {
				if err := m.carts.Delete(ctx, sess.Token); err != nil {
					return err
				}
				return m.store.Delete(ctx, sess.Token)
			})
			if err != nil {
				return err
			}
			res.Deleted++
			obs.IncCounter(obs.PunchoutSessionsSwept, "deleted")
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Expired > 0 || res.Deleted > 0 {
		m.logger(ctx).Info().Int("expired", res.Expired).Int("deleted", res.Deleted).Msg("punchout sweep")
	}
	return res, nil
}

func retainedUntil(sess Session, retention time.Duration) time.Time {
	if sess.TransferredAt != nil {
		return sess.TransferredAt.Add(retention)
	}
	return sess.ExpiresAt.Add(retention)
}

// MinimumDeliveryDate is the earliest delivery date accepted right now.
func (m *Manager) MinimumDeliveryDate() time.Time {
	return orderdoc.MinimumDeliveryDate(m.now(), m.location, m.leadDays)
}

// LeadDays reports the configured delivery lead time.
func (m *Manager) LeadDays() int {
	return m.leadDays
}
