package punchout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-punchout/internal/cart"
	"github.com/noah-isme/backend-punchout/internal/common"
	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/orders"
	"github.com/noah-isme/backend-punchout/internal/pricing"
	"github.com/noah-isme/backend-punchout/internal/transport"
)

// Fault describes how an error is reported to callers.
type Fault struct {
	Status int
	Code   string
}

// FaultFor maps a domain error to its gateway fault code.
func FaultFor(err error) Fault {
	var cfgErr *pricing.ConfigurationError
	switch {
	case errors.Is(err, ErrBadCredential):
		return Fault{http.StatusUnauthorized, "BAD_CREDENTIAL"}
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, cxml.ErrMalformed):
		return Fault{http.StatusBadRequest, "MALFORMED_REQUEST"}
	case errors.Is(err, ErrSessionExpired):
		return Fault{http.StatusGone, "SESSION_EXPIRED"}
	case errors.Is(err, ErrSessionNotFound):
		return Fault{http.StatusNotFound, "SESSION_NOT_FOUND"}
	case errors.Is(err, ErrInvalidState):
		return Fault{http.StatusConflict, "INVALID_STATE"}
	case errors.Is(err, ErrEmptyCart):
		return Fault{http.StatusUnprocessableEntity, "EMPTY_CART"}
	case errors.Is(err, orderdoc.ErrDeliveryTooSoon):
		return Fault{http.StatusUnprocessableEntity, "DELIVERY_DATE_TOO_SOON"}
	case errors.Is(err, transport.ErrDownstreamUnreachable):
		return Fault{http.StatusBadGateway, "DOWNSTREAM_UNREACHABLE"}
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, orders.ErrNotFound):
		return Fault{http.StatusNotFound, "NOT_FOUND"}
	case errors.Is(err, ErrValidation):
		return Fault{http.StatusUnprocessableEntity, "VALIDATION_ERROR"}
	case errors.As(err, &cfgErr):
		return Fault{http.StatusInternalServerError, "CONFIGURATION_ERROR"}
	default:
		return Fault{http.StatusInternalServerError, "INTERNAL"}
	}
}

// Handler exposes the gateway over HTTP.
type Handler struct {
	Manager *Manager
	// PayloadDomain is appended to payload ids of cXML responses.
	PayloadDomain string
}

// Setup accepts a PunchOutSetupRequest as cXML, cxml-urlencoded form or
// JSON and answers in the same family.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		req, err := cxml.DecodeSetupJSON(r.Body)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %w", ErrMalformedRequest, err))
			return
		}
		sess, startURL, err := h.Manager.Setup(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"token":     sess.Token,
			"startUrl":  startURL,
			"expiresAt": sess.ExpiresAt,
		}})
	default:
		var body io.Reader = r.Body
		if mediaType == cxml.ContentTypeForm {
			if err := r.ParseForm(); err != nil {
				h.writeStatus(w, r, fmt.Errorf("%w: %w", ErrMalformedRequest, err))
				return
			}
			body = strings.NewReader(r.PostForm.Get(cxml.FormField))
		}
		req, err := cxml.DecodeSetupRequest(body)
		if err != nil {
			h.writeStatus(w, r, fmt.Errorf("%w: %w", ErrMalformedRequest, err))
			return
		}
		_, startURL, err := h.Manager.Setup(r.Context(), req)
		if err != nil {
			h.writeStatus(w, r, err)
			return
		}
		out, err := cxml.EncodeSetupResponse(h.payloadID(), time.Now(), startURL)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		writeXML(w, http.StatusOK, out)
	}
}

// MinimumDeliveryDate reports the earliest delivery date accepted now.
func (h *Handler) MinimumDeliveryDate(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"date":     h.Manager.MinimumDeliveryDate().Format(orderdoc.DateLayout),
		"leadDays": h.Manager.LeadDays(),
	}})
}

// OpenDirect starts a synthetic session for the authenticated subject.
func (h *Handler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	var req DirectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
			return
		}
	}
	req.Subject, _ = common.Subject(r.Context())
	sess, err := h.Manager.OpenDirect(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, sess)
}

// Session returns the session state. Expired sessions are reported with
// SESSION_EXPIRED.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Manager.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// Cart returns the session cart.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Manager.Cart(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// AddItem prices and adds a catalog selection.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var in ItemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	c, err := h.Manager.AddItem(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// UpdateItem changes a line quantity.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	c, err := h.Manager.UpdateItem(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "partID"), payload.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Manager.RemoveItem(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "partID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// Prepare finalizes the cart with a shipping form.
func (h *Handler) Prepare(w http.ResponseWriter, r *http.Request) {
	var in PrepareInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	sess, err := h.Manager.PrepareCart(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// Reopen returns a prepared session to ACTIVE.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Manager.Reopen(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// Transfer delivers the order document. A failed delivery answers
// DOWNSTREAM_UNREACHABLE with the recorded attempt count so the caller can retry.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Manager.Transfer(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, transport.ErrDownstreamUnreachable) {
			common.JSONError(w, http.StatusBadGateway, "DOWNSTREAM_UNREACHABLE", "order could not be delivered", map[string]any{
				"state":            res.Session.State,
				"transferAttempts": res.Session.TransferAttempts,
				"status":           res.Delivery.Status,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// Cancel deletes the session and its cart.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Cancel(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Order returns the recorded order of a transferred session.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	order, err := h.Manager.Order(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

func (h *Handler) payloadID() string {
	domain := h.PayloadDomain
	if domain == "" {
		domain = "punchout"
	}
	return uuid.NewString() + "@" + domain
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	fault := FaultFor(err)
	var details any
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		details = map[string]any{"current": stateErr.Current, "target": stateErr.Target}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		details = fields
	}
	if fault.Code == "INTERNAL" {
		common.WriteError(w, r, err)
		return
	}
	common.JSONError(w, fault.Status, fault.Code, err.Error(), details)
}

// writeStatus answers a cXML caller with a status document. The HTTP status
// mirrors the cXML status code.
func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, err error) {
	fault := FaultFor(err)
	text := fault.Code
	detail := ""
	if fault.Status < http.StatusInternalServerError {
		detail = err.Error()
	}
	out, encErr := cxml.EncodeStatus(h.payloadID(), time.Now(), fault.Status, text, detail)
	if encErr != nil {
		common.WriteError(w, r, encErr)
		return
	}
	writeXML(w, fault.Status, out)
}

func writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", cxml.ContentTypeXML)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeCart(w http.ResponseWriter, status int, c *cart.Cart) {
	common.JSON(w, status, map[string]any{"data": map[string]any{
		"sessionToken": c.SessionToken,
		"items":        c.Items,
		"currency":     c.Currency(),
		"total":        c.Total(),
		"updatedAt":    c.UpdatedAt,
	}})
}
