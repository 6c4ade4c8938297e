package contract

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/common"
)

// Handler exposes contract administration over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type entryPayload struct {
	Category string          `json:"category" validate:"max=128"`
	Country  string          `json:"country" validate:"omitempty,len=2,alpha"`
	Percent  decimal.Decimal `json:"percent"`
}

type upsertPayload struct {
	Entries []entryPayload `json:"entries" validate:"required,min=1,max=500,dive"`
}

// Upsert replaces or adds discounts for the supplier in the URL.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	supplier := chi.URLParam(r, "supplier")
	var payload upsertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	if err := h.validator().Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid discount entries", validationDetails(err))
		return
	}
	entries := make([]Entry, len(payload.Entries))
	for i, e := range payload.Entries {
		entries[i] = Entry(e)
	}
	if err := h.Svc.UpsertDiscounts(r.Context(), supplier, entries); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Svc.List(r.Context(), supplier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, list)
}

// List returns the supplier's contract table.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.List(r.Context(), chi.URLParam(r, "supplier"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, list)
}

// Lookup resolves one category for an optional country.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	supplier := chi.URLParam(r, "supplier")
	q := r.URL.Query()
	pct, ok, err := h.Svc.Lookup(r.Context(), supplier, q.Get("category"), q.Get("country"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no discount for category", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"supplier": supplier,
		"category": q.Get("category"),
		"percent":  pct,
	}})
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return validator.New()
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *InvalidDiscountError
	switch {
	case errors.As(err, &invalid):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_DISCOUNT", invalid.Error(), map[string]any{
			"category": invalid.Entry.Category,
			"country":  invalid.Entry.Country,
		})
	case errors.Is(err, ErrInvalidEntry):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, ErrStoreUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "contract store unavailable", nil)
	default:
		common.WriteError(w, r, err)
	}
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return details
}
