package pricing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/backend-punchout/internal/common"
	"github.com/noah-isme/backend-punchout/internal/obs"
)

const maxLowestBatch = 50

// Handler exposes quoting over HTTP.
type Handler struct {
	Quoter Quoter
}

// Quote prices a single request.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	offer, err := h.Quoter.Price(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs.IncCounter(obs.PricingQuotesTotal, "ok")
	common.Data(w, http.StatusOK, offer)
}

// Lowest prices every candidate and badges the cheapest one.
func (h *Handler) Lowest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Offers []Request `json:"offers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return
	}
	if len(payload.Offers) == 0 || len(payload.Offers) > maxLowestBatch {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offers must contain between 1 and 50 entries", nil)
		return
	}
	offers := make([]Offer, 0, len(payload.Offers))
	for _, req := range payload.Offers {
		offer, err := h.Quoter.Price(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		offers = append(offers, offer)
	}
	obs.IncCounter(obs.PricingQuotesTotal, "ok")
	best, ranked, err := Lowest(offers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"lowest": best,
		"offers": ranked,
	}})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		obs.IncCounter(obs.PricingQuotesTotal, "configuration_error")
		common.JSONError(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", cfgErr.Error(), nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoOffers):
		obs.IncCounter(obs.PricingQuotesTotal, "invalid_input")
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	default:
		obs.IncCounter(obs.PricingQuotesTotal, "error")
		common.WriteError(w, r, err)
	}
}
