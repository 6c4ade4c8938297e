package common

import (
	"net/http"

	"github.com/rs/zerolog"
)

// WriteError answers with a generic 500. The cause is logged on the request
// logger and never sent to the caller. Handlers map their domain errors to
// specific codes before falling back to this.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
