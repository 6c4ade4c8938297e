package security

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-punchout/internal/common"
)

// BodyLimit caps request bodies. ByMediaType overrides Max per media type,
// so cXML documents with large extrinsic sections can be allowed more room
// than JSON calls. The body is buffered so handlers can re-read it, e.g. to
// sniff a cXML document.
type BodyLimit struct {
	Max         int64
	ByMediaType map[string]int64
}

func (b BodyLimit) limitFor(r *http.Request) int64 {
	if len(b.ByMediaType) == 0 {
		return b.Max
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return b.Max
	}
	if limit, ok := b.ByMediaType[strings.ToLower(mediaType)]; ok && limit > 0 {
		return limit
	}
	return b.Max
}

// Middleware answers 413 when the declared or actual body exceeds the limit.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.limitFor(r)
		if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			tooLarge(w, limit)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		_ = r.Body.Close()
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "invalid request body", nil)
			return
		}
		if int64(len(buf)) > limit {
			tooLarge(w, limit)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, limit int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", map[string]int64{"limitBytes": limit})
}
