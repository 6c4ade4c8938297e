package punchout_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/common"
	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/punchout"
	"github.com/noah-isme/backend-punchout/internal/transport"
)

func router(f *fixture) http.Handler {
	h := &punchout.Handler{Manager: f.mgr, PayloadDomain: "catalog.example"}
	r := chi.NewRouter()
	r.Post("/punchout/setup", h.Setup)
	r.Get("/punchout/delivery/minimum", h.MinimumDeliveryDate)
	r.Post("/punchout/direct", h.OpenDirect)
	r.Route("/punchout/sessions/{token}", func(r chi.Router) {
		r.Get("/", h.Session)
		r.Delete("/", h.Cancel)
		r.Get("/cart", h.Cart)
		r.Post("/cart/items", h.AddItem)
		r.Patch("/cart/items/{partID}", h.UpdateItem)
		r.Delete("/cart/items/{partID}", h.RemoveItem)
		r.Post("/prepare", h.Prepare)
		r.Post("/reopen", h.Reopen)
		r.Post("/transfer", h.Transfer)
		r.Get("/order", h.Order)
	})
	return r
}

func setupXML(f *fixture, secret string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<cXML payloadID="1700000000.1@buyer.example" timestamp="2025-03-01T10:00:00+00:00">
  <Header>
    <From><Credential domain="NetworkID"><Identity>AN-BUYER</Identity></Credential></From>
    <To><Credential domain="NetworkID"><Identity>AN-SUPPLIER</Identity></Credential></To>
    <Sender><Credential domain="NetworkID"><Identity>AN-BUYER</Identity><SharedSecret>%s</SharedSecret></Credential></Sender>
  </Header>
  <Request>
    <PunchOutSetupRequest operation="create">
      <BuyerCookie>cookie-xml</BuyerCookie>
      <BrowserFormPost><URL>%s/return</URL></BrowserFormPost>
    </PunchOutSetupRequest>
  </Request>
</cXML>`, secret, f.ret.srv.URL)
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(common.WithSubject(req.Context(), "storefront", []string{"storefront"}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error.Code
}

func TestSetupHandlerAnswersInCXML(t *testing.T) {
	f := newFixture(t)
	h := router(f)

	rr := do(t, h, http.MethodPost, "/punchout/setup", "text/xml", setupXML(f, "s3cret"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, cxml.ContentTypeXML, rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `<Status code="200" text="OK">`)
	require.Contains(t, rr.Body.String(), "https://catalog.example/punchout/start?session=")

	rr = do(t, h, http.MethodPost, "/punchout/setup", "text/xml", setupXML(f, "nope"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `code="401"`)
	require.Contains(t, rr.Body.String(), "BAD_CREDENTIAL")

	rr = do(t, h, http.MethodPost, "/punchout/setup", "text/xml", "<cXML>")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "MALFORMED_REQUEST")

	form := url.Values{cxml.FormField: {setupXML(f, "s3cret")}}
	rr = do(t, h, http.MethodPost, "/punchout/setup", cxml.ContentTypeForm, form.Encode())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestSetupHandlerJSONAndStorefrontFlow(t *testing.T) {
	f := newFixture(t)
	h := router(f)

	setup := fmt.Sprintf(`{"sender":{"domain":"NetworkID","identity":"AN-BUYER"},"sharedSecret":"s3cret","buyerCookie":"c1","returnUrl":%q}`, f.ret.srv.URL+"/return")
	rr := do(t, h, http.MethodPost, "/punchout/setup", "application/json", setup)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var opened struct {
		Data struct {
			Token    string `json:"token"`
			StartURL string `json:"startUrl"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &opened))
	base := "/punchout/sessions/" + opened.Data.Token

	rr = do(t, h, http.MethodPost, base+"/cart/items", "application/json",
		`{"partId":"BOLT-M8","supplierId":"acme","quantity":2,"listPrice":"100","category":"fasteners"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"total":"165.68"`)

	rr = do(t, h, http.MethodPatch, base+"/cart/items/BOLT-M8", "application/json", `{"quantity":1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, base+"/transfer", "", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "INVALID_STATE", errorCode(t, rr))

	prepare := `{"shipping":{"address":{"name":"Plant","street":"1 Main","city":"X","postalCode":"1","countryCode":"US"},"contact":{"name":"Pat","email":"pat@buyer.example"},"requestedDeliveryDate":"%s"}}`
	rr = do(t, h, http.MethodPost, base+"/prepare", "application/json", fmt.Sprintf(prepare, "2025-03-01"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "DELIVERY_DATE_TOO_SOON", errorCode(t, rr))

	rr = do(t, h, http.MethodPost, base+"/prepare", "application/json", fmt.Sprintf(prepare, "2025-03-15"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, base+"/transfer", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, base+"/transfer", "", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodGet, base+"/order", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "BOLT-M8")

	rr = do(t, h, http.MethodGet, "/punchout/sessions/unknown", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rr))
}

func TestTransferHandlerReportsDownstreamFailure(t *testing.T) {
	f := newFixture(t)
	sess := f.prepared(t)
	f.ret.status.Store(http.StatusBadGateway)

	rr := do(t, router(f), http.MethodPost, "/punchout/sessions/"+sess.Token+"/transfer", "", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "DOWNSTREAM_UNREACHABLE", errorCode(t, rr))
	require.Contains(t, rr.Body.String(), `"state":"CART_PREPARED"`)
}

func TestEmptyCartAndExpiredFaults(t *testing.T) {
	f := newFixture(t)
	h := router(f)
	rr := do(t, h, http.MethodPost, "/punchout/direct", "application/json", `{"country":"US"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var opened struct {
		Data punchout.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &opened))
	require.Equal(t, "storefront", opened.Data.BuyerIdentity)
	base := "/punchout/sessions/" + opened.Data.Token

	prepare := `{"shipping":{"address":{"name":"Plant","street":"1 Main","city":"X","postalCode":"1","countryCode":"US"},"contact":{"name":"Pat","email":"pat@buyer.example"},"requestedDeliveryDate":"2025-04-01"}}`
	rr = do(t, h, http.MethodPost, base+"/prepare", "application/json", prepare)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "EMPTY_CART", errorCode(t, rr))

	f.clock.Advance(9 * time.Hour)
	rr = do(t, h, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusGone, rr.Code)
	require.Equal(t, "SESSION_EXPIRED", errorCode(t, rr))
}

func TestMinimumDeliveryDateHandler(t *testing.T) {
	f := newFixture(t)
	rr := do(t, router(f), http.MethodGet, "/punchout/delivery/minimum", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":{"date":"2025-03-15","leadDays":14}}`, rr.Body.String())
}

func TestFaultFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{punchout.ErrBadCredential, http.StatusUnauthorized, "BAD_CREDENTIAL"},
		{fmt.Errorf("x: %w", cxml.ErrMalformed), http.StatusBadRequest, "MALFORMED_REQUEST"},
		{punchout.ErrSessionExpired, http.StatusGone, "SESSION_EXPIRED"},
		{punchout.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{&punchout.StateError{Current: punchout.StateTransferred, Target: punchout.StateTransferred}, http.StatusConflict, "INVALID_STATE"},
		{punchout.ErrEmptyCart, http.StatusUnprocessableEntity, "EMPTY_CART"},
		{orderdoc.ErrDeliveryTooSoon, http.StatusUnprocessableEntity, "DELIVERY_DATE_TOO_SOON"},
		{fmt.Errorf("%w: timeout", transport.ErrDownstreamUnreachable), http.StatusBadGateway, "DOWNSTREAM_UNREACHABLE"},
		{punchout.ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
		{context.Canceled, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		fault := punchout.FaultFor(tc.err)
		require.Equal(t, tc.status, fault.Status, tc.err.Error())
		require.Equal(t, tc.code, fault.Code, tc.err.Error())
	}
}
