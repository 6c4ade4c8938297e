package cxml

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrMalformed is returned for setup requests that cannot be parsed or lack
// required fields.
var ErrMalformed = errors.New("cxml: malformed request")

// Operations accepted in a setup request.
const (
	OperationCreate  = "create"
	OperationEdit    = "edit"
	OperationInspect = "inspect"
)

// Identity is a domain-qualified name.
type Identity struct {
	Domain   string `json:"domain"`
	Identity string `json:"identity"`
}

// SetupRequest is a decoded PunchOutSetupRequest, independent of wire format.
type SetupRequest struct {
	PayloadID    string            `json:"payloadId"`
	From         Identity          `json:"from"`
	To           Identity          `json:"to"`
	Sender       Identity          `json:"sender"`
	SharedSecret string            `json:"sharedSecret"`
	Operation    string            `json:"operation"`
	BuyerCookie  string            `json:"buyerCookie"`
	ReturnURL    string            `json:"returnUrl"`
	UserEmail    string            `json:"userEmail"`
	UserName     string            `json:"userName"`
	Country      string            `json:"country"`
	Extrinsics   map[string]string `json:"extrinsics"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMalformed)
}

// DecodeSetupRequest parses a cXML PunchOutSetupRequest.
func DecodeSetupRequest(r io.Reader) (SetupRequest, error) {
	var env Envelope
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return SetupRequest{}, malformed("decode cXML: %v", err)
	}
	if env.Header == nil {
		return SetupRequest{}, malformed("missing Header")
	}
	if env.Request == nil || env.Request.SetupRequest == nil {
		return SetupRequest{}, malformed("missing PunchOutSetupRequest")
	}
	body := env.Request.SetupRequest
	sender, secret := firstCredential(env.Header.Sender.Credentials)
	from, _ := firstCredential(env.Header.From.Credentials)
	to, _ := firstCredential(env.Header.To.Credentials)

	req := SetupRequest{
		PayloadID:    strings.TrimSpace(env.PayloadID),
		From:         from,
		To:           to,
		Sender:       sender,
		SharedSecret: secret,
		Operation:    strings.TrimSpace(body.Operation),
		BuyerCookie:  body.BuyerCookie,
		Extrinsics:   make(map[string]string, len(body.Extrinsics)),
	}
	if body.BrowserFormPost != nil {
		req.ReturnURL = strings.TrimSpace(body.BrowserFormPost.URL)
	}
	for _, ext := range body.Extrinsics {
		req.Extrinsics[strings.TrimSpace(ext.Name)] = strings.TrimSpace(ext.Value)
	}
	if body.Contact != nil {
		req.UserEmail = strings.TrimSpace(body.Contact.Email)
		req.UserName = strings.TrimSpace(body.Contact.Name)
	}
	if req.UserEmail == "" {
		req.UserEmail = req.Extrinsics["UserEmail"]
	}
	if body.ShipTo != nil {
		req.Country = firstNonEmpty(body.ShipTo.Address.ISOCountryCode, body.ShipTo.Address.PostalAddress.Country.ISOCountryCode)
	}
	if req.Country == "" {
		req.Country = req.Extrinsics["Country"]
	}
	req.Country = strings.ToUpper(req.Country)
	return req, req.Validate()
}

// DecodeSetupJSON parses the JSON form of a setup request. Unknown fields are rejected.
func DecodeSetupJSON(r io.Reader) (SetupRequest, error) {
	var req SetupRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return SetupRequest{}, malformed("decode JSON: %v", err)
	}
	req.Operation = strings.TrimSpace(req.Operation)
	req.ReturnURL = strings.TrimSpace(req.ReturnURL)
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if req.Extrinsics == nil {
		req.Extrinsics = map[string]string{}
	}
	return req, req.Validate()
}

// Validate checks every required field.
func (r *SetupRequest) Validate() error {
	if r.Sender.Domain == "" || r.Sender.Identity == "" {
		return malformed("sender credential domain and identity are required")
	}
	if r.SharedSecret == "" {
		return malformed("sender shared secret is required")
	}
	if r.BuyerCookie == "" {
		return malformed("BuyerCookie is required")
	}
	if r.Operation == "" {
		r.Operation = OperationCreate
	}
	switch r.Operation {
	case OperationCreate, OperationEdit, OperationInspect:
	default:
		return malformed("unsupported operation %q", r.Operation)
	}
	if r.ReturnURL == "" {
		return malformed("BrowserFormPost URL is required")
	}
	u, err := url.Parse(r.ReturnURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return malformed("BrowserFormPost URL %q is not an absolute URL", r.ReturnURL)
	}
	if r.Country != "" && len(r.Country) != 2 {
		return malformed("country %q is not an ISO 3166 alpha-2 code", r.Country)
	}
	return nil
}

func firstCredential(creds []Credential) (Identity, string) {
	for _, c := range creds {
		domain := strings.TrimSpace(c.Domain)
		identity := strings.TrimSpace(c.Identity)
		if domain != "" && identity != "" {
			return Identity{Domain: domain, Identity: identity}, c.SharedSecret
		}
	}
	return Identity{}, ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
