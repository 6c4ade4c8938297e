package cxml_test

import (
	"encoding/xml"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/cxml"
	"github.com/noah-isme/backend-punchout/internal/orderdoc"
)

const setupXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE cXML SYSTEM "http://xml.cxml.org/schemas/cXML/1.2.014/cXML.dtd">
<cXML payloadID="1700000000.123@buyer.example" timestamp="2025-03-01T10:00:00+00:00" xml:lang="en-US">
  <Header>
    <From><Credential domain="NetworkID"><Identity>AN-BUYER</Identity></Credential></From>
    <To><Credential domain="DUNS"><Identity>123456789</Identity></Credential></To>
    <Sender>
      <Credential domain="NetworkID"><Identity>AN-BUYER</Identity><SharedSecret>s3cret</SharedSecret></Credential>
      <UserAgent>Procurement 1.0</UserAgent>
    </Sender>
  </Header>
  <Request deploymentMode="test">
    <PunchOutSetupRequest operation="create">
      <BuyerCookie>34234234ADFSDF234234</BuyerCookie>
      <Extrinsic name="UserEmail">pat@buyer.example</Extrinsic>
      <BrowserFormPost><URL>https://buyer.example/punchout/return?id=7</URL></BrowserFormPost>
      <Contact role="endUser"><Name xml:lang="en">Pat Buyer</Name><Email>pat@buyer.example</Email></Contact>
      <ShipTo>
        <Address isoCountryCode="de" addressID="1000">
          <Name xml:lang="en">Plant</Name>
          <PostalAddress><Street>Hauptstr 1</Street><City>Berlin</City><PostalCode>10115</PostalCode><Country isoCountryCode="DE">Germany</Country></PostalAddress>
        </Address>
      </ShipTo>
      <SupplierSetup><URL>https://catalog.example/punchout</URL></SupplierSetup>
    </PunchOutSetupRequest>
  </Request>
</cXML>`

func TestDecodeSetupRequest(t *testing.T) {
	req, err := cxml.DecodeSetupRequest(strings.NewReader(setupXML))
	require.NoError(t, err)
	require.Equal(t, "1700000000.123@buyer.example", req.PayloadID)
	require.Equal(t, cxml.Identity{Domain: "NetworkID", Identity: "AN-BUYER"}, req.Sender)
	require.Equal(t, "s3cret", req.SharedSecret)
	require.Equal(t, cxml.Identity{Domain: "DUNS", Identity: "123456789"}, req.To)
	require.Equal(t, cxml.Identity{Domain: "NetworkID", Identity: "AN-BUYER"}, req.From)
	require.Equal(t, "create", req.Operation)
	require.Equal(t, "34234234ADFSDF234234", req.BuyerCookie)
	require.Equal(t, "https://buyer.example/punchout/return?id=7", req.ReturnURL)
	require.Equal(t, "pat@buyer.example", req.UserEmail)
	require.Equal(t, "Pat Buyer", req.UserName)
	require.Equal(t, "DE", req.Country)
}

func TestDecodeSetupRequestRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"not xml":      "{}",
		"no secret":    strings.Replace(setupXML, "<SharedSecret>s3cret</SharedSecret>", "", 1),
		"no cookie":    strings.Replace(setupXML, "<BuyerCookie>34234234ADFSDF234234</BuyerCookie>", "", 1),
		"no return":    strings.Replace(setupXML, "<BrowserFormPost><URL>https://buyer.example/punchout/return?id=7</URL></BrowserFormPost>", "", 1),
		"relative url": strings.Replace(setupXML, "https://buyer.example/punchout/return?id=7", "/return", 1),
		"bad op":       strings.Replace(setupXML, `operation="create"`, `operation="destroy"`, 1),
		"no request":   strings.Replace(strings.Replace(setupXML, "PunchOutSetupRequest", "ProfileRequest", 1), "</PunchOutSetupRequest>", "</ProfileRequest>", 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := cxml.DecodeSetupRequest(strings.NewReader(body))
			require.ErrorIs(t, err, cxml.ErrMalformed)
		})
	}
}

func TestDecodeSetupJSON(t *testing.T) {
	body := `{"sender":{"domain":"NetworkID","identity":"AN-BUYER"},"sharedSecret":"s3cret","buyerCookie":"c1","returnUrl":"https://buyer.example/r","country":"us"}`
	req, err := cxml.DecodeSetupJSON(strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "create", req.Operation)
	require.Equal(t, "US", req.Country)
	require.Equal(t, cxml.Identity{Domain: "NetworkID", Identity: "AN-BUYER"}, req.Sender)
	require.Empty(t, req.From.Identity)

	_, err = cxml.DecodeSetupJSON(strings.NewReader(`{"sender":{"domain":"a","identity":"b"},"sharedSecret":"x","buyerCookie":"c","returnUrl":"https://x","surprise":1}`))
	require.ErrorIs(t, err, cxml.ErrMalformed)
}

func sampleDocument() orderdoc.Document {
	return orderdoc.Document{
		PayloadID:   "01JN8Z@catalog",
		Timestamp:   time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
		Buyer:       orderdoc.Party{Domain: "NetworkID", Identity: "AN-BUYER"},
		Sender:      orderdoc.Party{Domain: "DUNS", Identity: "catalog"},
		BuyerCookie: "cookie & <co>",
		Operation:   "create",
		Currency:    "USD",
		Total:       decimal.RequireFromString("33.20"),
		Shipping: orderdoc.ShippingForm{
			Address:               orderdoc.Address{Name: "Plant", Street: "1 Main", City: "Springfield", PostalCode: "12345", CountryCode: "US"},
			Contact:               orderdoc.Contact{Name: "Pat", Email: "pat@example.com"},
			RequestedDeliveryDate: "2025-03-15",
			Instructions:          "Dock B",
		},
		Lines: []orderdoc.Line{{
			LineNumber:           1,
			SupplierPartID:       "BOLT-M8",
			SupplierID:           "acme",
			Quantity:             10,
			UnitPrice:            decimal.RequireFromString("0.82"),
			Currency:             "USD",
			Description:          "Hex bolt",
			UnitOfMeasure:        "EA",
			ClassificationDomain: "UNSPSC",
			ClassificationCode:   "31161500",
			ManufacturerName:     "Bolt Co",
		}},
	}
}

func TestEncodeOrderMessage(t *testing.T) {
	body, err := cxml.EncodeOrderMessage(sampleDocument(), "catalog/1.0")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "<?xml"))
	require.Contains(t, string(body), "<!DOCTYPE cXML")

	var env cxml.Envelope
	require.NoError(t, xml.Unmarshal(body[strings.Index(string(body), "<cXML"):], &env))
	require.Equal(t, "01JN8Z@catalog", env.PayloadID)
	require.Equal(t, "2025-03-01T10:30:00Z", env.Timestamp)
	require.Equal(t, "AN-BUYER", env.Header.To.Credentials[0].Identity)
	msg := env.Message.OrderMessage
	require.Equal(t, "cookie & <co>", msg.BuyerCookie)
	require.Equal(t, "33.20", msg.Header.Total.Money.Value)
	require.Equal(t, "Dock B", msg.Header.Comments)
	require.Len(t, msg.Items, 1)
	require.Equal(t, 10, msg.Items[0].Quantity)
	require.Equal(t, "BOLT-M8", msg.Items[0].ItemID.SupplierPartID)
	require.Equal(t, "31161500", msg.Items[0].ItemDetail.Classification.Value)
	require.Equal(t, "0.82", msg.Items[0].ItemDetail.UnitPrice.Money.Value)
}

func TestEncodeOrderForm(t *testing.T) {
	body, contentType, err := cxml.EncodeOrder(sampleDocument(), cxml.EncodingForm, "ua")
	require.NoError(t, err)
	require.Equal(t, cxml.ContentTypeForm, contentType)
	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	require.Contains(t, values.Get(cxml.FormField), "<PunchOutOrderMessage>")

	_, _, err = cxml.EncodeOrder(sampleDocument(), "pdf", "ua")
	require.Error(t, err)
}

func TestEncodeStatusAndSetupResponse(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	body, err := cxml.EncodeStatus("p1", now, 401, "BAD_CREDENTIAL", "credential rejected")
	require.NoError(t, err)
	require.Contains(t, string(body), `<Status code="401" text="BAD_CREDENTIAL">credential rejected</Status>`)

	body, err = cxml.EncodeSetupResponse("p2", now, "https://catalog.example/start?token=abc&x=1")
	require.NoError(t, err)
	require.Contains(t, string(body), "<URL>https://catalog.example/start?token=abc&amp;x=1</URL>")
}
