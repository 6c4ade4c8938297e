package cxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/orderdoc"
	"github.com/noah-isme/backend-punchout/internal/pricing"
)

// FormField is the form field name used by browser-style order posts.
const FormField = "cxml-urlencoded"

// Content types of encoded order messages.
const (
	ContentTypeXML  = "text/xml; charset=utf-8"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// Encoding selects how order messages are posted.
type Encoding string

// Supported encodings.
const (
	EncodingXML  Encoding = "xml"
	EncodingForm Encoding = "form"
)

func marshal(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Prolog)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// formatMoney prints amount with the currency's minor-unit digits.
func formatMoney(amount decimal.Decimal, currency string) string {
	scale, err := pricing.CurrencyScale(currency)
	if err != nil {
		return amount.String()
	}
	return amount.StringFixed(scale)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EncodeSetupResponse answers a successful setup with the start page URL.
func EncodeSetupResponse(payloadID string, now time.Time, startURL string) ([]byte, error) {
	return marshal(Envelope{
		PayloadID: payloadID,
		Timestamp: timestamp(now),
		Lang:      "en-US",
		Response: &Response{
			Status:        Status{Code: 200, Text: "OK"},
			SetupResponse: &SetupResponseBody{StartPage: URLHolder{URL: startURL}},
		},
	})
}

// EncodeStatus renders a status-only response, used for faults.
func EncodeStatus(payloadID string, now time.Time, code int, text, detail string) ([]byte, error) {
	return marshal(Envelope{
		PayloadID: payloadID,
		Timestamp: timestamp(now),
		Lang:      "en-US",
		Response:  &Response{Status: Status{Code: code, Text: text, Body: detail}},
	})
}

// EncodeOrderMessage renders doc as a PunchOutOrderMessage.
func EncodeOrderMessage(doc orderdoc.Document, userAgent string) ([]byte, error) {
	items := make([]ItemIn, len(doc.Lines))
	for i, line := range doc.Lines {
		var ext []Extrinsic
		if line.SupplierID != "" {
			ext = append(ext, Extrinsic{Name: "SupplierID", Value: line.SupplierID})
		}
		items[i] = ItemIn{
			Quantity:   line.Quantity,
			LineNumber: line.LineNumber,
			ItemID:     ItemID{SupplierPartID: line.SupplierPartID},
			ItemDetail: ItemDetail{
				UnitPrice:          MoneyHolder{Money: Money{Currency: line.Currency, Value: formatMoney(line.UnitPrice, line.Currency)}},
				Description:        Description{Lang: "en", Value: line.Description},
				UnitOfMeasure:      line.UnitOfMeasure,
				Classification:     Classification{Domain: line.ClassificationDomain, Value: line.ClassificationCode},
				ManufacturerPartID: line.ManufacturerPartID,
				ManufacturerName:   line.ManufacturerName,
				Extrinsics:         ext,
			},
		}
	}

	ship := doc.Shipping
	deliverTo := []string{ship.Contact.Name}
	street := []string{ship.Address.Street}
	if ship.Address.Street2 != "" {
		street = append(street, ship.Address.Street2)
	}
	operation := "create"
	if doc.Operation == OperationEdit {
		operation = "edit"
	}

	env := Envelope{
		PayloadID: doc.PayloadID,
		Timestamp: timestamp(doc.Timestamp),
		Lang:      "en-US",
		Header: &Header{
			From:   Party{Credentials: []Credential{{Domain: doc.Sender.Domain, Identity: doc.Sender.Identity}}},
			To:     Party{Credentials: []Credential{{Domain: doc.Buyer.Domain, Identity: doc.Buyer.Identity}}},
			Sender: Sender{Credentials: []Credential{{Domain: doc.Sender.Domain, Identity: doc.Sender.Identity}}, UserAgent: userAgent},
		},
		Message: &Message{OrderMessage: &OrderMessageBody{
			BuyerCookie: doc.BuyerCookie,
			Header: OrderHeader{
				OperationAllowed: operation,
				Total:            MoneyHolder{Money: Money{Currency: doc.Currency, Value: formatMoney(doc.Total, doc.Currency)}},
				ShipTo: &ShipTo{Address: Address{
					ISOCountryCode: ship.Address.CountryCode,
					Name:           ship.Address.Name,
					Email:          ship.Contact.Email,
					Phone:          ship.Contact.Phone,
					PostalAddress: PostalAddress{
						DeliverTo:  deliverTo,
						Street:     street,
						City:       ship.Address.City,
						State:      ship.Address.State,
						PostalCode: ship.Address.PostalCode,
						Country:    Country{ISOCountryCode: ship.Address.CountryCode, Name: ship.Address.CountryCode},
					},
				}},
				Comments:   ship.Instructions,
				Extrinsics: []Extrinsic{{Name: "RequestedDeliveryDate", Value: ship.RequestedDeliveryDate}},
			},
			Items: items,
		}},
	}
	return marshal(env)
}

// EncodeOrder renders doc in the chosen encoding and returns the body with
// its content type.
func EncodeOrder(doc orderdoc.Document, enc Encoding, userAgent string) ([]byte, string, error) {
	body, err := EncodeOrderMessage(doc, userAgent)
	if err != nil {
		return nil, "", err
	}
	switch Encoding(strings.ToLower(string(enc))) {
	case EncodingXML, "":
		return body, ContentTypeXML, nil
	case EncodingForm:
		form := url.Values{}
		form.Set(FormField, string(body))
		return []byte(form.Encode()), ContentTypeForm, nil
	default:
		return nil, "", fmt.Errorf("cxml: unknown encoding %q", enc)
	}
}
