package cxml

import "encoding/xml"

// Version is the cXML DTD version documents are emitted with.
const Version = "1.2.014"

// Prolog is written before every outbound document.
const Prolog = xml.Header + `<!DOCTYPE cXML SYSTEM "http://xml.cxml.org/schemas/cXML/` + Version + `/cXML.dtd">` + "\n"

// Envelope is the cXML root element.
type Envelope struct {
	XMLName   xml.Name  `xml:"cXML"`
	PayloadID string    `xml:"payloadID,attr"`
	Timestamp string    `xml:"timestamp,attr"`
	Lang      string    `xml:"xml:lang,attr,omitempty"`
	Header    *Header   `xml:"Header,omitempty"`
	Request   *Request  `xml:"Request,omitempty"`
	Response  *Response `xml:"Response,omitempty"`
	Message   *Message  `xml:"Message,omitempty"`
}

// Header carries the From, To and Sender credentials.
type Header struct {
	From   Party  `xml:"From"`
	To     Party  `xml:"To"`
	Sender Sender `xml:"Sender"`
}

// Party lists the credentials identifying an organisation.
type Party struct {
	Credentials []Credential `xml:"Credential"`
}

// Sender is the authenticating party.
type Sender struct {
	Credentials []Credential `xml:"Credential"`
	UserAgent   string       `xml:"UserAgent,omitempty"`
}

// Credential is a domain-qualified identity, optionally with a shared secret.
type Credential struct {
	Domain       string `xml:"domain,attr"`
	Identity     string `xml:"Identity"`
	SharedSecret string `xml:"SharedSecret,omitempty"`
}

// Request wraps inbound requests.
type Request struct {
	DeploymentMode string            `xml:"deploymentMode,attr,omitempty"`
	SetupRequest   *SetupRequestBody `xml:"PunchOutSetupRequest"`
}

// SetupRequestBody is the PunchOutSetupRequest element.
type SetupRequestBody struct {
	Operation       string      `xml:"operation,attr"`
	BuyerCookie     string      `xml:"BuyerCookie"`
	Extrinsics      []Extrinsic `xml:"Extrinsic"`
	BrowserFormPost *URLHolder  `xml:"BrowserFormPost"`
	Contact         *Contact    `xml:"Contact"`
	ShipTo          *ShipTo     `xml:"ShipTo"`
	SupplierSetup   *URLHolder  `xml:"SupplierSetup"`
}

// URLHolder wraps a URL element.
type URLHolder struct {
	URL string `xml:"URL"`
}

// Extrinsic is a named free-form value.
type Extrinsic struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Contact identifies the requesting user.
type Contact struct {
	Role  string `xml:"role,attr,omitempty"`
	Name  string `xml:"Name"`
	Email string `xml:"Email"`
}

// ShipTo holds a delivery address.
type ShipTo struct {
	Address Address `xml:"Address"`
}

// Address is a cXML address block.
type Address struct {
	ISOCountryCode string        `xml:"isoCountryCode,attr,omitempty"`
	AddressID      string        `xml:"addressID,attr,omitempty"`
	Name           string        `xml:"Name"`
	PostalAddress  PostalAddress `xml:"PostalAddress"`
	Email          string        `xml:"Email,omitempty"`
	Phone          string        `xml:"Phone>TelephoneNumber>Number,omitempty"`
}

// PostalAddress is the street part of an Address.
type PostalAddress struct {
	DeliverTo  []string `xml:"DeliverTo,omitempty"`
	Street     []string `xml:"Street"`
	City       string   `xml:"City"`
	State      string   `xml:"State,omitempty"`
	PostalCode string   `xml:"PostalCode"`
	Country    Country  `xml:"Country"`
}

// Country carries the ISO code as attribute and a display name.
type Country struct {
	ISOCountryCode string `xml:"isoCountryCode,attr"`
	Name           string `xml:",chardata"`
}

// Response wraps outbound responses.
type Response struct {
	Status        Status             `xml:"Status"`
	SetupResponse *SetupResponseBody `xml:"PunchOutSetupResponse,omitempty"`
}

// Status is a cXML status line. Codes follow HTTP semantics.
type Status struct {
	Code int    `xml:"code,attr"`
	Text string `xml:"text,attr"`
	Body string `xml:",chardata"`
}

// SetupResponseBody points the buyer's browser at the start page.
type SetupResponseBody struct {
	StartPage URLHolder `xml:"StartPage"`
}

// Message wraps outbound messages.
type Message struct {
	DeploymentMode string            `xml:"deploymentMode,attr,omitempty"`
	OrderMessage   *OrderMessageBody `xml:"PunchOutOrderMessage"`
}

// OrderMessageBody is the PunchOutOrderMessage element.
type OrderMessageBody struct {
	BuyerCookie string      `xml:"BuyerCookie"`
	Header      OrderHeader `xml:"PunchOutOrderMessageHeader"`
	Items       []ItemIn    `xml:"ItemIn"`
}

// OrderHeader summarises the order.
type OrderHeader struct {
	OperationAllowed string      `xml:"operationAllowed,attr"`
	Total            MoneyHolder `xml:"Total"`
	ShipTo           *ShipTo     `xml:"ShipTo,omitempty"`
	Comments         string      `xml:"Comments,omitempty"`
	Extrinsics       []Extrinsic `xml:"Extrinsic,omitempty"`
}

// MoneyHolder wraps a Money element.
type MoneyHolder struct {
	Money Money `xml:"Money"`
}

// Money is an amount in a currency.
type Money struct {
	Currency string `xml:"currency,attr"`
	Value    string `xml:",chardata"`
}

// ItemIn is one line of an order message.
type ItemIn struct {
	Quantity   int        `xml:"quantity,attr"`
	LineNumber int        `xml:"lineNumber,attr,omitempty"`
	ItemID     ItemID     `xml:"ItemID"`
	ItemDetail ItemDetail `xml:"ItemDetail"`
}

// ItemID identifies the supplier part.
type ItemID struct {
	SupplierPartID          string `xml:"SupplierPartID"`
	SupplierPartAuxiliaryID string `xml:"SupplierPartAuxiliaryID,omitempty"`
}

// ItemDetail describes the part.
type ItemDetail struct {
	UnitPrice          MoneyHolder    `xml:"UnitPrice"`
	Description        Description    `xml:"Description"`
	UnitOfMeasure      string         `xml:"UnitOfMeasure"`
	Classification     Classification `xml:"Classification"`
	ManufacturerPartID string         `xml:"ManufacturerPartID,omitempty"`
	ManufacturerName   string         `xml:"ManufacturerName,omitempty"`
	Extrinsics         []Extrinsic    `xml:"Extrinsic,omitempty"`
}

// Description is localised free text.
type Description struct {
	Lang  string `xml:"xml:lang,attr"`
	Value string `xml:",chardata"`
}

// Classification is a code within a classification domain such as UNSPSC.
type Classification struct {
	Domain string `xml:"domain,attr"`
	Value  string `xml:",chardata"`
}
