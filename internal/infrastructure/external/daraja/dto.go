package daraja

import (
	"encoding/json"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMATS
// Request and response shapes of the Daraja STK push API. Field names follow
// the gateway's JSON exactly, PascalCase and all.
// ══════════════════════════════════════════════════════════════════════════════

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"` // seconds, delivered as a string
}

// stkPushRequest is the body of an STK push (customer-to-business) request.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// stkPushResponse is the synchronous acknowledgment of an STK push request.
// ResponseCode "0" means the request was accepted for processing; the actual
// payment result arrives later on the callback URL.
type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// stkQueryRequest is the body of a transaction status query.
type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// stkQueryResponse is the status query response. ResultCode is delivered as
// a string here, unlike the callback where it is a number.
type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// errorResponse is the gateway's error envelope.
type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// CallbackEnvelope is the webhook body the gateway POSTs when a transaction
// resolves. The interesting parts sit three levels deep.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback carries the transaction result. CallbackMetadata is present
// only on success.
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is a list of loosely typed name/value items.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as numbers for Amount/PhoneNumber/TransactionDate
// and as strings for MpesaReceiptNumber.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// String returns the item value as a string regardless of its JSON type.
func (i MetadataItem) String() string {
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(i.Value, &f); err == nil {
		// TransactionDate and PhoneNumber are integral; render without
		// a fractional part.
		return fmt.Sprintf("%.0f", f)
	}
	return string(i.Value)
}

// Float returns the item value as a float64 when it is numeric.
func (i MetadataItem) Float() (float64, bool) {
	var f float64
	if err := json.Unmarshal(i.Value, &f); err == nil {
		return f, true
	}
	return 0, false
}

// Lookup returns the value of the named metadata item.
func (m *CallbackMetadata) Lookup(name string) (MetadataItem, bool) {
	if m == nil {
		return MetadataItem{}, false
	}
	for _, item := range m.Item {
		if item.Name == name {
			return item, true
		}
	}
	return MetadataItem{}, false
}

// Metadata item names the gateway uses on successful transactions.
const (
	MetaAmount          = "Amount"
	MetaReceiptNumber   = "MpesaReceiptNumber"
	MetaTransactionDate = "TransactionDate"
	MetaPhoneNumber     = "PhoneNumber"
)

// AckResponse is what our webhook returns to the gateway. Always the same
// regardless of processing outcome: any other body triggers redelivery.
type AckResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Ack is the fixed acknowledgment body.
func Ack() AckResponse {
	return AckResponse{ResultCode: 0, ResultDesc: "Accepted"}
}
