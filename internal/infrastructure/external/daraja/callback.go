package daraja

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/timeutil"
)

// ParseCallback decodes a webhook body into the normalized result the
// reconciliation handler consumes. Failed transactions carry no metadata;
// successful ones carry amount, receipt, phone and transaction date.
func ParseCallback(r io.Reader) (gateway.CallbackResult, error) {
	var envelope CallbackEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return gateway.CallbackResult{}, shared.WrapError("gateway", "HandleCallback",
			shared.ErrInvalidInput, "malformed callback payload", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return gateway.CallbackResult{}, shared.WrapError("gateway", "HandleCallback",
			shared.ErrInvalidInput, "callback missing CheckoutRequestID", nil)
	}

	result := gateway.CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if item, ok := cb.CallbackMetadata.Lookup(MetaAmount); ok {
		if f, ok := item.Float(); ok {
			result.Amount = decimal.NewFromFloat(f)
		}
	}
	if item, ok := cb.CallbackMetadata.Lookup(MetaReceiptNumber); ok {
		result.GatewayReceipt = item.String()
	}
	if item, ok := cb.CallbackMetadata.Lookup(MetaPhoneNumber); ok {
		result.PhoneNumber = item.String()
	}
	if item, ok := cb.CallbackMetadata.Lookup(MetaTransactionDate); ok {
		if ts, err := timeutil.ParseDarajaTimestamp(item.String()); err == nil {
			result.TransactionDate = ts
		}
	}

	return result, nil
}

// MarshalAck renders the fixed acknowledgment body.
func MarshalAck() ([]byte, error) {
	data, err := json.Marshal(Ack())
	if err != nil {
		return nil, fmt.Errorf("marshal ack: %w", err)
	}
	return data, nil
}
