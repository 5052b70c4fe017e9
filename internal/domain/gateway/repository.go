package gateway

import "context"

// Repository provides read access to gateway transactions.
// The guarded PENDING → terminal transition goes through the transactional
// store in the application layer.
type Repository interface {
	// GetByID returns a transaction by internal ID.
	// Returns ErrTransactionNotFound when unknown.
	GetByID(ctx context.Context, id string) (*Transaction, error)

	// GetByCheckoutRequestID returns a transaction by the processor's
	// correlation ID. Returns ErrTransactionNotFound when unknown.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error)

	// GetByPaymentID returns the transaction tied to a payment.
	// Returns ErrTransactionNotFound when unknown.
	GetByPaymentID(ctx context.Context, paymentID string) (*Transaction, error)
}

// Processor is the external mobile-money processor as seen by the core.
// Credentials, endpoints and the callback URL are configuration, not logic.
type Processor interface {
	// Initiate normalizes the phone number, authenticates and submits a
	// payment request. On success it returns the processor's correlation IDs.
	// Auth and network failures surface as ErrGateway kinds; the caller must
	// mark the payment FAILED rather than leave it PENDING.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)

	// Query polls the processor for the current status of a transaction that
	// has not received a callback within the SLA window.
	Query(ctx context.Context, checkoutRequestID string) (*CallbackResult, error)
}

// InitiateRequest is what the core sends to start a mobile-money collection.
type InitiateRequest struct {
	PhoneNumber string
	Amount      string
	AccountRef  string
	Description string
}

// InitiateResponse carries the processor's correlation identifiers.
type InitiateResponse struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResponseCode      string
	CustomerMessage   string
}
