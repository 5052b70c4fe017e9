// Package daraja implements the mobile-money gateway client (Safaricom
// Daraja STK push API). It handles OAuth token caching, payment initiation,
// transaction status queries and callback payload parsing. The core never
// sees any of the wire shapes here - it talks to gateway.Processor.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/pkg/circuitbreaker"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
	"github.com/shulehub/shule-fees-hub/pkg/retry"
	"github.com/shulehub/shule-fees-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains credentials and endpoints for the Daraja API.
type Config struct {
	// BaseURL is the API base URL (sandbox or production).
	BaseURL string

	// ConsumerKey and ConsumerSecret authenticate the OAuth token request.
	ConsumerKey    string
	ConsumerSecret string

	// ShortCode is the business paybill number money is collected into.
	ShortCode string

	// Passkey signs the STK push password together with the shortcode.
	Passkey string

	// CallbackURL is where the gateway delivers transaction results.
	CallbackURL string

	// TransactionType is the STK push transaction type.
	TransactionType string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for the sandbox environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://sandbox.safaricom.co.ke",
		TransactionType: "CustomerPayBillOnline",
		Timeout:         30 * time.Second,
	}
}

// Validate checks that all required credentials are present.
func (c Config) Validate() error {
	if c.BaseURL == "" || c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return fmt.Errorf("daraja: base URL and consumer credentials are required")
	}
	if c.ShortCode == "" || c.Passkey == "" {
		return fmt.Errorf("daraja: shortcode and passkey are required")
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("daraja: callback URL is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Daraja API client. It implements gateway.Processor.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier

	// Cached OAuth token.
	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	now func() time.Time
}

// NewClient creates a new Daraja client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("daraja"))

	breaker := circuitbreaker.GatewayBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("gateway circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
		breaker:    breaker,
		retrier:    retry.GatewayRetrier(),
		now:        func() time.Time { return time.Now() },
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSOR IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Initiate submits an STK push request. The push itself is never retried:
// a duplicate push would prompt the parent to pay twice. Only the token
// request underneath retries.
func (c *Client) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := timeutil.DarajaTimestamp(c.now())
	body := stkPushRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.config.TransactionType,
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  req.AccountRef,
		TransactionDesc:   req.Description,
	}

	var resp stkPushResponse
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, body, &resp)
	})
	if err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		return nil, shared.WrapError("gateway", "Initiate", shared.ErrGateway,
			fmt.Sprintf("request rejected: %s", resp.ResponseDescription), nil)
	}

	c.logger.Info("stk push accepted",
		logger.CheckoutRequestID(resp.CheckoutRequestID),
		logger.String("merchant_request_id", resp.MerchantRequestID),
	)

	return &gateway.InitiateResponse{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResponseCode:      resp.ResponseCode,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// Query polls the gateway for the status of a push that has not called back.
// Queries are idempotent on the gateway side, so they retry.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*gateway.CallbackResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := timeutil.DarajaTimestamp(c.now())
	body := stkQueryRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.post(ctx, "/mpesa/stkpushquery/v1/query", token, body, &resp)
		})
	})
	if err != nil {
		return nil, err
	}

	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return nil, shared.WrapError("gateway", "Query", shared.ErrGateway,
			fmt.Sprintf("unparseable result code %q", resp.ResultCode), err)
	}

	return &gateway.CallbackResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        resp.ResultDesc,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cached token is within a minute of expiring.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	var resp tokenResponse
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.fetchToken(ctx, &resp)
	})
	if err != nil {
		return "", shared.WrapError("gateway", "Authenticate", shared.ErrGateway,
			"token request failed", err)
	}

	ttl, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3600
	}

	c.token = resp.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(ttl) * time.Second)
	return c.token, nil
}

func (c *Client) fetchToken(ctx context.Context, out *tokenResponse) error {
	url := c.config.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(err)
	}

	credentials := c.config.ConsumerKey + ":" + c.config.ConsumerSecret
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return retry.Permanent(shared.ErrGatewayAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("parse token response: %w", err))
	}
	if out.AccessToken == "" {
		return retry.Permanent(shared.ErrGatewayAuth)
	}
	return nil
}

// password builds the STK push password: base64(shortcode + passkey + timestamp).
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString(
		[]byte(c.config.ShortCode + c.config.Passkey + timestamp))
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) post(ctx context.Context, path, token string, body, result interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shared.WrapError("gateway", "Request", shared.ErrServiceUnavailable,
			"gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked; drop the cache so the next call
		// fetches a fresh one.
		c.tokenMu.Lock()
		c.token = ""
		c.tokenMu.Unlock()
		return shared.ErrGatewayAuth
	}
	if resp.StatusCode >= 500 {
		return shared.WrapError("gateway", "Request", shared.ErrServiceUnavailable,
			fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.ErrorMessage != "" {
			return shared.WrapError("gateway", "Request", shared.ErrGateway,
				fmt.Sprintf("%s (%s)", apiErr.ErrorMessage, apiErr.ErrorCode), nil)
		}
		return shared.WrapError("gateway", "Request", shared.ErrGateway,
			fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
