package daraja

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulehub/shule-fees-hub/internal/domain/gateway"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.ConsumerKey = "key"
	cfg.ConsumerSecret = "secret"
	cfg.ShortCode = "174379"
	cfg.Passkey = "passkey"
	cfg.CallbackURL = "https://fees.example.sc.ke/api/v1/payments/gateway-callback"
	return cfg
}

func TestClient_Initiate(t *testing.T) {
	var pushBody stkPushRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/oauth"):
			assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Basic "))
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: "3599"})
		case r.URL.Path == "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushBody))
			json.NewEncoder(w).Encode(stkPushResponse{
				MerchantRequestID:   "mr-100",
				CheckoutRequestID:   "ws_CO_123",
				ResponseCode:        "0",
				ResponseDescription: "Success. Request accepted for processing",
				CustomerMessage:     "Confirm on your phone",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)

	resp, err := client.Initiate(context.Background(), gateway.InitiateRequest{
		PhoneNumber: "0712345678",
		Amount:      "15000",
		AccountRef:  "STU-001",
		Description: "Term 1 fees",
	})
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_123", resp.CheckoutRequestID)
	assert.Equal(t, "mr-100", resp.MerchantRequestID)
	assert.Equal(t, "Confirm on your phone", resp.CustomerMessage)

	// The wire request carries the normalized phone on both party fields.
	assert.Equal(t, "254712345678", pushBody.PhoneNumber)
	assert.Equal(t, "254712345678", pushBody.PartyA)
	assert.Equal(t, "174379", pushBody.PartyB)
	assert.Equal(t, "15000", pushBody.Amount)
	assert.NotEmpty(t, pushBody.Password)
	assert.Len(t, pushBody.Timestamp, 14)
}

func TestClient_Initiate_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth") {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: "3599"})
			return
		}
		json.NewEncoder(w).Encode(stkPushResponse{
			ResponseCode:        "1",
			ResponseDescription: "Invalid Amount",
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)

	_, err := client.Initiate(context.Background(), gateway.InitiateRequest{
		PhoneNumber: "0712345678",
		Amount:      "0",
	})
	assert.ErrorIs(t, err, shared.ErrGateway)
}

func TestClient_Initiate_InvalidPhone(t *testing.T) {
	client := NewClient(testConfig("http://gateway.invalid"), nil)

	_, err := client.Initiate(context.Background(), gateway.InitiateRequest{
		PhoneNumber: "not-a-phone",
		Amount:      "100",
	})
	assert.ErrorIs(t, err, shared.ErrInvalidPhoneNumber)
}

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth") {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: "3599"})
			return
		}
		assert.Equal(t, "/mpesa/stkpushquery/v1/query", r.URL.Path)
		json.NewEncoder(w).Encode(stkQueryResponse{
			ResponseCode:      "0",
			MerchantRequestID: "mr-100",
			CheckoutRequestID: "ws_CO_123",
			ResultCode:        "1032",
			ResultDesc:        "Request cancelled by user",
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)

	result, err := client.Query(context.Background(), "ws_CO_123")
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_123", result.CheckoutRequestID)
	assert.Equal(t, 1032, result.ResultCode)
	assert.False(t, result.Succeeded())
}

func TestClient_TokenCached(t *testing.T) {
	tokenCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth") {
			tokenCalls++
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: "3599"})
			return
		}
		json.NewEncoder(w).Encode(stkQueryResponse{
			ResponseCode: "0", ResultCode: "0", ResultDesc: "ok",
			CheckoutRequestID: "ws_CO_123",
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)

	_, err := client.Query(context.Background(), "ws_CO_123")
	require.NoError(t, err)
	_, err = client.Query(context.Background(), "ws_CO_123")
	require.NoError(t, err)

	assert.Equal(t, 1, tokenCalls)
}

func TestClient_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)

	_, err := client.Query(context.Background(), "ws_CO_123")
	assert.ErrorIs(t, err, shared.ErrGateway)
}
