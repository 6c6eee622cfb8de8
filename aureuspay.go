// Package aureuspay is the Go client for the Aureus payment API. It lets a
// point-of-sale application create and cancel payments, and track a payment's
// lifecycle through polling synchronization and subscriber events.
package aureuspay

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultBaseURL is the production payment API endpoint.
const DefaultBaseURL = "https://us-central1-aureus-money.cloudfunctions.net"

// Currency is a settlement currency accepted by the payment API.
type Currency string

const (
	CurrencyUSDC Currency = "USDC"
	CurrencyUSDT Currency = "USDT"
	CurrencyUSD  Currency = "USD"
)

// Valid reports whether the currency is one the API accepts.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSDC, CurrencyUSDT, CurrencyUSD:
		return true
	}
	return false
}

// Config configures the client.
type Config struct {
	// APIKey is a long-lived credential from the Aureus dashboard. Ignored
	// when Credentials is set.
	APIKey string

	// Credentials supplies the bearer credential per request. Sources that
	// implement RefreshableCredentialSource get one silent refresh-and-retry
	// on a rejected token.
	Credentials CredentialSource

	// BaseURL overrides the payment API endpoint (optional).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests when no HTTPClient is given (optional, defaults
	// to 30s).
	Timeout time.Duration

	// Logger receives client diagnostics (optional, defaults to a nop
	// logger).
	Logger *zap.Logger

	// PollInterval is the default synchronization interval for payments
	// created by this client (optional, defaults to 3s).
	PollInterval time.Duration

	// Enricher is an optional secondary record source queried once when a
	// payment is confirmed.
	Enricher Enricher
}

// Client is the payment gateway façade. It is safe for concurrent use.
type Client struct {
	transport    *transport
	logger       *zap.Logger
	enricher     Enricher
	pollInterval time.Duration
}

// PaymentSpec describes the payment to create. Amount is a decimal string;
// it is validated and submitted as a string so no precision is lost to
// binary floats.
type PaymentSpec struct {
	Amount   string
	Currency Currency
	Metadata map[string]interface{}
}

// NewClient creates a payment API client. A credential is required: either
// an APIKey or a Credentials source.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}

	creds := config.Credentials
	if creds == nil {
		if config.APIKey == "" {
			return nil, NewError(ErrCodeMalformedCredential, "API key is required; get one from your Aureus dashboard", nil)
		}
		cred := NewCredential(config.APIKey)
		if err := cred.Validate(); err != nil {
			return nil, err
		}
		creds = StaticCredential(config.APIKey)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Client{
		transport:    newTransport(baseURL, httpClient, creds, logger),
		logger:       logger,
		enricher:     config.Enricher,
		pollInterval: pollInterval,
	}, nil
}

// CreatePayment creates a new payment. Every call creates a new server-side
// resource; there is no client-side deduplication.
func (c *Client) CreatePayment(ctx context.Context, spec PaymentSpec) (*Payment, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	metadata := spec.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	// Amount goes over the wire exactly as the caller wrote it; decimal
	// validation happened in validateSpec and re-rendering could drop
	// trailing zeros the server echoes back.
	body := map[string]interface{}{
		"amount":   spec.Amount,
		"currency": string(spec.Currency),
		"metadata": metadata,
	}

	raw, err := c.transport.roundTrip(ctx, "POST", "/createPayment", body, nil)
	if err != nil {
		return nil, wrapOp("Payment creation failed", err)
	}
	return c.newPayment(raw)
}

// GetPayment fetches an existing payment by id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, NewError(ErrCodeMissingID, "paymentId is required", nil)
	}
	raw, err := c.transport.roundTrip(ctx, "GET", "/getPayment", nil, urlQuery("id", id))
	if err != nil {
		return nil, wrapOp("Get payment failed", err)
	}
	return c.newPayment(raw)
}

// CancelPayment cancels a payment and returns its cancelled state.
func (c *Client) CancelPayment(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, NewError(ErrCodeMissingID, "paymentId is required", nil)
	}
	raw, err := c.transport.roundTrip(ctx, "POST", "/cancelPayment", map[string]interface{}{
		"paymentId": id,
	}, nil)
	if err != nil {
		return nil, wrapOp("Cancel payment failed", err)
	}
	return c.newPayment(raw)
}

func (c *Client) newPayment(raw []byte) (*Payment, error) {
	return newPaymentFromResponse(raw, c.transport, c.enricher, c.logger, c.pollInterval)
}

// validateSpec enforces the creation preconditions before any network call.
func validateSpec(spec PaymentSpec) error {
	if spec.Amount == "" || spec.Currency == "" {
		return NewError(ErrCodeInvalidPaymentSpec, "amount and currency are required", nil)
	}
	if !spec.Currency.Valid() {
		return NewError(ErrCodeInvalidPaymentSpec, "currency must be one of: USDC, USDT, USD", map[string]interface{}{
			"currency": string(spec.Currency),
		})
	}
	amount, err := decimal.NewFromString(spec.Amount)
	if err != nil {
		return NewError(ErrCodeInvalidPaymentSpec, "amount must be a decimal string", map[string]interface{}{
			"amount": spec.Amount,
		})
	}
	if amount.Sign() <= 0 {
		return NewError(ErrCodeInvalidPaymentSpec, "amount must be positive", map[string]interface{}{
			"amount": spec.Amount,
		})
	}
	return nil
}
