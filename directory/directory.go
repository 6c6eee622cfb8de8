// Package directory is a read-only client for the business directory
// service, which resolves an API credential to the business profile and
// blockchain destination addresses configured for it. The payment lifecycle
// treats this data as opaque; it is display and enrichment material, not
// state-machine input.
package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	aureuspay "github.com/aureus-money/aureuspay-go"
)

// Chain is one blockchain destination configured for a business.
type Chain struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Tokens  []string `json:"tokens"`
}

// BusinessProfile is the directory's record for the credential's subject.
type BusinessProfile struct {
	BusinessName string  `json:"businessName"`
	Chains       []Chain `json:"chains"`
}

// Config configures the directory client.
type Config struct {
	// BaseURL overrides the directory endpoint (optional, defaults to the
	// payment API endpoint).
	BaseURL string

	// Credentials supplies the bearer credential per request.
	Credentials aureuspay.CredentialSource

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Logger receives client diagnostics (optional).
	Logger *zap.Logger
}

// Client talks to the business directory. It also satisfies
// aureuspay.Enricher via PaymentRecord.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      aureuspay.CredentialSource
	logger     *zap.Logger
}

var _ aureuspay.Enricher = (*Client)(nil)

// NewClient creates a directory client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = aureuspay.DefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		creds:      config.Credentials,
		logger:     logger,
	}
}

// ResolveBusiness looks up the business profile for the current credential.
// Malformed EVM-style destination addresses are logged, not rejected; the
// directory owns its data.
func (c *Client) ResolveBusiness(ctx context.Context) (*BusinessProfile, error) {
	var profile BusinessProfile
	if err := c.get(ctx, "/getBusiness", nil, &profile); err != nil {
		return nil, err
	}
	for _, chain := range profile.Chains {
		if strings.HasPrefix(chain.Address, "0x") && !common.IsHexAddress(chain.Address) {
			c.logger.Warn("directory returned malformed EVM address",
				zap.String("chain", chain.ID),
				zap.String("address", chain.Address))
		}
	}
	return &profile, nil
}

// PaymentRecord fetches the directory's settlement record for a payment.
// This implements the aureuspay.Enricher capability, so a directory client
// can serve as the secondary source for confirmed-payment data.
func (c *Client) PaymentRecord(ctx context.Context, id string) (map[string]interface{}, error) {
	if id == "" {
		return nil, aureuspay.NewError(aureuspay.ErrCodeMissingID, "paymentId is required", nil)
	}
	var record map[string]interface{}
	if err := c.get(ctx, "/getPaymentRecord", url.Values{"id": {id}}, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return aureuspay.NewError(aureuspay.ErrCodeRequestError, "failed to create directory request: "+err.Error(), nil)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return aureuspay.NewError(aureuspay.ErrCodeRequestError, "failed to obtain credential: "+err.Error(), nil)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return aureuspay.NewError(aureuspay.ErrCodeNoResponse, "no response from directory", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return aureuspay.NewError(aureuspay.ErrCodeUnauthorized, "credential rejected by directory", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return aureuspay.NewError(aureuspay.ErrCodeServerRejected, http.StatusText(resp.StatusCode), map[string]interface{}{
			"statusCode": resp.StatusCode,
		})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return aureuspay.NewError(aureuspay.ErrCodeServerRejected, "failed to decode directory response: "+err.Error(), nil)
	}
	return nil
}
