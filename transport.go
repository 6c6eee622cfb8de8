package aureuspay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// transport is the authenticated HTTP layer shared by the gateway client and
// each payment's synchronizer. It attaches the bearer credential to every
// request, classifies failures, and holds no payment state.
type transport struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	logger     *zap.Logger
}

func newTransport(baseURL string, httpClient *http.Client, creds CredentialSource, logger *zap.Logger) *transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transport{
		baseURL:    baseURL,
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
	}
}

// roundTrip issues one authenticated request and returns the raw response
// body. On a 401 it refreshes the credential once, when the source supports
// it, and retries the identical request once.
func (t *transport) roundTrip(ctx context.Context, method, path string, body interface{}, query url.Values) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, NewError(ErrCodeRequestError, fmt.Sprintf("failed to encode request body: %s", err), nil)
		}
	}

	token, err := t.creds.Token(ctx)
	if err != nil {
		return nil, NewError(ErrCodeRequestError, fmt.Sprintf("failed to obtain credential: %s", err), nil)
	}

	resp, responseBody, err := t.send(ctx, method, path, payload, query, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		refresher, ok := t.creds.(RefreshableCredentialSource)
		if !ok {
			t.logger.Warn("credential rejected and source cannot refresh; generate a new API key",
				zap.String("path", path))
			return nil, NewError(ErrCodeUnauthorized, "credential rejected by server", nil)
		}

		token, err = refresher.Refresh(ctx)
		if err != nil {
			t.logger.Warn("credential refresh failed", zap.Error(err))
			return nil, NewError(ErrCodeUnauthorized, fmt.Sprintf("credential refresh failed: %s", err), nil)
		}

		t.logger.Debug("retrying request after credential refresh", zap.String("path", path))
		resp, responseBody, err = t.send(ctx, method, path, payload, query, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, NewError(ErrCodeUnauthorized, "credential rejected after refresh", nil)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(ErrCodeServerRejected, serverMessage(resp.StatusCode, responseBody), map[string]interface{}{
			"statusCode": resp.StatusCode,
		})
	}

	return json.RawMessage(responseBody), nil
}

// send performs a single attempt. Failures to build the request are
// request_error; failures after the request went out are no_response.
func (t *transport) send(ctx context.Context, method, path string, payload []byte, query url.Values, token string) (*http.Response, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, nil, NewError(ErrCodeRequestError, fmt.Sprintf("failed to create request: %s", err), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, NewError(ErrCodeNoResponse, "no response from server", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, NewError(ErrCodeNoResponse, "failed to read response body", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	return resp, responseBody, nil
}

// serverMessage extracts the error message from a rejected response's body,
// trying the known error fields and falling back to the HTTP status text.
func serverMessage(statusCode int, body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return http.StatusText(statusCode)
}

const defaultTimeout = 30 * time.Second
