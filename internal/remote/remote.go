// Package remote holds the small HTTP helpers shared by everything that
// talks to a content server.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conneroisu/aemfed/internal/errors"
)

// DefaultTimeout bounds every request made through NewClient.
const DefaultTimeout = 30 * time.Second

// NewClient returns the HTTP client used for server requests. Credentials
// in the target URL are sent as basic auth by net/http.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Get fetches rawURL and returns the body. Any status of 400 or above is an
// error.
func Get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WrapNetwork(err, "ERR_NETWORK_REQUEST", "invalid request for "+Redact(rawURL))
	}
	return Do(client, req)
}

// Do sends req and returns the body of a successful response.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	endpoint := Redact(req.URL.String())

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError(req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetworkError(req.Method, endpoint, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return body, errors.NewNetworkError(req.Method, endpoint,
			fmt.Errorf("unexpected status %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode)
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, v interface{}) error {
	body, err := Get(ctx, client, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeParse, "ERR_PARSE_JSON", "invalid JSON from "+Redact(rawURL))
	}
	return nil
}

// Redact hides the password of a URL for logging.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}

// Host returns the host[:port] part of a server URL, which names the
// server in logs and reports.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
