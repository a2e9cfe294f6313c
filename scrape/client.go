package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rosterhq/roster/errors"
)

// Client is a Scraper backed by a remote scraping provider's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a provider client. timeout bounds the whole request
// including body read.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	Usernames []string `json:"usernames"`
	MaxCount  int      `json:"max_count"`
}

type providerProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Scrape runs one batch against the provider. Network failures and 5xx
// responses come back transient; 4xx responses are permanent.
func (c *Client) Scrape(ctx context.Context, req Request) ([]Record, error) {
	body, err := json.Marshal(providerRequest{
		Usernames: req.Accounts,
		MaxCount:  req.PerAccountMax,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal scrape request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/followers", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build scrape request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, TransientError(err, "scrape request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, TransientError(errors.Newf("provider returned %d", resp.StatusCode), "scrape request failed upstream")
	}
	if resp.StatusCode >= 400 {
		return nil, PermanentError(errors.Newf("provider returned %d", resp.StatusCode), "scrape request rejected")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransientError(err, "failed to read scrape response")
	}

	var profiles []providerProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, PermanentError(err, "failed to decode scrape response")
	}

	records := make([]Record, 0, len(profiles))
	for _, p := range profiles {
		if p.Username == "" {
			continue
		}
		id := p.ID
		if id == "" {
			id = p.Username
		}
		records = append(records, Record{ProfileID: id, Username: p.Username, FullName: p.FullName})
	}
	return records, nil
}
