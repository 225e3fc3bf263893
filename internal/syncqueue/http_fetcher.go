package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPError is a non-2xx answer from the authoritative endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("authoritative fetch: http %d: %s", e.StatusCode, e.Body)
}

// TokenSource returns a bearer token that authenticates as ownerID.
type TokenSource func(ownerID uint64) (string, error)

// HTTPFetcher pulls family snapshots from the API's /sync/families endpoint.
type HTTPFetcher struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewHTTPFetcher(baseURL string, tokens TokenSource) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type familyEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Items []Item `json:"items"`
	} `json:"data"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, fam Family) ([]Item, error) {
	token, err := f.tokens(fam.OwnerID)
	if err != nil {
		return nil, Permanent(fmt.Errorf("sign token: %w", err))
	}

	endpoint := f.baseURL + "/sync/families/" + url.PathEscape(fam.EntityType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(herr)
		}
		return nil, herr
	}

	var env familyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode family snapshot: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("authoritative fetch: %s", env.Message)
	}
	return env.Data.Items, nil
}
