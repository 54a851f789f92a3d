// Package websearch provides a client for the Google Programmable Search API.
package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://customsearch.googleapis.com/customsearch/v1"

// Client performs Google Programmable Search queries.
type Client interface {
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the Custom Search JSON API response.
type SearchResponse struct {
	Items             []Item            `json:"items"`
	SearchInformation SearchInformation `json:"searchInformation"`
}

// Item represents a single search result.
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

// SearchInformation holds result metadata. TotalResults is a string in the
// wire format.
type SearchInformation struct {
	TotalResults string  `json:"totalResults"`
	SearchTime   float64 `json:"searchTime"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	num        int
	siteSearch string
}

// WithNum limits the number of results (the API caps at 10 per request).
func WithNum(n int) SearchOption {
	return func(o *searchOpts) {
		o.num = n
	}
}

// WithSiteSearch restricts results to a specific site.
func WithSiteSearch(site string) SearchOption {
	return func(o *searchOpts) {
		o.siteSearch = site
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey   string
	engineID string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Google Programmable Search client. engineID is the
// search engine ID (cx parameter).
func NewClient(apiKey, engineID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Clone request for retry (body is nil for GET requests).
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "websearch: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("websearch: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.engineID)
	q.Set("q", query)
	if so.num > 0 {
		q.Set("num", strconv.Itoa(so.num))
	}
	if so.siteSearch != "" {
		q.Set("siteSearch", so.siteSearch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "websearch: create request")
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "websearch: send request")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("websearch: unexpected status %d: %s", statusCode, string(body))
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "websearch: unmarshal response")
	}

	return &result, nil
}
