// Package salesforce wraps the go-salesforce REST client behind the small
// surface the delivery layer needs: SOQL queries, single-record writes, and
// batched collection updates, optionally throttled by a rate limiter.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the Salesforce API surface used when delivering pipeline
// summaries to subject records.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, object string, fields map[string]any) (string, error)
	UpdateOne(ctx context.Context, object, id string, fields map[string]any) error
	UpdateCollection(ctx context.Context, object string, records []CollectionRecord) ([]CollectionResult, error)
}

// CollectionRecord is one record in a batched update: the target record id
// and the fields to set on it.
type CollectionRecord struct {
	ID     string         `json:"Id"`
	Fields map[string]any `json:"fields"`
}

// CollectionResult reports the outcome for one record of a batched write.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// ClientOption configures the client wrapper.
type ClientOption func(*sfClient)

// WithRateLimit throttles API calls to rps per second, with a burst of
// max(int(rps), 1). Non-positive rates leave the client unthrottled.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// sfClient adapts *salesforce.Salesforce to Client. The underlying library
// takes no context, so ctx governs only the rate-limiter wait; callers can
// still cancel out of a throttled backlog.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialized go-salesforce instance. Calls are
// unthrottled unless WithRateLimit is given.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}

func (c *sfClient) InsertOne(ctx context.Context, object string, fields map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sf: rate limit")
	}
	res, err := c.sf.InsertOne(object, fields)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", object)
	}
	if !res.Success {
		return "", eris.Errorf("sf: insert %s failed: %v", object, res.Errors)
	}
	return res.Id, nil
}

func (c *sfClient) UpdateOne(ctx context.Context, object, id string, fields map[string]any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	fields["Id"] = id
	if err := c.sf.UpdateOne(object, fields); err != nil {
		return eris.Wrapf(err, "sf: update %s %s", object, id)
	}
	return nil
}

func (c *sfClient) UpdateCollection(ctx context.Context, object string, records []CollectionRecord) ([]CollectionResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sf: rate limit")
	}

	payload := make([]map[string]any, len(records))
	for i, rec := range records {
		m := make(map[string]any, len(rec.Fields)+1)
		for k, v := range rec.Fields {
			m[k] = v
		}
		m["Id"] = rec.ID
		payload[i] = m
	}

	res, err := c.sf.UpdateCollection(object, payload, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: update collection %s", object)
	}

	out := make([]CollectionResult, len(res.Results))
	for i, r := range res.Results {
		var errs []string
		for _, e := range r.Errors {
			errs = append(errs, e.Message)
		}
		out[i] = CollectionResult{ID: r.Id, Success: r.Success, Errors: errs}
	}
	return out, nil
}
