// Package airtable is a minimal client for the Airtable REST API covering
// what the uploader needs: batched record creation, single-record updates,
// and formula-filtered lookups. Airtable enforces 5 requests per second per
// base, so the client carries a rate limiter.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/inbox-pipeline/internal/resilience"
)

const (
	defaultBaseURL = "https://api.airtable.com/v0"

	// MaxBatchSize is Airtable's per-request record limit.
	MaxBatchSize = 10
)

// Client performs record operations against one Airtable base.
type Client interface {
	CreateRecords(ctx context.Context, table string, records []Record) ([]Record, error)
	UpdateRecord(ctx context.Context, table, recordID string, fields Fields) (*Record, error)
	ListRecords(ctx context.Context, table string, opts ListOptions) ([]Record, error)
}

// Fields is one record's column values.
type Fields map[string]any

// Record is an Airtable record. ID is empty on creation input.
type Record struct {
	ID     string `json:"id,omitempty"`
	Fields Fields `json:"fields"`
}

// ListOptions narrows a record listing.
type ListOptions struct {
	FilterByFormula string
	MaxRecords      int
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseID  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client scoped to one base.
func NewClient(apiKey, baseID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseID:  baseID,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type recordsEnvelope struct {
	Records []Record `json:"records"`
}

// CreateRecords creates up to MaxBatchSize records in one call and returns
// them with their assigned ids.
func (c *httpClient) CreateRecords(ctx context.Context, table string, records []Record) ([]Record, error) {
	if len(records) > MaxBatchSize {
		return nil, eris.Errorf("airtable: batch of %d exceeds limit %d", len(records), MaxBatchSize)
	}

	var out recordsEnvelope
	err := c.do(ctx, http.MethodPost, c.tableURL(table), recordsEnvelope{Records: records}, &out)
	if err != nil {
		return nil, err
	}
	return out.Records, nil
}

// UpdateRecord patches the given fields on one record, leaving others intact.
func (c *httpClient) UpdateRecord(ctx context.Context, table, recordID string, fields Fields) (*Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPatch,
		c.tableURL(table)+"/"+url.PathEscape(recordID),
		Record{Fields: fields}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRecords fetches records matching the options. Pagination is not
// followed; set MaxRecords to bound the response.
func (c *httpClient) ListRecords(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	u := c.tableURL(table)
	q := url.Values{}
	if opts.FilterByFormula != "" {
		q.Set("filterByFormula", opts.FilterByFormula)
	}
	if opts.MaxRecords > 0 {
		q.Set("maxRecords", strconv.Itoa(opts.MaxRecords))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var out recordsEnvelope
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *httpClient) tableURL(table string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(table))
}

func (c *httpClient) do(ctx context.Context, method, u string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "airtable: rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "airtable: marshal request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return eris.Wrap(err, "airtable: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "airtable: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "airtable: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := eris.Errorf("airtable: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "airtable: unmarshal response")
		}
	}
	return nil
}
