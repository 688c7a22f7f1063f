package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Record is one row as returned by the REST API.
type Record = map[string]any

// Client talks to a PostgREST endpoint (Supabase /rest/v1) with the service
// key. Every call goes through the retry policy; only transient failures
// are retried.
type Client struct {
	restURL  string
	key      string
	policy   Policy
	pageSize int

	http *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport (tests use httptest).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithPageSize sets the FetchAll page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New creates a Client. baseURL is the project URL, with or without the
// /rest/v1 suffix (e.g. https://xyz.supabase.co).
func New(baseURL, key string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/rest/v1")
	c := &Client{
		restURL:  base + "/rest/v1",
		key:      key,
		policy:   DefaultPolicy,
		pageSize: 1000,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PageSize reports the page size used by FetchAll.
func (c *Client) PageSize() int { return c.pageSize }

type reply struct {
	status int
	header http.Header
	body   []byte
}

// Fetch returns one page of rows of table matching filter. filter uses the
// PostgREST query syntax, e.g. "numero=like.MIG-*&exercice=eq.2024".
// Rows are ordered by id unless filter sets its own order; callers keyed on
// another column pass "order=<col>.asc" so pages stay stable.
func (c *Client) Fetch(ctx context.Context, table, filter string, fields []string, offset, limit int) ([]Record, error) {
	q, err := parseFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("postgrest: fetch %s: %w", table, err)
	}
	if len(fields) > 0 {
		q.Set("select", strings.Join(fields, ","))
	}
	if q.Get("order") == "" {
		q.Set("order", "id.asc")
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	r, err := c.do(ctx, http.MethodGet, table, q, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("postgrest: fetch %s: %w", table, err)
	}

	dec := json.NewDecoder(bytes.NewReader(r.body))
	dec.UseNumber()
	var rows []Record
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("postgrest: fetch %s: decode: %w", table, err)
	}
	return rows, nil
}

// FetchAll pages through every row of table matching filter.
func (c *Client) FetchAll(ctx context.Context, table, filter string, fields []string) ([]Record, error) {
	var all []Record
	for offset := 0; ; offset += c.pageSize {
		batch, err := c.Fetch(ctx, table, filter, fields, offset, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		slog.Debug("postgrest: page fetched", "table", table, "offset", offset, "rows", len(batch))
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
}

// Update patches the given fields of the row whose key column equals id.
// An empty key means "id".
func (c *Client) Update(ctx context.Context, table, key, id string, fields map[string]any) error {
	if key == "" {
		key = "id"
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgrest: update %s/%s: marshal: %w", table, id, err)
	}
	q := url.Values{key: {"eq." + id}}
	hdr := http.Header{"Prefer": {"return=minimal"}}
	if _, err := c.do(ctx, http.MethodPatch, table, q, payload, hdr); err != nil {
		return fmt.Errorf("postgrest: update %s/%s: %w", table, id, err)
	}
	return nil
}

// Count returns the exact number of rows of table matching filter.
func (c *Client) Count(ctx context.Context, table, filter string) (int64, error) {
	q, err := parseFilter(filter)
	if err != nil {
		return 0, fmt.Errorf("postgrest: count %s: %w", table, err)
	}
	q.Set("select", "id")
	q.Set("limit", "1")
	hdr := http.Header{"Prefer": {"count=exact"}}

	r, err := c.do(ctx, http.MethodGet, table, q, nil, hdr)
	if err != nil {
		return 0, fmt.Errorf("postgrest: count %s: %w", table, err)
	}
	n, err := parseContentRange(r.header.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("postgrest: count %s: %w", table, err)
	}
	return n, nil
}

// parseContentRange reads the total from "0-0/1234" or "*/0".
func parseContentRange(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0, fmt.Errorf("missing total in Content-Range %q", v)
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad total in Content-Range %q", v)
	}
	return n, nil
}

func parseFilter(filter string) (url.Values, error) {
	filter = strings.TrimPrefix(strings.TrimSpace(filter), "?")
	if filter == "" {
		return url.Values{}, nil
	}
	q, err := url.ParseQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("bad filter %q: %w", filter, err)
	}
	return q, nil
}

// do runs one logical request under the retry policy.
func (c *Client) do(ctx context.Context, method, table string, q url.Values, payload []byte, hdr http.Header) (*reply, error) {
	var lastErr error
	attempts := c.policy.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d := c.policy.Delay(attempt - 1)
			slog.Warn("postgrest: request failed, retrying",
				"method", method, "table", table, "attempt", attempt+1, "delay", d, "err", lastErr)
			if err := sleep(ctx, d); err != nil {
				return nil, err
			}
		}
		r, err := c.send(ctx, method, table, q, payload, hdr)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// send executes a single HTTP exchange.
func (c *Client) send(ctx context.Context, method, table string, q url.Values, payload []byte, hdr http.Header) (*reply, error) {
	u := c.restURL + "/" + table
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	slog.Debug("postgrest request", "method", method, "table", table, "query", q.Encode())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Table: table, Status: resp.StatusCode, Body: string(b)}
	}
	return &reply{status: resp.StatusCode, header: resp.Header, body: b}, nil
}
