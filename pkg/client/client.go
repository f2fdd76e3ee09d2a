package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/hashledger/internal/auditor"
	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/query"
	"github.com/jmerrifield20/hashledger/internal/verifier"
)

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("not found")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 20

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("ledger api %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("ledger api %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Entry is a ledger entry as returned by the API.
type Entry = ledger.Entry

// ListOptions narrows a List call. Nil range bounds are omitted.
type ListOptions struct {
	Operation        string
	TextQuery        string
	FromIndex        *int64
	ToIndexInclusive *int64
}

// ListResult is the body of GET /ledger/entries.
type ListResult struct {
	Entries []*Entry    `json:"entries"`
	Count   int         `json:"count"`
	Stats   query.Stats `json:"stats"`
}

// Overview is the body of GET /ledger.
type Overview struct {
	Entries       int64  `json:"entries"`
	Root          string `json:"root"`
	HashAlgorithm string `json:"hash_algorithm"`
}

// Client talks to a ledger server over HTTP.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a caller token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append appends an entry and returns it as stored.
func (c *Client) Append(ctx context.Context, operation string, data map[string]any) (*Entry, error) {
	var e Entry
	body := map[string]any{"operation": operation, "data": data}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/ledger/entries", nil, body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns entries matching opts.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	if opts.Operation != "" {
		q.Set("operation", opts.Operation)
	}
	if opts.TextQuery != "" {
		q.Set("textQuery", opts.TextQuery)
	}
	setRange(q, opts.FromIndex, opts.ToIndexInclusive)

	var res ListResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/entries", q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns the entry at index.
func (c *Client) Get(ctx context.Context, index int64) (*Entry, error) {
	var e Entry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/entries/"+strconv.FormatInt(index, 10), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Tail returns the newest entry.
func (c *Client) Tail(ctx context.Context) (*Entry, error) {
	var e Entry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/tail", nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Verify asks the server to verify the chain, or the given index range.
func (c *Client) Verify(ctx context.Context, from, to *int64) (*verifier.Result, error) {
	q := url.Values{}
	setRange(q, from, to)
	var res verifier.Result
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/verify", q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Operations returns the distinct operations in the ledger.
func (c *Client) Operations(ctx context.Context) ([]string, error) {
	var res struct {
		Operations []string `json:"operations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/operations", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Operations, nil
}

// Overview returns the chain length, root hash and algorithm.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger", nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Audit returns the server's latest background audit report.
func (c *Client) Audit(ctx context.Context) (*auditor.Report, error) {
	var r auditor.Report
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/audit", nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func setRange(q url.Values, from, to *int64) {
	if from != nil {
		q.Set("fromIndex", strconv.FormatInt(*from, 10))
	}
	if to != nil {
		q.Set("toIndexInclusive", strconv.FormatInt(*to, 10))
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, reqBody, respBody any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var rdr io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var eb struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.RequestID = eb.RequestID
		}
		return apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// VerifyLocal downloads every entry and verifies the chain on this side of
// the wire with h. A nil h selects the algorithm the server reports.
func (c *Client) VerifyLocal(ctx context.Context, h ledger.Hasher) (*verifier.Result, error) {
	if h == nil {
		o, err := c.Overview(ctx)
		if err != nil {
			return nil, err
		}
		if h, err = ledger.HasherByName(o.HashAlgorithm); err != nil {
			return nil, err
		}
	}
	list, err := c.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	res := verifier.Verify(list.Entries, verifier.WithHasher(h))
	return &res, nil
}
