package client

import (
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
)

// ErrNotFound is returned when the server does not know the chain or record.
var ErrNotFound = errors.New("not found")

// Verdicts reported by Verify.
const (
	VerdictValid        = "VALID"
	VerdictUncommitted  = "VALID_BUT_UNCOMMITTED_APPENDS"
	VerdictTampered     = "TAMPERED"
	VerdictInconclusive = "INCONCLUSIVE"
)

// ChainSummary describes one served chain. Error is set when the server
// could not read the artifact.
type ChainSummary struct {
	Name      string `json:"name"`
	Log       string `json:"log"`
	Artifact  string `json:"artifact"`
	Algorithm string `json:"algorithm,omitempty"`
	Format    string `json:"format,omitempty"`
	Records   int    `json:"records"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Checkpoint is an anchored commitment to an artifact prefix.
type Checkpoint struct {
	Index      int       `json:"index"`
	ID         string    `json:"id"`
	LogName    string    `json:"log_name"`
	Records    int       `json:"records"`
	Head       string    `json:"head"`
	Algorithm  string    `json:"algorithm"`
	AnchoredAt time.Time `json:"anchored_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// ChainDetail is returned by Chain.
type ChainDetail struct {
	ChainSummary
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Report is the result of a server-side verification.
type Report struct {
	ID              string `json:"id"`
	Verdict         string `json:"verdict"`
	Kind            string `json:"kind,omitempty"`
	Index           *int   `json:"index,omitempty"`
	Expected        string `json:"expected,omitempty"`
	Actual          string `json:"actual,omitempty"`
	LogLines        int    `json:"log_lines"`
	ArtifactRecords int    `json:"artifact_records"`
	Compared        int    `json:"compared"`
	Algorithm       string `json:"algorithm"`
	Format          string `json:"format"`
	Head            string `json:"head,omitempty"`
}

// Record is one artifact entry.
type Record struct {
	Index       int    `json:"index"`
	LineDigest  string `json:"line_digest"`
	ChainDigest string `json:"chain_digest"`
}

// RecordPage is one window of records returned by Records.
type RecordPage struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	From    int      `json:"from"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Client talks to a linechain serve instance.
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
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithBearerToken attaches a token minted by `linechain token` to every
// request, for servers with auth enabled.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ListChains returns every chain the server is configured with.
func (c *Client) ListChains(ctx context.Context) ([]ChainSummary, error) {
	var wrapper struct {
		Chains []ChainSummary `json:"chains"`
	}
	if err := c.get(ctx, "/api/v1/chains", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Chains, nil
}

// Chain returns the summary of one chain and its latest checkpoint, if any.
func (c *Client) Chain(ctx context.Context, name string) (*ChainDetail, error) {
	var d ChainDetail
	if err := c.get(ctx, chainPath(name), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Verify asks the server to verify a chain. With anchored set the chain's
// latest checkpoint is enforced too. Every verdict is returned as a Report;
// an error means no verdict was produced.
func (c *Client) Verify(ctx context.Context, name string, anchored bool) (*Report, error) {
	q := url.Values{}
	if anchored {
		q.Set("anchor", "true")
	}
	var rep Report
	if err := c.get(ctx, chainPath(name)+"/verify", q, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Records returns up to limit records starting at from.
func (c *Client) Records(ctx context.Context, name string, from, limit int) (*RecordPage, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page RecordPage
	if err := c.get(ctx, chainPath(name)+"/records", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Record returns the record at idx.
func (c *Client) Record(ctx context.Context, name string, idx int) (*Record, error) {
	var rec Record
	if err := c.get(ctx, chainPath(name)+"/records/"+strconv.Itoa(idx), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Checkpoints returns the chain's checkpoints, newest first.
func (c *Client) Checkpoints(ctx context.Context, name string) ([]Checkpoint, error) {
	var wrapper struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	if err := c.get(ctx, chainPath(name)+"/checkpoints", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Checkpoints, nil
}

func chainPath(name string) string {
	return "/api/v1/chains/" + url.PathEscape(name)
}

// get performs a GET and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.base + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
