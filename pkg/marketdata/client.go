// Package marketdata provides a client for the fundamentals and index
// membership endpoints of the market data API.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/screener-cli/internal/resilience"
)

// Client defines the market data operations used by the screening pipeline.
type Client interface {
	// IndexMembers returns the ordered, de-duplicated member tickers of an
	// equity index (e.g. "UKX").
	IndexMembers(ctx context.Context, index string) ([]string, error)
	// Fundamentals fetches field values for a set of tickers. Absent fields
	// come back as missing values, not errors.
	Fundamentals(ctx context.Context, req FundamentalsRequest) (*FundamentalsResponse, error)
}

// FieldSpec identifies one fundamentals field with its fiscal-period and
// currency parameters.
type FieldSpec struct {
	Field        string `json:"field"`
	PeriodType   string `json:"period_type,omitempty"`   // "LTM" or "A"; empty = latest
	PeriodOffset int    `json:"period_offset,omitempty"` // fiscal-year offset, 0 = current
	Currency     string `json:"currency,omitempty"`
	Fill         string `json:"fill,omitempty"` // e.g. "PREV" to carry forward stale prices
}

// Key returns the unique column key for this spec, e.g. "return_com_eqy[-1]".
func (f FieldSpec) Key() string {
	if f.PeriodOffset != 0 {
		return fmt.Sprintf("%s[%d]", f.Field, f.PeriodOffset)
	}
	return f.Field
}

// FundamentalsRequest is the declarative request submitted to the service.
type FundamentalsRequest struct {
	Tickers []string    `json:"tickers"`
	Fields  []FieldSpec `json:"fields"`
	Mode    string      `json:"mode,omitempty"` // "live" or "cached"
}

// Validate checks a request before dispatch.
func (r FundamentalsRequest) Validate() error {
	if len(r.Tickers) == 0 {
		return eris.New("marketdata: request has no tickers")
	}
	if len(r.Fields) == 0 {
		return eris.New("marketdata: request has no fields")
	}
	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if f.Field == "" {
			return eris.New("marketdata: field spec with empty field name")
		}
		switch f.PeriodType {
		case "", "LTM", "A":
		default:
			return eris.Errorf("marketdata: unknown period type %q for field %s", f.PeriodType, f.Field)
		}
		key := f.Key()
		if seen[key] {
			return eris.Errorf("marketdata: duplicate field %s", key)
		}
		seen[key] = true
	}
	if r.Mode != "" && r.Mode != ModeLive && r.Mode != ModeCached {
		return eris.Errorf("marketdata: unknown mode %q", r.Mode)
	}
	return nil
}

// Execution modes. Cached asks the service for its last computed value
// rather than forcing a fresh calculation.
const (
	ModeLive   = "live"
	ModeCached = "cached"
)

// Value is one field observation. Missing marks fields the service could
// not supply for a ticker.
type Value struct {
	Float   float64
	Missing bool
}

// Record maps FieldSpec keys to values for a single ticker.
type Record map[string]Value

// Warning is a non-fatal data quality notice, most commonly a currency
// mismatch between the requested and the reporting currency. Callers
// screening across a mixed-currency universe ignore these.
type Warning struct {
	Ticker  string `json:"ticker"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FundamentalsResponse holds per-ticker records aligned to the request.
type FundamentalsResponse struct {
	Records  map[string]Record
	Warnings []Warning
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		// A fractional rps truncates to a zero burst, which would make
		// every Wait fail; keep at least one token.
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBatchSize sets the maximum tickers per fundamentals request.
func WithBatchSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxConcurrent bounds the number of in-flight batch requests.
func WithMaxConcurrent(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithRetryConfig overrides the retry behavior for transient failures.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retryCfg = cfg
	}
}

// WithCircuitBreaker overrides the circuit breaker guarding the service.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *httpClient) {
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	batchSize     int
	maxConcurrent int
	http          *http.Client
	limiter       *rate.Limiter
	retryCfg      resilience.RetryConfig
	breaker       *resilience.CircuitBreaker
}

// NewClient creates a market data client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://api.marketdata.sellsadvisors.com/v1",
		batchSize:     100,
		maxConcurrent: 4,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(10, 10),
		retryCfg: resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			// Business errors (404s, bad requests) must not trip the breaker.
			ShouldTrip: resilience.IsTransient,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// membersResponse is the wire shape of the index members endpoint.
type membersResponse struct {
	Index   string   `json:"index"`
	Members []string `json:"members"`
}

// fundamentalsColumn is one field's values across tickers on the wire.
type fundamentalsColumn struct {
	Field        string             `json:"field"`
	PeriodType   string             `json:"period_type,omitempty"`
	PeriodOffset int                `json:"period_offset,omitempty"`
	Values       map[string]float64 `json:"values"`
}

// fundamentalsResponse is the wire shape of the fundamentals endpoint.
type fundamentalsResponse struct {
	Columns  []fundamentalsColumn `json:"columns"`
	Warnings []Warning            `json:"warnings,omitempty"`
}

// httpResult is one completed exchange: body plus status. Non-transient
// statuses (404, 400) flow back to the caller for interpretation.
type httpResult struct {
	body   []byte
	status int
}

// retryDo executes an HTTP request through the circuit breaker, retrying
// transient failures (429, 5xx, dropped connections) with backoff.
func (c *httpClient) retryDo(ctx context.Context, build func() (*http.Request, error)) ([]byte, int, error) {
	res, err := resilience.DoVal(ctx, c.retryCfg, func(ctx context.Context) (httpResult, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (httpResult, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return httpResult{}, err
			}

			req, err := build()
			if err != nil {
				return httpResult{}, err
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return httpResult{}, err
			}

			body, err := readBody(resp)
			if err != nil {
				return httpResult{}, eris.Wrap(err, "marketdata: read response body")
			}

			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return httpResult{}, resilience.NewTransientError(
					eris.Errorf("marketdata: status %d: %s", resp.StatusCode, string(body)),
					resp.StatusCode,
				)
			}
			return httpResult{body: body, status: resp.StatusCode}, nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return res.body, res.status, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	return buf.Bytes(), err
}

func (c *httpClient) IndexMembers(ctx context.Context, index string) ([]string, error) {
	if index == "" {
		return nil, eris.New("marketdata: index is required")
	}

	reqURL := fmt.Sprintf("%s/indexes/%s/members", c.baseURL, url.PathEscape(index))
	body, statusCode, err := c.retryDo(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, eris.Wrap(err, "marketdata: members request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, eris.Errorf("marketdata: unknown index %q", index)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("marketdata: members unexpected status %d: %s", statusCode, string(body))
	}

	var result membersResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "marketdata: unmarshal members response")
	}

	// De-duplicate preserving service order.
	seen := make(map[string]bool, len(result.Members))
	members := make([]string, 0, len(result.Members))
	for _, m := range result.Members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		members = append(members, m)
	}
	return members, nil
}

func (c *httpClient) Fundamentals(ctx context.Context, req FundamentalsRequest) (*FundamentalsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	chunks := chunkTickers(req.Tickers, c.batchSize)

	var mu sync.Mutex
	merged := &FundamentalsResponse{
		Records: make(map[string]Record, len(req.Tickers)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)
	for _, chunk := range chunks {
		g.Go(func() error {
			part, err := c.fetchChunk(gctx, FundamentalsRequest{
				Tickers: chunk,
				Fields:  req.Fields,
				Mode:    req.Mode,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for ticker, rec := range part.Records {
				merged.Records[ticker] = rec
			}
			merged.Warnings = append(merged.Warnings, part.Warnings...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Warning order must not depend on chunk completion order.
	sort.Slice(merged.Warnings, func(i, j int) bool {
		if merged.Warnings[i].Ticker != merged.Warnings[j].Ticker {
			return merged.Warnings[i].Ticker < merged.Warnings[j].Ticker
		}
		return merged.Warnings[i].Field < merged.Warnings[j].Field
	})

	return merged, nil
}

// fetchChunk executes one fundamentals request and aligns the column-major
// wire response into per-ticker records. Tickers absent from a column get a
// missing value so every requested ticker has a complete record.
func (c *httpClient) fetchChunk(ctx context.Context, req FundamentalsRequest) (*FundamentalsResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "marketdata: marshal fundamentals request")
	}

	reqURL := c.baseURL + "/fundamentals"
	body, statusCode, err := c.retryDo(ctx, func() (*http.Request, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "marketdata: fundamentals request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("marketdata: fundamentals unexpected status %d: %s", statusCode, string(body))
	}

	var result fundamentalsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "marketdata: unmarshal fundamentals response")
	}

	resp := &FundamentalsResponse{
		Records:  make(map[string]Record, len(req.Tickers)),
		Warnings: result.Warnings,
	}
	for _, ticker := range req.Tickers {
		resp.Records[ticker] = make(Record, len(req.Fields))
	}

	byKey := make(map[string]fundamentalsColumn, len(result.Columns))
	for _, col := range result.Columns {
		spec := FieldSpec{Field: col.Field, PeriodType: col.PeriodType, PeriodOffset: col.PeriodOffset}
		byKey[spec.Key()] = col
	}

	for _, f := range req.Fields {
		key := f.Key()
		col, ok := byKey[key]
		for _, ticker := range req.Tickers {
			if !ok {
				resp.Records[ticker][key] = Value{Missing: true}
				continue
			}
			v, present := col.Values[ticker]
			if !present {
				resp.Records[ticker][key] = Value{Missing: true}
				continue
			}
			resp.Records[ticker][key] = Value{Float: v}
		}
	}

	return resp, nil
}

// chunkTickers splits tickers into batches of at most size.
func chunkTickers(tickers []string, size int) [][]string {
	if size <= 0 || len(tickers) <= size {
		return [][]string{tickers}
	}
	var chunks [][]string
	for start := 0; start < len(tickers); start += size {
		end := start + size
		if end > len(tickers) {
			end = len(tickers)
		}
		chunks = append(chunks, tickers[start:end])
	}
	return chunks
}
