package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/resilience"
)

// HTTPProviderConfig describes a JSON enrichment endpoint.
type HTTPProviderConfig struct {
	Name              string
	URL               string
	APIKey            string
	Fields            []string
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             resilience.RetryConfig
}

// HTTPProvider posts {"record": ..., "fields": [...]} to an endpoint and
// reads {"values": {...}} back. Calls are rate limited, retried on
// transient failures and stopped by a circuit breaker when the endpoint
// keeps failing.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

type lookupRequest struct {
	Record map[string]any `json:"record"`
	Fields []string       `json:"fields"`
}

type lookupResponse struct {
	Values map[string]any `json:"values"`
}

// NewHTTPProvider creates a provider. breaker may be shared with other
// callers of the same endpoint; nil creates a private one.
func NewHTTPProvider(cfg HTTPProviderConfig, breaker *resilience.CircuitBreaker) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(cfg.Name, "lookup")
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.BreakerFromConfig(0, 0))
	}
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}
}

func (p *HTTPProvider) Name() string     { return p.cfg.Name }
func (p *HTTPProvider) Fields() []string { return p.cfg.Fields }

func (p *HTTPProvider) CanProvide(field string) bool {
	return slices.Contains(p.cfg.Fields, field)
}

// Lookup calls the endpoint once per record, retrying transient failures.
// An open circuit fails fast with resilience.ErrCircuitOpen.
func (p *HTTPProvider) Lookup(ctx context.Context, rec *model.Record, fields []string) (map[string]any, error) {
	body, err := json.Marshal(lookupRequest{Record: scrapedFields(rec), Fields: fields})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: encode lookup")
	}

	return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (map[string]any, error) {
		return resilience.DoVal(ctx, p.cfg.Retry, func(ctx context.Context) (map[string]any, error) {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "enrich: rate limiter wait")
			}
			return p.post(ctx, body)
		})
	})
}

func (p *HTTPProvider) post(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: %s: create request", p.cfg.Name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: %s: post", p.cfg.Name)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, resilience.StatusError("enrich: "+p.cfg.Name, resp.StatusCode)
	}

	var out lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, eris.Wrapf(err, "enrich: %s: decode response", p.cfg.Name)
	}
	return out.Values, nil
}

// scrapedFields is the record without provenance and validation fields.
func scrapedFields(rec *model.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		if !model.IsInternalField(k) {
			out[k] = v
		}
	}
	return out
}
