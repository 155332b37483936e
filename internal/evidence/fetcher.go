package evidence

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/resilience"
)

// FetchOptions configures the page fetcher.
type FetchOptions struct {
	UserAgent         string
	Timeout           time.Duration
	MaxBodyBytes      int64
	RequestsPerSecond float64 // per host
	Burst             int
	Concurrency       int
	Retry             resilience.RetryConfig
	BlockMarkers      []string
}

// Fetcher downloads source pages ahead of a run and turns every outcome into
// evidence: a usable page is "fetched"; errors, blocks and exhausted retries
// are "unreachable". It never returns an error for a single page.
type Fetcher struct {
	client   *http.Client
	opts     FetchOptions
	now      func() time.Time
	throttle *hostThrottle
}

// NewFetcher creates a Fetcher with defaults filled in.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; record-gate/1.0)"
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("page_fetch", "get")
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		now:      time.Now,
		throttle: newHostThrottle(opts.RequestsPerSecond, opts.Burst),
	}
}

type page struct {
	body   []byte
	status int
}

// FetchPage downloads one page and returns it as evidence.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) *PageEvidence {
	ev := &PageEvidence{URL: rawURL, FetchedAt: f.now().UTC()}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		ev.Status = StatusUnreachable
		ev.Error = "invalid url"
		return ev
	}
	p, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (page, error) {
		if err := f.throttle.wait(ctx, u.Host); err != nil {
			return page{}, eris.Wrap(err, "evidence: throttle wait")
		}
		return f.get(ctx, rawURL, u.Host)
	})
	if err != nil {
		zap.L().Debug("evidence: page unreachable", zap.String("url", rawURL), zap.Error(err))
		ev.Status = StatusUnreachable
		ev.Error = err.Error()
		return ev
	}

	ev.Status = StatusFetched
	ev.HTML = string(p.body)
	text, err := PageText(ev.HTML, rawURL)
	if err != nil || text == "" {
		ev.Status = StatusUnreachable
		ev.Error = "no extractable text"
		return ev
	}
	ev.Text = text
	return ev
}

func (f *Fetcher) get(ctx context.Context, rawURL, host string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page{}, eris.Wrap(err, "evidence: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return page{}, eris.Wrap(err, "evidence: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return page{}, eris.Wrap(err, "evidence: read body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		f.throttle.throttled(host, retryAfter(resp.Header, f.now()))
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return page{}, resilience.NewTransientError(eris.Errorf("evidence: status %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	}

	if blocked, bt := DetectBlock(resp, body, f.opts.BlockMarkers...); blocked {
		return page{}, eris.Errorf("evidence: blocked (%s)", bt)
	}
	if resp.StatusCode >= 400 {
		return page{}, eris.Errorf("evidence: status %d from %s", resp.StatusCode, rawURL)
	}

	f.throttle.succeeded(host)
	return page{body: body, status: resp.StatusCode}, nil
}

// FillPages fetches the source page of every record that has a source URL
// and no page evidence yet. Existing evidence is never replaced. The returned
// set is a copy; the input is not modified.
func (f *Fetcher) FillPages(ctx context.Context, records []*model.Record, set Set) (Set, error) {
	out := make(Set, len(set)+len(records))
	for k, v := range set {
		out[k] = v
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	fetched := 0
	for _, rec := range records {
		if rec.SourceURL == "" || out[rec.ID].Page != nil {
			continue
		}
		g.Go(func() error {
			ev := f.FetchPage(gctx, rec.SourceURL)
			mu.Lock()
			b := out[rec.ID]
			b.Page = ev
			out[rec.ID] = b
			fetched++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "evidence: fill pages")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "evidence: fill pages")
	}

	zap.L().Info("evidence: pages fetched", zap.Int("count", fetched))
	return out, nil
}
