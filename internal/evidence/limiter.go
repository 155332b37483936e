package evidence

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxRetryAfter caps how long a single 429 can hold a host.
const maxRetryAfter = 2 * time.Minute

// hostThrottle paces page requests per host. A host starts at the base rate;
// every clean page raises it by a fifth, up to twice the base, and every 429
// halves it, down to a quarter. A Retry-After hint also holds the host.
type hostThrottle struct {
	base  rate.Limit
	burst int
	now   func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostPace
}

type hostPace struct {
	lim       *rate.Limiter
	heldUntil time.Time
}

func newHostThrottle(perSecond float64, burst int) *hostThrottle {
	return &hostThrottle{
		base:  rate.Limit(perSecond),
		burst: burst,
		now:   time.Now,
		hosts: make(map[string]*hostPace),
	}
}

func (t *hostThrottle) pace(host string) *hostPace {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.hosts[host]
	if !ok {
		p = &hostPace{lim: rate.NewLimiter(t.base, t.burst)}
		t.hosts[host] = p
	}
	return p
}

// wait blocks until host may be requested again.
func (t *hostThrottle) wait(ctx context.Context, host string) error {
	p := t.pace(host)

	t.mu.Lock()
	hold := p.heldUntil.Sub(t.now())
	t.mu.Unlock()

	if hold > 0 {
		timer := time.NewTimer(hold)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return p.lim.Wait(ctx)
}

func (t *hostThrottle) succeeded(host string) {
	p := t.pace(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	p.lim.SetLimit(min(p.lim.Limit()*1.2, t.base*2))
}

func (t *hostThrottle) throttled(host string, retryAfter time.Duration) {
	p := t.pace(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	next := max(p.lim.Limit()*0.5, t.base/4)
	p.lim.SetLimit(next)
	if retryAfter > 0 {
		p.heldUntil = t.now().Add(min(retryAfter, maxRetryAfter))
	}
	zap.L().Warn("evidence: host throttled",
		zap.String("host", host),
		zap.Float64("rate", float64(next)),
		zap.Duration("retry_after", retryAfter),
	)
}

func (t *hostThrottle) limit(host string) rate.Limit {
	return t.pace(host).lim.Limit()
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}
