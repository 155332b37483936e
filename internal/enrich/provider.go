package enrich

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/resilience"
)

// Provider looks up field values for a record from an outside source.
type Provider interface {
	Name() string
	Fields() []string
	CanProvide(field string) bool
	// Lookup returns values for some of the requested fields. Fields it has
	// no answer for are simply absent from the result.
	Lookup(ctx context.Context, rec *model.Record, fields []string) (map[string]any, error)
}

// Chain asks providers in order. A field filled by one provider is not
// requested from later ones.
type Chain struct {
	providers   []Provider
	concurrency int

	mu    sync.Mutex
	stats map[string]*ProviderStats
}

// ProviderStats counts a provider's activity over a chain's lifetime.
type ProviderStats struct {
	Calls    int            `json:"calls"`
	Filled   int            `json:"filled"`
	Failures map[string]int `json:"failures,omitempty"` // by error class
}

// NewChain creates a chain. concurrency bounds FillAll; 0 means 4.
func NewChain(concurrency int, providers ...Provider) *Chain {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Chain{providers: providers, concurrency: concurrency, stats: make(map[string]*ProviderStats)}
}

// Providers returns the provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Fill requests every missing field some provider can supply. Provider
// failures are logged and skipped; the record keeps whatever earlier
// providers returned. It returns the fields filled.
func (c *Chain) Fill(ctx context.Context, rec *model.Record) ([]string, error) {
	var filled []string
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return filled, eris.Wrap(err, "enrich: fill")
		}

		want := c.missing(rec, p)
		if len(want) == 0 {
			continue
		}

		values, err := p.Lookup(ctx, rec, want)
		if err != nil {
			c.count(p.Name(), err, 0)
			zap.L().Warn("enrich: provider lookup failed",
				zap.String("provider", p.Name()),
				zap.String("record_id", rec.ID),
				zap.String("error_class", string(resilience.ClassifyError(err))),
				zap.Error(err),
			)
			continue
		}

		got := c.apply(rec, p.Name(), want, values)
		c.count(p.Name(), nil, len(got))
		filled = append(filled, got...)
	}
	return filled, nil
}

// FillAll runs Fill over records concurrently. Records are independent, so
// each is mutated by one goroutine only.
func (c *Chain) FillAll(ctx context.Context, records []*model.Record) (int, error) {
	if len(c.providers) == 0 {
		return 0, nil
	}
	var mu sync.Mutex
	total := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, rec := range records {
		g.Go(func() error {
			filled, err := c.Fill(gctx, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			total += len(filled)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	zap.L().Info("enrich: fields filled", zap.Int("records", len(records)), zap.Int("fields", total))
	return total, nil
}

// Stats returns a copy of the per-provider counters.
func (c *Chain) Stats() map[string]ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ProviderStats, len(c.stats))
	for name, s := range c.stats {
		cp := *s
		cp.Failures = maps.Clone(s.Failures)
		out[name] = cp
	}
	return out
}

func (c *Chain) missing(rec *model.Record, p Provider) []string {
	var want []string
	for _, f := range p.Fields() {
		if p.CanProvide(f) && !rec.Has(f) && !slices.Contains(want, f) {
			want = append(want, f)
		}
	}
	return want
}

// apply sets the returned values for requested, still-missing fields and
// records the provider in _enriched_by.
func (c *Chain) apply(rec *model.Record, provider string, want []string, values map[string]any) []string {
	var got []string
	for _, f := range want {
		v, ok := values[f]
		if !ok || model.IsBlank(v) || rec.Has(f) {
			continue
		}
		rec.Set(f, v)
		got = append(got, f)
	}
	if len(got) == 0 {
		return nil
	}
	sort.Strings(got)

	by := enrichedBy(rec)
	for _, f := range got {
		by[f] = provider
	}
	rec.Set(EnrichedByField, by)
	return got
}

func (c *Chain) count(provider string, err error, filled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[provider]
	if !ok {
		s = &ProviderStats{}
		c.stats[provider] = s
	}
	s.Calls++
	s.Filled += filled
	if err != nil {
		if s.Failures == nil {
			s.Failures = make(map[string]int)
		}
		s.Failures[string(resilience.ClassifyError(err))]++
	}
}

func enrichedBy(rec *model.Record) map[string]any {
	out := make(map[string]any)
	v, _ := rec.Get(EnrichedByField)
	switch t := v.(type) {
	case map[string]any:
		maps.Copy(out, t)
	case map[string]string:
		for k, s := range t {
			out[k] = s
		}
	}
	return out
}

// StaticProvider answers from an in-memory table keyed by a record field.
// It backs lookups from a reference file loaded ahead of a run.
type StaticProvider struct {
	name   string
	key    string
	fields []string
	rows   map[string]map[string]any
}

// NewStaticProvider creates a provider that matches records by the folded
// value of key.
func NewStaticProvider(name, key string, rows map[string]map[string]any) *StaticProvider {
	idx := make(map[string]map[string]any, len(rows))
	seen := make(map[string]bool)
	var fields []string
	for k, row := range rows {
		idx[foldKey(k)] = row
		for f := range row {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Strings(fields)
	return &StaticProvider{name: name, key: key, fields: fields, rows: idx}
}

func (s *StaticProvider) Name() string                 { return s.name }
func (s *StaticProvider) Fields() []string             { return s.fields }
func (s *StaticProvider) CanProvide(field string) bool { return slices.Contains(s.fields, field) }

func (s *StaticProvider) Lookup(_ context.Context, rec *model.Record, fields []string) (map[string]any, error) {
	v, ok := rec.Get(s.key)
	if !ok {
		return nil, nil
	}
	row, ok := s.rows[foldKey(v)]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if val, ok := row[f]; ok {
			out[f] = val
		}
	}
	return out, nil
}

func foldKey(v any) string { return normalize.FoldValue(v) }
