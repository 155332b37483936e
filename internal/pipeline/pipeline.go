// Package pipeline runs a batch of scraped records through normalization,
// validation, deduplication, enrichment and the admission gate.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/record-gate/internal/anomaly"
	"github.com/sells-group/record-gate/internal/authenticity"
	"github.com/sells-group/record-gate/internal/constraint"
	"github.com/sells-group/record-gate/internal/dedupe"
	"github.com/sells-group/record-gate/internal/enrich"
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/gate"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
	"github.com/sells-group/record-gate/internal/schema"
)

// PageFiller fetches missing source-page evidence before verification.
type PageFiller interface {
	FillPages(ctx context.Context, records []*model.Record, set evidence.Set) (evidence.Set, error)
}

// Options configures a pipeline beyond the run spec.
type Options struct {
	Concurrency               int
	Now                       time.Time // processing time; zero means time.Now
	RunID                     string    // generated when empty
	RequireSourceVerification bool
	PageMatchPass             float64
	PageMatchUncertain        float64
	CustomChecks              map[string]constraint.CustomCheck
	Pages                     PageFiller   // optional
	Enricher                  *enrich.Chain // optional
}

// Pipeline holds the components for one run spec. It is safe to Run more
// than once; each run works on its own batch.
type Pipeline struct {
	spec *rules.RunSpec
	opts Options

	norm      *normalize.Normalizer
	validator *schema.Validator
	engine    *constraint.Engine
	checker   *authenticity.Checker
	detector  *anomaly.Detector
	resolver  *dedupe.Resolver
	deriver   *enrich.Deriver
	gate      *gate.Gate
}

// New builds a pipeline. An invalid spec is returned as an error wrapping
// rules.ErrInvalidSpec before any record is touched.
func New(r *rules.Rules, spec *rules.RunSpec, opts Options) (*Pipeline, error) {
	if spec == nil {
		return nil, eris.Wrap(rules.ErrInvalidSpec, "pipeline: nil run spec")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	if spec.HomeRegion != nil {
		r = r.WithHomeRegion(*spec.HomeRegion)
	}
	if spec.PhoneRegion != "" {
		cp := *r
		cp.PhoneRegion = spec.PhoneRegion
		r = &cp
	}
	norm := normalize.New(r, opts.Now)

	engine := constraint.New(r, norm, constraint.Options{
		ExperienceField:  spec.ExperienceField,
		WorkHistoryField: spec.WorkHistoryField,
	})
	for name, check := range opts.CustomChecks {
		engine.Register(name, check)
	}
	if err := spec.Validate(r, engine.CustomChecks()); err != nil {
		return nil, err
	}

	authOpts := authenticity.DefaultOptions()
	authOpts.RequireSourceVerification = opts.RequireSourceVerification
	authOpts.PagePass = opts.PageMatchPass
	authOpts.PageUncertain = opts.PageMatchUncertain
	authOpts.VerifyExclude = append(authOpts.VerifyExclude, spec.WorkHistoryField)
	authOpts.VerifyExclude = append(authOpts.VerifyExclude, spec.VerifyExclude...)
	if len(spec.ProfileFields) > 0 {
		authOpts.ProfileFields = spec.ProfileFields
	}
	authOpts.ExperienceField = spec.ExperienceField
	checker := authenticity.New(r, norm, authOpts)

	validator := schema.New(spec)
	g := gate.New(engine, checker, validator, spec.Constraints).WithClock(func() time.Time { return opts.Now })

	return &Pipeline{
		spec:      spec,
		opts:      opts,
		norm:      norm,
		validator: validator,
		engine:    engine,
		checker:   checker,
		detector:  anomaly.New(r).WithFields(spec.OutlierFields()),
		resolver:  dedupe.New(spec.Dedupe),
		deriver:   enrich.NewDeriver(norm, spec.WorkHistoryField, spec.ExperienceField),
		gate:      g,
	}, nil
}

// Rejection is a record the gate refused, with every reason.
type Rejection struct {
	Record  *model.Record           `json:"record"`
	Reasons []model.RejectionReason `json:"reasons"`
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string                 `json:"run_id"`
	Clean      []*model.Record        `json:"clean"`
	Rejected   []Rejection            `json:"rejected"`
	Groups     []model.MergeGroup     `json:"merge_groups"`
	Duplicates map[string]string      `json:"duplicates"`
	Report     model.ValidationReport `json:"report"`
	Stages     []StageTiming          `json:"stages"`
}

// AccountedIDs returns every input record ID the result accounts for: clean,
// rejected, and merged into another record. Sorted.
func (r *Result) AccountedIDs() []string {
	ids := make([]string, 0, len(r.Clean)+len(r.Rejected)+len(r.Duplicates))
	for _, rec := range r.Clean {
		ids = append(ids, rec.ID)
	}
	for _, rej := range r.Rejected {
		ids = append(ids, rej.Record.ID)
	}
	for dup := range r.Duplicates {
		ids = append(ids, dup)
	}
	sort.Strings(ids)
	return ids
}

// Run processes one batch. Records are modified in place up to the gate and
// not after. Evidence may be nil.
func (p *Pipeline) Run(ctx context.Context, records []*model.Record, set evidence.Set) (*Result, error) {
	runID := p.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("spec", p.spec.Name))
	log.Info("pipeline: starting run", zap.Int("records", len(records)))

	res := &Result{RunID: runID}
	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		ms := time.Since(start).Milliseconds()
		res.Stages = append(res.Stages, StageTiming{Name: name, DurationMs: ms})
		if err != nil {
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", ms), zap.Error(err))
			return eris.Wrapf(err, "pipeline: stage %s", name)
		}
		log.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", ms))
		return nil
	}

	if err := stage("ingest", func() error { return ingest(records) }); err != nil {
		return nil, err
	}

	if err := stage("normalize", func() error {
		return p.each(ctx, records, func(rec *model.Record) error {
			return p.norm.Record(rec, p.spec.Normalize)
		})
	}); err != nil {
		return nil, err
	}

	if err := stage("schema", func() error {
		return p.each(ctx, records, func(rec *model.Record) error {
			sch := p.validator.Validate(rec)
			v := rec.Annotate()
			v.Schema = &sch
			v.Completeness = p.validator.Completeness(rec)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	if p.opts.Pages != nil {
		if err := stage("fetch", func() error {
			filled, err := p.opts.Pages.FillPages(ctx, records, set)
			if err != nil {
				return err
			}
			set = filled
			return nil
		}); err != nil {
			return nil, err
		}
	}

	var batch authenticity.BatchSignal
	if err := stage("authenticity", func() error {
		batch = authenticity.BatchUniformity(records)
		return p.each(ctx, records, func(rec *model.Record) error {
			auth := p.checker.Check(rec, set.Get(rec.ID), batch)
			rec.Annotate().Authenticity = &auth
			return nil
		})
	}); err != nil {
		return nil, err
	}

	// Anomalies run before constraints so custom checks can read the flags.
	if err := stage("anomaly", func() error {
		flags := p.detector.Scan(records)
		for _, rec := range records {
			if f, ok := flags[rec.ID]; ok {
				rec.Annotate().Anomalies = f
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("constraints", func() error {
		return p.each(ctx, records, func(rec *model.Record) error {
			rec.Annotate().Constraints = p.engine.EvaluateAll(rec, p.spec.Constraints)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	var candidates []*model.Record
	bundles := make(map[string]evidence.Bundle)
	if err := stage("dedupe", func() error {
		dr := p.resolver.Resolve(records)
		res.Groups = dr.Groups
		res.Duplicates = dr.Duplicates
		candidates = dr.Records
		carryAnnotations(records, dr.Groups, candidates)
		for _, g := range dr.Groups {
			bundles[g.CanonicalID] = set.Merge(g.MemberIDs)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("enrich", func() error {
		for _, rec := range candidates {
			p.deriver.Derive(rec)
		}
		if p.opts.Enricher != nil {
			_, err := p.opts.Enricher.FillAll(ctx, candidates)
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}

	decisions := make([]gate.Decision, len(candidates))
	if err := stage("gate", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for i, rec := range candidates {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				b, ok := bundles[rec.ID]
				if !ok {
					b = set.Get(rec.ID)
				}
				decisions[i] = p.gate.Decide(rec, b, batch)
				return nil
			})
		}
		return g.Wait()
	}); err != nil {
		return nil, err
	}

	for _, d := range decisions {
		if d.Admitted {
			res.Clean = append(res.Clean, d.Record)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{Record: d.Record, Reasons: d.Reasons})
	}

	res.Report = gate.BuildReport(decisions, gate.ReportMeta{
		RunID:            runID,
		Name:             p.spec.Name,
		InputRecords:     len(records),
		DuplicatesMerged: len(res.Duplicates),
		BatchFlags:       batch.Flags,
		GeneratedAt:      p.opts.Now,
	})

	log.Info("pipeline: run complete",
		zap.Int("clean", len(res.Clean)),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("merged", len(res.Duplicates)),
		zap.Float64("pass_rate", res.Report.PassRate),
	)
	return res, nil
}

// each runs fn over records with bounded parallelism. Each record is touched
// by one goroutine only.
func (p *Pipeline) each(ctx context.Context, records []*model.Record, fn func(*model.Record) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(rec)
		})
	}
	return g.Wait()
}

// ingest rejects a batch whose caller-supplied IDs collide, which would make
// the output unaccountable, then assigns content IDs to the rest. Identical
// ID-less records get successive occurrence numbers so dedupe can merge them.
func ingest(records []*model.Record) error {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec == nil {
			return eris.New("pipeline: nil record in batch")
		}
		rec.ID = strings.TrimSpace(rec.ID)
		if rec.ID == "" {
			continue
		}
		if seen[rec.ID] {
			return eris.Errorf("pipeline: duplicate record_id %q", rec.ID)
		}
		seen[rec.ID] = true
	}
	for _, rec := range records {
		if rec.ID != "" {
			continue
		}
		id := rec.ContentID(0)
		for n := 1; seen[id]; n++ {
			id = rec.ContentID(n)
		}
		rec.ID = id
		seen[id] = true
	}
	return nil
}

// carryAnnotations copies the anomaly flags of every group member onto the
// merged record, which starts without a validation block.
func carryAnnotations(records []*model.Record, groups []model.MergeGroup, candidates []*model.Record) {
	byID := make(map[string]*model.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	merged := make(map[string]*model.Record, len(groups))
	for _, rec := range candidates {
		merged[rec.ID] = rec
	}
	for _, g := range groups {
		target := merged[g.CanonicalID]
		if target == nil {
			continue
		}
		seen := make(map[model.AnomalyFlag]bool)
		var flags []model.AnomalyFlag
		for _, id := range g.MemberIDs {
			src := byID[id]
			if src == nil || src.Validation == nil {
				continue
			}
			for _, f := range src.Validation.Anomalies {
				if !seen[f] {
					seen[f] = true
					flags = append(flags, f)
				}
			}
		}
		target.Annotate().Anomalies = flags
	}
}
