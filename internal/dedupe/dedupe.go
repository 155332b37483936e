// Package dedupe merges records that denote the same real-world entity. An
// exact phase groups by a composite key; a fuzzy phase compares the records
// the exact phase left alone. Every disagreement resolved during a merge is
// recorded for audit.
package dedupe

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
)

// DefaultCompareFields are the fields the fuzzy phase compares.
var DefaultCompareFields = []string{"name", "company", "title", "location", "email"}

// minCompared is the fewest shared fields a fuzzy pair needs. A lone
// matching name is not enough to call two records the same entity.
const minCompared = 2

// SourceField, when present on a record, names the source for priority
// resolution. Otherwise the source URL host is used.
const SourceField = "source"

// Resolver configures entity resolution.
type Resolver struct {
	KeyFields      []string
	Threshold      float64
	SourcePriority []string
	CompareFields  []string
	Fuzzy          bool
	Blocking       bool
}

// New builds a Resolver from a run's dedupe settings.
func New(spec rules.DedupeSpec) *Resolver {
	r := &Resolver{
		KeyFields:      spec.Keys,
		Threshold:      spec.Threshold,
		SourcePriority: spec.SourcePriority,
		CompareFields:  DefaultCompareFields,
		Fuzzy:          spec.Fuzzy == nil || *spec.Fuzzy,
		Blocking:       spec.Blocking,
	}
	if len(r.KeyFields) == 0 {
		r.KeyFields = []string{"canonical_url"}
	}
	if r.Threshold == 0 {
		r.Threshold = 0.85
	}
	return r
}

// Result is the outcome of Resolve.
type Result struct {
	Records    []*model.Record    // merged records and untouched singletons, input order
	Groups     []model.MergeGroup // one per merged entity
	Duplicates map[string]string  // duplicate record ID -> canonical record ID
}

// Resolve runs the exact and fuzzy phases and merges each group. Input
// records are not modified; merged records are clones of their canonical.
func (r *Resolver) Resolve(records []*model.Record) Result {
	res := Result{Duplicates: make(map[string]string)}

	uf := newUnionFind(len(records))
	phase := make(map[int]model.MergePhase)
	keys := make(map[int]string)

	first := make(map[string]int)
	for i, rec := range records {
		k, ok := r.exactKey(rec)
		if !ok {
			continue
		}
		if j, seen := first[k]; seen {
			uf.union(j, i)
			phase[j] = model.MergeExact
			keys[j] = k
			continue
		}
		first[k] = i
	}

	if r.Fuzzy {
		var pending []int
		for i := range records {
			if uf.size(i) == 1 {
				pending = append(pending, i)
			}
		}
		blocks := map[string][]int{"": pending}
		if r.Blocking {
			blocks = make(map[string][]int)
			for _, i := range pending {
				b := blockKey(records[i])
				blocks[b] = append(blocks[b], i)
			}
		}
		for _, members := range blocks {
			for a := 0; a < len(members); a++ {
				for b := a + 1; b < len(members); b++ {
					i, j := members[a], members[b]
					if r.FuzzyMatch(records[i], records[j]) {
						uf.union(i, j)
					}
				}
			}
		}
	}

	groups := make(map[int][]int)
	for i := range records {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	for i, rec := range records {
		members := groups[uf.find(i)]
		if members[0] != i {
			continue
		}
		if len(members) == 1 {
			res.Records = append(res.Records, rec)
			continue
		}
		p := model.MergeFuzzy
		if ph, ok := phase[i]; ok {
			p = ph
		}
		group := make([]*model.Record, len(members))
		for n, m := range members {
			group[n] = records[m]
		}
		merged, mg := r.merge(group, p)
		mg.Key = keys[i]
		res.Records = append(res.Records, merged)
		res.Groups = append(res.Groups, mg)
		for _, m := range members[1:] {
			res.Duplicates[records[m].ID] = rec.ID
		}
	}
	return res
}

// exactKey builds the composite key. Any blank component makes the record
// unique.
func (r *Resolver) exactKey(rec *model.Record) (string, bool) {
	parts := make([]string, 0, len(r.KeyFields))
	for _, f := range r.KeyFields {
		v, _ := rec.Get(f)
		s := normalize.FoldValue(v)
		if s == "" {
			return "", false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), true
}

// FuzzyMatch reports whether a strict majority of the compared fields (those
// populated on both records, at least two) are similar at the threshold.
func (r *Resolver) FuzzyMatch(a, b *model.Record) bool {
	compared, similar := 0, 0
	for _, f := range r.CompareFields {
		va, okA := a.String(f)
		vb, okB := b.String(f)
		if !okA || !okB || va == "" || vb == "" {
			continue
		}
		compared++
		if Similarity(va, vb) >= r.Threshold {
			similar++
		}
	}
	return compared >= minCompared && similar*2 > compared
}

// Similarity is the normalized edit-distance ratio of the folded values.
func Similarity(a, b string) float64 {
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	if fa == fb {
		return 1
	}
	return levenshtein.Similarity(fa, fb, nil)
}

// blockKey is the registrable domain of the record's site or email.
func blockKey(rec *model.Record) string {
	for _, f := range []string{"canonical_url", "website"} {
		if s, ok := rec.String(f); ok && s != "" {
			if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
				if d, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname())); err == nil {
					return d
				}
			}
		}
	}
	if s, ok := rec.String("email"); ok {
		if at := strings.LastIndex(s, "@"); at >= 0 {
			if d, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(s[at+1:])); err == nil {
				return d
			}
		}
	}
	return ""
}

// Source names where a record came from: its source field, else the host of
// its source URL without "www.".
func Source(rec *model.Record) string {
	if s, ok := rec.String(SourceField); ok && s != "" {
		return s
	}
	if u, err := url.Parse(rec.SourceURL); err == nil {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return ""
}

func (r *Resolver) merge(group []*model.Record, phase model.MergePhase) (*model.Record, model.MergeGroup) {
	canon := group[0]
	merged := canon.Clone()
	mg := model.MergeGroup{
		CanonicalID:    canon.ID,
		Phase:          phase,
		SourcePriority: r.SourcePriority,
		Conflicts:      []model.Conflict{},
	}
	for _, g := range group {
		mg.MemberIDs = append(mg.MemberIDs, g.ID)
	}

	fieldSet := make(map[string]bool)
	for _, g := range group {
		for f := range g.Fields {
			if !model.IsInternalField(f) {
				fieldSet[f] = true
			}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		var values []model.SourcedValue
		for _, g := range group {
			v, ok := g.Get(f)
			if !ok || model.IsBlank(v) {
				continue
			}
			values = append(values, model.SourcedValue{RecordID: g.ID, Source: Source(g), Value: v})
		}
		if len(values) == 0 {
			continue
		}
		if agree(values) {
			merged.Set(f, values[0].Value)
			continue
		}
		winner, rule := r.resolve(values)
		merged.Set(f, winner.Value)
		mg.Conflicts = append(mg.Conflicts, model.Conflict{
			Field:         f,
			Values:        values,
			Winner:        winner.Value,
			WinningSource: winner.Source,
			Rule:          rule,
		})
	}

	merged.Annotate().MergedFrom = append([]string(nil), mg.MemberIDs[1:]...)
	return merged, mg
}

func (r *Resolver) resolve(values []model.SourcedValue) (model.SourcedValue, string) {
	for _, p := range r.SourcePriority {
		for _, v := range values {
			if strings.EqualFold(v.Source, p) {
				return v, "source_priority"
			}
		}
	}
	best := values[0]
	for _, v := range values[1:] {
		if len(render(v.Value)) > len(render(best.Value)) {
			best = v
		}
	}
	return best, "longest"
}

func agree(values []model.SourcedValue) bool {
	key := compareKey(values[0].Value)
	for _, v := range values[1:] {
		if compareKey(v.Value) != key {
			return false
		}
	}
	return true
}

func compareKey(v any) string {
	if s, ok := model.ScalarString(v); ok {
		return normalize.Fold(s)
	}
	return render(v)
}

func render(v any) string {
	if s, ok := model.ScalarString(v); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

type unionFind struct {
	parent []int
	count  []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), count: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
		u.count[i] = 1
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the lower index as root so the earliest record stays canonical.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.count[ra] += u.count[rb]
}

func (u *unionFind) size(i int) int {
	return u.count[u.find(i)]
}
