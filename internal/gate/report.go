package gate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/record-gate/internal/model"
)

// ReportMeta carries the run-level facts the decisions do not.
type ReportMeta struct {
	RunID            string
	Name             string
	InputRecords     int
	DuplicatesMerged int
	BatchFlags       []string
	GeneratedAt      time.Time
}

// BuildReport aggregates decisions into the run report. It always returns a
// complete report, including for an empty batch.
func BuildReport(decisions []Decision, meta ReportMeta) model.ValidationReport {
	rep := model.ValidationReport{
		RunID:            meta.RunID,
		Name:             meta.Name,
		InputRecords:     meta.InputRecords,
		Candidates:       len(decisions),
		DuplicatesMerged: meta.DuplicatesMerged,
		Constraints:      make(map[string]model.ConstraintStats),
		Authenticity: model.AuthenticityStats{
			Performed: make(map[model.CheckKind]int),
			Failed:    make(map[model.CheckKind]int),
			ByReason:  make(map[model.RejectionCategory]int),
		},
		RejectionsByReason: make(map[model.RejectionCategory]int),
		AnomalyCounts:      make(map[model.AnomalyKind]int),
		BatchFlags:         meta.BatchFlags,
		GeneratedAt:        meta.GeneratedAt.UTC(),
	}

	var completeness, conf float64
	for _, d := range decisions {
		if d.Admitted {
			rep.Passed++
		} else {
			rep.Rejected++
		}
		for _, r := range d.Reasons {
			rep.RejectionsByReason[r.Category]++
		}

		v := d.Record.Validation
		if v == nil {
			continue
		}
		completeness += v.Completeness
		conf += float64(v.Confidence)

		for _, cv := range v.Constraints {
			s := rep.Constraints[cv.Name]
			switch cv.Status {
			case model.StatusPass:
				s.Pass++
			case model.StatusFail:
				s.Fail++
			default:
				s.Uncertain++
			}
			rep.Constraints[cv.Name] = s
		}
		if v.Authenticity != nil {
			for _, ch := range v.Authenticity.Checks {
				rep.Authenticity.Performed[ch.Kind]++
				if !ch.Status.Admits() {
					rep.Authenticity.Failed[ch.Kind]++
					rep.Authenticity.ByReason[ch.Category]++
				}
			}
		}
		for _, a := range v.Anomalies {
			rep.AnomalyCounts[a.Kind]++
		}
	}

	for name, s := range rep.Constraints {
		s.PassRate = percent(s.Pass, s.Pass+s.Fail+s.Uncertain)
		rep.Constraints[name] = s
	}
	rep.PassRate = percent(rep.Passed, rep.Candidates)
	if n := len(decisions); n > 0 {
		rep.AvgCompleteness = round(completeness/float64(n), 3)
		rep.AvgConfidence = round(conf/float64(n), 1)
	}
	return rep
}

// percent is part/whole as a percentage with one decimal; 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round(float64(part)*100/float64(whole), 1)
}

func round(f float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(f*p) / p
}

// FormatReport renders the report as markdown.
func FormatReport(rep model.ValidationReport) string {
	var b strings.Builder

	name := rep.Name
	if name == "" {
		name = rep.RunID
	}
	fmt.Fprintf(&b, "# Validation Report: %s\n", name)
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID)
	fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Input records: %d\n", rep.InputRecords)
	fmt.Fprintf(&b, "- Duplicates merged: %d\n", rep.DuplicatesMerged)
	fmt.Fprintf(&b, "- Candidates: %d\n", rep.Candidates)
	fmt.Fprintf(&b, "- Passed: %d\n", rep.Passed)
	fmt.Fprintf(&b, "- Rejected: %d\n", rep.Rejected)
	fmt.Fprintf(&b, "- Pass rate: %.1f%%\n", rep.PassRate)
	fmt.Fprintf(&b, "- Average completeness: %.1f%%\n", rep.AvgCompleteness*100)
	fmt.Fprintf(&b, "- Average confidence: %.1f\n\n", rep.AvgConfidence)

	b.WriteString("## Constraints\n")
	if len(rep.Constraints) == 0 {
		b.WriteString("No constraints evaluated.\n\n")
	} else {
		for _, name := range sortedKeys(rep.Constraints) {
			s := rep.Constraints[name]
			fmt.Fprintf(&b, "- **%s**: %.1f%% pass (%d pass, %d fail, %d uncertain)\n",
				name, s.PassRate, s.Pass, s.Fail, s.Uncertain)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Authenticity\n")
	if len(rep.Authenticity.Performed) == 0 {
		b.WriteString("No checks performed.\n\n")
	} else {
		for _, kind := range sortedKeys(rep.Authenticity.Performed) {
			fmt.Fprintf(&b, "- %s: %d performed, %d failed\n",
				kind, rep.Authenticity.Performed[kind], rep.Authenticity.Failed[kind])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rejections\n")
	if len(rep.RejectionsByReason) == 0 {
		b.WriteString("No rejections.\n\n")
	} else {
		for _, cat := range sortedKeys(rep.RejectionsByReason) {
			fmt.Fprintf(&b, "- %s: %d\n", cat, rep.RejectionsByReason[cat])
		}
		b.WriteString("\n")
	}

	if len(rep.AnomalyCounts) > 0 {
		b.WriteString("## Anomalies\n")
		for _, kind := range sortedKeys(rep.AnomalyCounts) {
			fmt.Fprintf(&b, "- %s: %d\n", kind, rep.AnomalyCounts[kind])
		}
		b.WriteString("\n")
	}

	if len(rep.BatchFlags) > 0 {
		b.WriteString("## Batch Flags\n")
		b.WriteString("Advisory only; not a rejection cause.\n")
		for _, f := range rep.BatchFlags {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return b.String()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
