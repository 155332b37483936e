package constraint

import (
	"strings"

	"github.com/sells-group/record-gate/internal/model"
)

// minSeverity reads params.min_severity, defaulting to MEDIUM.
func minSeverity(spec model.ConstraintSpec) model.Severity {
	if s, ok := spec.Params["min_severity"].(string); ok && s != "" {
		return model.Severity(strings.ToUpper(s))
	}
	return model.SeverityMedium
}

// noOutliers fails when the record carries an outlier flag for the target
// field (any field when blank) at or above params.min_severity. It reads the
// anomaly flags attached by the batch scan.
func noOutliers(rec *model.Record, spec model.ConstraintSpec) model.ConstraintVerdict {
	return anomalyCheck(rec, spec, func(k model.AnomalyKind) bool { return k == model.AnomalyOutlier }, "no outliers")
}

// noContentIssues fails on HTML remnants, block-page markers or short text.
func noContentIssues(rec *model.Record, spec model.ConstraintSpec) model.ConstraintVerdict {
	return anomalyCheck(rec, spec, func(k model.AnomalyKind) bool { return k != model.AnomalyOutlier }, "no content issues")
}

func anomalyCheck(rec *model.Record, spec model.ConstraintSpec, match func(model.AnomalyKind) bool, expected string) model.ConstraintVerdict {
	v := model.ConstraintVerdict{Expected: expected}
	threshold := minSeverity(spec).Rank()

	var hits []string
	if rec.Validation != nil {
		for _, a := range rec.Validation.Anomalies {
			if !match(a.Kind) || a.Severity.Rank() < threshold {
				continue
			}
			if spec.Field != "" && a.Field != spec.Field {
				continue
			}
			hits = append(hits, a.Field+":"+string(a.Kind))
		}
	}
	if len(hits) > 0 {
		v.Actual = strings.Join(hits, ", ")
		fail(&v, 90, "%d anomaly flags", len(hits))
		return v
	}
	v.Actual = "none"
	pass(&v, 90)
	return v
}
