// Package monitoring raises quality alerts for validation runs: a single
// run admitting too little of its batch, and the run history as a whole
// going bad.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/config"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowPassRate       AlertType = "low_pass_rate"
	AlertUnverifiableSurge AlertType = "unverifiable_surge"
	AlertRunFailureRate    AlertType = "run_failure_rate"
)

// Severity ranks alerts for the receiving channel.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// minFinishedRuns is how many finished runs a failure rate needs to mean
// anything.
const minFinishedRuns = 5

// Alert is the webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter checks run reports and history snapshots against the configured
// thresholds and posts breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates an Alerter. Webhook posts retry transient failures a
// few times with a short backoff.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.RetryFromConfig(3, 200*time.Millisecond, 2*time.Second),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether alerts have somewhere to go.
func (a *Alerter) Enabled() bool {
	return a != nil && a.cfg.WebhookURL != ""
}

func (a *Alerter) alert(kind AlertType, sev Severity, runID string, details map[string]any, format string, args ...any) Alert {
	return Alert{
		Type:      kind,
		Severity:  sev,
		RunID:     runID,
		Message:   fmt.Sprintf(format, args...),
		Details:   details,
		Timestamp: a.now(),
	}
}

// EvaluateRun checks one finished run. Batches smaller than MinCandidates
// never alert.
func (a *Alerter) EvaluateRun(rep model.ValidationReport) []Alert {
	if rep.Candidates == 0 || rep.Candidates < a.cfg.MinCandidates {
		return nil
	}

	var alerts []Alert
	if rep.PassRate < a.cfg.MinPassRate {
		alerts = append(alerts, a.alert(AlertLowPassRate, SeverityMedium, rep.RunID,
			map[string]any{
				"pass_rate":  rep.PassRate,
				"threshold":  a.cfg.MinPassRate,
				"candidates": rep.Candidates,
				"passed":     rep.Passed,
			},
			"Run %s (%s) admitted %.1f%% of %d candidates, below %.1f%%",
			rep.RunID, rep.Name, rep.PassRate, rep.Candidates, a.cfg.MinPassRate,
		))
	}

	// Mostly-unverifiable rejections point at broken evidence collection.
	if rep.Rejected > 0 && a.cfg.UnverifiableThreshold > 0 {
		unverifiable := rep.RejectionsByReason[model.RejectUnverifiable]
		share := float64(unverifiable) / float64(rep.Rejected)
		if share > a.cfg.UnverifiableThreshold {
			alerts = append(alerts, a.alert(AlertUnverifiableSurge, SeverityHigh, rep.RunID,
				map[string]any{
					"unverifiable": unverifiable,
					"rejected":     rep.Rejected,
					"threshold":    a.cfg.UnverifiableThreshold,
				},
				"Run %s: %d of %d rejections are unverifiable (%.0f%%)",
				rep.RunID, unverifiable, rep.Rejected, share*100,
			))
		}
	}
	return alerts
}

// Evaluate checks a history snapshot.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, a.alert(AlertRunFailureRate, SeverityHigh, "",
			map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			"%d of %d runs in the last %dh failed (%.1f%%, threshold %.1f%%)",
			snap.RunsFailed, finished, snap.LookbackHours,
			snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
		))
	}

	if snap.Candidates > 0 && snap.Candidates >= a.cfg.MinCandidates && snap.PassRate < a.cfg.MinPassRate {
		alerts = append(alerts, a.alert(AlertLowPassRate, SeverityMedium, "",
			map[string]any{
				"pass_rate":  snap.PassRate,
				"threshold":  a.cfg.MinPassRate,
				"candidates": snap.Candidates,
			},
			"Runs in the last %dh admitted %.1f%% of %d candidates, below %.1f%%",
			snap.LookbackHours, snap.PassRate, snap.Candidates, a.cfg.MinPassRate,
		))
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered. Failures are logged, not returned.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() {
		return 0
	}

	sent := 0
	for _, al := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, al)
		})
		if err != nil {
			zap.L().Error("monitoring: alert not delivered",
				zap.String("type", string(al.Type)),
				zap.String("run_id", al.RunID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert delivered",
			zap.String("type", string(al.Type)),
			zap.String("severity", string(al.Severity)),
			zap.String("run_id", al.RunID),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	payload, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: post webhook"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return resilience.StatusError("monitoring webhook", resp.StatusCode)
	}
	return nil
}
