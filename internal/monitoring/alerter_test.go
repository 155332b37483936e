package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/config"
	"github.com/sells-group/record-gate/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(webhook string) config.MonitoringConfig {
	return config.MonitoringConfig{
		WebhookURL:            webhook,
		MinPassRate:           20,
		MinCandidates:         10,
		UnverifiableThreshold: 0.5,
		FailureRateThreshold:  0.2,
		LookbackWindowHours:   24,
	}
}

func TestAlerter_EvaluateRun_Healthy(t *testing.T) {
	a := NewAlerter(testConfig(""))
	alerts := a.EvaluateRun(model.ValidationReport{
		RunID: "run-1", Candidates: 50, Passed: 30, Rejected: 20, PassRate: 60,
		RejectionsByReason: map[model.RejectionCategory]int{model.RejectMissingRequired: 20},
	})
	assert.Empty(t, alerts)
}

func TestAlerter_EvaluateRun_LowPassRate(t *testing.T) {
	a := NewAlerter(testConfig(""))
	alerts := a.EvaluateRun(model.ValidationReport{
		RunID: "run-1", Name: "leads", Candidates: 40, Passed: 4, Rejected: 36, PassRate: 10,
		RejectionsByReason: map[model.RejectionCategory]int{model.RejectConstraintFailed: 36},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowPassRate, alerts[0].Type)
	assert.Equal(t, "run-1", alerts[0].RunID)
	assert.Contains(t, alerts[0].Message, "10.0%")
}

func TestAlerter_EvaluateRun_UnverifiableSurge(t *testing.T) {
	a := NewAlerter(testConfig(""))
	alerts := a.EvaluateRun(model.ValidationReport{
		RunID: "run-2", Candidates: 20, Passed: 10, Rejected: 10, PassRate: 50,
		RejectionsByReason: map[model.RejectionCategory]int{model.RejectUnverifiable: 8, model.RejectSyntheticData: 2},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnverifiableSurge, alerts[0].Type)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
}

func TestAlerter_EvaluateRun_SmallBatchIgnored(t *testing.T) {
	a := NewAlerter(testConfig(""))
	alerts := a.EvaluateRun(model.ValidationReport{Candidates: 3, Rejected: 3, PassRate: 0})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Snapshot(t *testing.T) {
	a := NewAlerter(testConfig(""))

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsComplete: 6, RunsFailed: 4, RunFailRate: 0.4,
		Candidates: 100, Passed: 50, PassRate: 50, LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)

	alerts = a.Evaluate(&MetricsSnapshot{
		RunsComplete: 2, RunsFailed: 2, RunFailRate: 0.5,
		Candidates: 100, Passed: 5, PassRate: 5, LookbackHours: 24,
	})
	require.Len(t, alerts, 1, "failure rate needs five finished runs")
	assert.Equal(t, AlertLowPassRate, alerts[0].Type)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var last Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(testConfig(srv.URL))
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertLowPassRate, Severity: SeverityMedium, RunID: "run-9"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, "run-9", last.RunID)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(testConfig(srv.URL))
	a.retry.InitialBackoff = time.Millisecond
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate}}))
	assert.Equal(t, int32(3), calls.Load(), "transient statuses are retried")
}

func TestAlerter_SendAlerts_RetriesThenDelivers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(testConfig(srv.URL))
	a.retry.InitialBackoff = time.Millisecond
	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertLowPassRate}}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewAlerter(testConfig(srv.URL))
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertLowPassRate}}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_Disabled(t *testing.T) {
	a := NewAlerter(testConfig(""))
	assert.False(t, a.Enabled())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertLowPassRate}}))

	var nilAlerter *Alerter
	assert.False(t, nilAlerter.Enabled())
}
