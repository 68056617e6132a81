package producer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamhub/pkg/types"
)

var insightTemplates = []struct {
	title    string
	severity string
	services []string
}{
	{"Workflow completion rate trending down", "medium", []string{"workflows", "scheduler"}},
	{"Calendar sync latency above baseline", "low", []string{"calendar", "integrations"}},
	{"CRM record churn spike detected", "high", []string{"crm", "data-pipeline"}},
	{"Notification delivery backlog growing", "medium", []string{"notifications"}},
}

var predictionTemplates = []struct {
	metric   string
	impact   string
	services []string
}{
	{"daily_active_automations", "positive", []string{"workflows"}},
	{"integration_error_rate", "negative", []string{"integrations", "crm"}},
	{"event_throughput", "neutral", []string{"hub"}},
}

// SyntheticAnalytics is a local stand-in for the upstream analytics
// collaborator, so the hub produces material without external services.
type SyntheticAnalytics struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticAnalytics creates a generator seeded from the current time.
func NewSyntheticAnalytics() *SyntheticAnalytics {
	return &SyntheticAnalytics{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// GenerateInsights synthesizes a small batch of insights.
func (a *SyntheticAnalytics) GenerateInsights(_ context.Context) ([]*types.Insight, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 1 + a.rng.Intn(2)
	out := make([]*types.Insight, 0, n)
	for i := 0; i < n; i++ {
		tpl := insightTemplates[a.rng.Intn(len(insightTemplates))]
		expires := time.Now().Add(24 * time.Hour)
		out = append(out, &types.Insight{
			ID:               uuid.New().String(),
			Title:            tpl.title,
			Description:      "Derived from the most recent operational window.",
			Confidence:       0.7 + a.rng.Float64()*0.25,
			Severity:         tpl.severity,
			AffectedServices: tpl.services,
			GeneratedAt:      time.Now(),
			ExpiresAt:        &expires,
		})
	}
	return out, nil
}

// PredictTrends synthesizes one prediction per known metric.
func (a *SyntheticAnalytics) PredictTrends(_ context.Context) ([]*types.Prediction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	out := make([]*types.Prediction, 0, len(predictionTemplates))
	for _, tpl := range predictionTemplates {
		out = append(out, &types.Prediction{
			ID:               uuid.New().String(),
			Metric:           tpl.metric,
			PredictedValue:   a.rng.Float64() * 100,
			Confidence:       0.6 + a.rng.Float64()*0.3,
			Impact:           tpl.impact,
			AffectedServices: tpl.services,
			Horizon:          "7d",
			GeneratedAt:      now,
			UpdatedAt:        now,
		})
	}
	return out, nil
}
