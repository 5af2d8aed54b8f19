package usecase

import (
	"context"
	"math"
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	Approved         int64   `json:"approved"`
	Rejected         int64   `json:"rejected"`
	ManualReview     int64   `json:"manual_review"`
	Errors           int64   `json:"errors"`
	ApprovalRate     float64 `json:"approval_rate"`
	AverageScore     float64 `json:"average_score"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.Total,
		Approved:         aggregation.Approved,
		Rejected:         aggregation.Rejected,
		ManualReview:     aggregation.ManualReview,
		Errors:           aggregation.Errors,
		AverageScore:     math.Round(aggregation.AvgScore*1e4) / 1e4,
		AverageLatencyMs: aggregation.AvgLatencyMs,
	}
	if aggregation.Total > 0 {
		summary.ApprovalRate = float64(aggregation.Approved) / float64(aggregation.Total)
	}
	return summary, nil
}
