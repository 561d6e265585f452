package handlers

import (
	"context"

	"github.com/jmylchreest/revsync-api/internal/service"
)

// MetricsQuery is the read side of stored metrics snapshots.
type MetricsQuery interface {
	GetLatestMetrics(ctx context.Context, appID string) (*service.LatestMetrics, error)
	GetWeeklyMetricsHistory(ctx context.Context, appID, metric string) (*service.WeeklyHistory, error)
	GetAllDebugData(ctx context.Context, appID string) (*service.DebugData, error)
}

// MetricsHandler handles the metrics query endpoints.
type MetricsHandler struct {
	svc MetricsQuery
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(svc MetricsQuery) *MetricsHandler {
	return &MetricsHandler{svc: svc}
}

// GetLatestMetricsOutput represents the latest metrics response.
type GetLatestMetricsOutput struct {
	Body *service.LatestMetrics
}

// GetLatestMetrics returns stock values from the latest snapshot date and
// flow totals over the trailing 30 days, per platform and unified.
func (h *MetricsHandler) GetLatestMetrics(ctx context.Context, input *AppPathInput) (*GetLatestMetricsOutput, error) {
	latest, err := h.svc.GetLatestMetrics(ctx, input.AppID)
	if err != nil {
		return nil, serviceError(err, "get latest metrics")
	}
	return &GetLatestMetricsOutput{Body: latest}, nil
}

// GetWeeklyMetricsInput represents the weekly history request.
type GetWeeklyMetricsInput struct {
	AppID  string `path:"appId" minLength:"1" doc:"App ID"`
	Metric string `query:"metric" default:"mrr" doc:"Metric name, e.g. mrr, activeSubscribers, firstPayments, monthlyRevenueGross"`
}

// GetWeeklyMetricsOutput represents the weekly history response.
type GetWeeklyMetricsOutput struct {
	Body *service.WeeklyHistory
}

// GetWeeklyMetrics returns one metric's weekly series per platform. Stock
// metrics take each week's last value; flow metrics are summed.
func (h *MetricsHandler) GetWeeklyMetrics(ctx context.Context, input *GetWeeklyMetricsInput) (*GetWeeklyMetricsOutput, error) {
	history, err := h.svc.GetWeeklyMetricsHistory(ctx, input.AppID, input.Metric)
	if err != nil {
		return nil, serviceError(err, "get weekly metrics")
	}
	return &GetWeeklyMetricsOutput{Body: history}, nil
}

// GetDebugDataOutput represents the debug dump response.
type GetDebugDataOutput struct {
	Body *service.DebugData
}

// GetDebugData returns every stored snapshot plus the latest session trail.
func (h *MetricsHandler) GetDebugData(ctx context.Context, input *AppPathInput) (*GetDebugDataOutput, error) {
	data, err := h.svc.GetAllDebugData(ctx, input.AppID)
	if err != nil {
		return nil, serviceError(err, "get debug data")
	}
	return &GetDebugDataOutput{Body: data}, nil
}
