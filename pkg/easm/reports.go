package easm

import (
	"context"
	"fmt"
	"strings"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// AssetSummary is one aggregation bucket from a summarize report.
type AssetSummary struct {
	DisplayName    string         `json:"displayName"`
	MetricCategory string         `json:"metricCategory,omitempty"`
	Metric         string         `json:"metric,omitempty"`
	Filter         string         `json:"filter,omitempty"`
	Count          int            `json:"count"`
	Children       []AssetSummary `json:"children,omitempty"`
	Raw            map[string]any `json:"-"`
}

// RiskObservations groups risk metrics of one severity with snapshots
// of the assets behind each nonzero metric.
type RiskObservations struct {
	Severity       string                      `json:"severity"`
	Metrics        map[string]int              `json:"metrics"`
	SnapshotAssets map[string][]map[string]any `json:"snapshotAssets"`
}

// SummarizeRequest shapes a reports/assets:summarize call. At least
// one of Filters, MetricCategories or Metrics must be set.
type SummarizeRequest struct {
	Filters          []string `json:"filters,omitempty"`
	MetricCategories []string `json:"metricCategories,omitempty"`
	Metrics          []string `json:"metrics,omitempty"`
	GroupBy          string   `json:"groupBy,omitempty"`
	SegmentBy        string   `json:"segmentBy,omitempty"`
}

// GetAssetSummaries runs an asset summarize report and returns its
// aggregation buckets.
func (s *Session) GetAssetSummaries(ctx context.Context, workspace string, req SummarizeRequest) ([]AssetSummary, error) {
	const op = "easm.GetAssetSummaries"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if len(req.Filters) == 0 && len(req.MetricCategories) == 0 && len(req.Metrics) == 0 {
		return nil, sdkerrors.Validation(op,
			"at least one of filters, metricCategories or metrics is required")
	}

	body, err := s.summarize(ctx, ep.DataPlane, req)
	if err != nil {
		return nil, err
	}

	raw, _ := body["assetSummaries"].([]any)
	summaries := make([]AssetSummary, 0, len(raw))
	for _, entry := range raw {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		summaries = append(summaries, summaryFromMap(row))
	}
	return summaries, nil
}

// riskSeverities maps friendly severity names onto the metric category
// the summarize report understands.
var riskSeverities = map[string]string{
	"high":   "priority_high_severity",
	"medium": "priority_medium_severity",
	"low":    "priority_low_severity",
}

// GetRiskObservations summarizes risk findings of one severity (high,
// medium or low) and snapshots the assets behind each nonzero metric.
func (s *Session) GetRiskObservations(ctx context.Context, workspace, severity string) (RiskObservations, error) {
	const op = "easm.GetRiskObservations"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return RiskObservations{}, err
	}

	category, ok := riskSeverities[strings.ToLower(severity)]
	if !ok {
		return RiskObservations{}, sdkerrors.Validation(op,
			fmt.Sprintf("severity must be one of high, medium, low; got %q", severity))
	}

	body, err := s.summarize(ctx, ep.DataPlane, SummarizeRequest{
		MetricCategories: []string{category},
	})
	if err != nil {
		return RiskObservations{}, err
	}

	obs := RiskObservations{
		Severity:       strings.ToLower(severity),
		Metrics:        map[string]int{},
		SnapshotAssets: map[string][]map[string]any{},
	}

	raw, _ := body["assetSummaries"].([]any)
	for _, entry := range raw {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		children, _ := row["children"].([]any)
		for _, c := range children {
			child, ok := c.(map[string]any)
			if !ok {
				continue
			}
			name, _ := child["displayName"].(string)
			if name == "" {
				name, _ = child["metric"].(string)
			}
			if name == "" {
				continue
			}
			count := intField(child, "count")
			obs.Metrics[name] = count
			if count == 0 {
				continue
			}
			metric, _ := child["metric"].(string)
			if metric == "" {
				continue
			}
			assets, err := s.snapshotMetric(ctx, ep.DataPlane, metric)
			if err != nil {
				return obs, err
			}
			obs.SnapshotAssets[name] = assets
		}
	}
	return obs, nil
}

func (s *Session) summarize(ctx context.Context, baseURL string, req SummarizeRequest) (map[string]any, error) {
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  baseURL,
		endpoint: "reports/assets:summarize",
		plane:    auth.PlaneData,
		payload:  req,
	})
	if err != nil {
		return nil, err
	}
	return resp.Map()
}

// snapshotMetric fetches the first page of assets behind one metric.
func (s *Session) snapshotMetric(ctx context.Context, baseURL, metric string) ([]map[string]any, error) {
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  baseURL,
		endpoint: "reports/assets:snapshot",
		plane:    auth.PlaneData,
		payload:  map[string]any{"metric": metric, "page": 0, "size": defaultPageSize},
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	if assets, ok := body["assets"].(map[string]any); ok {
		return decodePage(assets).rows, nil
	}
	return decodePage(body).rows, nil
}

func summaryFromMap(row map[string]any) AssetSummary {
	s := AssetSummary{Raw: row}
	s.DisplayName, _ = row["displayName"].(string)
	s.MetricCategory, _ = row["metricCategory"].(string)
	s.Metric, _ = row["metric"].(string)
	s.Filter, _ = row["filter"].(string)
	s.Count = intField(row, "count")
	if children, ok := row["children"].([]any); ok {
		for _, c := range children {
			child, ok := c.(map[string]any)
			if !ok {
				continue
			}
			s.Children = append(s.Children, summaryFromMap(child))
		}
	}
	return s
}

func intField(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
