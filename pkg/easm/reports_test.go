package easm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

func TestGetAssetSummaries(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "reports/assets:summarize") {
			t.Errorf("path = %q", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured)
		json.NewEncoder(w).Encode(map[string]any{
			"assetSummaries": []any{
				map[string]any{
					"displayName": "Domains",
					"filter":      `kind = "domain"`,
					"count":       float64(12),
					"children": []any{
						map[string]any{"displayName": "Registered", "count": float64(9)},
					},
				},
			},
		})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	summaries, err := s.GetAssetSummaries(context.Background(), "ws1", SummarizeRequest{
		Filters: []string{`kind = "domain"`},
	})
	if err != nil {
		t.Fatalf("GetAssetSummaries failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	got := summaries[0]
	if got.DisplayName != "Domains" || got.Count != 12 {
		t.Errorf("summary = %+v", got)
	}
	if len(got.Children) != 1 || got.Children[0].Count != 9 {
		t.Errorf("children = %+v", got.Children)
	}

	filters, _ := captured["filters"].([]any)
	if len(filters) != 1 {
		t.Errorf("request payload = %v", captured)
	}
}

func TestGetAssetSummariesValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	s := newTestSession(t, server)
	if _, err := s.GetAssetSummaries(context.Background(), "ws1", SummarizeRequest{}); !sdkerrors.IsValidation(err) {
		t.Fatalf("empty request should be a validation error, got %v", err)
	}
}

func TestGetRiskObservations(t *testing.T) {
	var summarizePayload map[string]any
	var snapshotPayloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":summarize"):
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &summarizePayload)
			json.NewEncoder(w).Encode(map[string]any{
				"assetSummaries": []any{
					map[string]any{
						"displayName": "High Severity Observations",
						"children": []any{
							map[string]any{"displayName": "Expired certificates", "metric": "expired_certs", "count": float64(4)},
							map[string]any{"displayName": "Open RDP", "metric": "open_rdp", "count": float64(0)},
						},
					},
				},
			})
		case strings.HasSuffix(r.URL.Path, ":snapshot"):
			var payload map[string]any
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &payload)
			snapshotPayloads = append(snapshotPayloads, payload)
			json.NewEncoder(w).Encode(map[string]any{
				"assets": map[string]any{
					"value": []any{
						map[string]any{"name": "old.example.com"},
					},
				},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	s := newTestSession(t, server)
	obs, err := s.GetRiskObservations(context.Background(), "ws1", "High")
	if err != nil {
		t.Fatalf("GetRiskObservations failed: %v", err)
	}

	categories, _ := summarizePayload["metricCategories"].([]any)
	if len(categories) != 1 || categories[0] != "priority_high_severity" {
		t.Errorf("metricCategories = %v", categories)
	}

	if obs.Severity != "high" {
		t.Errorf("severity = %q", obs.Severity)
	}
	if obs.Metrics["Expired certificates"] != 4 || obs.Metrics["Open RDP"] != 0 {
		t.Errorf("metrics = %v", obs.Metrics)
	}

	// Only the nonzero metric is snapshotted.
	if len(snapshotPayloads) != 1 {
		t.Fatalf("snapshot calls = %d", len(snapshotPayloads))
	}
	if snapshotPayloads[0]["metric"] != "expired_certs" {
		t.Errorf("snapshot payload = %v", snapshotPayloads[0])
	}
	assets := obs.SnapshotAssets["Expired certificates"]
	if len(assets) != 1 || assets[0]["name"] != "old.example.com" {
		t.Errorf("snapshot assets = %v", obs.SnapshotAssets)
	}
	if _, ok := obs.SnapshotAssets["Open RDP"]; ok {
		t.Error("zero-count metric must not be snapshotted")
	}
}

func TestGetRiskObservationsBadSeverity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	s := newTestSession(t, server)
	if _, err := s.GetRiskObservations(context.Background(), "ws1", "catastrophic"); !sdkerrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetRiskObservationsEmptyChildren(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"assetSummaries": []any{
				map[string]any{"displayName": "Low Severity Observations", "children": []any{}},
			},
		})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	obs, err := s.GetRiskObservations(context.Background(), "ws1", "low")
	if err != nil {
		t.Fatalf("GetRiskObservations failed: %v", err)
	}
	if len(obs.Metrics) != 0 || len(obs.SnapshotAssets) != 0 {
		t.Errorf("observations = %+v", obs)
	}
}
