package easm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

func TestValidateAssetID(t *testing.T) {
	t.Run("composite id tries raw then base64", func(t *testing.T) {
		candidates, err := validateAssetID("domain$$example.com")
		if err != nil {
			t.Fatalf("validateAssetID failed: %v", err)
		}
		if len(candidates) != 2 {
			t.Fatalf("candidates = %v", candidates)
		}
		if candidates[0] != "domain$$example.com" {
			t.Errorf("first candidate = %q", candidates[0])
		}
		want := base64.StdEncoding.EncodeToString([]byte("domain$$example.com"))
		if candidates[1] != want {
			t.Errorf("second candidate = %q, want %q", candidates[1], want)
		}
	})

	t.Run("uuid passes through", func(t *testing.T) {
		candidates, err := validateAssetID("b5b4d1a2-6a1e-4c3b-9f2d-0e8a7c6b5a4d")
		if err != nil {
			t.Fatalf("validateAssetID failed: %v", err)
		}
		if len(candidates) != 1 {
			t.Errorf("candidates = %v", candidates)
		}
	})

	t.Run("base64 literal passes through", func(t *testing.T) {
		id := base64.StdEncoding.EncodeToString([]byte("host$$www.example.com"))
		candidates, err := validateAssetID(id)
		if err != nil {
			t.Fatalf("validateAssetID failed: %v", err)
		}
		if len(candidates) != 1 || candidates[0] != id {
			t.Errorf("candidates = %v", candidates)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := validateAssetID("not valid!!!")
		if !sdkerrors.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestGetAssetByIDFallsBackToEncodedForm(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("domain$$example.com"))
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.Contains(r.URL.Path, encoded) {
			json.NewEncoder(w).Encode(map[string]any{"id": encoded, "kind": "domain"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := newTestSession(t, server)
	body, err := s.GetAssetByID(context.Background(), "ws1", "domain$$example.com")
	if err != nil {
		t.Fatalf("GetAssetByID failed: %v", err)
	}
	if body["kind"] != "domain" {
		t.Errorf("body = %v", body)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v, want raw then encoded", paths)
	}
}

func TestUpdateAssetsStateMapping(t *testing.T) {
	var captured map[string]any
	var filter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":summarize") {
			json.NewEncoder(w).Encode(map[string]any{
				"assetSummaries": []any{map[string]any{"count": 42}},
			})
			return
		}
		filter = r.URL.Query().Get("filter")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured)
		json.NewEncoder(w).Encode(map[string]any{"id": "task-1"})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	taskID, err := s.UpdateAssets(context.Background(), "ws1", `kind = "domain"`, "Dependency")
	if err != nil {
		t.Fatalf("UpdateAssets failed: %v", err)
	}
	if taskID != "task-1" {
		t.Errorf("task id = %q", taskID)
	}
	if captured["state"] != "associatedThirdparty" {
		t.Errorf("state = %v, want the mapped API value", captured["state"])
	}
	if filter != `kind = "domain"` {
		t.Errorf("filter = %q", filter)
	}
}

func TestUpdateAssetsAcceptsRawAPIState(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":summarize") {
			json.NewEncoder(w).Encode(map[string]any{
				"assetSummaries": []any{map[string]any{"count": 1}},
			})
			return
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured)
		json.NewEncoder(w).Encode(map[string]any{"id": "task-2"})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	if _, err := s.UpdateAssets(context.Background(), "ws1", "f", "associatedPartner"); err != nil {
		t.Fatalf("UpdateAssets failed: %v", err)
	}
	if captured["state"] != "associatedPartner" {
		t.Errorf("state = %v", captured["state"])
	}
}

func TestUpdateAssetsUnknownState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unknown state")
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.UpdateAssets(context.Background(), "ws1", "f", "bogus")
	if !sdkerrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateAssetsGuardLimit(t *testing.T) {
	var stateChanges int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":summarize") {
			json.NewEncoder(w).Encode(map[string]any{
				"assetSummaries": []any{map[string]any{"count": updateAssetsGuardLimit}},
			})
			return
		}
		stateChanges++
		json.NewEncoder(w).Encode(map[string]any{"id": "task-x"})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.UpdateAssets(context.Background(), "ws1", "f", "Dismissed")
	if !sdkerrors.IsValidation(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	if stateChanges != 0 {
		t.Errorf("state change issued despite guard")
	}
}

func TestUpdateAssetsRequiresFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	s := newTestSession(t, server)
	_, err := s.UpdateAssets(context.Background(), "ws1", "", "Approved")
	if !sdkerrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateAssetsExportTask(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "assets:export") {
			t.Errorf("path = %q", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured)
		json.NewEncoder(w).Encode(map[string]any{"id": "export-1"})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	taskID, err := s.CreateAssetsExportTask(context.Background(), "ws1",
		[]string{"name", "kind"}, `state = "confirmed"`, "assets.csv", "")
	if err != nil {
		t.Fatalf("CreateAssetsExportTask failed: %v", err)
	}
	if taskID != "export-1" {
		t.Errorf("task id = %q", taskID)
	}
	if captured["fileName"] != "assets.csv" {
		t.Errorf("fileName = %v", captured["fileName"])
	}
	cols, _ := captured["columns"].([]any)
	if len(cols) != 2 {
		t.Errorf("columns = %v", captured["columns"])
	}
}

func TestCreateAssetsExportTaskValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	s := newTestSession(t, server)
	if _, err := s.CreateAssetsExportTask(context.Background(), "ws1", nil, "", "out.csv", ""); !sdkerrors.IsValidation(err) {
		t.Errorf("missing columns should be a validation error, got %v", err)
	}
	if _, err := s.CreateAssetsExportTask(context.Background(), "ws1", []string{"name"}, "", "", ""); !sdkerrors.IsValidation(err) {
		t.Errorf("missing file name should be a validation error, got %v", err)
	}
}
