package easm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

func TestSavedFilterPath(t *testing.T) {
	got, err := savedFilterPath("test", "daily sweep")
	if err != nil {
		t.Fatalf("savedFilterPath failed: %v", err)
	}
	if got != "savedFilters/daily%20sweep" {
		t.Errorf("path = %q", got)
	}

	if _, err := savedFilterPath("test", ""); !sdkerrors.IsValidation(err) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := savedFilterPath("test", "a/b"); !sdkerrors.IsValidation(err) {
		t.Errorf("slash in name must be rejected, got %v", err)
	}
}

func TestGetSavedFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []any{
				map[string]any{"name": "a", "filter": `kind = "domain"`, "description": "domains"},
				map[string]any{"name": "b", "properties": map[string]any{"filter": "f2", "description": "d2"}},
			},
			"totalElements": 2,
		})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	filters, err := s.GetSavedFilters(context.Background(), "ws1", "", PageOptions{})
	if err != nil {
		t.Fatalf("GetSavedFilters failed: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("filters = %+v", filters)
	}
	if filters[0].Filter != `kind = "domain"` {
		t.Errorf("flat filter = %q", filters[0].Filter)
	}
	if filters[1].Filter != "f2" || filters[1].Description != "d2" {
		t.Errorf("enveloped filter = %+v", filters[1])
	}
}

func TestCreateOrReplaceSavedFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/savedFilters/sweep" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured)
		json.NewEncoder(w).Encode(map[string]any{
			"name": "sweep", "filter": captured["filter"], "description": captured["description"],
		})
	}))
	defer server.Close()

	s := newTestSession(t, server)
	sf, err := s.CreateOrReplaceSavedFilter(context.Background(), "ws1", "sweep", `state = "confirmed"`, "confirmed assets")
	if err != nil {
		t.Fatalf("CreateOrReplaceSavedFilter failed: %v", err)
	}
	if sf.Name != "sweep" || sf.Filter != `state = "confirmed"` {
		t.Errorf("saved filter = %+v", sf)
	}
	if captured["description"] != "confirmed assets" {
		t.Errorf("payload = %v", captured)
	}
}

func TestCreateOrReplaceSavedFilterValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	s := newTestSession(t, server)
	if _, err := s.CreateOrReplaceSavedFilter(context.Background(), "ws1", "n", "", "d"); !sdkerrors.IsValidation(err) {
		t.Errorf("missing filter: got %v", err)
	}
	if _, err := s.CreateOrReplaceSavedFilter(context.Background(), "ws1", "n", "f", ""); !sdkerrors.IsValidation(err) {
		t.Errorf("missing description: got %v", err)
	}
}

func TestDeleteSavedFilter(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := newTestSession(t, server)
	if err := s.DeleteSavedFilter(context.Background(), "ws1", "sweep"); err != nil {
		t.Fatalf("DeleteSavedFilter failed: %v", err)
	}
	if method != http.MethodDelete || path != "/savedFilters/sweep" {
		t.Errorf("%s %s", method, path)
	}
}
