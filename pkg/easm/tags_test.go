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

// tagServer simulates the ARM tags-at-scope resource: GET returns the
// current set, PUT replaces it.
func tagServer(t *testing.T, initial map[string]string) (*httptest.Server, *map[string]string) {
	t.Helper()
	tags := initial
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/providers/Microsoft.Resources/tags/default") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != resourceTagsAPIVersion {
			t.Errorf("api-version = %q, want %q", got, resourceTagsAPIVersion)
		}
		if r.Method == http.MethodPut {
			var body struct {
				Properties struct {
					Tags map[string]string `json:"tags"`
				} `json:"properties"`
			}
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			tags = body.Properties.Tags
		}
		json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{"tags": tags},
		})
	}))
	return server, &tags
}

func TestListResourceTags(t *testing.T) {
	server, _ := tagServer(t, map[string]string{"env": "prod", "team": "secops"})
	defer server.Close()

	s := newTestSession(t, server)
	s.registerWorkspace("ws1", workspaceEndpoints{ControlPlane: server.URL})

	tags, err := s.ListResourceTags(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("ListResourceTags failed: %v", err)
	}
	if len(tags) != 2 || tags["env"] != "prod" {
		t.Errorf("tags = %v", tags)
	}
}

func TestGetResourceTag(t *testing.T) {
	server, _ := tagServer(t, map[string]string{"env": "prod"})
	defer server.Close()

	s := newTestSession(t, server)
	s.registerWorkspace("ws1", workspaceEndpoints{ControlPlane: server.URL})

	value, ok, err := s.GetResourceTag(context.Background(), "ws1", "env")
	if err != nil {
		t.Fatalf("GetResourceTag failed: %v", err)
	}
	if !ok || value != "prod" {
		t.Errorf("value = %q ok = %v", value, ok)
	}

	_, ok, err = s.GetResourceTag(context.Background(), "ws1", "absent")
	if err != nil {
		t.Fatalf("GetResourceTag failed: %v", err)
	}
	if ok {
		t.Error("absent tag should report ok=false")
	}

	if _, _, err := s.GetResourceTag(context.Background(), "ws1", ""); !sdkerrors.IsValidation(err) {
		t.Errorf("empty name should be a validation error, got %v", err)
	}
}

func TestPutResourceTagMerges(t *testing.T) {
	server, stored := tagServer(t, map[string]string{"env": "prod"})
	defer server.Close()

	s := newTestSession(t, server)
	s.registerWorkspace("ws1", workspaceEndpoints{ControlPlane: server.URL})

	tags, err := s.PutResourceTag(context.Background(), "ws1", "team", "secops")
	if err != nil {
		t.Fatalf("PutResourceTag failed: %v", err)
	}
	if tags["env"] != "prod" || tags["team"] != "secops" {
		t.Errorf("tags = %v, want existing tags preserved", tags)
	}
	if (*stored)["env"] != "prod" {
		t.Errorf("stored = %v, write must merge not replace", *stored)
	}
}

func TestDeleteResourceTag(t *testing.T) {
	server, stored := tagServer(t, map[string]string{"env": "prod", "team": "secops"})
	defer server.Close()

	s := newTestSession(t, server)
	s.registerWorkspace("ws1", workspaceEndpoints{ControlPlane: server.URL})

	tags, err := s.DeleteResourceTag(context.Background(), "ws1", "team")
	if err != nil {
		t.Fatalf("DeleteResourceTag failed: %v", err)
	}
	if _, ok := tags["team"]; ok {
		t.Errorf("tags = %v, team should be gone", tags)
	}
	if tags["env"] != "prod" {
		t.Errorf("tags = %v, other tags must survive", tags)
	}
	if len(*stored) != 1 {
		t.Errorf("stored = %v", *stored)
	}
}
