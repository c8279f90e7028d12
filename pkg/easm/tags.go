package easm

import (
	"context"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// ARM resource tags live under their own provider and api-version,
// independent of the workspace control-plane version.
const (
	resourceTagsEndpoint   = "providers/Microsoft.Resources/tags/default"
	resourceTagsAPIVersion = "2021-04-01"
)

// ListResourceTags returns a workspace's ARM resource tags.
func (s *Session) ListResourceTags(ctx context.Context, workspace string) (map[string]string, error) {
	const op = "easm.ListResourceTags"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	return s.fetchResourceTags(ctx, ep)
}

// GetResourceTag returns one tag's value. Missing tags return ok=false.
func (s *Session) GetResourceTag(ctx context.Context, workspace, name string) (string, bool, error) {
	const op = "easm.GetResourceTag"
	if name == "" {
		return "", false, sdkerrors.Validation(op, "tag name is required")
	}
	tags, err := s.ListResourceTags(ctx, workspace)
	if err != nil {
		return "", false, err
	}
	value, ok := tags[name]
	return value, ok, nil
}

// PutResourceTag sets one tag, merging with the workspace's existing
// tags, and returns the resulting tag set.
func (s *Session) PutResourceTag(ctx context.Context, workspace, name, value string) (map[string]string, error) {
	const op = "easm.PutResourceTag"
	if name == "" {
		return nil, sdkerrors.Validation(op, "tag name is required")
	}
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}

	tags, err := s.fetchResourceTags(ctx, ep)
	if err != nil {
		return nil, err
	}
	tags[name] = value
	return s.writeResourceTags(ctx, ep, tags)
}

// DeleteResourceTag removes one tag via read-modify-write and returns
// the remaining tag set.
func (s *Session) DeleteResourceTag(ctx context.Context, workspace, name string) (map[string]string, error) {
	const op = "easm.DeleteResourceTag"
	if name == "" {
		return nil, sdkerrors.Validation(op, "tag name is required")
	}
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}

	tags, err := s.fetchResourceTags(ctx, ep)
	if err != nil {
		return nil, err
	}
	delete(tags, name)
	return s.writeResourceTags(ctx, ep, tags)
}

func (s *Session) fetchResourceTags(ctx context.Context, ep workspaceEndpoints) (map[string]string, error) {
	resp, err := s.do(ctx, apiRequest{
		method:     "GET",
		baseURL:    ep.ControlPlane,
		endpoint:   resourceTagsEndpoint,
		plane:      auth.PlaneControl,
		apiVersion: resourceTagsAPIVersion,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	return decodeResourceTags(body), nil
}

func (s *Session) writeResourceTags(ctx context.Context, ep workspaceEndpoints, tags map[string]string) (map[string]string, error) {
	resp, err := s.do(ctx, apiRequest{
		method:     "PUT",
		baseURL:    ep.ControlPlane,
		endpoint:   resourceTagsEndpoint,
		plane:      auth.PlaneControl,
		apiVersion: resourceTagsAPIVersion,
		payload: map[string]any{
			"properties": map[string]any{"tags": tags},
		},
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	return decodeResourceTags(body), nil
}

func decodeResourceTags(body map[string]any) map[string]string {
	tags := make(map[string]string)
	props, _ := body["properties"].(map[string]any)
	raw, _ := props["tags"].(map[string]any)
	for k, v := range raw {
		if sv, ok := v.(string); ok {
			tags[k] = sv
		}
	}
	return tags
}
