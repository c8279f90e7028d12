package easm

import (
	"context"
	"net/url"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// Label holds a label's display properties.
type Label struct {
	Color       string `json:"color"`
	DisplayName string `json:"displayName"`
}

// GetLabels returns the workspace's labels keyed by name.
func (s *Session) GetLabels(ctx context.Context, workspace string) (map[string]Label, error) {
	const op = "easm.GetLabels"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "labels",
		plane:    auth.PlaneData,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}

	labels := make(map[string]Label)
	for _, row := range decodePage(body).rows {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		labels[name] = labelFromMap(row)
	}
	if len(labels) == 0 {
		s.logger.Info("no labels exist for %s", workspace)
	}
	return labels, nil
}

// CreateOrUpdateLabel upserts a label and returns its properties.
func (s *Session) CreateOrUpdateLabel(ctx context.Context, workspace, name, color, displayName string) (Label, error) {
	const op = "easm.CreateOrUpdateLabel"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return Label{}, err
	}
	if name == "" {
		return Label{}, sdkerrors.Validation(op, "label name is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "PUT",
		baseURL:  ep.DataPlane,
		endpoint: "labels/" + url.PathEscape(name),
		plane:    auth.PlaneData,
		payload: map[string]any{
			"properties": map[string]any{
				"color":       color,
				"displayName": displayName,
			},
		},
	})
	if err != nil {
		return Label{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return Label{}, err
	}
	return labelFromMap(body), nil
}

func labelFromMap(row map[string]any) Label {
	var l Label
	props, ok := row["properties"].(map[string]any)
	if !ok {
		props = row
	}
	l.Color, _ = props["color"].(string)
	l.DisplayName, _ = props["displayName"].(string)
	return l
}
