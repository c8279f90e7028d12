package easm

import (
	"context"
	"net/url"
	"strings"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// SavedFilter is a stored asset query.
type SavedFilter struct {
	Name        string `json:"name"`
	Filter      string `json:"filter"`
	Description string `json:"description"`
}

func savedFilterFromMap(row map[string]any) SavedFilter {
	var sf SavedFilter
	sf.Name, _ = row["name"].(string)
	sf.Description, _ = row["description"].(string)
	sf.Filter, _ = row["filter"].(string)
	if sf.Filter == "" {
		if props, ok := row["properties"].(map[string]any); ok {
			sf.Filter, _ = props["filter"].(string)
			if sf.Description == "" {
				sf.Description, _ = props["description"].(string)
			}
		}
	}
	return sf
}

// savedFilterPath validates and escapes a saved filter name for use as
// a path segment. Names containing a slash are rejected rather than
// silently rerouted.
func savedFilterPath(op, name string) (string, error) {
	if name == "" {
		return "", sdkerrors.Validation(op, "saved filter name is required")
	}
	if strings.Contains(name, "/") {
		return "", sdkerrors.Validation(op, "saved filter name must not contain '/'")
	}
	return "savedFilters/" + url.PathEscape(name), nil
}

// GetSavedFilters lists saved filters.
func (s *Session) GetSavedFilters(ctx context.Context, workspace, filter string, opts PageOptions) ([]SavedFilter, error) {
	_, ep, err := s.resolveWorkspace("easm.GetSavedFilters", workspace)
	if err != nil {
		return nil, err
	}
	opts.Filter = filter
	rows, err := s.collectRows(ctx, ep.DataPlane, "savedFilters", opts)
	if err != nil {
		return nil, err
	}
	filters := make([]SavedFilter, 0, len(rows))
	for _, row := range rows {
		filters = append(filters, savedFilterFromMap(row))
	}
	return filters, nil
}

// GetSavedFilter fetches one saved filter by name.
func (s *Session) GetSavedFilter(ctx context.Context, workspace, name string) (SavedFilter, error) {
	const op = "easm.GetSavedFilter"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return SavedFilter{}, err
	}
	endpoint, err := savedFilterPath(op, name)
	if err != nil {
		return SavedFilter{}, err
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: endpoint,
		plane:    auth.PlaneData,
	})
	if err != nil {
		return SavedFilter{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return SavedFilter{}, err
	}
	return savedFilterFromMap(body), nil
}

// CreateOrReplaceSavedFilter upserts a saved filter. Both the filter
// expression and description are required.
func (s *Session) CreateOrReplaceSavedFilter(ctx context.Context, workspace, name, filter, description string) (SavedFilter, error) {
	const op = "easm.CreateOrReplaceSavedFilter"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return SavedFilter{}, err
	}
	endpoint, err := savedFilterPath(op, name)
	if err != nil {
		return SavedFilter{}, err
	}
	if filter == "" {
		return SavedFilter{}, sdkerrors.Validation(op, "filter expression is required")
	}
	if description == "" {
		return SavedFilter{}, sdkerrors.Validation(op, "description is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "PUT",
		baseURL:  ep.DataPlane,
		endpoint: endpoint,
		plane:    auth.PlaneData,
		payload: map[string]any{
			"filter":      filter,
			"description": description,
		},
	})
	if err != nil {
		return SavedFilter{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return SavedFilter{}, err
	}
	return savedFilterFromMap(body), nil
}

// DeleteSavedFilter removes a saved filter.
func (s *Session) DeleteSavedFilter(ctx context.Context, workspace, name string) error {
	const op = "easm.DeleteSavedFilter"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return err
	}
	endpoint, err := savedFilterPath(op, name)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, apiRequest{
		method:   "DELETE",
		baseURL:  ep.DataPlane,
		endpoint: endpoint,
		plane:    auth.PlaneData,
	})
	return err
}
