package easm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/easmkit/sdk/pkg/asset"
	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// assetStateMap maps friendly state names to API state values. API
// values themselves pass through unchanged.
var assetStateMap = map[string]string{
	"approved":    "confirmed",
	"candidate":   "candidate",
	"dependency":  "associatedThirdparty",
	"monitoronly": "associatedPartner",
	"dismissed":   "dismissed",
}

// updateAssetsGuardLimit rejects bulk state changes matching this many
// assets or more.
const updateAssetsGuardLimit = 100000

// GetAssets collects assets matching filter, parsed through the asset
// normalizer with parseOpts.
func (s *Session) GetAssets(ctx context.Context, workspace string, opts PageOptions, parseOpts asset.Options) ([]*asset.Asset, error) {
	var assets []*asset.Asset
	stream, err := s.StreamAssets(ctx, workspace, opts)
	if err != nil {
		return nil, err
	}
	for row, err := range stream {
		if err != nil {
			return nil, err
		}
		parsed, err := asset.Parse(row, parseOpts)
		if err != nil {
			return nil, err
		}
		assets = append(assets, parsed)
	}
	return assets, nil
}

// StreamAssets lazily pages through assets matching opts.Filter,
// yielding raw rows. A page is fetched per advance; cancellation is
// checked between pages.
func (s *Session) StreamAssets(ctx context.Context, workspace string, opts PageOptions) (iter.Seq2[map[string]any, error], error) {
	_, ep, err := s.resolveWorkspace("easm.StreamAssets", workspace)
	if err != nil {
		return nil, err
	}
	return s.streamRows(ctx, ep.DataPlane, "assets", opts), nil
}

// GetAssetByID fetches a single asset. Composite kind$$name ids are
// tried raw and base64-encoded; UUIDs and base64 literals pass as-is;
// anything else is a validation error.
func (s *Session) GetAssetByID(ctx context.Context, workspace, id string) (map[string]any, error) {
	const op = "easm.GetAssetByID"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	candidates, err := validateAssetID(id)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range candidates {
		resp, err := s.do(ctx, apiRequest{
			method:   "GET",
			baseURL:  ep.DataPlane,
			endpoint: "assets/" + url.PathEscape(candidate),
			plane:    auth.PlaneData,
		})
		if err != nil {
			if apiErr, ok := sdkerrors.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
				lastErr = err
				continue
			}
			return nil, err
		}
		return resp.Map()
	}
	return nil, lastErr
}

// validateAssetID returns the id forms to try, in order.
func validateAssetID(id string) ([]string, error) {
	if strings.Contains(id, "$$") {
		encoded := base64.StdEncoding.EncodeToString([]byte(id))
		return []string{id, encoded}, nil
	}
	if _, err := uuid.Parse(id); err == nil {
		return []string{id}, nil
	}
	if _, err := base64.StdEncoding.DecodeString(id); err == nil {
		return []string{id}, nil
	}
	return nil, sdkerrors.Validation("easm.validateAssetID",
		fmt.Sprintf("asset id %q is not a composite id, uuid, or base64 token", id))
}

// UpdateAssets changes the state of every asset matching filter and
// returns the resulting task id. newState accepts friendly names
// (Approved, Candidate, Dependency, MonitorOnly, Dismissed) or raw API
// values. Matches at or above the guard limit are rejected.
func (s *Session) UpdateAssets(ctx context.Context, workspace, filter, newState string) (string, error) {
	const op = "easm.UpdateAssets"
	name, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return "", err
	}
	if filter == "" {
		return "", sdkerrors.Validation(op, "query filter is required")
	}

	state, ok := assetStateMap[strings.ToLower(newState)]
	if !ok {
		// Accept raw API values.
		for _, v := range assetStateMap {
			if v == newState {
				state = newState
				break
			}
		}
	}
	if state == "" {
		return "", sdkerrors.Validation(op, fmt.Sprintf("unknown asset state %q", newState))
	}

	count, err := s.countAssets(ctx, ep, filter)
	if err != nil {
		return "", err
	}
	if count >= updateAssetsGuardLimit {
		return "", sdkerrors.Validation(op,
			fmt.Sprintf("filter matches %d assets in %s; refusing to update %d or more at once",
				count, name, updateAssetsGuardLimit))
	}

	params := url.Values{}
	params.Set("filter", filter)
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "assets",
		plane:    auth.PlaneData,
		params:   params,
		payload:  map[string]any{"state": state},
	})
	if err != nil {
		return "", err
	}
	body, err := resp.Map()
	if err != nil {
		return "", err
	}
	taskID, _ := body["id"].(string)
	if taskID == "" {
		return "", sdkerrors.E(sdkerrors.KindAPIRequest, op, "state update returned no task id")
	}
	s.logger.Info("asset state update submitted for %s: task %s", name, taskID)
	return taskID, nil
}

// countAssets runs the summary endpoint for a single filter.
func (s *Session) countAssets(ctx context.Context, ep workspaceEndpoints, filter string) (int, error) {
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "reports/assets:summarize",
		plane:    auth.PlaneData,
		payload:  map[string]any{"filters": []string{filter}},
	})
	if err != nil {
		return 0, err
	}
	body, err := resp.Map()
	if err != nil {
		return 0, err
	}
	summaries, _ := body["assetSummaries"].([]any)
	if len(summaries) == 0 {
		return 0, nil
	}
	first, _ := summaries[0].(map[string]any)
	count, _ := first["count"].(float64)
	return int(count), nil
}

// PollAssetStateChange lists the state-change task(s) matching taskID.
func (s *Session) PollAssetStateChange(ctx context.Context, workspace, taskID string) ([]map[string]any, error) {
	const op = "easm.PollAssetStateChange"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if taskID != "" {
		params.Set("filter", fmt.Sprintf("id = %q", taskID))
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "tasks",
		plane:    auth.PlaneData,
		params:   params,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	return decodePage(body).rows, nil
}

// CreateAssetsExportTask submits an asset export and returns the task
// id. Columns are required.
func (s *Session) CreateAssetsExportTask(ctx context.Context, workspace string, columns []string, filter, fileName, orderby string) (string, error) {
	const op = "easm.CreateAssetsExportTask"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", sdkerrors.Validation(op, "at least one export column is required")
	}
	if fileName == "" {
		return "", sdkerrors.Validation(op, "file name is required")
	}

	params := url.Values{}
	if filter != "" {
		params.Set("filter", filter)
	}
	if orderby != "" {
		params.Set("orderby", orderby)
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "assets:export",
		plane:    auth.PlaneData,
		params:   params,
		payload: map[string]any{
			"columns":  columns,
			"fileName": fileName,
		},
	})
	if err != nil {
		return "", err
	}
	body, err := resp.Map()
	if err != nil {
		return "", err
	}
	taskID, _ := body["id"].(string)
	if taskID == "" {
		return "", sdkerrors.E(sdkerrors.KindAPIRequest, op, "export returned no task id")
	}
	return taskID, nil
}
