package easm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// templateSeparator joins a discovery template's name and id in listing
// rows and in the create-from-template input.
const templateSeparator = "---"

// discoRunsMaxAttempts bounds the eventually-consistent run listing
// and deletion verification loops.
const discoRunsMaxAttempts = 3

// GetDiscoveryTemplates lists discovery templates matching nameFilter,
// as "Name---ID" rows. Trailing dots in template names are trimmed.
func (s *Session) GetDiscoveryTemplates(ctx context.Context, workspace, nameFilter string) ([]string, error) {
	_, ep, err := s.resolveWorkspace("easm.GetDiscoveryTemplates", workspace)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if nameFilter != "" {
		params.Set("filter", nameFilter)
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "discoTemplates",
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

	var rows []string
	for _, row := range decodePage(body).rows {
		name, _ := row["name"].(string)
		id, _ := row["id"].(string)
		if name == "" || id == "" {
			continue
		}
		rows = append(rows, strings.TrimRight(name, ".")+templateSeparator+id)
	}
	return rows, nil
}

// GetDiscoveryGroups lists discovery groups.
func (s *Session) GetDiscoveryGroups(ctx context.Context, workspace, filter string, opts PageOptions) ([]map[string]any, error) {
	_, ep, err := s.resolveWorkspace("easm.GetDiscoveryGroups", workspace)
	if err != nil {
		return nil, err
	}
	opts.Filter = filter
	return s.collectRows(ctx, ep.DataPlane, "discoGroups", opts)
}

// CreateDiscoveryGroup creates a discovery group either from a
// template row ("Name---ID") or from a custom definition (requires
// name and seeds), then runs it. Exactly one source must be given.
func (s *Session) CreateDiscoveryGroup(ctx context.Context, workspace, template string, custom map[string]any) (map[string][]map[string]any, error) {
	const op = "easm.CreateDiscoveryGroup"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}

	hasTemplate := template != ""
	hasCustom := len(custom) > 0
	if hasTemplate == hasCustom {
		return nil, sdkerrors.Validation(op,
			"exactly one of a template row or a custom definition is required")
	}

	var name string
	var payload map[string]any
	if hasTemplate {
		parts := strings.SplitN(template, templateSeparator, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, sdkerrors.Validation(op,
				fmt.Sprintf("template must be of the form Name%sID, got %q", templateSeparator, template))
		}
		name = parts[0]
		payload = map[string]any{"templateId": parts[1]}
	} else {
		name, _ = custom["name"].(string)
		if name == "" {
			return nil, sdkerrors.Validation(op, "custom discovery group requires a name")
		}
		if _, ok := custom["seeds"]; !ok {
			return nil, sdkerrors.Validation(op, "custom discovery group requires seeds")
		}
		payload = custom
	}

	_, err = s.do(ctx, apiRequest{
		method:   "PUT",
		baseURL:  ep.DataPlane,
		endpoint: "discoGroups/" + url.PathEscape(name),
		plane:    auth.PlaneData,
		payload:  payload,
	})
	if err != nil {
		return nil, err
	}
	return s.RunDiscoveryGroup(ctx, workspace, name)
}

// RunDiscoveryGroup starts a discovery group run, then fetches the
// group's runs with bounded retry (the run endpoint is eventually
// consistent).
func (s *Session) RunDiscoveryGroup(ctx context.Context, workspace, name string) (map[string][]map[string]any, error) {
	const op = "easm.RunDiscoveryGroup"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, sdkerrors.Validation(op, "discovery group name is required")
	}

	_, err = s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "discoGroups/" + url.PathEscape(name) + ":run",
		plane:    auth.PlaneData,
		payload:  map[string]any{},
	})
	if err != nil {
		return nil, err
	}

	runs, err := s.discoveryGroupRunsWithRetry(ctx, workspace, name, discoRunsMaxAttempts)
	if err != nil {
		return nil, err
	}
	return map[string][]map[string]any{name: runs}, nil
}

// GetDiscoveryGroupRuns lists a discovery group's runs.
func (s *Session) GetDiscoveryGroupRuns(ctx context.Context, workspace, name string) ([]map[string]any, error) {
	const op = "easm.GetDiscoveryGroupRuns"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, sdkerrors.Validation(op, "discovery group name is required")
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "discoGroups/" + url.PathEscape(name) + "/runs",
		plane:    auth.PlaneData,
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

// discoveryGroupRunsWithRetry retries run listing on transient
// statuses (404 while the run materializes, throttling, 5xx) with
// capped exponential backoff. Non-transient failures fail fast.
func (s *Session) discoveryGroupRunsWithRetry(ctx context.Context, workspace, name string, maxAttempts int) ([]map[string]any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		runs, err := s.GetDiscoveryGroupRuns(ctx, workspace, name)
		if err == nil {
			return runs, nil
		}
		if !transientRunStatus(err) {
			return nil, err
		}
		lastErr = err
		if attempt < maxAttempts {
			if serr := s.sleep(ctx, s.backoff.Delay(attempt)); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, lastErr
}

// transientRunStatus reports whether an API error's status merits
// another run-listing attempt.
func transientRunStatus(err error) bool {
	apiErr, ok := sdkerrors.AsAPIError(err)
	if !ok {
		return false
	}
	switch {
	case apiErr.StatusCode == 404, apiErr.StatusCode == 425, apiErr.StatusCode == 429:
		return true
	case apiErr.StatusCode >= 500:
		return true
	}
	return false
}

// DiscoveryDeleteResult describes a discovery group deletion.
type DiscoveryDeleteResult struct {
	WorkspaceName   string `json:"workspaceName"`
	Name            string `json:"name"`
	Deleted         bool   `json:"deleted"`
	Status          int    `json:"status"`
	VerifiedDeleted bool   `json:"verifiedDeleted"`
}

// DeleteDiscoveryGroup deletes a discovery group. With verify set, the
// group listing is re-checked (with bounded backoff) until the name is
// gone.
func (s *Session) DeleteDiscoveryGroup(ctx context.Context, workspace, name string, verify bool) (DiscoveryDeleteResult, error) {
	const op = "easm.DeleteDiscoveryGroup"
	resolved, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return DiscoveryDeleteResult{}, err
	}
	if name == "" {
		return DiscoveryDeleteResult{}, sdkerrors.Validation(op, "discovery group name is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "DELETE",
		baseURL:  ep.DataPlane,
		endpoint: "discoGroups/" + url.PathEscape(name),
		plane:    auth.PlaneData,
	})
	if err != nil {
		return DiscoveryDeleteResult{}, err
	}

	result := DiscoveryDeleteResult{
		WorkspaceName: resolved,
		Name:          name,
		Deleted:       true,
		Status:        resp.StatusCode,
	}
	if !verify {
		return result, nil
	}

	for attempt := 1; attempt <= discoRunsMaxAttempts; attempt++ {
		groups, err := s.GetDiscoveryGroups(ctx, workspace, "", PageOptions{})
		if err != nil {
			return result, err
		}
		found := false
		for _, group := range groups {
			if gname, _ := group["name"].(string); strings.EqualFold(gname, name) {
				found = true
				break
			}
		}
		if !found {
			result.VerifiedDeleted = true
			return result, nil
		}
		if attempt < discoRunsMaxAttempts {
			if serr := s.sleep(ctx, s.backoff.Delay(attempt)); serr != nil {
				return result, serr
			}
		}
	}
	return result, nil
}
