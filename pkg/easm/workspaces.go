package easm

import (
	"context"
	"fmt"
	"strings"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// easmRegions are the regions workspaces can be created in.
var easmRegions = []string{
	"australiaeast",
	"eastasia",
	"eastus",
	"eastus2",
	"japaneast",
	"northeurope",
	"southcentralus",
	"swedencentral",
	"westeurope",
	"westus3",
}

// Workspace describes one registered workspace.
type Workspace struct {
	Name              string
	ResourceGroup     string
	Region            string
	DataPlaneEndpoint string
	ResourceID        string
}

// GetWorkspaces lists the subscription's workspaces from the control
// plane and populates the session registry. When no default workspace
// is set and the configured name is absent, the available names are
// logged as guidance.
func (s *Session) GetWorkspaces(ctx context.Context) ([]Workspace, error) {
	const op = "easm.GetWorkspaces"
	if s.cfg.SubscriptionID == "" {
		return nil, sdkerrors.Configuration(op, "subscription id is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:  "GET",
		baseURL: s.cfg.ManagementEndpoint,
		endpoint: fmt.Sprintf("subscriptions/%s/providers/Microsoft.Easm/workspaces",
			s.cfg.SubscriptionID),
		plane: auth.PlaneControl,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}

	values, _ := body["value"].([]any)
	workspaces := make([]Workspace, 0, len(values))
	for _, raw := range values {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ws := workspaceFromARM(entry)
		if ws.Name == "" {
			continue
		}
		workspaces = append(workspaces, ws)
		s.registerWorkspace(ws.Name, workspaceEndpoints{
			DataPlane:    s.workspaceDataPlaneURL(ws),
			ControlPlane: s.workspaceControlPlaneURL(ws),
		})
	}

	if s.DefaultWorkspace() == "" {
		s.logger.Warn("no WORKSPACE_NAME set; available workspaces:")
		for _, ws := range workspaces {
			s.logger.Warn("\t%s", ws.Name)
		}
	}
	return workspaces, nil
}

// workspaceFromARM decodes one ARM listing entry.
func workspaceFromARM(entry map[string]any) Workspace {
	var ws Workspace
	ws.Name, _ = entry["name"].(string)
	ws.ResourceID, _ = entry["id"].(string)
	ws.Region, _ = entry["location"].(string)
	if props, ok := entry["properties"].(map[string]any); ok {
		ws.DataPlaneEndpoint, _ = props["dataPlaneEndpoint"].(string)
	}
	ws.ResourceGroup = resourceGroupFromID(ws.ResourceID)
	return ws
}

// resourceGroupFromID pulls the resource group segment out of an ARM
// resource id.
func resourceGroupFromID(id string) string {
	parts := strings.Split(id, "/")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], "resourceGroups") {
			return parts[i+1]
		}
	}
	return ""
}

// workspaceDataPlaneURL builds the per-workspace data-plane base URL.
func (s *Session) workspaceDataPlaneURL(ws Workspace) string {
	return strings.TrimRight(ws.DataPlaneEndpoint, "/")
}

// workspaceControlPlaneURL builds the per-workspace ARM base URL.
func (s *Session) workspaceControlPlaneURL(ws Workspace) string {
	if ws.ResourceID != "" {
		return strings.TrimRight(s.cfg.ManagementEndpoint, "/") + ws.ResourceID
	}
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Easm/workspaces/%s",
		strings.TrimRight(s.cfg.ManagementEndpoint, "/"),
		s.cfg.SubscriptionID, ws.ResourceGroup, ws.Name)
}

// CreateWorkspace creates a workspace and registers it. Empty
// resourceGroup and region fall back to the session config; region
// must be one of the known workspace regions.
func (s *Session) CreateWorkspace(ctx context.Context, resourceGroup, region, name string) (Workspace, error) {
	const op = "easm.CreateWorkspace"

	if resourceGroup == "" {
		resourceGroup = s.cfg.ResourceGroup
	}
	if resourceGroup == "" {
		return Workspace{}, sdkerrors.Validation(op, "resource group is required")
	}
	if region == "" {
		region = s.cfg.Region
	}
	if !validRegion(region) {
		return Workspace{}, sdkerrors.Validation(op,
			fmt.Sprintf("region %q is not a known workspace region", region))
	}
	if name == "" {
		return Workspace{}, sdkerrors.Validation(op, "workspace name is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:  "PUT",
		baseURL: s.cfg.ManagementEndpoint,
		endpoint: fmt.Sprintf("subscriptions/%s/resourceGroups/%s/providers/Microsoft.Easm/workspaces/%s",
			s.cfg.SubscriptionID, resourceGroup, name),
		plane:   auth.PlaneControl,
		payload: map[string]any{"location": region},
	})
	if err != nil {
		return Workspace{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return Workspace{}, err
	}

	ws := workspaceFromARM(body)
	if ws.Name == "" {
		ws.Name = name
	}
	if ws.ResourceGroup == "" {
		ws.ResourceGroup = resourceGroup
	}
	ws.Region = region
	s.registerWorkspace(ws.Name, workspaceEndpoints{
		DataPlane:    s.workspaceDataPlaneURL(ws),
		ControlPlane: s.workspaceControlPlaneURL(ws),
	})
	s.logger.Info("created workspace %s in %s/%s", ws.Name, resourceGroup, region)
	return ws, nil
}

func validRegion(region string) bool {
	for _, r := range easmRegions {
		if r == region {
			return true
		}
	}
	return false
}

// DeleteResult describes a workspace deletion.
type DeleteResult struct {
	Deleted       string `json:"deleted"`
	ResourceGroup string `json:"resourceGroup"`
	StatusCode    int    `json:"statusCode"`
}

// DeleteWorkspace deletes a workspace using its recorded resource
// group, removes it from the registry, and clears the default
// workspace if it pointed at the deleted one.
func (s *Session) DeleteWorkspace(ctx context.Context, name string) (DeleteResult, error) {
	const op = "easm.DeleteWorkspace"
	if name == "" {
		return DeleteResult{}, sdkerrors.Validation(op, "workspace name is required")
	}
	resolved, ep, err := s.resolveWorkspace(op, name)
	if err != nil {
		return DeleteResult{}, err
	}

	resourceGroup := resourceGroupFromID(ep.ControlPlane)

	resp, err := s.do(ctx, apiRequest{
		method:  "DELETE",
		baseURL: ep.ControlPlane,
		plane:   auth.PlaneControl,
	})
	if err != nil {
		return DeleteResult{}, err
	}

	s.mu.Lock()
	delete(s.workspaces, strings.ToLower(resolved))
	if strings.EqualFold(s.defaultWorkspace, resolved) {
		s.defaultWorkspace = ""
	}
	s.mu.Unlock()

	return DeleteResult{
		Deleted:       resolved,
		ResourceGroup: resourceGroup,
		StatusCode:    resp.StatusCode,
	}, nil
}
