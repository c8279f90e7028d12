package easm

import (
	"context"
	"net/url"

	"github.com/easmkit/sdk/pkg/auth"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/redact"
)

// DataConnection describes an export data connection.
type DataConnection struct {
	Name            string         `json:"name"`
	Kind            string         `json:"kind"`
	Content         string         `json:"content"`
	Frequency       string         `json:"frequency"`
	FrequencyOffset int            `json:"frequencyOffset"`
	Properties      map[string]any `json:"properties"`

	// Raw is the redacted payload as returned by the API.
	Raw map[string]any `json:"-"`
}

// redactConnectionMap masks secret-bearing properties (apiKey and
// friends) before a payload is handed to the caller.
func redactConnectionMap(row map[string]any) map[string]any {
	props, ok := row["properties"].(map[string]any)
	if !ok {
		return row
	}
	for key, v := range props {
		switch key {
		case "apiKey", "api_key", "connectionString", "sasToken":
			if sv, ok := v.(string); ok && sv != "" {
				props[key] = redact.Mask
			}
		}
	}
	return row
}

func dataConnectionFromMap(row map[string]any) DataConnection {
	row = redactConnectionMap(row)
	var dc DataConnection
	dc.Raw = row
	dc.Name, _ = row["name"].(string)
	dc.Kind, _ = row["kind"].(string)
	dc.Content, _ = row["content"].(string)
	dc.Frequency, _ = row["frequency"].(string)
	if v, ok := row["frequencyOffset"].(float64); ok {
		dc.FrequencyOffset = int(v)
	}
	dc.Properties, _ = row["properties"].(map[string]any)
	return dc
}

// connectionPayload builds the wire form of a data connection.
func connectionPayload(name, kind string, properties map[string]any, content, frequency string, frequencyOffset int) map[string]any {
	payload := map[string]any{
		"name":            name,
		"kind":            kind,
		"properties":      properties,
		"content":         content,
		"frequency":       frequency,
		"frequencyOffset": frequencyOffset,
	}
	return payload
}

// ListDataConnections lists data connections, paging by skip when
// getAll is set. Secret properties in the result are redacted.
func (s *Session) ListDataConnections(ctx context.Context, workspace string, getAll bool) ([]DataConnection, error) {
	_, ep, err := s.resolveWorkspace("easm.ListDataConnections", workspace)
	if err != nil {
		return nil, err
	}
	rows, err := s.collectRows(ctx, ep.DataPlane, "dataConnections", PageOptions{GetAll: getAll})
	if err != nil {
		return nil, err
	}
	connections := make([]DataConnection, 0, len(rows))
	for _, row := range rows {
		connections = append(connections, dataConnectionFromMap(row))
	}
	return connections, nil
}

// GetDataConnection fetches one data connection by name, redacted.
func (s *Session) GetDataConnection(ctx context.Context, workspace, name string) (DataConnection, error) {
	const op = "easm.GetDataConnection"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return DataConnection{}, err
	}
	if name == "" {
		return DataConnection{}, sdkerrors.Validation(op, "data connection name is required")
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "dataConnections/" + url.PathEscape(name),
		plane:    auth.PlaneData,
	})
	if err != nil {
		return DataConnection{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return DataConnection{}, err
	}
	return dataConnectionFromMap(body), nil
}

// CreateOrReplaceDataConnection upserts a data connection. The request
// carries the caller's secrets unmodified; the returned payload is
// redacted.
func (s *Session) CreateOrReplaceDataConnection(ctx context.Context, workspace, name, kind string, properties map[string]any, content, frequency string, frequencyOffset int) (DataConnection, error) {
	const op = "easm.CreateOrReplaceDataConnection"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return DataConnection{}, err
	}
	if name == "" {
		return DataConnection{}, sdkerrors.Validation(op, "data connection name is required")
	}
	if kind == "" {
		return DataConnection{}, sdkerrors.Validation(op, "data connection kind is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "PUT",
		baseURL:  ep.DataPlane,
		endpoint: "dataConnections/" + url.PathEscape(name),
		plane:    auth.PlaneData,
		payload:  connectionPayload(name, kind, properties, content, frequency, frequencyOffset),
	})
	if err != nil {
		return DataConnection{}, err
	}
	body, err := resp.Map()
	if err != nil {
		return DataConnection{}, err
	}
	return dataConnectionFromMap(body), nil
}

// ValidateDataConnection dry-runs a data connection definition.
func (s *Session) ValidateDataConnection(ctx context.Context, workspace, name, kind string, properties map[string]any, content, frequency string, frequencyOffset int) (map[string]any, error) {
	const op = "easm.ValidateDataConnection"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, sdkerrors.Validation(op, "data connection kind is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "dataConnections:validate",
		plane:    auth.PlaneData,
		payload:  connectionPayload(name, kind, properties, content, frequency, frequencyOffset),
	})
	if err != nil {
		return nil, err
	}
	return resp.Map()
}

// DeleteDataConnection removes a data connection.
func (s *Session) DeleteDataConnection(ctx context.Context, workspace, name string) error {
	const op = "easm.DeleteDataConnection"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return err
	}
	if name == "" {
		return sdkerrors.Validation(op, "data connection name is required")
	}
	_, err = s.do(ctx, apiRequest{
		method:   "DELETE",
		baseURL:  ep.DataPlane,
		endpoint: "dataConnections/" + url.PathEscape(name),
		plane:    auth.PlaneData,
	})
	return err
}
