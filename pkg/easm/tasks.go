package easm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/easmkit/sdk/pkg/auth"
	"github.com/easmkit/sdk/pkg/compress"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/metrics"
	"github.com/easmkit/sdk/pkg/redact"
)

// MinPollInterval floors task polling to avoid hammering the API.
const MinPollInterval = 100 * time.Millisecond

// terminalTaskStates are the states a task never leaves.
var terminalTaskStates = map[string]bool{
	"complete":   true,
	"completed":  true,
	"failed":     true,
	"incomplete": true,
	"cancelled":  true,
	"canceled":   true,
}

// Task is one orchestration task.
type Task struct {
	ID          string
	State       string
	StartedAt   string
	CompletedAt string

	// Raw is the full task payload.
	Raw map[string]any
}

// Terminal reports whether the task state is terminal
// (case-insensitive).
func (t *Task) Terminal() bool {
	return terminalTaskStates[strings.ToLower(t.State)]
}

// Failed reports whether the task ended in the failed state.
func (t *Task) Failed() bool {
	return strings.EqualFold(t.State, "failed")
}

// FailureDetails extracts the error code and message from a failed
// task's payload, searching nested error/result/detail maps
// breadth-first. First match wins.
func (t *Task) FailureDetails() (code, message string) {
	return taskFailureDetails(t.Raw)
}

func taskFromMap(body map[string]any) *Task {
	t := &Task{Raw: body}
	t.ID, _ = body["id"].(string)
	t.State, _ = body["state"].(string)
	t.StartedAt, _ = body["startedAt"].(string)
	t.CompletedAt, _ = body["completedAt"].(string)
	return t
}

// ListTasks lists tasks, optionally filtered, paging by skip.
func (s *Session) ListTasks(ctx context.Context, workspace, filter string, getAll bool) ([]*Task, error) {
	_, ep, err := s.resolveWorkspace("easm.ListTasks", workspace)
	if err != nil {
		return nil, err
	}
	rows, err := s.collectRows(ctx, ep.DataPlane, "tasks", PageOptions{
		Filter: filter,
		GetAll: getAll,
	})
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, taskFromMap(row))
	}
	return tasks, nil
}

// GetTask fetches a task by id.
func (s *Session) GetTask(ctx context.Context, workspace, taskID string) (*Task, error) {
	const op = "easm.GetTask"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, sdkerrors.Validation(op, "task id is required")
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "GET",
		baseURL:  ep.DataPlane,
		endpoint: "tasks/" + url.PathEscape(taskID),
		plane:    auth.PlaneData,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	return taskFromMap(body), nil
}

// CancelTask requests cancellation of a task.
func (s *Session) CancelTask(ctx context.Context, workspace, taskID string) (*Task, error) {
	return s.taskAction(ctx, "easm.CancelTask", workspace, taskID, "cancel")
}

// RunTask re-runs a task.
func (s *Session) RunTask(ctx context.Context, workspace, taskID string) (*Task, error) {
	return s.taskAction(ctx, "easm.RunTask", workspace, taskID, "run")
}

func (s *Session) taskAction(ctx context.Context, op, workspace, taskID, action string) (*Task, error) {
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, sdkerrors.Validation(op, "task id is required")
	}
	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "tasks/" + url.PathEscape(taskID) + ":" + action,
		plane:    auth.PlaneData,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}
	return taskFromMap(body), nil
}

// WaitForTask polls a task at pollInterval (floored to MinPollInterval)
// until it reaches a terminal state or timeout elapses. Timeout
// produces a Timeout error carrying the last observed state.
func (s *Session) WaitForTask(ctx context.Context, workspace, taskID string, pollInterval, timeout time.Duration) (*Task, error) {
	const op = "easm.WaitForTask"
	if pollInterval < MinPollInterval {
		pollInterval = MinPollInterval
	}

	start := time.Now()
	deadline := start.Add(timeout)
	lastState := "unknown"

	for {
		task, err := s.GetTask(ctx, workspace, taskID)
		if err != nil {
			return nil, err
		}
		if task.State != "" {
			lastState = task.State
		}
		s.collector.CounterInc(metrics.TaskPollsTotal.Name, "state", strings.ToLower(lastState))

		if task.Terminal() {
			s.collector.HistogramObserve(metrics.TaskWaitDuration.Name, time.Since(start).Seconds())
			if task.Failed() {
				code, message := task.FailureDetails()
				s.logger.Warn("task %s failed: %s %s", taskID, code, message)
			}
			return task, nil
		}

		if timeout > 0 && time.Now().After(deadline) {
			return task, sdkerrors.Timeout(op,
				fmt.Sprintf("task %s not terminal after %s; last state %q", taskID, timeout, lastState))
		}

		if err := s.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

// DownloadTask resolves the artifact URL of a completed task, fetches
// it, and returns the decompressed bytes. Signed URLs are fetched
// without auth first; protected URLs fall back to the data-plane
// bearer token.
func (s *Session) DownloadTask(ctx context.Context, workspace, taskID string) ([]byte, error) {
	const op = "easm.DownloadTask"
	_, ep, err := s.resolveWorkspace(op, workspace)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, sdkerrors.Validation(op, "task id is required")
	}

	resp, err := s.do(ctx, apiRequest{
		method:   "POST",
		baseURL:  ep.DataPlane,
		endpoint: "tasks/" + url.PathEscape(taskID) + ":download",
		plane:    auth.PlaneData,
	})
	if err != nil {
		return nil, err
	}
	body, err := resp.Map()
	if err != nil {
		return nil, err
	}

	artifactURL := extractDownloadURL(body)
	if artifactURL == "" {
		return nil, sdkerrors.E(sdkerrors.KindAPIRequest, op, "task download returned no artifact url")
	}

	data, err := s.fetchArtifact(ctx, artifactURL)
	if err != nil {
		return nil, err
	}
	return compress.Decode(data)
}

// fetchArtifact GETs a download URL, unsigned first, then with the
// data-plane bearer token when the unsigned fetch is rejected.
func (s *Session) fetchArtifact(ctx context.Context, rawURL string) ([]byte, error) {
	data, status, err := s.fetchURL(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		tok, terr := s.tokens.Token(ctx, auth.PlaneData)
		if terr != nil {
			return nil, terr
		}
		data, status, err = s.fetchURL(ctx, rawURL, tok.Value)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, &sdkerrors.APIError{
			StatusCode: status,
			LastText:   snippet(redact.Redact(string(data))),
			Attempts:   1,
		}
	}
	return data, nil
}

func (s *Session) fetchURL(ctx context.Context, rawURL, bearer string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// downloadURLKeys is the preference order for artifact URL extraction.
var downloadURLKeys = []string{
	"downloadurl", "downloaduri", "artifacturl", "sasurl", "bloburl",
	"url", "uri", "href", "link",
}

// extractDownloadURL walks the payload depth-first collecting
// http(s)-shaped strings keyed by their lowercase field name, then
// picks the best-known key; else the first URL found. Map keys are
// visited in sorted order so the fallback is stable across runs.
func extractDownloadURL(payload map[string]any) string {
	byKey := make(map[string]string)
	var first string

	var walk func(key string, v any)
	walk = func(key string, v any) {
		switch val := v.(type) {
		case string:
			if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
				lower := strings.ToLower(key)
				if _, seen := byKey[lower]; !seen {
					byKey[lower] = val
				}
				if first == "" {
					first = val
				}
			}
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(k, val[k])
			}
		case []any:
			for _, item := range val {
				walk(key, item)
			}
		}
	}
	walk("", payload)

	for _, key := range downloadURLKeys {
		if u, ok := byKey[key]; ok {
			return u
		}
	}
	return first
}

// failure-detail key sets for taskFailureDetails.
var (
	failureCodeKeys    = []string{"code", "errorCode", "x-ms-error-code", "target"}
	failureMessageKeys = []string{"message", "errorMessage", "detail", "description"}
)

// taskFailureDetails searches nested maps breadth-first for the first
// error code and message fields.
func taskFailureDetails(root map[string]any) (code, message string) {
	if root == nil {
		return "", ""
	}
	queue := []map[string]any{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if code == "" {
			for _, key := range failureCodeKeys {
				if v, ok := node[key].(string); ok && v != "" {
					code = v
					break
				}
			}
		}
		if message == "" {
			for _, key := range failureMessageKeys {
				if v, ok := node[key].(string); ok && v != "" {
					message = v
					break
				}
			}
		}
		if code != "" && message != "" {
			return code, message
		}

		for _, v := range node {
			switch val := v.(type) {
			case map[string]any:
				queue = append(queue, val)
			case []any:
				for _, item := range val {
					if m, ok := item.(map[string]any); ok {
						queue = append(queue, m)
					}
				}
			}
		}
	}
	return code, message
}
