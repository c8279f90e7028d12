package easm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/easmkit/sdk/pkg/auth"
	"github.com/easmkit/sdk/pkg/backoff"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/metrics"
	"github.com/easmkit/sdk/pkg/redact"
)

// maxErrorSnippet caps the response text carried in ApiRequest errors.
const maxErrorSnippet = 512

// apiRequest describes one API call to either plane.
type apiRequest struct {
	method   string
	baseURL  string
	endpoint string
	plane    auth.Plane
	params   url.Values
	payload  any

	// apiVersion overrides the plane default when non-empty (ARM
	// resource tags use their own version).
	apiVersion string
}

// apiResponse is a completed 2xx response.
type apiResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *apiResponse) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Map decodes the response body as a generic JSON object.
func (r *apiResponse) Map() (map[string]any, error) {
	out := make(map[string]any)
	if err := r.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// do executes req with retries. 2xx returns the response. A 401 or 403
// triggers exactly one token refresh and re-send within the same
// attempt; 403 after refresh is terminal. Retryable statuses and
// transport errors back off exponentially with jitter; a Retry-After
// header takes precedence, capped. Terminal failures surface as an
// APIError with a redacted body snippet.
func (s *Session) do(ctx context.Context, req apiRequest) (*apiResponse, error) {
	apiVersion := req.apiVersion
	if apiVersion == "" {
		if req.plane == auth.PlaneData {
			apiVersion = s.cfg.DataAPIVersion
		} else {
			apiVersion = s.cfg.ControlAPIVersion
		}
	}

	var body []byte
	if req.payload != nil {
		var err error
		body, err = json.Marshal(req.payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	var (
		lastStatus int
		lastText   string
		attempts   int
	)

	maxRetry := s.cfg.MaxRetry
	if maxRetry < 1 {
		maxRetry = 1
	}

	for attempt := 1; attempt <= maxRetry; attempt++ {
		attempts = attempt

		if err := s.waitLimiter(ctx); err != nil {
			return nil, err
		}

		resp, err := s.send(ctx, req, apiVersion, body)
		if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			// One refresh, one re-send, same attempt slot.
			refreshStatus := "ok"
			if _, rerr := s.tokens.Refresh(ctx, req.plane); rerr != nil {
				refreshStatus = "error"
				s.collector.CounterInc(metrics.TokenRefreshesTotal.Name,
					"plane", req.plane.String(), "status", refreshStatus)
				return nil, rerr
			}
			s.collector.CounterInc(metrics.TokenRefreshesTotal.Name,
				"plane", req.plane.String(), "status", refreshStatus)

			forbidden := resp.StatusCode == http.StatusForbidden
			resp, err = s.send(ctx, req, apiVersion, body)
			if err == nil && resp.StatusCode == http.StatusForbidden && forbidden {
				return nil, &sdkerrors.APIError{
					StatusCode: resp.StatusCode,
					LastText:   snippet(resp.bodyText()),
					Attempts:   attempts,
				}
			}
		}

		if err != nil {
			// Transport errors are always retryable.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastStatus = 0
			lastText = err.Error()
			if attempt < maxRetry {
				s.collector.CounterInc(metrics.RetriesTotal.Name, "reason", "transport")
				if serr := s.sleep(ctx, s.backoff.Delay(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, &sdkerrors.APIError{
				StatusCode: 0,
				LastText:   snippet(redact.Redact(lastText)),
				Attempts:   attempts,
			}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &resp.apiResponse, nil
		}

		lastStatus = resp.StatusCode
		lastText = resp.bodyText()

		if s.retryable[resp.StatusCode] && attempt < maxRetry {
			delay := s.backoff.Delay(attempt)
			if ra, ok := backoff.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = ra
			}
			s.collector.CounterInc(metrics.RetriesTotal.Name, "reason", "status")
			s.logger.Debug("retrying %s %s after status %d (attempt %d/%d)",
				req.method, req.endpoint, resp.StatusCode, attempt, maxRetry)
			if serr := s.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}

		break
	}

	return nil, &sdkerrors.APIError{
		StatusCode: lastStatus,
		LastText:   snippet(lastText),
		Attempts:   attempts,
	}
}

// send issues a single HTTP request and reads the body.
func (s *Session) send(ctx context.Context, req apiRequest, apiVersion string, body []byte) (*rawResponse, error) {
	u, err := buildURL(req.baseURL, req.endpoint, req.params, apiVersion)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Token(ctx, req.plane)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.method), u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.Value)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	elapsed := time.Since(start)

	plane := req.plane.String()
	if err != nil {
		s.collector.CounterInc(metrics.RequestsTotal.Name,
			"method", httpReq.Method, "plane", plane, "status", "error")
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	s.collector.CounterInc(metrics.RequestsTotal.Name,
		"method", httpReq.Method, "plane", plane, "status", strconv.Itoa(resp.StatusCode))
	s.collector.HistogramObserve(metrics.RequestDuration.Name, elapsed.Seconds(),
		"method", httpReq.Method, "plane", plane)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &rawResponse{
		apiResponse: apiResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		},
	}, nil
}

// rawResponse is a response of any status, pre-2xx-check.
type rawResponse struct {
	apiResponse
}

func (r *rawResponse) bodyText() string {
	return redact.Redact(string(r.Body))
}

// sleep waits for d or until ctx is done.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildURL joins base and endpoint, merging params and the api-version.
func buildURL(base, endpoint string, params url.Values, apiVersion string) (string, error) {
	joined := strings.TrimRight(base, "/")
	if endpoint != "" {
		joined += "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(joined)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	if apiVersion != "" {
		q.Set("api-version", apiVersion)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxErrorSnippet {
		return text[:maxErrorSnippet-3] + "..."
	}
	return text
}
