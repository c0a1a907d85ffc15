// Package upstream wraps outbound requests in the Cloud Code v1internal
// envelope, unwraps responses, and fails over across the endpoint list
// within a single per-request deadline.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
)

// BaseURLs is the upstream fallback order: daily sandbox first, then prod.
var BaseURLs = []string{
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
	"https://cloudcode-pa.googleapis.com/v1internal",
}

// RequestDeadline bounds every attempt across every base URL for one
// inbound request.
const RequestDeadline = 300 * time.Second

// Envelope is the v1internal request wrapper.
type Envelope struct {
	Project     string                 `json:"project,omitempty"`
	RequestID   string                 `json:"requestId"`
	Request     map[string]interface{} `json:"request"`
	Model       string                 `json:"model"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
}

// Wrap builds the v1internal envelope for a translated Gemini-native
// request body.
func Wrap(projectID, model string, body map[string]interface{}) *Envelope {
	return &Envelope{
		Project:     projectID,
		RequestID:   "agent-" + uuid.New().String(),
		Request:     body,
		Model:       model,
		UserAgent:   "antigravity",
		RequestType: "agent",
	}
}

// Unwrap peels the ".response" field Cloud Code wraps single responses in,
// if present; otherwise returns the body unchanged.
func Unwrap(body map[string]interface{}) map[string]interface{} {
	if inner, ok := body["response"].(map[string]interface{}); ok {
		return inner
	}
	return body
}

// UnwrapStreamChunk peels ".response" out of one SSE data chunk's decoded
// JSON, if present.
func UnwrapStreamChunk(chunk map[string]interface{}) map[string]interface{} {
	return Unwrap(chunk)
}

// Client issues v1internal requests across the base-URL fallback list.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: RequestDeadline}}
}

// Result is one upstream attempt's outcome.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// shouldFailover reports whether status warrants trying the next base URL
// rather than surfacing the error immediately.
func shouldFailover(status int) bool {
	switch {
	case status == 429, status == 408, status == 404:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// Do sends path+envelope to each base URL in order until one returns a
// non-failover status or the list is exhausted, all within a single
// deadline derived from ctx (callers should have already applied
// RequestDeadline via context.WithTimeout).
func (c *Client) Do(ctx context.Context, path string, headers map[string]string, env *Envelope, stream bool) (*Result, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, gwerrors.MappingError("marshal envelope: %v", err)
	}

	var lastErr error
	for i, base := range BaseURLs {
		url := base + path
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, gwerrors.NetworkError(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		} else {
			req.Header.Set("Accept", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, gwerrors.Timeout("deadline exceeded calling " + url)
			}
			lastErr = gwerrors.NetworkError(err)
			if i < len(BaseURLs)-1 {
				continue
			}
			return nil, lastErr
		}

		if shouldFailover(resp.StatusCode) && i < len(BaseURLs)-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream %s returned %d", url, resp.StatusCode)
			continue
		}

		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
	}

	if lastErr != nil {
		return nil, gwerrors.Wrap(gwerrors.KindNetworkError, "all upstream endpoints failed", lastErr)
	}
	return nil, gwerrors.NetworkError(fmt.Errorf("no upstream endpoints configured"))
}

// WithRequestDeadline returns a context bounded by the per-request
// deadline, spanning every attempt across every base URL.
func WithRequestDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, RequestDeadline)
}
