package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
)

// AnthropicPassthrough proxies a Claude Messages request directly to a
// real Anthropic-compatible endpoint, bypassing the Gemini translation
// layer entirely. It is consulted by the Claude handler under
// config.AnthropicPassthroughMode = "always" (always used for claude-*
// models) or "fallback" (used only once the Gemini retry loop in
// Dispatcher.run is fully exhausted).
type AnthropicPassthrough struct {
	Cfg  *config.Config
	HTTP *http.Client
}

func NewAnthropicPassthrough(cfg *config.Config) *AnthropicPassthrough {
	return &AnthropicPassthrough{Cfg: cfg, HTTP: &http.Client{Timeout: 300 * time.Second}}
}

// Enabled reports whether model should be routed through this provider at
// all, independent of always vs fallback timing.
func (p *AnthropicPassthrough) Enabled(model string) bool {
	if p.Cfg.AnthropicPassthroughMode == "off" || p.Cfg.AnthropicPassthroughMode == "" {
		return false
	}
	return strings.HasPrefix(model, "claude-")
}

// Always reports whether dispatch mode is "always", meaning the Claude
// handler should skip the Gemini path entirely for this model.
func (p *AnthropicPassthrough) Always() bool {
	return p.Cfg.AnthropicPassthroughMode == "always"
}

func (p *AnthropicPassthrough) remapModel(model string) string {
	if mapped, ok := p.Cfg.AnthropicModelMapping[model]; ok {
		return mapped
	}
	return model
}

// stripCacheControl deep-removes every `cache_control` key from system and
// message content blocks before the request leaves for a real Anthropic
// endpoint; the gateway's own prompt-caching bookkeeping doesn't apply to a
// passthrough target that manages its own cache.
func stripCacheControl(body []byte) []byte {
	result := gjson.GetBytes(body, "messages")
	if !result.Exists() {
		return body
	}
	out := body
	result.ForEach(func(msgKey, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(blockKey, block gjson.Result) bool {
			if block.Get("cache_control").Exists() {
				path := fmt.Sprintf("messages.%d.content.%d.cache_control", msgKey.Int(), blockKey.Int())
				if stripped, err := sjson.DeleteBytes(out, path); err == nil {
					out = stripped
				}
			}
			return true
		})
		return true
	})
	if gjson.GetBytes(out, "system.0.cache_control").Exists() || gjson.GetBytes(out, "system").IsArray() {
		sys := gjson.GetBytes(out, "system")
		sys.ForEach(func(idx, block gjson.Result) bool {
			if block.Get("cache_control").Exists() {
				if stripped, err := sjson.DeleteBytes(out, fmt.Sprintf("system.%d.cache_control", idx.Int())); err == nil {
					out = stripped
				}
			}
			return true
		})
	}
	return out
}

// Usage accumulates token counts opportunistically parsed out of a
// streamed passthrough response, for the request monitor log.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

func parseUsageFragment(data string, usage *Usage) {
	if usage == nil || data == "" || data == "[DONE]" {
		return
	}
	parsed := gjson.Parse(data)
	switch parsed.Get("type").String() {
	case "message_start":
		u := parsed.Get("message.usage")
		if u.Exists() {
			usage.InputTokens = int(u.Get("input_tokens").Int())
			usage.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())
			usage.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())
		}
	case "message_delta":
		u := parsed.Get("usage")
		if v := u.Get("output_tokens").Int(); v > 0 {
			usage.OutputTokens = int(v)
		}
		if v := u.Get("input_tokens").Int(); v > 0 {
			usage.InputTokens = int(v)
		}
	}
}

// UnaryResult is what a non-streaming passthrough call returns: the raw
// body (already in Claude wire shape, passed straight through to the
// client) plus the usage it carried.
type UnaryResult struct {
	Body  []byte
	Usage Usage
}

// Do issues one passthrough call for a non-streaming request.
func (p *AnthropicPassthrough) Do(ctx context.Context, req *protocol.ClaudeRequest) (*UnaryResult, error) {
	raw, err := p.buildBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, raw)
	if err != nil {
		return nil, gwerrors.NetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, gwerrors.NetworkError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, gwerrors.Wrap(classifyFatalKind(resp.StatusCode), fmt.Sprintf("anthropic passthrough %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	var usage Usage
	u := gjson.GetBytes(body, "usage")
	usage.InputTokens = int(u.Get("input_tokens").Int())
	usage.OutputTokens = int(u.Get("output_tokens").Int())
	usage.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())
	usage.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())

	return &UnaryResult{Body: body, Usage: usage}, nil
}

// Stream issues one passthrough call for a streaming request, proxying
// each raw SSE line to emit as soon as it is read while opportunistically
// accumulating usage for the caller to log once the stream ends.
func (p *AnthropicPassthrough) Stream(ctx context.Context, req *protocol.ClaudeRequest, emit func(line string) error) (Usage, error) {
	var usage Usage
	raw, err := p.buildBody(req)
	if err != nil {
		return usage, err
	}

	resp, err := p.send(ctx, raw)
	if err != nil {
		return usage, gwerrors.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		return usage, gwerrors.Wrap(classifyFatalKind(resp.StatusCode), fmt.Sprintf("anthropic passthrough %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if err := emit(line); err != nil {
			return usage, gwerrors.StreamError(err.Error())
		}
		if data, ok := extractSSEData(line); ok {
			parseUsageFragment(data, &usage)
		}
	}
	return usage, scanner.Err()
}

func extractSSEData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func (p *AnthropicPassthrough) buildBody(req *protocol.ClaudeRequest) ([]byte, error) {
	translated := *req
	translated.Model = p.remapModel(req.Model)

	raw, err := json.Marshal(&translated)
	if err != nil {
		return nil, gwerrors.MappingError("marshal passthrough request: %v", err)
	}
	return stripCacheControl(raw), nil
}

func (p *AnthropicPassthrough) send(ctx context.Context, body []byte) (*http.Response, error) {
	base := strings.TrimRight(p.Cfg.AnthropicBaseURL, "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("x-api-key", p.Cfg.AnthropicAPIKey)
	return p.HTTP.Do(httpReq)
}
