package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/router"
	"github.com/relaymux/llm-gateway/internal/session"
	"github.com/relaymux/llm-gateway/internal/upstream"

	"github.com/relaymux/llm-gateway/internal/protocol"
)

// geminiSessionID derives a session id for a Gemini-native request. There is
// no client-supplied user field on this surface, so stickiness rides on
// conversation content alone.
func geminiSessionID(req *protocol.GoogleRequest) string {
	return session.DeriveID("", "", geminiFirstMessageTexts(req))
}

func geminiFirstMessageTexts(req *protocol.GoogleRequest) []string {
	var texts []string
	for i, c := range req.Contents {
		if i >= 3 {
			break
		}
		for _, p := range c.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
				break
			}
		}
	}
	return texts
}

func geminiHasVision(req *protocol.GoogleRequest) bool {
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.InlineData != nil || p.FileData != nil {
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) resolveGeminiModel(requestedModel string, req *protocol.GoogleRequest) string {
	resolved := d.Mapping.Resolve("gemini", requestedModel)
	needsThinking := router.IsThinkingModel(resolved)
	needsVision := geminiHasVision(req)
	return router.UpgradeForCapability(resolved, needsThinking, needsVision)
}

// HandleGeminiUnary serves POST /v1beta/models/:model:generateContent. The
// request and response travel in native Gemini shape; only the account
// pool, envelope, and retry loop sit between the client and upstream.
func (d *Dispatcher) HandleGeminiUnary(ctx context.Context, requestedModel string, req *protocol.GoogleRequest) (*protocol.GoogleResponse, error) {
	if len(req.Contents) == 0 {
		return nil, gwerrors.InvalidRequest("contents must not be empty")
	}
	sessionID := geminiSessionID(req)
	model := d.resolveGeminiModel(requestedModel, req)

	var out *protocol.GoogleResponse
	err := d.run(ctx, "gemini", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			return requestPlan{path: "/v1internal:generateContent", body: req.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			resp, err := decodeUnary(result.Body)
			if err != nil {
				return err
			}
			out = resp
			return nil
		},
	)
	return out, err
}

// HandleGeminiStream serves POST /v1beta/models/:model:streamGenerateContent,
// re-emitting each upstream chunk as-is (no protocol translation).
func (d *Dispatcher) HandleGeminiStream(ctx context.Context, requestedModel string, req *protocol.GoogleRequest, emit func(*protocol.GoogleResponse) error) error {
	if len(req.Contents) == 0 {
		return gwerrors.InvalidRequest("contents must not be empty")
	}
	sessionID := geminiSessionID(req)
	model := d.resolveGeminiModel(requestedModel, req)

	return d.run(ctx, "gemini", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			return requestPlan{path: "/v1internal:streamGenerateContent?alt=sse", body: req.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			streamed := false
			err := readUpstreamSSE(result.Body, func(chunk *protocol.GoogleResponse) error {
				streamed = true
				return emit(chunk)
			})
			if err != nil && streamed {
				return gwerrors.StreamError(err.Error())
			}
			return err
		},
	)
}

// HandleGeminiCountTokens serves POST /v1beta/models/:model:countTokens.
// The upstream reply's shape (`{"totalTokens": n}`) doesn't match
// GoogleResponse, so it is returned as a raw map rather than decoded.
func (d *Dispatcher) HandleGeminiCountTokens(ctx context.Context, requestedModel string, req *protocol.GoogleRequest) (map[string]interface{}, error) {
	sessionID := geminiSessionID(req)
	model := d.resolveGeminiModel(requestedModel, req)

	var out map[string]interface{}
	err := d.run(ctx, "gemini", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			return requestPlan{path: "/v1internal:countTokens", body: req.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			defer result.Body.Close()
			var raw map[string]interface{}
			if err := json.NewDecoder(result.Body).Decode(&raw); err != nil {
				return gwerrors.MappingError("decode countTokens response: %v", err)
			}
			out = upstream.Unwrap(raw)
			return nil
		},
	)
	return out, err
}
