package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/router"
	"github.com/relaymux/llm-gateway/internal/session"
	"github.com/relaymux/llm-gateway/internal/upstream"
)

// claudeSessionID derives the §4.7 step 2 session id for a Claude request.
func claudeSessionID(req *protocol.ClaudeRequest) string {
	userID := ""
	if req.Metadata != nil {
		userID = req.Metadata.UserID
	}
	return session.DeriveID("", userID, firstMessageTexts(req))
}

func firstMessageTexts(req *protocol.ClaudeRequest) []string {
	var texts []string
	for i, m := range req.Messages {
		if i >= 3 {
			break
		}
		for _, b := range m.Content {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
				break
			}
		}
	}
	return texts
}

// resolveClaudeModel runs the §4.5 three-layer resolution plus capability
// upgrade for a Claude request.
func (d *Dispatcher) resolveClaudeModel(req *protocol.ClaudeRequest) string {
	resolved := d.Mapping.Resolve("claude", req.Model)
	needsThinking := router.IsThinkingModel(resolved)
	needsVision := hasVisionBlocks(req)
	return router.UpgradeForCapability(resolved, needsThinking, needsVision)
}

func hasVisionBlocks(req *protocol.ClaudeRequest) bool {
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type == "image" {
				return true
			}
		}
	}
	return false
}

// HandleClaudeUnary serves POST /v1/messages with stream=false. When the
// Anthropic passthrough provider is configured for "always", the Gemini
// path is skipped entirely; under "fallback" it is only tried once the
// Gemini retry loop is fully exhausted.
func (d *Dispatcher) HandleClaudeUnary(ctx context.Context, req *protocol.ClaudeRequest) (*protocol.ClaudeResponse, error) {
	if len(req.Messages) == 0 {
		return nil, gwerrors.InvalidRequest("messages must not be empty")
	}

	passthroughEligible := d.Passthrough != nil && d.Passthrough.Enabled(req.Model)
	if passthroughEligible && d.Passthrough.Always() {
		return d.claudeUnaryViaPassthrough(ctx, req)
	}

	sessionID := claudeSessionID(req)
	model := d.resolveClaudeModel(req)

	var out *protocol.ClaudeResponse
	err := d.run(ctx, "claude", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			translated := *req
			translated.Model = currentModel
			geminiReq := protocol.ConvertClaudeToGemini(&translated)
			return requestPlan{path: "/v1internal:generateContent", body: geminiReq.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			resp, err := decodeUnary(result.Body)
			if err != nil {
				return err
			}
			out = protocol.ConvertGeminiToClaude(resp, a.model)
			return nil
		},
	)
	if err != nil && passthroughEligible {
		return d.claudeUnaryViaPassthrough(ctx, req)
	}
	return out, err
}

func (d *Dispatcher) claudeUnaryViaPassthrough(ctx context.Context, req *protocol.ClaudeRequest) (*protocol.ClaudeResponse, error) {
	result, err := d.Passthrough.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var out protocol.ClaudeResponse
	if err := json.Unmarshal(result.Body, &out); err != nil {
		return nil, gwerrors.MappingError("decode anthropic passthrough response: %v", err)
	}
	return &out, nil
}

// HandleClaudeStream serves POST /v1/messages with stream=true, emitting
// one Claude SSE event at a time via emit. Once emit has been called for
// the first event of a given attempt, that attempt is terminal: a mid-stream
// read failure ends the response rather than retrying (partial bytes are
// already on the wire). A passthrough attempt, if taken, writes raw
// Anthropic-shaped SSE lines via emitRaw instead, since its body is already
// on the wire in the exact shape the client expects.
func (d *Dispatcher) HandleClaudeStream(ctx context.Context, req *protocol.ClaudeRequest, emit func(protocol.ClaudeSSEEvent) error, emitRaw func(line string) error) error {
	if len(req.Messages) == 0 {
		return gwerrors.InvalidRequest("messages must not be empty")
	}

	passthroughEligible := d.Passthrough != nil && d.Passthrough.Enabled(req.Model)
	if passthroughEligible && d.Passthrough.Always() {
		_, err := d.Passthrough.Stream(ctx, req, emitRaw)
		return err
	}

	sessionID := claudeSessionID(req)
	model := d.resolveClaudeModel(req)

	err := d.run(ctx, "claude", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			translated := *req
			translated.Model = currentModel
			geminiReq := protocol.ConvertClaudeToGemini(&translated)
			return requestPlan{path: "/v1internal:streamGenerateContent?alt=sse", body: geminiReq.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			enc := protocol.NewClaudeStreamEncoder(a.model)
			streamed := false
			finishReason := "STOP"

			emitAll := func(events []protocol.ClaudeSSEEvent) error {
				for _, ev := range events {
					streamed = true
					if err := emit(ev); err != nil {
						return gwerrors.StreamError(err.Error())
					}
				}
				return nil
			}

			if err := emitAll(enc.Start()); err != nil {
				return err
			}

			err := readUpstreamSSE(result.Body, func(chunk *protocol.GoogleResponse) error {
				if fr := candidateFinishReason(chunk); fr != "" {
					finishReason = fr
				}
				return emitAll(enc.Feed(chunk))
			})
			if err != nil {
				if streamed {
					return gwerrors.StreamError(err.Error())
				}
				return err
			}

			return emitAll(enc.Finish(finishReason))
		},
	)

	if err != nil && passthroughEligible && !streamedBytesAlready(err) {
		_, err = d.Passthrough.Stream(ctx, req, emitRaw)
	}
	return err
}

// streamedBytesAlready reports whether err came from a mid-stream failure
// after response bytes were already written downstream, in which case a
// fallback provider must not be tried: the client has a partial response on
// the wire and retrying would duplicate or corrupt it.
func streamedBytesAlready(err error) bool {
	gwErr, ok := gwerrors.As(err)
	return ok && gwErr.StreamedBytes
}

func candidateFinishReason(resp *protocol.GoogleResponse) string {
	var candidates []protocol.Candidate
	if resp.Response != nil {
		candidates = resp.Response.Candidates
	} else {
		candidates = resp.Candidates
	}
	if len(candidates) > 0 {
		return candidates[0].FinishReason
	}
	return ""
}
