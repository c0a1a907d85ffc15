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

func openAISessionID(req *protocol.OpenAIRequest) string {
	return session.DeriveID(req.User, "", openAIFirstMessageTexts(req))
}

func openAIFirstMessageTexts(req *protocol.OpenAIRequest) []string {
	var texts []string
	for i, m := range req.Messages {
		if i >= 3 {
			break
		}
		if t := openAIContentAsPlainText(m.Content); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// openAIContentAsPlainText mirrors protocol's own message-text extraction
// (unexported there) for the purposes of session-id derivation only; it
// does not need to handle every content shape protocol.ConvertOpenAIToGemini
// does, just enough text to distinguish one conversation from another.
func openAIContentAsPlainText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []protocol.OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func openAIHasVision(req *protocol.OpenAIRequest) bool {
	for _, m := range req.Messages {
		var parts []protocol.OpenAIContentPart
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			for _, p := range parts {
				if p.Type == "image_url" {
					return true
				}
			}
		}
	}
	return false
}

func (d *Dispatcher) resolveOpenAIModel(req *protocol.OpenAIRequest) string {
	resolved := d.Mapping.Resolve("openai", req.Model)
	needsThinking := router.IsThinkingModel(resolved)
	needsVision := openAIHasVision(req)
	return router.UpgradeForCapability(resolved, needsThinking, needsVision)
}

// HandleOpenAIUnary serves POST /v1/chat/completions with stream=false.
func (d *Dispatcher) HandleOpenAIUnary(ctx context.Context, req *protocol.OpenAIRequest, createdUnix int64) (*protocol.OpenAIResponse, error) {
	if len(req.Messages) == 0 {
		return nil, gwerrors.InvalidRequest("messages must not be empty")
	}
	sessionID := openAISessionID(req)
	model := d.resolveOpenAIModel(req)

	var out *protocol.OpenAIResponse
	err := d.run(ctx, "openai", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			translated := *req
			translated.Model = currentModel
			geminiReq := protocol.ConvertOpenAIToGemini(&translated)
			return requestPlan{path: "/v1internal:generateContent", body: geminiReq.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			resp, err := decodeUnary(result.Body)
			if err != nil {
				return err
			}
			out = protocol.ConvertGeminiToOpenAI(resp, a.model, createdUnix)
			return nil
		},
	)
	return out, err
}

// HandleOpenAIStream serves POST /v1/chat/completions with stream=true,
// emitting one chat.completion.chunk at a time via emit.
func (d *Dispatcher) HandleOpenAIStream(ctx context.Context, req *protocol.OpenAIRequest, createdUnix int64, emit func(protocol.OpenAIChunk) error) error {
	if len(req.Messages) == 0 {
		return gwerrors.InvalidRequest("messages must not be empty")
	}
	sessionID := openAISessionID(req)
	model := d.resolveOpenAIModel(req)

	return d.run(ctx, "openai", sessionID, model,
		func(currentModel string) (requestPlan, error) {
			translated := *req
			translated.Model = currentModel
			geminiReq := protocol.ConvertOpenAIToGemini(&translated)
			return requestPlan{path: "/v1internal:streamGenerateContent?alt=sse", body: geminiReq.ToMap()}, nil
		},
		func(a attempt, result *upstream.Result) error {
			enc := protocol.NewOpenAIStreamEncoder(a.model, createdUnix)
			streamed := false
			finishReason := "STOP"

			emitAll := func(chunks []protocol.OpenAIChunk) error {
				for _, c := range chunks {
					streamed = true
					if err := emit(c); err != nil {
						return gwerrors.StreamError(err.Error())
					}
				}
				return nil
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

			streamed = true
			if err := emit(enc.Finish(finishReason)); err != nil {
				return gwerrors.StreamError(err.Error())
			}
			return nil
		},
	)
}
