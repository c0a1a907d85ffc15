package protocol

import "encoding/json"

// ClaudeStreamEncoder turns a sequence of decoded Gemini-native stream
// chunks into the Claude Messages streaming event sequence: message_start,
// one content_block_start/delta/stop triple per logical block (text run or
// tool call), then message_delta/message_stop.
type ClaudeStreamEncoder struct {
	model        string
	messageID    string
	blockIndex   int
	blockOpen    bool
	blockIsText  bool
	toolCallID   string
	usage        ClaudeUsage
}

func NewClaudeStreamEncoder(model string) *ClaudeStreamEncoder {
	return &ClaudeStreamEncoder{model: model, messageID: GenerateMessageID(), blockIndex: -1}
}

// Start emits the opening message_start event.
func (e *ClaudeStreamEncoder) Start() []ClaudeSSEEvent {
	return []ClaudeSSEEvent{{
		Type: ClaudeEventMessageStart,
		Message: &ClaudeResponse{
			ID:      e.messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []ClaudeContentBlock{},
			Model:   e.model,
			Usage:   &ClaudeUsage{},
		},
	}}
}

func (e *ClaudeStreamEncoder) closeBlock() []ClaudeSSEEvent {
	if !e.blockOpen {
		return nil
	}
	e.blockOpen = false
	return []ClaudeSSEEvent{{Type: ClaudeEventContentBlockStop, Index: e.blockIndex}}
}

func (e *ClaudeStreamEncoder) openTextBlock() []ClaudeSSEEvent {
	events := e.closeBlock()
	e.blockIndex++
	e.blockOpen = true
	e.blockIsText = true
	events = append(events, ClaudeSSEEvent{
		Type:         ClaudeEventContentBlockStart,
		Index:        e.blockIndex,
		ContentBlock: &ClaudeContentBlock{Type: "text", Text: ""},
	})
	return events
}

// Feed processes one decoded upstream chunk and returns the Claude SSE
// events it produces.
func (e *ClaudeStreamEncoder) Feed(resp *GoogleResponse) []ClaudeSSEEvent {
	var candidates []Candidate
	var usage *UsageMetadata
	if resp.Response != nil {
		candidates = resp.Response.Candidates
		usage = resp.Response.UsageMetadata
	} else {
		candidates = resp.Candidates
		usage = resp.UsageMetadata
	}
	if usage != nil {
		e.usage.InputTokens = usage.PromptTokenCount - usage.CachedContentTokenCount
		e.usage.CacheReadInputTokens = usage.CachedContentTokenCount
		e.usage.OutputTokens = usage.CandidatesTokenCount
	}
	if len(candidates) == 0 || candidates[0].Content == nil {
		return nil
	}

	var events []ClaudeSSEEvent
	for _, part := range candidates[0].Content.Parts {
		switch {
		case part.Thought:
			if !e.blockOpen || e.blockIsText {
				events = append(events, e.closeBlock()...)
				e.blockIndex++
				e.blockOpen = true
				e.blockIsText = false
				events = append(events, ClaudeSSEEvent{
					Type:         ClaudeEventContentBlockStart,
					Index:        e.blockIndex,
					ContentBlock: &ClaudeContentBlock{Type: "thinking"},
				})
			}
			events = append(events, ClaudeSSEEvent{
				Type:  ClaudeEventContentBlockDelta,
				Index: e.blockIndex,
				Delta: &ClaudeContentDelta{Type: "thinking_delta", Thinking: part.Text, ThoughtSignature: part.ThoughtSignature},
			})

		case part.FunctionCall != nil:
			events = append(events, e.closeBlock()...)
			e.blockIndex++
			e.blockOpen = true
			e.blockIsText = false
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = GenerateToolUseID()
			}
			e.toolCallID = toolID
			events = append(events, ClaudeSSEEvent{
				Type:  ClaudeEventContentBlockStart,
				Index: e.blockIndex,
				ContentBlock: &ClaudeContentBlock{
					Type: "tool_use",
					ID:   toolID,
					Name: part.FunctionCall.Name,
				},
			})
			argsJSON := "{}"
			if part.FunctionCall.Args != nil {
				if raw, err := marshalArgs(part.FunctionCall.Args); err == nil {
					argsJSON = raw
				}
			}
			events = append(events, ClaudeSSEEvent{
				Type:  ClaudeEventContentBlockDelta,
				Index: e.blockIndex,
				Delta: &ClaudeContentDelta{Type: "input_json_delta", PartialJSON: argsJSON},
			})

		case part.Text != "":
			if !e.blockOpen || !e.blockIsText {
				events = append(events, e.openTextBlock()...)
			}
			events = append(events, ClaudeSSEEvent{
				Type:  ClaudeEventContentBlockDelta,
				Index: e.blockIndex,
				Delta: &ClaudeContentDelta{Type: "text_delta", Text: part.Text},
			})
		}
	}

	return events
}

// Finish emits the closing content_block_stop, message_delta, and
// message_stop events for finishReason.
func (e *ClaudeStreamEncoder) Finish(finishReason string) []ClaudeSSEEvent {
	events := e.closeBlock()

	stopReason := "end_turn"
	switch finishReason {
	case "MAX_TOKENS":
		stopReason = "max_tokens"
	case "TOOL_USE":
		stopReason = "tool_use"
	}
	if e.toolCallID != "" {
		stopReason = "tool_use"
	}

	events = append(events, ClaudeSSEEvent{
		Type:  ClaudeEventMessageDelta,
		Delta: &ClaudeContentDelta{StopReason: stopReason},
		Usage: &e.usage,
	})
	events = append(events, ClaudeSSEEvent{Type: ClaudeEventMessageStop})
	return events
}

// OpenAIStreamEncoder turns decoded Gemini-native stream chunks into
// chat.completion.chunk events.
type OpenAIStreamEncoder struct {
	id         string
	model      string
	created    int64
	sentRole   bool
	toolCallID string
}

func NewOpenAIStreamEncoder(model string, createdUnix int64) *OpenAIStreamEncoder {
	return &OpenAIStreamEncoder{id: GenerateOpenAICompletionID(), model: model, created: createdUnix}
}

// Feed returns zero or one chunk per upstream chunk (one chunk per text
// delta; a separate chunk per tool call with its full arguments).
func (e *OpenAIStreamEncoder) Feed(resp *GoogleResponse) []OpenAIChunk {
	var candidates []Candidate
	if resp.Response != nil {
		candidates = resp.Response.Candidates
	} else {
		candidates = resp.Candidates
	}
	if len(candidates) == 0 || candidates[0].Content == nil {
		return nil
	}

	var chunks []OpenAIChunk
	for _, part := range candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		delta := OpenAIDelta{}
		if !e.sentRole {
			delta.Role = "assistant"
			e.sentRole = true
		}

		switch {
		case part.Text != "":
			delta.Content = part.Text
		case part.FunctionCall != nil:
			argsJSON := "{}"
			if part.FunctionCall.Args != nil {
				if raw, err := marshalArgs(part.FunctionCall.Args); err == nil {
					argsJSON = raw
				}
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + randomHex(12)
			}
			delta.ToolCalls = []OpenAIToolCall{{
				ID:   id,
				Type: "function",
				Function: OpenAIFunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: argsJSON,
				},
			}}
		default:
			continue
		}

		chunks = append(chunks, OpenAIChunk{
			ID: e.id, Object: "chat.completion.chunk", Created: e.created, Model: e.model,
			Choices: []OpenAIChunkChoice{{Index: 0, Delta: delta, FinishReason: nil}},
		})
	}
	return chunks
}

// Finish returns the terminating chunk carrying finish_reason.
func (e *OpenAIStreamEncoder) Finish(finishReason string) OpenAIChunk {
	reason := "stop"
	switch finishReason {
	case "MAX_TOKENS":
		reason = "length"
	case "TOOL_USE":
		reason = "tool_calls"
	}
	return OpenAIChunk{
		ID: e.id, Object: "chat.completion.chunk", Created: e.created, Model: e.model,
		Choices: []OpenAIChunkChoice{{Index: 0, Delta: OpenAIDelta{}, FinishReason: &reason}},
	}
}

func marshalArgs(args map[string]interface{}) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}", err
	}
	return string(raw), nil
}
