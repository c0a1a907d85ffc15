// Package protocol translates between the gateway's three inbound wire
// formats (Claude Messages, OpenAI chat completions, Gemini-native) and the
// Gemini-native shape the Cloud Code upstream actually speaks.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// ClaudeMessage is one turn on the wire in Anthropic's Messages API shape.
type ClaudeMessage struct {
	Role    string              `json:"role"`
	Content []ClaudeContentBlock `json:"content"`
}

// ClaudeContentBlock is a single content block as it arrives on the wire,
// keeping Input as raw JSON since tool schemas are caller-defined.
type ClaudeContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`

	ThoughtSignature string `json:"thoughtSignature,omitempty"`

	Source *ClaudeImageSource `json:"source,omitempty"`

	CacheControl *ClaudeCacheControl `json:"cache_control,omitempty"`
}

type ClaudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	URL       string `json:"url,omitempty"`
}

type ClaudeCacheControl struct {
	Type string `json:"type"`
}

type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type ClaudeToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// ClaudeThinkingConfig is the request-side thinking budget, distinct from
// the Gemini-native ThinkingConfig generated for the upstream call.
type ClaudeThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ClaudeSystemContent can be a plain string or an array of text blocks.
type ClaudeSystemContent interface{}

// ClaudeRequest is the body of POST /v1/messages.
type ClaudeRequest struct {
	Model         string                `json:"model"`
	Messages      []ClaudeMessage       `json:"messages"`
	MaxTokens     int                   `json:"max_tokens"`
	Stream        bool                  `json:"stream,omitempty"`
	System        ClaudeSystemContent   `json:"system,omitempty"`
	Tools         []ClaudeTool          `json:"tools,omitempty"`
	ToolChoice    *ClaudeToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ClaudeThinkingConfig `json:"thinking,omitempty"`
	TopP          *float64              `json:"top_p,omitempty"`
	TopK          *int                  `json:"top_k,omitempty"`
	Temperature   *float64              `json:"temperature,omitempty"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	Metadata      *ClaudeMetadata       `json:"metadata,omitempty"`
}

type ClaudeMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// ClaudeResponse is the body of a non-streaming POST /v1/messages reply.
type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []ClaudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   string               `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        *ClaudeUsage         `json:"usage,omitempty"`
}

type ClaudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type ClaudeSSEEventType string

const (
	ClaudeEventMessageStart      ClaudeSSEEventType = "message_start"
	ClaudeEventContentBlockStart ClaudeSSEEventType = "content_block_start"
	ClaudeEventContentBlockDelta ClaudeSSEEventType = "content_block_delta"
	ClaudeEventContentBlockStop  ClaudeSSEEventType = "content_block_stop"
	ClaudeEventMessageDelta      ClaudeSSEEventType = "message_delta"
	ClaudeEventMessageStop       ClaudeSSEEventType = "message_stop"
	ClaudeEventPing              ClaudeSSEEventType = "ping"
	ClaudeEventError             ClaudeSSEEventType = "error"
)

// ClaudeSSEEvent is one event in the Claude Messages streaming protocol.
type ClaudeSSEEvent struct {
	Type         ClaudeSSEEventType   `json:"type"`
	Message      *ClaudeResponse      `json:"message,omitempty"`
	Index        int                  `json:"index,omitempty"`
	Delta        *ClaudeContentDelta  `json:"delta,omitempty"`
	Usage        *ClaudeUsage         `json:"usage,omitempty"`
	ContentBlock *ClaudeContentBlock  `json:"content_block,omitempty"`
	Error        *ClaudeSSEError      `json:"error,omitempty"`
}

type ClaudeContentDelta struct {
	Type             string `json:"type"`
	Text             string `json:"text,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	Signature        string `json:"signature,omitempty"`
	PartialJSON      string `json:"partial_json,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

type ClaudeSSEError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClaudeModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ClaudeModelsResponse struct {
	Object string        `json:"object"`
	Data   []ClaudeModel `json:"data"`
}

type ClaudeErrorResponse struct {
	Type  string          `json:"type"`
	Error ClaudeErrorDetail `json:"error"`
}

type ClaudeErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewClaudeErrorResponse(errorType, message string) *ClaudeErrorResponse {
	return &ClaudeErrorResponse{
		Type:  "error",
		Error: ClaudeErrorDetail{Type: errorType, Message: message},
	}
}

func NewClaudeResponse(id, model string, content []ClaudeContentBlock, stopReason string, usage *ClaudeUsage) *ClaudeResponse {
	return &ClaudeResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}
}

func (cb *ClaudeContentBlock) IsToolUse() bool  { return cb.Type == "tool_use" }
func (cb *ClaudeContentBlock) IsToolResult() bool { return cb.Type == "tool_result" }
func (cb *ClaudeContentBlock) IsText() bool     { return cb.Type == "text" }
func (cb *ClaudeContentBlock) IsThinking() bool { return cb.Type == "thinking" }
func (cb *ClaudeContentBlock) IsImage() bool    { return cb.Type == "image" }

// HasSignature reports whether a thinking block carries a signature long
// enough to be trusted (see MinSignatureLength).
func (cb *ClaudeContentBlock) HasSignature() bool {
	return cb.IsThinking() && len(cb.Signature) >= 50
}

// randomHex returns a cryptographically random hex string of byteLength
// bytes, used for every generated message/tool-use id in this package.
func randomHex(byteLength int) string {
	buf := make([]byte, byteLength)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func GenerateMessageID() string  { return "msg_" + randomHex(12) }
func GenerateToolUseID() string  { return "toolu_" + randomHex(12) }

func CloneClaudeContentBlock(cb ClaudeContentBlock) ClaudeContentBlock {
	clone := cb
	if cb.Input != nil {
		clone.Input = make(json.RawMessage, len(cb.Input))
		copy(clone.Input, cb.Input)
	}
	if cb.Source != nil {
		src := *cb.Source
		clone.Source = &src
	}
	if cb.CacheControl != nil {
		cc := *cb.CacheControl
		clone.CacheControl = &cc
	}
	return clone
}

func CloneClaudeMessage(msg ClaudeMessage) ClaudeMessage {
	clone := msg
	clone.Content = make([]ClaudeContentBlock, len(msg.Content))
	for i, cb := range msg.Content {
		clone.Content[i] = CloneClaudeContentBlock(cb)
	}
	return clone
}
