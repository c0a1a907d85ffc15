package protocol

import (
	"encoding/json"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/router"
)

// ConvertGeminiToClaude converts a Gemini-native upstream response into a
// Claude Messages API response.
func ConvertGeminiToClaude(resp *GoogleResponse, model string) *ClaudeResponse {
	var candidates []Candidate
	var usage *UsageMetadata

	if resp.Response != nil {
		candidates = resp.Response.Candidates
		usage = resp.Response.UsageMetadata
	} else {
		candidates = resp.Candidates
		usage = resp.UsageMetadata
	}

	var first Candidate
	if len(candidates) > 0 {
		first = candidates[0]
	}

	var parts []ResponsePart
	if first.Content != nil {
		parts = first.Content.Parts
	}

	content := make([]ClaudeContentBlock, 0, len(parts))
	hasToolCalls := false
	cache := GetGlobalSignatureCache()

	for _, part := range parts {
		switch {
		case part.Text != "":
			if part.Thought {
				signature := part.ThoughtSignature
				if signature != "" && len(signature) >= config.MinSignatureLength {
					family := router.DetectFamily(model)
					cache.CacheThinkingSignature(signature, string(family))
				}
				content = append(content, ClaudeContentBlock{
					Type:      "thinking",
					Thinking:  part.Text,
					Signature: signature,
				})
			} else {
				content = append(content, ClaudeContentBlock{Type: "text", Text: part.Text})
			}

		case part.FunctionCall != nil:
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = GenerateToolUseID()
			}

			var inputJSON json.RawMessage
			if part.FunctionCall.Args != nil {
				inputJSON, _ = json.Marshal(part.FunctionCall.Args)
			} else {
				inputJSON = json.RawMessage("{}")
			}

			block := ClaudeContentBlock{Type: "tool_use", ID: toolID, Name: part.FunctionCall.Name, Input: inputJSON}

			if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
				block.ThoughtSignature = part.ThoughtSignature
				cache.CacheSignature(toolID, part.ThoughtSignature)
			}

			content = append(content, block)
			hasToolCalls = true

		case part.InlineData != nil:
			content = append(content, ClaudeContentBlock{
				Type: "image",
				Source: &ClaudeImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})
		}
	}

	stopReason := "end_turn"
	switch {
	case first.FinishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	case first.FinishReason == "TOOL_USE" || hasToolCalls:
		stopReason = "tool_use"
	}

	var promptTokens, cachedTokens, outputTokens int
	if usage != nil {
		promptTokens = usage.PromptTokenCount
		cachedTokens = usage.CachedContentTokenCount
		outputTokens = usage.CandidatesTokenCount
	}

	if len(content) == 0 {
		content = append(content, ClaudeContentBlock{Type: "text", Text: ""})
	}

	return &ClaudeResponse{
		ID:           GenerateMessageID(),
		Type:         "message",
		Role:         "assistant",
		Content:      content,
		Model:        model,
		StopReason:   stopReason,
		StopSequence: nil,
		Usage: &ClaudeUsage{
			InputTokens:              promptTokens - cachedTokens,
			OutputTokens:             outputTokens,
			CacheReadInputTokens:     cachedTokens,
			CacheCreationInputTokens: 0,
		},
	}
}
