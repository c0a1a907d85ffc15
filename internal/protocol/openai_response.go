package protocol

import "encoding/json"

// ConvertGeminiToOpenAI converts a Gemini-native upstream response into an
// OpenAI chat.completion response.
func ConvertGeminiToOpenAI(resp *GoogleResponse, model string, createdUnix int64) *OpenAIResponse {
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

	var textBuilder []byte
	var toolCalls []OpenAIToolCall

	for _, part := range parts {
		if part.Thought {
			continue
		}
		if part.Text != "" {
			textBuilder = append(textBuilder, part.Text...)
		}
		if part.FunctionCall != nil {
			args := "{}"
			if part.FunctionCall.Args != nil {
				if raw, err := json.Marshal(part.FunctionCall.Args); err == nil {
					args = string(raw)
				}
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + randomHex(12)
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   id,
				Type: "function",
				Function: OpenAIFunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				},
			})
		}
	}

	finishReason := "stop"
	switch first.FinishReason {
	case "MAX_TOKENS":
		finishReason = "length"
	case "SAFETY", "RECITATION":
		finishReason = "content_filter"
	}

	var content *string
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	} else {
		s := string(textBuilder)
		content = &s
	}

	var usageOut *OpenAIUsage
	if usage != nil {
		usageOut = &OpenAIUsage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.PromptTokenCount + usage.CandidatesTokenCount,
		}
	}

	return &OpenAIResponse{
		ID:      GenerateOpenAICompletionID(),
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []OpenAIChoice{{
			Index: 0,
			Message: OpenAIChoiceMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: usageOut,
	}
}
