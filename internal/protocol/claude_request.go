package protocol

import (
	"encoding/json"
	"strings"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/router"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// ConvertClaudeToGemini converts a Claude Messages API request into the
// Gemini-native request the Cloud Code upstream expects, applying
// thinking-block sanitization/recovery and schema cleanup along the way.
func ConvertClaudeToGemini(req *ClaudeRequest) *GoogleRequest {
	messages := CleanCacheControl(convertClaudeMessages(req.Messages))

	modelName := req.Model
	family := router.DetectFamily(modelName)
	isClaudeModel := family == router.FamilyClaude
	isGeminiModel := family == router.FamilyGemini
	isThinking := router.IsThinkingModel(modelName)

	out := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(messages)),
		GenerationConfig: &GenerationConfig{},
	}

	if req.System != nil {
		var systemParts []GooglePart
		switch s := req.System.(type) {
		case string:
			if s != "" {
				systemParts = append(systemParts, GooglePart{Text: s})
			}
		case []interface{}:
			for _, block := range s {
				if blockMap, ok := block.(map[string]interface{}); ok && blockMap["type"] == "text" {
					if text, ok := blockMap["text"].(string); ok {
						systemParts = append(systemParts, GooglePart{Text: text})
					}
				}
			}
		}
		if len(systemParts) > 0 {
			out.SystemInstruction = &GoogleContent{Parts: systemParts}
		}
	}

	if isClaudeModel && isThinking && len(req.Tools) > 0 {
		hint := "Interleaved thinking is enabled. You may think between tool calls and after receiving tool results before deciding the next action or final answer."
		if out.SystemInstruction == nil {
			out.SystemInstruction = &GoogleContent{Parts: []GooglePart{{Text: hint}}}
		} else if len(out.SystemInstruction.Parts) > 0 {
			last := &out.SystemInstruction.Parts[len(out.SystemInstruction.Parts)-1]
			if last.Text != "" {
				last.Text += "\n\n" + hint
			} else {
				out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, GooglePart{Text: hint})
			}
		}
	}

	processed := messages
	if isGeminiModel && isThinking && NeedsThinkingRecovery(messages) {
		utils.Debug("[protocol] applying thinking recovery for gemini target")
		processed = CloseToolLoopForThinking(messages, "gemini")
	}
	needsClaudeRecovery := HasGeminiHistory(messages) || HasUnsignedThinkingBlocks(messages)
	if isClaudeModel && isThinking && needsClaudeRecovery && NeedsThinkingRecovery(messages) {
		utils.Debug("[protocol] applying thinking recovery for claude target")
		processed = CloseToolLoopForThinking(messages, "claude")
	}

	for _, msg := range processed {
		content := msg.Content
		if (msg.Role == "assistant" || msg.Role == "model") && len(content) > 0 {
			content = RestoreThinkingSignatures(content)
			content = RemoveTrailingThinkingBlocks(content)
			content = ReorderAssistantContent(content)
		}

		parts := ConvertContentToParts(content, isClaudeModel, isGeminiModel)
		if len(parts) == 0 {
			utils.Warn("[protocol] empty parts after filtering, inserting placeholder")
			parts = append(parts, GooglePart{Text: "."})
		}

		out.Contents = append(out.Contents, GoogleContent{Role: ConvertRole(msg.Role), Parts: parts})
	}

	if isClaudeModel {
		out.Contents = filterUnsignedThinkingBlocksFromContents(out.Contents)
	}

	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.GenerationConfig.Temperature = req.Temperature
	}
	if req.TopP != nil {
		out.GenerationConfig.TopP = req.TopP
	}
	if req.TopK != nil {
		out.GenerationConfig.TopK = req.TopK
	}
	if len(req.StopSequences) > 0 {
		out.GenerationConfig.StopSequences = req.StopSequences
	}

	if isThinking {
		if isClaudeModel {
			thinkingConfig := &ThinkingConfig{IncludeThoughts: true}
			var budget int
			if req.Thinking != nil {
				budget = req.Thinking.BudgetTokens
			}
			if budget > 0 {
				thinkingConfig.ThinkingBudget = budget
				utils.Debug("[protocol] claude thinking enabled with budget %d", budget)
				if out.GenerationConfig.MaxOutputTokens > 0 && out.GenerationConfig.MaxOutputTokens <= budget {
					adjusted := budget + 8192
					utils.Warn("[protocol] max_tokens (%d) <= thinking_budget (%d), adjusting to %d",
						out.GenerationConfig.MaxOutputTokens, budget, adjusted)
					out.GenerationConfig.MaxOutputTokens = adjusted
				}
			} else {
				utils.Debug("[protocol] claude thinking enabled with no explicit budget")
			}
			out.GenerationConfig.ThinkingConfig = thinkingConfig
		} else if isGeminiModel {
			budget := 16000
			if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
				budget = req.Thinking.BudgetTokens
			}
			out.GenerationConfig.ThinkingConfig = &ThinkingConfig{
				IncludeThoughtsGemini: true,
				ThinkingBudgetGemini:  budget,
			}
			utils.Debug("[protocol] gemini thinking enabled with budget %d", budget)
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]FunctionDeclaration, 0, len(req.Tools))
		for idx, tool := range req.Tools {
			name := tool.Name
			if name == "" {
				name = "tool-" + string(rune('0'+idx))
			}

			var schema map[string]interface{}
			if len(tool.InputSchema) > 0 {
				if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
					utils.Warn("[protocol] failed to unmarshal tool schema for %s: %v", name, err)
					schema = map[string]interface{}{"type": "object"}
				}
			} else {
				schema = map[string]interface{}{"type": "object"}
			}

			parameters := SanitizeSchema(schema)
			parameters = CleanSchema(parameters)

			declarations = append(declarations, FunctionDeclaration{
				Name:        cleanToolName(name),
				Description: tool.Description,
				Parameters:  parameters,
			})
		}

		out.Tools = []GoogleTool{{FunctionDeclarations: declarations}}
		if isClaudeModel {
			out.ToolConfig = &ToolConfig{FunctionCallingConfig: &FunctionCallingConfig{Mode: "VALIDATED"}}
		}
	}

	if isGeminiModel && out.GenerationConfig.MaxOutputTokens > config.GeminiMaxOutputTokens {
		utils.Debug("[protocol] capping gemini max_tokens from %d to %d",
			out.GenerationConfig.MaxOutputTokens, config.GeminiMaxOutputTokens)
		out.GenerationConfig.MaxOutputTokens = config.GeminiMaxOutputTokens
	}

	return out
}

func convertClaudeMessages(messages []ClaudeMessage) []Message {
	result := make([]Message, 0, len(messages))
	for _, msg := range messages {
		result = append(result, Message{Role: msg.Role, Content: convertClaudeContentBlocks(msg.Content)})
	}
	return result
}

func convertClaudeContentBlocks(blocks []ClaudeContentBlock) []ContentBlock {
	result := make([]ContentBlock, 0, len(blocks))
	for _, item := range blocks {
		block := ContentBlock{
			Type:             item.Type,
			Text:             item.Text,
			Thinking:         item.Thinking,
			Signature:        item.Signature,
			ThoughtSignature: item.ThoughtSignature,
			ID:               item.ID,
			Name:             item.Name,
			ToolUseID:        item.ToolUseID,
			Content:          item.Content,
		}
		if len(item.Input) > 0 {
			var inputMap map[string]interface{}
			if err := json.Unmarshal(item.Input, &inputMap); err == nil {
				block.Input = inputMap
			}
		}
		if item.Source != nil {
			block.Source = &ImageSource{
				Type:      item.Source.Type,
				MediaType: item.Source.MediaType,
				Data:      item.Source.Data,
				URL:       item.Source.URL,
			}
		}
		if item.CacheControl != nil {
			block.CacheControl = item.CacheControl
		}
		result = append(result, block)
	}
	return result
}

func filterUnsignedThinkingBlocksFromContents(contents []GoogleContent) []GoogleContent {
	result := make([]GoogleContent, 0, len(contents))
	for _, content := range contents {
		filtered := make([]GooglePart, 0, len(content.Parts))
		for _, part := range content.Parts {
			if part.Thought {
				if part.ThoughtSignature != "" && len(part.ThoughtSignature) >= config.MinSignatureLength {
					filtered = append(filtered, part)
				} else {
					utils.Debug("[protocol] dropping unsigned thinking block")
				}
			} else {
				filtered = append(filtered, part)
			}
		}
		result = append(result, GoogleContent{Role: content.Role, Parts: filtered})
	}
	return result
}

func cleanToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	cleaned := b.String()
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}
