package protocol

import (
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// ContentBlock is the converter's internal representation of one Claude
// content block, used as the intermediate form between the wire types and
// GooglePart.
type ContentBlock struct {
	Type             string                 `json:"type,omitempty"`
	Text             string                 `json:"text,omitempty"`
	Thinking         string                 `json:"thinking,omitempty"`
	Signature        string                 `json:"signature,omitempty"`
	ThoughtSignature string                 `json:"thoughtSignature,omitempty"`
	Thought          bool                   `json:"thought,omitempty"`
	ID               string                 `json:"id,omitempty"`
	Name             string                 `json:"name,omitempty"`
	Input            map[string]interface{} `json:"input,omitempty"`
	ToolUseID        string                 `json:"tool_use_id,omitempty"`
	Content          interface{}            `json:"content,omitempty"`
	CacheControl     interface{}            `json:"cache_control,omitempty"`
	Data             string                 `json:"data,omitempty"`

	Source *ImageSource `json:"source,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Message is the converter's internal representation of one turn.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content,omitempty"`
}

// CleanCacheControl strips cache_control from every block: the Cloud Code
// API rejects it as an unrecognized field.
func CleanCacheControl(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	removedCount := 0
	cleaned := make([]Message, 0, len(messages))

	for _, message := range messages {
		if len(message.Content) == 0 {
			cleaned = append(cleaned, message)
			continue
		}

		cleanedContent := make([]ContentBlock, 0, len(message.Content))
		for _, block := range message.Content {
			if block.CacheControl != nil {
				newBlock := block
				newBlock.CacheControl = nil
				cleanedContent = append(cleanedContent, newBlock)
				removedCount++
			} else {
				cleanedContent = append(cleanedContent, block)
			}
		}

		cleaned = append(cleaned, Message{Role: message.Role, Content: cleanedContent})
	}

	if removedCount > 0 {
		utils.Debug("[protocol] removed cache_control from %d block(s)", removedCount)
	}

	return cleaned
}

func isThinkingPart(block ContentBlock) bool {
	return block.Type == "thinking" ||
		block.Type == "redacted_thinking" ||
		block.Thinking != "" ||
		block.Thought
}

func hasValidSignature(block ContentBlock) bool {
	var signature string
	if block.Thought {
		signature = block.ThoughtSignature
	} else {
		signature = block.Signature
	}
	return signature != "" && len(signature) >= config.MinSignatureLength
}

// HasGeminiHistory reports whether history carries Gemini-style signed tool
// calls (thoughtSignature on tool_use), as opposed to Claude-style signed
// thinking blocks.
func HasGeminiHistory(messages []Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "tool_use" && block.ThoughtSignature != "" {
				return true
			}
		}
	}
	return false
}

// HasUnsignedThinkingBlocks reports whether any assistant turn carries a
// thinking block that will be dropped for lack of a valid signature.
func HasUnsignedThinkingBlocks(messages []Message) bool {
	for _, msg := range messages {
		if msg.Role != "assistant" && msg.Role != "model" {
			continue
		}
		for _, block := range msg.Content {
			if isThinkingPart(block) && !hasValidSignature(block) {
				return true
			}
		}
	}
	return false
}

func sanitizeAnthropicThinkingBlock(block ContentBlock) ContentBlock {
	if block.Type == "thinking" {
		return ContentBlock{Type: "thinking", Thinking: block.Thinking, Signature: block.Signature}
	}
	if block.Type == "redacted_thinking" {
		return ContentBlock{Type: "redacted_thinking", Data: block.Data}
	}
	return block
}

func sanitizeTextBlock(block ContentBlock) ContentBlock {
	if block.Type != "text" {
		return block
	}
	return ContentBlock{Type: "text", Text: block.Text}
}

func sanitizeToolUseBlock(block ContentBlock) ContentBlock {
	if block.Type != "tool_use" {
		return block
	}
	sanitized := ContentBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: block.Input}
	if block.ThoughtSignature != "" {
		sanitized.ThoughtSignature = block.ThoughtSignature
	}
	return sanitized
}

// RestoreThinkingSignatures keeps only thinking blocks with a valid
// signature, dropping the rest (the upstream rejects unsigned ones).
func RestoreThinkingSignatures(content []ContentBlock) []ContentBlock {
	if len(content) == 0 {
		return content
	}

	originalLength := len(content)
	filtered := make([]ContentBlock, 0, originalLength)

	for _, block := range content {
		if block.Type != "thinking" {
			filtered = append(filtered, block)
			continue
		}
		if block.Signature != "" && len(block.Signature) >= config.MinSignatureLength {
			filtered = append(filtered, sanitizeAnthropicThinkingBlock(block))
		}
	}

	if len(filtered) < originalLength {
		utils.Debug("[protocol] dropped %d unsigned thinking block(s)", originalLength-len(filtered))
	}

	return filtered
}

// RemoveTrailingThinkingBlocks trims trailing unsigned thinking blocks off
// an assistant turn's content, stopping at the first signed or non-thinking
// block scanning from the end.
func RemoveTrailingThinkingBlocks(content []ContentBlock) []ContentBlock {
	if len(content) == 0 {
		return content
	}

	endIndex := len(content)
	for i := len(content) - 1; i >= 0; i-- {
		block := content[i]
		if isThinkingPart(block) {
			if !hasValidSignature(block) {
				endIndex = i
			} else {
				break
			}
		} else {
			break
		}
	}

	if endIndex < len(content) {
		utils.Debug("[protocol] removed %d trailing unsigned thinking blocks", len(content)-endIndex)
		return content[:endIndex]
	}
	return content
}

// ReorderAssistantContent orders a turn's blocks thinking-first,
// text-middle, tool_use-last, which the upstream requires when thinking is
// enabled.
func ReorderAssistantContent(content []ContentBlock) []ContentBlock {
	if len(content) == 0 {
		return content
	}
	if len(content) == 1 {
		block := content[0]
		if block.Type == "thinking" || block.Type == "redacted_thinking" {
			return []ContentBlock{sanitizeAnthropicThinkingBlock(block)}
		}
		return content
	}

	var thinkingBlocks, textBlocks, toolUseBlocks []ContentBlock
	droppedEmptyBlocks := 0

	for _, block := range content {
		switch {
		case block.Type == "thinking" || block.Type == "redacted_thinking":
			thinkingBlocks = append(thinkingBlocks, sanitizeAnthropicThinkingBlock(block))
		case block.Type == "tool_use":
			toolUseBlocks = append(toolUseBlocks, sanitizeToolUseBlock(block))
		case block.Type == "text":
			if block.Text != "" {
				textBlocks = append(textBlocks, sanitizeTextBlock(block))
			} else {
				droppedEmptyBlocks++
			}
		default:
			textBlocks = append(textBlocks, block)
		}
	}

	if droppedEmptyBlocks > 0 {
		utils.Debug("[protocol] dropped %d empty text block(s)", droppedEmptyBlocks)
	}

	reordered := make([]ContentBlock, 0, len(thinkingBlocks)+len(textBlocks)+len(toolUseBlocks))
	reordered = append(reordered, thinkingBlocks...)
	reordered = append(reordered, textBlocks...)
	reordered = append(reordered, toolUseBlocks...)
	return reordered
}

type conversationState struct {
	InToolLoop       bool
	InterruptedTool  bool
	TurnHasThinking  bool
	ToolResultCount  int
	LastAssistantIdx int
}

func analyzeConversationState(messages []Message) conversationState {
	state := conversationState{LastAssistantIdx: -1}
	if len(messages) == 0 {
		return state
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" || messages[i].Role == "model" {
			state.LastAssistantIdx = i
			break
		}
	}
	if state.LastAssistantIdx == -1 {
		return state
	}

	lastAssistant := messages[state.LastAssistantIdx]
	hasToolUse := messageHasToolUse(lastAssistant)
	hasThinking := messageHasValidThinking(lastAssistant)

	hasPlainUserMessageAfter := false
	for i := state.LastAssistantIdx + 1; i < len(messages); i++ {
		if messageHasToolResult(messages[i]) {
			state.ToolResultCount++
		}
		if isPlainUserMessage(messages[i]) {
			hasPlainUserMessageAfter = true
		}
	}

	state.InToolLoop = hasToolUse && state.ToolResultCount > 0
	state.InterruptedTool = hasToolUse && state.ToolResultCount == 0 && hasPlainUserMessageAfter
	state.TurnHasThinking = hasThinking
	return state
}

func messageHasValidThinking(message Message) bool {
	for _, block := range message.Content {
		if !isThinkingPart(block) {
			continue
		}
		if block.Signature != "" && len(block.Signature) >= config.MinSignatureLength {
			return true
		}
		if block.ThoughtSignature != "" && len(block.ThoughtSignature) >= config.MinSignatureLength {
			return true
		}
	}
	return false
}

func messageHasToolUse(message Message) bool {
	for _, block := range message.Content {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}

func messageHasToolResult(message Message) bool {
	for _, block := range message.Content {
		if block.Type == "tool_result" {
			return true
		}
	}
	return false
}

func isPlainUserMessage(message Message) bool {
	if message.Role != "user" {
		return false
	}
	for _, block := range message.Content {
		if block.Type == "tool_result" {
			return false
		}
	}
	return true
}

// NeedsThinkingRecovery reports whether the conversation is in a tool loop
// or interrupted-tool state with no valid thinking block to anchor it,
// meaning the upstream will reject the turn unless recovered.
func NeedsThinkingRecovery(messages []Message) bool {
	state := analyzeConversationState(messages)
	if !state.InToolLoop && !state.InterruptedTool {
		return false
	}
	return !state.TurnHasThinking
}

func stripInvalidThinkingBlocks(messages []Message, targetFamily string) []Message {
	strippedCount := 0
	cache := GetGlobalSignatureCache()
	result := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if len(msg.Content) == 0 {
			result = append(result, msg)
			continue
		}

		filtered := make([]ContentBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			if !isThinkingPart(block) {
				filtered = append(filtered, block)
				continue
			}
			if !hasValidSignature(block) {
				strippedCount++
				continue
			}
			if targetFamily == "gemini" {
				var signature string
				if block.Thought {
					signature = block.ThoughtSignature
				} else {
					signature = block.Signature
				}
				signatureFamily := cache.GetCachedSignatureFamily(signature)
				if signatureFamily == "" || signatureFamily != targetFamily {
					strippedCount++
					continue
				}
			}
			filtered = append(filtered, block)
		}

		if len(filtered) == 0 {
			filtered = []ContentBlock{{Type: "text", Text: "."}}
		}
		result = append(result, Message{Role: msg.Role, Content: filtered})
	}

	if strippedCount > 0 {
		utils.Debug("[protocol] stripped %d invalid/incompatible thinking block(s)", strippedCount)
	}
	return result
}

// CloseToolLoopForThinking injects synthetic turns to close an open tool
// loop (or acknowledge an interrupted one) so the next request starts a
// fresh turn the upstream will accept.
func CloseToolLoopForThinking(messages []Message, targetFamily string) []Message {
	state := analyzeConversationState(messages)
	if !state.InToolLoop && !state.InterruptedTool {
		return messages
	}

	modified := stripInvalidThinkingBlocks(messages, targetFamily)

	if state.InterruptedTool {
		insertIdx := state.LastAssistantIdx + 1
		syntheticMsg := Message{
			Role:    "assistant",
			Content: []ContentBlock{{Type: "text", Text: "[Tool call was interrupted.]"}},
		}
		newModified := make([]Message, 0, len(modified)+1)
		newModified = append(newModified, modified[:insertIdx]...)
		newModified = append(newModified, syntheticMsg)
		newModified = append(newModified, modified[insertIdx:]...)
		modified = newModified
		utils.Debug("[protocol] applied thinking recovery for interrupted tool")
	} else if state.InToolLoop {
		syntheticText := "[Tool execution completed.]"
		modified = append(modified, Message{
			Role:    "assistant",
			Content: []ContentBlock{{Type: "text", Text: syntheticText}},
		})
		modified = append(modified, Message{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: "[Continue]"}},
		})
		utils.Debug("[protocol] applied thinking recovery for tool loop")
	}

	return modified
}
