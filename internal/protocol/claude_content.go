package protocol

import (
	"strings"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// ConvertRole maps a Claude wire role onto the Gemini-native role.
func ConvertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// ConvertContentToParts converts one turn's Claude content blocks into
// Gemini-native parts, handling tool-call/tool-result translation and
// thinking-signature compatibility across model families.
func ConvertContentToParts(content []ContentBlock, isClaudeModel, isGeminiModel bool) []GooglePart {
	parts := make([]GooglePart, 0, len(content))
	var deferredInlineData []GooglePart // Issue #91: tool-result images sort to the end

	cache := GetGlobalSignatureCache()

	for _, block := range content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}

		case "image":
			if block.Source != nil {
				switch block.Source.Type {
				case "base64":
					parts = append(parts, GooglePart{InlineData: &InlineData{
						MimeType: block.Source.MediaType,
						Data:     block.Source.Data,
					}})
				case "url":
					mimeType := block.Source.MediaType
					if mimeType == "" {
						mimeType = "image/jpeg"
					}
					parts = append(parts, GooglePart{FileData: &FileData{
						MimeType: mimeType,
						FileURI:  block.Source.URL,
					}})
				}
			}

		case "document":
			if block.Source != nil {
				switch block.Source.Type {
				case "base64":
					parts = append(parts, GooglePart{InlineData: &InlineData{
						MimeType: block.Source.MediaType,
						Data:     block.Source.Data,
					}})
				case "url":
					mimeType := block.Source.MediaType
					if mimeType == "" {
						mimeType = "application/pdf"
					}
					parts = append(parts, GooglePart{FileData: &FileData{
						MimeType: mimeType,
						FileURI:  block.Source.URL,
					}})
				}
			}

		case "tool_use":
			functionCall := &FunctionCall{Name: block.Name, Args: block.Input}
			if isClaudeModel && block.ID != "" {
				functionCall.ID = block.ID
			}

			part := GooglePart{FunctionCall: functionCall}

			if isGeminiModel {
				signature := block.ThoughtSignature
				if signature == "" && block.ID != "" {
					signature = cache.GetCachedSignature(block.ID)
					if signature != "" {
						utils.Debug("[protocol] restored signature from cache for %s", block.ID)
					}
				}
				if signature == "" {
					signature = config.GeminiSkipSignature
				}
				part.ThoughtSignature = signature
			}

			parts = append(parts, part)

		case "tool_result":
			responseContent := make(map[string]interface{})
			var imageParts []GooglePart

			switch c := block.Content.(type) {
			case string:
				responseContent["result"] = c
			case []interface{}:
				var texts []string
				for _, item := range c {
					itemMap, ok := item.(map[string]interface{})
					if !ok {
						continue
					}
					itemType, _ := itemMap["type"].(string)
					switch itemType {
					case "image":
						if source, ok := itemMap["source"].(map[string]interface{}); ok && source["type"] == "base64" {
							mimeType, _ := source["media_type"].(string)
							data, _ := source["data"].(string)
							imageParts = append(imageParts, GooglePart{InlineData: &InlineData{MimeType: mimeType, Data: data}})
						}
					case "text":
						if text, ok := itemMap["text"].(string); ok {
							texts = append(texts, text)
						}
					}
				}
				responseContent["result"] = toolResultText(texts, imageParts)
			case []ContentBlock:
				var texts []string
				for _, item := range c {
					if item.Type == "image" && item.Source != nil && item.Source.Type == "base64" {
						imageParts = append(imageParts, GooglePart{InlineData: &InlineData{
							MimeType: item.Source.MediaType,
							Data:     item.Source.Data,
						}})
					} else if item.Type == "text" {
						texts = append(texts, item.Text)
					}
				}
				responseContent["result"] = toolResultText(texts, imageParts)
			}

			funcName := block.ToolUseID
			if funcName == "" {
				funcName = "unknown"
			}

			functionResponse := &FunctionResponse{Name: funcName, Response: responseContent}
			if isClaudeModel && block.ToolUseID != "" {
				functionResponse.ID = block.ToolUseID
			}

			parts = append(parts, GooglePart{FunctionResponse: functionResponse})
			deferredInlineData = append(deferredInlineData, imageParts...)

		case "thinking":
			if block.Signature == "" || len(block.Signature) < config.MinSignatureLength {
				continue
			}

			signatureFamily := cache.GetCachedSignatureFamily(block.Signature)
			var targetFamily string
			if isClaudeModel {
				targetFamily = "claude"
			} else if isGeminiModel {
				targetFamily = "gemini"
			}

			if isGeminiModel && signatureFamily != "" && targetFamily != "" && signatureFamily != targetFamily {
				utils.Debug("[protocol] dropping incompatible %s thinking for %s model", signatureFamily, targetFamily)
				continue
			}
			if isGeminiModel && signatureFamily == "" && targetFamily != "" {
				utils.Debug("[protocol] dropping thinking with unknown signature origin")
				continue
			}

			parts = append(parts, GooglePart{
				Text:             block.Thinking,
				Thought:          true,
				ThoughtSignature: block.Signature,
			})
		}
	}

	parts = append(parts, deferredInlineData...)
	return parts
}

func toolResultText(texts []string, imageParts []GooglePart) string {
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(imageParts) > 0 {
		return "Image attached"
	}
	return ""
}

// ConvertStringContentToParts wraps a plain string turn as a single part.
func ConvertStringContentToParts(content string) []GooglePart {
	return []GooglePart{{Text: content}}
}
