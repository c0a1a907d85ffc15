package protocol

import (
	"encoding/json"
	"strings"

	"github.com/relaymux/llm-gateway/internal/utils"
)

// ConvertOpenAIToGemini converts an OpenAI chat-completions request into the
// Gemini-native request the Cloud Code upstream expects.
func ConvertOpenAIToGemini(req *OpenAIRequest) *GoogleRequest {
	out := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(req.Messages)),
		GenerationConfig: &GenerationConfig{},
	}

	var systemTexts []string
	var contents []GoogleContent

	for _, msg := range req.Messages {
		if msg.Role == "system" || msg.Role == "developer" {
			systemTexts = append(systemTexts, openAIMessageText(msg.Content))
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		var parts []GooglePart

		switch msg.Role {
		case "tool":
			responseContent := map[string]interface{}{"result": openAIMessageText(msg.Content)}
			var parsed map[string]interface{}
			if err := json.Unmarshal(msg.Content, &parsed); err == nil {
				responseContent = parsed
			}
			name := msg.Name
			if name == "" {
				name = msg.ToolCallID
			}
			parts = append(parts, GooglePart{FunctionResponse: &FunctionResponse{Name: name, Response: responseContent, ID: msg.ToolCallID}})

		case "assistant":
			if text := openAIMessageText(msg.Content); text != "" {
				parts = append(parts, GooglePart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]interface{}
				if call.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
				}
				parts = append(parts, GooglePart{FunctionCall: &FunctionCall{Name: call.Function.Name, Args: args, ID: call.ID}})
			}

		default:
			parts = openAIContentToParts(msg.Content)
		}

		if len(parts) == 0 {
			parts = []GooglePart{{Text: "."}}
		}

		contents = append(contents, GoogleContent{Role: role, Parts: parts})
	}

	contents = mergeConsecutiveSameRole(contents)
	out.Contents = contents

	if len(systemTexts) > 0 {
		out.SystemInstruction = &GoogleContent{Parts: []GooglePart{{Text: strings.Join(systemTexts, "\n\n")}}}
	}

	if req.Temperature != nil {
		out.GenerationConfig.Temperature = req.Temperature
	}
	if req.TopP != nil {
		out.GenerationConfig.TopP = req.TopP
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		out.GenerationConfig.StopSequences = req.Stop
	}

	if len(req.Tools) > 0 {
		declarations := make([]FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]interface{}
			if len(tool.Function.Parameters) > 0 {
				if err := json.Unmarshal(tool.Function.Parameters, &schema); err != nil {
					utils.Warn("[protocol] failed to unmarshal openai tool schema for %s: %v", tool.Function.Name, err)
					schema = map[string]interface{}{"type": "object"}
				}
			} else {
				schema = map[string]interface{}{"type": "object"}
			}
			declarations = append(declarations, FunctionDeclaration{
				Name:        cleanToolName(tool.Function.Name),
				Description: tool.Function.Description,
				Parameters:  openAISanitizeSchema(schema),
			})
		}

		if s, ok := req.ToolChoice.(string); ok && s == "none" {
			// tools dropped entirely per spec
		} else {
			out.Tools = []GoogleTool{{FunctionDeclarations: declarations}}
			switch choice := req.ToolChoice.(type) {
			case string:
				if choice == "auto" {
					out.ToolConfig = &ToolConfig{FunctionCallingConfig: &FunctionCallingConfig{Mode: "AUTO"}}
				}
			case map[string]interface{}:
				if _, ok := choice["function"].(map[string]interface{}); ok {
					out.ToolConfig = &ToolConfig{FunctionCallingConfig: &FunctionCallingConfig{Mode: "ANY"}}
				}
			}
		}
	}

	return out
}

func openAIMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// openAIContentToParts handles a user message's content, which may be a
// plain string or a list of {type:text|image_url} parts.
func openAIContentToParts(raw json.RawMessage) []GooglePart {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []GooglePart{{Text: s}}
	}

	var parts []OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}

	result := make([]GooglePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				result = append(result, GooglePart{Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mime, data, ok := parseDataURL(p.ImageURL.URL); ok {
				result = append(result, GooglePart{InlineData: &InlineData{MimeType: mime, Data: data}})
			} else {
				result = append(result, GooglePart{Text: "[image: " + p.ImageURL.URL + "]"})
			}
		}
	}
	return result
}

// parseDataURL parses a "data:<mime>;base64,<data>" URL.
func parseDataURL(url string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	return rest[:semi], rest[semi+len(";base64,"):], true
}

// mergeConsecutiveSameRole enforces Gemini's strict role-alternation
// requirement by folding consecutive same-role turns into one.
func mergeConsecutiveSameRole(contents []GoogleContent) []GoogleContent {
	if len(contents) == 0 {
		return contents
	}
	merged := make([]GoogleContent, 0, len(contents))
	for _, c := range contents {
		if len(merged) > 0 && merged[len(merged)-1].Role == c.Role {
			merged[len(merged)-1].Parts = append(merged[len(merged)-1].Parts, c.Parts...)
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// openAIAllowedSchemaFields is the field allowlist the spec names for the
// OpenAI tool-schema mapper (distinct from the stricter Claude-side
// SanitizeSchema allowlist).
var openAIAllowedSchemaFields = map[string]bool{
	"type": true, "properties": true, "required": true, "enum": true,
	"items": true, "description": true, "format": true,
	"minimum": true, "maximum": true, "minItems": true, "maxItems": true,
}

func openAISanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	result := make(map[string]interface{})
	for key, value := range schema {
		if !openAIAllowedSchemaFields[key] {
			continue
		}
		switch key {
		case "properties":
			if props, ok := value.(map[string]interface{}); ok {
				newProps := make(map[string]interface{})
				for propKey, propValue := range props {
					if propMap, ok := propValue.(map[string]interface{}); ok {
						newProps[propKey] = openAISanitizeSchema(propMap)
					} else {
						newProps[propKey] = propValue
					}
				}
				result["properties"] = newProps
			}
		case "items":
			if itemsMap, ok := value.(map[string]interface{}); ok {
				result["items"] = openAISanitizeSchema(itemsMap)
			} else {
				result["items"] = value
			}
		default:
			result[key] = value
		}
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}
