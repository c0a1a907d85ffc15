package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestConvertOpenAIToGeminiSystemMessageBecomesSystemInstruction(t *testing.T) {
	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "system", Content: rawString("be terse")},
			{Role: "user", Content: rawString("hi")},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)
	require.Len(t, out.Contents, 1)
	assert.Equal(t, "user", out.Contents[0].Role)
}

func TestConvertOpenAIToGeminiDeveloperRoleTreatedAsSystem(t *testing.T) {
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "developer", Content: rawString("policy text")},
			{Role: "user", Content: rawString("hi")},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "policy text", out.SystemInstruction.Parts[0].Text)
}

func TestConvertOpenAIToGeminiAssistantRoleMapsToModel(t *testing.T) {
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: rawString("hi")},
			{Role: "assistant", Content: rawString("hello")},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.Len(t, out.Contents, 2)
	assert.Equal(t, "model", out.Contents[1].Role)
	assert.Equal(t, "hello", out.Contents[1].Parts[0].Text)
}

func TestConvertOpenAIToGeminiAssistantToolCallsBecomeFunctionCalls(t *testing.T) {
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "user", Content: rawString("weather?")},
			{
				Role: "assistant",
				ToolCalls: []OpenAIToolCall{
					{ID: "call-1", Type: "function", Function: OpenAIFunctionCall{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
				},
			},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.Len(t, out.Contents, 2)
	parts := out.Contents[1].Parts
	require.Len(t, parts, 1)
	require.NotNil(t, parts[0].FunctionCall)
	assert.Equal(t, "get_weather", parts[0].FunctionCall.Name)
	assert.Equal(t, "nyc", parts[0].FunctionCall.Args["city"])
}

func TestConvertOpenAIToGeminiToolRoleBecomesFunctionResponse(t *testing.T) {
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "tool", ToolCallID: "call-1", Content: json.RawMessage(`{"temp": 72}`)},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.Len(t, out.Contents, 1)
	part := out.Contents[0].Parts[0]
	require.NotNil(t, part.FunctionResponse)
	assert.Equal(t, "call-1", part.FunctionResponse.ID)
	assert.Equal(t, float64(72), part.FunctionResponse.Response["temp"])
}

func TestConvertOpenAIToGeminiMultiPartUserContentWithImage(t *testing.T) {
	contentJSON, err := json.Marshal([]OpenAIContentPart{
		{Type: "text", Text: "what is this"},
		{Type: "image_url", ImageURL: &OpenAIImageURL{URL: "data:image/png;base64,Zm9v"}},
	})
	require.NoError(t, err)

	req := &OpenAIRequest{
		Messages: []OpenAIMessage{{Role: "user", Content: contentJSON}},
	}
	out := ConvertOpenAIToGemini(req)
	require.Len(t, out.Contents, 1)
	parts := out.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "what is this", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, "Zm9v", parts[1].InlineData.Data)
}

func TestConvertOpenAIToGeminiMergesConsecutiveSameRoleTurns(t *testing.T) {
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{
			{Role: "system", Content: rawString("sys1")},
			{Role: "system", Content: rawString("sys2")},
			{Role: "user", Content: rawString("a")},
			{Role: "user", Content: rawString("b")},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.Len(t, out.Contents, 1)
	assert.Equal(t, "user", out.Contents[0].Role)
	require.Len(t, out.Contents[0].Parts, 2)
	assert.Equal(t, "sys1\n\nsys2", out.SystemInstruction.Parts[0].Text)
}

func TestConvertOpenAIToGeminiToolChoiceNoneDropsTools(t *testing.T) {
	schema, _ := json.Marshal(map[string]interface{}{"type": "object"})
	req := &OpenAIRequest{
		Messages:   []OpenAIMessage{{Role: "user", Content: rawString("hi")}},
		Tools:      []OpenAITool{{Type: "function", Function: OpenAIFunctionDef{Name: "f", Parameters: schema}}},
		ToolChoice: "none",
	}
	out := ConvertOpenAIToGemini(req)
	assert.Nil(t, out.Tools)
}

func TestConvertOpenAIToGeminiToolChoiceAutoSetsAutoMode(t *testing.T) {
	schema, _ := json.Marshal(map[string]interface{}{"type": "object"})
	req := &OpenAIRequest{
		Messages:   []OpenAIMessage{{Role: "user", Content: rawString("hi")}},
		Tools:      []OpenAITool{{Type: "function", Function: OpenAIFunctionDef{Name: "f", Parameters: schema}}},
		ToolChoice: "auto",
	}
	out := ConvertOpenAIToGemini(req)
	require.NotNil(t, out.ToolConfig)
	assert.Equal(t, "AUTO", out.ToolConfig.FunctionCallingConfig.Mode)
}

func TestConvertOpenAIToGeminiToolChoiceSpecificFunctionSetsAnyMode(t *testing.T) {
	schema, _ := json.Marshal(map[string]interface{}{"type": "object"})
	req := &OpenAIRequest{
		Messages: []OpenAIMessage{{Role: "user", Content: rawString("hi")}},
		Tools:    []OpenAITool{{Type: "function", Function: OpenAIFunctionDef{Name: "f", Parameters: schema}}},
		ToolChoice: map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": "f"},
		},
	}
	out := ConvertOpenAIToGemini(req)
	require.NotNil(t, out.ToolConfig)
	assert.Equal(t, "ANY", out.ToolConfig.FunctionCallingConfig.Mode)
}

func TestOpenAISanitizeSchemaDropsDisallowedFieldsAndRecursesIntoProperties(t *testing.T) {
	schema := map[string]interface{}{
		"type":          "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string", "pattern": "^[a-z]+$"},
		},
	}
	cleaned := openAISanitizeSchema(schema)
	_, hasAdditional := cleaned["additionalProperties"]
	assert.False(t, hasAdditional)
	props := cleaned["properties"].(map[string]interface{})
	city := props["city"].(map[string]interface{})
	assert.Equal(t, "string", city["type"])
	_, hasPattern := city["pattern"]
	assert.False(t, hasPattern)
}

func TestOpenAISanitizeSchemaDefaultsNilToObject(t *testing.T) {
	cleaned := openAISanitizeSchema(nil)
	assert.Equal(t, "object", cleaned["type"])
}

func TestParseDataURL(t *testing.T) {
	mime, data, ok := parseDataURL("data:image/png;base64,Zm9v")
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "Zm9v", data)

	_, _, ok = parseDataURL("https://example.com/img.png")
	assert.False(t, ok)
}
