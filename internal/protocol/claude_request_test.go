package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertClaudeToGeminiBasicMessage(t *testing.T) {
	req := &ClaudeRequest{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hello there"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.Len(t, out.Contents, 1)
	assert.Equal(t, "user", out.Contents[0].Role)
	require.Len(t, out.Contents[0].Parts, 1)
	assert.Equal(t, "hello there", out.Contents[0].Parts[0].Text)
	assert.Equal(t, 1024, out.GenerationConfig.MaxOutputTokens)
}

func TestConvertClaudeToGeminiStringSystemPrompt(t *testing.T) {
	req := &ClaudeRequest{
		Model:  "claude-3-5-sonnet-20241022",
		System: "be terse",
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.NotNil(t, out.SystemInstruction)
	require.Len(t, out.SystemInstruction.Parts, 1)
	assert.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)
}

func TestConvertClaudeToGeminiBlockArraySystemPrompt(t *testing.T) {
	req := &ClaudeRequest{
		Model: "claude-3-5-sonnet-20241022",
		System: []interface{}{
			map[string]interface{}{"type": "text", "text": "first"},
			map[string]interface{}{"type": "text", "text": "second"},
		},
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.NotNil(t, out.SystemInstruction)
	require.Len(t, out.SystemInstruction.Parts, 2)
	assert.Equal(t, "first", out.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "second", out.SystemInstruction.Parts[1].Text)
}

func TestConvertClaudeToGeminiSkipsEmptySystemString(t *testing.T) {
	req := &ClaudeRequest{
		Model:  "claude-3-5-sonnet-20241022",
		System: "",
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertClaudeToGemini(req)
	assert.Nil(t, out.SystemInstruction)
}

func TestConvertClaudeToGeminiClaudeThinkingSetsBudgetAndAdjustsMaxTokens(t *testing.T) {
	req := &ClaudeRequest{
		Model:     "claude-3-7-sonnet-thinking",
		MaxTokens: 100,
		Thinking:  &ClaudeThinkingConfig{Type: "enabled", BudgetTokens: 1000},
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "think hard"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.NotNil(t, out.GenerationConfig.ThinkingConfig)
	assert.True(t, out.GenerationConfig.ThinkingConfig.IncludeThoughts)
	assert.Equal(t, 1000, out.GenerationConfig.ThinkingConfig.ThinkingBudget)
	// max_tokens (100) <= budget (1000), so it gets bumped to budget+8192
	assert.Equal(t, 9192, out.GenerationConfig.MaxOutputTokens)
}

func TestConvertClaudeToGeminiGeminiThinkingDefaultsBudget(t *testing.T) {
	req := &ClaudeRequest{
		Model: "gemini-3-pro",
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.NotNil(t, out.GenerationConfig.ThinkingConfig)
	assert.True(t, out.GenerationConfig.ThinkingConfig.IncludeThoughtsGemini)
	assert.Equal(t, 16000, out.GenerationConfig.ThinkingConfig.ThinkingBudgetGemini)
}

func TestConvertClaudeToGeminiCapsMaxOutputTokensForGeminiTarget(t *testing.T) {
	req := &ClaudeRequest{
		Model:     "gemini-2.5-pro",
		MaxTokens: 999999,
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertClaudeToGemini(req)
	assert.Equal(t, 16384, out.GenerationConfig.MaxOutputTokens)
}

func TestConvertClaudeToGeminiTranslatesToolsAndSanitizesSchema(t *testing.T) {
	schema, err := json.Marshal(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
	})
	require.NoError(t, err)

	req := &ClaudeRequest{
		Model: "claude-3-5-sonnet-20241022",
		Tools: []ClaudeTool{
			{Name: "get weather!", Description: "fetch weather", InputSchema: schema},
		},
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "weather?"}}},
		},
	}

	out := ConvertClaudeToGemini(req)
	require.Len(t, out.Tools, 1)
	require.Len(t, out.Tools[0].FunctionDeclarations, 1)
	decl := out.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "get_weather_", decl.Name)
	assert.Equal(t, "fetch weather", decl.Description)
	require.NotNil(t, out.ToolConfig)
	assert.Equal(t, "VALIDATED", out.ToolConfig.FunctionCallingConfig.Mode)
}

func TestConvertClaudeToGeminiMalformedToolSchemaFallsBackToBareObject(t *testing.T) {
	req := &ClaudeRequest{
		Model: "claude-3-5-sonnet-20241022",
		Tools: []ClaudeTool{
			{Name: "broken", InputSchema: json.RawMessage(`not json`)},
		},
		Messages: []ClaudeMessage{
			{Role: "user", Content: []ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	out := ConvertClaudeToGemini(req)
	require.Len(t, out.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "object", out.Tools[0].FunctionDeclarations[0].Parameters["type"])
}

func TestCleanToolNameStripsInvalidCharsAndCaps64(t *testing.T) {
	assert.Equal(t, "a_b-c_9", cleanToolName("a b-c!9"))

	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	assert.Len(t, cleanToolName(long), 64)
}

func TestConvertClaudeToGeminiInsertsPlaceholderForEmptyParts(t *testing.T) {
	req := &ClaudeRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []ClaudeMessage{
			{Role: "assistant", Content: []ClaudeContentBlock{{Type: "thinking", Thinking: "unsigned", Signature: ""}}},
		},
	}
	out := ConvertClaudeToGemini(req)
	require.Len(t, out.Contents, 1)
	require.Len(t, out.Contents[0].Parts, 1)
	assert.Equal(t, ".", out.Contents[0].Parts[0].Text)
}
