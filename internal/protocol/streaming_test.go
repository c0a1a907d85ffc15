package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateChunk(parts ...ResponsePart) *GoogleResponse {
	return &GoogleResponse{Candidates: []Candidate{{Content: &CandidateContent{Parts: parts}}}}
}

func TestClaudeStreamEncoderStartEmitsMessageStart(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	events := enc.Start()
	require.Len(t, events, 1)
	assert.Equal(t, ClaudeEventMessageStart, events[0].Type)
	assert.Equal(t, "claude-3-5-sonnet", events[0].Message.Model)
}

func TestClaudeStreamEncoderTextRunEmitsStartDeltaOncePerBlock(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	enc.Start()

	first := enc.Feed(candidateChunk(ResponsePart{Text: "hel"}))
	require.Len(t, first, 2)
	assert.Equal(t, ClaudeEventContentBlockStart, first[0].Type)
	assert.Equal(t, 0, first[0].Index)
	assert.Equal(t, ClaudeEventContentBlockDelta, first[1].Type)
	assert.Equal(t, "hel", first[1].Delta.Text)

	second := enc.Feed(candidateChunk(ResponsePart{Text: "lo"}))
	require.Len(t, second, 1)
	assert.Equal(t, ClaudeEventContentBlockDelta, second[0].Type)
	assert.Equal(t, 0, second[0].Index)
}

func TestClaudeStreamEncoderSwitchesBlockOnToolCall(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	enc.Feed(candidateChunk(ResponsePart{Text: "thinking aloud"}))

	events := enc.Feed(candidateChunk(ResponsePart{FunctionCall: &ResponseFuncCall{Name: "get_weather", Args: map[string]interface{}{"city": "nyc"}}}))
	require.Len(t, events, 3)
	assert.Equal(t, ClaudeEventContentBlockStop, events[0].Type)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, ClaudeEventContentBlockStart, events[1].Type)
	assert.Equal(t, 1, events[1].Index)
	assert.Equal(t, "tool_use", events[1].ContentBlock.Type)
	assert.Equal(t, "get_weather", events[1].ContentBlock.Name)
	assert.Equal(t, ClaudeEventContentBlockDelta, events[2].Type)
	assert.Equal(t, "input_json_delta", events[2].Delta.Type)
}

func TestClaudeStreamEncoderThinkingBlockBeforeText(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-7-sonnet-thinking")
	events := enc.Feed(candidateChunk(ResponsePart{Thought: true, Text: "reasoning", ThoughtSignature: "sig"}))
	require.Len(t, events, 2)
	assert.Equal(t, ClaudeEventContentBlockStart, events[0].Type)
	assert.Equal(t, "thinking", events[0].ContentBlock.Type)
	assert.Equal(t, "thinking_delta", events[1].Delta.Type)
	assert.Equal(t, "reasoning", events[1].Delta.Thinking)
}

func TestClaudeStreamEncoderFinishClosesBlockAndEmitsStopSequence(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	enc.Feed(candidateChunk(ResponsePart{Text: "hi"}))

	events := enc.Finish("STOP")
	require.Len(t, events, 3)
	assert.Equal(t, ClaudeEventContentBlockStop, events[0].Type)
	assert.Equal(t, ClaudeEventMessageDelta, events[1].Type)
	assert.Equal(t, "end_turn", events[1].Delta.StopReason)
	assert.Equal(t, ClaudeEventMessageStop, events[2].Type)
}

func TestClaudeStreamEncoderFinishMapsFinishReasons(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	events := enc.Finish("MAX_TOKENS")
	assert.Equal(t, "max_tokens", events[len(events)-2].Delta.StopReason)
}

func TestClaudeStreamEncoderFinishForcesToolUseStopReasonAfterToolCall(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	enc.Feed(candidateChunk(ResponsePart{FunctionCall: &ResponseFuncCall{Name: "f"}}))

	events := enc.Finish("STOP")
	assert.Equal(t, "tool_use", events[len(events)-2].Delta.StopReason)
}

func TestClaudeStreamEncoderAccumulatesUsageFromFeed(t *testing.T) {
	enc := NewClaudeStreamEncoder("claude-3-5-sonnet")
	chunk := &GoogleResponse{
		Candidates:    []Candidate{{Content: &CandidateContent{Parts: []ResponsePart{{Text: "hi"}}}}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 100, CachedContentTokenCount: 20, CandidatesTokenCount: 5},
	}
	enc.Feed(chunk)
	events := enc.Finish("STOP")
	usageEvent := events[len(events)-2]
	require.NotNil(t, usageEvent.Usage)
	assert.Equal(t, 80, usageEvent.Usage.InputTokens)
	assert.Equal(t, 20, usageEvent.Usage.CacheReadInputTokens)
	assert.Equal(t, 5, usageEvent.Usage.OutputTokens)
}

func TestOpenAIStreamEncoderFirstChunkSendsRoleOnce(t *testing.T) {
	enc := NewOpenAIStreamEncoder("gpt-4o", 1700000000)
	chunks := enc.Feed(candidateChunk(ResponsePart{Text: "hi"}))
	require.Len(t, chunks, 1)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)

	chunks2 := enc.Feed(candidateChunk(ResponsePart{Text: " there"}))
	require.Len(t, chunks2, 1)
	assert.Equal(t, "", chunks2[0].Choices[0].Delta.Role)
	assert.Equal(t, " there", chunks2[0].Choices[0].Delta.Content)
}

func TestOpenAIStreamEncoderSkipsThoughtParts(t *testing.T) {
	enc := NewOpenAIStreamEncoder("gpt-4o", 0)
	chunks := enc.Feed(candidateChunk(ResponsePart{Thought: true, Text: "internal reasoning"}))
	assert.Empty(t, chunks)
}

func TestOpenAIStreamEncoderEmitsToolCallChunk(t *testing.T) {
	enc := NewOpenAIStreamEncoder("gpt-4o", 0)
	chunks := enc.Feed(candidateChunk(ResponsePart{FunctionCall: &ResponseFuncCall{Name: "get_weather", Args: map[string]interface{}{"city": "nyc"}}}))
	require.Len(t, chunks, 1)
	toolCalls := chunks[0].Choices[0].Delta.ToolCalls
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "get_weather", toolCalls[0].Function.Name)
}

func TestOpenAIStreamEncoderFinishMapsFinishReasons(t *testing.T) {
	enc := NewOpenAIStreamEncoder("gpt-4o", 0)
	chunk := enc.Finish("MAX_TOKENS")
	require.NotNil(t, chunk.Choices[0].FinishReason)
	assert.Equal(t, "length", *chunk.Choices[0].FinishReason)

	chunk2 := enc.Finish("STOP")
	assert.Equal(t, "stop", *chunk2.Choices[0].FinishReason)
}
