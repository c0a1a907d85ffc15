package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFamily(t *testing.T) {
	assert.Equal(t, FamilyClaude, DetectFamily("claude-sonnet-4-5"))
	assert.Equal(t, FamilyClaude, DetectFamily("CLAUDE-OPUS-4-6-THINKING"))
	assert.Equal(t, FamilyGemini, DetectFamily("gemini-3-flash"))
	assert.Equal(t, FamilyUnknown, DetectFamily("gpt-4o"))
}

func TestIsThinkingModel(t *testing.T) {
	cases := []struct {
		model string
		want  bool
	}{
		{"claude-sonnet-4-5-thinking", true},
		{"claude-sonnet-4-5", false},
		{"gemini-3-flash", true},
		{"gemini-2-flash", false},
		{"gemini-2-flash-thinking", true},
		{"gemini-3-pro-high", true},
		{"gpt-4o", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsThinkingModel(tc.model), tc.model)
	}
}

func TestIsBackgroundTask(t *testing.T) {
	assert.True(t, IsBackgroundTask("please run this as a background task"))
	assert.True(t, IsBackgroundTask("kick off an autonomous agent to handle it"))
	assert.False(t, IsBackgroundTask("this is not a background task, just a quick question"))
	assert.False(t, IsBackgroundTask("don't run this in the background, I need it now"))
	assert.False(t, IsBackgroundTask("what's the weather today"))
}

func TestHasVisionContent(t *testing.T) {
	assert.True(t, HasVisionContent([]map[string]interface{}{{"type": "image"}}))
	assert.True(t, HasVisionContent([]map[string]interface{}{{"type": "image_url"}}))
	assert.False(t, HasVisionContent([]map[string]interface{}{{"type": "text"}}))
	assert.False(t, HasVisionContent(nil))
}

func TestModelMappingResolve(t *testing.T) {
	mapping := ModelMapping{
		Custom:           map[string]string{"my-alias": "claude-opus-4-6-thinking"},
		ProtocolDefaults: map[string]string{"openai": "gemini-3-flash", "claude": "claude-sonnet-4-5"},
		BuiltinDefaults:  map[string]string{"sonnet": "claude-sonnet-4-5", "flash": "gemini-3-flash"},
		DefaultModel:     "gemini-3-flash",
	}

	cases := []struct {
		name      string
		protocol  string
		requested string
		want      string
	}{
		{"custom alias wins over everything", "openai", "my-alias", "claude-opus-4-6-thinking"},
		{"gemini family passes through even if a builtin matches nothing", "openai", "gemini-3-pro-high", "gemini-3-pro-high"},
		{"builtin alias resolves", "claude", "sonnet", "claude-sonnet-4-5"},
		{"protocol default only applies for empty requestedModel", "openai", "", "gemini-3-flash"},
		{"arbitrary non-empty name passes through unchanged", "openai", "gpt-4o", "gpt-4o"},
		{"empty with no protocol default falls back to DefaultModel", "unknown-protocol", "", "gemini-3-flash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, mapping.Resolve(tc.protocol, tc.requested))
		})
	}
}

func TestGetFallbackModel(t *testing.T) {
	fb, ok := GetFallbackModel("gemini-3-pro-high")
	assert.True(t, ok)
	assert.Equal(t, "claude-opus-4-6-thinking", fb)

	_, ok = GetFallbackModel("not-a-real-model")
	assert.False(t, ok)
}

func TestUpgradeForCapability(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5-thinking", UpgradeForCapability("claude-sonnet-4-5", true, false))
	assert.Equal(t, "claude-sonnet-4-5-thinking", UpgradeForCapability("claude-sonnet-4-5-thinking", true, false))
	assert.Equal(t, "gemini-3-flash", UpgradeForCapability("gemini-3-flash-lite", false, true))
	assert.Equal(t, "gemini-3-flash-lite", UpgradeForCapability("gemini-3-flash-lite", false, false))
}
