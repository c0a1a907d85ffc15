// Package router resolves an inbound protocol/model-name pair onto a
// concrete upstream Gemini model id, detecting capability requirements
// (background task, vision, thinking) that force a capability upgrade.
package router

import (
	"regexp"
	"strconv"
	"strings"
)

// Family is which wire family a model name belongs to.
type Family string

const (
	FamilyClaude  Family = "claude"
	FamilyGemini  Family = "gemini"
	FamilyUnknown Family = "unknown"
)

func DetectFamily(modelName string) Family {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return FamilyClaude
	case strings.Contains(lower, "gemini"):
		return FamilyGemini
	default:
		return FamilyUnknown
	}
}

var geminiVersionRe = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether modelName should receive Gemini
// thinking-mode output: Claude models need an explicit "thinking" suffix,
// Gemini models qualify either explicitly or by being version 3+.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := geminiVersionRe.FindStringSubmatch(lower); len(m) >= 2 {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 3 {
				return true
			}
		}
	}
	return false
}

// backgroundTaskRe matches task descriptions that look like autonomous
// background/agentic work, which routes to a different default model.
var backgroundTaskRe = regexp.MustCompile(`(?i)\b(background task|autonomous agent|run in the background|long[- ]running task)\b`)

// backgroundTaskNegationRe matches phrasing that looks like a background
// task mention but explicitly isn't one ("not a background task", "don't
// run this in the background"), which must suppress the positive match.
var backgroundTaskNegationRe = regexp.MustCompile(`(?i)\b(not a background task|don't run (it|this) in the background|no background task)\b`)

// IsBackgroundTask inspects request text for background-task phrasing.
func IsBackgroundTask(text string) bool {
	if backgroundTaskNegationRe.MatchString(text) {
		return false
	}
	return backgroundTaskRe.MatchString(text)
}

// HasVisionContent reports whether any content block looks like an image
// (a generic content-block shape so callers don't need a protocol import).
func HasVisionContent(blocks []map[string]interface{}) bool {
	for _, b := range blocks {
		t, _ := b["type"].(string)
		switch t {
		case "image", "image_url", "input_image":
			return true
		}
		if _, ok := b["source"]; ok && t == "image" {
			return true
		}
	}
	return false
}

// ModelMapping resolves a protocol-facing model name to an upstream model,
// applying (in priority order): a custom per-gateway alias, a
// protocol-specific default, a built-in default, Gemini passthrough, and
// finally a hard-coded default model.
type ModelMapping struct {
	// Custom is operator-configured aliasing (config.ModelMapping).
	Custom map[string]string
	// ProtocolDefaults maps a protocol name ("openai", "claude") to its
	// preferred upstream model when the caller didn't ask for anything
	// specific (e.g. "gpt-4" style generic names).
	ProtocolDefaults map[string]string
	// BuiltinDefaults are the gateway's own defaults per simple alias
	// ("opus", "sonnet", "haiku", "flash", "pro").
	BuiltinDefaults map[string]string
	// DefaultModel is the last-resort fallback when nothing else matches.
	DefaultModel string
}

// Resolve implements the three-layer resolution: custom alias first,
// then protocol-specific default, then builtin default, then Gemini
// passthrough (Gemini model names go straight through), then DefaultModel.
func (m ModelMapping) Resolve(protocol, requestedModel string) string {
	if alias, ok := m.Custom[requestedModel]; ok {
		return alias
	}
	if DetectFamily(requestedModel) == FamilyGemini {
		return requestedModel
	}
	if builtin, ok := m.BuiltinDefaults[requestedModel]; ok {
		return builtin
	}
	if def, ok := m.ProtocolDefaults[protocol]; ok && requestedModel == "" {
		return def
	}
	if requestedModel != "" {
		return requestedModel
	}
	return m.DefaultModel
}

// ModelFallbackMap maps a primary model to the model to retry with once its
// quota is exhausted and no amount of account rotation helps.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":          "claude-opus-4-6-thinking",
	"gemini-3-pro-low":           "claude-sonnet-4-5",
	"gemini-3-flash":             "claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking":   "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-3-flash",
}

// GetFallbackModel returns the tier-downward fallback model for modelName,
// if one is configured.
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

// UpgradeForCapability forces a model variant when a request needs a
// capability the requested model name doesn't advertise: a thinking
// variant for background-task/thinking requests, or a vision-capable
// model when the content contains images.
func UpgradeForCapability(modelName string, needsThinking, needsVision bool) string {
	result := modelName
	if needsThinking && !IsThinkingModel(result) {
		if !strings.HasSuffix(result, "-thinking") {
			result += "-thinking"
		}
	}
	if needsVision && DetectFamily(result) == FamilyGemini && strings.Contains(strings.ToLower(result), "flash-lite") {
		// flash-lite variants don't support vision; step up to flash.
		result = strings.Replace(result, "flash-lite", "flash", 1)
	}
	return result
}
