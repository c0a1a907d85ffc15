package protocol

import "encoding/json"

// GooglePart is a single part of Gemini-native content.
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// GoogleRequest is the Gemini-native request body sent inside the
// v1internal envelope (see internal/upstream.Envelope.Request).
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

// ToMap round-trips r through JSON so callers (upstream.Wrap) can splice in
// dynamic fields without a second struct definition.
func (r *GoogleRequest) ToMap() map[string]interface{} {
	data, err := json.Marshal(r)
	if err != nil {
		return make(map[string]interface{})
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return make(map[string]interface{})
	}
	return result
}

type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

type GenerationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig carries both the Claude-style snake_case fields and the
// Gemini-style camelCase fields; only one set is populated per request
// depending on the target model family.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  int  `json:"thinking_budget,omitempty"`

	IncludeThoughtsGemini bool `json:"includeThoughts,omitempty"`
	ThinkingBudgetGemini  int  `json:"thinkingBudget,omitempty"`
}

type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// GoogleResponse is the Gemini-native response shape, which the v1internal
// upstream sometimes wraps in a ".response" envelope (see
// internal/upstream.Unwrap) and sometimes returns flat.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []Candidate          `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

type GoogleResponseInner struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

type Candidate struct {
	Content      *CandidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

type CandidateContent struct {
	Parts []ResponsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

type ResponsePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *ResponseFuncCall `json:"functionCall,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
}

type ResponseFuncCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// GoogleResponseFromMap round-trips a generic decoded JSON body (as returned
// by internal/upstream.Unwrap) into a typed GoogleResponse.
func GoogleResponseFromMap(data map[string]interface{}) *GoogleResponse {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return &GoogleResponse{}
	}
	var response GoogleResponse
	if err := json.Unmarshal(jsonData, &response); err != nil {
		return &GoogleResponse{}
	}
	return &response
}
