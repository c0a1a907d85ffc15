// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/protocol"
)

// catalogModels is the gateway's static model catalog: every model named
// on either side of router.ModelFallbackMap, which is itself the set of
// upstream models this gateway actually knows how to dispatch to.
var catalogModels = []string{
	"gemini-3-pro-high",
	"gemini-3-pro-low",
	"gemini-3-flash",
	"claude-opus-4-6-thinking",
	"claude-sonnet-4-5-thinking",
	"claude-sonnet-4-5",
}

var catalogCreated = int64(1700000000)

// ModelsHandler serves the three model-listing surfaces in §6: OpenAI,
// Claude, and Gemini shapes over the same static catalog.
type ModelsHandler struct{}

func NewModelsHandler() *ModelsHandler { return &ModelsHandler{} }

// ListOpenAI handles GET /v1/models.
func (h *ModelsHandler) ListOpenAI(c *gin.Context) {
	data := make([]protocol.OpenAIModel, 0, len(catalogModels))
	for _, id := range catalogModels {
		data = append(data, protocol.OpenAIModel{ID: id, Object: "model", Created: catalogCreated, OwnedBy: "google"})
	}
	c.JSON(http.StatusOK, protocol.OpenAIModelsResponse{Object: "list", Data: data})
}

// ListClaude handles GET /v1/models/claude and GET /v1/models (claude list).
func (h *ModelsHandler) ListClaude(c *gin.Context) {
	data := make([]protocol.ClaudeModel, 0, len(catalogModels))
	for _, id := range catalogModels {
		data = append(data, protocol.ClaudeModel{ID: id, Object: "model", Created: catalogCreated, OwnedBy: "google"})
	}
	c.JSON(http.StatusOK, protocol.ClaudeModelsResponse{Object: "list", Data: data})
}

type geminiModel struct {
	Name                       string   `json:"name"`
	BaseModelID                string   `json:"baseModelId"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type geminiModelsResponse struct {
	Models []geminiModel `json:"models"`
}

// ListGemini handles GET /v1beta/models.
func (h *ModelsHandler) ListGemini(c *gin.Context) {
	data := make([]geminiModel, 0, len(catalogModels))
	for _, id := range catalogModels {
		data = append(data, geminiModel{
			Name: "models/" + id, BaseModelID: id, Version: "001", DisplayName: id,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent", "countTokens"},
		})
	}
	c.JSON(http.StatusOK, geminiModelsResponse{Models: data})
}

// GetGemini handles GET /v1beta/models/:model.
func (h *ModelsHandler) GetGemini(c *gin.Context) {
	id := c.Param("model")
	for _, m := range catalogModels {
		if m == id {
			c.JSON(http.StatusOK, geminiModel{
				Name: "models/" + id, BaseModelID: id, Version: "001", DisplayName: id,
				SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent", "countTokens"},
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": http.StatusNotFound, "message": "model not found", "status": "NOT_FOUND"}})
}
