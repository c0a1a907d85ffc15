// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/dispatcher"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// MCPHandler bridges tool-call traffic: the request body is Gemini-native
// (the shape MCP tool servers in this deployment emit), the response is
// rendered Claude-shaped so existing Claude-speaking MCP clients don't need
// a second parser.
type MCPHandler struct {
	Dispatcher *dispatcher.Dispatcher
}

func NewMCPHandler(d *dispatcher.Dispatcher) *MCPHandler {
	return &MCPHandler{Dispatcher: d}
}

// Messages handles POST /mcp/messages.
func (h *MCPHandler) Messages(c *gin.Context) {
	var req protocol.GoogleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"type":  "error",
			"error": gin.H{"type": "invalid_request_error", "message": "invalid request body: " + err.Error()},
		})
		return
	}

	ctx := c.Request.Context()
	utils.Info("[mcp] contents=%d tools=%d", len(req.Contents), len(req.Tools))

	resp, err := h.Dispatcher.HandleGeminiUnary(ctx, "", &req)
	if err != nil {
		utils.Warn("[mcp] request failed: %v", err)
		writeAnthropicError(c, err)
		return
	}

	claudeResp := protocol.ConvertGeminiToClaude(resp, "")
	c.JSON(http.StatusOK, claudeResp)
}
