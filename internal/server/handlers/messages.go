// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/dispatcher"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/server/sse"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// MessagesHandler serves the Anthropic-shaped /v1/messages surface.
type MessagesHandler struct {
	Dispatcher *dispatcher.Dispatcher
}

func NewMessagesHandler(d *dispatcher.Dispatcher) *MessagesHandler {
	return &MessagesHandler{Dispatcher: d}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req protocol.ClaudeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"type":  "error",
			"error": gin.H{"type": "invalid_request_error", "message": "invalid request body: " + err.Error()},
		})
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	ctx := c.Request.Context()
	utils.Info("[messages] model=%s stream=%t messages=%d", req.Model, req.Stream, len(req.Messages))

	if req.Stream {
		h.stream(c, &req)
		return
	}

	resp, err := h.Dispatcher.HandleClaudeUnary(ctx, &req)
	if err != nil {
		utils.Warn("[messages] request failed: %v", err)
		writeAnthropicError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// stream drives the SSE response for POST /v1/messages. Headers are only
// sent once the dispatcher has something to write, so a failure before the
// first byte still renders as a clean JSON error instead of a truncated
// event stream.
func (h *MessagesHandler) stream(c *gin.Context, req *protocol.ClaudeRequest) {
	ctx := c.Request.Context()

	sw, werr := sse.NewWriter(c.Writer)
	if werr != nil {
		utils.Error("[messages] streaming unsupported: %v", werr)
		writeAnthropicError(c, werr)
		return
	}

	headersSent := false
	ensureHeaders := func() {
		if !headersSent {
			c.Status(http.StatusOK)
			sw.SetHeaders()
			headersSent = true
		}
	}

	emit := func(ev protocol.ClaudeSSEEvent) error {
		ensureHeaders()
		return sw.WriteEvent(string(ev.Type), ev)
	}
	emitRaw := func(line string) error {
		ensureHeaders()
		return sw.WriteLine(line)
	}

	if err := h.Dispatcher.HandleClaudeStream(ctx, req, emit, emitRaw); err != nil {
		utils.Warn("[messages] stream failed: %v", err)
		if !headersSent {
			writeAnthropicError(c, err)
			return
		}
		sw.WriteError("api_error", err.Error())
	}
}

// CountTokens handles POST /v1/messages/count_tokens. There is no tokenizer
// in the dependency set this gateway carries, so the estimate is a
// character-count heuristic (~4 bytes/token for English text), the same
// rough ratio Anthropic's own docs quote for ballpark sizing.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var req protocol.ClaudeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"type":  "error",
			"error": gin.H{"type": "invalid_request_error", "message": "invalid request body: " + err.Error()},
		})
		return
	}

	raw, err := json.Marshal(&req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"type":  "error",
			"error": gin.H{"type": "api_error", "message": "failed to size request"},
		})
		return
	}

	estimate := len(raw) / 4
	if estimate < 1 {
		estimate = 1
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": estimate})
}
