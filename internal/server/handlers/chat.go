// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/dispatcher"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/server/sse"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// ChatHandler serves the OpenAI-shaped /v1/chat/completions surface.
type ChatHandler struct {
	Dispatcher *dispatcher.Dispatcher
	Now        func() int64
}

func NewChatHandler(d *dispatcher.Dispatcher, now func() int64) *ChatHandler {
	return &ChatHandler{Dispatcher: d, Now: now}
}

// Completions handles POST /v1/chat/completions.
func (h *ChatHandler) Completions(c *gin.Context) {
	var req protocol.OpenAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"type": "invalid_request_error", "message": "invalid request body: " + err.Error()},
		})
		return
	}

	ctx := c.Request.Context()
	created := h.Now()
	utils.Info("[chat] model=%s stream=%t messages=%d", req.Model, req.Stream, len(req.Messages))

	if req.Stream {
		h.stream(c, &req, created)
		return
	}

	resp, err := h.Dispatcher.HandleOpenAIUnary(ctx, &req, created)
	if err != nil {
		utils.Warn("[chat] request failed: %v", err)
		writeOpenAIError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) stream(c *gin.Context, req *protocol.OpenAIRequest, created int64) {
	ctx := c.Request.Context()

	sw, werr := sse.NewWriter(c.Writer)
	if werr != nil {
		utils.Error("[chat] streaming unsupported: %v", werr)
		writeOpenAIError(c, werr)
		return
	}

	headersSent := false
	emit := func(chunk protocol.OpenAIChunk) error {
		if !headersSent {
			c.Status(http.StatusOK)
			sw.SetHeaders()
			headersSent = true
		}
		return sw.WriteData(chunk)
	}

	err := h.Dispatcher.HandleOpenAIStream(ctx, req, created, emit)
	if err != nil {
		utils.Warn("[chat] stream failed: %v", err)
		if !headersSent {
			writeOpenAIError(c, err)
			return
		}
	}
	if headersSent {
		_ = sw.WriteDone()
	}
}
