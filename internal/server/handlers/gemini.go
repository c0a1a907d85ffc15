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

// GeminiHandler serves the native `/v1beta/models/:model:method` surface.
type GeminiHandler struct {
	Dispatcher *dispatcher.Dispatcher
}

func NewGeminiHandler(d *dispatcher.Dispatcher) *GeminiHandler {
	return &GeminiHandler{Dispatcher: d}
}

// modelAndMethod splits the colon-joined `:model:generateContent` route
// param Gemini's wire format uses (Gin can't match a literal colon in a
// path segment, so callers register this under a catch-all param and this
// function does the split).
func modelAndMethod(raw string) (model, method string) {
	idx := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx+1:]
}

// Dispatch handles POST /v1beta/models/:modelAndMethod, routing on the
// `:generateContent` / `:streamGenerateContent` / `:countTokens` suffix.
func (h *GeminiHandler) Dispatch(c *gin.Context) {
	model, method := modelAndMethod(c.Param("modelAndMethod"))

	var req protocol.GoogleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": http.StatusBadRequest, "message": "invalid request body: " + err.Error(), "status": "INVALID_ARGUMENT"},
		})
		return
	}

	ctx := c.Request.Context()
	utils.Info("[gemini] model=%s method=%s contents=%d", model, method, len(req.Contents))

	switch method {
	case "generateContent":
		resp, err := h.Dispatcher.HandleGeminiUnary(ctx, model, &req)
		if err != nil {
			writeGeminiError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)

	case "streamGenerateContent":
		h.stream(c, model, &req)

	case "countTokens":
		resp, err := h.Dispatcher.HandleGeminiCountTokens(ctx, model, &req)
		if err != nil {
			writeGeminiError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)

	default:
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": http.StatusNotFound, "message": "unsupported method: " + method, "status": "NOT_FOUND"},
		})
	}
}

func (h *GeminiHandler) stream(c *gin.Context, model string, req *protocol.GoogleRequest) {
	ctx := c.Request.Context()

	sw, werr := sse.NewWriter(c.Writer)
	if werr != nil {
		writeGeminiError(c, werr)
		return
	}

	headersSent := false
	emit := func(chunk *protocol.GoogleResponse) error {
		if !headersSent {
			c.Status(http.StatusOK)
			sw.SetHeaders()
			headersSent = true
		}
		return sw.WriteData(chunk)
	}

	if err := h.Dispatcher.HandleGeminiStream(ctx, model, req, emit); err != nil {
		utils.Warn("[gemini] stream failed: %v", err)
		if !headersSent {
			writeGeminiError(c, err)
		}
	}
}
