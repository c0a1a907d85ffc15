// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
)

// anthropicErrorType maps a gwerrors.Kind onto the `error.type` string
// Anthropic's Messages API uses, so a structured gateway error renders as a
// wire-shaped error response without string-sniffing its message.
func anthropicErrorType(kind gwerrors.Kind) string {
	switch kind {
	case gwerrors.KindInvalidRequest:
		return "invalid_request_error"
	case gwerrors.KindUnauthorized:
		return "authentication_error"
	case gwerrors.KindForbidden:
		return "permission_error"
	case gwerrors.KindNotFound:
		return "not_found_error"
	case gwerrors.KindRateLimit:
		return "rate_limit_error"
	case gwerrors.KindTimeout:
		return "timeout_error"
	case gwerrors.KindServerOverload:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// writeAnthropicError renders err as an Anthropic-shaped JSON error body at
// the status carried by its gwerrors.Kind.
func writeAnthropicError(c *gin.Context, err error) {
	status := gwerrors.HTTPStatusFromError(err)
	errType := "api_error"
	if gwErr, ok := gwerrors.As(err); ok {
		errType = anthropicErrorType(gwErr.Kind)
	}
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": err.Error(),
		},
	})
}

// openAIErrorType maps a gwerrors.Kind onto OpenAI's `error.type` string.
func openAIErrorType(kind gwerrors.Kind) string {
	switch kind {
	case gwerrors.KindInvalidRequest:
		return "invalid_request_error"
	case gwerrors.KindUnauthorized:
		return "authentication_error"
	case gwerrors.KindForbidden:
		return "permission_error"
	case gwerrors.KindNotFound:
		return "invalid_request_error"
	case gwerrors.KindRateLimit:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

func writeOpenAIError(c *gin.Context, err error) {
	status := gwerrors.HTTPStatusFromError(err)
	errType := "api_error"
	if gwErr, ok := gwerrors.As(err); ok {
		errType = openAIErrorType(gwErr.Kind)
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"type":    errType,
			"message": err.Error(),
			"code":    nil,
		},
	})
}

// writeGeminiError renders err in the `{"error": {"code", "message",
// "status"}}` shape Gemini's v1beta surface uses.
func writeGeminiError(c *gin.Context, err error) {
	status := gwerrors.HTTPStatusFromError(err)
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": err.Error(),
			"status":  http.StatusText(status),
		},
	})
}
