package common

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/cjdem/grok2api/internal/errors"
)

// AbortWithAPIError serializes the provided APIError in the OpenAI envelope
// and aborts the request.
func AbortWithAPIError(c *gin.Context, err *apperrors.APIError) {
	if err == nil {
		err = apperrors.New(http.StatusInternalServerError, "server_error", "server_error", "unknown error")
	}

	payload, marshalErr := err.ToJSON()
	if marshalErr != nil {
		c.JSON(safeStatus(err.HTTPStatus), gin.H{
			"error": gin.H{
				"message": err.Message,
				"type":    err.Type,
				"code":    err.Code,
			},
		})
		c.Abort()
		return
	}

	c.Data(safeStatus(err.HTTPStatus), "application/json", payload)
	c.Abort()
}

// AbortWithError constructs an APIError from the provided fields and aborts the request.
func AbortWithError(c *gin.Context, status int, typ, message string) {
	typ = normalizeType(typ)
	AbortWithAPIError(c, apperrors.New(safeStatus(status), typ, typ, firstNonEmpty(message, "internal error")))
}

func normalizeType(typ string) string {
	if strings.TrimSpace(typ) == "" {
		return "server_error"
	}
	return typ
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func safeStatus(status int) int {
	if status >= 400 && status <= 599 {
		return status
	}
	return http.StatusInternalServerError
}
