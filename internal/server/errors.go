package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const codeInternal = "internal_error"

func statusForServiceError(err error) int {
	switch {
	case errors.Is(err, shopping.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, shopping.ErrAlreadyShared):
		return http.StatusConflict
	case errors.Is(err, shopping.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shopping.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes the status and code for a list operation failure.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	status := statusForServiceError(err)
	code := shopping.ErrorCode(err)
	if code == "" {
		code = codeInternal
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("list operation failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": code})
}
