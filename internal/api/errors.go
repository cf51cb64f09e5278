package api

import (
	"errors"
	"net/http"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service error onto a status code and JSON body
func writeError(c *gin.Context, err error) {
	var (
		ve *models.ValidationError
		te *models.TransitionError
		ce *models.ConflictError
		nf *models.NotFoundError
	)

	switch {
	case errors.As(err, &ve):
		status := http.StatusUnprocessableEntity
		if ve.Code == "FORBIDDEN" {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": ve.Message, "code": ve.Code})
	case errors.As(err, &te):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": te.Error(),
			"code":  "INVALID_TRANSITION",
			"from":  te.From,
			"to":    te.To,
		})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{"error": ce.Message, "code": ce.Code})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, models.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature", "code": "INVALID_SIGNATURE"})
	default:
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
