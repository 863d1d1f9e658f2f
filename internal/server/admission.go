package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type admissionRequest struct {
	CustomerID string `json:"customer_id"`
	// Limit overrides the configured default when positive.
	Limit int `json:"limit,omitempty"`
}

func (s *Server) CheckAdmission(c *gin.Context) {
	var req admissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	c.Set("customer_id", req.CustomerID)

	result, err := s.ingestSvc.CheckAdmission(c.Request.Context(), req.CustomerID, req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, result)
}
