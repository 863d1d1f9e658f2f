package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/usageguard/internal/anomaly"
)

type analyticsTarget struct {
	CustomerID string `json:"customer_id"`
	MetricCode string `json:"metric_code"`
}

func (t analyticsTarget) validate() error {
	if strings.TrimSpace(t.CustomerID) == "" || strings.TrimSpace(t.MetricCode) == "" {
		return fmt.Errorf("%w: customer_id and metric_code are required", ErrInvalidRequest)
	}
	return nil
}

type anomalyCheckRequest struct {
	analyticsTarget
	CurrentStart time.Time `json:"current_start,omitempty"`
	CurrentEnd   time.Time `json:"current_end,omitempty"`
	BaselineDays int       `json:"baseline_days,omitempty"`
	Threshold    float64   `json:"threshold,omitempty"`
}

type buildBaselinesRequest struct {
	analyticsTarget
	Days int `json:"days,omitempty"`
}

type fraudCheckRequest struct {
	analyticsTarget
	// Date of the day under test; empty means today.
	Date string `json:"date,omitempty"`
}

// parseDate accepts a calendar date or a full timestamp.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC3339", ErrInvalidRequest)
	}
	return parsed, nil
}

func (s *Server) CheckAnomaly(c *gin.Context) {
	var req anomalyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	if !req.CurrentEnd.IsZero() && !req.CurrentStart.IsZero() && req.CurrentEnd.Before(req.CurrentStart) {
		AbortWithError(c, fmt.Errorf("%w: current_end precedes current_start", ErrInvalidRequest))
		return
	}
	c.Set("customer_id", req.CustomerID)
	c.Set("metric_code", req.MetricCode)

	result, err := s.anomalyDet.Check(c.Request.Context(), anomaly.CheckRequest{
		CustomerID:   req.CustomerID,
		MetricCode:   req.MetricCode,
		CurrentStart: req.CurrentStart,
		CurrentEnd:   req.CurrentEnd,
		BaselineDays: req.BaselineDays,
		Threshold:    req.Threshold,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.obsMetrics.RecordAnomalyCheck(c.Request.Context(), string(result.Severity))
	c.JSON(http.StatusOK, result)
}

func (s *Server) BuildFraudBaselines(c *gin.Context) {
	var req buildBaselinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", req.CustomerID)
	c.Set("metric_code", req.MetricCode)

	result, err := s.fraudSvc.BuildBaselines(c.Request.Context(), req.CustomerID, req.MetricCode, req.Days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CheckFraud(c *gin.Context) {
	var req fraudCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		AbortWithError(c, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", req.CustomerID)
	c.Set("metric_code", req.MetricCode)

	result, err := s.fraudSvc.CheckFraud(c.Request.Context(), req.CustomerID, req.MetricCode, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
