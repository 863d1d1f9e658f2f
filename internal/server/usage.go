package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	ingestdomain "github.com/smallbiznis/usageguard/internal/ingest/domain"
)

type ingestBatchRequest struct {
	Events []ingestdomain.IngestEvent `json:"events"`
}

func (s *Server) IngestBatch(c *gin.Context) {
	var req ingestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if len(req.Events) > 0 {
		c.Set("customer_id", req.Events[0].CustomerID)
	}

	result, err := s.ingestSvc.IngestBatch(c.Request.Context(), req.Events)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) QueryUsage(c *gin.Context) {
	query := aggregation.Query{
		CustomerID: strings.TrimSpace(c.Query("customer_id")),
		MetricCode: strings.TrimSpace(c.Query("metric_code")),
		GroupBy:    strings.TrimSpace(c.Query("group_by")),
	}
	if query.CustomerID == "" || query.MetricCode == "" {
		AbortWithError(c, fmt.Errorf("%w: customer_id and metric_code are required", ErrInvalidRequest))
		return
	}
	c.Set("customer_id", query.CustomerID)
	c.Set("metric_code", query.MetricCode)

	var err error
	if query.Start, err = parseTimeParam(c.Query("start")); err != nil {
		AbortWithError(c, err)
		return
	}
	if query.End, err = parseTimeParam(c.Query("end")); err != nil {
		AbortWithError(c, err)
		return
	}
	if !query.End.After(query.Start) {
		AbortWithError(c, fmt.Errorf("%w: end must be after start", ErrInvalidRequest))
		return
	}

	result, err := s.translator.Aggregate(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamps must be RFC3339", ErrInvalidRequest)
	}
	return parsed.UTC(), nil
}
