package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ebpf-microsegment/connguard/pkg/api/models"
	"github.com/ebpf-microsegment/connguard/pkg/dataplane"
	"github.com/ebpf-microsegment/connguard/pkg/engine"
)

// StatisticsHandler handles statistics requests
type StatisticsHandler struct {
	stats dataplane.StatisticsProvider
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(sp dataplane.StatisticsProvider) *StatisticsHandler {
	return &StatisticsHandler{
		stats: sp,
	}
}

func toStatisticsResponse(s engine.Snapshot) *models.StatisticsResponse {
	var denyRate float64
	if s.Total > 0 {
		denyRate = float64(s.Denied) / float64(s.Total) * 100
	}
	return &models.StatisticsResponse{
		Total:          s.Total,
		Allowed:        s.Allowed,
		Denied:         s.Denied,
		Blocked:        s.Blocked,
		Monitored:      s.Monitored,
		Exempt:         s.Exempt,
		OutOfScope:     s.OutOfScope,
		AuditPublished: s.AuditPublished,
		AuditDropped:   s.AuditDropped,
		DenyRate:       denyRate,
	}
}

// GetAllStats handles GET /api/v1/stats
func (h *StatisticsHandler) GetAllStats(c *gin.Context) {
	c.JSON(http.StatusOK, toStatisticsResponse(h.stats.GetStatistics()))
}
