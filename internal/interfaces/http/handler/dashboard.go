package handler

import (
	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the aggregates behind the dashboard widgets
type DashboardHandler struct {
	BaseHandler
	repo dashboard.Repository
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(repo dashboard.Repository) *DashboardHandler {
	return &DashboardHandler{repo: repo}
}

// StatsRequest selects the statistics window
type StatsRequest struct {
	Period string `form:"period" binding:"omitempty,oneof=week month quarter all"`
}

// Stats returns the headline numbers
//
//	GET /dashboard/stats?period=month
func (h *DashboardHandler) Stats(c *gin.Context) {
	var req StatsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}
	period := dashboard.Period(req.Period)
	if period == "" {
		period = dashboard.PeriodMonth
	}

	stats, err := h.repo.Stats(c.Request.Context(), period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// Pipeline returns open lead totals per board column
//
//	GET /dashboard/pipeline
func (h *DashboardHandler) Pipeline(c *gin.Context) {
	columns, err := h.repo.Pipeline(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, columns)
}

// StatusBreakdown returns lead totals per status
//
//	GET /dashboard/status
func (h *DashboardHandler) StatusBreakdown(c *gin.Context) {
	breakdown, err := h.repo.StatusBreakdown(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, breakdown)
}
