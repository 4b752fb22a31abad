package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetAnalyticsData 处理 GET /admin/api/analytics/data，返回总量、趋势与热门作品。
func (a *API) GetAnalyticsData(c *gin.Context) {
	days := queryInt(c, "days", 30)
	now := time.Now().UTC()

	totals, err := a.reports.Totals(days, now)
	if err != nil {
		a.logger.Error("load totals failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analytics"})
		return
	}

	trend, err := a.reports.Trend(days, now)
	if err != nil {
		a.logger.Error("load trend failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analytics"})
		return
	}

	topContent, err := a.reports.TopContent(10, days, now)
	if err != nil {
		a.logger.Error("load top content failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_stats":  totals,
		"chart_data":   trend,
		"top_projects": topContent,
	})
}

// GetVisitorStats 处理 GET /admin/api/analytics/visitors，返回访客画像。
func (a *API) GetVisitorStats(c *gin.Context) {
	days := queryInt(c, "days", 30)

	breakdown, err := a.reports.Breakdown(days, time.Now().UTC())
	if err != nil {
		a.logger.Error("load visitor breakdown failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load visitor stats"})
		return
	}

	c.JSON(http.StatusOK, breakdown)
}
