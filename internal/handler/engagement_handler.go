package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordPortfolioView 处理 POST /portfolio/:id/view。
// 同一身份在防重放窗口内的重复浏览不再计数。
func (a *API) RecordPortfolioView(c *gin.Context) {
	portfolioID, ok := parseUintParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid portfolio id"})
		return
	}

	now := time.Now().UTC()
	identity := a.resolveIdentity(c, now)

	result, err := a.engagement.RecordView(portfolioID, identity, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "portfolio item not found"})
			return
		}
		a.logger.Error("record view failed",
			zap.Uint("portfolio_id", portfolioID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "engagement update failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"is_new_view": result.IsNewView,
		"views_count": result.TotalViews,
	})
}

// TogglePortfolioLike 处理 POST /portfolio/:id/like。
// 冷却期内的取消点赞被拒绝并原样返回当前状态。
func (a *API) TogglePortfolioLike(c *gin.Context) {
	portfolioID, ok := parseUintParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid portfolio id"})
		return
	}

	now := time.Now().UTC()
	identity := a.resolveIdentity(c, now)

	result, err := a.engagement.ToggleLike(portfolioID, identity, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "portfolio item not found"})
			return
		}
		a.logger.Error("toggle like failed",
			zap.Uint("portfolio_id", portfolioID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "engagement update failed",
		})
		return
	}

	if result.Throttled {
		c.JSON(http.StatusOK, gin.H{
			"success":     false,
			"liked":       result.Liked,
			"likes_count": result.TotalLikes,
			"message":     "操作过于频繁，请稍后再试",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"liked":       result.Liked,
		"likes_count": result.TotalLikes,
	})
}
