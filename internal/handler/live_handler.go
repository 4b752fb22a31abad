package handler

import (
	"net/http"
	"time"

	"github.com/foliolog/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type trackRequest struct {
	PageURL   string `json:"page_url"`
	PageTitle string `json:"page_title"`
	Referrer  string `json:"referer"`
}

// TrackLiveVisitor 处理 POST /api/live/track，由前端周期性上报心跳。
func (a *API) TrackLiveVisitor(c *gin.Context) {
	var req trackRequest
	// 请求体可为空，全部字段都有回退来源
	_ = c.ShouldBindJSON(&req)

	now := time.Now().UTC()
	identity := a.resolveIdentity(c, now)

	page := req.PageURL
	if page == "" {
		page = c.GetHeader("Referer")
	}
	if page == "" {
		page = "/"
	}
	referrer := req.Referrer
	if referrer == "" {
		referrer = c.GetHeader("X-Original-Referer")
	}

	key := identity.Key()
	isNew := a.presence.Touch(key, service.PresenceInfo{
		IPAddress: identity.IPAddress,
		UserAgent: identity.UserAgent,
		Page:      page,
		PageTitle: req.PageTitle,
		Referrer:  referrer,
	}, now)

	if identity.VisitorID != nil {
		if _, err := a.visitors.TrackPageVisit(*identity.VisitorID, page, req.PageTitle, now); err != nil {
			a.logger.Warn("track page visit failed",
				zap.Uint("visitor_id", *identity.VisitorID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"visitor_key":    key,
		"is_new":         isNew,
		"total_visitors": a.presence.Count(),
	})
}

// GetLiveVisitors 处理 GET /api/live/visitors，供管理端实时看板使用。
func (a *API) GetLiveVisitors(c *gin.Context) {
	// 注册表为空时把当前请求者登记进去，方便线上排查看板展示问题。
	// 这是调试便利，不是在线人数的保证。
	if a.presence.Count() == 0 {
		now := time.Now().UTC()
		identity := a.resolveIdentity(c, now)
		a.presence.Touch(identity.Key(), service.PresenceInfo{
			IPAddress: identity.IPAddress,
			UserAgent: identity.UserAgent,
			Page:      "/admin/live-visitors",
			PageTitle: "在线访客",
			Referrer:  c.GetHeader("Referer"),
		}, now)
	}

	entries := a.presence.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(entries),
		"visitors": entries,
	})
}

// GetLiveVisitorCount 处理 GET /api/live/count。
func (a *API) GetLiveVisitorCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": a.presence.Count()})
}
