package router

import (
	"github.com/foliolog/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// AdminGuard 是后台路由的鉴权挂载点。认证语义由外部模块提供，
// 默认直接放行；部署时替换为真实的鉴权中间件。
var AdminGuard gin.HandlerFunc = func(c *gin.Context) {
	c.Next()
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("foliolog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// 互动接口：浏览计数与点赞切换
	r.POST("/portfolio/:id/view", api.RecordPortfolioView)
	r.POST("/portfolio/:id/like", api.TogglePortfolioLike)

	// 在线访客接口
	live := r.Group("/api/live")
	{
		live.POST("/track", api.TrackLiveVisitor)
		live.GET("/visitors", api.GetLiveVisitors)
		live.GET("/count", api.GetLiveVisitorCount)
	}

	// 后台统计接口
	admin := r.Group("/admin", AdminGuard)
	{
		analytics := admin.Group("/api/analytics")
		{
			analytics.GET("/data", api.GetAnalyticsData)
			analytics.GET("/visitors", api.GetVisitorStats)
		}
	}

	return r
}
