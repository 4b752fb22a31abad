package handler

import (
	"time"

	"github.com/foliolog/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 会话中保存访客标识与登录用户标识的键。
// user_id 由外部认证模块写入，这里只读。
const (
	sessionVisitorKey = "fl_visitor_session"
	sessionUserKey    = "user_id"
)

// API 汇聚各处理器共享的依赖。
type API struct {
	db         *gorm.DB
	identity   *service.IdentityResolver
	engagement *service.EngagementService
	visitors   *service.VisitorService
	presence   *service.PresenceRegistry
	reports    *service.ReportService
	logger     *zap.Logger
}

// NewAPI 构造处理器集合并装配共享服务。
func NewAPI(gdb *gorm.DB, presence *service.PresenceRegistry, logger *zap.Logger, viewWindow, likeCooldown time.Duration) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		db:       gdb,
		identity: service.NewIdentityResolver(gdb),
		engagement: service.NewEngagementService(gdb).
			WithViewWindow(viewWindow).
			WithLikeCooldown(likeCooldown),
		visitors: service.NewVisitorService(gdb),
		presence: presence,
		reports:  service.NewReportService(gdb),
		logger:   logger,
	}
}

// DB 暴露底层 gorm 实例，供外部模块复用连接。
func (a *API) DB() *gorm.DB {
	return a.db
}

// collectSignals 从请求中收集身份信号，任何一项缺失都不致命。
func (a *API) collectSignals(c *gin.Context) service.Signals {
	sess := sessions.Default(c)

	var userID *uint
	switch v := sess.Get(sessionUserKey).(type) {
	case uint:
		userID = &v
	case int:
		if v > 0 {
			u := uint(v)
			userID = &u
		}
	case int64:
		if v > 0 {
			u := uint(v)
			userID = &u
		}
	}

	sessionID, _ := sess.Get(sessionVisitorKey).(string)

	return service.Signals{
		UserID:    userID,
		SessionID: sessionID,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Referrer:  c.GetHeader("Referer"),
	}
}

// resolveIdentity 解析访客身份，并把补发的会话标识回写到会话。
func (a *API) resolveIdentity(c *gin.Context, now time.Time) service.Identity {
	identity, err := a.identity.Resolve(a.collectSignals(c), now)
	if err != nil {
		// 身份仍然可用，只是没有 VisitorID
		a.logger.Warn("identity resolution degraded", zap.Error(err))
	}

	if identity.SyntheticSession {
		sess := sessions.Default(c)
		sess.Set(sessionVisitorKey, identity.SessionID)
		if err := sess.Save(); err != nil {
			a.logger.Warn("failed to persist visitor session", zap.Error(err))
		}
	}

	return identity
}
