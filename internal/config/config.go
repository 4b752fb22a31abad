package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// AppConfig 汇总运行服务所需的基础配置。
// 去重窗口、冷却时间等策略值均可通过环境变量调整，缺省值与线上策略一致。
type AppConfig struct {
	ListenAddr    string `env:"LISTEN_ADDR"`
	Port          string `env:"PORT" envDefault:"8080"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"foliolog.db"`
	SessionSecret string `env:"SESSION_SECRET" envDefault:"foliolog-dev-secret"`
	GinMode       string `env:"GIN_MODE" envDefault:"release"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	SiteBaseURL   string `env:"SITE_BASE_URL" envDefault:"http://localhost:8080"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`

	// ViewDedupWindow 同一身份重复浏览不计数的滚动窗口。
	ViewDedupWindow time.Duration `env:"VIEW_DEDUP_WINDOW" envDefault:"24h"`
	// LikeToggleCooldown 取消点赞前需要等待的最短时间，用于抑制连点。
	LikeToggleCooldown time.Duration `env:"LIKE_TOGGLE_COOLDOWN" envDefault:"30s"`
	// PresenceIdleTTL 超过该时长未活跃的在线访客将被清理。
	PresenceIdleTTL time.Duration `env:"PRESENCE_IDLE_TTL" envDefault:"15m"`
	// PresenceSweepInterval 清理任务的执行间隔。
	PresenceSweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"60s"`
	// NotifyInterval 同一访客两次在线通知之间的最小间隔。
	NotifyInterval time.Duration `env:"NOTIFY_INTERVAL" envDefault:"1h"`
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}

	return cfg, nil
}
