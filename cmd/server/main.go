package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/foliolog/internal/config"
	"github.com/foliolog/internal/db"
	"github.com/foliolog/internal/handler"
	"github.com/foliolog/internal/logging"
	"github.com/foliolog/internal/router"
	"github.com/foliolog/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 在线访客注册表与后台清理任务，随进程启停
	notifier := service.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	presence := service.NewPresenceRegistry(notifier, logger).
		WithNotifyInterval(cfg.NotifyInterval)
	sweeper := service.NewSweeper(presence, cfg.PresenceSweepInterval, cfg.PresenceIdleTTL, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	api := handler.NewAPI(db.DB, presence, logger, cfg.ViewDedupWindow, cfg.LikeToggleCooldown)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.SetupRouter(api, cfg.SessionSecret),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("server starting", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to run server", zap.Error(err))
	}
}
