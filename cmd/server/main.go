package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	contractmq "pkagent/contracts/mq"
	"pkagent/internal/bootstrap"
	"pkagent/internal/config"
	"pkagent/internal/handler"
	"pkagent/internal/httpserver"
	"pkagent/internal/mqhandler"
	"pkagent/internal/scheduler"
	pkgconfig "pkagent/pkg/config"
	"pkagent/pkg/logger"
	"pkagent/pkg/mq"
	"pkagent/pkg/otel"
)

func main() {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	env := pkgconfig.GetConfigEnv()
	cfg, err := config.Load(env, pkgconfig.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(env)
	defer log.Sync()

	log.Info("Starting pkagent...",
		zap.String("env", env),
		zap.String("store", cfg.Store.Driver),
		zap.String("scheduler_mode", cfg.Scheduler.Mode),
		zap.Duration("scheduler_interval", cfg.Scheduler.Interval),
	)

	shutdownOtel, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Warn("Failed to init OpenTelemetry, continuing without tracing", zap.Error(err))
		shutdownOtel = func() {}
	}
	defer shutdownOtel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init application", zap.Error(err))
	}
	defer app.Close()

	deps := httpserver.Deps{
		Goals:  handler.NewGoalHandler(app.Goals, log),
		Store:  app.Store,
		Logger: log,
	}

	// 消息通道：outbox dispatcher + checkin.reply consumer（仅 postgres 模式）
	var replyConsumer *mq.Consumer
	if cfg.Store.Driver == config.DriverPostgres && cfg.Outbox.Enabled {
		log.Info("Initializing MQ publisher...", zap.String("mq_url", cfg.MQ.URL))
		if err := app.ConnectMQ(); err != nil {
			log.Fatal("Failed to init MQ", zap.Error(err))
		}
		go app.Dispatcher().Start(ctx)

		log.Info("Initializing MQ consumer for checkin.reply...",
			zap.String("queue", "checkin.reply.q"),
			zap.String("routing_key", contractmq.RoutingCheckInReply),
		)
		replyConsumer, err = mq.NewConsumer(cfg.MQ.URL, "checkin.reply.q", contractmq.RoutingCheckInReply, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		replyConsumer.SetHandler(mqhandler.NewCheckInReplyHandler(app.Goals, app.Dedup, log).Handle)
		go func() {
			log.Info("Starting checkin.reply consumer...")
			if err := replyConsumer.StartConsuming(); err != nil {
				log.Error("checkin.reply consumer failed", zap.Error(err))
			}
		}()

		deps.Admin = handler.NewAdminHandler(app.Replay, log)
		deps.MQ = []httpserver.Connection{app.Publisher, replyConsumer}
	}

	supervisor := scheduler.NewSupervisor(app.Loop)
	supervisor.Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: httpserver.NewRouter(deps),
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("pkagent is fully initialized and running", zap.String("http_port", cfg.Server.Port))

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down pkagent gracefully...")

	log.Info("Stopping scheduler...")
	supervisor.Stop()

	if replyConsumer != nil {
		log.Info("Stopping MQ consumer...")
		replyConsumer.Stop()
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	cancel()
	log.Info("pkagent shutdown complete")
}
