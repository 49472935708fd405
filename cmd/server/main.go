package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal" // graceful shutdown on SIGINT/SIGTERM
	"syscall"
	"time"

	"github.com/joho/godotenv"    // optional .env loading
	"github.com/labstack/echo/v4" // control API server
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/config"
	"github.com/iliyamo/cinema-seat-sync/internal/handler"
	"github.com/iliyamo/cinema-seat-sync/internal/middleware"
	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
	"github.com/iliyamo/cinema-seat-sync/internal/queue"
	"github.com/iliyamo/cinema-seat-sync/internal/repository"
	"github.com/iliyamo/cinema-seat-sync/internal/router"
	"github.com/iliyamo/cinema-seat-sync/internal/service"
	"github.com/iliyamo/cinema-seat-sync/internal/session"
	"github.com/iliyamo/cinema-seat-sync/internal/supervisor"
	"github.com/iliyamo/cinema-seat-sync/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	logger.Set(log)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry() // served at /metrics
	m := metrics.NewWithRegistry(reg)

	sc := model.SessionContext{
		ShowtimeID: cfg.ShowtimeID,
		Owner:      utils.ResolveOwner(cfg.OwnerRef, cfg.SessionToken),
		Token:      cfg.SessionToken,
	}
	authority := repository.NewAuthorityRepo(cfg.AuthorityURL, &http.Client{Timeout: cfg.AuthorityTimeout}, log).
		WithToken(sc.Token)

	var rdb interface{ Close() error }
	scfg := session.Config{
		LockTTL:        cfg.LockTTL,
		RenewThreshold: cfg.RenewThreshold,
		ProvisionalTTL: cfg.ProvisionalTTL,
		Debounce:       cfg.ActionDebounce,
		TickInterval:   cfg.TickInterval,
		Push: supervisor.Config{
			MaxAttempts:    cfg.PushMaxAttempts,
			InitialBackoff: cfg.PushInitialBackoff,
			MaxBackoff:     cfg.PushMaxBackoff,
		},
		Logger:  log,
		Metrics: m,
	}

	redisClient := config.NewRedisClient() // nil when Redis is unreachable
	if redisClient != nil {
		rdb = redisClient
		if cfg.LeaseStoreEnabled {
			scfg.Store = repository.NewLeaseStore(redisClient, cfg.LeaseStorePrefix)
		}
	} else if cfg.LeaseStoreEnabled || cfg.PushTransport == config.TransportRedis {
		log.Warn("redis unavailable, lease persistence and redis push disabled")
	}

	switch cfg.PushTransport {
	case config.TransportRedis:
		if redisClient != nil {
			scfg.Source = queue.NewRedisSource(redisClient, cfg.SeatEventsPrefix, log)
		}
	case config.TransportAMQP:
		scfg.Source = queue.NewAMQPSource(cfg.BrokerURL, cfg.SeatEventsExchange, log)
	}
	if cfg.HandoffPublish {
		scfg.Handoff = service.NewHandoffPublisher(cfg.BrokerURL, cfg.HandoffQueue, log)
	}

	sess := session.New(sc, authority, scfg)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sess.Start(startCtx); err != nil {
		cancelStart()
		log.Fatal("session start failed", zap.Error(err))
	}
	cancelStart()

	e := echo.New()
	e.HideBanner = true // keep startup output to the structured log
	e.Use(middleware.RequestLogger(log, m))
	router.RegisterRoutes(e, reg)
	router.RegisterSession(e, handler.NewSessionHandler(sess), cfg.ControlJWTSecret)

	if cfg.ControlJWTSecret != "" && !logger.IsProduction(cfg.Env) {
		if tok, err := utils.NewControlToken(cfg.ControlJWTSecret, "local-operator", 12*time.Hour); err == nil {
			log.Info("control token issued", zap.String("token", tok.Token), zap.Time("expires_at", tok.Exp))
		}
	}

	addr := ":" + cfg.Port // e.g. ":8081"
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := sess.Close(ctx); err != nil {
		log.Warn("session teardown", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
