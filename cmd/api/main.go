package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/auth"
	"trustcore/internal/capability"
	"trustcore/internal/config"
	"trustcore/internal/httpapi"
	"trustcore/internal/quota"
	"trustcore/internal/session"
	"trustcore/pkg/logger"
	"trustcore/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// cleanupInterval paces the background sweep of stale session rows. The
// sweep is housekeeping; validation already rejects expired rows.
const cleanupInterval = 5 * time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	authManager, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Session.IdleTimeout)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(audit.NewSQLRepo(db))

	capEngine, err := capability.NewEngine(cfg.Capability.Secret, cfg.Auth.JWTIssuer, cfg.Capability.TTL)
	if err != nil {
		log.Error("capability init failed", "err", err)
		os.Exit(1)
	}
	capEngine.WithReporter(auditSvc)

	sessions, err := session.NewService(session.NewSQLRepo(db), session.Config{
		IdleTimeout:     cfg.Session.IdleTimeout,
		AbsoluteTimeout: cfg.Session.AbsoluteTimeout,
	})
	if err != nil {
		log.Error("session init failed", "err", err)
		os.Exit(1)
	}
	if cfg.Session.CacheTTL > 0 {
		sessions = sessions.WithCache(session.NewCache(rdb, cfg.Session.CacheTTL))
	}

	go cleanupLoop(rootCtx, sessions, log)

	meter, err := quota.NewService(rdb)
	if err != nil {
		log.Error("quota init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Auth:       authManager,
		Capability: capEngine,
		Sessions:   sessions,
		Audit:      auditSvc,
		Quota:      meter,
		Redis:      rdb,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, &cfg, sessions, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func cleanupLoop(ctx context.Context, sessions *session.Service, log *slog.Logger) {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := sessions.CleanupExpired(ctx); err != nil {
				log.Warn("session cleanup failed", "err", err)
			}
		}
	}
}
