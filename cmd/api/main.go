package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/accountd/internal/app/migrate"
	"github.com/splax/accountd/internal/config"
	httpx "github.com/splax/accountd/internal/http"
	"github.com/splax/accountd/internal/logger"
	"github.com/splax/accountd/internal/repository"
	"github.com/splax/accountd/internal/repository/memory"
	"github.com/splax/accountd/internal/repository/postgres"
	"github.com/splax/accountd/internal/service/account"
	"github.com/splax/accountd/internal/service/auth"
	"github.com/splax/accountd/internal/service/mail"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		users    repository.UserRepository
		tokens   repository.TokenRepository
		dbHealth func(context.Context) error
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo := postgres.New(pool, cfg.StoreTimeout)
		users, tokens = repo, repo
		dbHealth = pool.Ping
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		repo := memory.New()
		users, tokens = repo, repo
	}

	var mailer mail.Mailer
	if addr := strings.TrimSpace(cfg.SMTPAddr); addr != "" {
		mailer = mail.SMTPSender{Addr: addr, From: cfg.MailFrom, Username: cfg.SMTPUser, Password: cfg.SMTPPassword}
	} else {
		log.Warn("SMTP_ADDR not set, mail delivery disabled")
		mailer = mail.LogSender{Logger: log}
	}
	dispatcher := mail.NewDispatcher(mailer, log, cfg.BaseURL, cfg.MailSiteName)

	accountSvc := account.New(users, tokens, dispatcher, log, cfg)
	authSvc := auth.New(users, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, accountSvc, authSvc, limiter, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		dispatcher.Wait()
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
