// Command securelink-server starts the secure link HTTP API and the admin gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/securelink/internal/config"
	"github.com/and161185/securelink/internal/dedup"
	"github.com/and161185/securelink/internal/geo"
	"github.com/and161185/securelink/internal/incident"
	"github.com/and161185/securelink/internal/limiter"
	"github.com/and161185/securelink/internal/mailer"
	"github.com/and161185/securelink/internal/migrate"
	"github.com/and161185/securelink/internal/queue"
	"github.com/and161185/securelink/internal/repository/postgres"
	grpcserver "github.com/and161185/securelink/internal/server/grpc"
	httpserver "github.com/and161185/securelink/internal/server/http"
	"github.com/and161185/securelink/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	probeInterval   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// main loads configuration, runs migrations, wires services and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	adminAddr := flag.String("admin-addr", "", "admin gRPC listen address (overrides config)")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	var logger *zap.Logger
	if *dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("adminAddr", cfg.AdminAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	probes := []grpcserver.Probe{{Name: "postgres", Check: db.Ping}}

	// Redis is optional: without it alerts are neither claimed nor queued.
	var (
		claims service.Claimer
		notify service.Notifier
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		pub := queue.NewPublisher(rdb, cfg.Redis.AlertQueue, logger)
		claims = dedup.NewClaimer(rdb, cfg.Redis.ClaimTTL)
		notify = pub
		probes = append(probes, grpcserver.Probe{Name: "redis", Check: pub.Ping})
	}

	var locator geo.Locator
	if cfg.Geo.Enabled {
		locator = geo.NewHTTPLocator(cfg.Geo.URL, cfg.Geo.Timeout)
	}

	reports, err := incident.NewGenerator(incident.Config{
		Provider:      incident.ProviderType(cfg.Report.Provider),
		GeminiAPIKey:  cfg.Report.GeminiAPIKey,
		GeminiBaseURL: cfg.Report.GeminiBaseURL,
		GeminiModel:   cfg.Report.GeminiModel,
		OllamaBaseURL: cfg.Report.OllamaBaseURL,
		OllamaModel:   cfg.Report.OllamaModel,
	})
	if err != nil {
		logger.Fatal("incident reports", zap.Error(err))
	}

	var linkMailer httpserver.LinkMailer
	if cfg.SMTP.Host != "" {
		m, err := mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("mailer", zap.Error(err))
		}
		linkMailer = m
	}

	var lim limiter.Limiter = limiter.Nop{}
	if cfg.Throttle.Enabled {
		lim = limiter.NewPG(db.Pool, cfg.Throttle.Window, cfg.Throttle.MaxFails, cfg.Throttle.BlockFor)
	}

	// Repositories
	emailRepo := postgres.NewSecureEmailRepo(db)
	senderRepo := postgres.NewSenderRepo(db)
	attemptRepo := postgres.NewAttemptRepo(db)
	beaconRepo := postgres.NewBeaconRepo(db)
	alertRepo := postgres.NewAlertRepo(db)

	// Services
	effects := service.NewBestEffort(logger, nil)
	alertSvc := service.NewAlertService(alertRepo, claims, notify, effects, logger)
	linkSvc := service.NewLinkService(emailRepo, senderRepo, attemptRepo)
	pinSvc := service.NewPinService(linkSvc, senderRepo, attemptRepo, alertSvc, reports, effects, logger).
		WithReportTimeout(cfg.Report.Timeout)
	detector := service.NewAnomalyDetector(beaconRepo, emailRepo, alertSvc, effects, cfg.Alerts.DedupeSuspicious, logger)
	beaconSvc := service.NewBeaconService(beaconRepo, detector, locator, cfg.Geo.Timeout, logger)

	health := grpcserver.NewHealth(logger, probes...)
	go health.Run(ctx, probeInterval)

	api := httpserver.New(httpserver.Deps{
		Links:         linkSvc,
		Pins:          pinSvc,
		Beacons:       beaconSvc,
		Alerts:        alertSvc,
		Mailer:        linkMailer,
		Limiter:       lim,
		Health:        health.Check,
		JWTKey:        []byte(cfg.JWTKey),
		PublicBaseURL: cfg.PublicBaseURL,
		MailTimeout:   cfg.SMTP.Timeout,
		UseRemoteAddr: cfg.UseRemoteAddr,
		Log:           logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	admin := grpcserver.NewServer(logger, health, *dev)
	lis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("admin gRPC listening", zap.String("addr", cfg.AdminAddr))
		errCh <- admin.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		admin.GracefulStop()
		pinSvc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		admin.Stop()
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		stop()
		_ = logger.Sync()
		os.Exit(exitCode)
	}
}
