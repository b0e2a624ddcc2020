package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"chart-rsi/config"
	"chart-rsi/internal/api"
	"chart-rsi/internal/gateway"
	"chart-rsi/internal/logger"
	"chart-rsi/internal/metrics"
	"chart-rsi/internal/model"
	"chart-rsi/internal/notification"
	"chart-rsi/internal/pipeline"
	"chart-rsi/internal/scheduler"
	"chart-rsi/internal/store"
	redisstore "chart-rsi/internal/store/redis"
	sqlitestore "chart-rsi/internal/store/sqlite"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chart analysis HTTP service",
	Long: `Start the HTTP service.

Endpoints:
  POST /api/v1/analyses              upload a chart (file, price_min, price_max, chart_height, period)
  GET  /api/v1/analyses              recent analyses, newest first
  GET  /api/v1/analyses/latest       most recent analysis
  GET  /api/v1/analyses/{id}         one analysis
  GET  /api/v1/analyses/{id}/plot.png RSI plot
  GET  /api/v1/health                dependency health
  GET  /ws                           live analysis stream
  GET  /metrics                      Prometheus metrics

Examples:
  chartrsi serve
  chartrsi serve --addr :9090
  CHARTRSI_REDIS_ADDR=localhost:6379 chartrsi serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address override")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	log := logger.Init(cfg.Service, cfg.LogLevel())
	log.Info("starting", "addr", cfg.Server.Addr, "edge_backend", cfg.Pipeline.EdgeBackend,
		"rsi_period", cfg.Pipeline.RSIPeriod, "rsi_method", cfg.Pipeline.RSIMethod)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe, err := pipeline.New(cfg.Pipeline)
	if err != nil {
		return err
	}
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ---- Journal ----
	var (
		journal model.AnalysisJournal = store.Noop{}
		sqlDB   *sql.DB
	)
	if cfg.SQLite.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
		j, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		journal, sqlDB = j, j.DB()
	} else {
		log.Warn("sqlite path empty, analyses will not be journaled")
	}
	defer journal.Close()

	// ---- Streaming and fan-out ----
	hub := gateway.NewHub(cfg.Server.ReplaySize)
	hub.OnClients = func(n int) { m.WSClients.Set(float64(n)) }
	hub.OnDrop = m.WSDropped.Inc

	deps := api.Deps{
		Pipeline: pipe,
		Zones:    cfg.Zones,
		Journal:  journal,
		Hub:      hub,
		Notifier: buildNotifier(cfg, log),
		Metrics:  m,
		Health:   health,
		Log:      log,
	}

	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Channel:   cfg.Redis.Channel,
			LatestKey: cfg.Redis.LatestKey,
			LatestTTL: cfg.Redis.LatestTTL,
			OnBreakerState: func(state int) {
				m.RedisCircuitBreakerState.Set(float64(state))
			},
		})
		if err != nil {
			return err
		}
		defer pub.Close()

		src, err := pub.Subscribe(ctx)
		if err != nil {
			return err
		}
		go hub.Run(ctx, src)
		deps.Publisher = pub
		rdb = pub.Client()
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- Retention ----
	if cfg.Retention.Schedule != "" && cfg.SQLite.Path != "" {
		sched, err := scheduler.New(journal, cfg.Retention.Schedule, cfg.Retention.MaxAge, log)
		if err != nil {
			return err
		}
		sched.OnPruned = func(n int64) { m.PrunedTotal.Add(float64(n)) }
		sched.Start()
		defer sched.Stop()
	}

	// ---- HTTP ----
	srv, err := api.NewServer(api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MaxPixels:      cfg.Server.MaxPixels,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		TOTPSecret:     cfg.Auth.TOTPSecret,
	}, deps)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	hub.Close()
	log.Info("shutdown complete")
	return nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Webhook.URL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}
	return n
}
