// Command urlcheck runs the URL health-check and alert engine: it loads a
// task list and alert policy, probes every task on its own schedule, derives
// alert state transitions, dispatches notifications, and exposes an admin
// HTTP surface for health, metrics, job control, and on-demand reports.
//
// # Usage
//
//	urlcheck --tasks conf/tasks.yaml --alerts conf/alerts.yaml --config conf/runtime.yaml
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (URL_CHECK_*)
// - Config files (--config, --tasks, --alerts)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pilot-net/urlcheck/internal/api"
	"github.com/pilot-net/urlcheck/internal/cache"
	"github.com/pilot-net/urlcheck/internal/config"
	"github.com/pilot-net/urlcheck/internal/metrics"
	"github.com/pilot-net/urlcheck/internal/notifier"
	"github.com/pilot-net/urlcheck/internal/prober"
	"github.com/pilot-net/urlcheck/internal/report"
	"github.com/pilot-net/urlcheck/internal/scheduler"
	"github.com/pilot-net/urlcheck/internal/secrets"
	"github.com/pilot-net/urlcheck/internal/statestore"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// alertConfigHolder is the process-wide AlertConfig singleton, guarded for
// concurrent reads. Satisfies scheduler.AlertConfigSource.
type alertConfigHolder struct {
	mu  sync.RWMutex
	cfg *types.AlertConfig
}

func (h *alertConfigHolder) Current() *types.AlertConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *alertConfigHolder) Set(cfg *types.AlertConfig) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func main() {
	var (
		configFile = flag.String("config", "conf/runtime.yaml", "Path to runtime config file")
		tasksFile  = flag.String("tasks", "conf/tasks.yaml", "Path to task list config file")
		alertsFile = flag.String("alerts", "conf/alerts.yaml", "Path to alert policy config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("urlcheck v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	runtimeCfg, err := config.LoadRuntimeConfig(*configFile)
	if err != nil {
		logger.Error("failed to load runtime config", "error", err)
		os.Exit(1)
	}
	runtimeCfg.ApplyEnvOverrides()

	tasks, err := config.LoadTasks(*tasksFile)
	if err != nil {
		logger.Error("failed to load task config", "error", err)
		os.Exit(1)
	}

	alertCfg, err := config.LoadAlerts(*alertsFile)
	if err != nil {
		logger.Error("failed to load alert config", "error", err)
		os.Exit(1)
	}
	if v := os.Getenv("URL_CHECK_ALERT_LOG_RETENTION_DAYS"); v != "" {
		if n, convErr := parsePositiveInt(v); convErr == nil {
			alertCfg.AlertLogRetentionDays = n
		}
	}

	for _, dir := range []string{runtimeCfg.DataDir, runtimeCfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := statestore.New(runtimeCfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open state store", "error", err)
		os.Exit(1)
	}

	credentials, err := secrets.NewCredentialStore(secrets.ConfigFromEnv(), logger)
	if err != nil {
		logger.Warn("secrets backend unavailable, channel secret_ref lookups will fail", "error", err)
	}

	alertLogDir := ""
	if runtimeCfg.AlertLogEnabled {
		alertLogDir = runtimeCfg.LogDir
	}
	notif, err := notifier.New(alertCfg, alertLogDir, credentials, logger)
	if err != nil {
		logger.Error("failed to build notifier", "error", err)
		os.Exit(1)
	}
	defer notif.Close()

	var webhookSender *notifier.WebhookSender
	if runtimeCfg.EnableDingding && runtimeCfg.DingdingWebhook != "" {
		webhookSender = notifier.NewWebhookSender(runtimeCfg.DingdingWebhook, runtimeCfg.DingdingAccessToken, credentials)
		notif.RegisterSender(webhookSender)
		logger.Info("dingding webhook channel enabled")
	}

	var mailSender *notifier.MailSender
	if runtimeCfg.EnableMail && len(runtimeCfg.MailReceivers) > 0 {
		mailSender = notifier.NewMailSender(
			os.Getenv("URL_CHECK_SMTP_HOST"),
			os.Getenv("URL_CHECK_SMTP_PORT"),
			os.Getenv("URL_CHECK_SMTP_USERNAME"),
			os.Getenv("URL_CHECK_SMTP_PASSWORD_SECRET_REF"),
			os.Getenv("URL_CHECK_SMTP_FROM"),
			runtimeCfg.MailReceivers,
			credentials,
		)
		notif.RegisterSender(mailSender)
		logger.Info("mail channel enabled", "receivers", len(runtimeCfg.MailReceivers))
	}

	metricsReg := metrics.New()
	p := prober.New()
	alertHolder := &alertConfigHolder{cfg: alertCfg}

	sched := scheduler.New(scheduler.DefaultConfig(), p, store, notif, metricsReg, alertHolder, logger)

	var reportGen *report.Generator
	if runtimeCfg.ReportEnabled {
		reportGen = report.New(store, tasks, runtimeCfg.ReportInterval(), logger)

		if redisURL := os.Getenv("URL_CHECK_REDIS_URL"); redisURL != "" {
			rc, cacheErr := cache.New(redisURL, logger)
			if cacheErr != nil {
				logger.Warn("report summary cache disabled - redis connection failed", "error", cacheErr)
			} else {
				reportGen.SetCache(rc)
				defer rc.Close()
				logger.Info("report summary cache enabled", "redis_url", redisURL)
			}
		}

		if alertCfg.ReportDingdingEnabled && webhookSender != nil {
			reportGen.RegisterSender(webhookSender)
		}
		if alertCfg.ReportMailEnabled && mailSender != nil {
			reportGen.RegisterSender(mailSender)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx, tasks)
	logger.Info("scheduler started", "tasks", len(tasks))

	if reportGen != nil {
		go reportGen.Run(ctx)
		logger.Info("report generator started", "interval", runtimeCfg.ReportInterval())
	}

	adminAuth := api.AdminAuthConfig{
		Enabled:   os.Getenv("URL_CHECK_ADMIN_AUTH_ENABLED") == "true",
		TokenHash: os.Getenv("URL_CHECK_ADMIN_TOKEN_HASH"),
		Logger:    logger,
	}
	apiServer := api.NewServer(sched, metricsReg, reportGen, mailSender, adminAuth, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", runtimeCfg.Port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting admin server", "port", runtimeCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	if os.Getenv("URL_CHECK_PREFORK_CHILD") == "1" {
		// A prefork supervisor forked this process from a parent that had
		// already built its HTTP client and metrics registry; recreate both
		// so this child doesn't share connection-pool file descriptors or
		// counter state with its siblings.
		sched.AfterFork(prober.New(), metrics.New())
		logger.Info("recreated process-local resources after fork")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive: %s", s)
	}
	return n, nil
}
