// cmd/funnel-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"opz-funnels/internal/api"
	"opz-funnels/internal/common/auth"
	"opz-funnels/internal/common/camunda"
	"opz-funnels/internal/common/config"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/observability"
	"opz-funnels/internal/funnel/flows"
	"opz-funnels/internal/referral"
	"opz-funnels/internal/session"
	"opz-funnels/internal/submission"
	mrh "opz-funnels/internal/workers/referral/manual-review-handoff"
	rr "opz-funnels/internal/workers/referral/route-referral"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: cfg.App.Name,
	})
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting funnel server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	jaegerEndpoint := ""
	if cfg.Tracing.Enabled {
		jaegerEndpoint = cfg.Tracing.JaegerEndpoint
	}
	obs, err := observability.New(observability.Options{ServiceName: cfg.App.Name, JaegerEndpoint: jaegerEndpoint})
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	be, err := openBackends(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("backend init failed", zap.Error(err))
	}
	defer be.Close()

	notifier, err := newNotifier(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	referrals := referral.NewService(referral.Options{
		Signer:        referral.NewSigner(cfg.Partners),
		Audit:         be.audit,
		AuditBackend:  cfg.Audit.Backend,
		Notifier:      notifier,
		Observability: obs,
		Logger:        log,
	})

	var backend submission.Submitter
	if cfg.Submission.BaseURL != "" {
		backend = submission.NewClient(cfg.Submission.BaseURL, config.GetDuration(cfg.Submission.Timeout), log)
	}

	sessions := session.NewManager(session.Options{
		Registry:  flows.Default(),
		Store:     be.drafts,
		KeyPrefix: cfg.Draft.KeyPrefix,
		Router:    referrals,
		Backend:   backend,
		Logger:    log,
	})
	go sweepSessions(ctx, sessions, config.GetDuration(cfg.Draft.SessionIdle), zapLog)

	var tokens auth.TokenValidator
	if cfg.Auth.Enabled {
		tokens = auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
		zapLog.Info("Keycloak token introspection enabled", zap.String("realm", cfg.Auth.Keycloak.Realm))
	}

	var (
		zeebe   *camunda.Client
		workers []*camunda.Worker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(ctx, &camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		workers = registerWorkers(cfg, zeebe, referrals, obs, log)
		be.checks["camunda"] = zeebe.HealthCheck
	}

	server := api.NewServer(api.Options{
		Sessions:  sessions,
		Referrals: referrals,
		Tokens:    tokens,
		Checks:    be.checks,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Funnel server stopped gracefully")
}

func sweepSessions(ctx context.Context, sessions *session.Manager, maxIdle time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				log.Debug("idle sessions released", zap.Int("count", n), zap.Int("active", sessions.Len()))
			}
		}
	}
}

func registerWorkers(cfg *config.Config, zeebe *camunda.Client, referrals *referral.Service, obs *observability.Observability, log logger.Logger) []*camunda.Worker {
	var workers []*camunda.Worker

	routeCfg := rr.ConfigFrom(cfg)
	if routeCfg.Enabled {
		h, err := rr.NewHandler(rr.HandlerOptions{Config: routeCfg, Router: referrals, Logger: log, Observability: obs})
		if err != nil {
			log.Error("route referral worker not started", map[string]interface{}{"error": err})
		} else {
			workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), rr.TaskType, routeCfg.MaxJobsActive, h, log))
		}
	}

	handoffCfg := mrh.ConfigFrom(cfg)
	if handoffCfg.Enabled {
		h, err := mrh.NewHandler(mrh.HandlerOptions{Config: handoffCfg, Logger: log, Observability: obs})
		if err != nil {
			log.Error("manual review handoff worker not started", map[string]interface{}{"error": err})
		} else {
			workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), mrh.TaskType, handoffCfg.MaxJobsActive, h, log))
		}
	}

	return workers
}
