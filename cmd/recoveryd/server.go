package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm-recovery/pkg/auth"
	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/limiter"
	"github.com/Mindburn-Labs/helm-recovery/pkg/observability"
	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
	"github.com/Mindburn-Labs/helm-recovery/pkg/updater"
)

const (
	keySetKID    = "recoveryd"
	callbackSalt = "helm-recovery"
)

// app is one fully wired recoveryd process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	stores *stores
	obs    *observability.Provider
	redis  redis.UniversalClient
	coord  *recovery.Coordinator
	local  *updater.Local
	api    http.Handler
	health http.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

//nolint:gocognit
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close(context.Background())
		}
	}()

	var err error
	a.db, err = openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.stores, err = initStores(ctx, a.db)
	if err != nil {
		return nil, err
	}

	a.obs = observability.Disabled()
	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.OTLPEndpoint = cfg.OTelEndpoint
		oc.Insecure = true
		a.obs, err = observability.New(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("failed to init telemetry: %w", err)
		}
		log.Printf("[recovery] telemetry: exporting to %s", cfg.OTelEndpoint)
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		log.Printf("[recovery] redis: connected to %s", cfg.RedisAddr)
	}

	signer, err := callbackSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.coord, err = recovery.NewCoordinator(a.stores.directory, a.stores.ledger, recovery.Config{
		SystemIdentity:     identity.NewAccountRef(cfg.SystemIdentity),
		RecoveryPeriod:     cfg.RecoveryPeriod,
		MaxPendingDuration: cfg.MaxPendingDuration,
	},
		recovery.WithCallbackSigner(signer),
		recovery.WithAudit(a.stores.audit),
		recovery.WithObservability(a.obs),
		recovery.WithLogger(logger.With("component", "recovery")),
	)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	switch cfg.UpdaterMode {
	case config.UpdaterLocal:
		a.local = updater.NewLocal(a.coord)
		a.coord.SetUpdater(a.local)
	case config.UpdaterHTTP:
		u, err := updater.NewHTTP(updater.HTTPConfig{URL: cfg.UpdaterURL, CallbackBaseURL: cfg.CallbackBaseURL})
		if err != nil {
			return nil, err
		}
		a.coord.SetUpdater(u)
	case config.UpdaterRedis:
		if a.redis == nil {
			return nil, errors.New("redis updater requires REDIS_ADDR")
		}
		a.coord.SetUpdater(updater.NewRedis(a.redis, updater.RedisConfig{}))
		listener := updater.NewListener(a.redis, updater.RedisConfig{}, a.coord)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := listener.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("result listener stopped", "error", err)
			}
		}()
	}
	log.Printf("[recovery] updater: %s", cfg.UpdaterMode)

	keys, err := keySet(cfg, logger)
	if err != nil {
		return nil, err
	}

	var limits limiter.Store = limiter.NewMemoryStore()
	if a.redis != nil {
		limits = limiter.NewRedisStore(a.redis)
	}
	policy := limiter.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}

	mux := http.NewServeMux()
	recovery.NewHandler(a.coord).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", a.handleHealth)

	var h http.Handler = mux
	h = auth.RateLimitMiddleware(limits, policy)(h)
	h = auth.NewMiddleware(auth.NewJWTValidator(keys, cfg.JWTIssuer))(h)
	a.api = auth.RequestIDMiddleware(h)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", a.handleHealth)
	healthMux.HandleFunc("/readiness", a.handleReadiness)
	a.health = healthMux

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reconcileLoop(runCtx)
	}()

	ready = true
	return a, nil
}

func callbackSigner(cfg *config.Config, logger *slog.Logger) (*identity.CallbackSigner, error) {
	secret := []byte(cfg.CallbackSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate callback secret: %w", err)
		}
		logger.Warn("CALLBACK_SECRET not set; callbacks will not survive a restart")
	}
	return identity.NewCallbackSigner(secret, callbackSalt)
}

func keySet(cfg *config.Config, logger *slog.Logger) (identity.KeySet, error) {
	if cfg.JWTSeed == "" {
		logger.Warn("JWT_SEED not set; using an ephemeral signing key")
		return identity.NewInMemoryKeySet()
	}
	seed, err := hex.DecodeString(cfg.JWTSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_SEED: %w", err)
	}
	return identity.NewKeySetFromSeed(keySetKID, seed)
}

func (a *app) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.coord.ReconcileStale(ctx)
			if err != nil {
				a.logger.Error("reconcile failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("reconciled stale executions", "count", n)
			}
		}
	}
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *app) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("READY"))
}

// Close stops background work and releases connections.
func (a *app) Close(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.local != nil {
		_ = a.local.Close()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)
	_, _ = fmt.Fprintln(stdout, "recoveryd starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	apiSrv := &http.Server{Addr: ":" + cfg.Port, Handler: a.api, ReadHeaderTimeout: 10 * time.Second}
	healthSrv := &http.Server{Addr: ":" + cfg.HealthPort, Handler: a.health, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiSrv, healthSrv} {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}(srv)
	}
	log.Printf("[recovery] ready: http://localhost:%s (health :%s)", cfg.Port, cfg.HealthPort)

	code := 0
	select {
	case <-ctx.Done():
		log.Println("[recovery] shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	a.Close(shutdownCtx)
	return code
}
