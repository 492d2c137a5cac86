package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/relay/pkg/config"
	"github.com/platinummonkey/relay/pkg/observability"
	"github.com/platinummonkey/relay/pkg/oidcrp"
	"github.com/platinummonkey/relay/pkg/openid"
	"github.com/platinummonkey/relay/pkg/saml"
	"github.com/platinummonkey/relay/pkg/state"
	"github.com/platinummonkey/relay/pkg/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log, err := observability.SetupLogger(cfg.Log, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("relay exited")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	log.WithField("backend", cfg.Store.Type).Info("correlation store opened")

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store = observability.InstrumentStore(store, cfg.Store.Type, metrics)

	opts := web.Options{
		Store:   store,
		OpenID:  openid.NewCompleter(store, openid.NewLibraryConsumer(), log),
		Metrics: metrics,
		Log:     log,
	}

	checks := map[string]observability.CheckFunc{
		"store": func(ctx context.Context) error {
			_, err := store.Terminal(ctx, state.NewToken())
			if err != nil && !errors.Is(err, state.ErrNotFound) {
				return err
			}
			return nil
		},
	}

	group, ctx := errgroup.WithContext(ctx)

	if cfg.SAML.ConfigDir != "" {
		trust, err := saml.LoadTrust(cfg.SAML.ConfigDir, cfg.Server.ExternalBaseURL+"/saml/acs", log)
		if err != nil {
			return err
		}
		log.WithField("issuers", trust.Issuers()).Info("saml trust directory loaded")
		metrics.TrustProvidersLoaded.Set(float64(len(trust.Issuers())))
		opts.SAML = saml.NewAssertionConsumer(store, trust, log)

		if cfg.SAML.WatchMetadata {
			watcher, err := saml.NewMetadataWatcher(trust, log)
			if err != nil {
				return err
			}
			watcher.OnRescan = func(providerCount int) {
				metrics.TrustReloadsTotal.Inc()
				metrics.TrustProvidersLoaded.Set(float64(providerCount))
			}
			group.Go(func() error {
				return watcher.Run(ctx)
			})
		}
	}

	if cfg.OIDCEnabled() {
		provider, err := oidcrp.NewProvider(ctx, cfg.OIDC)
		if err != nil {
			return err
		}
		opts.OIDC = oidcrp.New(store, provider, log)
		log.WithField("issuer", cfg.OIDC.IssuerURL).Info("oidc relying party configured")
	}

	health := observability.NewHealthChecker(checks)
	opts.Health = health

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      web.NewServer(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Internal listener for scrapes and probes, separate from the
	// browser-facing port.
	internalMux := http.NewServeMux()
	internalMux.Handle("/metrics", metrics.Handler())
	internalMux.HandleFunc("/healthz", health.Liveness)
	internalMux.HandleFunc("/readyz", health.Readiness)
	metricsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.MetricsPort,
		Handler: internalMux,
	}

	for _, srv := range []*http.Server{server, metricsServer} {
		srv := srv
		group.Go(func() error {
			log.WithField("addr", srv.Addr).Info("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(cfg config.Store) (state.Store, error) {
	switch cfg.Type {
	case "filesystem":
		store, err := state.NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := state.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := state.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("unknown store type: " + cfg.Type)
	}
}
