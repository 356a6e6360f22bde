package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/idp"
	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/resource"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/token"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identity provider",
		Long: `Run the identity provider: the authorization, token, login and logout
endpoints, the resource API (unless api.mount is false) and the metrics listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindValidateAudience(cmd, v)
			cfg, logger, err := setup(opts, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("listen", "", "address of the identity provider listener")
	cmd.Flags().String("issuer", "", "issuer URL (the public base URL)")
	cmd.Flags().String("clients-file", "", "YAML file with the client catalog")
	cmd.Flags().String("storage-backend", "", "storage backend for flows and sessions (memory, valkey)")
	cmd.Flags().Bool("validate-audience", false, "reject resource API tokens issued for another audience")
	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("issuer", cmd.Flags().Lookup("issuer"))
	_ = v.BindPFlag("clients_file", cmd.Flags().Lookup("clients-file"))
	_ = v.BindPFlag("storage.backend", cmd.Flags().Lookup("storage-backend"))

	return cmd
}

// bindValidateAudience binds --validate-audience of the running command. serve
// and api share the key, so the binding happens at run time.
func bindValidateAudience(cmd *cobra.Command, v *viper.Viper) {
	_ = v.BindPFlag("api.validate_audience", cmd.Flags().Lookup("validate-audience"))
}

func newInstrumentation(cfg MetricsConfig, serviceName string) (*instrumentation.Instrumentation, error) {
	exporter := instrumentation.ExporterNone
	if cfg.Enabled {
		exporter = instrumentation.ExporterPrometheus
	}
	return instrumentation.New(instrumentation.Config{
		ServiceName:     serviceName,
		ServiceVersion:  version,
		Enabled:         cfg.Enabled,
		MetricsExporter: exporter,
	})
}

func runServe(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	inst, err := newInstrumentation(cfg.Metrics, "idp")
	if err != nil {
		return err
	}

	c, err := newCore(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.registerClients(ctx, cfg.ClientsFile); err != nil {
		return err
	}
	if err := c.seedUsers(ctx, cfg.Users); err != nil {
		return err
	}

	handler := idp.NewHandler(c.srv, &idp.Config{
		RateLimit: idp.RateLimitConfig{
			Rate:              cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
		Logger: logger,
	})
	defer handler.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	servers := []*http.Server{newHTTPServer(cfg.Listen, withMiddleware(mux, "idp", inst))}

	if cfg.API.Mount {
		api, apiLimiter, err := newResourceAPI(cfg, c.backends.profiles, c.keys.PublicKey(), c.auditor, logger, inst)
		if err != nil {
			return err
		}
		if apiLimiter != nil {
			defer apiLimiter.Stop()
		}
		api.RegisterRoutes(mux)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", inst.PrometheusHandler())
		servers = append(servers, newHTTPServer(cfg.Metrics.Listen, metricsMux))
	}

	logger.Info("Starting identity provider",
		"version", version,
		"issuer", cfg.Issuer,
		"listen", cfg.Listen,
		"storage", cfg.Storage.Backend,
		"persistent_users", c.backends.persistent)

	return serve(ctx, logger, inst, servers...)
}

// newResourceAPI builds the resource API verifying tokens with pub.
func newResourceAPI(cfg *Config, profiles storage.ProfileStore, pub *rsa.PublicKey, auditor *security.Auditor, logger *slog.Logger, inst *instrumentation.Instrumentation) (*resource.Handler, *security.RateLimiter, error) {
	verifier, err := token.NewVerifier(token.VerifierConfig{
		Issuer:           cfg.Issuer,
		Audience:         cfg.Audience,
		ValidateAudience: cfg.API.ValidateAudience,
	}, logger, pub)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	if inst != nil {
		verifier.SetInstrumentation(inst)
	}

	var scopes []string
	if cfg.API.RequiredScope != "" {
		scopes = []string{cfg.API.RequiredScope}
	}

	var limiter *security.RateLimiter
	if cfg.RateLimit.Rate > 0 {
		limiter = security.NewRateLimiter(cfg.RateLimit.Rate*10, max(cfg.RateLimit.Burst, cfg.RateLimit.Rate)*10, logger)
	}
	guard := resource.NewGuard(verifier, resource.GuardConfig{
		RequiredScopes:    scopes,
		ServerURL:         cfg.Issuer,
		TrustProxy:        cfg.RateLimit.TrustProxy,
		TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		RateLimiter:       limiter,
		Auditor:           auditor,
		Logger:            logger,
	})
	return resource.NewHandler(profiles, guard, logger), limiter, nil
}

// withMiddleware adds request ids and OpenTelemetry HTTP instrumentation.
func withMiddleware(h http.Handler, operation string, inst *instrumentation.Instrumentation) http.Handler {
	return otelhttp.NewHandler(
		security.RequestIDMiddleware(h),
		operation,
		otelhttp.WithTracerProvider(inst.TracerProvider()),
		otelhttp.WithMeterProvider(inst.MeterProvider()),
	)
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs the servers until ctx is cancelled or one of them fails, then
// shuts all of them down.
func serve(ctx context.Context, logger *slog.Logger, inst *instrumentation.Instrumentation, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		if inst != nil {
			if err := inst.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown instrumentation: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
