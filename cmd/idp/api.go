package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/storage/memory"
	"github.com/giantswarm/idp/storage/postgres"
	"github.com/giantswarm/idp/token"
)

func newAPICmd(opts *rootOptions, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the resource API on its own",
		Long: `Run the resource API as a separate process. Bearer tokens are verified
against api.public_key, or against the public half of the signing key when unset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindValidateAudience(cmd, v)
			cfg, logger, err := setup(opts, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAPI(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("listen", "", "address of the resource API listener")
	cmd.Flags().String("public-key", "", "PEM file with the token verification key")
	cmd.Flags().Bool("validate-audience", false, "reject tokens issued for another audience")
	_ = v.BindPFlag("api.listen", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("api.public_key", cmd.Flags().Lookup("public-key"))

	return cmd
}

func runAPI(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	inst, err := newInstrumentation(cfg.Metrics, "idp-api")
	if err != nil {
		return err
	}

	pub, err := loadVerificationKey(cfg)
	if err != nil {
		return err
	}

	profiles, closeProfiles, err := openProfiles(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProfiles()

	auditor := security.NewAuditor(logger, cfg.Audit.Enabled)
	api, limiter, err := newResourceAPI(cfg, profiles, pub, auditor, logger, inst)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.Stop()
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	servers := []*http.Server{newHTTPServer(cfg.API.Listen, withMiddleware(mux, "idp-api", inst))}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", inst.PrometheusHandler())
		servers = append(servers, newHTTPServer(cfg.Metrics.Listen, metricsMux))
	}

	logger.Info("Starting resource API", "version", version, "issuer", cfg.Issuer, "listen", cfg.API.Listen)
	return serve(ctx, logger, inst, servers...)
}

func loadVerificationKey(cfg *Config) (*rsa.PublicKey, error) {
	if cfg.API.PublicKey == "" {
		keys, err := token.LoadKeyManager(cfg.SigningKey)
		if err != nil {
			return nil, err
		}
		return keys.PublicKey(), nil
	}

	data, err := os.ReadFile(cfg.API.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return token.ParsePublicKeyPEM(data)
}

// openProfiles returns the profile store: PostgreSQL when configured,
// otherwise an in-process store seeded from the configured users.
func openProfiles(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.ProfileStore, func(), error) {
	if cfg.Storage.Postgres.DSN != "" {
		pg, err := postgres.New(postgres.Config{DSN: cfg.Storage.Postgres.DSN, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}

	mem := memory.New()
	mem.SetLogger(logger)
	for i, u := range cfg.Users {
		if err := mem.SaveProfile(ctx, &storage.Profile{
			ID:       strconv.Itoa(i + 1),
			UserName: u.Username,
			Address:  u.Address,
			Contact:  u.Contact,
		}); err != nil {
			mem.Stop()
			return nil, nil, err
		}
	}
	return mem, mem.Stop, nil
}
