package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/providers"
	"github.com/giantswarm/idp/providers/oidc"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/server"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/storage/memory"
	"github.com/giantswarm/idp/storage/postgres"
	"github.com/giantswarm/idp/storage/valkey"
	"github.com/giantswarm/idp/token"
)

const (
	backendMemory = "memory"
	backendValkey = "valkey"
)

// backends holds the opened stores and how to release them.
type backends struct {
	stores     server.Stores
	profiles   storage.ProfileStore
	persistent bool // users survive a restart
	closers    []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends opens the configured stores. Valkey serves the shared flow
// state; PostgreSQL, when configured, serves users and profiles. Whatever is
// left falls back to the in-process store.
func openBackends(cfg StorageConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (*backends, error) {
	b := &backends{}

	mem := memory.New()
	mem.SetLogger(logger)
	if inst != nil {
		mem.SetInstrumentation(inst)
	}
	b.closers = append(b.closers, mem.Stop)
	b.stores = server.Stores{Clients: mem, Users: mem, Flows: mem, Logouts: mem, Sessions: mem}
	b.profiles = mem

	switch cfg.Backend {
	case "", backendMemory:
	case backendValkey:
		vs, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, vs.Close)
		b.stores.Clients = vs
		b.stores.Flows = vs
		b.stores.Logouts = vs
		b.stores.Sessions = vs
	default:
		b.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.New(postgres.Config{DSN: cfg.Postgres.DSN, Logger: logger})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := pg.Close(); err != nil {
				logger.Warn("Failed to close postgres", "error", err)
			}
		})
		b.stores.Users = pg
		b.profiles = pg
		b.persistent = true
	} else if cfg.Backend == backendValkey {
		logger.Warn("Users are kept in process memory; configure storage.postgres.dsn to share them between replicas")
	}

	return b, nil
}

// core is the assembled identity provider.
type core struct {
	srv      *server.Server
	keys     *token.KeyManager
	backends *backends
	auditor  *security.Auditor
	limiter  *security.RateLimiter
}

func (c *core) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
	c.backends.Close()
}

// newCore loads the signing key, opens the stores and builds the server.
func newCore(ctx context.Context, cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (*core, error) {
	keys, generated, err := token.LoadOrGenerateKeyManager(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn("Generated a new signing key", "path", cfg.SigningKey, "kid", keys.KID())
	}

	sc := cfg.serverConfig()
	issuer, err := token.NewIssuer(token.IssuerConfig{
		Issuer:         sc.Issuer,
		Audience:       sc.Audience,
		AccessTokenTTL: time.Duration(sc.AccessTokenTTL) * time.Second,
		IDTokenTTL:     time.Duration(sc.IDTokenTTL) * time.Second,
	}, keys)
	if err != nil {
		return nil, err
	}

	registry, err := newProviderRegistry(ctx, cfg, logger, inst)
	if err != nil {
		return nil, err
	}

	b, err := openBackends(cfg.Storage, logger, inst)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(b.stores, issuer, registry, sc, logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	c := &core{srv: srv, keys: keys, backends: b}

	c.auditor = security.NewAuditor(logger, cfg.Audit.Enabled)
	srv.SetAuditor(c.auditor)
	c.limiter = security.NewRateLimiter(1, 10, logger)
	srv.SetSecurityEventRateLimiter(c.limiter)
	if inst != nil {
		srv.SetInstrumentation(inst)
	}

	if cfg.EncryptionKey != "" {
		key, err := security.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			c.Close()
			return nil, err
		}
		enc, err := security.NewEncryptor(key)
		if err != nil {
			c.Close()
			return nil, err
		}
		srv.SetEncryptor(enc)
	}

	return c, nil
}

// newProviderRegistry performs discovery for every configured upstream scheme.
func newProviderRegistry(ctx context.Context, cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (*providers.Registry, error) {
	var schemes []providers.Provider
	for _, pc := range cfg.Providers {
		p, err := oidc.NewProvider(ctx, &oidc.Config{
			Scheme:       pc.Scheme,
			DisplayName:  pc.DisplayName,
			IssuerURL:    pc.IssuerURL,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  util.NormalizeURL(cfg.Issuer) + server.ExternalCallbackPath,
			Scopes:       pc.Scopes,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Scheme, err)
		}
		if inst != nil {
			p.SetInstrumentation(inst)
		}
		logger.Info("Registered external provider", "scheme", pc.Scheme, "issuer", pc.IssuerURL)
		schemes = append(schemes, p)
	}
	return providers.NewRegistry(schemes...), nil
}

// registerClients loads the client catalog into the client store.
func (c *core) registerClients(ctx context.Context, path string) error {
	regs, err := loadClients(path)
	if err != nil {
		return err
	}
	if err := c.srv.RegisterClients(ctx, regs); err != nil {
		return err
	}
	c.srv.Logger.Info("Registered clients", "count", len(regs))
	return nil
}

// seedUsers creates the configured users that do not exist yet, together with
// their profile records.
func (c *core) seedUsers(ctx context.Context, users []UserConfig) error {
	for _, u := range users {
		if _, err := c.backends.stores.Users.FindUserByUsername(ctx, u.Username); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to look up user %q: %w", u.Username, err)
		}

		if err := c.addUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (c *core) addUser(ctx context.Context, u UserConfig) error {
	user, err := c.srv.CreateLocalUser(ctx, u.Username, u.Password, u.DisplayName)
	if err != nil {
		return fmt.Errorf("user %q: %w", u.Username, err)
	}
	if err := c.backends.profiles.SaveProfile(ctx, &storage.Profile{
		ID:       user.ID,
		UserName: user.Username,
		Address:  u.Address,
		Contact:  u.Contact,
	}); err != nil {
		return fmt.Errorf("failed to save profile for %q: %w", u.Username, err)
	}
	return nil
}
