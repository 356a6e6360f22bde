package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// ClientRegistration is a client catalog entry as configured by an operator.
// Either Secret or SecretHash (bcrypt) must be set.
type ClientRegistration struct {
	ClientID                     string   `yaml:"clientId"`
	ClientName                   string   `yaml:"clientName,omitempty"`
	Secret                       string   `yaml:"secret,omitempty"`
	SecretHash                   string   `yaml:"secretHash,omitempty"`
	AllowedGrantTypes            []string `yaml:"allowedGrantTypes"`
	AllowedScopes                []string `yaml:"allowedScopes"`
	RedirectURIs                 []string `yaml:"redirectUris,omitempty"`
	PostLogoutRedirectURIs       []string `yaml:"postLogoutRedirectUris,omitempty"`
	FrontChannelLogoutURI        string   `yaml:"frontChannelLogoutUri,omitempty"`
	RequirePKCE                  bool     `yaml:"requirePkce,omitempty"`
	AllowPlainTextPKCE           bool     `yaml:"allowPlainTextPkce,omitempty"`
	AllowOfflineAccess           bool     `yaml:"allowOfflineAccess,omitempty"`
	DisableLocalLogin            bool     `yaml:"disableLocalLogin,omitempty"`
	IdentityProviderRestrictions []string `yaml:"identityProviderRestrictions,omitempty"`
}

var supportedGrantTypes = []string{
	storage.GrantTypeClientCredentials,
	storage.GrantTypePassword,
	storage.GrantTypeAuthorizationCode,
}

// RegisterClient validates a catalog entry, hashes its secret and stores it.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, error) {
	if err := s.validateRegistration(reg); err != nil {
		return nil, fmt.Errorf("client %q: %w", reg.ClientID, err)
	}

	hash := reg.SecretHash
	if hash == "" {
		h, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		hash = string(h)
	}

	client := &storage.Client{
		ClientID:                     reg.ClientID,
		ClientSecretHash:             hash,
		ClientName:                   reg.ClientName,
		AllowedGrantTypes:            slices.Clone(reg.AllowedGrantTypes),
		AllowedScopes:                slices.Clone(reg.AllowedScopes),
		RedirectURIs:                 slices.Clone(reg.RedirectURIs),
		PostLogoutRedirectURIs:       slices.Clone(reg.PostLogoutRedirectURIs),
		FrontChannelLogoutURI:        reg.FrontChannelLogoutURI,
		RequirePKCE:                  reg.RequirePKCE,
		AllowPlainTextPKCE:           reg.AllowPlainTextPKCE,
		AllowOfflineAccess:           reg.AllowOfflineAccess,
		EnableLocalLogin:             !reg.DisableLocalLogin,
		IdentityProviderRestrictions: slices.Clone(reg.IdentityProviderRestrictions),
		CreatedAt:                    s.now(),
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Registered OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"grant_types", strings.Join(client.AllowedGrantTypes, ","),
		"scopes", strings.Join(client.AllowedScopes, " "))

	return client, nil
}

// RegisterClients registers every entry, stopping at the first failure.
func (s *Server) RegisterClients(ctx context.Context, regs []ClientRegistration) error {
	for _, reg := range regs {
		if _, err := s.RegisterClient(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) validateRegistration(reg ClientRegistration) error {
	if reg.ClientID == "" {
		return errors.New("client id is required")
	}
	if reg.Secret == "" && reg.SecretHash == "" {
		return errors.New("a secret or secret hash is required")
	}
	if reg.SecretHash != "" {
		if _, err := bcrypt.Cost([]byte(reg.SecretHash)); err != nil {
			return fmt.Errorf("secret hash is not a bcrypt hash: %w", err)
		}
	}
	if len(reg.AllowedGrantTypes) == 0 {
		return errors.New("at least one grant type is required")
	}
	for _, gt := range reg.AllowedGrantTypes {
		if !slices.Contains(supportedGrantTypes, gt) {
			return fmt.Errorf("unsupported grant type %q", gt)
		}
	}

	if slices.Contains(reg.AllowedGrantTypes, storage.GrantTypeAuthorizationCode) && len(reg.RedirectURIs) == 0 {
		return errors.New("authorization_code clients need at least one redirect URI")
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURISecurity(uri, s.Config.Issuer); err != nil {
			return err
		}
	}
	for _, uri := range reg.PostLogoutRedirectURIs {
		if err := validateRedirectURISecurity(uri, s.Config.Issuer); err != nil {
			return fmt.Errorf("post-logout %w", err)
		}
	}
	return nil
}

// GetClient retrieves a client by ID
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, clientID)
}

// ValidateClientCredentials authenticates a client at the token endpoint.
// Unknown clients and wrong secrets both yield invalid_client.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient()
	}
	if err := s.clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.Logger.Debug("Client authentication failed", "client_id", clientID, "reason", err.Error())
		s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid_client")
		return nil, ErrInvalidClient()
	}
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient()
	}
	return client, nil
}

// DefaultClients is the catalog used when no client file is configured.
func DefaultClients() []ClientRegistration {
	return []ClientRegistration{
		{
			ClientID:          "client",
			Secret:            "secret",
			AllowedGrantTypes: []string{storage.GrantTypeClientCredentials},
			AllowedScopes:     []string{"api1"},
		},
		{
			ClientID:          "ro.client",
			Secret:            "secret",
			AllowedGrantTypes: []string{storage.GrantTypePassword},
			AllowedScopes:     []string{"api1"},
		},
		{
			ClientID:               "mvc",
			ClientName:             "MVC Client",
			Secret:                 "secret",
			AllowedGrantTypes:      []string{storage.GrantTypeAuthorizationCode},
			AllowedScopes:          []string{"openid", "profile", "api1"},
			RedirectURIs:           []string{"https://localhost:7088/signin-oidc"},
			PostLogoutRedirectURIs: []string{"https://localhost:7088/signout-callback-oidc"},
			FrontChannelLogoutURI:  "https://localhost:7088/signout-oidc",
			RequirePKCE:            true,
			AllowOfflineAccess:     true,
		},
	}
}

// auditEvent logs an audit event unless the flood guard suppresses it
func (s *Server) auditEvent(key string, event security.Event) {
	if s.allowSecurityEvent(key) {
		s.Auditor.LogEvent(event)
	}
}
