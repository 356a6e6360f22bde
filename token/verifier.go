package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/internal/util"
)

// ErrUnauthorized is the only error the Verifier returns.
var ErrUnauthorized = errors.New("unauthorized")

// VerifierConfig configures bearer token verification.
type VerifierConfig struct {
	// Issuer is the expected "iss" claim
	Issuer string

	// Audience is the expected "aud" value when ValidateAudience is set
	Audience string

	// ValidateAudience enables the audience check. Disabling it is a relaxed
	// mode for resource servers that accept any token from the issuer.
	ValidateAudience bool

	// ClockSkew is the leeway applied to exp/nbf/iat (default: 5s)
	ClockSkew time.Duration
}

// Verifier validates bearer tokens against the issuer's known signing keys.
type Verifier struct {
	config VerifierConfig
	keys   map[string]*rsa.PublicKey
	parser *jwt.Parser
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
	now    func() time.Time
}

// NewVerifier creates a verifier trusting the given public keys.
func NewVerifier(config VerifierConfig, logger *slog.Logger, keys ...*rsa.PublicKey) (*Verifier, error) {
	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(keys) == 0 {
		return nil, errors.New("at least one verification key is required")
	}
	if config.ValidateAudience && config.Audience == "" {
		return nil, errors.New("audience is required when audience validation is enabled")
	}
	if config.ClockSkew <= 0 {
		config.ClockSkew = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.Issuer = util.NormalizeURL(config.Issuer)

	byKID := make(map[string]*rsa.PublicKey, len(keys))
	for _, k := range keys {
		kid, err := KeyID(k)
		if err != nil {
			return nil, err
		}
		byKID[kid] = k
	}

	v := &Verifier{
		config: config,
		keys:   byKID,
		logger: logger,
		now:    time.Now,
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(config.Issuer),
		jwt.WithLeeway(config.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if config.ValidateAudience {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	v.parser = jwt.NewParser(opts...)

	return v, nil
}

// SetInstrumentation enables validation metrics
func (v *Verifier) SetInstrumentation(inst *instrumentation.Instrumentation) {
	v.inst = inst
}

// Authenticate validates a bearer token and returns its principal.
// Every failure returns ErrUnauthorized; the reason is only logged.
func (v *Verifier) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	principal, err := v.authenticate(bearer)
	if err != nil {
		v.logger.DebugContext(ctx, "Bearer token rejected", "reason", err.Error())
		v.record(ctx, "rejected")
		return nil, ErrUnauthorized
	}
	v.record(ctx, "accepted")
	return principal, nil
}

func (v *Verifier) authenticate(bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, errors.New("missing token")
	}

	claims := &AccessClaims{}
	tok, err := v.parser.ParseWithClaims(bearer, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if typ, _ := tok.Header["typ"].(string); typ != AccessTokenType {
		return nil, fmt.Errorf("unexpected token type %q", typ)
	}
	if claims.ClientID == "" {
		return nil, errors.New("missing client_id claim")
	}

	return &Principal{
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scopes:   claims.Scope,
		Claims:   claims,
	}, nil
}

func (v *Verifier) keyFunc(tok *jwt.Token) (any, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}
	kid, _ := tok.Header["kid"].(string)
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

func (v *Verifier) record(ctx context.Context, result string) {
	if v.inst != nil {
		v.inst.Metrics().RecordTokenValidation(ctx, result)
	}
}
