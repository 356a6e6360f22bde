package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/idp/internal/util"
)

// IssuerConfig configures token minting.
type IssuerConfig struct {
	// Issuer is the "iss" claim, the identity provider's base URL
	Issuer string

	// Audience is the "aud" claim of access tokens
	Audience string

	// AccessTokenTTL is the access token lifetime
	AccessTokenTTL time.Duration

	// IDTokenTTL is the identity token lifetime
	IDTokenTTL time.Duration
}

// Issuer mints signed access and identity tokens. It holds no mutable state.
type Issuer struct {
	config IssuerConfig
	keys   *KeyManager
	now    func() time.Time
}

// AccessTokenParams describes the grant an access token is bound to.
type AccessTokenParams struct {
	Subject  string
	ClientID string
	Scopes   []string
	AuthTime time.Time
	IdP      string
	AMR      []string
}

// IDTokenParams describes an identity token.
type IDTokenParams struct {
	Subject  string
	ClientID string
	Nonce    string
	Name     string
	AuthTime time.Time
	IdP      string
	AMR      []string
}

// NewIssuer creates a token issuer.
func NewIssuer(config IssuerConfig, keys *KeyManager) (*Issuer, error) {
	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if keys == nil {
		return nil, errors.New("signing keys are required")
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.IDTokenTTL <= 0 {
		config.IDTokenTTL = 5 * time.Minute
	}
	config.Issuer = util.NormalizeURL(config.Issuer)

	return &Issuer{config: config, keys: keys, now: time.Now}, nil
}

// AccessTokenTTL returns the configured access token lifetime
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.config.AccessTokenTTL
}

// MintAccessToken signs an access token and returns it with its expiry.
func (i *Issuer) MintAccessToken(p AccessTokenParams) (string, time.Time, error) {
	if p.ClientID == "" {
		return "", time.Time{}, errors.New("client id is required")
	}

	now := i.now()
	expiresAt := now.Add(i.config.AccessTokenTTL)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		ClientID: p.ClientID,
		Scope:    p.Scopes,
		IdP:      p.IdP,
		AMR:      p.AMR,
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}
	if !p.AuthTime.IsZero() {
		claims.AuthTime = p.AuthTime.Unix()
	}

	signed, err := i.sign(claims, AccessTokenType)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// MintIDToken signs an identity token addressed to the client.
func (i *Issuer) MintIDToken(p IDTokenParams) (string, error) {
	if p.Subject == "" || p.ClientID == "" {
		return "", errors.New("subject and client id are required")
	}

	now := i.now()
	claims := IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{p.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.IDTokenTTL)),
		},
		Nonce: p.Nonce,
		IdP:   p.IdP,
		AMR:   p.AMR,
		Name:  p.Name,
	}
	if !p.AuthTime.IsZero() {
		claims.AuthTime = p.AuthTime.Unix()
	}

	return i.sign(claims, "JWT")
}

func (i *Issuer) sign(claims jwt.Claims, typ string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.keys.KID()
	tok.Header["typ"] = typ

	signed, err := tok.SignedString(i.keys.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
