// Package oidc implements an external identity provider scheme backed by any
// OpenID Connect provider.
//
// Endpoints are found through discovery (github.com/coreos/go-oidc/v3), upstream
// identity tokens are verified against the provider's JWKS and the sign-in uses
// PKCE (S256) plus a nonce. When the discovery document advertises an
// end_session_endpoint the scheme supports federated sign-out.
//
// Issuer URLs are checked before any request is made: HTTPS only, and no
// loopback, private or link-local IP literals.
//
//	p, err := oidc.NewProvider(ctx, &oidc.Config{
//	    Scheme:       "oidc",
//	    DisplayName:  "Corporate SSO",
//	    IssuerURL:    "https://sso.example.com",
//	    ClientID:     "idp",
//	    ClientSecret: secret,
//	    RedirectURL:  "https://idp.example.com/account/external/callback",
//	})
package oidc
