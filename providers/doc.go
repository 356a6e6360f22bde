// Package providers defines the external identity provider schemes a user can
// sign in with instead of local credentials.
//
// A Provider is addressed by its scheme name (the value of the "idp:" hint in
// acr_values and of the scheme query parameter of the external challenge). The
// Registry holds the configured schemes; the login state machine filters them by
// each client's identity provider restrictions.
//
// Implementations are provided in subpackages:
//   - providers/oidc: any OpenID Connect provider, via discovery
//   - providers/mock: function-field provider for tests
package providers
