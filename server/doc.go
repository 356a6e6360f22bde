// Package server implements the identity provider core.
//
// It contains the client registry, the authorization context resolver, the
// login/consent state machine, the logout coordinator, the credential verifier
// and the token issuer. The package is transport agnostic: an authenticated
// browser session is an explicit storage.Session value that callers load from
// and hand back to a storage.SessionStore, and every operation returns a value
// describing where the browser goes next.
//
// Login states:
//
//	Start -> ExternalOnly                    (single external scheme, no local form)
//	Start -> LocalForm -> Validating -> Granted | Denied | Error | Cancelled
//
// Failures are classified by ErrorKind. Input validation errors (such as a
// return URL that is neither local nor bound to a pending authorization) are
// returned as errors and must never be followed. Bad credentials are not
// errors: SubmitLogin returns an outcome that redisplays the form.
//
// Example usage:
//
//	store := memory.New()
//	keys, _ := token.GenerateKeyManager()
//	issuer, _ := token.NewIssuer(token.IssuerConfig{Issuer: "https://idp.example.com"}, keys)
//
//	srv, err := server.New(server.Stores{
//	    Clients: store, Users: store, Flows: store, Logouts: store, Sessions: store,
//	}, issuer, nil, &server.Config{Issuer: "https://idp.example.com"}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = srv.RegisterClients(ctx, server.DefaultClients())
package server
