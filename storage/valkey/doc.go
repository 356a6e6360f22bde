// Package valkey provides a Valkey storage backend for the identity provider's
// shared state.
//
// Valkey is wire-compatible with Redis. Running the flow, logout and session
// stores in Valkey lets several identity provider replicas serve the same
// browser: a login started on one replica can be completed on another.
// Users and profiles stay in a durable store (see the postgres package).
//
// # Implemented Interfaces
//
//   - [storage.ClientStore]: registered client catalog
//   - [storage.FlowStore]: authorization contexts, codes and external login states
//   - [storage.LogoutStore]: logout contexts that survive the redirect round-trip
//   - [storage.SessionStore]: authenticated browser sessions
//
// # Key Schema
//
// All keys use a configurable prefix (default "idp:"):
//
//	{prefix}client:{clientID}      -> JSON(Client), no TTL
//	{prefix}authctx:{requestID}    -> JSON(AuthorizationContext)
//	{prefix}code:{code}            -> JSON(AuthorizationCode)
//	{prefix}extstate:{state}       -> JSON(ExternalLoginState)
//	{prefix}logout:{logoutID}      -> JSON(LogoutContext)
//	{prefix}session:{sessionID}    -> JSON(Session)
//
// Every key except clients carries a TTL equal to the record's expiry.
//
// # Atomic Operations
//
//   - ConsumeAuthorizationContext and ConsumeExternalLoginState use GETDEL,
//     so exactly one of two racing requests receives the record.
//   - AtomicCheckAndMarkAuthCodeUsed runs a Lua script that checks expiry,
//     detects replay and marks the code used in one step.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "idp:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Session Encryption at Rest
//
// Sessions established through an external provider keep the upstream identity
// token for federated sign-out. It can be encrypted before storage:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
package valkey
