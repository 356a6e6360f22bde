// Package storage defines the capabilities the identity provider persists through:
// registered clients, user credentials, pending authorization and logout contexts,
// authorization codes, sessions, and resource-server profile records.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible shared storage for flows, logout contexts and sessions
//   - storage/postgres: PostgreSQL-backed user and profile storage
package storage
