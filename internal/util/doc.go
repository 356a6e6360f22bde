// Package util provides small helpers shared across the identity provider packages:
// log-safe truncation, URL normalization and scope list parsing.
package util
