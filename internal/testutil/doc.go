// Package testutil provides helpers shared by the identity provider's tests.
package testutil
