package token

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/idp/internal/testutil"
)

func TestKeyManager_PEMRoundTrip(t *testing.T) {
	km, err := NewKeyManager(testutil.GenerateRSAKey(t))
	require.NoError(t, err)
	assert.NotEmpty(t, km.KID())

	parsed, err := ParsePrivateKeyPEM(km.PrivateKeyPEM())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(km.PrivateKey()))

	pubPEM, err := km.PublicKeyPEM()
	require.NoError(t, err)
	pub, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)

	kid, err := KeyID(pub)
	require.NoError(t, err)
	assert.Equal(t, km.KID(), kid)
}

func TestParsePrivateKeyPEM_EscapedNewlines(t *testing.T) {
	km, err := NewKeyManager(testutil.GenerateRSAKey(t))
	require.NoError(t, err)

	escaped := strings.ReplaceAll(string(km.PrivateKeyPEM()), "\n", `\n`)
	_, err = ParsePrivateKeyPEM([]byte(escaped))
	assert.NoError(t, err)
}

func TestParsePrivateKeyPEM_Invalid(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("not a key"))
	assert.Error(t, err)
}

func TestLoadOrGenerateKeyManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	first, generated, err := LoadOrGenerateKeyManager(path)
	require.NoError(t, err)
	assert.True(t, generated)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, generated, err := LoadOrGenerateKeyManager(path)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, first.KID(), second.KID())
}

func TestNewKeyManager_NilKey(t *testing.T) {
	_, err := NewKeyManager(nil)
	assert.Error(t, err)
}
