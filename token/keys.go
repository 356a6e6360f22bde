package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

const signingKeyBits = 2048

// KeyManager holds the RSA signing key and its key id.
type KeyManager struct {
	privateKey *rsa.PrivateKey
	kid        string
}

// NewKeyManager wraps an existing RSA private key.
func NewKeyManager(key *rsa.PrivateKey) (*KeyManager, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	kid, err := computeKID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyManager{privateKey: key, kid: kid}, nil
}

// GenerateKeyManager creates a KeyManager with a fresh 2048-bit key.
func GenerateKeyManager() (*KeyManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewKeyManager(key)
}

// LoadKeyManager reads a PEM encoded RSA private key (PKCS#1 or PKCS#8).
func LoadKeyManager(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return NewKeyManager(key)
}

// LoadOrGenerateKeyManager loads the key at path, generating and writing a new
// key when the file does not exist.
func LoadOrGenerateKeyManager(path string) (*KeyManager, bool, error) {
	km, err := LoadKeyManager(path)
	if err == nil {
		return km, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	km, err = GenerateKeyManager()
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(path, km.PrivateKeyPEM(), 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to write signing key: %w", err)
	}
	return km, true, nil
}

// ParsePrivateKeyPEM parses a PEM encoded RSA private key. Literal "\n"
// sequences are accepted so keys can be passed through environment variables.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	data = []byte(strings.ReplaceAll(string(data), `\n`, "\n"))

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("unable to parse RSA private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PEM encoded PKIX RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}

// PrivateKey returns the signing key
func (k *KeyManager) PrivateKey() *rsa.PrivateKey {
	return k.privateKey
}

// PublicKey returns the verification key
func (k *KeyManager) PublicKey() *rsa.PublicKey {
	return &k.privateKey.PublicKey
}

// KID returns the key id placed in token headers
func (k *KeyManager) KID() string {
	return k.kid
}

// PrivateKeyPEM returns the signing key as PKCS#1 PEM.
func (k *KeyManager) PrivateKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k.privateKey)})
}

// PublicKeyPEM returns the verification key as PKIX PEM, for distribution to resource servers.
func (k *KeyManager) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// KeyID computes the key id of a public key
func KeyID(pub *rsa.PublicKey) (string, error) {
	return computeKID(pub)
}

func computeKID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}
