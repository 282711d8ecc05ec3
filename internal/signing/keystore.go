// Package signing manages the Ed25519 key used to sign reports and session
// tokens. The key is created on first run and persisted as PEM files, then
// reloaded on subsequent starts.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFile = "signing.key"
	pubFile = "signing.pub"
)

// Keystore holds the application signing key pair.
type Keystore struct {
	dir  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeystore returns a Keystore that stores its key files in dir.
func NewKeystore(dir string) *Keystore {
	return &Keystore{dir: dir}
}

// LoadOrCreate loads the key pair from disk if it exists; creates and
// persists a new one otherwise.
func (k *Keystore) LoadOrCreate() error {
	if err := k.Load(); err == nil {
		return nil
	}
	return k.Create()
}

// Load reads an existing key pair from the configured directory.
func (k *Keystore) Load() error {
	keyPEM, err := os.ReadFile(filepath.Join(k.dir, keyFile))
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return fmt.Errorf("signing key is not a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return fmt.Errorf("signing key is not Ed25519")
	}
	k.priv = priv
	k.pub = priv.Public().(ed25519.PublicKey)
	return nil
}

// Create generates a fresh Ed25519 key pair and writes it to disk.
func (k *Keystore) Create() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal signing key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(filepath.Join(k.dir, keyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(k.dir, pubFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	k.priv = priv
	k.pub = pub
	return nil
}

// Key returns the private key.
func (k *Keystore) Key() ed25519.PrivateKey { return k.priv }

// PublicKey returns the public key.
func (k *Keystore) PublicKey() ed25519.PublicKey { return k.pub }

// Sign returns the base64-encoded Ed25519 signature of data.
func (k *Keystore) Sign(data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.priv, data))
}

// VerifySignature checks a base64-encoded signature against data.
func (k *Keystore) VerifySignature(data []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(k.pub, data, sig)
}
