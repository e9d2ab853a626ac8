package securestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
)

// CipherProvider is the platform cryptography the Store is built on:
// key generation, authenticated encryption and a one-way digest.
type CipherProvider interface {
	// Name is the configuration name, e.g. "aes-gcm".
	Name() string
	// Algorithm is the JOSE identifier stamped on keys from this provider.
	Algorithm() string
	NonceSize() int
	Overhead() int
	GenerateKey(ctx context.Context) (*Key, error)
	Seal(ctx context.Context, key *Key, nonce, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, key *Key, nonce, ciphertext []byte) ([]byte, error)
	Digest(ctx context.Context, data []byte) ([]byte, error)
}

// ProviderByName resolves a configured cipher name.
func ProviderByName(name string) (CipherProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-gcm", "aes-256-gcm", "a256gcm":
		return NewAESGCMProvider(), nil
	case "xchacha20-poly1305", "xchacha", "xc20p":
		return NewXChaChaProvider(), nil
	default:
		return nil, fmt.Errorf("securestore: unknown cipher %q", name)
	}
}

// randomKey reads KeySize bytes from r into a Key for alg.
func randomKey(r io.Reader, alg string) (*Key, error) {
	if r == nil {
		r = rand.Reader
	}
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read random key: %w", err)
	}
	return NewKey(alg, raw)
}

func checkKey(key *Key, alg string) error {
	if key == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	if key.alg != alg {
		return fmt.Errorf("%w: key algorithm %q, cipher wants %q", ErrInvalidKey, key.alg, alg)
	}
	return nil
}

func sha256Digest(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
