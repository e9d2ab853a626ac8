package securestore

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// XChaChaProvider implements XChaCha20-Poly1305. Its 192-bit nonces make
// random nonce collisions negligible even for very long-lived keys.
type XChaChaProvider struct {
	rand io.Reader
}

func NewXChaChaProvider() *XChaChaProvider { return &XChaChaProvider{} }

func (p *XChaChaProvider) Name() string      { return "xchacha20-poly1305" }
func (p *XChaChaProvider) Algorithm() string { return AlgXChaCha20Poly1305 }
func (p *XChaChaProvider) NonceSize() int    { return chacha20poly1305.NonceSizeX }
func (p *XChaChaProvider) Overhead() int     { return chacha20poly1305.Overhead }

func (p *XChaChaProvider) GenerateKey(ctx context.Context) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return randomKey(p.rand, AlgXChaCha20Poly1305)
}

func (p *XChaChaProvider) Seal(ctx context.Context, key *Key, nonce, plaintext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKey(key, AlgXChaCha20Poly1305); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key.raw)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("xchacha: nonce length %d, want %d", len(nonce), aead.NonceSize())
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (p *XChaChaProvider) Open(ctx context.Context, key *Key, nonce, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKey(key, AlgXChaCha20Poly1305); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key.raw)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("xchacha: nonce length %d, want %d", len(nonce), aead.NonceSize())
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func (p *XChaChaProvider) Digest(ctx context.Context, data []byte) ([]byte, error) {
	return sha256Digest(ctx, data)
}

var _ CipherProvider = (*XChaChaProvider)(nil)
