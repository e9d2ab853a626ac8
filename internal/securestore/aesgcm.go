package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// AESGCMProvider implements AES-256-GCM with 96-bit nonces.
type AESGCMProvider struct {
	rand io.Reader
}

func NewAESGCMProvider() *AESGCMProvider { return &AESGCMProvider{} }

func (p *AESGCMProvider) Name() string      { return "aes-gcm" }
func (p *AESGCMProvider) Algorithm() string { return AlgAES256GCM }
func (p *AESGCMProvider) NonceSize() int    { return 12 }
func (p *AESGCMProvider) Overhead() int     { return 16 }

func (p *AESGCMProvider) GenerateKey(ctx context.Context) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return randomKey(p.rand, AlgAES256GCM)
}

func (p *AESGCMProvider) aead(key *Key) (cipher.AEAD, error) {
	if err := checkKey(key, AlgAES256GCM); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return cipher.NewGCM(block)
}

func (p *AESGCMProvider) Seal(ctx context.Context, key *Key, nonce, plaintext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gcm, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("gcm: nonce length %d, want %d", len(nonce), gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func (p *AESGCMProvider) Open(ctx context.Context, key *Key, nonce, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gcm, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("gcm: nonce length %d, want %d", len(nonce), gcm.NonceSize())
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (p *AESGCMProvider) Digest(ctx context.Context, data []byte) ([]byte, error) {
	return sha256Digest(ctx, data)
}

var _ CipherProvider = (*AESGCMProvider)(nil)
