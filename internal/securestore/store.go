package securestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Prefix is reserved for records written by a Store.
const Prefix = "encrypted_"

var (
	ErrNoMedium    = errors.New("securestore: no key/value medium configured")
	ErrInvalidName = errors.New("securestore: record name required")
)

// envelopeEncoding rejects non-canonical base64 so that altering any
// character of an envelope always surfaces as a decryption failure.
var envelopeEncoding = base64.StdEncoding.Strict()

type Store struct {
	cipher CipherProvider
	kv     KV
	rand   io.Reader
	logger *zap.Logger
}

type Option func(*Store)

// WithRand replaces the nonce source. Tests only.
func WithRand(r io.Reader) Option {
	return func(s *Store) { s.rand = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New binds a cipher provider to a key/value handle. kv may be nil when only
// Encrypt, Decrypt and Hash are needed.
func New(cipher CipherProvider, kv KV, opts ...Option) *Store {
	if cipher == nil {
		cipher = NewAESGCMProvider()
	}
	s := &Store{cipher: cipher, kv: kv, rand: rand.Reader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Cipher() CipherProvider { return s.cipher }

// WithKV returns a Store sharing this one's cipher and options but writing
// to kv. Used to hand each session its own medium.
func (s *Store) WithKV(kv KV) *Store {
	cp := *s
	cp.kv = kv
	return &cp
}

func (s *Store) GenerateKey(ctx context.Context) (*Key, error) {
	k, err := s.cipher.GenerateKey(ctx)
	if err != nil {
		return nil, keyGenError("generate_key", err)
	}
	return k, nil
}

// Encrypt serializes payload to JSON and seals it under a fresh nonce.
func (s *Store) Encrypt(ctx context.Context, payload any, key *Key) (string, error) {
	if key == nil {
		return "", encryptError("encrypt", fmt.Errorf("%w: nil key", ErrInvalidKey))
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", encryptError("encrypt", fmt.Errorf("serialize payload: %w", err))
	}
	nonce := make([]byte, s.cipher.NonceSize())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", encryptError("encrypt", fmt.Errorf("read nonce: %w", err))
	}
	sealed, err := s.cipher.Seal(ctx, key, nonce, plaintext)
	if err != nil {
		return "", encryptError("encrypt", err)
	}
	buf := make([]byte, 0, len(nonce)+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return envelopeEncoding.EncodeToString(buf), nil
}

// Decrypt opens envelope and unmarshals the JSON plaintext into out.
// It either fully succeeds or returns a KindDecryption error; out is not
// touched when authentication fails.
func (s *Store) Decrypt(ctx context.Context, envelope string, key *Key, out any) error {
	if key == nil {
		return decryptError("decrypt", fmt.Errorf("%w: nil key", ErrInvalidKey))
	}
	raw, err := envelopeEncoding.DecodeString(envelope)
	if err != nil {
		return decryptError("decrypt", fmt.Errorf("malformed envelope: %w", err))
	}
	ns := s.cipher.NonceSize()
	if len(raw) < ns+s.cipher.Overhead() {
		return decryptError("decrypt", fmt.Errorf("malformed envelope: %d bytes", len(raw)))
	}
	plaintext, err := s.cipher.Open(ctx, key, raw[:ns], raw[ns:])
	if err != nil {
		return decryptError("decrypt", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return decryptError("decrypt", fmt.Errorf("deserialize payload: %w", err))
	}
	return nil
}

// Hash returns the base64 SHA-256 digest of identifier. No key is involved,
// so equal identifiers always hash equal across sessions.
func (s *Store) Hash(ctx context.Context, identifier string) (string, error) {
	sum, err := s.cipher.Digest(ctx, []byte(identifier))
	if err != nil {
		return "", fmt.Errorf("securestore: digest: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

func (s *Store) ExportKey(key *Key) (string, error) {
	return exportKey(key)
}

// ImportKey parses an exported key; its algorithm must match the cipher.
func (s *Store) ImportKey(data string) (*Key, error) {
	return importKey(data, s.cipher.Algorithm())
}

// RecordKey is the medium key used for name.
func RecordKey(name string) string { return Prefix + name }

// Put encrypts payload and writes it under name, replacing any previous
// record. Concurrent Puts to one name are last-write-wins.
func (s *Store) Put(ctx context.Context, name string, payload any, key *Key) error {
	if s.kv == nil {
		return ErrNoMedium
	}
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	env, err := s.Encrypt(ctx, payload, key)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, RecordKey(name), env); err != nil {
		return fmt.Errorf("securestore: write %s: %w", name, err)
	}
	return nil
}

// Get reads and decrypts the record under name into out. found is false,
// with a nil error, when no record exists.
func (s *Store) Get(ctx context.Context, name string, key *Key, out any) (found bool, err error) {
	if s.kv == nil {
		return false, ErrNoMedium
	}
	if strings.TrimSpace(name) == "" {
		return false, ErrInvalidName
	}
	env, ok, err := s.kv.Get(ctx, RecordKey(name))
	if err != nil {
		return false, fmt.Errorf("securestore: read %s: %w", name, err)
	}
	if !ok || env == "" {
		return false, nil
	}
	if err := s.Decrypt(ctx, env, key, out); err != nil {
		s.logger.Debug("securestore: record failed to open", zap.String("record", name), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Delete removes one record. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if s.kv == nil {
		return ErrNoMedium
	}
	if err := s.kv.Delete(ctx, RecordKey(name)); err != nil {
		return fmt.Errorf("securestore: delete %s: %w", name, err)
	}
	return nil
}

// Names lists record names currently held, without the prefix.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	if s.kv == nil {
		return nil, ErrNoMedium
	}
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("securestore: list keys: %w", err)
	}
	out := []string{}
	for _, k := range keys {
		if strings.HasPrefix(k, Prefix) {
			out = append(out, strings.TrimPrefix(k, Prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ClearAll removes every record under Prefix and returns how many went.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	if s.kv == nil {
		return 0, ErrNoMedium
	}
	if pd, ok := s.kv.(PrefixDeleter); ok {
		n, err := pd.DeletePrefix(ctx, Prefix)
		if err != nil {
			return 0, fmt.Errorf("securestore: clear: %w", err)
		}
		return n, nil
	}
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("securestore: clear: %w", err)
	}
	n := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, Prefix) {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return n, fmt.Errorf("securestore: clear %s: %w", k, err)
		}
		n++
	}
	s.logger.Debug("securestore: cleared records", zap.Int("count", n))
	return n, nil
}
