package securestore

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// KeySize is the symmetric key length in bytes (256-bit keys).
const KeySize = 32

// JOSE algorithm identifiers carried in exported keys.
const (
	AlgAES256GCM         = "A256GCM"
	AlgXChaCha20Poly1305 = "XC20P"
)

var ErrInvalidKey = errors.New("securestore: invalid key")

// Key is an opaque symmetric key bound to one cipher algorithm.
// It never renders its material through fmt.
type Key struct {
	alg string
	raw []byte
}

// NewKey copies raw into a Key for alg. raw must be KeySize bytes.
func NewKey(alg string, raw []byte) (*Key, error) {
	if alg == "" {
		return nil, fmt.Errorf("%w: missing algorithm", ErrInvalidKey)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	b := make([]byte, KeySize)
	copy(b, raw)
	return &Key{alg: alg, raw: b}, nil
}

func (k *Key) Algorithm() string {
	if k == nil {
		return ""
	}
	return k.alg
}

// Equal compares key material in constant time.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.alg == o.alg && subtle.ConstantTimeCompare(k.raw, o.raw) == 1
}

func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Key{alg:%s material:REDACTED}", k.alg)
}

func (k *Key) GoString() string { return k.String() }

// jwk is the JSON Web Key shape used for export, matching what browser
// crypto APIs produce for an extractable oct key.
type jwk struct {
	Kty    string   `json:"kty"`
	K      string   `json:"k"`
	Alg    string   `json:"alg"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops"`
}

// exportKey renders k as base64(JSON JWK).
func exportKey(k *Key) (string, error) {
	if k == nil || len(k.raw) != KeySize {
		return "", ErrInvalidKey
	}
	b, err := json.Marshal(jwk{
		Kty:    "oct",
		K:      base64.RawURLEncoding.EncodeToString(k.raw),
		Alg:    k.alg,
		Ext:    true,
		KeyOps: []string{"encrypt", "decrypt"},
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// importKey parses the output of exportKey. wantAlg, when set, must match.
func importKey(data, wantAlg string) (*Key, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var j jwk
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if j.Kty != "oct" {
		return nil, fmt.Errorf("%w: unsupported kty %q", ErrInvalidKey, j.Kty)
	}
	if wantAlg != "" && j.Alg != wantAlg {
		return nil, fmt.Errorf("%w: algorithm %q, want %q", ErrInvalidKey, j.Alg, wantAlg)
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.K)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewKey(j.Alg, raw)
}
