package securestore

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindKeyGeneration ErrorKind = "key_generation"
	KindEncryption    ErrorKind = "encryption"
	KindDecryption    ErrorKind = "decryption"
)

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrKeyGeneration = errors.New("securestore: key generation failed")
	ErrEncryption    = errors.New("securestore: encryption failed")
	ErrDecryption    = errors.New("securestore: decryption failed")
)

// Error is returned by every cryptographic operation of a Store.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("securestore: %s: %s failed", e.Op, e.Kind)
	}
	return fmt.Sprintf("securestore: %s: %s failed: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrKeyGeneration:
		return e.Kind == KindKeyGeneration
	case ErrEncryption:
		return e.Kind == KindEncryption
	case ErrDecryption:
		return e.Kind == KindDecryption
	}
	return false
}

func keyGenError(op string, err error) error {
	return &Error{Kind: KindKeyGeneration, Op: op, Err: err}
}

func encryptError(op string, err error) error {
	return &Error{Kind: KindEncryption, Op: op, Err: err}
}

func decryptError(op string, err error) error {
	return &Error{Kind: KindDecryption, Op: op, Err: err}
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
