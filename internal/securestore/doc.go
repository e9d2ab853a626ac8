// Package securestore encrypts JSON payloads with an authenticated cipher and
// keeps the resulting envelopes in a namespaced key/value medium.
//
// An envelope is the standard base64 encoding of nonce || ciphertext || tag.
// The nonce length is fixed by the CipherProvider, so Decrypt can always split
// the two parts without extra framing. Every call to Encrypt draws a fresh
// random nonce.
//
// Records written through a Store live under the reserved "encrypted_" prefix.
// ClearAll removes every record under that prefix and nothing else.
package securestore
