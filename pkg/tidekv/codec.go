package tidekv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/text/cases"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// KeyCodec turns caller keys into the canonical form stored on disk.
type KeyCodec interface {
	NormalizeKey(key string) (string, error)
}

// RawKeys stores keys unchanged. Empty keys are rejected.
type RawKeys struct{}

// NormalizeKey implements KeyCodec.
func (RawKeys) NormalizeKey(key string) (string, error) {
	if key == "" {
		return "", ErrEncoding.WithDetails("empty key")
	}
	return key, nil
}

// FoldKeys applies Unicode case folding, so "Key" and "KEY" address the
// same entry.
type FoldKeys struct{}

// NormalizeKey implements KeyCodec.
func (FoldKeys) NormalizeKey(key string) (string, error) {
	if key == "" {
		return "", ErrEncoding.WithDetails("empty key")
	}
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(key), nil
}

// ValueCodec converts values to and from their stored bytes.
type ValueCodec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec stores values as JSON. It is the default codec.
type JSONCodec[V any] struct{}

// Encode implements ValueCodec.
func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements ValueCodec.
func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// YAMLCodec stores values as YAML documents.
type YAMLCodec[V any] struct{}

// Encode implements ValueCodec.
func (YAMLCodec[V]) Encode(v V) ([]byte, error) {
	return yaml.Marshal(v)
}

// Decode implements ValueCodec.
func (YAMLCodec[V]) Decode(data []byte) (V, error) {
	var v V
	err := yaml.Unmarshal(data, &v)
	return v, err
}

// RawCodec stores byte slices as they are.
type RawCodec struct{}

// Encode implements ValueCodec.
func (RawCodec) Encode(v []byte) ([]byte, error) {
	return bytes.Clone(v), nil
}

// Decode implements ValueCodec.
func (RawCodec) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

// StringCodec stores strings as their UTF-8 bytes.
type StringCodec struct{}

// Encode implements ValueCodec.
func (StringCodec) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

// Decode implements ValueCodec.
func (StringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

// ProtoCodec stores protobuf messages in wire format. New allocates the
// message Decode fills.
type ProtoCodec[M proto.Message] struct {
	New func() M
}

// Encode implements ValueCodec.
func (c ProtoCodec[M]) Encode(v M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

// Decode implements ValueCodec.
func (c ProtoCodec[M]) Decode(data []byte) (M, error) {
	m := c.New()
	if err := proto.Unmarshal(data, m); err != nil {
		var zero M
		return zero, err
	}
	return m, nil
}

// Sealing algorithms, recorded in the first byte of every sealed value so a
// file stays readable on hosts that would pick the other one.
const (
	sealAESGCM   byte = 'A'
	sealChaCha20 byte = 'C'
)

// SealKeySize is the key length accepted by NewSealedCodec.
const SealKeySize = chacha20poly1305.KeySize

// SealedCodec encrypts the output of another codec with an AEAD cipher.
type SealedCodec[V any] struct {
	inner ValueCodec[V]
	algo  byte
	aeads map[byte]cipher.AEAD
}

// NewSealedCodec wraps inner with authenticated encryption under a 32-byte
// key. New values use AES-GCM where the CPU accelerates it and
// ChaCha20-Poly1305 elsewhere; both are accepted when decoding.
func NewSealedCodec[V any](inner ValueCodec[V], key []byte) (*SealedCodec[V], error) {
	if len(key) != SealKeySize {
		return nil, fmt.Errorf("tidekv: seal key must be %d bytes, got %d", SealKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	algo := sealChaCha20
	switch runtime.GOARCH {
	case "amd64", "arm64":
		algo = sealAESGCM
	}
	return &SealedCodec[V]{
		inner: inner,
		algo:  algo,
		aeads: map[byte]cipher.AEAD{sealAESGCM: gcm, sealChaCha20: chacha},
	}, nil
}

// Encode implements ValueCodec. The output is algo || nonce || ciphertext.
func (c *SealedCodec[V]) Encode(v V) ([]byte, error) {
	plain, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	aead := c.aeads[c.algo]
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plain)+aead.Overhead())
	out[0] = c.algo
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[1:], plain, nil), nil
}

// Decode implements ValueCodec.
func (c *SealedCodec[V]) Decode(data []byte) (V, error) {
	var zero V
	if len(data) == 0 {
		return zero, errors.New("sealed value is empty")
	}
	aead, ok := c.aeads[data[0]]
	if !ok {
		return zero, fmt.Errorf("unknown seal algorithm %q", data[0])
	}
	if len(data) < 1+aead.NonceSize() {
		return zero, errors.New("sealed value too short")
	}
	nonce := data[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, data[1+aead.NonceSize():], nil)
	if err != nil {
		return zero, err
	}
	return c.inner.Decode(plain)
}
