// Package signature authenticates provider webhooks. Each provider has its
// own Scheme; schemes share nothing beyond the Field type.
package signature

import (
	"bytes"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMissingSignature = errors.New("signature missing")
	ErrUnknownScheme    = errors.New("unknown signature scheme")
)

// Field is one payload field in transmitted order. Value holds the field's
// JSON encoding: the raw value for JSON bodies, a JSON string for form bodies.
type Field struct {
	Key   string
	Value json.RawMessage
}

// StringField builds a Field from a plain string value.
func StringField(key, value string) Field {
	return Field{Key: key, Value: encodeString(value)}
}

// Text returns the field value as text: strings are unquoted, everything
// else is returned as its JSON literal.
func (f Field) Text() string {
	var s string
	if len(f.Value) > 0 && f.Value[0] == '"' && json.Unmarshal(f.Value, &s) == nil {
		return s
	}
	if bytes.Equal(f.Value, []byte("null")) {
		return ""
	}
	return string(f.Value)
}

// Scheme canonicalizes a payload and digests it with the shared secret.
type Scheme interface {
	Name() string
	// SignatureField is the payload key that carries the signature.
	SignatureField() string
	Canonical(fields []Field) ([]byte, error)
	Digest(canonical []byte, secret string) []byte
}

// Verify recomputes the digest of fields under s and compares it in constant
// time with the hex signature provided.
func Verify(s Scheme, fields []Field, provided, secret string) (bool, error) {
	if provided == "" {
		return false, ErrMissingSignature
	}
	want, err := hex.DecodeString(strings.TrimSpace(provided))
	if err != nil {
		return false, nil
	}
	canonical, err := s.Canonical(fields)
	if err != nil {
		return false, err
	}
	return hmac.Equal(s.Digest(canonical, secret), want), nil
}

// Sign returns the hex signature of fields. Used by tests and the CLI to
// produce signed payloads.
func Sign(s Scheme, fields []Field, secret string) (string, error) {
	canonical, err := s.Canonical(fields)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(s.Digest(canonical, secret)), nil
}

// For returns the scheme registered for a provider name.
func For(provider string) (Scheme, error) {
	switch strings.ToLower(provider) {
	case "plisio":
		return Plisio{}, nil
	case "coinbase":
		return Coinbase{}, nil
	}
	return nil, ErrUnknownScheme
}

func without(fields []Field, key string) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Key != key {
			out = append(out, f)
		}
	}
	return out
}

func encodeString(s string) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
