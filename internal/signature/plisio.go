package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/json"
	"fmt"
)

// Plisio signs the JSON object of all fields except verify_hash, in the
// order they were transmitted, with HMAC-SHA1 keyed by the API secret.
type Plisio struct{}

func (Plisio) Name() string           { return "plisio" }
func (Plisio) SignatureField() string { return "verify_hash" }

func (p Plisio) Canonical(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range without(fields, p.SignatureField()) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encodeString(f.Key))
		buf.WriteByte(':')
		v := f.Value
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (Plisio) Digest(canonical []byte, secret string) []byte {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(canonical)
	return mac.Sum(nil)
}
