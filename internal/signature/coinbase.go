package signature

import (
	"crypto/sha1"
	"sort"
	"strings"
)

// Coinbase implements the legacy Commerce callback scheme: the values of all
// fields except signature, ordered by key, concatenated, followed by the
// shared secret, SHA1.
type Coinbase struct{}

func (Coinbase) Name() string           { return "coinbase" }
func (Coinbase) SignatureField() string { return "signature" }

func (c Coinbase) Canonical(fields []Field) ([]byte, error) {
	rest := without(fields, c.SignatureField())
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Key < rest[j].Key })
	var b strings.Builder
	for _, f := range rest {
		b.WriteString(f.Text())
	}
	return []byte(b.String()), nil
}

func (Coinbase) Digest(canonical []byte, secret string) []byte {
	sum := sha1.Sum(append(append([]byte{}, canonical...), secret...))
	return sum[:]
}
