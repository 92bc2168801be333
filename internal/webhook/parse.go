// Package webhook turns raw provider callback bodies into ordered fields and
// a typed Event.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/imrishuroy/go-topup-payflow/internal/signature"
)

var ErrUnparseable = errors.New("unparseable webhook body")

// ParseBody decodes a JSON object or a form-encoded body, keeping fields in
// the order they were transmitted.
func ParseBody(contentType string, body []byte) ([]signature.Field, error) {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mt == "application/json":
		return parseJSON(body)
	case mt == "application/x-www-form-urlencoded", mt == "multipart/form-data":
		return parseForm(body)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		return parseJSON(body)
	}
	return parseForm(body)
}

func parseJSON(body []byte) ([]signature.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrUnparseable)
	}
	var fields []signature.Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key is not a string", ErrUnparseable)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrUnparseable, key, err)
		}
		fields = append(fields, signature.Field{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrUnparseable)
	}
	return fields, nil
}

func parseForm(body []byte) ([]signature.Field, error) {
	var fields []signature.Field
	for _, pair := range strings.Split(strings.TrimSpace(string(body)), "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		fields = append(fields, signature.StringField(key, value))
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnparseable)
	}
	return fields, nil
}
