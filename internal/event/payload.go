package event

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrInvalidPayload = errors.New("payload is not valid JSON")

// CompactPayload returns the canonical stored form of a payload: whitespace
// stripped, key order preserved. An empty payload becomes JSON null.
func CompactPayload(raw []byte) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// SamePayload reports whether a and b serialize to identical bytes.
func SamePayload(a, b []byte) bool {
	ca, err := CompactPayload(a)
	if err != nil {
		return false
	}
	cb, err := CompactPayload(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
