package module

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// ByteCodec selects how byte-sequence parameters are written on the wire.
// One codec applies to every module in a deployment.
type ByteCodec string

// Supported byte codecs.
const (
	// CSV is comma-separated decimal octets, e.g. "1,2,255".
	CSV ByteCodec = "csv"

	// Base64 is standard padded base64 text.
	Base64 ByteCodec = "base64"
)

// ParseByteCodec validates a codec name. The empty string selects CSV.
func ParseByteCodec(s string) (ByteCodec, error) {
	switch ByteCodec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case Base64:
		return Base64, nil
	default:
		return "", fmt.Errorf("unknown byte encoding %q (want csv or base64)", s)
	}
}

// Decode converts parameter text to bytes.
func (c ByteCodec) Decode(s string) ([]byte, error) {
	switch c {
	case Base64:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	default:
		return decodeCSV(s)
	}
}

// Encode converts bytes to parameter text. It is the inverse of Decode and
// is used by clients and tests that build requests.
func (c ByteCodec) Encode(b []byte) string {
	if c == Base64 {
		return base64.StdEncoding.EncodeToString(b)
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

func decodeCSV(s string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return []byte{}, nil
	}
	fields := strings.Split(s, ",")
	out := make([]byte, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, numError(err))
		}
		out[i] = byte(n)
	}
	return out, nil
}
