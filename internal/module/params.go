package module

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Param is one (name, text value) pair.
type Param struct {
	Name  string
	Value string
}

// Params is the ordered parameter set accompanying a command or Init call.
//
// Keys are not required to be unique. Every accessor resolves a key to its
// first occurrence.
type Params []Param

// P builds Params from alternating name/value strings. It is a convenience
// for boot code and tests; an odd trailing name is ignored.
func P(kv ...string) Params {
	out := make(Params, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Param{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

// Get returns the first value stored under name.
func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// String returns the raw text for name, or def when absent.
func (p Params) String(name, def string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return def
}

// Int parses name as a signed decimal integer.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p.Get(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, &ParamError{Name: name, Value: v, Err: numError(err)}
	}
	return n, nil
}

// Uint parses name as an unsigned decimal integer that fits in bitSize bits.
func (p Params) Uint(name string, def uint64, bitSize int) (uint64, error) {
	v, ok := p.Get(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, bitSize)
	if err != nil {
		return def, &ParamError{Name: name, Value: v, Err: numError(err)}
	}
	return n, nil
}

// Bool returns true only when name is exactly "true". Any other present
// value is false; an absent key yields def.
func (p Params) Bool(name string, def bool) bool {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	return v == "true"
}

// Ints parses name as comma-separated signed decimal integers.
// An absent key or empty text yields an empty slice.
func (p Params) Ints(name string) ([]int64, error) {
	v, ok := p.Get(name)
	if !ok || strings.TrimSpace(v) == "" {
		return []int64{}, nil
	}
	fields := strings.Split(v, ",")
	out := make([]int64, 0, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, &ParamError{Name: name, Value: v, Err: fmt.Errorf("element %d: %w", i, numError(err))}
		}
		out = append(out, n)
	}
	return out, nil
}

// Bytes decodes name with the deployment byte codec.
// An absent key yields an empty slice.
func (p Params) Bytes(name string, codec ByteCodec) ([]byte, error) {
	v, ok := p.Get(name)
	if !ok {
		return []byte{}, nil
	}
	b, err := codec.Decode(v)
	if err != nil {
		return nil, &ParamError{Name: name, Value: v, Err: err}
	}
	return b, nil
}

// numError strips the strconv wrapper so messages read "invalid syntax"
// rather than repeating the input.
func numError(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}

// MarshalJSON encodes the set as a JSON object in wire order, duplicates
// included.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(param.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping key order and duplicate
// keys. String values are taken verbatim; numbers and booleans keep their
// literal text; null becomes the empty string; nested objects and arrays are
// kept as compact JSON text for the module parser to accept or reject.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading params: %w", err)
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("params must be a JSON object")
	}

	out := Params{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading params key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected params key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("reading params value %q: %w", key, err)
		}
		val, err := paramText(raw)
		if err != nil {
			return fmt.Errorf("params value %q: %w", key, err)
		}
		out = append(out, Param{Name: key, Value: val})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("closing params: %w", err)
	}
	*p = out
	return nil
}

// paramText converts one raw JSON value to parameter text.
func paramText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New("empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case 'n':
		return "", nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return string(trimmed), nil
	}
}
