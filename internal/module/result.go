package module

// Kind tags the shape of a Result.
type Kind uint8

// Result shapes. No other shape exists.
const (
	KindEmpty Kind = iota
	KindInt
	KindBytes
	KindInts
)

// String returns the shape name.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	case KindInts:
		return "ints"
	default:
		return "unknown"
	}
}

// Result is the value a command produces: nothing, one integer, a byte
// sequence or an integer sequence.
//
// The zero value is Empty.
type Result struct {
	kind  Kind
	num   int64
	bytes []byte
	ints  []int64
}

// Empty returns the absent result.
func Empty() Result { return Result{} }

// Int returns a scalar integer result.
func Int(v int64) Result { return Result{kind: KindInt, num: v} }

// Bytes returns a byte-sequence result. A nil slice is normalised to empty.
func Bytes(b []byte) Result {
	if b == nil {
		b = []byte{}
	}
	return Result{kind: KindBytes, bytes: b}
}

// Ints returns an integer-sequence result. A nil slice is normalised to empty.
func Ints(v []int64) Result {
	if v == nil {
		v = []int64{}
	}
	return Result{kind: KindInts, ints: v}
}

// Kind reports the result shape.
func (r Result) Kind() Kind { return r.kind }

// Int returns the scalar value when the result is KindInt.
func (r Result) Int() (int64, bool) { return r.num, r.kind == KindInt }

// Bytes returns the byte sequence when the result is KindBytes.
func (r Result) Bytes() ([]byte, bool) { return r.bytes, r.kind == KindBytes }

// Ints returns the integer sequence when the result is KindInts.
func (r Result) Ints() ([]int64, bool) { return r.ints, r.kind == KindInts }
