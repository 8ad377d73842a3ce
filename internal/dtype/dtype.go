package dtype

import (
	"fmt"
	"strings"
)

// DataType is the logical element type of a tensor as seen by callers.
type DataType int

const (
	Invalid DataType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	BFloat16
	Float32
	Float64
	Complex64
	Complex128
)

// Kind groups data types into the families kernels declare support for.
type Kind uint8

const (
	KindBool Kind = 1 << iota
	KindSigned
	KindUnsigned
	KindFloat
	KindComplex

	KindInteger = KindSigned | KindUnsigned
	KindNumeric = KindInteger | KindFloat
	KindReal    = KindBool | KindNumeric
	KindAll     = KindReal | KindComplex
)

type info struct {
	name string
	size int
	kind Kind
}

var infos = map[DataType]info{
	Bool:       {"bool", 1, KindBool},
	Int8:       {"int8", 1, KindSigned},
	Int16:      {"int16", 2, KindSigned},
	Int32:      {"int32", 4, KindSigned},
	Int64:      {"int64", 8, KindSigned},
	Uint8:      {"uint8", 1, KindUnsigned},
	Uint16:     {"uint16", 2, KindUnsigned},
	Uint32:     {"uint32", 4, KindUnsigned},
	Uint64:     {"uint64", 8, KindUnsigned},
	Float16:    {"float16", 2, KindFloat},
	BFloat16:   {"bfloat16", 2, KindFloat},
	Float32:    {"float32", 4, KindFloat},
	Float64:    {"float64", 8, KindFloat},
	Complex64:  {"complex64", 8, KindComplex},
	Complex128: {"complex128", 16, KindComplex},
}

// All lists every valid logical data type in declaration order.
func All() []DataType {
	out := make([]DataType, 0, len(infos))
	for d := Bool; d <= Complex128; d++ {
		out = append(out, d)
	}
	return out
}

// Valid reports whether d is a known logical data type.
func (d DataType) Valid() bool {
	_, ok := infos[d]
	return ok
}

// Size returns the item size in bytes, or 0 for an invalid type.
func (d DataType) Size() int {
	return infos[d].size
}

// Kind returns the family of d. Invalid types have no kind.
func (d DataType) Kind() Kind {
	return infos[d].kind
}

func (d DataType) IsBool() bool    { return d.Kind() == KindBool }
func (d DataType) IsFloat() bool   { return d.Kind() == KindFloat }
func (d DataType) IsComplex() bool { return d.Kind() == KindComplex }
func (d DataType) IsInteger() bool { return d.Kind()&KindInteger != 0 }

// IsIntegral is true for booleans and integers, the types a float-only
// operation refuses as an explicit output type.
func (d DataType) IsIntegral() bool { return d.Kind()&(KindBool|KindInteger) != 0 }

func (d DataType) String() string {
	if in, ok := infos[d]; ok {
		return in.name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Check returns an UnsupportedError when d is not in the allowed kinds.
func (d DataType) Check(op string, allowed Kind) error {
	if !d.Valid() {
		return &UnsupportedError{DType: d, Op: op, Reason: "unknown data type"}
	}
	if d.Kind()&allowed == 0 {
		return &UnsupportedError{DType: d, Op: op, Reason: "not supported by kernel"}
	}
	return nil
}

var aliases = map[string]DataType{
	"bool":       Bool,
	"int8":       Int8,
	"int16":      Int16,
	"int32":      Int32,
	"int64":      Int64,
	"int":        Int64,
	"uint8":      Uint8,
	"uint16":     Uint16,
	"uint32":     Uint32,
	"uint64":     Uint64,
	"float16":    Float16,
	"half":       Float16,
	"bfloat16":   BFloat16,
	"float32":    Float32,
	"single":     Float32,
	"float64":    Float64,
	"double":     Float64,
	"float":      Float64,
	"complex64":  Complex64,
	"complex128": Complex128,
	"complex":    Complex128,
}

// Parse resolves a NumPy-style type name.
func Parse(name string) (DataType, error) {
	if d, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return Invalid, &UnsupportedError{Op: "parse", Reason: fmt.Sprintf("unknown type name %q", name)}
}

// UnsupportedError reports a data type that is unknown, has no device
// counterpart, or is outside the set an operation accepts.
type UnsupportedError struct {
	DType  DataType
	Native NativeCode
	Op     string
	Reason string
}

func (e *UnsupportedError) Error() string {
	subject := e.DType.String()
	if e.DType == Invalid && e.Native != 0 {
		subject = fmt.Sprintf("native code %d", int32(e.Native))
	}
	if e.Op == "" {
		return fmt.Sprintf("unsupported dtype %s: %s", subject, e.Reason)
	}
	return fmt.Sprintf("%s: unsupported dtype %s: %s", e.Op, subject, e.Reason)
}
