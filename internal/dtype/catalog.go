package dtype

// NativeCode is the accelerator runtime's element type code.
type NativeCode int32

const (
	NativeUndefined  NativeCode = -1
	NativeFloat      NativeCode = 0
	NativeFloat16    NativeCode = 1
	NativeInt8       NativeCode = 2
	NativeInt32      NativeCode = 3
	NativeUint8      NativeCode = 4
	NativeInt16      NativeCode = 6
	NativeUint16     NativeCode = 7
	NativeUint32     NativeCode = 8
	NativeInt64      NativeCode = 9
	NativeUint64     NativeCode = 10
	NativeDouble     NativeCode = 11
	NativeBool       NativeCode = 12
	NativeString     NativeCode = 13
	NativeComplex64  NativeCode = 16
	NativeComplex128 NativeCode = 17
	NativeBFloat16   NativeCode = 27
)

var toNative = map[DataType]NativeCode{
	Bool:       NativeBool,
	Int8:       NativeInt8,
	Int16:      NativeInt16,
	Int32:      NativeInt32,
	Int64:      NativeInt64,
	Uint8:      NativeUint8,
	Uint16:     NativeUint16,
	Uint32:     NativeUint32,
	Uint64:     NativeUint64,
	Float16:    NativeFloat16,
	BFloat16:   NativeBFloat16,
	Float32:    NativeFloat,
	Float64:    NativeDouble,
	Complex64:  NativeComplex64,
	Complex128: NativeComplex128,
}

var fromNative = func() map[NativeCode]DataType {
	m := make(map[NativeCode]DataType, len(toNative))
	for d, c := range toNative {
		m[c] = d
	}
	return m
}()

// ToNative maps a logical type onto the device's type code.
func ToNative(d DataType) (NativeCode, error) {
	if c, ok := toNative[d]; ok {
		return c, nil
	}
	return NativeUndefined, &UnsupportedError{DType: d, Reason: "no native counterpart"}
}

// FromNative maps a device type code back to its logical type. Device codes
// with no logical element type (strings, undefined) fail.
func FromNative(c NativeCode) (DataType, error) {
	if d, ok := fromNative[c]; ok {
		return d, nil
	}
	return Invalid, &UnsupportedError{Native: c, Reason: "no logical counterpart"}
}

// MustNative is ToNative for types already validated by the caller.
func MustNative(d DataType) NativeCode {
	c, err := ToNative(d)
	if err != nil {
		panic(err)
	}
	return c
}

// Size of a native element in bytes, or 0 when the code is unknown.
func (c NativeCode) Size() int {
	d, ok := fromNative[c]
	if !ok {
		return 0
	}
	return d.Size()
}

func (c NativeCode) String() string {
	if d, ok := fromNative[c]; ok {
		return d.String()
	}
	return "undefined"
}
