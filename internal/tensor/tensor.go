// Package tensor holds device-resident N-dimensional arrays and the host
// scalars that accompany them into mixed tensor/scalar kernel calls.
package tensor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

// ErrReleased is returned when a released Tensor is read or dispatched.
var ErrReleased = errors.New("tensor has been released")

// Tensor is a dense row-major array whose storage lives on one device
// Context. A Tensor exclusively owns its buffer unless it is a view, in which
// case it borrows the buffer of the Tensor it was created from.
type Tensor struct {
	dc      *device.Context
	buf     *device.Buffer
	shape   shape.Shape
	strides []int64
	dtype   dtype.DataType
	offset  int64
	view    bool

	released atomic.Bool
}

// Allocate reserves an uninitialized tensor of the given shape and type. A
// zero-size shape allocates no device memory.
func Allocate(dc *device.Context, s shape.Shape, dt dtype.DataType) (*Tensor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if _, err := dtype.ToNative(dt); err != nil {
		return nil, err
	}
	size, err := s.Bytes(dt.Size())
	if err != nil {
		return nil, err
	}
	buf, err := dc.Alloc("Allocate", uint64(size))
	if err != nil {
		return nil, err
	}
	return &Tensor{dc: dc, buf: buf, shape: s.Clone(), strides: s.Strides(), dtype: dt}, nil
}

// FromBytes allocates a tensor and uploads a dense little-endian host buffer.
func FromBytes(dc *device.Context, s shape.Shape, dt dtype.DataType, data []byte) (*Tensor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	want, err := s.Bytes(dt.Size())
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("host buffer of %d bytes does not match %s tensor %v (%d bytes)", len(data), dt, s, want)
	}
	t, err := Allocate(dc, s, dt)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return t, nil
	}
	if err := t.buf.Write(0, data); err != nil {
		_ = t.Release()
		return nil, err
	}
	return t, nil
}

// FromFloat64 allocates a tensor of type dt from float64 host values,
// converting each element the way SetFloat does.
func FromFloat64(dc *device.Context, s shape.Shape, dt dtype.DataType, values []float64) (*Tensor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if int64(len(values)) != s.NumElements() {
		return nil, fmt.Errorf("%d values do not fill tensor %v", len(values), s)
	}
	if !dt.Valid() {
		return nil, &dtype.UnsupportedError{DType: dt, Op: "FromFloat64", Reason: "unknown data type"}
	}
	data := make([]byte, len(values)*dt.Size())
	for i, v := range values {
		dt.SetFloat(data, i, v)
	}
	return FromBytes(dc, s, dt, data)
}

// Context returns the device Context that owns the tensor's storage.
func (t *Tensor) Context() *device.Context { return t.dc }

// Shape returns a copy of the extents.
func (t *Tensor) Shape() shape.Shape { return t.shape.Clone() }

// DType returns the element type.
func (t *Tensor) DType() dtype.DataType { return t.dtype }

// Strides returns the row-major element strides.
func (t *Tensor) Strides() []int64 { return append([]int64(nil), t.strides...) }

// NumElements is the product of the extents.
func (t *Tensor) NumElements() int64 { return t.shape.NumElements() }

// ByteSize is NumElements times the element size.
func (t *Tensor) ByteSize() int64 { return t.NumElements() * int64(t.dtype.Size()) }

// IsView reports whether the tensor borrows another tensor's storage.
func (t *Tensor) IsView() bool { return t.view }

// Released reports whether Release has run.
func (t *Tensor) Released() bool { return t.released.Load() }

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %s)", t.shape, t.dtype)
}

// ViewAs reinterprets the tensor's bytes under a new shape and type without
// copying. The byte sizes must match, and the view must not outlive t.
func (t *Tensor) ViewAs(s shape.Shape, dt dtype.DataType) (*Tensor, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if _, err := dtype.ToNative(dt); err != nil {
		return nil, err
	}
	size, err := s.Bytes(dt.Size())
	if err != nil {
		return nil, err
	}
	if size != t.ByteSize() {
		return nil, fmt.Errorf("cannot view %v %s (%d bytes) as %v %s (%d bytes)", t.shape, t.dtype, t.ByteSize(), s, dt, size)
	}
	byteOffset := t.offset * int64(t.dtype.Size())
	if byteOffset%int64(dt.Size()) != 0 {
		return nil, fmt.Errorf("byte offset %d is not aligned to %s", byteOffset, dt)
	}
	return &Tensor{
		dc:      t.dc,
		buf:     t.buf,
		shape:   s.Clone(),
		strides: s.Strides(),
		dtype:   dt,
		offset:  byteOffset / int64(dt.Size()),
		view:    true,
	}, nil
}

// Release frees the device buffer. A view releases nothing but itself.
// Release is idempotent.
func (t *Tensor) Release() error {
	if t == nil || t.released.Swap(true) {
		return nil
	}
	if t.view {
		return nil
	}
	return t.buf.Free()
}

// Desc describes the tensor to a kernel.
func (t *Tensor) Desc() *device.TensorDesc {
	var ptr device.Ptr
	if !t.Released() {
		ptr = t.buf.Ptr()
	}
	return &device.TensorDesc{
		Shape:   []int64(t.shape.Clone()),
		Strides: t.Strides(),
		DType:   dtype.MustNative(t.dtype),
		Offset:  t.offset,
		Data:    ptr,
	}
}

// Bytes downloads the tensor as a dense little-endian host buffer.
func (t *Tensor) Bytes() ([]byte, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	out := make([]byte, t.ByteSize())
	if len(out) == 0 {
		return out, nil
	}
	if err := t.buf.Read(out, uint64(t.offset)*uint64(t.dtype.Size())); err != nil {
		return nil, err
	}
	return out, nil
}

// Float64s downloads the tensor and widens every element to float64.
func (t *Tensor) Float64s() ([]float64, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]float64, t.NumElements())
	for i := range out {
		out[i] = t.dtype.Float(b, i)
	}
	return out, nil
}

// Int64s downloads an integral tensor as int64 values.
func (t *Tensor) Int64s() ([]int64, error) {
	if !t.dtype.IsIntegral() {
		return nil, &dtype.UnsupportedError{DType: t.dtype, Op: "Int64s", Reason: "not an integral type"}
	}
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]int64, t.NumElements())
	for i := range out {
		out[i] = t.dtype.Int(b, i)
	}
	return out, nil
}
