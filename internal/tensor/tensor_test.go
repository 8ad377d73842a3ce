package tensor

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/device/emulator"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

func newContext(t *testing.T, cfg device.Config) *device.Context {
	t.Helper()
	dc, _, err := emulator.OpenContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dc.Close() })
	return dc
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*37 + 11)
	}
	return b
}

func TestAllocate(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())

	t.Run("Dense", func(t *testing.T) {
		x, err := Allocate(dc, shape.Of(2, 3), dtype.Float32)
		require.NoError(t, err)
		assert.Equal(t, int64(6), x.NumElements())
		assert.Equal(t, int64(24), x.ByteSize())
		assert.Equal(t, []int64{3, 1}, x.Strides())
		assert.Equal(t, int64(24), dc.Stats().AllocatedBytes)
		assert.Equal(t, "Tensor([2, 3], float32)", x.String())

		require.NoError(t, x.Release())
		require.NoError(t, x.Release(), "release is idempotent")
		assert.True(t, x.Released())
		assert.Equal(t, int64(0), dc.Stats().AllocatedBytes)

		_, err = x.Bytes()
		assert.ErrorIs(t, err, ErrReleased)
		assert.Zero(t, x.Desc().Data)
	})

	t.Run("ZeroSize", func(t *testing.T) {
		x, err := Allocate(dc, shape.Of(0, 3), dtype.Int64)
		require.NoError(t, err)
		assert.Equal(t, int64(0), dc.Stats().LiveBuffers)
		assert.Zero(t, x.Desc().Data)
		b, err := x.Bytes()
		require.NoError(t, err)
		assert.Empty(t, b)
		assert.NoError(t, x.Release())
	})

	t.Run("Scalar", func(t *testing.T) {
		x, err := FromFloat64(dc, shape.Shape{}, dtype.Float64, []float64{4.5})
		require.NoError(t, err)
		defer x.Release()
		v, err := x.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{4.5}, v)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := Allocate(dc, shape.Shape{2, -1}, dtype.Float32)
		assert.Error(t, err)

		_, err = Allocate(dc, shape.Of(2), dtype.Invalid)
		var ue *dtype.UnsupportedError
		assert.True(t, errors.As(err, &ue))
	})

	t.Run("OutOfMemory", func(t *testing.T) {
		small := newContext(t, device.Config{Runtime: emulator.RuntimeName, MemoryLimit: 16})
		_, err := Allocate(small, shape.Of(8), dtype.Float64)
		assert.ErrorIs(t, err, device.ErrAllocation)
		assert.Equal(t, int64(0), small.Stats().LiveBuffers)
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := Allocate(dc, shape.Of(1<<32, 1<<32), dtype.Int8)
		assert.ErrorIs(t, err, shape.ErrOverflow)

		_, err = Allocate(dc, shape.Of(1<<31, 1<<30), dtype.Float64)
		assert.ErrorIs(t, err, shape.ErrOverflow)

		_, err = FromFloat64(dc, shape.Of(1<<32, 1<<32), dtype.Float32, nil)
		assert.ErrorIs(t, err, shape.ErrOverflow)
		assert.Equal(t, int64(0), dc.Stats().LiveBuffers)
	})

	t.Run("Oversized", func(t *testing.T) {
		_, err := Allocate(dc, shape.Of(1<<25, 1<<25), dtype.Float64)
		assert.ErrorIs(t, err, device.ErrAllocation)
		assert.Equal(t, int64(0), dc.Stats().LiveBuffers)
	})
}

func TestHostRoundTrip(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())
	s := shape.Of(3, 5)

	for _, dt := range dtype.All() {
		t.Run(dt.String(), func(t *testing.T) {
			want := pattern(int(s.NumElements()) * dt.Size())
			x, err := FromBytes(dc, s, dt, want)
			require.NoError(t, err)
			defer x.Release()

			got, err := x.Bytes()
			require.NoError(t, err)
			assert.True(t, bytes.Equal(want, got), "bytes differ for %s", dt)

			desc := x.Desc()
			assert.Equal(t, dtype.MustNative(dt), desc.DType)
			assert.Equal(t, []int64{3, 5}, desc.Shape)
		})
	}
	assert.Equal(t, int64(0), dc.Stats().AllocatedBytes)

	_, err := FromBytes(dc, s, dtype.Float32, make([]byte, 7))
	assert.ErrorContains(t, err, "does not match")
}

func TestFromFloat64(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())

	x, err := FromFloat64(dc, shape.Of(4), dtype.Int32, []float64{1.9, -1.9, 3e10, math.NaN()})
	require.NoError(t, err)
	defer x.Release()

	ints, err := x.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -1, math.MaxInt32, 0}, ints)

	f, err := FromFloat64(dc, shape.Of(2), dtype.Float16, []float64{0.5, -2})
	require.NoError(t, err)
	defer f.Release()
	vals, err := f.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -2}, vals)

	_, err = f.Int64s()
	assert.Error(t, err)

	_, err = FromFloat64(dc, shape.Of(3), dtype.Float32, []float64{1})
	assert.ErrorContains(t, err, "do not fill")
}

func TestViewAs(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())

	x, err := FromFloat64(dc, shape.Of(4), dtype.Float32, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	v, err := x.ViewAs(shape.Of(2, 2), dtype.Int32)
	require.NoError(t, err)
	assert.True(t, v.IsView())
	ints, err := v.Int64s()
	require.NoError(t, err)
	assert.Equal(t, int64(math.Float32bits(3)), ints[2])

	raw, err := x.ViewAs(shape.Of(16), dtype.Uint8)
	require.NoError(t, err)
	wantBytes, err := x.Bytes()
	require.NoError(t, err)
	gotBytes, err := raw.Bytes()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)

	_, err = x.ViewAs(shape.Of(3), dtype.Float32)
	assert.ErrorContains(t, err, "cannot view")

	require.NoError(t, v.Release())
	assert.Equal(t, int64(1), dc.Stats().LiveBuffers, "releasing a view keeps the storage")

	require.NoError(t, x.Release())
	assert.Equal(t, int64(0), dc.Stats().LiveBuffers)
	_, err = raw.Bytes()
	assert.ErrorIs(t, err, device.ErrMemcpy, "a view cannot outlive its base")

	_, err = x.ViewAs(shape.Of(4), dtype.Float32)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestScalar(t *testing.T) {
	t.Run("Encode", func(t *testing.T) {
		s, err := NewScalar(2.75, dtype.Int32)
		require.NoError(t, err)
		assert.Equal(t, 2.75, s.Value())
		assert.Equal(t, dtype.Int32, s.DType())
		assert.Equal(t, dtype.NativeInt32, s.Desc().DType)
		assert.Equal(t, int64(2), dtype.Int32.Int(s.Desc().Bits, 0))

		require.NoError(t, s.Release())
		require.NoError(t, s.Release())
		assert.Nil(t, s.Desc())
	})

	t.Run("Float", func(t *testing.T) {
		s, err := NewScalar(math.Inf(-1), dtype.Float32)
		require.NoError(t, err)
		assert.True(t, math.IsInf(dtype.Float32.Float(s.Desc().Bits, 0), -1))
	})

	tests := []struct {
		name  string
		value float64
		dt    dtype.DataType
	}{
		{"NaNToInt", math.NaN(), dtype.Int64},
		{"InfToBool", math.Inf(1), dtype.Bool},
		{"Uint8Overflow", 300, dtype.Uint8},
		{"Uint8Negative", -1, dtype.Uint8},
		{"Float16Overflow", 1e6, dtype.Float16},
		{"Float32Overflow", 1e300, dtype.Float32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScalar(tt.value, tt.dt)
			var sce *ScalarConversionError
			require.True(t, errors.As(err, &sce), "got %v", err)
			assert.Equal(t, tt.dt, sce.DType)
		})
	}

	_, err := NewScalar(1, dtype.Invalid)
	var ue *dtype.UnsupportedError
	assert.True(t, errors.As(err, &ue))
}

func TestArrow(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())
	pool := memory.NewGoAllocator()

	t.Run("Record round trip", func(t *testing.T) {
		x, err := FromFloat64(dc, shape.Of(2, 3), dtype.Float32, []float64{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		defer x.Release()

		rec, err := x.ToRecord(pool, "values")
		require.NoError(t, err)
		defer rec.Release()

		assert.Equal(t, int64(6), rec.NumRows())
		assert.Equal(t, "values", rec.ColumnName(0))
		col := rec.Column(0).(*array.Float32)
		assert.Equal(t, float32(6), col.Value(5))
		md := rec.Schema().Metadata()
		assert.Equal(t, "2,3", md.Values()[md.FindKey(MetaShape)])
		assert.Equal(t, "float32", md.Values()[md.FindKey(MetaDType)])

		y, err := FromRecord(dc, rec)
		require.NoError(t, err)
		defer y.Release()
		assert.Equal(t, x.Shape(), y.Shape())
		vals, err := y.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, vals)
	})

	t.Run("Multiple columns", func(t *testing.T) {
		q, err := FromFloat64(dc, shape.Of(2), dtype.Float64, []float64{3, 4})
		require.NoError(t, err)
		defer q.Release()
		r, err := FromFloat64(dc, shape.Of(2), dtype.Float64, []float64{1, 0})
		require.NoError(t, err)
		defer r.Release()

		rec, err := NewRecord(pool, []string{"q", "r"}, []*Tensor{q, r})
		require.NoError(t, err)
		defer rec.Release()
		assert.Equal(t, int64(2), rec.NumCols())
		assert.Equal(t, 0.0, rec.Column(1).(*array.Float64).Value(1))

		wide, err := Allocate(dc, shape.Of(3), dtype.Float64)
		require.NoError(t, err)
		defer wide.Release()
		_, err = NewRecord(pool, []string{"q", "w"}, []*Tensor{q, wide})
		assert.ErrorContains(t, err, "has shape")
		_, err = NewRecord(pool, []string{"q"}, []*Tensor{q, r})
		assert.Error(t, err)
	})

	t.Run("Bool", func(t *testing.T) {
		x, err := FromBytes(dc, shape.Of(3), dtype.Bool, []byte{1, 0, 1})
		require.NoError(t, err)
		defer x.Release()

		arr, err := x.ToArrow(pool)
		require.NoError(t, err)
		defer arr.Release()
		assert.Equal(t, arrow.BOOL, arr.DataType().ID())

		y, err := FromArrow(dc, arr, nil)
		require.NoError(t, err)
		defer y.Release()
		b, err := y.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 0, 1}, b)
	})

	t.Run("Sliced", func(t *testing.T) {
		b := array.NewInt64Builder(pool)
		defer b.Release()
		b.AppendValues([]int64{10, 20, 30, 40}, nil)
		arr := b.NewArray()
		defer arr.Release()
		sl := array.NewSlice(arr, 1, 3)
		defer sl.Release()

		y, err := FromArrow(dc, sl, nil)
		require.NoError(t, err)
		defer y.Release()
		ints, err := y.Int64s()
		require.NoError(t, err)
		assert.Equal(t, []int64{20, 30}, ints)
	})

	t.Run("Unsupported", func(t *testing.T) {
		x, err := Allocate(dc, shape.Of(2), dtype.BFloat16)
		require.NoError(t, err)
		defer x.Release()
		_, err = x.ToArrow(pool)
		var ue *dtype.UnsupportedError
		assert.True(t, errors.As(err, &ue))

		b := array.NewFloat64Builder(pool)
		defer b.Release()
		b.AppendNull()
		arr := b.NewArray()
		defer arr.Release()
		_, err = FromArrow(dc, arr, nil)
		assert.ErrorContains(t, err, "nulls")
	})
}

func TestSnapshot(t *testing.T) {
	dc := newContext(t, device.DefaultConfig())

	x, err := FromFloat64(dc, shape.Of(2, 2), dtype.Int16, []float64{-3, 7, 0, 12})
	require.NoError(t, err)
	defer x.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, x))

	y, err := ReadSnapshot(&buf, dc)
	require.NoError(t, err)
	defer y.Release()
	assert.Equal(t, dtype.Int16, y.DType())
	assert.Equal(t, shape.Of(2, 2), y.Shape())
	ints, err := y.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{-3, 7, 0, 12}, ints)

	_, err = ReadSnapshot(bytes.NewReader([]byte{0xff}), dc)
	assert.ErrorContains(t, err, "failed to decode snapshot")

	bad := &Snapshot{DType: "quaternion", Shape: []int64{1}, Data: []byte{0}}
	_, err = bad.Restore(dc)
	assert.Error(t, err)
}
