package tensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

// Schema metadata keys written by ToRecord.
const (
	MetaShape = "quiver.shape"
	MetaDType = "quiver.dtype"
)

var arrowTypes = map[dtype.DataType]arrow.DataType{
	dtype.Bool:    arrow.FixedWidthTypes.Boolean,
	dtype.Int8:    arrow.PrimitiveTypes.Int8,
	dtype.Int16:   arrow.PrimitiveTypes.Int16,
	dtype.Int32:   arrow.PrimitiveTypes.Int32,
	dtype.Int64:   arrow.PrimitiveTypes.Int64,
	dtype.Uint8:   arrow.PrimitiveTypes.Uint8,
	dtype.Uint16:  arrow.PrimitiveTypes.Uint16,
	dtype.Uint32:  arrow.PrimitiveTypes.Uint32,
	dtype.Uint64:  arrow.PrimitiveTypes.Uint64,
	dtype.Float16: arrow.FixedWidthTypes.Float16,
	dtype.Float32: arrow.PrimitiveTypes.Float32,
	dtype.Float64: arrow.PrimitiveTypes.Float64,
}

// ArrowType returns the Arrow type a tensor of dt flattens to.
func ArrowType(dt dtype.DataType) (arrow.DataType, error) {
	if at, ok := arrowTypes[dt]; ok {
		return at, nil
	}
	return nil, &dtype.UnsupportedError{DType: dt, Op: "arrow", Reason: "no Arrow counterpart"}
}

func fromArrowType(at arrow.DataType) (dtype.DataType, error) {
	for dt, candidate := range arrowTypes {
		if arrow.TypeEqual(candidate, at) {
			return dt, nil
		}
	}
	return dtype.Invalid, &dtype.UnsupportedError{Op: "arrow", Reason: fmt.Sprintf("Arrow type %s has no tensor counterpart", at)}
}

// ToArrow downloads the tensor into a flat, row-major Arrow array with no
// nulls. Primitive types wrap the host bytes without copying them again.
func (t *Tensor) ToArrow(mem memory.Allocator) (arrow.Array, error) {
	at, err := ArrowType(t.dtype)
	if err != nil {
		return nil, err
	}
	raw, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	n := int(t.NumElements())

	if t.dtype == dtype.Bool {
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(n)
		for _, v := range raw {
			b.Append(v != 0)
		}
		return b.NewArray(), nil
	}

	data := array.NewData(at, n, []*memory.Buffer{nil, memory.NewBufferBytes(raw)}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

// FromArrow uploads a null-free Arrow array. A nil shape means a 1-D tensor
// of the array's length.
func FromArrow(dc *device.Context, arr arrow.Array, s shape.Shape) (*Tensor, error) {
	if arr.NullN() > 0 {
		return nil, fmt.Errorf("arrow array has %d nulls", arr.NullN())
	}
	dt, err := fromArrowType(arr.DataType())
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = shape.Of(arr.Len())
	}
	if s.NumElements() != int64(arr.Len()) {
		return nil, fmt.Errorf("arrow array of %d values does not fill tensor %v", arr.Len(), s)
	}

	if bools, ok := arr.(*array.Boolean); ok {
		raw := make([]byte, bools.Len())
		for i := range raw {
			if bools.Value(i) {
				raw[i] = 1
			}
		}
		return FromBytes(dc, s, dt, raw)
	}

	size := dt.Size()
	raw := []byte{}
	if arr.Len() > 0 {
		start := arr.Data().Offset() * size
		raw = arr.Data().Buffers()[1].Bytes()[start : start+arr.Len()*size]
	}
	return FromBytes(dc, s, dt, raw)
}

// ToRecord wraps ToArrow in a single-column record whose schema metadata
// carries the tensor's shape and dtype.
func (t *Tensor) ToRecord(mem memory.Allocator, column string) (arrow.RecordBatch, error) {
	return NewRecord(mem, []string{column}, []*Tensor{t})
}

// NewRecord lays tensors of one shape side by side as named columns. The
// schema metadata carries the shape and the first tensor's dtype.
func NewRecord(mem memory.Allocator, columns []string, ts []*Tensor) (arrow.RecordBatch, error) {
	if len(ts) == 0 || len(columns) != len(ts) {
		return nil, fmt.Errorf("need one column name per tensor, got %d names for %d tensors", len(columns), len(ts))
	}
	fields := make([]arrow.Field, len(ts))
	cols := make([]arrow.Array, 0, len(ts))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i, t := range ts {
		if !t.shape.Equal(ts[0].shape) {
			return nil, fmt.Errorf("column %q has shape %v, want %v", columns[i], t.shape, ts[0].shape)
		}
		arr, err := t.ToArrow(mem)
		if err != nil {
			return nil, err
		}
		cols = append(cols, arr)
		fields[i] = arrow.Field{Name: columns[i], Type: arr.DataType()}
	}

	md := arrow.NewMetadata(
		[]string{MetaShape, MetaDType},
		[]string{formatShape(ts[0].shape), ts[0].dtype.String()},
	)
	schema := arrow.NewSchema(fields, &md)
	return array.NewRecordBatch(schema, cols, int64(cols[0].Len())), nil
}

// FromRecord restores a tensor written by ToRecord. Records without shape
// metadata load as 1-D.
func FromRecord(dc *device.Context, rec arrow.RecordBatch) (*Tensor, error) {
	if rec.NumCols() != 1 {
		return nil, fmt.Errorf("expected a single-column record, got %d columns", rec.NumCols())
	}
	var s shape.Shape
	md := rec.Schema().Metadata()
	if i := md.FindKey(MetaShape); i >= 0 {
		parsed, err := parseShape(md.Values()[i])
		if err != nil {
			return nil, err
		}
		s = parsed
	}
	return FromArrow(dc, rec.Column(0), s)
}

func formatShape(s shape.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return strings.Join(parts, ",")
}

func parseShape(v string) (shape.Shape, error) {
	s := shape.Shape{}
	if v == "" {
		return s, nil
	}
	for _, part := range strings.Split(v, ",") {
		d, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shape metadata %q: %w", v, err)
		}
		s = append(s, d)
	}
	return s, s.Validate()
}
