package emulator

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

// planFunc validates the operands of one call and returns the workspace it
// needs plus the closure that computes the result.
type planFunc func(e *Emulator, args *device.Args) (workspace uint64, run func(ws []byte) device.Status, err error)

// ensure interface compliance
var _ device.Kernel = (*kernel)(nil)
var _ device.Executor = (*executor)(nil)

type kernel struct {
	name string
	emu  *Emulator
	plan planFunc
}

type executor struct {
	kernel    string
	workspace uint64
	run       func(ws []byte) device.Status
	used      bool
}

func (x *executor) Kernel() string { return x.kernel }

func (k *kernel) WorkspaceSize(args *device.Args) (uint64, device.Executor, device.Status) {
	if st, hit := k.emu.trip(device.StageQuery, k.name); hit {
		return 0, nil, st
	}
	if args == nil {
		return 0, nil, k.emu.fail(device.StatusParamNullptr, k.name+": nil arguments")
	}
	ws, run, err := k.plan(k.emu, args)
	if err != nil {
		return 0, nil, k.emu.fail(device.StatusParamInvalid, fmt.Sprintf("%s: %v", k.name, err))
	}
	return ws, &executor{kernel: k.name, workspace: ws, run: run}, device.StatusSuccess
}

func (k *kernel) Execute(ws device.Ptr, size uint64, exec device.Executor, s device.Stream) device.Status {
	if st, hit := k.emu.trip(device.StageExecute, k.name); hit {
		return st
	}
	x, ok := exec.(*executor)
	if !ok || x == nil || x.kernel != k.name {
		return k.emu.fail(device.StatusParamInvalid, k.name+": executor was not created by this kernel")
	}
	if x.used {
		return k.emu.fail(device.StatusExecutorReused, k.name+": executor already executed")
	}
	x.used = true

	var wsb []byte
	if x.workspace > 0 {
		if size < x.workspace {
			return k.emu.fail(device.StatusParamInvalid,
				fmt.Sprintf("%s: workspace of %d bytes is smaller than the %d required", k.name, size, x.workspace))
		}
		b, ok := k.emu.memory(ws)
		if !ok || uint64(len(b)) < x.workspace {
			return k.emu.fail(device.StatusParamNullptr, k.name+": workspace pointer is not a live allocation")
		}
		wsb = b[:x.workspace]
	}
	return k.emu.enqueue(s, k.name, func() device.Status { return x.run(wsb) })
}

// operand is a resolved tensor descriptor: its memory plus element layout.
type operand struct {
	dt      dtype.DataType
	data    []byte
	shape   shape.Shape
	strides []int64
	offset  int64
}

func (o operand) numel() int64 { return o.shape.NumElements() }

func (e *Emulator) resolve(d *device.TensorDesc) (operand, error) {
	if d == nil {
		return operand{}, fmt.Errorf("nil tensor descriptor")
	}
	dt, err := dtype.FromNative(d.DType)
	if err != nil {
		return operand{}, err
	}
	s := shape.Shape(d.Shape)
	if err := s.Validate(); err != nil {
		return operand{}, err
	}
	strides := d.Strides
	if strides == nil {
		strides = s.Strides()
	}
	if len(strides) != len(s) {
		return operand{}, fmt.Errorf("rank %d tensor has %d strides", len(s), len(strides))
	}
	o := operand{dt: dt, shape: s, strides: strides, offset: d.Offset}
	if s.NumElements() == 0 {
		return o, nil
	}

	b, ok := e.memory(d.Data)
	if !ok {
		return operand{}, fmt.Errorf("tensor data %#x is not a live allocation", uint64(d.Data))
	}
	last := d.Offset
	for i, ext := range s {
		if strides[i] < 0 {
			return operand{}, fmt.Errorf("negative stride %d on axis %d", strides[i], i)
		}
		last += (ext - 1) * strides[i]
	}
	if d.Offset < 0 || (last+1)*int64(dt.Size()) > int64(len(b)) {
		return operand{}, fmt.Errorf("tensor %v %s at offset %d overruns allocation of %d bytes", s, dt, d.Offset, len(b))
	}
	o.data = b
	return o, nil
}

func (e *Emulator) resolveAll(descs []*device.TensorDesc) ([]operand, error) {
	out := make([]operand, len(descs))
	for i, d := range descs {
		o, err := e.resolve(d)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out[i] = o
	}
	return out, nil
}

type scalar struct {
	dt dtype.DataType
	f  float64
	i  int64
}

func decodeScalars(descs []*device.ScalarDesc) ([]scalar, error) {
	out := make([]scalar, len(descs))
	for i, d := range descs {
		if d == nil {
			return nil, fmt.Errorf("scalar %d: nil descriptor", i)
		}
		dt, err := dtype.FromNative(d.DType)
		if err != nil {
			return nil, fmt.Errorf("scalar %d: %w", i, err)
		}
		if len(d.Bits) < dt.Size() {
			return nil, fmt.Errorf("scalar %d: %d bytes for %s", i, len(d.Bits), dt)
		}
		out[i] = scalar{dt: dt, f: dt.Float(d.Bits, 0)}
		if dt.IsIntegral() {
			out[i].i = dt.Int(d.Bits, 0)
		} else {
			out[i].i = int64(out[i].f)
		}
	}
	return out, nil
}

// broadcastable reports whether src can be read as dst.
func broadcastable(src, dst shape.Shape) bool {
	if len(src) > len(dst) {
		return false
	}
	off := len(dst) - len(src)
	for i, d := range src {
		if d != 1 && d != dst[i+off] {
			return false
		}
	}
	return true
}

// readStrides maps an operand's own strides onto a broadcast target shape.
func readStrides(o operand, dst shape.Shape) []int64 {
	out := make([]int64, len(dst))
	off := len(dst) - len(o.shape)
	for i := range dst {
		j := i - off
		if j < 0 || (o.shape[j] == 1 && dst[i] != 1) {
			continue
		}
		out[i] = o.strides[j]
	}
	return out
}

// walk visits every coordinate of s in row-major order, passing the element
// offset of each strided operand.
func walk(s shape.Shape, strides [][]int64, base []int64, fn func(offs []int64)) {
	n := s.NumElements()
	if n == 0 {
		return
	}
	offs := append([]int64(nil), base...)
	coords := make([]int64, len(s))
	for k := int64(0); k < n; k++ {
		fn(offs)
		for ax := len(s) - 1; ax >= 0; ax-- {
			coords[ax]++
			for j := range offs {
				offs[j] += strides[j][ax]
			}
			if coords[ax] < s[ax] {
				break
			}
			for j := range offs {
				offs[j] -= strides[j][ax] * s[ax]
			}
			coords[ax] = 0
		}
	}
}

func checkKind(role string, dt dtype.DataType, allowed dtype.Kind) error {
	if dt.Kind()&allowed == 0 {
		return fmt.Errorf("%s dtype %s is not supported", role, dt)
	}
	return nil
}
