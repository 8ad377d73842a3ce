package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/23skdu/longbow-quiver/internal/dtype"
)

// Ptr is an opaque device address. Zero is the null pointer.
type Ptr uint64

// Stream is an opaque handle to an ordered device work queue.
type Stream uint64

// Executor is the single-use plan a kernel returns from its size query and
// consumes on execution.
type Executor interface {
	Kernel() string
}

// TensorDesc describes a device tensor to a kernel. Offset and strides are
// in elements.
type TensorDesc struct {
	Shape   []int64
	Strides []int64
	DType   dtype.NativeCode
	Offset  int64
	Data    Ptr
}

// NumElements returns the product of the extents.
func (d *TensorDesc) NumElements() int64 {
	n := int64(1)
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// ScalarDesc is a host value encoded in its target device type.
type ScalarDesc struct {
	DType dtype.NativeCode
	Bits  []byte
}

// Args bundles the operands of one kernel call.
type Args struct {
	Inputs   []*TensorDesc
	Scalars  []*ScalarDesc
	Outputs  []*TensorDesc
	Axes     []int64
	KeepDims bool
}

// Kernel is a device routine reached through the two-phase convention:
// a size query that returns the workspace requirement plus an executor, then
// an execution against that workspace on a stream.
type Kernel interface {
	WorkspaceSize(args *Args) (uint64, Executor, Status)
	Execute(workspace Ptr, size uint64, exec Executor, stream Stream) Status
}

// Runtime is the accelerator driver surface a Context is built on.
type Runtime interface {
	Name() string
	SetDevice(id int) Status
	ResetDevice(id int) Status
	CreateStream() (Stream, Status)
	DestroyStream(s Stream) Status
	Malloc(size uint64) (Ptr, Status)
	Free(p Ptr) Status
	MemcpyHostToDevice(dst Ptr, offset uint64, src []byte) Status
	MemcpyDeviceToHost(dst []byte, src Ptr, offset uint64) Status
	Synchronize(s Stream) Status
	Kernel(name string) (Kernel, bool)
	// RecentErrMsg returns the diagnostic for the most recent failure, or "".
	RecentErrMsg() string
}

// Factory builds a Runtime for a Config.
type Factory func(cfg Config) (Runtime, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a runtime available to Open under name. It panics on a
// duplicate name.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("device: Register called twice for runtime " + name)
	}
	factories[name] = f
}

// Runtimes lists the registered runtime names.
func Runtimes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open builds the runtime named by cfg and opens a Context on it.
func Open(cfg Config) (*Context, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Runtime]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown device runtime %q (registered: %v)", cfg.Runtime, Runtimes())
	}
	rt, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s runtime: %w", cfg.Runtime, err)
	}
	return NewContext(rt, cfg)
}
