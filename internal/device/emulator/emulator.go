// Package emulator is a host-memory implementation of the device runtime.
// Buffers live in Go memory, kernels queue on streams and only run when the
// stream is synchronized, and every stage of the protocol accepts injected
// faults.
package emulator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// RuntimeName is the name the emulator registers under.
const RuntimeName = "emulator"

// DeviceCount is the number of emulated accelerators.
const DeviceCount = 8

const ptrAlign = 0x1000

// MaxAllocation is the largest single buffer the emulator backs with host
// memory, whatever the configured limit.
const MaxAllocation uint64 = 1 << 34

// ensure interface compliance
var _ device.Runtime = (*Emulator)(nil)

func init() {
	device.Register(RuntimeName, func(cfg device.Config) (device.Runtime, error) {
		return New(cfg), nil
	})
}

type stream struct {
	pending []pendingRun
}

type pendingRun struct {
	kernel string
	run    func() device.Status
}

// Emulator implements device.Runtime in host memory.
type Emulator struct {
	mu         sync.Mutex
	device     int
	limit      int64
	used       int64
	nextPtr    device.Ptr
	mem        map[device.Ptr][]byte
	nextStream device.Stream
	streams    map[device.Stream]*stream
	kernels    map[string]device.Kernel
	faults     []*Fault
	lastErr    string
}

// New creates an unbound emulator with the built-in kernel library.
func New(cfg device.Config) *Emulator {
	e := &Emulator{
		device:  -1,
		limit:   cfg.MemoryLimit,
		nextPtr: ptrAlign,
		mem:     make(map[device.Ptr][]byte),
		streams: make(map[device.Stream]*stream),
		kernels: make(map[string]device.Kernel),
	}
	registerBuiltins(e)
	return e
}

// OpenContext builds an emulator for cfg and opens a device Context on it.
func OpenContext(cfg device.Config) (*device.Context, *Emulator, error) {
	cfg.Runtime = RuntimeName
	e := New(cfg)
	dc, err := device.NewContext(e, cfg)
	if err != nil {
		return nil, nil, err
	}
	return dc, e, nil
}

func (e *Emulator) Name() string { return RuntimeName }

func (e *Emulator) SetDevice(id int) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id < 0 || id >= DeviceCount {
		return e.failLocked(device.StatusInvalidParam, fmt.Sprintf("device id %d out of range [0, %d)", id, DeviceCount))
	}
	e.device = id
	return device.StatusSuccess
}

func (e *Emulator) ResetDevice(id int) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.device {
		return e.failLocked(device.StatusInvalidParam, fmt.Sprintf("device %d is not bound", id))
	}
	if len(e.mem) > 0 {
		log.Debug().Int("device", id).Int("buffers", len(e.mem)).Int64("bytes", e.used).Msg("Device reset reclaimed live buffers")
	}
	e.mem = make(map[device.Ptr][]byte)
	e.streams = make(map[device.Stream]*stream)
	e.used = 0
	e.device = -1
	return device.StatusSuccess
}

func (e *Emulator) CreateStream() (device.Stream, device.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device < 0 {
		return 0, e.failLocked(device.StatusRuntime, "no device bound")
	}
	e.nextStream++
	e.streams[e.nextStream] = &stream{}
	return e.nextStream, device.StatusSuccess
}

func (e *Emulator) DestroyStream(s device.Stream) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[s]; !ok {
		return e.failLocked(device.StatusInvalidParam, fmt.Sprintf("unknown stream %d", s))
	}
	delete(e.streams, s)
	return device.StatusSuccess
}

func (e *Emulator) Malloc(size uint64) (device.Ptr, device.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device < 0 {
		return 0, e.failLocked(device.StatusRuntime, "no device bound")
	}
	if st, hit := e.tripLocked(device.StageAllocate, ""); hit {
		return 0, st
	}
	if size == 0 {
		return 0, e.failLocked(device.StatusInvalidParam, "zero-size allocation")
	}
	if size > MaxAllocation {
		return 0, e.failLocked(device.StatusMemoryAllocation,
			fmt.Sprintf("requested %d bytes exceeds the %d byte allocation cap", size, MaxAllocation))
	}
	if e.limit > 0 && e.used+int64(size) > e.limit {
		return 0, e.failLocked(device.StatusMemoryAllocation,
			fmt.Sprintf("out of device memory: requested %d bytes, %d in use, limit %d", size, e.used, e.limit))
	}
	p := e.nextPtr
	e.nextPtr += device.Ptr((size + ptrAlign - 1) / ptrAlign * ptrAlign)
	e.mem[p] = make([]byte, size)
	e.used += int64(size)
	return p, device.StatusSuccess
}

func (e *Emulator) Free(p device.Ptr) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.mem[p]
	if !ok {
		return e.failLocked(device.StatusInvalidPtr, fmt.Sprintf("free of unknown pointer %#x", uint64(p)))
	}
	delete(e.mem, p)
	e.used -= int64(len(b))
	return device.StatusSuccess
}

func (e *Emulator) MemcpyHostToDevice(dst device.Ptr, offset uint64, src []byte) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, st := e.rangeLocked(dst, offset, len(src))
	if !st.OK() {
		return st
	}
	copy(b, src)
	return device.StatusSuccess
}

func (e *Emulator) MemcpyDeviceToHost(dst []byte, src device.Ptr, offset uint64) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, st := e.rangeLocked(src, offset, len(dst))
	if !st.OK() {
		return st
	}
	copy(dst, b)
	return device.StatusSuccess
}

// Synchronize runs every kernel queued on s in issue order. The first
// failing kernel stops the drain and discards the rest of the queue.
func (e *Emulator) Synchronize(s device.Stream) device.Status {
	e.mu.Lock()
	q, ok := e.streams[s]
	if !ok {
		st := e.failLocked(device.StatusInvalidParam, fmt.Sprintf("unknown stream %d", s))
		e.mu.Unlock()
		return st
	}
	pending := q.pending
	q.pending = nil
	if st, hit := e.tripLocked(device.StageSync, ""); hit {
		e.mu.Unlock()
		return st
	}
	e.mu.Unlock()

	for _, p := range pending {
		if st := p.run(); !st.OK() {
			e.mu.Lock()
			if e.lastErr == "" {
				e.lastErr = fmt.Sprintf("%s failed on stream %d", p.kernel, s)
			}
			e.mu.Unlock()
			return st
		}
	}
	return device.StatusSuccess
}

func (e *Emulator) Kernel(name string) (device.Kernel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.kernels[name]
	return k, ok
}

// RecentErrMsg returns and clears the last diagnostic.
func (e *Emulator) RecentErrMsg() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := e.lastErr
	e.lastErr = ""
	return msg
}

// RegisterKernel installs or replaces a kernel entry point.
func (e *Emulator) RegisterKernel(name string, k device.Kernel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kernels[name] = k
}

// Kernels lists the registered kernel names.
func (e *Emulator) Kernels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.kernels))
	for n := range e.kernels {
		out = append(out, n)
	}
	return out
}

// LiveBytes returns the bytes held by unfreed device buffers.
func (e *Emulator) LiveBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used
}

// LiveBuffers returns the number of unfreed device buffers.
func (e *Emulator) LiveBuffers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.mem)
}

// Pending returns the number of kernels queued on s.
func (e *Emulator) Pending(s device.Stream) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.streams[s]; ok {
		return len(q.pending)
	}
	return 0
}

func (e *Emulator) enqueue(s device.Stream, kernel string, run func() device.Status) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.streams[s]
	if !ok {
		return e.failLocked(device.StatusInvalidParam, fmt.Sprintf("%s: unknown stream %d", kernel, s))
	}
	q.pending = append(q.pending, pendingRun{kernel: kernel, run: run})
	return device.StatusSuccess
}

// memory returns the backing slice of a whole allocation.
func (e *Emulator) memory(p device.Ptr) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.mem[p]
	return b, ok
}

func (e *Emulator) rangeLocked(p device.Ptr, offset uint64, n int) ([]byte, device.Status) {
	b, ok := e.mem[p]
	if !ok {
		return nil, e.failLocked(device.StatusInvalidPtr, fmt.Sprintf("unknown device pointer %#x", uint64(p)))
	}
	end := offset + uint64(n)
	if end > uint64(len(b)) {
		return nil, e.failLocked(device.StatusInvalidParam,
			fmt.Sprintf("memcpy range [%d, %d) exceeds allocation of %d bytes", offset, end, len(b)))
	}
	return b[offset:end], device.StatusSuccess
}

func (e *Emulator) fail(st device.Status, msg string) device.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failLocked(st, msg)
}

func (e *Emulator) failLocked(st device.Status, msg string) device.Status {
	e.lastErr = msg
	return st
}
