package device

import (
	"fmt"
	"sync/atomic"
)

// Buffer is an exclusively owned region of device memory.
type Buffer struct {
	ctx   *Context
	ptr   Ptr
	size  uint64
	freed atomic.Bool
}

// Ptr returns the device address, or 0 for a nil or freed Buffer.
func (b *Buffer) Ptr() Ptr {
	if b == nil || b.freed.Load() {
		return 0
	}
	return b.ptr
}

// Size returns the reserved byte count.
func (b *Buffer) Size() uint64 {
	if b == nil {
		return 0
	}
	return b.size
}

// Freed reports whether Free has run.
func (b *Buffer) Freed() bool {
	return b == nil || b.freed.Load()
}

// Free returns the memory to the device. It is safe to call more than once
// and on a nil Buffer.
func (b *Buffer) Free() error {
	if b == nil || b.freed.Swap(true) {
		return nil
	}
	b.ctx.released(b.size)
	if b.ctx.closed.Load() {
		return nil
	}
	return b.ctx.check("Free", StageFree, b.ctx.rt.Free(b.ptr))
}

// Write copies src into the buffer starting at byte offset.
func (b *Buffer) Write(offset uint64, src []byte) error {
	if err := b.bounds("Write", offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	return b.ctx.check("MemcpyHostToDevice", StageMemcpy, b.ctx.rt.MemcpyHostToDevice(b.ptr, offset, src))
}

// Read copies len(dst) bytes starting at byte offset into dst.
func (b *Buffer) Read(dst []byte, offset uint64) error {
	if err := b.bounds("Read", offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	return b.ctx.check("MemcpyDeviceToHost", StageMemcpy, b.ctx.rt.MemcpyDeviceToHost(dst, b.ptr, offset))
}

func (b *Buffer) bounds(op string, offset uint64, n int) error {
	if b.Freed() {
		return &Error{Op: op, Stage: StageMemcpy, Status: StatusInvalidPtr, Message: "buffer has been freed"}
	}
	if offset+uint64(n) > b.size {
		return &Error{Op: op, Stage: StageMemcpy, Status: StatusInvalidParam,
			Message: fmt.Sprintf("range [%d, %d) exceeds buffer of %d bytes", offset, offset+uint64(n), b.size)}
	}
	return nil
}
