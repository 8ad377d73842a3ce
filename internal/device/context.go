package device

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Context is one accelerator session: a bound device, its stream, and the
// accounting of every buffer allocated through it. All tensors and kernel
// invocations are created against exactly one Context.
//
// The dispatch path takes no lock. Callers sharing a Context across
// goroutines serialize through Exclusive.
type Context struct {
	cfg    Config
	rt     Runtime
	stream Stream
	label  string
	lock   *semaphore.Weighted

	allocated atomic.Int64
	peak      atomic.Int64
	buffers   atomic.Int64
	closed    atomic.Bool

	allocCounter   prometheus.Counter
	failureCounter prometheus.Counter
	bytesGauge     prometheus.Gauge
	buffersGauge   prometheus.Gauge
}

// MemoryStats is a snapshot of the Context's device memory accounting.
type MemoryStats struct {
	AllocatedBytes int64
	PeakBytes      int64
	LiveBuffers    int64
}

// NewContext binds rt to cfg.DeviceID and creates the session stream.
func NewContext(rt Runtime, cfg Config) (*Context, error) {
	if st := rt.SetDevice(cfg.DeviceID); !st.OK() {
		return nil, Translate("SetDevice", StageSetup, st, rt.RecentErrMsg())
	}
	stream, st := rt.CreateStream()
	if !st.OK() {
		_ = rt.ResetDevice(cfg.DeviceID)
		return nil, Translate("CreateStream", StageSetup, st, rt.RecentErrMsg())
	}

	label := fmt.Sprintf("%s:%d", rt.Name(), cfg.DeviceID)
	c := &Context{
		cfg:            cfg,
		rt:             rt,
		stream:         stream,
		label:          label,
		lock:           semaphore.NewWeighted(1),
		allocCounter:   allocations.WithLabelValues(label),
		failureCounter: allocFailures.WithLabelValues(label),
		bytesGauge:     allocatedBytes.WithLabelValues(label),
		buffersGauge:   liveBuffers.WithLabelValues(label),
	}
	log.Info().Str("device", label).Int64("memory_limit", cfg.MemoryLimit).Msg("Device context opened")
	return c, nil
}

// Name returns the "<runtime>:<device id>" label used in logs and metrics.
func (c *Context) Name() string { return c.label }

// Runtime exposes the underlying driver.
func (c *Context) Runtime() Runtime { return c.rt }

// Stream returns the session stream every kernel is issued on.
func (c *Context) Stream() Stream { return c.stream }

// Config returns the configuration the Context was opened with.
func (c *Context) Config() Config { return c.cfg }

// Kernel resolves a kernel entry point by name.
func (c *Context) Kernel(name string) (Kernel, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	k, ok := c.rt.Kernel(name)
	if !ok {
		return nil, Translate(name, StageQuery, StatusParamInvalid, fmt.Sprintf("kernel %q is not available on %s", name, c.label))
	}
	return k, nil
}

// Alloc reserves size bytes of device memory. A zero size returns a nil
// Buffer and no error.
func (c *Context) Alloc(op string, size uint64) (*Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if size == 0 {
		return nil, nil
	}
	ptr, st := c.rt.Malloc(size)
	if !st.OK() {
		c.failureCounter.Inc()
		return nil, c.check(op, StageAllocate, st)
	}

	n := c.allocated.Add(int64(size))
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.buffers.Add(1)
	c.allocCounter.Inc()
	c.bytesGauge.Add(float64(size))
	c.buffersGauge.Inc()
	return &Buffer{ctx: c, ptr: ptr, size: size}, nil
}

// Synchronize blocks until all work issued on the session stream is done.
func (c *Context) Synchronize(op string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.check(op, StageSync, c.rt.Synchronize(c.stream))
}

// Exclusive runs fn while holding the Context's serialization lock. Waiting
// for the lock honors ctx; fn itself is never interrupted.
func (c *Context) Exclusive(ctx context.Context, fn func() error) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.lock.Release(1)
	return fn()
}

// Stats returns the current memory accounting.
func (c *Context) Stats() MemoryStats {
	return MemoryStats{
		AllocatedBytes: c.allocated.Load(),
		PeakBytes:      c.peak.Load(),
		LiveBuffers:    c.buffers.Load(),
	}
}

// Close drains the stream, destroys it and resets the device. Buffers still
// live at Close are reported and become unusable. Close is idempotent.
func (c *Context) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if n := c.buffers.Load(); n > 0 {
		log.Warn().Str("device", c.label).Int64("buffers", n).Int64("bytes", c.allocated.Load()).Msg("Closing device context with live buffers")
	}
	syncErr := c.check("Close", StageSync, c.rt.Synchronize(c.stream))
	if err := c.check("DestroyStream", StageSetup, c.rt.DestroyStream(c.stream)); err != nil && syncErr == nil {
		syncErr = err
	}
	if err := c.check("ResetDevice", StageSetup, c.rt.ResetDevice(c.cfg.DeviceID)); err != nil && syncErr == nil {
		syncErr = err
	}
	log.Info().Str("device", c.label).Msg("Device context closed")
	return syncErr
}

// check translates a non-success status, fetching the runtime diagnostic
// only when there is a failure to describe.
func (c *Context) check(op string, stage Stage, st Status) error {
	if st.OK() {
		return nil
	}
	return Translate(op, stage, st, c.rt.RecentErrMsg())
}

func (c *Context) released(size uint64) {
	c.allocated.Add(-int64(size))
	c.buffers.Add(-1)
	c.bytesGauge.Sub(float64(size))
	c.buffersGauge.Dec()
}
