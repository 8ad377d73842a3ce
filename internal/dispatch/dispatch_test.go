package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/device/emulator"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func setup(t *testing.T) (*Engine, *emulator.Emulator) {
	t.Helper()
	dc, emu, err := emulator.OpenContext(device.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dc.Close() })
	return New(dc), emu
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// rowMax builds a [2,3] float32 input and a [2] output for an Amax over the
// last axis, which needs a workspace.
func rowMax(t *testing.T, e *Engine) (in, out *tensor.Tensor) {
	t.Helper()
	in, err := tensor.FromFloat64(e.Context(), shape.Of(2, 3), dtype.Float32, []float64{1, 5, 2, -1, -7, -3})
	require.NoError(t, err)
	out, err = tensor.Allocate(e.Context(), shape.Of(2), dtype.Float32)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = in.Release()
		_ = out.Release()
	})
	return in, out
}

func TestEngine_Run(t *testing.T) {
	e, emu := setup(t)
	in, out := rowMax(t, e)
	before := counterValue(t, "quiver_kernel_invocations_total", map[string]string{"kernel": "Amax"})

	err := e.Run(context.Background(), Call{Kernel: "Amax", Inputs: []*tensor.Tensor{in}, Outputs: []*tensor.Tensor{out}, Axes: []int{1}})
	require.NoError(t, err)

	vals, err := out.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, -1}, vals)
	assert.Equal(t, int64(2), e.Context().Stats().LiveBuffers, "workspace is released")
	assert.Equal(t, 0, emu.Pending(e.Context().Stream()))
	assert.Equal(t, 1.0, counterValue(t, "quiver_kernel_invocations_total", map[string]string{"kernel": "Amax"})-before)
}

func TestEngine_FailureAtEachStage(t *testing.T) {
	tests := []struct {
		name     string
		fault    emulator.Fault
		sentinel error
		stage    device.Stage
	}{
		{"Query", emulator.Fault{Stage: device.StageQuery, Kernel: "Amax", Message: "bad descriptor"}, device.ErrKernelQuery, device.StageQuery},
		{"Allocate", emulator.Fault{Stage: device.StageAllocate, Message: "workspace exhausted"}, device.ErrAllocation, device.StageAllocate},
		{"Execute", emulator.Fault{Stage: device.StageExecute, Kernel: "Amax", Message: "aicore exception"}, device.ErrKernelExecution, device.StageExecute},
		{"Sync", emulator.Fault{Stage: device.StageSync, Message: "stream timeout"}, device.ErrDeviceSynchronization, device.StageSync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, emu := setup(t)
			in, out := rowMax(t, e)
			before := e.Context().Stats()
			failed := counterValue(t, "quiver_kernel_failures_total", map[string]string{"kernel": "Amax", "stage": tt.stage.String()})

			emu.Inject(tt.fault)
			err := e.Run(context.Background(), Call{Kernel: "Amax", Inputs: []*tensor.Tensor{in}, Outputs: []*tensor.Tensor{out}, Axes: []int{1}})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var de *device.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.stage, de.Stage)
			assert.Equal(t, tt.fault.Message, de.Message)
			assert.NotEqual(t, device.StatusSuccess, de.Status)

			after := e.Context().Stats()
			assert.Equal(t, before.AllocatedBytes, after.AllocatedBytes, "no net device memory growth")
			assert.Equal(t, before.LiveBuffers, after.LiveBuffers)
			assert.Equal(t, 0, emu.ArmedFaults())
			assert.Equal(t, 0, emu.Pending(e.Context().Stream()))
			assert.Equal(t, 1.0, counterValue(t, "quiver_kernel_failures_total", map[string]string{"kernel": "Amax", "stage": tt.stage.String()})-failed)

			// The context stays usable after a failed invocation.
			require.NoError(t, e.Run(context.Background(), Call{Kernel: "Amax", Inputs: []*tensor.Tensor{in}, Outputs: []*tensor.Tensor{out}, Axes: []int{1}}))
		})
	}
}

func TestEngine_RunValidation(t *testing.T) {
	e, _ := setup(t)
	other, _ := setup(t)

	x, err := tensor.FromFloat64(e.Context(), shape.Of(2), dtype.Float32, []float64{1, 2})
	require.NoError(t, err)
	defer x.Release()
	foreign, err := tensor.FromFloat64(other.Context(), shape.Of(2), dtype.Float32, []float64{1, 2})
	require.NoError(t, err)
	defer foreign.Release()
	gone, err := tensor.Allocate(e.Context(), shape.Of(2), dtype.Float32)
	require.NoError(t, err)
	require.NoError(t, gone.Release())

	before := counterValue(t, "quiver_kernel_invocations_total", map[string]string{"kernel": "Neg"})

	err = e.Run(context.Background(), Call{Kernel: "Neg", Inputs: []*tensor.Tensor{foreign}, Outputs: []*tensor.Tensor{x}})
	assert.ErrorContains(t, err, "Neg input 0: tensor lives on")

	err = e.Run(context.Background(), Call{Kernel: "Neg", Inputs: []*tensor.Tensor{x}, Outputs: []*tensor.Tensor{gone}})
	assert.ErrorIs(t, err, tensor.ErrReleased)

	s, err := tensor.NewScalar(2, dtype.Float32)
	require.NoError(t, err)
	require.NoError(t, s.Release())
	err = e.Run(context.Background(), Call{Kernel: "Muls", Inputs: []*tensor.Tensor{x}, Scalars: []*tensor.Scalar{s}, Outputs: []*tensor.Tensor{x}})
	assert.ErrorIs(t, err, tensor.ErrReleased)

	assert.Equal(t, before, counterValue(t, "quiver_kernel_invocations_total", map[string]string{"kernel": "Neg"}), "nothing is launched")

	err = e.Launch(context.Background(), "Teleport", &device.Args{})
	assert.ErrorIs(t, err, device.ErrKernelQuery)
}

func TestInvocation_StateMachine(t *testing.T) {
	e, emu := setup(t)
	in, out := rowMax(t, e)
	args := &device.Args{Inputs: []*device.TensorDesc{in.Desc()}, Outputs: []*device.TensorDesc{out.Desc()}, Axes: []int64{1}}

	inv := Begin(e.Context(), "Amax")
	assert.Equal(t, Idle, inv.State())
	assert.ErrorIs(t, inv.Execute(), ErrInvalidTransition)

	require.NoError(t, inv.Query(args))
	assert.Equal(t, SizeQueried, inv.State())
	assert.Equal(t, uint64(24), inv.WorkspaceSize())
	assert.ErrorIs(t, inv.Query(args), ErrInvalidTransition, "an invocation queries once")

	require.NoError(t, inv.Reserve())
	assert.Equal(t, WorkspaceReserved, inv.State())
	assert.Equal(t, int64(3), e.Context().Stats().LiveBuffers)

	require.NoError(t, inv.Execute())
	assert.Equal(t, Executed, inv.State())
	assert.Equal(t, 1, emu.Pending(e.Context().Stream()))

	require.NoError(t, inv.Synchronize())
	assert.Equal(t, Synchronized, inv.State())

	require.NoError(t, inv.Release())
	require.NoError(t, inv.Release())
	assert.Equal(t, Released, inv.State())
	assert.Equal(t, int64(2), e.Context().Stats().LiveBuffers)
	assert.ErrorIs(t, inv.Query(args), ErrInvalidTransition, "a released invocation is never reused")

	t.Run("ReleaseMidway", func(t *testing.T) {
		inv := Begin(e.Context(), "Amax")
		require.NoError(t, inv.Query(args))
		require.NoError(t, inv.Reserve())
		require.NoError(t, inv.Release())
		assert.Equal(t, int64(2), e.Context().Stats().LiveBuffers)
		assert.ErrorIs(t, inv.Execute(), ErrInvalidTransition)
	})
}

type mockExecutor struct{}

func (mockExecutor) Kernel() string { return "Custom" }

type mockKernel struct {
	mock.Mock
}

func (m *mockKernel) WorkspaceSize(args *device.Args) (uint64, device.Executor, device.Status) {
	a := m.Called(args)
	exec, _ := a.Get(1).(device.Executor)
	return a.Get(0).(uint64), exec, a.Get(2).(device.Status)
}

func (m *mockKernel) Execute(ws device.Ptr, size uint64, exec device.Executor, s device.Stream) device.Status {
	return m.Called(ws, size, exec, s).Get(0).(device.Status)
}

func TestEngine_Protocol(t *testing.T) {
	t.Run("ExactlyOnce", func(t *testing.T) {
		e, emu := setup(t)
		k := &mockKernel{}
		emu.RegisterKernel("Custom", k)

		args := &device.Args{}
		k.On("WorkspaceSize", args).Return(uint64(128), mockExecutor{}, device.StatusSuccess).Once()
		k.On("Execute", mock.MatchedBy(func(p device.Ptr) bool { return p != 0 }), uint64(128), mockExecutor{}, e.Context().Stream()).
			Return(device.StatusSuccess).Once()

		require.NoError(t, e.Launch(context.Background(), "Custom", args))
		k.AssertExpectations(t)
		assert.Equal(t, int64(0), e.Context().Stats().LiveBuffers)
	})

	t.Run("NoWorkspace", func(t *testing.T) {
		e, emu := setup(t)
		k := &mockKernel{}
		emu.RegisterKernel("Custom", k)

		k.On("WorkspaceSize", mock.Anything).Return(uint64(0), mockExecutor{}, device.StatusSuccess).Once()
		k.On("Execute", device.Ptr(0), uint64(0), mockExecutor{}, mock.Anything).Return(device.StatusSuccess).Once()

		require.NoError(t, e.Launch(context.Background(), "Custom", &device.Args{}))
		k.AssertExpectations(t)
		assert.Equal(t, int64(0), e.Context().Stats().PeakBytes, "no allocation for a zero-size workspace")
	})

	t.Run("ExecuteFailureReleasesWorkspace", func(t *testing.T) {
		e, emu := setup(t)
		k := &mockKernel{}
		emu.RegisterKernel("Custom", k)

		k.On("WorkspaceSize", mock.Anything).Return(uint64(64), mockExecutor{}, device.StatusSuccess).Once()
		k.On("Execute", mock.Anything, uint64(64), mockExecutor{}, mock.Anything).Return(device.StatusInner).Once()

		err := e.Launch(context.Background(), "Custom", &device.Args{})
		assert.ErrorIs(t, err, device.ErrKernelExecution)
		assert.Contains(t, err.Error(), "Custom execute error = 561000")
		assert.Equal(t, int64(0), e.Context().Stats().LiveBuffers)
		assert.Equal(t, int64(64), e.Context().Stats().PeakBytes)
	})

	t.Run("MissingExecutor", func(t *testing.T) {
		e, emu := setup(t)
		k := &mockKernel{}
		emu.RegisterKernel("Custom", k)
		k.On("WorkspaceSize", mock.Anything).Return(uint64(0), nil, device.StatusSuccess).Once()

		err := e.Launch(context.Background(), "Custom", &device.Args{})
		assert.ErrorIs(t, err, device.ErrKernelQuery)
		k.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

type recorder struct {
	name  string
	log   *[]string
	fails bool
}

func (r *recorder) Release() error {
	*r.log = append(*r.log, r.name)
	if r.fails {
		return errors.New(r.name + " failed")
	}
	return nil
}

func TestGuard(t *testing.T) {
	var order []string
	a := &recorder{name: "a", log: &order}
	b := &recorder{name: "b", log: &order, fails: true}
	c := &recorder{name: "c", log: &order}
	kept := &recorder{name: "kept", log: &order}

	var g Guard
	g.Track(a)
	g.Track(nil)
	g.Track(b)
	g.Track(kept)
	g.Track(c)
	g.Keep(kept)
	assert.Equal(t, 3, g.Len())

	err := g.Release()
	assert.EqualError(t, err, "b failed")
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Equal(t, 0, g.Len())
	assert.NoError(t, g.Release())
}

func TestEngine_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, emu := setup(t)
	in, out := rowMax(t, e)
	call := Call{Kernel: "Amax", Inputs: []*tensor.Tensor{in}, Outputs: []*tensor.Tensor{out}, Axes: []int{1}}
	require.NoError(t, e.Run(context.Background(), call))
	emu.Inject(emulator.Fault{Stage: device.StageExecute})
	require.Error(t, e.Run(context.Background(), call))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "Amax", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "Amax", attrs["kernel"])
	assert.Equal(t, int64(24), attrs["workspace_bytes"])
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.NotEmpty(t, spans[1].Events(), "error is recorded on the span")
}
