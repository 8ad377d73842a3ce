package device_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/device/emulator"
)

func getMetricValue(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "device" && lp.GetValue() == label {
					return metricValue(m)
				}
			}
		}
	}
	return 0
}

func metricValue(m *dto.Metric) float64 {
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}

func TestContext_AllocAndFree(t *testing.T) {
	dc, emu, err := emulator.OpenContext(device.Config{DeviceID: 2})
	require.NoError(t, err)
	defer dc.Close()
	assert.Equal(t, "emulator:2", dc.Name())

	startAllocs := getMetricValue(t, "quiver_device_allocations_total", dc.Name())

	buf, err := dc.Alloc("test", 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), buf.Size())
	assert.NotZero(t, buf.Ptr())
	assert.Equal(t, device.MemoryStats{AllocatedBytes: 64, PeakBytes: 64, LiveBuffers: 1}, dc.Stats())
	assert.Equal(t, 1.0, getMetricValue(t, "quiver_device_allocations_total", dc.Name())-startAllocs)
	assert.Equal(t, 64.0, getMetricValue(t, "quiver_device_allocated_bytes", dc.Name()))

	require.NoError(t, buf.Write(8, []byte{1, 2, 3, 4}))
	out := make([]byte, 4)
	require.NoError(t, buf.Read(out, 8))
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	err = buf.Write(62, []byte{1, 2, 3})
	assert.ErrorIs(t, err, device.ErrMemcpy)

	require.NoError(t, buf.Free())
	require.NoError(t, buf.Free(), "free is idempotent")
	assert.True(t, buf.Freed())
	assert.Zero(t, buf.Ptr())
	assert.Equal(t, int64(0), dc.Stats().AllocatedBytes)
	assert.Equal(t, int64(64), dc.Stats().PeakBytes)
	assert.Equal(t, int64(0), emu.LiveBytes())
	assert.ErrorIs(t, buf.Read(out, 0), device.ErrMemcpy)

	zero, err := dc.Alloc("test", 0)
	require.NoError(t, err)
	assert.Nil(t, zero)
	assert.NoError(t, zero.Free())
}

func TestContext_AllocationError(t *testing.T) {
	dc, _, err := emulator.OpenContext(device.Config{MemoryLimit: 128})
	require.NoError(t, err)
	defer dc.Close()

	startFailures := getMetricValue(t, "quiver_device_alloc_failures_total", dc.Name())
	_, err = dc.Alloc("zeros", 256)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrAllocation)

	var de *device.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, device.StageAllocate, de.Stage)
	assert.Equal(t, device.StatusMemoryAllocation, de.Status)
	assert.Contains(t, de.Message, "limit 128")
	assert.Contains(t, err.Error(), "zeros allocate error = 207001")
	assert.Equal(t, 1.0, getMetricValue(t, "quiver_device_alloc_failures_total", dc.Name())-startFailures)
}

func TestContext_Close(t *testing.T) {
	dc, emu, err := emulator.OpenContext(device.DefaultConfig())
	require.NoError(t, err)

	buf, err := dc.Alloc("leak", 16)
	require.NoError(t, err)

	require.NoError(t, dc.Close())
	require.NoError(t, dc.Close(), "close is idempotent")
	assert.Equal(t, 0, emu.LiveBuffers(), "device reset reclaims memory")

	_, err = dc.Alloc("after", 8)
	assert.ErrorIs(t, err, device.ErrClosed)
	assert.ErrorIs(t, dc.Synchronize("after"), device.ErrClosed)
	_, err = dc.Kernel("Add")
	assert.ErrorIs(t, err, device.ErrClosed)
	assert.NoError(t, buf.Free())
	assert.Equal(t, int64(0), dc.Stats().LiveBuffers)
}

func TestContext_Kernel(t *testing.T) {
	dc, _, err := emulator.OpenContext(device.DefaultConfig())
	require.NoError(t, err)
	defer dc.Close()

	k, err := dc.Kernel("Add")
	require.NoError(t, err)
	assert.NotNil(t, k)

	_, err = dc.Kernel("Teleport")
	assert.ErrorIs(t, err, device.ErrKernelQuery)
}

func TestContext_Exclusive(t *testing.T) {
	dc, _, err := emulator.OpenContext(device.DefaultConfig())
	require.NoError(t, err)
	defer dc.Close()

	ran := false
	err = dc.Exclusive(context.Background(), func() error {
		ran = true
		// A second waiter gives up with its context instead of deadlocking.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return dc.Exclusive(ctx, func() error { return nil })
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ran)

	require.NoError(t, dc.Exclusive(context.Background(), func() error { return nil }), "lock is released after fn returns")
}

func TestOpen(t *testing.T) {
	assert.Contains(t, device.Runtimes(), emulator.RuntimeName)

	dc, err := device.Open(device.DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &emulator.Emulator{}, dc.Runtime())
	require.NoError(t, dc.Close())

	_, err = device.Open(device.Config{Runtime: "quantum"})
	assert.ErrorContains(t, err, `unknown device runtime "quantum"`)

	_, err = device.Open(device.Config{Runtime: emulator.RuntimeName, DeviceID: 99})
	var de *device.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, device.StageSetup, de.Stage)
	assert.ErrorIs(t, err, device.ErrRuntime)
}

type mockRuntime struct {
	mock.Mock
}

func (m *mockRuntime) Name() string { return "mock" }
func (m *mockRuntime) SetDevice(id int) device.Status {
	return m.Called(id).Get(0).(device.Status)
}
func (m *mockRuntime) ResetDevice(id int) device.Status {
	return m.Called(id).Get(0).(device.Status)
}
func (m *mockRuntime) CreateStream() (device.Stream, device.Status) {
	args := m.Called()
	return args.Get(0).(device.Stream), args.Get(1).(device.Status)
}
func (m *mockRuntime) DestroyStream(s device.Stream) device.Status {
	return m.Called(s).Get(0).(device.Status)
}
func (m *mockRuntime) Malloc(size uint64) (device.Ptr, device.Status) {
	args := m.Called(size)
	return args.Get(0).(device.Ptr), args.Get(1).(device.Status)
}
func (m *mockRuntime) Free(p device.Ptr) device.Status {
	return m.Called(p).Get(0).(device.Status)
}
func (m *mockRuntime) MemcpyHostToDevice(dst device.Ptr, offset uint64, src []byte) device.Status {
	return m.Called(dst, offset, src).Get(0).(device.Status)
}
func (m *mockRuntime) MemcpyDeviceToHost(dst []byte, src device.Ptr, offset uint64) device.Status {
	return m.Called(dst, src, offset).Get(0).(device.Status)
}
func (m *mockRuntime) Synchronize(s device.Stream) device.Status {
	return m.Called(s).Get(0).(device.Status)
}
func (m *mockRuntime) Kernel(name string) (device.Kernel, bool) { return nil, false }
func (m *mockRuntime) RecentErrMsg() string {
	return m.Called().String(0)
}

func TestNewContext_RuntimeFailures(t *testing.T) {
	t.Run("CreateStream", func(t *testing.T) {
		rt := &mockRuntime{}
		rt.On("SetDevice", 0).Return(device.StatusSuccess)
		rt.On("CreateStream").Return(device.Stream(0), device.StatusRuntime)
		rt.On("RecentErrMsg").Return("no streams left")
		rt.On("ResetDevice", 0).Return(device.StatusSuccess)

		_, err := device.NewContext(rt, device.Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CreateStream setup error = 361001")
		assert.Contains(t, err.Error(), "no streams left")
		rt.AssertExpectations(t)
	})

	t.Run("CloseReportsSyncFailure", func(t *testing.T) {
		rt := &mockRuntime{}
		rt.On("SetDevice", 0).Return(device.StatusSuccess)
		rt.On("CreateStream").Return(device.Stream(7), device.StatusSuccess)
		rt.On("Synchronize", device.Stream(7)).Return(device.StatusStreamSync)
		rt.On("RecentErrMsg").Return("aicore timeout")
		rt.On("DestroyStream", device.Stream(7)).Return(device.StatusSuccess)
		rt.On("ResetDevice", 0).Return(device.StatusSuccess)

		dc, err := device.NewContext(rt, device.Config{})
		require.NoError(t, err)
		err = dc.Close()
		assert.ErrorIs(t, err, device.ErrDeviceSynchronization)
		rt.AssertExpectations(t)
	})

	t.Run("FreeFailureIsReported", func(t *testing.T) {
		rt := &mockRuntime{}
		rt.On("SetDevice", 0).Return(device.StatusSuccess)
		rt.On("CreateStream").Return(device.Stream(1), device.StatusSuccess)
		rt.On("Malloc", uint64(32)).Return(device.Ptr(0x1000), device.StatusSuccess)
		rt.On("Free", device.Ptr(0x1000)).Return(device.StatusInvalidPtr)
		rt.On("RecentErrMsg").Return("double free")

		dc, err := device.NewContext(rt, device.Config{})
		require.NoError(t, err)
		buf, err := dc.Alloc("x", 32)
		require.NoError(t, err)
		err = buf.Free()
		var de *device.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, device.StageFree, de.Stage)
		assert.Equal(t, int64(0), dc.Stats().LiveBuffers, "accounting releases even when the driver complains")
	})
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, device.Translate("Add", device.StageExecute, device.StatusSuccess, "ignored"))

	err := device.Translate("Sin", device.StageExecute, device.StatusInner, "vector core trap")
	assert.EqualError(t, err, "Sin execute error = 561000 (inner error) - vector core trap")
	assert.ErrorIs(t, err, device.ErrKernelExecution)
	assert.NotErrorIs(t, err, device.ErrKernelQuery)

	stage, ok := device.StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, device.StageExecute, stage)

	bare := device.Translate("Cos", device.StageQuery, device.Status(42), "")
	assert.EqualError(t, bare, "Cos query error = 42 (status 42)")
	assert.ErrorIs(t, bare, device.ErrKernelQuery)

	assert.ErrorIs(t, device.Translate("x", device.StageSync, device.StatusStreamSync, ""), device.ErrDeviceSynchronization)
	assert.ErrorIs(t, device.Translate("x", device.StageAllocate, device.StatusBadAlloc, ""), device.ErrAllocation)

	_, ok = device.StageOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestConfig(t *testing.T) {
	t.Run("ParseBytes", func(t *testing.T) {
		cases := map[string]int64{
			"":      0,
			"0":     0,
			"1024":  1024,
			"64K":   64 * 1024,
			"512MB": 512 * 1024 * 1024,
			"4GB":   4 * 1024 * 1024 * 1024,
			"2gib":  2 * 1024 * 1024 * 1024,
		}
		for in, want := range cases {
			got, err := device.ParseBytes(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
		for _, bad := range []string{"lots", "12XB", "-5MB"} {
			_, err := device.ParseBytes(bad)
			assert.Error(t, err, bad)
		}
	})

	t.Run("FromEnv", func(t *testing.T) {
		t.Setenv("QUIVER_RUNTIME", "emulator")
		t.Setenv("QUIVER_DEVICE_ID", "3")
		t.Setenv("QUIVER_MEMORY_LIMIT", "1MB")
		cfg, err := device.ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, device.Config{Runtime: "emulator", DeviceID: 3, MemoryLimit: 1 << 20}, cfg)

		t.Setenv("QUIVER_DEVICE_ID", "first")
		_, err = device.ConfigFromEnv()
		assert.Error(t, err)
	})
}
