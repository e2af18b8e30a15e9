package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

type fakeHandle struct {
	done     chan struct{}
	endOnce  sync.Once
	err      error
	released atomic.Int32
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Size() (int, int) { return 1920, 1080 }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error { return h.err }

func (h *fakeHandle) Release() error {
	h.released.Add(1)
	return nil
}

func (h *fakeHandle) end(err error) {
	h.err = err
	h.endOnce.Do(func() { close(h.done) })
}

// fakeDevice answers each Acquire from results, or blocks on gate if set.
type fakeDevice struct {
	mu      sync.Mutex
	calls   []Constraints
	results []error
	gate    chan struct{}
	handles []*fakeHandle
}

func (d *fakeDevice) Acquire(ctx context.Context, t types.WidgetType, c Constraints) (Handle, error) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	var err error
	if len(d.results) > 0 {
		err = d.results[0]
		d.results = d.results[1:]
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	h := newFakeHandle()
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDevice) acquisitions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDevice) handle(i int) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

type countingRunner struct {
	started atomic.Int32
	stopped atomic.Int32
	last    atomic.Uint64
}

func (r *countingRunner) Start(a Activation) {
	r.started.Add(1)
	r.last.Store(a.Generation)
}

func (r *countingRunner) Stop() { r.stopped.Add(1) }

func TestOpenTwiceAcquiresOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{gate: make(chan struct{})}
	m := NewManager("s1", types.WidgetScreen, dev, nil, Options{})

	first := m.Open(context.Background())
	second := m.Open(context.Background())
	assert.Equal(t, types.WidgetConnecting, first.State)
	assert.Equal(t, types.WidgetConnecting, second.State)
	assert.Equal(t, uint64(1), second.Generation)

	close(dev.gate)
	m.Wait()

	assert.Equal(t, 1, dev.acquisitions())
	assert.Equal(t, types.WidgetActive, m.Snapshot().State)

	m.Close()
}

func TestCloseReleasesHandleWithoutBumpingGeneration(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{}
	m := NewManager("s1", types.WidgetWebcam, dev, nil, Options{})
	runner := &countingRunner{}
	m.AddRunner(runner)

	m.Open(context.Background())
	m.Wait()
	require.Equal(t, types.WidgetActive, m.Snapshot().State)
	assert.True(t, m.IsActive(1))
	assert.Equal(t, int32(1), runner.started.Load())

	m.Close()
	snap := m.Snapshot()
	assert.Equal(t, types.WidgetClosed, snap.State)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, int32(1), dev.handle(0).released.Load())
	assert.Equal(t, int32(1), runner.stopped.Load())
	assert.False(t, m.IsCurrent(1))

	// idempotent
	m.Close()
	assert.Equal(t, int32(1), dev.handle(0).released.Load())

	m.Open(context.Background())
	m.Wait()
	assert.Equal(t, uint64(2), m.Generation())
	assert.Equal(t, uint64(2), runner.last.Load())
	m.Close()
}

func TestCloseDuringAcquisitionReleasesLateHandle(t *testing.T) {
	defer goleak.VerifyNone(t)

	// The fake ignores the cancelled context and hands out a handle anyway.
	dev := &lateDevice{release: make(chan struct{}), h: newFakeHandle()}
	m := NewManager("s1", types.WidgetScreen, dev, nil, Options{})

	m.Open(context.Background())
	m.Close()
	close(dev.release)
	m.Wait()

	assert.Equal(t, types.WidgetClosed, m.Snapshot().State)
	assert.Equal(t, int32(1), dev.h.released.Load())
}

type lateDevice struct {
	release chan struct{}
	h       *fakeHandle
}

func (d *lateDevice) Acquire(ctx context.Context, t types.WidgetType, c Constraints) (Handle, error) {
	<-d.release
	return d.h, nil
}

func TestMinimizeExpandIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager("s1", types.WidgetScreen, &fakeDevice{}, nil, Options{})

	// no-op while closed
	assert.Equal(t, types.WidgetClosed, m.Minimize().State)

	m.Open(context.Background())
	m.Wait()

	assert.Equal(t, types.WidgetMinimized, m.Minimize().State)
	assert.Equal(t, types.WidgetMinimized, m.Minimize().State)
	assert.False(t, m.IsActive(1))
	assert.True(t, m.IsCurrent(1))

	assert.Equal(t, types.WidgetActive, m.Expand().State)
	assert.Equal(t, types.WidgetActive, m.Expand().State)

	m.Close()
}

func TestDeviceEndedRoutesThroughClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{}
	m := NewManager("s1", types.WidgetScreen, dev, nil, Options{})
	runner := &countingRunner{}
	m.AddRunner(runner)

	m.Open(context.Background())
	m.Wait()

	dev.handle(0).end(nil)

	require.Eventually(t, func() bool {
		return m.Snapshot().State == types.WidgetClosed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), dev.handle(0).released.Load())
	assert.Equal(t, int32(1), runner.stopped.Load())
	assert.Empty(t, m.Snapshot().Error)
}

func TestRuntimeDeviceErrorSurfacesThenCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{}
	m := NewManager("s1", types.WidgetWebcam, dev, nil, Options{})
	m.Open(context.Background())
	m.Wait()

	dev.handle(0).end(errors.New("track ended"))

	require.Eventually(t, func() bool {
		return m.Snapshot().State == types.WidgetClosed
	}, time.Second, 5*time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, string(ReasonDeviceError), snap.Reason)
	assert.Equal(t, "The camera stopped unexpectedly.", snap.Error)
	assert.Equal(t, int32(1), dev.handle(0).released.Load())
}

func TestAcquireFailureCategorized(t *testing.T) {
	tests := []struct {
		reason Reason
		want   string
	}{
		{ReasonPermissionDenied, "Permission to use the screen share was denied."},
		{ReasonDeviceAbsent, "No screen share was found."},
		{ReasonDeviceBusy, "The screen share is already in use by another application."},
		{ReasonUnsupported, "This client does not support screen share capture."},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			dev := &fakeDevice{results: []error{&DeviceError{Reason: tt.reason}}}
			m := NewManager("s1", types.WidgetScreen, dev, nil, Options{})

			m.Open(context.Background())
			m.Wait()

			snap := m.Snapshot()
			assert.Equal(t, types.WidgetClosed, snap.State)
			assert.Equal(t, string(tt.reason), snap.Reason)
			assert.Equal(t, tt.want, snap.Error)
			assert.Equal(t, 1, dev.acquisitions())
		})
	}
}

func TestVoiceFallbackRetriesOnce(t *testing.T) {
	dev := &fakeDevice{results: []error{&DeviceError{Reason: ReasonDeviceBusy}}}
	m := NewManager("s1", types.WidgetVoice, dev, nil, Options{Fallback: true})

	m.Open(context.Background())
	m.Wait()

	assert.Equal(t, types.WidgetActive, m.Snapshot().State)
	require.Equal(t, 2, dev.acquisitions())
	assert.False(t, dev.calls[0].Fallback)
	assert.True(t, dev.calls[1].Fallback)
	m.Close()
}

func TestVoiceFallbackSkippedForPermission(t *testing.T) {
	dev := &fakeDevice{results: []error{&DeviceError{Reason: ReasonPermissionDenied}}}
	m := NewManager("s1", types.WidgetVoice, dev, nil, Options{Fallback: true})

	m.Open(context.Background())
	m.Wait()

	assert.Equal(t, 1, dev.acquisitions())
	assert.Equal(t, string(ReasonPermissionDenied), m.Snapshot().Reason)
}

func TestVoiceFallbackFailsOnlyOnce(t *testing.T) {
	dev := &fakeDevice{results: []error{
		&DeviceError{Reason: ReasonDeviceAbsent},
		&DeviceError{Reason: ReasonDeviceAbsent},
	}}
	m := NewManager("s1", types.WidgetVoice, dev, nil, Options{Fallback: true})

	m.Open(context.Background())
	m.Wait()

	assert.Equal(t, 2, dev.acquisitions())
	assert.Equal(t, types.WidgetClosed, m.Snapshot().State)
}

func TestAcquireTimeoutIsDeviceAbsent(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{gate: make(chan struct{})}
	m := NewManager("s1", types.WidgetWebcam, dev, nil, Options{AcquireTimeout: 20 * time.Millisecond})

	m.Open(context.Background())
	m.Wait()

	snap := m.Snapshot()
	assert.Equal(t, types.WidgetClosed, snap.State)
	assert.Equal(t, string(ReasonDeviceAbsent), snap.Reason)
}

func TestMaxDurationClosesVoice(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{}
	m := NewManager("s1", types.WidgetVoice, dev, nil, Options{MaxDuration: 30 * time.Millisecond})

	m.Open(context.Background())
	m.Wait()
	require.Equal(t, types.WidgetActive, m.Snapshot().State)

	require.Eventually(t, func() bool {
		return m.Snapshot().State == types.WidgetClosed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), dev.handle(0).released.Load())
}

func TestStaleCeilingDoesNotCloseNextActivation(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev := &fakeDevice{}
	m := NewManager("s1", types.WidgetVoice, dev, nil, Options{MaxDuration: 50 * time.Millisecond})

	m.Open(context.Background())
	m.Wait()
	m.Close()

	m.Open(context.Background())
	m.Wait()
	assert.Equal(t, uint64(2), m.Generation())
	assert.True(t, m.IsActive(2))
	m.Close()
}
