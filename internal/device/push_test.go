package device

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type acquired struct {
	h   widget.Handle
	err error
}

func acquireAsync(p *Push, ctx context.Context, typ types.WidgetType, c widget.Constraints) <-chan acquired {
	ch := make(chan acquired, 1)
	go func() {
		h, err := p.Acquire(ctx, typ, c)
		ch <- acquired{h, err}
	}()
	return ch
}

func waitPending(t *testing.T, p *Push, typ types.WidgetType) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Pending(typ) }, time.Second, 5*time.Millisecond)
}

func TestPush_GrantDeliversHandle(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewPush("s1", nil)

	res := acquireAsync(p, context.Background(), types.WidgetScreen, widget.Constraints{})
	waitPending(t, p, types.WidgetScreen)
	require.NoError(t, p.Grant(types.WidgetScreen, 1920, 1080))

	got := <-res
	require.NoError(t, got.err)
	w, h := got.h.Size()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
	assert.False(t, p.Pending(types.WidgetScreen))
	require.NoError(t, got.h.Release())
}

func TestPush_DenyCarriesReason(t *testing.T) {
	p := NewPush("s1", nil)

	res := acquireAsync(p, context.Background(), types.WidgetWebcam, widget.Constraints{})
	waitPending(t, p, types.WidgetWebcam)
	require.NoError(t, p.Deny(types.WidgetWebcam, widget.ReasonPermissionDenied, "NotAllowedError"))

	got := <-res
	require.Error(t, got.err)
	assert.Equal(t, widget.ReasonPermissionDenied, widget.AsDeviceError(got.err).Reason)
}

func TestPush_AnswerWithoutPrompt(t *testing.T) {
	p := NewPush("s1", nil)
	assert.ErrorIs(t, p.Grant(types.WidgetVoice, 0, 0), ErrNoPendingRequest)
	assert.ErrorIs(t, p.Deny(types.WidgetVoice, "", ""), ErrNoPendingRequest)
	assert.ErrorIs(t, p.Frame(types.WidgetScreen, nil), ErrNotActive)
	assert.ErrorIs(t, p.End(types.WidgetScreen, "", ""), ErrNotActive)
}

func TestPush_TimeoutIsDeviceAbsent(t *testing.T) {
	p := NewPush("s1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx, types.WidgetVoice, widget.Constraints{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, widget.ReasonDeviceAbsent, widget.AsDeviceError(err).Reason)
	assert.False(t, p.Pending(types.WidgetVoice))
}

func TestPush_PublishesRequest(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	got := make(chan event.DeviceRequestData, 1)
	unsub := bus.Subscribe(event.DeviceRequested, func(e event.Event) {
		got <- e.Data.(event.DeviceRequestData)
	})
	defer unsub()

	p := NewPush("s1", bus)
	ctx, cancel := context.WithCancel(context.Background())
	res := acquireAsync(p, ctx, types.WidgetVoice, widget.Constraints{Fallback: true})

	select {
	case d := <-got:
		assert.Equal(t, types.WidgetVoice, d.WidgetType)
		assert.True(t, d.Fallback)
	case <-time.After(time.Second):
		t.Fatal("no device.requested event")
	}
	cancel()
	assert.ErrorIs(t, (<-res).err, context.Canceled)
}

func TestPush_KeepsLatestFrame(t *testing.T) {
	p := NewPush("s1", nil)
	res := acquireAsync(p, context.Background(), types.WidgetScreen, widget.Constraints{})
	waitPending(t, p, types.WidgetScreen)
	require.NoError(t, p.Grant(types.WidgetScreen, 640, 480))
	got := <-res
	require.NoError(t, got.err)

	src := got.h.(widget.FrameSource)
	img, err := src.Frame(context.Background())
	require.NoError(t, err)
	assert.Nil(t, img)

	require.NoError(t, p.Frame(types.WidgetScreen, pngFrame(t, 4, 4)))
	require.NoError(t, p.Frame(types.WidgetScreen, pngFrame(t, 8, 6)))
	assert.Error(t, p.Frame(types.WidgetScreen, []byte("not an image")))

	img, err = src.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	require.NoError(t, got.h.Release())
	assert.ErrorIs(t, p.Frame(types.WidgetScreen, pngFrame(t, 4, 4)), ErrNotActive)
}

func TestPush_EndClosesDone(t *testing.T) {
	p := NewPush("s1", nil)

	for _, tc := range []struct {
		name    string
		reason  widget.Reason
		wantErr bool
	}{
		{"stopped by user", "", false},
		{"track failed", widget.ReasonDeviceError, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := acquireAsync(p, context.Background(), types.WidgetWebcam, widget.Constraints{})
			waitPending(t, p, types.WidgetWebcam)
			require.NoError(t, p.Grant(types.WidgetWebcam, 640, 480))
			got := <-res
			require.NoError(t, got.err)

			require.NoError(t, p.End(types.WidgetWebcam, tc.reason, "track ended"))
			select {
			case <-got.h.Done():
			case <-time.After(time.Second):
				t.Fatal("Done not closed")
			}
			if tc.wantErr {
				assert.Equal(t, tc.reason, widget.AsDeviceError(got.h.Err()).Reason)
			} else {
				assert.NoError(t, got.h.Err())
			}
			require.NoError(t, got.h.Release())
		})
	}
}

func TestPush_DrivesWidgetManager(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewPush("s1", nil)
	m := widget.NewManager("s1", types.WidgetScreen, p, nil, widget.Options{AcquireTimeout: time.Second})

	m.Open(context.Background())
	waitPending(t, p, types.WidgetScreen)
	require.NoError(t, p.Grant(types.WidgetScreen, 1280, 720))
	require.Eventually(t, func() bool { return m.Snapshot().State == types.WidgetActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.End(types.WidgetScreen, "", ""))
	require.Eventually(t, func() bool { return m.Snapshot().State == types.WidgetClosed }, time.Second, 5*time.Millisecond)
	m.Wait()
	require.Eventually(t, func() bool {
		return p.Frame(types.WidgetScreen, nil) == ErrNotActive
	}, time.Second, 5*time.Millisecond)
}
