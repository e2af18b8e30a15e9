package device

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Handle is one granted device. It keeps only the most recent frame.
type Handle struct {
	typ           types.WidgetType
	width, height int
	now           func() time.Time

	mu      sync.Mutex
	frame   image.Image
	frameAt time.Time
	err     error

	done      chan struct{}
	endOnce   sync.Once
	onRelease func()
}

func newHandle(t types.WidgetType, width, height int, now func() time.Time) *Handle {
	return &Handle{typ: t, width: width, height: height, now: now, done: make(chan struct{})}
}

// Size returns the negotiated frame size.
func (h *Handle) Size() (int, int) { return h.width, h.height }

// Done is closed when the device ends or is released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the runtime failure that ended the device, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Release ends the handle.
func (h *Handle) Release() error {
	h.end(nil)
	if h.onRelease != nil {
		h.onRelease()
	}
	return nil
}

// Frame returns the latest frame, or nil before the first one arrives.
func (h *Handle) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame, nil
}

// FrameAt returns when the latest frame arrived.
func (h *Handle) FrameAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameAt
}

func (h *Handle) setFrame(img image.Image) {
	h.mu.Lock()
	h.frame = img
	h.frameAt = h.now()
	h.mu.Unlock()
}

func (h *Handle) end(err error) {
	h.endOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

var (
	_ widget.Handle      = (*Handle)(nil)
	_ widget.FrameSource = (*Handle)(nil)
)
