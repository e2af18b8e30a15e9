package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Window is the session's rolling list of recent analyses, persisted in
// the session scope so it survives a widget being closed and reopened.
type Window struct {
	kv   storage.KV
	path []string
	size int

	mu sync.Mutex
}

// NewWindow creates a window of at most size entries for sessionID.
func NewWindow(kv storage.KV, sessionID string, size int) *Window {
	return &Window{kv: kv, path: []string{"capture", sessionID, "context"}, size: size}
}

// Entries returns the window oldest first.
func (w *Window) Entries(ctx context.Context) ([]types.AnalysisContextEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load(ctx)
}

func (w *Window) load(ctx context.Context) ([]types.AnalysisContextEntry, error) {
	var entries []types.AnalysisContextEntry
	if err := w.kv.Get(ctx, w.path, &entries); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return entries, nil
}

// Push appends e and evicts the oldest entries beyond the window size.
func (w *Window) Push(ctx context.Context, e types.AnalysisContextEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.load(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	if over := len(entries) - w.size; over > 0 {
		entries = entries[over:]
	}
	return w.kv.Put(ctx, w.path, entries)
}

// Prompt builds the analysis instruction for t, including prior analyses
// for continuity.
func Prompt(t types.WidgetType, entries []types.AnalysisContextEntry) string {
	var b strings.Builder
	switch t {
	case types.WidgetWebcam:
		b.WriteString("Describe what the camera shows that is relevant to the business conversation.")
	default:
		b.WriteString("Analyze this screen capture. Identify the application, what the user is working on, and any business process that could be improved with automation or AI.")
	}
	if len(entries) > 0 {
		b.WriteString("\n\nPrevious observations, oldest first:")
		for i, e := range entries {
			fmt.Fprintf(&b, "\n%d. [%s/%s] %s", i+1, e.WidgetType, e.Trigger, e.Analysis)
		}
		b.WriteString("\n\nFocus on what changed since then.")
	}
	return b.String()
}
