// Package capture runs the adaptive capture-and-analyze cycle of an
// active video widget.
package capture

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/dedup"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/identity"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/transcript"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	// ErrAnalysisInFlight rejects a manual analysis while another runs.
	ErrAnalysisInFlight = errors.New("an analysis is already in progress")
	// ErrWidgetNotActive rejects a manual analysis on a closed or minimized widget.
	ErrWidgetNotActive = errors.New("widget is not active")
	// ErrNoFrame is returned when the device has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrStale is returned by a manual analysis whose widget closed meanwhile.
	ErrStale = errors.New("widget closed before the analysis completed")
)

// Analyzer is the external frame analysis collaborator.
type Analyzer interface {
	AnalyzeFrame(ctx context.Context, req types.AnalysisRequest) (*types.FrameAnalysis, error)
}

// Liveness answers generation checks; *widget.Manager implements it.
type Liveness interface {
	IsActive(gen uint64) bool
	IsCurrent(gen uint64) bool
}

// Options tunes a Loop.
type Options struct {
	BaseInterval   time.Duration
	AutoMaxWidth   int
	ManualMaxWidth int
	ManualQuality  int
}

// Loop is a widget.Runner that periodically analyzes frames while its
// widget is Active and serves manual analyses. It holds one analysis slot:
// auto ticks that find the slot taken are skipped, manual requests are
// rejected.
type Loop struct {
	sessionID string
	typ       types.WidgetType
	live      Liveness
	analyzer  Analyzer
	writer    transcript.Writer
	window    *Window
	frames    *dedup.Deduplicator
	bus       *event.Bus
	opts      Options
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	act      *widget.Activation
	quality  Quality
	interval time.Duration
	inFlight bool
	slotGen  uint64
	stop     chan struct{}

	ticker   sync.WaitGroup
	analyses sync.WaitGroup
}

// NewLoop creates a loop for widget type t. frames deduplicates identical
// auto frames within a few intervals.
func NewLoop(sessionID string, t types.WidgetType, live Liveness, analyzer Analyzer, writer transcript.Writer, window *Window, frames *dedup.Deduplicator, bus *event.Bus, opts Options) *Loop {
	return &Loop{
		sessionID: sessionID,
		typ:       t,
		live:      live,
		analyzer:  analyzer,
		writer:    writer,
		window:    window,
		frames:    frames,
		bus:       bus,
		opts:      opts,
		log:       logging.ForSession(sessionID, "capture").With().Str("widget", string(t)).Logger(),
		now:       time.Now,
	}
}

// Start begins auto capture for a new activation.
func (l *Loop) Start(a widget.Activation) {
	width, _ := a.Handle.Size()
	q := EstimateQuality(width)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.act = &a
	l.inFlight = false
	l.quality = q
	l.interval = q.Interval(l.opts.BaseInterval)
	l.stop = make(chan struct{})

	l.log.Debug().
		Uint64("generation", a.Generation).
		Str("quality", q.Name).
		Dur("interval", l.interval).
		Msg("capture loop started")

	if l.interval <= 0 {
		return
	}
	l.ticker.Add(1)
	go l.run(a.Generation, l.interval, l.stop)
}

// Stop cancels the timer. In-flight analyses are not interrupted; the
// generation check discards their results.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
	l.act = nil
	l.mu.Unlock()

	l.ticker.Wait()
}

// Interval returns the auto interval of the current activation.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Quality returns the quality estimate of the current activation.
func (l *Loop) Quality() Quality {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quality
}

// InFlight reports whether the analysis slot is taken.
func (l *Loop) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Wait blocks until in-flight analyses have returned.
func (l *Loop) Wait() {
	l.analyses.Wait()
}

func (l *Loop) run(gen uint64, interval time.Duration, stop <-chan struct{}) {
	defer l.ticker.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.tick(gen)
		}
	}
}

// tick runs one auto capture unless the widget is minimized or the slot
// is taken. It never queues.
func (l *Loop) tick(gen uint64) {
	if !l.live.IsActive(gen) {
		return
	}
	act, q, ok := l.claim(gen)
	if !ok {
		l.log.Debug().Uint64("generation", gen).Msg("analysis in flight, skipping tick")
		return
	}

	req, err := l.capture(context.Background(), act, types.TriggerAuto, q)
	if err != nil {
		l.release(gen)
		if !errors.Is(err, ErrNoFrame) {
			l.log.Warn().Err(err).Msg("auto capture failed")
		}
		return
	}

	// The slot serializes auto analyses, so the frame is marked only once
	// its analysis has landed in the transcript.
	key := fmt.Sprintf("%s:%x", l.typ, digest(req.Image))
	if l.frames != nil && l.frames.Recent(key, 4*l.Interval()) {
		l.release(gen)
		l.log.Debug().Msg("frame unchanged, skipping analysis")
		return
	}

	l.analyses.Add(1)
	go func() {
		defer l.analyses.Done()
		defer l.release(gen)
		_, err := l.analyze(context.Background(), req, q)
		if err == nil {
			if l.frames != nil {
				l.frames.Mark(key)
			}
			return
		}
		if !errors.Is(err, ErrStale) {
			l.log.Warn().Err(err).Str("trigger", string(req.Trigger)).Msg("auto analysis failed")
		}
	}()
}

// Analyze runs a manual, high priority analysis of the current frame and
// returns the appended message id.
func (l *Loop) Analyze(ctx context.Context) (string, error) {
	l.mu.Lock()
	act := l.act
	l.mu.Unlock()
	if act == nil || !l.live.IsActive(act.Generation) {
		return "", ErrWidgetNotActive
	}

	gen := act.Generation
	claimed, q, ok := l.claim(gen)
	if !ok {
		return "", ErrAnalysisInFlight
	}
	defer l.release(gen)
	act = &claimed

	req, err := l.capture(ctx, *act, types.TriggerManual, q)
	if err != nil {
		return "", err
	}

	l.analyses.Add(1)
	defer l.analyses.Done()
	return l.analyze(ctx, req, q)
}

// claim takes the analysis slot for gen.
func (l *Loop) claim(gen uint64) (widget.Activation, Quality, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight || l.act == nil || l.act.Generation != gen {
		return widget.Activation{}, Quality{}, false
	}
	l.inFlight = true
	l.slotGen = gen
	return *l.act, l.quality, true
}

// release frees the slot taken for gen. A late analysis of an earlier
// activation does not free the slot of the current one.
func (l *Loop) release(gen uint64) {
	l.mu.Lock()
	if l.slotGen == gen {
		l.inFlight = false
	}
	l.mu.Unlock()
}

func (l *Loop) capture(ctx context.Context, act widget.Activation, trigger types.AnalysisTrigger, q Quality) (types.AnalysisRequest, error) {
	src, ok := act.Handle.(widget.FrameSource)
	if !ok {
		return types.AnalysisRequest{}, fmt.Errorf("%s device does not produce frames", l.typ)
	}
	img, err := src.Frame(ctx)
	if err != nil {
		return types.AnalysisRequest{}, err
	}
	if img == nil {
		return types.AnalysisRequest{}, ErrNoFrame
	}

	req := types.AnalysisRequest{
		ID:         identity.NewID(),
		WidgetType: l.typ,
		Trigger:    trigger,
		Priority:   types.PriorityNormal,
		CapturedAt: l.now().UnixMilli(),
		Generation: act.Generation,
		Quality:    q.Name,
		MediaType:  "image/jpeg",
	}

	maxWidth, smooth, jpegQuality := l.opts.AutoMaxWidth, false, q.JPEG
	if trigger == types.TriggerManual {
		maxWidth, smooth, jpegQuality = l.opts.ManualMaxWidth, true, l.opts.ManualQuality
		req.Priority = types.PriorityHigh
	}
	req.Image, err = Encode(img, maxWidth, smooth, jpegQuality)
	if err != nil {
		return types.AnalysisRequest{}, err
	}

	entries, err := l.window.Entries(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to read analysis context")
	}
	req.Prompt = Prompt(l.typ, entries)
	return req, nil
}

// analyze calls the collaborator and applies the result only if the
// request's generation is still live.
func (l *Loop) analyze(ctx context.Context, req types.AnalysisRequest, q Quality) (string, error) {
	res, err := l.analyzer.AnalyzeFrame(ctx, req)
	if err != nil {
		return "", fmt.Errorf("frame analysis failed: %w", err)
	}
	if res == nil || res.Analysis == "" {
		return "", fmt.Errorf("frame analysis returned no text")
	}

	if !l.live.IsCurrent(req.Generation) {
		l.log.Debug().
			Str("requestID", req.ID).
			Uint64("generation", req.Generation).
			Msg("discarding stale analysis")
		l.bus.Publish(event.Event{
			Type:      event.AnalysisStale,
			SessionID: l.sessionID,
			Data: event.AnalysisStaleData{
				SessionID:         l.sessionID,
				WidgetType:        l.typ,
				RequestID:         req.ID,
				RequestGeneration: req.Generation,
			},
		})
		return "", ErrStale
	}

	id, err := l.writer.Append(ctx, types.Message{
		Role: types.RoleAssistant,
		Kind: types.KindAnalysis,
		Text: res.Analysis,
		Metadata: map[string]any{
			"widget":        string(l.typ),
			"trigger":       string(req.Trigger),
			"priority":      string(req.Priority),
			"quality":       q.Name,
			"qualityFactor": q.Factor(),
			"capturedAt":    req.CapturedAt,
			"requestID":     req.ID,
		},
	})
	if err != nil {
		return "", err
	}

	if err := l.window.Push(ctx, types.AnalysisContextEntry{
		WidgetType: l.typ,
		Trigger:    req.Trigger,
		At:         req.CapturedAt,
		Analysis:   res.Analysis,
	}); err != nil {
		l.log.Warn().Err(err).Msg("failed to update analysis context")
	}
	return id, nil
}

func digest(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

var _ widget.Runner = (*Loop)(nil)
