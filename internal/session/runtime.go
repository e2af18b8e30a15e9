package session

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/consent"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/dedup"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/device"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/identity"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/research"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/transcript"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// ErrNotAnalyzable is returned for manual analysis of a widget without frames.
var ErrNotAnalyzable = errors.New("widget does not support frame analysis")

// frameWidgets produce frames and get a capture loop.
var frameWidgets = []types.WidgetType{types.WidgetWebcam, types.WidgetScreen}

// Runtime is one open session.
type Runtime struct {
	session types.Session
	scope   *storage.Storage
	bus     *event.Bus
	log     zerolog.Logger

	consent    *consent.Gate
	research   *research.Coordinator
	transcript *transcript.Transcript
	widgets    *widget.Set
	device     *device.Push
	loops      map[types.WidgetType]*capture.Loop
	artifacts  *artifact.Channel

	// done is canceled when the session ends.
	done    context.Context
	cancel  context.CancelFunc
	streams sync.WaitGroup
	endOnce sync.Once
}

func newRuntime(sess types.Session, cfg *types.Config, bus *event.Bus, collab Collaborators, kinds *artifact.Registry) *Runtime {
	id := sess.ID
	scope := storage.NewMemory()

	rt := &Runtime{
		session:    sess,
		scope:      scope,
		bus:        bus,
		log:        logging.ForSession(id, "session"),
		transcript: transcript.New(id, scope, bus),
		consent:    consent.NewGate(id, collab.Consent, bus),
		device:     device.NewPush(id, bus),
		loops:      make(map[types.WidgetType]*capture.Loop),
	}
	rt.done, rt.cancel = context.WithCancel(context.Background())

	rt.research = research.New(id, rt.consent, dedup.New(), rt.transcript, scope,
		research.Collaborators{
			Lead:     collab.Lead,
			Search:   collab.Search,
			URLs:     collab.URLs,
			Snapshot: collab.Snapshot,
		},
		research.Options{
			TriggerTTL:      cfg.Research.TriggerTTL.Std(),
			PlaceholderText: cfg.Research.PlaceholderText,
			DefaultName:     cfg.Research.DefaultName,
			MaxCitations:    cfg.Research.MaxCitations,
			LeadProvider:    cfg.Services.LeadProvider,
		})
	rt.consent.OnGranted(rt.research.OnConsentGranted)

	acquire := cfg.Capture.AcquireTimeout.Std()
	rt.widgets = widget.NewSet(id, rt.device, bus, map[types.WidgetType]widget.Options{
		types.WidgetVoice: {
			MaxDuration:    cfg.Voice.MaxDuration.Std(),
			AcquireTimeout: acquire,
			Fallback:       true,
		},
		types.WidgetWebcam: {AcquireTimeout: acquire},
		types.WidgetScreen: {AcquireTimeout: acquire},
	})

	if collab.Frames != nil {
		window := capture.NewWindow(scope, id, cfg.Capture.ContextWindow)
		frames := dedup.New()
		opts := capture.Options{
			BaseInterval:   cfg.Capture.BaseInterval.Std(),
			AutoMaxWidth:   cfg.Capture.AutoMaxWidth,
			ManualMaxWidth: cfg.Capture.ManualMaxWidth,
			ManualQuality:  cfg.Capture.ManualQuality,
		}
		for _, t := range frameWidgets {
			m, _ := rt.widgets.Get(t)
			loop := capture.NewLoop(id, t, m, collab.Frames, rt.transcript, window, frames, bus, opts)
			m.AddRunner(loop)
			rt.loops[t] = loop
		}
	}

	if collab.Artifacts != nil {
		rt.artifacts = artifact.NewChannel(kinds, collab.Artifacts)
	}
	return rt
}

// Session returns the durable session record.
func (r *Runtime) Session() types.Session { return r.session }

// Device returns the client-pushed device the widgets acquire from.
func (r *Runtime) Device() *device.Push { return r.device }

// Widgets returns the session's widget set.
func (r *Runtime) Widgets() *widget.Set { return r.widgets }

// Transcript returns the session's transcript owner.
func (r *Runtime) Transcript() *transcript.Transcript { return r.transcript }

// Consent returns the consent gate.
func (r *Runtime) Consent() *consent.Gate { return r.consent }

// Snapshot assembles the client read model.
func (r *Runtime) Snapshot(ctx context.Context) types.SessionSnapshot {
	return types.SessionSnapshot{
		Session:      r.session,
		Consent:      r.consent.Status(),
		Capabilities: r.research.Capabilities(ctx),
		Widgets:      r.widgets.Open(),
		Docked:       r.widgets.Docked(),
	}
}

// RefreshConsent polls the consent service.
func (r *Runtime) RefreshConsent(ctx context.Context) (types.ConsentStatus, error) {
	return r.consent.Refresh(ctx)
}

// SubmitConsent submits the consent form.
func (r *Runtime) SubmitConsent(ctx context.Context, in types.ConsentInput) (types.ConsentStatus, error) {
	return r.consent.Submit(ctx, in)
}

// HandleText records user text in the transcript and feeds it to the
// auto-research path.
func (r *Runtime) HandleText(ctx context.Context, in types.TextInput) (research.Trigger, error) {
	if in.Text != "" && (in.Source == "" || in.Source == "user") {
		if _, err := r.transcript.Append(ctx, types.Message{
			Role: types.RoleUser,
			Kind: types.KindText,
			Text: in.Text,
		}); err != nil {
			return research.Trigger{}, err
		}
	}
	return r.research.HandleText(ctx, in), nil
}

// Messages returns the transcript in insertion order.
func (r *Runtime) Messages(ctx context.Context) ([]types.Message, error) {
	return r.transcript.List(ctx)
}

func (r *Runtime) manager(t types.WidgetType) (*widget.Manager, error) {
	return r.widgets.Get(t)
}

// OpenWidget starts acquiring the device for t.
func (r *Runtime) OpenWidget(ctx context.Context, t types.WidgetType) (types.WidgetSnapshot, error) {
	m, err := r.manager(t)
	if err != nil {
		return types.WidgetSnapshot{}, err
	}
	return m.Open(ctx), nil
}

// CloseWidget closes t and releases its device.
func (r *Runtime) CloseWidget(t types.WidgetType) (types.WidgetSnapshot, error) {
	m, err := r.manager(t)
	if err != nil {
		return types.WidgetSnapshot{}, err
	}
	m.Close()
	return m.Snapshot(), nil
}

// MinimizeWidget docks an Active widget.
func (r *Runtime) MinimizeWidget(t types.WidgetType) (types.WidgetSnapshot, error) {
	m, err := r.manager(t)
	if err != nil {
		return types.WidgetSnapshot{}, err
	}
	return m.Minimize(), nil
}

// ExpandWidget restores a Minimized widget.
func (r *Runtime) ExpandWidget(t types.WidgetType) (types.WidgetSnapshot, error) {
	m, err := r.manager(t)
	if err != nil {
		return types.WidgetSnapshot{}, err
	}
	return m.Expand(), nil
}

// Analyze runs a manual analysis on t and returns the message id.
func (r *Runtime) Analyze(ctx context.Context, t types.WidgetType) (string, error) {
	if _, err := r.manager(t); err != nil {
		return "", err
	}
	loop, ok := r.loops[t]
	if !ok {
		return "", ErrNotAnalyzable
	}
	return loop.Analyze(ctx)
}

// Loop returns the capture loop for t, if any.
func (r *Runtime) Loop(t types.WidgetType) (*capture.Loop, bool) {
	loop, ok := r.loops[t]
	return loop, ok
}

// Artifact streams an artifact of kind. Every chunk is also published as an
// artifact.chunk event, and a completed artifact is appended to the
// transcript.
func (r *Runtime) Artifact(ctx context.Context, kind, input string) (string, *schema.StreamReader[types.ArtifactChunk], error) {
	if r.artifacts == nil {
		return "", nil, ErrUnavailable
	}
	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.done, cancel)
	src, err := r.artifacts.Stream(sctx, kind, input)
	if err != nil {
		stop()
		cancel()
		return "", nil, err
	}

	streamID := identity.NewID()
	sr, sw := schema.Pipe[types.ArtifactChunk](4)
	r.streams.Add(1)
	go func() {
		defer r.streams.Done()
		defer cancel()
		defer stop()
		defer sw.Close()
		defer src.Close()
		for {
			chunk, err := src.Recv()
			if err != nil {
				// The channel always ends with a complete or error chunk.
				return
			}
			r.bus.Publish(event.Event{
				Type:      event.ArtifactChunk,
				SessionID: r.session.ID,
				Data:      event.ArtifactChunkData{SessionID: r.session.ID, StreamID: streamID, Chunk: chunk},
			})
			if chunk.IsComplete {
				r.recordArtifact(chunk)
			}
			if sw.Send(chunk, nil) {
				return
			}
		}
	}()
	return streamID, sr, nil
}

func (r *Runtime) recordArtifact(chunk types.ArtifactChunk) {
	_, err := r.transcript.Append(context.Background(), types.Message{
		Role: types.RoleAssistant,
		Kind: types.KindArtifact,
		Metadata: map[string]any{
			"kind":          chunk.Kind,
			"schemaVersion": chunk.SchemaVersion,
			"object":        chunk.PartialObject,
		},
	})
	if err != nil && !errors.Is(err, transcript.ErrClosed) {
		r.log.Warn().Err(err).Str("kind", chunk.Kind).Msg("failed to record artifact")
	}
}

// end closes widgets, drains background work and drops the session scope.
func (r *Runtime) end() {
	r.endOnce.Do(func() {
		r.cancel()
		r.widgets.CloseAll()
		for _, t := range types.WidgetTypes {
			if m, err := r.widgets.Get(t); err == nil {
				m.Wait()
			}
		}
		for _, loop := range r.loops {
			loop.Wait()
		}
		r.consent.Wait()
		r.research.Wait()
		r.streams.Wait()
		r.transcript.Close()
		r.log.Debug().Msg("session scope dropped")
	})
}
