package session_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/widget"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

type fakeConsent struct {
	mu     sync.Mutex
	record *types.ConsentRecord
	polls  atomic.Int32
}

func (f *fakeConsent) Status(ctx context.Context, sessionID string) (*types.ConsentRecord, error) {
	f.polls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record == nil {
		return nil, nil
	}
	r := *f.record
	return &r, nil
}

func (f *fakeConsent) Submit(ctx context.Context, sessionID string, in types.ConsentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = &types.ConsentRecord{SessionID: sessionID, Allowed: true, Email: in.Email, Name: in.Name, CompanyDomain: "acme.com"}
	return nil
}

type fakeResearch struct {
	lead     atomic.Int32
	searches atomic.Int32
}

func (f *fakeResearch) LeadResearch(ctx context.Context, req types.LeadResearchRequest) (*types.LeadResearchResult, error) {
	f.lead.Add(1)
	return &types.LeadResearchResult{
		Company:   &types.CompanyInfo{Name: "Acme", Domain: "acme.com"},
		Person:    &types.PersonInfo{FullName: req.Name, Role: "CTO"},
		Citations: []types.Citation{{URI: "https://acme.com"}},
	}, nil
}

func (f *fakeResearch) Search(ctx context.Context, query string) (*types.ResearchResult, error) {
	f.searches.Add(1)
	return &types.ResearchResult{Text: "three new rules", Citations: []types.Citation{{URI: "https://news.example"}}}, nil
}

type fakeFrames struct {
	calls atomic.Int32
}

func (f *fakeFrames) AnalyzeFrame(ctx context.Context, req types.AnalysisRequest) (*types.FrameAnalysis, error) {
	f.calls.Add(1)
	return &types.FrameAnalysis{Analysis: "a pricing slide"}, nil
}

type fakeGenerator struct {
	snapshots []map[string]any
	err       error
}

func (g *fakeGenerator) Generate(ctx context.Context, req artifact.Request) (*schema.StreamReader[map[string]any], error) {
	if g.err != nil {
		return nil, g.err
	}
	return schema.StreamReaderFromArray(g.snapshots), nil
}

func pngFrame(w, h int) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))).To(Succeed())
	return buf.Bytes()
}

func drain(sr *schema.StreamReader[types.ArtifactChunk]) []types.ArtifactChunk {
	defer sr.Close()
	var out []types.ArtifactChunk
	for {
		c, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		Expect(err).NotTo(HaveOccurred())
		out = append(out, c)
	}
}

func kinds(msgs []types.Message) []types.MessageKind {
	out := make([]types.MessageKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

var _ = Describe("Session orchestration", func() {
	var (
		ctx      context.Context
		bus      *event.Bus
		durable  *storage.Storage
		consent  *fakeConsent
		research *fakeResearch
		frames   *fakeFrames
		gen      *fakeGenerator
		svc      *session.Service
		rt       *session.Runtime
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = event.NewBus()
		durable = storage.New(GinkgoT().TempDir())
		consent = &fakeConsent{}
		research = &fakeResearch{}
		frames = &fakeFrames{}
		gen = &fakeGenerator{snapshots: []map[string]any{
			{"label": "MRR"},
			{"label": "MRR", "value": 120.0},
		}}

		cfg := &types.Config{
			Capture: &types.CaptureConfig{
				BaseInterval:   types.Duration(time.Hour),
				AcquireTimeout: types.Duration(2 * time.Second),
			},
			Voice: &types.VoiceConfig{MaxDuration: types.Duration(150 * time.Millisecond)},
		}
		svc = session.NewService(cfg, durable, bus, session.Collaborators{
			Consent:   consent,
			Lead:      research,
			Search:    research,
			Frames:    frames,
			Artifacts: gen,
		})

		var err error
		rt, _, err = svc.Open(ctx, "")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		svc.Close(ctx)
		Expect(bus.Close()).To(Succeed())
	})

	Describe("lifecycle", func() {
		It("creates a session on first visit and reuses the live runtime", func() {
			id := rt.Session().ID
			again, created, err := svc.Open(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again).To(BeIdenticalTo(rt))
			Expect(svc.Sessions()).To(ConsistOf(id))
		})

		It("keeps the durable identity after End but drops the runtime", func() {
			id := rt.Session().ID
			Expect(svc.End(ctx, id)).To(Succeed())

			_, err := svc.Get(id)
			Expect(err).To(MatchError(session.ErrNotOpen))
			Expect(svc.End(ctx, id)).To(MatchError(session.ErrNotOpen))

			sess, err := svc.Lookup(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.CreatedAt).To(Equal(rt.Session().CreatedAt))

			reopened, created, err := svc.Open(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(reopened).NotTo(BeIdenticalTo(rt))
		})

		It("starts with consent unknown and nothing open", func() {
			snap := rt.Snapshot(ctx)
			Expect(snap.Consent).To(Equal(types.ConsentUnknown))
			Expect(snap.Widgets).To(BeEmpty())
			Expect(snap.Capabilities).To(Equal(types.Capabilities{}))
		})
	})

	Describe("consent and research", func() {
		It("does not research before consent", func() {
			trig, err := rt.HandleText(ctx, types.TextInput{Text: "search latest AI regulation news"})
			Expect(err).NotTo(HaveOccurred())
			Expect(trig.Route).To(Equal(types.RouteSkipped))
			Expect(research.searches.Load()).To(BeZero())
		})

		It("runs lead research exactly once across repeated polls", func() {
			status, err := rt.SubmitConsent(ctx, types.ConsentInput{Name: "Jane", Email: "jane@acme.com", CompanyURL: "https://acme.com"})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(types.ConsentGranted))

			for i := 0; i < 5; i++ {
				_, err := rt.RefreshConsent(ctx)
				Expect(err).NotTo(HaveOccurred())
			}

			Eventually(func() []types.MessageKind {
				msgs, _ := rt.Messages(ctx)
				return kinds(msgs)
			}).Should(Equal([]types.MessageKind{types.KindInsight}))
			Consistently(research.lead.Load, 100*time.Millisecond).Should(Equal(int32(1)))
			Expect(rt.Snapshot(ctx).Capabilities).To(Equal(types.Capabilities{SourceCitation: true, WebPreview: true}))
		})

		It("picks up consent granted in an earlier visit", func() {
			Expect(consent.Submit(ctx, rt.Session().ID, types.ConsentInput{Email: "jane@acme.com"})).To(Succeed())
			Expect(svc.End(ctx, rt.Session().ID)).To(Succeed())

			reopened, _, err := svc.Open(ctx, rt.Session().ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reopened.Consent().Status()).To(Equal(types.ConsentGranted))
			Eventually(research.lead.Load).Should(Equal(int32(1)))
		})

		It("routes search intent once per TTL and keeps trigger order", func() {
			_, err := rt.SubmitConsent(ctx, types.ConsentInput{Name: "Jane", Email: "jane@acme.com"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []types.Message {
				msgs, _ := rt.Messages(ctx)
				return msgs
			}).Should(HaveLen(1))

			trig, err := rt.HandleText(ctx, types.TextInput{Text: "search latest AI regulation news"})
			Expect(err).NotTo(HaveOccurred())
			Expect(trig.Route).To(Equal(types.RouteSearch))

			trig, err = rt.HandleText(ctx, types.TextInput{Text: "  Search latest AI regulation news "})
			Expect(err).NotTo(HaveOccurred())
			Expect(trig.Route).To(Equal(types.RouteDuplicate))

			Eventually(func() types.MessageStatus {
				msgs, _ := rt.Messages(ctx)
				for _, m := range msgs {
					if m.Kind == types.KindResearch {
						return m.Status
					}
				}
				return ""
			}).Should(Equal(types.StatusComplete))
			Expect(research.searches.Load()).To(Equal(int32(1)))

			msgs, err := rt.Messages(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[1].Role).To(Equal(types.RoleUser))
			Expect(msgs[2].Kind).To(Equal(types.KindResearch))
			Expect(msgs[2].Text).To(Equal("three new rules"))
		})
	})

	Describe("widgets", func() {
		grant := func(t types.WidgetType, w, h int) {
			Eventually(func() bool { return rt.Device().Pending(t) }).Should(BeTrue())
			Expect(rt.Device().Grant(t, w, h)).To(Succeed())
			Eventually(func() types.WidgetState {
				m, _ := rt.Widgets().Get(t)
				return m.Snapshot().State
			}).Should(Equal(types.WidgetActive))
		}

		It("acquires once for a double open and adapts the interval to resolution", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			snap, err := rt.OpenWidget(ctx, types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Generation).To(Equal(uint64(1)))

			grant(types.WidgetScreen, 1280, 720)
			loop, ok := rt.Loop(types.WidgetScreen)
			Expect(ok).To(BeTrue())
			Expect(loop.Interval()).To(Equal(72 * time.Minute))
			Expect(rt.Snapshot(ctx).Widgets).To(HaveLen(1))
		})

		It("runs a manual analysis and appends an annotated message", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetWebcam)
			Expect(err).NotTo(HaveOccurred())
			grant(types.WidgetWebcam, 1920, 1080)

			_, err = rt.Analyze(ctx, types.WidgetWebcam)
			Expect(err).To(MatchError(capture.ErrNoFrame))

			Expect(rt.Device().Frame(types.WidgetWebcam, pngFrame(64, 48))).To(Succeed())
			id, err := rt.Analyze(ctx, types.WidgetWebcam)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := rt.Messages(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].ID).To(Equal(id))
			Expect(msgs[0].Kind).To(Equal(types.KindAnalysis))
			Expect(msgs[0].Text).To(Equal("a pricing slide"))
			Expect(msgs[0].Metadata).To(HaveKeyWithValue("trigger", "manual"))
		})

		It("rejects analysis on voice and unknown widget types", func() {
			_, err := rt.Analyze(ctx, types.WidgetVoice)
			Expect(err).To(MatchError(session.ErrNotAnalyzable))
			_, err = rt.OpenWidget(ctx, types.WidgetType("hologram"))
			Expect(err).To(MatchError(widget.ErrUnknownType))
		})

		It("docks a minimized widget and closes it without bumping the generation", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			grant(types.WidgetScreen, 1920, 1080)

			_, err = rt.MinimizeWidget(types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			Expect(rt.Snapshot(ctx).Docked).To(HaveLen(1))

			_, err = rt.ExpandWidget(types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			Expect(rt.Snapshot(ctx).Docked).To(BeEmpty())

			snap, err := rt.CloseWidget(types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(types.WidgetClosed))
			Expect(snap.Generation).To(Equal(uint64(1)))
			Expect(rt.Snapshot(ctx).Widgets).To(BeEmpty())
		})

		It("routes a client-side stop through close", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			grant(types.WidgetScreen, 1920, 1080)

			Expect(rt.Device().End(types.WidgetScreen, "", "")).To(Succeed())
			Eventually(func() []types.WidgetSnapshot { return rt.Snapshot(ctx).Widgets }).Should(BeEmpty())
		})

		It("surfaces a denied permission and ends Closed", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetWebcam)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() bool { return rt.Device().Pending(types.WidgetWebcam) }).Should(BeTrue())
			Expect(rt.Device().Deny(types.WidgetWebcam, widget.ReasonPermissionDenied, "")).To(Succeed())

			Eventually(func() types.WidgetSnapshot {
				m, _ := rt.Widgets().Get(types.WidgetWebcam)
				return m.Snapshot()
			}).Should(And(
				HaveField("State", types.WidgetClosed),
				HaveField("Reason", string(widget.ReasonPermissionDenied)),
			))
		})

		It("stops voice at its ceiling", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetVoice)
			Expect(err).NotTo(HaveOccurred())
			grant(types.WidgetVoice, 0, 0)

			Eventually(func() types.WidgetState {
				m, _ := rt.Widgets().Get(types.WidgetVoice)
				return m.Snapshot().State
			}).Should(Equal(types.WidgetClosed))
		})

		It("releases every widget when the session ends", func() {
			_, err := rt.OpenWidget(ctx, types.WidgetScreen)
			Expect(err).NotTo(HaveOccurred())
			grant(types.WidgetScreen, 1920, 1080)

			Expect(svc.End(ctx, rt.Session().ID)).To(Succeed())
			m, _ := rt.Widgets().Get(types.WidgetScreen)
			Expect(m.Snapshot().State).To(Equal(types.WidgetClosed))
			Eventually(func() error {
				return rt.Device().Frame(types.WidgetScreen, pngFrame(4, 4))
			}).Should(HaveOccurred())
		})
	})

	Describe("artifacts", func() {
		It("streams validated chunks and records the finished artifact", func() {
			_, sr, err := rt.Artifact(ctx, "metric", "monthly revenue")
			Expect(err).NotTo(HaveOccurred())

			chunks := drain(sr)
			Expect(chunks).To(HaveLen(3))
			last := chunks[len(chunks)-1]
			Expect(last.IsComplete).To(BeTrue())
			Expect(last.Error).To(BeNil())

			Eventually(func() []types.MessageKind {
				msgs, _ := rt.Messages(ctx)
				return kinds(msgs)
			}).Should(Equal([]types.MessageKind{types.KindArtifact}))
		})

		It("rejects unknown kinds", func() {
			_, _, err := rt.Artifact(ctx, "pie-in-the-sky", "x")
			Expect(err).To(MatchError(artifact.ErrUnknownKind))
		})
	})
})
