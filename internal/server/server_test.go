package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

type stubConsent struct {
	mu     sync.Mutex
	record *types.ConsentRecord
}

func (s *stubConsent) Status(ctx context.Context, sessionID string) (*types.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, nil
	}
	r := *s.record
	return &r, nil
}

func (s *stubConsent) Submit(ctx context.Context, sessionID string, in types.ConsentInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = &types.ConsentRecord{SessionID: sessionID, Allowed: true, Email: in.Email, Name: in.Name}
	return nil
}

type stubFrames struct{}

func (stubFrames) AnalyzeFrame(ctx context.Context, req types.AnalysisRequest) (*types.FrameAnalysis, error) {
	return &types.FrameAnalysis{Analysis: "a whiteboard sketch"}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req artifact.Request) (*schema.StreamReader[map[string]any], error) {
	return schema.StreamReaderFromArray([]map[string]any{
		{"label": "MRR"},
		{"label": "MRR", "value": 120.0},
	}), nil
}

type fixture struct {
	t   *testing.T
	srv *Server
	ts  *httptest.Server
	svc *session.Service
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	bus := event.NewBus()
	appCfg := &types.Config{
		Capture: &types.CaptureConfig{
			BaseInterval:   types.Duration(time.Hour),
			AcquireTimeout: types.Duration(5 * time.Second),
		},
	}
	svc := session.NewService(appCfg, storage.New(t.TempDir()), bus, session.Collaborators{
		Consent:   &stubConsent{},
		Frames:    stubFrames{},
		Artifacts: stubGenerator{},
	})
	srv := New(cfg, svc, bus)
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		ts.Close()
		svc.Close(context.Background())
		_ = srv.Shutdown(context.Background())
		_ = bus.Close()
	})
	return &fixture{t: t, srv: srv, ts: ts, svc: svc}
}

func (f *fixture) do(method, path string, body any) *http.Response {
	f.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, r)
	require.NoError(f.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// open creates a session and returns its id.
func (f *fixture) open() string {
	f.t.Helper()
	resp := f.do("POST", "/session", nil)
	require.Equal(f.t, http.StatusCreated, resp.StatusCode)
	snap := decode[types.SessionSnapshot](f.t, resp)
	require.NotEmpty(f.t, snap.Session.ID)
	return snap.Session.ID
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// activate opens the webcam widget and answers the device prompt.
func (f *fixture) activate(id string) {
	f.t.Helper()
	resp := f.do("POST", "/session/"+id+"/widget/webcam/open", nil)
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
	snap := decode[types.WidgetSnapshot](f.t, resp)
	assert.Equal(f.t, types.WidgetConnecting, snap.State)

	// The prompt opens asynchronously.
	require.Eventually(f.t, func() bool {
		return f.do("POST", "/session/"+id+"/widget/webcam/device/grant", DeviceGrantRequest{Width: 640, Height: 480}).StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(f.t, func() bool {
		w := decode[WidgetsResponse](f.t, f.do("GET", "/session/"+id+"/widget", nil))
		return len(w.Widgets) == 1 && w.Widgets[0].State == types.WidgetActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_CreateAndReopen(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	resp := f.do("POST", "/session", CreateSessionRequest{ID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get("X-Session-Id"))
	snap := decode[types.SessionSnapshot](t, resp)
	assert.Equal(t, id, snap.Session.ID)
	assert.Equal(t, types.ConsentUnknown, snap.Consent)

	resp = f.do("GET", "/session", nil)
	assert.Equal(t, []string{id}, decode[[]string](t, resp))
}

func TestSession_NotOpen(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do("GET", "/session/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, decode[ErrorResponse](t, resp).Error.Code)

	assert.Equal(t, http.StatusNotFound, f.do("POST", "/session/nope/end", nil).StatusCode)
}

func TestSession_End(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	require.Equal(t, http.StatusOK, f.do("POST", "/session/"+id+"/end", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/session/"+id, nil).StatusCode)

	// The identity survives the runtime.
	resp := f.do("POST", "/session", CreateSessionRequest{ID: id})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsent_SubmitAndPoll(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	resp := f.do("GET", "/session/"+id+"/consent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.ConsentUnknown, decode[ConsentResponse](t, resp).Status)

	resp = f.do("POST", "/session/"+id+"/consent", types.ConsentInput{Name: "Ada"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do("POST", "/session/"+id+"/consent", types.ConsentInput{Name: "Ada", Email: "ada@acme.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.ConsentGranted, decode[ConsentResponse](t, resp).Status)

	resp = f.do("GET", "/session/"+id+"/consent", nil)
	assert.Equal(t, types.ConsentGranted, decode[ConsentResponse](t, resp).Status)
}

func TestText(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	resp := f.do("POST", "/session/"+id+"/text", types.TextInput{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do("POST", "/session/"+id+"/text", types.TextInput{Text: "what's new in EU AI rules?"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, types.RouteSkipped, decode[struct {
		Route types.ResearchRoute `json:"route"`
	}](t, resp).Route)

	msgs := decode[[]types.Message](t, f.do("GET", "/session/"+id+"/message", nil))
	require.Len(t, msgs, 1)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
}

func TestWidget_UnknownType(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	resp := f.do("POST", "/session/"+id+"/widget/hologram/open", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidRequest, decode[ErrorResponse](t, resp).Error.Code)
}

func TestWidget_GrantFrameAnalyze(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	// No live device yet.
	resp := f.do("POST", "/session/"+id+"/widget/webcam/device/frame", pngBytes(t, 8, 8))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.activate(id)

	resp = f.do("POST", "/session/"+id+"/widget/webcam/device/frame", []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do("POST", "/session/"+id+"/widget/webcam/device/frame", pngBytes(t, 64, 48))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do("POST", "/session/"+id+"/widget/webcam/analyze", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgID := decode[AnalyzeResponse](t, resp).MessageID
	require.NotEmpty(t, msgID)

	msgs := decode[[]types.Message](t, f.do("GET", "/session/"+id+"/message", nil))
	require.Len(t, msgs, 1)
	assert.Equal(t, msgID, msgs[0].ID)
	assert.Equal(t, types.KindAnalysis, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "a whiteboard sketch")

	resp = f.do("POST", "/session/"+id+"/widget/webcam/minimize", nil)
	assert.Equal(t, types.WidgetMinimized, decode[types.WidgetSnapshot](t, resp).State)
	w := decode[WidgetsResponse](t, f.do("GET", "/session/"+id+"/widget", nil))
	assert.Len(t, w.Docked, 1)

	resp = f.do("POST", "/session/"+id+"/widget/webcam/close", nil)
	assert.Equal(t, types.WidgetClosed, decode[types.WidgetSnapshot](t, resp).State)
}

func TestWidget_Deny(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	// Nothing to answer yet.
	resp := f.do("POST", "/session/"+id+"/widget/screen/device/deny", DeviceFailureRequest{Reason: "permission-denied"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Equal(t, http.StatusOK, f.do("POST", "/session/"+id+"/widget/screen/open", nil).StatusCode)
	require.Eventually(t, func() bool {
		return f.do("POST", "/session/"+id+"/widget/screen/device/deny", DeviceFailureRequest{Reason: "permission-denied"}).StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rt, err := f.svc.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, _ := rt.Widgets().Get(types.WidgetScreen)
		snap := m.Snapshot()
		return snap.State == types.WidgetClosed && snap.Reason == "permission-denied"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWidget_FrameStream(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()
	f.activate(id)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/session/" + id + "/widget/webcam/device/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	var reply ErrorResponse
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, ErrCodeInvalidRequest, reply.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, 32, 32)))

	rt, err := f.svc.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := rt.Analyze(context.Background(), types.WidgetWebcam)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestArtifact_Stream(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()

	resp := f.do("POST", "/session/"+id+"/artifact/metric", ArtifactRequest{Input: "monthly revenue"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(StreamIDHeader))

	var chunks []types.ArtifactChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var c types.ArtifactChunk
			require.NoError(t, json.Unmarshal([]byte(data), &c))
			chunks = append(chunks, c)
		}
	}
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.IsComplete)
	assert.Nil(t, last.Error)
	assert.Equal(t, "MRR", last.PartialObject["label"])

	resp = f.do("POST", "/session/"+id+"/artifact/pie-in-the-sky", ArtifactRequest{Input: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents_FilteredBySession(t *testing.T) {
	f := newFixture(t, nil)
	id := f.open()
	other := f.open()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", f.ts.URL+"/event?session="+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitFor := func(substr string) string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", substr)
				if strings.Contains(line, substr) {
					return line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", substr)
			}
		}
	}

	waitFor("server.connected")
	require.Equal(t, http.StatusOK, f.do("POST", "/session/"+other+"/widget/webcam/open", nil).StatusCode)
	require.Equal(t, http.StatusOK, f.do("POST", "/session/"+id+"/widget/screen/open", nil).StatusCode)

	line := waitFor(`"widget.updated"`)
	assert.Contains(t, line, id)
	assert.NotContains(t, line, other)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = &types.RateLimitConfig{RPS: 1, Burst: 1}
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do("GET", "/health", nil).StatusCode)
	resp := f.do("GET", "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, ErrCodeRateLimited, decode[ErrorResponse](t, resp).Error.Code)
}

func TestConfigFrom(t *testing.T) {
	off := false
	cfg := ConfigFrom(&types.ServerConfig{Port: 9000, EnableCORS: &off, RateLimit: &types.RateLimitConfig{RPS: 0}})
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.EnableCORS)
	assert.Nil(t, cfg.RateLimit)

	assert.Equal(t, DefaultConfig(), ConfigFrom(nil))
}
