package review

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/shotdiff/baseline"
	"github.com/hazyhaar/shotdiff/dbopen"
	"github.com/hazyhaar/shotdiff/internal/store"
	"github.com/hazyhaar/shotdiff/shotdiff"
)

func pngBytes(t *testing.T, w, h, n int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 220, 220, 220, 255
	}
	for x := 0; x < n; x++ {
		img.SetNRGBA(x, 0, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type env struct {
	svc       *shotdiff.Service
	src       *baseline.Memory
	tutorials string
}

func newEnv(t *testing.T, withStore bool, mutate func(*shotdiff.Config)) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		src:       baseline.NewMemory(),
		tutorials: filepath.Join(root, "Tutorials"),
	}
	require.NoError(t, os.MkdirAll(e.tutorials, 0o755))
	cfg := &shotdiff.Config{
		ArtifactDir: filepath.Join(root, "artifacts"),
		Workers:     2,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(cfg)
	}
	opts := []shotdiff.Option{shotdiff.WithSource(e.src)}
	if withStore {
		st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
		opts = append(opts, shotdiff.WithStore(st))
	}
	svc, err := shotdiff.New(cfg, opts...)
	require.NoError(t, err)
	e.svc = svc
	return e
}

func (e *env) shot(t *testing.T, rel string, cur, old []byte) string {
	t.Helper()
	p := filepath.Join(e.tutorials, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, cur, 0o644))
	e.src.Set(p, old)
	return p
}

func (e *env) server(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(e.svc, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string, query url.Values) *http.Response {
	t.Helper()
	u := ts.URL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	resp, err := http.Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthzAndHeaders(t *testing.T) {
	ts := newEnv(t, false, nil).server(t)

	resp := get(t, ts, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req_"))

	head, err := http.Head(ts.URL + "/healthz")
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusOK, head.StatusCode)
}

func TestChanged(t *testing.T) {
	e := newEnv(t, false, nil)
	e.shot(t, "TutB/en/s-02.png", pngBytes(t, 4, 4, 1), pngBytes(t, 4, 4, 0))
	e.shot(t, "TutA/en/s-01.png", pngBytes(t, 4, 4, 1), pngBytes(t, 4, 4, 0))
	ts := e.server(t)

	resp := get(t, ts, "/api/changed", url.Values{"dir": {e.tutorials}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v changedView
	decode(t, resp, &v)
	assert.Equal(t, 2, v.Total)
	require.Len(t, v.Groups, 2)
	assert.Equal(t, "TutA", v.Groups[0].Name)
	assert.Equal(t, "s-01", v.Groups[0].Files[0].Label)

	assert.Equal(t, http.StatusBadRequest, get(t, ts, "/api/changed", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/api/changed", url.Values{"dir": {"/no/such/dir"}}).StatusCode)
}

func TestDiff_PNG(t *testing.T) {
	e := newEnv(t, false, nil)
	p := e.shot(t, "TutA/en/s-01.png", pngBytes(t, 8, 8, 3), pngBytes(t, 8, 8, 0))
	ts := e.server(t)

	resp := get(t, ts, "/api/diff", url.Values{"path": {p}, "mode": {"amplified"}, "radius": {"2"}, "color": {"00FF00"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Diff-Pixels"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 8), img.Bounds().Size())

	// Nothing is saved by the preview.
	_, err = os.Stat(filepath.Join(filepath.Dir(e.tutorials), "artifacts"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiff_OutcomeWithoutImage(t *testing.T) {
	e := newEnv(t, false, nil)
	same := pngBytes(t, 4, 4, 0)
	p := e.shot(t, "TutA/en/s-01.png", same, same)
	q := e.shot(t, "TutA/en/s-02.png", pngBytes(t, 6, 4, 0), same)
	ts := e.server(t)

	resp := get(t, ts, "/api/diff", url.Values{"path": {p}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v outcomeView
	decode(t, resp, &v)
	assert.Equal(t, "no_diff", v.Status)
	assert.Contains(t, v.Message, "No differences detected")

	resp = get(t, ts, "/api/diff", url.Values{"path": {q}})
	decode(t, resp, &v)
	assert.Equal(t, "size_changed", v.Status)
	assert.Equal(t, image.Pt(6, 4), v.SizeNew)
}

func TestDiff_Errors(t *testing.T) {
	e := newEnv(t, false, nil)
	p := e.shot(t, "TutA/en/s-01.png", pngBytes(t, 4, 4, 1), pngBytes(t, 4, 4, 0))
	ts := e.server(t)

	tests := []struct {
		query url.Values
		code  int
	}{
		{url.Values{}, http.StatusBadRequest},
		{url.Values{"path": {p}, "mode": {"sepia"}}, http.StatusBadRequest},
		{url.Values{"path": {p}, "mode": {"amplified"}, "radius": {"11"}}, http.StatusBadRequest},
		{url.Values{"path": {p}, "radius": {"x"}}, http.StatusBadRequest},
		{url.Values{"path": {p}, "color": {"nothex"}}, http.StatusBadRequest},
		{url.Values{"path": {p + ".gone"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := get(t, ts, "/api/diff", tt.query)
		assert.Equal(t, tt.code, resp.StatusCode, "query %v", tt.query)
		var body map[string]string
		decode(t, resp, &body)
		assert.NotEmpty(t, body["error"])
	}
}

func TestSheetAndBytes(t *testing.T) {
	e := newEnv(t, false, nil)
	p := e.shot(t, "TutA/en/s-01.png", pngBytes(t, 8, 8, 2), pngBytes(t, 8, 8, 0))
	same := pngBytes(t, 4, 4, 0)
	q := e.shot(t, "TutA/en/s-02.png", same, same)
	ts := e.server(t)

	resp := get(t, ts, "/api/sheet", url.Values{"path": {p}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err := png.Decode(resp.Body)
	require.NoError(t, err)

	resp = get(t, ts, "/api/bytes", url.Values{"path": {p}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "<h1>"+p+"</h1>")

	resp = get(t, ts, "/api/bytes", url.Values{"path": {q}})
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "No byte differences detected.")
}

func TestLocate(t *testing.T) {
	ts := newEnv(t, false, nil).server(t)
	resp := get(t, ts, "/api/locate", url.Values{"path": {"/r/Tutorials/TutA/ja/s-03.png"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loc shotdiff.Location
	decode(t, resp, &loc)
	assert.Equal(t, "TutA", loc.Name)
	assert.Equal(t, 3, loc.Number)

	assert.Equal(t, http.StatusBadRequest, get(t, ts, "/api/locate", url.Values{"path": {"/tmp/x.txt"}}).StatusCode)
}

func postJSON(t *testing.T, client *http.Client, u string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := client.Post(u, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestVerdicts(t *testing.T) {
	e := newEnv(t, true, nil)
	p := e.shot(t, "TutA/en/s-01.png", pngBytes(t, 4, 4, 1), pngBytes(t, 4, 4, 0))
	ts := e.server(t)

	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/verdicts", verdictRequest{
		Path:     p,
		Decision: "accept",
		Note:     `<p>Looks <b>right</b></p><script>alert(1)</script>`,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var v store.Verdict
	decode(t, resp, &v)
	assert.NotEmpty(t, v.ID)
	assert.NotContains(t, v.NoteHTML, "script")
	assert.Contains(t, v.NoteMarkdown, "**right**")

	resp = postJSON(t, http.DefaultClient, ts.URL+"/api/verdicts", verdictRequest{Path: p, Decision: "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts, "/api/verdicts", url.Values{"path": {p}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []store.Verdict
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "accept", list[0].Decision)
}

func TestVerdicts_BodyLimit(t *testing.T) {
	ts := newEnv(t, true, nil).server(t)
	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/verdicts", verdictRequest{
		Path:     "/x.png",
		Decision: "note",
		Note:     strings.Repeat("a", maxJSONBody),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestNoStore(t *testing.T) {
	ts := newEnv(t, false, nil).server(t)
	for _, path := range []string{"/api/verdicts", "/api/runs", "/api/runs/run_1", "/api/history?path=/x.png"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/verdicts", verdictRequest{Path: "/x.png", Decision: "note"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	e := newEnv(t, true, func(c *shotdiff.Config) {
		c.HTTP.AuthUser = "ana"
		c.HTTP.AuthHash = string(hash)
	})
	p := e.shot(t, "TutA/en/s-01.png", pngBytes(t, 4, 4, 1), pngBytes(t, 4, 4, 0))
	ts := e.server(t)

	assert.Equal(t, http.StatusOK, get(t, ts, "/healthz", nil).StatusCode)

	resp := get(t, ts, "/api/changed", url.Values{"dir": {e.tutorials}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/changed?dir="+url.QueryEscape(e.tutorials), nil)
	req.SetBasicAuth("ana", "wrong")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	body, _ := json.Marshal(verdictRequest{Path: p, Decision: "reject"})
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/verdicts", bytes.NewReader(body))
	req.SetBasicAuth("ana", "s3cret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close()
	require.Equal(t, http.StatusCreated, ok.StatusCode)
	var v store.Verdict
	decode(t, ok, &v)
	assert.Equal(t, "ana", v.Reviewer)
}

func wsURL(ts *httptest.Server, path string, q url.Values) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path + "?" + q.Encode()
}

func TestReportWebsocket(t *testing.T) {
	e := newEnv(t, true, nil)
	same := pngBytes(t, 8, 8, 0)
	e.shot(t, "TutA/en/s-01.png", pngBytes(t, 8, 8, 4), same)
	e.shot(t, "TutA/en/s-02.png", same, same)
	e.shot(t, "TutB/en/s-01.png", pngBytes(t, 8, 8, 1), same)
	ts := e.server(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/report", url.Values{"dir": {e.tutorials}, "min": {"2"}}), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var progress []progressMessage
	var done doneMessage
	for {
		var raw json.RawMessage
		require.NoError(t, wsjson.Read(ctx, conn, &raw))
		var head struct{ Type string }
		require.NoError(t, json.Unmarshal(raw, &head))
		if head.Type == "progress" {
			var p progressMessage
			require.NoError(t, json.Unmarshal(raw, &p))
			progress = append(progress, p)
			continue
		}
		require.Equal(t, "done", head.Type, string(raw))
		require.NoError(t, json.Unmarshal(raw, &done))
		break
	}

	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].Done)
	assert.Equal(t, 3, progress[2].Total)
	assert.Equal(t, 1, done.Processed)
	assert.Equal(t, 2, done.Skipped)
	assert.Contains(t, done.Markdown, "# Screenshot Diff Report")
	require.NotEmpty(t, done.RunID)

	resp := get(t, ts, "/api/runs", nil)
	var runs []store.Run
	decode(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, done.RunID, runs[0].ID)

	resp = get(t, ts, "/api/runs/"+done.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		Run     store.Run      `json:"run"`
		Results []store.Result `json:"results"`
	}
	decode(t, resp, &detail)
	assert.Len(t, detail.Results, 3)

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/api/runs/run_missing", nil).StatusCode)
}

func TestReportWebsocket_BadDir(t *testing.T) {
	ts := newEnv(t, false, nil).server(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/report", url.Values{"dir": {"/no/such/dir"}}), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	var msg errorMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Message, "not found")
}

func TestLive(t *testing.T) {
	e := newEnv(t, true, nil)
	e.shot(t, "TutA/en/s-01.png", pngBytes(t, 8, 8, 2), pngBytes(t, 8, 8, 0))
	live := NewLive(e.svc, e.tutorials)
	ts := e.server(t, WithLive(live))

	updates, unsubscribe := live.Subscribe()
	defer unsubscribe()
	assert.Nil(t, live.Last())

	require.NoError(t, live.Refresh(context.Background()))
	select {
	case u := <-updates:
		assert.Equal(t, 1, u.Processed)
		assert.Len(t, u.Artifacts, 1)
		assert.NotEmpty(t, u.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("no update published")
	}

	resp := get(t, ts, "/api/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Dir  string      `json:"dir"`
		Last *LiveUpdate `json:"last"`
	}
	decode(t, resp, &body)
	assert.Equal(t, e.tutorials, body.Dir)
	require.NotNil(t, body.Last)
	assert.Equal(t, 1, body.Last.Processed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/live", url.Values{}), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	var msg liveMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "update", msg.Type)
	require.NotNil(t, msg.LiveUpdate)
	assert.Equal(t, 1, msg.Processed)
}

func TestLive_Disabled(t *testing.T) {
	ts := newEnv(t, false, nil).server(t)
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/api/live", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/ws/live", nil).StatusCode)
}

func TestServe_Shutdown(t *testing.T) {
	e := newEnv(t, false, func(c *shotdiff.Config) { c.HTTP.Addr = "127.0.0.1:0" })
	srv := New(e.svc)

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
