package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zonepager.ai/internal/builder"
	"zonepager.ai/internal/config"
	"zonepager.ai/internal/observerproto"
	"zonepager.ai/internal/stream"
)

func startRuntime(t *testing.T) *stream.Runtime {
	t.Helper()
	cfg := config.Config{
		Seed: 3,
		Windows: []config.WindowSpec{
			{Name: "coarse", Kind: "bbox", CellSize: []float64{32, 32, 32}, Radius: 1},
		},
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	b := builder.New(1, nil)
	t.Cleanup(b.Close)
	root, kinds, err := stream.BuildHierarchy(cfg, b, nil, nil)
	if err != nil {
		t.Fatalf("BuildHierarchy: %v", err)
	}
	rt, err := stream.New(stream.Config{Root: root, Builder: b, StatsEvery: 10 * time.Millisecond, RunID: "r", Seed: cfg.Seed, Kinds: kinds})
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rt
}

func newTestServer(t *testing.T, rt *stream.Runtime) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewServer(rt, false, nil).Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"::1":            true,
		"10.0.0.8:5000":  false,
		"example:80":     false,
		"":               false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	sub := observerproto.SubscribeMsg{MaxSlots: 99}
	normalizeSubscribe(&sub)
	if sub.MaxSlots != 0 {
		t.Fatalf("max slots without include_slots: %d", sub.MaxSlots)
	}
	sub = observerproto.SubscribeMsg{IncludeSlots: true}
	normalizeSubscribe(&sub)
	if sub.MaxSlots != 256 {
		t.Fatalf("default max slots: %d", sub.MaxSlots)
	}
	sub = observerproto.SubscribeMsg{IncludeSlots: true, MaxSlots: 1 << 20}
	normalizeSubscribe(&sub)
	if sub.MaxSlots != 4096 {
		t.Fatalf("clamped max slots: %d", sub.MaxSlots)
	}
}

func TestBootstrapRejectsRemoteUnlessAllowed(t *testing.T) {
	rt := startRuntime(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	NewServer(rt, false, nil).BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewServer(rt, true, nil).BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	var boot observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(boot.Windows) != 1 || boot.Windows[0].Name != "coarse" || boot.Windows[0].MaxCount != 9 {
		t.Fatalf("windows=%+v", boot.Windows)
	}
}

func TestFocusHandlerMovesRuntime(t *testing.T) {
	rt := startRuntime(t)
	ts := newTestServer(t, rt)

	resp, err := http.Post(ts.URL+"/debug/v1/focus", "application/json", strings.NewReader(`{"x":40,"z":-40}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := rt.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if s.Focused && s.Windows[0].Center == [2]int{1, -2} {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("focus not applied: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err = http.Post(ts.URL+"/debug/v1/focus", "application/json", strings.NewReader(`nope`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad body status=%d", resp.StatusCode)
	}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/debug/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSStreamsStatsAfterSubscribe(t *testing.T) {
	rt := startRuntime(t)
	ts := newTestServer(t, rt)
	if err := rt.SetFocus(context.Background(), 0, 0); err != nil {
		t.Fatalf("SetFocus: %v", err)
	}

	conn := dial(t, ts)
	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, IncludeSlots: true, MaxSlots: 4}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg observerproto.StatsMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "STATS" || len(msg.Windows) != 1 {
		t.Fatalf("unexpected stats: %+v", msg)
	}
	if n := len(msg.Windows[0].Slots); n > 4 {
		t.Fatalf("slots=%d exceeds max 4", n)
	}
}

func TestWSRejectsWrongHandshake(t *testing.T) {
	rt := startRuntime(t)
	ts := newTestServer(t, rt)

	conn := dial(t, ts)
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
