package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq"`
	TS   string          `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, msg)
	}
	return env
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope([]byte(`{"id":"a1","latest":72.5}`), now, 42)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Type != "analysis" || env.Seq != 42 {
		t.Errorf("type=%q seq=%d", env.Type, env.Seq)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil || data["id"] != "a1" {
		t.Errorf("data = %s", env.Data)
	}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	h := NewHub(10)
	var (
		mu     sync.Mutex
		counts []int
	)
	h.OnClients = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	h.Broadcast([]byte(`{"id":"a1"}`))
	env := readEnvelope(t, conn)
	if env.Seq != 1 || string(env.Data) != `{"id":"a1"}` {
		t.Errorf("got %+v", env)
	}

	conn.Close()
	waitClients(t, h, 0)
	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("client count callbacks = %v", counts)
	}
}

func TestHub_ReplaysRecentOnConnect(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	for _, id := range []string{"a1", "a2", "a3"} {
		h.Broadcast([]byte(`{"id":"` + id + `"}`))
	}

	conn := dial(t, srv, "?since_seq=1")
	for _, want := range []int64{2, 3} {
		if env := readEnvelope(t, conn); env.Seq != want {
			t.Fatalf("replayed seq %d, want %d", env.Seq, want)
		}
	}
	if h.Seq() != 3 {
		t.Errorf("Seq = %d", h.Seq())
	}
}

func TestHub_RejectsBadSinceSeq(t *testing.T) {
	h := NewHub(10)
	rec := httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws?since_seq=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestHub_RunDrainsSource(t *testing.T) {
	h := NewHub(10)
	src := make(chan []byte, 2)
	src <- []byte(`{"id":"x"}`)
	src <- []byte(`{"id":"y"}`)
	close(src)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Run(ctx, src)

	if h.Seq() != 2 {
		t.Errorf("Seq = %d, want 2", h.Seq())
	}
}

func TestHub_RunDropsInvalidJSON(t *testing.T) {
	h := NewHub(10)
	src := make(chan []byte, 3)
	src <- []byte(`{"id":"x"}`)
	src <- []byte(`not json at all`)
	src <- []byte(`{"id":"y"`)
	close(src)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Run(ctx, src)

	if h.Seq() != 1 {
		t.Fatalf("Seq = %d, want 1 (only the valid payload)", h.Seq())
	}
	entries := h.replay.Since(0)
	if len(entries) != 1 || !json.Valid(entries[0].Data) {
		t.Errorf("replay holds %d entries; envelope must stay valid JSON", len(entries))
	}
}
