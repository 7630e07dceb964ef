package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wellness-at-work/blinkd/internal/blink"
	"github.com/wellness-at-work/blinkd/internal/ear"
	"github.com/wellness-at-work/blinkd/internal/pipeline"
	"github.com/wellness-at-work/blinkd/internal/session"
	"github.com/wellness-at-work/blinkd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	agg := session.NewAggregator(session.DefaultAggregatorConfig())
	src := pipeline.NewScriptedStream(nil, 33*time.Millisecond, time.Now())
	pipe := pipeline.New(src, src, blink.New(blink.DefaultConfig()), agg)

	srv := NewServer(agg, pipe, st, NewBroadcaster(func() SnapshotPayload {
		return SnapshotPayload{Timestamp: time.Now()}
	}, 100*time.Millisecond, time.Second))
	t.Cleanup(srv.broadcaster.Stop)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/session/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	var started SessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decoding start response: %v", err)
	}
	if started.Session == nil || started.Session.State != session.Running {
		t.Fatalf("start response session = %+v, want Running", started.Session)
	}

	if resp := post(t, ts.URL+"/api/session/start"); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	if resp := post(t, ts.URL+"/api/session/pause"); resp.StatusCode != http.StatusOK {
		t.Errorf("pause status = %d, want 200", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/session/resume"); resp.StatusCode != http.StatusOK {
		t.Errorf("resume status = %d, want 200", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/api/session/end")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want 200", resp.StatusCode)
	}
	var ended SessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&ended); err != nil {
		t.Fatalf("decoding end response: %v", err)
	}
	if ended.Session.State != session.Ended || ended.Session.EndTime == nil {
		t.Errorf("end response session = %+v, want Ended with end time", ended.Session)
	}
	if ended.Session.ID != started.Session.ID {
		t.Errorf("ended session ID = %s, want %s", ended.Session.ID, started.Session.ID)
	}

	if resp := post(t, ts.URL+"/api/session/end"); resp.StatusCode != http.StatusConflict {
		t.Errorf("second end status = %d, want 409", resp.StatusCode)
	}
}

func TestPauseWithoutSessionConflicts(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/api/session/pause", "/api/session/resume", "/api/session/end"} {
		if resp := post(t, ts.URL+path); resp.StatusCode != http.StatusConflict {
			t.Errorf("POST %s status = %d, want 409", path, resp.StatusCode)
		}
	}
}

func TestEndArchivesSession(t *testing.T) {
	srv, ts := newTestServer(t)

	post(t, ts.URL+"/api/session/start")
	post(t, ts.URL+"/api/session/end")

	archived, err := srv.archive.Sessions()
	if err != nil {
		t.Fatalf("Sessions error: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("archive holds %d sessions after end, want 1", len(archived))
	}
}

func TestExportShape(t *testing.T) {
	_, ts := newTestServer(t)

	post(t, ts.URL+"/api/session/start")
	post(t, ts.URL+"/api/session/end")

	resp := get(t, ts.URL+"/api/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}

	var export struct {
		Sessions []map[string]json.RawMessage `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&export); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(export.Sessions) != 1 {
		t.Fatalf("export holds %d sessions, want 1", len(export.Sessions))
	}
	for _, field := range []string{"id", "startTime", "endTime", "blinkCount", "blinkEvents"} {
		if _, ok := export.Sessions[0][field]; !ok {
			t.Errorf("export session missing field %q", field)
		}
	}
}

func TestDeleteAllEmptiesArchive(t *testing.T) {
	srv, ts := newTestServer(t)

	post(t, ts.URL+"/api/session/start")
	post(t, ts.URL+"/api/session/end")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	archived, err := srv.archive.Sessions()
	if err != nil {
		t.Fatalf("Sessions error: %v", err)
	}
	if len(archived) != 0 {
		t.Errorf("archive holds %d sessions after delete, want 0", len(archived))
	}
}

func TestHealthReportsState(t *testing.T) {
	_, ts := newTestServer(t)

	resp := get(t, ts.URL+"/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
		State  string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health.Status != "ok" || health.State != "idle" {
		t.Errorf("health = %+v, want ok/idle", health)
	}
}

func TestWebSocketReceivesSnapshotAndLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first WSMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial snapshot: %v", err)
	}
	if first.Type != MsgSnapshot {
		t.Fatalf("first message type = %q, want %q", first.Type, MsgSnapshot)
	}

	post(t, ts.URL+"/api/session/start")

	// The lifecycle broadcast may arrive after a periodic snapshot.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading message: %v", err)
		}
		if msg.Type == MsgSession {
			return
		}
	}
	t.Fatal("no session lifecycle message received")
}

func TestBroadcasterBatchesSamples(t *testing.T) {
	b := NewBroadcaster(func() SnapshotPayload {
		return SnapshotPayload{Timestamp: time.Now()}
	}, 50*time.Millisecond, time.Hour)
	defer b.Stop()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b.AddClient(conn)
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first WSMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}

	now := time.Now()
	b.QueueSample(ear.Sample{Timestamp: now, Combined: 0.30})
	b.QueueSample(ear.Sample{Timestamp: now.Add(33 * time.Millisecond), Combined: 0.15})

	var raw struct {
		Type    MessageType     `json:"type"`
		Payload EarBatchPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("reading batch: %v", err)
	}
	if raw.Type != MsgEarBatch {
		t.Fatalf("message type = %q, want %q", raw.Type, MsgEarBatch)
	}
	if len(raw.Payload.Samples) != 2 {
		t.Errorf("batch holds %d samples, want 2 (flushed together)", len(raw.Payload.Samples))
	}
}
