package streaminghttp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

func newTestServer(t *testing.T, opts ...engine.Option) (*engine.Engine, *httptest.Server) {
	t.Helper()
	eng := engine.New(opts...)
	srv := httptest.NewServer(NewHandler(eng, WithPingInterval(50*time.Millisecond)))
	t.Cleanup(srv.Close)
	return eng, srv
}

func postJSON(t *testing.T, url, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func initializeSession(t *testing.T, url string) string {
	t.Helper()
	resp := postJSON(t, url, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	sid := resp.Header.Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}
	return sid
}

func TestPostInitializeMintsSession(t *testing.T) {
	eng, srv := newTestServer(t)

	sid := initializeSession(t, srv.URL)
	if !eng.Sessions().ValidateSession(context.Background(), sid) {
		t.Error("minted session does not validate")
	}
}

func TestPostRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t)

	t.Run("wrong content type", func(t *testing.T) {
		resp, err := http.Post(srv.URL, "text/plain", strings.NewReader("hi"))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", resp.StatusCode)
		}
	})

	t.Run("batch array", func(t *testing.T) {
		resp := postJSON(t, srv.URL, "", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := postJSON(t, srv.URL, "nope", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		var env struct {
			Error struct {
				Code int `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error.Code != -32001 {
			t.Errorf("error code = %d, want -32001", env.Error.Code)
		}
	})
}

func TestPostNotificationAccepted(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initializeSession(t, srv.URL)

	resp := postJSON(t, srv.URL, sid, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if b, _ := io.ReadAll(resp.Body); len(b) != 0 {
		t.Errorf("notification response carried a body: %s", b)
	}
}

func TestPostRequestResponse(t *testing.T) {
	_, srv := newTestServer(t)
	sid := initializeSession(t, srv.URL)

	resp := postJSON(t, srv.URL, sid, `{"jsonrpc":"2.0","id":"req-1","method":"ping"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(env.ID) != `"req-1"` {
		t.Errorf("echoed id = %s", env.ID)
	}
	if string(env.Result) != "{}" {
		t.Errorf("result = %s", env.Result)
	}
}

func TestDeleteSession(t *testing.T) {
	eng, srv := newTestServer(t)
	sid := initializeSession(t, srv.URL)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if eng.Sessions().ValidateSession(context.Background(), sid) {
		t.Error("session survives deletion")
	}

	resp2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readSSEEvent consumes one framed event, skipping comment keepalives.
func readSSEEvent(t *testing.T, br *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && ev.data != "":
			return ev
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url, sessionID, lastEventID string) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessionID)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	return resp, bufio.NewReader(resp.Body), cancel
}

func TestStreamReplayAndResume(t *testing.T) {
	eng, srv := newTestServer(t)
	sid := initializeSession(t, srv.URL)
	ctx := context.Background()

	// Two notifications land while no stream is open; they must be
	// buffered for replay.
	for _, text := range []string{"first", "second"} {
		err := eng.Notifier().SendToSession(ctx, sid, engine.Notification{
			Method: mcp.LoggingMessageNotificationMethod,
			Params: mcp.LoggingMessageNotification{Level: mcp.LoggingLevelInfo, Data: text},
		})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	resp, br, cancel := openStream(t, srv.URL, sid, "")
	ev1 := readSSEEvent(t, br)
	ev2 := readSSEEvent(t, br)
	cancel()
	resp.Body.Close()

	if ev1.id == "" || ev2.id == "" {
		t.Fatalf("replayed events missing ids: %+v %+v", ev1, ev2)
	}
	if ev1.event != "message" {
		t.Errorf("event name = %q", ev1.event)
	}
	if !strings.Contains(ev1.data, "first") || !strings.Contains(ev2.data, "second") {
		t.Errorf("replay order wrong: %q then %q", ev1.data, ev2.data)
	}

	// Resume after the first event: only the second is replayed, and a live
	// push arrives on the open stream after it.
	resp2, br2, cancel2 := openStream(t, srv.URL, sid, ev1.id)
	defer cancel2()
	defer resp2.Body.Close()

	got := readSSEEvent(t, br2)
	if got.id != ev2.id {
		t.Fatalf("resume replayed id %q, want %q", got.id, ev2.id)
	}

	// Replay happens before the stream registers for live delivery; wait for
	// registration so the push below is not buffered-only.
	deadline := time.Now().Add(2 * time.Second)
	for !eng.Streams().HasStream(sid) {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := eng.Notifier().SendToSession(ctx, sid, engine.Notification{
		Method: mcp.LoggingMessageNotificationMethod,
		Params: mcp.LoggingMessageNotification{Level: mcp.LoggingLevelInfo, Data: "live"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	live := readSSEEvent(t, br2)
	if !strings.Contains(live.data, "live") {
		t.Errorf("live event data = %q", live.data)
	}
}

func TestStreamRejections(t *testing.T) {
	_, srv := newTestServer(t)

	t.Run("wrong accept", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Mcp-Session-Id", "whatever")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", resp.StatusCode)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("Accept", "text/event-stream")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Mcp-Session-Id", "nope")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}
