package wsduplex

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

func dialTestServer(t *testing.T, opts ...engine.Option) (*engine.Engine, *Handler, *websocket.Conn) {
	t.Helper()
	eng := engine.New(opts...)
	h := NewHandler(eng, WithPingInterval(50*time.Millisecond))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return eng, h, ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, req string) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(req)))
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestDuplexRequestResponse(t *testing.T) {
	_, _, ws := dialTestServer(t)

	env := roundTrip(t, ws, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	require.Equal(t, "7", string(env["id"]))
	require.Equal(t, "{}", string(env["result"]))
}

func TestDuplexSessionBindsSocket(t *testing.T) {
	eng, _, ws := dialTestServer(t)

	env := roundTrip(t, ws, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"t","version":"0"}}}`)
	require.Contains(t, string(env["result"]), "serverInfo")

	// The handshake registered this socket as the session's push channel.
	ctx := context.Background()
	sessions := eng.Streams().SessionsWithStreams()
	require.Len(t, sessions, 1)

	require.NoError(t, eng.Notifier().SendToSession(ctx, sessions[0], engine.Notification{
		Method: mcp.LoggingMessageNotificationMethod,
		Params: mcp.LoggingMessageNotification{Level: mcp.LoggingLevelInfo, Data: "pushed"},
	}))

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(readCtx)
	require.NoError(t, err)
	require.Contains(t, string(data), "pushed")
	require.Contains(t, string(data), "notifications/message")
}

func TestDuplexStreamingToolVisible(t *testing.T) {
	eng := engine.New(engine.WithTools(stubTools{}))
	h := NewHandler(eng)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })

	env := roundTrip(t, ws, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	var res mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(env["result"], &res))
	// The duplex transport carries every capability bit, so the streaming
	// tool hidden from plain HTTP is listed here.
	require.Len(t, res.Tools, 2)
}

type stubTools struct{}

func (stubTools) ListTools(ctx context.Context) []mcp.Tool {
	return []mcp.Tool{
		{Name: "plain"},
		{Name: "streamer", Capabilities: mcp.CapStandard | mcp.CapTextStreaming | mcp.CapRequiresFullDuplex},
	}
}

func (stubTools) CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent("ok")}}, nil
}

func TestBroadcastReachesSessionlessSockets(t *testing.T) {
	eng := engine.New()
	h := NewHandler(eng)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var socks []*websocket.Conn
	for i := 0; i < 2; i++ {
		ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ws.CloseNow() })
		socks = append(socks, ws)
	}

	// Dialing returns before the server finishes tracking; wait for both.
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnCount() < 2 {
		require.False(t, time.Now().After(deadline), "connections never tracked")
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, h.Broadcast(ctx, mcp.ToolsListChangedNotificationMethod, struct{}{}))

	for _, ws := range socks {
		readCtx, cancelRead := context.WithTimeout(ctx, 5*time.Second)
		_, data, err := ws.Read(readCtx)
		cancelRead()
		require.NoError(t, err)
		require.Contains(t, string(data), "notifications/tools/list_changed")
	}
}
