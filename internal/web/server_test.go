package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
	"github.com/theman001/KakaoWebTalk/internal/store"
)

type noIdentity struct{}

func (noIdentity) Login(ctx context.Context, email, password string) (*gateway.Credentials, error) {
	return nil, &failError{}
}

type failError struct{}

func (*failError) Error() string { return "identity unavailable" }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	gw := gateway.New(ctx, gateway.Options{
		BackendAddr:      "backend.test:443",
		HandshakeTimeout: time.Second,
		Store:            store.NewMemory(),
		Identity:         noIdentity{},
	})

	srv := httptest.NewServer(NewServer(ctx, gw, t.TempDir(), nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "UP" {
		t.Errorf("health status: got %v", body["status"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("health response has no timestamp")
	}
}

func TestRootRedirectsToLogin(t *testing.T) {
	srv := newTestServer(t)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Errorf("redirect target: got %q", loc)
	}
}

func TestWebSocketRestoreUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cmd := Command{Type: CmdRestore, SessionID: "unknown"}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev gateway.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != gateway.EvtAuthRequired {
		t.Errorf("got event %q, want %q", ev.Type, gateway.EvtAuthRequired)
	}
}

func TestWebSocketLoginFailure(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Command{Type: CmdLogin, Email: "a@b.com", Password: "pw"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev gateway.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != gateway.EvtAuthFailed {
		t.Errorf("got event %q, want %q", ev.Type, gateway.EvtAuthFailed)
	}
	if ev.Reason != "identity unavailable" {
		t.Errorf("reason: got %q", ev.Reason)
	}
}

func TestWebSocketSendWithoutSession(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Command{Type: CmdSend, ChatID: 5, Text: "hi"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev gateway.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != gateway.EvtChatError {
		t.Errorf("got event %q, want %q", ev.Type, gateway.EvtChatError)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Command{Type: "dance"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	// The command is dropped; the connection stays usable.
	if err := conn.WriteJSON(Command{Type: CmdRestore, SessionID: "x"}); err != nil {
		t.Fatalf("WriteJSON after unknown command: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev gateway.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != gateway.EvtAuthRequired {
		t.Errorf("got event %q, want %q", ev.Type, gateway.EvtAuthRequired)
	}
}
