package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialNotifications(t *testing.T, s *testServer) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(s.router)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != reason {
		t.Fatalf("expected policy close %q, got %d %q", reason, closeErr.Code, closeErr.Text)
	}
}

func TestWebsocketRejectsMissingAuthMessage(t *testing.T) {
	s := newTestServer(t)
	conn := dialNotifications(t, s)

	if err := conn.WriteJSON(map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectPolicyClose(t, conn, "auth required")
}

func TestWebsocketRejectsRefreshToken(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser("ws@example.com", nil)
	pair, err := s.auth.GenerateTokenPair(user.ID, false)
	if err != nil {
		t.Fatalf("token pair: %v", err)
	}
	conn := dialNotifications(t, s)

	if err := conn.WriteJSON(wsAuthMessage{Type: "auth", Token: pair.RefreshToken}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectPolicyClose(t, conn, "access token required")
}

func TestWebsocketRejectsGarbageToken(t *testing.T) {
	s := newTestServer(t)
	conn := dialNotifications(t, s)

	if err := conn.WriteJSON(wsAuthMessage{Type: "auth", Token: "not-a-jwt"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectPolicyClose(t, conn, "unauthorized")
}

func TestOriginAllowed(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.cvtor.test/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "https://api.cvtor.test", true},
		{"other host without list", nil, "https://evil.test", false},
		{"listed origin", []string{"https://app.cvtor.test"}, "https://app.cvtor.test", true},
		{"unlisted origin", []string{"https://app.cvtor.test"}, "https://api.cvtor.test", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := originAllowed(tc.allowed, req(tc.origin)); got != tc.want {
				t.Fatalf("originAllowed(%v, %q) = %v, want %v", tc.allowed, tc.origin, got, tc.want)
			}
		})
	}
}
