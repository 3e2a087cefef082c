// internal/service/ads/interfaces/ws_handler_test.go
package interfaces

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"nova/internal/service/ads/application"
)

func newMonitorHandler() *PacingMonitorHandler {
	pacing := application.NewPacingService(nil, nil, nil, time.Minute, otel.Tracer("test"), nil)
	return NewPacingMonitorHandler(pacing)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestPacingMonitorPushesSnapshots(t *testing.T) {
	h := newMonitorHandler()
	h.interval = 10 * time.Millisecond

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/admin/pacing/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot []application.PacingSnapshot
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("expected a snapshot frame, got %v", err)
	}
}

func TestPacingMonitorNoticesPeerClose(t *testing.T) {
	h := newMonitorHandler()

	noticed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		done := make(chan struct{})
		go h.readLoop(conn, done)
		<-done
		close(noticed)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()

	// 推送间隔是 5 秒：对端断开必须从读路径立刻感知，而不是等下一次写失败
	select {
	case <-noticed:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer close was not noticed by the read pump")
	}
}
