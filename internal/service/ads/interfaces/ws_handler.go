// internal/service/ads/interfaces/ws_handler.go
package interfaces

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/application"
)

const pacingPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

// PacingMonitorHandler 通过 WebSocket 向运营端推送 pacing 快照流。
// 只读监控通道：连接断开即结束，不维护跨节点会话。
type PacingMonitorHandler struct {
	pacing   *application.PacingService
	interval time.Duration
}

func NewPacingMonitorHandler(pacing *application.PacingService) *PacingMonitorHandler {
	return &PacingMonitorHandler{pacing: pacing, interval: pacingPushInterval}
}

// RegisterRoutes 在 ServeMux 上注册监控路由。
func (h *PacingMonitorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/pacing/ws", h.serveWs)
}

func (h *PacingMonitorHandler) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("pacing monitor upgrade failed")
		return
	}
	done := make(chan struct{})
	go h.readLoop(conn, done)
	go h.pushLoop(conn, done)
}

// readLoop 丢弃入站数据，但必须持续读：对端的 close/ping 控制帧
// 都在读路径上处理，不读就感知不到断开。
func (h *PacingMonitorHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pushLoop 周期性推送快照，写失败或对端关闭都视为连接结束。
func (h *PacingMonitorHandler) pushLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer conn.Close()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(h.pacing.Snapshot()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
