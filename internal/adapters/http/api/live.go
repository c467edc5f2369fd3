package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/metrics"
	"github.com/okian/torturbo/pkg/requestid"
)

const (
	liveBuffer     = 4
	liveWriteWait  = 10 * time.Second
	liveReadLimit  = 512
	pongWaitFactor = 2
)

// LiveHandler streams views over a websocket: the current view first, then
// every applied view.
type LiveHandler struct {
	deps     Dependencies
	upgrader websocket.Upgrader
	ping     time.Duration
	active   atomic.Int64
	logger   logger.Logger
}

// NewLiveHandler creates a new live handler.
func NewLiveHandler(deps Dependencies, ping time.Duration, l logger.Logger) *LiveHandler {
	return &LiveHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ping:   ping,
		logger: l,
	}
}

// HandleLive handles GET /api/live.
func (h *LiveHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.logger.Debug(ctx, "live upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	views, cancel := h.deps.Subscribe(liveBuffer)
	defer cancel()

	metrics.UpdateLiveSubscribers(int(h.active.Add(1)))
	defer func() { metrics.UpdateLiveSubscribers(int(h.active.Add(-1))) }()

	id := requestid.From(ctx)
	h.logger.Debug(ctx, "live subscriber connected", logger.String("request_id", id))
	defer h.logger.Debug(ctx, "live subscriber disconnected", logger.String("request_id", id))

	closed := h.readLoop(conn)

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				h.closeConn(conn, websocket.CloseGoingAway, "dashboard stopped")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(newViewResponse(v)); err != nil {
				h.logger.Debug(ctx, "live write failed", logger.Error(err))
				return
			}
			metrics.RecordLiveMessage()
		case <-ticker.C:
			deadline := time.Now().Add(liveWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames so pongs and close frames are processed.
// The returned channel is closed when the client goes away.
func (h *LiveHandler) readLoop(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	conn.SetReadLimit(liveReadLimit)
	wait := pongWaitFactor * h.ping
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return closed
}

func (h *LiveHandler) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
}
