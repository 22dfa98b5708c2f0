package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
	"cluelyguard.com/internal/stream"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsReplyBuffer    = 8
)

// realtimeMessage is a server push on the dashboard socket.
type realtimeMessage struct {
	Type  string                 `json:"type"`
	Event *stream.DetectionEvent `json:"event,omitempty"`
}

// handleRealtimeDashboard upgrades a session-authenticated request to a
// websocket. Text frames are echoed back and detection events for the
// caller's organization are pushed as they are ingested.
func (a *API) handleRealtimeDashboard(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.OrgScope(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	rid := RequestIDFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		obs.Logger().Warn("websocket upgrade failed", "request_id", rid, "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := a.stream.Subscribe(ctx, orgID)
	replies := make(chan string, wsReplyBuffer)
	done := make(chan struct{})

	obs.Logger().Info("websocket connected", "request_id", rid, "org_id", orgID)
	go func() {
		defer close(done)
		wsWriteLoop(ctx, conn, events, replies)
		// Unblocks a pending ReadMessage when the writer gave up first.
		_ = conn.Close()
	}()
	wsReadLoop(conn, replies, done)
	cancel()
	<-done
	obs.Logger().Info("websocket disconnected", "request_id", rid, "org_id", orgID)
}

// wsReadLoop owns reads. It returns when the peer goes away or the writer
// stops.
func wsReadLoop(conn *websocket.Conn, replies chan<- string, done <-chan struct{}) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case replies <- "You said: " + string(data):
		case <-done:
			return
		}
	}
}

// wsWriteLoop is the only goroutine that writes data frames.
func wsWriteLoop(ctx context.Context, conn *websocket.Conn, events <-chan stream.DetectionEvent, replies <-chan string) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(realtimeMessage{Type: "detection", Event: &evt}); err != nil {
				return
			}
		case msg := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// checkOrigin admits requests without an Origin header, same-host origins and
// the configured CORS origins.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	allowed := a.corsOrigins
	if len(allowed) == 0 {
		allowed = localOrigins
	}
	for _, pattern := range allowed {
		if originMatches(pattern, origin) {
			return true
		}
	}
	return false
}

// originMatches supports a single trailing "*" wildcard, as in
// "http://localhost:*".
func originMatches(pattern, origin string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(strings.ToLower(origin), strings.ToLower(prefix))
	}
	return strings.EqualFold(pattern, origin)
}
