package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cluelyguard.com/internal/auth"
)

// handleRealtimeEvents streams the caller's organization's detection events
// as Server-Sent Events, for clients that cannot hold a websocket.
func (a *API) handleRealtimeEvents(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.OrgScope(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := a.stream.Subscribe(ctx, orgID)

	rc := http.NewResponseController(w)
	// The server's write timeout would cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: detection\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
