package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"cluelyguard.com/internal/audit"
	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/detections"
	"cluelyguard.com/internal/ids"
	"cluelyguard.com/internal/obs"
	"cluelyguard.com/internal/stream"
)

const (
	maxBatchEvents    = 1000
	maxEventTypeLen   = 100
	maxSeverityLen    = 50
	maxTitleLen       = 500
	maxDescriptionLen = 2000
)

type ingestBatchRequest struct {
	Events    []ingestEvent   `json:"events"`
	Heartbeat *agentHeartbeat `json:"heartbeat"`
}

type ingestEvent struct {
	EventType   string         `json:"event_type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	DetectedAt  *time.Time     `json:"detected_at"`
}

type agentHeartbeat struct {
	AgentVersion string     `json:"agent_version"`
	Platform     string     `json:"platform"`
	CPUUsage     *float64   `json:"cpu_usage"`
	MemoryUsage  *float64   `json:"memory_usage"`
	LastScanAt   *time.Time `json:"last_scan_at"`
	ScanCount    *uint64    `json:"scan_count"`
}

type ingestResponse struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// handleIngestBatch accepts detection events from an agent. Events are
// validated one by one; valid events are kept even when others fail, and the
// response is 206 in that case.
func (a *API) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	agent, ok := auth.AgentFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ingestBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), ingestResponse{Errors: []string{"Invalid request format"}})
		return
	}
	if n := len(req.Events); n == 0 || n > maxBatchEvents {
		writeJSON(w, http.StatusBadRequest, ingestResponse{
			Failed: n,
			Errors: []string{fmt.Sprintf("events must contain 1-%d items", maxBatchEvents)},
		})
		return
	}

	now := time.Now().UTC()
	resp := ingestResponse{Errors: []string{}}
	accepted := make([]detections.Detection, 0, len(req.Events))
	for i, evt := range req.Events {
		if err := evt.validate(); err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, fmt.Sprintf("events[%d]: %v", i, err))
			continue
		}
		accepted = append(accepted, detections.Detection{
			ID:            ids.NewPrefixed("det"),
			AgentID:       agent.AgentID(),
			DetectionType: evt.EventType,
			Severity:      evt.Severity,
			Title:         evt.Title,
			Description:   evt.Description,
			Metadata:      evt.Metadata,
			DetectedAt:    evt.DetectedAt.UTC(),
			CreatedAt:     now,
		})
	}
	resp.Processed = len(accepted)

	if len(accepted) > 0 {
		if err := a.detections.Add(agent.OrgID(), accepted...); err != nil {
			obs.Logger().Error("store detections failed", "request_id", RequestIDFromContext(r.Context()), "error", err.Error())
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		for _, d := range accepted {
			a.stream.Publish(stream.DetectionEvent{
				ID:         d.ID,
				OrgID:      agent.OrgID(),
				AgentID:    d.AgentID,
				EventType:  d.DetectionType,
				Severity:   d.Severity,
				Title:      d.Title,
				Metadata:   d.Metadata,
				DetectedAt: d.DetectedAt,
				ReceivedAt: now,
			})
		}
	}

	if hb := req.Heartbeat; hb != nil {
		if err := hb.validate(); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("heartbeat: %v", err))
		} else {
			_ = a.detections.RecordHeartbeat(agent.OrgID(), agent.AgentID(), detections.Heartbeat{
				AgentVersion: hb.AgentVersion,
				Platform:     hb.Platform,
			})
		}
	}

	obs.ObserveIngest(resp.Processed, resp.Failed)
	_ = audit.LogEvent(r.Context(), audit.EventIngestBatch, map[string]any{
		"processed": resp.Processed,
		"failed":    resp.Failed,
		"heartbeat": req.Heartbeat != nil,
	})
	if resp.Failed > 0 {
		obs.Logger().LogAttrs(r.Context(), slog.LevelWarn, "ingest batch partially rejected",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("org_id", agent.OrgID()),
			slog.String("agent_id", agent.AgentID()),
			slog.Int("failed", resp.Failed),
		)
	}

	resp.Success = resp.Failed == 0
	status := http.StatusAccepted
	if !resp.Success {
		status = http.StatusPartialContent
	}
	writeJSON(w, status, resp)
}

func (e ingestEvent) validate() error {
	if err := checkLen("event_type", e.EventType, 1, maxEventTypeLen); err != nil {
		return err
	}
	if err := checkLen("severity", e.Severity, 1, maxSeverityLen); err != nil {
		return err
	}
	if err := checkLen("title", e.Title, 0, maxTitleLen); err != nil {
		return err
	}
	if err := checkLen("description", e.Description, 0, maxDescriptionLen); err != nil {
		return err
	}
	if e.DetectedAt == nil || e.DetectedAt.IsZero() {
		return fmt.Errorf("detected_at is required")
	}
	return nil
}

func (h agentHeartbeat) validate() error {
	if strings.TrimSpace(h.AgentVersion) == "" {
		return fmt.Errorf("agent_version is required")
	}
	if strings.TrimSpace(h.Platform) == "" {
		return fmt.Errorf("platform is required")
	}
	return nil
}

func checkLen(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo || n > hi {
		if lo > 0 {
			return fmt.Errorf("%s must be %d-%d characters", field, lo, hi)
		}
		return fmt.Errorf("%s must be at most %d characters", field, hi)
	}
	return nil
}
