// Package detections keeps recently ingested detection events in memory,
// partitioned by organization. Every read and write names the organization;
// there is no way to list across tenants.
package detections

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRetention caps how many detections are kept per organization.
const DefaultRetention = 1000

var ErrOrgRequired = errors.New("detections: org id is required")

// Detection is a stored detection event.
type Detection struct {
	ID            string         `json:"id"`
	OrgID         string         `json:"org_id"`
	AgentID       string         `json:"agent_id"`
	DetectionType string         `json:"detection_type"`
	Severity      string         `json:"severity"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata"`
	DetectedAt    time.Time      `json:"detected_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AgentStatus is the last known state of an agent derived from its
// heartbeats and ingest traffic.
type AgentStatus struct {
	ID            string     `json:"id"`
	OrgID         string     `json:"org_id"`
	Name          string     `json:"name"`
	Platform      string     `json:"platform"`
	Version       string     `json:"version"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Alert is raised for every high or critical detection.
type Alert struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	RuleID      string         `json:"rule_id"`
	DetectionID string         `json:"detection_id"`
	Severity    string         `json:"severity"`
	Status      string         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

const severityRuleID = "rule_severity_high"

func alertable(severity string) bool {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return true
	default:
		return false
	}
}

// Heartbeat is the agent self-report carried by an ingest batch.
type Heartbeat struct {
	AgentVersion string
	Platform     string
}

type partition struct {
	detections []Detection
	agents     map[string]*AgentStatus
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	orgs      map[string]*partition
	retention int
	now       func() time.Time
}

// NewStore returns an empty store keeping at most retention detections per
// organization.
func NewStore(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{orgs: make(map[string]*partition), retention: retention, now: time.Now}
}

func (s *Store) partition(orgID string) *partition {
	p, ok := s.orgs[orgID]
	if !ok {
		p = &partition{agents: make(map[string]*AgentStatus)}
		s.orgs[orgID] = p
	}
	return p
}

// Add records detections for orgID. The OrgID field of each detection is
// overwritten with orgID.
func (s *Store) Add(orgID string, items ...Detection) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrOrgRequired
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partition(orgID)
	for _, d := range items {
		d.OrgID = orgID
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		p.detections = append(p.detections, d)
		s.touchAgent(p, orgID, d.AgentID, now)
	}
	if over := len(p.detections) - s.retention; over > 0 {
		p.detections = append([]Detection(nil), p.detections[over:]...)
	}
	return nil
}

// RecordHeartbeat updates the agent's reported version and platform.
func (s *Store) RecordHeartbeat(orgID, agentID string, hb Heartbeat) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrOrgRequired
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.touchAgent(s.partition(orgID), orgID, agentID, now)
	if a == nil {
		return nil
	}
	if hb.AgentVersion != "" {
		a.Version = hb.AgentVersion
	}
	if hb.Platform != "" {
		a.Platform = hb.Platform
	}
	a.LastHeartbeat = &now
	return nil
}

func (s *Store) touchAgent(p *partition, orgID, agentID string, now time.Time) *AgentStatus {
	if agentID == "" {
		return nil
	}
	a, ok := p.agents[agentID]
	if !ok {
		a = &AgentStatus{ID: agentID, OrgID: orgID, Name: agentID, Status: "online", CreatedAt: now}
		p.agents[agentID] = a
	}
	a.Status = "online"
	a.UpdatedAt = now
	return a
}

// Detections returns one page of orgID's detections, newest first, and the
// total count.
func (s *Store) Detections(orgID string, page, perPage int) ([]Detection, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.orgs[orgID]
	if !ok {
		return []Detection{}, 0
	}
	total := len(p.detections)
	start, end := bounds(total, page, perPage)
	out := make([]Detection, 0, end-start)
	for i := total - 1 - start; i > total-1-end; i-- {
		out = append(out, p.detections[i])
	}
	return out, total
}

// Agents returns one page of orgID's agents ordered by id, and the total.
func (s *Store) Agents(orgID string, page, perPage int) ([]AgentStatus, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.orgs[orgID]
	if !ok {
		return []AgentStatus{}, 0
	}
	all := make([]AgentStatus, 0, len(p.agents))
	for _, a := range p.agents {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start, end := bounds(len(all), page, perPage)
	return all[start:end], len(all)
}

// Alerts returns one page of alerts raised for orgID, newest first, and the
// total count.
func (s *Store) Alerts(orgID string, page, perPage int) ([]Alert, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.orgs[orgID]
	if !ok {
		return []Alert{}, 0
	}
	var all []Alert
	for i := len(p.detections) - 1; i >= 0; i-- {
		d := p.detections[i]
		if !alertable(d.Severity) {
			continue
		}
		all = append(all, Alert{
			ID:          "alert_" + d.ID,
			OrgID:       d.OrgID,
			RuleID:      severityRuleID,
			DetectionID: d.ID,
			Severity:    d.Severity,
			Status:      "new",
			Title:       d.Title,
			Description: d.Description,
			Metadata:    map[string]any{"agent_id": d.AgentID, "detection_type": d.DetectionType},
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
		})
	}
	start, end := bounds(len(all), page, perPage)
	if start == end {
		return []Alert{}, len(all)
	}
	return all[start:end], len(all)
}

func bounds(total, page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return start, end
}
