package detections

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStoreIsolatesOrganizations(t *testing.T) {
	s := NewStore(0)
	if err := s.Add("acme", Detection{ID: "d1", OrgID: "globex", AgentID: "agent7", Severity: "high"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("globex", Detection{ID: "d2", AgentID: "agent9", Severity: "low"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	items, total := s.Detections("acme", 1, 20)
	if total != 1 || len(items) != 1 || items[0].ID != "d1" {
		t.Fatalf("unexpected acme detections: %+v (total %d)", items, total)
	}
	if items[0].OrgID != "acme" {
		t.Fatalf("org id must be forced to the partition, got %q", items[0].OrgID)
	}

	agents, _ := s.Agents("globex", 1, 20)
	if len(agents) != 1 || agents[0].ID != "agent9" {
		t.Fatalf("unexpected globex agents: %+v", agents)
	}

	if items, total := s.Detections("initech", 1, 20); total != 0 || len(items) != 0 {
		t.Fatalf("unknown org must be empty")
	}
	if err := s.Add(" ", Detection{ID: "x"}); !errors.Is(err, ErrOrgRequired) {
		t.Fatalf("expected ErrOrgRequired, got %v", err)
	}
}

func TestStorePaginationNewestFirst(t *testing.T) {
	s := NewStore(0)
	for i := 1; i <= 5; i++ {
		if err := s.Add("acme", Detection{ID: fmt.Sprintf("d%d", i)}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	page1, total := s.Detections("acme", 1, 2)
	if total != 5 || len(page1) != 2 || page1[0].ID != "d5" || page1[1].ID != "d4" {
		t.Fatalf("unexpected first page: %+v", page1)
	}
	page3, _ := s.Detections("acme", 3, 2)
	if len(page3) != 1 || page3[0].ID != "d1" {
		t.Fatalf("unexpected last page: %+v", page3)
	}
	beyond, _ := s.Detections("acme", 10, 2)
	if len(beyond) != 0 {
		t.Fatalf("expected empty page past the end, got %+v", beyond)
	}
}

func TestStoreRetention(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 5; i++ {
		_ = s.Add("acme", Detection{ID: fmt.Sprintf("d%d", i)})
	}
	items, total := s.Detections("acme", 1, 10)
	if total != 3 || items[len(items)-1].ID != "d3" {
		t.Fatalf("expected oldest entries trimmed, got %+v", items)
	}
}

func TestStoreAlertsAndHeartbeat(t *testing.T) {
	s := NewStore(0)
	fixed := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_ = s.Add("acme",
		Detection{ID: "d1", AgentID: "agent7", Severity: "low"},
		Detection{ID: "d2", AgentID: "agent7", Severity: "Critical", Title: "overlay detected"},
	)
	alerts, total := s.Alerts("acme", 1, 20)
	if total != 1 || alerts[0].DetectionID != "d2" || alerts[0].Status != "new" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	if err := s.RecordHeartbeat("acme", "agent7", Heartbeat{AgentVersion: "1.4.0", Platform: "windows"}); err != nil {
		t.Fatalf("RecordHeartbeat: %v", err)
	}
	agents, _ := s.Agents("acme", 1, 20)
	if len(agents) != 1 || agents[0].Version != "1.4.0" || agents[0].LastHeartbeat == nil || !agents[0].LastHeartbeat.Equal(fixed) {
		t.Fatalf("heartbeat not recorded: %+v", agents)
	}
}
