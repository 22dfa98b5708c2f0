// Command smoke-ingest drives a running API end to end: demo login, API key
// issuance, one ingest batch, and a read back through the dashboard API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"cluelyguard.com/internal/grpcapi"
	"cluelyguard.com/internal/ids"
)

type smokeClient struct {
	baseURL string
	http    *http.Client
	session *http.Cookie
}

func main() {
	baseURL := os.Getenv("CLUELYGUARD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := &smokeClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}

	if err := c.login(); err != nil {
		log.Fatalf("login at %s: %v", baseURL, err)
	}

	agentID := "smoke" + strings.ToLower(ids.New()[18:])
	var key struct {
		APIKey         string `json:"api_key"`
		OrgID          string `json:"org_id"`
		KeyFingerprint string `json:"key_fingerprint"`
	}
	if err := c.call(http.MethodPost, "/v1/admin/api-keys", map[string]string{"agent_id": agentID}, nil, http.StatusCreated, &key); err != nil {
		log.Fatalf("create api key: %v", err)
	}

	eventType := "smoke_" + ids.NewPrefixed("e")
	batch := map[string]any{
		"events": []any{map[string]any{
			"event_type":  eventType,
			"severity":    "low",
			"title":       "Smoke test",
			"description": "Synthetic event from smoke-ingest",
			"detected_at": time.Now().UTC().Format(time.RFC3339),
		}},
		"heartbeat": map[string]any{
			"agent_version": "smoke",
			"platform":      "linux",
		},
	}
	var ingest struct {
		Processed int `json:"processed"`
		Failed    int `json:"failed"`
	}
	if err := c.call(http.MethodPost, "/ingest/batch", batch, map[string]string{"X-API-Key": key.APIKey}, http.StatusAccepted, &ingest); err != nil {
		log.Fatalf("ingest: %v", err)
	}
	if ingest.Processed != 1 || ingest.Failed != 0 {
		log.Fatalf("unexpected ingest counts: processed=%d failed=%d", ingest.Processed, ingest.Failed)
	}

	var page struct {
		Data []struct {
			DetectionType string `json:"detection_type"`
			OrgID         string `json:"org_id"`
			AgentID       string `json:"agent_id"`
		} `json:"data"`
	}
	if err := c.call(http.MethodGet, "/v1/detections?per_page=100", nil, nil, http.StatusOK, &page); err != nil {
		log.Fatalf("list detections: %v", err)
	}
	found := false
	for _, d := range page.Data {
		if d.DetectionType == eventType {
			if d.OrgID != key.OrgID || d.AgentID != agentID {
				log.Fatalf("detection attributed to %s/%s, want %s/%s", d.OrgID, d.AgentID, key.OrgID, agentID)
			}
			found = true
		}
	}
	if !found {
		log.Fatalf("ingested detection %s not listed", eventType)
	}

	if addr := os.Getenv("CLUELYGUARD_GRPC_ADDR"); addr != "" {
		client, err := grpcapi.Dial(addr, key.APIKey)
		if err != nil {
			log.Fatalf("dial grpc at %s: %v", addr, err)
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := client.Ready(ctx)
		if err != nil {
			log.Fatalf("grpc health: %v", err)
		}
		if !ok {
			log.Fatalf("grpc listener at %s is not serving", addr)
		}
	}

	fmt.Printf("smoke-ingest passed: org=%s agent=%s key=%s\n", key.OrgID, agentID, key.KeyFingerprint)
}

// login keeps the session cookie by hand: it is marked Secure, so a cookie
// jar would drop it against a plain-HTTP local server.
func (c *smokeClient) login() error {
	body, _ := json.Marshal(map[string]string{"email": "demo@cluelyguard.com", "password": "demo123456"})
	resp, err := c.http.Post(c.baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == "jwt_token" {
			c.session = ck
			return nil
		}
	}
	return fmt.Errorf("no session cookie in response")
}

func (c *smokeClient) call(method, path string, in any, headers map[string]string, want int, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.session != nil && headers["X-API-Key"] == "" {
		req.AddCookie(&http.Cookie{Name: c.session.Name, Value: c.session.Value})
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
