package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/viewcraft/viewcraft/backend/internal/agents"
	"github.com/viewcraft/viewcraft/backend/internal/api"
	"github.com/viewcraft/viewcraft/backend/internal/api/handlers"
	"github.com/viewcraft/viewcraft/backend/internal/config"
	"github.com/viewcraft/viewcraft/backend/internal/integrator"
	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/internal/tracker"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

const chanID = "UCabcdefghijklmnopqrstuv"

// env is one fully wired backend running on the in-memory store and
// in-process memory tiers.
type env struct {
	store   store.Store
	handler http.Handler
}

// newFakeYT returns a data client with one channel and three uploads.
func newFakeYT() *youtube.Fake {
	fake := youtube.NewFake()
	fake.Channels[chanID] = &youtube.ChannelInfo{
		ID:          chanID,
		Title:       "Workshop Channel",
		Subscribers: 120000,
		VideoCount:  240,
		ViewCount:   9500000,
	}
	now := time.Now().UTC()
	fake.Videos[chanID] = []models.VideoStats{
		{VideoID: "aaaaaaaaaaa", Title: "How I Built the Workshop", PublishedAt: now.Add(-24 * time.Hour), Views: 80000, Likes: 4000, Comments: 600, DurationSec: 630, EngagementRate: 0.0575},
		{VideoID: "bbbbbbbbbbb", Title: "Workshop Tour", PublishedAt: now.Add(-10 * 24 * time.Hour), Views: 45000, Likes: 1800, Comments: 220, DurationSec: 3723, EngagementRate: 0.0449},
		{VideoID: "ccccccccccc", Title: "Five Tool Mistakes", PublishedAt: now.Add(-20 * 24 * time.Hour), Views: 30000, Likes: 2400, Comments: 700, DurationSec: 480, EngagementRate: 0.1033},
	}
	return fake
}

// newTestEnv wires the full HTTP surface. yt may be nil to exercise the
// keyless degradation paths.
func newTestEnv(t *testing.T, yt youtube.Client) *env {
	t.Helper()
	t.Setenv("VIEWCRAFT_API_KEYS", "")
	// Each test gets its own snapshot directory so persisted state
	// never crosses test boundaries.
	t.Setenv("VIEWCRAFT_DATA_DIR", t.TempDir())

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	metrics := memory.NewMemoryMetrics()
	central := memory.NewCentral("", "viewcraft_central_test")
	registry := agents.NewRegistry(ctx, config.MemoryConfig{}, central, metrics)
	t.Cleanup(func() { registry.Close(ctx) })

	svc := agents.NewService(registry, yt, metrics)
	tr := tracker.New(st, yt)
	integ := integrator.New(registry, nil, time.Hour, 0.7, 0.8)

	h := handlers.New(st, svc, tr, integ)
	cfg := &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}}
	return &env{store: st, handler: api.NewRouter(cfg, h)}
}

// doJSON performs one request against the router.
func (e *env) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// doRaw sends an unmarshaled body, for malformed-input cases.
func (e *env) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// taskEnvelope mirrors the agent task response shape.
type taskEnvelope struct {
	Success bool `json:"success"`
	Result  struct {
		Output string  `json:"output"`
		Action string  `json:"action"`
		Reward float64 `json:"reward"`
		QValue float64 `json:"q_value"`
	} `json:"result"`
	Error string `json:"error"`
}

// ─── Agent task endpoints ────────────────────────────────────

func TestGenerateScript(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/agent3/generate-script", map[string]any{"topic": "Woodworking"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp taskEnvelope
	decodeBody(t, w, &resp)
	if !resp.Success {
		t.Fatalf("success = false, error %q", resp.Error)
	}
	if !strings.Contains(resp.Result.Output, "### Script: Woodworking") {
		t.Errorf("output missing script heading:\n%s", resp.Result.Output)
	}
	if resp.Result.Action == "" {
		t.Error("action not reported")
	}
	if resp.Result.Reward <= 0 {
		t.Errorf("reward = %v, want > 0 for a successful task", resp.Result.Reward)
	}
}

func TestAgentEndpoints_RequireFields(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	tests := []struct {
		path    string
		wantMsg string
	}{
		{"/api/agent1/audit-channels", "channel_urls is required"},
		{"/api/agent2/audit-titles", "titles or video_urls is required"},
		{"/api/agent3/generate-script", "topic is required"},
		{"/api/agent4/script-to-prompts", "script is required"},
		{"/api/agent5/generate-ideas", "niche is required"},
		{"/api/agent6/generate-roadmap", "niche is required"},
		{"/api/agent7/fetch-fifty-videos", "channel_url is required"},
	}
	for _, tt := range tests {
		w := e.doJSON(t, http.MethodPost, tt.path, map[string]any{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.path, w.Code)
			continue
		}
		var resp map[string]string
		decodeBody(t, w, &resp)
		if resp["error"] != tt.wantMsg {
			t.Errorf("%s: error = %q, want %q", tt.path, resp["error"], tt.wantMsg)
		}
	}
}

func TestAgentEndpoint_MalformedBody(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doRaw(t, http.MethodPost, "/api/agent3/generate-script", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["error"] != "Invalid request body" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestAuditChannels(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/agent1/audit-channels", map[string]any{
		"channel_urls": []string{"https://www.youtube.com/channel/" + chanID},
		"user_query":   "retention",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp taskEnvelope
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Result.Output, "Channel Audit: Workshop Channel") {
		t.Errorf("output missing audit heading:\n%s", resp.Result.Output)
	}
	if !strings.Contains(resp.Result.Output, "retention") {
		t.Error("requested focus not carried into the audit")
	}
}

func TestAuditTitles(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/agent2/audit-titles", map[string]any{
		"titles": []string{"My First Video"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp taskEnvelope
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Result.Output, "Title Audit") {
		t.Errorf("output missing audit section:\n%s", resp.Result.Output)
	}
}

func TestFetchFiftyVideos(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/agent7/fetch-fifty-videos", map[string]any{
		"channel_url": "https://www.youtube.com/channel/" + chanID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp taskEnvelope
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Result.Output, "watch?v=aaaaaaaaaaa") {
		t.Errorf("output missing video links:\n%s", resp.Result.Output)
	}
}

func TestFetchFiftyVideos_WithoutClient(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.doJSON(t, http.MethodPost, "/api/agent7/fetch-fifty-videos", map[string]any{
		"channel_url": "https://www.youtube.com/channel/" + chanID,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without an API key", w.Code)
	}
	var resp taskEnvelope
	decodeBody(t, w, &resp)
	if resp.Success {
		t.Error("success = true for a failed fetch")
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
}

func TestFetchFiftyVideos_BadReference(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/agent7/fetch-fifty-videos", map[string]any{
		"channel_url": "not a channel",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unparseable reference", w.Code)
	}
}

// ─── Learning-system introspection ───────────────────────────

func TestRLStatus(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodGet, "/api/rl/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var status models.RLSystemStatus
	decodeBody(t, w, &status)
	if status.TotalAgents != 7 {
		t.Errorf("total_agents = %d, want 7", status.TotalAgents)
	}
	if status.OperationalAgents != 7 {
		t.Errorf("operational_agents = %d, want 7", status.OperationalAgents)
	}
	if status.CentralMemoryConnected {
		t.Error("central_memory_connected = true with no MongoDB")
	}
	// In-process fallbacks keep agents operational but not fully so.
	if status.SystemHealth != models.HealthPartiallyOperational {
		t.Errorf("system_health = %q, want %q", status.SystemHealth, models.HealthPartiallyOperational)
	}
	if len(status.Agents) != 7 {
		t.Fatalf("len(agents) = %d, want 7", len(status.Agents))
	}
	first := status.Agents[0]
	if !first.STM.Connected || first.STM.StorageType != "memory" {
		t.Errorf("stm status = %+v, want connected memory fallback", first.STM)
	}
	if first.LTM.Connected {
		t.Error("ltm reports connected with no MongoDB")
	}
}

func TestAgentInsights(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	// One completed task gives the learner something to report.
	if w := e.doJSON(t, http.MethodPost, "/api/agent3/generate-script", map[string]any{"topic": "Lighting"}); w.Code != http.StatusOK {
		t.Fatalf("seed task failed: %d", w.Code)
	}

	w := e.doJSON(t, http.MethodGet, "/api/rl/agents/"+agents.ScriptGeneratorID+"/insights", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var insights models.AgentInsights
	decodeBody(t, w, &insights)
	if insights.AgentID != agents.ScriptGeneratorID {
		t.Errorf("agent_id = %q", insights.AgentID)
	}
	if len(insights.RecentRewards) != 1 {
		t.Errorf("recent_rewards = %v, want one entry", insights.RecentRewards)
	}
	if insights.STMExperiences != 1 {
		t.Errorf("stm_experiences = %d, want 1", insights.STMExperiences)
	}
}

func TestAgentInsights_UnknownAgent(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodGet, "/api/rl/agents/agent99/insights", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRunSync(t *testing.T) {
	e := newTestEnv(t, newFakeYT())

	w := e.doJSON(t, http.MethodPost, "/api/rl/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Success bool                         `json:"success"`
		Report  models.CollectiveCycleReport `json:"report"`
	}
	decodeBody(t, w, &resp)
	if !resp.Success {
		t.Error("success = false")
	}
	if len(resp.Report.AgentReports) != 7 {
		t.Errorf("agent_reports = %d, want 7", len(resp.Report.AgentReports))
	}
	if len(resp.Report.Errors) != 0 {
		t.Errorf("degraded tiers must not surface as cycle errors, got %v", resp.Report.Errors)
	}

	// The completed cycle shows up in the system status.
	w = e.doJSON(t, http.MethodGet, "/api/rl/status", nil)
	var status models.RLSystemStatus
	decodeBody(t, w, &status)
	if status.SyncCyclesCompleted != 1 {
		t.Errorf("sync_cycles_completed = %d, want 1", status.SyncCyclesCompleted)
	}
	if status.LastSyncReport == nil {
		t.Error("last_sync_report missing after a manual sync")
	} else if len(status.LastSyncReport.AgentReports) != 7 {
		t.Errorf("last_sync_report agents = %d, want 7", len(status.LastSyncReport.AgentReports))
	}
}

// ─── Info endpoints ──────────────────────────────────────────

func TestHealthAndVersion(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.doJSON(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health map[string]string
	decodeBody(t, w, &health)
	if health["status"] != "healthy" || health["service"] != "viewcraft-backend" {
		t.Errorf("health body = %v", health)
	}

	w = e.doJSON(t, http.MethodGet, "/version", nil)
	var version map[string]string
	decodeBody(t, w, &version)
	if version["version"] == "" {
		t.Error("version missing")
	}
}

func TestRootServiceInfo(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.doJSON(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info struct {
		Service string            `json:"service"`
		Agents  map[string]string `json:"agents"`
	}
	decodeBody(t, w, &info)
	if info.Service != "viewcraft-backend" {
		t.Errorf("service = %q", info.Service)
	}
	if len(info.Agents) != 7 {
		t.Errorf("agents listed = %d, want 7", len(info.Agents))
	}
}
