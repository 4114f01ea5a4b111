package integrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/viewcraft/viewcraft/backend/internal/agents"
	"github.com/viewcraft/viewcraft/backend/internal/config"
	"github.com/viewcraft/viewcraft/backend/internal/integrator"
	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// newTestRegistry builds a full seven-agent registry with in-process
// short-term memory and degraded Mongo tiers. Empty URIs fail
// construction fast, so no network is touched.
func newTestRegistry(t *testing.T) *agents.Registry {
	t.Helper()
	central := memory.NewCentral("", "viewcraft_central_test")
	return agents.NewRegistry(context.Background(), config.MemoryConfig{}, central, memory.NewMemoryMetrics())
}

func seedExperience(t *testing.T, stm memory.STM, q float64) string {
	t.Helper()
	exp := &models.Experience{
		State:  make([]float64, models.StateSize),
		Action: models.ActionContent,
		Reward: q,
		QValue: q,
	}
	if err := stm.Store(context.Background(), exp); err != nil {
		t.Fatalf("seed experience: %v", err)
	}
	return exp.ID
}

func agentReport(t *testing.T, report models.CollectiveCycleReport, agentID string) models.AgentCycleReport {
	t.Helper()
	for _, r := range report.AgentReports {
		if r.AgentID == agentID {
			return r
		}
	}
	t.Fatalf("no report for agent %s", agentID)
	return models.AgentCycleReport{}
}

// captureNotifier records urgent insights instead of delivering them.
type captureNotifier struct {
	insights []models.GlobalInsight
}

func (c *captureNotifier) NotifyUrgent(_ context.Context, insight models.GlobalInsight) {
	c.insights = append(c.insights, insight)
}

// ─── Cycle reports ──────────────────────────────────────────

func TestRunCycle_ReportsAllAgents(t *testing.T) {
	reg := newTestRegistry(t)
	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)

	report := integ.RunCycle(context.Background())

	if got, want := len(report.AgentReports), len(agents.Definitions()); got != want {
		t.Fatalf("agent reports = %d, want %d", got, want)
	}
	if got := report.AgentReports[0].AgentID; got != agents.ChannelAuditorID {
		t.Errorf("first report agent = %s, want %s", got, agents.ChannelAuditorID)
	}
	seen := make(map[string]bool)
	for _, r := range report.AgentReports {
		if seen[r.AgentID] {
			t.Errorf("duplicate report for %s", r.AgentID)
		}
		seen[r.AgentID] = true
	}
	if report.StartedAt.IsZero() {
		t.Error("started_at not set")
	}
	if report.DurationMs < 0 {
		t.Errorf("duration_ms = %d, want >= 0", report.DurationMs)
	}
}

func TestRunCycle_CollectsOnlyHighQ(t *testing.T) {
	reg := newTestRegistry(t)
	agent, ok := reg.Get(agents.ChannelAuditorID)
	if !ok {
		t.Fatal("channel auditor not registered")
	}
	seedExperience(t, agent.STM, 0.9)
	seedExperience(t, agent.STM, 0.75)
	seedExperience(t, agent.STM, 0.3)

	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)
	report := integ.RunCycle(context.Background())

	r := agentReport(t, report, agents.ChannelAuditorID)
	if r.Collected != 2 {
		t.Errorf("collected = %d, want 2 (only experiences at or above the promote threshold)", r.Collected)
	}
}

// ─── Fail-safe promotion ────────────────────────────────────

func TestRunCycle_FailedPromotionKeepsSTM(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	agent, ok := reg.Get(agents.TitleAuditorID)
	if !ok {
		t.Fatal("title auditor not registered")
	}
	seedExperience(t, agent.STM, 0.95)
	seedExperience(t, agent.STM, 0.8)

	// Long-term memory is degraded, so every promotion must fail and
	// every experience must stay in short-term memory.
	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)
	report := integ.RunCycle(ctx)

	r := agentReport(t, report, agents.TitleAuditorID)
	if r.Collected != 2 {
		t.Fatalf("collected = %d, want 2", r.Collected)
	}
	if r.Promoted != 0 {
		t.Errorf("promoted = %d, want 0 with long-term memory down", r.Promoted)
	}
	if r.PromoteErrors != 2 {
		t.Errorf("promote errors = %d, want 2", r.PromoteErrors)
	}
	if r.SuccessRate != 0 {
		t.Errorf("success rate = %v, want 0", r.SuccessRate)
	}

	kept, err := agent.STM.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("STM holds %d experiences after failed promotion, want 2", len(kept))
	}
}

func TestRunCycle_DegradedCentralIsNotAnError(t *testing.T) {
	reg := newTestRegistry(t)
	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)

	report := integ.RunCycle(context.Background())

	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, want none when central is merely unreachable", report.Errors)
	}
	if report.PatternsDetected != 0 {
		t.Errorf("patterns detected = %d, want 0", report.PatternsDetected)
	}
	if report.LeaderboardSize != 0 {
		t.Errorf("leaderboard size = %d, want 0", report.LeaderboardSize)
	}
	for _, r := range report.AgentReports {
		if r.SyncedToCentral {
			t.Errorf("agent %s reported a central sync with central down", r.AgentID)
		}
	}
}

// ─── Urgent broadcasts ──────────────────────────────────────

func TestRunCycle_UrgentBroadcast(t *testing.T) {
	reg := newTestRegistry(t)
	agent, ok := reg.Get(agents.ScriptGeneratorID)
	if !ok {
		t.Fatal("script generator not registered")
	}

	// Drive one agent's engine hot enough to trip the urgent floor.
	state := make([]float64, models.StateSize)
	agent.Engine.SelectAction(state)
	agent.Engine.UpdateQ(state, models.ActionContent, 0.95, state)

	notifier := &captureNotifier{}
	integ := integrator.New(reg, notifier, time.Hour, 0.7, 0.8)
	report := integ.RunCycle(context.Background())

	if report.UrgentBroadcasts != 1 {
		t.Fatalf("urgent broadcasts = %d, want 1", report.UrgentBroadcasts)
	}
	if len(notifier.insights) != 1 {
		t.Fatalf("notifier received %d insights, want 1", len(notifier.insights))
	}
	insight := notifier.insights[0]
	if !insight.Urgent {
		t.Error("broadcast insight not flagged urgent")
	}
	if insight.ActionType != models.ActionContent {
		t.Errorf("insight action = %s, want %s", insight.ActionType, models.ActionContent)
	}
	if len(insight.ApplicableAgents) != 1 || insight.ApplicableAgents[0] != "all" {
		t.Errorf("applicable agents = %v, want [all]", insight.ApplicableAgents)
	}
	if insight.AvgReward < 0.9 {
		t.Errorf("insight avg reward = %v, want >= 0.9", insight.AvgReward)
	}
}

func TestRunCycle_NoUrgentBroadcastWhenCold(t *testing.T) {
	reg := newTestRegistry(t)
	notifier := &captureNotifier{}
	integ := integrator.New(reg, notifier, time.Hour, 0.7, 0.8)

	report := integ.RunCycle(context.Background())

	if report.UrgentBroadcasts != 0 {
		t.Errorf("urgent broadcasts = %d, want 0 from idle engines", report.UrgentBroadcasts)
	}
	if len(notifier.insights) != 0 {
		t.Errorf("notifier received %d insights, want 0", len(notifier.insights))
	}
}

// ─── Bookkeeping ────────────────────────────────────────────

func TestRunCycle_Bookkeeping(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)

	if !integ.LastRun().IsZero() {
		t.Fatal("last run set before any cycle")
	}
	if integ.Cycles() != 0 {
		t.Fatalf("cycles = %d before any cycle, want 0", integ.Cycles())
	}

	integ.RunCycle(ctx)
	integ.RunCycle(ctx)

	if integ.LastRun().IsZero() {
		t.Error("last run not recorded")
	}
	if got := integ.Cycles(); got != 2 {
		t.Errorf("cycles = %d, want 2", got)
	}
	if got := len(integ.RecentReports()); got != 2 {
		t.Errorf("recent reports = %d, want 2", got)
	}
}

func TestRunCycle_ReportRetentionBounded(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	integ := integrator.New(reg, nil, time.Hour, 0.7, 0.8)

	for i := 0; i < 13; i++ {
		integ.RunCycle(ctx)
	}

	reports := integ.RecentReports()
	if len(reports) != 10 {
		t.Fatalf("retained %d reports, want 10", len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].StartedAt.Before(reports[i-1].StartedAt) {
			t.Fatal("retained reports out of order")
		}
	}
	if got := integ.Cycles(); got != 13 {
		t.Errorf("cycles = %d, want 13", got)
	}
}

func TestNew_RejectsTinyInterval(t *testing.T) {
	reg := newTestRegistry(t)
	// A sub-minute interval would hammer the databases; New falls back
	// to the default.
	integ := integrator.New(reg, nil, time.Second, 0.7, 0.8)
	if integ == nil {
		t.Fatal("New returned nil")
	}
}
