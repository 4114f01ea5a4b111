package memory_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

func TestNewExperienceID(t *testing.T) {
	id := memory.NewExperienceID()

	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 {
		t.Fatalf("NewExperienceID() = %q, want millis_discriminator", id)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		t.Fatalf("ID prefix %q is not a timestamp: %v", parts[0], err)
	}
	age := time.Since(time.UnixMilli(millis))
	if age < 0 || age > time.Minute {
		t.Errorf("ID timestamp is %v old, want recent", age)
	}
	if len(parts[1]) != 4 {
		t.Errorf("ID discriminator %q length = %d, want 4", parts[1], len(parts[1]))
	}
}

func TestMemorySTM_StoreAndRecent(t *testing.T) {
	s := memory.NewMemorySTM("agent1_channel_auditor")
	ctx := context.Background()

	for i, action := range []models.ActionType{models.ActionTitle, models.ActionTags, models.ActionContent} {
		err := s.Store(ctx, &models.Experience{
			ID:     "exp-" + strconv.Itoa(i),
			Action: action,
			Reward: 0.5,
		})
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d, want 3", len(recent))
	}
	if recent[0].ID != "exp-2" {
		t.Errorf("recent[0].ID = %q, want %q (newest first)", recent[0].ID, "exp-2")
	}
	if recent[0].AgentID != "agent1_channel_auditor" {
		t.Errorf("recent[0].AgentID = %q, want the owning agent", recent[0].AgentID)
	}
}

func TestMemorySTM_AssignsIDs(t *testing.T) {
	s := memory.NewMemorySTM("agent2_title_auditor")

	exp := &models.Experience{Action: models.ActionTitle}
	if err := s.Store(context.Background(), exp); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if exp.ID == "" {
		t.Error("Store() should assign an ID when missing")
	}
	if exp.Timestamp.IsZero() {
		t.Error("Store() should assign a timestamp when missing")
	}
}

func TestMemorySTM_HighQ(t *testing.T) {
	s := memory.NewMemorySTM("agent3_script_generator")
	ctx := context.Background()

	qs := []float64{0.9, 0.3, 0.75, 0.7, 0.1}
	for i, q := range qs {
		s.Store(ctx, &models.Experience{
			ID:     "exp-" + strconv.Itoa(i),
			QValue: q,
		})
	}

	high, err := s.HighQ(ctx, 0.7, 10)
	if err != nil {
		t.Fatalf("HighQ() error = %v", err)
	}
	if len(high) != 3 {
		t.Fatalf("HighQ() returned %d, want 3", len(high))
	}
	if high[0].QValue != 0.9 {
		t.Errorf("high[0].QValue = %v, want 0.9 (sorted descending)", high[0].QValue)
	}
	if high[2].QValue != 0.7 {
		t.Errorf("high[2].QValue = %v, want 0.7 (threshold inclusive)", high[2].QValue)
	}

	limited, _ := s.HighQ(ctx, 0.7, 2)
	if len(limited) != 2 {
		t.Errorf("HighQ() with limit 2 returned %d", len(limited))
	}
}

func TestMemorySTM_UpdateQ(t *testing.T) {
	s := memory.NewMemorySTM("agent4_script_to_scene")
	ctx := context.Background()

	s.Store(ctx, &models.Experience{ID: "exp-1", QValue: 0.2})
	if err := s.UpdateQ(ctx, "exp-1", 0.85); err != nil {
		t.Fatalf("UpdateQ() error = %v", err)
	}

	recent, _ := s.Recent(ctx, 1)
	if len(recent) != 1 || recent[0].QValue != 0.85 {
		t.Errorf("After UpdateQ, QValue = %v, want 0.85", recent[0].QValue)
	}

	if err := s.UpdateQ(ctx, "exp-missing", 0.5); err == nil {
		t.Error("UpdateQ() on a missing experience should return error, got nil")
	}
}

func TestMemorySTM_Delete(t *testing.T) {
	s := memory.NewMemorySTM("agent5_ideas_generator")
	ctx := context.Background()

	s.Store(ctx, &models.Experience{ID: "exp-1"})
	s.Store(ctx, &models.Experience{ID: "exp-2"})

	if err := s.Delete(ctx, "exp-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	recent, _ := s.Recent(ctx, 10)
	if len(recent) != 1 {
		t.Fatalf("After delete, Recent() returned %d, want 1", len(recent))
	}
	if recent[0].ID != "exp-2" {
		t.Errorf("Survivor = %q, want %q", recent[0].ID, "exp-2")
	}
}

func TestMemorySTM_Stats(t *testing.T) {
	s := memory.NewMemorySTM("agent6_roadmap")
	ctx := context.Background()

	latest := time.Now().UTC()
	s.Store(ctx, &models.Experience{ID: "a", QValue: 0.8, Reward: 0.6, Timestamp: latest.Add(-time.Hour)})
	s.Store(ctx, &models.Experience{ID: "b", QValue: 0.4, Reward: 0.2, Timestamp: latest})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalExperiences != 2 {
		t.Errorf("Stats().TotalExperiences = %d, want 2", stats.TotalExperiences)
	}
	if stats.AvgQValue != 0.6 {
		t.Errorf("Stats().AvgQValue = %v, want 0.6", stats.AvgQValue)
	}
	if stats.AvgReward != 0.4 {
		t.Errorf("Stats().AvgReward = %v, want 0.4", stats.AvgReward)
	}
	if stats.HighQCount != 1 {
		t.Errorf("Stats().HighQCount = %d, want 1", stats.HighQCount)
	}
	if !stats.LastActionTime.Equal(latest) {
		t.Errorf("Stats().LastActionTime = %v, want %v", stats.LastActionTime, latest)
	}
}

func TestMemorySTM_CapacityBound(t *testing.T) {
	s := memory.NewMemorySTM("fifty_videos_fetcher")
	ctx := context.Background()

	for i := 0; i < 1050; i++ {
		s.Store(ctx, &models.Experience{ID: "exp-" + strconv.Itoa(i)})
	}

	recent, _ := s.Recent(ctx, 0)
	if len(recent) != 1000 {
		t.Errorf("After overflow, Recent() returned %d, want 1000", len(recent))
	}
	// Newest survive, oldest dropped
	if recent[0].ID != "exp-1049" {
		t.Errorf("recent[0].ID = %q, want %q", recent[0].ID, "exp-1049")
	}
}

func TestMemorySTM_Status(t *testing.T) {
	s := memory.NewMemorySTM("agent1_channel_auditor")

	status := s.Status(context.Background())
	if !status.Connected {
		t.Error("In-process STM should always report connected")
	}
	if status.StorageType != "memory" {
		t.Errorf("StorageType = %q, want %q", status.StorageType, "memory")
	}
	if status.KeyPrefix != "agent:agent1_channel_auditor:stm" {
		t.Errorf("KeyPrefix = %q, want %q", status.KeyPrefix, "agent:agent1_channel_auditor:stm")
	}
}

// ─── Realtime metrics fallback ───────────────────────────────

func TestMemoryMetrics_ChannelRoundTrip(t *testing.T) {
	m := memory.NewMemoryMetrics()
	ctx := context.Background()

	if m.StorageType() != "memory" {
		t.Fatalf("StorageType() = %q, want %q", m.StorageType(), "memory")
	}

	in := map[string]float64{"views": 1500, "engagement_rate": 0.042}
	if err := m.SetChannelMetrics(ctx, "UCabc", in); err != nil {
		t.Fatalf("SetChannelMetrics() error = %v", err)
	}

	out, err := m.GetChannelMetrics(ctx, "UCabc")
	if err != nil {
		t.Fatalf("GetChannelMetrics() error = %v", err)
	}
	if out["views"] != 1500 || out["engagement_rate"] != 0.042 {
		t.Errorf("GetChannelMetrics() = %v, want %v", out, in)
	}

	miss, err := m.GetChannelMetrics(ctx, "UCmissing")
	if err != nil {
		t.Fatalf("GetChannelMetrics() miss error = %v", err)
	}
	if miss != nil {
		t.Errorf("GetChannelMetrics() miss = %v, want nil", miss)
	}
}

func TestMemoryMetrics_PerformanceRing(t *testing.T) {
	m := memory.NewMemoryMetrics()
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		err := m.PushPerformance(ctx, "agent2_title_auditor", models.PerformanceSample{
			Action: models.ActionTitle,
			Reward: float64(i),
		})
		if err != nil {
			t.Fatalf("PushPerformance() error = %v", err)
		}
	}

	samples, err := m.RecentPerformance(ctx, "agent2_title_auditor", 0)
	if err != nil {
		t.Fatalf("RecentPerformance() error = %v", err)
	}
	if len(samples) != 100 {
		t.Fatalf("RecentPerformance() returned %d, want 100 (ring bound)", len(samples))
	}
	if samples[0].Reward != 104 {
		t.Errorf("samples[0].Reward = %v, want 104 (newest first)", samples[0].Reward)
	}

	limited, _ := m.RecentPerformance(ctx, "agent2_title_auditor", 5)
	if len(limited) != 5 {
		t.Errorf("RecentPerformance() with limit 5 returned %d", len(limited))
	}
}
