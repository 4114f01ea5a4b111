package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	// Use a temp dir so tests don't write to ~/.viewcraft/
	dir := t.TempDir()
	os.Setenv("VIEWCRAFT_DATA_DIR", dir)
	defer os.Unsetenv("VIEWCRAFT_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Chat history ────────────────────────────────────────────

func TestAppendAndGetHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	turns := []struct {
		role    models.ChatRole
		content string
	}{
		{models.RoleUser, "write me a hook for a cooking video"},
		{models.RoleAssistant, "Here are three hook options..."},
		{models.RoleUser, "make the second one shorter"},
	}
	for _, turn := range turns {
		err := s.AppendMessage(ctx, &models.ChatMessage{
			SessionID:    "sess-1",
			UserID:       "user-1",
			Conversation: models.ConversationScriptwriter,
			Role:         turn.role,
			Content:      turn.content,
		})
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	history, err := s.GetHistory(ctx, models.ConversationScriptwriter, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("GetHistory() returned %d turns, want 3", len(history))
	}
	for i, turn := range turns {
		if history[i].Content != turn.content {
			t.Errorf("history[%d].Content = %q, want %q", i, history[i].Content, turn.content)
		}
		if history[i].Role != turn.role {
			t.Errorf("history[%d].Role = %q, want %q", i, history[i].Role, turn.role)
		}
	}
}

func TestGetHistory_FiltersOtherSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-1", UserID: "user-1",
		Conversation: models.ConversationScriptwriter,
		Role:         models.RoleUser, Content: "mine",
	})
	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-2", UserID: "user-1",
		Conversation: models.ConversationScriptwriter,
		Role:         models.RoleUser, Content: "other session",
	})
	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-1", UserID: "user-2",
		Conversation: models.ConversationScriptwriter,
		Role:         models.RoleUser, Content: "other user",
	})
	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-1", UserID: "user-1",
		Conversation: models.ConversationSceneWriter,
		Role:         models.RoleUser, Content: "other conversation",
	})

	history, err := s.GetHistory(ctx, models.ConversationScriptwriter, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("GetHistory() returned %d turns, want 1", len(history))
	}
	if history[0].Content != "mine" {
		t.Errorf("history[0].Content = %q, want %q", history[0].Content, "mine")
	}
}

func TestGetHistory_ExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-1", UserID: "user-1",
		Conversation: models.ConversationScriptwriter,
		Role:         models.RoleUser, Content: "fresh",
	})
	// A turn older than the TTL window should never come back
	s.AppendMessage(ctx, &models.ChatMessage{
		SessionID: "sess-1", UserID: "user-1",
		Conversation: models.ConversationScriptwriter,
		Role:         models.RoleUser, Content: "stale",
		Timestamp: time.Now().UTC().Add(-25 * time.Hour),
	})

	history, err := s.GetHistory(ctx, models.ConversationScriptwriter, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("GetHistory() returned %d turns, want 1", len(history))
	}
	if history[0].Content != "fresh" {
		t.Errorf("history[0].Content = %q, want %q", history[0].Content, "fresh")
	}
}

func TestClearHistory_ExactPairOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []struct{ sess, user string }{
		{"sess-1", "user-1"},
		{"sess-1", "user-1"},
		{"sess-1", "user-2"},
		{"sess-2", "user-1"},
	} {
		s.AppendMessage(ctx, &models.ChatMessage{
			SessionID: m.sess, UserID: m.user,
			Conversation: models.ConversationScriptwriter,
			Role:         models.RoleUser, Content: "hello",
		})
	}

	deleted, err := s.ClearHistory(ctx, models.ConversationScriptwriter, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("ClearHistory() deleted %d, want 2", deleted)
	}

	// The other (session, user) pairs survive
	other, _ := s.GetHistory(ctx, models.ConversationScriptwriter, "sess-1", "user-2")
	if len(other) != 1 {
		t.Errorf("After clear, other user's history has %d turns, want 1", len(other))
	}
	other, _ = s.GetHistory(ctx, models.ConversationScriptwriter, "sess-2", "user-1")
	if len(other) != 1 {
		t.Errorf("After clear, other session's history has %d turns, want 1", len(other))
	}
}

// ─── Tracked channels ────────────────────────────────────────

func TestInsertAndGetTrackedChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &models.TrackedChannel{
		UserID:          "user-1",
		ChannelID:       "UCabc123",
		ChannelURL:      "https://www.youtube.com/channel/UCabc123",
		Title:           "Test Channel",
		SubscriberCount: 1200,
		TrackingEnabled: true,
	}
	if err := s.InsertTrackedChannel(ctx, ch); err != nil {
		t.Fatalf("InsertTrackedChannel() error = %v", err)
	}

	got, err := s.GetTrackedChannel(ctx, "UCabc123", "user-1")
	if err != nil {
		t.Fatalf("GetTrackedChannel() error = %v", err)
	}
	if got.Title != "Test Channel" {
		t.Errorf("GetTrackedChannel().Title = %q, want %q", got.Title, "Test Channel")
	}
	if got.SubscriberCount != 1200 {
		t.Errorf("GetTrackedChannel().SubscriberCount = %d, want 1200", got.SubscriberCount)
	}
}

func TestGetTrackedChannel_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTrackedChannel(context.Background(), "UCmissing", "user-1")
	if err == nil {
		t.Fatal("GetTrackedChannel() for missing channel should return error, got nil")
	}
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Errorf("GetTrackedChannel() error type = %T, want *store.ErrNotFound", err)
	}
}

func TestTouchTrackedChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	s.InsertTrackedChannel(ctx, &models.TrackedChannel{
		UserID: "user-1", ChannelID: "UCabc", LastAccessed: created,
	})

	now := time.Now().UTC()
	if err := s.TouchTrackedChannel(ctx, "UCabc", "user-1", now); err != nil {
		t.Fatalf("TouchTrackedChannel() error = %v", err)
	}

	got, _ := s.GetTrackedChannel(ctx, "UCabc", "user-1")
	if !got.LastAccessed.Equal(now) {
		t.Errorf("After touch, LastAccessed = %v, want %v", got.LastAccessed, now)
	}

	if err := s.TouchTrackedChannel(ctx, "UCmissing", "user-1", now); err == nil {
		t.Error("TouchTrackedChannel() for missing channel should return error, got nil")
	}
}

func TestListTrackedChannels_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"UCold", "UCmid", "UCnew"} {
		s.InsertTrackedChannel(ctx, &models.TrackedChannel{
			UserID:       "user-1",
			ChannelID:    id,
			LastAccessed: base.Add(time.Duration(i) * time.Minute),
		})
	}
	// Different user
	s.InsertTrackedChannel(ctx, &models.TrackedChannel{
		UserID: "user-2", ChannelID: "UCother", LastAccessed: base,
	})

	channels, err := s.ListTrackedChannels(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTrackedChannels() error = %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("ListTrackedChannels() returned %d, want 3", len(channels))
	}
	if channels[0].ChannelID != "UCnew" {
		t.Errorf("channels[0].ChannelID = %q, want %q (most recently accessed first)", channels[0].ChannelID, "UCnew")
	}
	if channels[2].ChannelID != "UCold" {
		t.Errorf("channels[2].ChannelID = %q, want %q", channels[2].ChannelID, "UCold")
	}
}

// ─── Analytics snapshots ─────────────────────────────────────

func TestSaveAndLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	s.SaveSnapshot(ctx, &models.ChannelSnapshot{
		ChannelID: "UCabc", CapturedAt: base.Add(-time.Hour), AvgViewsPerVideo: 100,
	})
	s.SaveSnapshot(ctx, &models.ChannelSnapshot{
		ChannelID: "UCabc", CapturedAt: base, AvgViewsPerVideo: 250,
	})

	snap, err := s.LatestSnapshot(ctx, "UCabc")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if snap.AvgViewsPerVideo != 250 {
		t.Errorf("LatestSnapshot().AvgViewsPerVideo = %v, want 250", snap.AvgViewsPerVideo)
	}

	if _, err := s.LatestSnapshot(ctx, "UCmissing"); err == nil {
		t.Error("LatestSnapshot() for unknown channel should return error, got nil")
	}
}

// ─── Recommendations ─────────────────────────────────────────

func TestSaveAndListRecommendations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.SaveRecommendation(ctx, &models.VideoRecommendation{
			ID:        "rec-" + string(rune('a'+i)),
			ChannelID: "UCabc",
			UserID:    "user-1",
			Ideas:     []string{"idea"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	recs, err := s.ListRecommendations(ctx, "UCabc", "user-1", 2)
	if err != nil {
		t.Fatalf("ListRecommendations() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ListRecommendations() returned %d, want 2 (limit)", len(recs))
	}
	if recs[0].ID != "rec-c" {
		t.Errorf("recs[0].ID = %q, want %q (newest first)", recs[0].ID, "rec-c")
	}
}

// ─── Saved responses ─────────────────────────────────────────

func TestSavedResponseCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.SavedResponse{
		ID:            "resp-1",
		Title:         "Channel audit for UCabc",
		AgentID:       "agent1_channel_auditor",
		AgentName:     "Channel Auditor",
		AgentCodename: "channel_analyst",
		Content:       "## Audit\nDetails...",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.CreateResponse(ctx, r); err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}

	got, err := s.GetResponse(ctx, "resp-1")
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if got.Content != r.Content {
		t.Errorf("GetResponse().Content = %q, want %q", got.Content, r.Content)
	}

	got.Title = "Renamed audit"
	got.UpdatedAt = time.Now().UTC().Add(time.Minute)
	if err := s.UpdateResponse(ctx, got); err != nil {
		t.Fatalf("UpdateResponse() error = %v", err)
	}
	updated, _ := s.GetResponse(ctx, "resp-1")
	if updated.Title != "Renamed audit" {
		t.Errorf("After update, Title = %q, want %q", updated.Title, "Renamed audit")
	}

	if err := s.DeleteResponse(ctx, "resp-1"); err != nil {
		t.Fatalf("DeleteResponse() error = %v", err)
	}
	if _, err := s.GetResponse(ctx, "resp-1"); err == nil {
		t.Error("GetResponse() after delete should return error, got nil")
	}
	if err := s.DeleteResponse(ctx, "resp-1"); err == nil {
		t.Error("DeleteResponse() twice should return error, got nil")
	}
}

func TestListResponses_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"resp-old", "resp-new"} {
		s.CreateResponse(ctx, &models.SavedResponse{
			ID:        id,
			Title:     "r",
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	responses, err := s.ListResponses(ctx)
	if err != nil {
		t.Fatalf("ListResponses() error = %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("ListResponses() returned %d, want 2", len(responses))
	}
	if responses[0].ID != "resp-new" {
		t.Errorf("responses[0].ID = %q, want %q (most recently updated first)", responses[0].ID, "resp-new")
	}
}

// ─── Close / Snapshot ───────────────────────────────────────

func TestCloseFlush(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("VIEWCRAFT_DATA_DIR", dir)
	s := store.NewMemoryStore()
	os.Unsetenv("VIEWCRAFT_DATA_DIR")

	ctx := context.Background()
	s.InsertTrackedChannel(ctx, &models.TrackedChannel{
		UserID: "user-1", ChannelID: "UCpersist", Title: "Persist Me",
	})

	// Close should flush to disk
	s.Close()

	// Reopen and verify data survived
	os.Setenv("VIEWCRAFT_DATA_DIR", dir)
	s2 := store.NewMemoryStore()
	os.Unsetenv("VIEWCRAFT_DATA_DIR")
	defer s2.Close()

	got, err := s2.GetTrackedChannel(ctx, "UCpersist", "user-1")
	if err != nil {
		t.Fatalf("After reopen, GetTrackedChannel() error = %v", err)
	}
	if got.Title != "Persist Me" {
		t.Errorf("After reopen, channel title = %q, want %q", got.Title, "Persist Me")
	}
}
