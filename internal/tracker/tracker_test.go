package tracker_test

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/internal/tracker"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

const chanID = "UCabcdefghijklmnopqrstuv"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("VIEWCRAFT_DATA_DIR", dir)
	defer os.Unsetenv("VIEWCRAFT_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func newFakeYT() *youtube.Fake {
	f := youtube.NewFake()
	f.Channels[chanID] = &youtube.ChannelInfo{
		ID:          chanID,
		Title:       "Workshop Channel",
		Description: "wood and tools",
		Subscribers: 120_000,
		VideoCount:  240,
		ViewCount:   9_500_000,
	}
	f.Handles["@workshop"] = chanID
	now := time.Now().UTC()
	f.Videos[chanID] = []models.VideoStats{
		{VideoID: "aaaaaaaaaaa", Title: "How I Built the Workshop", PublishedAt: now.Add(-1 * 24 * time.Hour), Views: 80_000, Likes: 4_000, Comments: 600, EngagementRate: 0.0575},
		{VideoID: "bbbbbbbbbbb", Title: "Answering Your Questions", PublishedAt: now.Add(-8 * 24 * time.Hour), Views: 45_000, Likes: 4_000, Comments: 50, EngagementRate: 0.09},
		{VideoID: "ccccccccccc", Title: "Tools I Regret Buying", PublishedAt: now.Add(-15 * 24 * time.Hour), Views: 130_000, Likes: 7_000, Comments: 900, EngagementRate: 0.0608},
		{VideoID: "ddddddddddd", Title: "Shop Vlog 12", PublishedAt: now.Add(-20 * 24 * time.Hour), Views: 20_000, Likes: 390, Comments: 10, EngagementRate: 0.02},
		{VideoID: "eeeeeeeeeee", Title: "One Tool, Five Jigs", PublishedAt: now.Add(-3 * 24 * time.Hour), Views: 60_000, Likes: 4_100, Comments: 100, EngagementRate: 0.07},
	}
	return f
}

func newTestTracker(t *testing.T, yt youtube.Client) (*tracker.Tracker, store.Store) {
	t.Helper()
	st := newTestStore(t)
	return tracker.New(st, yt), st
}

// ─── Track ───────────────────────────────────────────────────

func TestTrack_NewChannel(t *testing.T) {
	tr, st := newTestTracker(t, newFakeYT())
	ctx := context.Background()

	res, err := tr.Track(ctx, "https://www.youtube.com/channel/"+chanID, "user-1")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if res.Status != models.TrackStatusSuccess {
		t.Errorf("Status = %q, want %q", res.Status, models.TrackStatusSuccess)
	}
	if res.Message != "Channel added for tracking" {
		t.Errorf("Message = %q, want %q", res.Message, "Channel added for tracking")
	}
	if res.ChannelTitle != "Workshop Channel" {
		t.Errorf("ChannelTitle = %q, want %q", res.ChannelTitle, "Workshop Channel")
	}

	row, err := st.GetTrackedChannel(ctx, chanID, "user-1")
	if err != nil {
		t.Fatalf("GetTrackedChannel: %v", err)
	}
	if row.SubscriberCount != 120_000 {
		t.Errorf("SubscriberCount = %d, want 120000", row.SubscriberCount)
	}
	if !row.TrackingEnabled {
		t.Error("TrackingEnabled = false, want true")
	}

	// Track captures an initial analytics snapshot.
	snap, err := st.LatestSnapshot(ctx, chanID)
	if err != nil {
		t.Fatalf("LatestSnapshot after Track: %v", err)
	}
	if len(snap.RecentVideos) != 5 {
		t.Errorf("snapshot videos = %d, want 5", len(snap.RecentVideos))
	}
}

func TestTrack_AlreadyTracked(t *testing.T) {
	tr, st := newTestTracker(t, newFakeYT())
	ctx := context.Background()

	if _, err := tr.Track(ctx, "https://www.youtube.com/channel/"+chanID, "user-1"); err != nil {
		t.Fatalf("first Track: %v", err)
	}
	res, err := tr.Track(ctx, "https://www.youtube.com/channel/"+chanID, "user-1")
	if err != nil {
		t.Fatalf("second Track: %v", err)
	}
	if res.Status != models.TrackStatusAlreadyTracked {
		t.Errorf("Status = %q, want %q", res.Status, models.TrackStatusAlreadyTracked)
	}
	if res.Message != "Channel already being tracked" {
		t.Errorf("Message = %q, want %q", res.Message, "Channel already being tracked")
	}

	channels, err := st.ListTrackedChannels(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTrackedChannels: %v", err)
	}
	if len(channels) != 1 {
		t.Errorf("tracked rows = %d, want 1 (no duplicate)", len(channels))
	}
}

func TestTrack_PerUserIsolation(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeYT())
	ctx := context.Background()

	if _, err := tr.Track(ctx, chanID, "user-1"); err != nil {
		t.Fatalf("Track user-1: %v", err)
	}
	res, err := tr.Track(ctx, chanID, "user-2")
	if err != nil {
		t.Fatalf("Track user-2: %v", err)
	}
	if res.Status != models.TrackStatusSuccess {
		t.Errorf("user-2 Status = %q, want %q (dedup is per user)", res.Status, models.TrackStatusSuccess)
	}
}

func TestTrack_Unresolvable(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeYT())
	if _, err := tr.Track(context.Background(), "not a channel", "user-1"); err == nil {
		t.Fatal("expected error for unresolvable reference, got nil")
	}
}

func TestTrack_HandleURL(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeYT())

	res, err := tr.Track(context.Background(), "https://www.youtube.com/@workshop", "user-1")
	if err != nil {
		t.Fatalf("Track via handle: %v", err)
	}
	if res.ChannelID != chanID {
		t.Errorf("ChannelID = %q, want %q", res.ChannelID, chanID)
	}
}

// ─── Snapshots ───────────────────────────────────────────────

func TestSnapshot_Aggregates(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeYT())

	snap, err := tr.Snapshot(context.Background(), chanID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got, want := snap.TotalViews, int64(335_000); got != want {
		t.Errorf("TotalViews = %d, want %d", got, want)
	}
	if got, want := snap.TotalLikes, int64(19_490); got != want {
		t.Errorf("TotalLikes = %d, want %d", got, want)
	}
	if got, want := snap.TotalComments, int64(1_660); got != want {
		t.Errorf("TotalComments = %d, want %d", got, want)
	}
	if got, want := snap.AvgViewsPerVideo, 67_000.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("AvgViewsPerVideo = %v, want %v", got, want)
	}
	wantEng := (0.0575 + 0.09 + 0.0608 + 0.02 + 0.07) / 5
	if math.Abs(snap.AvgEngagementRate-wantEng) > 1e-9 {
		t.Errorf("AvgEngagementRate = %v, want %v", snap.AvgEngagementRate, wantEng)
	}
}

func TestSnapshot_NoClient(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	if _, err := tr.Snapshot(context.Background(), chanID); err == nil {
		t.Fatal("expected error without API client, got nil")
	}
}

func TestLatestSnapshot_TakesFreshWhenMissing(t *testing.T) {
	tr, st := newTestTracker(t, newFakeYT())
	ctx := context.Background()

	snap, err := tr.LatestSnapshot(ctx, chanID)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if len(snap.RecentVideos) != 5 {
		t.Errorf("fresh snapshot videos = %d, want 5", len(snap.RecentVideos))
	}

	// The fresh capture is persisted for next time.
	if _, err := st.LatestSnapshot(ctx, chanID); err != nil {
		t.Errorf("persisted snapshot missing: %v", err)
	}
}

// ─── Scoring ─────────────────────────────────────────────────

func TestScoreVideos_RecencyCanOutweighViews(t *testing.T) {
	now := time.Now().UTC()
	videos := []models.VideoStats{
		{VideoID: "old00000000", Title: "old hit", PublishedAt: now.Add(-400 * 24 * time.Hour), Views: 1000, EngagementRate: 0.10},
		{VideoID: "new00000000", Title: "new riser", PublishedAt: now, Views: 500, EngagementRate: 0.05},
	}

	scored := tracker.ScoreVideos(videos, now)
	if len(scored) != 2 {
		t.Fatalf("len(scored) = %d, want 2", len(scored))
	}
	// old: 0.4·0 + 0.4·1 + 0.2·1 = 0.6; new: 0.4·1 + 0.4·0.5 + 0.2·0.5 = 0.7
	if scored[0].VideoID != "new00000000" {
		t.Errorf("top scored = %s, want new00000000", scored[0].VideoID)
	}
	if math.Abs(scored[0].Score-0.7) > 1e-9 {
		t.Errorf("new score = %v, want 0.7", scored[0].Score)
	}
	if math.Abs(scored[1].Score-0.6) > 1e-9 {
		t.Errorf("old score = %v, want 0.6", scored[1].Score)
	}
}

func TestScoreVideos_Empty(t *testing.T) {
	if got := tracker.ScoreVideos(nil, time.Now()); got != nil {
		t.Errorf("ScoreVideos(nil) = %v, want nil", got)
	}
}

// ─── Video ideas ─────────────────────────────────────────────

func TestVideoIdeas(t *testing.T) {
	tr, st := newTestTracker(t, newFakeYT())
	ctx := context.Background()

	if _, err := tr.Track(ctx, chanID, "user-1"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	rec, err := tr.VideoIdeas(ctx, chanID, "user-1")
	if err != nil {
		t.Fatalf("VideoIdeas: %v", err)
	}

	// Top three by views (C, A, E) as sequels, then the remaining
	// engagement leader (B) as a community follow-up.
	if got, want := len(rec.Ideas), 4; got != want {
		t.Fatalf("len(Ideas) = %d, want %d:\n%v", got, want, rec.Ideas)
	}
	if !strings.Contains(rec.Ideas[0], "Tools I Regret Buying") || !strings.Contains(rec.Ideas[0], "Sequel") {
		t.Errorf("first idea = %q, want sequel to the view leader", rec.Ideas[0])
	}
	if !strings.Contains(rec.Ideas[3], "Answering Your Questions") || !strings.Contains(rec.Ideas[3], "follow-up") {
		t.Errorf("last idea = %q, want follow-up to the engagement leader", rec.Ideas[3])
	}

	saved, err := st.ListRecommendations(ctx, chanID, "user-1", 10)
	if err != nil {
		t.Fatalf("ListRecommendations: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != rec.ID {
		t.Errorf("persisted batch mismatch: %+v", saved)
	}
}

func TestVideoIdeas_NoUploads(t *testing.T) {
	fake := newFakeYT()
	fake.Videos[chanID] = nil

	tr, _ := newTestTracker(t, fake)
	ctx := context.Background()

	if _, err := tr.Track(ctx, chanID, "user-1"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if _, err := tr.VideoIdeas(ctx, chanID, "user-1"); err == nil {
		t.Fatal("expected error for channel with no uploads, got nil")
	}
}
