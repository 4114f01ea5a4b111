// Package tracker manages the channels users follow: registration with
// duplicate detection, analytics snapshots, and recommendations built
// from what already performs.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/store"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// snapshotVideos is how many recent uploads one analytics capture holds.
const snapshotVideos = 50

// maxIdeas caps one recommendation batch.
const maxIdeas = 6

// Messages surfaced to the dashboard on track requests.
const (
	msgAdded          = "Channel added for tracking"
	msgAlreadyTracked = "Channel already being tracked"
)

// Tracker coordinates the store and the data API.
type Tracker struct {
	store store.Store
	yt    youtube.Client
}

// New wires a tracker. yt may be nil; tracking then works only for
// canonical channel IDs and snapshots are unavailable.
func New(st store.Store, yt youtube.Client) *Tracker {
	return &Tracker{store: st, yt: yt}
}

// Track registers a channel for a user. Re-tracking the same channel
// refreshes its last-accessed time and reports already_tracked rather
// than duplicating the row.
func (t *Tracker) Track(ctx context.Context, rawURL, userID string) (*models.TrackResult, error) {
	channelID, err := youtube.ResolveChannelID(ctx, t.yt, rawURL)
	if err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}

	now := time.Now().UTC()
	existing, err := t.store.GetTrackedChannel(ctx, channelID, userID)
	switch {
	case err == nil:
		if err := t.store.TouchTrackedChannel(ctx, channelID, userID, now); err != nil {
			log.Debug().Err(err).Str("channel", channelID).Msg("last-accessed bump failed")
		}
		return &models.TrackResult{
			Status:       models.TrackStatusAlreadyTracked,
			ChannelID:    channelID,
			ChannelTitle: existing.Title,
			Message:      msgAlreadyTracked,
		}, nil
	default:
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, fmt.Errorf("track lookup: %w", err)
		}
	}

	ch := &models.TrackedChannel{
		UserID:          userID,
		ChannelID:       channelID,
		ChannelURL:      rawURL,
		Title:           channelID,
		CreatedAt:       now,
		LastAccessed:    now,
		TrackingEnabled: true,
	}
	if t.yt != nil {
		info, err := t.yt.Channel(ctx, channelID)
		switch {
		case err == nil:
			ch.Title = info.Title
			ch.Description = info.Description
			ch.SubscriberCount = info.Subscribers
			ch.VideoCount = info.VideoCount
			ch.ViewCount = info.ViewCount
			ch.Thumbnail = info.Thumbnail
		case errors.Is(err, youtube.ErrNotFound):
			// The reference parsed but names no real channel.
			return nil, fmt.Errorf("track: %w", err)
		default:
			log.Warn().Err(err).Str("channel", channelID).Msg("profile fetch failed, tracking with bare ID")
		}
	}
	if err := t.store.InsertTrackedChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("track insert: %w", err)
	}

	// First analytics capture, best effort.
	if _, err := t.Snapshot(ctx, channelID); err != nil {
		log.Debug().Err(err).Str("channel", channelID).Msg("initial snapshot skipped")
	}

	log.Info().Str("channel", channelID).Str("user", userID).Msg("Channel tracked")
	return &models.TrackResult{
		Status:       models.TrackStatusSuccess,
		ChannelID:    channelID,
		ChannelTitle: ch.Title,
		Message:      msgAdded,
	}, nil
}

// Tracked lists the user's channels, most recently accessed first.
func (t *Tracker) Tracked(ctx context.Context, userID string) ([]models.TrackedChannel, error) {
	return t.store.ListTrackedChannels(ctx, userID)
}

// Snapshot captures recent-upload analytics for a channel and persists
// the capture for agents and chat grounding.
func (t *Tracker) Snapshot(ctx context.Context, channelID string) (*models.ChannelSnapshot, error) {
	if t.yt == nil {
		return nil, youtube.ErrNoAPIKey
	}
	videos, err := t.yt.RecentVideos(ctx, channelID, snapshotVideos)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", channelID, err)
	}
	snap := buildSnapshot(channelID, videos, time.Now().UTC())
	if err := t.store.SaveSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("snapshot not persisted")
	}
	return snap, nil
}

// LatestSnapshot returns the stored capture for a channel, taking a
// fresh one when none exists yet.
func (t *Tracker) LatestSnapshot(ctx context.Context, channelID string) (*models.ChannelSnapshot, error) {
	snap, err := t.store.LatestSnapshot(ctx, channelID)
	if err == nil {
		return snap, nil
	}
	if _, ok := err.(*store.ErrNotFound); !ok {
		return nil, err
	}
	return t.Snapshot(ctx, channelID)
}

// buildSnapshot derives the aggregates from a batch of uploads.
func buildSnapshot(channelID string, videos []models.VideoStats, at time.Time) *models.ChannelSnapshot {
	snap := &models.ChannelSnapshot{
		ChannelID:    channelID,
		CapturedAt:   at,
		RecentVideos: videos,
	}
	if len(videos) == 0 {
		return snap
	}
	var eng float64
	for _, v := range videos {
		snap.TotalViews += v.Views
		snap.TotalLikes += v.Likes
		snap.TotalComments += v.Comments
		eng += v.EngagementRate
	}
	n := float64(len(videos))
	snap.AvgViewsPerVideo = float64(snap.TotalViews) / n
	snap.AvgEngagementRate = eng / n
	return snap
}

// ── Momentum scoring ────────────────────────────────────────

// ScoredVideo pairs an upload with its momentum score.
type ScoredVideo struct {
	models.VideoStats
	Score float64 `json:"score"`
}

// ScoreVideos ranks uploads by blended momentum: 40% recency, 40%
// views relative to the batch's best, 20% relative engagement. Recency
// decays linearly to zero over a year. Scores land in [0,1].
func ScoreVideos(videos []models.VideoStats, now time.Time) []ScoredVideo {
	if len(videos) == 0 {
		return nil
	}
	var maxViews int64
	var maxEng float64
	for _, v := range videos {
		if v.Views > maxViews {
			maxViews = v.Views
		}
		if v.EngagementRate > maxEng {
			maxEng = v.EngagementRate
		}
	}

	out := make([]ScoredVideo, 0, len(videos))
	for _, v := range videos {
		var recency float64
		if !v.PublishedAt.IsZero() {
			ageDays := now.Sub(v.PublishedAt).Hours() / 24
			recency = math.Max(0, 1-ageDays/365)
		}
		var relViews, relEng float64
		if maxViews > 0 {
			relViews = float64(v.Views) / float64(maxViews)
		}
		if maxEng > 0 {
			relEng = v.EngagementRate / maxEng
		}
		out = append(out, ScoredVideo{
			VideoStats: v,
			Score:      0.4*recency + 0.4*relViews + 0.2*relEng,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// ── Recommendations ─────────────────────────────────────────

// VideoIdeas builds a recommendation batch from the channel's proven
// performers: the top uploads by views and by engagement, reframed as
// next videos. The batch is persisted for later retrieval.
func (t *Tracker) VideoIdeas(ctx context.Context, channelID, userID string) (*models.VideoRecommendation, error) {
	snap, err := t.LatestSnapshot(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if len(snap.RecentVideos) == 0 {
		return nil, fmt.Errorf("video ideas %s: no uploads in snapshot", channelID)
	}

	rec := &models.VideoRecommendation{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		UserID:    userID,
		Ideas:     ideasFromSnapshot(snap),
		Basis:     fmt.Sprintf("top performers of %d recent uploads", len(snap.RecentVideos)),
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.SaveRecommendation(ctx, rec); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("recommendation not persisted")
	}
	return rec, nil
}

// Recommendations lists previously generated batches, newest first.
func (t *Tracker) Recommendations(ctx context.Context, channelID, userID string, limit int) ([]models.VideoRecommendation, error) {
	return t.store.ListRecommendations(ctx, channelID, userID, limit)
}

// ideasFromSnapshot reframes the best performers as follow-up uploads:
// three sequels to the view leaders, three community follow-ups to the
// engagement leaders, deduplicated.
func ideasFromSnapshot(snap *models.ChannelSnapshot) []string {
	byViews := make([]models.VideoStats, len(snap.RecentVideos))
	copy(byViews, snap.RecentVideos)
	sort.SliceStable(byViews, func(i, j int) bool { return byViews[i].Views > byViews[j].Views })

	byEng := make([]models.VideoStats, len(snap.RecentVideos))
	copy(byEng, snap.RecentVideos)
	sort.SliceStable(byEng, func(i, j int) bool { return byEng[i].EngagementRate > byEng[j].EngagementRate })

	seen := make(map[string]bool)
	var ideas []string
	for i, v := range byViews {
		if i == 3 || len(ideas) == maxIdeas {
			break
		}
		if seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		ideas = append(ideas, fmt.Sprintf("Sequel to %q — it pulled %d views; keep the promise, change the angle.", v.Title, v.Views))
	}
	for i, v := range byEng {
		if i == 3 || len(ideas) == maxIdeas {
			break
		}
		if seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		ideas = append(ideas, fmt.Sprintf("Community follow-up to %q — %.1f%% engagement says this audience wants more.", v.Title, v.EngagementRate*100))
	}
	return ideas
}
