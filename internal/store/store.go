// Package store provides the storage interface and implementations for
// the operational database: chat history, tracked channels, analytics
// snapshots, video recommendations, and saved responses.
package store

import (
	"context"
	"time"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ChatTTL is how long chat messages live before storage expires them.
const ChatTTL = 24 * time.Hour

// Store is the primary storage interface for the backend.
// All handler code depends on this interface, making it easy to swap
// between in-memory (tests, fallback) and MongoDB (production)
// implementations.
type Store interface {
	ChatStore
	ChannelStore
	SnapshotStore
	RecommendationStore
	ResponseStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Chat Store ──────────────────────────────────────────────

// ChatStore manages chat history for the conversational agents.
// Messages expire ChatTTL after their timestamp; reads never return
// expired turns.
type ChatStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	GetHistory(ctx context.Context, conv models.Conversation, sessionID, userID string) ([]models.ChatMessage, error)

	// ClearHistory removes the exact (session, user) pair only and
	// reports how many turns were deleted.
	ClearHistory(ctx context.Context, conv models.Conversation, sessionID, userID string) (int64, error)
}

// ── Channel Store ───────────────────────────────────────────

// ChannelStore manages channels users have registered for tracking.
// Rows are unique per (channel_id, user_id).
type ChannelStore interface {
	GetTrackedChannel(ctx context.Context, channelID, userID string) (*models.TrackedChannel, error)
	InsertTrackedChannel(ctx context.Context, ch *models.TrackedChannel) error

	// TouchTrackedChannel bumps last_accessed on an existing row.
	TouchTrackedChannel(ctx context.Context, channelID, userID string, when time.Time) error

	// ListTrackedChannels returns a user's channels, most recently
	// accessed first.
	ListTrackedChannels(ctx context.Context, userID string) ([]models.TrackedChannel, error)
}

// ── Snapshot Store ──────────────────────────────────────────

// SnapshotStore keeps analytics captures per channel.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.ChannelSnapshot) error
	LatestSnapshot(ctx context.Context, channelID string) (*models.ChannelSnapshot, error)

	// SnapshotChannels lists every channel with at least one stored
	// capture.
	SnapshotChannels(ctx context.Context) ([]string, error)

	// PruneSnapshots drops all but the newest keep captures for a
	// channel and reports how many were removed.
	PruneSnapshots(ctx context.Context, channelID string, keep int) (int64, error)
}

// ── Recommendation Store ────────────────────────────────────

// RecommendationStore persists generated video-idea batches.
type RecommendationStore interface {
	SaveRecommendation(ctx context.Context, rec *models.VideoRecommendation) error
	ListRecommendations(ctx context.Context, channelID, userID string, limit int) ([]models.VideoRecommendation, error)

	// PruneRecommendations removes batches created before cutoff.
	PruneRecommendations(ctx context.Context, cutoff time.Time) (int64, error)
}

// ── Response Store ──────────────────────────────────────────

// ResponseStore persists agent outputs users chose to keep.
type ResponseStore interface {
	// ListResponses returns all saved responses, most recently updated
	// first.
	ListResponses(ctx context.Context) ([]models.SavedResponse, error)
	GetResponse(ctx context.Context, id string) (*models.SavedResponse, error)
	CreateResponse(ctx context.Context, r *models.SavedResponse) error
	UpdateResponse(ctx context.Context, r *models.SavedResponse) error
	DeleteResponse(ctx context.Context, id string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
