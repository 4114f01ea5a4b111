// Package store — in-memory Store implementation.
// Used as a fallback when MongoDB is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Chats           []*models.ChatMessage               `json:"chats"`
	Channels        map[string]*models.TrackedChannel   `json:"channels"`         // key: user:channel
	Analytics       map[string][]*models.ChannelSnapshot `json:"analytics"`       // key: channel_id → captures (newest last)
	Recommendations []*models.VideoRecommendation       `json:"recommendations"`
	Responses       map[string]*models.SavedResponse    `json:"responses"`        // key: id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu              sync.RWMutex
	chats           []*models.ChatMessage
	channels        map[string]*models.TrackedChannel    // key: user:channel
	analytics       map[string][]*models.ChannelSnapshot // key: channel_id → captures (newest last)
	recommendations []*models.VideoRecommendation
	responses       map[string]*models.SavedResponse // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
// If VIEWCRAFT_DATA_DIR is set, data is persisted to a JSON file in that
// directory. Otherwise defaults to ~/.viewcraft/data.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		channels:  make(map[string]*models.TrackedChannel),
		analytics: make(map[string][]*models.ChannelSnapshot),
		responses: make(map[string]*models.SavedResponse),
		saveCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}

	// Determine snapshot path
	dataDir := os.Getenv("VIEWCRAFT_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".viewcraft")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		// Ensure directory exists
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	// Load existing data from disk
	if m.snapshotPath != "" {
		m.loadSnapshot()
	}

	// Start background save goroutine (debounced)
	if m.snapshotPath != "" {
		go m.saveLoop()
	}

	// Start chat TTL eviction goroutine (runs every 10 minutes).
	// Reads filter by the TTL window anyway; eviction only bounds memory.
	go m.chatEvictionLoop()

	log.Info().
		Str("chat_ttl", ChatTTL.String()).
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// chatEvictionLoop periodically removes chat turns older than ChatTTL.
func (m *MemoryStore) chatEvictionLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpiredChats()
		}
	}
}

// evictExpiredChats removes chat turns older than ChatTTL.
func (m *MemoryStore) evictExpiredChats() {
	cutoff := time.Now().UTC().Add(-ChatTTL)

	m.mu.Lock()
	kept := m.chats[:0]
	evicted := 0
	for _, msg := range m.chats {
		if msg.Timestamp.After(cutoff) {
			kept = append(kept, msg)
		} else {
			evicted++
		}
	}
	m.chats = kept
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Str("ttl", ChatTTL.String()).Msg("Evicted expired chat turns")
		m.requestSave()
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Chats:           m.chats,
		Channels:        m.channels,
		Analytics:       m.analytics,
		Recommendations: m.recommendations,
		Responses:       m.responses,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Chats != nil {
		m.chats = snap.Chats
	}
	if snap.Channels != nil {
		m.channels = snap.Channels
	}
	if snap.Analytics != nil {
		m.analytics = snap.Analytics
	}
	if snap.Recommendations != nil {
		m.recommendations = snap.Recommendations
	}
	if snap.Responses != nil {
		m.responses = snap.Responses
	}

	log.Info().
		Int("chats", len(m.chats)).
		Int("channels", len(m.channels)).
		Int("responses", len(m.responses)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	// Signal all background goroutines to stop
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	// Force a final snapshot write so no in-flight data is lost
	if m.snapshotPath != "" {
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ── Chat Store ──────────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	cp := *msg

	m.mu.Lock()
	m.chats = append(m.chats, &cp)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, conv models.Conversation, sessionID, userID string) ([]models.ChatMessage, error) {
	cutoff := time.Now().UTC().Add(-ChatTTL)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.ChatMessage
	for _, msg := range m.chats {
		if msg.Conversation != conv || msg.SessionID != sessionID || msg.UserID != userID {
			continue
		}
		if !msg.Timestamp.After(cutoff) {
			continue
		}
		result = append(result, *msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (m *MemoryStore) ClearHistory(_ context.Context, conv models.Conversation, sessionID, userID string) (int64, error) {
	m.mu.Lock()
	kept := m.chats[:0]
	var deleted int64
	for _, msg := range m.chats {
		if msg.Conversation == conv && msg.SessionID == sessionID && msg.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.chats = kept
	m.mu.Unlock()

	if deleted > 0 {
		m.requestSave()
	}
	return deleted, nil
}

// ── Channel Store ───────────────────────────────────────────

func (m *MemoryStore) GetTrackedChannel(_ context.Context, channelID, userID string) (*models.TrackedChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[key(userID, channelID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "channel", Key: channelID}
	}
	cp := *ch
	return &cp, nil
}

func (m *MemoryStore) InsertTrackedChannel(_ context.Context, ch *models.TrackedChannel) error {
	cp := *ch

	m.mu.Lock()
	m.channels[key(ch.UserID, ch.ChannelID)] = &cp
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) TouchTrackedChannel(_ context.Context, channelID, userID string, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[key(userID, channelID)]
	if !ok {
		return &ErrNotFound{Entity: "channel", Key: channelID}
	}
	ch.LastAccessed = when
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTrackedChannels(_ context.Context, userID string) ([]models.TrackedChannel, error) {
	m.mu.RLock()
	var result []models.TrackedChannel
	for _, ch := range m.channels {
		if ch.UserID == userID {
			result = append(result, *ch)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastAccessed.After(result[j].LastAccessed)
	})
	return result, nil
}

// ── Snapshot Store ──────────────────────────────────────────

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap *models.ChannelSnapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	cp := *snap

	m.mu.Lock()
	m.analytics[snap.ChannelID] = append(m.analytics[snap.ChannelID], &cp)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) LatestSnapshot(_ context.Context, channelID string) (*models.ChannelSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	captures := m.analytics[channelID]
	if len(captures) == 0 {
		return nil, &ErrNotFound{Entity: "snapshot", Key: channelID}
	}
	latest := captures[0]
	for _, c := range captures[1:] {
		if c.CapturedAt.After(latest.CapturedAt) {
			latest = c
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) SnapshotChannels(_ context.Context) ([]string, error) {
	m.mu.RLock()
	channels := make([]string, 0, len(m.analytics))
	for id, captures := range m.analytics {
		if len(captures) > 0 {
			channels = append(channels, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(channels)
	return channels, nil
}

func (m *MemoryStore) PruneSnapshots(_ context.Context, channelID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	captures := m.analytics[channelID]
	removed := int64(len(captures) - keep)
	if removed > 0 {
		sort.Slice(captures, func(i, j int) bool {
			return captures[i].CapturedAt.After(captures[j].CapturedAt)
		})
		m.analytics[channelID] = captures[:keep]
	}
	m.mu.Unlock()

	if removed <= 0 {
		return 0, nil
	}
	m.requestSave()
	return removed, nil
}

// ── Recommendation Store ────────────────────────────────────

func (m *MemoryStore) SaveRecommendation(_ context.Context, rec *models.VideoRecommendation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec

	m.mu.Lock()
	m.recommendations = append(m.recommendations, &cp)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListRecommendations(_ context.Context, channelID, userID string, limit int) ([]models.VideoRecommendation, error) {
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	var result []models.VideoRecommendation
	for _, rec := range m.recommendations {
		if rec.ChannelID == channelID && rec.UserID == userID {
			result = append(result, *rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) PruneRecommendations(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	kept := m.recommendations[:0]
	var removed int64
	for _, rec := range m.recommendations {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.recommendations = kept
	m.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	m.requestSave()
	return removed, nil
}

// ── Response Store ──────────────────────────────────────────

func (m *MemoryStore) ListResponses(_ context.Context) ([]models.SavedResponse, error) {
	m.mu.RLock()
	var result []models.SavedResponse
	for _, r := range m.responses {
		result = append(result, *r)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetResponse(_ context.Context, id string) (*models.SavedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.responses[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "response", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateResponse(_ context.Context, r *models.SavedResponse) error {
	cp := *r

	m.mu.Lock()
	m.responses[r.ID] = &cp
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateResponse(_ context.Context, r *models.SavedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.responses[r.ID]
	if !ok {
		return &ErrNotFound{Entity: "response", Key: r.ID}
	}
	existing.Title = r.Title
	existing.Content = r.Content
	existing.UpdatedAt = r.UpdatedAt
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteResponse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.responses[id]; !ok {
		return &ErrNotFound{Entity: "response", Key: id}
	}
	delete(m.responses, id)
	m.requestSave()
	return nil
}
