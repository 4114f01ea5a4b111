package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Realtime metrics retention.
const (
	channelMetricsTTL = 2 * time.Hour
	perfRingSize      = 100
	perfRingTTL       = 24 * time.Hour
)

// RealtimeMetrics caches hot channel metrics and keeps a bounded ring
// of recent per-agent performance samples. Redis (a separate DB index
// from the STM) is the primary backend; when it is unreachable an
// in-process cache takes over with the same TTL semantics.
type RealtimeMetrics struct {
	client *redis.Client // nil → in-process fallback

	cache *ristretto.Cache
	mu    sync.Mutex
	rings map[string][]models.PerformanceSample
}

// NewRealtimeMetrics connects to the metrics Redis DB, falling back to
// the in-process cache when the connection fails.
func NewRealtimeMetrics(ctx context.Context, redisURL string, db int) *RealtimeMetrics {
	opts, err := redis.ParseURL(redisURL)
	if err == nil {
		opts.DB = db
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err = client.Ping(pingCtx).Err(); err == nil {
			log.Info().Int("db", db).Msg("Realtime metrics connected to Redis")
			return &RealtimeMetrics{client: client}
		}
		_ = client.Close()
	}

	log.Warn().Err(err).Msg("Metrics Redis unreachable, using in-process cache")
	return NewMemoryMetrics()
}

// NewMemoryMetrics builds the in-process variant directly.
func NewMemoryMetrics() *RealtimeMetrics {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// Only possible with a broken config; run without the metric cache.
		log.Error().Err(err).Msg("Failed to build in-process metric cache")
	}
	return &RealtimeMetrics{
		cache: cache,
		rings: make(map[string][]models.PerformanceSample),
	}
}

// StorageType reports which backend is live ("redis" or "memory").
func (m *RealtimeMetrics) StorageType() string {
	if m.client != nil {
		return "redis"
	}
	return "memory"
}

// Close releases the Redis client or the in-process cache.
func (m *RealtimeMetrics) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	if m.cache != nil {
		m.cache.Close()
	}
	return nil
}

func channelKey(channelID string) string { return "youtube:metrics:" + channelID }
func perfKey(agentID string) string      { return "agent:performance:" + agentID }

// ── Channel metrics ─────────────────────────────────────────

// SetChannelMetrics caches a channel's hot metrics for 2h.
func (m *RealtimeMetrics) SetChannelMetrics(ctx context.Context, channelID string, metrics map[string]float64) error {
	if m.client != nil {
		fields := make(map[string]any, len(metrics))
		for k, v := range metrics {
			fields[k] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		pipe := m.client.TxPipeline()
		pipe.HSet(ctx, channelKey(channelID), fields)
		pipe.Expire(ctx, channelKey(channelID), channelMetricsTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("set channel metrics: %w", err)
		}
		return nil
	}

	if m.cache != nil {
		cp := make(map[string]float64, len(metrics))
		for k, v := range metrics {
			cp[k] = v
		}
		m.cache.SetWithTTL(channelKey(channelID), cp, 1, channelMetricsTTL)
		m.cache.Wait()
	}
	return nil
}

// GetChannelMetrics returns cached metrics, or nil on a miss.
func (m *RealtimeMetrics) GetChannelMetrics(ctx context.Context, channelID string) (map[string]float64, error) {
	if m.client != nil {
		fields, err := m.client.HGetAll(ctx, channelKey(channelID)).Result()
		if err != nil {
			return nil, fmt.Errorf("get channel metrics: %w", err)
		}
		if len(fields) == 0 {
			return nil, nil
		}
		out := make(map[string]float64, len(fields))
		for k, v := range fields {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			out[k] = f
		}
		return out, nil
	}

	if m.cache == nil {
		return nil, nil
	}
	v, ok := m.cache.Get(channelKey(channelID))
	if !ok {
		return nil, nil
	}
	metrics, ok := v.(map[string]float64)
	if !ok {
		return nil, nil
	}
	out := make(map[string]float64, len(metrics))
	for k, val := range metrics {
		out[k] = val
	}
	return out, nil
}

// ── Agent performance ring ──────────────────────────────────

// PushPerformance records one sample into the agent's bounded ring.
func (m *RealtimeMetrics) PushPerformance(ctx context.Context, agentID string, sample models.PerformanceSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	if m.client != nil {
		data, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("marshal performance sample: %w", err)
		}
		pipe := m.client.TxPipeline()
		pipe.LPush(ctx, perfKey(agentID), data)
		pipe.LTrim(ctx, perfKey(agentID), 0, perfRingSize-1)
		pipe.Expire(ctx, perfKey(agentID), perfRingTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("push performance: %w", err)
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ring := append([]models.PerformanceSample{sample}, m.rings[agentID]...)
	if len(ring) > perfRingSize {
		ring = ring[:perfRingSize]
	}
	m.rings[agentID] = ring
	return nil
}

// RecentPerformance returns the newest samples, newest first.
func (m *RealtimeMetrics) RecentPerformance(ctx context.Context, agentID string, limit int) ([]models.PerformanceSample, error) {
	if limit <= 0 || limit > perfRingSize {
		limit = perfRingSize
	}

	if m.client != nil {
		raw, err := m.client.LRange(ctx, perfKey(agentID), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("recent performance: %w", err)
		}
		out := make([]models.PerformanceSample, 0, len(raw))
		for _, item := range raw {
			var sample models.PerformanceSample
			if err := json.Unmarshal([]byte(item), &sample); err != nil {
				continue
			}
			out = append(out, sample)
		}
		return out, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.rings[agentID]
	if len(ring) > limit {
		ring = ring[:limit]
	}
	out := make([]models.PerformanceSample, len(ring))
	copy(out, ring)
	return out, nil
}
