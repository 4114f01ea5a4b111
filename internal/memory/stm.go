// Package memory implements the three-tier agent memory hierarchy:
//
//   - STM: Redis-backed short-term memory, 24h TTL, per-agent keyspace
//   - LTM: MongoDB-backed long-term memory, per-agent collections
//   - Central: shared MongoDB database merging high-value experiences
//     from all agents into cross-agent insights
//
// Every tier degrades gracefully: when its backend is unreachable the
// STM falls back to an in-process store, while LTM/Central writes
// return ErrUnavailable and reads return empty results, so the request
// path and the learner never block on a dead database.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ErrUnavailable is returned by write operations when the tier's
// backend is unreachable. Callers skip persistence and keep going.
var ErrUnavailable = errors.New("memory tier unavailable")

// ErrExpired is returned when an experience's TTL ran out before the
// operation reached it.
var ErrExpired = errors.New("experience expired")

// STM TTLs and limits.
const (
	ExperienceTTL = 24 * time.Hour
	// minRemainingTTL is the floor applied when a Q-value update
	// rewrites an experience: updates must not shorten its life below
	// this.
	minRemainingTTL = time.Hour
	// maxScan bounds how many index entries a scan walks.
	maxScan = 1000
	// HighQThreshold marks an experience as promotion-worthy.
	HighQThreshold = 0.7
)

// STM is one agent's short-term experience store.
type STM interface {
	Store(ctx context.Context, exp *models.Experience) error
	Recent(ctx context.Context, limit int) ([]models.Experience, error)
	// HighQ returns experiences with QValue >= threshold, best first.
	HighQ(ctx context.Context, threshold float64, limit int) ([]models.Experience, error)
	// UpdateQ rewrites an experience's Q-value without shortening its
	// remaining TTL below the floor.
	UpdateQ(ctx context.Context, expID string, q float64) error
	Delete(ctx context.Context, expID string) error
	Stats(ctx context.Context) (models.STMStats, error)
	Status(ctx context.Context) models.STMStatus
	Close() error
}

// NewExperienceID builds the canonical experience identifier:
// millisecond timestamp plus a 4-digit discriminator.
func NewExperienceID() string {
	h := fnv.New32a()
	h.Write([]byte(uuid.New().String()))
	return fmt.Sprintf("%d_%04d", time.Now().UnixMilli(), h.Sum32()%10000)
}

// NewSTM connects to Redis and returns the Redis-backed STM. When the
// connection fails it falls back to the in-process store so the agent
// keeps learning; the switch is visible in Status().
func NewSTM(ctx context.Context, redisURL, agentID string) STM {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Str("agent", agentID).Msg("Invalid STM Redis URL, using in-process short-term memory")
		return NewMemorySTM(agentID)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("agent", agentID).Msg("Redis unreachable, using in-process short-term memory")
		_ = client.Close()
		return NewMemorySTM(agentID)
	}

	log.Info().Str("agent", agentID).Msg("Short-term memory connected to Redis")
	return &RedisSTM{client: client, agentID: agentID, prefix: KeyPrefix(agentID)}
}

// KeyPrefix returns an agent's STM keyspace prefix.
func KeyPrefix(agentID string) string {
	return "agent:" + agentID + ":stm"
}

// RedisSTM implements STM on Redis.
type RedisSTM struct {
	client  *redis.Client
	agentID string
	prefix  string
}

func (s *RedisSTM) expKey(id string) string { return s.prefix + ":exp:" + id }
func (s *RedisSTM) listKey() string         { return s.prefix + ":list" }

func (s *RedisSTM) Store(ctx context.Context, exp *models.Experience) error {
	if exp.ID == "" {
		exp.ID = NewExperienceID()
	}
	if exp.AgentID == "" {
		exp.AgentID = s.agentID
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now().UTC()
	}

	data, err := marshalExperience(exp)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.expKey(exp.ID), data, ExperienceTTL)
	pipe.LPush(ctx, s.listKey(), exp.ID)
	pipe.Expire(ctx, s.listKey(), ExperienceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stm store: %w", err)
	}
	return nil
}

func (s *RedisSTM) Recent(ctx context.Context, limit int) ([]models.Experience, error) {
	if limit <= 0 || limit > maxScan {
		limit = maxScan
	}
	ids, err := s.client.LRange(ctx, s.listKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("stm recent: %w", err)
	}
	return s.fetch(ctx, ids)
}

func (s *RedisSTM) HighQ(ctx context.Context, threshold float64, limit int) ([]models.Experience, error) {
	all, err := s.Recent(ctx, maxScan)
	if err != nil {
		return nil, err
	}
	var out []models.Experience
	for _, exp := range all {
		if exp.QValue >= threshold {
			out = append(out, exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QValue > out[j].QValue })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisSTM) UpdateQ(ctx context.Context, expID string, q float64) error {
	key := s.expKey(expID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("stm update %s: %w", expID, ErrExpired)
	}
	if err != nil {
		return fmt.Errorf("stm update: %w", err)
	}
	exp, err := unmarshalExperience(data)
	if err != nil {
		return err
	}
	exp.QValue = q

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil || remaining < minRemainingTTL {
		remaining = minRemainingTTL
	}

	out, err := marshalExperience(exp)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, out, remaining).Err(); err != nil {
		return fmt.Errorf("stm update: %w", err)
	}
	return nil
}

func (s *RedisSTM) Delete(ctx context.Context, expID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.expKey(expID))
	pipe.LRem(ctx, s.listKey(), 0, expID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stm delete: %w", err)
	}
	return nil
}

func (s *RedisSTM) Stats(ctx context.Context) (models.STMStats, error) {
	all, err := s.Recent(ctx, maxScan)
	if err != nil {
		return models.STMStats{}, err
	}
	return summarize(all), nil
}

func (s *RedisSTM) Status(ctx context.Context) models.STMStatus {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	connected := s.client.Ping(pingCtx).Err() == nil
	return models.STMStatus{
		Connected:   connected,
		KeyPrefix:   s.prefix,
		StorageType: "redis",
	}
}

func (s *RedisSTM) Close() error {
	return s.client.Close()
}

// fetch resolves experience IDs to payloads, skipping entries whose
// keys already expired out from under the index list.
func (s *RedisSTM) fetch(ctx context.Context, ids []string) ([]models.Experience, error) {
	var out []models.Experience
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.expKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stm fetch: %w", err)
		}
		exp, err := unmarshalExperience(data)
		if err != nil {
			log.Warn().Err(err).Str("experience", id).Msg("Skipping undecodable experience")
			continue
		}
		out = append(out, *exp)
	}
	return out, nil
}

func marshalExperience(exp *models.Experience) ([]byte, error) {
	data, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("marshal experience: %w", err)
	}
	return data, nil
}

func unmarshalExperience(data []byte) (*models.Experience, error) {
	var exp models.Experience
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("unmarshal experience: %w", err)
	}
	return &exp, nil
}

// summarize derives STM stats from a slice of experiences.
func summarize(exps []models.Experience) models.STMStats {
	stats := models.STMStats{TotalExperiences: len(exps)}
	if len(exps) == 0 {
		return stats
	}
	var qSum, rSum float64
	for _, exp := range exps {
		qSum += exp.QValue
		rSum += exp.Reward
		if exp.QValue >= HighQThreshold {
			stats.HighQCount++
		}
		if exp.Timestamp.After(stats.LastActionTime) {
			stats.LastActionTime = exp.Timestamp
		}
	}
	stats.AvgQValue = qSum / float64(len(exps))
	stats.AvgReward = rSum / float64(len(exps))
	return stats
}
