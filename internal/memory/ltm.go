package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Long-term memory thresholds.
const (
	// BestQThreshold filters which experiences count as "best" when
	// reading back for central sync.
	BestQThreshold = 0.8
	// SimilarQThreshold filters which past experiences are worth
	// recalling for an action.
	SimilarQThreshold = 0.5
	// PatternConfidenceFloor hides patterns that have not firmed up.
	PatternConfidenceFloor = 0.6
	// CleanupQThreshold: old experiences below this Q are purged.
	CleanupQThreshold = 0.3
)

// LTM is one agent's long-term memory on MongoDB. A nil database means
// the tier is degraded: writes return ErrUnavailable, reads return
// empty results, and the condition is visible in Status().
type LTM struct {
	db       *mongo.Database
	client   *mongo.Client
	agentID  string
	database string
}

// NewLTM connects to the long-term database. Connection failure is not
// fatal — the agent runs with the tier degraded.
func NewLTM(ctx context.Context, uri, dbName, agentID string) *LTM {
	l := &LTM{agentID: agentID, database: dbName}

	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err == nil {
		err = client.Ping(ctx, readpref.Primary())
	}
	if err != nil {
		log.Warn().Err(err).Str("agent", agentID).Msg("Long-term memory unreachable, persistence disabled")
		return l
	}

	l.client = client
	l.db = client.Database(dbName)
	l.ensureIndexes(ctx)
	log.Info().Str("agent", agentID).Str("database", dbName).Msg("Long-term memory connected")
	return l
}

// NewDegradedLTM returns a long-term tier with no backing database,
// skipping connection entirely. Used by tests and offline tools.
func NewDegradedLTM(dbName, agentID string) *LTM {
	return &LTM{agentID: agentID, database: dbName}
}

// Connected reports whether the tier has a live database.
func (l *LTM) Connected() bool { return l.db != nil }

// Close releases the client, if any.
func (l *LTM) Close(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return l.client.Disconnect(ctx)
}

func (l *LTM) experiencesColl() string { return "agent_" + l.agentID + "_experiences" }
func (l *LTM) patternsColl() string    { return "agent_" + l.agentID + "_patterns" }
func (l *LTM) strategiesColl() string  { return "agent_" + l.agentID + "_strategies" }

// Collections lists the agent's collection names for the status report.
func (l *LTM) Collections() []string {
	return []string{l.experiencesColl(), l.patternsColl(), l.strategiesColl()}
}

// Status reports the tier's connection state.
func (l *LTM) Status() models.LTMStatus {
	return models.LTMStatus{
		Connected:   l.Connected(),
		Collections: l.Collections(),
		Database:    l.database,
	}
}

func (l *LTM) ensureIndexes(ctx context.Context) {
	exp := l.db.Collection(l.experiencesColl())
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "q_value", Value: -1}}},
		{Keys: bson.D{{Key: "reward", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}}},
		{Keys: bson.D{
			{Key: "q_value", Value: -1},
			{Key: "timestamp", Value: -1},
		}},
	}
	if _, err := exp.Indexes().CreateMany(ctx, idx); err != nil {
		log.Warn().Err(err).Str("agent", l.agentID).Msg("Failed to create long-term memory indexes")
	}
}

// ── Experiences ─────────────────────────────────────────────

// StoreExperience persists a promoted experience.
func (l *LTM) StoreExperience(ctx context.Context, exp *models.Experience) error {
	if l.db == nil {
		return ErrUnavailable
	}
	if exp.AgentID == "" {
		exp.AgentID = l.agentID
	}
	if _, err := l.db.Collection(l.experiencesColl()).InsertOne(ctx, exp); err != nil {
		return fmt.Errorf("ltm store experience: %w", err)
	}
	return nil
}

// BestExperiences returns the highest-value experiences, Q first and
// reward as tiebreak.
func (l *LTM) BestExperiences(ctx context.Context, minQ float64, limit int) ([]models.Experience, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{
			{Key: "q_value", Value: -1},
			{Key: "reward", Value: -1},
		}).
		SetLimit(int64(limit))
	cur, err := l.db.Collection(l.experiencesColl()).Find(ctx,
		bson.M{"q_value": bson.M{"$gte": minQ}}, opts)
	if err != nil {
		return nil, fmt.Errorf("ltm best experiences: %w", err)
	}
	var out []models.Experience
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ltm decode experiences: %w", err)
	}
	return out, nil
}

// FindSimilar recalls valuable past experiences for the same action.
func (l *LTM) FindSimilar(ctx context.Context, action models.ActionType, limit int) ([]models.Experience, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "q_value", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := l.db.Collection(l.experiencesColl()).Find(ctx, bson.M{
		"action":  action,
		"q_value": bson.M{"$gte": SimilarQThreshold},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("ltm find similar: %w", err)
	}
	var out []models.Experience
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ltm decode experiences: %w", err)
	}
	return out, nil
}

// ── Patterns ────────────────────────────────────────────────

// StorePattern records a learned pattern.
func (l *LTM) StorePattern(ctx context.Context, p *models.Pattern) error {
	if l.db == nil {
		return ErrUnavailable
	}
	if p.AgentID == "" {
		p.AgentID = l.agentID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, err := l.db.Collection(l.patternsColl()).InsertOne(ctx, p); err != nil {
		return fmt.Errorf("ltm store pattern: %w", err)
	}
	return nil
}

// UpsertPattern creates or refreshes a pattern keyed by
// (agent_id, pattern_name). For patterns that arrive repeatedly, such
// as applied global insights.
func (l *LTM) UpsertPattern(ctx context.Context, p *models.Pattern) error {
	if l.db == nil {
		return ErrUnavailable
	}
	if p.AgentID == "" {
		p.AgentID = l.agentID
	}
	now := time.Now().UTC()
	_, err := l.db.Collection(l.patternsColl()).UpdateOne(ctx,
		bson.M{"agent_id": p.AgentID, "pattern_name": p.Name},
		bson.M{
			"$set": bson.M{
				"description":   p.Description,
				"data":          p.Data,
				"confidence":    p.Confidence,
				"support_count": p.SupportCount,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ltm upsert pattern: %w", err)
	}
	return nil
}

// Patterns returns firmed-up patterns, most confident first.
func (l *LTM) Patterns(ctx context.Context, limit int) ([]models.Pattern, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "confidence", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := l.db.Collection(l.patternsColl()).Find(ctx,
		bson.M{"confidence": bson.M{"$gte": PatternConfidenceFloor}}, opts)
	if err != nil {
		return nil, fmt.Errorf("ltm patterns: %w", err)
	}
	var out []models.Pattern
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ltm decode patterns: %w", err)
	}
	return out, nil
}

// ── Strategies ──────────────────────────────────────────────

// UpsertStrategy creates or refreshes a strategy keyed by
// (agent_id, strategy_name).
func (l *LTM) UpsertStrategy(ctx context.Context, st *models.Strategy) error {
	if l.db == nil {
		return ErrUnavailable
	}
	if st.AgentID == "" {
		st.AgentID = l.agentID
	}
	now := time.Now().UTC()
	st.UpdatedAt = now

	_, err := l.db.Collection(l.strategiesColl()).UpdateOne(ctx,
		bson.M{"agent_id": st.AgentID, "strategy_name": st.Name},
		bson.M{
			"$set": bson.M{
				"description":  st.Description,
				"parameters":   st.Parameters,
				"success_rate": st.SuccessRate,
				"avg_reward":   st.AvgReward,
				"times_used":   st.TimesUsed,
				"updated_at":   st.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ltm upsert strategy: %w", err)
	}
	return nil
}

// BestStrategies returns the proven playbooks, best first.
func (l *LTM) BestStrategies(ctx context.Context, limit int) ([]models.Strategy, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().
		SetSort(bson.D{
			{Key: "success_rate", Value: -1},
			{Key: "avg_reward", Value: -1},
		}).
		SetLimit(int64(limit))
	cur, err := l.db.Collection(l.strategiesColl()).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ltm best strategies: %w", err)
	}
	var out []models.Strategy
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ltm decode strategies: %w", err)
	}
	return out, nil
}

// ── Stats & cleanup ─────────────────────────────────────────

// Stats aggregates the tier's totals for the status report.
func (l *LTM) Stats(ctx context.Context) (models.LTMStats, error) {
	if l.db == nil {
		return models.LTMStats{}, nil
	}

	exp := l.db.Collection(l.experiencesColl())
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_q", Value: bson.D{{Key: "$avg", Value: "$q_value"}}},
			{Key: "max_q", Value: bson.D{{Key: "$max", Value: "$q_value"}}},
			{Key: "min_q", Value: bson.D{{Key: "$min", Value: "$q_value"}}},
			{Key: "avg_reward", Value: bson.D{{Key: "$avg", Value: "$reward"}}},
		}}},
	}
	cur, err := exp.Aggregate(ctx, pipeline)
	if err != nil {
		return models.LTMStats{}, fmt.Errorf("ltm stats: %w", err)
	}
	var rows []struct {
		Total     int64   `bson:"total"`
		AvgQ      float64 `bson:"avg_q"`
		MaxQ      float64 `bson:"max_q"`
		MinQ      float64 `bson:"min_q"`
		AvgReward float64 `bson:"avg_reward"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return models.LTMStats{}, fmt.Errorf("ltm stats decode: %w", err)
	}

	var stats models.LTMStats
	if len(rows) > 0 {
		stats.TotalExperiences = rows[0].Total
		stats.AvgQValue = rows[0].AvgQ
		stats.MaxQValue = rows[0].MaxQ
		stats.MinQValue = rows[0].MinQ
		stats.AvgReward = rows[0].AvgReward
	}

	highValue, err := exp.CountDocuments(ctx, bson.M{"q_value": bson.M{"$gte": BestQThreshold}})
	if err != nil {
		return stats, fmt.Errorf("ltm stats count: %w", err)
	}
	stats.HighValueCount = highValue

	if stats.LearnedPatterns, err = l.db.Collection(l.patternsColl()).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("ltm stats patterns: %w", err)
	}
	if stats.ActiveStrategies, err = l.db.Collection(l.strategiesColl()).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("ltm stats strategies: %w", err)
	}
	return stats, nil
}

// Cleanup purges low-value experiences older than the retention window.
// High-Q experiences survive regardless of age.
func (l *LTM) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if l.db == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := l.db.Collection(l.experiencesColl()).DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff},
		"q_value":   bson.M{"$lt": CleanupQThreshold},
	})
	if err != nil {
		return 0, fmt.Errorf("ltm cleanup: %w", err)
	}
	return res.DeletedCount, nil
}
