package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Central database collections.
const (
	collInsights     = "global_insights"
	collSyncs        = "agent_synchronization"
	collStrategies   = "collective_strategies"
	collPatterns     = "cross_agent_patterns"
	collLeaderboard  = "performance_leaderboard"
	collShared       = "shared_experiences"
	collActiveAgents = "active_agents"
)

// Insight generation floors.
const (
	actionInsightMinSamples = 3
	timingInsightMinSamples = 5
	// InsightConfidenceFloor hides insights below this from reads.
	InsightConfidenceFloor = 0.3
	// StrategySuccessFloor hides collective strategies below this.
	StrategySuccessFloor = 0.6
	// crossPatternMinAgents: an action needs this many distinct agents
	// in one sync window to count as a cross-agent pattern.
	crossPatternMinAgents = 3
	// syncWindow is how far back pattern detection looks.
	syncWindow = 24 * time.Hour
)

// Central is the shared memory all agents sync into. The connection is
// lazy and attempted once: a dead database degrades every method to a
// cheap no-op instead of hammering the cluster on each sync.
type Central struct {
	mu        sync.Mutex
	uri       string
	database  string
	client    *mongo.Client
	db        *mongo.Database
	attempted bool
}

// NewCentral prepares a central-memory handle. No connection happens
// until first use.
func NewCentral(uri, dbName string) *Central {
	return &Central{uri: uri, database: dbName}
}

// ensure connects on first use. Returns ErrUnavailable once a previous
// attempt failed.
func (c *Central) ensure(ctx context.Context) (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	if c.attempted {
		return nil, ErrUnavailable
	}
	c.attempted = true

	opts := options.Client().
		ApplyURI(c.uri).
		SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err == nil {
		err = client.Ping(ctx, readpref.Primary())
	}
	if err != nil {
		log.Warn().Err(err).Msg("Central memory unreachable, cross-agent learning disabled")
		return nil, ErrUnavailable
	}

	c.client = client
	c.db = client.Database(c.database)
	log.Info().Str("database", c.database).Msg("Central memory connected")
	return c.db, nil
}

// Connected reports whether the shared database is reachable.
func (c *Central) Connected(ctx context.Context) bool {
	_, err := c.ensure(ctx)
	return err == nil
}

// Close releases the client, if any.
func (c *Central) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// syncRecord is one agent's row in agent_synchronization.
type syncRecord struct {
	AgentID           string              `bson:"agent_id"`
	LastSync          time.Time           `bson:"last_sync"`
	LTMSummary        models.LTMStats     `bson:"ltm_summary"`
	ContributionCount int                 `bson:"contribution_count"`
	TopActions        []models.ActionType `bson:"top_actions"`
}

// ── Registration & sync ─────────────────────────────────────

// RegisterAgent upserts the agent into active_agents.
func (c *Central) RegisterAgent(ctx context.Context, def models.AgentDefinition) error {
	db, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	_, err = db.Collection(collActiveAgents).UpdateOne(ctx,
		bson.M{"agent_id": def.ID},
		bson.M{
			"$set": bson.M{
				"agent_type":   def.Type,
				"capabilities": def.Capabilities,
				"status":       "active",
				"last_seen":    time.Now().UTC(),
			},
			"$setOnInsert": bson.M{
				"registered_at":       time.Now().UTC(),
				"total_contributions": 0,
				"quality_score":       0.5,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("central register agent: %w", err)
	}
	return nil
}

// SyncAgentData records an agent's sync, shares its best experiences,
// and refreshes the global insights. Returns how many experiences were
// shared.
func (c *Central) SyncAgentData(ctx context.Context, def models.AgentDefinition, stats models.LTMStats, best []models.Experience) (int, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return 0, err
	}

	// Which actions dominated this agent's best work
	seen := make(map[models.ActionType]bool)
	var topActions []models.ActionType
	for _, exp := range best {
		if !seen[exp.Action] {
			seen[exp.Action] = true
			topActions = append(topActions, exp.Action)
		}
	}

	rec := syncRecord{
		AgentID:           def.ID,
		LastSync:          time.Now().UTC(),
		LTMSummary:        stats,
		ContributionCount: len(best),
		TopActions:        topActions,
	}
	_, err = db.Collection(collSyncs).UpdateOne(ctx,
		bson.M{"agent_id": def.ID},
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, fmt.Errorf("central sync record: %w", err)
	}

	// Share only the truly high-value experiences
	var shareable []any
	for _, exp := range best {
		if exp.QValue >= BestQThreshold {
			exp.AgentID = def.ID
			shareable = append(shareable, exp)
		}
	}
	if len(shareable) > 0 {
		if _, err := db.Collection(collShared).InsertMany(ctx, shareable); err != nil {
			return 0, fmt.Errorf("central share experiences: %w", err)
		}
		_, err = db.Collection(collActiveAgents).UpdateOne(ctx,
			bson.M{"agent_id": def.ID},
			bson.M{"$inc": bson.M{"total_contributions": len(shareable)}},
		)
		if err != nil {
			return len(shareable), fmt.Errorf("central bump contributions: %w", err)
		}
	}

	if err := c.generateInsights(ctx, db); err != nil {
		log.Warn().Err(err).Str("agent", def.ID).Msg("Insight generation failed")
	}
	return len(shareable), nil
}

// ── Insight generation ──────────────────────────────────────

// generateInsights distills shared experiences into per-action
// performance insights and an upload-timing insight.
func (c *Central) generateInsights(ctx context.Context, db *mongo.Database) error {
	shared := db.Collection(collShared)

	// Per-action performance
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$action"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_reward", Value: bson.D{{Key: "$avg", Value: "$reward"}}},
			{Key: "avg_q", Value: bson.D{{Key: "$avg", Value: "$q_value"}}},
			{Key: "std_dev", Value: bson.D{{Key: "$stdDevPop", Value: "$reward"}}},
		}}},
	}
	cur, err := shared.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregate action performance: %w", err)
	}
	var groups []struct {
		Action    models.ActionType `bson:"_id"`
		N         int               `bson:"n"`
		AvgReward float64           `bson:"avg_reward"`
		AvgQ      float64           `bson:"avg_q"`
		StdDev    float64           `bson:"std_dev"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return fmt.Errorf("decode action performance: %w", err)
	}

	for _, g := range groups {
		if g.N < actionInsightMinSamples {
			continue
		}
		insight := models.GlobalInsight{
			InsightType:      models.InsightActionPerformance,
			ActionType:       g.Action,
			AvgReward:        g.AvgReward,
			AvgQValue:        g.AvgQ,
			StdDev:           g.StdDev,
			SampleSize:       g.N,
			Confidence:       minF(float64(g.N)/10, 1),
			ApplicableAgents: []string{"all"},
			UpdatedAt:        time.Now().UTC(),
		}
		if err := c.upsertInsight(ctx, db, insight); err != nil {
			return err
		}
	}

	// Upload timing: mode of the upload hour across shared experiences
	hourPipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "context.upload_hour", Value: bson.D{{Key: "$exists", Value: true}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$context.upload_hour"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "n", Value: -1}}}},
	}
	cur, err = shared.Aggregate(ctx, hourPipeline)
	if err != nil {
		return fmt.Errorf("aggregate upload hours: %w", err)
	}
	var hours []struct {
		Hour int `bson:"_id"`
		N    int `bson:"n"`
	}
	if err := cur.All(ctx, &hours); err != nil {
		return fmt.Errorf("decode upload hours: %w", err)
	}

	total := 0
	for _, h := range hours {
		total += h.N
	}
	if total >= timingInsightMinSamples {
		insight := models.GlobalInsight{
			InsightType:      models.InsightTimingOptimization,
			ActionType:       models.ActionUploadTime,
			OptimalHour:      hours[0].Hour,
			SampleSize:       total,
			Confidence:       minF(float64(total)/20, 1),
			ApplicableAgents: []string{"all"},
			UpdatedAt:        time.Now().UTC(),
		}
		if err := c.upsertInsight(ctx, db, insight); err != nil {
			return err
		}
	}
	return nil
}

// upsertInsight writes an insight keyed by (insight_type, action_type).
func (c *Central) upsertInsight(ctx context.Context, db *mongo.Database, insight models.GlobalInsight) error {
	_, err := db.Collection(collInsights).UpdateOne(ctx,
		bson.M{
			"insight_type": insight.InsightType,
			"action_type":  insight.ActionType,
			"urgent":       insight.Urgent,
		},
		bson.M{"$set": insight},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("central upsert insight: %w", err)
	}
	return nil
}

// ── Reads ───────────────────────────────────────────────────

// RelevantInsights returns confident insights applicable to the agent:
// tagged "all", or matching the agent's type or one of its capabilities.
func (c *Central) RelevantInsights(ctx context.Context, def models.AgentDefinition, limit int) ([]models.GlobalInsight, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	applicable := append([]string{"all", def.Type}, def.Capabilities...)
	opts := options.Find().
		SetSort(bson.D{{Key: "confidence", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := db.Collection(collInsights).Find(ctx, bson.M{
		"applicable_agents": bson.M{"$in": applicable},
		"confidence":        bson.M{"$gte": InsightConfidenceFloor},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("central relevant insights: %w", err)
	}
	var out []models.GlobalInsight
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("central decode insights: %w", err)
	}
	return out, nil
}

// RelevantStrategies returns proven collective strategies.
func (c *Central) RelevantStrategies(ctx context.Context, limit int) ([]models.CollectiveStrategy, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "success_rate", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := db.Collection(collStrategies).Find(ctx,
		bson.M{"success_rate": bson.M{"$gte": StrategySuccessFloor}}, opts)
	if err != nil {
		return nil, fmt.Errorf("central strategies: %w", err)
	}
	var out []models.CollectiveStrategy
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("central decode strategies: %w", err)
	}
	return out, nil
}

// ShareStrategy promotes an agent strategy into the collective pool.
func (c *Central) ShareStrategy(ctx context.Context, st models.CollectiveStrategy) error {
	db, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()
	_, err = db.Collection(collStrategies).UpdateOne(ctx,
		bson.M{"strategy_name": st.Name},
		bson.M{"$set": st},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("central share strategy: %w", err)
	}
	return nil
}

// ── Cross-agent patterns ────────────────────────────────────

// DetectCrossPatterns finds actions that several agents leaned on in
// the last sync window and persists them.
func (c *Central) DetectCrossPatterns(ctx context.Context) ([]models.CrossAgentPattern, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}

	cur, err := db.Collection(collSyncs).Find(ctx, bson.M{
		"last_sync": bson.M{"$gte": time.Now().UTC().Add(-syncWindow)},
	})
	if err != nil {
		return nil, fmt.Errorf("central recent syncs: %w", err)
	}
	var syncs []syncRecord
	if err := cur.All(ctx, &syncs); err != nil {
		return nil, fmt.Errorf("central decode syncs: %w", err)
	}
	if len(syncs) == 0 {
		return nil, nil
	}

	agentsByAction := make(map[models.ActionType][]string)
	for _, s := range syncs {
		for _, action := range s.TopActions {
			agentsByAction[action] = append(agentsByAction[action], s.AgentID)
		}
	}

	now := time.Now().UTC()
	var patterns []models.CrossAgentPattern
	for action, agents := range agentsByAction {
		if len(agents) < crossPatternMinAgents {
			continue
		}
		p := models.CrossAgentPattern{
			Action:     action,
			Agents:     agents,
			AgentCount: len(agents),
			Strength:   float64(len(agents)) / float64(len(syncs)),
			Confidence: minF(float64(len(agents))/5, 1),
			DetectedAt: now,
		}
		_, err := db.Collection(collPatterns).UpdateOne(ctx,
			bson.M{"action": p.Action},
			bson.M{"$set": p},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return patterns, fmt.Errorf("central upsert pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Strength > patterns[j].Strength })
	return patterns, nil
}

// ── Leaderboard ─────────────────────────────────────────────

// UpdateLeaderboard recomputes every agent's overall score and rank.
// Score blends contribution volume, memory quality, and the share of
// high-value experiences.
func (c *Central) UpdateLeaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}

	cur, err := db.Collection(collActiveAgents).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("central active agents: %w", err)
	}
	var agents []struct {
		AgentID            string `bson:"agent_id"`
		TotalContributions int64  `bson:"total_contributions"`
	}
	if err := cur.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("central decode active agents: %w", err)
	}

	cur, err = db.Collection(collSyncs).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("central syncs: %w", err)
	}
	var syncs []syncRecord
	if err := cur.All(ctx, &syncs); err != nil {
		return nil, fmt.Errorf("central decode syncs: %w", err)
	}
	summaries := make(map[string]models.LTMStats, len(syncs))
	for _, s := range syncs {
		summaries[s.AgentID] = s.LTMSummary
	}

	now := time.Now().UTC()
	var entries []models.LeaderboardEntry
	for _, a := range agents {
		summary := summaries[a.AgentID]

		highShare := 0.0
		if summary.TotalExperiences > 0 {
			highShare = float64(summary.HighValueCount) / float64(summary.TotalExperiences)
		}
		score := 0.3*minF(float64(a.TotalContributions)/1000, 1) +
			0.5*(summary.AvgQValue+summary.AvgReward)/2 +
			0.2*minF(highShare, 1)

		entries = append(entries, models.LeaderboardEntry{
			AgentID:       a.AgentID,
			OverallScore:  score,
			AvgQValue:     summary.AvgQValue,
			AvgReward:     summary.AvgReward,
			Contributions: a.TotalContributions,
			UpdatedAt:     now,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].OverallScore > entries[j].OverallScore })
	for i := range entries {
		entries[i].Rank = i + 1
		_, err := db.Collection(collLeaderboard).UpdateOne(ctx,
			bson.M{"agent_id": entries[i].AgentID},
			bson.M{"$set": entries[i]},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return entries, fmt.Errorf("central upsert leaderboard: %w", err)
		}
	}
	return entries, nil
}

// Leaderboard returns the stored ranking, best first.
func (c *Central) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "rank", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := db.Collection(collLeaderboard).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("central leaderboard: %w", err)
	}
	var out []models.LeaderboardEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("central decode leaderboard: %w", err)
	}
	return out, nil
}

// ── Urgent broadcasts & stats ───────────────────────────────

// BroadcastUrgent flags an insight for all agents immediately.
func (c *Central) BroadcastUrgent(ctx context.Context, insight models.GlobalInsight) error {
	db, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	insight.Urgent = true
	insight.ApplicableAgents = []string{"all"}
	insight.UpdatedAt = time.Now().UTC()
	return c.upsertInsight(ctx, db, insight)
}

// TopInsights returns the most confident insights for the report.
func (c *Central) TopInsights(ctx context.Context, limit int) ([]models.GlobalInsight, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "confidence", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := db.Collection(collInsights).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("central top insights: %w", err)
	}
	var out []models.GlobalInsight
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("central decode insights: %w", err)
	}
	return out, nil
}

// CrossPatterns returns the stored cross-agent patterns.
func (c *Central) CrossPatterns(ctx context.Context, limit int) ([]models.CrossAgentPattern, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "strength", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := db.Collection(collPatterns).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("central cross patterns: %w", err)
	}
	var out []models.CrossAgentPattern
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("central decode patterns: %w", err)
	}
	return out, nil
}

// GlobalStats aggregates the shared database for the status report.
func (c *Central) GlobalStats(ctx context.Context) (models.CentralStats, error) {
	db, err := c.ensure(ctx)
	if err != nil {
		return models.CentralStats{}, nil
	}

	var stats models.CentralStats
	if stats.ActiveAgents, err = db.Collection(collActiveAgents).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("central stats: %w", err)
	}
	if stats.GlobalInsights, err = db.Collection(collInsights).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("central stats: %w", err)
	}
	if stats.CrossPatterns, err = db.Collection(collPatterns).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("central stats: %w", err)
	}
	if stats.SharedExperiences, err = db.Collection(collShared).CountDocuments(ctx, bson.M{}); err != nil {
		return stats, fmt.Errorf("central stats: %w", err)
	}

	var top models.LeaderboardEntry
	err = db.Collection(collLeaderboard).
		FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})).
		Decode(&top)
	if err == nil {
		stats.LastLeaderboard = top.UpdatedAt
	}
	return stats, nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
