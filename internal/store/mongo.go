// Package store — MongoDB-backed Store implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Collection names in the operational database.
const (
	collChats           = "chat_messages"
	collTrackedChannels = "tracked_channels"
	collAnalytics       = "channel_analytics"
	collRecommendations = "video_recommendations"
	collResponses       = "saved_responses"
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to MongoDB and prepares collections + indexes.
// The connection is verified with a ping so callers can fall back to the
// in-memory store when the database is unreachable.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(dbName),
	}
	s.ensureIndexes(ctx)

	log.Info().Str("database", dbName).Msg("MongoDB store connected")
	return s, nil
}

// ensureIndexes creates the indexes each collection relies on. Index
// errors are logged, not fatal — the store still works, just slower.
func (s *MongoStore) ensureIndexes(ctx context.Context) {
	ttl := int32(ChatTTL / time.Second)

	specs := []struct {
		coll   string
		models []mongo.IndexModel
	}{
		{collChats, []mongo.IndexModel{
			// Storage expires chat turns; reads also filter by window
			// so correctness never depends on the TTL monitor cadence.
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(ttl),
			},
			{Keys: bson.D{
				{Key: "conversation", Value: 1},
				{Key: "session_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "timestamp", Value: 1},
			}},
		}},
		{collTrackedChannels, []mongo.IndexModel{
			{
				Keys: bson.D{
					{Key: "channel_id", Value: 1},
					{Key: "user_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "last_accessed", Value: -1},
			}},
		}},
		{collAnalytics, []mongo.IndexModel{
			{Keys: bson.D{
				{Key: "channel_id", Value: 1},
				{Key: "captured_at", Value: -1},
			}},
		}},
		{collRecommendations, []mongo.IndexModel{
			{Keys: bson.D{
				{Key: "channel_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			}},
		}},
		{collResponses, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "response_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		}},
	}

	for _, spec := range specs {
		if _, err := s.db.Collection(spec.coll).Indexes().CreateMany(ctx, spec.models); err != nil {
			log.Warn().Err(err).Str("collection", spec.coll).Msg("Failed to create indexes")
		}
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── Chat Store ──────────────────────────────────────────────

func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Collection(collChats).InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *MongoStore) GetHistory(ctx context.Context, conv models.Conversation, sessionID, userID string) ([]models.ChatMessage, error) {
	filter := bson.M{
		"conversation": conv,
		"session_id":   sessionID,
		"user_id":      userID,
		"timestamp":    bson.M{"$gt": time.Now().UTC().Add(-ChatTTL)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cur, err := s.db.Collection(collChats).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("get chat history: %w", err)
	}
	var msgs []models.ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	return msgs, nil
}

func (s *MongoStore) ClearHistory(ctx context.Context, conv models.Conversation, sessionID, userID string) (int64, error) {
	res, err := s.db.Collection(collChats).DeleteMany(ctx, bson.M{
		"conversation": conv,
		"session_id":   sessionID,
		"user_id":      userID,
	})
	if err != nil {
		return 0, fmt.Errorf("clear chat history: %w", err)
	}
	return res.DeletedCount, nil
}

// ── Channel Store ───────────────────────────────────────────

func (s *MongoStore) GetTrackedChannel(ctx context.Context, channelID, userID string) (*models.TrackedChannel, error) {
	var ch models.TrackedChannel
	err := s.db.Collection(collTrackedChannels).
		FindOne(ctx, bson.M{"channel_id": channelID, "user_id": userID}).
		Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Entity: "channel", Key: channelID}
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked channel: %w", err)
	}
	return &ch, nil
}

func (s *MongoStore) InsertTrackedChannel(ctx context.Context, ch *models.TrackedChannel) error {
	_, err := s.db.Collection(collTrackedChannels).InsertOne(ctx, ch)
	if err != nil {
		return fmt.Errorf("insert tracked channel: %w", err)
	}
	return nil
}

func (s *MongoStore) TouchTrackedChannel(ctx context.Context, channelID, userID string, when time.Time) error {
	res, err := s.db.Collection(collTrackedChannels).UpdateOne(ctx,
		bson.M{"channel_id": channelID, "user_id": userID},
		bson.M{"$set": bson.M{"last_accessed": when}},
	)
	if err != nil {
		return fmt.Errorf("touch tracked channel: %w", err)
	}
	if res.MatchedCount == 0 {
		return &ErrNotFound{Entity: "channel", Key: channelID}
	}
	return nil
}

func (s *MongoStore) ListTrackedChannels(ctx context.Context, userID string) ([]models.TrackedChannel, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_accessed", Value: -1}})
	cur, err := s.db.Collection(collTrackedChannels).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list tracked channels: %w", err)
	}
	var channels []models.TrackedChannel
	if err := cur.All(ctx, &channels); err != nil {
		return nil, fmt.Errorf("decode tracked channels: %w", err)
	}
	return channels, nil
}

// ── Snapshot Store ──────────────────────────────────────────

func (s *MongoStore) SaveSnapshot(ctx context.Context, snap *models.ChannelSnapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(collAnalytics).InsertOne(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *MongoStore) LatestSnapshot(ctx context.Context, channelID string) (*models.ChannelSnapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "captured_at", Value: -1}})
	var snap models.ChannelSnapshot
	err := s.db.Collection(collAnalytics).
		FindOne(ctx, bson.M{"channel_id": channelID}, opts).
		Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Entity: "snapshot", Key: channelID}
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *MongoStore) SnapshotChannels(ctx context.Context) ([]string, error) {
	raw, err := s.db.Collection(collAnalytics).Distinct(ctx, "channel_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("snapshot channels: %w", err)
	}
	channels := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			channels = append(channels, id)
		}
	}
	return channels, nil
}

func (s *MongoStore) PruneSnapshots(ctx context.Context, channelID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	// Deleting by _id rather than by timestamp keeps captures with
	// identical captured_at from being swept along.
	opts := options.Find().
		SetSort(bson.D{{Key: "captured_at", Value: -1}}).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.db.Collection(collAnalytics).Find(ctx, bson.M{"channel_id": channelID}, opts)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	var docs []struct {
		ID any `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode prune candidates: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	res, err := s.db.Collection(collAnalytics).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.DeletedCount, nil
}

// ── Recommendation Store ────────────────────────────────────

func (s *MongoStore) SaveRecommendation(ctx context.Context, rec *models.VideoRecommendation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(collRecommendations).InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

func (s *MongoStore) ListRecommendations(ctx context.Context, channelID, userID string, limit int) ([]models.VideoRecommendation, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.db.Collection(collRecommendations).Find(ctx,
		bson.M{"channel_id": channelID, "user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	var recs []models.VideoRecommendation
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	return recs, nil
}

func (s *MongoStore) PruneRecommendations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Collection(collRecommendations).DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("prune recommendations: %w", err)
	}
	return res.DeletedCount, nil
}

// ── Response Store ──────────────────────────────────────────

func (s *MongoStore) ListResponses(ctx context.Context) ([]models.SavedResponse, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.db.Collection(collResponses).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	var responses []models.SavedResponse
	if err := cur.All(ctx, &responses); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	return responses, nil
}

func (s *MongoStore) GetResponse(ctx context.Context, id string) (*models.SavedResponse, error) {
	var r models.SavedResponse
	err := s.db.Collection(collResponses).
		FindOne(ctx, bson.M{"response_id": id}).
		Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Entity: "response", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return &r, nil
}

func (s *MongoStore) CreateResponse(ctx context.Context, r *models.SavedResponse) error {
	_, err := s.db.Collection(collResponses).InsertOne(ctx, r)
	if err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateResponse(ctx context.Context, r *models.SavedResponse) error {
	res, err := s.db.Collection(collResponses).UpdateOne(ctx,
		bson.M{"response_id": r.ID},
		bson.M{"$set": bson.M{
			"title":      r.Title,
			"content":    r.Content,
			"updated_at": r.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if res.MatchedCount == 0 {
		return &ErrNotFound{Entity: "response", Key: r.ID}
	}
	return nil
}

func (s *MongoStore) DeleteResponse(ctx context.Context, id string) error {
	res, err := s.db.Collection(collResponses).DeleteOne(ctx, bson.M{"response_id": id})
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	if res.DeletedCount == 0 {
		return &ErrNotFound{Entity: "response", Key: id}
	}
	return nil
}
