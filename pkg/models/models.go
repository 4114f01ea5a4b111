package models

import (
	"fmt"
	"time"
)

// ── Actions ──────────────────────────────────────────────────

// ActionType is one of the optimization levers an agent can pull on a
// channel. The action space is fixed; the learner ranks actions per state.
type ActionType string

const (
	ActionUploadTime  ActionType = "upload_time_optimization"
	ActionTitle       ActionType = "title_optimization"
	ActionThumbnail   ActionType = "thumbnail_optimization"
	ActionDescription ActionType = "description_optimization"
	ActionTags        ActionType = "tag_optimization"
	ActionContent     ActionType = "content_strategy"
	ActionEngagement  ActionType = "audience_engagement"
)

// AllActions returns the full action space in a stable order.
func AllActions() []ActionType {
	return []ActionType{
		ActionUploadTime,
		ActionTitle,
		ActionThumbnail,
		ActionDescription,
		ActionTags,
		ActionContent,
		ActionEngagement,
	}
}

// ── Channel metrics & state ──────────────────────────────────

// ChannelMetrics is a raw metrics snapshot for a channel or video, as
// reported by the data API. All rate fields are fractions (0.05 = 5%).
type ChannelMetrics struct {
	Views          float64 `json:"views"`
	Likes          float64 `json:"likes"`
	Comments       float64 `json:"comments"`
	Shares         float64 `json:"shares"`
	WatchTimeHours float64 `json:"watch_time_hours"`
	CTR            float64 `json:"ctr"`
	EngagementRate float64 `json:"engagement_rate"`
	Subscribers    float64 `json:"subscribers"`
	TotalViews     float64 `json:"total_views"`
	AvgEngagement  float64 `json:"avg_engagement"`
	UploadHour     int     `json:"upload_hour"`
	UploadWeekday  int     `json:"upload_weekday"` // 0 = Monday
	DurationMin    float64 `json:"duration_min"`
}

// StateSize is the dimensionality of the learner's state vector.
const StateSize = 12

// ── Experiences ──────────────────────────────────────────────

// Experience is one learning step: the state an agent observed, the
// action it took, and what that earned. The same shape lives in the
// short-term store (Redis, 24h) and the long-term store (MongoDB).
type Experience struct {
	ID        string     `bson:"stm_id" json:"id"`
	AgentID   string     `bson:"agent_id" json:"agent_id"`
	Timestamp time.Time  `bson:"timestamp" json:"timestamp"`
	State     []float64  `bson:"state" json:"state"`
	Action    ActionType `bson:"action" json:"action"`
	Reward    float64    `bson:"reward" json:"reward"`
	NextState []float64  `bson:"next_state,omitempty" json:"next_state,omitempty"`
	QValue    float64    `bson:"q_value" json:"q_value"`

	// Enrichment carried into long-term storage.
	Context           map[string]any     `bson:"context,omitempty" json:"context,omitempty"`
	MetricsBefore     map[string]float64 `bson:"youtube_metrics_before,omitempty" json:"youtube_metrics_before,omitempty"`
	MetricsAfter      map[string]float64 `bson:"youtube_metrics_after,omitempty" json:"youtube_metrics_after,omitempty"`
	SuccessIndicators map[string]float64 `bson:"success_indicators,omitempty" json:"success_indicators,omitempty"`
	Tags              []string           `bson:"tags,omitempty" json:"tags,omitempty"`
}

// ── Memory tier stats ────────────────────────────────────────

// STMStats summarizes an agent's short-term memory.
type STMStats struct {
	TotalExperiences int       `json:"total_experiences"`
	AvgQValue        float64   `json:"avg_q_value"`
	AvgReward        float64   `json:"avg_reward"`
	LastActionTime   time.Time `json:"last_action_time"`
	HighQCount       int       `json:"high_q_count"`
}

// LTMStats summarizes an agent's long-term memory. Also embedded in
// the central database's synchronization records.
type LTMStats struct {
	TotalExperiences int64   `bson:"total_experiences" json:"total_experiences"`
	HighValueCount   int64   `bson:"high_value_count" json:"high_value_count"`
	AvgQValue        float64 `bson:"avg_q_value" json:"avg_q_value"`
	MaxQValue        float64 `bson:"max_q_value" json:"max_q_value"`
	MinQValue        float64 `bson:"min_q_value" json:"min_q_value"`
	AvgReward        float64 `bson:"avg_reward" json:"avg_reward"`
	LearnedPatterns  int64   `bson:"learned_patterns" json:"learned_patterns"`
	ActiveStrategies int64   `bson:"active_strategies" json:"active_strategies"`
}

// EngineStats summarizes a Q-learner's activity since start.
type EngineStats struct {
	TotalActions       int     `json:"total_actions"`
	SuccessfulActions  int     `json:"successful_actions"`
	AvgReward          float64 `json:"avg_reward"`
	ExplorationActions int     `json:"exploration_actions"`
}

// ── Patterns & strategies (long-term memory) ─────────────────

// Pattern is a recurring observation an agent has learned from its own
// experiences, kept in its long-term store.
type Pattern struct {
	AgentID      string         `bson:"agent_id" json:"agent_id"`
	Name         string         `bson:"pattern_name" json:"pattern_name"`
	Description  string         `bson:"description" json:"description"`
	Data         map[string]any `bson:"data,omitempty" json:"data,omitempty"`
	Confidence   float64        `bson:"confidence" json:"confidence"`
	SupportCount int            `bson:"support_count" json:"support_count"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at"`
}

// Strategy is a named playbook an agent tracks success/reward rates for.
// Upserted on (agent_id, strategy_name).
type Strategy struct {
	AgentID     string         `bson:"agent_id" json:"agent_id"`
	Name        string         `bson:"strategy_name" json:"strategy_name"`
	Description string         `bson:"description" json:"description"`
	Parameters  map[string]any `bson:"parameters,omitempty" json:"parameters,omitempty"`
	SuccessRate float64        `bson:"success_rate" json:"success_rate"`
	AvgReward   float64        `bson:"avg_reward" json:"avg_reward"`
	TimesUsed   int            `bson:"times_used" json:"times_used"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}

// ── Central memory ───────────────────────────────────────────

// InsightType classifies a global insight.
type InsightType string

const (
	InsightActionPerformance  InsightType = "action_performance"
	InsightTimingOptimization InsightType = "timing_optimization"
)

// GlobalInsight is knowledge distilled from experiences across agents,
// stored in the shared central database. Upserted on (insight_type,
// action_type) so repeated syncs refine rather than duplicate.
type GlobalInsight struct {
	InsightType      InsightType `bson:"insight_type" json:"insight_type"`
	ActionType       ActionType  `bson:"action_type" json:"action_type"`
	AvgReward        float64     `bson:"avg_reward" json:"avg_reward"`
	AvgQValue        float64     `bson:"avg_q_value" json:"avg_q_value"`
	StdDev           float64     `bson:"std_dev" json:"std_dev"`
	SampleSize       int         `bson:"sample_size" json:"sample_size"`
	OptimalHour      int         `bson:"optimal_hour,omitempty" json:"optimal_hour,omitempty"`
	Confidence       float64     `bson:"confidence" json:"confidence"`
	ApplicableAgents []string    `bson:"applicable_agents" json:"applicable_agents"`
	Urgent           bool        `bson:"urgent,omitempty" json:"urgent,omitempty"`
	UpdatedAt        time.Time   `bson:"updated_at" json:"updated_at"`
}

// CollectiveStrategy is a strategy promoted to the shared database
// because enough agents saw it succeed.
type CollectiveStrategy struct {
	Name        string    `bson:"strategy_name" json:"strategy_name"`
	Description string    `bson:"description" json:"description"`
	SourceAgent string    `bson:"source_agent" json:"source_agent"`
	SuccessRate float64   `bson:"success_rate" json:"success_rate"`
	AvgReward   float64   `bson:"avg_reward" json:"avg_reward"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// CrossAgentPattern marks an action that several agents leaned on in the
// same sync window.
type CrossAgentPattern struct {
	Action     ActionType `bson:"action" json:"action"`
	Agents     []string   `bson:"agents" json:"agents"`
	AgentCount int        `bson:"agent_count" json:"agent_count"`
	Strength   float64    `bson:"strength" json:"strength"`
	Confidence float64    `bson:"confidence" json:"confidence"`
	DetectedAt time.Time  `bson:"detected_at" json:"detected_at"`
}

// LeaderboardEntry ranks one agent's overall contribution quality.
type LeaderboardEntry struct {
	AgentID       string    `bson:"agent_id" json:"agent_id"`
	OverallScore  float64   `bson:"overall_score" json:"overall_score"`
	AvgQValue     float64   `bson:"avg_q_value" json:"avg_q_value"`
	AvgReward     float64   `bson:"avg_reward" json:"avg_reward"`
	Contributions int64     `bson:"contributions" json:"contributions"`
	Rank          int       `bson:"rank" json:"rank"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// CentralStats is the aggregate view of the shared database.
type CentralStats struct {
	ActiveAgents      int64     `json:"active_agents"`
	GlobalInsights    int64     `json:"global_insights"`
	CrossPatterns     int64     `json:"cross_agent_patterns"`
	SharedExperiences int64     `json:"shared_experiences"`
	LastLeaderboard   time.Time `json:"last_leaderboard"`
}

// ── Agent registry & sessions ────────────────────────────────

// AgentDefinition describes one registered agent: its stable ID, its
// specialty, and the capability tags insights are matched against.
type AgentDefinition struct {
	ID           string   `json:"agent_id"`
	Type         string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
}

// AgentSession is one in-flight task: the state observed when the task
// started and the action the learner chose for it.
type AgentSession struct {
	ID         string         `json:"session_id"`
	AgentID    string         `json:"agent_id"`
	State      []float64      `json:"state"`
	Action     ActionType     `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

// ── RL introspection (API shapes) ────────────────────────────

// SystemHealth summarizes how much of the memory stack is reachable.
type SystemHealth string

const (
	HealthFullyOperational     SystemHealth = "fully_operational"
	HealthPartiallyOperational SystemHealth = "partially_operational"
	HealthOffline              SystemHealth = "offline"
)

// RLSystemStatus is the response of GET /api/rl/status.
type RLSystemStatus struct {
	TotalAgents            int                    `json:"total_agents"`
	OperationalAgents      int                    `json:"operational_agents"`
	CentralMemoryConnected bool                   `json:"central_memory_connected"`
	Agents                 []RLAgentStatus        `json:"agents"`
	SystemHealth           SystemHealth           `json:"system_health"`
	SyncCyclesCompleted    int                    `json:"sync_cycles_completed"`
	LastSyncReport         *CollectiveCycleReport `json:"last_sync_report,omitempty"`
}

// RLAgentStatus is one agent's row in the system status report.
type RLAgentStatus struct {
	AgentName    string       `json:"agent_name"`
	AgentType    string       `json:"agent_type"`
	Capabilities []string     `json:"capabilities"`
	STM          STMStatus    `json:"stm_status"`
	LTM          LTMStatus    `json:"ltm_status"`
	Engine       EngineStatus `json:"rl_engine_status"`
	LastUpdated  time.Time    `json:"last_updated"`
}

// STMStatus reports the short-term tier's connection state.
type STMStatus struct {
	Connected   bool   `json:"connected"`
	KeyPrefix   string `json:"key_prefix"`
	StorageType string `json:"storage_type"` // redis | memory
}

// LTMStatus reports the long-term tier's connection state.
type LTMStatus struct {
	Connected   bool     `json:"connected"`
	Collections []string `json:"collections"`
	Database    string   `json:"database"`
}

// EngineStatus reports the learner's hyperparameters and activity.
type EngineStatus struct {
	Active         bool    `json:"active"`
	LearningRate   float64 `json:"learning_rate"`
	DiscountFactor float64 `json:"discount_factor"`
	Epsilon        float64 `json:"epsilon"`
	TotalActions   int     `json:"total_actions"`
	AvgReward      float64 `json:"avg_reward"`
}

// BestAction is one high-confidence state/action pair from the Q-table.
type BestAction struct {
	State      string     `json:"state"`
	Action     ActionType `json:"action"`
	QValue     float64    `json:"q_value"`
	Confidence float64    `json:"confidence"`
}

// LearningProgress summarizes exploration vs exploitation balance.
type LearningProgress struct {
	ExplorationRate  float64 `json:"exploration_rate"`
	ExploitationRate float64 `json:"exploitation_rate"`
	AvgQValue        float64 `json:"avg_q_value"`
}

// AgentInsights is the response of GET /api/rl/agents/{id}/insights.
type AgentInsights struct {
	AgentID          string           `json:"agent_id"`
	STMExperiences   int              `json:"stm_experiences"`
	LTMExperiences   int64            `json:"ltm_experiences"`
	RecentRewards    []float64        `json:"recent_rewards"`
	BestActions      []BestAction     `json:"best_actions"`
	LearningProgress LearningProgress `json:"learning_progress"`
}

// ── Sync cycle reports ───────────────────────────────────────

// AgentCycleReport captures one agent's pass through the five-phase
// memory cycle (collect, promote, sync, apply, adopt).
type AgentCycleReport struct {
	AgentID           string  `json:"agent_id"`
	Collected         int     `json:"collected"`
	Promoted          int     `json:"promoted"`
	PromoteErrors     int     `json:"promote_errors"`
	SuccessRate       float64 `json:"success_rate"`
	SyncedToCentral   bool    `json:"synced_to_central"`
	InsightsApplied   int     `json:"insights_applied"`
	StrategiesAdopted int     `json:"strategies_adopted"`
}

// CollectiveCycleReport is the outcome of one full collective cycle
// across all agents.
type CollectiveCycleReport struct {
	StartedAt        time.Time          `json:"started_at"`
	DurationMs       int64              `json:"duration_ms"`
	AgentReports     []AgentCycleReport `json:"agent_reports"`
	PatternsDetected int                `json:"patterns_detected"`
	LeaderboardSize  int                `json:"leaderboard_size"`
	UrgentBroadcasts int                `json:"urgent_broadcasts"`
	Errors           []string           `json:"errors,omitempty"`
}

// ── Chat ─────────────────────────────────────────────────────

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Conversation selects which chat surface a message belongs to.
type Conversation string

const (
	ConversationScriptwriter Conversation = "scriptwriter"
	ConversationSceneWriter  Conversation = "scene_writer"
)

// ChatMessage is one turn in a chat session. Storage expires messages
// 24h after Timestamp.
type ChatMessage struct {
	SessionID    string       `bson:"session_id" json:"session_id"`
	UserID       string       `bson:"user_id" json:"user_id"`
	Conversation Conversation `bson:"conversation" json:"-"`
	Role         ChatRole     `bson:"role" json:"role"`
	Content      string       `bson:"content" json:"content"`
	Timestamp    time.Time    `bson:"timestamp" json:"timestamp"`
}

// ── Channel tracking ─────────────────────────────────────────

// TrackedChannel is a channel a user has registered for monitoring.
// Deduplicated on (channel_id, user_id).
type TrackedChannel struct {
	UserID          string    `bson:"user_id" json:"user_id"`
	ChannelID       string    `bson:"channel_id" json:"channel_id"`
	ChannelURL      string    `bson:"channel_url" json:"channel_url"`
	Title           string    `bson:"channel_title" json:"channel_title"`
	Description     string    `bson:"channel_description" json:"channel_description"`
	SubscriberCount int64     `bson:"subscriber_count" json:"subscriber_count"`
	VideoCount      int64     `bson:"video_count" json:"video_count"`
	ViewCount       int64     `bson:"view_count" json:"view_count"`
	Thumbnail       string    `bson:"thumbnail" json:"thumbnail"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	LastAccessed    time.Time `bson:"last_accessed" json:"last_accessed"`
	TrackingEnabled bool      `bson:"tracking_enabled" json:"tracking_enabled"`
}

// VideoStats is one video's public metrics with the derived engagement
// rate (likes+comments)/views.
type VideoStats struct {
	VideoID        string    `bson:"video_id" json:"video_id"`
	Title          string    `bson:"title" json:"title"`
	PublishedAt    time.Time `bson:"published_at" json:"published_at"`
	Views          int64     `bson:"views" json:"views"`
	Likes          int64     `bson:"likes" json:"likes"`
	Comments       int64     `bson:"comments" json:"comments"`
	DurationSec    int       `bson:"duration_sec" json:"duration_sec"`
	EngagementRate float64   `bson:"engagement_rate" json:"engagement_rate"`
}

// ChannelSnapshot is one analytics capture: recent videos plus the
// aggregates derived from them.
type ChannelSnapshot struct {
	ChannelID         string       `bson:"channel_id" json:"channel_id"`
	CapturedAt        time.Time    `bson:"captured_at" json:"captured_at"`
	RecentVideos      []VideoStats `bson:"recent_videos" json:"recent_videos"`
	AvgViewsPerVideo  float64      `bson:"avg_views_per_video" json:"avg_views_per_video"`
	AvgEngagementRate float64      `bson:"avg_engagement_rate" json:"avg_engagement_rate"`
	TotalViews        int64        `bson:"total_views" json:"total_views"`
	TotalLikes        int64        `bson:"total_likes" json:"total_likes"`
	TotalComments     int64        `bson:"total_comments" json:"total_comments"`
}

// VideoRecommendation is a generated batch of video ideas for a channel,
// persisted so users can revisit them.
type VideoRecommendation struct {
	ID        string    `bson:"rec_id" json:"id"`
	ChannelID string    `bson:"channel_id" json:"channel_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Ideas     []string  `bson:"ideas" json:"ideas"`
	Basis     string    `bson:"basis" json:"basis"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// TrackStatus is the outcome of a track request.
type TrackStatus string

const (
	TrackStatusSuccess        TrackStatus = "success"
	TrackStatusAlreadyTracked TrackStatus = "already_tracked"
)

// TrackResult is the response of POST /api/channel/track.
type TrackResult struct {
	Status       TrackStatus `json:"status"`
	ChannelID    string      `json:"channel_id"`
	ChannelTitle string      `json:"channel_title"`
	Message      string      `json:"message"`
}

// ── Saved responses ──────────────────────────────────────────

// DefaultResponseTitle is used when a saved response arrives untitled.
const DefaultResponseTitle = "Untitled Response"

// SavedResponse is an agent output a user chose to keep.
type SavedResponse struct {
	ID            string    `bson:"response_id" json:"id"`
	Title         string    `bson:"title" json:"title"`
	AgentID       string    `bson:"agent_id" json:"agent_id"`
	AgentName     string    `bson:"agent_name" json:"agent_name"`
	AgentCodename string    `bson:"agent_codename" json:"agent_codename"`
	Content       string    `bson:"content" json:"content"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// Summary strips the content body for list views.
func (r *SavedResponse) Summary() SavedResponseSummary {
	return SavedResponseSummary{
		ID:            r.ID,
		Title:         r.Title,
		AgentID:       r.AgentID,
		AgentName:     r.AgentName,
		AgentCodename: r.AgentCodename,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// SavedResponseSummary is the list-view shape of a saved response.
type SavedResponseSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	AgentID       string    `json:"agent_id"`
	AgentName     string    `json:"agent_name"`
	AgentCodename string    `json:"agent_codename"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ── Misc ─────────────────────────────────────────────────────

// PerformanceSample is one point in an agent's recent performance ring.
type PerformanceSample struct {
	Timestamp time.Time  `json:"timestamp"`
	Action    ActionType `json:"action"`
	Reward    float64    `json:"reward"`
	QValue    float64    `json:"q_value"`
}

// SessionID builds the canonical session identifier for an agent task.
func SessionID(agentID string, t time.Time) string {
	return fmt.Sprintf("%s_%d", agentID, t.Unix())
}
