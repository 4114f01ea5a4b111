// Package agents binds each specialized YouTube agent to its own
// Q-learning engine and memory tiers, and runs every task through the
// same learning loop:
//
//	observe channel metrics → encode state → ε-greedy action pick →
//	run the task → score the output → reward → Q-update →
//	store the experience in short-term memory
//
// Persistence never gates a task: the in-memory Q-table is the source
// of truth, and memory-tier writes that fail are logged and skipped.
package agents

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/config"
	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/internal/rl"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Agent IDs. These are wire-visible (memory keys, collection names,
// API paths) and must stay stable across releases.
const (
	ChannelAuditorID  = "agent1_channel_auditor"
	TitleAuditorID    = "agent2_title_auditor"
	ScriptGeneratorID = "agent3_script_generator"
	ScriptToSceneID   = "agent4_script_to_scene"
	IdeaGeneratorID   = "agent5_ideas_generator"
	RoadmapID         = "agent6_roadmap"
	FiftyVideosID     = "fifty_videos_fetcher"
)

// Definitions returns the seven registered agents in display order.
func Definitions() []models.AgentDefinition {
	return []models.AgentDefinition{
		{ID: ChannelAuditorID, Type: "channel_analyst", Capabilities: []string{"channel_analysis", "performance_audit", "competitive_analysis"}},
		{ID: TitleAuditorID, Type: "content_optimizer", Capabilities: []string{"title_optimization", "thumbnail_analysis", "hook_creation"}},
		{ID: ScriptGeneratorID, Type: "content_creator", Capabilities: []string{"script_writing", "content_structure", "narrative_flow"}},
		{ID: ScriptToSceneID, Type: "visual_processor", Capabilities: []string{"scene_generation", "visual_prompts", "storyboarding"}},
		{ID: IdeaGeneratorID, Type: "creative_strategist", Capabilities: []string{"idea_generation", "trend_analysis", "concept_development"}},
		{ID: RoadmapID, Type: "strategic_planner", Capabilities: []string{"content_planning", "roadmap_creation", "series_development"}},
		{ID: FiftyVideosID, Type: "data_collector", Capabilities: []string{"video_fetching", "link_extraction", "channel_crawling"}},
	}
}

// Agent is one specialized worker with its own learner and memory.
type Agent struct {
	Def     models.AgentDefinition
	Engine  *rl.Engine
	STM     memory.STM
	LTM     *memory.LTM
	metrics *memory.RealtimeMetrics

	mu          sync.RWMutex
	sessions    map[string]*models.AgentSession
	lastUpdated time.Time
}

// StartSession encodes the observed metrics into a state, picks an
// action ε-greedily, and opens a task session.
func (a *Agent) StartSession(observed models.ChannelMetrics) *models.AgentSession {
	state := rl.StateVector(observed)
	action, explored := a.Engine.SelectAction(state)

	session := &models.AgentSession{
		ID:         models.SessionID(a.Def.ID, time.Now()),
		AgentID:    a.Def.ID,
		State:      state,
		Action:     action,
		Parameters: a.Engine.SuggestParameters(action),
		StartedAt:  time.Now().UTC(),
	}

	a.mu.Lock()
	a.sessions[session.ID] = session
	a.mu.Unlock()

	log.Debug().
		Str("agent", a.Def.ID).
		Str("session", session.ID).
		Str("action", string(action)).
		Bool("explored", explored).
		Msg("Session started")
	return session
}

// FinishSession scores the deliverable, applies the Q-update, and
// records the experience. Returns the reward and the updated Q-value.
func (a *Agent) FinishSession(ctx context.Context, session *models.AgentSession, output string, taskErr error) (float64, float64) {
	elapsed := time.Since(session.StartedAt)
	success := taskErr == nil
	quality := scoreOutput(a.Def.ID, output, success)
	reward := rl.TaskReward(quality, elapsed, success)

	// Without fresh channel metrics the state carries over unchanged;
	// the Bellman update still propagates the reward.
	q := a.Engine.UpdateQ(session.State, session.Action, reward, session.State)

	exp := &models.Experience{
		AgentID:   a.Def.ID,
		Timestamp: time.Now().UTC(),
		State:     session.State,
		Action:    session.Action,
		Reward:    reward,
		NextState: session.State,
		QValue:    q,
		Context: map[string]any{
			"session_id": session.ID,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		SuccessIndicators: quality,
	}
	for k, v := range session.Parameters {
		exp.Context[k] = v
	}
	if !success {
		exp.Tags = []string{"failed"}
		exp.Context["error"] = taskErr.Error()
	}

	if err := a.STM.Store(ctx, exp); err != nil {
		log.Warn().Err(err).
			Str("agent", a.Def.ID).
			Msg("STM unavailable, experience not persisted")
	}
	sample := models.PerformanceSample{
		Timestamp: exp.Timestamp,
		Action:    session.Action,
		Reward:    reward,
		QValue:    q,
	}
	if err := a.metrics.PushPerformance(ctx, a.Def.ID, sample); err != nil {
		log.Debug().Err(err).Str("agent", a.Def.ID).Msg("performance sample dropped")
	}

	a.mu.Lock()
	delete(a.sessions, session.ID)
	a.lastUpdated = time.Now().UTC()
	a.mu.Unlock()

	log.Info().
		Str("agent", a.Def.ID).
		Str("action", string(session.Action)).
		Float64("reward", reward).
		Float64("q", q).
		Int64("elapsed_ms", elapsed.Milliseconds()).
		Bool("success", success).
		Msg("Session finished")
	return reward, q
}

// ActiveSessions reports how many tasks are currently in flight.
func (a *Agent) ActiveSessions() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// Status reports the agent's tier connectivity and engine counters.
func (a *Agent) Status(ctx context.Context) models.RLAgentStatus {
	a.mu.RLock()
	last := a.lastUpdated
	a.mu.RUnlock()

	return models.RLAgentStatus{
		AgentName:    a.Def.ID,
		AgentType:    a.Def.Type,
		Capabilities: a.Def.Capabilities,
		STM:          a.STM.Status(ctx),
		LTM:          a.LTM.Status(),
		Engine:       a.Engine.Status(),
		LastUpdated:  last,
	}
}

// Insights summarizes what the agent has learned so far.
func (a *Agent) Insights(ctx context.Context) models.AgentInsights {
	out := models.AgentInsights{
		AgentID:          a.Def.ID,
		RecentRewards:    a.Engine.RecentRewards(),
		BestActions:      a.Engine.BestActions(0.5, 10),
		LearningProgress: a.Engine.Progress(),
	}
	if stats, err := a.STM.Stats(ctx); err == nil {
		out.STMExperiences = stats.TotalExperiences
	}
	if stats, err := a.LTM.Stats(ctx); err == nil {
		out.LTMExperiences = stats.TotalExperiences
	}
	return out
}

// scoreOutput grades a deliverable on cheap structural signals. Every
// metric lands in [0,1]; the reward function averages them.
func scoreOutput(agentID, output string, success bool) map[string]float64 {
	quality := map[string]float64{
		"success":         0,
		"response_length": math.Min(float64(len(output))/1000.0, 1.0),
		"structure":       0.5,
		"completeness":    0.3,
	}
	if success {
		quality["success"] = 1.0
	}
	if strings.Contains(output, "###") || strings.Contains(output, "**") {
		quality["structure"] = 0.8
	}
	if len(output) > 100 {
		quality["completeness"] = 0.9
	}

	switch agentID {
	case ScriptGeneratorID, ScriptToSceneID:
		words := len(strings.Fields(output))
		quality["depth"] = math.Min(float64(words)/300.0, 1.0)
	case IdeaGeneratorID, RoadmapID:
		bullets := strings.Count(output, "\n- ") + strings.Count(output, "\n1.")
		quality["list_coverage"] = math.Min(float64(bullets)/10.0, 1.0)
	case FiftyVideosID:
		links := strings.Count(output, "watch?v=")
		quality["link_density"] = math.Min(float64(links)/50.0, 1.0)
	}
	return quality
}

// NewAgent wires one agent from explicit parts. NewRegistry is the
// production path; this one serves tests and offline tools.
func NewAgent(def models.AgentDefinition, engine *rl.Engine, stm memory.STM, ltm *memory.LTM, metrics *memory.RealtimeMetrics) *Agent {
	return &Agent{
		Def:      def,
		Engine:   engine,
		STM:      stm,
		LTM:      ltm,
		metrics:  metrics,
		sessions: make(map[string]*models.AgentSession),
	}
}

// Registry owns the seven agents and their shared central tier.
type Registry struct {
	agents  map[string]*Agent
	order   []string
	central *memory.Central
	metrics *memory.RealtimeMetrics
}

// NewRegistry builds every agent with its own engine, STM and LTM, and
// registers each with central memory. Tier failures downgrade to
// in-memory fallbacks; they never prevent startup.
func NewRegistry(ctx context.Context, cfg config.MemoryConfig, central *memory.Central, metrics *memory.RealtimeMetrics) *Registry {
	r := &Registry{
		agents:  make(map[string]*Agent),
		central: central,
		metrics: metrics,
	}
	for _, def := range Definitions() {
		agent := &Agent{
			Def:      def,
			Engine:   rl.New(),
			STM:      memory.NewSTM(ctx, cfg.STMRedisURL, def.ID),
			LTM:      memory.NewLTM(ctx, cfg.LTMMongoURL, cfg.LTMDatabase, def.ID),
			metrics:  metrics,
			sessions: make(map[string]*models.AgentSession),
		}
		if err := central.RegisterAgent(ctx, def); err != nil {
			log.Warn().Err(err).Str("agent", def.ID).Msg("central memory registration skipped")
		}
		r.agents[def.ID] = agent
		r.order = append(r.order, def.ID)
	}
	log.Info().Int("agents", len(r.order)).Msg("Agent registry initialized")
	return r
}

// Get returns an agent by ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// All returns the agents in registration order.
func (r *Registry) All() []*Agent {
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Central returns the shared memory tier.
func (r *Registry) Central() *memory.Central {
	return r.central
}

// Close releases every memory-tier connection: per-agent STM and LTM,
// the shared central database, and the metrics cache.
func (r *Registry) Close(ctx context.Context) {
	for _, a := range r.All() {
		if err := a.STM.Close(); err != nil {
			log.Debug().Err(err).Str("agent", a.Def.ID).Msg("STM close")
		}
		if err := a.LTM.Close(ctx); err != nil {
			log.Debug().Err(err).Str("agent", a.Def.ID).Msg("LTM close")
		}
	}
	if err := r.central.Close(ctx); err != nil {
		log.Debug().Err(err).Msg("central memory close")
	}
	if err := r.metrics.Close(); err != nil {
		log.Debug().Err(err).Msg("metrics cache close")
	}
}
