// Package integrator runs the background cycle that moves what agents
// learn up the memory hierarchy:
//
//	STM (Redis, 24h) → LTM (MongoDB, per agent) → central (shared)
//
// Each cycle walks every agent through five phases: collect high-value
// short-term experiences, promote them to long-term memory, sync a
// summary to central memory, apply back the global insights that fit,
// and adopt proven collective strategies. After the per-agent passes
// the cycle detects cross-agent patterns, refreshes the leaderboard,
// and broadcasts urgent insights.
//
// Promotion is fail-safe: an experience leaves short-term memory only
// after the long-term write succeeded. Degraded tiers shrink a cycle,
// they never stop it.
package integrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/agents"
	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// DefaultInterval is how often the cycle runs.
const DefaultInterval = 30 * time.Minute

// retryDelay reschedules the next cycle early after collective-phase
// errors.
const retryDelay = time.Minute

const (
	// applyConfidenceFloor gates which global insights an agent applies
	// to its own memory. Stricter than the central read floor.
	applyConfidenceFloor = 0.6
	// adoptSuccessFloor gates which collective strategies an agent
	// adopts.
	adoptSuccessFloor = 0.7
	// urgentRewardFloor marks an agent hot enough to broadcast.
	urgentRewardFloor = 0.9
	// bestExperienceLimit caps how many experiences one sync shares.
	bestExperienceLimit = 50
	// maxReports bounds the kept cycle history.
	maxReports = 10
)

// Notifier delivers urgent insights to operators. The notify package
// provides the webhook implementation.
type Notifier interface {
	NotifyUrgent(ctx context.Context, insight models.GlobalInsight)
}

// Integrator owns the periodic memory cycle.
type Integrator struct {
	registry *agents.Registry
	central  *memory.Central
	notifier Notifier
	interval time.Duration
	promoteQ float64
	shareQ   float64

	mu      sync.RWMutex
	lastRun time.Time
	cycles  int
	reports []models.CollectiveCycleReport
}

// New builds the integrator. notifier may be nil when no webhooks are
// configured. promoteQ gates STM→LTM promotion; shareQ gates which
// long-term experiences are shared with central memory.
func New(registry *agents.Registry, notifier Notifier, interval time.Duration, promoteQ, shareQ float64) *Integrator {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	return &Integrator{
		registry: registry,
		central:  registry.Central(),
		notifier: notifier,
		interval: interval,
		promoteQ: promoteQ,
		shareQ:   shareQ,
	}
}

// Start runs the cycle loop. It blocks until ctx is canceled. The
// first cycle runs immediately; cycles that hit collective-phase
// errors reschedule after retryDelay instead of the full interval.
func (i *Integrator) Start(ctx context.Context) {
	log.Info().
		Dur("interval", i.interval).
		Float64("promote_threshold", i.promoteQ).
		Float64("share_threshold", i.shareQ).
		Msg("Memory integrator started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Memory integrator stopped")
			return
		case <-timer.C:
			report := i.RunCycle(ctx)
			next := i.interval
			if len(report.Errors) > 0 {
				next = retryDelay
				log.Warn().
					Strs("errors", report.Errors).
					Dur("retry_in", next).
					Msg("Cycle hit collective-phase errors, retrying early")
			}
			timer.Reset(next)
		}
	}
}

// RunCycle performs one full collective cycle and returns its report.
// Also serves the manual sync endpoint.
func (i *Integrator) RunCycle(ctx context.Context) models.CollectiveCycleReport {
	start := time.Now()
	report := models.CollectiveCycleReport{StartedAt: start.UTC()}

	// Per-agent passes run concurrently; each agent owns its tiers.
	agentList := i.registry.All()
	agentReports := make([]models.AgentCycleReport, len(agentList))
	var wg sync.WaitGroup
	for idx, agent := range agentList {
		wg.Add(1)
		go func(idx int, agent *agents.Agent) {
			defer wg.Done()
			agentReports[idx] = i.syncAgent(ctx, agent)
		}(idx, agent)
	}
	wg.Wait()
	report.AgentReports = agentReports

	patterns, err := i.central.DetectCrossPatterns(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("cross patterns: %v", err))
	}
	report.PatternsDetected = len(patterns)

	board, err := i.central.UpdateLeaderboard(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("leaderboard: %v", err))
	}
	report.LeaderboardSize = len(board)

	report.UrgentBroadcasts = i.broadcastUrgent(ctx, agentList)
	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()

	i.mu.Lock()
	i.lastRun = time.Now().UTC()
	i.cycles++
	i.reports = append(i.reports, report)
	if len(i.reports) > maxReports {
		i.reports = i.reports[len(i.reports)-maxReports:]
	}
	i.mu.Unlock()

	promoted := 0
	for _, r := range agentReports {
		promoted += r.Promoted
	}
	log.Info().
		Int("agents", len(agentReports)).
		Int("promoted", promoted).
		Int("patterns", report.PatternsDetected).
		Int("leaderboard", report.LeaderboardSize).
		Int("urgent", report.UrgentBroadcasts).
		Dur("elapsed", elapsed).
		Msg("Memory cycle complete")
	return report
}

// syncAgent walks one agent through the five phases.
func (i *Integrator) syncAgent(ctx context.Context, agent *agents.Agent) models.AgentCycleReport {
	report := models.AgentCycleReport{AgentID: agent.Def.ID}

	// Phase 1: collect high-value experiences from short-term memory.
	high, err := agent.STM.HighQ(ctx, i.promoteQ, 0)
	if err != nil {
		log.Warn().Err(err).Str("agent", agent.Def.ID).Msg("STM collection failed, cycle continues")
	}
	report.Collected = len(high)

	// Phase 2: promote to long-term memory. The short-term copy is
	// deleted only after the long-term write succeeded.
	for idx := range high {
		exp := high[idx]
		if err := agent.LTM.StoreExperience(ctx, &exp); err != nil {
			report.PromoteErrors++
			continue
		}
		if err := agent.STM.Delete(ctx, exp.ID); err != nil {
			log.Debug().Err(err).
				Str("agent", agent.Def.ID).
				Str("experience", exp.ID).
				Msg("promoted copy still in STM")
		}
		report.Promoted++
	}
	if report.Collected > 0 {
		report.SuccessRate = float64(report.Promoted) / float64(report.Collected)
	}

	// Phase 3: sync a summary and the best experiences to central.
	if stats, err := agent.LTM.Stats(ctx); err == nil {
		best, _ := agent.LTM.BestExperiences(ctx, i.shareQ, bestExperienceLimit)
		if _, err := i.central.SyncAgentData(ctx, agent.Def, stats, best); err != nil {
			log.Warn().Err(err).Str("agent", agent.Def.ID).Msg("central sync skipped")
		} else {
			report.SyncedToCentral = true
		}
	}

	// Phase 4: apply global insights that fit this agent.
	if insights, err := i.central.RelevantInsights(ctx, agent.Def, 20); err == nil {
		for _, ins := range insights {
			if ins.Confidence < applyConfidenceFloor {
				continue
			}
			if i.applyInsight(ctx, agent, ins) {
				report.InsightsApplied++
			}
		}
	}

	// Phase 5: adopt proven collective strategies.
	if strategies, err := i.central.RelevantStrategies(ctx, 10); err == nil {
		for _, st := range strategies {
			if st.SuccessRate < adoptSuccessFloor {
				continue
			}
			adopted := models.Strategy{
				AgentID:     agent.Def.ID,
				Name:        "collective:" + st.Name,
				Description: st.Description,
				Parameters:  map[string]any{"source_agent": st.SourceAgent},
				SuccessRate: st.SuccessRate,
				AvgReward:   st.AvgReward,
			}
			if err := agent.LTM.UpsertStrategy(ctx, &adopted); err == nil {
				report.StrategiesAdopted++
			}
		}
	}

	return report
}

// applyInsight lands a global insight in the agent's own long-term
// memory as a pattern it can consult.
func (i *Integrator) applyInsight(ctx context.Context, agent *agents.Agent, ins models.GlobalInsight) bool {
	p := &models.Pattern{
		AgentID:     agent.Def.ID,
		Name:        fmt.Sprintf("global_%s_%s", ins.InsightType, ins.ActionType),
		Description: describeInsight(ins),
		Data: map[string]any{
			"avg_reward":   ins.AvgReward,
			"avg_q_value":  ins.AvgQValue,
			"std_dev":      ins.StdDev,
			"sample_size":  ins.SampleSize,
			"optimal_hour": ins.OptimalHour,
		},
		Confidence:   ins.Confidence,
		SupportCount: ins.SampleSize,
	}
	if err := agent.LTM.UpsertPattern(ctx, p); err != nil {
		log.Debug().Err(err).Str("agent", agent.Def.ID).Str("pattern", p.Name).Msg("insight not applied")
		return false
	}
	return true
}

func describeInsight(ins models.GlobalInsight) string {
	switch ins.InsightType {
	case models.InsightTimingOptimization:
		return fmt.Sprintf("Across the fleet, %s lands best around %02d:00 (%d samples).",
			ins.ActionType, ins.OptimalHour, ins.SampleSize)
	default:
		return fmt.Sprintf("Across the fleet, %s averages %.2f reward over %d samples.",
			ins.ActionType, ins.AvgReward, ins.SampleSize)
	}
}

// broadcastUrgent flags agents whose recent rewards run hot and pushes
// the finding to central memory and the operator webhooks.
func (i *Integrator) broadcastUrgent(ctx context.Context, agentList []*agents.Agent) int {
	sent := 0
	for _, agent := range agentList {
		stats := agent.Engine.Stats()
		if stats.TotalActions == 0 || stats.AvgReward < urgentRewardFloor {
			continue
		}

		insight := models.GlobalInsight{
			InsightType:      models.InsightActionPerformance,
			ActionType:       topAction(agent),
			AvgReward:        stats.AvgReward,
			SampleSize:       stats.TotalActions,
			Confidence:       1,
			ApplicableAgents: []string{"all"},
			Urgent:           true,
			UpdatedAt:        time.Now().UTC(),
		}
		if err := i.central.BroadcastUrgent(ctx, insight); err != nil {
			log.Warn().Err(err).Str("agent", agent.Def.ID).Msg("urgent broadcast not stored centrally")
		}
		if i.notifier != nil {
			i.notifier.NotifyUrgent(ctx, insight)
		}
		sent++
		log.Info().
			Str("agent", agent.Def.ID).
			Float64("avg_reward", stats.AvgReward).
			Msg("Urgent insight broadcast")
	}
	return sent
}

// topAction returns the agent's highest-Q action, defaulting to
// content optimization when nothing is learned yet.
func topAction(agent *agents.Agent) models.ActionType {
	best := agent.Engine.BestActions(-1, 1)
	if len(best) > 0 {
		return best[0].Action
	}
	return models.ActionContent
}

// ── Introspection ───────────────────────────────────────────

// LastRun reports when the previous cycle finished.
func (i *Integrator) LastRun() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastRun
}

// Cycles reports how many cycles have completed.
func (i *Integrator) Cycles() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cycles
}

// RecentReports returns the kept cycle reports, oldest first.
func (i *Integrator) RecentReports() []models.CollectiveCycleReport {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]models.CollectiveCycleReport, len(i.reports))
	copy(out, i.reports)
	return out
}
