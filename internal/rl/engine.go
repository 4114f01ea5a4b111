// Package rl implements the tabular Q-learning core each agent runs.
// The engine is pure in-process state: it never touches Redis or
// MongoDB, so learning keeps working when every backing store is down.
package rl

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Hyperparameters. These are fixed across all agents; per-agent tuning
// has not earned its complexity yet.
const (
	LearningRate   = 0.1
	DiscountFactor = 0.95
	Epsilon        = 0.1
)

// rewardWindow bounds the rolling recent-reward history.
const rewardWindow = 100

// rewardWeights scores how much each metric's improvement contributes
// to the reward signal. Weights sum to 1.
var rewardWeights = map[string]float64{
	"views":      0.25,
	"likes":      0.15,
	"comments":   0.15,
	"shares":     0.10,
	"watch_time": 0.20,
	"ctr":        0.15,
}

// Engine is one agent's Q-learner. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	qtable map[string]map[models.ActionType]float64
	rng    *rand.Rand

	recentRewards      []float64
	totalActions       int
	successfulActions  int
	explorationActions int
	rewardSum          float64
	rewardCount        int
}

// New creates an engine seeded from the clock.
func New() *Engine {
	return NewWithSeed(time.Now().UnixNano())
}

// NewWithSeed creates an engine with a fixed seed, for deterministic tests.
func NewWithSeed(seed int64) *Engine {
	return &Engine{
		qtable: make(map[string]map[models.ActionType]float64),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// ── State encoding ──────────────────────────────────────────

// StateVector derives the normalized state from a metrics snapshot.
// Each feature is scaled into [0,1] against a fixed ceiling so states
// from small and large channels land in the same space.
func StateVector(m models.ChannelMetrics) []float64 {
	return []float64{
		clamp01(m.Views / 1e6),
		clamp01(m.Likes / 1e4),
		clamp01(m.Comments / 1e3),
		clamp01(m.WatchTimeHours / 3600),
		clamp01(m.CTR),
		clamp01(m.EngagementRate),
		clamp01(m.Subscribers / 1e6),
		clamp01(m.TotalViews / 1e8),
		clamp01(m.AvgEngagement),
		clamp01(float64(m.UploadHour) / 24),
		clamp01(float64(m.UploadWeekday) / 7),
		clamp01(m.DurationMin / 60),
	}
}

// StateKey bins each feature to one decimal and joins the bins into a
// stable discrete key for the Q-table.
func StateKey(state []float64) string {
	var b strings.Builder
	for i, f := range state {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(f * 10)))
	}
	return b.String()
}

// ── Action selection ────────────────────────────────────────

// SelectAction picks an action ε-greedily for the given state. The
// second return reports whether the pick was exploratory (random) as
// opposed to exploiting the Q-table.
func (e *Engine) SelectAction(state []float64) (models.ActionType, bool) {
	actions := models.AllActions()
	key := StateKey(state)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalActions++

	row, seen := e.qtable[key]
	if !seen || len(row) == 0 || e.rng.Float64() < Epsilon {
		e.explorationActions++
		return actions[e.rng.Intn(len(actions))], true
	}

	best := actions[0]
	bestQ := math.Inf(-1)
	for _, a := range actions {
		if q := row[a]; q > bestQ {
			best, bestQ = a, q
		}
	}
	return best, false
}

// SuggestParameters proposes concrete parameters for an action, sampled
// from the values that historically move the needle.
func (e *Engine) SuggestParameters(action models.ActionType) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case models.ActionUploadTime:
		hours := []int{8, 12, 16, 20}
		return map[string]any{"upload_hour": hours[e.rng.Intn(len(hours))]}
	case models.ActionTitle:
		strategies := []string{"emotional_trigger", "curiosity_gap", "number_based", "question_based"}
		return map[string]any{"title_strategy": strategies[e.rng.Intn(len(strategies))]}
	case models.ActionContent:
		durations := []int{600, 900, 1200}
		return map[string]any{"target_duration_sec": durations[e.rng.Intn(len(durations))]}
	default:
		return map[string]any{}
	}
}

// ── Learning ────────────────────────────────────────────────

// UpdateQ applies one Bellman step for (state, action) given the reward
// and the observed next state. Returns the updated Q-value.
func (e *Engine) UpdateQ(state []float64, action models.ActionType, reward float64, nextState []float64) float64 {
	key := StateKey(state)
	nextKey := StateKey(nextState)

	e.mu.Lock()
	defer e.mu.Unlock()

	row, ok := e.qtable[key]
	if !ok {
		row = make(map[models.ActionType]float64)
		e.qtable[key] = row
	}

	maxNext := 0.0
	if next, ok := e.qtable[nextKey]; ok {
		maxNext = math.Inf(-1)
		for _, q := range next {
			if q > maxNext {
				maxNext = q
			}
		}
		if math.IsInf(maxNext, -1) {
			maxNext = 0
		}
	}

	q := row[action]
	q += LearningRate * (reward + DiscountFactor*maxNext - q)
	row[action] = q

	e.recordReward(reward)
	return q
}

// recordReward updates the rolling reward stats. Caller holds e.mu.
func (e *Engine) recordReward(reward float64) {
	e.recentRewards = append(e.recentRewards, reward)
	if len(e.recentRewards) > rewardWindow {
		e.recentRewards = e.recentRewards[len(e.recentRewards)-rewardWindow:]
	}
	e.rewardSum += reward
	e.rewardCount++
	if reward > 0 {
		e.successfulActions++
	}
}

// ── Reward shaping ──────────────────────────────────────────

// MetricsReward scores a before/after metrics pair. Each metric's
// relative improvement passes through tanh(5x) so huge spikes saturate,
// then is weighted and decayed once the measurement window ages past
// 24h. A metric with no baseline but activity afterwards earns a small
// fixed credit. The engagement-rate bonus rewards absolute levels on
// top of growth.
func MetricsReward(before, after map[string]float64, hoursSince float64) float64 {
	timeFactor := 1.0
	if hoursSince > 24 {
		timeFactor = math.Max(0.1, 1-(hoursSince-24)/168)
	}

	total := 0.0
	for metric, w := range rewardWeights {
		b := before[metric]
		a := after[metric]
		switch {
		case b > 0:
			improvement := (a - b) / b
			total += math.Tanh(5*improvement) * w * timeFactor
		case a > 0:
			total += w * 0.1
		}
	}

	switch er := after["engagement_rate"]; {
	case er >= 0.05:
		total += 0.2
	case er >= 0.02:
		total += 0.1
	case er >= 0.01:
		total += 0.05
	}

	return clamp(total, -1, 1)
}

// TaskReward scores a completed agent task from its quality metrics and
// runtime. Failures earn a flat penalty; successes blend average quality
// with a speed bonus that fades to zero after a minute.
func TaskReward(quality map[string]float64, elapsed time.Duration, success bool) float64 {
	if !success {
		return -0.5
	}

	avg := 0.0
	if len(quality) > 0 {
		for _, v := range quality {
			avg += v
		}
		avg /= float64(len(quality))
	}

	timeBonus := math.Max(0, 1-elapsed.Seconds()/60)
	return clamp(avg*0.8+timeBonus*0.2, -1, 1)
}

// ── Introspection ───────────────────────────────────────────

// Stats returns the engine's activity counters.
func (e *Engine) Stats() models.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.EngineStats{
		TotalActions:       e.totalActions,
		SuccessfulActions:  e.successfulActions,
		AvgReward:          e.avgReward(),
		ExplorationActions: e.explorationActions,
	}
}

// Status reports hyperparameters plus activity for the system report.
func (e *Engine) Status() models.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.EngineStatus{
		Active:         true,
		LearningRate:   LearningRate,
		DiscountFactor: DiscountFactor,
		Epsilon:        Epsilon,
		TotalActions:   e.totalActions,
		AvgReward:      e.avgReward(),
	}
}

// avgReward computes the lifetime average. Caller holds e.mu.
func (e *Engine) avgReward() float64 {
	if e.rewardCount == 0 {
		return 0
	}
	return e.rewardSum / float64(e.rewardCount)
}

// RecentRewards returns a copy of the rolling reward window, oldest first.
func (e *Engine) RecentRewards() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.recentRewards))
	copy(out, e.recentRewards)
	return out
}

// BestActions returns the top state/action pairs with Q above minQ,
// sorted by Q descending. Confidence is min(|q|, 1).
func (e *Engine) BestActions(minQ float64, limit int) []models.BestAction {
	e.mu.Lock()
	var all []models.BestAction
	for state, row := range e.qtable {
		for action, q := range row {
			if q > minQ {
				all = append(all, models.BestAction{
					State:      state,
					Action:     action,
					QValue:     q,
					Confidence: math.Min(math.Abs(q), 1),
				})
			}
		}
	}
	e.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].QValue > all[j].QValue })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Progress summarizes the exploration/exploitation balance and the mean
// Q-value across the table.
func (e *Engine) Progress() models.LearningProgress {
	e.mu.Lock()
	defer e.mu.Unlock()

	exploration := 0.0
	if e.totalActions > 0 {
		exploration = float64(e.explorationActions) / float64(e.totalActions)
	}

	sum, n := 0.0, 0
	for _, row := range e.qtable {
		for _, q := range row {
			sum += q
			n++
		}
	}
	avgQ := 0.0
	if n > 0 {
		avgQ = sum / float64(n)
	}

	return models.LearningProgress{
		ExplorationRate:  exploration,
		ExploitationRate: 1 - exploration,
		AvgQValue:        avgQ,
	}
}

// StateCount returns how many distinct states the table has seen.
func (e *Engine) StateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.qtable)
}

// ── Helpers ─────────────────────────────────────────────────

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}
