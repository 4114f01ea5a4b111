package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/viewcraft/viewcraft/backend/internal/memory"
	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// TaskResult carries a deliverable plus the learning-loop readout for
// the completed session.
type TaskResult struct {
	Output string            `json:"output"`
	Action models.ActionType `json:"action"`
	Reward float64           `json:"reward"`
	QValue float64           `json:"q_value"`
}

// Service exposes the seven agent tasks as typed operations. Every
// task, successful or not, passes through its agent's learning loop.
type Service struct {
	registry *Registry
	yt       youtube.Client
	metrics  *memory.RealtimeMetrics
}

// NewService wires the task layer. yt may be nil when no API key is
// configured; data-dependent tasks then degrade or fail cleanly.
func NewService(registry *Registry, yt youtube.Client, metrics *memory.RealtimeMetrics) *Service {
	return &Service{registry: registry, yt: yt, metrics: metrics}
}

// Registry exposes the agents for status and insight reads.
func (s *Service) Registry() *Registry { return s.registry }

// run pushes one task through an agent's learning loop.
func (s *Service) run(ctx context.Context, agentID string, observed models.ChannelMetrics, task func(session *models.AgentSession) (string, error)) (*TaskResult, error) {
	agent, ok := s.registry.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("unknown agent %s", agentID)
	}
	session := agent.StartSession(observed)
	output, err := task(session)
	reward, q := agent.FinishSession(ctx, session, output, err)
	if err != nil {
		return nil, err
	}
	return &TaskResult{
		Output: output,
		Action: session.Action,
		Reward: reward,
		QValue: q,
	}, nil
}

// ── Channel auditor ─────────────────────────────────────────

// AuditChannels reviews one or more channels. With a configured API
// client the audit carries live statistics; without one it degrades to
// a structural review of whatever the reference itself reveals.
func (s *Service) AuditChannels(ctx context.Context, channelURLs []string, focus string) (*TaskResult, error) {
	if len(channelURLs) == 0 {
		return nil, errors.New("audit: no channel references given")
	}

	type audited struct {
		info   *youtube.ChannelInfo
		videos []models.VideoStats
	}
	var (
		found    []audited
		failures []string
	)
	for _, raw := range channelURLs {
		id, err := youtube.ResolveChannelID(ctx, s.yt, raw)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s (%v)", raw, err))
			continue
		}
		info := &youtube.ChannelInfo{ID: id}
		var videos []models.VideoStats
		if s.yt != nil {
			if full, err := s.yt.Channel(ctx, id); err == nil {
				info = full
			}
			videos, _ = s.yt.RecentVideos(ctx, id, 20)
		}
		found = append(found, audited{info: info, videos: videos})
	}

	var observed models.ChannelMetrics
	if len(found) > 0 {
		observed = channelState(found[0].info, found[0].videos)
		s.cacheMetrics(ctx, found[0].info.ID, observed)
	}

	return s.run(ctx, ChannelAuditorID, observed, func(*models.AgentSession) (string, error) {
		if len(found) == 0 {
			return "", fmt.Errorf("no auditable channels: %s", strings.Join(failures, "; "))
		}
		var b strings.Builder
		for i, a := range found {
			if i > 0 {
				b.WriteString("\n---\n\n")
			}
			b.WriteString(composeChannelAudit(a.info, a.videos, focus))
		}
		for _, f := range failures {
			fmt.Fprintf(&b, "\n> Skipped: %s\n", f)
		}
		return b.String(), nil
	})
}

// ── Title auditor ───────────────────────────────────────────

// AuditTitles grades video titles against packaging heuristics and
// proposes rewrites in the strategy the learner currently favors.
func (s *Service) AuditTitles(ctx context.Context, titles, videoURLs []string) (*TaskResult, error) {
	clean := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	var videoIDs []string
	for _, raw := range videoURLs {
		if id := youtube.ExtractVideoID(raw); id != "" {
			videoIDs = append(videoIDs, id)
		}
	}
	if len(clean) == 0 && len(videoIDs) == 0 {
		return nil, errors.New("title audit: no titles or video urls given")
	}

	return s.run(ctx, TitleAuditorID, models.ChannelMetrics{}, func(session *models.AgentSession) (string, error) {
		strategy := "curiosity_gap"
		if v, ok := session.Parameters["title_strategy"].(string); ok {
			strategy = v
		}
		return composeTitleAudit(clean, videoIDs, strategy), nil
	})
}

// ── Script generator ────────────────────────────────────────

// GenerateScript writes a full video script scaffold for a topic.
// background carries upstream context such as a title audit.
func (s *Service) GenerateScript(ctx context.Context, topic, background string, durationSec int) (*TaskResult, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("script: topic required")
	}
	return s.run(ctx, ScriptGeneratorID, models.ChannelMetrics{}, func(session *models.AgentSession) (string, error) {
		target := durationSec
		if target <= 0 {
			if v, ok := session.Parameters["target_duration_sec"].(int); ok {
				target = v
			} else {
				target = 600
			}
		}
		return composeScript(topic, background, target), nil
	})
}

// ── Script-to-scene ─────────────────────────────────────────

// ScriptToScenes converts a script into numbered scene blocks with
// visual prompts ready for a storyboard or image model.
func (s *Service) ScriptToScenes(ctx context.Context, script string) (*TaskResult, error) {
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("scenes: script required")
	}
	return s.run(ctx, ScriptToSceneID, models.ChannelMetrics{}, func(*models.AgentSession) (string, error) {
		return composeScenes(script), nil
	})
}

// ── Idea generator ──────────────────────────────────────────

// GenerateIdeas proposes video concepts for a niche, optionally
// grounded in a list of already-winning videos.
func (s *Service) GenerateIdeas(ctx context.Context, niche string, winning []string) (*TaskResult, error) {
	if strings.TrimSpace(niche) == "" {
		return nil, errors.New("ideas: niche required")
	}
	return s.run(ctx, IdeaGeneratorID, models.ChannelMetrics{}, func(session *models.AgentSession) (string, error) {
		strategy := "curiosity_gap"
		if v, ok := session.Parameters["title_strategy"].(string); ok {
			strategy = v
		}
		return composeIdeas(niche, winning, strategy), nil
	})
}

// ── Roadmap generator ───────────────────────────────────────

// GenerateRoadmap plans a posting schedule for the coming weeks.
func (s *Service) GenerateRoadmap(ctx context.Context, niche, goals string, weeks int) (*TaskResult, error) {
	if strings.TrimSpace(niche) == "" {
		return nil, errors.New("roadmap: niche required")
	}
	if weeks <= 0 {
		weeks = 12
	}
	if weeks > 52 {
		weeks = 52
	}
	return s.run(ctx, RoadmapID, models.ChannelMetrics{}, func(*models.AgentSession) (string, error) {
		return composeRoadmap(niche, goals, weeks), nil
	})
}

// ── Fifty-videos fetcher ────────────────────────────────────

// FetchFiftyVideos pulls the 50 newest uploads of a channel and
// returns them as a linked list with view counts.
func (s *Service) FetchFiftyVideos(ctx context.Context, channelURL string) (*TaskResult, error) {
	if strings.TrimSpace(channelURL) == "" {
		return nil, errors.New("fetch: channel url required")
	}

	var (
		info     *youtube.ChannelInfo
		videos   []models.VideoStats
		fetchErr error
	)
	channelID, err := youtube.ResolveChannelID(ctx, s.yt, channelURL)
	switch {
	case err != nil:
		fetchErr = err
	case s.yt == nil:
		fetchErr = youtube.ErrNoAPIKey
	default:
		info, fetchErr = s.yt.Channel(ctx, channelID)
		if fetchErr == nil {
			videos, fetchErr = s.yt.RecentVideos(ctx, channelID, 50)
		}
	}

	var observed models.ChannelMetrics
	if fetchErr == nil {
		observed = channelState(info, videos)
		s.cacheMetrics(ctx, channelID, observed)
	}

	return s.run(ctx, FiftyVideosID, observed, func(*models.AgentSession) (string, error) {
		if fetchErr != nil {
			return "", fmt.Errorf("fetch %s: %w", channelURL, fetchErr)
		}
		return composeVideoList(info, videos), nil
	})
}

// ── Chat ────────────────────────────────────────────────────

// ChatReply produces the assistant turn for a chat conversation. The
// scriptwriter persona drafts script material, the scene-writer persona
// turns material into scenes; both ground themselves in the caller's
// tracked-channel analytics when a snapshot is supplied.
func (s *Service) ChatReply(ctx context.Context, conv models.Conversation, message string, history []models.ChatMessage, snapshot *models.ChannelSnapshot) (*TaskResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("chat: empty message")
	}

	agentID := ScriptGeneratorID
	if conv == models.ConversationSceneWriter {
		agentID = ScriptToSceneID
	}

	var observed models.ChannelMetrics
	if snapshot != nil {
		observed = snapshotState(snapshot)
	}

	return s.run(ctx, agentID, observed, func(*models.AgentSession) (string, error) {
		return composeChatReply(conv, message, history, snapshot), nil
	})
}

// ── Observation helpers ─────────────────────────────────────

// channelState folds a channel's profile and recent uploads into the
// learner's observation.
func channelState(info *youtube.ChannelInfo, videos []models.VideoStats) models.ChannelMetrics {
	m := models.ChannelMetrics{
		Subscribers: float64(info.Subscribers),
		TotalViews:  float64(info.ViewCount),
	}
	if len(videos) == 0 {
		return m
	}
	var views, likes, comments, engagement, durationSec float64
	for _, v := range videos {
		views += float64(v.Views)
		likes += float64(v.Likes)
		comments += float64(v.Comments)
		engagement += v.EngagementRate
		durationSec += float64(v.DurationSec)
	}
	n := float64(len(videos))
	m.Views = views / n
	m.Likes = likes / n
	m.Comments = comments / n
	m.EngagementRate = engagement / n
	m.AvgEngagement = engagement / n
	m.DurationMin = durationSec / n / 60

	latest := videos[0].PublishedAt
	if !latest.IsZero() {
		m.UploadHour = latest.Hour()
		m.UploadWeekday = (int(latest.Weekday()) + 6) % 7 // 0 = Monday
	}
	return m
}

// snapshotState folds a stored analytics snapshot into an observation.
func snapshotState(snap *models.ChannelSnapshot) models.ChannelMetrics {
	m := models.ChannelMetrics{
		Views:          snap.AvgViewsPerVideo,
		EngagementRate: snap.AvgEngagementRate,
		AvgEngagement:  snap.AvgEngagementRate,
		TotalViews:     float64(snap.TotalViews),
	}
	if n := float64(len(snap.RecentVideos)); n > 0 {
		m.Likes = float64(snap.TotalLikes) / n
		m.Comments = float64(snap.TotalComments) / n
	}
	return m
}

// cacheMetrics publishes an observation to the realtime tier so later
// sessions can observe it without refetching.
func (s *Service) cacheMetrics(ctx context.Context, channelID string, m models.ChannelMetrics) {
	if channelID == "" {
		return
	}
	err := s.metrics.SetChannelMetrics(ctx, channelID, map[string]float64{
		"views":           m.Views,
		"likes":           m.Likes,
		"comments":        m.Comments,
		"engagement_rate": m.EngagementRate,
		"subscribers":     m.Subscribers,
		"total_views":     m.TotalViews,
		"avg_engagement":  m.AvgEngagement,
		"duration_min":    m.DurationMin,
	})
	if err != nil {
		log.Debug().Err(err).Str("channel", channelID).Msg("metrics cache write skipped")
	}
}
