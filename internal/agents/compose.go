package agents

// Deliverable composition. Everything here is deterministic text
// assembly: the learning loop decides which angle to lean into, the
// composers render it.

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/viewcraft/viewcraft/backend/internal/youtube"
	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// humanCount renders counters the way YouTube surfaces them: 1.2M, 45K.
func humanCount(n int64) string {
	format := func(v float64, suffix string) string {
		return strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0") + suffix
	}
	switch {
	case n >= 1_000_000_000:
		return format(float64(n)/1e9, "B")
	case n >= 1_000_000:
		return format(float64(n)/1e6, "M")
	case n >= 1_000:
		return format(float64(n)/1e3, "K")
	default:
		return fmt.Sprintf("%d", n)
	}
}

// ── Channel audit ───────────────────────────────────────────

func composeChannelAudit(info *youtube.ChannelInfo, videos []models.VideoStats, focus string) string {
	var b strings.Builder

	title := info.Title
	if title == "" {
		title = info.ID
	}
	fmt.Fprintf(&b, "### Channel Audit: %s\n\n", title)
	fmt.Fprintf(&b, "**Channel ID:** %s\n", info.ID)
	if info.Subscribers > 0 || info.ViewCount > 0 {
		fmt.Fprintf(&b, "**Subscribers:** %s\n", humanCount(info.Subscribers))
		fmt.Fprintf(&b, "**Total views:** %s\n", humanCount(info.ViewCount))
		fmt.Fprintf(&b, "**Uploads:** %d\n", info.VideoCount)
	} else {
		b.WriteString("\n> Live statistics unavailable; structural review only.\n")
	}

	if len(videos) > 0 {
		avgViews, avgEng, cadence := auditAggregates(videos)
		top := topByViews(videos)

		b.WriteString("\n### Performance Snapshot\n\n")
		fmt.Fprintf(&b, "- Average views over the last %d uploads: %s\n", len(videos), humanCount(int64(avgViews)))
		fmt.Fprintf(&b, "- Average engagement: %.2f%%\n", avgEng*100)
		if cadence > 0 {
			fmt.Fprintf(&b, "- Upload cadence: %.1f videos/week\n", cadence)
		}
		if top != nil {
			fmt.Fprintf(&b, "- Best recent performer: %q (%s views)\n", top.Title, humanCount(top.Views))
		}

		b.WriteString("\n### Strengths\n\n")
		for _, s := range auditStrengths(info, avgViews, avgEng, cadence) {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n### Areas to Improve\n\n")
		for _, s := range auditWeaknesses(info, videos, avgViews, avgEng, cadence) {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	b.WriteString("\n### Recommended Focus\n\n")
	if focus != "" {
		fmt.Fprintf(&b, "Requested focus: **%s**\n\n", focus)
	}
	b.WriteString("1. Fix packaging first: titles and thumbnails move CTR before anything else does.\n")
	b.WriteString("2. Protect the first 30 seconds; retention there decides how the algorithm seeds the video.\n")
	b.WriteString("3. Double down on the formats already outperforming the channel average.\n")
	return b.String()
}

func auditAggregates(videos []models.VideoStats) (avgViews, avgEng, cadence float64) {
	var views, eng float64
	newest, oldest := videos[0].PublishedAt, videos[0].PublishedAt
	for _, v := range videos {
		views += float64(v.Views)
		eng += v.EngagementRate
		if v.PublishedAt.After(newest) {
			newest = v.PublishedAt
		}
		if v.PublishedAt.Before(oldest) {
			oldest = v.PublishedAt
		}
	}
	n := float64(len(videos))
	avgViews = views / n
	avgEng = eng / n
	if span := newest.Sub(oldest).Hours() / 24 / 7; span > 0 {
		cadence = (n - 1) / span
	}
	return avgViews, avgEng, cadence
}

func topByViews(videos []models.VideoStats) *models.VideoStats {
	if len(videos) == 0 {
		return nil
	}
	best := videos[0]
	for _, v := range videos[1:] {
		if v.Views > best.Views {
			best = v
		}
	}
	return &best
}

func auditStrengths(info *youtube.ChannelInfo, avgViews, avgEng, cadence float64) []string {
	var out []string
	if avgEng >= 0.02 {
		out = append(out, fmt.Sprintf("Engagement rate %.2f%% clears the 2%% healthy baseline.", avgEng*100))
	}
	if cadence >= 1 {
		out = append(out, fmt.Sprintf("Consistent schedule at %.1f uploads/week keeps the channel in the recommendation pool.", cadence))
	}
	if info.Subscribers > 0 && avgViews >= float64(info.Subscribers)*0.1 {
		out = append(out, "Recent uploads reach over 10% of the subscriber base, a sign of an active core audience.")
	}
	if len(out) == 0 {
		out = append(out, "No standout strengths in this sample; the upside is that every lever below is still untouched.")
	}
	return out
}

func auditWeaknesses(info *youtube.ChannelInfo, videos []models.VideoStats, avgViews, avgEng, cadence float64) []string {
	var out []string
	if avgEng < 0.02 {
		out = append(out, fmt.Sprintf("Engagement rate %.2f%% sits below the 2%% baseline; add explicit comment prompts and a mid-video question.", avgEng*100))
	}
	if cadence > 0 && cadence < 1 {
		out = append(out, fmt.Sprintf("Cadence of %.1f uploads/week is below the weekly floor most niches need to compound.", cadence))
	}
	if info.Subscribers > 0 && avgViews < float64(info.Subscribers)*0.1 {
		out = append(out, "Recent uploads reach under 10% of subscribers; packaging is likely filtering out the existing audience.")
	}
	var shortTitles int
	for _, v := range videos {
		if len(v.Title) < 30 {
			shortTitles++
		}
	}
	if len(videos) > 0 && shortTitles*2 > len(videos) {
		out = append(out, "Over half of recent titles run under 30 characters; they leave the curiosity gap unbuilt.")
	}
	if len(out) == 0 {
		out = append(out, "Nothing urgent in this sample; keep iterating on packaging experiments.")
	}
	return out
}

// ── Title audit ─────────────────────────────────────────────

var powerWords = []string{"secret", "mistake", "truth", "never", "stop", "why", "how", "proven", "instant", "nobody"}

func composeTitleAudit(titles, videoIDs []string, strategy string) string {
	var b strings.Builder
	b.WriteString("### Title Audit\n\n")
	fmt.Fprintf(&b, "**Strategy in play:** %s\n", strategy)

	for i, t := range titles {
		score, notes := titleFindings(t)
		fmt.Fprintf(&b, "\n#### %d. %q — score %d/100\n\n", i+1, t, score)
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		fmt.Fprintf(&b, "\n**Try:** %q\n", rewriteTitle(t, strategy))
	}

	if len(videoIDs) > 0 {
		b.WriteString("\n### Linked Videos Without Titles\n\n")
		for _, id := range videoIDs {
			fmt.Fprintf(&b, "- https://www.youtube.com/watch?v=%s (supply the title to score it)\n", id)
		}
	}

	b.WriteString("\n### Overall Recommendations\n\n")
	b.WriteString("- Keep titles between 45 and 65 characters; YouTube truncates around 70.\n")
	b.WriteString("- Front-load the promise in the first 40 characters for mobile.\n")
	b.WriteString("- Run one packaging variable per upload so wins are attributable.\n")
	return b.String()
}

// titleFindings scores one title on packaging heuristics.
func titleFindings(t string) (int, []string) {
	score := 30
	var notes []string

	switch l := len(t); {
	case l < 25:
		notes = append(notes, fmt.Sprintf("At %d characters the title is too short to build a promise.", l))
	case l > 70:
		notes = append(notes, fmt.Sprintf("At %d characters the tail gets truncated in search and suggested.", l))
	default:
		score += 20
		notes = append(notes, "Length sits in the display-safe range.")
	}

	if strings.ContainsAny(t, "0123456789") {
		score += 15
		notes = append(notes, "Numbers anchor the promise and lift scannability.")
	} else {
		notes = append(notes, "No number; consider quantifying the payoff.")
	}

	if strings.Contains(t, "?") {
		score += 10
		notes = append(notes, "Question form opens a curiosity loop.")
	}
	if strings.ContainsAny(t, "([") {
		score += 10
		notes = append(notes, "Bracketed qualifier adds a second hook.")
	}

	lower := strings.ToLower(t)
	for _, w := range powerWords {
		if strings.Contains(lower, w) {
			score += 15
			notes = append(notes, fmt.Sprintf("Power word %q pulls emotional weight.", w))
			break
		}
	}

	if upper, letters := countUpper(t); letters > 0 && upper*2 > letters {
		score -= 15
		notes = append(notes, "Mostly upper-case reads as shouting and depresses CTR.")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, notes
}

func countUpper(s string) (upper, letters int) {
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return upper, letters
}

func rewriteTitle(t, strategy string) string {
	core := strings.TrimRight(strings.TrimSpace(t), ".!?")
	switch strategy {
	case "number_based":
		return fmt.Sprintf("7 Things About %s Nobody Tells You", core)
	case "question_based":
		return fmt.Sprintf("Is %s Actually Worth It?", core)
	case "emotional_trigger":
		return fmt.Sprintf("The Painful Truth About %s", core)
	default: // curiosity_gap
		return fmt.Sprintf("What Nobody Tells You About %s", core)
	}
}

// ── Script ──────────────────────────────────────────────────

func composeScript(topic, background string, targetSec int) string {
	words := targetSec / 60 * 150 // 150 wpm speaking pace

	var b strings.Builder
	fmt.Fprintf(&b, "### Script: %s\n\n", topic)
	fmt.Fprintf(&b, "**Target length:** ~%d min (≈%d words)\n", targetSec/60, words)
	b.WriteString("**Structure:** hook, setup, three acts, payoff, outro\n")

	if background = strings.TrimSpace(background); background != "" {
		b.WriteString("\n### Context Carried In\n\n")
		fmt.Fprintf(&b, "> %s\n", firstN(background, 280))
	}

	fmt.Fprintf(&b, "\n### HOOK (0:00–0:15)\n\n")
	fmt.Fprintf(&b, "Most people get %s completely wrong — and it costs them every single day.\n", topic)
	b.WriteString("By the end of this video you'll know exactly what to do differently.\n")

	b.WriteString("\n### INTRO\n\n")
	fmt.Fprintf(&b, "Quick framing: why %s matters right now, and the one misconception to drop before we start.\n", topic)

	fmt.Fprintf(&b, "\n### ACT 1 — What %s really is\n\n", topic)
	b.WriteString("- Define it in one sentence a beginner repeats back correctly.\n")
	b.WriteString("- The two moving parts everyone conflates.\n")
	b.WriteString("- A 10-second concrete example.\n")

	fmt.Fprintf(&b, "\n### ACT 2 — Why %s matters right now\n\n", topic)
	b.WriteString("- The shift that changed the playing field this year.\n")
	b.WriteString("- Who wins and who loses if nothing changes.\n")
	b.WriteString("- Receipts: one number, one story.\n")

	fmt.Fprintf(&b, "\n### ACT 3 — How to apply %s today\n\n", topic)
	b.WriteString("- Step 1: the smallest possible start.\n")
	b.WriteString("- Step 2: the checkpoint that tells you it's working.\n")
	b.WriteString("- Step 3: the common failure mode and its fix.\n")

	b.WriteString("\n### MID-ROLL CTA\n\n")
	b.WriteString("One line, earned not begged: \"If this reframed it for you, the subscribe button tells me to make part two.\"\n")

	b.WriteString("\n### PAYOFF\n\n")
	fmt.Fprintf(&b, "Tie the three acts together: %s is not about effort, it's about sequence.\n", topic)

	b.WriteString("\n### OUTRO\n\n")
	b.WriteString("Point to the logical next video and end within five seconds of the payoff.\n")
	return b.String()
}

// ── Scenes ──────────────────────────────────────────────────

const maxScenes = 40

var shotRotation = []string{
	"Wide establishing b-roll matching the narration",
	"Talking-head medium shot, slow push-in",
	"Screen capture with highlighted cursor path",
	"Motion-graphic overlay restating the key phrase",
}

func composeScenes(script string) string {
	beats := splitBeats(script)

	var b strings.Builder
	b.WriteString("### Scene Breakdown\n\n")
	fmt.Fprintf(&b, "**Source beats:** %d\n", len(beats))

	truncated := false
	if len(beats) > maxScenes {
		beats = beats[:maxScenes]
		truncated = true
	}

	totalSec := 0
	for i, beat := range beats {
		words := len(strings.Fields(beat))
		dur := words * 2 / 5 // ~2.5 words/sec narration
		if dur < 3 {
			dur = 3
		}
		totalSec += dur

		fmt.Fprintf(&b, "\n### Scene %d\n\n", i+1)
		fmt.Fprintf(&b, "**Narration:** %s\n", firstN(beat, 200))
		fmt.Fprintf(&b, "**Visual:** %s\n", visualFor(beat, i))
		fmt.Fprintf(&b, "**On-screen text:** %s\n", firstWords(beat, 6))
		fmt.Fprintf(&b, "**Est. duration:** %ds\n", dur)
	}

	fmt.Fprintf(&b, "\n**Estimated runtime:** %dm %02ds across %d scenes\n", totalSec/60, totalSec%60, len(beats))
	if truncated {
		fmt.Fprintf(&b, "\n> Script exceeded %d beats; trailing beats were dropped.\n", maxScenes)
	}
	return b.String()
}

// splitBeats cuts a script into narration beats on blank lines,
// skipping headings.
func splitBeats(script string) []string {
	var beats []string
	for _, block := range strings.Split(script, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") {
			continue
		}
		beats = append(beats, strings.ReplaceAll(block, "\n", " "))
	}
	if len(beats) == 0 {
		if s := strings.TrimSpace(script); s != "" {
			beats = append(beats, strings.ReplaceAll(s, "\n", " "))
		}
	}
	return beats
}

// visualFor picks a shot suggestion from beat content, falling back to
// a rotating shot list so consecutive scenes vary.
func visualFor(beat string, idx int) string {
	lower := strings.ToLower(beat)
	switch {
	case strings.Contains(lower, "step") || strings.Contains(lower, "how to"):
		return "Screen recording with numbered step callouts"
	case strings.Contains(lower, "why") || strings.Contains(lower, "truth"):
		return "Talking-head close-up, direct to camera"
	case strings.ContainsAny(beat, "0123456789"):
		return "Animated counter or chart overlay"
	default:
		return shotRotation[idx%len(shotRotation)]
	}
}

// ── Ideas ───────────────────────────────────────────────────

var ideaTemplates = []struct {
	title  string
	format string
	hook   string
}{
	{"The Truth About %s in 2026", "mid-form explainer", "contrarian take"},
	{"%s Mistakes That Keep Beginners Stuck", "listicle", "pain-point callout"},
	{"I Tried %s for 30 Days", "experiment vlog", "personal stakes"},
	{"%s: Beginner vs Pro", "comparison", "skill-gap curiosity"},
	{"Top 7 %s Tools Worth Your Money", "ranked list", "purchase guidance"},
	{"Why Everyone Is Quitting %s", "trend analysis", "reverse FOMO"},
	{"The 10-Minute %s Routine", "tutorial", "low-effort promise"},
	{"What Nobody Tells You About %s", "story-driven", "curiosity gap"},
	{"%s Q&A: Your Top Questions Answered", "community", "audience loop"},
	{"How %s Will Change by 2030", "prediction", "future stakes"},
}

func composeIdeas(niche string, winning []string, strategy string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Video Ideas: %s\n\n", niche)
	fmt.Fprintf(&b, "**Packaging strategy:** %s\n\n", strategy)

	for i, tpl := range ideaTemplates {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, fmt.Sprintf(tpl.title, niche))
		fmt.Fprintf(&b, "   - Format: %s · Hook: %s\n", tpl.format, tpl.hook)
	}

	if len(winning) > 0 {
		b.WriteString("\n### Grounded In What's Working\n\n")
		for i, w := range winning {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", firstN(w, 120))
		}
		b.WriteString("\nMirror the promise shape of these performers, not their exact topics.\n")
	}
	return b.String()
}

// ── Roadmap ─────────────────────────────────────────────────

var roadmapThemes = []string{"Foundations", "Audience growth", "Authority", "Collaboration"}

func composeRoadmap(niche, goals string, weeks int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Content Roadmap: %s (%d weeks)\n", niche, weeks)

	if goals = strings.TrimSpace(goals); goals != "" {
		b.WriteString("\n### North-Star Goals\n\n")
		fmt.Fprintf(&b, "> %s\n", firstN(goals, 280))
	}

	for week := 1; week <= weeks; week++ {
		theme := roadmapThemes[(week-1)%len(roadmapThemes)]
		fmt.Fprintf(&b, "\n### Week %d — %s\n\n", week, theme)
		fmt.Fprintf(&b, "- Search-intent video: \"How to get started with %s\" angle refreshed for week %d.\n", niche, week)
		fmt.Fprintf(&b, "- Momentum video: ride the `%s` conversation of the week.\n", niche)
		fmt.Fprintf(&b, "- Milestone: %s\n", weekMilestone(week))
	}

	b.WriteString("\n### Operating Notes\n\n")
	b.WriteString("- Two uploads weekly; batch-record in a single session.\n")
	b.WriteString("- Log title, thumbnail, CTR, and 30-second retention for every upload.\n")
	b.WriteString("- Review the log every fourth week before planning the next block.\n")
	return b.String()
}

func weekMilestone(week int) string {
	switch {
	case week%12 == 0:
		return "Launch a series from the best-performing format of the quarter."
	case week%8 == 0:
		return "Double down: remake the block's top video with sharper packaging."
	case week%4 == 0:
		return "Analytics review: kill the weakest format, keep the strongest."
	default:
		return "Publish both slots and log packaging results."
	}
}

// ── Video list ──────────────────────────────────────────────

func composeVideoList(info *youtube.ChannelInfo, videos []models.VideoStats) string {
	var b strings.Builder
	title := info.Title
	if title == "" {
		title = info.ID
	}
	fmt.Fprintf(&b, "### Latest Uploads — %s\n\n", title)
	fmt.Fprintf(&b, "**Channel:** %s · %s subscribers\n", info.ID, humanCount(info.Subscribers))
	fmt.Fprintf(&b, "**Fetched:** %d videos\n\n", len(videos))

	for i, v := range videos {
		fmt.Fprintf(&b, "%d. [%s](https://www.youtube.com/watch?v=%s) — %s views · %.1f%% engagement\n",
			i+1, v.Title, v.VideoID, humanCount(v.Views), v.EngagementRate*100)
	}
	if len(videos) == 0 {
		b.WriteString("No public uploads found.\n")
	}
	return b.String()
}

// ── Chat ────────────────────────────────────────────────────

func composeChatReply(conv models.Conversation, message string, history []models.ChatMessage, snapshot *models.ChannelSnapshot) string {
	var b strings.Builder

	if len(history) > 0 {
		fmt.Fprintf(&b, "Picking up from our thread (%d earlier turns).\n\n", len(history))
	}

	if snapshot != nil && len(snapshot.RecentVideos) > 0 {
		top := topPerformers(snapshot.RecentVideos, 1)
		b.WriteString("**From your channel's data:** ")
		fmt.Fprintf(&b, "recent uploads average %s views at %.1f%% engagement; %q is the standout.\n\n",
			humanCount(int64(snapshot.AvgViewsPerVideo)), snapshot.AvgEngagementRate*100, top[0].Title)
	}

	if conv == models.ConversationSceneWriter {
		b.WriteString(composeScenes(message))
		return b.String()
	}

	// Scriptwriter: treat the message as the working topic.
	fmt.Fprintf(&b, "Here's a working structure for %q:\n\n", firstN(message, 80))
	b.WriteString("**Hook:** open on the single most surprising claim you can defend.\n")
	b.WriteString("**Beat 1:** the problem as your viewer experiences it, in their words.\n")
	b.WriteString("**Beat 2:** the mechanism — why it happens, one concrete example.\n")
	b.WriteString("**Beat 3:** the fix, smallest step first.\n")
	b.WriteString("**Close:** restate the claim, point to the next video.\n\n")
	b.WriteString("Tell me which beat to draft in full and I'll expand it line by line.\n")
	return b.String()
}

// topPerformers returns the n highest-viewed videos, best first.
func topPerformers(videos []models.VideoStats, n int) []models.VideoStats {
	out := make([]models.VideoStats, len(videos))
	copy(out, videos)
	sort.Slice(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ── Small string helpers ────────────────────────────────────

func firstN(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
