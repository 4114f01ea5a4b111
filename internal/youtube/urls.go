package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Reference patterns accepted from user input. Video IDs are always 11
// characters; canonical channel IDs are "UC" plus 22.
var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[?&]v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`/embed/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`/v/([a-zA-Z0-9_-]{11})`),
	}
	channelIDPattern = regexp.MustCompile(`/channel/(UC[a-zA-Z0-9_-]{22})`)
	handlePattern    = regexp.MustCompile(`/(@[a-zA-Z0-9._\-]+)`)
	customPattern    = regexp.MustCompile(`/c/([a-zA-Z0-9_\-]+)`)
	bareChannelID    = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	bareHandle       = regexp.MustCompile(`^@[a-zA-Z0-9._\-]+$`)
)

// ExtractVideoID pulls the video ID out of any of the common URL
// shapes (watch, youtu.be, embed, /v/). Empty when the input has none.
func ExtractVideoID(raw string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// ChannelRef is a parsed channel reference: either a canonical ID, or
// a handle that still needs API resolution.
type ChannelRef struct {
	ID     string // canonical UC… ID
	Handle string // @handle or legacy custom name, needs resolving
}

// ExtractChannelRef parses a channel URL, a bare UC… ID, or a handle.
// The second return is false when the input names no channel at all.
func ExtractChannelRef(raw string) (ChannelRef, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ChannelRef{}, false
	}
	if m := channelIDPattern.FindStringSubmatch(raw); m != nil {
		return ChannelRef{ID: m[1]}, true
	}
	if bareChannelID.MatchString(raw) {
		return ChannelRef{ID: raw}, true
	}
	if bareHandle.MatchString(raw) {
		return ChannelRef{Handle: raw}, true
	}
	if m := handlePattern.FindStringSubmatch(raw); m != nil {
		return ChannelRef{Handle: m[1]}, true
	}
	if m := customPattern.FindStringSubmatch(raw); m != nil {
		return ChannelRef{Handle: "@" + m[1]}, true
	}
	return ChannelRef{}, false
}

// ResolveChannelID turns any supported channel or video reference into
// a canonical channel ID, calling the API when resolution is needed.
// Video URLs resolve to the owning channel.
func ResolveChannelID(ctx context.Context, c Client, raw string) (string, error) {
	if ref, ok := ExtractChannelRef(raw); ok {
		if ref.ID != "" {
			return ref.ID, nil
		}
		if c == nil {
			return "", fmt.Errorf("resolve %s: %w", ref.Handle, ErrNoAPIKey)
		}
		return c.ResolveHandle(ctx, ref.Handle)
	}
	if vid := ExtractVideoID(raw); vid != "" {
		if c == nil {
			return "", fmt.Errorf("resolve video %s: %w", vid, ErrNoAPIKey)
		}
		return c.VideoChannel(ctx, vid)
	}
	return "", fmt.Errorf("%w: %q", ErrBadReference, raw)
}
