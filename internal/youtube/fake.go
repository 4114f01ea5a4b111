package youtube

import (
	"context"
	"fmt"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// Fake is an in-memory Client for tests. Populate the maps with the
// fixtures a test needs; lookups against missing keys return ErrNotFound.
type Fake struct {
	Channels map[string]*ChannelInfo         // channel ID → info
	Handles  map[string]string               // @handle → channel ID
	Owners   map[string]string               // video ID → channel ID
	Videos   map[string][]models.VideoStats  // channel ID → recent videos
	Err      error                           // when set, every call fails with it
}

// NewFake returns an empty fake ready to be populated.
func NewFake() *Fake {
	return &Fake{
		Channels: make(map[string]*ChannelInfo),
		Handles:  make(map[string]string),
		Owners:   make(map[string]string),
		Videos:   make(map[string][]models.VideoStats),
	}
}

func (f *Fake) Channel(_ context.Context, channelID string) (*ChannelInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	info, ok := f.Channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	cp := *info
	return &cp, nil
}

func (f *Fake) ResolveHandle(_ context.Context, handle string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	id, ok := f.Handles[handle]
	if !ok {
		return "", fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return id, nil
}

func (f *Fake) VideoChannel(_ context.Context, videoID string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	id, ok := f.Owners[videoID]
	if !ok {
		return "", fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return id, nil
}

func (f *Fake) RecentVideos(_ context.Context, channelID string, max int) ([]models.VideoStats, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	videos := f.Videos[channelID]
	if max > 0 && len(videos) > max {
		videos = videos[:max]
	}
	out := make([]models.VideoStats, len(videos))
	copy(out, videos)
	return out, nil
}
