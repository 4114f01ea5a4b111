// Package youtube is a thin client for the YouTube Data API — only the
// lookups the channel tracker and agents need, not a full API surface.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// ErrNoAPIKey is returned when YOUTUBE_API_KEY is not configured.
var ErrNoAPIKey = errors.New("youtube api key not configured")

// ErrNotFound is returned when a channel or video does not exist.
var ErrNotFound = errors.New("youtube resource not found")

// ErrBadReference is returned when user input names no channel or
// video in any supported shape.
var ErrBadReference = errors.New("unrecognized youtube reference")

// Client is the data-API surface the backend depends on.
type Client interface {
	// Channel returns a channel's snippet and statistics.
	Channel(ctx context.Context, channelID string) (*ChannelInfo, error)
	// ResolveHandle maps an @handle or legacy custom name to a channel ID.
	ResolveHandle(ctx context.Context, handle string) (string, error)
	// VideoChannel returns the channel that owns a video.
	VideoChannel(ctx context.Context, videoID string) (string, error)
	// RecentVideos returns the channel's newest videos with statistics.
	RecentVideos(ctx context.Context, channelID string, max int) ([]models.VideoStats, error)
}

// ChannelInfo is a channel's public profile and counters.
type ChannelInfo struct {
	ID          string
	Title       string
	Description string
	Thumbnail   string
	Subscribers int64
	VideoCount  int64
	ViewCount   int64
}

// HTTPClient talks to the Data API over HTTPS.
type HTTPClient struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewHTTP builds the production client.
func NewHTTP(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 20 * time.Second},
	}
}

// get issues one API call and decodes the response into out.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("youtube api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("youtube api %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode youtube response: %w", err)
	}
	return nil
}

// API response shapes (only the fields we read).

type channelListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Thumbnails  struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
			VideoCount      string `json:"videoCount"`
			ViewCount       string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type searchListResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			ChannelID   string `json:"channelId"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (c *HTTPClient) Channel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("id", channelID)

	var resp channelListResponse
	if err := c.get(ctx, "/channels", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}

	item := resp.Items[0]
	return &ChannelInfo{
		ID:          item.ID,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		Thumbnail:   item.Snippet.Thumbnails.Default.URL,
		Subscribers: parseCount(item.Statistics.SubscriberCount),
		VideoCount:  parseCount(item.Statistics.VideoCount),
		ViewCount:   parseCount(item.Statistics.ViewCount),
	}, nil
}

func (c *HTTPClient) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("forHandle", handle)

	var resp channelListResponse
	if err := c.get(ctx, "/channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return resp.Items[0].ID, nil
}

func (c *HTTPClient) VideoChannel(ctx context.Context, videoID string) (string, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("id", videoID)

	var resp videoListResponse
	if err := c.get(ctx, "/videos", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return resp.Items[0].Snippet.ChannelID, nil
}

func (c *HTTPClient) RecentVideos(ctx context.Context, channelID string, max int) ([]models.VideoStats, error) {
	if max <= 0 || max > 50 {
		max = 50
	}

	// Newest video IDs first...
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("channelId", channelID)
	params.Set("order", "date")
	params.Set("type", "video")
	params.Set("maxResults", strconv.Itoa(max))

	var search searchListResponse
	if err := c.get(ctx, "/search", params, &search); err != nil {
		return nil, err
	}
	if len(search.Items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}

	// ...then one batch stats lookup
	params = url.Values{}
	params.Set("part", "snippet,statistics,contentDetails")
	params.Set("id", strings.Join(ids, ","))

	var videos videoListResponse
	if err := c.get(ctx, "/videos", params, &videos); err != nil {
		return nil, err
	}

	out := make([]models.VideoStats, 0, len(videos.Items))
	for _, item := range videos.Items {
		v := models.VideoStats{
			VideoID:     item.ID,
			Title:       item.Snippet.Title,
			Views:       parseCount(item.Statistics.ViewCount),
			Likes:       parseCount(item.Statistics.LikeCount),
			Comments:    parseCount(item.Statistics.CommentCount),
			DurationSec: parseISODuration(item.ContentDetails.Duration),
		}
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			v.PublishedAt = t
		}
		if v.Views > 0 {
			v.EngagementRate = float64(v.Likes+v.Comments) / float64(v.Views)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// parseISODuration converts the API's ISO-8601 durations (PT#H#M#S)
// to seconds. Malformed input yields 0.
func parseISODuration(s string) int {
	s = strings.TrimPrefix(s, "PT")
	total := 0
	num := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'H':
			total += num * 3600
			num = 0
		case r == 'M':
			total += num * 60
			num = 0
		case r == 'S':
			total += num
			num = 0
		default:
			num = 0
		}
	}
	return total
}
