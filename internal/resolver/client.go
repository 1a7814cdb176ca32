package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Typed failures. The ws layer maps these to distinct wire codes so the
// client can tell "bad link" from "ask the owner".
var (
	ErrNotFound      = errors.New("resolver: track not found")
	ErrLiveBroadcast = errors.New("resolver: live broadcasts cannot be queued")
	ErrUnavailable   = errors.New("resolver: service unavailable")
)

const musicCategoryID = "10"

// Resolved is the normalized metadata for one playable track.
type Resolved struct {
	VideoID   string
	Title     string
	Creator   string
	Thumbnail string
	Duration  int // seconds
	IsMusic   bool
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title                string `json:"title"`
			ChannelTitle         string `json:"channelTitle"`
			CategoryID           string `json:"categoryId"`
			LiveBroadcastContent string `json:"liveBroadcastContent"`
			Thumbnails           struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Resolve turns a URL or free-text query into normalized track metadata.
// Free text goes through search first; URLs and bare ids skip straight to
// the video lookup. The passed context bounds the whole exchange.
func (c *Client) Resolve(ctx context.Context, query string) (*Resolved, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}

	videoID := extractVideoID(query)
	if videoID == "" {
		var err error
		videoID, err = c.search(ctx, query)
		if err != nil {
			return nil, err
		}
	}
	return c.lookup(ctx, videoID)
}

// extractVideoID recognizes watch URLs, short links and bare 11-char ids.
func extractVideoID(query string) string {
	if videoIDPattern.MatchString(query) {
		return query
	}
	u, err := url.Parse(query)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Host, "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
			return id
		}
		if strings.HasPrefix(u.Path, "/embed/") || strings.HasPrefix(u.Path, "/shorts/") {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && videoIDPattern.MatchString(parts[1]) {
				return parts[1]
			}
		}
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if videoIDPattern.MatchString(id) {
			return id
		}
	}
	return ""
}

func (c *Client) search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Add("part", "id")
	params.Add("type", "video")
	params.Add("maxResults", "1")
	params.Add("q", query)
	params.Add("key", c.apiKey)

	var out searchResponse
	if err := c.get(ctx, "/search?"+params.Encode(), &out); err != nil {
		return "", err
	}
	if len(out.Items) == 0 || out.Items[0].ID.VideoID == "" {
		return "", ErrNotFound
	}
	return out.Items[0].ID.VideoID, nil
}

func (c *Client) lookup(ctx context.Context, videoID string) (*Resolved, error) {
	params := url.Values{}
	params.Add("part", "snippet,contentDetails")
	params.Add("id", videoID)
	params.Add("key", c.apiKey)

	var out videoListResponse
	if err := c.get(ctx, "/videos?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}

	item := out.Items[0]
	if item.Snippet.LiveBroadcastContent != "" && item.Snippet.LiveBroadcastContent != "none" {
		return nil, ErrLiveBroadcast
	}

	duration, err := parseISO8601Duration(item.ContentDetails.Duration)
	if err != nil {
		return nil, fmt.Errorf("resolver: bad duration %q: %w", item.ContentDetails.Duration, err)
	}

	return &Resolved{
		VideoID:   item.ID,
		Title:     item.Snippet.Title,
		Creator:   item.Snippet.ChannelTitle,
		Thumbnail: item.Snippet.Thumbnails.Medium.URL,
		Duration:  duration,
		IsMusic:   item.Snippet.CategoryID == musicCategoryID,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures all surface as the adapter
		// being unavailable; the suggestion fails instead of blocking.
		return ErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		// Quota exhaustion.
		return ErrUnavailable
	case resp.StatusCode >= 500:
		return ErrUnavailable
	default:
		return fmt.Errorf("resolver: request failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("resolver: decode response: %w", err)
	}
	return nil
}

var iso8601Pattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

func parseISO8601Duration(s string) (int, error) {
	m := iso8601Pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("not an ISO-8601 duration")
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, err
		}
		total += n * mult
	}
	return total, nil
}
