package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/loewenmaehne/revibe-music-sub000/internal/resolver"
)

type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

func voteDelta(v Vote) int {
	if v == VoteUp {
		return 1
	}
	return -1
}

// Track is one queued or pending media reference with its voting state.
// The votes map is owned exclusively by the track; snapshots copy it.
type Track struct {
	ID              string
	VideoID         string
	Title           string
	Creator         string
	Thumbnail       string
	Duration        int
	Score           int
	votes           map[string]Vote // clientID -> direction
	SuggestedByID   string
	SuggestedBy     string
	IsMusic         bool
	IsOwnerPriority bool
}

func newTrackID() string { return uuid.New().String() }

func newTrack(res *resolver.Resolved, p Peer) *Track {
	return &Track{
		ID:            newTrackID(),
		VideoID:       res.VideoID,
		Title:         res.Title,
		Creator:       res.Creator,
		Thumbnail:     res.Thumbnail,
		Duration:      res.Duration,
		votes:         make(map[string]Vote),
		SuggestedByID: p.UserID,
		SuggestedBy:   p.Name,
		IsMusic:       res.IsMusic,
	}
}

// HistoryEntry records one completed play. History is append-only; the
// duplicate-cooldown check, the library view and auto-refill all read it.
type HistoryEntry struct {
	VideoID     string    `json:"videoId"`
	Title       string    `json:"title"`
	Creator     string    `json:"creator"`
	Thumbnail   string    `json:"thumbnail"`
	Duration    int       `json:"duration"`
	SuggestedBy string    `json:"suggestedBy,omitempty"`
	IsMusic     bool      `json:"-"`
	PlayedAt    time.Time `json:"playedAt"`
}

// TrackView is the wire shape of a track inside a state broadcast.
type TrackView struct {
	ID              string          `json:"id"`
	VideoID         string          `json:"videoId"`
	Title           string          `json:"title"`
	Creator         string          `json:"creator"`
	Thumbnail       string          `json:"thumbnail"`
	Duration        int             `json:"duration"`
	Score           int             `json:"score"`
	Votes           map[string]Vote `json:"votes"`
	SuggestedByID   string          `json:"suggestedById,omitempty"`
	SuggestedBy     string          `json:"suggestedBy,omitempty"`
	IsOwnerPriority bool            `json:"isOwnerPriority,omitempty"`
}

func (t *Track) view() TrackView {
	votes := make(map[string]Vote, len(t.votes))
	for k, v := range t.votes {
		votes[k] = v
	}
	return TrackView{
		ID:              t.ID,
		VideoID:         t.VideoID,
		Title:           t.Title,
		Creator:         t.Creator,
		Thumbnail:       t.Thumbnail,
		Duration:        t.Duration,
		Score:           t.Score,
		Votes:           votes,
		SuggestedByID:   t.SuggestedByID,
		SuggestedBy:     t.SuggestedBy,
		IsOwnerPriority: t.IsOwnerPriority,
	}
}

// State is the full room snapshot pushed to every attached connection
// after each mutation. Clients mirror it verbatim.
type State struct {
	RoomID             string         `json:"roomId"`
	Name               string         `json:"name"`
	OwnerID            string         `json:"ownerId,omitempty"`
	Queue              []TrackView    `json:"queue"`
	Progress           int            `json:"progress"`
	IsPlaying          bool           `json:"isPlaying"`
	PendingSuggestions []TrackView    `json:"pendingSuggestions"`
	BannedVideoIDs     []string       `json:"bannedVideoIds"`
	History            []HistoryEntry `json:"history"`
	Settings           Settings       `json:"settings"`
	Listeners          int            `json:"listeners"`
}
