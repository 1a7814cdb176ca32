package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loewenmaehne/revibe-music-sub000/internal/resolver"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

type fakeResolver struct {
	tracks map[string]*resolver.Resolved
}

func (f *fakeResolver) Resolve(_ context.Context, query string) (*resolver.Resolved, error) {
	res, ok := f.tracks[query]
	if !ok {
		return nil, resolver.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func musicTrack(videoID string, duration int) *resolver.Resolved {
	return &resolver.Resolved{
		VideoID:  videoID,
		Title:    "Track " + videoID,
		Creator:  "Artist",
		Duration: duration,
		IsMusic:  true,
	}
}

var (
	owner  = Peer{ClientID: "conn-owner", UserID: "owner-1", Name: "Owner"}
	guestA = Peer{ClientID: "conn-a", Name: "Alice"}
	guestB = Peer{ClientID: "conn-b", Name: "Bob"}
)

// testRoom builds a room without the wall clock so tests drive ticks
// themselves.
func testRoom(t *testing.T, fr *fakeResolver) *Room {
	t.Helper()
	rec := &models.RoomRecord{
		ID:        "test-room-1a2b3c",
		Name:      "Test Room",
		OwnerID:   owner.UserID,
		IsPublic:  true,
		CreatedAt: time.Now(),
	}
	r := newRoom(rec, Deps{Resolver: fr}, false)
	t.Cleanup(r.Close)
	return r
}

func setSettings(t *testing.T, r *Room, mutate func(*Settings)) {
	t.Helper()
	if err := r.exec(func() { mutate(&r.settings) }); err != nil {
		t.Fatalf("set settings: %v", err)
	}
}

func suggest(t *testing.T, r *Room, p Peer, query string) {
	t.Helper()
	if err := r.Suggest(context.Background(), p, query); err != nil {
		t.Fatalf("suggest %q: %v", query, err)
	}
}

func queueIDs(s State) []string {
	ids := make([]string, len(s.Queue))
	for i, tr := range s.Queue {
		ids[i] = tr.VideoID
	}
	return ids
}

func TestFirstSuggestionStartsPlayback(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{"a": musicTrack("aaaaaaaaaaa", 120)}}
	r := testRoom(t, fr)

	suggest(t, r, guestA, "a")

	s := r.Snapshot()
	if !s.IsPlaying {
		t.Error("expected playback to start on first suggestion")
	}
	if s.Progress != 0 {
		t.Errorf("progress = %d, want 0", s.Progress)
	}
	if len(s.Queue) != 1 || s.Queue[0].VideoID != "aaaaaaaaaaa" {
		t.Errorf("queue = %v, want the suggested track", queueIDs(s))
	}
}

func TestVoteToggleSemantics(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	suggest(t, r, guestA, "b")
	trackID := r.Snapshot().Queue[1].ID

	steps := []struct {
		direction Vote
		wantScore int
	}{
		{VoteUp, 1},    // first vote
		{VoteUp, 0},    // same direction retracts
		{VoteDown, -1}, // fresh vote after retraction
		{VoteUp, 1},    // switching direction swings by two
		{VoteUp, 0},    // and retracting again lands on zero
	}
	for i, step := range steps {
		if err := r.Vote(guestB, trackID, step.direction); err != nil {
			t.Fatalf("step %d: vote: %v", i, err)
		}
		if got := r.Snapshot().Queue[1].Score; got != step.wantScore {
			t.Errorf("step %d: score = %d, want %d", i, got, step.wantScore)
		}
	}
}

func TestVoteScoreMatchesVoterSet(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	suggest(t, r, guestA, "b")
	trackID := r.Snapshot().Queue[1].ID

	voters := []Peer{guestA, guestB, owner}
	dirs := []Vote{VoteUp, VoteUp, VoteDown}
	for i, p := range voters {
		if err := r.Vote(p, trackID, dirs[i]); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	tr := r.Snapshot().Queue[1]
	sum := 0
	for _, v := range tr.Votes {
		sum += voteDelta(v)
	}
	if tr.Score != sum {
		t.Errorf("score = %d, but recorded votes sum to %d", tr.Score, sum)
	}
	if tr.Score != 1 {
		t.Errorf("score = %d, want 1", tr.Score)
	}
}

func TestVoteRejections(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	suggest(t, r, guestA, "b")
	s := r.Snapshot()

	if err := r.Vote(guestB, s.Queue[0].ID, VoteUp); !errors.Is(err, ErrCurrentTrack) {
		t.Errorf("vote on playing track: err = %v, want ErrCurrentTrack", err)
	}
	if err := r.Vote(guestB, "no-such-track", VoteUp); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("vote on unknown track: err = %v, want ErrTrackNotFound", err)
	}

	setSettings(t, r, func(s *Settings) { s.VotesEnabled = false })
	if err := r.Vote(guestB, s.Queue[1].ID, VoteUp); !errors.Is(err, ErrVotesDisabled) {
		t.Errorf("vote while disabled: err = %v, want ErrVotesDisabled", err)
	}
}

func TestQueueOrderingByScore(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"head": musicTrack("hhhhhhhhhhh", 120),
		"a":    musicTrack("aaaaaaaaaaa", 120),
		"b":    musicTrack("bbbbbbbbbbb", 120),
		"c":    musicTrack("ccccccccccc", 120),
	}}
	r := testRoom(t, fr)
	for _, q := range []string{"head", "a", "b", "c"} {
		suggest(t, r, guestA, q)
	}

	s := r.Snapshot()
	trackC := s.Queue[3].ID

	// Two upvotes lift C past A and B.
	if err := r.Vote(guestA, trackC, VoteUp); err != nil {
		t.Fatal(err)
	}
	if err := r.Vote(guestB, trackC, VoteUp); err != nil {
		t.Fatal(err)
	}
	want := []string{"hhhhhhhhhhh", "ccccccccccc", "aaaaaaaaaaa", "bbbbbbbbbbb"}
	if got := queueIDs(r.Snapshot()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queue = %v, want %v", got, want)
	}

	// Equal scores keep their relative order: A and B stay as suggested.
	trackA := r.Snapshot().Queue[2].ID
	if err := r.Vote(guestA, trackA, VoteUp); err != nil {
		t.Fatal(err)
	}
	if err := r.Vote(guestA, trackA, VoteUp); err != nil { // retract
		t.Fatal(err)
	}
	if got := queueIDs(r.Snapshot()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queue after retracted vote = %v, want %v", got, want)
	}
}

func TestTickAdvancesAfterDurationElapses(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 5),
		"b": musicTrack("bbbbbbbbbbb", 100),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	suggest(t, r, guestB, "b")

	for i := 0; i < 5; i++ {
		r.Tick()
	}
	s := r.Snapshot()
	if s.Queue[0].VideoID != "aaaaaaaaaaa" || s.Progress != 5 {
		t.Fatalf("after 5 ticks: head = %s progress = %d, want still playing at 5", s.Queue[0].VideoID, s.Progress)
	}

	r.Tick()
	s = r.Snapshot()
	if s.Queue[0].VideoID != "bbbbbbbbbbb" {
		t.Errorf("after 6th tick: head = %s, want next track", s.Queue[0].VideoID)
	}
	if s.Progress != 0 {
		t.Errorf("progress = %d, want 0 after advance", s.Progress)
	}
	if len(s.History) != 1 || s.History[0].VideoID != "aaaaaaaaaaa" {
		t.Errorf("history = %v, want the finished track", s.History)
	}
}

func TestPlaybackStopsOnEmptyQueue(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{"a": musicTrack("aaaaaaaaaaa", 2)}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")

	for i := 0; i < 3; i++ {
		r.Tick()
	}
	s := r.Snapshot()
	if s.IsPlaying {
		t.Error("expected playback to stop with an empty queue")
	}
	if len(s.Queue) != 0 {
		t.Errorf("queue = %v, want empty", queueIDs(s))
	}
}

func TestAutoRefillPullsOldestFromHistory(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 1),
		"b": musicTrack("bbbbbbbbbbb", 1),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.AutoRefill = true })

	suggest(t, r, guestA, "a")
	suggest(t, r, guestA, "b")

	// Play both out; refill kicks in when the queue would empty.
	r.Tick()
	r.Tick() // a -> history, b playing
	r.Tick()
	r.Tick() // b -> history, refill picks a (played longest ago)

	s := r.Snapshot()
	if !s.IsPlaying {
		t.Fatal("expected refill to keep playback alive")
	}
	if len(s.Queue) != 1 || s.Queue[0].VideoID != "aaaaaaaaaaa" {
		t.Errorf("queue = %v, want refilled with the oldest played track", queueIDs(s))
	}
	if s.Queue[0].Score != 0 || len(s.Queue[0].Votes) != 0 {
		t.Error("refilled track should start with fresh voting state")
	}
	if len(s.History) != 2 {
		t.Errorf("history length = %d, refill must not consume history", len(s.History))
	}
}

func TestDuplicateCooldown(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"x": musicTrack("xxxxxxxxxxx", 1),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.DuplicateCooldown = 3 })

	suggest(t, r, guestA, "x")
	r.Tick()
	r.Tick() // x finishes and lands in history

	if err := r.Suggest(context.Background(), guestA, "x"); !errors.Is(err, ErrRecentlyPlayed) {
		t.Fatalf("resuggest within cooldown: err = %v, want ErrRecentlyPlayed", err)
	}

	// Push three other plays into history; x falls out of the window.
	_ = r.exec(func() {
		for i := 0; i < 3; i++ {
			r.history = append(r.history, HistoryEntry{
				VideoID:  fmt.Sprintf("ooooooooo%02d", i),
				Title:    "filler",
				Duration: 1,
				PlayedAt: time.Now(),
			})
		}
	})
	if err := r.Suggest(context.Background(), guestA, "x"); err != nil {
		t.Errorf("resuggest after cooldown window: %v", err)
	}
}

func TestSmartQueueEvictsLowestNegative(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"x": musicTrack("xxxxxxxxxxx", 100),
		"y": musicTrack("yyyyyyyyyyy", 100),
		"z": musicTrack("zzzzzzzzzzz", 100),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) {
		s.MaxQueueSize = 2
		s.SmartQueue = true
	})

	suggest(t, r, guestA, "x")
	suggest(t, r, guestA, "y")
	_ = r.exec(func() {
		r.queue[0].Score = -1
		r.progress = 42
	})

	suggest(t, r, guestB, "z")

	s := r.Snapshot()
	want := []string{"yyyyyyyyyyy", "zzzzzzzzzzz"}
	if got := queueIDs(s); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queue = %v, want %v", got, want)
	}
	if s.Progress != 0 {
		t.Errorf("progress = %d, want reset after the playing track was evicted", s.Progress)
	}
}

func TestSmartQueueFullWithoutNegativeScores(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"x": musicTrack("xxxxxxxxxxx", 100),
		"y": musicTrack("yyyyyyyyyyy", 100),
		"z": musicTrack("zzzzzzzzzzz", 100),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) {
		s.MaxQueueSize = 2
		s.SmartQueue = true
	})

	suggest(t, r, guestA, "x")
	suggest(t, r, guestA, "y")

	if err := r.Suggest(context.Background(), guestB, "z"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull when nothing scores below zero", err)
	}
}

func TestQueueFullWithoutSmartQueue(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"x": musicTrack("xxxxxxxxxxx", 100),
		"y": musicTrack("yyyyyyyyyyy", 100),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.MaxQueueSize = 1 })

	suggest(t, r, guestA, "x")
	if err := r.Suggest(context.Background(), guestA, "y"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestModerationPipeline(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"talk": {VideoID: "ttttttttttt", Title: "Talk", Creator: "Host", Duration: 300, IsMusic: false},
		"long": musicTrack("lllllllllll", 1200),
		"ok":   musicTrack("kkkkkkkkkkk", 180),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) {
		s.MusicOnly = true
		s.MaxDuration = 600
	})

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"non-music rejected", "talk", ErrNotMusic},
		{"over duration limit", "long", ErrTooLong},
		{"within limits", "ok", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Suggest(context.Background(), guestA, tt.query)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSuggestionsDisabledBlocksGuestsOnly(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.SuggestionsEnabled = false })

	if err := r.Suggest(context.Background(), guestA, "a"); !errors.Is(err, ErrSuggestionsDisabled) {
		t.Errorf("guest: err = %v, want ErrSuggestionsDisabled", err)
	}
	if err := r.Suggest(context.Background(), owner, "b"); err != nil {
		t.Errorf("owner: err = %v, want nil", err)
	}
}

func TestManualModeHoldsGuestSuggestions(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.SuggestionMode = SuggestionModeManual })

	suggest(t, r, guestA, "a")
	s := r.Snapshot()
	if len(s.Queue) != 0 {
		t.Fatalf("queue = %v, want guest suggestion held as pending", queueIDs(s))
	}
	if len(s.PendingSuggestions) != 1 {
		t.Fatalf("pending = %d, want 1", len(s.PendingSuggestions))
	}

	// Owner bypasses moderation entirely.
	suggest(t, r, owner, "b")
	s = r.Snapshot()
	if len(s.Queue) != 1 || s.Queue[0].VideoID != "bbbbbbbbbbb" {
		t.Errorf("queue = %v, want the owner's track queued directly", queueIDs(s))
	}
}

func TestApproveAndReject(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.SuggestionMode = SuggestionModeManual })

	suggest(t, r, guestA, "a")
	suggest(t, r, guestB, "b")
	pending := r.Snapshot().PendingSuggestions

	if err := r.Approve(guestA, pending[0].ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("guest approve: err = %v, want ErrForbidden", err)
	}
	if err := r.Approve(owner, pending[0].ID); err != nil {
		t.Fatalf("owner approve: %v", err)
	}
	if err := r.Reject(owner, pending[1].ID); err != nil {
		t.Fatalf("owner reject: %v", err)
	}

	s := r.Snapshot()
	if len(s.Queue) != 1 || s.Queue[0].VideoID != "aaaaaaaaaaa" {
		t.Errorf("queue = %v, want only the approved track", queueIDs(s))
	}
	if len(s.PendingSuggestions) != 0 {
		t.Errorf("pending = %d, want 0", len(s.PendingSuggestions))
	}
}

func TestApproveKeepsPendingWhenQueueFull(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) {
		s.SuggestionMode = SuggestionModeManual
		s.MaxQueueSize = 1
	})

	suggest(t, r, owner, "a") // owner bypass fills the queue
	suggest(t, r, guestA, "b")
	pendingID := r.Snapshot().PendingSuggestions[0].ID

	if err := r.Approve(owner, pendingID); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("approve into full queue: err = %v, want ErrQueueFull", err)
	}
	if got := len(r.Snapshot().PendingSuggestions); got != 1 {
		t.Errorf("pending = %d, want the suggestion kept after a failed approval", got)
	}
}

func TestAutoApproveKnownSkipsModeration(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) {
		s.SuggestionMode = SuggestionModeManual
		s.AutoApproveKnown = true
	})

	suggest(t, r, guestA, "a")
	pendingID := r.Snapshot().PendingSuggestions[0].ID
	if err := r.Approve(owner, pendingID); err != nil {
		t.Fatal(err)
	}

	// Play it out, then suggest the same video again: it was approved once,
	// so it goes straight in.
	_ = r.exec(func() { r.advance() })
	suggest(t, r, guestB, "a")
	s := r.Snapshot()
	if len(s.PendingSuggestions) != 0 {
		t.Errorf("pending = %d, want 0 for a previously approved video", len(s.PendingSuggestions))
	}
	if len(s.Queue) != 1 {
		t.Errorf("queue = %v, want the known track queued directly", queueIDs(s))
	}
}

func TestOwnerQueueBypassInsertsBehindPlaying(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"head": musicTrack("hhhhhhhhhhh", 120),
		"a":    musicTrack("aaaaaaaaaaa", 120),
		"b":    musicTrack("bbbbbbbbbbb", 120),
		"o1":   musicTrack("11111111111", 120),
		"o2":   musicTrack("22222222222", 120),
	}}
	r := testRoom(t, fr)
	setSettings(t, r, func(s *Settings) { s.OwnerQueueBypass = true })

	for _, q := range []string{"head", "a", "b"} {
		suggest(t, r, guestA, q)
	}
	suggest(t, r, owner, "o1")
	suggest(t, r, owner, "o2")

	want := []string{"hhhhhhhhhhh", "11111111111", "22222222222", "aaaaaaaaaaa", "bbbbbbbbbbb"}
	if got := queueIDs(r.Snapshot()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}

	// Guest upvotes never cross the priority block.
	trackB := r.Snapshot().Queue[4].ID
	for _, p := range []Peer{guestA, guestB} {
		if err := r.Vote(p, trackB, VoteUp); err != nil {
			t.Fatal(err)
		}
	}
	want = []string{"hhhhhhhhhhh", "11111111111", "22222222222", "bbbbbbbbbbb", "aaaaaaaaaaa"}
	if got := queueIDs(r.Snapshot()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queue after votes = %v, want %v", got, want)
	}
}

func TestBanPurgesAndBlocks(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"head": musicTrack("hhhhhhhhhhh", 120),
		"x":    musicTrack("xxxxxxxxxxx", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "head")
	suggest(t, r, guestA, "x")
	trackX := r.Snapshot().Queue[1].ID

	if err := r.Ban(guestA, trackX); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest ban: err = %v, want ErrForbidden", err)
	}
	if err := r.Ban(owner, trackX); err != nil {
		t.Fatal(err)
	}

	s := r.Snapshot()
	if len(s.Queue) != 1 {
		t.Errorf("queue = %v, want the banned track purged", queueIDs(s))
	}
	if len(s.BannedVideoIDs) != 1 || s.BannedVideoIDs[0] != "xxxxxxxxxxx" {
		t.Errorf("banned = %v, want [xxxxxxxxxxx]", s.BannedVideoIDs)
	}

	if err := r.Suggest(context.Background(), guestB, "x"); !errors.Is(err, ErrBanned) {
		t.Errorf("suggest banned video: err = %v, want ErrBanned", err)
	}

	if err := r.Unban(owner, "xxxxxxxxxxx"); err != nil {
		t.Fatal(err)
	}
	if err := r.Suggest(context.Background(), guestB, "x"); err != nil {
		t.Errorf("suggest after unban: %v", err)
	}
}

func TestBanPlayingTrackResetsPlayback(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"x": musicTrack("xxxxxxxxxxx", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "x")
	_ = r.exec(func() { r.progress = 30 })

	if err := r.Ban(owner, r.Snapshot().Queue[0].ID); err != nil {
		t.Fatal(err)
	}
	s := r.Snapshot()
	if len(s.Queue) != 0 || s.IsPlaying || s.Progress != 0 {
		t.Errorf("state = queue %v playing %v progress %d, want stopped and empty",
			queueIDs(s), s.IsPlaying, s.Progress)
	}
}

func TestDeletePlayingSongAdvances(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
		"b": musicTrack("bbbbbbbbbbb", 120),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	suggest(t, r, guestA, "b")
	_ = r.exec(func() { r.progress = 15 })

	if err := r.DeleteSong(owner, r.Snapshot().Queue[0].ID); err != nil {
		t.Fatal(err)
	}
	s := r.Snapshot()
	if s.Queue[0].VideoID != "bbbbbbbbbbb" || s.Progress != 0 {
		t.Errorf("head = %s progress = %d, want next track from zero", s.Queue[0].VideoID, s.Progress)
	}
	if len(s.History) != 1 || s.History[0].VideoID != "aaaaaaaaaaa" {
		t.Errorf("history = %v, want the deleted playing track recorded", s.History)
	}
}

func TestRemoveFromLibrary(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 1),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	r.Tick()
	r.Tick()

	if len(r.Snapshot().History) != 1 {
		t.Fatal("expected one history entry")
	}
	if err := r.RemoveFromLibrary(owner, "aaaaaaaaaaa"); err != nil {
		t.Fatal(err)
	}
	if got := len(r.Snapshot().History); got != 0 {
		t.Errorf("history length = %d, want 0", got)
	}
}

func TestPlayPauseAndSeek(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 100),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")

	if err := r.PlayPause(guestA, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("guest pause: err = %v, want ErrForbidden", err)
	}
	if err := r.PlayPause(owner, false); err != nil {
		t.Fatal(err)
	}
	if r.Snapshot().IsPlaying {
		t.Error("expected playback paused")
	}

	// Paused clock does not move.
	r.Tick()
	if got := r.Snapshot().Progress; got != 0 {
		t.Errorf("progress = %d, want 0 while paused", got)
	}

	if err := r.Seek(owner, 500); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Progress; got != 100 {
		t.Errorf("seek past end: progress = %d, want clamped to 100", got)
	}
	if err := r.Seek(owner, -5); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Progress; got != 0 {
		t.Errorf("negative seek: progress = %d, want 0", got)
	}
}

func TestUpdateDurationClampsProgress(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 100),
	}}
	r := testRoom(t, fr)
	suggest(t, r, guestA, "a")
	_ = r.exec(func() { r.progress = 80 })

	// Duration corrections are open to every client, not just the owner.
	if err := r.UpdateDuration(guestB, 60); err != nil {
		t.Fatal(err)
	}
	s := r.Snapshot()
	if s.Queue[0].Duration != 60 || s.Progress != 60 {
		t.Errorf("duration = %d progress = %d, want 60/60", s.Queue[0].Duration, s.Progress)
	}
}

func TestUpdateDurationRejectsInvalidValues(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 100),
	}}
	r := testRoom(t, fr)

	if err := r.UpdateDuration(guestA, 30); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("empty queue: err = %v, want ErrTrackNotFound", err)
	}

	suggest(t, r, guestA, "a")
	for _, seconds := range []int{0, -10} {
		if err := r.UpdateDuration(guestA, seconds); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("seconds = %d: err = %v, want ErrInvalidDuration", seconds, err)
		}
	}
	if got := r.Snapshot().Queue[0].Duration; got != 100 {
		t.Errorf("duration = %d, rejected updates must not apply", got)
	}
}

func TestUpdateSettings(t *testing.T) {
	fr := &fakeResolver{}
	r := testRoom(t, fr)

	raw := []byte(`{"musicOnly":true,"maxDuration":600,"suggestionMode":"bogus","duplicateCooldown":-4}`)
	var patch SettingsPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		t.Fatal(err)
	}

	if err := r.UpdateSettings(guestA, patch); !errors.Is(err, ErrForbidden) {
		t.Errorf("guest update: err = %v, want ErrForbidden", err)
	}
	if err := r.UpdateSettings(owner, patch); err != nil {
		t.Fatal(err)
	}

	s := r.Snapshot().Settings
	if !s.MusicOnly || s.MaxDuration != 600 {
		t.Errorf("settings = %+v, want musicOnly and maxDuration applied", s)
	}
	if s.SuggestionMode != SuggestionModeAuto {
		t.Errorf("suggestionMode = %q, invalid values must be ignored", s.SuggestionMode)
	}
	if s.DuplicateCooldown != 0 {
		t.Errorf("duplicateCooldown = %d, negative values must be ignored", s.DuplicateCooldown)
	}
	if !s.SuggestionsEnabled || !s.VotesEnabled {
		t.Error("untouched fields must keep their defaults")
	}
}

func TestAttachBroadcastsState(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
	}}
	r := testRoom(t, fr)

	send := make(chan []byte, 8)
	if err := r.Attach(guestA, send, nil); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Type    string `json:"type"`
		Payload State  `json:"payload"`
	}
	select {
	case msg := <-send:
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("no state broadcast after attach")
	}
	if env.Type != "state" || env.Payload.Listeners != 1 {
		t.Errorf("envelope = %s listeners = %d, want state with one listener", env.Type, env.Payload.Listeners)
	}

	suggest(t, r, guestA, "a")
	select {
	case msg := <-send:
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("no state broadcast after suggestion")
	}
	if len(env.Payload.Queue) != 1 {
		t.Errorf("broadcast queue = %d tracks, want 1", len(env.Payload.Queue))
	}

	r.Detach(guestA.ClientID, send)
	if got := r.Listeners(); got != 0 {
		t.Errorf("listeners = %d, want 0 after detach", got)
	}
}

func TestDetachIgnoresStaleConnection(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
	}}
	r := testRoom(t, fr)

	// A reconnect reuses the client id; the new socket replaces the old one.
	oldSend := make(chan []byte, 8)
	newSend := make(chan []byte, 8)
	if err := r.Attach(guestA, oldSend, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Attach(guestA, newSend, nil); err != nil {
		t.Fatal(err)
	}

	// The dead socket's heartbeat reaping must not remove its successor.
	r.Detach(guestA.ClientID, oldSend)
	if got := r.Listeners(); got != 1 {
		t.Fatalf("listeners = %d after stale detach, want 1", got)
	}

	for len(newSend) > 0 {
		<-newSend
	}
	suggest(t, r, guestB, "a")
	select {
	case <-newSend:
	case <-time.After(time.Second):
		t.Fatal("reconnected client stopped receiving broadcasts")
	}

	r.Detach(guestA.ClientID, newSend)
	if got := r.Listeners(); got != 0 {
		t.Errorf("listeners = %d after real detach, want 0", got)
	}
}

func TestClosedRoomRejectsOperations(t *testing.T) {
	fr := &fakeResolver{tracks: map[string]*resolver.Resolved{
		"a": musicTrack("aaaaaaaaaaa", 120),
	}}
	r := testRoom(t, fr)

	evicted := false
	send := make(chan []byte, 8)
	if err := r.Attach(guestA, send, func() { evicted = true }); err != nil {
		t.Fatal(err)
	}
	r.Close()

	if !evicted {
		t.Error("expected the eviction callback to fire on close")
	}
	if err := r.Suggest(context.Background(), guestA, "a"); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("suggest after close: err = %v, want ErrRoomClosed", err)
	}
	if err := r.Vote(guestA, "whatever", VoteUp); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("vote after close: err = %v, want ErrRoomClosed", err)
	}
}
