package room

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/loewenmaehne/revibe-music-sub000/internal/metrics"
	"github.com/loewenmaehne/revibe-music-sub000/internal/resolver"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/events"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

// Resolver is the metadata lookup a room performs before admitting a
// suggestion. The call happens outside the actor's serialized section.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*resolver.Resolved, error)
}

// ActivityStore receives the room's last-activity checkpoints.
type ActivityStore interface {
	TouchRoom(id string, at time.Time) error
}

// Peer identifies the connection issuing an operation. ClientID is the
// voting-identity key and always present; UserID is empty for anonymous
// connections and is the only thing owner checks look at.
type Peer struct {
	ClientID string
	UserID   string
	Name     string
}

type subscriber struct {
	peer    Peer
	send    chan<- []byte
	onEvict func()
}

// Room is the actor owning one channel's queue, playback clock, moderation
// state and attached connections. Every mutation goes through the inbox,
// one at a time; the clock tick is just another inbox message, so it can
// never race a vote or a suggestion.
type Room struct {
	ID        string
	Name      string
	OwnerID   string
	IsPublic  bool
	CreatedAt time.Time

	passwordHash string

	resolver Resolver
	store    ActivityStore
	events   events.Publisher
	logger   zerolog.Logger

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the actor goroutine.
	queue     []*Track
	progress  int
	isPlaying bool
	pending   []*Track
	banned    map[string]struct{}
	approved  map[string]struct{}
	history   []HistoryEntry
	settings  Settings
	clients   map[string]*subscriber
	lastTouch time.Time
}

// Deps carries everything a room needs besides its registry row. Store and
// Events may be nil or Noop respectively.
type Deps struct {
	Resolver Resolver
	Store    ActivityStore
	Events   events.Publisher
}

func NewRoom(rec *models.RoomRecord, deps Deps) *Room {
	return newRoom(rec, deps, true)
}

func newRoom(rec *models.RoomRecord, deps Deps, withClock bool) *Room {
	pub := deps.Events
	if pub == nil {
		pub = events.Noop{}
	}
	r := &Room{
		ID:           rec.ID,
		Name:         rec.Name,
		OwnerID:      rec.OwnerID,
		IsPublic:     rec.IsPublic,
		CreatedAt:    rec.CreatedAt,
		passwordHash: rec.PasswordHash,
		resolver:     deps.Resolver,
		store:        deps.Store,
		events:       pub,
		logger:       log.With().Str("room", rec.ID).Logger(),
		inbox:        make(chan func(), 64),
		done:         make(chan struct{}),
		banned:       make(map[string]struct{}),
		approved:     make(map[string]struct{}),
		settings:     DefaultSettings(),
		clients:      make(map[string]*subscriber),
	}
	go r.run()
	if withClock {
		go r.clock()
	}
	metrics.LiveRooms.Inc()
	return r
}

func (r *Room) run() {
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-r.done:
			return
		}
	}
}

// clock injects a tick into the inbox once per second. It competes fairly
// with client messages for ordering.
func (r *Room) clock() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-r.done:
			return
		}
	}
}

// exec runs fn on the actor goroutine and waits for it to finish.
func (r *Room) exec(fn func()) error {
	doneCh := make(chan struct{})
	select {
	case r.inbox <- func() { fn(); close(doneCh) }:
	case <-r.done:
		return ErrRoomClosed
	}
	select {
	case <-doneCh:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

// Close evicts every attached connection and stops the actor. Safe to call
// more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		_ = r.exec(func() {
			msg, _ := json.Marshal(map[string]string{"type": "ROOM_DELETED", "roomId": r.ID})
			for _, sub := range r.clients {
				select {
				case sub.send <- msg:
				default:
				}
				if sub.onEvict != nil {
					sub.onEvict()
				}
			}
			r.clients = make(map[string]*subscriber)
		})
		close(r.done)
		metrics.LiveRooms.Dec()
	})
}

// CheckPassword reports whether the given password opens this room. Rooms
// without a password accept anything.
func (r *Room) CheckPassword(password string) bool {
	if r.passwordHash == "" {
		return true
	}
	return checkPasswordHash(r.passwordHash, password)
}

func (r *Room) PasswordProtected() bool { return r.passwordHash != "" }

// Attach subscribes a connection and immediately pushes the full state to
// everyone (the listener count changed). onEvict fires if the room is torn
// down while the connection is still attached.
func (r *Room) Attach(p Peer, send chan<- []byte, onEvict func()) error {
	return r.exec(func() {
		r.clients[p.ClientID] = &subscriber{peer: p, send: send, onEvict: onEvict}
		r.publish(events.EventTypeUserJoined, p.UserID, nil)
		r.broadcast()
	})
}

// Detach removes a connection's subscription. The send channel identifies
// the concrete connection: a reconnect under the same client id replaces
// the old subscription in Attach, so the dead socket's late detach must
// not remove its successor.
func (r *Room) Detach(clientID string, send chan<- []byte) {
	_ = r.exec(func() {
		sub, ok := r.clients[clientID]
		if !ok || sub.send != send {
			return
		}
		delete(r.clients, clientID)
		r.publish(events.EventTypeUserLeft, sub.peer.UserID, nil)
		r.broadcast()
	})
}

func (r *Room) Listeners() int {
	n := 0
	_ = r.exec(func() { n = len(r.clients) })
	return n
}

// Snapshot returns a deep copy of the current state.
func (r *Room) Snapshot() State {
	var s State
	_ = r.exec(func() { s = r.snapshot() })
	return s
}

// Tick advances the playback clock by one second.
func (r *Room) Tick() {
	_ = r.exec(func() {
		if !r.isPlaying || len(r.queue) == 0 {
			return
		}
		r.progress++
		if r.progress > r.queue[0].Duration {
			r.advance()
		}
		r.touch()
		r.broadcast()
	})
}

// Vote applies toggle semantics for one voter on one queued track and
// re-sorts the queue by descending score.
func (r *Room) Vote(p Peer, trackID string, direction Vote) error {
	var opErr error
	if err := r.exec(func() { opErr = r.vote(p, trackID, direction) }); err != nil {
		return err
	}
	return opErr
}

func (r *Room) vote(p Peer, trackID string, direction Vote) error {
	if !r.settings.VotesEnabled {
		return ErrVotesDisabled
	}
	idx := r.findTrack(trackID)
	if idx < 0 {
		return ErrTrackNotFound
	}
	if idx == 0 {
		return ErrCurrentTrack
	}
	t := r.queue[idx]
	prev, voted := t.votes[p.ClientID]
	switch {
	case voted && prev == direction:
		// Same direction again retracts the vote.
		delete(t.votes, p.ClientID)
		t.Score -= voteDelta(direction)
	case voted:
		t.votes[p.ClientID] = direction
		t.Score += 2 * voteDelta(direction)
	default:
		t.votes[p.ClientID] = direction
		t.Score += voteDelta(direction)
	}
	r.resort()
	r.publish(events.EventTypeSongVoted, p.UserID, events.VotePayload{
		TrackID:  t.ID,
		ClientID: p.ClientID,
		Vote:     string(direction),
		Score:    t.Score,
	})
	r.touch()
	r.broadcast()
	return nil
}

// resort stably re-orders the queue by descending score. The playing entry
// and the owner-priority block behind it stay where they are.
func (r *Room) resort() {
	start := 1
	for start < len(r.queue) && r.queue[start].IsOwnerPriority {
		start++
	}
	if start >= len(r.queue) {
		return
	}
	tail := r.queue[start:]
	sort.SliceStable(tail, func(i, j int) bool {
		return tail[i].Score > tail[j].Score
	})
}

func (r *Room) findTrack(trackID string) int {
	for i, t := range r.queue {
		if t.ID == trackID {
			return i
		}
	}
	return -1
}

func (r *Room) findPending(trackID string) int {
	for i, t := range r.pending {
		if t.ID == trackID {
			return i
		}
	}
	return -1
}

// Suggest resolves the query (outside the serialized section, with the
// caller's deadline) and runs the moderation pipeline on the result.
func (r *Room) Suggest(ctx context.Context, p Peer, query string) error {
	res, err := r.resolver.Resolve(ctx, query)
	if err != nil {
		return err
	}
	var opErr error
	if err := r.exec(func() { opErr = r.admit(p, res) }); err != nil {
		return err
	}
	return opErr
}

// admit is the moderation pipeline of a resolved suggestion: ban check,
// music-only, duration limit, duplicate cooldown, then mode routing.
func (r *Room) admit(p Peer, res *resolver.Resolved) error {
	isOwner := r.isOwner(p)
	if !r.settings.SuggestionsEnabled && !isOwner {
		return ErrSuggestionsDisabled
	}
	if _, banned := r.banned[res.VideoID]; banned {
		return ErrBanned
	}
	if r.settings.MusicOnly && !res.IsMusic {
		return ErrNotMusic
	}
	if r.settings.MaxDuration > 0 && res.Duration > r.settings.MaxDuration {
		return ErrTooLong
	}
	if r.recentlyPlayed(res.VideoID) {
		return ErrRecentlyPlayed
	}

	track := newTrack(res, p)
	track.IsOwnerPriority = isOwner && r.settings.OwnerQueueBypass

	switch {
	case isOwner && r.settings.OwnerBypass:
		// Owner skips moderation entirely; queue rules still apply.
	case r.settings.SuggestionMode == SuggestionModeManual && !r.autoApproved(res.VideoID):
		r.pending = append(r.pending, track)
		r.notifyOwner(track)
		r.touch()
		r.broadcast()
		return nil
	}

	if err := r.insert(track); err != nil {
		return err
	}
	r.touch()
	r.broadcast()
	return nil
}

func (r *Room) autoApproved(videoID string) bool {
	if !r.settings.AutoApproveKnown {
		return false
	}
	_, known := r.approved[videoID]
	return known
}

// recentlyPlayed checks the last duplicateCooldown history entries.
func (r *Room) recentlyPlayed(videoID string) bool {
	n := r.settings.DuplicateCooldown
	if n <= 0 {
		return false
	}
	start := len(r.history) - n
	if start < 0 {
		start = 0
	}
	for _, h := range r.history[start:] {
		if h.VideoID == videoID {
			return true
		}
	}
	return false
}

// insert places an approved track into the queue, applying the capacity
// and priority rules. An empty queue starts playing immediately.
func (r *Room) insert(t *Track) error {
	if r.settings.MaxQueueSize > 0 && len(r.queue) >= r.settings.MaxQueueSize {
		if !r.settings.SmartQueue {
			return ErrQueueFull
		}
		evict := -1
		for i, q := range r.queue {
			if q.IsOwnerPriority {
				continue
			}
			if evict < 0 || q.Score < r.queue[evict].Score {
				evict = i
			}
		}
		if evict < 0 || r.queue[evict].Score >= 0 {
			return ErrQueueFull
		}
		r.queue = append(r.queue[:evict], r.queue[evict+1:]...)
		if evict == 0 {
			// The playing track was evicted; whatever is next starts over.
			r.progress = 0
		}
	}

	wasEmpty := len(r.queue) == 0
	if t.IsOwnerPriority && !wasEmpty {
		r.queue = append(r.queue, nil)
		copy(r.queue[2:], r.queue[1:])
		r.queue[1] = t
	} else {
		r.queue = append(r.queue, t)
		r.resort()
	}
	r.approved[t.VideoID] = struct{}{}

	if wasEmpty {
		r.progress = 0
		r.isPlaying = true
		r.publish(events.EventTypeSongStarted, t.SuggestedByID, songPayload(t))
	}
	r.publish(events.EventTypeSongAdded, t.SuggestedByID, songPayload(t))
	return nil
}

func songPayload(t *Track) events.SongPayload {
	return events.SongPayload{
		TrackID:  t.ID,
		VideoID:  t.VideoID,
		Title:    t.Title,
		Creator:  t.Creator,
		Duration: t.Duration,
	}
}

// notifyOwner pings the owner's attached connections about a new pending
// suggestion when popups are enabled.
func (r *Room) notifyOwner(t *Track) {
	if !r.settings.OwnerPopups {
		return
	}
	msg, err := json.Marshal(map[string]string{
		"type":    "info",
		"code":    "SUGGESTION_PENDING",
		"message": t.Title + " is awaiting approval",
	})
	if err != nil {
		return
	}
	for _, sub := range r.clients {
		if sub.peer.UserID == r.OwnerID {
			select {
			case sub.send <- msg:
			default:
			}
		}
	}
}

// advance moves the finished head into history and promotes the next
// entry; an emptied queue either stops playback or pulls from history.
func (r *Room) advance() {
	if len(r.queue) == 0 {
		return
	}
	head := r.queue[0]
	r.history = append(r.history, HistoryEntry{
		VideoID:     head.VideoID,
		Title:       head.Title,
		Creator:     head.Creator,
		Thumbnail:   head.Thumbnail,
		Duration:    head.Duration,
		SuggestedBy: head.SuggestedBy,
		IsMusic:     head.IsMusic,
		PlayedAt:    time.Now(),
	})
	r.queue = r.queue[1:]
	r.progress = 0
	r.publish(events.EventTypeSongCompleted, "", songPayload(head))

	if len(r.queue) == 0 {
		if r.settings.AutoRefill {
			if t := r.refill(); t != nil {
				r.queue = append(r.queue, t)
				r.publish(events.EventTypeSongStarted, "", songPayload(t))
				return
			}
		}
		r.isPlaying = false
		return
	}
	r.publish(events.EventTypeSongStarted, "", songPayload(r.queue[0]))
}

// refill rebuilds a track from the history entry whose media id has gone
// unplayed the longest. History itself is never consumed.
func (r *Room) refill() *Track {
	lastPlayed := make(map[string]time.Time)
	entry := make(map[string]HistoryEntry)
	for _, h := range r.history {
		if _, banned := r.banned[h.VideoID]; banned {
			continue
		}
		if h.PlayedAt.After(lastPlayed[h.VideoID]) || lastPlayed[h.VideoID].IsZero() {
			lastPlayed[h.VideoID] = h.PlayedAt
			entry[h.VideoID] = h
		}
	}
	var pick string
	for id, at := range lastPlayed {
		if pick == "" || at.Before(lastPlayed[pick]) {
			pick = id
		}
	}
	if pick == "" {
		return nil
	}
	h := entry[pick]
	return &Track{
		ID:          newTrackID(),
		VideoID:     h.VideoID,
		Title:       h.Title,
		Creator:     h.Creator,
		Thumbnail:   h.Thumbnail,
		Duration:    h.Duration,
		votes:       make(map[string]Vote),
		SuggestedBy: h.SuggestedBy,
		IsMusic:     h.IsMusic,
	}
}

// Approve moves a pending suggestion into the queue; capacity rules are
// re-run, and a full queue keeps the suggestion pending.
func (r *Room) Approve(p Peer, trackID string) error {
	return r.ownerOp(p, func() error {
		idx := r.findPending(trackID)
		if idx < 0 {
			return ErrTrackNotFound
		}
		t := r.pending[idx]
		if err := r.insert(t); err != nil {
			return err
		}
		r.pending = append(r.pending[:idx], r.pending[idx+1:]...)
		return nil
	})
}

// Reject discards a pending suggestion.
func (r *Room) Reject(p Peer, trackID string) error {
	return r.ownerOp(p, func() error {
		idx := r.findPending(trackID)
		if idx < 0 {
			return ErrTrackNotFound
		}
		r.pending = append(r.pending[:idx], r.pending[idx+1:]...)
		return nil
	})
}

// Ban discards the track, bans its media id and purges every queued or
// pending occurrence of that id in the same operation.
func (r *Room) Ban(p Peer, trackID string) error {
	return r.ownerOp(p, func() error {
		videoID := ""
		if idx := r.findPending(trackID); idx >= 0 {
			videoID = r.pending[idx].VideoID
		} else if idx := r.findTrack(trackID); idx >= 0 {
			videoID = r.queue[idx].VideoID
		} else {
			return ErrTrackNotFound
		}
		r.banned[videoID] = struct{}{}
		delete(r.approved, videoID)
		r.purge(videoID)
		return nil
	})
}

func (r *Room) purge(videoID string) {
	pending := r.pending[:0]
	for _, t := range r.pending {
		if t.VideoID != videoID {
			pending = append(pending, t)
		}
	}
	r.pending = pending

	headRemoved := len(r.queue) > 0 && r.queue[0].VideoID == videoID
	queue := r.queue[:0]
	for _, t := range r.queue {
		if t.VideoID != videoID {
			queue = append(queue, t)
		}
	}
	r.queue = queue
	if headRemoved {
		r.progress = 0
		if len(r.queue) == 0 {
			r.isPlaying = false
		}
	}
}

// Unban removes a media id from the banned set.
func (r *Room) Unban(p Peer, videoID string) error {
	return r.ownerOp(p, func() error {
		delete(r.banned, videoID)
		return nil
	})
}

// DeleteSong removes a queued track; removing the playing one behaves
// exactly like auto-advance.
func (r *Room) DeleteSong(p Peer, trackID string) error {
	return r.ownerOp(p, func() error {
		idx := r.findTrack(trackID)
		if idx < 0 {
			return ErrTrackNotFound
		}
		if idx == 0 {
			r.advance()
			return nil
		}
		r.queue = append(r.queue[:idx], r.queue[idx+1:]...)
		return nil
	})
}

// RemoveFromLibrary drops a media id from the room's play history.
func (r *Room) RemoveFromLibrary(p Peer, videoID string) error {
	return r.ownerOp(p, func() error {
		history := r.history[:0]
		for _, h := range r.history {
			if h.VideoID != videoID {
				history = append(history, h)
			}
		}
		r.history = history
		return nil
	})
}

// PlayPause sets the transport flag. Owner-only and authoritative; guests
// that want silence mute locally.
func (r *Room) PlayPause(p Peer, playing bool) error {
	return r.ownerOp(p, func() error {
		r.isPlaying = playing
		return nil
	})
}

// Seek sets the playback position immediately, clamped to the track.
func (r *Room) Seek(p Peer, seconds int) error {
	return r.ownerOp(p, func() error {
		if len(r.queue) == 0 {
			return ErrTrackNotFound
		}
		if seconds < 0 {
			seconds = 0
		}
		if d := r.queue[0].Duration; seconds > d {
			seconds = d
		}
		r.progress = seconds
		return nil
	})
}

// UpdateDuration lets any client correct the resolver's duration estimate
// for the playing track, which drives tick-based auto-advance.
func (r *Room) UpdateDuration(p Peer, seconds int) error {
	var opErr error
	if err := r.exec(func() {
		if seconds <= 0 {
			opErr = ErrInvalidDuration
			return
		}
		if len(r.queue) == 0 {
			opErr = ErrTrackNotFound
			return
		}
		r.queue[0].Duration = seconds
		if r.progress > seconds {
			r.progress = seconds
		}
		r.touch()
		r.broadcast()
	}); err != nil {
		return err
	}
	return opErr
}

// UpdateSettings merges a partial settings object. Owner-only.
func (r *Room) UpdateSettings(p Peer, patch SettingsPatch) error {
	return r.ownerOp(p, func() error {
		patch.apply(&r.settings)
		return nil
	})
}

// ownerOp runs fn on the actor after the capability check, broadcasting
// the new state on success.
func (r *Room) ownerOp(p Peer, fn func() error) error {
	var opErr error
	if err := r.exec(func() {
		if !r.isOwner(p) {
			opErr = ErrForbidden
			return
		}
		if opErr = fn(); opErr != nil {
			return
		}
		r.touch()
		r.broadcast()
	}); err != nil {
		return err
	}
	return opErr
}

func (r *Room) isOwner(p Peer) bool {
	return p.UserID != "" && p.UserID == r.OwnerID
}

func (r *Room) snapshot() State {
	queue := make([]TrackView, len(r.queue))
	for i, t := range r.queue {
		queue[i] = t.view()
	}
	pending := make([]TrackView, len(r.pending))
	for i, t := range r.pending {
		pending[i] = t.view()
	}
	banned := make([]string, 0, len(r.banned))
	for id := range r.banned {
		banned = append(banned, id)
	}
	sort.Strings(banned)
	history := make([]HistoryEntry, len(r.history))
	copy(history, r.history)
	return State{
		RoomID:             r.ID,
		Name:               r.Name,
		OwnerID:            r.OwnerID,
		Queue:              queue,
		Progress:           r.progress,
		IsPlaying:          r.isPlaying,
		PendingSuggestions: pending,
		BannedVideoIDs:     banned,
		History:            history,
		Settings:           r.settings,
		Listeners:          len(r.clients),
	}
}

// broadcast pushes the full state to every attached connection. It runs
// strictly after the mutation, so nobody ever sees a half-applied vote.
func (r *Room) broadcast() {
	if len(r.clients) == 0 {
		return
	}
	msg, err := json.Marshal(map[string]interface{}{
		"type":    "state",
		"payload": r.snapshot(),
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal state")
		return
	}
	for _, sub := range r.clients {
		select {
		case sub.send <- msg:
		default:
			// Slow consumer; the liveness watchdog will reap it.
		}
	}
	metrics.BroadcastsTotal.Inc()
}

// touch checkpoints last-activity off the actor goroutine, at most once a
// minute.
func (r *Room) touch() {
	if r.store == nil || time.Since(r.lastTouch) < time.Minute {
		return
	}
	r.lastTouch = time.Now()
	at := r.lastTouch
	go func() {
		if err := r.store.TouchRoom(r.ID, at); err != nil {
			r.logger.Warn().Err(err).Msg("activity checkpoint failed")
		}
	}()
}

func (r *Room) publish(typ events.EventType, userID string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		raw = b
	}
	ev := events.Event{Type: typ, RoomID: r.ID, UserID: userID, Payload: raw}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.events.Publish(ctx, ev); err != nil {
			r.logger.Warn().Err(err).Str("event", string(typ)).Msg("event publish failed")
		}
	}()
}
