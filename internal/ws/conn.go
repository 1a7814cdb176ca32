package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/loewenmaehne/revibe-music-sub000/internal/metrics"
	"github.com/loewenmaehne/revibe-music-sub000/internal/room"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

const (
	// Heartbeat: one ping per interval, and the peer is dead if nothing
	// (pong included) arrives within the grace window.
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	maxMessageSize = 64 << 10

	// External calls (resolver, identity provider, store) triggered by a
	// single intent get this long in total.
	opTimeout = 15 * time.Second
)

// client is the per-connection handler. It authenticates independently of
// room membership: an anonymous connection still has a stable client id
// (its voting-identity key), an authenticated one additionally carries a
// resumed session's user.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	h    *Handler

	mu   sync.Mutex
	user *models.User
	room *room.Room

	suggestLimiter *rate.Limiter
	logger         zerolog.Logger
}

func (c *client) currentUser() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *client) setUser(u *models.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

func (c *client) currentRoom() *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// peer is the identity attached to room operations. The user id is only
// set for authenticated connections; owner checks rely on that.
func (c *client) peer() room.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := room.Peer{ClientID: c.id}
	if c.user != nil {
		p.UserID = c.user.ID
		p.Name = c.user.Name
	}
	return p
}

func (c *client) readPump() {
	defer func() {
		c.leaveRoom()
		close(c.send)
		_ = c.conn.Close()
		metrics.WsConnections.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one envelope and routes it. Every intent the protocol
// knows is a case here; errors go back to this connection only.
func (c *client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError(codeBadPayload, "malformed message")
		return
	}
	metrics.IntentsTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case IntentLogin:
		c.handleLogin(env.Payload)
	case IntentResumeSession:
		c.handleResume(env.Payload)
	case IntentLogout:
		c.handleLogout(env.Payload)
	case IntentListRooms:
		c.handleListRooms(env.Payload)
	case IntentCreateRoom:
		c.handleCreateRoom(env.Payload)
	case IntentDeleteRoom:
		c.handleDeleteRoom()
	case IntentDeleteAccount:
		c.handleDeleteAccount()
	case IntentJoinRoom:
		c.handleJoinRoom(env.Payload)
	case IntentSuggestSong:
		c.handleSuggest(env.Payload)
	case IntentVote:
		c.handleVote(env.Payload)
	case IntentApproveSuggestion:
		c.roomTrackOp(env.Payload, func(r *room.Room, trackID string) error {
			return r.Approve(c.peer(), trackID)
		})
	case IntentRejectSuggestion:
		c.roomTrackOp(env.Payload, func(r *room.Room, trackID string) error {
			return r.Reject(c.peer(), trackID)
		})
	case IntentBanSuggestion:
		c.roomTrackOp(env.Payload, func(r *room.Room, trackID string) error {
			return r.Ban(c.peer(), trackID)
		})
	case IntentDeleteSong:
		c.roomTrackOp(env.Payload, func(r *room.Room, trackID string) error {
			return r.DeleteSong(c.peer(), trackID)
		})
	case IntentUnbanSong:
		c.roomVideoOp(env.Payload, func(r *room.Room, videoID string) error {
			return r.Unban(c.peer(), videoID)
		})
	case IntentRemoveFromLibrary:
		c.roomVideoOp(env.Payload, func(r *room.Room, videoID string) error {
			return r.RemoveFromLibrary(c.peer(), videoID)
		})
	case IntentPlayPause:
		c.handlePlayPause(env.Payload)
	case IntentSeekTo:
		c.handleSeek(env.Payload)
	case IntentUpdateDuration:
		c.handleUpdateDuration(env.Payload)
	case IntentUpdateSettings:
		c.handleUpdateSettings(env.Payload)
	case IntentPing:
		c.sendEvent(Envelope{Type: "PONG"})
	default:
		c.sendError(codeUnknownIntent, "unknown intent "+env.Type)
	}
}

func (c *client) handleLogin(payload json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Token == "" {
		c.sendError(codeBadPayload, "token required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	user, session, err := c.h.identity.Login(ctx, p.Token)
	if err != nil {
		c.sendOpError(err, "login failed")
		return
	}
	c.setUser(user)
	c.sendJSON(map[string]interface{}{
		"type": "LOGIN_SUCCESS",
		"payload": map[string]interface{}{
			"user":      user,
			"token":     session.Token,
			"expiresAt": session.ExpiresAt,
		},
	})
}

func (c *client) handleResume(payload json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(codeBadPayload, "token required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	user, err := c.h.identity.Resume(ctx, p.Token)
	if err != nil {
		if errorCode(err) == codeSessionInvalid {
			c.sendEvent(Envelope{Type: "SESSION_INVALID"})
		} else {
			c.sendOpError(err, "session resume failed")
		}
		return
	}
	c.setUser(user)
	c.sendJSON(map[string]interface{}{
		"type": "LOGIN_SUCCESS",
		"payload": map[string]interface{}{
			"user":  user,
			"token": p.Token,
		},
	})
}

func (c *client) handleLogout(payload json.RawMessage) {
	var p loginPayload
	_ = json.Unmarshal(payload, &p)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.h.identity.Logout(ctx, p.Token); err != nil {
		c.sendOpError(err, "logout failed")
		return
	}
	c.setUser(nil)
	c.sendSuccess("logged out")
}

func (c *client) handleListRooms(payload json.RawMessage) {
	var p listRoomsPayload
	_ = json.Unmarshal(payload, &p)

	var filter room.ListFilter
	switch p.Type {
	case "mine":
		user := c.currentUser()
		if user == nil {
			c.sendError(codeAuthRequired, "login required")
			return
		}
		filter.OwnedBy = user.ID
	case "private":
		filter.Public = false
	default:
		filter.Public = true
	}

	rooms, err := c.h.directory.List(filter)
	if err != nil {
		c.sendOpError(err, "listing failed")
		return
	}
	c.sendJSON(map[string]interface{}{
		"type":    "ROOM_LIST",
		"payload": map[string]interface{}{"rooms": rooms},
	})
}

func (c *client) handleCreateRoom(payload json.RawMessage) {
	user := c.currentUser()
	if user == nil {
		c.sendError(codeAuthRequired, "login required")
		return
	}
	var p createRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(codeBadPayload, "malformed payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	summary, err := c.h.directory.Create(ctx, p.Name, user.ID, !p.IsPrivate, p.Password)
	if err != nil {
		c.sendOpError(err, "room creation failed")
		return
	}
	c.sendJSON(map[string]interface{}{
		"type":    "ROOM_CREATED",
		"payload": summary,
	})
}

func (c *client) handleDeleteRoom() {
	user := c.currentUser()
	if user == nil {
		c.sendError(codeAuthRequired, "login required")
		return
	}
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.h.directory.Delete(ctx, r.ID, user.ID); err != nil {
		c.sendOpError(err, "room deletion failed")
		return
	}
	c.mu.Lock()
	c.room = nil
	c.mu.Unlock()
	c.sendJSON(map[string]string{"type": "ROOM_DELETED", "roomId": r.ID})
}

func (c *client) handleDeleteAccount() {
	user := c.currentUser()
	if user == nil {
		c.sendError(codeAuthRequired, "login required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	roomIDs, err := c.h.identity.DeleteAccount(ctx, user.ID)
	if err != nil {
		c.sendOpError(err, "account deletion failed")
		return
	}
	c.h.directory.CloseRooms(ctx, roomIDs)
	c.setUser(nil)
	c.sendEvent(Envelope{Type: "DELETE_ACCOUNT_SUCCESS"})
}

func (c *client) handleJoinRoom(payload json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		c.sendError(codeBadPayload, "roomId required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	r, err := c.h.directory.Lookup(ctx, p.RoomID)
	if err != nil {
		c.sendOpError(err, "room lookup failed")
		return
	}
	if !r.CheckPassword(p.Password) {
		c.sendError(codePasswordRequired, "wrong or missing password")
		return
	}

	c.leaveRoom()
	if err := r.Attach(c.peer(), c.send, c.evict); err != nil {
		c.sendOpError(err, "join failed")
		return
	}
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

// evict runs on the room's actor goroutine when the room is torn down
// under this connection.
func (c *client) evict() {
	c.mu.Lock()
	c.room = nil
	c.mu.Unlock()
}

func (c *client) leaveRoom() {
	c.mu.Lock()
	r := c.room
	c.room = nil
	c.mu.Unlock()
	if r != nil {
		r.Detach(c.id, c.send)
	}
}

func (c *client) handleSuggest(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p suggestSongPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Query == "" {
		c.sendError(codeBadPayload, "query required")
		return
	}
	if !c.suggestLimiter.Allow() {
		c.sendError(codeRateLimited, "slow down")
		return
	}

	peer := c.peer()
	if peer.Name == "" {
		peer.Name = p.UserID
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := r.Suggest(ctx, peer, p.Query); err != nil {
		c.sendOpError(err, "suggestion rejected")
		return
	}
}

func (c *client) handleVote(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p votePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.TrackID == "" {
		c.sendError(codeBadPayload, "trackId required")
		return
	}
	direction := room.Vote(p.VoteType)
	if direction != room.VoteUp && direction != room.VoteDown {
		c.sendError(codeBadPayload, "voteType must be up or down")
		return
	}
	if err := r.Vote(c.peer(), p.TrackID, direction); err != nil {
		c.sendOpError(err, "vote rejected")
	}
}

func (c *client) roomTrackOp(payload json.RawMessage, op func(*room.Room, string) error) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p trackPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.TrackID == "" {
		c.sendError(codeBadPayload, "trackId required")
		return
	}
	if err := op(r, p.TrackID); err != nil {
		c.sendOpError(err, "operation rejected")
	}
}

func (c *client) roomVideoOp(payload json.RawMessage, op func(*room.Room, string) error) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p videoPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.VideoID == "" {
		c.sendError(codeBadPayload, "videoId required")
		return
	}
	if err := op(r, p.VideoID); err != nil {
		c.sendOpError(err, "operation rejected")
	}
}

func (c *client) handlePlayPause(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p playPausePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(codeBadPayload, "malformed payload")
		return
	}
	if err := r.PlayPause(c.peer(), p.Playing); err != nil {
		c.sendOpError(err, "transport change rejected")
	}
}

func (c *client) handleSeek(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p seekPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(codeBadPayload, "malformed payload")
		return
	}
	if err := r.Seek(c.peer(), p.Seconds); err != nil {
		c.sendOpError(err, "seek rejected")
	}
}

func (c *client) handleUpdateDuration(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var p durationPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Seconds <= 0 {
		c.sendError(codeBadPayload, "seconds required")
		return
	}
	if err := r.UpdateDuration(c.peer(), p.Seconds); err != nil {
		c.sendOpError(err, "duration update rejected")
	}
}

func (c *client) handleUpdateSettings(payload json.RawMessage) {
	r := c.currentRoom()
	if r == nil {
		c.sendError(codeNotInRoom, "join a room first")
		return
	}
	var patch room.SettingsPatch
	if err := json.Unmarshal(payload, &patch); err != nil {
		c.sendError(codeBadPayload, "malformed payload")
		return
	}
	if err := r.UpdateSettings(c.peer(), patch); err != nil {
		c.sendOpError(err, "settings update rejected")
	}
}

// sendOpError converts a service error into a typed error event for this
// connection only. Internal failures are logged with detail but cross the
// wire as just their code.
func (c *client) sendOpError(err error, message string) {
	code := errorCode(err)
	if code == codeInternal {
		c.logger.Error().Err(err).Msg(message)
	}
	c.sendError(code, message)
}

func (c *client) sendError(code, message string) {
	c.sendJSON(map[string]string{"type": "error", "code": code, "message": message})
}

func (c *client) sendSuccess(message string) {
	c.sendJSON(map[string]string{"type": "success", "message": message})
}

func (c *client) sendEvent(env Envelope) {
	c.sendJSON(env)
}

func (c *client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal event")
		return
	}
	select {
	case c.send <- b:
	default:
		c.logger.Warn().Msg("send buffer full, dropping message")
	}
}
