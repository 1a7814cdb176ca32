package ws

import (
	"errors"

	"github.com/loewenmaehne/revibe-music-sub000/internal/identity"
	"github.com/loewenmaehne/revibe-music-sub000/internal/resolver"
	"github.com/loewenmaehne/revibe-music-sub000/internal/room"
)

// Stable error codes the client matches on, distinct from the free-text
// message.
const (
	codeBadPayload          = "BAD_PAYLOAD"
	codeUnknownIntent       = "UNKNOWN_INTENT"
	codeInvalidCredential   = "INVALID_CREDENTIAL"
	codeSessionInvalid      = "SESSION_INVALID"
	codeAuthRequired        = "AUTH_REQUIRED"
	codeNotInRoom           = "NOT_IN_ROOM"
	codeNameRequired        = "NAME_REQUIRED"
	codeNameTooLong         = "NAME_TOO_LONG"
	codeRoomNotFound        = "ROOM_NOT_FOUND"
	codeRoomClosed          = "ROOM_CLOSED"
	codePasswordRequired    = "PASSWORD_REQUIRED"
	codeForbidden           = "FORBIDDEN"
	codeSuggestionsDisabled = "SUGGESTIONS_DISABLED"
	codeVotesDisabled       = "VOTES_DISABLED"
	codeTrackNotFound       = "TRACK_NOT_FOUND"
	codeCurrentTrack        = "CURRENT_TRACK"
	codeQueueFull           = "QUEUE_FULL"
	codeBanned              = "BANNED"
	codeNotMusic            = "NOT_MUSIC"
	codeDurationExceeded    = "DURATION_EXCEEDED"
	codeDuplicateCooldown   = "DUPLICATE_COOLDOWN"
	codeSongNotFound        = "SONG_NOT_FOUND"
	codeLiveBroadcast       = "LIVE_BROADCAST"
	codeResolverUnavailable = "RESOLVER_UNAVAILABLE"
	codeRateLimited         = "RATE_LIMITED"
	codeInternal            = "INTERNAL"
)

// errorCode maps typed errors from the services to wire codes. Anything
// unrecognized is an internal failure: the operation failed closed and the
// requester just learns that much.
func errorCode(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		return codeInvalidCredential
	case errors.Is(err, identity.ErrSessionInvalid):
		return codeSessionInvalid
	case errors.Is(err, room.ErrNameRequired):
		return codeNameRequired
	case errors.Is(err, room.ErrNameTooLong):
		return codeNameTooLong
	case errors.Is(err, room.ErrRoomNotFound):
		return codeRoomNotFound
	case errors.Is(err, room.ErrRoomClosed):
		return codeRoomClosed
	case errors.Is(err, room.ErrWrongPassword):
		return codePasswordRequired
	case errors.Is(err, room.ErrForbidden):
		return codeForbidden
	case errors.Is(err, room.ErrSuggestionsDisabled):
		return codeSuggestionsDisabled
	case errors.Is(err, room.ErrVotesDisabled):
		return codeVotesDisabled
	case errors.Is(err, room.ErrTrackNotFound):
		return codeTrackNotFound
	case errors.Is(err, room.ErrInvalidDuration):
		return codeBadPayload
	case errors.Is(err, room.ErrCurrentTrack):
		return codeCurrentTrack
	case errors.Is(err, room.ErrQueueFull):
		return codeQueueFull
	case errors.Is(err, room.ErrBanned):
		return codeBanned
	case errors.Is(err, room.ErrNotMusic):
		return codeNotMusic
	case errors.Is(err, room.ErrTooLong):
		return codeDurationExceeded
	case errors.Is(err, room.ErrRecentlyPlayed):
		return codeDuplicateCooldown
	case errors.Is(err, resolver.ErrNotFound):
		return codeSongNotFound
	case errors.Is(err, resolver.ErrLiveBroadcast):
		return codeLiveBroadcast
	case errors.Is(err, resolver.ErrUnavailable):
		return codeResolverUnavailable
	default:
		return codeInternal
	}
}
