package room

import "errors"

// Policy and authorization errors. The ws boundary maps each to a stable
// wire code, so the set here is the vocabulary the client matches on.
var (
	ErrRoomClosed    = errors.New("room: closed")
	ErrRoomNotFound  = errors.New("room: not found")
	ErrNameRequired  = errors.New("room: name required")
	ErrNameTooLong   = errors.New("room: name too long")
	ErrForbidden     = errors.New("room: forbidden")
	ErrWrongPassword = errors.New("room: password required")

	ErrSuggestionsDisabled = errors.New("room: suggestions disabled")
	ErrVotesDisabled       = errors.New("room: votes disabled")
	ErrTrackNotFound       = errors.New("room: track not found")
	ErrInvalidDuration     = errors.New("room: invalid duration")
	ErrCurrentTrack        = errors.New("room: cannot vote on the playing track")
	ErrQueueFull           = errors.New("room: queue full")
	ErrBanned              = errors.New("room: video is banned")
	ErrNotMusic            = errors.New("room: not music")
	ErrTooLong             = errors.New("room: duration limit exceeded")
	ErrRecentlyPlayed      = errors.New("room: played too recently")
)
