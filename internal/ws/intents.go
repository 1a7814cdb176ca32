package ws

import "encoding/json"

// Envelope is the bidirectional wire frame: one JSON object per message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server intent types. The dispatch switch over these is the
// single place a new intent gets added.
const (
	IntentLogin             = "LOGIN"
	IntentResumeSession     = "RESUME_SESSION"
	IntentLogout            = "LOGOUT"
	IntentListRooms         = "LIST_ROOMS"
	IntentCreateRoom        = "CREATE_ROOM"
	IntentDeleteRoom        = "DELETE_ROOM"
	IntentDeleteAccount     = "DELETE_ACCOUNT"
	IntentJoinRoom          = "JOIN_ROOM"
	IntentSuggestSong       = "SUGGEST_SONG"
	IntentVote              = "VOTE"
	IntentApproveSuggestion = "APPROVE_SUGGESTION"
	IntentRejectSuggestion  = "REJECT_SUGGESTION"
	IntentBanSuggestion     = "BAN_SUGGESTION"
	IntentUnbanSong         = "UNBAN_SONG"
	IntentDeleteSong        = "DELETE_SONG"
	IntentRemoveFromLibrary = "REMOVE_FROM_LIBRARY"
	IntentPlayPause         = "PLAY_PAUSE"
	IntentSeekTo            = "SEEK_TO"
	IntentUpdateDuration    = "UPDATE_DURATION"
	IntentUpdateSettings    = "UPDATE_SETTINGS"
	IntentPing              = "PING"
)

type loginPayload struct {
	Token string `json:"token"`
}

type listRoomsPayload struct {
	Type string `json:"type"` // "public" | "private" | "mine"
}

type createRoomPayload struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
	Password  string `json:"password"`
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
}

type suggestSongPayload struct {
	Query  string `json:"query"`
	UserID string `json:"userId"` // client-side attribution for anonymous users
}

type votePayload struct {
	TrackID  string `json:"trackId"`
	VoteType string `json:"voteType"` // "up" | "down"
}

type trackPayload struct {
	TrackID string `json:"trackId"`
}

type videoPayload struct {
	VideoID string `json:"videoId"`
}

type playPausePayload struct {
	Playing bool `json:"playing"`
}

type seekPayload struct {
	Seconds int `json:"seconds"`
}

type durationPayload struct {
	Seconds int `json:"seconds"`
}
