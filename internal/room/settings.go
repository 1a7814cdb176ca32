package room

const (
	SuggestionModeAuto   = "auto"
	SuggestionModeManual = "manual"
)

// Settings are the owner-tunable toggles and limits of a room. Zero means
// "off" for the numeric limits.
type Settings struct {
	SuggestionsEnabled bool   `json:"suggestionsEnabled"`
	MusicOnly          bool   `json:"musicOnly"`
	MaxDuration        int    `json:"maxDuration"`
	MaxQueueSize       int    `json:"maxQueueSize"`
	DuplicateCooldown  int    `json:"duplicateCooldown"`
	SmartQueue         bool   `json:"smartQueue"`
	AutoRefill         bool   `json:"autoRefill"`
	PlaylistViewMode   bool   `json:"playlistViewMode"`
	AllowPrelisten     bool   `json:"allowPrelisten"`
	VotesEnabled       bool   `json:"votesEnabled"`
	OwnerBypass        bool   `json:"ownerBypass"`
	OwnerQueueBypass   bool   `json:"ownerQueueBypass"`
	OwnerPopups        bool   `json:"ownerPopups"`
	SuggestionMode     string `json:"suggestionMode"`
	AutoApproveKnown   bool   `json:"autoApproveKnown"`
	CaptionsEnabled    bool   `json:"captionsEnabled"`
}

func DefaultSettings() Settings {
	return Settings{
		SuggestionsEnabled: true,
		VotesEnabled:       true,
		OwnerBypass:        true,
		OwnerPopups:        true,
		SuggestionMode:     SuggestionModeAuto,
	}
}

// SettingsPatch is a partial settings update; nil fields keep their value.
type SettingsPatch struct {
	SuggestionsEnabled *bool   `json:"suggestionsEnabled"`
	MusicOnly          *bool   `json:"musicOnly"`
	MaxDuration        *int    `json:"maxDuration"`
	MaxQueueSize       *int    `json:"maxQueueSize"`
	DuplicateCooldown  *int    `json:"duplicateCooldown"`
	SmartQueue         *bool   `json:"smartQueue"`
	AutoRefill         *bool   `json:"autoRefill"`
	PlaylistViewMode   *bool   `json:"playlistViewMode"`
	AllowPrelisten     *bool   `json:"allowPrelisten"`
	VotesEnabled       *bool   `json:"votesEnabled"`
	OwnerBypass        *bool   `json:"ownerBypass"`
	OwnerQueueBypass   *bool   `json:"ownerQueueBypass"`
	OwnerPopups        *bool   `json:"ownerPopups"`
	SuggestionMode     *string `json:"suggestionMode"`
	AutoApproveKnown   *bool   `json:"autoApproveKnown"`
	CaptionsEnabled    *bool   `json:"captionsEnabled"`
}

func (p SettingsPatch) apply(s *Settings) {
	if p.SuggestionsEnabled != nil {
		s.SuggestionsEnabled = *p.SuggestionsEnabled
	}
	if p.MusicOnly != nil {
		s.MusicOnly = *p.MusicOnly
	}
	if p.MaxDuration != nil && *p.MaxDuration >= 0 {
		s.MaxDuration = *p.MaxDuration
	}
	if p.MaxQueueSize != nil && *p.MaxQueueSize >= 0 {
		s.MaxQueueSize = *p.MaxQueueSize
	}
	if p.DuplicateCooldown != nil && *p.DuplicateCooldown >= 0 {
		s.DuplicateCooldown = *p.DuplicateCooldown
	}
	if p.SmartQueue != nil {
		s.SmartQueue = *p.SmartQueue
	}
	if p.AutoRefill != nil {
		s.AutoRefill = *p.AutoRefill
	}
	if p.PlaylistViewMode != nil {
		s.PlaylistViewMode = *p.PlaylistViewMode
	}
	if p.AllowPrelisten != nil {
		s.AllowPrelisten = *p.AllowPrelisten
	}
	if p.VotesEnabled != nil {
		s.VotesEnabled = *p.VotesEnabled
	}
	if p.OwnerBypass != nil {
		s.OwnerBypass = *p.OwnerBypass
	}
	if p.OwnerQueueBypass != nil {
		s.OwnerQueueBypass = *p.OwnerQueueBypass
	}
	if p.OwnerPopups != nil {
		s.OwnerPopups = *p.OwnerPopups
	}
	if p.SuggestionMode != nil {
		if *p.SuggestionMode == SuggestionModeAuto || *p.SuggestionMode == SuggestionModeManual {
			s.SuggestionMode = *p.SuggestionMode
		}
	}
	if p.AutoApproveKnown != nil {
		s.AutoApproveKnown = *p.AutoApproveKnown
	}
	if p.CaptionsEnabled != nil {
		s.CaptionsEnabled = *p.CaptionsEnabled
	}
}
