package models

type PlayerStatus string

const (
	PlayerStatusNotPlayed PlayerStatus = "NOT_PLAYED"
	PlayerStatusWon       PlayerStatus = "WON"
	PlayerStatusLost      PlayerStatus = "LOST"
)

// Player is one entrant of a match. Alias is unique within the match.
type Player struct {
	ID      uint         `gorm:"primaryKey" json:"id"`
	UserID  *string      `gorm:"index" json:"user_id,omitempty"` // nil for local console entrants without an account
	Alias   string       `gorm:"not null;uniqueIndex:idx_player_match_alias" json:"alias"`
	MatchID uint         `gorm:"not null;index;uniqueIndex:idx_player_match_alias" json:"match_id"`
	Status  PlayerStatus `gorm:"type:varchar(16);not null;default:'NOT_PLAYED'" json:"status"`

	Timestamps
}

// Ref is the {id, alias} pair used on the wire.
func (p Player) Ref() PlayerRef {
	ref := PlayerRef{Alias: p.Alias}
	if p.UserID != nil {
		ref.ID = *p.UserID
	}
	return ref
}

// PlayerRef identifies a player in REST payloads and frames.
type PlayerRef struct {
	ID    string `json:"id,omitempty"`
	Alias string `json:"alias"`
}
