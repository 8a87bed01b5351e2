package models

// MatchType tells whether a tournament is played over the network or on one shared keyboard.
type MatchType string

const (
	MatchTypeRemote  MatchType = "REMOTE"
	MatchTypeConsole MatchType = "CONSOLE"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	return t == MatchTypeRemote || t == MatchTypeConsole
}

type MatchStatus string

const (
	MatchStatusOpen       MatchStatus = "OPEN"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusClosed     MatchStatus = "CLOSED"
)

// Match is a bracketed tournament. Round is the index of the round currently being played.
type Match struct {
	ID     uint        `gorm:"primaryKey" json:"id"`
	Name   string      `gorm:"index;not null" json:"name"`
	Type   MatchType   `gorm:"type:varchar(16);not null" json:"type"`
	Status MatchStatus `gorm:"type:varchar(16);index;not null;default:'OPEN'" json:"status"`
	Round  int         `gorm:"default:0" json:"round"`
	Owner  *string     `json:"owner,omitempty"` // external user id of the creator

	Players []Player `json:"players,omitempty" gorm:"foreignKey:MatchID"`
	Games   []Game   `json:"games,omitempty" gorm:"foreignKey:MatchID"`

	Timestamps
}
