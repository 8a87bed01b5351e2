// models/game.go
package models

type GameStatus string

const (
	GameStatusPending    GameStatus = "PENDING"
	GameStatusInProgress GameStatus = "IN_PROGRESS"
	GameStatusFinished   GameStatus = "FINISHED"
)

// Game is a single 1v1 contest inside a round.
type Game struct {
	ID      uint       `gorm:"primaryKey" json:"id"`
	MatchID uint       `gorm:"not null;index" json:"match_id"`
	Round   int        `gorm:"not null;index" json:"round"`
	Type    MatchType  `gorm:"type:varchar(16);not null" json:"type"`
	Status  GameStatus `gorm:"type:varchar(16);not null;default:'PENDING'" json:"status"`

	LeftPlayerID  uint   `gorm:"not null" json:"left_player_id"`
	LeftAlias     string `gorm:"not null" json:"left_alias"`
	RightPlayerID uint   `gorm:"not null" json:"right_player_id"`
	RightAlias    string `gorm:"not null" json:"right_alias"`

	// Winner and Loser hold aliases; both are set together with Status FINISHED.
	Winner string `json:"winner,omitempty"`
	Loser  string `json:"loser,omitempty"`

	Timestamps
}

// Finished reports whether a result has been recorded.
func (g Game) Finished() bool {
	return g.Status == GameStatusFinished
}

// Has reports whether alias plays in this game.
func (g Game) Has(alias string) bool {
	return g.LeftAlias == alias || g.RightAlias == alias
}
