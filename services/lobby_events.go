package services

import "pong-tournament/models"

// Lobby frame types pushed to client sockets.
const (
	EventPlayerJoined = "player_joined"
	EventStartMatch   = "start_match"
	EventGameReady    = "game_ready"
	EventEndMatch     = "end_match"
	EventError        = "error"
)

// Tunnel sides.
const (
	SideLeft  = "left"
	SideRight = "right"
)

type PlayerJoinedEvent struct {
	Type      string           `json:"type"`
	Name      string           `json:"name"`
	Alias     string           `json:"alias"`
	MatchType models.MatchType `json:"match_type"`
}

type StartMatchEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type GameReadyEvent struct {
	Type      string `json:"type"`
	GameID    uint   `json:"gameId"`
	MatchID   uint   `json:"matchId"`
	MatchName string `json:"matchName"`
	Side      string `json:"side"`
	Opponent  string `json:"opponent"`
}

type EndMatchEvent struct {
	Type      string `json:"type"`
	MatchName string `json:"matchName"`
	Winner    string `json:"winner"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: msg}
}
