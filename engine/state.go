package engine

import "pong-tournament/models"

type Phase string

const (
	PhaseWaitingReady Phase = "WAITING_READY"
	PhaseServing      Phase = "SERVING"
	PhaseRally        Phase = "RALLY"
	PhaseScoring      Phase = "SCORING"
	PhaseMatchOver    Phase = "MATCH_OVER"
)

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Velocity is the ball vector plus the per-tick paddle speed.
type Velocity struct {
	BX          float64 `json:"bx"`
	BY          float64 `json:"by"`
	PaddleSpeed float64 `json:"paddleSpeed"`
}

type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Paddles holds the top edge of each paddle.
type Paddles struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

type PaddleInput struct {
	Up   bool `json:"up"`
	Down bool `json:"down"`
}

// Inputs are the held keys for both paddles at the start of a tick.
type Inputs struct {
	Left  PaddleInput `json:"left"`
	Right PaddleInput `json:"right"`
}

// Board is sent with each snapshot so clients can scale their canvas.
type Board struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	BallRadius   float64 `json:"ballRadius"`
}

// State is the authoritative simulation state of one game.
type State struct {
	Phase         Phase             `json:"phase"`
	Ball          Vec               `json:"ball"`
	Paddles       Paddles           `json:"paddles"`
	Velocity      Velocity          `json:"velocity"`
	Score         Score             `json:"score"`
	ServingPlayer Side              `json:"servingPlayer"`
	LeftPlayer    models.PlayerRef  `json:"leftPlayer"`
	RightPlayer   models.PlayerRef  `json:"rightPlayer"`
	Winner        *models.PlayerRef `json:"winner,omitempty"`
	Loser         *models.PlayerRef `json:"loser,omitempty"`
	Board         Board             `json:"board"`
}
