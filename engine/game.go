package engine

import (
	"math"
	"math/rand/v2"
	"time"

	"pong-tournament/models"
)

// Game is the simulation context of one match-up. It is owned by a single Room goroutine
// and is not safe for concurrent use.
type Game struct {
	cfg        Config
	rng        *rand.Rand
	state      State
	pauseUntil time.Time
}

// NewGame builds a game waiting for its players to be ready.
func NewGame(cfg Config, rng *rand.Rand, left, right models.PlayerRef) *Game {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	g := &Game{cfg: cfg, rng: rng}
	g.state = State{
		LeftPlayer:  left,
		RightPlayer: right,
		Board: Board{
			Width:        cfg.Width,
			Height:       cfg.Height,
			PaddleWidth:  cfg.PaddleWidth,
			PaddleHeight: cfg.PaddleHeight,
			BallRadius:   cfg.BallRadius,
		},
	}
	g.Reset()
	return g
}

// Reset returns to WAITING_READY with a zero score and a still ball.
func (g *Game) Reset() {
	g.state.Phase = PhaseWaitingReady
	g.state.Score = Score{}
	// The first Serve flips this, so the left player serves first.
	g.state.ServingPlayer = SideRight
	g.state.Winner, g.state.Loser = nil, nil
	g.state.Ball = Vec{X: g.cfg.Width / 2, Y: g.cfg.Height / 2}
	g.state.Velocity = Velocity{PaddleSpeed: g.cfg.PaddleSpeed}
	g.state.Paddles = Paddles{Left: g.cfg.centeredPaddleY(), Right: g.cfg.centeredPaddleY()}
	g.pauseUntil = time.Time{}
}

// Start begins a fresh game from WAITING_READY. It is a no-op in any other phase.
func (g *Game) Start(now time.Time) bool {
	if g.state.Phase != PhaseWaitingReady {
		return false
	}
	g.Serve(now)
	return true
}

// Serve centers ball and paddles, hands service to the other side and pauses briefly.
// The ball leaves toward the side that is not serving at 30 to 60 degrees.
func (g *Game) Serve(now time.Time) {
	g.state.ServingPlayer = g.state.ServingPlayer.Opposite()
	g.state.Ball = Vec{X: g.cfg.Width / 2, Y: g.cfg.Height / 2}
	g.state.Paddles = Paddles{Left: g.cfg.centeredPaddleY(), Right: g.cfg.centeredPaddleY()}

	angle := (30 + g.rng.Float64()*30) * math.Pi / 180
	vertical := 1.0
	if g.rng.IntN(2) == 0 {
		vertical = -1
	}
	dir := 1.0
	if g.state.ServingPlayer == SideRight {
		dir = -1
	}
	g.state.Velocity.BX = g.cfg.BallSpeed * math.Cos(angle) * dir
	g.state.Velocity.BY = g.cfg.BallSpeed * math.Sin(angle) * vertical

	g.state.Phase = PhaseServing
	g.pauseUntil = now.Add(g.cfg.ServePause)
}

// Step advances the simulation by one tick and reports whether the state changed.
func (g *Game) Step(now time.Time, in Inputs) bool {
	switch g.state.Phase {
	case PhaseWaitingReady, PhaseMatchOver:
		return false
	case PhaseServing:
		if now.Before(g.pauseUntil) {
			return false
		}
		g.state.Phase = PhaseRally
	}

	g.movePaddles(in)

	prev := g.state.Ball
	g.state.Ball.X += g.state.Velocity.BX
	g.state.Ball.Y += g.state.Velocity.BY

	g.bounceWalls()
	g.bouncePaddles(prev)
	g.score(now)
	return true
}

func (g *Game) movePaddles(in Inputs) {
	maxY := g.cfg.Height - g.cfg.PaddleHeight
	g.state.Paddles.Left = clamp(g.state.Paddles.Left+g.paddleDelta(in.Left), 0, maxY)
	g.state.Paddles.Right = clamp(g.state.Paddles.Right+g.paddleDelta(in.Right), 0, maxY)
}

func (g *Game) paddleDelta(in PaddleInput) float64 {
	switch {
	case in.Up && !in.Down:
		return -g.cfg.PaddleSpeed
	case in.Down && !in.Up:
		return g.cfg.PaddleSpeed
	}
	return 0
}

func (g *Game) bounceWalls() {
	r := g.cfg.BallRadius
	switch {
	case g.state.Ball.Y-r <= 0 && g.state.Velocity.BY < 0:
		g.state.Ball.Y = r
		g.state.Velocity.BY = -g.state.Velocity.BY
	case g.state.Ball.Y+r >= g.cfg.Height && g.state.Velocity.BY > 0:
		g.state.Ball.Y = g.cfg.Height - r
		g.state.Velocity.BY = -g.state.Velocity.BY
	}
}

// bouncePaddles checks the path travelled since prev, so a fast ball cannot tunnel through a paddle.
func (g *Game) bouncePaddles(prev Vec) {
	r := g.cfg.BallRadius

	leftX := g.cfg.leftPaddleX()
	if g.state.Velocity.BX < 0 {
		if y, ok := g.contact(prev, leftX+g.cfg.PaddleWidth, -1, leftX, g.state.Paddles.Left); ok {
			g.state.Ball.Y = y
			g.deflect(g.state.Paddles.Left, 1)
			g.state.Ball.X = leftX + g.cfg.PaddleWidth + r
		}
		return
	}

	rightX := g.cfg.rightPaddleX()
	if g.state.Velocity.BX > 0 {
		if y, ok := g.contact(prev, rightX, 1, rightX, g.state.Paddles.Right); ok {
			g.state.Ball.Y = y
			g.deflect(g.state.Paddles.Right, -1)
			g.state.Ball.X = rightX - r
		}
	}
}

// contact returns the ball's y where its leading edge crossed face this tick, if the paddle was there.
// dir is the ball's horizontal direction. A ball already overlapping the paddle also counts.
func (g *Game) contact(prev Vec, face, dir, paddleX, paddleY float64) (float64, bool) {
	r := g.cfg.BallRadius
	cur := g.state.Ball
	from, to := prev.X+dir*r, cur.X+dir*r

	if (to-face)*dir > 0 && (from-face)*dir <= 0 && from != to {
		t := (face - from) / (to - from)
		y := prev.Y + t*(cur.Y-prev.Y)
		if y+r >= paddleY && y-r <= paddleY+g.cfg.PaddleHeight {
			return y, true
		}
	}
	if g.touches(cur, paddleX, paddleY) {
		return cur.Y, true
	}
	return 0, false
}

// touches is an axis-aligned box test of the paddle grown by the ball radius.
func (g *Game) touches(ball Vec, paddleX, paddleY float64) bool {
	r := g.cfg.BallRadius
	return ball.X+r >= paddleX && ball.X-r <= paddleX+g.cfg.PaddleWidth &&
		ball.Y+r >= paddleY && ball.Y-r <= paddleY+g.cfg.PaddleHeight
}

// deflect sends the ball away from a paddle. The contact point steers the angle; speed grows each hit.
func (g *Game) deflect(paddleY, dir float64) {
	half := g.cfg.PaddleHeight / 2
	hitPos := clamp((g.state.Ball.Y-(paddleY+half))/half, -1, 1)
	a := hitPos * g.cfg.AngleFactor

	speed := math.Hypot(g.state.Velocity.BX, g.state.Velocity.BY) * g.cfg.SpeedUp
	g.state.Velocity.BX = speed * math.Sqrt(1-a*a) * dir
	g.state.Velocity.BY = speed * a
}

func (g *Game) score(now time.Time) {
	r := g.cfg.BallRadius
	var scorer Side
	switch {
	case g.state.Ball.X-r <= 0:
		scorer = SideRight
	case g.state.Ball.X+r >= g.cfg.Width:
		scorer = SideLeft
	default:
		return
	}

	g.state.Phase = PhaseScoring
	g.state.Ball.X = clamp(g.state.Ball.X, r, g.cfg.Width-r)
	if scorer == SideLeft {
		g.state.Score.Left++
	} else {
		g.state.Score.Right++
	}

	if g.state.Score.Left < g.cfg.WinScore && g.state.Score.Right < g.cfg.WinScore {
		g.Serve(now)
		return
	}

	g.state.Phase = PhaseMatchOver
	g.state.Velocity.BX, g.state.Velocity.BY = 0, 0
	winner, loser := g.state.LeftPlayer, g.state.RightPlayer
	if g.state.Score.Right > g.state.Score.Left {
		winner, loser = loser, winner
	}
	g.state.Winner, g.state.Loser = &winner, &loser
}

// Snapshot returns a copy of the current state.
func (g *Game) Snapshot() State {
	s := g.state
	if s.Winner != nil {
		w, l := *s.Winner, *s.Loser
		s.Winner, s.Loser = &w, &l
	}
	return s
}

func (g *Game) Phase() Phase {
	return g.state.Phase
}

func (g *Game) Over() bool {
	return g.state.Phase == PhaseMatchOver
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
