package engine

import "time"

// Config holds board geometry and rally tuning. Distances are in board units, speeds per tick.
type Config struct {
	Width        float64
	Height       float64
	PaddleWidth  float64
	PaddleHeight float64
	PaddleOffset float64 // gap between a paddle and its goal line
	BallRadius   float64

	PaddleSpeed float64
	BallSpeed   float64
	SpeedUp     float64 // multiplier applied on every paddle contact
	AngleFactor float64 // max share of the speed turned into vertical velocity

	WinScore   int
	ServePause time.Duration
	TickRate   int // ticks per second
}

func DefaultConfig() Config {
	return Config{
		Width:        800,
		Height:       600,
		PaddleWidth:  10,
		PaddleHeight: 100,
		PaddleOffset: 20,
		BallRadius:   8,
		PaddleSpeed:  6,
		BallSpeed:    6,
		SpeedUp:      1.04,
		AngleFactor:  0.6,
		WinScore:     5,
		ServePause:   200 * time.Millisecond,
		TickRate:     60,
	}
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) leftPaddleX() float64 {
	return c.PaddleOffset
}

func (c Config) rightPaddleX() float64 {
	return c.Width - c.PaddleOffset - c.PaddleWidth
}

func (c Config) centeredPaddleY() float64 {
	return (c.Height - c.PaddleHeight) / 2
}
