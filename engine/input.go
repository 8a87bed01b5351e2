package engine

import "pong-tournament/models"

// Frame types exchanged with tunnel connections.
const (
	FrameInput = "input"
	FrameReady = "ready"
	FrameState = "state"
	FrameWin   = "win"
	FrameAbort = "abort"
	FrameError = "error"
)

const keyEscape = "Escape"

// InputData is the payload of an input frame: a key code and whether it is held.
type InputData struct {
	Code    string `json:"code"`
	Pressed bool   `json:"pressed"`
}

type binding struct {
	side Side
	up   bool
}

// bindKey maps a key to a paddle. Remote players steer their own paddle with W/S or the arrows;
// on a console W/S drive the left paddle and the arrows the right one.
func bindKey(kind models.MatchType, sender Side, code string) (binding, bool) {
	if kind == models.MatchTypeConsole {
		switch code {
		case "KeyW":
			return binding{SideLeft, true}, true
		case "KeyS":
			return binding{SideLeft, false}, true
		case "ArrowUp":
			return binding{SideRight, true}, true
		case "ArrowDown":
			return binding{SideRight, false}, true
		}
		return binding{}, false
	}

	switch code {
	case "KeyW", "ArrowUp":
		return binding{sender, true}, true
	case "KeyS", "ArrowDown":
		return binding{sender, false}, true
	}
	return binding{}, false
}

func (in *Inputs) apply(b binding, pressed bool) {
	p := &in.Left
	if b.side == SideRight {
		p = &in.Right
	}
	if b.up {
		p.Up = pressed
	} else {
		p.Down = pressed
	}
}
