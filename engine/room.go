package engine

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pong-tournament/metrics"
	"pong-tournament/models"
	"pong-tournament/socket"
)

const reportTimeout = 10 * time.Second

// RoomParams identify the game a room simulates.
type RoomParams struct {
	MatchID uint
	GameID  uint
	Kind    models.MatchType
	Left    models.PlayerRef
	Right   models.PlayerRef
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Type  string `json:"type"`
	Data  *State `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Room simulates one game for up to two tunnel connections, one per side.
// A ticker goroutine runs only while the game is being played.
type Room struct {
	RoomParams

	cfg      Config
	reporter ResultReporter
	log      *zap.SugaredLogger
	onClose  func(*Room)
	now      func() time.Time

	mu     sync.Mutex
	game   *Game
	inputs Inputs
	peers  map[Side]*socket.Socket
	stop   chan struct{} // non-nil while ticking
	closed bool
}

func NewRoom(params RoomParams, cfg Config, rng *rand.Rand, reporter ResultReporter, logger *zap.SugaredLogger, onClose func(*Room)) *Room {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if params.Kind == "" {
		params.Kind = models.MatchTypeRemote
	}
	return &Room{
		RoomParams: params,
		cfg:        cfg,
		reporter:   reporter,
		log:        logger.With("game_id", params.GameID, "match_id", params.MatchID),
		onClose:    onClose,
		now:        time.Now,
		game:       NewGame(cfg, rng, params.Left, params.Right),
		peers:      make(map[Side]*socket.Socket),
	}
}

// Attach binds a connection to side, replacing a previous one, and starts the game when everyone is there.
func (r *Room) Attach(side Side, sock *socket.Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	if old, ok := r.peers[side]; ok && old != sock {
		old.CloseWith(websocket.CloseNormalClosure, "replaced")
	}
	r.peers[side] = sock

	snap := r.game.Snapshot()
	sock.SendJSON(outboundFrame{Type: FrameState, Data: &snap})
	r.log.Infow("[ROOM] side attached", "side", side, "peers", len(r.peers))

	r.maybeStartLocked()
	return true
}

// Detach removes a connection. The last one out closes the room; in a remote game a leaver aborts play.
func (r *Room) Detach(side Side, sock *socket.Socket) {
	r.mu.Lock()
	if r.peers[side] != sock {
		r.mu.Unlock()
		return
	}
	delete(r.peers, side)
	r.log.Infow("[ROOM] side detached", "side", side, "peers", len(r.peers))

	if len(r.peers) == 0 {
		r.stopTickerLocked()
		r.closed = true
		r.mu.Unlock()
		if r.onClose != nil {
			r.onClose(r)
		}
		return
	}
	if r.Kind == models.MatchTypeRemote && !r.game.Over() && r.game.Phase() != PhaseWaitingReady {
		r.abortLocked()
	}
	r.mu.Unlock()
}

// HandleFrame applies one frame received from side. Malformed frames get an error reply.
func (r *Room) HandleFrame(side Side, msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		r.replyError(side, "malformed frame")
		return
	}

	switch frame.Type {
	case FrameInput:
		var in InputData
		if err := json.Unmarshal(frame.Data, &in); err != nil {
			r.replyError(side, "malformed input")
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if in.Code == keyEscape {
			if in.Pressed && r.game.Phase() != PhaseWaitingReady && !r.game.Over() {
				r.log.Infow("[ROOM] aborted by player", "side", side)
				r.abortLocked()
			}
			return
		}
		if b, ok := bindKey(r.Kind, side, in.Code); ok {
			r.inputs.apply(b, in.Pressed)
		}

	case FrameReady:
		r.mu.Lock()
		defer r.mu.Unlock()
		r.maybeStartLocked()

	default:
		r.replyError(side, "unknown frame type "+frame.Type)
	}
}

// Shutdown closes every connection with a going-away code.
func (r *Room) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTickerLocked()
	for _, p := range r.peers {
		p.CloseWith(websocket.CloseGoingAway, "engine shutting down")
	}
}

func (r *Room) replyError(side Side, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[side]; ok {
		p.SendJSON(outboundFrame{Type: FrameError, Error: msg})
	}
}

func (r *Room) ready() bool {
	if r.Kind == models.MatchTypeConsole {
		return len(r.peers) > 0
	}
	return r.peers[SideLeft] != nil && r.peers[SideRight] != nil
}

func (r *Room) maybeStartLocked() {
	if !r.ready() || !r.game.Start(r.now()) {
		return
	}
	r.log.Infow("[ROOM] game started", "kind", r.Kind)
	r.stop = make(chan struct{})
	go r.run(r.stop)
}

func (r *Room) stopTickerLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

func (r *Room) abortLocked() {
	r.stopTickerLocked()
	r.game.Reset()
	r.inputs = Inputs{}
	snap := r.game.Snapshot()
	r.broadcastLocked(outboundFrame{Type: FrameAbort, Data: &snap})
}

func (r *Room) broadcastLocked(frame outboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.log.Errorw("[ROOM] encode frame failed", "error", err)
		return
	}
	for _, p := range r.peers {
		p.Send(data)
	}
}

func (r *Room) run(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if snap, over := r.tick(stop, now); over {
				r.finish(snap)
				return
			}
		}
	}
}

// tick steps the game unless the ticker was stopped meanwhile. It never blocks on I/O.
func (r *Room) tick(stop chan struct{}, now time.Time) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != stop {
		return State{}, false
	}

	if !r.game.Step(now, r.inputs) {
		return State{}, false
	}
	snap := r.game.Snapshot()
	if !r.game.Over() {
		r.broadcastLocked(outboundFrame{Type: FrameState, Data: &snap})
		return snap, false
	}

	r.stop = nil
	r.broadcastLocked(outboundFrame{Type: FrameWin, Data: &snap})
	return snap, true
}

func (r *Room) finish(snap State) {
	res := Result{MatchID: r.MatchID, GameID: r.GameID, Winner: *snap.Winner, Loser: *snap.Loser}
	r.log.Infow("[ROOM] game over", "winner", res.Winner.Alias, "loser", res.Loser.Alias,
		"score_left", snap.Score.Left, "score_right", snap.Score.Right)

	outcome := "skipped"
	if r.reporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		err := r.reporter.Report(ctx, res)
		cancel()
		outcome = "ok"
		if err != nil {
			outcome = "failed"
			r.log.Errorw("[ROOM] result report failed", "error", err)
		}
	}
	metrics.FinishedGames.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		p.CloseWith(websocket.CloseNormalClosure, "game over")
	}
}
