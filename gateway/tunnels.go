package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/metrics"
	"pong-tournament/models"
	"pong-tournament/socket"
)

// TunnelKey identifies one side of one game.
type TunnelKey struct {
	GameID uint
	Side   string
}

// TunnelTarget is what the engine needs to know to simulate a side.
type TunnelTarget struct {
	Key      TunnelKey
	MatchID  uint
	Kind     models.MatchType
	Alias    string
	Opponent string
}

// Dialer opens the upstream connection to the physics engine.
type Dialer interface {
	Dial(ctx context.Context, target TunnelTarget) (socket.Conn, error)
}

// EngineDialer dials the engine's /game endpoint with the shared service token.
type EngineDialer struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (d *EngineDialer) Dial(ctx context.Context, target TunnelTarget) (socket.Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "invalid engine url", err)
	}
	q := u.Query()
	q.Set("gameId", strconv.FormatUint(uint64(target.Key.GameID), 10))
	q.Set("side", target.Key.Side)
	q.Set("matchId", strconv.FormatUint(uint64(target.MatchID), 10))
	q.Set("type", string(target.Kind))
	q.Set("alias", target.Alias)
	q.Set("opponent", target.Opponent)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-Service-Token", d.Token)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "simulation unavailable", err)
	}
	return conn, nil
}

// Tunnel relays frames between the client sockets of one side and a single upstream connection.
type Tunnel struct {
	key      TunnelKey
	registry *TunnelRegistry

	ready    chan struct{} // closed once the dial finished
	err      error
	upstream *socket.Socket
	clients  map[string]*socket.Socket
	closed   bool
}

// TunnelRegistry owns every tunnel. At most one upstream connection exists per key.
type TunnelRegistry struct {
	dialer Dialer
	buffer int
	log    *zap.SugaredLogger

	mu      sync.Mutex
	tunnels map[TunnelKey]*Tunnel
}

func NewTunnelRegistry(dialer Dialer, buffer int, logger *zap.SugaredLogger) *TunnelRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TunnelRegistry{
		dialer:  dialer,
		buffer:  buffer,
		log:     logger,
		tunnels: make(map[TunnelKey]*Tunnel),
	}
}

// Join adds client to the tunnel of target.Key, dialing the engine if this is the first client.
// Concurrent joiners of a tunnel that is still dialing wait for that dial instead of starting their own.
func (r *TunnelRegistry) Join(ctx context.Context, target TunnelTarget, client *socket.Socket) (*Tunnel, error) {
	r.mu.Lock()
	t, ok := r.tunnels[target.Key]
	if !ok {
		t = &Tunnel{
			key:      target.Key,
			registry: r,
			ready:    make(chan struct{}),
			clients:  make(map[string]*socket.Socket),
		}
		r.tunnels[target.Key] = t
		metrics.ActiveTunnels.Inc()
	}
	t.clients[client.ID] = client
	r.mu.Unlock()

	if ok {
		select {
		case <-t.ready:
		case <-ctx.Done():
			t.Leave(client)
			return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "simulation unavailable", ctx.Err())
		}
		if t.err != nil {
			return nil, t.err
		}
		r.log.Debugw("[TUNNEL] client joined", "game_id", t.key.GameID, "side", t.key.Side)
		return t, nil
	}

	conn, err := r.dialer.Dial(ctx, target)

	r.mu.Lock()
	if err != nil {
		metrics.UpstreamDials.WithLabelValues("failed").Inc()
		r.log.Warnw("[TUNNEL] upstream dial failed", "game_id", t.key.GameID, "side", t.key.Side, "error", err)
		if apperrors.CodeOf(err) != apperrors.CodeUpstreamUnavailable {
			err = apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "simulation unavailable", err)
		}
		t.err = err
		t.closed = true
		r.removeLocked(t)
		close(t.ready)
		r.mu.Unlock()
		return nil, err
	}

	metrics.UpstreamDials.WithLabelValues("ok").Inc()
	up := socket.New(conn, r.buffer)
	t.upstream = up
	abandoned := t.closed
	close(t.ready)
	r.mu.Unlock()

	go r.pump(t, up)
	if abandoned {
		// Every client left while we were dialing.
		up.Close()
		return nil, apperrors.New(apperrors.CodeUpstreamUnavailable, "tunnel closed while connecting")
	}
	r.log.Infow("[TUNNEL] opened", "game_id", t.key.GameID, "side", t.key.Side)
	return t, nil
}

// pump fans upstream frames out to every client until the upstream closes, then closes the clients.
func (r *TunnelRegistry) pump(t *Tunnel, up *socket.Socket) {
	err := up.ReadLoop(func(msg []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range t.clients {
			c.Send(msg)
		}
	})

	code, reason := websocket.CloseInternalServerErr, "simulation connection lost"
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseTryAgainLater, websocket.CloseInternalServerErr:
			code, reason = ce.Code, ce.Text
		}
	}

	r.mu.Lock()
	clients := make([]*socket.Socket, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.clients = map[string]*socket.Socket{}
	alreadyClosed := t.closed
	t.closed = true
	r.removeLocked(t)
	r.mu.Unlock()

	for _, c := range clients {
		c.CloseWith(code, reason)
	}
	if !alreadyClosed {
		r.log.Infow("[TUNNEL] upstream closed", "game_id", t.key.GameID, "side", t.key.Side, "code", code, "clients", len(clients))
	}
}

// Relay forwards a client frame upstream verbatim. Frames are dropped while no upstream is open.
func (t *Tunnel) Relay(msg []byte) bool {
	t.registry.mu.Lock()
	up, closed := t.upstream, t.closed
	t.registry.mu.Unlock()

	if up == nil || closed {
		metrics.DroppedFrames.WithLabelValues("no_upstream").Inc()
		return false
	}
	return up.Send(msg)
}

// Leave removes client. The last client out closes the upstream and removes the tunnel.
func (t *Tunnel) Leave(client *socket.Socket) {
	r := t.registry
	r.mu.Lock()
	delete(t.clients, client.ID)
	if len(t.clients) > 0 || t.closed {
		r.mu.Unlock()
		return
	}
	t.closed = true
	r.removeLocked(t)
	up := t.upstream
	r.mu.Unlock()

	if up != nil {
		up.Close()
	}
	r.log.Infow("[TUNNEL] closed by last client", "game_id", t.key.GameID, "side", t.key.Side)
}

// Clients reports how many client sockets share the tunnel.
func (t *Tunnel) Clients() int {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return len(t.clients)
}

// Len reports the number of open tunnels.
func (r *TunnelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

func (r *TunnelRegistry) removeLocked(t *Tunnel) {
	if r.tunnels[t.key] == t {
		delete(r.tunnels, t.key)
		metrics.ActiveTunnels.Dec()
	}
}
