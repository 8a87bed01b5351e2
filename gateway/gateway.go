package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/metrics"
	"pong-tournament/middleware"
	"pong-tournament/models"
	"pong-tournament/services"
	"pong-tournament/socket"
)

const dialTimeout = 10 * time.Second

// Inbound lobby frame types.
const (
	frameJoinMatch  = "join_match"
	frameStartMatch = "start_match"
)

// Lobby is the part of the match lobby the gateway drives.
type Lobby interface {
	JoinMatch(name string, matchType models.MatchType, member services.LobbyMember) error
	StartMatch(ctx context.Context, name, requesterID string) error
	Disconnect(userID string)
}

// GameDirectory resolves games for the tunnel endpoint.
type GameDirectory interface {
	GetGame(ctx context.Context, gameID uint) (*models.Game, error)
	GetMatch(ctx context.Context, matchID uint) (*models.Match, error)
	MarkGameStarted(ctx context.Context, gameID uint) error
}

// Gateway serves the lobby and game sockets.
type Gateway struct {
	Sessions *SessionRegistry
	Tunnels  *TunnelRegistry
	Lobby    Lobby
	Games    GameDirectory

	buffer int
	log    *zap.SugaredLogger
}

func New(sessions *SessionRegistry, tunnels *TunnelRegistry, lobby Lobby, games GameDirectory, buffer int, logger *zap.SugaredLogger) *Gateway {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gateway{
		Sessions: sessions,
		Tunnels:  tunnels,
		Lobby:    lobby,
		Games:    games,
		buffer:   buffer,
		log:      logger,
	}
}

// lobbyFrame is any frame a client sends on the lobby socket.
type lobbyFrame struct {
	Type      string           `json:"type"`
	Name      string           `json:"name"`
	MatchType models.MatchType `json:"match_type"`
	Alias     string           `json:"alias"` // console guests; defaults to the account alias
}

// admit returns the principal stored by SocketAuthMiddleware, or closes the socket with 1008.
func (g *Gateway) admit(c *fiberws.Conn, sock *socket.Socket) (*services.Principal, bool) {
	if err, ok := c.Locals(middleware.AuthErrorLocalsKey).(error); ok && err != nil {
		sock.CloseWith(websocket.ClosePolicyViolation, "invalid token")
		return nil, false
	}
	p, ok := c.Locals(middleware.PrincipalLocalsKey).(*services.Principal)
	if !ok || p == nil {
		sock.CloseWith(websocket.ClosePolicyViolation, "invalid token")
		return nil, false
	}
	return p, true
}

// ServeLobby runs one lobby socket: registers it for the user and dispatches join/start frames.
func (g *Gateway) ServeLobby(c *fiberws.Conn) {
	sock := socket.New(c, g.buffer)
	defer func() { <-sock.Done() }()

	principal, ok := g.admit(c, sock)
	if !ok {
		return
	}

	metrics.ActiveSockets.WithLabelValues("lobby").Inc()
	defer metrics.ActiveSockets.WithLabelValues("lobby").Dec()

	unregister := g.Sessions.Register(principal.UserID, sock)
	g.log.Infow("[LOBBY_WS] connected", "user_id", principal.UserID, "alias", principal.Alias, "socket_id", sock.ID)

	_ = sock.ReadLoop(func(msg []byte) {
		g.handleLobbyFrame(principal, sock, msg)
	})

	if unregister() == 0 {
		g.Lobby.Disconnect(principal.UserID)
	}
	g.log.Infow("[LOBBY_WS] disconnected", "user_id", principal.UserID, "socket_id", sock.ID)
}

func (g *Gateway) handleLobbyFrame(p *services.Principal, sock *socket.Socket, msg []byte) {
	var frame lobbyFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		sock.SendJSON(services.NewErrorEvent("malformed frame"))
		return
	}

	var err error
	switch frame.Type {
	case frameJoinMatch:
		alias := strings.TrimSpace(frame.Alias)
		if alias == "" {
			alias = p.Alias
		}
		matchType := models.MatchType(strings.ToUpper(string(frame.MatchType)))
		err = g.Lobby.JoinMatch(frame.Name, matchType, services.LobbyMember{UserID: p.UserID, Alias: alias})
	case frameStartMatch:
		err = g.Lobby.StartMatch(context.Background(), frame.Name, p.UserID)
	default:
		sock.SendJSON(services.NewErrorEvent("unknown frame type " + frame.Type))
		return
	}

	switch code := apperrors.CodeOf(err); {
	case err == nil:
	case code == apperrors.CodeStateConflict:
		g.log.Infow("[LOBBY_WS] ignored", "user_id", p.UserID, "frame", frame.Type, "reason", err.Error())
	default:
		g.log.Warnw("[LOBBY_WS] frame failed", "user_id", p.UserID, "frame", frame.Type, "error", err)
		sock.SendJSON(services.NewErrorEvent(apperrors.MessageOf(err)))
	}
}

// ServeGame runs one game socket: joins the (game, side) tunnel and relays client frames upstream.
func (g *Gateway) ServeGame(c *fiberws.Conn) {
	sock := socket.New(c, g.buffer)
	defer func() { <-sock.Done() }()

	principal, ok := g.admit(c, sock)
	if !ok {
		return
	}

	target, err := g.resolveTarget(principal, c.Query("gameId"), c.Query("side"))
	if err != nil {
		g.log.Warnw("[GAME_WS] rejected", "user_id", principal.UserID, "error", err)
		sock.SendJSON(services.NewErrorEvent(apperrors.MessageOf(err)))
		sock.CloseWith(apperrors.CodeOf(err).CloseCode(), apperrors.MessageOf(err))
		return
	}

	metrics.ActiveSockets.WithLabelValues("game").Inc()
	defer metrics.ActiveSockets.WithLabelValues("game").Dec()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	tunnel, err := g.Tunnels.Join(ctx, target, sock)
	cancel()
	if err != nil {
		sock.CloseWith(apperrors.CodeOf(err).CloseCode(), apperrors.MessageOf(err))
		return
	}
	g.log.Infow("[GAME_WS] joined tunnel", "user_id", principal.UserID, "game_id", target.Key.GameID, "side", target.Key.Side, "clients", tunnel.Clients())

	_ = sock.ReadLoop(func(msg []byte) {
		tunnel.Relay(msg)
	})
	tunnel.Leave(sock)
}

// resolveTarget validates the tunnel request against the bracket and marks the game started.
func (g *Gateway) resolveTarget(p *services.Principal, rawGameID, side string) (TunnelTarget, error) {
	gameID, err := strconv.ParseUint(rawGameID, 10, 64)
	if err != nil || gameID == 0 {
		return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "invalid gameId")
	}
	if side != services.SideLeft && side != services.SideRight {
		return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "side must be left or right")
	}

	ctx := context.Background()
	game, err := g.Games.GetGame(ctx, uint(gameID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "unknown game")
		}
		return TunnelTarget{}, err
	}
	if game.Finished() {
		return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "game already finished")
	}

	alias, opponent := game.LeftAlias, game.RightAlias
	if side == services.SideRight {
		alias, opponent = opponent, alias
	}

	if game.Type == models.MatchTypeConsole {
		match, err := g.Games.GetMatch(ctx, game.MatchID)
		if err != nil {
			return TunnelTarget{}, err
		}
		if match.Owner != nil && *match.Owner != p.UserID {
			return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "not your console game")
		}
	} else if !strings.EqualFold(alias, p.Alias) {
		return TunnelTarget{}, apperrors.New(apperrors.CodeValidation, "side belongs to another player")
	}

	if err := g.Games.MarkGameStarted(ctx, game.ID); err != nil {
		g.log.Warnw("[GAME_WS] mark started failed", "game_id", game.ID, "error", err)
	}

	return TunnelTarget{
		Key:      TunnelKey{GameID: game.ID, Side: side},
		MatchID:  game.MatchID,
		Kind:     game.Type,
		Alias:    alias,
		Opponent: opponent,
	}, nil
}
