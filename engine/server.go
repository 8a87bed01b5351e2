package engine

import (
	"crypto/subtle"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pong-tournament/metrics"
	"pong-tournament/models"
	"pong-tournament/socket"
)

// ServiceTokenHeader carries the shared secret on tunnel connections.
const ServiceTokenHeader = "X-Service-Token"

// Server accepts tunnel connections from the gateway and owns the rooms.
type Server struct {
	cfg        Config
	token      string
	reporter   ResultReporter
	sendBuffer int
	log        *zap.SugaredLogger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	rooms map[uint]*Room
}

func NewServer(cfg Config, token string, reporter ResultReporter, sendBuffer int, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:        cfg,
		token:      token,
		reporter:   reporter,
		sendBuffer: sendBuffer,
		log:        logger,
		// Only the gateway connects here, authenticated by the service token.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		rooms:    make(map[uint]*Room),
	}
}

// Router serves /game, /healthz and /metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/game", s.handleGame).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Shutdown closes every room.
func (s *Server) Shutdown() {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	for _, room := range rooms {
		room.Shutdown()
	}
}

// Rooms reports the number of live rooms.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "rooms": s.Rooms()})
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get(ServiceTokenHeader)
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.log.Warnw("🚫 [ENGINE] rejected tunnel without service token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	params, side, problem := parseTunnelQuery(r)
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("[ENGINE] upgrade failed", "error", err)
		return
	}
	sock := socket.New(conn, s.sendBuffer)

	room := s.room(params)
	if !room.Attach(side, sock) {
		// The room closed between lookup and attach; start over with a fresh one.
		room = s.room(params)
		if !room.Attach(side, sock) {
			sock.CloseWith(websocket.CloseTryAgainLater, "room unavailable")
			return
		}
	}

	_ = sock.ReadLoop(func(msg []byte) {
		room.HandleFrame(side, msg)
	})
	room.Detach(side, sock)
}

// room returns the live room of a game, creating it from params when missing.
func (s *Server) room(params RoomParams) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[params.GameID]; ok {
		return room
	}
	room := NewRoom(params, s.cfg, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), s.reporter, s.log, s.removeRoom)
	s.rooms[params.GameID] = room
	metrics.ActiveRooms.Inc()
	return room
}

func (s *Server) removeRoom(room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room.GameID] == room {
		delete(s.rooms, room.GameID)
		metrics.ActiveRooms.Dec()
	}
}

// parseTunnelQuery reads gameId, side, alias, opponent, matchId and type from the tunnel URL.
func parseTunnelQuery(r *http.Request) (RoomParams, Side, string) {
	q := r.URL.Query()

	gameID, err := strconv.ParseUint(q.Get("gameId"), 10, 64)
	if err != nil || gameID == 0 {
		return RoomParams{}, "", "invalid gameId"
	}
	side := Side(q.Get("side"))
	if !side.Valid() {
		return RoomParams{}, "", "side must be left or right"
	}
	alias := strings.TrimSpace(q.Get("alias"))
	opponent := strings.TrimSpace(q.Get("opponent"))
	if alias == "" || opponent == "" {
		return RoomParams{}, "", "alias and opponent are required"
	}
	matchID, _ := strconv.ParseUint(q.Get("matchId"), 10, 64)

	kind := models.MatchType(strings.ToUpper(q.Get("type")))
	if kind == "" {
		kind = models.MatchTypeRemote
	}
	if !kind.Valid() {
		return RoomParams{}, "", "unknown match type"
	}

	params := RoomParams{MatchID: uint(matchID), GameID: uint(gameID), Kind: kind}
	self, other := models.PlayerRef{Alias: alias}, models.PlayerRef{Alias: opponent}
	if side == SideLeft {
		params.Left, params.Right = self, other
	} else {
		params.Left, params.Right = other, self
	}
	return params, side, ""
}
