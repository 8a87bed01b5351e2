package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pong-tournament/engine"
	"pong-tournament/gateway"
	"pong-tournament/middleware"
	"pong-tournament/models"
	"pong-tournament/services"
)

const (
	testSecret = "jwt-secret"
	testToken  = "svc"
)

type stack struct {
	addr    string
	bracket *services.BracketService
	lobby   *services.LobbyService
}

// newStack runs the gateway, lobby and bracket on a real listener, backed by an in-process engine.
func newStack(t *testing.T) *stack {
	t.Helper()
	log := zap.NewNop().Sugar()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	cfg := engine.DefaultConfig()
	cfg.WinScore = 1
	cfg.BallSpeed = 25
	cfg.PaddleHeight = 10
	cfg.TickRate = 500
	cfg.ServePause = 5 * time.Millisecond
	eng := engine.NewServer(cfg, testToken, engine.NewHTTPReporter("http://"+addr, testToken), 64, log)
	engineTS := httptest.NewServer(eng.Router())
	t.Cleanup(engineTS.Close)

	bracket := services.NewBracketService(db, rand.New(rand.NewPCG(1, 2)), log)
	sessions := gateway.NewSessionRegistry()
	lobby := services.NewLobbyService(sessions, bracket, log)
	dialer := &gateway.EngineDialer{URL: "ws" + strings.TrimPrefix(engineTS.URL, "http") + "/game", Token: testToken}
	gw := gateway.New(sessions, gateway.NewTunnelRegistry(dialer, 32, log), lobby, bracket, 32, log)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(log), DisableStartupMessage: true})
	SetupMatchRoutes(app, services.NewMatchHandler(bracket, lobby, nil, nil, log), testToken, log)
	SetupGatewayRoutes(app, gw, lobby, services.NewJWTVerifier(testSecret, ""), testToken, log)

	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return &stack{addr: addr, bracket: bracket, lobby: lobby}
}

func playerToken(t *testing.T, userID, alias string) string {
	t.Helper()
	tok, err := services.SignPlayerToken(testSecret, "", userID, alias, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (s *stack) dial(t *testing.T, path string, query url.Values) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: s.addr, Path: path, RawQuery: query.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of the given type arrives and returns it decoded.
func readUntil(t *testing.T, conn *websocket.Conn, kind string, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", kind, err)
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("decode %s: %v", msg, err)
		}
		if frame["type"] == kind && (match == nil || match(frame)) {
			return frame
		}
	}
}

func TestRemoteTournamentEndToEnd(t *testing.T) {
	s := newStack(t)

	aliceTok := playerToken(t, "u-alice", "alice")
	bobTok := playerToken(t, "u-bob", "bob")
	alice := s.dial(t, "/ws/lobby", url.Values{"token": {aliceTok}})
	bob := s.dial(t, "/ws/lobby", url.Values{"token": {bobTok}})

	send(t, alice, map[string]string{"type": "join_match", "name": "cup", "match_type": "remote"})
	readUntil(t, alice, services.EventPlayerJoined, nil)
	send(t, bob, map[string]string{"type": "join_match", "name": "cup", "match_type": "REMOTE"})
	readUntil(t, alice, services.EventPlayerJoined, func(f map[string]interface{}) bool { return f["alias"] == "bob" })

	req, _ := http.NewRequest(http.MethodGet, "http://"+s.addr+"/lobby/cup", nil)
	req.Header.Set(middleware.ServiceTokenHeader, testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("lobby lookup: %v", err)
	}
	var room services.LobbyRoom
	_ = json.NewDecoder(resp.Body).Decode(&room)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(room.Members) != 2 {
		t.Fatalf("expected a two-player room, got %d %+v", resp.StatusCode, room)
	}

	send(t, alice, map[string]string{"type": "start_match", "name": "cup"})
	readUntil(t, bob, services.EventStartMatch, nil)

	conns := map[string]*websocket.Conn{}
	for alias, c := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		ready := readUntil(t, c, services.EventGameReady, nil)
		tok := aliceTok
		if alias == "bob" {
			tok = bobTok
		}
		q := url.Values{
			"token":  {tok},
			"gameId": {fmt.Sprint(ready["gameId"])},
			"side":   {ready["side"].(string)},
		}
		conns[alias] = s.dial(t, "/ws/game", q)
	}

	win := readUntil(t, conns["alice"], "win", nil)
	data := win["data"].(map[string]interface{})
	winner := data["winner"].(map[string]interface{})["alias"].(string)
	if winner != "alice" && winner != "bob" {
		t.Fatalf("unexpected winner %v", winner)
	}

	// The engine reports the result, the bracket closes and both lobbies hear about it.
	for _, c := range []*websocket.Conn{alice, bob} {
		end := readUntil(t, c, services.EventEndMatch, nil)
		if end["winner"] != winner || end["matchName"] != "cup" {
			t.Fatalf("unexpected end_match %v", end)
		}
	}
	if _, ok := s.lobby.Room("cup"); ok {
		t.Fatalf("the lobby room should be gone once the match ends")
	}
}

func TestSocketsRejectBadTokens(t *testing.T) {
	s := newStack(t)

	for _, path := range []string{"/ws/lobby", "/ws/game"} {
		conn := s.dial(t, path, url.Values{"token": {"garbage"}})
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("%s: expected 1008, got %v", path, err)
		}
	}

	resp, err := http.Get("http://" + s.addr + "/lobby/cup")
	if err != nil {
		t.Fatalf("lobby lookup: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("lobby lookup without service token should be 401, got %d", resp.StatusCode)
	}
}

func TestGameSocketRejectsStrangers(t *testing.T) {
	s := newStack(t)

	_, games, err := s.bracket.CreateMatch(t.Context(), "duel", models.MatchTypeRemote, []models.PlayerRef{
		{ID: "u-a", Alias: "ann"}, {ID: "u-b", Alias: "ben"},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	g := games[0]
	// ann may only drive her own side.
	side := "right"
	if g.RightAlias == "ann" {
		side = "left"
	}
	conn := s.dial(t, "/ws/game", url.Values{
		"token":  {playerToken(t, "u-a", "ann")},
		"gameId": {fmt.Sprint(g.ID)},
		"side":   {side},
	})
	readUntil(t, conn, services.EventError, nil)
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected 1008, got %v", err)
	}
}
