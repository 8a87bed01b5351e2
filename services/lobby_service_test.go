package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pong-tournament/apperrors"
	"pong-tournament/models"
)

type sentFrame struct {
	userID string
	frame  interface{}
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentFrame
	offline map[string]bool
}

func (n *recordingNotifier) SendToUser(userID string, frame interface{}) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline[userID] {
		return 0
	}
	n.sent = append(n.sent, sentFrame{userID: userID, frame: frame})
	return 1
}

func (n *recordingNotifier) take() []sentFrame {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sent
	n.sent = nil
	return out
}

type fakeCreator struct {
	calls    int
	entrants []models.PlayerRef
	err      error
}

func (f *fakeCreator) CreateMatch(_ context.Context, name string, kind models.MatchType, entrants []models.PlayerRef) (*models.Match, []models.Game, error) {
	f.calls++
	f.entrants = entrants
	if f.err != nil {
		return nil, nil, f.err
	}
	match := &models.Match{ID: 1, Name: name, Type: kind}
	return match, []models.Game{{
		ID: 10, MatchID: 1, Round: 1, Type: kind,
		LeftAlias: entrants[0].Alias, RightAlias: entrants[1].Alias,
	}}, nil
}

func newTestLobby() (*LobbyService, *recordingNotifier, *fakeCreator) {
	n := &recordingNotifier{offline: map[string]bool{}}
	c := &fakeCreator{}
	return NewLobbyService(n, c, nil), n, c
}

func TestJoinMatchSendsRosterThenBroadcast(t *testing.T) {
	lobby, n, _ := newTestLobby()

	if err := lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	first := n.take()
	if len(first) != 1 || first[0].userID != "u1" {
		t.Fatalf("first joiner should only see themself, got %+v", first)
	}

	if err := lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	got := n.take()
	if len(got) != 3 {
		t.Fatalf("expected 2 roster frames and 1 broadcast, got %+v", got)
	}
	for i, alias := range []string{"ann", "bob"} {
		ev := got[i].frame.(PlayerJoinedEvent)
		if got[i].userID != "u2" || ev.Alias != alias || ev.MatchType != models.MatchTypeRemote {
			t.Fatalf("roster frame %d unexpected: %+v", i, got[i])
		}
	}
	if got[2].userID != "u1" || got[2].frame.(PlayerJoinedEvent).Alias != "bob" {
		t.Fatalf("broadcast should announce bob to ann, got %+v", got[2])
	}

	// Rejoining resends the roster but does not duplicate or re-announce.
	if err := lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again := n.take(); len(again) != 2 || again[0].userID != "u2" || again[1].userID != "u2" {
		t.Fatalf("rejoin should only resend the roster, got %+v", again)
	}
	room, _ := lobby.Room("cup")
	if len(room.Members) != 2 {
		t.Fatalf("rejoin duplicated a member: %+v", room.Members)
	}
}

func TestJoinMatchConflicts(t *testing.T) {
	lobby, _, _ := newTestLobby()
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})

	err := lobby.JoinMatch("other", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("expected conflict for second open match, got %v", err)
	}
	if _, ok := lobby.Room("other"); ok {
		t.Fatalf("rejected join must not create a room")
	}

	err = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "ANN"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for taken alias, got %v", err)
	}

	err = lobby.JoinMatch("new", models.MatchType("LAN"), LobbyMember{UserID: "u3", Alias: "cy"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestStartMatchCreatesBracketAndNotifies(t *testing.T) {
	lobby, n, creator := newTestLobby()
	ctx := context.Background()

	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	if err := lobby.StartMatch(ctx, "cup", "u1"); err != nil {
		t.Fatalf("start with one player should be a no-op, got %v", err)
	}
	if creator.calls != 0 {
		t.Fatalf("bracket must not be created with one player")
	}

	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"})
	n.take()

	if err := lobby.StartMatch(ctx, "cup", "u2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if creator.calls != 1 || len(creator.entrants) != 2 {
		t.Fatalf("expected one bracket with two entrants, got %d %+v", creator.calls, creator.entrants)
	}

	var starts int
	ready := map[string]GameReadyEvent{}
	for _, s := range n.take() {
		switch ev := s.frame.(type) {
		case StartMatchEvent:
			starts++
		case GameReadyEvent:
			ready[s.userID] = ev
		}
	}
	if starts != 2 {
		t.Fatalf("expected start_match for both members, got %d", starts)
	}
	if ready["u1"].Side != SideLeft || ready["u1"].Opponent != "bob" || ready["u2"].Side != SideRight || ready["u2"].Opponent != "ann" {
		t.Fatalf("unexpected game_ready frames %+v", ready)
	}

	if err := lobby.StartMatch(ctx, "cup", "u1"); !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("second start should conflict, got %v", err)
	}
	if err := lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u3", Alias: "cy"}); !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("joining a started match should conflict, got %v", err)
	}
}

func TestStartMatchRevertsOnBracketFailure(t *testing.T) {
	lobby, n, creator := newTestLobby()
	creator.err = apperrors.New(apperrors.CodeInternal, "db down")

	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"})
	n.take()

	if err := lobby.StartMatch(context.Background(), "cup", ""); err == nil {
		t.Fatalf("expected bracket error")
	}
	room, _ := lobby.Room("cup")
	if room.Started {
		t.Fatalf("failed start must leave the room open")
	}
	var errorsSent int
	for _, s := range n.take() {
		if _, ok := s.frame.(ErrorEvent); ok {
			errorsSent++
		}
	}
	if errorsSent != 2 {
		t.Fatalf("expected an error frame per member, got %d", errorsSent)
	}
}

func TestConsoleRoomSharesOneUser(t *testing.T) {
	lobby, n, creator := newTestLobby()

	for _, alias := range []string{"p1", "p2", "p3"} {
		if err := lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "host", Alias: alias}); err != nil {
			t.Fatalf("join %s: %v", alias, err)
		}
	}
	n.take()

	if err := lobby.StartMatch(context.Background(), "couch", "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if creator.entrants[0].ID != "host" || creator.entrants[1].ID != "" || creator.entrants[2].ID != "" {
		t.Fatalf("guests must not carry the host account: %+v", creator.entrants)
	}

	var ready []GameReadyEvent
	for _, s := range n.take() {
		if ev, ok := s.frame.(GameReadyEvent); ok {
			ready = append(ready, ev)
		}
	}
	if len(ready) != 1 || ready[0].Side != SideLeft {
		t.Fatalf("console game should announce one left-side tunnel, got %+v", ready)
	}
}

func TestNotifyEndMatchForgetsRoom(t *testing.T) {
	lobby, n, _ := newTestLobby()
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"})
	n.take()

	lobby.NotifyEndMatch("cup", "ann")

	sent := n.take()
	if len(sent) != 2 {
		t.Fatalf("expected end_match to both members, got %+v", sent)
	}
	if ev := sent[0].frame.(EndMatchEvent); ev.Winner != "ann" || ev.MatchName != "cup" {
		t.Fatalf("unexpected end frame %+v", ev)
	}
	if _, ok := lobby.Room("cup"); ok {
		t.Fatalf("room should be deleted")
	}
	if err := lobby.JoinMatch("next", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"}); err != nil {
		t.Fatalf("players should be free after the match ended: %v", err)
	}
}

func TestDisconnectCleansRosters(t *testing.T) {
	lobby, _, _ := newTestLobby()
	_ = lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "host", Alias: "p1"})
	_ = lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "host", Alias: "p2"})
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})

	lobby.Disconnect("host")
	if _, ok := lobby.Room("couch"); ok {
		t.Fatalf("emptied console room should be removed")
	}

	lobby.Disconnect("u1")
	room, ok := lobby.Room("cup")
	if !ok || len(room.Members) != 0 {
		t.Fatalf("remote room should remain with an empty roster, got %+v ok=%v", room, ok)
	}
}

func TestNotifyNewGamesToleratesOfflinePlayers(t *testing.T) {
	lobby, n, _ := newTestLobby()
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"})
	n.take()
	n.offline["u2"] = true

	lobby.NotifyNewGames("cup", []models.Game{{ID: 5, MatchID: 1, LeftAlias: "ann", RightAlias: "bob"}})

	sent := n.take()
	if len(sent) != 1 || sent[0].userID != "u1" {
		t.Fatalf("only the online player should receive game_ready, got %+v", sent)
	}
}

func TestConsoleRoomBelongsToItsOwner(t *testing.T) {
	lobby, n, _ := newTestLobby()
	_ = lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "host", Alias: "p1"})
	_ = lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "host", Alias: "p2"})

	err := lobby.JoinMatch("couch", models.MatchTypeConsole, LobbyMember{UserID: "other", Alias: "z"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("another account must not join a console room, got %v", err)
	}
	room, _ := lobby.Room("couch")
	if len(room.Members) != 2 {
		t.Fatalf("roster should be unchanged, got %+v", room.Members)
	}
	if err := lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "other", Alias: "z"}); err != nil {
		t.Fatalf("the rejected user is not enrolled anywhere: %v", err)
	}
	n.take()

	// Whatever alias lands on the left, the owner drives the game.
	lobby.NotifyNewGames("couch", []models.Game{{ID: 7, MatchID: 2, Type: models.MatchTypeConsole, LeftAlias: "p2", RightAlias: "p1"}})
	sent := n.take()
	if len(sent) != 1 || sent[0].userID != "host" {
		t.Fatalf("console game_ready should go to the owner, got %+v", sent)
	}
	if ev := sent[0].frame.(GameReadyEvent); ev.Side != SideLeft || ev.Opponent != "p1" {
		t.Fatalf("unexpected game_ready %+v", ev)
	}
}

func TestReapedMatchFreesItsPlayers(t *testing.T) {
	ctx := context.Background()
	bracket := newTestBracket(t, 3)
	n := &recordingNotifier{offline: map[string]bool{}}
	lobby := NewLobbyService(n, bracket, nil)

	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u1", Alias: "ann"})
	_ = lobby.JoinMatch("cup", models.MatchTypeRemote, LobbyMember{UserID: "u2", Alias: "bob"})
	if err := lobby.StartMatch(ctx, "cup", "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	stale, err := bracket.ReapStaleMatches(ctx, time.Now().Add(time.Hour))
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected one reaped match, got %d err=%v", len(stale), err)
	}
	n.take()
	for _, m := range stale {
		lobby.ExpireMatch(m.Name)
	}

	expired := 0
	for _, s := range n.take() {
		if ev, ok := s.frame.(ErrorEvent); ok && ev.Error == `match "cup" expired` {
			expired++
		}
	}
	if expired != 2 {
		t.Fatalf("both players should hear the match expired, got %d", expired)
	}
	if _, ok := lobby.Room("cup"); ok {
		t.Fatalf("expired room should be gone")
	}
	for _, m := range []LobbyMember{{UserID: "u1", Alias: "ann"}, {UserID: "u2", Alias: "bob"}} {
		if err := lobby.JoinMatch("cup2", models.MatchTypeRemote, m); err != nil {
			t.Fatalf("%s should be free to join a new match: %v", m.Alias, err)
		}
	}
	if err := lobby.StartMatch(ctx, "cup2", "u1"); err != nil {
		t.Fatalf("players of a reaped match can play again: %v", err)
	}
}
