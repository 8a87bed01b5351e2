package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"pong-tournament/apperrors"
	"pong-tournament/models"
)

// UserNotifier delivers a frame to every live socket of a user and reports how many received it.
type UserNotifier interface {
	SendToUser(userID string, frame interface{}) int
}

// MatchCreator realizes a started lobby room as a bracket.
type MatchCreator interface {
	CreateMatch(ctx context.Context, name string, matchType models.MatchType, entrants []models.PlayerRef) (*models.Match, []models.Game, error)
}

// LobbyMember is one roster entry. Console rooms hold several aliases for the same user.
type LobbyMember struct {
	UserID string `json:"userId"`
	Alias  string `json:"alias"`
}

// LobbyRoom is a copy of a room's state.
type LobbyRoom struct {
	Name    string           `json:"name"`
	Type    models.MatchType `json:"type"`
	Members []LobbyMember    `json:"members"`
	Started bool             `json:"started"`
}

type lobbyRoom struct {
	name    string
	kind    models.MatchType
	members []LobbyMember
	started bool
}

// LobbyService keeps the in-memory rooms players gather in before a bracket exists.
type LobbyService struct {
	mu       sync.Mutex
	rooms    map[string]*lobbyRoom
	memberOf map[string]string // user id -> room name

	notifier UserNotifier
	bracket  MatchCreator
	fold     cases.Caser
	log      *zap.SugaredLogger
}

func NewLobbyService(notifier UserNotifier, bracket MatchCreator, logger *zap.SugaredLogger) *LobbyService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LobbyService{
		rooms:    make(map[string]*lobbyRoom),
		memberOf: make(map[string]string),
		notifier: notifier,
		bracket:  bracket,
		fold:     cases.Fold(),
		log:      logger,
	}
}

// JoinMatch adds member to the named room, creating it with matchType when missing.
func (l *LobbyService) JoinMatch(name string, matchType models.MatchType, member LobbyMember) error {
	name = strings.TrimSpace(name)
	member.Alias = strings.TrimSpace(member.Alias)
	if name == "" || member.UserID == "" || member.Alias == "" {
		return apperrors.New(apperrors.CodeValidation, "join_match needs a name and an alias")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.memberOf[member.UserID]; ok && current != name {
		return apperrors.New(apperrors.CodeStateConflict, fmt.Sprintf("already enrolled in %q", current))
	}

	room, ok := l.rooms[name]
	if !ok {
		if !matchType.Valid() {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown match type %q", matchType))
		}
		room = &lobbyRoom{name: name, kind: matchType}
		l.rooms[name] = room
		l.log.Infow("[LOBBY] room created", "match", name, "type", matchType)
	}
	if room.kind == models.MatchTypeConsole && len(room.members) > 0 && room.members[0].UserID != member.UserID {
		// Console players share the owner's keyboard and account.
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("console match %q belongs to another player", name))
	}

	rejoin := false
	for _, m := range room.members {
		if l.fold.String(m.Alias) != l.fold.String(member.Alias) {
			continue
		}
		if m.UserID != member.UserID {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("alias %q is taken in %q", member.Alias, name))
		}
		rejoin = true
	}
	if !rejoin && room.kind == models.MatchTypeRemote {
		for _, m := range room.members {
			if m.UserID == member.UserID {
				rejoin = true
			}
		}
	}
	if !rejoin && room.started {
		return apperrors.New(apperrors.CodeStateConflict, fmt.Sprintf("match %q already started", name))
	}

	if !rejoin {
		room.members = append(room.members, member)
		l.memberOf[member.UserID] = name
	}

	for _, m := range room.members {
		l.notifier.SendToUser(member.UserID, PlayerJoinedEvent{Type: EventPlayerJoined, Name: name, Alias: m.Alias, MatchType: room.kind})
	}
	if rejoin {
		return nil
	}

	joined := PlayerJoinedEvent{Type: EventPlayerJoined, Name: name, Alias: member.Alias, MatchType: room.kind}
	for _, userID := range room.userIDs() {
		if userID != member.UserID {
			l.notifier.SendToUser(userID, joined)
		}
	}
	l.log.Infow("[LOBBY] player joined", "match", name, "alias", member.Alias, "players", len(room.members))
	return nil
}

// StartMatch locks the roster, tells every member and creates the bracket.
// Rooms with fewer than two players are left untouched.
func (l *LobbyService) StartMatch(ctx context.Context, name, requesterID string) error {
	l.mu.Lock()
	room, ok := l.rooms[name]
	if !ok {
		l.mu.Unlock()
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no open match %q", name))
	}
	if requesterID != "" && l.memberOf[requesterID] != name {
		l.mu.Unlock()
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("not a member of %q", name))
	}
	if len(room.members) < 2 {
		l.mu.Unlock()
		l.log.Infow("[LOBBY] start ignored, not enough players", "match", name, "players", len(room.members))
		return nil
	}
	if room.started {
		l.mu.Unlock()
		return apperrors.New(apperrors.CodeStateConflict, fmt.Sprintf("match %q already started", name))
	}
	room.started = true

	kind := room.kind
	entrants := make([]models.PlayerRef, len(room.members))
	for i, m := range room.members {
		entrants[i] = models.PlayerRef{ID: m.UserID, Alias: m.Alias}
	}
	if kind == models.MatchTypeConsole {
		// Local guests share the owner's account; only the owner is enrolled as a user.
		for i := 1; i < len(entrants); i++ {
			if entrants[i].ID == entrants[0].ID {
				entrants[i].ID = ""
			}
		}
	}
	users := room.userIDs()
	for _, userID := range users {
		l.notifier.SendToUser(userID, StartMatchEvent{Type: EventStartMatch, Name: name})
	}
	l.mu.Unlock()

	_, games, err := l.bracket.CreateMatch(ctx, name, kind, entrants)
	if err != nil {
		l.mu.Lock()
		if room, ok := l.rooms[name]; ok {
			room.started = false
		}
		l.mu.Unlock()
		for _, userID := range users {
			l.notifier.SendToUser(userID, NewErrorEvent("could not start match: "+apperrors.MessageOf(err)))
		}
		return err
	}

	l.log.Infow("[LOBBY] match started", "match", name, "players", len(entrants), "games", len(games))
	l.NotifyNewGames(name, games)
	return nil
}

// NotifyNewGames pushes game_ready to both players of every game. Players without a live socket miss it.
func (l *LobbyService) NotifyNewGames(matchName string, games []models.Game) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[matchName]
	if !ok {
		l.log.Warnw("[LOBBY] games created for unknown room", "match", matchName, "games", len(games))
		return
	}

	for _, g := range games {
		if room.kind == models.MatchTypeConsole {
			// One keyboard drives both paddles through the owner's left tunnel.
			l.sendGameReady(room, g, room.owner(), g.LeftAlias, SideLeft, g.RightAlias)
			continue
		}
		l.sendGameReady(room, g, room.userFor(g.LeftAlias), g.LeftAlias, SideLeft, g.RightAlias)
		l.sendGameReady(room, g, room.userFor(g.RightAlias), g.RightAlias, SideRight, g.LeftAlias)
	}
}

func (l *LobbyService) sendGameReady(room *lobbyRoom, g models.Game, userID, alias, side, opponent string) {
	event := GameReadyEvent{
		Type:      EventGameReady,
		GameID:    g.ID,
		MatchID:   g.MatchID,
		MatchName: room.name,
		Side:      side,
		Opponent:  opponent,
	}
	if userID == "" || l.notifier.SendToUser(userID, event) == 0 {
		l.log.Warnw("[LOBBY] game_ready not delivered, player offline", "match", room.name, "game_id", g.ID, "alias", alias)
	}
}

// NotifyEndMatch announces the champion and forgets the room.
func (l *LobbyService) NotifyEndMatch(matchName, winnerAlias string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[matchName]
	if !ok {
		l.log.Warnw("[LOBBY] end of unknown room", "match", matchName, "winner", winnerAlias)
		return
	}
	event := EndMatchEvent{Type: EventEndMatch, MatchName: matchName, Winner: winnerAlias}
	for _, userID := range room.userIDs() {
		l.notifier.SendToUser(userID, event)
		if l.memberOf[userID] == matchName {
			delete(l.memberOf, userID)
		}
	}
	delete(l.rooms, matchName)
	l.log.Infow("[LOBBY] match ended", "match", matchName, "winner", winnerAlias)
}

// ExpireMatch forgets a room whose bracket was closed without a champion and frees its members.
func (l *LobbyService) ExpireMatch(matchName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[matchName]
	if !ok {
		return
	}
	event := NewErrorEvent(fmt.Sprintf("match %q expired", matchName))
	for _, userID := range room.userIDs() {
		l.notifier.SendToUser(userID, event)
		if l.memberOf[userID] == matchName {
			delete(l.memberOf, userID)
		}
	}
	delete(l.rooms, matchName)
	l.log.Infow("[LOBBY] match expired", "match", matchName, "players", len(room.members))
}

// Disconnect drops a user whose last socket closed from the room they were waiting in.
// Started rooms keep their roster so results still reach the remaining players.
func (l *LobbyService) Disconnect(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, ok := l.memberOf[userID]
	if !ok {
		return
	}
	room, ok := l.rooms[name]
	if !ok {
		delete(l.memberOf, userID)
		return
	}
	if room.started {
		return
	}

	kept := room.members[:0]
	for _, m := range room.members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	room.members = kept
	delete(l.memberOf, userID)
	l.log.Infow("[LOBBY] player left", "match", name, "user_id", userID, "players", len(room.members))

	if len(room.members) == 0 && room.kind == models.MatchTypeConsole {
		delete(l.rooms, name)
		l.log.Infow("[LOBBY] empty console room removed", "match", name)
	}
}

// Room returns a copy of the named room.
func (l *LobbyService) Room(name string) (LobbyRoom, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[name]
	if !ok {
		return LobbyRoom{}, false
	}
	return LobbyRoom{
		Name:    room.name,
		Type:    room.kind,
		Members: append([]LobbyMember(nil), room.members...),
		Started: room.started,
	}, true
}

// userIDs lists distinct users in roster order.
func (r *lobbyRoom) userIDs() []string {
	seen := make(map[string]struct{}, len(r.members))
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m.UserID)
	}
	return out
}

// owner is the user who opened the room.
func (r *lobbyRoom) owner() string {
	if len(r.members) == 0 {
		return ""
	}
	return r.members[0].UserID
}

func (r *lobbyRoom) userFor(alias string) string {
	for _, m := range r.members {
		if m.Alias == alias {
			return m.UserID
		}
	}
	return ""
}
