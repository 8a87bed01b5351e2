package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/models"
)

// MatchNotifier is told about bracket progress so connected players hear about it.
type MatchNotifier interface {
	NotifyNewGames(matchName string, games []models.Game)
	NotifyEndMatch(matchName, winnerAlias string)
}

// BracketArchiver stores the final bracket of a closed match.
type BracketArchiver interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

// ArchiveKeyFunc names the archive object of a match.
type ArchiveKeyFunc func(matchName string, matchID uint) string

// MatchHandler exposes the bracket engine over REST for the physics engine and trusted services.
type MatchHandler struct {
	Bracket    *BracketService
	Notifier   MatchNotifier
	Archive    BracketArchiver
	ArchiveKey ArchiveKeyFunc
	Log        *zap.SugaredLogger
}

// Payload statuses returned by the match endpoints.
const (
	PayloadReady     = "ready"
	PayloadWaiting   = "waiting"
	PayloadConcluded = "concluded"
)

// GamePayload describes one pairing. A concluded match carries MatchID -1 and the champion as LeftPlayer.
type GamePayload struct {
	Type        models.MatchType  `json:"type"`
	Status      string            `json:"status"`
	MatchID     int64             `json:"matchId"`
	GameID      uint              `json:"gameId,omitempty"`
	Round       int               `json:"round,omitempty"`
	LeftPlayer  *models.PlayerRef `json:"leftPlayer,omitempty"`
	RightPlayer *models.PlayerRef `json:"rightPlayer,omitempty"`
}

// ResultResponse is the first payload of the next round plus every game in it.
type ResultResponse struct {
	GamePayload
	Games []GamePayload `json:"games,omitempty"`
}

type newMatchRequest struct {
	Name    string             `json:"name"`
	Type    models.MatchType   `json:"type"`
	Players []models.PlayerRef `json:"players"`
}

type resultRequest struct {
	MatchID int64            `json:"matchId"`
	GameID  uint             `json:"gameId"`
	Winner  models.PlayerRef `json:"winner"`
	Loser   models.PlayerRef `json:"loser"`
}

func NewMatchHandler(bracket *BracketService, notifier MatchNotifier, archive BracketArchiver, archiveKey ArchiveKeyFunc, logger *zap.SugaredLogger) *MatchHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MatchHandler{Bracket: bracket, Notifier: notifier, Archive: archive, ArchiveKey: archiveKey, Log: logger}
}

// CreateMatch handles POST /match/new.
func (h *MatchHandler) CreateMatch(c *fiber.Ctx) error {
	var req newMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	req.Type = models.MatchType(strings.ToUpper(string(req.Type)))

	match, games, err := h.Bracket.CreateMatch(c.UserContext(), req.Name, req.Type, req.Players)
	if err != nil {
		return err
	}
	payloads, err := h.payloads(c.UserContext(), match, games)
	if err != nil {
		return err
	}
	if h.Notifier != nil {
		h.Notifier.NotifyNewGames(match.Name, games)
	}
	return c.Status(fiber.StatusCreated).JSON(ResultResponse{GamePayload: payloads[0], Games: payloads})
}

// RecordResult handles POST /match/result and advances the bracket.
func (h *MatchHandler) RecordResult(c *fiber.Ctx) error {
	var req resultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.MatchID <= 0 || req.Winner.Alias == "" || req.Loser.Alias == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "matchId, winner and loser are required"})
	}

	ctx := c.UserContext()
	adv, err := h.Bracket.ReportResult(ctx, uint(req.MatchID), req.GameID, req.Winner.Alias, req.Loser.Alias)
	if err != nil {
		return err
	}

	switch {
	case adv.Champion != nil:
		if h.Notifier != nil {
			h.Notifier.NotifyEndMatch(adv.Match.Name, adv.Champion.Alias)
		}
		h.archive(ctx, adv.Match.ID)
		champion := adv.Champion.Ref()
		return c.JSON(ResultResponse{GamePayload: GamePayload{
			Type:       adv.Match.Type,
			Status:     PayloadConcluded,
			MatchID:    -1,
			Round:      adv.Match.Round,
			LeftPlayer: &champion,
		}})

	case adv.Pending:
		return c.JSON(ResultResponse{GamePayload: GamePayload{
			Type:    adv.Match.Type,
			Status:  PayloadWaiting,
			MatchID: int64(adv.Match.ID),
			Round:   adv.Match.Round,
		}})
	}

	payloads, err := h.payloads(ctx, adv.Match, adv.Games)
	if err != nil {
		return err
	}
	if h.Notifier != nil {
		h.Notifier.NotifyNewGames(adv.Match.Name, adv.Games)
	}
	return c.JSON(ResultResponse{GamePayload: payloads[0], Games: payloads})
}

// GetMatch handles GET /match/:id.
func (h *MatchHandler) GetMatch(c *fiber.Ctx) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}
	match, err := h.Bracket.GetMatch(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(match)
}

// GetMatchPlayers handles GET /match/:id/players.
func (h *MatchHandler) GetMatchPlayers(c *fiber.Ctx) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}
	players, err := h.Bracket.GetMatchPlayers(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(players)
}

// GetMatchGames handles GET /match/:id/games.
func (h *MatchHandler) GetMatchGames(c *fiber.Ctx) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}
	games, err := h.Bracket.GetMatchGames(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(games)
}

func matchIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.New(apperrors.CodeValidation, "invalid match id")
	}
	return uint(id), nil
}

func (h *MatchHandler) payloads(ctx context.Context, match *models.Match, games []models.Game) ([]GamePayload, error) {
	players, err := h.Bracket.GetMatchPlayers(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	out := make([]GamePayload, 0, len(games))
	for _, g := range games {
		left, right := byID[g.LeftPlayerID].Ref(), byID[g.RightPlayerID].Ref()
		left.Alias, right.Alias = g.LeftAlias, g.RightAlias
		out = append(out, GamePayload{
			Type:        g.Type,
			Status:      PayloadReady,
			MatchID:     int64(match.ID),
			GameID:      g.ID,
			Round:       g.Round,
			LeftPlayer:  &left,
			RightPlayer: &right,
		})
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.CodeInternal, "round produced no games")
	}
	return out, nil
}

// archive uploads the closed bracket. Failures are logged; the match is already closed.
func (h *MatchHandler) archive(ctx context.Context, matchID uint) {
	if h.Archive == nil || h.ArchiveKey == nil {
		return
	}
	match, err := h.Bracket.Bracket(ctx, matchID)
	if err != nil {
		h.Log.Warnw("[ARCHIVE] load bracket failed", "match_id", matchID, "error", err)
		return
	}
	body, err := json.Marshal(match)
	if err != nil {
		h.Log.Warnw("[ARCHIVE] encode bracket failed", "match_id", matchID, "error", err)
		return
	}
	url, err := h.Archive.PutJSON(ctx, h.ArchiveKey(match.Name, match.ID), body)
	if err != nil {
		h.Log.Warnw("[ARCHIVE] upload failed", "match_id", matchID, "error", err)
		return
	}
	h.Log.Infow("[ARCHIVE] bracket stored", "match_id", matchID, "url", url)
}
