package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"pong-tournament/apperrors"
	"pong-tournament/models"
)

// BracketService owns match, player and game rows and the single-elimination pairing logic.
// Every mutation runs in one transaction while holding mu, so a round is never observed half-built.
type BracketService struct {
	DB *gorm.DB

	mu  sync.Mutex
	rng *rand.Rand
	log *zap.SugaredLogger
}

// Advance describes what happened to a match after its latest result.
type Advance struct {
	Match    *models.Match
	Games    []models.Game  // next round, when one was created
	Champion *models.Player // set once a single player remains
	Pending  bool           // the current round still has unfinished games
}

// NewBracketService builds the engine. rng drives pairing shuffles; pass a seeded source in tests.
func NewBracketService(db *gorm.DB, rng *rand.Rand, logger *zap.SugaredLogger) *BracketService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BracketService{
		DB:  db,
		rng: rng,
		log: logger,
	}
}

// CreateMatch inserts the match and its entrants, then pairs round 1.
func (s *BracketService) CreateMatch(ctx context.Context, name string, matchType models.MatchType, entrants []models.PlayerRef) (*models.Match, []models.Game, error) {
	name = strings.TrimSpace(name)
	if !matchType.Valid() {
		return nil, nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown match type %q", matchType))
	}
	if len(entrants) < 2 {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "a match needs at least two players")
	}

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(entrants))
	userIDs := make([]string, 0, len(entrants))
	for i := range entrants {
		entrants[i].Alias = strings.TrimSpace(entrants[i].Alias)
		if entrants[i].Alias == "" {
			return nil, nil, apperrors.New(apperrors.CodeValidation, "player alias is required")
		}
		key := fold.String(entrants[i].Alias)
		if _, dup := seen[key]; dup {
			return nil, nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("alias %q is used twice", entrants[i].Alias))
		}
		seen[key] = struct{}{}
		if entrants[i].ID != "" {
			userIDs = append(userIDs, entrants[i].ID)
		}
	}
	if name == "" {
		name = fmt.Sprintf("%s vs %s", entrants[0].Alias, entrants[1].Alias)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		match models.Match
		games []models.Game
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(userIDs) > 0 {
			var busy int64
			if err := tx.Model(&models.Player{}).
				Joins("JOIN matches ON matches.id = players.match_id").
				Where("players.user_id IN ? AND matches.status <> ?", userIDs, models.MatchStatusClosed).
				Count(&busy).Error; err != nil {
				return err
			}
			if busy > 0 {
				return apperrors.New(apperrors.CodeStateConflict, "a player is already enrolled in another active match")
			}
		}

		match = models.Match{Name: name, Type: matchType, Status: models.MatchStatusOpen}
		if entrants[0].ID != "" {
			owner := entrants[0].ID
			match.Owner = &owner
		}
		if err := tx.Create(&match).Error; err != nil {
			return err
		}

		players := make([]models.Player, len(entrants))
		for i, e := range entrants {
			players[i] = models.Player{Alias: e.Alias, MatchID: match.ID, Status: models.PlayerStatusNotPlayed}
			if e.ID != "" {
				id := e.ID
				players[i].UserID = &id
			}
		}
		if err := tx.Create(&players).Error; err != nil {
			return err
		}

		var err error
		games, err = s.createRoundTx(tx, &match)
		if err != nil {
			return err
		}

		match.Status = models.MatchStatusInProgress
		return tx.Model(&match).Update("status", match.Status).Error
	})
	if err != nil {
		return nil, nil, wrapStoreErr("create match", err)
	}

	s.log.Infow("[BRACKET] match created", "match_id", match.ID, "name", match.Name, "players", len(entrants), "games", len(games))
	return &match, games, nil
}

// CreateRound pairs the players eligible for the next round of matchID.
func (s *BracketService) CreateRound(ctx context.Context, matchID uint) ([]models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var games []models.Game
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		if match.Status == models.MatchStatusClosed {
			return apperrors.New(apperrors.CodeStateConflict, "match is closed")
		}
		pending, err := countPending(tx, match)
		if err != nil {
			return err
		}
		if pending > 0 {
			return apperrors.New(apperrors.CodeStateConflict, "current round still has unfinished games")
		}
		games, err = s.createRoundTx(tx, match)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("create round", err)
	}
	return games, nil
}

// createRoundTx shuffles the eligible pool, writes one game per pair and gives an odd player out a bye.
// Pairings are re-drawn from the whole pool every round rather than following a fixed bracket tree.
func (s *BracketService) createRoundTx(tx *gorm.DB, match *models.Match) ([]models.Game, error) {
	eligibleStatus := models.PlayerStatusWon
	if match.Round == 0 {
		eligibleStatus = models.PlayerStatusNotPlayed
	}

	var eligible []models.Player
	if err := tx.Where("match_id = ? AND status = ?", match.ID, eligibleStatus).
		Order("id ASC").
		Find(&eligible).Error; err != nil {
		return nil, err
	}
	if len(eligible) < 2 {
		return nil, apperrors.New(apperrors.CodeStateConflict, fmt.Sprintf("round needs at least two players, have %d", len(eligible)))
	}

	shuffle(s.rng, eligible)
	round := match.Round + 1

	games := make([]models.Game, 0, len(eligible)/2)
	paired := make([]uint, 0, len(eligible))
	for i := 0; i+1 < len(eligible); i += 2 {
		left, right := eligible[i], eligible[i+1]
		games = append(games, models.Game{
			MatchID:       match.ID,
			Round:         round,
			Type:          match.Type,
			Status:        models.GameStatusPending,
			LeftPlayerID:  left.ID,
			LeftAlias:     left.Alias,
			RightPlayerID: right.ID,
			RightAlias:    right.Alias,
		})
		paired = append(paired, left.ID, right.ID)
	}

	if err := tx.Model(&models.Player{}).Where("id IN ?", paired).
		Update("status", models.PlayerStatusNotPlayed).Error; err != nil {
		return nil, err
	}
	if len(eligible)%2 == 1 {
		bye := eligible[len(eligible)-1]
		if err := tx.Model(&models.Player{}).Where("id = ?", bye.ID).
			Update("status", models.PlayerStatusWon).Error; err != nil {
			return nil, err
		}
		s.log.Infow("[BRACKET] bye granted", "match_id", match.ID, "round", round, "alias", bye.Alias)
	}

	if err := tx.Create(&games).Error; err != nil {
		return nil, err
	}
	match.Round = round
	if err := tx.Model(match).Update("round", round).Error; err != nil {
		return nil, err
	}
	return games, nil
}

// shuffle is an in-place Fisher–Yates permutation.
func shuffle(rng *rand.Rand, players []models.Player) {
	for i := len(players) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		players[i], players[j] = players[j], players[i]
	}
}

// RecordResult finishes a game and marks its two players WON and LOST.
func (s *BracketService) RecordResult(ctx context.Context, gameID uint, winnerAlias, loserAlias string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var game models.Game
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			return err
		}
		return recordResultTx(tx, &game, winnerAlias, loserAlias)
	})
	if err != nil {
		return nil, wrapStoreErr("record result", err)
	}
	return &game, nil
}

func recordResultTx(tx *gorm.DB, game *models.Game, winnerAlias, loserAlias string) error {
	if game.Finished() {
		return apperrors.New(apperrors.CodeStateConflict, fmt.Sprintf("game %d already has a result", game.ID))
	}
	if winnerAlias == loserAlias || !game.Has(winnerAlias) || !game.Has(loserAlias) {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("%q and %q are not the players of game %d", winnerAlias, loserAlias, game.ID))
	}

	game.Status = models.GameStatusFinished
	game.Winner = winnerAlias
	game.Loser = loserAlias
	if err := tx.Model(game).Updates(map[string]interface{}{
		"status": game.Status,
		"winner": game.Winner,
		"loser":  game.Loser,
	}).Error; err != nil {
		return err
	}

	if err := tx.Model(&models.Player{}).
		Where("match_id = ? AND alias = ?", game.MatchID, winnerAlias).
		Update("status", models.PlayerStatusWon).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Player{}).
		Where("match_id = ? AND alias = ?", game.MatchID, loserAlias).
		Update("status", models.PlayerStatusLost).Error; err != nil {
		return err
	}
	return tx.Model(&models.Match{}).Where("id = ?", game.MatchID).Update("updated_at", time.Now()).Error
}

// GetNextPlayers returns who plays next. A single remaining player is the champion and closes the match.
func (s *BracketService) GetNextPlayers(ctx context.Context, matchID uint) ([]models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var players []models.Player
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		players, _, err = nextPlayersTx(tx, match)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("next players", err)
	}
	return players, nil
}

func nextPlayersTx(tx *gorm.DB, match *models.Match) ([]models.Player, bool, error) {
	pending, err := countPending(tx, match)
	if err != nil {
		return nil, false, err
	}

	status := models.PlayerStatusWon
	if match.Round == 0 || pending > 0 {
		status = models.PlayerStatusNotPlayed
	}

	var players []models.Player
	if err := tx.Where("match_id = ? AND status = ?", match.ID, status).
		Order("id ASC").
		Find(&players).Error; err != nil {
		return nil, false, err
	}

	if pending == 0 && match.Round > 0 && len(players) == 1 && match.Status != models.MatchStatusClosed {
		match.Status = models.MatchStatusClosed
		if err := tx.Model(match).Update("status", match.Status).Error; err != nil {
			return nil, false, err
		}
	}
	return players, pending > 0, nil
}

// Advance closes the match or pairs the next round once every game of the current round is finished.
func (s *BracketService) Advance(ctx context.Context, matchID uint) (*Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var adv *Advance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		adv, err = s.advanceTx(tx, match)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("advance", err)
	}
	return adv, nil
}

// ReportResult records a result and advances the bracket in one step.
// A zero gameID is resolved to the unfinished game of the current round that holds both aliases.
func (s *BracketService) ReportResult(ctx context.Context, matchID, gameID uint, winnerAlias, loserAlias string) (*Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var adv *Advance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var game models.Game
		query := tx.Where("id = ?", gameID)
		if gameID == 0 {
			query = tx.Where("match_id = ? AND status <> ? AND ((left_alias = ? AND right_alias = ?) OR (left_alias = ? AND right_alias = ?))",
				matchID, models.GameStatusFinished, winnerAlias, loserAlias, loserAlias, winnerAlias).
				Order("round DESC")
		}
		if err := query.First(&game).Error; err != nil {
			return err
		}
		if matchID != 0 && game.MatchID != matchID {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("game %d does not belong to match %d", game.ID, matchID))
		}
		if err := recordResultTx(tx, &game, winnerAlias, loserAlias); err != nil {
			return err
		}

		match, err := loadMatch(tx, game.MatchID)
		if err != nil {
			return err
		}
		adv, err = s.advanceTx(tx, match)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("report result", err)
	}

	switch {
	case adv.Champion != nil:
		s.log.Infow("[BRACKET] match closed", "match_id", adv.Match.ID, "champion", adv.Champion.Alias)
	case len(adv.Games) > 0:
		s.log.Infow("[BRACKET] round created", "match_id", adv.Match.ID, "round", adv.Match.Round, "games", len(adv.Games))
	}
	return adv, nil
}

func (s *BracketService) advanceTx(tx *gorm.DB, match *models.Match) (*Advance, error) {
	if match.Status == models.MatchStatusClosed {
		return nil, apperrors.New(apperrors.CodeStateConflict, "match is closed")
	}
	players, pending, err := nextPlayersTx(tx, match)
	if err != nil {
		return nil, err
	}

	adv := &Advance{Match: match, Pending: pending}
	switch {
	case pending:
	case len(players) == 1:
		adv.Champion = &players[0]
	case len(players) == 0:
		return nil, apperrors.New(apperrors.CodeInternal, fmt.Sprintf("match %d has no remaining players", match.ID))
	default:
		adv.Games, err = s.createRoundTx(tx, match)
		if err != nil {
			return nil, err
		}
	}
	return adv, nil
}

// MarkGameStarted moves a pending game to IN_PROGRESS. It is a no-op for games already started.
func (s *BracketService) MarkGameStarted(ctx context.Context, gameID uint) error {
	err := s.DB.WithContext(ctx).Model(&models.Game{}).
		Where("id = ? AND status = ?", gameID, models.GameStatusPending).
		Update("status", models.GameStatusInProgress).Error
	return wrapStoreErr("start game", err)
}

func (s *BracketService) GetMatch(ctx context.Context, matchID uint) (*models.Match, error) {
	match, err := loadMatch(s.DB.WithContext(ctx), matchID)
	if err != nil {
		return nil, wrapStoreErr("get match", err)
	}
	return match, nil
}

func (s *BracketService) GetMatchPlayers(ctx context.Context, matchID uint) ([]models.Player, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	var players []models.Player
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Order("id ASC").Find(&players).Error; err != nil {
		return nil, wrapStoreErr("get players", err)
	}
	return players, nil
}

func (s *BracketService) GetMatchGames(ctx context.Context, matchID uint) ([]models.Game, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	var games []models.Game
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Order("round ASC, id ASC").Find(&games).Error; err != nil {
		return nil, wrapStoreErr("get games", err)
	}
	return games, nil
}

func (s *BracketService) GetGame(ctx context.Context, gameID uint) (*models.Game, error) {
	var game models.Game
	if err := s.DB.WithContext(ctx).First(&game, "id = ?", gameID).Error; err != nil {
		return nil, wrapStoreErr("get game", err)
	}
	return &game, nil
}

// Bracket loads a match with all of its players and games, ordered for display.
func (s *BracketService) Bracket(ctx context.Context, matchID uint) (*models.Match, error) {
	var match models.Match
	err := s.DB.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("Games", func(db *gorm.DB) *gorm.DB {
			return db.Order("round ASC, id ASC")
		}).
		First(&match, "id = ?", matchID).Error
	if err != nil {
		return nil, wrapStoreErr("load bracket", err)
	}
	return &match, nil
}

// ReapStaleMatches closes in-progress matches without activity since cutoff and returns them.
func (s *BracketService) ReapStaleMatches(ctx context.Context, cutoff time.Time) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND updated_at < ?", models.MatchStatusInProgress, cutoff).
			Order("id").Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]uint, len(stale))
		for i := range stale {
			ids[i] = stale[i].ID
			stale[i].Status = models.MatchStatusClosed
		}
		return tx.Model(&models.Match{}).Where("id IN ?", ids).
			Update("status", models.MatchStatusClosed).Error
	})
	if err != nil {
		return nil, wrapStoreErr("reap matches", err)
	}
	return stale, nil
}

func loadMatch(tx *gorm.DB, matchID uint) (*models.Match, error) {
	var match models.Match
	if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

func countPending(tx *gorm.DB, match *models.Match) (int64, error) {
	var pending int64
	err := tx.Model(&models.Game{}).
		Where("match_id = ? AND round = ? AND status <> ?", match.ID, match.Round, models.GameStatusFinished).
		Count(&pending).Error
	return pending, err
}

// wrapStoreErr keeps domain errors as they are and classifies gorm failures.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, op+": not found", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, op+" failed", err)
}
