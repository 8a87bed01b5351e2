package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pong-tournament/models"
	"pong-tournament/utils"
)

// Result is the outcome of a finished game.
type Result struct {
	MatchID uint             `json:"matchId"`
	GameID  uint             `json:"gameId"`
	Winner  models.PlayerRef `json:"winner"`
	Loser   models.PlayerRef `json:"loser"`
}

// ResultReporter records finished games with the bracket engine.
type ResultReporter interface {
	Report(ctx context.Context, res Result) error
}

// HTTPReporter posts results to the bracket REST API with the shared service token.
type HTTPReporter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPReporter(baseURL, token string) *HTTPReporter {
	return &HTTPReporter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

func (r *HTTPReporter) Report(ctx context.Context, res Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/match/result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.Token)

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("report result: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
