// services/auth_service_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pong-tournament/apperrors"
	"pong-tournament/utils"
)

// AuthServiceClient verifies client tokens against the external auth service.
type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type validateResponse struct {
	UserID   string `json:"user_id"`
	Alias    string `json:"alias"`
	Username string `json:"username"`
}

func NewAuthServiceClient(baseURL, token string) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

// Verify calls /auth/validate on the auth service.
func (c *AuthServiceClient) Verify(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "missing token")
	}

	jsonData, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode validate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/validate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "build validate request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "auth service unreachable", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.New(apperrors.CodeAuth, "invalid token")
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.New(apperrors.CodeUpstreamUnavailable, fmt.Sprintf("auth validation failed: %d", resp.StatusCode))
	}

	var out validateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "decode validate response", err)
	}
	alias := out.Alias
	if alias == "" {
		alias = out.Username
	}
	if out.UserID == "" || alias == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "token carries no identity")
	}
	return &Principal{UserID: out.UserID, Alias: alias}, nil
}
