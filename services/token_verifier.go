package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"pong-tournament/apperrors"
)

// Principal is the authenticated identity behind a client socket.
type Principal struct {
	UserID string `json:"userId"`
	Alias  string `json:"alias"`
}

// TokenVerifier turns a signed client token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// PlayerClaims are the claims issued by the auth service. The subject is the user id.
type PlayerClaims struct {
	Alias    string `json:"alias,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens locally with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "missing token")
	}

	claims := &PlayerClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, apperrors.Wrap(apperrors.CodeAuth, msg, err)
	}

	alias := claims.Alias
	if alias == "" {
		alias = claims.Username
	}
	if claims.Subject == "" || alias == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "token carries no identity")
	}
	return &Principal{UserID: claims.Subject, Alias: alias}, nil
}

// SignPlayerToken issues a token JWTVerifier accepts. Used by tests and local tooling.
func SignPlayerToken(secret, issuer, userID, alias string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	if issuer != "" {
		claims.Issuer = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, PlayerClaims{Alias: alias, RegisteredClaims: claims}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
