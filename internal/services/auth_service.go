package services

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	estados_errors "estados/pkg/errors"
)

// AuthService verifies access tokens issued by the external auth service.
type AuthService struct {
	jwtSecret []byte
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{jwtSecret: []byte(secret)}
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, estados_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, estados_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, estados_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, estados_errors.ErrUnauthorized
	}
	return *claims, nil
}

// Authenticate parses a token and returns the viewer it was issued for.
func (s *AuthService) Authenticate(tokenString string) (uuid.UUID, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, estados_errors.ErrUnauthorized
	}
	return userID, nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, estados_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, estados_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, estados_errors.ErrForbidden):
		return 403
	case errors.Is(err, estados_errors.ErrNotFound):
		return 404
	case errors.Is(err, estados_errors.ErrAlreadyExists), errors.Is(err, estados_errors.ErrConflict):
		return 409
	case errors.Is(err, estados_errors.ErrExpired):
		return 410
	case errors.Is(err, estados_errors.ErrRateLimited):
		return 429
	case errors.Is(err, estados_errors.ErrSessionClosed), errors.Is(err, estados_errors.ErrUnavailable):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"
var sessionIDKey ctxKey = "session_id"

func WithUserContext(ctx context.Context, userID uuid.UUID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}
	return ctx
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok
}
