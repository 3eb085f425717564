package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
)

// AuthService resolves a bearer token to the user behind it. Authorization
// (admin or not) stays a separate question so the middleware can log the two
// failures distinctly.
type AuthService interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
	IsAdminUser(u *model.User) bool
}

type authService struct {
	users  storage.UserStorage
	secret string
	logger *slog.Logger
}

func NewAuthService(users storage.UserStorage, secret string, logger *slog.Logger) AuthService {
	l := logger.With("layer", "service", "component", "authService")
	return &authService{users: users, secret: secret, logger: l}
}

func (s *authService) CurrentUser(ctx context.Context, tokenStr string) (*model.User, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, appErr.NewForbidden("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, appErr.NewForbidden("invalid token")
	}
	userID, err := subjectID(claims)
	if err != nil {
		return nil, appErr.NewForbidden("invalid token")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Token subject not found", slog.Int64("user_id", userID))
		return nil, appErr.NewForbidden("unknown user")
	}
	return user, nil
}

func (s *authService) IsAdminUser(u *model.User) bool {
	return u != nil && u.IsAdmin && u.Active()
}

// subjectID reads the sub claim. Depending on the issuer it arrives as a
// string or a JSON number.
func subjectID(claims jwt.MapClaims) (int64, error) {
	switch sub := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return 0, jwt.ErrTokenInvalidSubject
		}
		return id, nil
	case float64:
		return int64(sub), nil
	default:
		return 0, jwt.ErrTokenInvalidSubject
	}
}
