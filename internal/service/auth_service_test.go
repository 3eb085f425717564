package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// Test_authService_CurrentUser tests the CurrentUser method of the
// authService. Table Driven Test Pattern used
func Test_authService_CurrentUser(t *testing.T) {
	mockLogger := slog.Default()
	admin := &model.User{ID: 42, Username: "root", IsAdmin: true, Status: model.UserStatusActive}

	tests := []struct {
		name    string
		users   func() storage.UserStorage
		token   string
		want    *model.User
		wantErr bool
	}{
		{
			name: "numeric subject resolves",
			users: func() storage.UserStorage {
				sut := new(mockUserStorage)
				sut.On("FindByID", mock.Anything, int64(42)).Return(admin, nil)
				return sut
			},
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": 42,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			want: admin,
		},
		{
			name: "string subject resolves",
			users: func() storage.UserStorage {
				sut := new(mockUserStorage)
				sut.On("FindByID", mock.Anything, int64(42)).Return(admin, nil)
				return sut
			},
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "42",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			want: admin,
		},
		{
			name:  "wrong signing secret rejected",
			users: func() storage.UserStorage { return new(mockUserStorage) },
			token: signToken(t, "other-secret", jwt.MapClaims{
				"sub": 42,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name:  "expired token rejected",
			users: func() storage.UserStorage { return new(mockUserStorage) },
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": 42,
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name:  "missing subject rejected",
			users: func() storage.UserStorage { return new(mockUserStorage) },
			token: signToken(t, testSecret, jwt.MapClaims{
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name:    "garbage token rejected",
			users:   func() storage.UserStorage { return new(mockUserStorage) },
			token:   "not-a-jwt",
			wantErr: true,
		},
		{
			name: "unknown subject rejected",
			users: func() storage.UserStorage {
				sut := new(mockUserStorage)
				sut.On("FindByID", mock.Anything, int64(7)).
					Return(nil, appErr.NewNotFound("user 7"))
				return sut
			},
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": 7,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &authService{
				users:  tt.users(),
				secret: testSecret,
				logger: mockLogger,
			}
			got, err := s.CurrentUser(context.Background(), tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("authService.CurrentUser() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !appErr.IsForbidden(err) {
					t.Errorf("authService.CurrentUser() error = %v, want forbidden class", err)
				}
				return
			}
			if got == nil || got.ID != tt.want.ID {
				t.Errorf("authService.CurrentUser() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_authService_IsAdminUser(t *testing.T) {
	s := &authService{logger: slog.Default()}

	tests := []struct {
		name string
		user *model.User
		want bool
	}{
		{name: "nil user", user: nil, want: false},
		{name: "active admin", user: &model.User{IsAdmin: true, Status: model.UserStatusActive}, want: true},
		{name: "active non-admin", user: &model.User{Status: model.UserStatusActive}, want: false},
		{name: "disabled admin", user: &model.User{IsAdmin: true, Status: model.UserStatusDisabled}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsAdminUser(tt.user); got != tt.want {
				t.Errorf("IsAdminUser() = %v, want %v", got, tt.want)
			}
		})
	}
}
