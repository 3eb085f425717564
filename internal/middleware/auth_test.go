package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	args := m.Called(ctx, token)
	if u := args.Get(0); u != nil {
		return u.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) IsAdminUser(u *model.User) bool {
	return m.Called(u).Bool(0)
}

func TestAdminAuth(t *testing.T) {
	admin := &model.User{ID: 1, Username: "ops", IsAdmin: true, Status: model.UserStatusActive}
	member := &model.User{ID: 2, Username: "student", Status: model.UserStatusActive}

	tests := []struct {
		name       string
		authHeader string
		auth       func() *mockAuthService
		wantStatus int
		wantAdmin  *model.User
	}{
		{
			name:       "missing header",
			auth:       func() *mockAuthService { return new(mockAuthService) },
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic Zm9vOmJhcg==",
			auth:       func() *mockAuthService { return new(mockAuthService) },
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "rejected token",
			authHeader: "Bearer bad-token",
			auth: func() *mockAuthService {
				m := new(mockAuthService)
				m.On("CurrentUser", mock.Anything, "bad-token").
					Return(nil, appErr.NewForbidden("invalid token"))
				return m
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "authenticated but not admin",
			authHeader: "Bearer member-token",
			auth: func() *mockAuthService {
				m := new(mockAuthService)
				m.On("CurrentUser", mock.Anything, "member-token").Return(member, nil)
				m.On("IsAdminUser", member).Return(false)
				return m
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "active admin passes",
			authHeader: "Bearer admin-token",
			auth: func() *mockAuthService {
				m := new(mockAuthService)
				m.On("CurrentUser", mock.Anything, "admin-token").Return(admin, nil)
				m.On("IsAdminUser", admin).Return(true)
				return m
			},
			wantStatus: http.StatusOK,
			wantAdmin:  admin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				nextCalled bool
				gotAdmin   *model.User
			)
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				gotAdmin, _ = AdminFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/broadcast", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			AdminAuth(tt.auth(), slog.Default())(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantAdmin == nil {
				if nextCalled {
					t.Error("next handler must not run on a rejected request")
				}
				if !strings.Contains(rec.Body.String(), "admin access required") {
					t.Errorf("body = %q, want the uniform denial", rec.Body.String())
				}
				return
			}
			if !nextCalled {
				t.Fatal("next handler did not run")
			}
			if gotAdmin != tt.wantAdmin {
				t.Errorf("AdminFromContext() = %+v, want %+v", gotAdmin, tt.wantAdmin)
			}
		})
	}
}

func TestAdminFromContext_absent(t *testing.T) {
	if u, ok := AdminFromContext(context.Background()); ok || u != nil {
		t.Fatalf("AdminFromContext() = %v, %v on an empty context", u, ok)
	}
}
