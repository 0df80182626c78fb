package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starterkit/internal/auth"
	apperrors "starterkit/internal/errors"
	"starterkit/internal/guard"
	"starterkit/internal/handler"
	"starterkit/internal/model"
	"starterkit/internal/repository"
	"starterkit/internal/service"
)

const testSecret = "test-secret"

// memUsers is an in-memory UserRepository with a unique email index.
type memUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[uuid.UUID]model.User{}}
}

func (m *memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return apperrors.ErrConflict
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = time.Now()
	m.byID[user.ID] = *user
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return &u, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, apperrors.ErrUserNotFound
}

func (m *memUsers) List(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id uuid.UUID, changes repository.ProfileChanges) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	if changes.Email != nil {
		for otherID, other := range m.byID {
			if otherID != id && other.Email == *changes.Email {
				return nil, apperrors.ErrConflict
			}
		}
		u.Email = *changes.Email
	}
	if changes.Name != nil {
		u.Name = *changes.Name
	}
	m.byID[id] = u
	return &u, nil
}

func (m *memUsers) SetRole(_ context.Context, id uuid.UUID, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	u.Role = role
	m.byID[id] = u
	return nil
}

func (m *memUsers) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperrors.ErrUserNotFound
	}
	delete(m.byID, id)
	return nil
}

type testServer struct {
	e       *echo.Echo
	users   *memUsers
	userSvc service.UserService
	tokens  *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := newMemUsers()
	tokens := auth.NewTokenService(testSecret, time.Hour)
	authSvc := service.NewAuthService(users, tokens, log)
	userSvc := service.NewUserService(users, nil, log)

	e := echo.New()
	e.HideBanner = true
	Register(e, log, guard.New(tokens, userSvc, log), handler.NewAuthHandler(authSvc), handler.NewUserHandler(userSvc))

	return &testServer{e: e, users: users, userSvc: userSvc, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (s *testServer) register(t *testing.T, name, email, password string) (string, map[string]interface{}) {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["token"].(string), body["user"].(map[string]interface{})
}

func (s *testServer) makeAdmin(t *testing.T, email string) {
	t.Helper()
	u, err := s.users.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NoError(t, s.users.SetRole(context.Background(), u.ID, model.RoleAdmin))
}

func TestRegisterThenMe(t *testing.T) {
	s := newTestServer(t)

	token, user := s.register(t, "Ann", "ann@x.com", "secret1")
	assert.NotEmpty(t, token)
	assert.Equal(t, "ann@x.com", user["email"])
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, false, user["isVerified"])
	assert.NotContains(t, user, "passwordHash")

	rec, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	me := body["user"].(map[string]interface{})
	assert.Equal(t, user["id"], me["id"])
	assert.Equal(t, user["email"], me["email"])
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": " A ", "email": "not-an-email", "password": "123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Validation failed", body["message"])
	assert.Len(t, body["errors"], 3)

	s.register(t, "Ann", "ann@x.com", "secret1")
	rec, body = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ann Again", "email": "ANN@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already exists", body["message"])
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	_, user := s.register(t, "Ann", "ann@x.com", "secret1")

	rec, body := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id, err := s.tokens.Verify(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, user["id"], id)

	rec, body = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@x.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, body, "token")
}

func TestAccessGuard(t *testing.T) {
	s := newTestServer(t)
	userToken, _ := s.register(t, "Ann", "ann@x.com", "secret1")
	adminToken, _ := s.register(t, "Root", "root@x.com", "secret1")
	s.makeAdmin(t, "root@x.com")

	expired, err := auth.NewTokenService(testSecret, -time.Minute).Issue(uuid.NewString())
	require.NoError(t, err)
	forged, err := auth.NewTokenService("another-secret", time.Hour).Issue(uuid.NewString())
	require.NoError(t, err)
	orphan, err := s.tokens.Issue(uuid.NewString())
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{name: "me without token", path: "/api/auth/me", status: http.StatusUnauthorized},
		{name: "admin route without token is 401 not 403", path: "/api/users", status: http.StatusUnauthorized},
		{name: "garbage token", path: "/api/auth/me", token: "abc.def", status: http.StatusUnauthorized},
		{name: "expired token", path: "/api/auth/me", token: expired, status: http.StatusUnauthorized},
		{name: "forged token", path: "/api/auth/me", token: forged, status: http.StatusUnauthorized},
		{name: "token for unknown identity", path: "/api/auth/me", token: orphan, status: http.StatusUnauthorized},
		{name: "user on admin route", path: "/api/users", token: userToken, status: http.StatusForbidden},
		{name: "admin on admin route", path: "/api/users", token: adminToken, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodGet, tt.path, tt.token, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, body, "success")
		})
	}

	_, body := s.do(t, http.MethodGet, "/api/users", adminToken, nil)
	assert.EqualValues(t, 2, body["count"])
	assert.Len(t, body["data"], 2)
}

func TestAccessGuard_RoleReadFromStoreNotToken(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "Ann", "ann@x.com", "secret1")

	rec, _ := s.do(t, http.MethodGet, "/api/users", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	s.makeAdmin(t, "ann@x.com")
	rec, _ = s.do(t, http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	annToken, ann := s.register(t, "Ann", "ann@x.com", "secret1")
	s.register(t, "Bob", "bob@x.com", "secret1")

	t.Run("duplicate email leaves profile unchanged", func(t *testing.T) {
		rec, body := s.do(t, http.MethodPut, "/api/users/profile", annToken, map[string]string{
			"name": "Annie", "email": "bob@x.com",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Email already taken", body["message"])

		_, me := s.do(t, http.MethodGet, "/api/auth/me", annToken, nil)
		user := me["user"].(map[string]interface{})
		assert.Equal(t, "Ann", user["name"])
		assert.Equal(t, "ann@x.com", user["email"])
	})

	t.Run("validation failure", func(t *testing.T) {
		rec, body := s.do(t, http.MethodPut, "/api/users/profile", annToken, map[string]string{
			"name": "A", "email": "nope",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		errs := body["errors"].([]interface{})
		require.Len(t, errs, 2)
		assert.Equal(t, "Name must be between 2 and 50 characters", errs[0].(map[string]interface{})["message"])
		assert.Equal(t, "Please provide a valid email", errs[1].(map[string]interface{})["message"])
	})

	t.Run("success keeps token valid", func(t *testing.T) {
		rec, body := s.do(t, http.MethodPut, "/api/users/profile", annToken, map[string]string{
			"name": "  Annie  ", "email": "Annie@X.com",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		user := body["user"].(map[string]interface{})
		assert.Equal(t, "Annie", user["name"])
		assert.Equal(t, "annie@x.com", user["email"])
		assert.Equal(t, ann["id"], user["id"])

		rec, _ = s.do(t, http.MethodGet, "/api/auth/me", annToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("requires token", func(t *testing.T) {
		rec, _ := s.do(t, http.MethodPut, "/api/users/profile", "", map[string]string{"name": "Zed"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDeleteAccount(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "Ann", "ann@x.com", "secret1")

	rec, body := s.do(t, http.MethodDelete, "/api/users/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Account deleted successfully", body["message"])

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerWithoutGuardIsNotAuthenticated(t *testing.T) {
	s := newTestServer(t)
	s.e.GET("/api/unguarded", handler.NewAuthHandler(nil).Me)

	rec, body := s.do(t, http.MethodGet, "/api/unguarded", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", body["message"])
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}
