package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"authgate/internal/domain"
	"authgate/internal/service"
	"authgate/internal/token"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- in-memory store fakes ----

type memUserRepo struct {
	byEmail map[string]*domain.User
	nextID  int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byEmail: make(map[string]*domain.User)}
}

func (m *memUserRepo) Init(ctx context.Context) error { return nil }

func (m *memUserRepo) Create(ctx context.Context, user *domain.User) (int64, error) {
	if _, ok := m.byEmail[user.Email]; ok {
		return 0, fmt.Errorf("user already exists")
	}
	m.nextID++
	user.ID = m.nextID
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.LastActivity.IsZero() {
		user.LastActivity = now
	}
	m.byEmail[user.Email] = user
	return user.ID, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	for _, user := range m.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, fmt.Errorf("user not found")
}

func (m *memUserRepo) UpdateLastActivity(ctx context.Context, id int64, at time.Time) error {
	user, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	user.LastActivity = at
	return nil
}

type memEventRepo struct {
	events []*domain.SessionEvent
}

func (m *memEventRepo) Init(ctx context.Context) error { return nil }

func (m *memEventRepo) Append(ctx context.Context, event *domain.SessionEvent) (int64, error) {
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event.ID, nil
}

// ---- harness ----

type testServer struct {
	router *gin.Engine
	users  *memUserRepo
	events *memEventRepo
	tokens *token.Manager
}

func newTestServer(t *testing.T, idleWindow time.Duration) *testServer {
	t.Helper()

	users := newMemUserRepo()
	events := &memEventRepo{}
	tokens := token.NewManager([]byte(testSecret), time.Hour, idleWindow)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	router := gin.New()
	handler := NewHandler(service.NewAuthService(users, events), tokens, logger, "token", "http://localhost:5173", false)
	handler.RegisterRoutes(router)

	return &testServer{router: router, users: users, events: events, tokens: tokens}
}

func (ts *testServer) do(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func authCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatalf("no token cookie in response")
	return nil
}

// ---- tests ----

func TestSignupLoginHeartbeatScenario(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "wrong1"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := authCookie(t, rec)
	require.True(t, cookie.HttpOnly)
	require.False(t, cookie.Secure, "secure flag must be off outside production")

	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignup_Rejections(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "User already exists.")

	rec = ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Bob", "email": "bob@x.com", "password": "abcdef"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/sign-up", gin.H{"name": "", "email": "", "password": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeat_InvalidToken(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodGet, "/api/heartbeat", nil, &http.Cookie{Name: "token", Value: "not.a.jwt"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	forged := token.NewManager([]byte("other-secret"), time.Hour, 0)
	signed, err := forged.Issue(1)
	require.NoError(t, err)
	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, &http.Cookie{Name: "token", Value: signed})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeartbeat_UnknownUser(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	signed, err := ts.tokens.Issue(99)
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/heartbeat", nil, &http.Cookie{Name: "token", Value: signed})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "User does not exist.")
}

func TestHeartbeat_IdleWindow(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := authCookie(t, rec)

	user := ts.users.byEmail["ann@x.com"]

	user.LastActivity = time.Now().UTC().Add(-31 * time.Minute)
	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Session expired.")

	user.LastActivity = time.Now().UTC().Add(-29 * time.Minute)
	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.WithinDuration(t, time.Now().UTC(), user.LastActivity, 5*time.Second,
		"admission must bump last activity")
}

func TestHeartbeat_IdleWindowDisabled(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "ab12cd"}, nil)
	cookie := authCookie(t, rec)

	ts.users.byEmail["ann@x.com"].LastActivity = time.Now().UTC().Add(-24 * time.Hour)
	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHeartbeat_ReissuesPastExpiryToken(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := ts.users.byEmail["ann@x.com"]

	// same secret, negative TTL: signature verifies, stated expiry has passed
	stale := token.NewManager([]byte(testSecret), -time.Minute, 0)
	signed, err := stale.Issue(user.ID)
	require.NoError(t, err)

	rec = ts.do(http.MethodGet, "/api/heartbeat", nil, &http.Cookie{Name: "token", Value: signed})
	require.Equal(t, http.StatusOK, rec.Code)

	renewed := authCookie(t, rec)
	require.NotEqual(t, signed, renewed.Value)

	sess, err := ts.tokens.Verify(renewed.Value)
	require.NoError(t, err)
	require.Equal(t, user.ID, sess.UserID)
	require.False(t, sess.Expired)
}

func TestRefreshToken(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/refresh-token", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/refresh-token", nil, &http.Cookie{Name: "token", Value: "garbage"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// a past-expiry token with a valid signature still refreshes
	stale := token.NewManager([]byte(testSecret), -time.Minute, 0)
	signed, err := stale.Issue(12)
	require.NoError(t, err)

	rec = ts.do(http.MethodPost, "/refresh-token", nil, &http.Cookie{Name: "token", Value: signed})
	require.Equal(t, http.StatusOK, rec.Code)

	renewed := authCookie(t, rec)
	sess, err := ts.tokens.Verify(renewed.Value)
	require.NoError(t, err)
	require.Equal(t, int64(12), sess.UserID)
	require.False(t, sess.Expired)
}

func TestLogout_Idempotent(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "ab12cd"}, nil)
	cookie := authCookie(t, rec)

	rec = ts.do(http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := authCookie(t, rec)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)
	require.Len(t, ts.events.events, 1)
	require.Equal(t, ts.users.byEmail["ann@x.com"].ID, ts.events.events[0].UserID)

	// no token at all still succeeds
	rec = ts.do(http.MethodPost, "/logout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.events.events, 1)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)

	rec := ts.do(http.MethodPost, "/sign-up", gin.H{"name": "Ann", "email": "ann@x.com", "password": "ab12cd"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/login", gin.H{"email": "ann@x.com", "password": "ab12cd"}, nil)
	cookie := authCookie(t, rec)

	rec = ts.do(http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Ann", resp.Name)
	require.Equal(t, "ann@x.com", resp.Email)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 30*time.Minute)
	rec := ts.do(http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
