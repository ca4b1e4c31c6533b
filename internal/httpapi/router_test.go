package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"imhub/internal/auth"
	"imhub/internal/im"
	"imhub/internal/membership"
)

type MockMembershipService struct {
	mock.Mock
}

func (m *MockMembershipService) Join(ctx context.Context, userID, groupID int64) (bool, error) {
	args := m.Called(ctx, userID, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipService) Leave(ctx context.Context, userID, groupID int64) (bool, error) {
	args := m.Called(ctx, userID, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipService) Groups(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

type fixture struct {
	router *gin.Engine
	hub    *im.Hub
	svc    *MockMembershipService
	token  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewTokenService("httpapi-test-secret", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Issue(7)
	require.NoError(t, err)

	hub := im.NewHub(im.SessionOptions{Logger: logger})
	svc := new(MockMembershipService)
	router := NewRouter(Deps{Hub: hub, Tokens: tokens, Membership: svc, Logger: logger})
	return &fixture{router: router, hub: hub, svc: svc, token: token}
}

func (f *fixture) do(method, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodGet, "/healthz", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestStats(t *testing.T) {
	f := setup(t)
	f.hub.Registry.Register(1, im.NewNode(nil, 1))
	f.hub.Registry.Register(2, im.NewNode(nil, 1))

	w := f.do(http.MethodGet, "/stats", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["online"])
}

func TestChatRequiresToken(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodGet, "/chat", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJoinCommunity(t *testing.T) {
	f := setup(t)
	f.svc.On("Join", mock.Anything, int64(7), int64(300)).Return(true, nil)

	w := f.do(http.MethodPost, "/communities/300/join", true)

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 300, body["community_id"])
	assert.Equal(t, true, body["online"])
	f.svc.AssertExpectations(t)
}

func TestLeaveCommunity(t *testing.T) {
	f := setup(t)
	f.svc.On("Leave", mock.Anything, int64(7), int64(300)).Return(false, nil)

	w := f.do(http.MethodDelete, "/communities/300/join", true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["online"])
	f.svc.AssertExpectations(t)
}

func TestListCommunities(t *testing.T) {
	f := setup(t)
	f.svc.On("Groups", mock.Anything, int64(7)).Return(nil, nil).Once()
	f.svc.On("Groups", mock.Anything, int64(7)).Return([]int64{1, 2}, nil).Once()

	w := f.do(http.MethodGet, "/communities", true)
	assert.Equal(t, []any{}, decode(t, w)["communities"])

	w = f.do(http.MethodGet, "/communities", true)
	assert.Equal(t, []any{1.0, 2.0}, decode(t, w)["communities"])
}

func TestCommunityErrors(t *testing.T) {
	f := setup(t)
	f.svc.On("Join", mock.Anything, int64(7), int64(5)).Return(false, errors.New("db down"))
	f.svc.On("Join", mock.Anything, int64(7), int64(6)).Return(false, membership.ErrInvalidID)

	tests := []struct {
		name   string
		path   string
		authed bool
		want   int
	}{
		{name: "unauthenticated", path: "/communities/5/join", want: http.StatusUnauthorized},
		{name: "non numeric id", path: "/communities/abc/join", authed: true, want: http.StatusBadRequest},
		{name: "zero id", path: "/communities/0/join", authed: true, want: http.StatusBadRequest},
		{name: "store failure", path: "/communities/5/join", authed: true, want: http.StatusInternalServerError},
		{name: "rejected id", path: "/communities/6/join", authed: true, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.authed)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// The real service wired through the router updates routing for online users.
func TestJoinCommunity_LiveService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService("httpapi-test-secret", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Issue(7)
	require.NoError(t, err)

	hub := im.NewHub(im.SessionOptions{Logger: logger})
	svc := membership.NewService(membership.NewMemoryStore(), hub.Registry, logger)
	router := NewRouter(Deps{Hub: hub, Tokens: tokens, Membership: svc, Logger: logger})
	hub.Registry.Register(7, im.NewNode(nil, 4))

	req := httptest.NewRequest(http.MethodPost, "/communities/42/join?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []int64{42}, hub.Registry.Groups(7))
}
