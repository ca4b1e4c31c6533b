package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService_EmptySecret(t *testing.T) {
	_, err := NewTokenService("", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestTokenService_IssueAndParse(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue(42)
	require.NoError(t, err)

	userID, err := ts.Parse(token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, userID)

	assert.True(t, ts.CheckToken(42, token))
	assert.False(t, ts.CheckToken(43, token))
	assert.False(t, ts.CheckToken(42, "garbage"))
}

func TestTokenService_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	ts.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := ts.Issue(1)
	require.NoError(t, err)

	ts.now = time.Now
	_, err = ts.Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_WrongSecret(t *testing.T) {
	other, err := NewTokenService("another-secret-another-secret-xx", time.Hour)
	require.NoError(t, err)
	token, err := other.Issue(1)
	require.NoError(t, err)

	_, err = newTestTokenService(t).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsNonHMAC(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestTokenService(t).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func setupRouter(ts *TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(ts), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Issue(7)
	require.NoError(t, err)
	router := setupRouter(ts)

	tests := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{name: "bearer header", url: "/me", header: "Bearer " + token, want: http.StatusOK},
		{name: "query token", url: "/me?token=" + token, want: http.StatusOK},
		{name: "query token with matching id", url: "/me?id=7&token=" + token, want: http.StatusOK},
		{name: "query token with other id", url: "/me?id=8&token=" + token, want: http.StatusUnauthorized},
		{name: "malformed id", url: "/me?id=seven&token=" + token, want: http.StatusUnauthorized},
		{name: "missing token", url: "/me", want: http.StatusUnauthorized},
		{name: "bad scheme", url: "/me", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "invalid token", url: "/me?token=nope", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":7}`, w.Body.String())
			}
		})
	}
}
