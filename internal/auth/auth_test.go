package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRedisClient для тестирования
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(int64(args.Int(0)))
	}
	return cmd
}

func TestParseStaticTokens(t *testing.T) {
	tokens, err := ParseStaticTokens("alice:secret-a, bob:secret-b:viewer,")
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "alice", tokens["secret-a"].ID)
	assert.True(t, tokens["secret-a"].CanControl())
	assert.Equal(t, RoleViewer, tokens["secret-b"].Role)
	assert.False(t, tokens["secret-b"].CanControl())

	tests := []string{
		"alice",
		"alice:",
		":secret",
		"alice:secret:root",
		"alice:same,bob:same",
	}
	for _, raw := range tests {
		_, err := ParseStaticTokens(raw)
		assert.Error(t, err, raw)
	}

	empty, err := ParseStaticTokens("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCache_SetAndGetOperator(t *testing.T) {
	mockClient := &MockRedisClient{}
	cache := NewCache(mockClient, 5*time.Minute)
	ctx := context.Background()

	op := &Operator{ID: "42", Name: "Pilot", Role: RoleOperator}
	data, _ := op.ToJSON()

	mockClient.On("Set", ctx, mock.AnythingOfType("string"), data, 5*time.Minute).Return(nil)
	require.NoError(t, cache.SetOperator(ctx, "token", op))

	mockClient.On("Get", ctx, tokenKey("token")).Return(string(data), nil)
	cached, err := cache.GetOperator(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, op, cached)

	mockClient.On("Get", ctx, tokenKey("missing")).Return("", redis.Nil)
	cached, err = cache.GetOperator(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, cached)

	mockClient.AssertExpectations(t)
}

func TestCache_KeyHidesToken(t *testing.T) {
	key := tokenKey("super-secret-token")
	assert.NotContains(t, key, "super-secret-token")
	assert.Equal(t, key, tokenKey("super-secret-token"))
	assert.NotEqual(t, key, tokenKey("other"))
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	op, err := cache.GetOperator(context.Background(), "x")
	assert.NoError(t, err)
	assert.Nil(t, op)
	assert.NoError(t, cache.SetOperator(context.Background(), "x", &Operator{ID: "1"}))
}

func TestValidator_StaticTokens(t *testing.T) {
	static, err := ParseStaticTokens("alice:secret-a")
	require.NoError(t, err)
	v := NewValidator(static, "", nil, nil)

	assert.True(t, v.Enabled())

	op, err := v.ValidateToken(context.Background(), "secret-a")
	require.NoError(t, err)
	assert.Equal(t, "alice", op.ID)

	_, err = v.ValidateToken(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_Disabled(t *testing.T) {
	assert.False(t, NewValidator(nil, "", nil, nil).Enabled())
	var v *Validator
	assert.False(t, v.Enabled())
}

func TestValidator_ExternalEndpoint(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			json.NewEncoder(w).Encode(Operator{ID: "7", Name: "Remote"})
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	mockClient := &MockRedisClient{}
	ctx := context.Background()
	mockClient.On("Get", ctx, mock.AnythingOfType("string")).Return("", redis.Nil)
	mockClient.On("Set", ctx, mock.AnythingOfType("string"), mock.Anything, time.Minute).Return(nil)

	v := NewValidator(nil, server.URL, NewCache(mockClient, time.Minute), nil)
	assert.True(t, v.Enabled())

	op, err := v.ValidateToken(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "7", op.ID)
	assert.Equal(t, RoleOperator, op.Role)
	mockClient.AssertCalled(t, "Set", ctx, tokenKey("good"), mock.Anything, time.Minute)

	_, err = v.ValidateToken(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 3, calls)
}

func TestValidator_CacheHitSkipsEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("endpoint must not be called on cache hit")
	}))
	defer server.Close()

	cached, _ := (&Operator{ID: "9", Role: RoleOperator}).ToJSON()
	mockClient := &MockRedisClient{}
	ctx := context.Background()
	mockClient.On("Get", ctx, tokenKey("cached")).Return(string(cached), nil)

	v := NewValidator(nil, server.URL, NewCache(mockClient, time.Minute), nil)
	op, err := v.ValidateToken(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, "9", op.ID)
}

func newTestRouter(m *Middleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/control", m.RequireOperator(), func(c *gin.Context) {
		op, ok := GetOperator(c)
		name := ""
		if ok {
			name = op.ID
		}
		c.JSON(http.StatusOK, gin.H{"operator": name})
	})
	router.GET("/watch", m.OptionalOperator(), func(c *gin.Context) {
		_, ok := GetOperator(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})
	return router
}

func TestMiddleware_RequireOperator(t *testing.T) {
	static, err := ParseStaticTokens("alice:secret-a,bob:secret-b:viewer")
	require.NoError(t, err)
	router := newTestRouter(NewMiddleware(NewValidator(static, "", nil, nil), nil))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		code   string
	}{
		{"missing token", "", "", http.StatusUnauthorized, "missing_token"},
		{"invalid token", "Bearer nope", "", http.StatusUnauthorized, "invalid_token"},
		{"viewer", "Bearer secret-b", "", http.StatusForbidden, "insufficient_permissions"},
		{"bearer header", "Bearer secret-a", "", http.StatusOK, ""},
		{"query parameter", "", "secret-a", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/control"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			} else {
				assert.Equal(t, "alice", body["operator"])
			}
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	router := newTestRouter(NewMiddleware(NewValidator(nil, "", nil, nil), nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/control", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_OptionalOperator(t *testing.T) {
	static, err := ParseStaticTokens("alice:secret-a")
	require.NoError(t, err)
	router := newTestRouter(NewMiddleware(NewValidator(static, "", nil, nil), nil))

	for token, expected := range map[string]bool{"": false, "nope": false, "secret-a": true} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch?token="+token, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, expected, body["authenticated"], token)
	}
}

func TestMiddleware_LogoutDropsCachedToken(t *testing.T) {
	mockClient := &MockRedisClient{}
	mockClient.On("Del", mock.Anything, []string{tokenKey("remote-token")}).Return(1, nil)

	v := NewValidator(nil, "http://auth.invalid/api/user", NewCache(mockClient, time.Minute), nil)
	m := NewMiddleware(v, nil)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.DELETE("/auth/token", m.Logout)

	req := httptest.NewRequest(http.MethodDelete, "/auth/token", nil)
	req.Header.Set("Authorization", "Bearer remote-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	mockClient.AssertExpectations(t)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/auth/token", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
