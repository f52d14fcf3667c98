package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[uuid.UUID]*model.User

func (f fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, &registrystore.NotFoundError{Resource: "user", ID: id.String()}
}

func TestResolve_TestingModeAcceptsUserID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	r := NewTokenResolver(&cfg)

	userID := uuid.New()
	id, err := r.Resolve(context.Background(), userID.String())
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.False(t, id.Privileged)

	_, err = r.Resolve(context.Background(), "alice")
	require.Error(t, err)
}

func TestResolve_ProdModeRejectsBareUserID(t *testing.T) {
	cfg := config.DefaultConfig()
	r := NewTokenResolver(&cfg)
	_, err := r.Resolve(context.Background(), uuid.NewString())
	require.Error(t, err)
}

func TestResolve_HS256(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "s3cret"
	cfg.JWTIssuer = "chat-service"
	r := NewTokenResolver(&cfg)

	userID := uuid.New()
	token, err := r.IssueToken(userID, time.Hour)
	require.NoError(t, err)

	id, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.False(t, id.Privileged)

	t.Run("wrong secret", func(t *testing.T) {
		other := config.DefaultConfig()
		other.JWTSecret = "different"
		other.JWTIssuer = "chat-service"
		_, err := NewTokenResolver(&other).Resolve(context.Background(), token)
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewTokenResolver(&cfg)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		stale, err := past.IssueToken(userID, time.Hour)
		require.NoError(t, err)
		_, err = r.Resolve(context.Background(), stale)
		require.ErrorIs(t, err, errInvalidJWT)
	})
}

func TestResolve_PrivilegedUsersList(t *testing.T) {
	userID := uuid.New()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.PrivilegedUsers = userID.String()
	id, err := NewTokenResolver(&cfg).Resolve(context.Background(), userID.String())
	require.NoError(t, err)
	assert.True(t, id.Privileged)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	resolver := NewTokenResolver(&cfg)

	member := &model.User{ID: uuid.New()}
	admin := &model.User{ID: uuid.New(), IsSuperuser: true}
	users := fakeUsers{member.ID: member, admin.ID: admin}

	router := gin.New()
	router.Use(AuthMiddleware(resolver, users))
	router.GET("/whoami", func(c *gin.Context) {
		id := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user": id.UserID.String(), "privileged": id.Privileged})
	})
	router.GET("/admin", RequirePrivileged(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("/whoami", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/whoami", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/whoami", "Bearer "+uuid.NewString()).Code)

	rec := do("/whoami", "Bearer "+member.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"`+member.ID.String()+`","privileged":false}`, rec.Body.String())

	rec = do("/whoami", "Bearer "+admin.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"`+admin.ID.String()+`","privileged":true}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do("/admin", "Bearer "+member.ID.String()).Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", "Bearer "+admin.ID.String()).Code)
}

func TestAuthMiddleware_SuperuserClaimIsIgnored(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "s3cret"
	resolver := NewTokenResolver(&cfg)

	member := &model.User{ID: uuid.New()}
	admin := &model.User{ID: uuid.New(), IsSuperuser: true}
	users := fakeUsers{member.ID: member, admin.ID: admin}

	router := gin.New()
	router.Use(AuthMiddleware(resolver, users))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"privileged": IsPrivileged(c)})
	})

	signed := func(userID uuid.UUID) string {
		claims := jwt.MapClaims{
			"user_id":      userID.String(),
			"token_type":   "access",
			"is_superuser": true,
			"exp":          time.Now().Add(time.Hour).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
		require.NoError(t, err)
		return token
	}
	whoami := func(userID uuid.UUID) string {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+signed(userID))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	assert.JSONEq(t, `{"privileged":false}`, whoami(member.ID))
	assert.JSONEq(t, `{"privileged":true}`, whoami(admin.ID))
}

func TestExtractTokenRoles(t *testing.T) {
	roles := extractTokenRoles(map[string]any{
		"roles":        []any{"admin", " "},
		"scope":        "openid profile",
		"realm_access": map[string]any{"roles": []any{"host"}},
	})
	assert.Equal(t, map[string]bool{"admin": true, "openid": true, "profile": true, "host": true}, roles)
}
