package users

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/stretchr/testify/require"
)

func lines(out string) map[string]string {
	result := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, _ := strings.Cut(line, ": ")
		result[k] = v
	}
	return result
}

func TestCreatePrintsToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "chat.db")
	cfg.JWTSecret = "test-secret"
	ctx := config.WithContext(context.Background(), &cfg)

	var out bytes.Buffer
	err := create(ctx, &cfg, registrystore.NewUser{
		FirstName:   "Ada",
		LastName:    "Admin",
		Email:       "ada@example.com",
		Role:        model.RoleAdmin,
		IsSuperuser: true,
	}, time.Hour, &out)
	require.NoError(t, err)

	printed := lines(out.String())
	require.NotEmpty(t, printed["user_id"])
	require.NotEmpty(t, printed["access_token"])

	id, err := security.NewTokenResolver(&cfg).Resolve(ctx, printed["access_token"])
	require.NoError(t, err)
	require.Equal(t, printed["user_id"], id.UserID.String())
	require.False(t, id.Privileged, "privilege is read from the stored user, not the token")
}

func TestCreateWithoutSecretPrintsOnlyID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "memory"
	ctx := config.WithContext(context.Background(), &cfg)

	var out bytes.Buffer
	err := create(ctx, &cfg, registrystore.NewUser{FirstName: "Bo", LastName: "B", Email: "bo@example.com"}, time.Hour, &out)
	require.NoError(t, err)

	printed := lines(out.String())
	require.Contains(t, printed, "user_id")
	require.NotContains(t, printed, "access_token")
}

func TestCreateRejectsInvalidUser(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "memory"
	ctx := config.WithContext(context.Background(), &cfg)

	err := create(ctx, &cfg, registrystore.NewUser{FirstName: "No", LastName: "Mail"}, time.Hour, &bytes.Buffer{})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "email", validation.Field)
}
