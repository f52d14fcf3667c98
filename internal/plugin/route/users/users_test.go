package users_test

import (
	"net/http"
	"testing"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/route/httpapi"
	"github.com/chirino/chat-service/internal/plugin/route/users"
	"github.com/chirino/chat-service/internal/testutil/testapi"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) *testapi.Env {
	return testapi.New(t, func(r gin.IRouter, e *testapi.Env) {
		users.MountRoutes(r, e.Store, e.Auth)
	})
}

func TestCreateUser(t *testing.T) {
	env := newEnv(t)
	admin := env.User("Ada", "Admin", "admin@example.com", true)
	alice := env.User("Alice", "Smith", "alice@example.com", false)

	body := gin.H{"first_name": "Bob", "last_name": "Jones", "email": " Bob@Example.com ", "role": "host"}

	env.Status(env.Do(http.MethodPost, "/v1/users", &alice, body), http.StatusForbidden)
	env.Status(env.Do(http.MethodPost, "/v1/users", nil, body), http.StatusUnauthorized)

	rec := env.Do(http.MethodPost, "/v1/users", &admin, body)
	env.Status(rec, http.StatusCreated)
	var created httpapi.User
	env.Decode(rec, &created)
	require.Equal(t, "bob@example.com", created.Email)
	require.Equal(t, model.RoleHost, created.Role)
	require.Nil(t, created.PhoneNumber)

	rec = env.Do(http.MethodPost, "/v1/users", &admin, body)
	env.Status(rec, http.StatusConflict)
	require.Equal(t, "duplicate_email", env.ErrorCode(rec))

	rec = env.Do(http.MethodPost, "/v1/users", &admin, gin.H{"first_name": "No", "last_name": "Mail", "email": "nope"})
	env.Status(rec, http.StatusBadRequest)

	rec = env.Do(http.MethodPost, "/v1/users", &admin, gin.H{"first_name": "X", "last_name": "Y", "email": "x@example.com", "role": "owner"})
	env.Status(rec, http.StatusBadRequest)
}

func TestGetUser(t *testing.T) {
	env := newEnv(t)
	alice := env.User("Alice", "Smith", "alice@example.com", false)
	bob := env.User("Bob", "Jones", "bob@example.com", false)

	rec := env.Do(http.MethodGet, "/v1/users/me", &alice, nil)
	env.Status(rec, http.StatusOK)
	var me httpapi.User
	env.Decode(rec, &me)
	require.Equal(t, alice.ID, me.ID)
	require.Equal(t, model.RoleGuest, me.Role)

	rec = env.Do(http.MethodGet, "/v1/users/"+bob.ID.String(), &alice, nil)
	env.Status(rec, http.StatusOK)
	var other httpapi.User
	env.Decode(rec, &other)
	require.Equal(t, "Bob", other.FirstName)

	env.Status(env.Do(http.MethodGet, "/v1/users/"+uuid.NewString(), &alice, nil), http.StatusNotFound)
	env.Status(env.Do(http.MethodGet, "/v1/users/bogus", &alice, nil), http.StatusBadRequest)
}

func TestUnknownCallerIsRejected(t *testing.T) {
	env := newEnv(t)
	ghost := model.User{ID: uuid.New()}

	rec := env.Do(http.MethodGet, "/v1/users/me", &ghost, nil)
	env.Status(rec, http.StatusUnauthorized)
	require.Equal(t, "unauthenticated", env.ErrorCode(rec))
}
