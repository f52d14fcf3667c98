// Package testapi builds an in-memory HTTP stack for route tests. Bearer tokens are user ids.
package testapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/cache/noop"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// Env is a router with auth wired to an in-memory store.
type Env struct {
	T       *testing.T
	Store   *memory.Store
	Service *chat.Service
	Router  *gin.Engine
	Auth    gin.HandlerFunc
}

// New creates an Env. Call mount to attach the routes under test.
func New(t *testing.T, mount func(r gin.IRouter, e *Env)) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	store := memory.New()
	e := &Env{
		T:     t,
		Store: store,
		Service: chat.NewService(store, noop.New(), chat.Options{
			DefaultPageSize:  cfg.DefaultPageSize,
			MaxPageSize:      cfg.MaxPageSize,
			MaxMessageLength: cfg.MaxMessageLength,
		}),
		Router: gin.New(),
	}
	e.Auth = security.AuthMiddleware(security.NewTokenResolver(&cfg), store)
	mount(e.Router, e)
	return e
}

// User creates an account and returns it.
func (e *Env) User(first, last, email string, superuser bool) model.User {
	e.T.Helper()
	u, err := e.Store.CreateUser(context.Background(), registrystore.NewUser{
		FirstName: first, LastName: last, Email: email, IsSuperuser: superuser,
	})
	require.NoError(e.T, err)
	return *u
}

// Do sends a request as caller; a nil caller sends no Authorization header.
func (e *Env) Do(method, path string, caller *model.User, body any) *httptest.ResponseRecorder {
	e.T.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+caller.ID.String())
	}
	rec := httptest.NewRecorder()
	e.Router.ServeHTTP(rec, req)
	return rec
}

// Decode unmarshals the response body into out.
func (e *Env) Decode(rec *httptest.ResponseRecorder, out any) {
	e.T.Helper()
	require.NoError(e.T, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

// ErrorCode returns the "code" field of an error response.
func (e *Env) ErrorCode(rec *httptest.ResponseRecorder) string {
	e.T.Helper()
	var body struct {
		Code string `json:"code"`
	}
	e.Decode(rec, &body)
	return body.Code
}

// Status asserts rec has the wanted status, printing the body on mismatch.
func (e *Env) Status(rec *httptest.ResponseRecorder, want int) {
	e.T.Helper()
	require.Equal(e.T, want, rec.Code, rec.Body.String())
}
