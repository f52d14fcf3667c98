package security

import (
	"context"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/testutil/testkeycloak"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func TestResolve_OIDC(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	kc := testkeycloak.StartKeycloak(t)
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = kc.IssuerURL
	r := NewTokenResolver(&cfg)

	token, err := kc.AccessToken(ctx, "alice", "alice")
	require.NoError(t, err)
	id, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, testkeycloak.AliceID, id.UserID.String())
	require.False(t, id.Privileged)

	token, err = kc.AccessToken(ctx, "ada", "ada")
	require.NoError(t, err)
	id, err = r.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, testkeycloak.AdaID, id.UserID.String())
	require.True(t, id.Privileged)

	_, err = r.Resolve(ctx, token+"x")
	require.ErrorIs(t, err, errInvalidJWT)
}
