package testkeycloak

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/oauth2"
)

const realm = "chat-service"

// Users imported with the realm. Their Keycloak ids double as chat user ids.
const (
	AliceID = "0190a1b2-0000-7000-8000-00000000a11c"
	// AdaID holds the realm "admin" role.
	AdaID = "0190a1b2-0000-7000-8000-0000000000ad"
)

//go:embed testdata/chat-service-realm.json
var realmJSON []byte

// Server is a running Keycloak test instance.
type Server struct {
	IssuerURL string
	oauth     oauth2.Config
}

// StartKeycloak starts a disposable Keycloak container with the chat-service realm imported.
// Password grants work for alice/alice and ada/ada.
func StartKeycloak(tb testing.TB) *Server {
	tb.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/keycloak/keycloak:24.0.5",
			ExposedPorts: []string{"8080/tcp"},
			Cmd:          []string{"start-dev", "--import-realm"},
			Env: map[string]string{
				"KEYCLOAK_ADMIN":          "admin",
				"KEYCLOAK_ADMIN_PASSWORD": "admin",
				"KC_HEALTH_ENABLED":       "true",
			},
			Files: []testcontainers.ContainerFile{{
				Reader:            bytes.NewReader(realmJSON),
				ContainerFilePath: "/opt/keycloak/data/import/" + realm + "-realm.json",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForHTTP("/health/ready").WithPort("8080/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start keycloak container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate keycloak container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "8080/tcp", "http")
	if err != nil {
		tb.Fatalf("get keycloak endpoint: %v", err)
	}
	issuer := endpoint + "/realms/" + realm
	s := &Server{
		IssuerURL: issuer,
		oauth: oauth2.Config{
			ClientID:     "chat-service-client",
			ClientSecret: "change-me",
			Endpoint: oauth2.Endpoint{
				TokenURL:  issuer + "/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	// The health check can pass before the imported realm serves tokens.
	deadline := time.Now().Add(time.Minute)
	for {
		_, err := s.AccessToken(ctx, "alice", "alice")
		if err == nil {
			return s
		}
		if time.Now().After(deadline) {
			tb.Fatalf("keycloak token endpoint not ready: %v", err)
		}
		time.Sleep(time.Second)
	}
}

// AccessToken runs a password grant for a realm user.
func (s *Server) AccessToken(ctx context.Context, username, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tok, err := s.oauth.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("password grant for %s: %w", username, err)
	}
	return tok.AccessToken, nil
}
