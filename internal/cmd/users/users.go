// Package users holds the account bootstrap commands.
package users

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/chat-service/internal/plugin/store/memory"
	_ "github.com/chirino/chat-service/internal/plugin/store/mongo"
	_ "github.com/chirino/chat-service/internal/plugin/store/postgres"
	_ "github.com/chirino/chat-service/internal/plugin/store/sqlite"
)

// Command returns the users sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage chat accounts",
		Commands: []*cli.Command{
			createCommand(),
		},
	}
}

func createCommand() *cli.Command {
	cfg := config.DefaultConfig()
	var in registrystore.NewUser
	var role, phone string
	var tokenTTL time.Duration
	return &cli.Command{
		Name:  "create",
		Usage: "Create a user and print an access token for it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Category:    "Database:",
				Sources:     cli.EnvVars("CHAT_SERVICE_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL (sqlite: file path)",
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Category:    "Database:",
				Sources:     cli.EnvVars("CHAT_SERVICE_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
			},
			&cli.StringFlag{
				Name:        "jwt-secret",
				Category:    "Authorization:",
				Sources:     cli.EnvVars("CHAT_SERVICE_JWT_SECRET", "SECRET_KEY"),
				Destination: &cfg.JWTSecret,
				Usage:       "Shared secret used to sign the printed token; no token is printed without it",
			},
			&cli.DurationFlag{
				Name:        "token-ttl",
				Category:    "Authorization:",
				Destination: &tokenTTL,
				Value:       24 * time.Hour,
				Usage:       "Lifetime of the printed token",
			},
			&cli.StringFlag{Name: "email", Destination: &in.Email, Required: true, Usage: "Email address (unique)"},
			&cli.StringFlag{Name: "first-name", Destination: &in.FirstName, Required: true, Usage: "First name"},
			&cli.StringFlag{Name: "last-name", Destination: &in.LastName, Required: true, Usage: "Last name"},
			&cli.StringFlag{Name: "phone", Destination: &phone, Usage: "Phone number"},
			&cli.StringFlag{Name: "role", Destination: &role, Value: string(model.RoleGuest), Usage: "Role (guest|host|admin)"},
			&cli.BoolFlag{Name: "superuser", Destination: &in.IsSuperuser, Usage: "Grant privileged access"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			in.Role = model.Role(role)
			if phone != "" {
				in.PhoneNumber = &phone
			}
			return create(config.WithContext(ctx, &cfg), &cfg, in, tokenTTL, cmd.Root().Writer)
		},
	}
}

func create(ctx context.Context, cfg *config.Config, in registrystore.NewUser, tokenTTL time.Duration, out io.Writer) error {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := loader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	u, err := store.CreateUser(ctx, in)
	if err != nil {
		return err
	}
	log.Info("User created", "user", u.ID, "email", u.Email, "superuser", u.IsSuperuser)
	fmt.Fprintf(out, "user_id: %s\n", u.ID)

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil
	}
	token, err := security.NewTokenResolver(cfg).IssueToken(u.ID, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintf(out, "access_token: %s\n", token)
	return nil
}
