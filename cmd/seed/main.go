// Package main bootstraps a fresh deployment: one user per role and a set
// of provisioned ingestion sources. Generated credentials are printed to
// stdout exactly once; only hashes are stored.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/trustpipe/trustpipe/internal/auth"
	"github.com/trustpipe/trustpipe/internal/config"
	"github.com/trustpipe/trustpipe/internal/db"
	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/user"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	sources := flag.String("sources", "", "comma-separated source names to provision")
	password := flag.String("password", "", "initial password for seeded users (required when seeding users)")
	skipUsers := flag.Bool("skip-users", false, "do not create role users")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	ctx := context.Background()

	if !*skipUsers {
		if *password == "" {
			fmt.Fprintln(os.Stderr, "-password is required when seeding users (use -skip-users to provision sources only)")
			os.Exit(1)
		}
		users := user.NewPostgresRepository(pool, logger)
		hash, err := auth.HashPassword(*password, cfg.BcryptCost)
		if err != nil {
			logger.Error("failed to hash password", "error", err)
			os.Exit(1)
		}
		for _, role := range []string{user.RoleAdmin, user.RoleAnalyst, user.RoleOperator, user.RoleAuditor} {
			u := &user.User{Username: role, PasswordHash: hash, Role: role, IsActive: true}
			err := users.Insert(ctx, u)
			switch {
			case errors.Is(err, user.ErrUserExists):
				logger.Info("user already exists, skipping", "username", role)
			case err != nil:
				logger.Error("failed to create user", "username", role, "error", err)
				os.Exit(1)
			default:
				fmt.Printf("created user %-10s role=%s\n", u.Username, u.Role)
			}
		}
	}

	if *sources != "" {
		registry := source.NewPostgresRegistry(pool, logger)
		for _, name := range strings.Split(*sources, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			key, err := auth.GenerateAPIKey()
			if err != nil {
				logger.Error("failed to generate api key", "source", name, "error", err)
				os.Exit(1)
			}
			if _, err := registry.Provision(ctx, name, auth.HashAPIKey(key)); err != nil {
				logger.Error("failed to provision source", "source", name, "error", err)
				os.Exit(1)
			}
			// The only time the raw key is ever visible.
			fmt.Printf("provisioned source %-20s api_key=%s\n", name, key)
		}
	}

	logger.Info("seeding complete")
}
