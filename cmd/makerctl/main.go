// Command makerctl performs operator tasks against the makerhub database:
// minting service API keys and issuing tokens for local development.
//
//	makerctl apikey -name checkout
//	makerctl token -user <uuid> -role admin
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/auth"
	"github.com/makerhub/backend/internal/config"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/repository"
	"github.com/makerhub/backend/internal/servicekey"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "apikey":
		err = mintAPIKey(cfg, os.Args[2:])
	case "token":
		err = issueToken(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("makerctl failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: makerctl apikey -name <service> | makerctl token -user <uuid> [-role user|maker|admin] [-ttl 24h]")
}

func mintAPIKey(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("apikey", flag.ExitOnError)
	name := fs.String("name", "", "Name of the collaborator service the key is for")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	raw, k, err := servicekey.Mint(ctx, repository.NewAPIKeyRepo(pool), *name)
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\nname:    %s\nprefix:  %s\nraw key: %s\n", k.ID, k.Name, k.KeyPrefix, raw)
	fmt.Fprintln(os.Stderr, "Store the raw key now; only its hash is kept.")
	return nil
}

func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "User id (uuid) the token is issued for")
	role := fs.String("role", auth.RoleUser, "Role carried in the token")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "Token lifetime")
	_ = fs.Parse(args)

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("-user must be a uuid: %w", err)
	}
	token, err := auth.NewService(cfg.JWTSecret, *ttl).IssueToken(userID, *role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
