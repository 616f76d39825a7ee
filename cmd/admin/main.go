package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"finsight/internal/domain/account"
	"finsight/internal/domain/openfinance"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
	"finsight/internal/domain/user"
	"finsight/internal/infrastructure/postgres"
	"finsight/internal/infrastructure/postgres/listener"
	"finsight/internal/infrastructure/saltedge"
	"finsight/internal/shared/config"
	"finsight/internal/shared/logging"

	"github.com/rs/zerolog/log"
)

const usage = `Finsight Admin CLI - Management commands for the Finsight API

Usage:
  admin <command> [options]

Commands:
  migrate up|down [steps]     Apply or roll back database migrations
  delete-user <email>         Delete a user and all of their banking data
  resync <connection_id>      Re-synchronize one bank connection
  logs <email>                Print the latest sync log entries of a user

Examples:
  # Apply all pending migrations
  admin migrate up

  # Roll back the last two migrations
  admin migrate down 2

  # Sync a connection in this process
  admin resync conn-123

  # Hand the sync to a running API instance instead
  admin resync conn-123 --notify
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil && command != "help" && command != "-h" && command != "--help" {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg != nil {
		logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})
	}

	switch command {
	case "migrate":
		err = runMigrate(cfg, os.Args[2:])
	case "delete-user":
		err = runDeleteUser(cfg, os.Args[2:])
	case "resync":
		err = runResync(cfg, os.Args[2:])
	case "logs":
		err = runLogs(cfg, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

func runMigrate(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: admin migrate up|down [steps]")
	}

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(cfg.Database.URL()); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return nil
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		if err := postgres.RollbackMigrations(cfg.Database.URL(), steps); err != nil {
			return err
		}
		log.Info().Int("steps", steps).Msg("migrations rolled back")
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q", args[0])
	}
}

func runDeleteUser(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: admin delete-user <email>")
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := user.NewService(postgres.NewUserRepository(db))
	if err := users.DeleteByEmail(ctx, args[0]); err != nil {
		return err
	}

	log.Info().Str("email", args[0]).Msg("user data deleted")
	return nil
}

func runResync(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("resync", flag.ExitOnError)
	notify := fs.Bool("notify", false, "Ask a running API instance to sync instead of syncing here")
	timeoutStr := fs.String("timeout", "5m", "Timeout for the operation (e.g., 30s, 5m)")

	fs.Usage = func() {
		fmt.Println("Usage: admin resync <connection_id> [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	// Allow the connection id before or after the flags
	var connectionID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		connectionID, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if connectionID == "" && fs.NArg() > 0 {
		connectionID = fs.Arg(0)
	}
	if connectionID == "" {
		fs.Usage()
		return fmt.Errorf("connection id is required")
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		return fmt.Errorf("invalid timeout format: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if *notify {
		if err := listener.Publish(ctx, db.DB, listener.SyncRequest{ConnectionID: connectionID, Trigger: "resync"}); err != nil {
			return err
		}
		log.Info().Str("connection_id", connectionID).Msg("sync request published")
		return nil
	}

	client, err := saltedge.NewClient(saltedge.Config{
		AppID:       cfg.SaltEdge.AppID,
		Secret:      cfg.SaltEdge.Secret,
		BaseURL:     cfg.SaltEdge.BaseURL,
		PrivateKey:  cfg.SaltEdge.PrivateKey,
		Mode:        cfg.SaltEdge.Mode,
		Timeout:     cfg.SaltEdge.Timeout,
		CustomerTTL: cfg.SaltEdge.CustomerTTL,
	})
	if err != nil {
		return err
	}

	engine := openfinance.NewSyncEngine(
		client,
		postgres.NewCustomerRepository(db),
		postgres.NewConnectionRepository(db),
		account.NewService(postgres.NewAccountRepository(db)),
		transaction.NewService(postgres.NewTransactionRepository(db)),
		synclog.NewService(postgres.NewSyncLogRepository(db)),
	)

	startTime := time.Now()
	result, err := engine.Sync(ctx, connectionID)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Connection %s ===\n", connectionID)
	fmt.Printf("  Accounts synced:      %d\n", len(result.Accounts))
	fmt.Printf("  Transactions synced:  %d\n", len(result.Transactions))
	printErrors(result.Errors())

	log.Info().Dur("elapsed", time.Since(startTime)).Msg("resync completed")
	return nil
}

func runLogs(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: admin logs <email>")
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := user.NewService(postgres.NewUserRepository(db))
	u, err := users.GetByEmail(ctx, args[0])
	if err != nil {
		return err
	}

	entries, err := synclog.NewService(postgres.NewSyncLogRepository(db)).ListForUser(ctx, u.ID, synclog.DefaultListLimit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No sync logs")
		return nil
	}

	for _, e := range entries {
		connectionID := "-"
		if e.ConnectionID != nil {
			connectionID = *e.ConnectionID
		}
		fmt.Printf("%s  %-8s %-16s %-24s %s\n", e.CreatedAt.Format(time.RFC3339), e.Status, e.Action, connectionID, e.Message)
		printErrors(e.Errors)
	}
	return nil
}

func printErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("  Errors:               %d\n", len(errs))
	for i, e := range errs {
		if i >= 5 {
			fmt.Printf("    ... and %d more errors\n", len(errs)-5)
			break
		}
		fmt.Printf("    - %s\n", e)
	}
}
