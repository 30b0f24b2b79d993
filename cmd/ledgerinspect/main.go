// ledgerinspect is an operational CLI for the economic write-ahead log
// (internal/ledger): list unprocessed entries, or mark a user's
// unprocessed entries as processed once their profile-cache credit is
// confirmed independently. Grounded on cmd/sqlconv's command-dispatch
// shape: os.Args[1] picks the subcommand, a flag.FlagSet per subcommand
// parses the rest.
//
// Usage:
//
//	go run ./cmd/ledgerinspect <command> [-config path]
//
// Commands: list, mark-processed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/ledger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "config/server.toml", "path to server config")
	userID := fs.Int64("user", 0, "user id (required for mark-processed)")
	_ = fs.Parse(os.Args[2:])

	if err := run(cmd, *cfgPath, *userID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: ledgerinspect <command> [-config path] [-user id]")
	fmt.Println("commands:")
	fmt.Println("  list             print every unprocessed WAL entry")
	fmt.Println("  mark-processed   mark -user's unprocessed entries as processed")
}

func run(cmd, cfgPath string, userID int64) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zap.NewNop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := ledger.NewDB(ctx, cfg.Ledger, log)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer db.Close()

	repo := ledger.NewWALRepo(db)

	switch cmd {
	case "list":
		return listUnprocessed(ctx, repo)
	case "mark-processed":
		if userID == 0 {
			return fmt.Errorf("-user is required for mark-processed")
		}
		return repo.MarkProcessed(ctx, userID)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func listUnprocessed(ctx context.Context, repo *ledger.WALRepo) error {
	entries, err := repo.ListUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("list unprocessed: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no unprocessed entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-14s user=%-10d faction=%-10s amount=%-10d detail=%s\n",
			e.TxType, e.UserID, e.Faction, e.Amount, e.Detail)
	}
	fmt.Printf("\n%d unprocessed entries\n", len(entries))
	return nil
}
