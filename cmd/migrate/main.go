package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"rotasave.org/internal/migrate"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/store/pg"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("ROTASAVE_PG_DSN"), "PostgreSQL DSN")
		logFormat = flag.String("log-format", "text", "log format (json|text)")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	logger, err := obs.SetupLogging(os.Stderr, *logFormat, "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dsn == "" {
		logger.Error("missing DSN: provide via -dsn or ROTASAVE_PG_DSN")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		logger.Error("usage: migrate [up|down|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := pg.Open(*dsn)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	mgr := migrate.NewManager(st.DB(), pg.Migrations, pg.MigrationsDir)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			logger.Info("migrations applied", "count", len(applied), "files", applied)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			err = nil
		} else if err == nil {
			logger.Info("migration rolled back", "file", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}
