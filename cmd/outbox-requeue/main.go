package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type config struct {
	dsn     string
	ids     []string
	execute bool
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, cfg, os.Stdout); err != nil {
		fail("outbox requeue failed: %v", err)
	}
}

func readConfig(args []string) (config, error) {
	var (
		cfg    config
		rawIDs string
	)
	fs := flag.NewFlagSet("outbox-requeue", flag.ContinueOnError)
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: SAGA_POSTGRES_DSN)")
	fs.StringVar(&rawIDs, "ids", "", "comma-separated outbox message ids; empty requeues every FAILED row")
	fs.BoolVar(&cfg.execute, "execute", false, "requeue rows; default only prints backlog stats")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(os.Getenv("SAGA_POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("SAGA_POSTGRES_DSN (or -dsn) is required")
	}
	for _, id := range strings.Split(rawIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.ids = append(cfg.ids, id)
		}
	}
	return cfg, nil
}

// run печатает состояние outbox и в режиме execute возвращает FAILED-строки в PENDING,
// откуда их снова заберёт outbox relay.
func run(ctx context.Context, store domain.Transactor, cfg config, out io.Writer) error {
	return store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		stats, err := tx.Outbox().Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		fmt.Fprintf(out, "pending=%d failed=%d\n", stats.PendingCount, stats.FailedCount)
		if !stats.OldestPendingAt.IsZero() {
			fmt.Fprintf(out, "oldest pending at %s\n", stats.OldestPendingAt.UTC().Format(time.RFC3339))
		}

		if !cfg.execute {
			fmt.Fprintln(out, "dry-run: pass -execute to requeue failed messages")
			return nil
		}

		n, err := tx.Outbox().RequeueFailed(ctx, cfg.ids)
		if err != nil {
			return fmt.Errorf("requeue failed messages: %w", err)
		}
		log.WithFields(log.Fields{"requeued": n, "ids": len(cfg.ids)}).Info("outbox messages requeued")
		fmt.Fprintf(out, "requeued=%d\n", n)
		return nil
	})
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
