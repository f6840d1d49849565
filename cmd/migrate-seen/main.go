// Package main provides a CLI tool to copy the seen-post set from one store to another,
// typically from the JSON cache file into SQLite or Postgres when switching SEEN_STORE.
//
// Usage:
//
//	migrate-seen [--dry-run] --from file --from-path retweeted_cache.json --to postgres --to-dsn DSN
//
// Ids already present in the destination are kept; the copy is an upsert.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/onnwee/clanwatch/seen"
)

type options struct {
	fromKind, fromPath, fromDSN string
	toKind, toPath, toDSN       string
	dryRun                      bool
}

func main() {
	var o options
	flag.StringVar(&o.fromKind, "from", seen.KindFile, "source store: file, sqlite or postgres")
	flag.StringVar(&o.fromPath, "from-path", seen.DefaultCacheFile, "source JSON cache file")
	flag.StringVar(&o.fromDSN, "from-dsn", "", "source DSN for sqlite or postgres")
	flag.StringVar(&o.toKind, "to", seen.KindPostgres, "destination store: file, sqlite or postgres")
	flag.StringVar(&o.toPath, "to-path", "", "destination JSON cache file")
	flag.StringVar(&o.toDSN, "to-dsn", os.Getenv("SEEN_STORE_DSN"), "destination DSN (default SEEN_STORE_DSN)")
	flag.BoolVar(&o.dryRun, "dry-run", false, "show what would be copied without writing")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := migrate(context.Background(), o); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrate copies every id in the source store into the destination store.
func migrate(ctx context.Context, o options) error {
	if storeKey(o.fromKind, o.fromPath, o.fromDSN) == storeKey(o.toKind, o.toPath, o.toDSN) {
		return fmt.Errorf("source and destination are the same store")
	}
	src, err := seen.NewBackend(ctx, o.fromKind, o.fromPath, o.fromDSN)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	ids, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	if len(ids) == 0 {
		slog.Info("no seen ids found to migrate", slog.String("from", o.fromKind))
		return nil
	}
	slog.Info("found seen ids to migrate",
		slog.Int("count", len(ids)),
		slog.String("from", o.fromKind),
		slog.String("to", o.toKind),
		slog.Bool("dry_run", o.dryRun))
	if o.dryRun {
		return nil
	}

	dst, err := seen.NewBackend(ctx, o.toKind, o.toPath, o.toDSN)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	// Merge so a file destination keeps what it already had.
	existing, err := dst.Load(ctx)
	if err != nil {
		return fmt.Errorf("load destination: %w", err)
	}
	merged := mergeIDs(existing, ids)
	if err := dst.Save(ctx, merged); err != nil {
		return fmt.Errorf("save destination: %w", err)
	}

	slog.Info("migration summary",
		slog.Int("source", len(ids)),
		slog.Int("already_present", len(existing)),
		slog.Int("total", len(merged)))
	return nil
}

// storeKey identifies the store NewBackend would open, with the same defaults applied.
func storeKey(kind, path, dsn string) string {
	switch kind {
	case "", seen.KindFile:
		if path == "" {
			path = seen.DefaultCacheFile
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return seen.KindFile + ":" + filepath.Clean(path)
	default:
		return kind + ":" + dsn
	}
}

func mergeIDs(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := set[id]; ok {
				continue
			}
			set[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
