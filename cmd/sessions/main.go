package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/session"
)

type purgeStats struct {
	Found       int
	Live        int
	Stale       int
	WouldDelete int
	Deleted     int
}

func main() {
	var apply bool
	flag.BoolVar(&apply, "apply", false, "Delete expired and unreadable sessions. Default is dry-run.")
	flag.Parse()

	config.LoadDotEnv()
	sessionCfg := config.SessionFromEnv()
	if sessionCfg.AgeIdentity == "" {
		// an ephemeral key would see every stored session as unreadable.
		log.Fatal("SESSION_AGE_IDENTITY is required")
	}

	ctx := context.Background()
	c, err := cache.MakeCache(config.CacheFromEnv())
	if err != nil {
		log.Fatalf("failed to create cache: %v", err)
	}
	store, err := session.NewStore(c, sessionCfg)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer store.Close()

	stats, err := purgeSessions(ctx, store, apply, os.Stdout)
	if err != nil {
		log.Fatalf("purge failed: %v", err)
	}

	fmt.Printf("done: found=%d live=%d stale=%d would_delete=%d deleted=%d mode=%s\n",
		stats.Found, stats.Live, stats.Stale, stats.WouldDelete, stats.Deleted, mode(apply))
}

func purgeSessions(ctx context.Context, store *session.Store, apply bool, out io.Writer) (purgeStats, error) {
	var stats purgeStats
	ids, err := store.List(ctx)
	if err != nil {
		return stats, err
	}
	stats.Found = len(ids)
	for _, id := range ids {
		_, err := store.Load(ctx, id)
		switch {
		case err == nil:
			stats.Live++
		case errors.Is(err, session.ErrNoSession):
			stats.Stale++
			if !apply {
				stats.WouldDelete++
				_, _ = fmt.Fprintf(out, "would delete %s\n", id)
			}
		default:
			_, _ = fmt.Fprintf(out, "failed to read %s: %v\n", id, err)
		}
	}
	if !apply {
		return stats, nil
	}
	stats.Deleted, err = store.Purge(ctx)
	return stats, err
}

func mode(apply bool) string {
	if apply {
		return "apply"
	}
	return "dry-run"
}
