package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"

	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/session"
)

func seededStore(t *testing.T) (*session.Store, string) {
	t.Helper()
	ctx := context.Background()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	c := cache.NewInMemoryCache()
	store, err := session.NewStore(c, config.SessionConfig{AgeIdentity: identity.String(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	live := store.New()
	if err := store.Save(ctx, live); err != nil {
		t.Fatalf("save live session: %v", err)
	}
	garbage := uuid.NewString()
	if err := c.Put(ctx, "session/"+garbage, "not-a-sealed-session", cache.PutOptions{}); err != nil {
		t.Fatalf("seed unreadable session: %v", err)
	}
	return store, garbage
}

func TestPurgeSessionsDryRun(t *testing.T) {
	t.Parallel()
	store, garbage := seededStore(t)
	var out bytes.Buffer

	stats, err := purgeSessions(context.Background(), store, false, &out)
	if err != nil {
		t.Fatalf("purge sessions: %v", err)
	}
	if stats.Found != 2 || stats.Live != 1 || stats.Stale != 1 || stats.WouldDelete != 1 || stats.Deleted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !strings.Contains(out.String(), "would delete "+garbage) {
		t.Fatalf("expected dry-run output to name %s, got %q", garbage, out.String())
	}
	if ids, _ := store.List(context.Background()); len(ids) != 2 {
		t.Fatalf("dry-run removed sessions: %v", ids)
	}
}

func TestPurgeSessionsApply(t *testing.T) {
	t.Parallel()
	store, _ := seededStore(t)

	stats, err := purgeSessions(context.Background(), store, true, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("purge sessions: %v", err)
	}
	if stats.Deleted != 1 || stats.WouldDelete != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	ids, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one live session left, got %v", ids)
	}
}
