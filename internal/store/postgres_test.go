package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"
)

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("QUARTERS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("QUARTERS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, os.DirFS(migrationsDir)); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, os.DirFS(migrationsDir)); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreReadWrite(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations"))); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	kv := NewPostgresStore(db)

	updates := make(chan map[string]json.RawMessage, 8)
	unsubscribe, err := kv.Subscribe(ctx, "votes/house", func(state map[string]json.RawMessage) {
		updates <- state
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	if initial := <-updates; len(initial) != 0 {
		t.Fatalf("expected empty initial state, got %v", initial)
	}

	if err := kv.Set(ctx, "votes/house/jay", json.RawMessage(`[{"ids":["h1"],"timestamp":1}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case state := <-updates:
		if _, ok := state["jay"]; !ok {
			t.Fatalf("expected jay in pushed state, got %v", state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}

	err = kv.Modify(ctx, "votes/house/jay", func(current json.RawMessage, found bool) (json.RawMessage, error) {
		if !found {
			t.Fatal("expected existing value")
		}
		return json.RawMessage(`[]`), nil
	})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}

	if err := kv.Update(ctx, map[string]json.RawMessage{"votes/house/jay": nil}); err != nil {
		t.Fatalf("Update delete: %v", err)
	}
	if _, found, err := kv.Get(ctx, "votes/house/jay"); err != nil || found {
		t.Fatalf("Get after delete: found=%v err=%v", found, err)
	}
}

func TestPostgresSubscriptionsShareOneConnection(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations"))); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	kv := NewPostgresStore(db)

	house := make(chan map[string]json.RawMessage, 16)
	rental := make(chan map[string]json.RawMessage, 16)
	for i := 0; i < 3; i++ {
		unsubscribe, err := kv.Subscribe(ctx, "votes/house", func(state map[string]json.RawMessage) { house <- state })
		if err != nil {
			t.Fatalf("Subscribe house: %v", err)
		}
		defer unsubscribe()
	}
	unsubscribe, err := kv.Subscribe(ctx, "votes/rental", func(state map[string]json.RawMessage) { rental <- state })
	if err != nil {
		t.Fatalf("Subscribe rental: %v", err)
	}
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		<-house
	}
	<-rental
	if inUse := db.Stats().InUse; inUse != 1 {
		t.Fatalf("expected one listening connection, got %d in use", inUse)
	}

	if err := kv.Set(ctx, "votes/house/jay", json.RawMessage(`[{"ids":["h1"],"timestamp":1}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case state := <-house:
			if _, ok := state["jay"]; !ok {
				t.Fatalf("expected jay in pushed state, got %v", state)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %d got no notification", i)
		}
	}
	select {
	case state := <-rental:
		t.Fatalf("rental subscriber got a house change: %v", state)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscriberSetFansOutByParent(t *testing.T) {
	var set subscriberSet
	first := newSubscription(func(map[string]json.RawMessage) {}, func() {})
	second := newSubscription(func(map[string]json.RawMessage) {}, func() {})
	other := newSubscription(func(map[string]json.RawMessage) {}, func() {})

	set.add("votes/house", first)
	set.add("votes/house", second)
	set.add("votes/rental", other)

	if got := len(set.targets("votes/house")); got != 2 {
		t.Fatalf("expected 2 house subscribers, got %d", got)
	}
	if got := len(set.targets("votes/unknown")); got != 0 {
		t.Fatalf("expected no subscribers for an unwatched parent, got %d", got)
	}

	set.remove("votes/house", first)
	targets := set.targets("votes/house")
	if len(targets) != 1 || targets[0] != second {
		t.Fatalf("expected only the second subscriber left, got %v", targets)
	}

	set.remove("votes/house", second)
	parents := set.parents()
	if len(parents) != 1 || parents[0] != "votes/rental" {
		t.Fatalf("expected only votes/rental to stay watched, got %v", parents)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		downs = append(downs, migration{version: match[1], path: filepath.Join(migrationsDir, entry.Name())})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
