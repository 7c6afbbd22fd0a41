package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarters/api/internal/identity"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, 3, cfg.HouseMaxPicks)
	assert.Equal(t, 7, cfg.RentalSplitSeats)
	assert.Equal(t, time.Minute, cfg.WindowPoll)
	assert.Equal(t, 3*time.Second, cfg.RedirectDelay)
	assert.False(t, cfg.SkipEmptyVotes)
	assert.Equal(t, time.Date(2025, 6, 21, 23, 59, 59, 0, time.Local), cfg.HouseDeadline)

	roster := cfg.Roster()
	assert.True(t, roster.IsMaster("alexis"))
	assert.True(t, roster.IsEligible(roster.Normalize(" Cita ")))
	assert.True(t, roster.IsEligible(roster.Normalize("Yazmere")))
	for _, name := range []string{"yazmeir", "jaden", "delaney"} {
		assert.True(t, roster.IsEligible(name), name)
	}
	assert.Equal(t, 12, roster.Size())
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOTERS", "jay, Eric ,,sania")
	t.Setenv("ALIASES", "j=jay, bad, e = eric")
	t.Setenv("MASTER", "jay")
	t.Setenv("HOUSE_DEADLINE", "2025-07-01T12:00:00Z")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("VOTES_SKIP_EMPTY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"jay", "Eric", "sania"}, cfg.Voters)
	assert.Equal(t, map[string]string{"j": "jay", "e": "eric"}, cfg.Aliases)
	assert.Equal(t, time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), cfg.HouseDeadline.UTC())
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.True(t, cfg.SkipEmptyVotes)
	assert.True(t, cfg.Roster().IsEligible("eric"))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"STORE_BACKEND":   "sqlite",
		"RENTAL_DEADLINE": "next friday",
		"HOUSE_MAX_PICKS": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "quarters.yaml")
	body := "voters:\n  - alexis\n  - Kendall\nmaster: kendall\naliases:\n  kenny: kendall\nhouse_max_picks: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, 2, cfg.HouseMaxPicks)

	roster := cfg.Roster()
	assert.True(t, roster.IsMaster(roster.Normalize("Kenny")))
	assert.Equal(t, 2, roster.Size())

	t.Setenv("HOUSE_MAX_PICKS", "4")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.HouseMaxPicks, "environment wins over the file")
}

func TestWatchRosterReloads(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "quarters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voters: alexis,jay\nmaster: alexis\n"), 0o600))

	rosters := make(chan identity.Roster, 4)
	require.NoError(t, WatchRoster(path, func(r identity.Roster) { rosters <- r }))

	require.NoError(t, os.WriteFile(path, []byte("voters: alexis,jay,eric\nmaster: jay\n"), 0o600))

	select {
	case roster := <-rosters:
		assert.Equal(t, 3, roster.Size())
		assert.True(t, roster.IsMaster("jay"))
	case <-time.After(10 * time.Second):
		t.Fatal("roster was not reloaded")
	}
}

func TestWatchRosterNeedsFile(t *testing.T) {
	assert.Error(t, WatchRoster("", func(identity.Roster) {}))
	assert.Error(t, WatchRoster(filepath.Join(t.TempDir(), "missing.yaml"), func(identity.Roster) {}))
}
