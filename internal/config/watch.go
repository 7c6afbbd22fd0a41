package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"quarters/api/internal/identity"
)

const debounceDuration = time.Second

// WatchRoster re-reads the voters, master and aliases from path whenever the
// file changes and hands the new roster to fn. Bursts of change events are
// debounced. Environment variables still override the file.
func WatchRoster(path string, fn func(identity.Roster)) error {
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDuration, func() {
			if err := v.ReadInConfig(); err != nil {
				log.WithError(err).WithField("file", e.Name).Warn("config: reload failed, keeping previous roster")
				return
			}
			roster := rosterFrom(v)
			log.WithFields(log.Fields{"file": e.Name, "voters": roster.Size()}).Info("config: roster reloaded")
			fn(roster)
		})
	})
	v.WatchConfig()
	return nil
}

func rosterFrom(v *viper.Viper) identity.Roster {
	return identity.NewRoster(stringList(v.Get("VOTERS")), v.GetString("MASTER"), aliasMap(v.Get("ALIASES")))
}
