package app

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"quarters/api/internal/export"
)

const archiveTimeout = 30 * time.Second

// StartWindows polls every ballot's deadline until it passes or ctx ends.
func (s *Service) StartWindows(ctx context.Context) {
	for _, name := range s.order {
		def := s.ballots[name]
		log.WithFields(log.Fields{"ballot": name, "deadline": def.window.Deadline()}).Info("voting window started")
		go def.window.Run(ctx)
	}
}

// onWindowClosed runs once per ballot, after the redirect delay. Live clients
// are sent to the results page and the final standings are archived.
func (s *Service) onWindowClosed(name, redirect string) {
	s.hub.broadcast(name, liveEvent{Type: eventClosed, Ballot: name, Redirect: redirect})

	if s.export == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	results, err := s.Results(ctx, name)
	if err != nil {
		log.WithError(err).WithField("ballot", name).Warn("could not read final results")
		return
	}
	url, err := s.export.ArchiveResults(ctx, s.report(results))
	switch {
	case errors.Is(err, export.ErrArchiveDisabled):
		log.WithField("ballot", name).Debug("archive disabled, final results not uploaded")
	case err != nil:
		log.WithError(err).WithField("ballot", name).Error("archive final results")
	default:
		log.WithFields(log.Fields{"ballot": name, "url": url}).Info("final results archived")
	}
}

// Close releases background resources.
func (s *Service) Close() {
	s.search.Close()
}
