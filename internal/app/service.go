package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"quarters/api/internal/auth"
	"quarters/api/internal/ballot"
	"quarters/api/internal/catalog"
	"quarters/api/internal/config"
	"quarters/api/internal/devicecache"
	"quarters/api/internal/export"
	"quarters/api/internal/identity"
	"quarters/api/internal/lists"
	"quarters/api/internal/rbac"
	"quarters/api/internal/search"
	"quarters/api/internal/session"
	"quarters/api/internal/store"
	"quarters/api/internal/util"
	"quarters/api/internal/votes"
	"quarters/api/internal/window"
)

const (
	BallotHouse  = "house"
	BallotRental = "rental"

	defaultSessionTTL = 30 * 24 * time.Hour
)

// Session is the identity a request acts as. A guest session has a device
// but no identity.
type Session struct {
	Token       string
	ID          string
	DeviceID    string
	DisplayName string
	IdentityKey string
	Role        rbac.Role
	ExpiresAt   time.Time
}

func (s Session) Authenticated() bool {
	return s.IdentityKey != ""
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, record session.Record, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Record, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Deps are the collaborators the service is wired with. Search and Export
// may be nil.
type Deps struct {
	KV       store.KV
	Sessions sessionStore
	Devices  *devicecache.Cache
	Catalog  *catalog.Catalog
	Search   *search.Service
	Export   *export.Service
	Gate     *auth.Gate
	// Clock and After replace the wall clock and time.AfterFunc of the
	// voting windows.
	Clock window.Clock
	After func(time.Duration, func())
}

type ballotDef struct {
	name   string
	title  string
	shape  ballot.Shape
	kind   catalog.Kind
	window *window.Window
}

type Service struct {
	cfg      config.Config
	kv       store.KV
	votes    *votes.Store
	lists    *lists.Lists
	sessions sessionStore
	devices  *devicecache.Cache
	catalog  *catalog.Catalog
	search   *search.Service
	export   *export.Service
	gate     *auth.Gate
	hub      *liveHub
	now      func() time.Time

	ballots map[string]*ballotDef
	order   []string

	rosterMu sync.RWMutex
	roster   identity.Roster
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		kv:       deps.KV,
		lists:    lists.New(deps.KV),
		sessions: deps.Sessions,
		devices:  deps.Devices,
		catalog:  deps.Catalog,
		search:   deps.Search,
		export:   deps.Export,
		gate:     deps.Gate,
		hub:      newLiveHub(),
		now:      time.Now,
		ballots:  map[string]*ballotDef{},
		roster:   cfg.Roster(),
	}
	if deps.Clock != nil {
		s.now = deps.Clock.Now
	}
	if s.devices == nil {
		s.devices = devicecache.New(cfg.DeviceCacheTTL)
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewMemory(s.catalog.All()))
	}

	voteOpts := []votes.Option{
		votes.WithClock(s.now),
		votes.WithKeyNormalizer(func(key string) string { return s.Roster().Normalize(key) }),
	}
	if cfg.SkipEmptyVotes {
		voteOpts = append(voteOpts, votes.WithSkipEmpty())
	}
	s.votes = votes.New(deps.KV, voteOpts...)

	s.addBallot(deps, BallotHouse, "House vote", ballot.Multi(cfg.HouseMaxPicks), catalog.KindHouse, cfg.HouseDeadline, "/results")
	s.addBallot(deps, BallotRental, "Rental car vote", ballot.DualSlot(ballot.SlotFive, ballot.SlotSeven, cfg.RentalSplitSeats), catalog.KindCar, cfg.RentalDeadline, "/rental-results")
	return s
}

func (s *Service) addBallot(deps Deps, name, title string, shape ballot.Shape, kind catalog.Kind, deadline time.Time, redirect string) {
	opts := []window.Option{
		window.WithInterval(s.cfg.WindowPoll),
		window.WithRedirect(redirect, s.cfg.RedirectDelay),
		window.OnClose(func(redirect string) { s.onWindowClosed(name, redirect) }),
	}
	if deps.Clock != nil {
		opts = append(opts, window.WithClock(deps.Clock))
	}
	if deps.After != nil {
		opts = append(opts, window.WithAfterFunc(deps.After))
	}
	s.ballots[name] = &ballotDef{
		name:   name,
		title:  title,
		shape:  shape,
		kind:   kind,
		window: window.New(name, deadline, opts...),
	}
	s.order = append(s.order, name)
}

func (s *Service) ballot(name string) (*ballotDef, error) {
	def, ok := s.ballots[name]
	if !ok {
		return nil, errNotFound(fmt.Sprintf("unknown ballot %q", name))
	}
	return def, nil
}

// Roster is the allow-list in effect.
func (s *Service) Roster() identity.Roster {
	s.rosterMu.RLock()
	defer s.rosterMu.RUnlock()
	return s.roster
}

// SetRoster swaps the allow-list, e.g. after the config file changed.
func (s *Service) SetRoster(roster identity.Roster) {
	s.rosterMu.Lock()
	s.roster = roster
	s.rosterMu.Unlock()
	log.WithFields(log.Fields{"voters": roster.Size(), "master": roster.Master}).Info("roster updated")
}

// Bootstrap indexes the catalog for search.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.search.IndexCatalog(s.catalog.All())
	return nil
}

// Ping checks the health of service dependencies.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// CreateSession sets the identity of a device. A device that switches to a
// different identity loses its cached state.
func (s *Service) CreateSession(ctx context.Context, deviceID, name string) (Session, error) {
	roster := s.Roster()
	key := roster.Normalize(name)
	if key == "" {
		return Session{}, errInvalidIdentity()
	}
	display := identity.DisplayName(name)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	if previous, ok := s.devices.Profile(deviceID); ok && previous.IdentityKey != key {
		s.devices.ClearDevice(deviceID)
	}

	ttl := s.cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	record := session.Record{
		SessionID:   util.NewID("ses"),
		DeviceID:    deviceID,
		DisplayName: display,
		IdentityKey: key,
		CreatedAt:   now,
	}

	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:    record.SessionID,
		Device: deviceID,
		Name:   display,
		Key:    key,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.Save(ctx, auth.HashToken(token), record, expiresAt); err != nil {
		return Session{}, storeError("save session", err)
	}
	s.devices.SetProfile(deviceID, devicecache.Profile{DisplayName: display, IdentityKey: key})

	log.WithFields(log.Fields{"identity": key, "device": deviceID}).Info("session created")
	return s.sessionFrom(record, token, expiresAt), nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.Lookup(ctx, auth.HashToken(token))
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, storeError("lookup session", err)
	}
	if record.SessionID != claims.Sub {
		return Session{}, auth.ErrInvalidToken
	}
	if _, ok := s.devices.Profile(record.DeviceID); !ok {
		s.devices.SetProfile(record.DeviceID, devicecache.Profile{DisplayName: record.DisplayName, IdentityKey: record.IdentityKey})
	}
	return s.sessionFrom(record, token, time.Unix(claims.Exp, 0)), nil
}

// GuestSession is the session of a request without a token.
func (s *Service) GuestSession(deviceID string) Session {
	return Session{DeviceID: deviceID, Role: rbac.RoleGuest}
}

// EndSession is "change name": the token is revoked and the device forgets
// its identity and cached selections.
func (s *Service) EndSession(ctx context.Context, sess Session) error {
	if sess.Token != "" {
		if err := s.sessions.Revoke(ctx, auth.HashToken(sess.Token)); err != nil {
			return storeError("revoke session", err)
		}
	}
	if sess.DeviceID != "" {
		s.devices.ClearDevice(sess.DeviceID)
	}
	log.WithFields(log.Fields{"identity": sess.IdentityKey, "device": sess.DeviceID}).Info("session ended")
	return nil
}

func (s *Service) sessionFrom(record session.Record, token string, expiresAt time.Time) Session {
	return Session{
		Token:       token,
		ID:          record.SessionID,
		DeviceID:    record.DeviceID,
		DisplayName: record.DisplayName,
		IdentityKey: record.IdentityKey,
		Role:        rbac.RoleFor(record.IdentityKey, s.Roster()),
		ExpiresAt:   expiresAt,
	}
}

// SessionView is what the client shows about the current identity.
func (s *Service) SessionView(sess Session) map[string]any {
	roster := s.Roster()
	view := map[string]any{
		"authenticated": sess.Authenticated(),
		"deviceId":      sess.DeviceID,
		"role":          sess.Role,
		"sidebar":       sess.DeviceID == "" || s.devices.Sidebar(sess.DeviceID),
		"gateUnlocked":  sess.DeviceID != "" && s.devices.GateUnlocked(sess.DeviceID),
	}
	if !sess.Authenticated() {
		view["displayName"] = nil
		return view
	}
	view["displayName"] = sess.DisplayName
	view["identityKey"] = sess.IdentityKey
	view["eligible"] = roster.IsEligible(sess.IdentityKey)
	view["isMaster"] = roster.IsMaster(sess.IdentityKey)
	view["expiresAt"] = sess.ExpiresAt
	return view
}
