package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"quarters/api/internal/ballot"
	"quarters/api/internal/catalog"
	"quarters/api/internal/export"
	"quarters/api/internal/rbac"
	"quarters/api/internal/split"
	"quarters/api/internal/window"
)

type CandidateView struct {
	catalog.Item
	Slot      ballot.Slot `json:"slot"`
	PerPerson float64     `json:"perPerson"`
	Votes     int         `json:"votes"`
	Selected  bool        `json:"selected"`
}

type BallotView struct {
	Ballot        string           `json:"ballot"`
	Title         string           `json:"title"`
	Kind          ballot.Kind      `json:"kind"`
	Limit         int              `json:"limit,omitempty"`
	State         window.State     `json:"state"`
	TimeRemaining string           `json:"timeRemaining"`
	Deadline      time.Time        `json:"deadline"`
	Redirect      string           `json:"redirect"`
	Candidates    []CandidateView  `json:"candidates"`
	Selection     ballot.Selection `json:"selection"`
	Tally         ballot.Tally     `json:"tally"`
	Voters        int              `json:"voters"`
	Participants  int              `json:"participants"`
	CanVote       bool             `json:"canVote"`
	CanReset      bool             `json:"canReset"`
	Locked        bool             `json:"locked"`
	// Stale is set when the store could not be read and the selection comes
	// from the device cache.
	Stale         bool             `json:"stale,omitempty"`
}

type VoteResult struct {
	BallotView
	Written   bool  `json:"written"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

type Standing struct {
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname"`
	Votes     int     `json:"votes"`
	Top       bool    `json:"top"`
	TotalCost float64 `json:"totalCost"`
	PerPerson float64 `json:"perPerson"`
}

type SlotResults struct {
	Slot      ballot.Slot `json:"slot"`
	Standings []Standing  `json:"standings"`
}

type ResultsView struct {
	Ballot string        `json:"ballot"`
	Title  string        `json:"title"`
	State  window.State  `json:"state"`
	Voters int           `json:"voters"`
	Slots  []SlotResults `json:"slots"`
}

// perPerson splits a candidate's total cost over the allow-list.
func perPerson(total float64, voters int) float64 {
	share, err := split.PerPersonFull(total, voters)
	if err != nil {
		return 0
	}
	return split.RoundToCents(share)
}

// fullTally has an entry for every slot of the shape, empty or not.
func fullTally(all map[string]ballot.History, shape ballot.Shape) ballot.Tally {
	tally := ballot.ComputeTally(all, shape)
	out := ballot.Tally{}
	for _, slot := range shape.Slots() {
		out[slot] = tally.Counts(slot)
	}
	return out
}

func (s *Service) buildView(def *ballotDef, sess Session, all map[string]ballot.History, sel ballot.Selection, stale bool) BallotView {
	roster := s.Roster()
	state := def.window.Check()
	tally := fullTally(all, def.shape)

	participants := 0
	for _, history := range all {
		if !ballot.LatestSelection(history, def.shape).IsEmpty() {
			participants++
		}
	}

	candidates := []CandidateView{}
	for _, item := range s.catalog.ByKind(def.kind) {
		slot := def.shape.SlotFor(item.Seats)
		candidates = append(candidates, CandidateView{
			Item:      item,
			Slot:      slot,
			PerPerson: perPerson(item.TotalCost, roster.Size()),
			Votes:     tally.Counts(slot)[item.ID],
			Selected:  sel.Has(item.ID),
		})
	}

	view := BallotView{
		Ballot:        def.name,
		Title:         def.title,
		Kind:          def.shape.Kind,
		Limit:         def.shape.Limit,
		State:         state,
		TimeRemaining: def.window.TimeRemaining(),
		Deadline:      def.window.Deadline(),
		Redirect:      def.window.Redirect(),
		Candidates:    candidates,
		Selection:     sel,
		Tally:         tally,
		Voters:        roster.Size(),
		Participants:  participants,
		CanVote:       rbac.CanVote(sess.IdentityKey, roster, state),
		CanReset:      rbac.CanReset(sess.IdentityKey, roster),
		Stale:         stale,
	}
	if sess.DeviceID != "" {
		view.Locked = s.devices.Locked(sess.DeviceID, def.name)
	}
	return view
}

// Ballot is the ballot page. Store data wins over the device cache and
// refreshes it; the cache is only shown when the store cannot be read.
func (s *Service) Ballot(ctx context.Context, sess Session, ballotType string) (BallotView, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return BallotView{}, err
	}

	all, err := s.votes.FetchAll(ctx, def.name)
	if err != nil {
		log.WithError(err).WithField("ballot", def.name).Warn("ballot view falling back to device cache")
		sel := def.shape.Empty()
		if sess.DeviceID != "" {
			sel, _ = s.devices.Selection(sess.DeviceID, def.name, def.shape)
		}
		return s.buildView(def, sess, nil, sel, true), nil
	}

	sel := def.shape.Empty()
	if sess.Authenticated() {
		sel = ballot.LatestSelection(all[sess.IdentityKey], def.shape)
		if sess.DeviceID != "" {
			s.devices.SetSelection(sess.DeviceID, def.name, sel)
		}
	}
	return s.buildView(def, sess, all, sel, false), nil
}

// CastVote toggles candidateID in the caller's selection and appends the
// result to their history.
func (s *Service) CastVote(ctx context.Context, sess Session, ballotType, candidateID string) (VoteResult, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return VoteResult{}, err
	}
	if !sess.Authenticated() {
		return VoteResult{}, errInvalidIdentity()
	}
	state := def.window.Check()
	if state == window.Closed {
		return VoteResult{}, errVotingClosed(def.window)
	}
	if !rbac.CanVote(sess.IdentityKey, s.Roster(), state) {
		return VoteResult{}, errRestricted("You're not allowed to vote.")
	}
	if sess.DeviceID != "" && s.devices.Locked(sess.DeviceID, def.name) {
		return VoteResult{}, errBallotLocked()
	}
	if candidateID == "" {
		return VoteResult{}, ballot.ErrNoCandidate
	}

	history, err := s.votes.History(ctx, def.name, sess.IdentityKey)
	if err != nil {
		return VoteResult{}, storeError("read vote history", err)
	}
	current := ballot.LatestSelection(history, def.shape)
	next, err := ballot.Toggle(current, s.catalog.Candidate(candidateID), def.shape)
	if err != nil {
		if errors.Is(err, ballot.ErrLimitReached) {
			return VoteResult{}, domainError(http.StatusConflict, "LIMIT_REACHED", fmt.Sprintf("You can pick up to %d options", def.shape.Limit), map[string]any{"limit": def.shape.Limit})
		}
		return VoteResult{}, err
	}

	snapshot, written, err := s.votes.AppendVote(ctx, def.name, sess.IdentityKey, next)
	if err != nil {
		return VoteResult{}, storeError("append vote", err)
	}
	if sess.DeviceID != "" {
		s.devices.SetSelection(sess.DeviceID, def.name, next)
	}
	log.WithFields(log.Fields{
		"ballot":    def.name,
		"identity":  sess.IdentityKey,
		"candidate": candidateID,
		"written":   written,
	}).Info("vote cast")

	// The vote is stored at this point; a failed re-read only degrades the view.
	stale := false
	all, err := s.votes.FetchAll(ctx, def.name)
	if err != nil {
		log.WithError(err).WithField("ballot", def.name).Warn("vote stored, tally re-read failed")
		if written {
			history = append(history, snapshot)
		}
		all = map[string]ballot.History{sess.IdentityKey: history}
		stale = true
	}
	return VoteResult{
		BallotView: s.buildView(def, sess, all, next, stale),
		Written:    written,
		Timestamp:  snapshot.Timestamp,
	}, nil
}

// LockBallot finalizes the caller's vote on this device.
func (s *Service) LockBallot(ctx context.Context, sess Session, ballotType string) (BallotView, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return BallotView{}, err
	}
	if !sess.Authenticated() || sess.DeviceID == "" {
		return BallotView{}, errInvalidIdentity()
	}
	if !rbac.Can(rbac.RoleFor(sess.IdentityKey, s.Roster()), rbac.ActionLock) {
		return BallotView{}, errRestricted("You're not allowed to vote.")
	}
	s.devices.SetLocked(sess.DeviceID, def.name, true)
	log.WithFields(log.Fields{"ballot": def.name, "identity": sess.IdentityKey, "device": sess.DeviceID}).Info("ballot locked")
	return s.Ballot(ctx, sess, ballotType)
}

// ResetBallot clears every allow-listed history of the ballot and the cached
// state of every device bound to those identities. Only the master may.
func (s *Service) ResetBallot(ctx context.Context, sess Session, ballotType string) (map[string]any, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return nil, err
	}
	roster := s.Roster()
	if !rbac.CanReset(sess.IdentityKey, roster) {
		return nil, errRestricted("Only the master can reset votes.")
	}

	members := roster.Members()
	if err := s.votes.ClearAll(ctx, def.name, members); err != nil {
		return nil, storeError("clear votes", err)
	}
	devices := s.devices.ClearSelections(def.name, members)
	log.WithFields(log.Fields{"ballot": def.name, "identities": len(members), "devices": devices}).Warn("ballot reset")

	return map[string]any{
		"ballot":         def.name,
		"clearedVoters":  len(members),
		"clearedDevices": devices,
	}, nil
}

// Results ranks the candidates of every slot.
func (s *Service) Results(ctx context.Context, ballotType string) (ResultsView, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return ResultsView{}, err
	}
	all, err := s.votes.FetchAll(ctx, def.name)
	if err != nil {
		return ResultsView{}, storeError("fetch votes", err)
	}
	return s.rank(def, all), nil
}

func (s *Service) rank(def *ballotDef, all map[string]ballot.History) ResultsView {
	voters := s.Roster().Size()
	tally := ballot.ComputeTally(all, def.shape)

	view := ResultsView{
		Ballot: def.name,
		Title:  def.title,
		State:  def.window.Check(),
		Voters: voters,
		Slots:  []SlotResults{},
	}
	for _, slot := range def.shape.Slots() {
		var ids []string
		for _, item := range s.catalog.ByKind(def.kind) {
			if def.shape.SlotFor(item.Seats) == slot {
				ids = append(ids, item.ID)
			}
		}
		standings := []Standing{}
		for _, st := range ballot.Rank(tally.Counts(slot), ids) {
			item, _ := s.catalog.Lookup(st.ID)
			standings = append(standings, Standing{
				ID:        st.ID,
				Nickname:  item.Nickname,
				Votes:     st.Votes,
				Top:       st.Top,
				TotalCost: item.TotalCost,
				PerPerson: perPerson(item.TotalCost, voters),
			})
		}
		view.Slots = append(view.Slots, SlotResults{Slot: slot, Standings: standings})
	}
	return view
}

func (s *Service) report(results ResultsView) export.Report {
	report := export.Report{
		Title:       results.Title + " results",
		Ballot:      results.Ballot,
		Voters:      results.Voters,
		GeneratedAt: s.now(),
	}
	for _, slot := range results.Slots {
		section := export.Section{}
		if slot.Slot != ballot.SlotAll {
			section.Label = string(slot.Slot) + " seats"
		}
		for _, st := range slot.Standings {
			section.Rows = append(section.Rows, export.Row{
				Candidate: st.ID,
				Nickname:  st.Nickname,
				Votes:     st.Votes,
				Top:       st.Top,
				PerPerson: st.PerPerson,
			})
		}
		report.Sections = append(report.Sections, section)
	}
	return report
}

func (s *Service) ResultsCSV(ctx context.Context, ballotType string) (*export.Result, error) {
	results, err := s.Results(ctx, ballotType)
	if err != nil {
		return nil, err
	}
	return export.ResultsCSV(s.report(results))
}

func (s *Service) ResultsPDF(ctx context.Context, ballotType string) (*export.Result, error) {
	if s.export == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	results, err := s.Results(ctx, ballotType)
	if err != nil {
		return nil, err
	}
	return s.export.ResultsPDF(ctx, s.report(results))
}

// Histories lists every stored history of the ballot, oldest snapshot first.
func (s *Service) Histories(ctx context.Context, ballotType string) (map[string]any, error) {
	def, err := s.ballot(ballotType)
	if err != nil {
		return nil, err
	}
	all, err := s.votes.FetchAll(ctx, def.name)
	if err != nil {
		return nil, storeError("fetch votes", err)
	}
	histories := make(map[string]ballot.History, len(all))
	for key, history := range all {
		histories[key] = history
	}
	return map[string]any{
		"ballot":     def.name,
		"skipsEmpty": s.votes.SkipsEmpty(),
		"histories":  histories,
	}, nil
}
