package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"quarters/api/internal/export"
	"quarters/api/internal/lists"
	"quarters/api/internal/search"
	"quarters/api/internal/split"
)

const requestsList = "requests"

// listError keeps list sentinels as they are and treats everything else as a
// store failure.
func listError(op string, err error) error {
	switch {
	case errors.Is(err, lists.ErrNoIdentity),
		errors.Is(err, lists.ErrEmptyText),
		errors.Is(err, lists.ErrIndexOutOfRange),
		errors.Is(err, lists.ErrItemNotFound),
		errors.Is(err, lists.ErrInvalidQuantity):
		return err
	}
	return storeError(op, err)
}

func (s *Service) gateUnlocked(sess Session) bool {
	return sess.DeviceID != "" && s.devices.GateUnlocked(sess.DeviceID)
}

// listsFinal reports whether the device has finalized its rental vote, which
// also freezes its list edits.
func (s *Service) listsFinal(sess Session) bool {
	return sess.DeviceID != "" && s.devices.Locked(sess.DeviceID, BallotRental)
}

func (s *Service) requireEditor(sess Session) error {
	if !sess.Authenticated() {
		return errInvalidIdentity()
	}
	if s.listsFinal(sess) {
		return domainError(http.StatusConflict, "BALLOT_LOCKED", "Editing is locked. List is final.", nil)
	}
	return nil
}

// UnlockGate opens the restricted pages on this device.
func (s *Service) UnlockGate(sess Session, passphrase string) (map[string]any, error) {
	if sess.DeviceID == "" {
		return nil, errValidation("X-Device-ID header is required")
	}
	if s.gate == nil {
		return nil, errRestricted("Incorrect password.")
	}
	if err := s.gate.Check(passphrase); err != nil {
		log.WithField("device", sess.DeviceID).Warn("gate passphrase rejected")
		return nil, err
	}
	s.devices.SetGateUnlocked(sess.DeviceID, true)
	return map[string]any{"gateUnlocked": true}, nil
}

// SetSidebar stores the sidebar preference of the device.
func (s *Service) SetSidebar(sess Session, open bool) (map[string]any, error) {
	if sess.DeviceID == "" {
		return nil, errValidation("X-Device-ID header is required")
	}
	s.devices.SetSidebar(sess.DeviceID, open)
	return map[string]any{"sidebar": open}, nil
}

// GroceryItems lists the shared grocery list as the device may see it.
func (s *Service) GroceryItems(ctx context.Context, sess Session, category string) (map[string]any, error) {
	unlocked := s.gateUnlocked(sess)
	items, err := s.lists.Items(ctx, lists.Filter{
		Category:       lists.Category(strings.ToLower(strings.TrimSpace(category))),
		IncludeAlcohol: unlocked,
	})
	if err != nil {
		return nil, listError("read grocery list", err)
	}
	return map[string]any{
		"items":        items,
		"gateUnlocked": unlocked,
		"locked":       s.listsFinal(sess),
	}, nil
}

func (s *Service) AddGroceryItem(ctx context.Context, sess Session, name string, quantity int) (lists.Item, error) {
	if err := s.requireEditor(sess); err != nil {
		return lists.Item{}, err
	}
	if lists.Categorize(name) == lists.CategoryAlcohol && !s.gateUnlocked(sess) {
		return lists.Item{}, errRestricted("Enter the password to add this item.")
	}
	item, err := s.lists.AddItem(ctx, sess.IdentityKey, name, quantity)
	if err != nil {
		return lists.Item{}, listError("add grocery item", err)
	}
	log.WithFields(log.Fields{"identity": sess.IdentityKey, "item": item.ID, "category": item.Category}).Info("grocery item added")
	return item, nil
}

func (s *Service) SetGroceryBought(ctx context.Context, sess Session, id string, bought bool) (lists.Item, error) {
	if err := s.requireEditor(sess); err != nil {
		return lists.Item{}, err
	}
	item, err := s.lists.SetBought(ctx, id, bought)
	if err != nil {
		return lists.Item{}, listError("update grocery item", err)
	}
	return item, nil
}

func (s *Service) DeleteGroceryItem(ctx context.Context, sess Session, id string) error {
	if err := s.requireEditor(sess); err != nil {
		return err
	}
	if err := s.lists.DeleteItem(ctx, id); err != nil {
		return listError("delete grocery item", err)
	}
	return nil
}

// GroceryCSV exports what the device can see of the grocery list.
func (s *Service) GroceryCSV(ctx context.Context, sess Session) (*export.Result, error) {
	items, err := s.lists.Items(ctx, lists.Filter{IncludeAlcohol: s.gateUnlocked(sess)})
	if err != nil {
		return nil, listError("read grocery list", err)
	}
	lines := make([]export.GroceryLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, export.GroceryLine{Name: item.Name, Quantity: item.Quantity, Bought: item.Bought})
	}
	return export.GroceryCSV(lines)
}

func (s *Service) requireGate(sess Session) error {
	if !s.gateUnlocked(sess) {
		return errRestricted("Enter the password first.")
	}
	return nil
}

// Requests returns the caller's request list and everybody else's.
func (s *Service) Requests(ctx context.Context, sess Session) (map[string]any, error) {
	if err := s.requireGate(sess); err != nil {
		return nil, err
	}
	all, err := s.lists.All(ctx, requestsList)
	if err != nil {
		return nil, listError("read requests", err)
	}
	mine := all[sess.IdentityKey]
	if mine == nil {
		mine = []string{}
	}
	return map[string]any{"mine": mine, "all": all}, nil
}

func (s *Service) AddRequest(ctx context.Context, sess Session, text string) ([]string, error) {
	if err := s.requireGate(sess); err != nil {
		return nil, err
	}
	if err := s.requireEditor(sess); err != nil {
		return nil, err
	}
	entries, err := s.lists.Add(ctx, requestsList, sess.IdentityKey, text)
	if err != nil {
		return nil, listError("add request", err)
	}
	return entries, nil
}

func (s *Service) RemoveRequest(ctx context.Context, sess Session, index int) ([]string, error) {
	if err := s.requireGate(sess); err != nil {
		return nil, err
	}
	if err := s.requireEditor(sess); err != nil {
		return nil, err
	}
	entries, err := s.lists.Remove(ctx, requestsList, sess.IdentityKey, index)
	if err != nil {
		return nil, listError("remove request", err)
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

// Budget computes the per-person breakdown. A missing group size defaults to
// the allow-list size.
func (s *Service) Budget(in split.BudgetInput) (split.Budget, error) {
	if in.GroupSize == 0 {
		in.GroupSize = s.Roster().Size()
	}
	return split.Compute(in)
}

func (s *Service) BudgetCSV(rows []export.BudgetRow) (*export.Result, error) {
	return export.BudgetCSV(rows)
}

// SearchCatalog finds houses and cars by text.
func (s *Service) SearchCatalog(q search.Query) search.Response {
	return s.search.Search(q)
}

// Dashboard is the landing page: who you are and where each ballot stands.
func (s *Service) Dashboard(ctx context.Context, sess Session) (map[string]any, error) {
	ballots := make([]map[string]any, 0, len(s.order))
	for _, name := range s.order {
		def := s.ballots[name]
		entry := map[string]any{
			"ballot":        def.name,
			"title":         def.title,
			"state":         def.window.Check(),
			"timeRemaining": def.window.TimeRemaining(),
			"deadline":      def.window.Deadline(),
			"watching":      s.hub.count(def.name),
		}
		all, err := s.votes.FetchAll(ctx, def.name)
		if err != nil {
			log.WithError(err).WithField("ballot", def.name).Warn("dashboard could not read votes")
			entry["stale"] = true
		} else {
			results := s.rank(def, all)
			leaders := []string{}
			for _, slot := range results.Slots {
				for _, st := range slot.Standings {
					if st.Top {
						leaders = append(leaders, st.ID)
					}
				}
			}
			entry["leaders"] = leaders
			if sess.Authenticated() {
				entry["voted"] = len(all[sess.IdentityKey]) > 0
			}
		}
		if sess.DeviceID != "" {
			entry["locked"] = s.devices.Locked(sess.DeviceID, def.name)
		}
		ballots = append(ballots, entry)
	}
	return map[string]any{
		"session": s.SessionView(sess),
		"ballots": ballots,
		"voters":  s.Roster().Members(),
	}, nil
}
