package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"quarters/api/internal/ballot"
	"quarters/api/internal/window"
)

const (
	eventTally  = "tally"
	eventClosed = "closed"

	liveBuffer = 16
)

type liveEvent struct {
	Type         string       `json:"type"`
	Ballot       string       `json:"ballot"`
	Tally        ballot.Tally `json:"tally,omitempty"`
	Participants int          `json:"participants,omitempty"`
	Redirect     string       `json:"redirect,omitempty"`
}

// liveHub fans window events out to the connected clients of each ballot.
type liveHub struct {
	mu      sync.Mutex
	clients map[string]map[chan liveEvent]struct{}
}

func newLiveHub() *liveHub {
	return &liveHub{clients: map[string]map[chan liveEvent]struct{}{}}
}

func (h *liveHub) subscribe(ballotType string, ch chan liveEvent) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ballotType] == nil {
		h.clients[ballotType] = map[chan liveEvent]struct{}{}
	}
	h.clients[ballotType][ch] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[ballotType], ch)
			h.mu.Unlock()
		})
	}
}

// broadcast never blocks; a client that is not keeping up misses the event.
func (h *liveHub) broadcast(ballotType string, event liveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[ballotType] {
		select {
		case ch <- event:
		default:
			log.WithField("ballot", ballotType).Warn("live client too slow, event dropped")
		}
	}
}

func (h *liveHub) count(ballotType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[ballotType])
}

func send(ch chan liveEvent, event liveEvent) {
	select {
	case ch <- event:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type liveRequest struct {
	Type string `json:"type"`
}

// ServeLive streams the tally of a ballot over a websocket, followed by a
// closed event when voting ends.
func (s *Service) ServeLive(w http.ResponseWriter, r *http.Request, ballotType string) error {
	def, err := s.ballot(ballotType)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("failed to upgrade websocket")
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan liveEvent, liveBuffer)
	unsubscribeHub := s.hub.subscribe(def.name, events)
	defer unsubscribeHub()

	unsubscribeVotes, err := s.votes.Subscribe(ctx, def.name, func(all map[string]ballot.History) {
		participants := 0
		for _, history := range all {
			if !ballot.LatestSelection(history, def.shape).IsEmpty() {
				participants++
			}
		}
		send(events, liveEvent{
			Type:         eventTally,
			Ballot:       def.name,
			Tally:        fullTally(all, def.shape),
			Participants: participants,
		})
	})
	if err != nil {
		log.WithError(err).WithField("ballot", def.name).Warn("live tally unavailable")
		_ = ws.WriteJSON(map[string]any{"code": "STORE_UNAVAILABLE", "error": "The vote store is unavailable, try again"})
		return nil
	}
	defer unsubscribeVotes()

	if def.window.Check() == window.Closed {
		send(events, liveEvent{Type: eventClosed, Ballot: def.name, Redirect: def.window.Redirect()})
	}

	quit := make(chan struct{}, 1)
	go func() {
		for {
			var req liveRequest
			if err := ws.ReadJSON(&req); err != nil {
				if closeErr, ok := err.(*websocket.CloseError); ok {
					if closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
						log.WithError(closeErr).Debug("websocket closed")
					}
				} else {
					log.WithError(err).Debug("error reading websocket message")
				}
				quit <- struct{}{}
				return
			}
			switch req.Type {
			case "h": // heartbeat
			default:
				log.WithField("type", req.Type).Info("unknown live request type")
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case <-ctx.Done():
			return nil
		case event := <-events:
			if err := ws.WriteJSON(event); err != nil {
				log.WithError(err).Error("error writing websocket message")
				return nil
			}
		}
	}
}
