package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quarters/api/internal/config"
)

func TestWindowCloseBroadcastsRedirect(t *testing.T) {
	var delays []time.Duration
	env := newTestEnv(t, func(cfg *config.Config, deps *Deps) {
		cfg.RentalDeadline = time.Now().Add(-time.Second)
		cfg.RedirectDelay = 3 * time.Second
		deps.After = func(d time.Duration, fn func()) {
			delays = append(delays, d)
			fn()
		}
	})

	events := make(chan liveEvent, 4)
	unsubscribe := env.service.hub.subscribe(BallotRental, events)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.service.StartWindows(ctx)

	select {
	case event := <-events:
		if event.Type != eventClosed || event.Redirect != "/rental-results" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no closed event broadcast")
	}

	// Later checks never fire the redirect again.
	env.service.ballots[BallotRental].window.Check()
	select {
	case event := <-events:
		t.Fatalf("unexpected second event %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Errorf("expected one redirect after 3s, got %v", delays)
	}
}

func TestLiveStreamsTally(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ballots/house/live"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	readEvent := func() liveEvent {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var event liveEvent
		if err := ws.ReadJSON(&event); err != nil {
			t.Fatalf("read event: %v", err)
		}
		return event
	}

	first := readEvent()
	if first.Type != eventTally || len(first.Tally["all"]) != 0 {
		t.Fatalf("expected empty initial tally, got %+v", first)
	}

	if err := ws.WriteJSON(liveRequest{Type: "h"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	sess, err := env.service.CreateSession(context.Background(), "device-jay", "jay")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := env.service.CastVote(context.Background(), sess, BallotHouse, "h5"); err != nil {
		t.Fatalf("cast vote: %v", err)
	}

	for {
		event := readEvent()
		if event.Type == eventTally && event.Tally["all"]["h5"] == 1 {
			if event.Participants != 1 {
				t.Errorf("expected one participant, got %d", event.Participants)
			}
			return
		}
	}
}
