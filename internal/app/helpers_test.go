package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quarters/api/internal/auth"
	"quarters/api/internal/catalog"
	"quarters/api/internal/config"
	"quarters/api/internal/session"
	"quarters/api/internal/store"
)

type testEnv struct {
	service *Service
	handler http.Handler
	redis   *miniredis.Miniredis
}

func testConfig() config.Config {
	deadline := time.Now().Add(24 * time.Hour)
	return config.Config{
		SessionSecret:    "test-secret",
		SessionTTL:       time.Hour,
		Voters:           []string{"alexis", "jay", "eric", "carmen"},
		Master:           "alexis",
		Aliases:          map[string]string{"cita": "carmen"},
		HouseDeadline:    deadline,
		RentalDeadline:   deadline,
		HouseMaxPicks:    2,
		RentalSplitSeats: 7,
		WindowPoll:       time.Minute,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	gate, err := auth.NewGate("cq2025")
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}

	cfg := testConfig()
	deps := Deps{
		KV:       store.NewRedisStoreWithClient(client, "test"),
		Sessions: session.NewRedisStoreWithClient(client),
		Catalog:  cat,
		Gate:     gate,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	svc := New(cfg, deps)
	t.Cleanup(svc.Close)
	return &testEnv{service: svc, handler: NewHTTPServer(svc, "*").Handler(), redis: mr}
}

// flakyKV fails namespace reads once failChildren is set, leaving single
// path reads and writes working.
type flakyKV struct {
	store.KV
	failChildren atomic.Bool
}

func (f *flakyKV) Children(ctx context.Context, parent string) (map[string]json.RawMessage, error) {
	if f.failChildren.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return f.KV.Children(ctx, parent)
}

type requestOpts struct {
	token  string
	device string
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	if opts.device != "" {
		req.Header.Set(deviceHeader, opts.device)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// login sets the identity of device and returns the bearer token.
func (e *testEnv) login(t *testing.T, name, device string) requestOpts {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/session", map[string]any{"name": name}, requestOpts{device: device})
	if rr.Code != http.StatusCreated {
		t.Fatalf("login %s: expected 201, got %d: %s", name, rr.Code, rr.Body.String())
	}
	var view map[string]any
	decode(t, rr, &view)
	token, _ := view["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in %v", name, view)
	}
	return requestOpts{token: token, device: device}
}

func (e *testEnv) vote(t *testing.T, opts requestOpts, ballotType, candidateID string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/ballots/"+ballotType+"/votes", map[string]any{"candidateId": candidateID}, opts)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var body map[string]any
	decode(t, rr, &body)
	if body["code"] != code {
		t.Fatalf("expected code %s, got %v", code, body["code"])
	}
	return body
}
