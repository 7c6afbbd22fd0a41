package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"quarters/api/internal/catalog"
	"quarters/api/internal/export"
	"quarters/api/internal/search"
	"quarters/api/internal/split"
)

const deviceHeader = "X-Device-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "dashboard":
		if r.Method == http.MethodGet && len(parts) == 2 {
			payload, err := s.service.Dashboard(r.Context(), session)
			s.respond(w, http.StatusOK, payload, err)
			return
		}
	case "catalog":
		if r.Method == http.MethodGet && len(parts) == 2 {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, s.service.SearchCatalog(search.Query{
				Text:  r.URL.Query().Get("q"),
				Kind:  catalog.Kind(r.URL.Query().Get("kind")),
				Limit: limit,
			}))
			return
		}
	case "ballots":
		if len(parts) >= 3 {
			s.handleBallots(w, r, session, parts[2], parts[3:])
			return
		}
	case "grocery":
		s.handleGrocery(w, r, session, parts[2:])
		return
	case "grocery.csv":
		if r.Method == http.MethodGet && len(parts) == 2 {
			result, err := s.service.GroceryCSV(r.Context(), session)
			s.download(w, result, err)
			return
		}
	case "requests":
		s.handleRequests(w, r, session, parts[2:])
		return
	case "budget":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body split.BudgetInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			budget, err := s.service.Budget(body)
			s.respond(w, http.StatusOK, budget, err)
			return
		}
	case "budget.csv":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body struct {
				Rows []export.BudgetRow `json:"rows"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.BudgetCSV(body.Rows)
			s.download(w, result, err)
			return
		}
	case "gate":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "unlock" {
			var body struct {
				Passphrase string `json:"passphrase"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UnlockGate(session, body.Passphrase)
			s.respond(w, http.StatusOK, payload, err)
			return
		}
	case "preferences":
		if r.Method == http.MethodPut && len(parts) == 2 {
			var body struct {
				Sidebar *bool `json:"sidebar"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Sidebar == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sidebar is required", nil)
				return
			}
			payload, err := s.service.SetSidebar(session, *body.Sidebar)
			s.respond(w, http.StatusOK, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, s.service.SessionView(s.service.GuestSession(r.Header.Get(deviceHeader))))
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, s.service.SessionView(s.service.GuestSession(r.Header.Get(deviceHeader))))
			return
		}
		writeJSON(w, http.StatusOK, s.service.SessionView(session))
	case http.MethodPost:
		var body struct {
			Name     string `json:"name"`
			DeviceID string `json:"deviceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		deviceID := r.Header.Get(deviceHeader)
		if deviceID == "" {
			deviceID = body.DeviceID
		}
		session, err := s.service.CreateSession(r.Context(), deviceID, body.Name)
		if err != nil {
			s.fail(w, err)
			return
		}
		view := s.service.SessionView(session)
		view["token"] = session.Token
		writeJSON(w, http.StatusCreated, view)
	case http.MethodDelete:
		session, ok := s.optionalSession(w, r)
		if !ok {
			return
		}
		if err := s.service.EndSession(r.Context(), session); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleBallots(w http.ResponseWriter, r *http.Request, session Session, ballotType string, rest []string) {
	ctx := r.Context()
	action := ""
	if len(rest) == 1 {
		action = rest[0]
	} else if len(rest) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		view, err := s.service.Ballot(ctx, session, ballotType)
		s.respond(w, http.StatusOK, view, err)
	case r.Method == http.MethodPost && action == "votes":
		var body struct {
			CandidateID string `json:"candidateId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CastVote(ctx, session, ballotType, strings.TrimSpace(body.CandidateID))
		s.respond(w, http.StatusOK, result, err)
	case r.Method == http.MethodPost && action == "lock":
		view, err := s.service.LockBallot(ctx, session, ballotType)
		s.respond(w, http.StatusOK, view, err)
	case r.Method == http.MethodPost && action == "reset":
		payload, err := s.service.ResetBallot(ctx, session, ballotType)
		s.respond(w, http.StatusOK, payload, err)
	case r.Method == http.MethodGet && action == "results":
		results, err := s.service.Results(ctx, ballotType)
		s.respond(w, http.StatusOK, results, err)
	case r.Method == http.MethodGet && action == "results.csv":
		result, err := s.service.ResultsCSV(ctx, ballotType)
		s.download(w, result, err)
	case r.Method == http.MethodGet && action == "results.pdf":
		result, err := s.service.ResultsPDF(ctx, ballotType)
		s.download(w, result, err)
	case r.Method == http.MethodGet && action == "history":
		payload, err := s.service.Histories(ctx, ballotType)
		s.respond(w, http.StatusOK, payload, err)
	case r.Method == http.MethodGet && action == "live":
		if err := s.service.ServeLive(w, r, ballotType); err != nil {
			s.fail(w, err)
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleGrocery(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GroceryItems(ctx, session, r.URL.Query().Get("category"))
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Name     string `json:"name"`
				Quantity int    `json:"quantity"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.AddGroceryItem(ctx, session, body.Name, body.Quantity)
			s.respond(w, http.StatusCreated, item, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	id := rest[0]
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Bought bool `json:"bought"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SetGroceryBought(ctx, session, id, body.Bought)
		s.respond(w, http.StatusOK, item, err)
	case http.MethodDelete:
		err := s.service.DeleteGroceryItem(ctx, session, id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.Requests(ctx, session)
		s.respond(w, http.StatusOK, payload, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entries, err := s.service.AddRequest(ctx, session, body.Text)
		s.respond(w, http.StatusCreated, map[string]any{"mine": entries}, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		index, err := strconv.Atoi(rest[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "index must be a number", nil)
			return
		}
		entries, err := s.service.RemoveRequest(ctx, session, index)
		s.respond(w, http.StatusOK, map[string]any{"mine": entries}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// optionalSession resolves the bearer token when one is sent. Requests
// without a token act as a guest on the device named by X-Device-ID.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return s.service.GuestSession(r.Header.Get(deviceHeader)), true
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("code", code).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) download(w http.ResponseWriter, result *export.Result, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the live endpoint take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Device-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
