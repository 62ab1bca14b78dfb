package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/cmadac/internal/config"
	"github.com/copyleftdev/cmadac/internal/environment"
	apierrors "github.com/copyleftdev/cmadac/internal/errors"
	"github.com/copyleftdev/cmadac/internal/instances"
	"github.com/copyleftdev/cmadac/internal/logging"
	"github.com/copyleftdev/cmadac/internal/storage"
	"github.com/copyleftdev/cmadac/internal/tracking"
)

// Logger is the subset of *logging.Logger the server uses.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// EpisodeStore persists finished sessions.
type EpisodeStore interface {
	SaveEpisode(ctx context.Context, ep storage.Episode) error
}

// session is one hosted environment. mu orders reset and step calls so the
// tracker records states in the order the environment produced them.
type session struct {
	id      string
	created time.Time

	mu      sync.Mutex
	env     *environment.Env
	tracker *tracking.Tracker
}

// Server hosts environment sessions over HTTP and JSON-RPC 2.0.
type Server struct {
	cfg    *config.Config
	logger Logger
	zlog   *zap.Logger
	store  EpisodeStore

	sessions   map[string]*session
	sessionsMu sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists sessions when they are closed.
func WithStore(store EpisodeStore) Option {
	return func(s *Server) { s.store = store }
}

// WithZapLogger sets the logger handed to hosted environments.
func WithZapLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.zlog = l
		}
	}
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		zlog:     zap.NewNop(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the REST routes under /api/v1 and the JSON-RPC
// endpoint at /rpc.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/envs", s.handleCreate)
		r.Post("/envs/{id}/reset", s.handleReset)
		r.Post("/envs/{id}/step", s.handleStep)
		r.Get("/envs/{id}/states", s.handleStates)
		r.Delete("/envs/{id}", s.handleClose)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// CreateRequest overrides the server defaults for one session. Every
// field is optional.
type CreateRequest struct {
	InstanceSet    *instances.Set `json:"instance_set,omitempty"`
	Shuffle        bool           `json:"shuffle,omitempty"`
	HistoryLength  *int           `json:"history_length,omitempty"`
	PopulationSize *int           `json:"population_size,omitempty"`
	Cutoff         *int           `json:"cutoff,omitempty"`
	Seed           *int64         `json:"seed,omitempty"`
	StateInterval  *int           `json:"state_interval,omitempty"`
}

// StatesResponse is the tracked data of a session.
type StatesResponse struct {
	EnvID       string                      `json:"env_id"`
	States      []environment.Observation   `json:"states"`
	Intervals   [][]environment.Observation `json:"intervals,omitempty"`
	Transitions []tracking.Transition       `json:"transitions"`
}

func (s *Server) createSession(req CreateRequest) (string, error) {
	ec := s.cfg.EnvConfig()
	if req.HistoryLength != nil {
		ec.HistoryLength = *req.HistoryLength
	}
	if req.PopulationSize != nil {
		ec.PopulationSize = *req.PopulationSize
	}
	if req.Cutoff != nil {
		ec.Cutoff = *req.Cutoff
	}
	if req.Seed != nil {
		ec.Seed = *req.Seed
	}
	interval := s.cfg.DAC.StateInterval
	if req.StateInterval != nil {
		interval = *req.StateInterval
	}

	var (
		provider environment.InstanceProvider
		err      error
	)
	if req.InstanceSet != nil {
		if err := req.InstanceSet.Validate(); err != nil {
			return "", err
		}
		provider, err = instances.NewProvider(req.InstanceSet, req.Shuffle, uint64(ec.Seed))
	} else {
		provider, err = s.cfg.InstanceProvider()
	}
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	env, err := environment.New(ec, provider, environment.WithLogger(s.zlog.With(zap.String("env_id", id))))
	if err != nil {
		return "", err
	}

	sess := &session{
		id:      id,
		created: time.Now(),
		env:     env,
		tracker: tracking.New(env, interval),
	}

	s.sessionsMu.Lock()
	s.sessions[id] = sess
	s.sessionsMu.Unlock()
	activeSessions.Inc()

	s.logger.Info("Environment created", map[string]interface{}{
		"env_id":          id,
		"history_length":  ec.HistoryLength,
		"population_size": ec.PopulationSize,
		"cutoff":          ec.Cutoff,
	})
	return id, nil
}

func (s *Server) session(id string) (*session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("environment %q: %w", id, apierrors.ErrNotFound)
	}
	return sess, nil
}

func (s *Server) reset(id string) (environment.Observation, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	obs, err := sess.tracker.Reset()
	if err != nil {
		return nil, err
	}
	episodesTotal.WithLabelValues(sess.env.Instance().Name).Inc()
	return obs, nil
}

func (s *Server) step(id string, action float64) (environment.StepResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return environment.StepResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := time.Now()
	res, err := sess.tracker.Step(action)
	stepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		stepsTotal.WithLabelValues("error").Inc()
		return res, err
	}

	outcome := "ok"
	if res.Done {
		outcome = "done"
	}
	stepsTotal.WithLabelValues(outcome).Inc()
	if best := sess.env.BestObjective(); !math.IsNaN(best) && !math.IsInf(best, 0) {
		bestObjective.WithLabelValues(sess.env.Instance().Name).Set(best)
	}
	return res, nil
}

func (s *Server) states(id string) (StatesResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return StatesResponse{}, err
	}
	return StatesResponse{
		EnvID:       id,
		States:      sess.tracker.States(),
		Intervals:   sess.tracker.Intervals(),
		Transitions: sess.tracker.Transitions(),
	}, nil
}

// closeSession removes the session and persists its trace when a store is
// configured and at least one state was recorded.
func (s *Server) closeSession(ctx context.Context, id string) (bool, error) {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if !ok {
		return false, fmt.Errorf("environment %q: %w", id, apierrors.ErrNotFound)
	}
	activeSessions.Dec()
	return s.persist(ctx, sess)
}

func (s *Server) persist(ctx context.Context, sess *session) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.tracker.States()) == 0 {
		return false, nil
	}
	ep := storage.EpisodeFromTracker(sess.id, sess.env.Instance().Name, sess.env.BestObjective(), sess.tracker)
	if err := s.store.SaveEpisode(ctx, ep); err != nil {
		persistErrors.Inc()
		s.logger.Error("Failed to persist episode", map[string]interface{}{
			"env_id": sess.id,
			"error":  err.Error(),
		})
		return false, err
	}
	return true, nil
}

// Close persists and drops every open session.
func (s *Server) Close() error {
	s.sessionsMu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*session)
	s.sessionsMu.Unlock()

	var firstErr error
	for _, sess := range open {
		activeSessions.Dec()
		if _, err := s.persist(context.Background(), sess); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondJSON(w, http.StatusBadRequest, apierrors.Response{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	id, err := s.createSession(req)
	if err != nil {
		s.respondWithAPIError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"env_id": id})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	obs, err := s.reset(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithAPIError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"observation": obs})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action *float64 `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == nil {
		s.respondJSON(w, http.StatusBadRequest, apierrors.Response{Error: "body must be {\"action\": <number>}"})
		return
	}

	res, err := s.step(chi.URLParam(r, "id"), *req.Action)
	if err != nil {
		s.respondWithAPIError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	res, err := s.states(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithAPIError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	persisted, err := s.closeSession(r.Context(), id)
	if err != nil {
		s.respondWithAPIError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"env_id": id, "persisted": persisted})
}

func (s *Server) respondWithAPIError(w http.ResponseWriter, r *http.Request, err error) {
	code := apierrors.WriteJSON(w, err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
	}
}

// respondJSON encodes body before writing the status, so a value JSON
// cannot represent (an infinite reward) yields a 500 rather than an empty 200.
func (s *Server) respondJSON(w http.ResponseWriter, code int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
		code = http.StatusInternalServerError
		data, _ = json.Marshal(apierrors.Response{Error: fmt.Sprintf("encode response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(data, '\n'))
}
