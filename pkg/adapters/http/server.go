package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/interplay"
	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxBodySize caps request bodies.
const MaxBodySize = 1 << 20

// Runtime is the part of *interplay.Orchestrator the REST edge drives.
type Runtime interface {
	ListModules() []domain.Manifest
	Reload(ctx context.Context, typeName string) error

	ListInstances() []interplay.InstanceInfo
	Instance(id string) (interplay.InstanceInfo, error)
	CreateInstance(ctx context.Context, typeName string, cfg domain.ModuleConfig, opts ...interplay.InstanceOption) (string, error)
	UpdateInstanceConfig(ctx context.Context, id string, partial domain.ModuleConfig) error
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
	DestroyInstance(ctx context.Context, id string) error

	ListRoutes() []domain.Route
	CreateRoute(ctx context.Context, sourceID, sourceEvent, targetID string, opts ...interplay.RouteOption) (string, error)
	RemoveRoute(ctx context.Context, routeID string) error

	ListInteractions(ctx context.Context) []domain.Interaction
	SaveInteractions(ctx context.Context, specs []domain.InteractionSpec) error

	Subscribe(ctx context.Context) <-chan domain.Event
}

var _ Runtime = (*interplay.Orchestrator)(nil)

// Server serves the REST and SSE surface of a Runtime.
type Server struct {
	rt       Runtime
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request failures and stream lifecycle.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer serves g at /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewHandler creates the HTTP handler for rt.
func NewHandler(rt Runtime, opts ...Option) http.Handler {
	s := &Server{
		rt:       rt,
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", s.GetHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/events", s.SubscribeEvents)

	r.Get("/modules", s.ListModules)
	r.Post("/modules/{type}/reload", s.ReloadModule)

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.ListInstances)
		r.Post("/", s.CreateInstance)
		r.Get("/{id}", s.GetInstance)
		r.Delete("/{id}", s.DestroyInstance)
		r.Patch("/{id}/config", s.UpdateInstanceConfig)
		r.Post("/{id}/start", s.StartInstance)
		r.Post("/{id}/stop", s.StopInstance)
	})

	r.Route("/routes", func(r chi.Router) {
		r.Get("/", s.ListRoutes)
		r.Post("/", s.CreateRoute)
		r.Delete("/{id}", s.RemoveRoute)
	})

	r.Get("/interactions", s.ListInteractions)
	r.Put("/interactions", s.SaveInteractions)
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
}

// CreatedResponse carries the id of a new instance or route.
type CreatedResponse struct {
	ID string `json:"id"`
}

// CreateInstanceRequest is the body of POST /instances.
type CreateInstanceRequest struct {
	TypeName      string              `json:"typeName"`
	Config        domain.ModuleConfig `json:"config"`
	InteractionID string              `json:"interactionId,omitempty"`
	Stopped       bool                `json:"stopped,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch domain.ErrorKind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, id string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: domain.ErrorKind(err), ID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body. Numbers stay json.Number so integer configs keep their type.
func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return domain.NewValidationError("request", "", "read body: %v", err)
	}
	if len(data) > MaxBodySize {
		return domain.NewValidationError("request", "", "body larger than %d bytes", MaxBodySize)
	}
	if err := domain.DecodeJSON(data, v); err != nil {
		return domain.NewValidationError("request", "", "malformed JSON: %v", err)
	}
	return nil
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListModules handles GET /modules.
func (s *Server) ListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.ListModules())
}

// ReloadModule handles POST /modules/{type}/reload.
func (s *Server) ReloadModule(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	if err := s.rt.Reload(r.Context(), typeName); err != nil {
		s.fail(w, r, typeName, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInstances handles GET /instances.
func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.ListInstances())
}

// GetInstance handles GET /instances/{id}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.rt.Instance(id)
	if err != nil {
		s.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CreateInstance handles POST /instances. A start failure still reports the
// id of the instance, which is kept in the failed state.
func (s *Server) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var body CreateInstanceRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, "", err)
		return
	}
	var opts []interplay.InstanceOption
	if body.InteractionID != "" {
		opts = append(opts, interplay.InInteraction(body.InteractionID))
	}
	if body.Stopped {
		opts = append(opts, interplay.Stopped())
	}

	id, err := s.rt.CreateInstance(r.Context(), body.TypeName, body.Config, opts...)
	if err != nil {
		s.fail(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// UpdateInstanceConfig handles PATCH /instances/{id}/config with a partial config.
func (s *Server) UpdateInstanceConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var partial domain.ModuleConfig
	if err := decode(r, &partial); err != nil {
		s.fail(w, r, id, err)
		return
	}
	if err := s.rt.UpdateInstanceConfig(r.Context(), id, partial); err != nil {
		s.fail(w, r, id, err)
		return
	}
	s.GetInstance(w, r)
}

// StartInstance handles POST /instances/{id}/start.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.rt.StartInstance)
}

// StopInstance handles POST /instances/{id}/stop.
func (s *Server) StopInstance(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.rt.StopInstance)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		s.fail(w, r, id, err)
		return
	}
	s.GetInstance(w, r)
}

// DestroyInstance handles DELETE /instances/{id}.
func (s *Server) DestroyInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rt.DestroyInstance(r.Context(), id); err != nil {
		s.fail(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoutes handles GET /routes.
func (s *Server) ListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.ListRoutes())
}

// CreateRoute handles POST /routes. The body is a route without its id.
func (s *Server) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var body domain.Route
	if err := decode(r, &body); err != nil {
		s.fail(w, r, "", err)
		return
	}
	var opts []interplay.RouteOption
	if body.TargetInput != "" {
		opts = append(opts, interplay.ToInput(body.TargetInput))
	}
	if body.Condition != nil {
		opts = append(opts, interplay.When(*body.Condition))
	}
	if body.Transform != nil {
		opts = append(opts, interplay.WithTransform(*body.Transform))
	}

	id, err := s.rt.CreateRoute(r.Context(), body.SourceInstanceID, body.SourceEvent, body.TargetInstanceID, opts...)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// RemoveRoute handles DELETE /routes/{id}.
func (s *Server) RemoveRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rt.RemoveRoute(r.Context(), id); err != nil {
		s.fail(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInteractions handles GET /interactions.
func (s *Server) ListInteractions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.ListInteractions(r.Context()))
}

// SaveInteractions handles PUT /interactions, replacing the whole graph.
func (s *Server) SaveInteractions(w http.ResponseWriter, r *http.Request) {
	var specs []domain.InteractionSpec
	if err := decode(r, &specs); err != nil {
		s.fail(w, r, "", err)
		return
	}
	if err := s.rt.SaveInteractions(r.Context(), specs); err != nil {
		s.fail(w, r, "", err)
		return
	}
	s.ListInteractions(w, r)
}

// SubscribeEvents handles GET /events (SSE). The optional name query
// parameter is a comma separated list of event names to keep.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, "", errors.New("streaming not supported"))
		return
	}

	var keep map[string]bool
	if names := r.URL.Query().Get("name"); names != "" {
		keep = make(map[string]bool)
		for _, n := range strings.Split(names, ",") {
			keep[strings.TrimSpace(n)] = true
		}
	}

	events := s.rt.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Debug("event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event stream closed", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if keep != nil && !keep[ev.Name] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("event not encodable", "event", ev.Name, "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}
