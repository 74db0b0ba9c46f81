// Package httpapi exposes the orchestrator's fleet over HTTP: reading
// resource state and driving demand, guarded by bearer-token auth.
package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/dronectl/auth"
	svcerrors "github.com/r3e-network/dronectl/infrastructure/errors"
	"github.com/r3e-network/dronectl/infrastructure/httputil"
	"github.com/r3e-network/dronectl/infrastructure/logging"
	"github.com/r3e-network/dronectl/infrastructure/metrics"
	"github.com/r3e-network/dronectl/infrastructure/middleware"
	"github.com/r3e-network/dronectl/orchestrator"
	"github.com/r3e-network/dronectl/registry"
)

// droneUUIDPattern is the wire-format identity regex every drone_uuid path
// parameter must satisfy.
var droneUUIDPattern = regexp.MustCompile(`^\S+-[A-Fa-f0-9]{10}$`)

// Server wires the registry and orchestrator into a gorilla/mux router.
type Server struct {
	registry registry.Registry
	orch     *orchestrator.Orchestrator
	auth     *auth.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	limiter  *middleware.RateLimiter
}

// New builds a Server. logger and m may be nil in tests. Requests are capped
// at 120 per minute per client key (bearer token, else remote address).
func New(reg registry.Registry, orch *orchestrator.Orchestrator, authConfig *auth.Config, logger *logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		registry: reg,
		orch:     orch,
		auth:     authConfig,
		logger:   logger,
		metrics:  m,
		limiter:  middleware.NewRateLimiter(120, time.Minute, 120),
	}
}

// Router builds the full route table with the middleware stack applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	resources := r.PathPrefix("/resources").Subrouter()
	resources.HandleFunc("/", s.requireScopes(nil, s.handleListResources)).Methods(http.MethodGet)
	resources.HandleFunc("/{drone_uuid}/state", s.requireScopes(nil, s.handleResourceState)).Methods(http.MethodGet)
	resources.HandleFunc("/{drone_uuid}/demand", s.requireScopes([]string{"user:write"}, s.handleUpdateDemand)).Methods(http.MethodPut)
	resources.HandleFunc("/stream", s.requireScopes(nil, s.handleResourceStream)).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r.Use(s.limiter.Handler)
	if s.logger != nil {
		r.Use(middleware.LoggingMiddleware(s.logger))
	}
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware("dronectl", s.metrics))
	}
	if s.logger != nil {
		r.Use(middleware.NewRecoveryMiddleware(s.logger).Handler)
	}
	return r
}

// requireScopes wraps handler with bearer-token authentication, requiring
// every scope in requiredScopes.
func (s *Server) requireScopes(requiredScopes []string, handler func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		if _, err := s.auth.CheckAuthorization(requiredScopes, token); err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		handler(w, r)
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", svcerrors.Unauthorized("Not authenticated").WithDetails("www_authenticate", "Bearer")
	}
	return strings.TrimPrefix(header, prefix), nil
}

func droneUUIDFromPath(r *http.Request) (string, error) {
	droneUUID := mux.Vars(r)["drone_uuid"]
	if !droneUUIDPattern.MatchString(droneUUID) {
		return "", svcerrors.InvalidFormat("drone_uuid", droneUUIDPattern.String())
	}
	return droneUUID, nil
}

type resourceStateResponse struct {
	DroneUUID string `json:"drone_uuid"`
	State     string `json:"state"`
	Site      string `json:"site,omitempty"`
}

func (s *Server) handleResourceState(w http.ResponseWriter, r *http.Request) {
	droneUUID, err := droneUUIDFromPath(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	state, ok, err := s.registry.GetResourceState(r.Context(), droneUUID)
	if err != nil {
		httputil.WriteServiceError(w, svcerrors.Internal("registry lookup failed", err))
		return
	}
	if !ok {
		httputil.WriteServiceError(w, svcerrors.NotFound("drone", droneUUID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resourceStateResponse{DroneUUID: droneUUID, State: state})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.GetResources(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, svcerrors.Internal("registry list failed", err))
		return
	}
	resp := make([]resourceStateResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, resourceStateResponse{DroneUUID: rec.DroneUUID, State: rec.State, Site: rec.Site})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type updateDemandRequest struct {
	Demand float64 `json:"demand"`
}

// handleUpdateDemand implements the demand-control endpoint this API adds
// beyond the read-only original surface: it lets an upstream allocator push
// a drone's demand signal without waiting for its next poll cycle.
func (s *Server) handleUpdateDemand(w http.ResponseWriter, r *http.Request) {
	droneUUID, err := droneUUIDFromPath(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	var req updateDemandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteServiceError(w, svcerrors.InvalidInput("demand", "must be a JSON number"))
		return
	}

	d, ok := s.orch.Lookup(droneUUID)
	if !ok {
		httputil.WriteServiceError(w, svcerrors.NotFound("drone", droneUUID))
		return
	}
	if err := d.SetDemand(req.Demand); err != nil {
		httputil.WriteServiceError(w, svcerrors.InvalidInput("demand", err.Error()))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]float64{"demand": req.Demand})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
