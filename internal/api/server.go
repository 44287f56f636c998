// Package api provides fleetd's operator-facing HTTP surface: agent identity
// self-service, fleet stats, and instruction dispatch against live agent
// links.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/auth"
	"github.com/fleetward/hub/internal/instructions"
	"github.com/fleetward/hub/internal/link"
	"github.com/fleetward/hub/internal/store"
)

// Server is fleetd's operator HTTP API.
type Server struct {
	store     store.Store
	dir       *link.Directory
	auth      *auth.Service
	logger    *slog.Logger
	mux       *chi.Mux
	startTime time.Time
	version   string

	identRL *rateLimiter
	opRL    *rateLimiter
}

// NewServer wires the operator API against a store, the live agent
// directory, and the auth service. allowedOrigins configures CORS.
func NewServer(s store.Store, dir *link.Directory, authSvc *auth.Service, version string, allowedOrigins []string, logger *slog.Logger) *Server {
	srv := &Server{
		store:     s,
		dir:       dir,
		auth:      authSvc,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
		version:   version,
		identRL:   newRateLimiter(5, 20),
		opRL:      newRateLimiter(20, 60),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(allowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/api/ping", srv.handlePing)
	mux.Get("/api/meta/version", srv.handleVersion)

	// Agent self-service identity routes: unauthenticated (an agent has no
	// operator token yet when it first calls whoami), rate-limited by
	// remote address instead.
	mux.Group(func(r chi.Router) {
		r.Use(ipRateLimitMiddleware(srv.identRL))
		r.Post("/api/ident/whoami", srv.handleWhoami)
		r.Post("/api/ident/sync", srv.handleIdentSync)
		r.Get("/api/ident/retrieve", srv.handleIdentRetrieve)
	})

	// Operator routes: bearer token required.
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(operatorRateLimitMiddleware(srv.opRL))

		r.Get("/api/stats/robots", srv.handleListRobots)
		r.Get("/api/stats/online_robots", srv.handleListOnlineRobots)
		r.Get("/api/stats/robot/{uuid}", srv.handleGetRobot)
		r.Get("/api/stats/robot/{uuid}/network", srv.handleGetRobotNetwork)

		r.Post("/api/action/set_robot_name", srv.handleSetRobotName)
		r.Post("/api/action/refresh_network", srv.handleRefreshNetwork)
		r.Post("/api/action/refresh_network_all", srv.handleRefreshNetworkAll)
		r.Post("/api/action/update_metadata", srv.handleUpdateMetadata)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// --- Identity handlers ---

// robotName builds the deterministic identity name an agent is minted with:
// stable for a given (username, mac) pair so whoami and retrieve agree
// without a round trip through the store.
func robotName(username, mac string) string {
	return fmt.Sprintf("robot_%s_%s", username, mac)
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		MAC      string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.MAC == "" {
		writeError(w, http.StatusBadRequest, "username and mac are required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"robot_uuid": uuid.NewString(),
		"robot_name": robotName(req.Username, req.MAC),
	})
}

func (s *Server) handleIdentSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
		MAC  string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UUID == "" {
		writeError(w, http.StatusBadRequest, "uuid is required")
		return
	}

	if err := s.store.UpsertRobot(r.Context(), &store.Robot{UUID: req.UUID, Name: req.Name, MAC: req.MAC}); err != nil {
		s.logger.Error("ident sync failed", "uuid", req.UUID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sync identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) handleIdentRetrieve(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	mac := r.URL.Query().Get("mac_address")
	if username == "" || mac == "" {
		writeError(w, http.StatusBadRequest, "username and mac_address are required")
		return
	}

	robot, err := s.store.FindRobot(r.Context(), robotName(username, mac), mac)
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up identity")
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// --- Stats handlers ---

func (s *Server) handleListRobots(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListRobots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list robots")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleListOnlineRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.OnlineAgentIDs())
}

func (s *Server) handleGetRobot(w http.ResponseWriter, r *http.Request) {
	robot, err := s.store.GetRobot(r.Context(), chi.URLParam(r, "uuid"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "robot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get robot")
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

func (s *Server) handleGetRobotNetwork(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetNetworkInfo(r.Context(), chi.URLParam(r, "uuid"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "no network telemetry for robot")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get network info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// --- Action handlers ---

func (s *Server) handleSetRobotName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RobotUUID    string `json:"robot_uuid"`
		NewRobotName string `json:"new_robot_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RobotUUID == "" || req.NewRobotName == "" {
		writeError(w, http.StatusBadRequest, "robot_uuid and new_robot_name are required")
		return
	}

	conn, ok := s.dir.Get(req.RobotUUID)
	if !ok {
		writeError(w, http.StatusBadRequest, "robot not connected")
		return
	}

	if _, err := conn.SendInstruction(r.Context(), instructions.SyncRobotName(req.NewRobotName)); err != nil {
		writeError(w, http.StatusBadRequest, "failed to reach robot")
		return
	}

	robot, err := s.store.GetRobot(r.Context(), req.RobotUUID)
	if err == store.ErrNotFound {
		robot = &store.Robot{UUID: req.RobotUUID}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load robot")
		return
	}
	robot.Name = req.NewRobotName
	if err := s.store.UpsertRobot(r.Context(), robot); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist robot name")
		return
	}

	s.auditLog(r, "instruction.sent", req.RobotUUID, `{"instruction":"sync_robot_name"}`)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefreshNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RobotID string `json:"robot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RobotID == "" {
		writeError(w, http.StatusBadRequest, "robot_id is required")
		return
	}

	conn, ok := s.dir.Get(req.RobotID)
	if !ok {
		writeError(w, http.StatusBadRequest, "robot not connected")
		return
	}

	if err := s.fetchAndPersistNetwork(r.Context(), req.RobotID, conn); err != nil {
		writeError(w, http.StatusBadRequest, "failed to refresh network: "+err.Error())
		return
	}

	s.auditLog(r, "instruction.sent", req.RobotID, `{"instruction":"fetch_network"}`)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefreshNetworkAll(w http.ResponseWriter, r *http.Request) {
	conns := s.dir.All()
	results := make(map[string]string, len(conns))
	for _, conn := range conns {
		if err := s.fetchAndPersistNetwork(r.Context(), conn.AgentID, conn); err != nil {
			s.logger.Warn("refresh_network_all: agent failed", "agent_id", conn.AgentID, "error", err)
			results[conn.AgentID] = "failed"
			continue
		}
		results[conn.AgentID] = "ok"
	}
	s.auditLog(r, "instruction.sent", "", `{"instruction":"fetch_network","fan_out":true}`)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) fetchAndPersistNetwork(ctx context.Context, robotID string, conn *link.Connection) error {
	raw, err := conn.SendInstruction(ctx, instructions.FetchNetwork)
	if err != nil {
		return err
	}

	info := &store.NetworkInfo{RobotUUID: robotID}
	if err := info.UnmarshalInterfaces(raw); err != nil {
		return fmt.Errorf("malformed network payload: %w", err)
	}

	// network_info rows reference robots(uuid): a connected agent that has
	// not synced an identity yet gets a bare robot row first.
	if _, err := s.store.GetRobot(ctx, robotID); err == store.ErrNotFound {
		if err := s.store.UpsertRobot(ctx, &store.Robot{UUID: robotID}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return s.store.UpsertNetworkInfo(ctx, info)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RobotUUID string `json:"robot_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RobotUUID == "" {
		writeError(w, http.StatusBadRequest, "robot_uuid is required")
		return
	}

	conn, ok := s.dir.Get(req.RobotUUID)
	if !ok {
		writeError(w, http.StatusBadRequest, "robot not connected")
		return
	}

	if _, err := conn.SendInstruction(r.Context(), instructions.UpdateMetadata); err != nil {
		writeError(w, http.StatusBadRequest, "failed to reach robot")
		return
	}

	s.auditLog(r, "instruction.sent", req.RobotUUID, `{"instruction":"update_metadata"}`)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) auditLog(r *http.Request, action, agentID, detail string) {
	event := &store.AuditEvent{
		ID:        uuid.NewString(),
		Action:    action,
		AgentID:   agentID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.store.LogAuditEvent(r.Context(), event); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
