package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nimbusfs/syncd/pkg/apperr"
	"github.com/nimbusfs/syncd/pkg/auth"
	"github.com/nimbusfs/syncd/pkg/events"
	"github.com/nimbusfs/syncd/pkg/log"
	"github.com/nimbusfs/syncd/pkg/metrics"
	"github.com/nimbusfs/syncd/pkg/store"
	"github.com/nimbusfs/syncd/pkg/tasks"
	"github.com/nimbusfs/syncd/pkg/types"
	"github.com/nimbusfs/syncd/pkg/validate"
)

// Server wires the HTTP request/response gateway (C6) and the
// WebSocket event channel gateway (C5) over shared store, auth, room
// registry, and background task dependencies.
type Server struct {
	store     store.Store
	authn     *auth.Authenticator
	rooms     *events.RoomRegistry
	taskRun   *tasks.Runner
	startedAt time.Time
	router    *chi.Mux
}

// NewServer builds the HTTP router. The CORS middleware wraps every
// route, including the WebSocket upgrade route, but the upgrader
// itself accepts a handshake from any Origin; corsOrigins does not
// restrict which origins may open the event channel.
func NewServer(st store.Store, authn *auth.Authenticator, rooms *events.RoomRegistry, taskRun *tasks.Runner, corsOrigins []string) *Server {
	s := &Server{
		store:     st,
		authn:     authn,
		rooms:     rooms,
		taskRun:   taskRun,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/files", s.handleFilesGet)
		r.Post("/files", s.handleFilesCreate)
		r.Put("/files", s.handleFilesUpsert)
		r.Patch("/files", s.handleFilesRename)
		r.Delete("/files", s.handleFilesDelete)
		r.Delete("/files/all", s.handleFilesDeleteAll)
	})

	r.Get("/ws", s.handleWebSocket)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("gateway")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(ww.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		logger.Info().
			Str("method", r.Method).
			Str("route", route).
			Str("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type identityCtxKey struct{}

func identityFrom(r *http.Request) types.Identity {
	id, _ := r.Context().Value(identityCtxKey{}).(types.Identity)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		identity, err := s.authn.Authenticate(r.Context(), key)
		if err != nil {
			metrics.AuthFailuresTotal.WithLabelValues("http").Inc()
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := apperr.ToHTTP(err)
	if status >= http.StatusInternalServerError {
		log.WithComponent("gateway").Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		log.WithComponent("gateway").Warn().Err(err).Int("status", status).Msg("request rejected")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// fileResponse is the success envelope shared by every file endpoint,
// per spec.md §6; list entries use it with Content omitted.
type fileResponse struct {
	Path      string     `json:"path"`
	Content   *string    `json:"content,omitempty"`
	Hash      string     `json:"hash"`
	Size      int64      `json:"size"`
	Extension string     `json:"extension"`
	IsBinary  bool       `json:"isBinary"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toFileResponse(rec *types.FileRecord, includeContent bool) fileResponse {
	resp := fileResponse{
		Path:      rec.Path,
		Hash:      rec.Hash,
		Size:      rec.Size,
		Extension: rec.Extension,
		IsBinary:  rec.IsBinary,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
	if includeContent {
		content := rec.Content
		resp.Content = &content
	}
	return resp
}

func (s *Server) handleFilesGet(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionRead); err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	path := q.Get("path")
	_, hasLimit := q["limit"]
	_, hasOffset := q["offset"]

	if path != "" && !hasLimit && !hasOffset {
		s.getSingleFile(w, r, identity.TenantID, path)
		return
	}

	s.listFiles(w, r, identity.TenantID, q)
}

func (s *Server) getSingleFile(w http.ResponseWriter, r *http.Request, tenantID, path string) {
	if err := validate.Path(path); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.store.Get(r.Context(), tenantID, path)
	if err != nil {
		writeError(w, apperr.Internal("failed to fetch file", err))
		return
	}
	if rec == nil {
		writeError(w, apperr.NotFound("file not found"))
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec, true))
}

type listResponse struct {
	Files  []fileResponse `json:"files"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, tenantID string, q map[string][]string) {
	opts := types.ListOptions{
		PathPrefix:      first(q, "path"),
		PathContains:    first(q, "path_contains"),
		ContentContains: first(q, "content_contains"),
	}
	if ext := first(q, "extension"); ext != "" {
		opts.Extensions = strings.Split(ext, ",")
	}
	if v := first(q, "include_deleted"); v != "" {
		opts.IncludeDeleted = v == "true" || v == "1"
	}
	if v := first(q, "is_binary"); v != "" {
		b := v == "true" || v == "1"
		opts.IsBinary = &b
	}
	if v := first(q, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := first(q, "offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	s.taskRun.Submit(func(ctx context.Context) {
		if n, err := s.store.CleanupExpired(ctx); err == nil && n > 0 {
			metrics.TombstonesCleanedTotal.Add(float64(n))
		}
	})

	timer := metrics.NewTimer()
	result, err := s.store.List(r.Context(), tenantID, opts)
	timer.ObserveDuration(metrics.QueryDuration)
	if err != nil {
		writeError(w, apperr.Internal("failed to list files", err))
		return
	}
	metrics.QueryResultsReturned.Observe(float64(len(result.Files)))

	resp := listResponse{Total: result.Total, Limit: result.Limit, Offset: result.Offset}
	for _, rec := range result.Files {
		resp.Files = append(resp.Files, toFileResponse(rec, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func first(q map[string][]string, key string) string {
	if v, ok := q[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

type createRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleFilesCreate(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Content(req.Content); err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	rec, err := s.store.CreateStrict(r.Context(), identity.TenantID, req.Path, req.Content)
	timer.ObserveDurationVec(metrics.FileOperationDuration, "create")
	if err != nil {
		metrics.FileOperationsTotal.WithLabelValues("create", "error").Inc()
		writeError(w, err)
		return
	}
	metrics.FileOperationsTotal.WithLabelValues("create", "success").Inc()

	s.broadcastFileCreated(identity.TenantID, "", rec)
	writeJSON(w, http.StatusCreated, toFileResponse(rec, true))
}

func (s *Server) handleFilesUpsert(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Content(req.Content); err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	outcome, err := s.store.Upsert(r.Context(), identity.TenantID, req.Path, req.Content)
	timer.ObserveDurationVec(metrics.FileOperationDuration, "upsert")
	if err != nil {
		metrics.FileOperationsTotal.WithLabelValues("upsert", "error").Inc()
		writeError(w, apperr.Internal("failed to upsert file", err))
		return
	}
	metrics.FileOperationsTotal.WithLabelValues("upsert", "success").Inc()

	if outcome.Created {
		s.broadcastFileCreated(identity.TenantID, "", outcome.Record)
	} else {
		s.broadcastFileModified(identity.TenantID, "", outcome.Record)
	}
	writeJSON(w, http.StatusOK, toFileResponse(outcome.Record, true))
}

type renameRequest struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

func (s *Server) handleFilesRename(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := validate.Path(req.Path); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Path(req.NewPath); err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	outcome, err := s.store.Rename(r.Context(), identity.TenantID, req.Path, req.NewPath)
	timer.ObserveDurationVec(metrics.FileOperationDuration, "rename")
	if err != nil {
		metrics.FileOperationsTotal.WithLabelValues("rename", "error").Inc()
		writeError(w, apperr.Internal("failed to rename file", err))
		return
	}
	metrics.FileOperationsTotal.WithLabelValues("rename", "success").Inc()

	if outcome.Created {
		s.broadcastFileCreated(identity.TenantID, "", outcome.Record)
	} else {
		s.broadcastFileRenamed(identity.TenantID, "", req.Path, outcome.Record)
	}
	writeJSON(w, http.StatusOK, toFileResponse(outcome.Record, true))
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}

	path := r.URL.Query().Get("path")
	if err := validate.Path(path); err != nil {
		writeError(w, err)
		return
	}

	timer := metrics.NewTimer()
	outcome, err := s.store.SoftDelete(r.Context(), identity.TenantID, path)
	timer.ObserveDurationVec(metrics.FileOperationDuration, "delete")
	if err != nil {
		metrics.FileOperationsTotal.WithLabelValues("delete", "error").Inc()
		writeError(w, apperr.Internal("failed to delete file", err))
		return
	}
	metrics.FileOperationsTotal.WithLabelValues("delete", "success").Inc()

	if outcome.Deleted {
		s.broadcastFileDeleted(identity.TenantID, "", path)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilesDeleteAll(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := auth.RequirePermission(identity, types.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}

	count, err := s.store.SoftDeleteAll(r.Context(), identity.TenantID)
	if err != nil {
		writeError(w, apperr.Internal("failed to delete all files", err))
		return
	}
	metrics.FileOperationsTotal.WithLabelValues("delete_all", "success").Add(float64(count))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	status := "healthy"
	code := http.StatusOK

	if _, err := s.store.ListTenants(r.Context()); err != nil {
		database = "disconnected"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{
		Status:   status,
		Version:  "dev",
		Uptime:   time.Since(s.startedAt).String(),
		Database: database,
	})
}

type readyResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Message string            `json:"message,omitempty"`
}

// handleReady reports whether the server is ready to accept traffic.
// Like /health it probes the database with a ListTenants query; it
// differs in its response shape (a per-check map and a message).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	code := http.StatusOK
	status := "ready"
	var message string

	if _, err := s.store.ListTenants(r.Context()); err != nil {
		checks["database"] = "unreachable"
		status = "not ready"
		message = "database pool is not accepting connections"
		code = http.StatusServiceUnavailable
	} else {
		checks["database"] = "reachable"
	}

	writeJSON(w, code, readyResponse{Status: status, Checks: checks, Message: message})
}
