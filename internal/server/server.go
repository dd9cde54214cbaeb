// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/activity"
	"github.com/matthewbaird/schemacanvas/internal/cueimport"
	"github.com/matthewbaird/schemacanvas/internal/session"
	"github.com/matthewbaird/schemacanvas/internal/wire"
)

// maxImportBytes caps an uploaded CUE schema.
const maxImportBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	Port         int
	Sessions     *session.Manager
	Activity     activity.Store
	AllowOrigins []string
	Logger       *zap.Logger
}

// Server serves the designer API and the canvas WebSocket.
type Server struct {
	sessions *session.Manager
	activity activity.Store
	origins  []string
	logger   *zap.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		sessions: cfg.Sessions,
		activity: cfg.Activity,
		origins:  origins,
		logger:   logger.Named("http"),
	}
}

// Router returns the HTTP handler with every route registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recovery(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	// The socket bypasses the response-writer wrapping of the JSON routes.
	r.Method(http.MethodGet, "/api/designer/ws", wire.NewHandler(s.sessions, s.origins, s.logger))

	r.Group(func(r chi.Router) {
		r.Use(Logging(s.logger))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/designer/session", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/{id}/snapshot", s.getSnapshot)
			r.Post("/{id}/import", s.importSchema)
			r.Get("/{id}/activity", s.listActivity)
			r.Delete("/{id}", s.deleteSession)
		})
	})
	return r
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	s := New(cfg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_PROJECT", "project query parameter is required")
		return
	}
	sess, err := s.sessions.Create(r.Context(), project)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, wire.SessionData{SessionID: sess.ID, ProjectID: sess.ProjectID})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess.Designer.Snapshot())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Remove(chi.URLParam(r, "id")) {
		s.errorToHTTP(w, r, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importSchema reads a CUE schema from the body and adds its models and
// fields to the session's project. With ?dry_run=true only the plan is
// returned.
func (s *Server) importSchema(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	src, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
		return
	}
	schema, err := cueimport.Parse(src, "upload.cue")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SCHEMA", err.Error())
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	if dryRun {
		writeJSON(w, r, http.StatusOK, cueimport.PlanFor(sess.Designer.Models(), schema))
		return
	}
	plan, err := cueimport.Apply(sess.Designer, schema)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	s.logger.Info("schema imported", zap.String("session", sess.ID), zap.Int("models", len(plan.Models)))
	writeJSON(w, r, http.StatusOK, plan)
}
