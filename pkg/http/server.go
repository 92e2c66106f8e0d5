package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/leowmjw/go-sonify/pkg/hcl"
	"github.com/leowmjw/go-sonify/pkg/render"
	"github.com/leowmjw/go-sonify/pkg/temporal"
)

// maxBodyBytes bounds a config upload
const maxBodyBytes = 4 << 20

// Server represents the HTTP server for the render service
type Server struct {
	logger         *slog.Logger
	temporalClient client.Client
	addr           string
	taskQueue      string

	// DataDir anchors relative paths in submitted configs, which may not leave it.
	// Empty means the working directory.
	DataDir string
}

// NewServer creates a new HTTP server
func NewServer(logger *slog.Logger, temporalClient client.Client, addr, taskQueue string) *Server {
	if taskQueue == "" {
		taskQueue = temporal.DefaultTaskQueue
	}
	return &Server{
		logger:         logger,
		temporalClient: temporalClient,
		addr:           addr,
		taskQueue:      taskQueue,
	}
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("POST /renders", s.handleRender)
	mux.HandleFunc("POST /renders/batch", s.handleBatchRender)
	mux.HandleFunc("GET /renders/{id}", s.handleRenderStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Render endpoint: runs one config, waiting for the result unless async=true
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	configs, err := s.parseConfigs(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(configs) != 1 {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("expected one render config, got %d; use /renders/batch", len(configs)))
		return
	}
	cfg := configs[0]

	s.logger.Info("Starting render", "render", cfg.Name, "instruments", len(cfg.Instruments))

	workflowID := temporal.GenerateRenderWorkflowID(cfg.ID())
	workflowRun, err := s.temporalClient.ExecuteWorkflow(
		r.Context(),
		client.StartWorkflowOptions{
			ID:        workflowID,
			TaskQueue: s.taskQueue,
		},
		temporal.RenderWorkflow,
		temporal.RenderRequest{Config: *cfg},
	)
	if err != nil {
		s.logger.Error("Failed to start render workflow", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to start render")
		return
	}

	if async(r) {
		s.respondAccepted(w, workflowRun)
		return
	}

	// Wait for result
	var result *temporal.RenderResult
	if err := workflowRun.Get(r.Context(), &result); err != nil {
		s.logger.Error("Render workflow failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "render execution failed")
		return
	}

	s.logger.Info("Render completed", "render", result.Name, "events", result.Events)
	s.respondJSON(w, http.StatusOK, result)
}

// Batch endpoint: runs every config as a child render
func (s *Server) handleBatchRender(w http.ResponseWriter, r *http.Request) {
	configs, err := s.parseConfigs(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	request := temporal.BatchRenderRequest{Configs: make([]render.Config, len(configs))}
	for i, c := range configs {
		request.Configs[i] = *c
	}
	if p := r.URL.Query().Get("parallelism"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "parallelism must be a positive integer")
			return
		}
		request.Parallelism = n
	}

	s.logger.Info("Starting batch render", "renders", len(configs), "parallelism", request.Parallelism)

	workflowRun, err := s.temporalClient.ExecuteWorkflow(
		r.Context(),
		client.StartWorkflowOptions{
			ID:        temporal.GenerateBatchWorkflowID(),
			TaskQueue: s.taskQueue,
		},
		temporal.BatchRenderWorkflow,
		request,
	)
	if err != nil {
		s.logger.Error("Failed to start batch workflow", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to start batch render")
		return
	}

	if async(r) {
		s.respondAccepted(w, workflowRun)
		return
	}

	var result *temporal.BatchRenderResult
	if err := workflowRun.Get(r.Context(), &result); err != nil {
		s.logger.Error("Batch workflow failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "batch render execution failed")
		return
	}

	s.logger.Info("Batch render completed", "succeeded", len(result.Results), "failed", len(result.Failures))
	s.respondJSON(w, http.StatusOK, result)
}

// Status endpoint: queries a running or finished render workflow
func (s *Server) handleRenderStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		s.respondError(w, http.StatusBadRequest, "workflow ID is required")
		return
	}

	value, err := s.temporalClient.QueryWorkflow(r.Context(), workflowID, "", temporal.RenderStatusQueryName)
	if err != nil {
		s.logger.Error("Failed to query render status", "workflowID", workflowID, "error", err)
		s.respondError(w, http.StatusNotFound, "render not found")
		return
	}

	var status temporal.RenderStatus
	if err := value.Get(&status); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to decode render status")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// Health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// parseConfigs decodes an HCL, YAML or JSON body and validates every config in it
func (s *Server) parseConfigs(w http.ResponseWriter, r *http.Request) ([]*render.Config, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	contentType, err := hcl.DetectContentType(r)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	var configs []*render.Config
	switch contentType {
	case hcl.ContentTypeHCL:
		configs, err = hcl.ParseRenderConfig(body, "request.hcl")
	case hcl.ContentTypeYAML:
		configs, err = render.ParseYAML(body)
	default:
		configs, err = render.ParseJSON(body)
	}
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, errors.New("no render configs in request")
	}

	root, err := filepath.Abs(s.DataDir)
	if err != nil {
		return nil, fmt.Errorf("invalid data directory: %w", err)
	}
	for i, c := range configs {
		if c == nil {
			return nil, fmt.Errorf("render config %d is empty", i)
		}
		// a submitted base_dir is never trusted
		c.BaseDir = root
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("render %q: %w", c.Name, err)
		}
		for _, p := range c.Paths() {
			if !within(root, p) {
				return nil, fmt.Errorf("render %q: path %q is outside the data directory", c.Name, p)
			}
		}
	}
	return configs, nil
}

// within reports whether path resolves to root or somewhere below it
func within(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func async(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

func (s *Server) respondAccepted(w http.ResponseWriter, run client.WorkflowRun) {
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
	})
}

// Middleware for request logging
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
			"user_agent", r.UserAgent(),
		)
	})
}

// Response helpers
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Warn("HTTP error response", "status", status, "message", message)
	s.respondJSON(w, status, map[string]string{"error": message})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
