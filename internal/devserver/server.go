// Package devserver is a local stand-in for the answering and catalog service. It keeps
// tables in sqlite, analyzes newly configured tables in the background and answers
// questions that are already SQL.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"TableChat/internal/api"
	"TableChat/internal/upload"
)

// CannotAnswerMessage is returned for questions that are not a read query
const CannotAnswerMessage = "ERROR: Cannot answer this question with the selected tables"

// Options configures a Server
type Options struct {
	Database       string        // sqlite path or :memory:
	AnalysisDelay  time.Duration // time before a configured table's description is ready
	UploadTTL      time.Duration
	MaxUploadBytes int64 // 0 for no limit
	Logger         *slog.Logger
	Now            func() time.Time
}

// Server serves the HTTP API the client talks to
type Server struct {
	store         *Store
	uploads       *uploads
	logger        *slog.Logger
	analysisDelay time.Duration
	maxUpload     int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	analyses map[string]context.CancelFunc
}

// New opens the database and returns a server ready to Serve
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Database == "" {
		opts.Database = ":memory:"
	}
	if opts.UploadTTL <= 0 {
		return nil, fmt.Errorf("upload TTL must be positive, got %s", opts.UploadTTL)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	store, err := OpenStore(opts.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:         store,
		uploads:       newUploads(store, opts.UploadTTL, opts.Now),
		logger:        opts.Logger,
		analysisDelay: opts.AnalysisDelay,
		maxUpload:     opts.MaxUploadBytes,
		ctx:           ctx,
		cancel:        cancel,
		analyses:      make(map[string]context.CancelFunc),
	}, nil
}

// Store exposes the database, mainly for loading fixtures
func (s *Server) Store() *Store {
	return s.store
}

// Close stops pending analyses and closes the database
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.store.Close()
}

// Handler returns the API router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/available-tables", s.handleAvailableTables)

		r.Get("/tables", s.handleListTables)
		r.Post("/tables", s.handleAddTable)
		r.Put("/tables/{name}", s.handleUpdateTable)
		r.Delete("/tables/{name}", s.handleRemoveTable)

		r.Get("/excel-tables", s.handleListUploads)
		r.Post("/upload-excel", s.handleUpload)
		r.Delete("/excel-tables/{name}", s.handleRemoveUpload)

		r.Post("/chat", s.handleChat)
	})
	return r
}

// Serve listens on addr and blocks until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.logger.Info("starting development backend", "addr", addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down development backend")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

func (s *Server) handleAvailableTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.DatabaseTables(r.Context())
	if err != nil {
		s.internalError(w, "failed to list available tables", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, api.AvailableTablesResponse{Tables: names})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	configured, err := s.store.Configured(ctx)
	if err != nil {
		s.internalError(w, "failed to list tables", err)
		return
	}

	out := make([]api.TableInfo, 0, len(configured))
	for _, m := range configured {
		cols, err := s.store.Columns(ctx, m.Name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.internalError(w, "failed to list tables", err)
			return
		}
		sample, err := s.store.Sample(ctx, m.Name, sampleRows)
		if err != nil {
			s.internalError(w, "failed to list tables", err)
			return
		}
		out = append(out, api.TableInfo{
			Name:        m.Name,
			Columns:     cols,
			Description: m.Description,
			SampleData:  sample,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddTable(w http.ResponseWriter, r *http.Request) {
	var req api.TableCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.TableName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "table_name is required")
		return
	}

	ctx := r.Context()
	names, err := s.store.DatabaseTables(ctx)
	if err != nil {
		s.internalError(w, "failed to add table", err)
		return
	}
	if !slices.Contains(names, name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table %s not found in database", name))
		return
	}

	if err := s.store.Configure(ctx, name, api.AnalyzingDescription); err != nil {
		s.internalError(w, "failed to add table", err)
		return
	}
	s.startAnalysis(name)

	s.logger.Info("table configured", "table", name)
	writeJSON(w, http.StatusOK, api.MessageResponse{
		Message:     "Table added successfully",
		Description: api.AnalyzingDescription,
	})
}

func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req api.TableUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.stopAnalysis(name)
	err := s.store.SetDescription(r.Context(), name, req.Description)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table %s is not configured", name))
		return
	}
	if err != nil {
		s.internalError(w, "failed to update table", err)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Table updated successfully"})
}

func (s *Server) handleRemoveTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.stopAnalysis(name)
	if err := s.store.Unconfigure(r.Context(), name); err != nil {
		s.internalError(w, "failed to remove table", err)
		return
	}
	s.logger.Info("table removed", "table", name)
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Table removed successfully"})
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	live := s.uploads.live(r.Context())
	out := make([]api.ExcelTable, len(live))
	for i, t := range live {
		out[i] = t.info()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Error processing Excel file: %v", err))
		return
	}
	defer func() { _ = file.Close() }()

	if s.maxUpload > 0 && header.Size > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
		return
	}

	sheet, err := upload.ReadSheet(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Error processing Excel file: %v", err))
		return
	}

	ctx := r.Context()
	t, err := s.uploads.add(ctx, header.Filename, sheet)
	if err != nil {
		s.logger.Error("failed to load upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Error processing Excel file: %v", err))
		return
	}
	preview, err := s.store.Sample(ctx, t.name, sampleRows)
	if err != nil {
		s.internalError(w, "failed to read upload", err)
		return
	}

	s.logger.Info("sheet uploaded", "table", t.name, "filename", header.Filename, "rows", len(sheet.Rows))
	writeJSON(w, http.StatusOK, api.ExcelUpload{
		Name:        t.name,
		Columns:     t.columns,
		PreviewData: preview,
	})
}

func (s *Server) handleRemoveUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := s.uploads.remove(r.Context(), name)
	if err != nil {
		s.internalError(w, "failed to remove upload", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Table not found")
		return
	}
	s.logger.Info("upload removed", "table", name)
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Table removed successfully"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	usable, err := s.usableTables(ctx, req.Tables)
	if err != nil {
		s.internalError(w, "failed to resolve tables", err)
		return
	}
	if len(usable) == 0 {
		writeError(w, http.StatusBadRequest, "No valid tables available for querying")
		return
	}

	query := strings.TrimSuffix(strings.TrimSpace(req.Message), ";")
	if !isReadQuery(query) {
		writeError(w, http.StatusBadRequest, CannotAnswerMessage)
		return
	}

	rows, err := s.store.Query(ctx, query)
	if err != nil {
		s.logger.Debug("query failed", "query", query, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("question answered", "tables", usable, "rows", len(rows))
	writeJSON(w, http.StatusOK, api.ChatResponse{
		Answer:   answerText(len(rows)),
		SQLQuery: query,
		Data:     rows,
	})
}

// usableTables keeps the configured database tables and live uploads among names
func (s *Server) usableTables(ctx context.Context, names []string) ([]string, error) {
	configured, err := s.store.Configured(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(configured))
	for _, m := range configured {
		known[m.Name] = true
	}

	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, uploadPrefix) {
			if _, ok := s.uploads.get(ctx, name); ok {
				out = append(out, name)
			}
			continue
		}
		if known[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// startAnalysis replaces the table's sentinel description after the analysis delay
func (s *Server) startAnalysis(name string) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if prev, ok := s.analyses[name]; ok {
		prev()
	}
	s.analyses[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finishAnalysis(ctx, name)

		timer := time.NewTimer(s.analysisDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		desc, err := s.analyze(ctx, name)
		if err != nil {
			s.logger.Error("table analysis failed", "table", name, "error", err)
			desc = "Description generation failed. Please add a manual description."
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.store.SetDescription(ctx, name, desc); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to store table description", "table", name, "error", err)
			return
		}
		s.logger.Info("table analysis completed", "table", name)
	}()
}

// finishAnalysis forgets the analysis started with ctx unless a newer one replaced it
func (s *Server) finishAnalysis(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.analyses[name]; ok && ctx.Err() == nil {
		cancel()
		delete(s.analyses, name)
	}
}

func (s *Server) stopAnalysis(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.analyses[name]; ok {
		cancel()
		delete(s.analyses, name)
	}
}

func (s *Server) analyze(ctx context.Context, name string) (string, error) {
	cols, err := s.store.Columns(ctx, name)
	if err != nil {
		return "", err
	}
	sample, err := s.store.Sample(ctx, name, sampleRows)
	if err != nil {
		return "", err
	}
	return describeTable(name, cols, sample), nil
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// isReadQuery reports whether q starts with SELECT or WITH
func isReadQuery(q string) bool {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
