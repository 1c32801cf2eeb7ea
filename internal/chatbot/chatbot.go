// Package chatbot is the application state container: it owns the catalog, the refresh
// scheduler and the conversation log, and exposes the operations the terminal views call.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
	"TableChat/internal/catalog"
	"TableChat/internal/composer"
	"TableChat/internal/conversation"
	"TableChat/internal/refresh"
	"TableChat/internal/upload"
)

// BusyMessage is returned when a question is submitted while another is outstanding
const BusyMessage = "Please wait for the current question to be answered"

// ErrCancelled is returned when the user declines a confirmation
var ErrCancelled = errors.New("cancelled")

// Backend is the part of the service client the application uses
type Backend interface {
	ListTables(ctx context.Context) ([]api.TableInfo, error)
	ListAvailableTables(ctx context.Context) ([]string, error)
	ListExcelTables(ctx context.Context) ([]api.ExcelTable, error)
	AddTable(ctx context.Context, name string) (api.MessageResponse, error)
	RemoveTable(ctx context.Context, name string) error
	UpdateTable(ctx context.Context, name, description string) error
	UploadExcel(ctx context.Context, filename string, r io.Reader) (api.ExcelUpload, error)
	RemoveExcelTable(ctx context.Context, name string) error
	Chat(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error)
}

// ConfirmFunc asks the user to confirm a destructive action
type ConfirmFunc func(prompt string) bool

// Options configures an App
type Options struct {
	Backend           Backend
	Logger            *slog.Logger
	Meter             metric.Meter
	PollInterval      time.Duration
	EphemeralInterval time.Duration
	MaxUploadBytes    int64
}

// App holds all client state. Its methods are safe for concurrent use.
type App struct {
	backend        Backend
	catalog        *catalog.Catalog
	scheduler      *refresh.Scheduler
	log            *conversation.Log
	logger         *slog.Logger
	questions      metric.Int64Counter
	maxUploadBytes int64

	busy atomic.Bool

	mu    sync.Mutex
	draft string
}

// NewApp creates a new App
func NewApp(opts Options) (*App, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	cat := catalog.New(opts.Logger)
	b := opts.Backend
	sched, err := refresh.New(cat, refresh.Options{
		Persistent: func(ctx context.Context) ([]catalog.Resource, error) {
			tables, err := b.ListTables(ctx)
			if err != nil {
				return nil, err
			}
			return catalog.PersistentSnapshot(tables), nil
		},
		Ephemeral: func(ctx context.Context) ([]catalog.Resource, error) {
			tables, err := b.ListExcelTables(ctx)
			if err != nil {
				return nil, err
			}
			return catalog.EphemeralSnapshot(tables), nil
		},
		PollInterval:      opts.PollInterval,
		EphemeralInterval: opts.EphemeralInterval,
		Logger:            opts.Logger,
		Meter:             opts.Meter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh scheduler: %w", err)
	}

	questions, err := opts.Meter.Int64Counter("tablechat.questions",
		metric.WithDescription("Questions sent to the answering service"))
	if err != nil {
		return nil, fmt.Errorf("failed to create question counter: %w", err)
	}

	return &App{
		backend:        b,
		catalog:        cat,
		scheduler:      sched,
		log:            conversation.NewLog(),
		logger:         opts.Logger,
		questions:      questions,
		maxUploadBytes: opts.MaxUploadBytes,
	}, nil
}

// Start loads both catalogs and starts the background refresh timers. A failed initial
// load is returned but the timers run regardless. Cancelling ctx stops them.
func (a *App) Start(ctx context.Context) error {
	err := a.scheduler.RefreshAll(ctx)
	if err != nil {
		a.logger.Warn("initial catalog load failed", "error", err)
	}
	a.scheduler.Start(ctx)
	return err
}

// Stop cancels the background refresh timers
func (a *App) Stop() {
	a.scheduler.Stop()
}

// Catalog returns the resource catalog
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Log returns the conversation log
func (a *App) Log() *conversation.Log {
	return a.log
}

// Scheduler returns the refresh scheduler
func (a *App) Scheduler() *refresh.Scheduler {
	return a.scheduler
}

// Refresh re-fetches both catalogs now
func (a *App) Refresh(ctx context.Context) error {
	return a.scheduler.RefreshAll(ctx)
}

// SetDraft replaces the pending question text
func (a *App) SetDraft(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.draft = text
}

// Draft returns the pending question text
func (a *App) Draft() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draft
}

// Ask sets the draft to question and submits it
func (a *App) Ask(ctx context.Context, question string) (conversation.Exchange, error) {
	a.SetDraft(question)
	return a.Submit(ctx)
}

// Submit sends the draft against the selected tables and records the outcome.
//
// An empty selection is rejected before any network call and recorded as a single error
// exchange. Otherwise the draft is cleared, the question recorded, and the answer or the
// failure appended. The returned exchange is the last one appended; the error is the
// validation or transport failure, if any.
func (a *App) Submit(ctx context.Context) (conversation.Exchange, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return conversation.Exchange{}, apperr.Validation("message", BusyMessage)
	}
	defer a.busy.Store(false)

	question := a.Draft()
	persistent, ephemeral := a.catalog.SelectedNames()
	req, err := composer.Compose(persistent, ephemeral, question)
	if err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) && ve.Message == composer.EmptySelectionMessage {
			return a.log.AppendError(ve.Message), err
		}
		return conversation.Exchange{}, err
	}

	a.SetDraft("")
	a.log.AppendUser(question)
	a.questions.Add(ctx, 1)
	a.logger.Info("question submitted", "tables", req.Tables)

	resp, err := a.backend.Chat(ctx, req)
	if err != nil {
		a.logger.Error("failed to answer question", "error", err)
		return a.log.AppendError(apperr.UserMessage(err, apperr.GenericFailure)), err
	}
	return a.log.AppendAnswer(resp.Answer, resp.SQLQuery, resp.Data), nil
}

// Busy reports whether a question is outstanding
func (a *App) Busy() bool {
	return a.busy.Load()
}

// ToggleQuery flips the "show query" flag of an answer
func (a *App) ToggleQuery(id int) (conversation.Exchange, error) {
	e, err := a.log.Get(id)
	if err != nil {
		return conversation.Exchange{}, err
	}
	return a.log.SetQueryVisible(id, !e.QueryVisible)
}

// ToggleAllRows flips the "show all rows" flag of an answer
func (a *App) ToggleAllRows(id int) (conversation.Exchange, error) {
	e, err := a.log.Get(id)
	if err != nil {
		return conversation.Exchange{}, err
	}
	return a.log.SetAllRowsVisible(id, !e.AllRowsVisible)
}

// AddResource configures a database table. On success it appears pending right away and
// polling starts until its analysis completes.
func (a *App) AddResource(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("table_name", "Please enter a table name")
	}
	if a.catalog.Contains(catalog.KindPersistent, name) {
		return apperr.Validation("table_name", fmt.Sprintf("Table %s is already configured", name))
	}

	resp, err := a.backend.AddTable(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to add table %s: %w", name, err)
	}
	a.logger.Info("table added", "table", name)

	a.catalog.MarkPending(name, resp.Description)
	if _, err := a.scheduler.RefreshFresh(ctx, catalog.KindPersistent); err != nil {
		a.logger.Warn("refresh after add failed", "table", name, "error", err)
	}
	a.scheduler.EnsurePolling()
	return nil
}

// RemoveResource removes a configured database table after confirmation
func (a *App) RemoveResource(ctx context.Context, name string, confirm ConfirmFunc) error {
	return a.remove(ctx, catalog.KindPersistent, name, confirm)
}

// RemoveEphemeral removes an uploaded table after confirmation
func (a *App) RemoveEphemeral(ctx context.Context, name string, confirm ConfirmFunc) error {
	return a.remove(ctx, catalog.KindEphemeral, name, confirm)
}

func (a *App) remove(ctx context.Context, kind catalog.Kind, name string, confirm ConfirmFunc) error {
	name = strings.TrimSpace(name)
	res, ok := a.catalog.Find(name)
	if !ok || res.Kind != kind {
		return apperr.Validation("table_name", fmt.Sprintf("Unknown table %q", name))
	}
	if confirm == nil || !confirm(fmt.Sprintf("Remove %s?", res.DisplayLabel)) {
		return ErrCancelled
	}

	var err error
	if kind == catalog.KindEphemeral {
		err = a.backend.RemoveExcelTable(ctx, name)
	} else {
		err = a.backend.RemoveTable(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("failed to remove table %s: %w", name, err)
	}
	a.logger.Info("table removed", "table", name, "kind", kind)

	a.catalog.Remove(kind, name)
	if _, err := a.scheduler.RefreshFresh(ctx, kind); err != nil {
		a.logger.Warn("refresh after remove failed", "table", name, "error", err)
	}
	return nil
}

// UploadResult describes a completed upload
type UploadResult struct {
	Summary upload.Summary
	Upload  api.ExcelUpload
}

// UploadEphemeral checks a local workbook, uploads it and refreshes the uploaded tables
func (a *App) UploadEphemeral(ctx context.Context, path string) (UploadResult, error) {
	summary, err := upload.Preflight(path, a.maxUploadBytes)
	if err != nil {
		return UploadResult{}, err
	}

	f, err := os.Open(summary.Path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	up, err := a.backend.UploadExcel(ctx, summary.Filename, f)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to upload %s: %w", summary.Filename, err)
	}
	a.logger.Info("file uploaded", "table", up.Name, "file", summary.Filename)

	cols := make([]catalog.Column, len(up.Columns))
	for i, c := range up.Columns {
		cols[i] = catalog.Column{Name: c}
	}
	a.catalog.AddEphemeral(catalog.Resource{
		Name:         up.Name,
		DisplayLabel: summary.Filename,
		Columns:      cols,
	})
	if _, err := a.scheduler.RefreshFresh(ctx, catalog.KindEphemeral); err != nil {
		a.logger.Warn("refresh after upload failed", "table", up.Name, "error", err)
	}
	return UploadResult{Summary: summary, Upload: up}, nil
}

// UpdateDescription replaces a configured table's description
func (a *App) UpdateDescription(ctx context.Context, name, description string) error {
	name = strings.TrimSpace(name)
	if !a.catalog.Contains(catalog.KindPersistent, name) {
		return apperr.Validation("table_name", fmt.Sprintf("Unknown table %q", name))
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return apperr.Validation("description", "Please enter a description")
	}

	if err := a.backend.UpdateTable(ctx, name, description); err != nil {
		return fmt.Errorf("failed to update table %s: %w", name, err)
	}
	if _, err := a.scheduler.RefreshFresh(ctx, catalog.KindPersistent); err != nil {
		a.logger.Warn("refresh after update failed", "table", name, "error", err)
	}
	return nil
}

// AvailableTables lists database tables that are not configured yet
func (a *App) AvailableTables(ctx context.Context) ([]string, error) {
	names, err := a.backend.ListAvailableTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list available tables: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !a.catalog.Contains(catalog.KindPersistent, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}
