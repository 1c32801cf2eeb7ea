package chatbot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
	"TableChat/internal/catalog"
	"TableChat/internal/composer"
	"TableChat/internal/conversation"
	"TableChat/internal/rowset"
	"TableChat/internal/testutil"
)

// fakeBackend records calls and serves from in-memory state.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	tables    []api.TableInfo
	excel     []api.ExcelTable
	available []string
	chat      func(api.ChatRequest) (api.ChatResponse, error)
	failNext  error
	chatBlock chan struct{}
}

func (f *fakeBackend) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *fakeBackend) ListTables(context.Context) ([]api.TableInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.TableInfo(nil), f.tables...), nil
}

func (f *fakeBackend) ListAvailableTables(context.Context) ([]string, error) {
	if err := f.record("available"); err != nil {
		return nil, err
	}
	return f.available, nil
}

func (f *fakeBackend) ListExcelTables(context.Context) ([]api.ExcelTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ExcelTable(nil), f.excel...), nil
}

func (f *fakeBackend) AddTable(_ context.Context, name string) (api.MessageResponse, error) {
	if err := f.record("add " + name); err != nil {
		return api.MessageResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, api.TableInfo{Name: name, Description: api.AnalyzingDescription})
	return api.MessageResponse{Message: "Table added successfully", Description: api.AnalyzingDescription}, nil
}

func (f *fakeBackend) RemoveTable(_ context.Context, name string) error {
	if err := f.record("remove " + name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tables {
		if t.Name == name {
			f.tables = append(f.tables[:i], f.tables[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) UpdateTable(_ context.Context, name, description string) error {
	if err := f.record("update " + name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tables {
		if f.tables[i].Name == name {
			f.tables[i].Description = description
		}
	}
	return nil
}

func (f *fakeBackend) UploadExcel(_ context.Context, filename string, r io.Reader) (api.ExcelUpload, error) {
	if err := f.record("upload " + filename); err != nil {
		return api.ExcelUpload{}, err
	}
	if _, err := io.ReadAll(r); err != nil {
		return api.ExcelUpload{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excel = append(f.excel, api.ExcelTable{Name: "excel_salesxlsx_ab12cd34", OriginalFilename: filename, Columns: []string{"Region", "Total"}})
	return api.ExcelUpload{Name: "excel_salesxlsx_ab12cd34", Columns: []string{"Region", "Total"}}, nil
}

func (f *fakeBackend) RemoveExcelTable(_ context.Context, name string) error {
	if err := f.record("remove-upload " + name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.excel {
		if t.Name == name {
			f.excel = append(f.excel[:i], f.excel[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) Chat(_ context.Context, req api.ChatRequest) (api.ChatResponse, error) {
	if err := f.record("chat"); err != nil {
		return api.ChatResponse{}, err
	}
	if f.chatBlock != nil {
		<-f.chatBlock
	}
	if f.chat != nil {
		return f.chat(req)
	}
	return api.ChatResponse{Answer: "ok"}, nil
}

func newTestApp(t *testing.T, b *fakeBackend) *App {
	t.Helper()
	app, err := NewApp(Options{
		Backend:           b,
		Logger:            testutil.NewTestLogger(t),
		Meter:             testutil.NoopMeter(),
		PollInterval:      10 * time.Millisecond,
		EphemeralInterval: time.Hour,
		MaxUploadBytes:    10 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(app.Stop)
	return app
}

func TestSubmit_EmptySelection(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	e, err := app.Ask(t.Context(), "how many orders?")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	assert.Empty(t, b.Calls())
	exchanges := app.Log().Exchanges()
	require.Len(t, exchanges, 1)
	assert.Equal(t, conversation.RoleError, exchanges[0].Role)
	assert.Equal(t, composer.EmptySelectionMessage, exchanges[0].Text)
	assert.Equal(t, exchanges[0], e)

	// a failed validation keeps the draft
	assert.Equal(t, "how many orders?", app.Draft())
}

func TestSubmit_Answer(t *testing.T) {
	b := &fakeBackend{
		tables: []api.TableInfo{{Name: "orders", Description: "Orders"}, {Name: "customers", Description: "Customers"}},
		excel:  []api.ExcelTable{{Name: "excel_sales_1", OriginalFilename: "sales.xlsx"}},
	}
	var got api.ChatRequest
	b.chat = func(req api.ChatRequest) (api.ChatResponse, error) {
		got = req
		return api.ChatResponse{
			Answer:   "Revenue by month.",
			SQLQuery: "SELECT month, revenue FROM sales",
			Data:     []rowset.Record{rowset.NewRecord("month", "Jan", "revenue", 10)},
		}, nil
	}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	require.NoError(t, app.Catalog().SetSelected("excel_sales_1", true))
	require.NoError(t, app.Catalog().SetSelected("customers", true))
	require.NoError(t, app.Catalog().SetSelected("orders", true))

	app.SetDraft("revenue by month")
	e, err := app.Submit(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{"orders", "customers", "excel_sales_1"}, got.Tables)
	assert.Equal(t, "revenue by month", got.Message)
	assert.Equal(t, conversation.RoleAnswer, e.Role)
	assert.Equal(t, "SELECT month, revenue FROM sales", e.GeneratedQuery)
	assert.Empty(t, app.Draft())

	exchanges := app.Log().Exchanges()
	require.Len(t, exchanges, 2)
	assert.Equal(t, conversation.RoleUser, exchanges[0].Role)
	assert.Equal(t, "revenue by month", exchanges[0].Text)

	e, err = app.ToggleQuery(e.ID)
	require.NoError(t, err)
	assert.True(t, e.QueryVisible)
	e, err = app.ToggleQuery(e.ID)
	require.NoError(t, err)
	assert.False(t, e.QueryVisible)
}

func TestSubmit_SendsQuestionUnchanged(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}}
	var got api.ChatRequest
	b.chat = func(req api.ChatRequest) (api.ChatResponse, error) {
		got = req
		return api.ChatResponse{Answer: "ok"}, nil
	}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))
	require.NoError(t, app.Catalog().SetSelected("orders", true))

	_, err := app.Ask(t.Context(), "  top orders\n")
	require.NoError(t, err)
	assert.Equal(t, "  top orders\n", got.Message)
	assert.Equal(t, "  top orders\n", app.Log().Exchanges()[0].Text)

	// whitespace alone is still empty
	_, err = app.Ask(t.Context(), " \t ")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, []string{"chat"}, b.Calls())
}

func TestSubmit_BackendFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"detail", &apperr.TransportError{Op: "chat", StatusCode: 400, Detail: "ERROR: Cannot answer this question with the selected tables"}, "ERROR: Cannot answer this question with the selected tables"},
		{"network", &apperr.TransportError{Op: "chat", Err: errors.New("connection refused")}, apperr.GenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}}
			b.chat = func(api.ChatRequest) (api.ChatResponse, error) { return api.ChatResponse{}, tt.err }
			app := newTestApp(t, b)
			require.NoError(t, app.Start(t.Context()))
			require.NoError(t, app.Catalog().SetSelected("orders", true))

			e, err := app.Ask(t.Context(), "anything")
			require.Error(t, err)
			assert.Equal(t, conversation.RoleError, e.Role)
			assert.Equal(t, tt.want, e.Text)
			assert.Equal(t, 2, app.Log().Len())
		})
	}
}

func TestSubmit_RejectsWhileBusy(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}, chatBlock: make(chan struct{})}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))
	require.NoError(t, app.Catalog().SetSelected("orders", true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = app.Ask(t.Context(), "first")
	}()
	require.Eventually(t, app.Busy, time.Second, time.Millisecond)

	_, err := app.Ask(t.Context(), "second")
	require.Error(t, err)
	assert.Equal(t, BusyMessage, apperr.UserMessage(err, ""))

	close(b.chatBlock)
	<-done
	assert.False(t, app.Busy())
	// first question and its answer only
	assert.Equal(t, 2, app.Log().Len())
}

func TestAddResource(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	err := app.AddResource(t.Context(), "  ")
	assert.True(t, apperr.IsValidation(err))
	err = app.AddResource(t.Context(), "orders")
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, b.Calls())

	require.NoError(t, app.AddResource(t.Context(), "events"))
	r, ok := app.Catalog().Find("events")
	require.True(t, ok)
	assert.True(t, r.AnalysisPending)
	assert.True(t, app.Scheduler().Polling())

	// the backend finishes its analysis
	b.mu.Lock()
	b.tables[1].Description = "Event log"
	b.mu.Unlock()

	require.Eventually(t, func() bool {
		r, _ := app.Catalog().Find("events")
		return !r.AnalysisPending && !app.Scheduler().Polling()
	}, 2*time.Second, 5*time.Millisecond)
	r, _ = app.Catalog().Find("events")
	assert.Equal(t, "Event log", r.Description)
}

func TestAddResource_Failure(t *testing.T) {
	b := &fakeBackend{}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	b.fail(&apperr.TransportError{Op: "add_table", StatusCode: 404, Detail: "Table nope not found in database"})
	err := app.AddResource(t.Context(), "nope")
	require.Error(t, err)
	assert.Equal(t, "Table nope not found in database", apperr.UserMessage(err, apperr.GenericFailure))
	assert.False(t, app.Catalog().Contains(catalog.KindPersistent, "nope"))
}

func TestRemoveResource(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders"}}}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	// never without confirmation
	err := app.RemoveResource(t.Context(), "orders", nil)
	assert.ErrorIs(t, err, ErrCancelled)
	err = app.RemoveResource(t.Context(), "orders", func(string) bool { return false })
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, b.Calls())

	// failure leaves state untouched
	b.fail(&apperr.TransportError{Op: "remove_table", StatusCode: 500})
	err = app.RemoveResource(t.Context(), "orders", func(string) bool { return true })
	require.Error(t, err)
	assert.True(t, app.Catalog().Contains(catalog.KindPersistent, "orders"))

	var prompt string
	require.NoError(t, app.RemoveResource(t.Context(), "orders", func(p string) bool { prompt = p; return true }))
	assert.Equal(t, "Remove orders?", prompt)
	assert.False(t, app.Catalog().Contains(catalog.KindPersistent, "orders"))

	err = app.RemoveResource(t.Context(), "orders", func(string) bool { return true })
	assert.True(t, apperr.IsValidation(err))
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Region", "Total"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"north", 3}))
	require.NoError(t, f.SaveAs(path))
}

func TestUploadAndRemoveEphemeral(t *testing.T) {
	b := &fakeBackend{}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	_, err := app.UploadEphemeral(t.Context(), "")
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, b.Calls())

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	writeWorkbook(t, path)

	res, err := app.UploadEphemeral(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "excel_salesxlsx_ab12cd34", res.Upload.Name)
	assert.Equal(t, 1, res.Summary.DataRows)

	r, ok := app.Catalog().Find("excel_salesxlsx_ab12cd34")
	require.True(t, ok)
	assert.Equal(t, catalog.KindEphemeral, r.Kind)
	assert.Equal(t, "sales.xlsx", r.DisplayLabel)
	assert.False(t, r.Optimistic)
	assert.False(t, r.AnalysisPending)

	// kinds are not interchangeable
	err = app.RemoveResource(t.Context(), "excel_salesxlsx_ab12cd34", func(string) bool { return true })
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, app.RemoveEphemeral(t.Context(), "excel_salesxlsx_ab12cd34", func(string) bool { return true }))
	assert.False(t, app.Catalog().Contains(catalog.KindEphemeral, "excel_salesxlsx_ab12cd34"))
}

func TestUpdateDescriptionAndAvailable(t *testing.T) {
	b := &fakeBackend{
		tables:    []api.TableInfo{{Name: "orders", Description: "Orders"}},
		available: []string{"orders", "events", "customers"},
	}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	names, err := app.AvailableTables(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "events"}, names)

	assert.True(t, apperr.IsValidation(app.UpdateDescription(t.Context(), "missing", "x")))
	assert.True(t, apperr.IsValidation(app.UpdateDescription(t.Context(), "orders", " ")))

	require.NoError(t, app.UpdateDescription(t.Context(), "orders", "Orders placed online"))
	r, _ := app.Catalog().Find("orders")
	assert.Equal(t, "Orders placed online", r.Description)
}

func TestREPL_Commands(t *testing.T) {
	b := &fakeBackend{tables: []api.TableInfo{{Name: "orders", Description: "Orders", Columns: []api.ColumnInfo{{Name: "id", Type: "INTEGER"}}}}}
	b.chat = func(api.ChatRequest) (api.ChatResponse, error) {
		return api.ChatResponse{
			Answer:   "Two statuses.",
			SQLQuery: "SELECT status FROM orders",
			Data:     []rowset.Record{rowset.NewRecord("status", "ok"), rowset.NewRecord("status", "fail")},
		}, nil
	}
	app := newTestApp(t, b)
	require.NoError(t, app.Start(t.Context()))

	var out bytes.Buffer
	repl := NewREPL(app, &out, 5, func(string) bool { return true })
	ctx := t.Context()

	assert.False(t, repl.Handle(ctx, "how many?"))
	assert.Contains(t, out.String(), "Error: "+composer.EmptySelectionMessage)

	out.Reset()
	repl.Handle(ctx, "/select orders")
	assert.Contains(t, out.String(), "Selected: orders")

	out.Reset()
	repl.Handle(ctx, "status counts")
	assert.Contains(t, out.String(), "[#3] Two statuses.")
	assert.Contains(t, out.String(), "pie chart: STATUS")
	assert.NotContains(t, out.String(), "SELECT status")

	out.Reset()
	repl.Handle(ctx, "/sql")
	assert.Contains(t, out.String(), "SELECT status FROM orders")

	out.Reset()
	repl.Handle(ctx, "/describe orders")
	assert.Contains(t, out.String(), "INTEGER")

	out.Reset()
	repl.Handle(ctx, "/bogus")
	assert.Contains(t, out.String(), "unknown command: /bogus")

	out.Reset()
	repl.Handle(ctx, "/rows 1")
	assert.Contains(t, out.String(), "is not an answer")

	assert.True(t, repl.Handle(ctx, "/quit"))
}
