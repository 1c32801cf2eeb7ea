package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"TableChat/internal/apperr"
	"TableChat/internal/catalog"
	"TableChat/internal/conversation"
	"TableChat/internal/render"
)

const prompt = "tablechat> "

var commands = [][2]string{
	{"/help", "Show this help message"},
	{"/tables", "List configured and uploaded tables"},
	{"/available", "List database tables that can be added"},
	{"/select <name>...", "Select tables for the next question"},
	{"/deselect <name>...", "Deselect tables"},
	{"/add <name>", "Configure a database table"},
	{"/remove <name>", "Remove a configured table"},
	{"/describe <name> [text]", "Show a table, or replace its description"},
	{"/upload <path>", "Upload an Excel workbook"},
	{"/remove-upload <name>", "Remove an uploaded table"},
	{"/sql [n]", "Show or hide the SQL of answer n (default: last)"},
	{"/rows [n]", "Show all rows of answer n (default: last)"},
	{"/history", "Print the conversation"},
	{"/refresh", "Reload both table lists"},
	{"/quit", "Exit"},
}

// REPL is the interactive terminal view over an App
type REPL struct {
	app         *App
	r           *render.Renderer
	previewRows int
	confirm     ConfirmFunc
}

// NewREPL creates a REPL writing to out. confirm answers removal prompts.
func NewREPL(app *App, out io.Writer, previewRows int, confirm ConfirmFunc) *REPL {
	return &REPL{
		app:         app,
		r:           render.New(out, previewRows),
		previewRows: previewRows,
		confirm:     confirm,
	}
}

// Run reads lines until /quit, EOF or ctx is cancelled
func (s *REPL) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.r = render.New(rl.Stdout(), s.previewRows)
	s.confirm = func(question string) bool {
		rl.SetPrompt(question + " [y/N] ")
		defer rl.SetPrompt(prompt)
		answer, err := rl.Readline()
		if err != nil {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
	s.app.Catalog().OnChange(func(ch catalog.Change) {
		for _, name := range ch.Ready {
			s.r.Info("Analysis of %s completed.", name)
		}
	})

	s.r.Info("=== TableChat ===")
	s.r.Info("Type /help for commands, /quit to exit")
	s.r.Info("")

	for {
		if ctx.Err() != nil {
			break
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if s.Handle(ctx, line) {
			break
		}
	}

	s.r.Info("Goodbye!")
	return nil
}

func (s *REPL) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands)+1)
	names := func(string) []string {
		all := s.app.Catalog().All()
		out := make([]string, len(all))
		for i, r := range all {
			out[i] = r.Name
		}
		return out
	}
	for _, c := range commands {
		name := strings.Fields(c[0])[0]
		switch name {
		case "/select", "/deselect", "/remove", "/describe", "/remove-upload":
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(names)))
		default:
			items = append(items, readline.PcItem(name))
		}
	}
	items = append(items, readline.PcItem("/exit"))
	return readline.NewPrefixCompleter(items...)
}

// Handle processes one input line and reports whether the user asked to quit
func (s *REPL) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		quit, err := s.handleCommand(ctx, line)
		if err != nil {
			s.showError(err)
		}
		return quit
	}

	before := s.app.Log().Len()
	_, err := s.app.Ask(ctx, line)
	appended := s.app.Log().Exchanges()[before:]
	for _, e := range appended {
		if e.Role != conversation.RoleUser {
			s.r.Exchange(e)
		}
	}
	if err != nil && len(appended) == 0 {
		s.showError(err)
	}
	return false
}

func (s *REPL) handleCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		s.r.Help(commands)

	case "/tables":
		cat := s.app.Catalog()
		s.r.Catalog(cat.Resources(catalog.KindPersistent), cat.Resources(catalog.KindEphemeral))

	case "/available":
		names, err := s.app.AvailableTables(ctx)
		if err != nil {
			return false, err
		}
		if len(names) == 0 {
			s.r.Info("Every database table is already configured.")
			return false, nil
		}
		s.r.Info("Available tables:")
		for _, n := range names {
			s.r.Info("  %s", n)
		}

	case "/select", "/deselect":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: %s <name>...", command)
		}
		for _, name := range args {
			if err := s.app.Catalog().SetSelected(name, command == "/select"); err != nil {
				return false, err
			}
		}
		p, e := s.app.Catalog().SelectedNames()
		s.r.Info("Selected: %s", strings.Join(append(p, e...), ", "))

	case "/add":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /add <name>")
		}
		if err := s.app.AddResource(ctx, args[0]); err != nil {
			return false, err
		}
		s.r.Info("Table %s added. Analysis is running in the background.", args[0])

	case "/remove", "/remove-upload":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <name>", command)
		}
		var err error
		if command == "/remove" {
			err = s.app.RemoveResource(ctx, args[0], s.confirm)
		} else {
			err = s.app.RemoveEphemeral(ctx, args[0], s.confirm)
		}
		if err != nil {
			return false, err
		}
		s.r.Info("Table %s removed.", args[0])

	case "/describe":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /describe <name> [text]")
		}
		if len(args) > 1 {
			if err := s.app.UpdateDescription(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return false, err
			}
			s.r.Info("Description of %s updated.", args[0])
			return false, nil
		}
		res, ok := s.app.Catalog().Find(args[0])
		if !ok {
			return false, apperr.Validation("table_name", fmt.Sprintf("Unknown table %q", args[0]))
		}
		s.r.Describe(res)

	case "/upload":
		path := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		res, err := s.app.UploadEphemeral(ctx, path)
		if err != nil {
			return false, err
		}
		s.r.Info("Uploaded %s as %s (%d rows, columns: %s).", res.Summary.Filename, res.Upload.Name,
			res.Summary.DataRows, strings.Join(res.Upload.Columns, ", "))

	case "/sql", "/rows":
		id, err := s.answerID(args)
		if err != nil {
			return false, err
		}
		var e conversation.Exchange
		if command == "/sql" {
			e, err = s.app.ToggleQuery(id)
		} else {
			e, err = s.app.ToggleAllRows(id)
		}
		if err != nil {
			return false, err
		}
		s.r.Exchange(e)

	case "/history":
		for _, e := range s.app.Log().Exchanges() {
			s.r.Exchange(e)
		}

	case "/refresh":
		if err := s.app.Refresh(ctx); err != nil {
			return false, err
		}
		cat := s.app.Catalog()
		s.r.Catalog(cat.Resources(catalog.KindPersistent), cat.Resources(catalog.KindEphemeral))

	default:
		return false, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return false, nil
}

// answerID parses an optional exchange number, defaulting to the last answer
func (s *REPL) answerID(args []string) (int, error) {
	if len(args) > 0 {
		id, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
		if err != nil {
			return 0, fmt.Errorf("invalid answer number %q", args[0])
		}
		return id, nil
	}
	e, ok := s.app.Log().LastAnswer()
	if !ok {
		return 0, fmt.Errorf("no answers yet")
	}
	return e.ID, nil
}

func (s *REPL) showError(err error) {
	if errors.Is(err, ErrCancelled) {
		s.r.Info("Cancelled.")
		return
	}
	var te *apperr.TransportError
	if apperr.IsValidation(err) || errors.As(err, &te) {
		s.r.Errorf("Error: %s", apperr.UserMessage(err, apperr.GenericFailure))
		return
	}
	s.r.Errorf("Error: %v", err)
}
