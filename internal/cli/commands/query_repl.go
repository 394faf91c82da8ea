package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/query"
)

const (
	replPrompt     = "trilogy> "
	replContPrompt = "    ...> "
)

// replState tracks the last statement so .more can page through it.
type replState struct {
	sql    string
	cols   []string
	offset int
	limit  int
}

func runQueryREPL(cmd *cobra.Command, cmdCtx *CommandContext, session *query.Session, limit int) error {
	// Setup history file next to the state database
	historyFile := filepath.Join(filepath.Dir(cmdCtx.Cfg.StatePath), "query_history")

	// Configure readline
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newDotCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	// Print welcome message
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Trilogy query REPL (dialect: %s)\n", session.Dialect())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	st := &replState{limit: limit}

	// REPL loop
	var multiLineBuffer strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			multiLineBuffer.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Handle dot-commands
		if multiLineBuffer.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(cmd, cmdCtx, session, st, line); quit {
				break
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		multiLineBuffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			multiLineBuffer.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		sql := multiLineBuffer.String()
		multiLineBuffer.Reset()

		if err := runREPLStatement(cmd, cmdCtx, session, st, sql); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
	}

	return nil
}

func runREPLStatement(cmd *cobra.Command, cmdCtx *CommandContext, session *query.Session, st *replState, sql string) error {
	future := session.RunQuery(sql, st.limit, nil)
	msgs, _ := future.Wait(cmd.Context())

	st.sql, st.cols, st.offset = "", nil, 0
	if terminal, ok := future.Terminal(); ok {
		if qr, ok := terminal.(protocol.QueryResult); ok && qr.Success {
			st.sql = sql
			st.cols = headerNames(qr.Headers, qr.Results)
			st.offset = len(qr.Results)
		}
	}

	if err := renderMessages(cmdCtx.Renderer, msgs, st.limit, nil); err != nil {
		return err
	}
	return messagesError(msgs)
}

func fetchNextPage(cmd *cobra.Command, cmdCtx *CommandContext, session *query.Session, st *replState) error {
	if st.sql == "" {
		return errors.New("no previous query to page through")
	}
	future := session.FetchMore(st.sql, st.limit, st.offset, nil)
	msgs, _ := future.Wait(cmd.Context())
	if terminal, ok := future.Terminal(); ok {
		if more, ok := terminal.(protocol.More); ok && more.Success {
			st.offset += len(more.Results)
		}
	}
	if err := renderMessages(cmdCtx.Renderer, msgs, st.limit, st.cols); err != nil {
		return err
	}
	return messagesError(msgs)
}

// handleDotCommand runs a dot-command and reports whether the REPL should exit.
func handleDotCommand(cmd *cobra.Command, cmdCtx *CommandContext, session *query.Session, st *replState, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(cmd.OutOrStdout())

	case ".more":
		if err := fetchNextPage(cmd, cmdCtx, session, st); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}

	case ".dialect":
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), session.Dialect())

	case ".clear":
		_, _ = fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .more           Fetch the next page of the last query
  .dialect        Show the session dialect
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// newDotCompleter creates a readline completer for dot-commands.
func newDotCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".more"),
		readline.PcItem(".dialect"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
