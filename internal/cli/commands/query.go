package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/query"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Input  string
	Limit  int
	Offset int
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run SQL in a session configured from the active config",
		Long: `Run SQL against an embedded DuckDB session.

The session runs the active config's setup scripts when it opens. Each
statement is introspected first to report its columns, then its first page
is returned. Administrative statements (CALL, INSTALL, LOAD) skip
introspection.

When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  trilogyctl query "SELECT * FROM range(10)"

  # Page through results
  trilogyctl query "SELECT * FROM range(1000)" --limit 50 --offset 100

  # Read SQL from a file
  trilogyctl query -i report.sql

  # Interactive mode
  trilogyctl query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Page size (default: query.page_size)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Fetch the page starting at this row")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cmdCtx := NewCommandContext(cmd)

	// Determine SQL source
	var sqlQuery string
	in := cmd.InOrStdin()
	repl := false

	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(in):
		// Read from stdin (piped input)
		content, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		// No input, TTY detected - enter REPL mode
		repl = true
	}
	if !repl && strings.TrimSpace(sqlQuery) == "" {
		return errors.New("no SQL to run")
	}

	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	services.Discover(cmd.Context())
	_, session, err := services.OpenSession(cmd.Context())
	if err != nil {
		return err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = services.PageSize()
	}

	if repl {
		return runQueryREPL(cmd, cmdCtx, session, limit)
	}

	var future *query.Future
	if opts.Offset > 0 {
		future = session.FetchMore(sqlQuery, limit, opts.Offset, nil)
	} else {
		future = session.RunQuery(sqlQuery, limit, nil)
	}
	msgs, reqErr := future.Wait(cmd.Context())
	if errors.Is(reqErr, context.Canceled) {
		return reqErr
	}

	if err := renderMessages(cmdCtx.Renderer, msgs, limit, nil); err != nil {
		return err
	}
	return messagesError(msgs)
}

// messagesError returns the failure carried by a terminal message, if any.
func messagesError(msgs []protocol.Message) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case protocol.QueryParse:
			if !v.Success {
				return fmt.Errorf("query failed: %s", v.Message)
			}
		case protocol.QueryResult:
			if !v.Success {
				return fmt.Errorf("query failed: %s", v.Message)
			}
		case protocol.More:
			if !v.Success {
				return fmt.Errorf("query failed: %s", v.Message)
			}
		}
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}
