package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/leapstack-labs/trilogyctl/internal/cli/output"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
)

// renderMessages writes the messages of one request. Data modes write the
// messages as they are; text mode writes result pages as tables. cols orders
// the columns of follow-up pages, which carry no headers.
func renderMessages(r *output.Renderer, msgs []protocol.Message, limit int, cols []string) error {
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	return r.Render(msgs, func(w io.Writer) error {
		for _, m := range msgs {
			switch v := m.(type) {
			case protocol.QueryResult:
				if v.Success {
					renderRows(w, headerNames(v.Headers, v.Results), v.Results, limit)
				}
			case protocol.More:
				if v.Success {
					if cols == nil {
						cols = columnsOf(v.Results)
					}
					renderRows(w, cols, v.Results, limit)
				}
			}
		}
		return nil
	})
}

func renderRows(w io.Writer, cols []string, results []protocol.Row, limit int) {
	rows := make([][]any, 0, len(results))
	for _, result := range results {
		row := make([]any, len(cols))
		for i, col := range cols {
			row[i] = output.FormatValue(result[col])
		}
		rows = append(rows, row)
	}
	output.WriteTable(w, cols, rows)
	if limit > 0 && len(results) == limit {
		_, _ = fmt.Fprintln(w, "More rows may be available.")
	}
}

// headerNames returns the introspected column order, falling back to the
// sorted keys of the rows when introspection was skipped.
func headerNames(headers []protocol.ColumnDescription, results []protocol.Row) []string {
	if len(headers) == 0 {
		return columnsOf(results)
	}
	cols := make([]string, len(headers))
	for i, h := range headers {
		cols[i] = h.ColumnName
	}
	return cols
}

func columnsOf(results []protocol.Row) []string {
	if len(results) == 0 {
		return nil
	}
	cols := make([]string, 0, len(results[0]))
	for col := range results[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
