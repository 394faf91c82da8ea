// Package protocol defines the messages the control plane sends to
// presentation surfaces. Every message is a JSON object with a "type" tag.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeQueryStart    = "query-start"
	TypeQueryParse    = "query-parse"
	TypeQuery         = "query"
	TypeMore          = "more"
	TypeRenderQueries = "render-queries"
)

// FinishedParse is the acknowledgment text for statements that skip introspection.
const FinishedParse = "finished-parse"

// Message is implemented by every message kind.
type Message interface {
	Type() string
}

// Emitter receives messages produced by a request.
type Emitter func(Message)

// Row is one result row keyed by column name.
type Row = map[string]any

// ColumnDescription is one column reported by the introspection phase.
type ColumnDescription struct {
	ColumnName string  `json:"column_name"`
	ColumnType string  `json:"column_type"`
	Null       string  `json:"null"`
	Key        *string `json:"key"`
	Default    *string `json:"default"`
	Extra      *string `json:"extra"`
}

// QueryStart announces that a query was submitted.
type QueryStart struct{}

// QueryParse reports the outcome of the introspection phase.
type QueryParse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// QueryResult carries the first page of results or a terminal failure.
type QueryResult struct {
	Success   bool                `json:"success"`
	SQL       string              `json:"sql"`
	Headers   []ColumnDescription `json:"headers"`
	Results   []Row               `json:"results"`
	Message   string              `json:"message,omitempty"`
	Exception *string             `json:"exception"`
}

// More carries a subsequent page of results.
type More struct {
	Success bool   `json:"success"`
	Results []Row  `json:"results"`
	Message string `json:"message,omitempty"`
}

// RenderQueries asks a surface to display statements read-only.
type RenderQueries struct {
	RenderQueries []string `json:"renderQueries"`
	Dialect       string   `json:"dialect"`
}

func (QueryStart) Type() string    { return TypeQueryStart }
func (QueryParse) Type() string    { return TypeQueryParse }
func (QueryResult) Type() string   { return TypeQuery }
func (More) Type() string          { return TypeMore }
func (RenderQueries) Type() string { return TypeRenderQueries }

// MarshalJSON implementations add the type tag.

func (m QueryStart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{m.Type()})
}

func (m QueryParse) MarshalJSON() ([]byte, error) {
	type plain QueryParse
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{m.Type(), plain(m)})
}

func (m QueryResult) MarshalJSON() ([]byte, error) {
	type plain QueryResult
	p := plain(m)
	if p.Headers == nil {
		p.Headers = []ColumnDescription{}
	}
	if p.Results == nil {
		p.Results = []Row{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{m.Type(), p})
}

func (m More) MarshalJSON() ([]byte, error) {
	type plain More
	p := plain(m)
	if p.Results == nil {
		p.Results = []Row{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{m.Type(), p})
}

func (m RenderQueries) MarshalJSON() ([]byte, error) {
	type plain RenderQueries
	p := plain(m)
	if p.RenderQueries == nil {
		p.RenderQueries = []string{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{m.Type(), p})
}

// QuerySucceeded builds a successful first-page message.
func QuerySucceeded(sql string, headers []ColumnDescription, rows []Row) QueryResult {
	if headers == nil {
		headers = []ColumnDescription{}
	}
	if rows == nil {
		rows = []Row{}
	}
	return QueryResult{Success: true, SQL: sql, Headers: headers, Results: rows}
}

// QueryFailed builds a failed first-page message carrying err in both the
// message and exception fields.
func QueryFailed(sql string, err error) QueryResult {
	text := err.Error()
	return QueryResult{
		Success:   false,
		SQL:       sql,
		Headers:   []ColumnDescription{},
		Results:   []Row{},
		Message:   text,
		Exception: &text,
	}
}

// ParseFailed builds a failed introspection message.
func ParseFailed(err error) QueryParse {
	return QueryParse{Success: false, Message: err.Error(), Exception: err.Error()}
}

// MoreFailed builds a failed page message.
func MoreFailed(err error) More {
	return More{Success: false, Results: []Row{}, Message: err.Error()}
}

// IsTerminal reports whether m ends a request.
func IsTerminal(m Message) bool {
	switch v := m.(type) {
	case QueryResult, More:
		return true
	case QueryParse:
		return !v.Success
	}
	return false
}

// Decode parses a tagged message.
func Decode(data []byte) (Message, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode message tag: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch tag.Type {
	case TypeQueryStart:
		msg = QueryStart{}
	case TypeQueryParse:
		var m QueryParse
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeQuery:
		var m QueryResult
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeMore:
		var m More
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeRenderQueries:
		var m RenderQueries
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type %q", tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", tag.Type, err)
	}
	return msg, nil
}
