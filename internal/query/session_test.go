package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/trilogyctl/internal/adapter"
	"github.com/leapstack-labs/trilogyctl/internal/config"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, rec *config.Record) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{Config: rec, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func wait(t *testing.T, f *Future) ([]protocol.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	msgs, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return msgs, err
}

func TestRunQuery_SelectOne(t *testing.T) {
	s := openSession(t, nil)
	assert.True(t, s.SetupCompleted())

	var emitted []protocol.Message
	msgs, err := wait(t, s.RunQuery("select 1", 100, func(m protocol.Message) {
		emitted = append(emitted, m)
	}))
	require.NoError(t, err)
	assert.Equal(t, msgs, emitted)

	require.Len(t, msgs, 1)
	result, ok := msgs[0].(protocol.QueryResult)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, "select 1", result.SQL)
	assert.Nil(t, result.Exception)
	require.Len(t, result.Headers, 1)
	require.Len(t, result.Results, 1)
	assert.EqualValues(t, 1, result.Results[0][result.Headers[0].ColumnName])
}

func TestRunQuery_HeadersFromDescribe(t *testing.T) {
	s := openSession(t, nil)

	msgs, err := wait(t, s.RunQuery("select 1::INTEGER as id, 'a' as name;", 10, nil))
	require.NoError(t, err)

	result := msgs[len(msgs)-1].(protocol.QueryResult)
	require.Len(t, result.Headers, 2)
	assert.Equal(t, "id", result.Headers[0].ColumnName)
	assert.Equal(t, "INTEGER", result.Headers[0].ColumnType)
	assert.Equal(t, "name", result.Headers[1].ColumnName)
	assert.Equal(t, "VARCHAR", result.Headers[1].ColumnType)
}

func TestRunQuery_TrailingLineComment(t *testing.T) {
	s := openSession(t, nil)

	msgs, err := wait(t, s.RunQuery("select 1 as a -- note", 10, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	result, ok := msgs[0].(protocol.QueryResult)
	require.True(t, ok, "got %#v", msgs[0])
	assert.True(t, result.Success)
	require.Len(t, result.Headers, 1)
	assert.Equal(t, "a", result.Headers[0].ColumnName)
	require.Len(t, result.Results, 1)
	assert.EqualValues(t, 1, result.Results[0]["a"])
}

func TestRunQuery_PaginationIsDisjoint(t *testing.T) {
	s := openSession(t, nil)
	sql := "select range as n from range(10) order by n"

	msgs, err := wait(t, s.RunQuery(sql, 4, nil))
	require.NoError(t, err)
	first := msgs[len(msgs)-1].(protocol.QueryResult)
	require.Len(t, first.Results, 4)

	msgs, err = wait(t, s.FetchMore(sql, 4, 4, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	more := msgs[0].(protocol.More)
	assert.True(t, more.Success)
	require.Len(t, more.Results, 4)

	seen := map[int64]bool{}
	for _, row := range append(first.Results, more.Results...) {
		n := row["n"].(int64)
		assert.False(t, seen[n], "row %d returned twice", n)
		seen[n] = true
	}
	assert.EqualValues(t, 0, first.Results[0]["n"])
	assert.EqualValues(t, 4, more.Results[0]["n"])
}

func TestRunQuery_NormalizesWideIntegers(t *testing.T) {
	s := openSession(t, nil)

	msgs, err := wait(t, s.RunQuery(
		"select 170141183460469231731687303715884105727::HUGEINT as h, 9007199254740993::BIGINT as b, 1.50::DECIMAL(10,2) as d, [12345678901234567890::HUGEINT] as l",
		10, nil))
	require.NoError(t, err)

	row := msgs[len(msgs)-1].(protocol.QueryResult).Results[0]
	assert.IsType(t, float64(0), row["h"])
	assert.IsType(t, float64(0), row["b"])
	assert.InDelta(t, 1.5, row["d"], 1e-9)
	list, ok := row["l"].([]any)
	require.True(t, ok)
	assert.IsType(t, float64(0), list[0])
}

func TestRunQuery_IntrospectionFailure(t *testing.T) {
	s := openSession(t, nil)

	msgs, err := wait(t, s.RunQuery("select * from missing_table", 100, nil))

	var introErr *IntrospectionError
	require.ErrorAs(t, err, &introErr)
	require.Len(t, msgs, 1)
	parse, ok := msgs[0].(protocol.QueryParse)
	require.True(t, ok)
	assert.False(t, parse.Success)
	assert.Contains(t, parse.Message, "missing_table")
	assert.Equal(t, parse.Message, parse.Exception)
	assert.True(t, protocol.IsTerminal(parse))
}

func TestOpen_RunsSetupScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "create.sql"), []byte("CREATE TABLE seed AS SELECT 7 AS x;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.sql"), []byte("THIS IS NOT SQL"), 0o600))
	abs := filepath.Join(dir, "more.sql")
	require.NoError(t, os.WriteFile(abs, []byte("INSERT INTO seed VALUES (8);"), 0o600))

	rec := &config.Record{
		AbsolutePath: filepath.Join(dir, config.FileName),
		Dialect:      "duck_db",
		SetupScripts: []string{"create.sql", "missing.sql", "broken.sql", abs},
	}
	s := openSession(t, rec)
	assert.True(t, s.SetupCompleted())
	assert.Equal(t, "duck_db", s.Dialect())

	msgs, err := wait(t, s.RunQuery("select x from seed order by x", 10, nil))
	require.NoError(t, err)
	result := msgs[len(msgs)-1].(protocol.QueryResult)
	require.Len(t, result.Results, 2)
	assert.EqualValues(t, 7, result.Results[0]["x"])
	assert.EqualValues(t, 8, result.Results[1]["x"])
}

func newMockSession(t *testing.T) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	s, err := Open(context.Background(), Options{
		Adapter: adapter.NewDuckDBAdapterWithDB(db, nil),
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = s.Close()
	})
	return s, mock
}

func TestRunQuery_AdminStatement(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery("install httpfs").WillReturnRows(sqlmock.NewRows([]string{"Success"}))

	msgs, err := wait(t, s.RunQuery("install httpfs", 100, nil))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	parse := msgs[0].(protocol.QueryParse)
	assert.True(t, parse.Success)
	assert.Equal(t, protocol.FinishedParse, parse.Message)

	result := msgs[1].(protocol.QueryResult)
	assert.True(t, result.Success)
	assert.Empty(t, result.Headers)
	assert.NotNil(t, result.Headers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunQuery_AdminStatementFailure(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery("load nope").WillReturnError(errors.New("extension nope not found"))

	msgs, err := wait(t, s.RunQuery("load nope", 100, nil))
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)

	result := msgs[len(msgs)-1].(protocol.QueryResult)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "extension nope not found")
	require.NotNil(t, result.Exception)
	assert.Equal(t, result.Message, *result.Exception)
}

func TestRunQuery_ExecutionFailureAfterDescribe(t *testing.T) {
	s, mock := newMockSession(t)
	sql := "select boom()"

	mock.ExpectQuery(DescribeSQL(sql)).WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "column_type", "null", "key", "default", "extra"}).
			AddRow("boom()", "INTEGER", "YES", nil, nil, nil),
	)
	mock.ExpectQuery(PageSQL(sql, 100, 0)).WillReturnError(errors.New("Invalid Input Error: boom"))

	var emitted []string
	msgs, err := wait(t, s.RunQuery(sql, 100, func(m protocol.Message) { emitted = append(emitted, m.Type()) }))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, []string{protocol.TypeQuery}, emitted)

	result := msgs[0].(protocol.QueryResult)
	assert.False(t, result.Success)
	assert.Equal(t, sql, result.SQL)
	assert.Contains(t, result.Message, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchMore_Failure(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery(PageSQL("from t", 50, 50)).WillReturnError(errors.New("connection lost"))

	msgs, err := wait(t, s.FetchMore("from t", 50, 50, nil))
	require.Error(t, err)

	more := msgs[0].(protocol.More)
	assert.False(t, more.Success)
	assert.Contains(t, more.Message, "connection lost")
	assert.NotNil(t, more.Results)
}

func TestSession_RequestsRunInOrder(t *testing.T) {
	s := openSession(t, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	emit := func(sql string) protocol.Emitter {
		return func(protocol.Message) {
			mu.Lock()
			order = append(order, sql)
			mu.Unlock()
		}
	}

	futures := []*Future{
		s.RunQuery("select 1 as a", 10, emit("a")),
		s.RunQuery("select 2 as b", 10, emit("b")),
		s.FetchMore("select 3 as c", 10, 0, emit("c")),
	}
	for _, f := range futures {
		_, err := wait(t, f)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSession_ClosedRejectsRequests(t *testing.T) {
	s, err := Open(context.Background(), Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	msgs, err := wait(t, s.RunQuery("select 1", 10, nil))
	assert.ErrorIs(t, err, ErrSessionClosed)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].(protocol.QueryResult).Success)

	msgs, err = wait(t, s.FetchMore("select 1", 10, 10, nil))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, msgs[0].(protocol.More).Success)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := f.Terminal()
	assert.False(t, ok)
}
