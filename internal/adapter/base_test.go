package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		setupDB bool
	}{
		{name: "close with nil DB", setupDB: false},
		{name: "close with open DB", setupDB: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
			}

			assert.NoError(t, base.Close())
			assert.False(t, base.IsConnected())
		})
	}
}

func TestBaseSQLAdapter_Exec(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		errMsg    string
	}{
		{
			name:   "exec with nil DB",
			sql:    "CREATE TABLE t (id INT)",
			errMsg: "database connection not established",
		},
		{
			name:    "successful exec",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSTALL httpfs").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			sql: "INSTALL httpfs",
		},
		{
			name:    "exec error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("LOAD nope").WillReturnError(errors.New("extension not found"))
			},
			sql:    "LOAD nope",
			errMsg: "failed to execute SQL: extension not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &BaseSQLAdapter{}
			var mock sqlmock.Sqlmock
			if tt.setupDB {
				db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
				require.NoError(t, err)
				defer func() { _ = db.Close() }()
				base.DB = db
				mock = m
				tt.setupMock(mock)
			}

			err := base.Exec(context.Background(), tt.sql)
			if tt.errMsg != "" {
				assert.EqualError(t, err, tt.errMsg)
			} else {
				assert.NoError(t, err)
			}

			if mock != nil {
				assert.NoError(t, mock.ExpectationsWereMet())
			}
		})
	}
}

func TestBaseSQLAdapter_Query(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT id, name FROM users").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), []byte("bob")),
	)

	base := &BaseSQLAdapter{DB: db}
	result, err := base.Query(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "alice", result.Rows[0]["name"])
	assert.Equal(t, []byte("bob"), result.Rows[1]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_QueryEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"x"}))

	base := &BaseSQLAdapter{DB: db}
	result, err := base.Query(context.Background(), "SELECT x FROM empty")
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
}

func TestBaseSQLAdapter_QueryErrors(t *testing.T) {
	t.Run("nil DB", func(t *testing.T) {
		_, err := (&BaseSQLAdapter{}).Query(context.Background(), "SELECT 1")
		assert.EqualError(t, err, "database connection not established")
	})

	t.Run("query error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("table missing"))

		_, err = (&BaseSQLAdapter{DB: db}).Query(context.Background(), "SELECT * FROM missing")
		assert.ErrorContains(t, err, "failed to execute query: table missing")
	})

	t.Run("row error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT").WillReturnRows(
			sqlmock.NewRows([]string{"x"}).AddRow(1).RowError(0, errors.New("boom")),
		)

		_, err = (&BaseSQLAdapter{DB: db}).Query(context.Background(), "SELECT x")
		assert.ErrorContains(t, err, "boom")
	})
}
