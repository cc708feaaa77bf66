package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
)

const columnsQuery = "SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"

func newMockStore(t *testing.T, columns ...string) (*MySQLStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewMySQLStore(db, "structured_data", record.JoinKeys(config.DefaultJoinKeys), logger.NewNop())
	require.NoError(t, err)
	for _, c := range columns {
		s.setColumn(c, true)
	}
	return s, mock, db
}

func TestNewMySQLStoreRejectsBadIdentifiers(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMySQLStore(db, "bad table", nil, nil)
	assert.Error(t, err)

	_, err = NewMySQLStore(db, "t", record.JoinKeys{"user name"}, nil)
	assert.Error(t, err)

	_, err = NewMySQLStore(nil, "t", nil, nil)
	assert.Error(t, err)
}

func TestEnsureBaseSchema(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `structured_data` (" +
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
		"`username` VARCHAR(255), `timestamp` VARCHAR(255), `sys_ingested_at` VARCHAR(255), " +
		"INDEX `idx_username` (`username`), INDEX `idx_timestamp` (`timestamp`), " +
		"INDEX `idx_sys_ingested_at` (`sys_ingested_at`))").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(columnsQuery).
		WithArgs("structured_data").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).
			AddRow("id").AddRow("username").AddRow("timestamp").AddRow("sys_ingested_at").AddRow("age"))

	require.NoError(t, s.EnsureBaseSchema(context.Background()))
	assert.Equal(t, []string{"age", "id", "sys_ingested_at", "timestamp", "username"}, s.Columns())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvolveSchemaAddsMissingColumnsOnly(t *testing.T) {
	s, mock, _ := newMockStore(t, "id", "username", "timestamp", "sys_ingested_at")

	decisions := policy.Decisions{
		"username":  {Target: policy.Both, RelationalType: "VARCHAR(255)"},
		"age":       {Target: policy.Relational, RelationalType: "BIGINT"},
		"bio":       {Target: policy.Document},
		"user_uuid": {Target: policy.Relational, RelationalType: "VARCHAR(255)", EnforceUniqueness: true},
	}

	mock.ExpectExec("ALTER TABLE `structured_data` ADD COLUMN `age` BIGINT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE `structured_data` ADD COLUMN `user_uuid` VARCHAR(255) UNIQUE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.EvolveSchema(context.Background(), decisions)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "user_uuid"}, added)
	assert.True(t, s.HasColumn("age"))
	assert.False(t, s.HasColumn("bio"))

	// Second pass issues no DDL.
	added, err = s.EvolveSchema(context.Background(), decisions)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvolveSchemaToleratesDuplicateColumn(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec("ALTER TABLE `structured_data` ADD COLUMN `age` BIGINT").
		WillReturnError(&mysql.MySQLError{Number: errDupFieldName, Message: "Duplicate column name 'age'"})

	added, err := s.EvolveSchema(context.Background(), policy.Decisions{
		"age": {Target: policy.Relational, RelationalType: "BIGINT"},
	})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.True(t, s.HasColumn("age"))
}

func TestEvolveSchemaContinuesPastFailures(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec("ALTER TABLE `structured_data` ADD COLUMN `age` BIGINT").
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectExec("ALTER TABLE `structured_data` ADD COLUMN `score` DOUBLE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.EvolveSchema(context.Background(), policy.Decisions{
		"age":       {Target: policy.Relational, RelationalType: "BIGINT"},
		"score":     {Target: policy.Relational, RelationalType: "DOUBLE"},
		"bad field": {Target: policy.Relational, RelationalType: "BIGINT"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "age")
	assert.Contains(t, err.Error(), "bad field")
	assert.Equal(t, []string{"score"}, added)
	assert.False(t, s.HasColumn("age"))
}

func TestInsertBatchGroupsByColumnSet(t *testing.T) {
	s, mock, _ := newMockStore(t, "id", "username", "age", "active")

	rows := []record.Record{
		{"username": "alice", "age": int64(30), "bio": "dropped"},
		{"username": "bob", "age": int64(41)},
		{"username": "carol", "active": true},
		{"bio": "no columns at all"},
	}

	mock.ExpectBegin()
	first := mock.ExpectPrepare("INSERT INTO `structured_data` (`age`, `username`) VALUES (?, ?)")
	first.ExpectExec().WithArgs(int64(30), "alice").WillReturnResult(sqlmock.NewResult(1, 1))
	first.ExpectExec().WithArgs(int64(41), "bob").WillReturnResult(sqlmock.NewResult(2, 1))
	second := mock.ExpectPrepare("INSERT INTO `structured_data` (`active`, `username`) VALUES (?, ?)")
	second.ExpectExec().WithArgs(true, "carol").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	n, err := s.InsertBatch(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchCountsRowFailures(t *testing.T) {
	s, mock, _ := newMockStore(t, "username", "age")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO `structured_data` (`age`, `username`) VALUES (?, ?)")
	prep.ExpectExec().WithArgs(int64(1), "a").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("not a number", "b").WillReturnError(errors.New("incorrect integer value"))
	mock.ExpectCommit()

	n, err := s.InsertBatch(context.Background(), []record.Record{
		{"username": "a", "age": int64(1)},
		{"username": "b", "age": "not a number"},
	})
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchRollsBackOnPrepareError(t *testing.T) {
	s, mock, _ := newMockStore(t, "username")

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO `structured_data` (`username`) VALUES (?)").
		WillReturnError(errors.New("table missing"))
	mock.ExpectRollback()

	n, err := s.InsertBatch(context.Background(), []record.Record{{"username": "a"}})
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchEmpty(t *testing.T) {
	s, mock, _ := newMockStore(t, "username")

	n, err := s.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryField(t *testing.T) {
	s, mock, _ := newMockStore(t, "username", "timestamp", "sys_ingested_at", "email")

	mock.ExpectQuery("SELECT `username`, `timestamp`, `sys_ingested_at`, `email` FROM `structured_data` WHERE `email` IS NOT NULL").
		WillReturnRows(sqlmock.NewRows([]string{"username", "timestamp", "sys_ingested_at", "email"}).
			AddRow([]byte("alice"), []byte("1700000000"), []byte("2026-01-01T00:00:00.000000"), []byte("a@x.io")).
			AddRow("bob", "1700000001", "2026-01-01T00:00:01.000000", "b@x.io"))

	rows, err := s.QueryField(context.Background(), "email")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{
		"username":        "alice",
		"timestamp":       "1700000000",
		"sys_ingested_at": "2026-01-01T00:00:00.000000",
	}, rows[0].Keys)
	assert.Equal(t, "a@x.io", rows[0].Value)
	assert.Equal(t, "bob", rows[1].Keys["username"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFieldInvalidNameHasNoRows(t *testing.T) {
	s, mock, _ := newMockStore(t)

	for _, name := range []string{"email; DROP TABLE x", "ip-address"} {
		rows, err := s.QueryField(context.Background(), name)
		require.NoError(t, err, name)
		assert.Empty(t, rows, name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFieldMissingColumnHasNoRows(t *testing.T) {
	s, mock, _ := newMockStore(t, "score")

	mock.ExpectQuery("SELECT `username`, `timestamp`, `sys_ingested_at`, `score` FROM `structured_data` WHERE `score` IS NOT NULL").
		WillReturnError(&mysql.MySQLError{Number: errBadFieldError, Message: "Unknown column 'score' in 'field list'"})

	rows, err := s.QueryField(context.Background(), "score")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.False(t, s.HasColumn("score"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFieldOtherErrorsFail(t *testing.T) {
	s, mock, _ := newMockStore(t, "score")

	mock.ExpectQuery("SELECT `username`, `timestamp`, `sys_ingested_at`, `score` FROM `structured_data` WHERE `score` IS NOT NULL").
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

	_, err := s.QueryField(context.Background(), "score")
	assert.Error(t, err)
	assert.True(t, s.HasColumn("score"))
}

func TestDecodeColumn(t *testing.T) {
	assert.Equal(t, int64(42), decodeColumn("BIGINT", []byte("42")))
	assert.Equal(t, 2.5, decodeColumn("DOUBLE", []byte("2.5")))
	assert.Equal(t, true, decodeColumn("TINYINT", []byte("1")))
	assert.Equal(t, "hello", decodeColumn("VARCHAR", []byte("hello")))
	assert.Equal(t, "x", decodeColumn("BIGINT", []byte("x")))
	assert.Equal(t, int64(7), decodeColumn("", int64(7)))
}

func TestSQLValue(t *testing.T) {
	assert.Equal(t, `{"a":1}`, sqlValue(map[string]any{"a": 1}))
	assert.Equal(t, `[1,2]`, sqlValue([]any{1, 2}))
	assert.Equal(t, "plain", sqlValue("plain"))
	assert.Nil(t, sqlValue(nil))
}

func TestDropColumn(t *testing.T) {
	s, mock, _ := newMockStore(t, "email")

	mock.ExpectExec("ALTER TABLE `structured_data` DROP COLUMN `email`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DropColumn(context.Background(), "email"))
	assert.False(t, s.HasColumn("email"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropColumnAlreadyGone(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec("ALTER TABLE `structured_data` DROP COLUMN `email`").
		WillReturnError(&mysql.MySQLError{Number: errCantDropFieldKey, Message: "Can't DROP 'email'"})

	assert.NoError(t, s.DropColumn(context.Background(), "email"))
}

func TestDropColumnInvalidNameIsNoop(t *testing.T) {
	s, mock, _ := newMockStore(t)
	assert.NoError(t, s.DropColumn(context.Background(), "ip-address"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropColumnRefusesKeys(t *testing.T) {
	s, _, _ := newMockStore(t)
	assert.Error(t, s.DropColumn(context.Background(), "username"))
	assert.Error(t, s.DropColumn(context.Background(), "id"))
}

func TestUniqueIndexesAndDropIndex(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT INDEX_NAME FROM information_schema.STATISTICS " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND NON_UNIQUE = 0 AND INDEX_NAME <> 'PRIMARY' " +
		"ORDER BY INDEX_NAME").
		WithArgs("structured_data").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME"}).AddRow("email").AddRow("user_uuid"))
	mock.ExpectExec("ALTER TABLE `structured_data` DROP INDEX `email`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	names, err := s.UniqueIndexes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "user_uuid"}, names)
	require.NoError(t, s.DropIndex(context.Background(), "email"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReset(t *testing.T) {
	s, mock, _ := newMockStore(t, "age")

	mock.ExpectExec("DROP TABLE IF EXISTS `structured_data`").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Reset(context.Background()))
	assert.Empty(t, s.Columns())
	assert.NoError(t, mock.ExpectationsWereMet())
}
