package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	getLockQuery     = `SELECT GET_LOCK\(\?, \?\)`
	releaseLockQuery = `SELECT RELEASE_LOCK\(\?\)`
)

func TestGenerateTableLockName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"structured_data", "goadaptive:table:structured_data"},
		{"events-2026", "goadaptive:table:events-2026"},
		{"db.table; DROP", "goadaptive:table:db_table__DROP"},
		{"", "goadaptive:table:"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, GenerateTableLockName(tt.input))
	}
}

func TestAcquireAndRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).
		WithArgs("goadaptive:table:structured_data", TimeoutShort).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).
		WithArgs("goadaptive:table:structured_data").
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	l := NewTableLock(db, "structured_data")
	require.NoError(t, l.AcquireOrFail(context.Background()))
	assert.True(t, l.IsHeld())

	// Re-acquire is a no-op while held.
	ok, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(0))

	l := NewTableLock(db, "structured_data")
	err = l.AcquireOrFail(context.Background())
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireNullResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(nil))

	_, err = NewTableLock(db, "t").TryAcquire(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestAcquireQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).WillReturnError(errors.New("connection reset"))

	_, err = NewTableLock(db, "t").TryAcquire(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "GET_LOCK")
}

func TestReleaseWhenNotHeld(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	released, err := NewTableLock(db, "t").ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.False(t, released)
}

func TestWithLockReleasesAfterPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	l := NewTableLock(db, "t")
	assert.Panics(t, func() {
		_ = l.WithLock(context.Background(), TimeoutShort, func() error {
			panic("boom")
		})
	})
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLockPropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	want := errors.New("pipeline failed")
	err = NewTableLock(db, "t").WithLock(context.Background(), TimeoutShort, func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsEngineRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(getLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(0))
	running, err := IsEngineRunning(context.Background(), db, "t")
	require.NoError(t, err)
	assert.True(t, running)

	mock.ExpectQuery(getLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	running, err = IsEngineRunning(context.Background(), db, "t")
	require.NoError(t, err)
	assert.False(t, running)

	assert.NoError(t, mock.ExpectationsWereMet())
}
