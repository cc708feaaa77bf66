// Package store implements the relational (MySQL) and document (MongoDB)
// backends the router writes to.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"

	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/sqlutil"
)

// MySQL error numbers treated as already-applied DDL.
const (
	errBadFieldError    = 1054
	errDupFieldName     = 1060
	errCantDropFieldKey = 1091
)

// FieldRow is one relational row carrying a field value and the join keys
// identifying its document.
type FieldRow struct {
	Keys  map[string]any
	Value any
}

// MySQLStore owns the adaptive relational table.
//
// Columns are cached after EnsureBaseSchema and kept current by the store's
// own ADD and DROP statements. Inserts only use cached columns.
type MySQLStore struct {
	db       *sql.DB
	table    string
	joinKeys record.JoinKeys
	logger   *logger.Logger

	mu      sync.RWMutex
	columns map[string]struct{}
}

// NewMySQLStore creates a store for table. Join keys and the table name must
// be valid identifiers.
func NewMySQLStore(db *sql.DB, table string, joinKeys record.JoinKeys, log *logger.Logger) (*MySQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("relational database is nil")
	}
	if !sqlutil.IsValidIdentifier(table) {
		return nil, &sqlutil.InvalidIdentifierError{Name: table}
	}
	for _, k := range joinKeys {
		if !sqlutil.IsValidIdentifier(k) {
			return nil, &sqlutil.InvalidIdentifierError{Name: k}
		}
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &MySQLStore{
		db:       db,
		table:    table,
		joinKeys: joinKeys,
		logger:   log,
		columns:  make(map[string]struct{}),
	}, nil
}

// Table returns the table name.
func (s *MySQLStore) Table() string {
	return s.table
}

// EnsureBaseSchema creates the table with an auto-increment id and one
// VARCHAR(255) column per join key, then loads the column cache.
// Join-key columns are text so they compare equal to the document copies.
func (s *MySQLStore) EnsureBaseSchema(ctx context.Context) error {
	defs := []string{"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"}
	for _, k := range s.joinKeys {
		defs = append(defs, sqlutil.QuoteIdentifier(k)+" VARCHAR(255)")
	}
	for _, k := range s.joinKeys {
		defs = append(defs, fmt.Sprintf("INDEX %s (%s)",
			sqlutil.QuoteIdentifier("idx_"+k), sqlutil.QuoteIdentifier(k)))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		sqlutil.QuoteIdentifier(s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return s.RefreshColumns(ctx)
}

// RefreshColumns reloads the column cache from information_schema.
func (s *MySQLStore) RefreshColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
		s.table)
	if err != nil {
		return fmt.Errorf("failed to list columns of %s: %w", s.table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}

	s.mu.Lock()
	s.columns = cols
	s.mu.Unlock()
	return nil
}

// Columns returns the cached column names, sorted.
func (s *MySQLStore) Columns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.columns))
	for c := range s.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasColumn reports whether the cache holds column.
func (s *MySQLStore) HasColumn(column string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.columns[column]
	return ok
}

func (s *MySQLStore) setColumn(column string, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if present {
		s.columns[column] = struct{}{}
	} else {
		delete(s.columns, column)
	}
}

// EvolveSchema adds a column for every relational decision that has none yet.
// Existing columns are never altered. Failures are collected per field and
// the remaining fields are still attempted.
func (s *MySQLStore) EvolveSchema(ctx context.Context, decisions policy.Decisions) ([]string, error) {
	fields := make([]string, 0, len(decisions))
	for f, d := range decisions {
		if d.IsRelational() && !s.HasColumn(f) {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	var added []string
	var errs []error
	for _, f := range fields {
		col, err := sqlutil.QuoteIdentifierSafe(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d := decisions[f]
		sqlType := d.RelationalType
		if sqlType == "" {
			sqlType = "TEXT"
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", sqlutil.QuoteIdentifier(s.table), col, sqlType)
		if d.EnforceUniqueness {
			ddl += " UNIQUE"
		}

		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			if isMySQLError(err, errDupFieldName) {
				s.setColumn(f, true)
				continue
			}
			errs = append(errs, fmt.Errorf("failed to add column %s: %w", f, err))
			continue
		}
		s.setColumn(f, true)
		added = append(added, f)
		s.logger.WithField(f).Infof("Added column %s %s (unique=%v)", f, sqlType, d.EnforceUniqueness)
	}
	return added, errors.Join(errs...)
}

// InsertBatch inserts one row per record using only fields that have a
// column; other fields are dropped. Records are grouped by column set and
// each group uses one prepared statement inside a single transaction. A row
// that fails is counted and skipped; the returned error summarizes them.
func (s *MySQLStore) InsertBatch(ctx context.Context, rows []record.Record) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	groups := make(map[string][]record.Record)
	var order []string
	for _, r := range rows {
		cols := s.presentColumns(r)
		if len(cols) == 0 {
			continue
		}
		key := strings.Join(cols, ",")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	if len(order) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin relational transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	var inserted, failed int
	var firstErr error
	for _, key := range order {
		cols := strings.Split(key, ",")
		n, f, err := s.insertGroup(ctx, tx, cols, groups[key])
		if err != nil {
			return 0, err
		}
		inserted += n
		failed += len(f)
		if firstErr == nil && len(f) > 0 {
			firstErr = f[0]
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit relational transaction: %w", err)
	}
	tx = nil

	if failed > 0 {
		return inserted, fmt.Errorf("%d of %d relational rows failed: %w", failed, inserted+failed, firstErr)
	}
	return inserted, nil
}

func (s *MySQLStore) insertGroup(ctx context.Context, tx *sql.Tx, cols []string, rows []record.Record) (int, []error, error) {
	quoted, err := sqlutil.QuoteList(cols)
	if err != nil {
		return 0, nil, err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlutil.QuoteIdentifier(s.table), quoted, sqlutil.Placeholders(len(cols)))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	var inserted int
	var failures []error
	for _, r := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = sqlValue(r[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			s.logger.Warnf("Relational insert failed: %v", err)
			failures = append(failures, err)
			continue
		}
		inserted++
	}
	return inserted, failures, nil
}

// presentColumns returns the sorted record fields that have a column.
func (s *MySQLStore) presentColumns(r record.Record) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cols []string
	for f := range r {
		if _, ok := s.columns[f]; ok && f != "id" {
			cols = append(cols, f)
		}
	}
	sort.Strings(cols)
	return cols
}

// sqlValue converts composite values to JSON text.
func sqlValue(v any) any {
	switch v.(type) {
	case map[string]any, []any, record.Record:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return v
	}
}

// QueryField returns every row where field is not NULL, with the join keys.
// A field that has no column, or could never have one, has no rows.
func (s *MySQLStore) QueryField(ctx context.Context, field string) ([]FieldRow, error) {
	if !sqlutil.IsValidIdentifier(field) {
		return nil, nil
	}
	col := sqlutil.QuoteIdentifier(field)
	keys, err := sqlutil.QuoteList(s.joinKeys)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL",
		keys, col, sqlutil.QuoteIdentifier(s.table), col)
	rows, err := s.db.QueryContext(ctx, query)
	if isMySQLError(err, errBadFieldError) {
		s.setColumn(field, false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query field %s: %w", field, err)
	}
	defer rows.Close()

	typeNames := make([]string, len(s.joinKeys)+1)
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			if i < len(typeNames) {
				typeNames[i] = ct.DatabaseTypeName()
			}
		}
	}

	var out []FieldRow
	for rows.Next() {
		values := make([]any, len(s.joinKeys)+1)
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan field %s: %w", field, err)
		}

		fr := FieldRow{Keys: make(map[string]any, len(s.joinKeys))}
		for i, k := range s.joinKeys {
			fr.Keys[k] = decodeColumn(typeNames[i], values[i])
		}
		fr.Value = decodeColumn(typeNames[len(s.joinKeys)], values[len(s.joinKeys)])
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field %s: %w", field, err)
	}
	return out, nil
}

// decodeColumn turns the driver's raw bytes back into a typed value.
func decodeColumn(typeName string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	text := string(b)
	switch strings.ToUpper(typeName) {
	case "BIGINT", "INT", "MEDIUMINT", "SMALLINT":
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i
		}
	case "TINYINT", "BOOL", "BOOLEAN":
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i != 0
		}
	case "DOUBLE", "FLOAT", "DECIMAL":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	}
	return text
}

// DropColumn removes field's column. A column that no longer exists, or a
// name that cannot be a column, is not an error.
func (s *MySQLStore) DropColumn(ctx context.Context, field string) error {
	if s.joinKeys.Contains(field) || field == "id" {
		return fmt.Errorf("refusing to drop key column %s", field)
	}
	if !sqlutil.IsValidIdentifier(field) {
		return nil
	}
	col := sqlutil.QuoteIdentifier(field)

	ddl := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", sqlutil.QuoteIdentifier(s.table), col)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil && !isMySQLError(err, errCantDropFieldKey) {
		return fmt.Errorf("failed to drop column %s: %w", field, err)
	}
	s.setColumn(field, false)
	s.logger.WithField(field).Infof("Dropped column %s", field)
	return nil
}

// UniqueIndexes lists the table's UNIQUE indexes other than the primary key.
func (s *MySQLStore) UniqueIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT INDEX_NAME FROM information_schema.STATISTICS "+
			"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND NON_UNIQUE = 0 AND INDEX_NAME <> 'PRIMARY' "+
			"ORDER BY INDEX_NAME",
		s.table)
	if err != nil {
		return nil, fmt.Errorf("failed to list unique indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropIndex drops the named index.
func (s *MySQLStore) DropIndex(ctx context.Context, name string) error {
	idx, err := sqlutil.QuoteIdentifierSafe(name)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", sqlutil.QuoteIdentifier(s.table), idx)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, err)
	}
	return nil
}

// Reset drops the table and clears the column cache.
func (s *MySQLStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlutil.QuoteIdentifier(s.table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", s.table, err)
	}
	s.mu.Lock()
	s.columns = make(map[string]struct{})
	s.mu.Unlock()
	return nil
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}
