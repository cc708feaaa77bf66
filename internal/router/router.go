// Package router splits records between the relational and document stores
// and migrates fields whose placement drifts away from the relational store.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/store"
)

// RelationalStore is the schema-rigid backend.
type RelationalStore interface {
	EvolveSchema(ctx context.Context, decisions policy.Decisions) ([]string, error)
	InsertBatch(ctx context.Context, rows []record.Record) (int, error)
	QueryField(ctx context.Context, field string) ([]store.FieldRow, error)
	DropColumn(ctx context.Context, field string) error
	HasColumn(field string) bool
}

// DocumentStore is the schema-flexible backend.
type DocumentStore interface {
	InsertBatch(ctx context.Context, docs []record.Record) (int, error)
	Upsert(ctx context.Context, filter, set map[string]any) error
}

// RouteResult reports what one Route call did.
type RouteResult struct {
	Migrated         []string
	FailedMigrations map[string]error
	AddedColumns     []string
	RelationalRows   int
	DocumentRows     int
	SchemaErr        error
	RelationalErr    error
	DocumentErr      error
	Duration         time.Duration
}

// Err joins every error in the result, or returns nil.
func (r *RouteResult) Err() error {
	errs := []error{r.SchemaErr, r.RelationalErr, r.DocumentErr}
	fields := make([]string, 0, len(r.FailedMigrations))
	for f := range r.FailedMigrations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		errs = append(errs, fmt.Errorf("migrate %s: %w", f, r.FailedMigrations[f]))
	}
	return errors.Join(errs...)
}

// Router writes batches to both stores. It remembers the decisions it last
// applied so it can tell when a field leaves the relational store.
type Router struct {
	relational RelationalStore
	document   DocumentStore
	joinKeys   record.JoinKeys
	logger     *logger.Logger

	mu     sync.Mutex
	memory policy.Decisions
}

// New creates a Router with empty memory.
func New(rel RelationalStore, doc DocumentStore, joinKeys record.JoinKeys, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Router{
		relational: rel,
		document:   doc,
		joinKeys:   joinKeys,
		logger:     log,
		memory:     make(policy.Decisions),
	}
}

// Restore seeds the router's memory, normally from persisted decisions.
func (r *Router) Restore(d policy.Decisions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = d.Clone()
}

// Memory returns a copy of the decisions last applied.
func (r *Router) Memory() policy.Decisions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory.Clone()
}

// Route migrates drifted fields, evolves the relational schema, then writes
// batch to both stores. The two inserts are independent: a failure in one
// never prevents the other.
func (r *Router) Route(ctx context.Context, batch []record.Record, decisions policy.Decisions) *RouteResult {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &RouteResult{FailedMigrations: make(map[string]error)}

	for _, field := range r.drifted(decisions) {
		if err := r.migrate(ctx, field); err != nil {
			r.logger.WithField(field).Errorf("Migration failed, will retry next batch: %v", err)
			res.FailedMigrations[field] = err
			continue
		}
		res.Migrated = append(res.Migrated, field)
	}

	added, err := r.relational.EvolveSchema(ctx, decisions)
	res.AddedColumns = added
	if err != nil {
		r.logger.Errorf("Schema evolution incomplete: %v", err)
		res.SchemaErr = err
	}

	relRows, docs := r.split(batch, decisions)

	if len(relRows) > 0 {
		n, err := r.relational.InsertBatch(ctx, relRows)
		res.RelationalRows = n
		if err != nil {
			r.logger.Errorf("Relational insert error: %v", err)
			res.RelationalErr = err
		}
	}
	if len(docs) > 0 {
		n, err := r.document.InsertBatch(ctx, docs)
		res.DocumentRows = n
		if err != nil {
			r.logger.Errorf("Document insert error: %v", err)
			res.DocumentErr = err
		}
	}

	for field, d := range decisions {
		if _, failed := res.FailedMigrations[field]; failed {
			continue
		}
		r.memory[field] = d
	}

	res.Duration = time.Since(start)
	return res
}

// drifted returns the sorted fields that were relational and are now
// document-only.
func (r *Router) drifted(decisions policy.Decisions) []string {
	var fields []string
	for field, prev := range r.memory {
		next, ok := decisions[field]
		if !ok || r.joinKeys.Contains(field) {
			continue
		}
		if prev.IsRelational() && next.Target == policy.Document {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// migrate copies every non-null value of field into its document, matched
// by join keys, and drops the column once all copies succeeded.
func (r *Router) migrate(ctx context.Context, field string) error {
	log := r.logger.WithField(field)
	log.Infof("Migrating %s from relational to document store", field)

	rows, err := r.relational.QueryField(ctx, field)
	if err != nil {
		return fmt.Errorf("query relational values: %w", err)
	}

	for _, row := range rows {
		filter := make(map[string]any, len(row.Keys))
		for k, v := range row.Keys {
			if v != nil {
				filter[k] = v
			}
		}
		if len(filter) == 0 {
			return fmt.Errorf("row without join keys cannot be matched to a document")
		}
		if err := r.document.Upsert(ctx, filter, map[string]any{field: row.Value}); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
	}

	if err := r.relational.DropColumn(ctx, field); err != nil {
		return fmt.Errorf("drop column: %w", err)
	}
	log.Infof("Migrated %d values of %s", len(rows), field)
	return nil
}

// split builds one relational row and one document per record. Join keys go
// to both; unknown fields default to the document store, and so does a
// relational field whose column could not be created.
func (r *Router) split(batch []record.Record, decisions policy.Decisions) (rel, docs []record.Record) {
	for _, rec := range batch {
		row := make(record.Record)
		doc := make(record.Record)
		for k, v := range rec {
			if r.joinKeys.Contains(k) {
				row[k] = v
				doc[k] = v
				continue
			}
			d, ok := decisions[k]
			if !ok {
				doc[k] = v
				continue
			}
			hasColumn := d.IsRelational() && r.relational.HasColumn(k)
			if hasColumn {
				row[k] = v
			}
			if d.IsDocument() || !hasColumn {
				doc[k] = v
			}
		}
		if len(row) > 0 {
			rel = append(rel, row)
		}
		if len(doc) > 0 {
			docs = append(docs, doc)
		}
	}
	return rel, docs
}
