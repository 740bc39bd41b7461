// Package catalog materializes uploaded CSV datasets into SQLite stores and
// derives the schema text the revision loop reasons over.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"text2sql/internal/database"
)

// IngestionError reports a dataset that could not be parsed or stored.
type IngestionError struct {
	Dataset string
	Err     error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Dataset, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Ingestion is the outcome of loading a batch of datasets into one store.
type Ingestion struct {
	Database string            `json:"database"`
	Tables   []TableSchema     `json:"tables"`
	Schema   string            `json:"schema"`
	Previews []Preview         `json:"previews"`
	Errors   []*IngestionError `json:"-"`
}

// Err joins the per-dataset errors, or returns nil when every dataset loaded.
func (in *Ingestion) Err() error {
	errs := make([]error, len(in.Errors))
	for i, e := range in.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// DatasetRecorder is notified of every table written.
type DatasetRecorder interface {
	UpsertDataset(ctx context.Context, d database.Dataset) error
}

// Catalog owns the data directory holding user stores.
type Catalog struct {
	dataDir     string
	previewRows int
	concurrency int
	logger      *zap.Logger
	recorder    DatasetRecorder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPreviewRows sets how many rows each preview carries.
func WithPreviewRows(n int) Option {
	return func(c *Catalog) { c.previewRows = n }
}

// WithConcurrency bounds how many datasets are decoded at once.
func WithConcurrency(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRecorder records each ingested table.
func WithRecorder(r DatasetRecorder) Option {
	return func(c *Catalog) { c.recorder = r }
}

// New creates a catalog rooted at dataDir.
func New(dataDir string, opts ...Option) *Catalog {
	c := &Catalog{
		dataDir:     dataDir,
		previewRows: 10,
		concurrency: 4,
		logger:      zap.NewNop(),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRef returns a fresh store name.
func NewRef() string {
	return "user_data_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".db"
}

// Path resolves a store reference to its file. References are bare file
// names inside the data directory.
func (c *Catalog) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", fmt.Errorf("invalid database reference %q", ref)
	}
	return filepath.Join(c.dataDir, ref), nil
}

// Exists reports whether a store file is present.
func (c *Catalog) Exists(ref string) bool {
	path, err := c.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Stores lists the store references in the data directory.
func (c *Catalog) Stores() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dataDir, "user_data_*.db"))
	if err != nil {
		return nil, err
	}
	refs := make([]string, len(matches))
	for i, m := range matches {
		refs[i] = filepath.Base(m)
	}
	return refs, nil
}

// Ingest loads datasets into a new store.
func (c *Catalog) Ingest(ctx context.Context, datasets []Dataset) (*Ingestion, error) {
	return c.IngestInto(ctx, NewRef(), datasets)
}

// IngestInto loads datasets into the named store, replacing same-named
// tables. A dataset that fails is reported in Ingestion.Errors and the rest
// still load; the returned error covers only store-level failures.
func (c *Catalog) IngestInto(ctx context.Context, ref string, datasets []Dataset) (*Ingestion, error) {
	path, err := c.Path(ref)
	if err != nil {
		return nil, err
	}

	unlock := c.lock(ref)
	defer unlock()

	tables, errs := c.decodeAll(ctx, datasets)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	in := &Ingestion{Database: ref}
	position := make(map[string]int)

	for i, t := range tables {
		if errs[i] != nil {
			in.Errors = append(in.Errors, &IngestionError{Dataset: datasets[i].Name, Err: errs[i]})
			c.logger.Warn("dataset rejected", zap.String("dataset", datasets[i].Name), zap.Error(errs[i]))
			continue
		}
		if err := persist(ctx, db, t); err != nil {
			in.Errors = append(in.Errors, &IngestionError{Dataset: datasets[i].Name, Err: err})
			c.logger.Warn("dataset not stored", zap.String("dataset", datasets[i].Name), zap.Error(err))
			continue
		}

		schema := TableSchema{Name: t.name, Columns: t.columns}
		preview := buildPreview(t, c.previewRows)
		if pos, ok := position[t.name]; ok {
			in.Tables[pos] = schema
			in.Previews[pos] = preview
		} else {
			position[t.name] = len(in.Tables)
			in.Tables = append(in.Tables, schema)
			in.Previews = append(in.Previews, preview)
		}

		c.logger.Info("dataset ingested",
			zap.String("database", ref),
			zap.String("table", t.name),
			zap.Int("rows", len(t.rows)),
			zap.Int("columns", len(t.columns)))

		if c.recorder != nil {
			d := database.Dataset{DatabaseRef: ref, Table: t.name, Source: t.source, RowCount: len(t.rows), ColumnCount: len(t.columns)}
			if err := c.recorder.UpsertDataset(ctx, d); err != nil {
				c.logger.Warn("failed to record dataset", zap.String("table", t.name), zap.Error(err))
			}
		}
	}

	in.Schema = FormatSchema(in.Tables)
	return in, nil
}

// decodeAll parses datasets concurrently, keeping input order.
func (c *Catalog) decodeAll(ctx context.Context, datasets []Dataset) ([]*table, []error) {
	tables := make([]*table, len(datasets))
	errs := make([]error, len(datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ds := range datasets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			tables[i], errs[i] = decodeDataset(ds)
			return nil
		})
	}
	_ = g.Wait()
	return tables, errs
}

func decodeDataset(ds Dataset) (*table, error) {
	if ds.Open == nil {
		return nil, errors.New("dataset has no content")
	}
	rc, err := ds.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer rc.Close()
	return decode(ds.Name, rc)
}

// persist replaces a table and writes its rows in one transaction.
func persist(ctx context.Context, db *sql.DB, t *table) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	name := quoteIdent(t.name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}

	defs := make([]string, len(t.columns))
	cols := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = quoteIdent(c.Name)
		defs[i] = cols[i] + " " + c.Type
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+name+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range t.rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return tx.Commit()
}

// Describe introspects an existing store.
func (c *Catalog) Describe(ctx context.Context, ref string) ([]TableSchema, error) {
	path, err := c.Path(ref)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", ref, err)
	}

	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	names, err := tableNames(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make([]TableSchema, 0, len(names))
	for _, name := range names {
		cols, err := tableColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		out = append(out, TableSchema{Name: name, Columns: cols})
	}
	return out, nil
}

func tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: typeFromDeclared(typ)})
	}
	return cols, rows.Err()
}

func (c *Catalog) lock(ref string) func() {
	c.mu.Lock()
	m, ok := c.locks[ref]
	if !ok {
		m = &sync.Mutex{}
		c.locks[ref] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}
