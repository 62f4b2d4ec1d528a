// Package sqlite is the SQLite store adapter. Every record lives as a JSON
// document in one records table keyed by (type, key); batches execute inside
// a single transaction, so a failing write rolls the whole batch back.
//
// Criteria, ordering, and paging are refined in process after decoding: the
// runtime's predicates are arbitrary Go functions and expressions, so they
// cannot be pushed down into SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
	"go.trai.ch/keep/store"
	"go.trai.ch/zerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	type TEXT NOT NULL,
	key  TEXT NOT NULL,
	doc  TEXT NOT NULL,
	PRIMARY KEY (type, key)
);
`

var _ store.Store = (*Store)(nil)
var _ store.Inspector = (*Store)(nil)
var _ query.Source = (*Store)(nil)

// Store persists records in a SQLite database.
type Store struct {
	db  *sql.DB
	reg *entity.Registry
	log *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes batch logging to the given logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open opens or creates the database at the given DSN and ensures the
// records table exists. The pool is capped at one connection: SQLite has a
// single writer anyway, and a larger pool would split :memory: databases.
func Open(dsn string, reg *entity.Registry, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}

	s := &Store{
		db:  db,
		reg: reg,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, typeName string, key entity.Key) (any, error) {
	desc, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	var doc []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE type = ? AND key = ?`,
		typeName, key.Raw()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.Annotate(entity.ErrNotFound, "entity", typeName, "key", key.String())
	}
	if err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return decode(desc, doc)
}

// Query implements store.Store: it decodes the type's records, refines them
// against the plan, and hydrates requested relation paths.
func (s *Store) Query(ctx context.Context, p query.Plan) ([]any, error) {
	recs, err := s.All(ctx, p.TypeName())
	if err != nil {
		return nil, err
	}
	refined, err := query.Refine(p, recs)
	if err != nil {
		return nil, err
	}
	if err := query.Hydrate(ctx, s.reg, p, refined, s); err != nil {
		return nil, err
	}
	return refined, nil
}

// ExecuteBatch implements store.Store. All writes run in one transaction.
func (s *Store) ExecuteBatch(ctx context.Context, batch store.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	defer tx.Rollback()

	for _, w := range batch.Writes {
		desc, err := s.reg.Lookup(w.TypeName)
		if err != nil {
			return err
		}
		switch w.Op {
		case store.OpInsert:
			err = insert(ctx, tx, desc, w)
		case store.OpUpdate:
			err = update(ctx, tx, desc, w)
		case store.OpDelete:
			err = remove(ctx, tx, w)
		default:
			err = entity.Annotate(entity.ErrStoreFailure, "op", w.Op.String(), "batch", batch.ID)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	s.log.Debug("batch applied",
		"store", "sqlite", "batch", batch.ID, "session", batch.Session, "writes", len(batch.Writes))
	return nil
}

func insert(ctx context.Context, tx *sql.Tx, desc entity.Type, w store.Write) error {
	doc, err := encode(desc, w.Entity)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (type, key, doc) VALUES (?, ?, ?)`,
		w.TypeName, w.Key.Raw(), doc)
	if isConstraint(err) {
		return entity.Annotate(entity.ErrDuplicateKey, "entity", w.TypeName, "key", w.Key.String())
	}
	if err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return nil
}

// update merges the changed fields of the write into the stored document.
func update(ctx context.Context, tx *sql.Tx, desc entity.Type, w store.Write) error {
	var doc []byte
	err := tx.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE type = ? AND key = ?`,
		w.TypeName, w.Key.Raw()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Annotate(entity.ErrNotFound, "entity", w.TypeName, "key", w.Key.String())
	}
	if err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}

	stored, err := decode(desc, doc)
	if err != nil {
		return err
	}
	for _, field := range w.Changed {
		v, err := desc.Value(w.Entity, field)
		if err != nil {
			return err
		}
		if err := desc.Apply(stored, entity.Values{field: v}); err != nil {
			return err
		}
	}

	merged, err := encode(desc, stored)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET doc = ? WHERE type = ? AND key = ?`,
		merged, w.TypeName, w.Key.Raw()); err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, w store.Write) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE type = ? AND key = ?`,
		w.TypeName, w.Key.Raw())
	if err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	if n == 0 {
		return entity.Annotate(entity.ErrNotFound, "entity", w.TypeName, "key", w.Key.String())
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// All implements query.Source, returning every record of one type in key order.
func (s *Store) All(ctx context.Context, typeName string) ([]any, error) {
	desc, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM records WHERE type = ? ORDER BY key`, typeName)
	if err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
		}
		rec, err := decode(desc, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return out, nil
}

// TypeNames implements store.Inspector.
func (s *Store) TypeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT type FROM records ORDER BY type`)
	if err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return names, nil
}

// Keys implements store.Inspector.
func (s *Store) Keys(ctx context.Context, typeName string) ([]entity.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE type = ? ORDER BY key`, typeName)
	if err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	defer rows.Close()

	var keys []entity.Key
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
		}
		keys = append(keys, entity.RawKey(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(entity.ErrStoreFailure, err.Error())
	}
	return keys, nil
}

// encode marshals the scalar fields of an instance. The instance is cloned
// through its descriptor first, so relation fields never reach the document
// and need no struct tags.
func encode(desc entity.Type, e any) ([]byte, error) {
	clone, err := desc.Clone(e)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(clone)
	if err != nil {
		return nil, entity.Annotate(entity.ErrEncodeFailed, "entity", desc.Name(), "cause", err.Error())
	}
	return doc, nil
}

func decode(desc entity.Type, doc []byte) (any, error) {
	rec := desc.New()
	if err := json.Unmarshal(doc, rec); err != nil {
		return nil, entity.Annotate(entity.ErrDecodeFailed, "entity", desc.Name(), "cause", err.Error())
	}
	return rec, nil
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
