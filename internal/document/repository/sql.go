package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gogotex/revdoc/internal/document"
)

// Dialect selects the placeholder style of a SQL database.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// SQLRepo implements Repository on a SQL database. Tables:
//
//	create table <prefix>collections(
//	  id varchar(64) primary key,
//	  name varchar(64) not null unique,
//	  created_at bigint not null)
//	create table <prefix>documents(
//	  collection varchar(64) not null,
//	  doc_key varchar(254) not null,
//	  rev varchar(64) not null,
//	  data text not null,
//	  updated_at bigint not null,
//	  primary key(collection, doc_key))
//
// Updates and deletes carry "and rev = ?" so the revision check and the
// write are one statement.
type SQLRepo struct {
	db          *sql.DB
	dialect     Dialect
	collections string
	documents   string
}

var _ Repository = (*SQLRepo)(nil)

// NewSQLRepo creates a repository using tables named with prefix.
func NewSQLRepo(db *sql.DB, dialect Dialect, prefix string) *SQLRepo {
	if prefix == "" {
		prefix = "revdoc_"
	}
	return &SQLRepo{
		db:          db,
		dialect:     dialect,
		collections: prefix + "collections",
		documents:   prefix + "documents",
	}
}

// rebind rewrites ? placeholders for the dialect.
func (r *SQLRepo) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// CreateTables creates the tables if they do not exist.
func (r *SQLRepo) CreateTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`create table if not exists %s(`+
			`id varchar(64) primary key,`+
			` name varchar(64) not null unique,`+
			` created_at bigint not null)`, r.collections),
		fmt.Sprintf(`create table if not exists %s(`+
			`collection varchar(64) not null,`+
			` doc_key varchar(254) not null,`+
			` rev varchar(64) not null,`+
			` data text not null,`+
			` updated_at bigint not null,`+
			` primary key(collection, doc_key))`, r.documents),
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("cannot create table: %w", err)
		}
	}
	return nil
}

// DropTables removes the tables.
func (r *SQLRepo) DropTables(ctx context.Context) error {
	for _, t := range []string{r.documents, r.collections} {
		if _, err := r.db.ExecContext(ctx, "drop table if exists "+t); err != nil {
			return fmt.Errorf("cannot drop table %s: %w", t, err)
		}
	}
	return nil
}

func (r *SQLRepo) CreateCollection(ctx context.Context, c *document.Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	q := r.rebind(fmt.Sprintf(`insert into %s(id, name, created_at) values(?, ?, ?) on conflict do nothing`, r.collections))
	res, err := r.db.ExecContext(ctx, q, c.ID, c.Name, c.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("cannot insert collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cannot get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateName
	}
	return nil
}

func (r *SQLRepo) scanCollection(row *sql.Row) (*document.Collection, error) {
	var c document.Collection
	var created int64
	if err := row.Scan(&c.ID, &c.Name, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	return &c, nil
}

func (r *SQLRepo) FindCollection(ctx context.Context, ref string) (*document.Collection, error) {
	for _, col := range []string{"id", "name"} {
		q := r.rebind(fmt.Sprintf(`select id, name, created_at from %s where %s = ?`, r.collections, col))
		c, err := r.scanCollection(r.db.QueryRowContext(ctx, q, ref))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cannot find collection: %w", err)
		}
	}
	return nil, ErrCollectionNotFound
}

func (r *SQLRepo) ListCollections(ctx context.Context) ([]*document.Collection, error) {
	q := fmt.Sprintf(`select id, name, created_at from %s order by name`, r.collections)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("cannot list collections: %w", err)
	}
	defer rows.Close()
	out := []*document.Collection{}
	for rows.Next() {
		var c document.Collection
		var created int64
		if err := rows.Scan(&c.ID, &c.Name, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *SQLRepo) DropCollection(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.rebind(fmt.Sprintf(`delete from %s where id = ?`, r.collections)), id)
	if err != nil {
		return fmt.Errorf("cannot delete collection: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("cannot get rows affected: %w", err)
	} else if n == 0 {
		return ErrCollectionNotFound
	}
	if _, err := tx.ExecContext(ctx, r.rebind(fmt.Sprintf(`delete from %s where collection = ?`, r.documents)), id); err != nil {
		return fmt.Errorf("cannot delete documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit tx: %w", err)
	}
	return nil
}

func (r *SQLRepo) requireCollection(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(fmt.Sprintf(`select 1 from %s where id = ?`, r.collections)), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCollectionNotFound
	}
	return err
}

func (r *SQLRepo) Count(ctx context.Context, collectionID string) (int64, error) {
	if err := r.requireCollection(ctx, collectionID); err != nil {
		return 0, err
	}
	var n int64
	q := r.rebind(fmt.Sprintf(`select count(*) from %s where collection = ?`, r.documents))
	if err := r.db.QueryRowContext(ctx, q, collectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot count documents: %w", err)
	}
	return n, nil
}

func (r *SQLRepo) Insert(ctx context.Context, doc *document.Document) error {
	if err := r.requireCollection(ctx, doc.Collection); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	q := r.rebind(fmt.Sprintf(`insert into %s(collection, doc_key, rev, data, updated_at) values(?, ?, ?, ?, ?)`+
		` on conflict do nothing`, r.documents))
	res, err := r.db.ExecContext(ctx, q, doc.Collection, doc.Key, doc.Rev, string(data), doc.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("cannot insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cannot get rows affected: %w", err)
	}
	if n == 0 {
		return ErrKeyExists
	}
	return nil
}

func (r *SQLRepo) scanDocument(cid, key string, scan func(dest ...any) error) (*document.Document, error) {
	d := &document.Document{Collection: cid, Key: key}
	var data string
	var updated int64
	if err := scan(&d.Rev, &data, &updated); err != nil {
		return nil, err
	}
	d.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(data), &d.Body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return d, nil
}

func (r *SQLRepo) Get(ctx context.Context, collectionID, key string) (*document.Document, error) {
	q := r.rebind(fmt.Sprintf(`select rev, data, updated_at from %s where collection = ? and doc_key = ?`, r.documents))
	d, err := r.scanDocument(collectionID, key, r.db.QueryRowContext(ctx, q, collectionID, key).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		if cerr := r.requireCollection(ctx, collectionID); cerr != nil {
			return nil, cerr
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot get document: %w", err)
	}
	return d, nil
}

func (r *SQLRepo) List(ctx context.Context, collectionID string) ([]*document.Document, error) {
	if err := r.requireCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	q := r.rebind(fmt.Sprintf(`select doc_key, rev, data, updated_at from %s where collection = ? order by doc_key`, r.documents))
	rows, err := r.db.QueryContext(ctx, q, collectionID)
	if err != nil {
		return nil, fmt.Errorf("cannot list documents: %w", err)
	}
	defer rows.Close()
	out := []*document.Document{}
	for rows.Next() {
		var key string
		d, err := r.scanDocument(collectionID, "", func(dest ...any) error {
			return rows.Scan(append([]any{&key}, dest...)...)
		})
		if err != nil {
			return nil, err
		}
		d.Key = key
		out = append(out, d)
	}
	return out, rows.Err()
}

// cas reads the current version and runs write with its revision as the
// guard, retrying when another writer got in between.
func (r *SQLRepo) cas(ctx context.Context, cid, key, match string, write func(cur *document.Document) (sql.Result, error)) (*document.Document, error) {
	for i := 0; i < maxTxRetries; i++ {
		cur, err := r.Get(ctx, cid, key)
		if err != nil {
			return nil, err
		}
		if match != "" && cur.Rev != match {
			return cur, ErrConflict
		}
		res, err := write(cur)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("cannot get rows affected: %w", err)
		}
		if n == 1 {
			return cur, nil
		}
	}
	return nil, fmt.Errorf("sql: compare-and-swap on %s/%s retried %d times", cid, key, maxTxRetries)
}

func (r *SQLRepo) Replace(ctx context.Context, doc *document.Document, match string) (*document.Document, error) {
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	q := r.rebind(fmt.Sprintf(`update %s set rev = ?, data = ?, updated_at = ?`+
		` where collection = ? and doc_key = ? and rev = ?`, r.documents))
	return r.cas(ctx, doc.Collection, doc.Key, match, func(cur *document.Document) (sql.Result, error) {
		res, err := r.db.ExecContext(ctx, q, doc.Rev, string(data), doc.UpdatedAt.UnixNano(), doc.Collection, doc.Key, cur.Rev)
		if err != nil {
			return nil, fmt.Errorf("cannot update document: %w", err)
		}
		return res, nil
	})
}

func (r *SQLRepo) Remove(ctx context.Context, collectionID, key, match string) (*document.Document, error) {
	q := r.rebind(fmt.Sprintf(`delete from %s where collection = ? and doc_key = ? and rev = ?`, r.documents))
	return r.cas(ctx, collectionID, key, match, func(cur *document.Document) (sql.Result, error) {
		res, err := r.db.ExecContext(ctx, q, collectionID, key, cur.Rev)
		if err != nil {
			return nil, fmt.Errorf("cannot delete document: %w", err)
		}
		return res, nil
	})
}
