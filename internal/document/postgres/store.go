// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package postgres provides a document.Store backed by a PostgreSQL jsonb
// table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/document"
)

// poolIface is the subset of *pgxpool.Pool the store uses. pgxmock satisfies
// it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Rows lock through a subselect so concurrent find-and-modify calls never
// act on the same document twice.
const (
	insertSQL = `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`

	findOneSQL = `SELECT body FROM documents
		WHERE collection = $1 AND body @> $2::jsonb
		ORDER BY created_at, id LIMIT 1`

	findSQL = `SELECT body FROM documents
		WHERE collection = $1 AND body @> $2::jsonb
		ORDER BY created_at, id`

	findOneAndUpdateSQL = `UPDATE documents SET body = documents.body || $3::jsonb
		WHERE collection = $1 AND id = (
			SELECT id FROM documents
			WHERE collection = $1 AND body @> $2::jsonb
			ORDER BY created_at, id LIMIT 1
			FOR UPDATE)
		RETURNING body`

	findOneAndDeleteSQL = `DELETE FROM documents
		WHERE collection = $1 AND id = (
			SELECT id FROM documents
			WHERE collection = $1 AND body @> $2::jsonb
			ORDER BY created_at, id LIMIT 1
			FOR UPDATE)
		RETURNING body`
)

// Store implements document.Store over the documents table.
type Store struct {
	pool poolIface
}

// New creates a Store over an existing pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return New(pool), nil
}

// Insert stores doc. A unique violation yields document.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, collection string, doc document.Fields) error {
	id, ok := doc.ID()
	if !ok {
		return oops.Code("DOCUMENT_ID_MISSING").With("collection", collection).Errorf("document has no identifier")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("DOCUMENT_ENCODE_FAILED").With("collection", collection).Wrap(err)
	}

	if _, err := s.pool.Exec(ctx, insertSQL, collection, id, string(body)); err != nil {
		return classify(err, collection, "insert")
	}
	return nil
}

// FindOne returns the oldest document matching filter.
func (s *Store) FindOne(ctx context.Context, collection string, filter document.Filter) (document.Fields, error) {
	arg, err := encodeArg(filter)
	if err != nil {
		return nil, err
	}
	var body []byte
	if err := s.pool.QueryRow(ctx, findOneSQL, collection, arg).Scan(&body); err != nil {
		return nil, classify(err, collection, "find one")
	}
	return decodeBody(body, collection)
}

// Find returns every matching document, oldest first.
func (s *Store) Find(ctx context.Context, collection string, filter document.Filter) ([]document.Fields, error) {
	arg, err := encodeArg(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, findSQL, collection, arg)
	if err != nil {
		return nil, classify(err, collection, "find")
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, classify(err, collection, "scan documents")
	}

	out := make([]document.Fields, 0, len(bodies))
	for _, body := range bodies {
		doc, err := decodeBody(body, collection)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// FindOneAndUpdate merges update into the oldest match in one statement.
func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, filter document.Filter, update document.Update) (document.Fields, error) {
	filterArg, err := encodeArg(filter)
	if err != nil {
		return nil, err
	}
	updateArg, err := encodeArg(update)
	if err != nil {
		return nil, err
	}

	var body []byte
	if err := s.pool.QueryRow(ctx, findOneAndUpdateSQL, collection, filterArg, updateArg).Scan(&body); err != nil {
		return nil, classify(err, collection, "find one and update")
	}
	return decodeBody(body, collection)
}

// FindOneAndDelete removes the oldest match in one statement.
func (s *Store) FindOneAndDelete(ctx context.Context, collection string, filter document.Filter) (document.Fields, bool, error) {
	arg, err := encodeArg(filter)
	if err != nil {
		return nil, false, err
	}

	var body []byte
	err = s.pool.QueryRow(ctx, findOneAndDeleteSQL, collection, arg).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err, collection, "find one and delete")
	}
	doc, err := decodeBody(body, collection)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func encodeArg[M ~map[string]any](m M) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", oops.Code("DOCUMENT_ENCODE_FAILED").Wrap(err)
	}
	return string(raw), nil
}

func decodeBody(body []byte, collection string) (document.Fields, error) {
	doc := document.Fields{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, oops.Code("DOCUMENT_DECODE_FAILED").With("collection", collection).Wrap(err)
	}
	return doc, nil
}

// classify maps driver errors onto the document sentinels.
func classify(err error, collection, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("DOCUMENT_NOT_FOUND").With("collection", collection).Wrap(document.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("DOCUMENT_DUPLICATE").
			With("collection", collection).
			With("constraint", pgErr.ConstraintName).
			Wrap(errors.Join(document.ErrDuplicate, err))
	}
	return oops.Code("STORE_QUERY_FAILED").
		With("collection", collection).
		With("operation", op).
		Wrap(err)
}

var _ document.Store = (*Store)(nil)
