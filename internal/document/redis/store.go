// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package redis provides a document.Store backed by Redis.
//
// Each document is a JSON string at <prefix>:doc:<collection>:<id>. A sorted
// set at <prefix>:ids:<collection> orders ids by insertion time, and every
// unique index is a hash at <prefix>:uniq:<collection>:<field> mapping the
// JSON-encoded value to the owning id. Mutations run in WATCH/MULTI transactions
// and restart when a watched key changes underneath them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/document"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "tokengate"

// maxTxAttempts bounds optimistic transaction restarts under contention.
const maxTxAttempts = 32

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithUniqueIndex rejects writes that would give two documents in collection
// the same value for field.
func WithUniqueIndex(collection, field string) Option {
	return func(s *Store) {
		s.unique[collection] = append(s.unique[collection], field)
	}
}

// reader is the read surface shared by the client and a transaction.
type reader interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
	ZRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
}

// Store implements document.Store over a Redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	unique map[string][]string
	now    func() time.Time
}

// New creates a Store over client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		unique: make(map[string][]string),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// or rediss:// URL, connects and verifies the
// connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	clientOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "parse url").Wrap(err)
	}
	client := goredis.NewClient(clientOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return New(client, opts...), nil
}

func (s *Store) docKey(collection, id string) string {
	return s.prefix + ":doc:" + collection + ":" + id
}

func (s *Store) idsKey(collection string) string {
	return s.prefix + ":ids:" + collection
}

func (s *Store) uniqueKey(collection, field string) string {
	return s.prefix + ":uniq:" + collection + ":" + field
}

func (s *Store) uniqueKeys(collection string) []string {
	keys := make([]string, 0, len(s.unique[collection]))
	for _, field := range s.unique[collection] {
		keys = append(keys, s.uniqueKey(collection, field))
	}
	return keys
}

// Insert stores doc, claiming every unique value it carries.
func (s *Store) Insert(ctx context.Context, collection string, doc document.Fields) error {
	id, ok := doc.ID()
	if !ok {
		return oops.Code("DOCUMENT_ID_MISSING").With("collection", collection).Errorf("document has no identifier")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("DOCUMENT_ENCODE_FAILED").With("collection", collection).Wrap(err)
	}
	docKey := s.docKey(collection, id)

	return s.transact(ctx, collection, "insert", func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, docKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return duplicate(collection, document.IDField)
		}
		claims, err := s.checkUnique(ctx, tx, collection, id, nil, doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, docKey, body, 0)
			p.ZAdd(ctx, s.idsKey(collection), goredis.Z{Score: float64(s.now().UnixMilli()), Member: id})
			for _, c := range claims {
				p.HSetNX(ctx, c.key, c.value, id)
			}
			return nil
		})
		return err
	}, append([]string{docKey}, s.uniqueKeys(collection)...)...)
}

// FindOne returns the oldest document matching filter.
func (s *Store) FindOne(ctx context.Context, collection string, filter document.Filter) (document.Fields, error) {
	_, doc, err := s.locate(ctx, s.client, collection, filter)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Find returns every matching document, oldest first.
func (s *Store) Find(ctx context.Context, collection string, filter document.Filter) ([]document.Fields, error) {
	all, err := s.scan(ctx, s.client, collection)
	if err != nil {
		return nil, queryFailed(err, collection, "find")
	}
	out := []document.Fields{}
	for _, doc := range all {
		if doc.Matches(filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// FindOneAndUpdate merges update into the oldest match.
func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, filter document.Filter, update document.Update) (document.Fields, error) {
	var result document.Fields
	err := s.mutateMatch(ctx, collection, "find one and update", filter, func(tx *goredis.Tx, id string, current document.Fields) error {
		updated := current.Apply(update)
		claims, err := s.checkUnique(ctx, tx, collection, id, current, updated)
		if err != nil {
			return err
		}
		body, err := json.Marshal(updated)
		if err != nil {
			return oops.Code("DOCUMENT_ENCODE_FAILED").With("collection", collection).Wrap(err)
		}
		releases := s.releasedValues(collection, current, updated)
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, s.docKey(collection, id), body, 0)
			for _, r := range releases {
				p.HDel(ctx, r.key, r.value)
			}
			for _, c := range claims {
				p.HSetNX(ctx, c.key, c.value, id)
			}
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindOneAndDelete removes the oldest match.
func (s *Store) FindOneAndDelete(ctx context.Context, collection string, filter document.Filter) (document.Fields, bool, error) {
	var removed document.Fields
	err := s.mutateMatch(ctx, collection, "find one and delete", filter, func(tx *goredis.Tx, id string, current document.Fields) error {
		releases := s.releasedValues(collection, current, nil)
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, s.docKey(collection, id))
			p.ZRem(ctx, s.idsKey(collection), id)
			for _, r := range releases {
				p.HDel(ctx, r.key, r.value)
			}
			return nil
		})
		if err == nil {
			removed = current
		}
		return err
	})
	if document.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return removed, true, nil
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() {
	_ = s.client.Close() //nolint:errcheck // nothing to do with a close failure at shutdown
}

// mutateMatch locates the first match, then re-reads it under WATCH and
// runs fn only if it still matches. A document changed or removed between
// the two reads restarts the attempt.
func (s *Store) mutateMatch(ctx context.Context, collection, op string, filter document.Filter,
	fn func(tx *goredis.Tx, id string, current document.Fields) error,
) error {
	errStale := errors.New("candidate changed")
	for range maxTxAttempts {
		id, _, err := s.locate(ctx, s.client, collection, filter)
		if err != nil {
			return err
		}
		docKey := s.docKey(collection, id)
		err = s.transact(ctx, collection, op, func(tx *goredis.Tx) error {
			current, err := s.get(ctx, tx, docKey)
			if err != nil {
				return err
			}
			if current == nil || !current.Matches(filter) {
				return errStale
			}
			return fn(tx, id, current)
		}, append([]string{docKey}, s.uniqueKeys(collection)...)...)
		if errors.Is(err, errStale) {
			continue
		}
		return err
	}
	return oops.Code("STORE_CONTENTION").With("collection", collection).With("operation", op).
		Errorf("gave up after %d attempts", maxTxAttempts)
}

// transact runs fn under WATCH on keys, restarting on optimistic lock
// failure.
func (s *Store) transact(ctx context.Context, collection, op string, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return queryFailed(err, collection, op)
		}
		return nil
	}
	return oops.Code("STORE_CONTENTION").With("collection", collection).With("operation", op).
		Errorf("gave up after %d attempts", maxTxAttempts)
}

// locate finds the oldest match, using the id or a unique index when the
// filter names one.
func (s *Store) locate(ctx context.Context, r reader, collection string, filter document.Filter) (string, document.Fields, error) {
	var candidates []document.Fields
	switch id, byID := filter[document.IDField].(string); {
	case byID:
		doc, err := s.get(ctx, r, s.docKey(collection, id))
		if err != nil {
			return "", nil, queryFailed(err, collection, "find one")
		}
		if doc != nil {
			candidates = []document.Fields{doc}
		}
	default:
		doc, indexed, err := s.viaIndex(ctx, r, collection, filter)
		if err != nil {
			return "", nil, queryFailed(err, collection, "find one")
		}
		if indexed {
			if doc != nil {
				candidates = []document.Fields{doc}
			}
			break
		}
		candidates, err = s.scan(ctx, r, collection)
		if err != nil {
			return "", nil, queryFailed(err, collection, "find one")
		}
	}

	for _, doc := range candidates {
		if doc.Matches(filter) {
			id, _ := doc.ID()
			return id, doc, nil
		}
	}
	return "", nil, oops.Code("DOCUMENT_NOT_FOUND").With("collection", collection).Wrap(document.ErrNotFound)
}

// viaIndex resolves a filter naming a uniquely indexed field. indexed is
// false when no such field is present.
func (s *Store) viaIndex(ctx context.Context, r reader, collection string, filter document.Filter) (document.Fields, bool, error) {
	for _, field := range s.unique[collection] {
		value, ok := filter[field]
		if !ok {
			continue
		}
		encoded, err := encodeValue(value)
		if err != nil {
			return nil, true, err
		}
		id, err := r.HGet(ctx, s.uniqueKey(collection, field), encoded).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, true, nil
		}
		if err != nil {
			return nil, true, err
		}
		doc, err := s.get(ctx, r, s.docKey(collection, id))
		return doc, true, err
	}
	return nil, false, nil
}

// get returns nil without error when key does not exist.
func (s *Store) get(ctx context.Context, r reader, key string) (document.Fields, error) {
	raw, err := r.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := document.Fields{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code("DOCUMENT_DECODE_FAILED").With("key", key).Wrap(err)
	}
	return doc, nil
}

// scan loads every document in collection, oldest first.
func (s *Store) scan(ctx context.Context, r reader, collection string) ([]document.Fields, error) {
	ids, err := r.ZRange(ctx, s.idsKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := r.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]document.Fields, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		doc := document.Fields{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, oops.Code("DOCUMENT_DECODE_FAILED").With("key", keys[i]).Wrap(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type indexEntry struct {
	key   string
	value string
}

// checkUnique returns the index entries next must claim, failing with
// ErrDuplicate when another document already owns one. prev is the stored
// version of the document, or nil on insert.
func (s *Store) checkUnique(ctx context.Context, r reader, collection, id string, prev, next document.Fields) ([]indexEntry, error) {
	var claims []indexEntry
	for _, field := range s.unique[collection] {
		value, ok := next[field]
		if !ok {
			continue
		}
		encoded, err := encodeValue(value)
		if err != nil {
			return nil, err
		}
		if prevValue, had := prev[field]; had {
			if prevEncoded, _ := encodeValue(prevValue); prevEncoded == encoded {
				continue
			}
		}
		key := s.uniqueKey(collection, field)
		owner, err := r.HGet(ctx, key, encoded).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return nil, err
		case owner != id:
			return nil, duplicate(collection, field)
		}
		claims = append(claims, indexEntry{key: key, value: encoded})
	}
	return claims, nil
}

// releasedValues lists index entries prev owns that next no longer carries.
func (s *Store) releasedValues(collection string, prev, next document.Fields) []indexEntry {
	var out []indexEntry
	for _, field := range s.unique[collection] {
		value, ok := prev[field]
		if !ok {
			continue
		}
		encoded, err := encodeValue(value)
		if err != nil {
			continue
		}
		if nextValue, has := next[field]; has {
			if nextEncoded, _ := encodeValue(nextValue); nextEncoded == encoded {
				continue
			}
		}
		out = append(out, indexEntry{key: s.uniqueKey(collection, field), value: encoded})
	}
	return out
}

func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", oops.Code("DOCUMENT_ENCODE_FAILED").Wrap(err)
	}
	return string(raw), nil
}

func duplicate(collection, field string) error {
	return oops.Code("DOCUMENT_DUPLICATE").
		With("collection", collection).
		With("field", field).
		Wrap(document.ErrDuplicate)
}

// queryFailed wraps transport errors, leaving already classified errors
// untouched.
func queryFailed(err error, collection, op string) error {
	if document.IsDuplicate(err) || document.IsNotFound(err) {
		return err
	}
	if _, ok := oops.AsOops(err); ok {
		return err
	}
	return oops.Code("STORE_QUERY_FAILED").
		With("collection", collection).
		With("operation", op).
		Wrap(err)
}

var _ document.Store = (*Store)(nil)
