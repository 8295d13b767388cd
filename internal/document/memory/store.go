// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package memory provides an in-process document.Store.
package memory

import (
	"context"
	"reflect"
	"sync"

	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/document"
)

// Option configures a Store.
type Option func(*Store)

// WithUniqueIndex rejects writes that would give two documents in collection
// the same value for field.
func WithUniqueIndex(collection, field string) Option {
	return func(s *Store) {
		s.unique[collection] = append(s.unique[collection], field)
	}
}

// Store keeps documents in insertion order per collection.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]document.Fields
	unique      map[string][]string
	closed      bool
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string][]document.Fields),
		unique:      make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert stores a copy of doc.
func (s *Store) Insert(_ context.Context, collection string, doc document.Fields) error {
	id, ok := doc.ID()
	if !ok {
		return oops.Code("DOCUMENT_ID_MISSING").With("collection", collection).Errorf("document has no identifier")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	for _, existing := range s.collections[collection] {
		if existingID, _ := existing.ID(); existingID == id {
			return duplicate(collection, document.IDField)
		}
	}
	if err := s.checkUnique(collection, doc, -1); err != nil {
		return err
	}
	s.collections[collection] = append(s.collections[collection], doc.Clone())
	return nil
}

// FindOne returns the first document matching filter.
func (s *Store) FindOne(_ context.Context, collection string, filter document.Filter) (document.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	idx := s.indexOf(collection, filter)
	if idx < 0 {
		return nil, notFound(collection)
	}
	return s.collections[collection][idx].Clone(), nil
}

// Find returns every document matching filter in insertion order.
func (s *Store) Find(_ context.Context, collection string, filter document.Filter) ([]document.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := []document.Fields{}
	for _, doc := range s.collections[collection] {
		if doc.Matches(filter) {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// FindOneAndUpdate applies update to the first match and returns the result.
func (s *Store) FindOneAndUpdate(_ context.Context, collection string, filter document.Filter, update document.Update) (document.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	idx := s.indexOf(collection, filter)
	if idx < 0 {
		return nil, notFound(collection)
	}
	updated := s.collections[collection][idx].Apply(update)
	if err := s.checkUnique(collection, updated, idx); err != nil {
		return nil, err
	}
	s.collections[collection][idx] = updated
	return updated.Clone(), nil
}

// FindOneAndDelete removes the first match.
func (s *Store) FindOneAndDelete(_ context.Context, collection string, filter document.Filter) (document.Fields, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	idx := s.indexOf(collection, filter)
	if idx < 0 {
		return nil, false, nil
	}
	docs := s.collections[collection]
	removed := docs[idx]
	s.collections[collection] = append(docs[:idx:idx], docs[idx+1:]...)
	return removed, true, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close discards all documents.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
}

func (s *Store) indexOf(collection string, filter document.Filter) int {
	for i, doc := range s.collections[collection] {
		if doc.Matches(filter) {
			return i
		}
	}
	return -1
}

// checkUnique must be called with the write lock held. skip excludes the
// document being replaced.
func (s *Store) checkUnique(collection string, doc document.Fields, skip int) error {
	for _, field := range s.unique[collection] {
		value, ok := doc[field]
		if !ok {
			continue
		}
		for i, existing := range s.collections[collection] {
			if i == skip {
				continue
			}
			if other, ok := existing[field]; ok && reflect.DeepEqual(other, value) {
				return duplicate(collection, field)
			}
		}
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return oops.Code("STORE_CLOSED").Errorf("memory store is closed")
	}
	return nil
}

func notFound(collection string) error {
	return oops.Code("DOCUMENT_NOT_FOUND").With("collection", collection).Wrap(document.ErrNotFound)
}

func duplicate(collection, field string) error {
	return oops.Code("DOCUMENT_DUPLICATE").
		With("collection", collection).
		With("field", field).
		Wrap(document.ErrDuplicate)
}

var _ document.Store = (*Store)(nil)
