// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package document

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Repository is typed CRUD over one collection of a Store.
type Repository[T Entity] struct {
	store      Store
	collection string
	logger     *slog.Logger
}

// NewRepository creates a Repository with a no-op logger.
// Returns an error if any required dependency is missing.
func NewRepository[T Entity](store Store, collection string) (*Repository[T], error) {
	return NewRepositoryWithLogger[T](store, collection, slog.New(slog.DiscardHandler))
}

// NewRepositoryWithLogger creates a Repository with the provided logger.
// Returns an error if any required dependency is missing.
func NewRepositoryWithLogger[T Entity](store Store, collection string, logger *slog.Logger) (*Repository[T], error) {
	if store == nil {
		return nil, oops.Errorf("document store is required")
	}
	if collection == "" {
		return nil, oops.Errorf("collection name is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Repository[T]{store: store, collection: collection, logger: logger}, nil
}

// Create persists doc under a freshly generated identifier and returns the
// stored document. Any identifier already present on doc is discarded.
func (r *Repository[T]) Create(ctx context.Context, doc T) (T, error) {
	var zero T
	fields, err := Encode(doc)
	if err != nil {
		return zero, oops.With("collection", r.collection).Wrap(err)
	}
	fields[IDField] = ulid.Make().String()

	if err := r.store.Insert(ctx, r.collection, fields); err != nil {
		return zero, oops.Code("DOCUMENT_CREATE_FAILED").
			With("collection", r.collection).
			Wrap(err)
	}
	return Decode[T](fields)
}

// FindOne returns the first document matching filter, or ErrNotFound.
func (r *Repository[T]) FindOne(ctx context.Context, filter Filter) (T, error) {
	var zero T
	normalized, err := filter.Normalize()
	if err != nil {
		return zero, err
	}
	fields, err := r.store.FindOne(ctx, r.collection, normalized)
	if err != nil {
		return zero, r.lookupError("find one", filter, err)
	}
	return Decode[T](fields)
}

// Find returns every document matching filter. The result is never nil.
func (r *Repository[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	normalized, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	found, err := r.store.Find(ctx, r.collection, normalized)
	if err != nil {
		return nil, oops.Code("DOCUMENT_FIND_FAILED").
			With("collection", r.collection).
			Wrap(err)
	}
	out := make([]T, 0, len(found))
	for _, fields := range found {
		doc, err := Decode[T](fields)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// FindOneAndUpdate applies update to the first document matching filter and
// returns the updated document, or ErrNotFound.
func (r *Repository[T]) FindOneAndUpdate(ctx context.Context, filter Filter, update Update) (T, error) {
	var zero T
	normalizedUpdate, err := update.Normalize()
	if err != nil {
		return zero, err
	}
	normalizedFilter, err := filter.Normalize()
	if err != nil {
		return zero, err
	}
	fields, err := r.store.FindOneAndUpdate(ctx, r.collection, normalizedFilter, normalizedUpdate)
	if err != nil {
		return zero, r.lookupError("find one and update", filter, err)
	}
	return Decode[T](fields)
}

// FindOneAndDelete removes the first document matching filter. Absence is
// not an error: it yields the zero value and false.
func (r *Repository[T]) FindOneAndDelete(ctx context.Context, filter Filter) (T, bool, error) {
	var zero T
	normalized, err := filter.Normalize()
	if err != nil {
		return zero, false, err
	}
	fields, ok, err := r.store.FindOneAndDelete(ctx, r.collection, normalized)
	if err != nil {
		return zero, false, oops.Code("DOCUMENT_DELETE_FAILED").
			With("collection", r.collection).
			Wrap(err)
	}
	if !ok {
		return zero, false, nil
	}
	doc, err := Decode[T](fields)
	if err != nil {
		return zero, false, err
	}
	return doc, true, nil
}

func (r *Repository[T]) lookupError(op string, filter Filter, err error) error {
	if IsNotFound(err) {
		r.logger.Warn("document not found",
			"collection", r.collection,
			"operation", op,
			"filter_keys", filter.Keys())
		return oops.Code("DOCUMENT_NOT_FOUND").
			With("collection", r.collection).
			With("filter_keys", filter.Keys()).
			Wrap(ErrNotFound)
	}
	if IsDuplicate(err) {
		return oops.Code("DOCUMENT_DUPLICATE").
			With("collection", r.collection).
			Wrap(ErrDuplicate)
	}
	return oops.Code("DOCUMENT_QUERY_FAILED").
		With("collection", r.collection).
		With("operation", op).
		Wrap(err)
}
