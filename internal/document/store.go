// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package document

import (
	"context"
	"errors"
)

// Sentinel errors. Stores wrap these with oops codes; callers classify with
// errors.Is.
var (
	// ErrNotFound indicates no document matched a filter.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate indicates a unique index rejected a write.
	ErrDuplicate = errors.New("duplicate document")
	// ErrIDImmutable indicates an update tried to change a document identifier.
	ErrIDImmutable = errors.New("document id is immutable")
)

// Store is the persistence port a Repository is composed over.
//
// Filters and updates handed to a Store are already normalised. Returned
// Fields are owned by the caller.
type Store interface {
	Insert(ctx context.Context, collection string, doc Fields) error
	FindOne(ctx context.Context, collection string, filter Filter) (Fields, error)
	Find(ctx context.Context, collection string, filter Filter) ([]Fields, error)
	FindOneAndUpdate(ctx context.Context, collection string, filter Filter, update Update) (Fields, error)
	// FindOneAndDelete returns (nil, false, nil) when nothing matched.
	FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Fields, bool, error)
	Ping(ctx context.Context) error
	Close()
}

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err indicates a unique index violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
