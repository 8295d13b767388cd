// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package document provides a persistence-agnostic document repository.
//
// # Model
//
// A document is a JSON object with a store-assigned identifier under the
// "_id" key. Go types opt in by implementing Entity. Stores never see Go
// types: they exchange Fields (the decoded JSON object) and select records
// with a Filter, an exact-match predicate over top-level fields.
//
// # Repository
//
// Repository[T] is the typed CRUD surface callers use:
//   - Create assigns a fresh ULID and persists the document
//   - FindOne and FindOneAndUpdate fail with ErrNotFound when nothing matches
//   - Find returns every match as a slice
//   - FindOneAndDelete reports absence as (zero, false, nil) instead of failing
//
// The asymmetry between FindOne and FindOneAndDelete is deliberate and
// callers branch on it.
//
// # Stores
//
// Store implementations live in the memory, postgres and redis
// subpackages. A unique constraint violated by Insert or FindOneAndUpdate
// surfaces as ErrDuplicate.
package document
