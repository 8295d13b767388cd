// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package document

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// IDField is the JSON key every document stores its identifier under.
const IDField = "_id"

// Entity is implemented by every type persisted through a Repository.
type Entity interface {
	DocumentID() ulid.ULID
}

// Fields is a decoded JSON object as exchanged with a Store.
type Fields map[string]any

// Filter selects documents whose top-level fields equal every listed value.
// An empty filter matches every document in a collection.
type Filter map[string]any

// Update lists top-level fields to overwrite ($set semantics).
type Update map[string]any

// ByID returns a filter selecting the document with the given identifier.
func ByID(id ulid.ULID) Filter {
	return Filter{IDField: id.String()}
}

// ID returns the document identifier, if present.
func (f Fields) ID() (string, bool) {
	id, ok := f[IDField].(string)
	return id, ok && id != ""
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Apply returns a copy of f with every field in u overwritten.
func (f Fields) Apply(u Update) Fields {
	out := f.Clone()
	if out == nil {
		out = Fields{}
	}
	for k, v := range u {
		out[k] = cloneValue(v)
	}
	return out
}

// Matches reports whether f satisfies every predicate in filter. Both sides
// are expected to be normalised.
func (f Fields) Matches(filter Filter) bool {
	for k, want := range filter {
		got, ok := f[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Keys returns the filter keys in sorted order. Used for logging, where
// values must never appear.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize converts filter values to their JSON representation so they
// compare equal to stored values. A ulid.ULID becomes its string form.
func (f Filter) Normalize() (Filter, error) {
	m, err := normalize(map[string]any(f))
	if err != nil {
		return nil, oops.Code("DOCUMENT_INVALID_FILTER").With("keys", f.Keys()).Wrap(err)
	}
	return Filter(m), nil
}

// Normalize converts update values to their JSON representation and rejects
// updates touching the identifier.
func (u Update) Normalize() (Update, error) {
	if _, ok := u[IDField]; ok {
		return nil, oops.Code("DOCUMENT_ID_IMMUTABLE").Wrap(ErrIDImmutable)
	}
	m, err := normalize(map[string]any(u))
	if err != nil {
		return nil, oops.Code("DOCUMENT_INVALID_UPDATE").Wrap(err)
	}
	return Update(m), nil
}

func normalize(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Fields:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Encode renders an entity as stored fields.
func Encode[T Entity](doc T) (Fields, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, oops.Code("DOCUMENT_ENCODE_FAILED").Wrap(err)
	}
	fields := Fields{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, oops.Code("DOCUMENT_ENCODE_FAILED").Wrap(err)
	}
	return fields, nil
}

// Decode populates an entity from stored fields.
func Decode[T Entity](fields Fields) (T, error) {
	var doc T
	raw, err := json.Marshal(fields)
	if err != nil {
		return doc, oops.Code("DOCUMENT_DECODE_FAILED").Wrap(err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, oops.Code("DOCUMENT_DECODE_FAILED").Wrap(err)
	}
	return doc, nil
}
