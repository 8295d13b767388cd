// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package document_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/document/memory"
	"github.com/tokengate/tokengate/pkg/errutil"
)

// brokenStore fails every call with err.
type brokenStore struct{ err error }

func (b brokenStore) Insert(context.Context, string, document.Fields) error { return b.err }
func (b brokenStore) FindOne(context.Context, string, document.Filter) (document.Fields, error) {
	return nil, b.err
}
func (b brokenStore) Find(context.Context, string, document.Filter) ([]document.Fields, error) {
	return nil, b.err
}
func (b brokenStore) FindOneAndUpdate(context.Context, string, document.Filter, document.Update) (document.Fields, error) {
	return nil, b.err
}
func (b brokenStore) FindOneAndDelete(context.Context, string, document.Filter) (document.Fields, bool, error) {
	return nil, false, b.err
}
func (b brokenStore) Ping(context.Context) error { return b.err }
func (b brokenStore) Close()                     {}

func newWidgets(t *testing.T) *document.Repository[widget] {
	t.Helper()
	repo, err := document.NewRepository[widget](memory.New(), "widgets")
	require.NoError(t, err)
	return repo
}

func TestNewRepository_Validation(t *testing.T) {
	tests := []struct {
		name        string
		store       document.Store
		collection  string
		logger      *slog.Logger
		expectError string
	}{
		{"nil store", nil, "widgets", slog.Default(), "store"},
		{"empty collection", memory.New(), "", slog.Default(), "collection"},
		{"nil logger", memory.New(), "widgets", nil, "logger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := document.NewRepositoryWithLogger[widget](tt.store, tt.collection, tt.logger)
			require.Error(t, err)
			assert.Nil(t, repo)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestRepository_CreateAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t)

	supplied := ulid.Make()
	created, err := repo.Create(ctx, widget{ID: supplied, Name: "bolt"})
	require.NoError(t, err)
	assert.NotEqual(t, supplied, created.ID, "caller-supplied id is replaced")
	assert.NotEqual(t, ulid.ULID{}, created.ID)
	assert.Equal(t, "bolt", created.Name)

	found, err := repo.FindOne(ctx, document.Filter{"name": "bolt"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	second, err := repo.Create(ctx, widget{Name: "nut"})
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, second.ID)
}

func TestRepository_FindOne(t *testing.T) {
	ctx := context.Background()

	t.Run("by typed id", func(t *testing.T) {
		repo := newWidgets(t)
		created, err := repo.Create(ctx, widget{Name: "bolt", Size: 3})
		require.NoError(t, err)

		found, err := repo.FindOne(ctx, document.Filter{"_id": created.ID})
		require.NoError(t, err)
		assert.Equal(t, created, found)

		found, err = repo.FindOne(ctx, document.ByID(created.ID))
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("by number", func(t *testing.T) {
		repo := newWidgets(t)
		_, err := repo.Create(ctx, widget{Name: "bolt", Size: 3})
		require.NoError(t, err)

		found, err := repo.FindOne(ctx, document.Filter{"size": 3})
		require.NoError(t, err)
		assert.Equal(t, "bolt", found.Name)
	})

	t.Run("missing returns ErrNotFound and logs filter keys only", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		repo, err := document.NewRepositoryWithLogger[widget](memory.New(), "widgets", logger)
		require.NoError(t, err)

		_, err = repo.FindOne(ctx, document.Filter{"name": "sprocket-secret"})
		require.Error(t, err)
		assert.ErrorIs(t, err, document.ErrNotFound)
		errutil.AssertErrorCode(t, err, "DOCUMENT_NOT_FOUND")

		out := buf.String()
		assert.Contains(t, out, `"level":"WARN"`)
		assert.Contains(t, out, `"collection":"widgets"`)
		assert.Contains(t, out, `"name"`)
		assert.NotContains(t, out, "sprocket-secret")
	})

	t.Run("store failure is not ErrNotFound", func(t *testing.T) {
		repo, err := document.NewRepository[widget](brokenStore{err: errors.New("connection reset")}, "widgets")
		require.NoError(t, err)

		_, err = repo.FindOne(ctx, document.Filter{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, document.ErrNotFound)
		errutil.AssertErrorCode(t, err, "DOCUMENT_QUERY_FAILED")
	})
}

func TestRepository_Find(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t)

	empty, err := repo.Find(ctx, document.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, name := range []string{"bolt", "nut", "bolt"} {
		_, err := repo.Create(ctx, widget{Name: name})
		require.NoError(t, err)
	}

	bolts, err := repo.Find(ctx, document.Filter{"name": "bolt"})
	require.NoError(t, err)
	assert.Len(t, bolts, 2)

	all, err := repo.Find(ctx, document.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRepository_FindOneAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t)
	created, err := repo.Create(ctx, widget{Name: "bolt", Size: 3})
	require.NoError(t, err)

	updated, err := repo.FindOneAndUpdate(ctx, document.ByID(created.ID), document.Update{"size": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Size)
	assert.Equal(t, "bolt", updated.Name)
	assert.Equal(t, created.ID, updated.ID)

	_, err = repo.FindOneAndUpdate(ctx, document.Filter{"name": "nut"}, document.Update{"size": 1})
	assert.ErrorIs(t, err, document.ErrNotFound)

	_, err = repo.FindOneAndUpdate(ctx, document.ByID(created.ID), document.Update{"_id": ulid.Make()})
	assert.ErrorIs(t, err, document.ErrIDImmutable)

	found, err := repo.FindOne(ctx, document.ByID(created.ID))
	require.NoError(t, err)
	assert.Equal(t, 5, found.Size)
}

func TestRepository_FindOneAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t)
	created, err := repo.Create(ctx, widget{Name: "bolt"})
	require.NoError(t, err)

	removed, ok, err := repo.FindOneAndDelete(ctx, document.ByID(created.ID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, created, removed)

	removed, ok, err = repo.FindOneAndDelete(ctx, document.ByID(created.ID))
	require.NoError(t, err, "absence is not an error")
	assert.False(t, ok)
	assert.Equal(t, widget{}, removed)

	_, err = repo.FindOne(ctx, document.ByID(created.ID))
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestRepository_DuplicateSurfaces(t *testing.T) {
	ctx := context.Background()
	repo, err := document.NewRepository[widget](memory.New(memory.WithUniqueIndex("widgets", "name")), "widgets")
	require.NoError(t, err)

	_, err = repo.Create(ctx, widget{Name: "bolt"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, widget{Name: "bolt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrDuplicate)
	assert.True(t, document.IsDuplicate(err))
}
