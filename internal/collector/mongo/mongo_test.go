package mongocollector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

type fakeWriter struct {
	inserted []any
	models   []mongo.WriteModel
	err      error
}

func (f *fakeWriter) InsertMany(_ context.Context, docs any, _ ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error) {
	f.inserted = append(f.inserted, docs.([]any)...)
	return &mongo.InsertManyResult{}, f.err
}

func (f *fakeWriter) BulkWrite(_ context.Context, models []mongo.WriteModel, _ ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error) {
	f.models = append(f.models, models...)
	return &mongo.BulkWriteResult{}, f.err
}

type page struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

func TestInsertNormalizesItems(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	c := New(w, nil, zap.NewNop())
	require.NoError(t, c.Collect(context.Background(), page{URL: "u", Hash: "h"}, map[string]any{"a": 1}))

	require.Len(t, w.inserted, 2)
	assert.Equal(t, map[string]any{"url": "u", "hash": "h"}, w.inserted[0])
	assert.Empty(t, w.models)
}

func TestUpsertBuildsFilters(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	c := New(w, map[string]string{"url": "url", "site": "meta.site"}, zap.NewNop())
	item := map[string]any{"url": "u", "meta": map[string]any{"site": "example.com"}}
	require.NoError(t, c.Collect(context.Background(), item))

	require.Len(t, w.models, 1)
	model, ok := w.models[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "site", Value: "example.com"}, {Key: "url", Value: "u"}}, model.Filter)
	assert.Equal(t, item, model.Replacement)
	require.NotNil(t, model.Upsert)
	assert.True(t, *model.Upsert)
}

func TestCollectSwallowsWriteErrors(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("duplicate key")}
	c := New(w, nil, zap.NewNop())
	assert.NoError(t, c.Collect(context.Background(), map[string]any{"a": 1}))
	assert.NoError(t, c.Collect(context.Background()))
	assert.NoError(t, c.Collect(context.Background(), "not an object"))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"a": map[string]any{"b": 2}}
	assert.Equal(t, 2, lookup(doc, "a.b"))
	assert.Nil(t, lookup(doc, "a.c"))
	assert.Nil(t, lookup(doc, "a.b.c"))
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	p := NewProvider(zap.NewNop())
	require.ErrorIs(t, p.AssertConfig(map[string]any{"type": "mongo"}), provider.ErrInvalidConfig)
	require.ErrorIs(t, p.AssertConfig(map[string]any{
		"type": "mongo", "db": "d", "collection": "c", "update": map[string]any{"url": ""},
	}), provider.ErrInvalidConfig)
	require.NoError(t, p.AssertConfig(map[string]any{
		"type": "mongo", "db": "d", "collection": "c", "update": map[string]any{"url": "url"},
	}))
}
