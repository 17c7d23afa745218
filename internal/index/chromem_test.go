package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestChromemStore_EnsureReadyIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureReady(ctx, "docs"))
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	stats, err := store.Describe(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)
	assert.Equal(t, 3, stats.Dimension)
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	err := store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "alpha", "docId": "a"}},
		{ID: "a-1", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"text": "beta", "docId": "a"}},
		{ID: "b-0", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"text": "gamma", "docId": "b"}},
	})
	require.NoError(t, err)

	matches, err := store.Query(ctx, "docs", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Best match first, ordered by similarity.
	assert.Equal(t, "a-0", matches[0].ID)
	assert.Equal(t, "b-0", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "alpha", String(matches[0].Metadata, "text"))
	assert.Equal(t, "a", String(matches[0].Metadata, "docId"))
}

func TestChromemStore_UpsertReplacesSameID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "old"}},
	}))
	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"text": "new"}},
	}))

	stats, err := store.Describe(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordCount)

	recs, err := store.Fetch(ctx, "docs", []string{"a-0"})
	require.NoError(t, err)
	require.Contains(t, recs, "a-0")
	assert.Equal(t, "new", String(recs["a-0"].Metadata, "text"))
}

func TestChromemStore_FetchOmitsMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "present", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "here"}},
	}))

	recs, err := store.Fetch(ctx, "docs", []string{"present", "absent"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs, "present")
	assert.NotContains(t, recs, "absent")
}

func TestChromemStore_FetchUnknownNamespace(t *testing.T) {
	store := newTestStore(t)

	recs, err := store.Fetch(context.Background(), "nope", []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestChromemStore_DeleteMany(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "x"}},
		{ID: "a-1", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"text": "y"}},
	}))

	require.NoError(t, store.DeleteMany(ctx, "docs", []string{"a-0", "not-there"}))

	stats, err := store.Describe(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordCount)
}

func TestChromemStore_DeleteAllKeepsNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "x"}},
	}))

	require.NoError(t, store.DeleteAll(ctx, "docs"))

	stats, err := store.Describe(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)

	matches, err := store.Query(ctx, "docs", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_QueryEmptyNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	matches, err := store.Query(ctx, "docs", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_TopKCappedAtCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	require.NoError(t, store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"text": "x"}},
	}))

	matches, err := store.Query(ctx, "docs", []float32{1, 0, 0}, 20)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestChromemStore_VectorSizeMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureReady(ctx, "docs"))

	err := store.Upsert(ctx, "docs", []Record{
		{ID: "a-0", Vector: []float32{1, 0}, Metadata: map[string]any{"text": "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector size")
}

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "docs", false},
		{"memory namespace", "mem_alice", false},
		{"digits and underscores", "ns_01", false},
		{"empty", "", true},
		{"uppercase", "Docs", true},
		{"hyphen", "my-docs", true},
		{"path traversal", "../etc", true},
		{"spaces", "my docs", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidNamespace)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewStore_UnknownProvider(t *testing.T) {
	_, err := NewStore("pinecone", QdrantConfig{}, ChromemConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStore_Chromem(t *testing.T) {
	store, err := NewStore(ProviderChromem, QdrantConfig{}, ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, store)
	assert.NoError(t, store.Close())
}

func TestMetadataHelpers(t *testing.T) {
	m := map[string]any{
		"s": "hello",
		"i": int64(42),
		"f": 3.5,
		"b": true,
	}
	assert.Equal(t, "hello", String(m, "s"))
	assert.Equal(t, "42", String(m, "i"))
	assert.Equal(t, "3.5", String(m, "f"))
	assert.Equal(t, "true", String(m, "b"))
	assert.Equal(t, "", String(m, "missing"))

	assert.Equal(t, int64(42), Int64(m, "i"))
	assert.Equal(t, int64(3), Int64(m, "f"))
	assert.Equal(t, int64(0), Int64(m, "missing"))
	assert.Equal(t, int64(7), Int64(map[string]any{"n": "7"}, "n"))
}
