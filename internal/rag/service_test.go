package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/embeddings"
	"github.com/seekerlabs/ragd/internal/generation"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/logging"
	"github.com/seekerlabs/ragd/internal/memory"
	"github.com/seekerlabs/ragd/internal/reranker"
)

// fakeEmbedder maps known texts to fixed vectors and everything else to a
// neutral direction, so similarity in tests is fully scripted.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 1, 1}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Close() error  { return nil }

// fakeGenerator records the last request and plays back a scripted reply.
type fakeGenerator struct {
	reply   string
	err     error
	lastReq generation.Request
}

func (f *fakeGenerator) Complete(_ context.Context, req generation.Request) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) Close() error { return nil }

func newTestService(t *testing.T, gen generation.Provider) (*Service, index.Store) {
	t.Helper()
	store, err := index.NewChromemStore(index.ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	logger := logging.NewTestLogger().Logger
	mem := memory.NewManager(store, embedder, memory.Config{}, logger)

	svc, err := NewService(
		Config{},
		embedder,
		store,
		reranker.NewHybrid(reranker.DefaultAlpha),
		mem,
		gen,
		logger,
	)
	require.NoError(t, err)
	return svc, store
}

func ingestFixtures(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.Ingest(context.Background(), []Document{
		{ID: "cats", Source: "cats.md", Text: "cats enjoy feeding time daily and nap often"},
		{ID: "dogs", Source: "dogs.md", Text: "dogs love running outside in the park"},
	})
	require.NoError(t, err)
}

func TestIngest(t *testing.T) {
	svc, store := newTestService(t, &fakeGenerator{reply: "{}"})
	ctx := context.Background()

	result, err := svc.Ingest(ctx, []Document{
		{ID: "report", Source: "report.pdf", Text: strings.Repeat("a", 1500)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunksProcessed)

	stats, err := store.Describe(ctx, DefaultNamespace)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordCount)

	recs, err := store.Fetch(ctx, DefaultNamespace, []string{"report-0", "report-1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "report.pdf", index.String(recs["report-0"].Metadata, "source"))
	assert.Equal(t, "chunk", index.String(recs["report-0"].Metadata, "kind"))
	assert.Equal(t, int64(1), index.Int64(recs["report-1"].Metadata, "ordinal"))
}

func TestIngest_Idempotent(t *testing.T) {
	svc, store := newTestService(t, &fakeGenerator{reply: "{}"})
	ctx := context.Background()

	doc := Document{ID: "report", Text: strings.Repeat("b", 1500)}
	_, err := svc.Ingest(ctx, []Document{doc})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, []Document{doc})
	require.NoError(t, err)

	stats, err := store.Describe(ctx, DefaultNamespace)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordCount, "re-ingestion must replace, not duplicate")
}

func TestIngest_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{reply: "{}"})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, nil)
	require.Error(t, err)

	_, err = svc.Ingest(ctx, []Document{{ID: "", Text: "x"}})
	require.Error(t, err)

	_, err = svc.Ingest(ctx, []Document{{ID: "empty", Text: "   "}})
	require.Error(t, err)
}

func TestIngest_EmbedFailureLeavesNoWrites(t *testing.T) {
	store, err := index.NewChromemStore(index.ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)
	logger := logging.NewTestLogger().Logger
	embedder := &fakeEmbedder{fail: true}
	svc, err := NewService(Config{}, embedder, store,
		reranker.NewHybrid(reranker.DefaultAlpha),
		memory.NewManager(store, embedder, memory.Config{}, logger),
		&fakeGenerator{reply: "{}"}, logger)
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), []Document{{ID: "doc", Text: "hello world"}})
	require.Error(t, err)

	stats, err := store.Describe(context.Background(), DefaultNamespace)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{reply: "{}"})
	ingestFixtures(t, svc)

	matches, err := svc.Search(context.Background(), "feeding cats", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestSearch_MinScoreFilters(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{reply: "{}"})
	ingestFixtures(t, svc)

	all, err := svc.Search(context.Background(), "feeding cats", 10, 0)
	require.NoError(t, err)

	none, err := svc.Search(context.Background(), "feeding cats", 10, 1.1)
	require.NoError(t, err)

	assert.NotEmpty(t, all)
	assert.Empty(t, none)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{reply: "{}"})
	_, err := svc.Search(context.Background(), "", 10, 0)
	require.Error(t, err)
}

func TestClearIndexAndStats(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{reply: "{}"})
	ctx := context.Background()
	ingestFixtures(t, svc)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordCount)

	require.NoError(t, svc.ClearIndex(ctx))

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)
}

func TestAnswer_ParsesModelJSON(t *testing.T) {
	gen := &fakeGenerator{reply: `{"answer":"cats eat daily","citations":[{"source":"cats.md","id":"cats-0","snippet":"feeding time"}]}`}
	svc, _ := newTestService(t, gen)
	ingestFixtures(t, svc)

	got, err := svc.Answer(context.Background(), "alice", "when do cats eat?", AnswerOptions{})
	require.NoError(t, err)

	assert.False(t, got.Degraded)
	assert.Equal(t, "cats eat daily", got.Answer)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "cats-0", got.Citations[0].ID)
	assert.NotEmpty(t, got.UsedPassages)

	// Prompt carries the labeled context and JSON contract.
	assert.True(t, gen.lastReq.JSONMode)
	assert.Contains(t, gen.lastReq.System, "Answer ONLY using the provided context")
	assert.Contains(t, gen.lastReq.User, "Question: when do cats eat?")
	assert.Contains(t, gen.lastReq.User, "[[1]] source:")
	assert.Equal(t, 300, gen.lastReq.MaxTokens)
}

func TestAnswer_DegradesOnNonJSONOutput(t *testing.T) {
	gen := &fakeGenerator{reply: "Cats typically eat once a day."}
	svc, _ := newTestService(t, gen)
	ingestFixtures(t, svc)

	got, err := svc.Answer(context.Background(), "alice", "when do cats eat?", AnswerOptions{ContextK: 2})
	require.NoError(t, err)

	assert.True(t, got.Degraded)
	assert.Equal(t, "Cats typically eat once a day.", got.Answer)
	require.Len(t, got.Citations, 2, "citations synthesized from used passages")
	for i, c := range got.Citations {
		assert.Equal(t, got.UsedPassages[i].ID, c.ID)
		assert.NotEmpty(t, c.Snippet)
		assert.LessOrEqual(t, len(c.Snippet), 200)
	}
}

func TestAnswer_CitationsNeverNull(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"citations key omitted", `{"answer":"cats eat daily"}`},
		{"citations key null", `{"answer":"cats eat daily","citations":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeGenerator{reply: tt.reply})
			ingestFixtures(t, svc)

			got, err := svc.Answer(context.Background(), "alice", "when do cats eat?", AnswerOptions{})
			require.NoError(t, err)

			assert.False(t, got.Degraded)
			assert.Equal(t, "cats eat daily", got.Answer)
			require.NotNil(t, got.Citations)
			assert.Empty(t, got.Citations)

			body, err := json.Marshal(got)
			require.NoError(t, err)
			assert.Contains(t, string(body), `"citations":[]`)
			assert.NotContains(t, string(body), `"citations":null`)
		})
	}
}

func TestAnswer_TemperatureOverride(t *testing.T) {
	gen := &fakeGenerator{reply: "{}"}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	ingestFixtures(t, svc)

	// Unset falls back to the configured default.
	_, err := svc.Answer(ctx, "alice", "question", AnswerOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, gen.lastReq.Temperature)

	// An explicit zero requests deterministic sampling and is honored.
	zero := 0.0
	_, err = svc.Answer(ctx, "alice", "question", AnswerOptions{Temperature: &zero})
	require.NoError(t, err)
	assert.Zero(t, gen.lastReq.Temperature)

	temp := 0.9
	_, err = svc.Answer(ctx, "alice", "question", AnswerOptions{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, 0.9, gen.lastReq.Temperature)
}

func TestAnswer_DetailedRaisesTokenBudget(t *testing.T) {
	gen := &fakeGenerator{reply: "{}"}
	svc, _ := newTestService(t, gen)
	ingestFixtures(t, svc)

	_, err := svc.Answer(context.Background(), "alice", "question", AnswerOptions{Detailed: true})
	require.NoError(t, err)
	assert.Equal(t, 900, gen.lastReq.MaxTokens)
}

func TestAnswer_PersonaInSystemPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "{}"}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	ingestFixtures(t, svc)

	require.NoError(t, svc.Memory().SetPersona(ctx, "alice", "speaks French"))

	_, err := svc.Answer(ctx, "alice", "question", AnswerOptions{})
	require.NoError(t, err)
	assert.Contains(t, gen.lastReq.System, "speaks French")

	// Other users never see it.
	_, err = svc.Answer(ctx, "bob", "question", AnswerOptions{})
	require.NoError(t, err)
	assert.NotContains(t, gen.lastReq.System, "speaks French")
}

func TestAnswer_SaveMemoryRecordsInteraction(t *testing.T) {
	gen := &fakeGenerator{reply: `{"answer":"an answer","citations":[]}`}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	ingestFixtures(t, svc)

	_, err := svc.Answer(ctx, "alice", "my question", AnswerOptions{SaveMemory: true})
	require.NoError(t, err)

	items := svc.Memory().Recent(ctx, "alice", 3)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Text, "my question")
	assert.Contains(t, items[0].Text, "an answer")
}

func TestAnswer_NoSaveMemoryByDefault(t *testing.T) {
	gen := &fakeGenerator{reply: `{"answer":"an answer","citations":[]}`}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	ingestFixtures(t, svc)

	_, err := svc.Answer(ctx, "alice", "my question", AnswerOptions{})
	require.NoError(t, err)
	assert.Empty(t, svc.Memory().Recent(ctx, "alice", 3))
}

func TestAnswer_RecentMemoryInPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: `{"answer":"a","citations":[]}`}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()
	ingestFixtures(t, svc)

	svc.Memory().RecordInteraction(ctx, "alice", "earlier question", "earlier answer")

	_, err := svc.Answer(ctx, "alice", "follow-up", AnswerOptions{})
	require.NoError(t, err)
	assert.Contains(t, gen.lastReq.User, "earlier question")
}

func TestAnswer_GenerationFailurePropagates(t *testing.T) {
	gen := &fakeGenerator{err: generation.ErrProviderTimeout}
	svc, _ := newTestService(t, gen)
	ingestFixtures(t, svc)

	_, err := svc.Answer(context.Background(), "alice", "question", AnswerOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrProviderTimeout)
}

func TestAnswer_TruncatesLongPassages(t *testing.T) {
	gen := &fakeGenerator{reply: "{}"}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []Document{
		{ID: "long", Text: strings.Repeat("x", 900)},
	})
	require.NoError(t, err)

	_, err = svc.Answer(ctx, "alice", "question", AnswerOptions{})
	require.NoError(t, err)

	assert.Contains(t, gen.lastReq.User, strings.Repeat("x", 700))
	assert.NotContains(t, gen.lastReq.User, strings.Repeat("x", 701))
}

var _ embeddings.Provider = (*fakeEmbedder)(nil)
var _ generation.Provider = (*fakeGenerator)(nil)
