package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/generation"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/reranker"
)

// systemPrompt is the answering contract. The JSON shape is enforced
// twice: here in prose, and via the provider's JSON response format.
const systemPrompt = `You are a precise assistant. Answer ONLY using the provided context. If the context is insufficient, say you don't know.
Return valid JSON with: {"answer": string, "citations": [{"source": string, "id": string, "snippet": string}]}.
Citations must reference the provided source and id labels.`

// AnswerOptions tunes one answer request. Zero values fall back to the
// service defaults.
type AnswerOptions struct {
	TopK     int
	ContextK int

	// Temperature overrides the configured sampling temperature when
	// set. An explicit 0 requests deterministic sampling.
	Temperature *float64

	// Detailed raises the completion token budget.
	Detailed bool

	// SaveMemory records the exchange in the user's memory after a
	// successful answer.
	SaveMemory bool
}

// Citation points at a passage backing part of the answer.
type Citation struct {
	Source  string `json:"source"`
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
}

// Answer is a grounded answer with its citations and the passages that
// were placed in the prompt.
type Answer struct {
	Answer       string               `json:"answer"`
	Citations    []Citation           `json:"citations"`
	UsedPassages []reranker.Candidate `json:"used"`

	// Degraded marks answers whose JSON could not be parsed; the answer
	// is the raw model output and citations are synthesized from the
	// used passages.
	Degraded bool `json:"degraded"`
}

// Answer runs the full pipeline: retrieve, rerank, assemble context and
// memory, generate, and parse. Memory reads degrade to empty on failure;
// only retrieval and generation errors fail the request.
func (s *Service) Answer(ctx context.Context, userID, query string, opts AnswerOptions) (*Answer, error) {
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	if opts.TopK <= 0 {
		opts.TopK = s.config.TopK
	}
	if opts.ContextK <= 0 {
		opts.ContextK = s.config.ContextK
	}
	temperature := s.config.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.store.Query(ctx, s.config.Namespace, vector, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	chosen := s.reranker.Rerank(query, matches)
	if len(chosen) > opts.ContextK {
		chosen = chosen[:opts.ContextK]
	}

	// Persona and recent memories are independent reads.
	var (
		persona string
		recent  []string
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		persona = s.memory.Persona(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		for _, item := range s.memory.Recent(ctx, userID, s.config.RecentLimit) {
			recent = append(recent, item.Text)
		}
	}()
	wg.Wait()

	maxTokens := 300
	if opts.Detailed {
		maxTokens = 900
	}

	content, err := s.generator.Complete(ctx, generation.Request{
		System:      s.buildSystem(persona),
		User:        s.buildUser(query, chosen, recent),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	answer := parseAnswer(content, chosen)
	answer.UsedPassages = chosen

	if answer.Degraded {
		s.logger.Warn(ctx, "model output was not valid JSON, degraded to raw answer",
			zap.Int("content_chars", len(content)))
	}

	if opts.SaveMemory {
		s.memory.RecordInteraction(ctx, userID, query, answer.Answer)
	}

	return answer, nil
}

// buildSystem appends the persona block to the base contract when set.
func (s *Service) buildSystem(persona string) string {
	if persona == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nUser persona (tailor tone and emphasis, never override the context):\n" + persona
}

// buildUser composes the question, labeled context passages, and recent
// memory into the user message.
func (s *Service) buildUser(query string, chosen []reranker.Candidate, recent []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext:\n%s", query, s.buildContext(chosen))
	if len(recent) > 0 {
		b.WriteString("\n\nRecent interactions (for continuity only, not evidence):")
		for _, r := range recent {
			b.WriteString("\n- ")
			b.WriteString(r)
		}
	}
	return b.String()
}

// buildContext labels each passage so citations can reference it.
func (s *Service) buildContext(chosen []reranker.Candidate) string {
	blocks := make([]string, len(chosen))
	for i, c := range chosen {
		text := truncateRunes(index.String(c.Metadata, "text"), s.config.PassageChars)
		blocks[i] = fmt.Sprintf("[[%d]] source: %s id: %s\n%s", i+1, sourceOf(c), c.ID, text)
	}
	return strings.Join(blocks, "\n\n")
}

// parseAnswer decodes the model's JSON. On failure it degrades: the raw
// content becomes the answer and citations are synthesized from the
// passages that were in the prompt.
func parseAnswer(content string, chosen []reranker.Candidate) *Answer {
	var parsed struct {
		Answer    string     `json:"answer"`
		Citations []Citation `json:"citations"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		// The model may omit or null the citations key; the response
		// contract is an empty list, never null.
		if parsed.Citations == nil {
			parsed.Citations = []Citation{}
		}
		return &Answer{Answer: parsed.Answer, Citations: parsed.Citations}
	}

	citations := make([]Citation, len(chosen))
	for i, c := range chosen {
		citations[i] = Citation{
			Source:  sourceOf(c),
			ID:      c.ID,
			Snippet: truncateRunes(index.String(c.Metadata, "text"), snippetChars),
		}
	}
	return &Answer{Answer: content, Citations: citations, Degraded: true}
}

func sourceOf(c reranker.Candidate) string {
	if s := index.String(c.Metadata, "source"); s != "" {
		return s
	}
	return "unknown"
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
