// Package memory manages per-user persona and recent-interaction records
// stored in the vector index.
//
// Memory is strictly best-effort: read paths degrade to empty values on
// any index failure, and interaction writes log failures instead of
// propagating them, so memory can never break an answer request.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/embeddings"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/logging"
)

const (
	// personaID is the fixed record ID holding a user's persona text.
	personaID = "persona"

	// metaID is the fixed record ID holding the ordered recent-interaction
	// ID list, JSON-encoded in metadata "recent".
	metaID = "mem-meta"

	// DefaultCap bounds the recent-interaction list.
	DefaultCap = 3

	// DefaultAnswerChars bounds the answer portion of a stored interaction.
	DefaultAnswerChars = 800

	// namespacePrefix scopes each user's memory into its own namespace.
	namespacePrefix = "mem_"
)

// Interaction is one stored question/answer exchange.
type Interaction struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Config tunes the manager's retention bounds.
type Config struct {
	// Cap is the maximum number of recent interactions kept per user.
	Cap int

	// AnswerChars truncates stored answers to keep records small.
	AnswerChars int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.AnswerChars <= 0 {
		c.AnswerChars = DefaultAnswerChars
	}
}

// Manager reads and writes per-user memory records.
type Manager struct {
	store    index.Store
	embedder embeddings.Provider
	config   Config
	logger   *logging.Logger

	// locks serializes mem-meta read-modify-write per namespace.
	locks sync.Map
}

// NewManager creates a memory Manager.
func NewManager(store index.Store, embedder embeddings.Provider, config Config, logger *logging.Logger) *Manager {
	config.ApplyDefaults()
	return &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger.Named("memory"),
	}
}

// Namespace returns the memory namespace for a user ID. User IDs are
// folded into the namespace character set; an empty ID maps to "anon".
func Namespace(userID string) string {
	sanitized := sanitizeUser(userID)
	ns := namespacePrefix + sanitized
	if len(ns) > 64 {
		ns = ns[:64]
	}
	return ns
}

// sanitizeUser lowercases and replaces anything outside [a-z0-9_] with
// underscores.
func sanitizeUser(userID string) string {
	if userID == "" {
		return "anon"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (m *Manager) lock(namespace string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(namespace, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Persona returns the user's persona text, or "" when unset or on any
// index failure.
func (m *Manager) Persona(ctx context.Context, userID string) string {
	ns := Namespace(userID)
	recs, err := m.store.Fetch(ctx, ns, []string{personaID})
	if err != nil {
		m.logger.Warn(ctx, "persona fetch failed, degrading to empty",
			zap.String("namespace", ns), zap.Error(err))
		return ""
	}
	rec, ok := recs[personaID]
	if !ok {
		return ""
	}
	return index.String(rec.Metadata, "text")
}

// SetPersona stores the persona text under the fixed persona record.
// Empty text clears the persona instead.
func (m *Manager) SetPersona(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(text) == "" {
		return m.ClearPersona(ctx, userID)
	}

	ns := Namespace(userID)
	if err := m.store.EnsureReady(ctx, ns); err != nil {
		return fmt.Errorf("preparing namespace %s: %w", ns, err)
	}

	vector, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding persona: %w", err)
	}

	err = m.store.Upsert(ctx, ns, []index.Record{{
		ID:     personaID,
		Vector: vector,
		Metadata: map[string]any{
			"type": "persona",
			"text": text,
		},
	}})
	if err != nil {
		return fmt.Errorf("storing persona: %w", err)
	}

	m.logger.Info(ctx, "persona saved", zap.String("namespace", ns), zap.Int("chars", len(text)))
	return nil
}

// ClearPersona removes the persona record. Clearing an absent persona
// succeeds.
func (m *Manager) ClearPersona(ctx context.Context, userID string) error {
	ns := Namespace(userID)
	if err := m.store.DeleteMany(ctx, ns, []string{personaID}); err != nil {
		return fmt.Errorf("clearing persona: %w", err)
	}
	m.logger.Info(ctx, "persona cleared", zap.String("namespace", ns))
	return nil
}

// Recent returns up to limit recent interactions, newest first. Any
// failure, a missing meta record, or corrupt meta JSON degrades to an
// empty list.
func (m *Manager) Recent(ctx context.Context, userID string, limit int) []Interaction {
	if limit <= 0 || limit > m.config.Cap {
		limit = m.config.Cap
	}

	ns := Namespace(userID)
	recentIDs := m.recentIDs(ctx, ns)
	if len(recentIDs) == 0 {
		return []Interaction{}
	}

	recs, err := m.store.Fetch(ctx, ns, recentIDs)
	if err != nil {
		m.logger.Warn(ctx, "recent fetch failed, degrading to empty",
			zap.String("namespace", ns), zap.Error(err))
		return []Interaction{}
	}

	items := make([]Interaction, 0, limit)
	for _, id := range recentIDs {
		rec, ok := recs[id]
		if !ok {
			continue
		}
		text := index.String(rec.Metadata, "text")
		if text == "" {
			continue
		}
		items = append(items, Interaction{ID: id, Text: text})
		if len(items) == limit {
			break
		}
	}
	return items
}

// recentIDs reads the ordered ID list from the meta record.
func (m *Manager) recentIDs(ctx context.Context, namespace string) []string {
	recs, err := m.store.Fetch(ctx, namespace, []string{metaID})
	if err != nil {
		m.logger.Warn(ctx, "meta fetch failed, degrading to empty",
			zap.String("namespace", namespace), zap.Error(err))
		return nil
	}
	rec, ok := recs[metaID]
	if !ok {
		return nil
	}
	raw := index.String(rec.Metadata, "recent")
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		m.logger.Warn(ctx, "corrupt meta record, degrading to empty",
			zap.String("namespace", namespace), zap.Error(err))
		return nil
	}
	return ids
}

// RecordInteraction stores a question/answer exchange and updates the
// recent list, evicting the oldest entry beyond the cap. Errors are
// logged and swallowed; memory writes must not fail the caller.
func (m *Manager) RecordInteraction(ctx context.Context, userID, query, answer string) {
	ns := Namespace(userID)

	mu := m.lock(ns)
	mu.Lock()
	defer mu.Unlock()

	if err := m.store.EnsureReady(ctx, ns); err != nil {
		m.logger.Warn(ctx, "memory namespace not ready, skipping write",
			zap.String("namespace", ns), zap.Error(err))
		return
	}

	if runes := []rune(answer); len(runes) > m.config.AnswerChars {
		answer = string(runes[:m.config.AnswerChars])
	}
	blob := fmt.Sprintf("Q: %s\nA: %s", query, answer)

	vector, err := m.embedder.EmbedQuery(ctx, blob)
	if err != nil {
		m.logger.Warn(ctx, "interaction embedding failed, skipping write",
			zap.String("namespace", ns), zap.Error(err))
		return
	}

	// Nanosecond prefix makes IDs sort by recency; the uuid suffix
	// disambiguates same-instant writes.
	id := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())

	err = m.store.Upsert(ctx, ns, []index.Record{{
		ID:     id,
		Vector: vector,
		Metadata: map[string]any{
			"type": "memory",
			"text": blob,
			"ts":   time.Now().UnixNano(),
		},
	}})
	if err != nil {
		m.logger.Warn(ctx, "interaction write failed",
			zap.String("namespace", ns), zap.Error(err))
		return
	}

	recent := append([]string{id}, m.recentIDs(ctx, ns)...)
	evicted := recent[min(len(recent), m.config.Cap):]
	recent = recent[:min(len(recent), m.config.Cap)]

	encoded, err := json.Marshal(recent)
	if err != nil {
		m.logger.Warn(ctx, "encoding recent list failed", zap.Error(err))
		return
	}

	// The meta record needs some vector; reuse the interaction's. It is
	// never part of similarity search.
	err = m.store.Upsert(ctx, ns, []index.Record{{
		ID:     metaID,
		Vector: vector,
		Metadata: map[string]any{
			"type":   "meta",
			"recent": string(encoded),
		},
	}})
	if err != nil {
		m.logger.Warn(ctx, "meta write failed",
			zap.String("namespace", ns), zap.Error(err))
		return
	}

	if len(evicted) > 0 {
		if err := m.store.DeleteMany(ctx, ns, evicted); err != nil {
			m.logger.Warn(ctx, "evicting old interactions failed",
				zap.String("namespace", ns), zap.Error(err))
		}
	}

	m.logger.Debug(ctx, "interaction recorded",
		zap.String("namespace", ns),
		zap.String("id", id),
		zap.Int("recent_count", len(recent)))
}
