package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/generation"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/logging"
	"github.com/seekerlabs/ragd/internal/rag"
	"github.com/seekerlabs/ragd/internal/reranker"
)

// IngestRequest is the request body for POST /api/v1/documents.
type IngestRequest struct {
	Documents []IngestDocument `json:"documents"`
}

// IngestDocument is one document in an ingest request.
type IngestDocument struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

// IngestResponse is the response body for POST /api/v1/documents.
type IngestResponse struct {
	OK              bool   `json:"ok"`
	Message         string `json:"message"`
	ChunksProcessed int    `json:"chunks_processed"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}

	docs := make([]rag.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = rag.Document{ID: d.ID, Source: d.SourcePath, Text: d.Text}
	}

	result, err := s.service.Ingest(s.ctx(c), docs)
	if err != nil {
		return s.serviceError(c, "ingest failed", err)
	}

	return c.JSON(http.StatusOK, IngestResponse{
		OK:              true,
		Message:         fmt.Sprintf("Successfully indexed %d chunks", result.ChunksProcessed),
		ChunksProcessed: result.ChunksProcessed,
	})
}

// ClearRequest is the request body for DELETE /api/v1/documents.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// StatusResponse is a generic ok/message response body.
type StatusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handleClear(c echo.Context) error {
	var req ClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Confirm {
		return echo.NewHTTPError(http.StatusBadRequest, "confirmation is required")
	}

	if err := s.service.ClearIndex(s.ctx(c)); err != nil {
		return s.serviceError(c, "clear failed", err)
	}

	return c.JSON(http.StatusOK, StatusResponse{OK: true, Message: "Index cleared successfully"})
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

// SearchMatch is one hit in a search response.
type SearchMatch struct {
	ID     string  `json:"id"`
	Score  float32 `json:"score"`
	Text   string  `json:"text,omitempty"`
	Source string  `json:"source,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	OK      bool          `json:"ok"`
	Matches []SearchMatch `json:"matches"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	matches, err := s.service.Search(s.ctx(c), req.Query, req.TopK, req.MinScore)
	if err != nil {
		return s.serviceError(c, "search failed", err)
	}

	out := make([]SearchMatch, len(matches))
	for i, m := range matches {
		out[i] = SearchMatch{
			ID:     m.ID,
			Score:  m.Score,
			Text:   index.String(m.Metadata, "text"),
			Source: index.String(m.Metadata, "source"),
		}
	}

	return c.JSON(http.StatusOK, SearchResponse{OK: true, Matches: out})
}

// AnswerRequest is the request body for POST /api/v1/answer.
type AnswerRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	ContextK int    `json:"context_k"`

	// Temperature, Detailed and SaveMemory keep their service defaults
	// when omitted; an explicit temperature of 0 is honored.
	Temperature *float64 `json:"temperature"`
	Detailed    *bool    `json:"detailed"`
	SaveMemory  *bool    `json:"save_memory"`
}

// AnswerResponse is the response body for POST /api/v1/answer.
type AnswerResponse struct {
	OK        bool                 `json:"ok"`
	Answer    string               `json:"answer"`
	Citations []rag.Citation       `json:"citations"`
	Used      []reranker.Candidate `json:"used"`
	Degraded  bool                 `json:"degraded,omitempty"`
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	opts := rag.AnswerOptions{
		TopK:        req.TopK,
		ContextK:    req.ContextK,
		Temperature: req.Temperature,
		Detailed:    req.Detailed == nil || *req.Detailed,
		SaveMemory:  req.SaveMemory == nil || *req.SaveMemory,
	}

	answer, err := s.service.Answer(s.ctx(c), s.resolver.UserID(c.Request()), req.Query, opts)
	if err != nil {
		return s.serviceError(c, "answer failed", err)
	}

	return c.JSON(http.StatusOK, AnswerResponse{
		OK:        true,
		Answer:    answer.Answer,
		Citations: answer.Citations,
		Used:      answer.UsedPassages,
		Degraded:  answer.Degraded,
	})
}

// PersonaRequest is the request body for POST /api/v1/memory/persona.
type PersonaRequest struct {
	Persona string `json:"persona"`
}

// PersonaResponse is the response body for GET /api/v1/memory/persona.
type PersonaResponse struct {
	OK      bool   `json:"ok"`
	Persona string `json:"persona"`
}

func (s *Server) handleGetPersona(c echo.Context) error {
	persona := s.service.Memory().Persona(s.ctx(c), s.resolver.UserID(c.Request()))
	return c.JSON(http.StatusOK, PersonaResponse{OK: true, Persona: persona})
}

func (s *Server) handleSetPersona(c echo.Context) error {
	var req PersonaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Persona == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "persona field is required")
	}

	if err := s.service.Memory().SetPersona(s.ctx(c), s.resolver.UserID(c.Request()), req.Persona); err != nil {
		return s.serviceError(c, "persona save failed", err)
	}

	return c.JSON(http.StatusOK, StatusResponse{OK: true, Message: "Persona saved"})
}

func (s *Server) handleClearPersona(c echo.Context) error {
	if err := s.service.Memory().ClearPersona(s.ctx(c), s.resolver.UserID(c.Request())); err != nil {
		return s.serviceError(c, "persona delete failed", err)
	}
	return c.JSON(http.StatusOK, StatusResponse{OK: true, Message: "Persona cleared"})
}

// RecentItem is one stored interaction in a recent-memory response.
type RecentItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RecentResponse is the response body for GET /api/v1/memory/recent.
type RecentResponse struct {
	OK    bool         `json:"ok"`
	Items []RecentItem `json:"items"`
}

func (s *Server) handleRecent(c echo.Context) error {
	items := s.service.Memory().Recent(s.ctx(c), s.resolver.UserID(c.Request()), 0)
	out := make([]RecentItem, len(items))
	for i, item := range items {
		out[i] = RecentItem{ID: item.ID, Text: item.Text}
	}
	return c.JSON(http.StatusOK, RecentResponse{OK: true, Items: out})
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	OK           bool   `json:"ok"`
	Namespace    string `json:"namespace"`
	TotalVectors int    `json:"total_vectors"`
	Dimension    int    `json:"dimension"`
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.service.Stats(s.ctx(c))
	if err != nil {
		return s.serviceError(c, "stats failed", err)
	}
	return c.JSON(http.StatusOK, StatsResponse{
		OK:           true,
		Namespace:    stats.Namespace,
		TotalVectors: stats.RecordCount,
		Dimension:    stats.Dimension,
	})
}

// ctx returns the request context with the resolved user attached for log
// correlation.
func (s *Server) ctx(c echo.Context) context.Context {
	return logging.WithUserID(c.Request().Context(), s.resolver.UserID(c.Request()))
}

// serviceError logs the failure and maps it to a status code. Provider
// timeouts surface as 504 so clients can distinguish slow upstreams from
// internal faults.
func (s *Server) serviceError(c echo.Context, msg string, err error) error {
	s.logger.Error(c.Request().Context(), msg, zap.Error(err))
	if errors.Is(err, generation.ErrProviderTimeout) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
