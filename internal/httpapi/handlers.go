package httpapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/cache"
	"github.com/fyrsmithlabs/cortexd/internal/ingest"
	"github.com/fyrsmithlabs/cortexd/internal/projection"
	"github.com/fyrsmithlabs/cortexd/internal/promptgen"
	"github.com/fyrsmithlabs/cortexd/internal/retrieval"
	"github.com/fyrsmithlabs/cortexd/internal/store"
)

// maxUploadBytes caps a single HTML export read into memory.
const maxUploadBytes = 50 << 20

// maxPromptConversations bounds one prompt-generation request.
const maxPromptConversations = 10

const (
	listCacheControl   = "public, max-age=60"
	detailCacheControl = "public, max-age=300"
)

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"name":        "cortexd",
		"version":     s.deps.Version,
		"description": "AI chat memory visualization and retrieval system",
		"health":      "/health",
	})
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(c echo.Context) error {
	deps := map[string]string{
		"database":           "healthy",
		"vector_index":       "healthy",
		"chat_provider":      "healthy",
		"embedding_provider": "healthy",
	}
	if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
		deps["database"] = "degraded"
	}
	if !s.deps.ChatConfigured {
		deps["chat_provider"] = "degraded"
	}
	if !s.deps.EmbedderConfigured {
		deps["embedding_provider"] = "degraded"
	}

	status := "healthy"
	for _, v := range deps {
		if v != "healthy" {
			status = "degraded"
			break
		}
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:       status,
		Version:      s.deps.Version,
		Dependencies: deps,
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.New(apperr.KindInvalidInput, "file is required")
	}
	data, err := readUpload(fh)
	if err != nil {
		return err
	}

	autoReproject := false
	if v := c.FormValue("auto_reproject"); v != "" {
		autoReproject, _ = strconv.ParseBool(v)
	}

	result, err := s.deps.Ingest.IngestFile(c.Request().Context(), fh.Filename, data, autoReproject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleIngestBatch(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		return apperr.New(apperr.KindInvalidInput, "at least one file is required")
	}

	files := make([]ingest.File, 0, len(form.File["files"]))
	for _, fh := range form.File["files"] {
		data, err := readUpload(fh)
		if err != nil {
			return err
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}

	autoReproject := true
	if v := c.FormValue("auto_reproject"); v != "" {
		autoReproject, _ = strconv.ParseBool(v)
	}

	result, err := s.deps.Ingest.IngestBatch(c.Request().Context(), files, autoReproject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type reprojectResponse struct {
	Success bool `json:"success"`
	ingest.ReprojectResult
}

func (s *Server) handleReproject(c echo.Context) error {
	result, err := s.deps.Ingest.Reproject(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reprojectResponse{Success: true, ReprojectResult: *result})
}

type conversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Topics       []string  `json:"topics"`
	ClusterID    int       `json:"cluster_id"`
	ClusterName  string    `json:"cluster_name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func summarizeConversation(conv *store.Conversation) conversationSummary {
	topics := []string(conv.Topics)
	if topics == nil {
		topics = []string{}
	}
	return conversationSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		Summary:      conv.Summary,
		Topics:       topics,
		ClusterID:    conv.ClusterID,
		ClusterName:  conv.ClusterName,
		MessageCount: conv.MessageCount,
		CreatedAt:    conv.CreatedAt,
	}
}

func (s *Server) handleListChats(c echo.Context) error {
	limit := intQuery(c, "limit", 100)
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.deps.Store.ListConversations(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}

	out := make([]conversationSummary, len(convs))
	for i := range convs {
		out[i] = summarizeConversation(&convs[i])
	}
	c.Response().Header().Set("Cache-Control", listCacheControl)
	c.Response().Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	return c.JSON(http.StatusOK, out)
}

type messageResponse struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	SequenceNumber int    `json:"sequence_number"`
}

type conversationDetail struct {
	conversationSummary
	Messages []messageResponse `json:"messages"`
}

func (s *Server) handleGetChat(c echo.Context) error {
	conv, err := s.deps.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	detail := conversationDetail{
		conversationSummary: summarizeConversation(conv),
		Messages:            make([]messageResponse, len(conv.Messages)),
	}
	for i, m := range conv.Messages {
		detail.Messages[i] = messageResponse{
			ID:             m.ID,
			Role:           m.Role,
			Content:        m.Content,
			SequenceNumber: m.SequenceNumber,
		}
	}
	c.Response().Header().Set("Cache-Control", detailCacheControl)
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleDeleteChat(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Store.DeleteConversation(c.Request().Context(), id); err != nil {
		return err
	}
	if err := s.deps.Index.Delete(c.Request().Context(), id); err != nil {
		s.logger.Warn("vector index delete failed",
			zap.String("conversation_id", id),
			zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Conversation " + id + " deleted successfully",
	})
}

type visualizationNode struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Summary       string     `json:"summary"`
	Topics        []string   `json:"topics"`
	ClusterID     int        `json:"cluster_id"`
	ClusterName   string     `json:"cluster_name"`
	Color         string     `json:"color"`
	MessageCount  int        `json:"message_count"`
	Position      [3]float64 `json:"position"`
	StartPosition [3]float64 `json:"start_position"`
	Magnitude     float64    `json:"magnitude"`
	CreatedAt     time.Time  `json:"created_at"`
}

type visualizationCluster struct {
	ClusterID   int    `json:"cluster_id"`
	ClusterName string `json:"cluster_name"`
	Color       string `json:"color"`
	Count       int    `json:"count"`
}

type visualizationResponse struct {
	Nodes      []visualizationNode    `json:"nodes"`
	TotalNodes int                    `json:"total_nodes"`
	Clusters   []visualizationCluster `json:"clusters"`
}

func (s *Server) handleVisualization(c echo.Context) error {
	convs, err := s.deps.Store.WithEmbeddings(c.Request().Context())
	if err != nil {
		return err
	}

	resp := visualizationResponse{Nodes: []visualizationNode{}, Clusters: []visualizationCluster{}}
	clusterIndex := map[int]int{}
	for i := range convs {
		conv := &convs[i]
		if conv.Embedding == nil {
			continue
		}
		summary := summarizeConversation(conv)
		resp.Nodes = append(resp.Nodes, visualizationNode{
			ID:            conv.ID,
			Title:         conv.Title,
			Summary:       conv.Summary,
			Topics:        summary.Topics,
			ClusterID:     conv.ClusterID,
			ClusterName:   conv.ClusterName,
			Color:         projection.ColorFor(conv.ClusterID),
			MessageCount:  conv.MessageCount,
			Position:      [3]float64{conv.Embedding.EndX, conv.Embedding.EndY, conv.Embedding.EndZ},
			StartPosition: [3]float64{conv.Embedding.StartX, conv.Embedding.StartY, conv.Embedding.StartZ},
			Magnitude:     conv.Embedding.Magnitude,
			CreatedAt:     conv.CreatedAt,
		})

		if pos, ok := clusterIndex[conv.ClusterID]; ok {
			resp.Clusters[pos].Count++
		} else {
			clusterIndex[conv.ClusterID] = len(resp.Clusters)
			resp.Clusters = append(resp.Clusters, visualizationCluster{
				ClusterID:   conv.ClusterID,
				ClusterName: conv.ClusterName,
				Color:       projection.ColorFor(conv.ClusterID),
				Count:       1,
			})
		}
	}
	resp.TotalNodes = len(resp.Nodes)
	return c.JSON(http.StatusOK, resp)
}

type searchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinScore      *float64 `json:"min_score"`
	ClusterFilter *int     `json:"cluster_filter"`
	TopicFilter   []string `json:"topic_filter"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindInvalidInput, "invalid request body")
	}
	if req.Query == "" {
		return apperr.New(apperr.KindInvalidInput, "query is required")
	}
	if req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1) {
		return apperr.New(apperr.KindInvalidInput, "min_score must be in [0, 1]")
	}

	resp, err := s.deps.Search.Search(c.Request().Context(), req.Query, retrieval.Options{
		Limit:         req.Limit,
		MinScore:      req.MinScore,
		ClusterFilter: req.ClusterFilter,
		TopicFilter:   req.TopicFilter,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearchStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Search.Stats())
}

type generatePromptRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
}

type generatePromptResponse struct {
	Prompt            string  `json:"prompt"`
	ConversationsUsed int     `json:"conversations_used"`
	ProcessingTimeMS  float64 `json:"processing_time_ms"`
}

func (s *Server) handleGeneratePrompt(c echo.Context) error {
	var req generatePromptRequest
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindInvalidInput, "invalid request body")
	}
	if len(req.ConversationIDs) == 0 {
		return apperr.New(apperr.KindInvalidInput, "conversation_ids is required")
	}
	if len(req.ConversationIDs) > maxPromptConversations {
		return apperr.New(apperr.KindInvalidInput, "at most %d conversation ids are allowed", maxPromptConversations)
	}

	start := time.Now()
	ctx := c.Request().Context()

	convs, err := s.deps.Store.ConversationsByIDs(ctx, req.ConversationIDs)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		return apperr.New(apperr.KindNotFound, "None of the requested conversations were found")
	}

	contexts := make([]promptgen.ConversationContext, len(convs))
	for i, conv := range convs {
		contexts[i] = promptgen.ConversationContext{
			Title:   conv.Title,
			Topics:  conv.Topics,
			Summary: conv.Summary,
		}
	}

	prompt, err := s.deps.PromptGen.Generate(ctx, contexts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, generatePromptResponse{
		Prompt:            prompt,
		ConversationsUsed: len(convs),
		ProcessingTimeMS:  float64(time.Since(start).Microseconds()) / 1000,
	})
}

func (s *Server) handleClearCache(c echo.Context) error {
	if s.deps.Cache == nil {
		return apperr.New(apperr.KindInvalidInput, "cache is not configured")
	}
	cleared, err := s.deps.Cache.ClearAll()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "cleared": cleared})
}

func (s *Server) handleClearCacheKind(c echo.Context) error {
	if s.deps.Cache == nil {
		return apperr.New(apperr.KindInvalidInput, "cache is not configured")
	}
	kind := c.Param("kind")
	if kind != cache.KindSummaries && kind != cache.KindEmbeddings {
		return apperr.New(apperr.KindInvalidInput, "unknown cache kind: %s", kind)
	}
	n, err := s.deps.Cache.Clear(kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "kind": kind, "cleared": n})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "failed to read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "failed to read upload")
	}
	return data, nil
}

func intQuery(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
