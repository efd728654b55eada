// Package ingest orchestrates the intake pipeline: parse an exported chat
// HTML file, normalize its conversations, summarize and embed each one, and
// persist the results to the database and the vector index.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/cache"
	"github.com/fyrsmithlabs/cortexd/internal/embeddings"
	"github.com/fyrsmithlabs/cortexd/internal/normalizer"
	"github.com/fyrsmithlabs/cortexd/internal/parser"
	"github.com/fyrsmithlabs/cortexd/internal/projection"
	"github.com/fyrsmithlabs/cortexd/internal/store"
	"github.com/fyrsmithlabs/cortexd/internal/summarizer"
	"github.com/fyrsmithlabs/cortexd/internal/vectorindex"
)

var tracer trace.Tracer = otel.Tracer("cortexd.ingest")

var (
	conversationsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortexd_conversations_ingested_total",
		Help: "Conversations successfully ingested.",
	})
	conversationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortexd_conversations_failed_total",
		Help: "Conversations that failed during ingestion.",
	})
)

// concurrency is the number of conversations processed in parallel when one
// file contains several.
const concurrency = 3

// Unprojected conversations sit at the origin under a default cluster until
// the next reprojection run.
const (
	defaultClusterID   = 0
	defaultClusterName = "Unclustered"
	defaultMagnitude   = 1.0
)

// Limits for the text stored as the searchable index document.
const (
	indexMaxMessages   = 20
	indexMessageBudget = 500
)

// Service runs the ingestion pipeline.
type Service struct {
	store      *store.Store
	index      *vectorindex.Index
	cache      *cache.Cache
	summarizer *summarizer.Service
	embedder   embeddings.Embedder
	projector  *projection.Engine
	logger     *zap.Logger
}

// New wires an ingestion service. The cache may be nil to disable caching.
func New(
	st *store.Store,
	idx *vectorindex.Index,
	c *cache.Cache,
	summ *summarizer.Service,
	emb embeddings.Embedder,
	proj *projection.Engine,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      st,
		index:      idx,
		cache:      c,
		summarizer: summ,
		embedder:   emb,
		projector:  proj,
		logger:     logger,
	}
}

// ConversationResult reports the outcome of one conversation in a bundle.
type ConversationResult struct {
	Success          bool    `json:"success"`
	ConversationID   string  `json:"conversation_id,omitempty"`
	Title            string  `json:"title,omitempty"`
	MessageCount     int     `json:"message_count"`
	Error            string  `json:"error,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
}

// FileResult aggregates per-conversation outcomes for one uploaded file.
// Successful + Failed always equals TotalProcessed.
type FileResult struct {
	Success        bool                 `json:"success"`
	TotalProcessed int                  `json:"total_processed"`
	Successful     int                  `json:"successful"`
	Failed         int                  `json:"failed"`
	Conversations  []ConversationResult `json:"conversations"`
	TotalTimeMS    float64              `json:"total_time_ms"`
}

// BatchResult aggregates conversation outcomes across a batch of files. A
// file that fails before parsing out conversations counts as one failed item.
type BatchResult struct {
	Files          int                  `json:"files"`
	TotalProcessed int                  `json:"total_processed"`
	Successful     int                  `json:"successful"`
	Failed         int                  `json:"failed"`
	Conversations  []ConversationResult `json:"conversations"`
	TotalTimeMS    float64              `json:"total_time_ms"`
}

// IngestFile parses one HTML export and stores every conversation it
// contains. Conversations are processed concurrently; one failing does not
// abort the rest. Reprojection runs afterwards when requested, or when the
// file added more than one conversation.
func (s *Service) IngestFile(ctx context.Context, filename string, raw []byte, autoReproject bool) (*FileResult, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestFile")
	defer span.End()

	start := time.Now()

	if !strings.HasSuffix(strings.ToLower(filename), ".html") {
		return nil, apperr.New(apperr.KindInvalidInput, "Only HTML files are accepted")
	}

	convs, vendor, err := parser.ParseAll(string(raw))
	if err != nil {
		return nil, err
	}
	s.logger.Info("parsed upload",
		zap.String("filename", filename),
		zap.String("vendor", vendor),
		zap.Int("conversations", len(convs)))

	items := make([]ConversationResult, len(convs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, conv := range convs {
		g.Go(func() error {
			itemStart := time.Now()
			id, title, count, err := s.processConversation(gctx, conv)
			if err != nil {
				conversationsFailed.Inc()
				s.logger.Warn("conversation skipped",
					zap.String("filename", filename),
					zap.Int("position", i),
					zap.Error(err))
				items[i] = ConversationResult{
					Title:            conv.Title,
					Error:            apperr.Message(err),
					ProcessingTimeMS: elapsedMS(itemStart),
				}
				return nil
			}
			items[i] = ConversationResult{
				Success:          true,
				ConversationID:   id,
				Title:            title,
				MessageCount:     count,
				ProcessingTimeMS: elapsedMS(itemStart),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &FileResult{TotalProcessed: len(items), Conversations: items}
	for _, it := range items {
		if it.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	if result.Successful == 0 {
		return nil, apperr.New(apperr.KindEmptyInput, "All conversations in the file were empty or failed processing")
	}
	result.Success = true

	if autoReproject || result.Successful > 1 {
		if _, err := s.Reproject(ctx); err != nil {
			s.logger.Warn("auto reprojection failed", zap.Error(err))
		}
	}

	result.TotalTimeMS = elapsedMS(start)
	return result, nil
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// File is one upload in a batch.
type File struct {
	Name string
	Data []byte
}

// IngestBatch processes files sequentially and reprojects once at the end
// when anything succeeded. Individual failures are reported per file, never
// as an overall error.
func (s *Service) IngestBatch(ctx context.Context, files []File, autoReproject bool) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestBatch")
	defer span.End()

	start := time.Now()
	batch := &BatchResult{Files: len(files)}

	for _, f := range files {
		res, err := s.IngestFile(ctx, f.Name, f.Data, false)
		if err != nil {
			batch.TotalProcessed++
			batch.Failed++
			batch.Conversations = append(batch.Conversations, ConversationResult{
				Title: f.Name,
				Error: apperr.Message(err),
			})
			continue
		}
		batch.TotalProcessed += res.TotalProcessed
		batch.Successful += res.Successful
		batch.Failed += res.Failed
		batch.Conversations = append(batch.Conversations, res.Conversations...)
	}

	if autoReproject && batch.Successful > 0 {
		if _, err := s.Reproject(ctx); err != nil {
			s.logger.Warn("auto reprojection failed", zap.Error(err))
		}
	}

	batch.TotalTimeMS = elapsedMS(start)
	return batch, nil
}

// processConversation runs one conversation through normalize, summarize,
// embed, and persist.
func (s *Service) processConversation(ctx context.Context, parsed *parser.Conversation) (id, title string, messageCount int, err error) {
	norm, err := normalizer.Normalize(parsed, time.Now())
	if err != nil {
		return "", "", 0, err
	}

	summary := s.summarize(ctx, norm)

	id = uuid.NewString()
	contents := make([]string, len(norm.Messages))
	for i, m := range norm.Messages {
		contents[i] = m.Content
	}
	embedText := embeddings.BuildDocumentText(norm.Title, summary.Topics, summary.Summary, contents)

	vector, err := s.embed(ctx, embedText)
	if err != nil {
		return "", "", 0, fmt.Errorf("embedding failed for %q: %w", norm.Title, err)
	}

	conv := &store.Conversation{
		ID:           id,
		Title:        norm.Title,
		Summary:      summary.Summary,
		Topics:       summary.Topics,
		ClusterID:    defaultClusterID,
		ClusterName:  defaultClusterName,
		MessageCount: len(norm.Messages),
		CreatedAt:    norm.CreatedAt,
	}
	msgs := make([]store.Message, len(norm.Messages))
	for i, m := range norm.Messages {
		msgs[i] = store.Message{
			ID:             uuid.NewString(),
			ConversationID: id,
			Role:           m.Role,
			Content:        m.Content,
			SequenceNumber: m.Sequence,
		}
	}
	emb := &store.Embedding{
		ConversationID: id,
		Vector:         vector,
		Magnitude:      defaultMagnitude,
	}
	if err := s.store.CreateConversation(ctx, conv, msgs, emb); err != nil {
		return "", "", 0, err
	}

	doc, meta := buildIndexDocument(norm.Title, summary.Summary, summary.Topics, norm.Messages)
	if err := s.index.Upsert(ctx, id, doc, vector, meta); err != nil {
		// The database row is the source of truth; a failed index write is
		// recoverable on the next reprojection.
		s.logger.Warn("vector index upsert failed",
			zap.String("conversation_id", id),
			zap.Error(err))
	}

	conversationsIngested.Inc()
	s.logger.Info("conversation ingested",
		zap.String("conversation_id", id),
		zap.String("title", norm.Title),
		zap.Int("messages", len(norm.Messages)))
	return id, norm.Title, len(norm.Messages), nil
}

// summarize calls the model, with a content-keyed cache in front and a
// deterministic fallback when the provider fails.
func (s *Service) summarize(ctx context.Context, norm *normalizer.Conversation) *summarizer.Result {
	msgs := make([]summarizer.Message, len(norm.Messages))
	for i, m := range norm.Messages {
		msgs[i] = summarizer.Message{Role: m.Role, Content: m.Content}
	}

	key := contentHash(norm.Messages)
	if s.cache != nil {
		var cached summarizer.Result
		if s.cache.Get(cache.KindSummaries, key, &cached) {
			return &cached
		}
	}

	result, err := s.summarizer.Summarize(ctx, msgs)
	if err != nil {
		s.logger.Warn("summarization failed, using fallback",
			zap.String("title", norm.Title),
			zap.Error(err))
		return summarizer.FallbackResult(len(norm.Messages))
	}
	if s.cache != nil {
		if err := s.cache.Put(cache.KindSummaries, key, result); err != nil {
			s.logger.Warn("summary cache write failed", zap.Error(err))
		}
	}
	return result
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	key := textHash(text)
	if s.cache != nil {
		var cached []float32
		if s.cache.Get(cache.KindEmbeddings, key, &cached) && len(cached) > 0 {
			return cached, nil
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Put(cache.KindEmbeddings, key, vector); err != nil {
			s.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return vector, nil
}

// buildIndexDocument assembles the text stored alongside the vector: title,
// summary, and topics up front, then the first messages with long ones
// truncated.
func buildIndexDocument(title, summary string, topics []string, msgs []parser.Message) (string, map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	fmt.Fprintf(&b, "Topics: %s\n", strings.Join(topics, ", "))

	for i, m := range msgs {
		if i >= indexMaxMessages {
			break
		}
		content := m.Content
		if len(content) > indexMessageBudget {
			content = content[:indexMessageBudget]
		}
		fmt.Fprintf(&b, "\n%s: %s", strings.ToUpper(m.Role), content)
	}

	meta := map[string]any{
		"title":         title,
		"topic_count":   len(topics),
		"message_count": len(msgs),
	}
	return b.String(), meta
}

func contentHash(msgs []parser.Message) string {
	h := sha256.New()
	for _, m := range msgs {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
