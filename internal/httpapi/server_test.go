package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cortexd/internal/cache"
	"github.com/fyrsmithlabs/cortexd/internal/config"
	"github.com/fyrsmithlabs/cortexd/internal/ingest"
	"github.com/fyrsmithlabs/cortexd/internal/llm"
	"github.com/fyrsmithlabs/cortexd/internal/mcp"
	"github.com/fyrsmithlabs/cortexd/internal/projection"
	"github.com/fyrsmithlabs/cortexd/internal/promptgen"
	"github.com/fyrsmithlabs/cortexd/internal/retrieval"
	"github.com/fyrsmithlabs/cortexd/internal/store"
	"github.com/fyrsmithlabs/cortexd/internal/summarizer"
	"github.com/fyrsmithlabs/cortexd/internal/vectorindex"
)

// fakeLLM answers summarizer calls with fixed JSON and prompt calls with
// fixed prose, keyed off JSONMode.
type fakeLLM struct{}

func (fakeLLM) Chat(_ context.Context, _ []llm.Message, opts llm.Options) (string, error) {
	if opts.JSONMode {
		return `{"summary": "Discussed container networking.", "topics": ["docker"]}`, nil
	}
	return "You are an assistant that remembers the user's docker work.", nil
}

// keywordEmbedder maps texts onto fixed orthogonal axes so relevance is
// predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "docker"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "cooking"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (k keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(config.DatabaseConfig{URL: filepath.Join(dir, "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, err := vectorindex.Open(vectorindex.Options{Path: filepath.Join(dir, "index.json")})
	require.NoError(t, err)

	client := fakeLLM{}
	embedder := keywordEmbedder{}
	cch := cache.New(filepath.Join(dir, "cache"), nil)
	proj := projection.New(config.ProjectionConfig{NNeighbors: 15, MinDist: 0.1, NClusters: 5}, "", nil)
	search := retrieval.New(st, idx, embedder, nil, nil)
	tools := mcp.NewTools(search, st, nil)

	srv, err := NewServer(config.ServerConfig{}, Deps{
		Store:              st,
		Index:              idx,
		Ingest:             ingest.New(st, idx, cch, summarizer.New(client, nil), embedder, proj, nil),
		Search:             search,
		PromptGen:          promptgen.New(client, nil),
		Cache:              cch,
		MCP:                mcp.NewHandler(tools, "1.0.0-test", nil),
		Version:            "1.0.0-test",
		ChatConfigured:     true,
		EmbedderConfigured: true,
	}, nil)
	require.NoError(t, err)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func uploadFile(t *testing.T, srv *Server, path, field, filename string, data []byte, extra map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echoHeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func chatHTML(user, assistant string) []byte {
	return []byte(`<html><head><title>ChatGPT - Export</title></head><body>
<div data-message-author-role="user"><div>` + user + `</div></div>
<div data-message-author-role="assistant"><div>` + assistant + `</div></div>
</body></html>`)
}

func ingestDockerChat(t *testing.T, srv *Server) string {
	t.Helper()
	rec := uploadFile(t, srv, "/api/ingest", "file", "docker.html",
		chatHTML("How does docker networking work?", "Containers on a bridge share a subnet."), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, float64(1), body["total_processed"])
	require.Equal(t, float64(1), body["successful"])
	items := body["conversations"].([]any)
	require.Len(t, items, 1)
	return items[0].(map[string]any)["conversation_id"].(string)
}

func TestRootDescriptor(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "cortexd", body["name"])
	assert.Equal(t, "1.0.0-test", body["version"])
	assert.Equal(t, "/health", body["health"])
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "healthy", deps["database"])
	assert.Equal(t, "healthy", deps["vector_index"])
	assert.Equal(t, "healthy", deps["chat_provider"])
	assert.Equal(t, "healthy", deps["embedding_provider"])
}

func TestHealthDegraded(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.deps.ChatConfigured = false

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "degraded", body["dependencies"].(map[string]any)["chat_provider"])
}

func TestIngestFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	id := ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "Discussed container networking.", list[0]["summary"])

	rec = doJSON(t, srv, http.MethodGet, "/api/chats/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	detail := decodeBody(t, rec)
	msgs := detail["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestIngestRejectsNonHTML(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := uploadFile(t, srv, "/api/ingest", "file", "export.txt", []byte("hello"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_INPUT", errObj["code"])
	assert.Equal(t, "Only HTML files are accepted", errObj["message"])
}

func TestIngestRequiresFile(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := uploadFile(t, srv, "/api/ingest", "wrong_field", "a.html", chatHTML("q", "a"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChatNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/chats/missing-id", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
	assert.Equal(t, "Conversation missing-id not found", errObj["message"])
}

func TestDeleteChat(t *testing.T) {
	srv, _ := newTestServer(t)
	id := ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodDelete, "/api/chats/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Conversation "+id+" deleted successfully", body["message"])

	rec = doJSON(t, srv, http.MethodGet, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	id := ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/search", map[string]any{"query": "docker"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "docker", body["query"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].(map[string]any)["conversation_id"])

	rec = doJSON(t, srv, http.MethodPost, "/api/search", map[string]any{"query": "cooking"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["results"])
}

func TestSearchMinScore(t *testing.T) {
	srv, _ := newTestServer(t)
	id := ingestDockerChat(t, srv)

	// Exact matches survive a min_score of 1.0.
	rec := doJSON(t, srv, http.MethodPost, "/api/search",
		map[string]any{"query": "docker", "min_score": 1.0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decodeBody(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].(map[string]any)["conversation_id"])

	rec = doJSON(t, srv, http.MethodPost, "/api/search",
		map[string]any{"query": "docker", "min_score": 1.5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "min_score must be in [0, 1]",
		decodeBody(t, rec)["error"].(map[string]any)["message"])
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/search", map[string]any{"limit": 5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query is required", decodeBody(t, rec)["error"].(map[string]any)["message"])
}

func TestSearchStats(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/search/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "chat_memory", body["collection_name"])
	assert.Equal(t, float64(1), body["document_count"])
}

func TestVisualization(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/chats/visualization", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_nodes"])
	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 1)
	node := nodes[0].(map[string]any)
	assert.Equal(t, "Unclustered", node["cluster_name"])
	assert.Equal(t, projection.ColorFor(0), node["color"])
	assert.Len(t, node["position"].([]any), 3)
	assert.Len(t, node["start_position"].([]any), 3)
	assert.Equal(t, float64(1), node["magnitude"])

	clusters := body["clusters"].([]any)
	require.Len(t, clusters, 1)
	assert.Equal(t, float64(1), clusters[0].(map[string]any)["count"])
}

func TestReprojectNeedsData(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/ingest/reproject", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "INSUFFICIENT_DATA", errObj["code"])
	assert.Equal(t, "Need at least 2 conversations to perform clustering", errObj["message"])
}

func TestReproject(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestDockerChat(t, srv)
	rec := uploadFile(t, srv, "/api/ingest", "file", "cooking.html",
		chatHTML("Any cooking tips?", "Salt the pasta water."), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/ingest/reproject", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["conversations_processed"])
	assert.GreaterOrEqual(t, body["n_clusters"], float64(1))
}

func TestGeneratePrompt(t *testing.T) {
	srv, _ := newTestServer(t)
	id := ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/prompt/generate",
		map[string]any{"conversation_ids": []string{id}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Contains(t, body["prompt"], "You are an assistant")
	assert.Equal(t, float64(1), body["conversations_used"])
	assert.Contains(t, body, "processing_time_ms")
}

func TestGeneratePromptNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/prompt/generate",
		map[string]any{"conversation_ids": []string{"missing"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "None of the requested conversations were found",
		decodeBody(t, rec)["error"].(map[string]any)["message"])

	rec = doJSON(t, srv, http.MethodPost, "/api/prompt/generate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearCache(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestDockerChat(t, srv)

	rec := doJSON(t, srv, http.MethodDelete, "/api/cache/summaries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "summaries", body["kind"])

	rec = doJSON(t, srv, http.MethodDelete, "/api/cache/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decodeBody(t, rec)["cleared"].(map[string]any)
	assert.Contains(t, cleared, "summaries")
	assert.Contains(t, cleared, "embeddings")
}

func TestMCPEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/mcp",
		map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "2.0", body["jsonrpc"])
	assert.Equal(t, map[string]any{}, body["result"])

	rec = doJSON(t, srv, http.MethodPost, "/mcp",
		map[string]any{"jsonrpc": "2.0", "id": 2, "method": "nope"})
	require.Equal(t, http.StatusOK, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestMCPEndpointParseError(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("not json"))
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, float64(-32603), errObj["code"])
}

func TestSSEPost(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/sse",
		map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echoHeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: "))
	assert.Contains(t, rec.Body.String(), `"jsonrpc":"2.0"`)
}

func TestSSEStreamAnnounces(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get(echoHeaderContentType))
	assert.Contains(t, rec.Body.String(), `"type":"connected"`)
	assert.Contains(t, rec.Body.String(), `"server":"`+mcp.ServerName+`"`)
}
