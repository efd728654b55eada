package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortex.db")
	s, err := Open(config.DatabaseConfig{URL: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *Store, title string, createdAt time.Time) *Conversation {
	t.Helper()
	conv := &Conversation{
		ID:           uuid.NewString(),
		Title:        title,
		Summary:      "summary of " + title,
		Topics:       datatypes.NewJSONSlice([]string{"go", "testing"}),
		ClusterName:  "Unclustered",
		MessageCount: 2,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	msgs := []Message{
		{ID: uuid.NewString(), ConversationID: conv.ID, Role: RoleUser, Content: "hello", SequenceNumber: 0, CreatedAt: createdAt},
		{ID: uuid.NewString(), ConversationID: conv.ID, Role: RoleAssistant, Content: "hi there", SequenceNumber: 1, CreatedAt: createdAt},
	}
	emb := &Embedding{
		ConversationID: conv.ID,
		Vector:         datatypes.NewJSONSlice([]float32{0.1, 0.2, 0.3}),
		Magnitude:      1.0,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv, msgs, emb))
	return conv
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s, "First chat", time.Now().UTC())

	got, err := s.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.Title, got.Title)
	assert.Equal(t, []string{"go", "testing"}, []string(got.Topics))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, 0, got.Messages[0].SequenceNumber)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, 1, got.Messages[1].SequenceNumber)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seedConversation(t, s, "oldest", base)
	seedConversation(t, s, "middle", base.Add(10*time.Minute))
	newest := seedConversation(t, s, "newest", base.Add(20*time.Minute))

	convs, total, err := s.ListConversations(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, convs, 2)
	assert.Equal(t, newest.ID, convs[0].ID)
	assert.Equal(t, "middle", convs[1].Title)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s, "doomed", time.Now().UTC())

	require.NoError(t, s.DeleteConversation(context.Background(), conv.ID))

	_, err := s.GetConversation(context.Background(), conv.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	embs, err := s.Embeddings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, embs)

	err = s.DeleteConversation(context.Background(), conv.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApplyProjection(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s, "projected", time.Now().UTC())

	updates := []ProjectionUpdate{{
		ConversationID: conv.ID,
		Position:       [3]float64{1.5, -2.0, 3.25},
		Magnitude:      4.2,
		ClusterID:      2,
		ClusterName:    "Go & Testing",
	}}
	require.NoError(t, s.ApplyProjection(context.Background(), updates))

	convs, err := s.WithEmbeddings(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].ClusterID)
	assert.Equal(t, "Go & Testing", convs[0].ClusterName)
	require.NotNil(t, convs[0].Embedding)
	assert.InDelta(t, 1.5, convs[0].Embedding.EndX, 1e-9)
	assert.InDelta(t, -2.0, convs[0].Embedding.EndY, 1e-9)
	assert.InDelta(t, 3.25, convs[0].Embedding.EndZ, 1e-9)
	assert.InDelta(t, 4.2, convs[0].Embedding.Magnitude, 1e-9)
}

func TestConversationsByIDs(t *testing.T) {
	s := newTestStore(t)
	a := seedConversation(t, s, "a", time.Now().UTC())
	seedConversation(t, s, "b", time.Now().UTC())

	convs, err := s.ConversationsByIDs(context.Background(), []string{a.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, a.ID, convs[0].ID)

	convs, err = s.ConversationsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, convs)
}
