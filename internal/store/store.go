// Package store persists conversations, messages, and embeddings behind a
// gorm-backed metadata store. SQLite serves the embedded default; a
// postgres:// DATABASE_URL switches to Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/config"
)

// Store wraps the gorm handle with cortexd's data-access operations.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database selected by cfg and migrates the schema.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		dialector = postgres.Open(cfg.URL)
	} else {
		dialector = sqlite.Open(cfg.URL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Conversation{}, &Message{}, &Embedding{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("database ready", zap.Bool("postgres", cfg.IsPostgres()))
	return &Store{db: db, logger: logger}, nil
}

// CreateConversation inserts a conversation with its messages and embedding
// in one transaction.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation, msgs []Message, emb *Embedding) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		if len(msgs) > 0 {
			if err := tx.Create(&msgs).Error; err != nil {
				return fmt.Errorf("failed to insert messages: %w", err)
			}
		}
		if emb != nil {
			if err := tx.Create(emb).Error; err != nil {
				return fmt.Errorf("failed to insert embedding: %w", err)
			}
		}
		return nil
	})
}

// GetConversation fetches one conversation with its messages in transcript
// order. Returns a NOT_FOUND taxonomy error when the id is unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number ASC")
		}).
		First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns conversations newest-first with the total count.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Conversation{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var convs []Conversation
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, total, nil
}

// ConversationsByIDs fetches the conversations whose ids exist; missing ids
// are silently absent from the result.
func (s *Store) ConversationsByIDs(ctx context.Context, ids []string) ([]Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Preload("Embedding").
		Where("id IN ?", ids).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation removes a conversation with its messages and embedding.
// Returns a NOT_FOUND taxonomy error when the id is unknown.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv Conversation
		if err := tx.First(&conv, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "Conversation %s not found", id)
			}
			return fmt.Errorf("failed to fetch conversation: %w", err)
		}
		// Explicit child deletes: SQLite does not always enforce the FK
		// cascade depending on pragma settings.
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Embedding{}).Error; err != nil {
			return fmt.Errorf("failed to delete embedding: %w", err)
		}
		if err := tx.Delete(&conv).Error; err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// Embeddings returns all stored embeddings in a stable order.
func (s *Store) Embeddings(ctx context.Context) ([]Embedding, error) {
	var embs []Embedding
	err := s.db.WithContext(ctx).
		Order("conversation_id ASC").
		Find(&embs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	return embs, nil
}

// WithEmbeddings returns all conversations with their embeddings preloaded,
// newest-first. Used by the visualization feed.
func (s *Store) WithEmbeddings(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Preload("Embedding").
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// ProjectionUpdate carries one conversation's new 3-D placement and cluster
// assignment out of a projection pass.
type ProjectionUpdate struct {
	ConversationID string
	Position       [3]float64
	Magnitude      float64
	ClusterID      int
	ClusterName    string
}

// ApplyProjection writes a full projection pass back in one transaction.
func (s *Store) ApplyProjection(ctx context.Context, updates []ProjectionUpdate) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			err := tx.Model(&Embedding{}).
				Where("conversation_id = ?", u.ConversationID).
				Updates(map[string]any{
					"end_x":      u.Position[0],
					"end_y":      u.Position[1],
					"end_z":      u.Position[2],
					"magnitude":  u.Magnitude,
					"updated_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to update embedding %s: %w", u.ConversationID, err)
			}

			err = tx.Model(&Conversation{}).
				Where("id = ?", u.ConversationID).
				Updates(map[string]any{
					"cluster_id":   u.ClusterID,
					"cluster_name": u.ClusterName,
					"updated_at":   now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to update conversation %s: %w", u.ConversationID, err)
			}
		}
		return nil
	})
}

// Count returns the number of stored conversations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Conversation{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return total, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}
