package store

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles accepted by the normalizer.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is one ingested chat transcript with its derived metadata.
type Conversation struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	Title        string                      `gorm:"size:200;index" json:"title"`
	Summary      string                      `gorm:"type:text" json:"summary"`
	Topics       datatypes.JSONSlice[string] `gorm:"type:json" json:"topics"`
	ClusterID    int                         `gorm:"index" json:"cluster_id"`
	ClusterName  string                      `gorm:"size:100" json:"cluster_name"`
	MessageCount int                         `json:"message_count"`
	CreatedAt    time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`

	Messages  []Message  `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	Embedding *Embedding `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Message is a single turn inside a conversation. SequenceNumber preserves
// the original transcript order.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"size:36;index" json:"conversation_id"`
	Role           string    `gorm:"size:20" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// Embedding stores the dense vector for a conversation together with its
// projected 3-D position. StartX/Y/Z is the animation origin and EndX/Y/Z the
// projected point; Magnitude is the Euclidean norm of the end position.
type Embedding struct {
	ConversationID string                       `gorm:"primaryKey;size:36" json:"conversation_id"`
	Vector         datatypes.JSONSlice[float32] `gorm:"type:json" json:"-"`
	StartX         float64                      `json:"start_x"`
	StartY         float64                      `json:"start_y"`
	StartZ         float64                      `json:"start_z"`
	EndX           float64                      `json:"end_x"`
	EndY           float64                      `json:"end_y"`
	EndZ           float64                      `json:"end_z"`
	Magnitude      float64                      `json:"magnitude"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}
