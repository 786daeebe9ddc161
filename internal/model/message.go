package model

import "time"

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAI
}

// Message is one turn in a conversation. Order is CreatedAt, then ID.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OwnerID        uint      `gorm:"not null;index" json:"owner_id"`
	ConversationID string    `gorm:"size:36;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Role           Role      `gorm:"size:16;not null" json:"role"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
