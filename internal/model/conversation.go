package model

import "time"

// Conversation is one chat session bound to one ingested blog post. Its ID is
// also the vector namespace key.
type Conversation struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID       uint      `gorm:"not null;index" json:"owner_id"`
	SourceURL     string    `gorm:"size:1024;not null" json:"source_url"`
	Title         string    `gorm:"size:512;not null" json:"title"`
	Subtitle      string    `gorm:"size:512" json:"subtitle,omitempty"`
	PublishDate   time.Time `gorm:"not null" json:"publish_date"`
	Markdown      string    `gorm:"type:longtext;not null" json:"markdown"`
	CoverImageURL string    `gorm:"size:1024" json:"cover_image_url,omitempty"`
	Tags          []string  `gorm:"serializer:json;type:text" json:"tags,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
