package store

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type User struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserName  string `gorm:"not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"` // bcrypt hash
	CreatedAt time.Time
}

type RefreshToken struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"size:36;index"`
	CreatedAt time.Time
}

type Conversation struct {
	ID        string `gorm:"primaryKey;size:36"`
	Title     string `gorm:"not null"`
	UserID    string `gorm:"size:36;index"`
	CreatedAt time.Time

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

type Message struct {
	ID              string  `gorm:"primaryKey;size:36"`
	UserID          string  `gorm:"size:36;index"`
	ParentMessageID *string `gorm:"size:36"`
	ConversationID  string  `gorm:"size:36;index"`
	Status          Status  `gorm:"size:16;not null"`
	Description     string  `gorm:"type:text"`
	Decision        string  `gorm:"type:text"`
	Considerations  datatypes.JSONSlice[string]
	CreatedAt       time.Time

	Responses []AiResponse `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// AiResponse rows form an append-only ledger per message: one row per
// analysis attempt that produced a result, highest version = active.
type AiResponse struct {
	ID                  string `gorm:"primaryKey;size:36"`
	MessageID           string `gorm:"size:36;index"`
	DecisionCategory    string `gorm:"type:text"`
	CognitiveBiases     datatypes.JSONSlice[string]
	MissingAlternatives datatypes.JSONSlice[string]
	Version             int `gorm:"not null"`
	CreatedAt           time.Time
}

// MessageWithResponse pairs a message with its active (highest version)
// response, if any.
type MessageWithResponse struct {
	Message    Message
	AiResponse *AiResponse
}
