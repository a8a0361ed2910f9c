package chat

import (
	"errors"
	"time"
)

// SystemPrompt is the synthesized first message of every chat.
const SystemPrompt = "You are a helpful AI assistant specialized in helping developers build projects. Provide clear, practical solutions with code examples when relevant."

// Message roles — closed enumeration.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrUnknownRole = errors.New("unknown message role")

func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// UserIdentifier is the caller-supplied identity; at least one field
// must be set. Users are created lazily on first use.
type UserIdentifier struct {
	WalletAddress string `json:"walletAddress"`
	Email         string `json:"email"`
}

func (u UserIdentifier) Empty() bool {
	return u.WalletAddress == "" && u.Email == ""
}

// InitialMessage optionally seeds a new chat right after the system
// message.
type InitialMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type User struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	WalletAddress *string   `gorm:"type:varchar(64);uniqueIndex" json:"walletAddress,omitempty"`
	Email         *string   `gorm:"type:varchar(255);uniqueIndex" json:"email,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (User) TableName() string { return "users" }

type Chat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID    string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Model     string    `gorm:"type:varchar(64);not null" json:"model"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `gorm:"foreignKey:ChatID;references:ChatID" json:"messages"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID         string    `gorm:"type:varchar(26);not null;index;index:uniq_chat_msg_idempo,unique,priority:1" json:"-"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IdempotencyKey *string   `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:2" json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }
