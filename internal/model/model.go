package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse account type of a user.
type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleHost, RoleAdmin:
		return true
	default:
		return false
	}
}

// User is an account that can participate in conversations.
type User struct {
	ID          uuid.UUID `json:"user_id"                gorm:"primaryKey;type:uuid"`
	FirstName   string    `json:"first_name"             gorm:"not null"`
	LastName    string    `json:"last_name"              gorm:"not null"`
	Email       string    `json:"email"                  gorm:"not null;uniqueIndex"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	Role        Role      `json:"role"                   gorm:"not null;default:guest"`
	IsSuperuser bool      `json:"is_superuser"           gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"             gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Name returns the display name used for searching and rendering.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Conversation groups a fixed set of participants and their messages.
type Conversation struct {
	ID           uuid.UUID `json:"conversation_id" gorm:"primaryKey;type:uuid"`
	CreatedAt    time.Time `json:"created_at"      gorm:"not null"`
	Participants []User    `json:"participants"    gorm:"many2many:conversation_participants;joinForeignKey:ConversationID;joinReferences:UserID"`
}

func (Conversation) TableName() string { return "conversations" }

// ParticipantIDs returns the ids of the loaded participants.
func (c Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// ConversationParticipant is the join row between conversations and users.
type ConversationParticipant struct {
	ConversationID uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID `gorm:"primaryKey;type:uuid;index"`
}

func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message is an immutable entry posted by a participant into a conversation.
type Message struct {
	ID             uuid.UUID `json:"message_id"      gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"not null;type:uuid;index:idx_messages_conversation_sent,priority:1"`
	SenderID       uuid.UUID `json:"sender_id"       gorm:"not null;type:uuid;index"`
	Sender         *User     `json:"-"               gorm:"foreignKey:SenderID"`
	Body           string    `json:"message_body"    gorm:"column:message_body;not null"`
	SentAt         time.Time `json:"sent_at"         gorm:"not null;index:idx_messages_conversation_sent,priority:2"`
}

func (Message) TableName() string { return "messages" }
