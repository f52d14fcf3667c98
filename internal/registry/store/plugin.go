package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/query"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Scope restricts reads to the conversations a user participates in.
// A nil VisibleTo means unrestricted (privileged) access.
type Scope struct {
	VisibleTo *uuid.UUID
}

// Unrestricted returns a scope that sees every conversation.
func Unrestricted() Scope { return Scope{} }

// VisibleTo returns a scope limited to userID's conversations.
func VisibleTo(userID uuid.UUID) Scope { return Scope{VisibleTo: &userID} }

// NewUser holds the fields for creating a user.
type NewUser struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber *string
	Role        model.Role
	IsSuperuser bool
}

// NewMessage holds the fields for posting a message.
type NewMessage struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Body           string
}

// ConversationQuery selects a window of conversations ordered by (created_at, id).
type ConversationQuery struct {
	Scope  Scope
	Filter query.ConversationFilter
	After  *pagination.Key
	// Limit caps the result size; 0 means no limit.
	Limit int
}

// MessageQuery selects a window of messages ordered by (sent_at, id) in the direction
// given by Filter.Ordering.
type MessageQuery struct {
	Scope  Scope
	Filter query.Filter
	After  *pagination.Key
	// Limit caps the result size; 0 means no limit.
	Limit int
}

// ChatStore is the persistence contract for users, conversations and messages.
//
// Conversations are returned with Participants loaded and messages with Sender loaded.
// Scope is applied by the store before any filter so that results never include
// conversations outside the caller's visibility.
type ChatStore interface {
	// Users
	CreateUser(ctx context.Context, u NewUser) (*model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	// FindUsers returns the users that exist among ids, in no particular order.
	FindUsers(ctx context.Context, ids []uuid.UUID) ([]model.User, error)

	// Conversations
	CreateConversation(ctx context.Context, participantIDs []uuid.UUID) (*model.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	ListConversations(ctx context.Context, q ConversationQuery) ([]model.Conversation, error)
	ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	// DeleteConversation removes the conversation with its messages and participation rows.
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	// Messages
	//
	// CreateMessage verifies, within the same transaction as the insert, that the conversation
	// exists (ValidationError otherwise) and that the sender participates (ForbiddenError otherwise).
	CreateMessage(ctx context.Context, m NewMessage) (*model.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]model.Message, error)
}

// Loader opens a ChatStore using the config carried on ctx.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin is a named datastore selectable with --db-kind.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register makes a datastore selectable; store packages call it from init.
func Register(p Plugin) { plugins = append(plugins, p) }

// Names lists registered datastores in registration order.
func Names() []string {
	return lo.Map(plugins, func(p Plugin, _ int) string { return p.Name })
}

// Select looks up a datastore by name.
func Select(name string) (Loader, error) {
	p, ok := lo.Find(plugins, func(p Plugin) bool { return p.Name == name })
	if !ok {
		return nil, fmt.Errorf("datastore kind %q is not registered (have %v)", name, Names())
	}
	return p.Loader, nil
}

// Normalize validates u and returns it with defaults applied.
func (u NewUser) Normalize() (NewUser, error) {
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return u, &ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if u.FirstName == "" {
		return u, &ValidationError{Field: "first_name", Message: "required"}
	}
	if u.LastName == "" {
		return u, &ValidationError{Field: "last_name", Message: "required"}
	}
	if u.Role == "" {
		u.Role = model.RoleGuest
	}
	if !u.Role.Valid() {
		return u, &ValidationError{Field: "role", Message: "role must be guest, host, or admin"}
	}
	if u.PhoneNumber != nil {
		p := strings.TrimSpace(*u.PhoneNumber)
		if p == "" {
			u.PhoneNumber = nil
		} else {
			u.PhoneNumber = &p
		}
	}
	return u, nil
}

// DuplicateEmail builds the conflict returned when an email is already registered.
func DuplicateEmail(email string) *ConflictError {
	return &ConflictError{
		Message: "a user with this email already exists",
		Code:    "duplicate_email",
		Details: map[string]interface{}{"email": email},
	}
}

// UniqueIDs returns ids without duplicates, preserving first occurrence.
func UniqueIDs(ids []uuid.UUID) []uuid.UUID {
	return lo.Uniq(ids)
}

// MissingIDs returns the ids that are not present in found.
func MissingIDs(ids []uuid.UUID, found []model.User) []string {
	have := lo.SliceToMap(found, func(u model.User) (uuid.UUID, bool) { return u.ID, true })
	missing := lo.Filter(ids, func(id uuid.UUID, _ int) bool { return !have[id] })
	return lo.Map(missing, func(id uuid.UUID, _ int) string { return id.String() })
}

// Now returns the store clock reading used for created_at and sent_at. Values are UTC and
// truncated to microseconds so they round-trip through every backend unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
