package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ConversationFactory creates conversations that always include their creator.
type ConversationFactory struct {
	store registrystore.ChatStore
	repo  *Repository
}

// NewConversationFactory creates a ConversationFactory. repo is used to seed the participants cache.
func NewConversationFactory(store registrystore.ChatStore, repo *Repository) *ConversationFactory {
	return &ConversationFactory{store: store, repo: repo}
}

// Create persists a conversation among participantIDs and the caller. Every id, including
// the caller's, must resolve to an existing user.
func (f *ConversationFactory) Create(ctx context.Context, id security.Identity, participantIDs []uuid.UUID) (*model.Conversation, error) {
	ids := lo.Uniq(append(slices.Clone(participantIDs), id.UserID))
	ids = lo.Without(ids, uuid.Nil)
	if len(ids) == 0 {
		return nil, registrystore.EmptyParticipants()
	}

	found, err := f.store.FindUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if missing := registrystore.MissingIDs(ids, found); len(missing) > 0 {
		return nil, registrystore.UnknownParticipant(missing)
	}

	conv, err := f.store.CreateConversation(ctx, ids)
	if err != nil {
		return nil, err
	}
	if f.repo != nil {
		f.repo.remember(ctx, conv.ID, conv.ParticipantIDs())
	}
	log.Info("Conversation created", "conversation", conv.ID, "creator", id.UserID, "participants", len(ids))
	return conv, nil
}

// SendRequest is the input for posting a message. A nil SenderID means the caller.
type SendRequest struct {
	ConversationID uuid.UUID
	SenderID       *uuid.UUID
	Body           string
}

// MessageSender posts messages on behalf of the caller.
type MessageSender struct {
	store     registrystore.ChatStore
	maxLength int
}

// NewMessageSender creates a MessageSender. maxLength <= 0 disables the length check.
func NewMessageSender(store registrystore.ChatStore, maxLength int) *MessageSender {
	return &MessageSender{store: store, maxLength: maxLength}
}

// Send stores a message. The sender must be the caller and must participate in the
// conversation at write time; privileged callers are held to the same rule.
func (s *MessageSender) Send(ctx context.Context, id security.Identity, req SendRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, &registrystore.ValidationError{Field: "message_body", Message: "must not be empty"}
	}
	if s.maxLength > 0 && utf8.RuneCountInString(req.Body) > s.maxLength {
		return nil, &registrystore.ValidationError{Field: "message_body", Message: "is too long"}
	}
	if req.ConversationID == uuid.Nil {
		return nil, &registrystore.ValidationError{Field: "conversation", Message: "required"}
	}
	sender := id.UserID
	if req.SenderID != nil && *req.SenderID != id.UserID {
		security.RecordAccessDenied("send_message")
		return nil, &registrystore.ForbiddenError{Reason: "sender must be the authenticated user"}
	}

	msg, err := s.store.CreateMessage(ctx, registrystore.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       sender,
		Body:           req.Body,
	})
	if err != nil {
		if errors.As(err, new(*registrystore.ForbiddenError)) {
			security.RecordAccessDenied("send_message")
		}
		return nil, err
	}
	return msg, nil
}
