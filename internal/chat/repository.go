// Package chat scopes every conversation and message operation to what the caller may see.
package chat

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/query"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Repository reads conversations and messages through the caller's visibility scope.
type Repository struct {
	store  registrystore.ChatStore
	cache  registrycache.ParticipantsCache
	limits pagination.Limits
}

// NewRepository creates a Repository. cache may be nil.
func NewRepository(store registrystore.ChatStore, cache registrycache.ParticipantsCache, limits pagination.Limits) *Repository {
	return &Repository{store: store, cache: cache, limits: limits}
}

// PageRequest is the caller's paging input. A nil Size selects the default page size.
type PageRequest struct {
	Size  *int
	Token string
}

// Scope returns the store scope for id: unrestricted when privileged.
func Scope(id security.Identity) registrystore.Scope {
	if id.Privileged {
		return registrystore.Unrestricted()
	}
	return registrystore.VisibleTo(id.UserID)
}

func (r *Repository) pageSize(p PageRequest) (int, error) {
	size, err := r.limits.Normalize(p.Size)
	if err != nil {
		return 0, &registrystore.ValidationError{Field: "page_size", Message: err.Error()}
	}
	return size, nil
}

// VisibleConversations lists conversations id participates in (all of them when privileged),
// ordered by creation time.
func (r *Repository) VisibleConversations(ctx context.Context, id security.Identity, filter query.ConversationFilter, p PageRequest) (pagination.Page[model.Conversation], error) {
	size, err := r.pageSize(p)
	if err != nil {
		return pagination.Page[model.Conversation]{}, err
	}
	q := registrystore.ConversationQuery{Scope: Scope(id), Filter: filter, Limit: size + 1}
	if p.Token != "" {
		after, err := r.resolveConversationCursor(ctx, id, filter, p.Token)
		if err != nil {
			return pagination.Page[model.Conversation]{}, err
		}
		q.After = after
	}
	rows, err := r.store.ListConversations(ctx, q)
	if err != nil {
		return pagination.Page[model.Conversation]{}, err
	}
	return pagination.Window(rows, size, false, query.ConversationKey), nil
}

func (r *Repository) resolveConversationCursor(ctx context.Context, id security.Identity, filter query.ConversationFilter, token string) (*pagination.Key, error) {
	tok, err := pagination.DecodeFor(token, false)
	if err != nil {
		return nil, registrystore.InvalidCursor("page token is malformed")
	}
	conv, err := r.store.GetConversation(ctx, tok.ID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, registrystore.InvalidCursor("page token references a conversation that no longer exists")
		}
		return nil, err
	}
	target := access.ConversationTarget{ConversationID: conv.ID, Participants: conv.ParticipantIDs()}
	if !conv.CreatedAt.Equal(tok.At) || !access.CanView(id, target) || !filter.Matches(*conv) {
		return nil, registrystore.InvalidCursor("page token does not belong to this result set")
	}
	return &tok.Key, nil
}

// VisibleMessages lists messages from conversations visible to id, narrowed by filter.
func (r *Repository) VisibleMessages(ctx context.Context, id security.Identity, filter query.Filter, p PageRequest) (pagination.Page[model.Message], error) {
	size, err := r.pageSize(p)
	if err != nil {
		return pagination.Page[model.Message]{}, err
	}
	desc := filter.Ordering.Descending()
	q := registrystore.MessageQuery{Scope: Scope(id), Filter: filter, Limit: size + 1}
	if p.Token != "" {
		after, err := r.resolveMessageCursor(ctx, id, filter, p.Token)
		if err != nil {
			return pagination.Page[model.Message]{}, err
		}
		q.After = after
	}
	rows, err := r.store.ListMessages(ctx, q)
	if err != nil {
		return pagination.Page[model.Message]{}, err
	}
	return pagination.Window(rows, size, desc, query.MessageKey), nil
}

func (r *Repository) resolveMessageCursor(ctx context.Context, id security.Identity, filter query.Filter, token string) (*pagination.Key, error) {
	tok, err := pagination.DecodeFor(token, filter.Ordering.Descending())
	if err != nil {
		return nil, registrystore.InvalidCursor("page token is malformed")
	}
	msg, err := r.store.GetMessage(ctx, tok.ID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, registrystore.InvalidCursor("page token references a message that no longer exists")
		}
		return nil, err
	}
	if !msg.SentAt.Equal(tok.At) || !filter.Matches(*msg) {
		return nil, registrystore.InvalidCursor("page token does not belong to this result set")
	}
	participants, err := r.participants(ctx, msg.ConversationID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, registrystore.InvalidCursor("page token references a message that no longer exists")
		}
		return nil, err
	}
	if !access.CanView(id, access.MessageTarget{MessageID: msg.ID, ConversationID: msg.ConversationID, Participants: participants}) {
		return nil, registrystore.InvalidCursor("page token does not belong to this result set")
	}
	return &tok.Key, nil
}

// ConversationMessages lists the messages of one conversation. Callers that cannot view the
// conversation get ForbiddenError rather than an empty page.
func (r *Repository) ConversationMessages(ctx context.Context, id security.Identity, conversationID uuid.UUID, filter query.Filter, p PageRequest) (pagination.Page[model.Message], error) {
	if _, err := r.conversationTarget(ctx, id, conversationID, "list_conversation_messages", access.CanView); err != nil {
		return pagination.Page[model.Message]{}, err
	}
	if filter.ConversationID != nil && *filter.ConversationID != conversationID {
		// Conflicting criteria are ANDed; nothing can match.
		if _, err := r.pageSize(p); err != nil {
			return pagination.Page[model.Message]{}, err
		}
		return pagination.Page[model.Message]{Items: []model.Message{}}, nil
	}
	filter.ConversationID = &conversationID
	return r.VisibleMessages(ctx, id, filter, p)
}

// GetConversation returns a conversation id may view.
func (r *Repository) GetConversation(ctx context.Context, id security.Identity, conversationID uuid.UUID) (*model.Conversation, error) {
	if _, err := r.conversationTarget(ctx, id, conversationID, "get_conversation", access.CanView); err != nil {
		return nil, err
	}
	return r.store.GetConversation(ctx, conversationID)
}

// DeleteConversation removes a conversation id may mutate, along with its messages.
func (r *Repository) DeleteConversation(ctx context.Context, id security.Identity, conversationID uuid.UUID) error {
	if _, err := r.conversationTarget(ctx, id, conversationID, "delete_conversation", access.CanMutate); err != nil {
		return err
	}
	if err := r.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	if r.cache != nil && r.cache.Available() {
		if err := r.cache.Remove(ctx, conversationID); err != nil {
			log.Warn("Failed to evict participants from cache", "conversation", conversationID, "err", err)
		}
	}
	log.Info("Conversation deleted", "conversation", conversationID, "caller", id.UserID)
	return nil
}

// GetMessage returns a message id may view.
func (r *Repository) GetMessage(ctx context.Context, id security.Identity, messageID uuid.UUID) (*model.Message, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, r.hideMissing(id, err, "get_message")
	}
	participants, err := r.participants(ctx, msg.ConversationID)
	if err != nil {
		return nil, r.hideMissing(id, err, "get_message")
	}
	target := access.MessageTarget{MessageID: msg.ID, ConversationID: msg.ConversationID, Participants: participants}
	if !access.CanView(id, target) {
		security.RecordAccessDenied("get_message")
		return nil, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return msg, nil
}

func (r *Repository) conversationTarget(ctx context.Context, id security.Identity, conversationID uuid.UUID, op string, check func(security.Identity, access.Target) bool) (access.ConversationTarget, error) {
	participants, err := r.participants(ctx, conversationID)
	if err != nil {
		return access.ConversationTarget{}, r.hideMissing(id, err, op)
	}
	target := access.ConversationTarget{ConversationID: conversationID, Participants: participants}
	if !check(id, target) {
		security.RecordAccessDenied(op)
		return access.ConversationTarget{}, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return target, nil
}

// hideMissing reports missing objects as forbidden to non-privileged callers so that
// responses do not reveal which ids exist.
func (r *Repository) hideMissing(id security.Identity, err error, op string) error {
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) && !id.Privileged {
		security.RecordAccessDenied(op)
		return &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return err
}

// participants returns the participant ids of a conversation, consulting the cache first.
func (r *Repository) participants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	if r.cache != nil && r.cache.Available() {
		ids, err := r.cache.Get(ctx, conversationID)
		if err != nil {
			log.Warn("Participants cache read failed", "conversation", conversationID, "err", err)
		} else if ids != nil {
			security.RecordCacheLookup(true)
			return ids, nil
		}
		security.RecordCacheLookup(false)
	}
	ids, err := r.store.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, conversationID, ids)
	return ids, nil
}

func (r *Repository) remember(ctx context.Context, conversationID uuid.UUID, ids []uuid.UUID) {
	if r.cache == nil || !r.cache.Available() {
		return
	}
	if err := r.cache.Set(ctx, conversationID, ids, 0); err != nil {
		log.Warn("Participants cache write failed", "conversation", conversationID, "err", err)
	}
}
