package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) { security.RecordStoreOp(op, start) }

func (m *metricsStore) CreateUser(ctx context.Context, u store.NewUser) (*model.User, error) {
	defer observe("create_user", time.Now())
	return m.inner.CreateUser(ctx, u)
}

func (m *metricsStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, id)
}

func (m *metricsStore) FindUsers(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	defer observe("find_users", time.Now())
	return m.inner.FindUsers(ctx, ids)
}

func (m *metricsStore) CreateConversation(ctx context.Context, participantIDs []uuid.UUID) (*model.Conversation, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, participantIDs)
}

func (m *metricsStore) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, id)
}

func (m *metricsStore) ListConversations(ctx context.Context, q store.ConversationQuery) ([]model.Conversation, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, q)
}

func (m *metricsStore) ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("list_participant_ids", time.Now())
	return m.inner.ListParticipantIDs(ctx, conversationID)
}

func (m *metricsStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	defer observe("delete_conversation", time.Now())
	return m.inner.DeleteConversation(ctx, id)
}

func (m *metricsStore) CreateMessage(ctx context.Context, msg store.NewMessage) (*model.Message, error) {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, msg)
}

func (m *metricsStore) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, id)
}

func (m *metricsStore) ListMessages(ctx context.Context, q store.MessageQuery) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, q)
}
