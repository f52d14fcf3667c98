package chat

import (
	"github.com/chirino/chat-service/internal/pagination"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
)

// Service bundles the scoped read side with the two write paths.
type Service struct {
	*Repository
	Conversations *ConversationFactory
	Messages      *MessageSender
	Users         registrystore.ChatStore
}

// Options tune a Service.
type Options struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxMessageLength int
}

// NewService wires a Service over store. cache may be nil.
func NewService(store registrystore.ChatStore, cache registrycache.ParticipantsCache, opts Options) *Service {
	limits := pagination.DefaultLimits
	if opts.DefaultPageSize > 0 {
		limits.Default = opts.DefaultPageSize
	}
	if opts.MaxPageSize > 0 {
		limits.Max = opts.MaxPageSize
	}
	repo := NewRepository(store, cache, limits)
	return &Service{
		Repository:    repo,
		Conversations: NewConversationFactory(store, repo),
		Messages:      NewMessageSender(store, opts.MaxMessageLength),
		Users:         store,
	}
}
