// Package memory is an in-process ChatStore for development and tests. State is lost on exit.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/query"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			log.Warn("Using the in-memory store; data is not persisted")
			return New(), nil
		},
	})
}

type conversation struct {
	id           uuid.UUID
	createdAt    time.Time
	participants []uuid.UUID
}

// Store keeps users, conversations and messages in maps guarded by one lock.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]model.User
	emails        map[string]uuid.UUID
	conversations map[uuid.UUID]*conversation
	messages      map[uuid.UUID]model.Message
	lastStamp     time.Time
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         map[uuid.UUID]model.User{},
		emails:        map[string]uuid.UUID{},
		conversations: map[uuid.UUID]*conversation{},
		messages:      map[uuid.UUID]model.Message{},
		now:           registrystore.Now,
	}
}

// NewWithClock returns an empty Store that reads time from now.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = func() time.Time { return now().UTC().Truncate(time.Microsecond) }
	return s
}

// stamp returns a non-decreasing timestamp. Caller holds the write lock.
func (s *Store) stamp() time.Time {
	t := s.now()
	if t.Before(s.lastStamp) {
		t = s.lastStamp
	}
	s.lastStamp = t
	return t
}

func (s *Store) CreateUser(_ context.Context, in registrystore.NewUser) (*model.User, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.emails[in.Email]; dup {
		return nil, registrystore.DuplicateEmail(in.Email)
	}
	u := model.User{
		ID:          uuid.New(),
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Role:        in.Role,
		IsSuperuser: in.IsSuperuser,
		CreatedAt:   s.stamp(),
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return &u, nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: id.String()}
	}
	return &u, nil
}

func (s *Store) FindUsers(_ context.Context, ids []uuid.UUID) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range registrystore.UniqueIDs(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) CreateConversation(_ context.Context, participantIDs []uuid.UUID) (*model.Conversation, error) {
	ids := registrystore.UniqueIDs(participantIDs)
	if len(ids) == 0 {
		return nil, registrystore.EmptyParticipants()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, registrystore.UnknownParticipant(missing)
	}
	c := &conversation{id: uuid.New(), createdAt: s.stamp(), participants: ids}
	s.conversations[c.id] = c
	out := s.materialize(c)
	return &out, nil
}

// materialize builds the model view of c. Caller holds a lock.
func (s *Store) materialize(c *conversation) model.Conversation {
	out := model.Conversation{ID: c.id, CreatedAt: c.createdAt, Participants: make([]model.User, 0, len(c.participants))}
	for _, id := range c.participants {
		out.Participants = append(out.Participants, s.users[id])
	}
	return out
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
	}
	out := s.materialize(c)
	return &out, nil
}

func (s *Store) ListParticipantIDs(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return slices.Clone(c.participants), nil
}

// visible reports whether scope admits c. Caller holds a lock.
func visible(scope registrystore.Scope, c *conversation) bool {
	return scope.VisibleTo == nil || slices.Contains(c.participants, *scope.VisibleTo)
}

func (s *Store) ListConversations(_ context.Context, q registrystore.ConversationQuery) ([]model.Conversation, error) {
	s.mu.RLock()
	all := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if visible(q.Scope, c) {
			all = append(all, s.materialize(c))
		}
	}
	s.mu.RUnlock()

	out := q.Filter.Apply(all)
	query.SortConversations(out)
	if q.After != nil {
		out = pagination.Seek(out, *q.After, false, query.ConversationKey)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) DeleteConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
	}
	delete(s.conversations, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *Store) CreateMessage(_ context.Context, in registrystore.NewMessage) (*model.Message, error) {
	if strings.TrimSpace(in.Body) == "" {
		return nil, &registrystore.ValidationError{Field: "message_body", Message: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[in.ConversationID]
	if !ok {
		return nil, &registrystore.ValidationError{Field: "conversation", Message: "conversation does not exist"}
	}
	if !slices.Contains(c.participants, in.SenderID) {
		return nil, &registrystore.ForbiddenError{Reason: "sender is not a participant"}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	m := model.Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Body,
		SentAt:         s.stamp(),
	}
	s.messages[m.ID] = m
	return s.withSender(m), nil
}

// withSender returns a copy of m with Sender populated. Caller holds a lock.
func (s *Store) withSender(m model.Message) *model.Message {
	if u, ok := s.users[m.SenderID]; ok {
		m.Sender = &u
	}
	return &m
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return s.withSender(m), nil
}

func (s *Store) ListMessages(_ context.Context, q registrystore.MessageQuery) ([]model.Message, error) {
	s.mu.RLock()
	all := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		c, ok := s.conversations[m.ConversationID]
		if !ok || !visible(q.Scope, c) {
			continue
		}
		all = append(all, *s.withSender(m))
	}
	s.mu.RUnlock()

	out := q.Filter.Apply(all)
	q.Filter.Ordering.Sort(out)
	if q.After != nil {
		out = pagination.Seek(out, *q.After, q.Filter.Ordering.Descending(), query.MessageKey)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
