// Package gormstore implements ChatStore on top of GORM. The postgres and sqlite plugins
// share it and differ only in how they open the connection and create the schema.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options tune the store for a specific SQL dialect.
type Options struct {
	// LockConversations takes a shared row lock on the conversation while a message is inserted.
	LockConversations bool
	// IsUniqueViolation recognizes driver errors that gorm does not translate.
	IsUniqueViolation func(error) bool
	// LowerFunc names the SQL function used for case-insensitive search. It must fold
	// case like strings.ToLower. Defaults to LOWER.
	LowerFunc string
}

// Store implements ChatStore using GORM.
type Store struct {
	db   *gorm.DB
	opts Options
}

// New wraps db. The schema must already exist.
func New(db *gorm.DB, opts Options) *Store {
	if opts.LowerFunc == "" {
		opts.LowerFunc = "LOWER"
	}
	return &Store{db: db, opts: opts}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) isUnique(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return s.opts.IsUniqueViolation != nil && s.opts.IsUniqueViolation(err)
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, in registrystore.NewUser) (*model.User, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	u := model.User{
		ID:          uuid.New(),
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Role:        in.Role,
		IsSuperuser: in.IsSuperuser,
		CreatedAt:   registrystore.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		if s.isUnique(err) {
			return nil, registrystore.DuplicateEmail(in.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUsers(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	ids = registrystore.UniqueIDs(ids)
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	return users, nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, participantIDs []uuid.UUID) (*model.Conversation, error) {
	ids := registrystore.UniqueIDs(participantIDs)
	if len(ids) == 0 {
		return nil, registrystore.EmptyParticipants()
	}
	conv := model.Conversation{ID: uuid.New(), CreatedAt: registrystore.Now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []model.User
		if err := tx.Where("id IN ?", ids).Find(&users).Error; err != nil {
			return fmt.Errorf("failed to load participants: %w", err)
		}
		if missing := registrystore.MissingIDs(ids, users); len(missing) > 0 {
			return registrystore.UnknownParticipant(missing)
		}
		if err := tx.Omit(clause.Associations).Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		rows := make([]model.ConversationParticipant, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, model.ConversationParticipant{ConversationID: conv.ID, UserID: id})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to add participants: %w", err)
		}
		byID := make(map[uuid.UUID]model.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		for _, id := range ids {
			conv.Participants = append(conv.Participants, byID[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, q registrystore.ConversationQuery) ([]model.Conversation, error) {
	tx := s.db.WithContext(ctx).Model(&model.Conversation{}).Preload("Participants")
	if q.Scope.VisibleTo != nil {
		tx = tx.Where("conversations.id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)", *q.Scope.VisibleTo)
	}
	if term := strings.ToLower(strings.TrimSpace(q.Filter.Search)); term != "" {
		like := likePattern(term)
		tx = tx.Where(`EXISTS (SELECT 1 FROM conversation_participants cp JOIN users u ON u.id = cp.user_id
			WHERE cp.conversation_id = conversations.id AND (`+s.userSearchSQL("u")+`))`, like, like, like, like)
	}
	if q.After != nil {
		tx = tx.Where("(conversations.created_at > ? OR (conversations.created_at = ? AND conversations.id > ?))",
			q.After.At.UTC(), q.After.At.UTC(), q.After.ID)
	}
	tx = tx.Order("conversations.created_at ASC").Order("conversations.id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var convs []model.Conversation
	if err := tx.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *Store) ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	// Every conversation has at least its creator.
	if len(ids) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return ids, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.ConversationParticipant{}).Error; err != nil {
			return fmt.Errorf("failed to delete participants: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Conversation{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
		}
		return nil
	})
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, in registrystore.NewMessage) (*model.Message, error) {
	if strings.TrimSpace(in.Body) == "" {
		return nil, &registrystore.ValidationError{Field: "message_body", Message: "must not be empty"}
	}
	msg := model.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Body,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx
		if s.opts.LockConversations {
			lookup = lookup.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
		}
		var conv model.Conversation
		if err := lookup.Where("id = ?", in.ConversationID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.ValidationError{Field: "conversation", Message: "conversation does not exist"}
			}
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		var n int64
		if err := tx.Model(&model.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", in.ConversationID, in.SenderID).
			Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check participation: %w", err)
		}
		if n == 0 {
			return &registrystore.ForbiddenError{Reason: "sender is not a participant"}
		}
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		msg.ID, msg.SentAt = id, registrystore.Now()
		if err := tx.Omit(clause.Associations).Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		var sender model.User
		if err := tx.Where("id = ?", in.SenderID).First(&sender).Error; err != nil {
			return fmt.Errorf("failed to load sender: %w", err)
		}
		msg.Sender = &sender
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).Preload("Sender").Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, q registrystore.MessageQuery) ([]model.Message, error) {
	f := q.Filter
	tx := s.db.WithContext(ctx).Model(&model.Message{}).
		Select("messages.*").
		Joins("JOIN users AS senders ON senders.id = messages.sender_id").
		Preload("Sender")
	if q.Scope.VisibleTo != nil {
		tx = tx.Where("messages.conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)", *q.Scope.VisibleTo)
	}
	if f.ConversationID != nil {
		tx = tx.Where("messages.conversation_id = ?", *f.ConversationID)
	}
	if f.SenderID != nil {
		tx = tx.Where("messages.sender_id = ?", *f.SenderID)
	}
	if f.StartTime != nil {
		tx = tx.Where("messages.sent_at >= ?", f.StartTime.UTC())
	}
	if f.EndTime != nil {
		tx = tx.Where("messages.sent_at <= ?", f.EndTime.UTC())
	}
	if term := f.SearchTerm(); term != "" {
		like := likePattern(term)
		tx = tx.Where(`(`+s.lowered("messages.message_body")+` OR `+s.userSearchSQL("senders")+`)`,
			like, like, like, like, like)
	}

	dir, cmp := "ASC", ">"
	if f.Ordering.Descending() {
		dir, cmp = "DESC", "<"
	}
	if q.After != nil {
		tx = tx.Where(fmt.Sprintf("(messages.sent_at %[1]s ? OR (messages.sent_at = ? AND messages.id %[1]s ?))", cmp),
			q.After.At.UTC(), q.After.At.UTC(), q.After.ID)
	}
	tx = tx.Order("messages.sent_at " + dir).Order("messages.id " + dir)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var msgs []model.Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// userSearchSQL matches a lowered LIKE pattern against the email, first name, last name and
// full name of the users row aliased as alias. It consumes four arguments.
func (s *Store) userSearchSQL(alias string) string {
	cols := []string{
		alias + ".email",
		alias + ".first_name",
		alias + ".last_name",
		"TRIM(" + alias + ".first_name || ' ' || " + alias + ".last_name)",
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = s.lowered(c)
	}
	return strings.Join(parts, " OR ")
}

// lowered matches the lowered column against one LIKE pattern argument.
func (s *Store) lowered(col string) string {
	return s.opts.LowerFunc + "(" + col + `) LIKE ? ESCAPE '\'`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
