// Package query holds the caller-supplied message and conversation filters.
package query

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/google/uuid"
)

// Ordering is the sort direction over sent_at.
type Ordering string

const (
	OrderSentAsc  Ordering = "sent_at"
	OrderSentDesc Ordering = "-sent_at"
)

// ParseOrdering accepts "", "sent_at" and "-sent_at".
func ParseOrdering(raw string) (Ordering, error) {
	switch Ordering(strings.TrimSpace(raw)) {
	case "", OrderSentAsc:
		return OrderSentAsc, nil
	case OrderSentDesc:
		return OrderSentDesc, nil
	default:
		return "", fmt.Errorf("unsupported ordering %q", raw)
	}
}

// Descending reports whether o sorts newest first.
func (o Ordering) Descending() bool { return o == OrderSentDesc }

// Filter narrows a set of messages. Unset criteria match everything and set
// criteria are ANDed.
type Filter struct {
	SenderID       *uuid.UUID
	ConversationID *uuid.UUID
	// StartTime and EndTime are inclusive.
	StartTime *time.Time
	EndTime   *time.Time
	// Search is a case-insensitive substring over the body, sender email and sender name.
	Search   string
	Ordering Ordering
}

// Empty reports whether f has no narrowing criteria.
func (f Filter) Empty() bool {
	return f.SenderID == nil && f.ConversationID == nil && f.StartTime == nil && f.EndTime == nil &&
		strings.TrimSpace(f.Search) == ""
}

// SearchTerm returns the lower-cased trimmed search text.
func (f Filter) SearchTerm() string {
	return strings.ToLower(strings.TrimSpace(f.Search))
}

// Matches evaluates f against a single message. Sender must be loaded for
// search to consider the sender's email and name.
func (f Filter) Matches(m model.Message) bool {
	if f.SenderID != nil && m.SenderID != *f.SenderID {
		return false
	}
	if f.ConversationID != nil && m.ConversationID != *f.ConversationID {
		return false
	}
	if f.StartTime != nil && m.SentAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && m.SentAt.After(*f.EndTime) {
		return false
	}
	if term := f.SearchTerm(); term != "" {
		return matchesSearch(m, term)
	}
	return true
}

func matchesSearch(m model.Message, term string) bool {
	if strings.Contains(strings.ToLower(m.Body), term) {
		return true
	}
	if m.Sender == nil {
		return false
	}
	return userMatches(*m.Sender, term)
}

func userMatches(u model.User, term string) bool {
	for _, field := range []string{u.Email, u.FirstName, u.LastName, u.Name()} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// Apply returns the messages that match f, preserving input order.
func (f Filter) Apply(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// Sort orders messages in place by sent_at with the id as tie-break.
func (o Ordering) Sort(messages []model.Message) {
	slices.SortStableFunc(messages, func(a, b model.Message) int {
		ka, kb := MessageKey(a), MessageKey(b)
		c := 0
		switch {
		case ka.Less(kb):
			c = -1
		case kb.Less(ka):
			c = 1
		}
		if o.Descending() {
			return -c
		}
		return c
	})
}

// MessageKey is the keyset position of m.
func MessageKey(m model.Message) pagination.Key {
	return pagination.Key{At: m.SentAt, ID: m.ID}
}

// ConversationKey is the keyset position of c.
func ConversationKey(c model.Conversation) pagination.Key {
	return pagination.Key{At: c.CreatedAt, ID: c.ID}
}

// ConversationFilter narrows conversations by participant email or name.
type ConversationFilter struct {
	Search string
}

// Matches reports whether any participant of c matches the search text.
func (f ConversationFilter) Matches(c model.Conversation) bool {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	for _, p := range c.Participants {
		if userMatches(p, term) {
			return true
		}
	}
	return false
}

// Apply returns the conversations that match f, preserving input order.
func (f ConversationFilter) Apply(conversations []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// SortConversations orders conversations by creation time with the id as tie-break.
func SortConversations(conversations []model.Conversation) {
	slices.SortStableFunc(conversations, func(a, b model.Conversation) int {
		ka, kb := ConversationKey(a), ConversationKey(b)
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		}
		return 0
	})
}
