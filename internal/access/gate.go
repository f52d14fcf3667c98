// Package access decides whether an identity may view or mutate a conversation or message.
package access

import (
	"slices"

	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Target is a conversation or a message whose participant set is known.
type Target interface {
	ParticipantsOf() []uuid.UUID
	target()
}

// ConversationTarget guards a conversation.
type ConversationTarget struct {
	ConversationID uuid.UUID
	Participants   []uuid.UUID
}

func (t ConversationTarget) ParticipantsOf() []uuid.UUID { return t.Participants }
func (ConversationTarget) target()                       {}

// MessageTarget guards a message through the participants of its conversation.
type MessageTarget struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	Participants   []uuid.UUID
}

func (t MessageTarget) ParticipantsOf() []uuid.UUID { return t.Participants }
func (MessageTarget) target()                       {}

// CanView reports whether id may read target.
func CanView(id security.Identity, target Target) bool {
	return allowed(id, target)
}

// CanMutate reports whether id may change target. Authorship is not required;
// any participant qualifies.
func CanMutate(id security.Identity, target Target) bool {
	return allowed(id, target)
}

func allowed(id security.Identity, target Target) bool {
	if id.Privileged {
		return true
	}
	if target == nil || id.UserID == uuid.Nil {
		return false
	}
	return slices.Contains(target.ParticipantsOf(), id.UserID)
}
