// Package httpapi holds the JSON shapes and error mapping shared by the /v1 route packages.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/query"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// HandleError writes the JSON error response for err.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var field *query.FieldError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": validation.ErrorCode(), "error": validation.Message, "field": validation.Field})
	case errors.As(err, &field):
		c.JSON(http.StatusBadRequest, gin.H{"code": registrystore.CodeInvalidArgument, "error": field.Err.Error(), "field": field.Field})
	case errors.As(err, &conflict):
		body := gin.H{"code": conflict.Code, "error": conflict.Message}
		if len(conflict.Details) > 0 {
			body["details"] = conflict.Details
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// BadRequest writes a 400 for a malformed request field.
func BadRequest(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": registrystore.CodeInvalidArgument, "error": message, "field": field})
}

// PathID parses the :name path parameter as a UUID.
func PathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		BadRequest(c, name, "must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Page reads page_size and page_token. It writes a 400 and returns false when page_size
// is not an integer; range checks happen in the repository.
func Page(c *gin.Context) (chat.PageRequest, bool) {
	p := chat.PageRequest{Token: c.Query("page_token")}
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, "page_size", "must be an integer")
			return p, false
		}
		p.Size = &n
	}
	return p, true
}

// MessageParams collects the message filter query parameters.
func MessageParams(c *gin.Context) query.Params {
	return query.Params{
		Sender:       c.Query("sender"),
		Conversation: c.Query("conversation"),
		StartDate:    c.Query("start_date"),
		EndDate:      c.Query("end_date"),
		Search:       c.Query("search"),
		Ordering:     c.Query("ordering"),
	}
}

// List is the envelope of every paginated response.
type List[T any] struct {
	Data          []T     `json:"data"`
	NextPageToken *string `json:"next_page_token"`
}

// ListOf converts a page with fn.
func ListOf[S, T any](page pagination.Page[S], fn func(S) T) List[T] {
	return List[T]{
		Data:          lo.Map(page.Items, func(s S, _ int) T { return fn(s) }),
		NextPageToken: page.NextPageToken,
	}
}

// User is the public view of an account.
type User struct {
	ID          uuid.UUID  `json:"user_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	PhoneNumber *string    `json:"phone_number"`
	Role        model.Role `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewUser renders u.
func NewUser(u model.User) User {
	return User{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

// Conversation is the public view of a conversation.
type Conversation struct {
	ID               uuid.UUID `json:"conversation_id"`
	CreatedAt        time.Time `json:"created_at"`
	Participants     []User    `json:"participants"`
	ParticipantCount int       `json:"participant_count"`
}

// NewConversation renders conv.
func NewConversation(conv model.Conversation) Conversation {
	return Conversation{
		ID:               conv.ID,
		CreatedAt:        conv.CreatedAt,
		Participants:     lo.Map(conv.Participants, func(u model.User, _ int) User { return NewUser(u) }),
		ParticipantCount: len(conv.Participants),
	}
}

// Message is the public view of a message.
type Message struct {
	ID             uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation"`
	SenderID       uuid.UUID `json:"sender"`
	SenderName     string    `json:"sender_name"`
	SenderEmail    string    `json:"sender_email"`
	Body           string    `json:"message_body"`
	SentAt         time.Time `json:"sent_at"`
}

// NewMessage renders m.
func NewMessage(m model.Message) Message {
	out := Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		SentAt:         m.SentAt,
	}
	if m.Sender != nil {
		out.SenderName = m.Sender.Name()
		out.SenderEmail = m.Sender.Email
	}
	return out
}
