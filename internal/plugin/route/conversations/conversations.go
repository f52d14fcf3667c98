package conversations

import (
	"net/http"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/plugin/route/httpapi"
	"github.com/chirino/chat-service/internal/query"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts conversation routes on the given router.
// Called after store initialization so the service is available.
func MountRoutes(r gin.IRouter, svc *chat.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, svc)
	})
	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, svc)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, svc)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		deleteConversation(c, svc)
	})
	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listConversationMessages(c, svc)
	})
}

func listConversations(c *gin.Context, svc *chat.Service) {
	page, ok := httpapi.Page(c)
	if !ok {
		return
	}
	filter := query.ConversationFilter{Search: c.Query("search")}
	convs, err := svc.VisibleConversations(c.Request.Context(), security.GetIdentity(c), filter, page)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.ListOf(convs, httpapi.NewConversation))
}

func createConversation(c *gin.Context, svc *chat.Service) {
	var req struct {
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "body", err.Error())
		return
	}
	if len(req.Participants) == 0 {
		httpapi.HandleError(c, registrystore.EmptyParticipants())
		return
	}
	ids := make([]uuid.UUID, 0, len(req.Participants))
	var malformed []string
	for _, raw := range req.Participants {
		id, err := uuid.Parse(raw)
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		ids = append(ids, id)
	}
	if len(malformed) > 0 {
		// A malformed id can never name a user.
		httpapi.HandleError(c, registrystore.UnknownParticipant(malformed))
		return
	}

	conv, err := svc.Conversations.Create(c.Request.Context(), security.GetIdentity(c), ids)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpapi.NewConversation(*conv))
}

func getConversation(c *gin.Context, svc *chat.Service) {
	convID, ok := httpapi.PathID(c, "conversationId")
	if !ok {
		return
	}
	conv, err := svc.GetConversation(c.Request.Context(), security.GetIdentity(c), convID)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.NewConversation(*conv))
}

func deleteConversation(c *gin.Context, svc *chat.Service) {
	convID, ok := httpapi.PathID(c, "conversationId")
	if !ok {
		return
	}
	if err := svc.DeleteConversation(c.Request.Context(), security.GetIdentity(c), convID); err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listConversationMessages(c *gin.Context, svc *chat.Service) {
	convID, ok := httpapi.PathID(c, "conversationId")
	if !ok {
		return
	}
	page, ok := httpapi.Page(c)
	if !ok {
		return
	}
	filter, err := httpapi.MessageParams(c).Build()
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	msgs, err := svc.ConversationMessages(c.Request.Context(), security.GetIdentity(c), convID, filter, page)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.ListOf(msgs, httpapi.NewMessage))
}
