package messages

import (
	"net/http"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/plugin/route/httpapi"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts message routes on the given router.
func MountRoutes(r gin.IRouter, svc *chat.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/messages", func(c *gin.Context) {
		listMessages(c, svc)
	})
	g.POST("/messages", func(c *gin.Context) {
		createMessage(c, svc)
	})
	g.GET("/messages/:messageId", func(c *gin.Context) {
		getMessage(c, svc)
	})
}

func listMessages(c *gin.Context, svc *chat.Service) {
	page, ok := httpapi.Page(c)
	if !ok {
		return
	}
	filter, err := httpapi.MessageParams(c).Build()
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	msgs, err := svc.VisibleMessages(c.Request.Context(), security.GetIdentity(c), filter, page)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.ListOf(msgs, httpapi.NewMessage))
}

func createMessage(c *gin.Context, svc *chat.Service) {
	var req struct {
		Conversation string  `json:"conversation"`
		Sender       *string `json:"sender"`
		Body         string  `json:"message_body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "body", err.Error())
		return
	}
	convID, err := uuid.Parse(req.Conversation)
	if err != nil {
		httpapi.BadRequest(c, "conversation", "must be a UUID")
		return
	}
	send := chat.SendRequest{ConversationID: convID, Body: req.Body}
	if req.Sender != nil {
		sender, err := uuid.Parse(*req.Sender)
		if err != nil {
			httpapi.BadRequest(c, "sender", "must be a UUID")
			return
		}
		send.SenderID = &sender
	}

	msg, err := svc.Messages.Send(c.Request.Context(), security.GetIdentity(c), send)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpapi.NewMessage(*msg))
}

func getMessage(c *gin.Context, svc *chat.Service) {
	msgID, ok := httpapi.PathID(c, "messageId")
	if !ok {
		return
	}
	msg, err := svc.GetMessage(c.Request.Context(), security.GetIdentity(c), msgID)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.NewMessage(*msg))
}
