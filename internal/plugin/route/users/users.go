package users

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/route/httpapi"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts user routes on the given router. Creating users is limited to
// privileged callers.
func MountRoutes(r gin.IRouter, store registrystore.ChatStore, auth gin.HandlerFunc) {
	g := r.Group("/v1/users", auth)

	g.POST("", security.RequirePrivileged(), func(c *gin.Context) {
		createUser(c, store)
	})
	g.GET("/me", func(c *gin.Context) {
		getUser(c, store, security.GetIdentity(c).UserID)
	})
	g.GET("/:userId", func(c *gin.Context) {
		id, ok := httpapi.PathID(c, "userId")
		if !ok {
			return
		}
		getUser(c, store, id)
	})
}

func createUser(c *gin.Context, store registrystore.ChatStore) {
	var req struct {
		FirstName   string  `json:"first_name"`
		LastName    string  `json:"last_name"`
		Email       string  `json:"email"`
		PhoneNumber *string `json:"phone_number"`
		Role        string  `json:"role"`
		IsSuperuser bool    `json:"is_superuser"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.BadRequest(c, "body", err.Error())
		return
	}
	u, err := store.CreateUser(c.Request.Context(), registrystore.NewUser{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Role:        model.Role(req.Role),
		IsSuperuser: req.IsSuperuser,
	})
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	log.Info("User created", "user", u.ID, "role", u.Role, "by", security.GetIdentity(c).UserID)
	c.JSON(http.StatusCreated, httpapi.NewUser(*u))
}

func getUser(c *gin.Context, store registrystore.ChatStore, id uuid.UUID) {
	u, err := store.GetUser(c.Request.Context(), id)
	if err != nil {
		httpapi.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpapi.NewUser(*u))
}
