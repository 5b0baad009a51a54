package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inviteqr/internal/handlers"
)

func registerInviteRoutes(v1 *gin.RouterGroup, handler *handlers.InviteHandler) {
	v1.POST("/generate-qrcode", handler.Generate)
	v1.POST("/read-qrcode", handler.Read)

	invites := v1.Group("/invites")
	{
		invites.GET("", handler.List)
		invites.GET("/:code", handler.Get)
		invites.GET("/:code/scans", handler.Scans)
	}
}
