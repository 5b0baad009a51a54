package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inviteqr/pkg/response"
)

// Version is reported by the service info endpoint and overridden at build time.
var Version = "dev"

// Health returns a simple status payload used when probes are not configured.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Info describes the service and its entry points.
func Info() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"message": "Invite QR Code API",
			"version": Version,
			"endpoints": gin.H{
				"generate": "POST /api/v1/generate-qrcode",
				"read":     "POST /api/v1/read-qrcode",
				"invite":   "GET /api/v1/invites/:code",
				"invites":  "GET /api/v1/invites",
			},
		})
	}
}
