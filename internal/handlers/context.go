package handlers

import (
	"context"
	"mime/multipart"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inviteqr/internal/services"
)

// requestContext returns the request context, or Background when a handler
// runs without an http.Request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// scanContext describes the upload that is being validated for the scan log.
func scanContext(c *gin.Context, upload *multipart.FileHeader) services.ScanContext {
	scan := services.ScanContext{}
	if c != nil && c.Request != nil {
		scan.ClientIP = c.ClientIP()
		scan.UserAgent = strings.TrimSpace(c.Request.UserAgent())
	}
	if upload != nil {
		scan.Filename = upload.Filename
		scan.ContentType = upload.Header.Get("Content-Type")
	}
	return scan
}
