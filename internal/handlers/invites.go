package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/internal/qrcodec"
	"github.com/charlesng35/inviteqr/internal/services"
	appErrors "github.com/charlesng35/inviteqr/pkg/errors"
	"github.com/charlesng35/inviteqr/pkg/logger"
	"github.com/charlesng35/inviteqr/pkg/response"
)

const (
	// DefaultMaxUploadBytes bounds validation uploads when no limit is configured.
	DefaultMaxUploadBytes int64 = 10 << 20

	headerInviteCode = "X-Invite-Code"
	headerInviteID   = "X-Invite-ID"

	uploadField = "file"
)

var validationMessages = map[string]string{
	models.ScanOutcomeNoSymbol:         "No QR code found in the image",
	models.ScanOutcomeNotFound:         "Invite not found",
	models.ScanOutcomeValidated:        "QR code read and invite validated",
	models.ScanOutcomeAlreadyValidated: "QR code read, invite was already validated",
}

type InviteHandler struct {
	invites        *services.InviteService
	maxUploadBytes int64
}

func NewInviteHandler(invites *services.InviteService, maxUploadBytes int64) *InviteHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &InviteHandler{
		invites:        invites,
		maxUploadBytes: maxUploadBytes,
	}
}

type generateQRCodeRequest struct {
	Data *string `json:"data" validate:"required,max=4096"`
}

type listInvitesQuery struct {
	Skip  int `form:"skip" validate:"gte=0"`
	Limit int `form:"limit" validate:"gte=1,lte=1000"`
}

type validationResponse struct {
	Outcome     string     `json:"outcome"`
	Success     bool       `json:"success"`
	InviteCode  string     `json:"invite_code,omitempty"`
	Data        *string    `json:"data,omitempty"`
	IsValidated bool       `json:"is_validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	Message     string     `json:"message"`
}

// Generate creates an invite and streams its QR code as PNG.
// POST /api/v1/generate-qrcode
func (h *InviteHandler) Generate(c *gin.Context) {
	var req generateQRCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	created, err := h.invites.Create(requestContext(c), *req.Data)
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	invite := created.Invite
	c.Header(headerInviteCode, invite.InviteCode)
	c.Header(headerInviteID, strconv.FormatUint(uint64(invite.ID), 10))
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=qrcode_%s.png", invite.InviteCode))
	c.Data(http.StatusOK, "image/png", created.Image)
}

// Read decodes an uploaded QR code image and validates the referenced invite.
// POST /api/v1/read-qrcode
func (h *InviteHandler) Read(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile(uploadField)
	if err != nil {
		if isBodyTooLarge(err) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.NewBadRequest("file is required"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		response.Error(c, appErrors.ErrInvalidImage)
		return
	}
	if header.Size > h.maxUploadBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}

	data, err := readUpload(header)
	if err != nil {
		response.Error(c, appErrors.ErrInvalidImage.WithInternal(err))
		return
	}

	result, err := h.invites.Validate(requestContext(c), data, scanContext(c, header))
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	response.Success(c, http.StatusOK, buildValidationResponse(result))
}

// Get returns a single invite by code.
// GET /api/v1/invites/:code
func (h *InviteHandler) Get(c *gin.Context) {
	invite, err := h.invites.GetByCode(requestContext(c), c.Param("code"))
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}
	response.Success(c, http.StatusOK, invite)
}

// List returns invites with offset pagination.
// GET /api/v1/invites
func (h *InviteHandler) List(c *gin.Context) {
	query := listInvitesQuery{Skip: 0, Limit: 100}
	if !bindQueryAndValidate(c, &query) {
		return
	}

	invites, total, err := h.invites.List(requestContext(c), query.Skip, query.Limit)
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, invites, &response.Meta{
		Skip:  query.Skip,
		Limit: query.Limit,
		Total: total,
	})
}

// Scans returns the validation attempts recorded for an invite.
// GET /api/v1/invites/:code/scans
func (h *InviteHandler) Scans(c *gin.Context) {
	scans, err := h.invites.ListScans(requestContext(c), c.Param("code"))
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}
	response.Success(c, http.StatusOK, scans)
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func buildValidationResponse(result *services.ValidationResult) validationResponse {
	resp := validationResponse{
		Outcome:    result.Outcome,
		Success:    result.Success(),
		InviteCode: result.DecodedCode,
		Message:    validationMessages[result.Outcome],
	}
	if invite := result.Invite; invite != nil {
		data := invite.Data
		resp.Data = &data
		resp.IsValidated = invite.IsValidated
		resp.ValidatedAt = invite.ValidatedAt
	}
	return resp
}

func translateInviteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrInviteNotFound):
		return appErrors.ErrInviteNotFound
	case errors.Is(err, services.ErrDuplicateInviteCode):
		logger.WithModule("handlers").Error("duplicate invite code", zap.Error(err))
		return appErrors.ErrDuplicateCode
	case errors.Is(err, qrcodec.ErrCapacityExceeded):
		return appErrors.ErrCapacityExceeded
	default:
		var appErr *appErrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		logger.WithModule("handlers").Error("invite request failed", zap.Error(err))
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}
