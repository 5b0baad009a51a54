package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inviteqr/internal/cache"
	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/pkg/logger"
	"github.com/charlesng35/inviteqr/pkg/metrics"
)

const (
	tracerName = "github.com/charlesng35/inviteqr/internal/services"

	defaultInviteListLimit = 100
	maxInviteListLimit     = 1000
	defaultScanHistory     = 100
)

// QRCodec renders and reads invite codes.
type QRCodec interface {
	Encode(content string) ([]byte, error)
	Decode(data []byte) (string, bool)
}

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInviteCache enables read-through caching of invite lookups.
func WithInviteCache(c *cache.InviteCache) InviteOption {
	return func(s *InviteService) {
		s.cache = c
	}
}

// WithImageArchive persists every rendered image and records its path on the invite.
func WithImageArchive(archive ImageArchive) InviteOption {
	return func(s *InviteService) {
		s.archive = archive
	}
}

// WithScanLog records every validation attempt.
func WithScanLog(scans *ScanLogService) InviteOption {
	return func(s *InviteService) {
		s.scans = scans
	}
}

// WithInviteTracer overrides the tracer, defaulting to the global provider.
func WithInviteTracer(tracer trace.Tracer) InviteOption {
	return func(s *InviteService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// InviteService issues invites as QR codes and validates scanned images.
type InviteService struct {
	db      *gorm.DB
	codec   QRCodec
	cache   *cache.InviteCache
	archive ImageArchive
	scans   *ScanLogService
	tracer  trace.Tracer
	now     func() time.Time
}

// CreatedInvite is the stored invite together with its rendered PNG.
type CreatedInvite struct {
	Invite *models.Invite
	Image  []byte
}

// ScanContext describes the request that submitted an image for validation.
type ScanContext struct {
	ClientIP    string
	UserAgent   string
	Filename    string
	ContentType string
}

// ValidationResult reports what a validation request observed.
type ValidationResult struct {
	Outcome     string
	DecodedCode string
	Invite      *models.Invite
}

// Success reports whether the image referenced a stored invite.
func (r *ValidationResult) Success() bool {
	return r != nil && (r.Outcome == models.ScanOutcomeValidated || r.Outcome == models.ScanOutcomeAlreadyValidated)
}

// InviteCounts summarises stored invites by state.
type InviteCounts struct {
	Created   int64
	Validated int64
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, codec QRCodec, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if codec == nil {
		return nil, errors.New("invite service: codec is required")
	}

	service := &InviteService{
		db:     db,
		codec:  codec,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Create generates a fresh invite code, renders it and persists the invite.
// When an archive is configured a failed upload rolls the insert back.
func (s *InviteService) Create(ctx context.Context, data string) (*CreatedInvite, error) {
	ctx, span := s.tracer.Start(ensureContext(ctx), "InviteService.Create")
	defer span.End()

	code := GenerateUniqueCode()

	started := time.Now()
	image, err := s.codec.Encode(code)
	metrics.QRCodeEncode.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("invite service: encode qr code: %w", err))
	}

	invite := &models.Invite{
		InviteCode: code,
		Data:       data,
		CreatedAt:  s.now().UTC(),
	}

	var archived string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invite).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicateInviteCode
			}
			return fmt.Errorf("invite service: create invite: %w", err)
		}

		if s.archive == nil {
			return nil
		}

		path, err := s.archive.Store(ctx, code, invite.CreatedAt, image)
		if err != nil {
			return fmt.Errorf("invite service: archive image: %w", err)
		}
		archived = path

		if err := tx.Model(invite).Update("qr_code_path", path).Error; err != nil {
			return fmt.Errorf("invite service: record image path: %w", err)
		}
		invite.QRCodePath = &path
		return nil
	})
	if err != nil {
		if archived != "" {
			if delErr := s.archive.Delete(context.WithoutCancel(ctx), archived); delErr != nil {
				logger.WithModule("services").Warn("remove orphaned qr code image",
					zap.String("path", archived),
					zap.Error(delErr),
				)
			}
		}
		return nil, failSpan(span, err)
	}

	metrics.InvitesCreated.Inc()
	s.cache.Set(ctx, invite)

	span.SetAttributes(
		attribute.Int64("invite.id", int64(invite.ID)),
		attribute.Int("qrcode.bytes", len(image)),
	)

	return &CreatedInvite{Invite: invite, Image: image}, nil
}

// Validate decodes image and marks the referenced invite as validated.
// Validating an invite that is already validated succeeds without touching
// its timestamp. Only storage failures are returned as errors.
func (s *InviteService) Validate(ctx context.Context, image []byte, scan ScanContext) (*ValidationResult, error) {
	ctx, span := s.tracer.Start(ensureContext(ctx), "InviteService.Validate")
	defer span.End()

	started := time.Now()
	code, found := s.codec.Decode(image)
	metrics.QRCodeDecode.Observe(time.Since(started).Seconds())

	result := &ValidationResult{Outcome: models.ScanOutcomeNoSymbol}
	if found {
		invite, outcome, err := s.transition(ctx, code)
		if err != nil {
			return nil, failSpan(span, err)
		}
		result.DecodedCode = code
		result.Outcome = outcome
		result.Invite = invite
	}

	span.SetAttributes(attribute.String("validation.outcome", result.Outcome))
	metrics.Validations.WithLabelValues(result.Outcome).Inc()
	s.recordScan(ctx, result, scan, len(image))

	return result, nil
}

// transition flips the invite to validated with a conditional update so two
// concurrent requests cannot both observe the first validation.
func (s *InviteService) transition(ctx context.Context, code string) (*models.Invite, string, error) {
	var (
		invite  models.Invite
		outcome string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invite_code = ?", code).Take(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = models.ScanOutcomeNotFound
				return nil
			}
			return fmt.Errorf("invite service: find invite: %w", err)
		}

		if invite.IsValidated {
			outcome = models.ScanOutcomeAlreadyValidated
			return nil
		}

		result := tx.Model(&models.Invite{}).
			Where("id = ? AND is_validated = ?", invite.ID, false).
			Updates(map[string]any{
				"is_validated": true,
				"validated_at": s.now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("invite service: mark validated: %w", result.Error)
		}

		outcome = models.ScanOutcomeAlreadyValidated
		if result.RowsAffected == 1 {
			outcome = models.ScanOutcomeValidated
		}

		var reloaded models.Invite
		if err := tx.Take(&reloaded, "id = ?", invite.ID).Error; err != nil {
			return fmt.Errorf("invite service: reload invite: %w", err)
		}
		invite = reloaded
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	if outcome == models.ScanOutcomeNotFound {
		return nil, outcome, nil
	}
	// validated is terminal, so the reloaded row is safe to cache whatever
	// order concurrent readers finish in
	s.cache.Set(ctx, &invite)
	if outcome == models.ScanOutcomeValidated {
		logger.WithModule("services").Info("invite validated",
			zap.Uint("invite_id", invite.ID),
			zap.String("invite_code", invite.InviteCode),
		)
	}
	return &invite, outcome, nil
}

// GetByCode loads a single invite by its code.
func (s *InviteService) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	ctx = ensureContext(ctx)

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInviteNotFound
	}

	if cached, ok := s.cache.Get(ctx, code); ok {
		return cached, nil
	}

	var invite models.Invite
	if err := s.db.WithContext(ctx).Where("invite_code = ?", code).Take(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("invite service: get invite: %w", err)
	}

	// an unvalidated row read here can race a transition and overwrite its
	// cache entry, so only the terminal state is cached on reads
	if invite.IsValidated {
		s.cache.Set(ctx, &invite)
	}
	return &invite, nil
}

// List returns invites ordered by id with offset pagination, plus the total count.
func (s *InviteService) List(ctx context.Context, skip, limit int) ([]models.Invite, int64, error) {
	ctx = ensureContext(ctx)

	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultInviteListLimit
	}
	if limit > maxInviteListLimit {
		limit = maxInviteListLimit
	}

	var (
		invites []models.Invite
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.Invite{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("invite service: count invites: %w", err)
	}

	if err := query.
		Order("id ASC").
		Offset(skip).
		Limit(limit).
		Find(&invites).Error; err != nil {
		return nil, 0, fmt.Errorf("invite service: list invites: %w", err)
	}

	return invites, total, nil
}

// ListScans returns the recorded validation attempts for an invite, newest first.
func (s *InviteService) ListScans(ctx context.Context, code string) ([]models.ScanLog, error) {
	invite, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.scans == nil {
		return []models.ScanLog{}, nil
	}
	return s.scans.ListForInvite(ctx, invite.ID, defaultScanHistory)
}

// CountByState reports how many invites are waiting and how many are validated.
func (s *InviteService) CountByState(ctx context.Context) (InviteCounts, error) {
	ctx = ensureContext(ctx)

	var counts InviteCounts
	if err := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("is_validated = ?", false).
		Count(&counts.Created).Error; err != nil {
		return InviteCounts{}, fmt.Errorf("invite service: count created: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("is_validated = ?", true).
		Count(&counts.Validated).Error; err != nil {
		return InviteCounts{}, fmt.Errorf("invite service: count validated: %w", err)
	}
	return counts, nil
}

func (s *InviteService) recordScan(ctx context.Context, result *ValidationResult, scan ScanContext, size int) {
	if s.scans == nil {
		return
	}

	entry := ScanEntry{
		InviteCode: result.DecodedCode,
		Outcome:    result.Outcome,
		ClientIP:   scan.ClientIP,
		UserAgent:  scan.UserAgent,
		Metadata: map[string]any{
			"filename":     scan.Filename,
			"content_type": scan.ContentType,
			"size":         size,
		},
	}
	if result.Invite != nil {
		id := result.Invite.ID
		entry.InviteID = &id
	}

	if err := s.scans.Record(ctx, entry); err != nil {
		logger.WithModule("services").Warn("record scan",
			zap.String("outcome", result.Outcome),
			zap.Error(err),
		)
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
