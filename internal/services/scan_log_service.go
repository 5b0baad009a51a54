package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/inviteqr/internal/models"
)

const (
	defaultScanListLimit = 100
	maxScanListLimit     = 1000
)

// ScanEntry captures a single validation attempt to persist.
type ScanEntry struct {
	InviteID   *uint
	InviteCode string
	Outcome    string
	ClientIP   string
	UserAgent  string
	Metadata   map[string]any
}

// ScanLogService persists and retrieves scan log entries.
type ScanLogService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewScanLogService constructs a ScanLogService using the provided database handle.
func NewScanLogService(db *gorm.DB) (*ScanLogService, error) {
	if db == nil {
		return nil, errors.New("scan log service: db is required")
	}
	return &ScanLogService{db: db, now: time.Now}, nil
}

// Record stores a scan entry.
func (s *ScanLogService) Record(ctx context.Context, entry ScanEntry) error {
	ctx = ensureContext(ctx)

	outcome := strings.TrimSpace(entry.Outcome)
	if outcome == "" {
		return errors.New("scan log service: outcome is required")
	}

	log := models.ScanLog{
		InviteID:   entry.InviteID,
		InviteCode: strings.TrimSpace(entry.InviteCode),
		Outcome:    outcome,
		ClientIP:   strings.TrimSpace(entry.ClientIP),
		UserAgent:  truncate(strings.TrimSpace(entry.UserAgent), 512),
	}
	if len(entry.Metadata) > 0 {
		log.Metadata = datatypes.JSONMap(entry.Metadata)
	}

	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		return fmt.Errorf("scan log service: record: %w", err)
	}
	return nil
}

// ListForInvite returns the newest scans for an invite first.
func (s *ScanLogService) ListForInvite(ctx context.Context, inviteID uint, limit int) ([]models.ScanLog, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		limit = defaultScanListLimit
	}
	if limit > maxScanListLimit {
		limit = maxScanListLimit
	}

	var logs []models.ScanLog
	if err := s.db.WithContext(ctx).
		Where("invite_id = ?", inviteID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("scan log service: list: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan removes scan logs older than the supplied retention window (in days).
func (s *ScanLogService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("scan log service: retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ScanLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("scan log service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	for max > 0 && !utf8.RuneStart(value[max]) {
		max--
	}
	return value[:max]
}
