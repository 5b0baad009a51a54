package models

import (
	"time"

	"gorm.io/datatypes"
)

// Scan outcomes recorded for every validation request.
const (
	ScanOutcomeNoSymbol         = "no_symbol"
	ScanOutcomeNotFound         = "not_found"
	ScanOutcomeValidated        = "validated"
	ScanOutcomeAlreadyValidated = "already_validated"
)

// ScanLog captures a single validation attempt.
type ScanLog struct {
	ID         uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	InviteID   *uint             `gorm:"index" json:"invite_id,omitempty"`
	InviteCode string            `gorm:"size:64;index" json:"invite_code,omitempty"`
	Outcome    string            `gorm:"size:32;not null;index" json:"outcome"`
	ClientIP   string            `gorm:"size:64" json:"client_ip,omitempty"`
	UserAgent  string            `gorm:"size:512" json:"user_agent,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}
