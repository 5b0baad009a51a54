package models

import "time"

// Invite pairs a unique invite code with caller supplied data and its
// validation state. IsValidated only ever moves from false to true, and
// ValidatedAt is set exactly when IsValidated is true.
type Invite struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	InviteCode  string     `gorm:"size:64;not null;uniqueIndex" json:"invite_code"`
	Data        string     `gorm:"type:text;not null;default:''" json:"data"`
	QRCodePath  *string    `gorm:"size:512" json:"qr_code_path,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	IsValidated bool       `gorm:"not null;default:false;index" json:"is_validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// State reports the lifecycle state name of the invite.
func (i *Invite) State() string {
	if i != nil && i.IsValidated {
		return InviteStateValidated
	}
	return InviteStateCreated
}

const (
	InviteStateCreated   = "created"
	InviteStateValidated = "validated"
)
