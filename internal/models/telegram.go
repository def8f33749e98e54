package models

import "time"

// User is a Telegram user seen by the bot. InviteSent implies HasPaid.
// InviteClaimedAt is the delivery lease held while an invite is being sent.
type User struct {
	ID        uint `gorm:"primarykey"`
	UserID    int64 `gorm:"uniqueIndex;not null"`
	Username  string
	FirstName string
	LastName  string

	HasPaid         bool `gorm:"not null;default:false"`
	PaidAt          *time.Time
	InviteSent      bool `gorm:"not null;default:false"`
	InviteSentAt    *time.Time
	InviteClaimedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
