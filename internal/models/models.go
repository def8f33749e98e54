package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSubmitted PaymentStatus = "submitted"
	StatusCompleted PaymentStatus = "completed"
	StatusRejected  PaymentStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

type Settlement string

const (
	SettlementAutomated Settlement = "automated"
	SettlementManual    Settlement = "manual"
)

// Payment is one payment attempt. Amount and Currency are a snapshot of the
// method at creation time. CompletedAt is set iff Status is completed.
type Payment struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	PaymentRef string          `gorm:"uniqueIndex;not null;size:80"`
	UserID     int64           `gorm:"index;not null"`
	Method     string          `gorm:"not null;size:40"`
	Settlement Settlement      `gorm:"not null;size:20"`
	Amount     decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Currency   string          `gorm:"size:3;not null"`
	Status     PaymentStatus   `gorm:"not null;size:20"` // pending | submitted | completed | rejected

	GatewayPaymentID *string `gorm:"index;size:100"`
	PayerID          *string `gorm:"size:100"`
	TransactionHash  *string `gorm:"size:200"`
	ReviewReason     *string
	RejectReason     *string
	ResolvedBy       *int64

	CompletedAt *time.Time
}

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// PaymentSession ties a gateway redirect back to the user and payment that
// started it.
type PaymentSession struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SessionID        string        `gorm:"uniqueIndex;not null;size:36"`
	UserID           int64         `gorm:"index;not null"`
	PaymentRef       string        `gorm:"index;not null;size:80"`
	GatewayPaymentID string        `gorm:"index;size:100"`
	PaymentURL       string        `gorm:"not null"`
	ExpiresAt        time.Time     `gorm:"index;not null"`
	Status           SessionStatus `gorm:"not null;size:20"`
}

// Expired reports whether the session can no longer complete at now.
func (s PaymentSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
