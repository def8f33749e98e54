package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lojf/paygate/internal/models"
)

// SessionStore keeps the gateway redirect sessions.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *models.PaymentSession) error {
	if sess.Status == "" {
		sess.Status = models.SessionPending
	}
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	var sess models.PaymentSession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SetStatus moves a pending session to status. It reports false if the
// session had already left pending.
func (s *SessionStore) SetStatus(ctx context.Context, sessionID string, status models.SessionStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionPending).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetByRef returns the most recent session for a payment.
func (s *SessionStore) GetByRef(ctx context.Context, ref string) (*models.PaymentSession, error) {
	var sess models.PaymentSession
	err := s.db.WithContext(ctx).Where("payment_ref = ?", ref).Order("id DESC").First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// expireByRefTx closes any pending session for ref, so a rejected payment
// can no longer be captured.
func expireByRefTx(tx *gorm.DB, ref string) error {
	return tx.Model(&models.PaymentSession{}).
		Where("payment_ref = ? AND status = ?", ref, models.SessionPending).
		Update("status", models.SessionExpired).Error
}

// CompleteByRef closes any pending session for ref.
func (s *SessionStore) CompleteByRef(ctx context.Context, ref string) error {
	return s.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("payment_ref = ? AND status = ?", ref, models.SessionPending).
		Update("status", models.SessionCompleted).Error
}

// ListExpired returns pending sessions whose deadline has passed, oldest first.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentSession, error) {
	var out []models.PaymentSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.SessionPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
