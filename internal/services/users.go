package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lojf/paygate/internal/models"
)

// UserProfile is the display data the transport knows about a user.
type UserProfile struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// AccessLedger records who has paid and who has received the invite.
type AccessLedger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewAccessLedger(db *gorm.DB, log *zap.Logger) *AccessLedger {
	return &AccessLedger{db: db, log: log.Named("access"), now: utcNow}
}

// Upsert creates the user or refreshes display fields. Access flags are
// never touched here.
func (a *AccessLedger) Upsert(ctx context.Context, p UserProfile) error {
	u := models.User{
		UserID:    p.UserID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
	return a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_name", "updated_at"}),
	}).Create(&u).Error
}

func (a *AccessLedger) Get(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := a.db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// HasPaid is false for unknown users.
func (a *AccessLedger) HasPaid(ctx context.Context, userID int64) (bool, error) {
	u, err := a.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.HasPaid, nil
}

func (a *AccessLedger) HasInvite(ctx context.Context, userID int64) (bool, error) {
	u, err := a.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.InviteSent, nil
}

func (a *AccessLedger) MarkPaid(ctx context.Context, userID int64) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return a.MarkPaidTx(tx, userID)
	})
}

// MarkPaidTx grants access inside an existing transaction. It is a no-op for
// users who already paid, and creates the user row when missing.
func (a *AccessLedger) MarkPaidTx(tx *gorm.DB, userID int64) error {
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.User{UserID: userID}).Error; err != nil {
		return err
	}
	now := a.now()
	return tx.Model(&models.User{}).
		Where("user_id = ? AND has_paid = ?", userID, false).
		Updates(map[string]any{"has_paid": true, "paid_at": now, "updated_at": now}).Error
}

// ClaimInvite takes the delivery lease. Exactly one caller gets true for a
// paid user who has no invite yet.
func (a *AccessLedger) ClaimInvite(ctx context.Context, userID int64) (bool, error) {
	res := a.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ? AND has_paid = ? AND invite_sent = ? AND invite_claimed_at IS NULL",
			userID, true, false).
		Update("invite_claimed_at", a.now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseInvite drops the lease after a failed send so delivery can be retried.
func (a *AccessLedger) ReleaseInvite(ctx context.Context, userID int64) error {
	return a.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ? AND invite_sent = ?", userID, false).
		Update("invite_claimed_at", nil).Error
}

// MarkInviteSent records delivery. Repeating it is a no-op; it refuses users
// who have not paid.
func (a *AccessLedger) MarkInviteSent(ctx context.Context, userID int64) error {
	now := a.now()
	res := a.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ? AND has_paid = ? AND invite_sent = ?", userID, true, false).
		Updates(map[string]any{
			"invite_sent":       true,
			"invite_sent_at":    now,
			"invite_claimed_at": nil,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	u, err := a.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasPaid {
		return ErrNotPaid
	}
	return nil
}

// Stats summarises the user base and completed revenue.
type Stats struct {
	TotalUsers      int64
	PaidUsers       int64
	InvitedUsers    int64
	PendingPayments int64
	Revenue         map[string]decimal.Decimal
}

func (a *AccessLedger) Stats(ctx context.Context) (*Stats, error) {
	db := a.db.WithContext(ctx)
	s := &Stats{Revenue: make(map[string]decimal.Decimal)}

	if err := db.Model(&models.User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).Where("has_paid = ?", true).Count(&s.PaidUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).Where("invite_sent = ?", true).Count(&s.InvitedUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Payment{}).
		Where("status IN ?", []models.PaymentStatus{models.StatusPending, models.StatusSubmitted}).
		Count(&s.PendingPayments).Error; err != nil {
		return nil, err
	}

	var rows []models.Payment
	if err := db.Model(&models.Payment{}).
		Select("currency, amount").
		Where("status = ?", models.StatusCompleted).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		s.Revenue[r.Currency] = s.Revenue[r.Currency].Add(r.Amount)
	}
	return s, nil
}
