package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lojf/paygate/internal/models"
)

// allowed lists the legal edges of the payment state machine.
var allowed = map[models.PaymentStatus][]models.PaymentStatus{
	models.StatusPending:   {models.StatusSubmitted, models.StatusCompleted, models.StatusRejected},
	models.StatusSubmitted: {models.StatusCompleted, models.StatusRejected},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionOpts carries the fields recorded alongside a status change.
// Nil fields are left untouched.
type TransitionOpts struct {
	GatewayPaymentID *string
	PayerID          *string
	TransactionHash  *string
	RejectReason     *string
	ResolvedBy       *int64
}

// PaymentLedger is the durable record of payment attempts.
type PaymentLedger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewPaymentLedger(db *gorm.DB, log *zap.Logger) *PaymentLedger {
	return &PaymentLedger{db: db, log: log.Named("payments"), now: utcNow}
}

// Create records a pending payment snapshotting the method's price.
func (l *PaymentLedger) Create(ctx context.Context, userID int64, method Method) (*models.Payment, error) {
	now := l.now()
	p := &models.Payment{
		PaymentRef: GenerateRef(userID, method.Key, now),
		UserID:     userID,
		Method:     method.Key,
		Settlement: method.Settlement.Kind(),
		Amount:     method.Amount,
		Currency:   method.Currency,
		Status:     models.StatusPending,
	}
	if err := l.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	l.log.Info("payment created",
		zap.String("ref", p.PaymentRef),
		zap.Int64("user_id", userID),
		zap.String("method", method.Key),
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.String("currency", p.Currency),
	)
	return p, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func (l *PaymentLedger) GetByRef(ctx context.Context, ref string) (*models.Payment, error) {
	return getPaymentTx(l.db.WithContext(ctx), ref)
}

func getPaymentTx(tx *gorm.DB, ref string) (*models.Payment, error) {
	var p models.Payment
	if err := tx.Where("payment_ref = ?", ref).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByGatewayID finds the payment a gateway callback refers to.
func (l *PaymentLedger) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	var p models.Payment
	err := l.db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPending returns pending and submitted payments, oldest first.
func (l *PaymentLedger) ListPending(ctx context.Context) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentStatus{models.StatusPending, models.StatusSubmitted}).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListByUser returns the user's payments, newest first.
func (l *PaymentLedger) ListByUser(ctx context.Context, userID int64) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// AttachGateway stores the gateway's id on a pending payment.
func (l *PaymentLedger) AttachGateway(ctx context.Context, ref, gatewayID string) error {
	res := l.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payment_ref = ? AND status = ?", ref, models.StatusPending).
		Updates(map[string]any{"gateway_payment_id": gatewayID, "updated_at": l.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// FlagForReview marks a non-terminal payment for admin attention without
// changing its status.
func (l *PaymentLedger) FlagForReview(ctx context.Context, ref, reason string) error {
	res := l.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payment_ref = ? AND status IN ?", ref,
			[]models.PaymentStatus{models.StatusPending, models.StatusSubmitted}).
		Updates(map[string]any{"review_reason": reason, "updated_at": l.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := l.GetByRef(ctx, ref); err != nil {
			return err
		}
		return ErrConcurrencyConflict
	}
	l.log.Warn("payment flagged for review", zap.String("ref", ref), zap.String("reason", reason))
	return nil
}

func (l *PaymentLedger) Transition(ctx context.Context, ref string, to models.PaymentStatus, opts TransitionOpts) (*models.Payment, error) {
	var out *models.Payment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = l.TransitionTx(tx, ref, to, opts)
		return err
	})
	return out, err
}

// TransitionTx moves ref to status to inside an existing transaction. The
// update only applies if the status is still the one that was read; a lost
// race returns ErrConcurrencyConflict.
func (l *PaymentLedger) TransitionTx(tx *gorm.DB, ref string, to models.PaymentStatus, opts TransitionOpts) (*models.Payment, error) {
	p, err := getPaymentTx(tx, ref)
	if err != nil {
		return nil, err
	}
	from := p.Status
	if !CanTransition(from, to) {
		return p, &TransitionError{Ref: ref, From: from, To: to}
	}

	now := l.now()
	updates := map[string]any{"status": to, "updated_at": now}
	if to == models.StatusCompleted {
		updates["completed_at"] = now
		p.CompletedAt = &now
	}
	if opts.GatewayPaymentID != nil {
		updates["gateway_payment_id"] = *opts.GatewayPaymentID
		p.GatewayPaymentID = opts.GatewayPaymentID
	}
	if opts.PayerID != nil {
		updates["payer_id"] = *opts.PayerID
		p.PayerID = opts.PayerID
	}
	if opts.TransactionHash != nil {
		updates["transaction_hash"] = *opts.TransactionHash
		p.TransactionHash = opts.TransactionHash
	}
	if opts.RejectReason != nil {
		updates["reject_reason"] = *opts.RejectReason
		p.RejectReason = opts.RejectReason
	}
	if opts.ResolvedBy != nil {
		updates["resolved_by"] = *opts.ResolvedBy
		p.ResolvedBy = opts.ResolvedBy
	}

	res := tx.Model(&models.Payment{}).
		Where("payment_ref = ? AND status = ?", ref, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrencyConflict
	}
	p.Status = to
	p.UpdatedAt = now

	l.log.Info("payment transition",
		zap.String("ref", ref),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return p, nil
}
