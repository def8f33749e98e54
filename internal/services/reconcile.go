package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lojf/paygate/internal/events"
	"github.com/lojf/paygate/internal/models"
)

// Inviter sends the group invite to a user.
type Inviter interface {
	SendInvite(ctx context.Context, userID int64) error
}

// Reconciler drives payments to a terminal state and grants access.
type Reconciler struct {
	db       *gorm.DB
	payments *PaymentLedger
	users    *AccessLedger
	inviter  Inviter
	hub      *events.Hub
	log      *zap.Logger
}

func NewReconciler(db *gorm.DB, payments *PaymentLedger, users *AccessLedger, inviter Inviter, hub *events.Hub, log *zap.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		payments: payments,
		users:    users,
		inviter:  inviter,
		hub:      hub,
		log:      log.Named("reconcile"),
	}
}

// SubmitProof records the user's claim that a manual payment was made.
func (r *Reconciler) SubmitProof(ctx context.Context, ref string, userID int64, proof string) (*models.Payment, error) {
	p, err := r.payments.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrNotOwner
	}
	if p.Settlement != models.SettlementManual {
		return nil, ErrWrongSettlement
	}
	proof = strings.TrimSpace(proof)
	opts := TransitionOpts{}
	if proof != "" {
		opts.TransactionHash = &proof
	}
	p, err = r.payments.Transition(ctx, ref, models.StatusSubmitted, opts)
	if err != nil {
		return nil, err
	}
	r.hub.Publish(events.Event{Kind: events.ProofSubmitted, Payment: *p})
	return p, nil
}

// AutoComplete settles an automated payment from a gateway result. A
// result that disagrees with the payment snapshot flags the payment for
// review and returns a *MismatchError.
func (r *Reconciler) AutoComplete(ctx context.Context, ref string, res *CaptureResult) (*models.Payment, error) {
	p, err := r.payments.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Settlement != models.SettlementAutomated {
		return nil, ErrWrongSettlement
	}
	if p.Status.Terminal() {
		return p, &TransitionError{Ref: ref, From: p.Status, To: models.StatusCompleted}
	}
	if !res.Settled() {
		return nil, &GatewayError{Op: "capture", Code: res.State, Message: "payment not approved"}
	}
	if !res.Amount.Equal(p.Amount) || !strings.EqualFold(res.Currency, p.Currency) {
		mm := &MismatchError{
			Ref:              ref,
			ExpectedAmount:   p.Amount,
			ExpectedCurrency: p.Currency,
			GotAmount:        res.Amount,
			GotCurrency:      strings.ToUpper(res.Currency),
		}
		if err := r.payments.FlagForReview(ctx, ref, mm.Error()); err != nil {
			r.log.Error("flag for review failed", zap.String("ref", ref), zap.Error(err))
		} else if flagged, err := r.payments.GetByRef(ctx, ref); err == nil {
			r.hub.Publish(events.Event{Kind: events.PaymentFlagged, Payment: *flagged})
		}
		return nil, mm
	}

	opts := TransitionOpts{}
	if res.GatewayPaymentID != "" {
		opts.GatewayPaymentID = &res.GatewayPaymentID
	}
	if res.PayerID != "" {
		opts.PayerID = &res.PayerID
	}
	return r.complete(ctx, ref, opts)
}

// Approve completes a manual payment, or an automated one held for review.
func (r *Reconciler) Approve(ctx context.Context, ref string, adminID int64) (*models.Payment, error) {
	p, err := r.payments.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Settlement == models.SettlementAutomated && p.ReviewReason == nil {
		return nil, ErrWrongSettlement
	}
	return r.complete(ctx, ref, TransitionOpts{ResolvedBy: &adminID})
}

// Reject closes a payment without granting access, along with any gateway
// session still open for it. adminID 0 means the system rejected it (expiry
// or payer cancel).
func (r *Reconciler) Reject(ctx context.Context, ref string, adminID int64, reason string) (*models.Payment, error) {
	opts := TransitionOpts{}
	if reason = strings.TrimSpace(reason); reason != "" {
		opts.RejectReason = &reason
	}
	if adminID != 0 {
		opts.ResolvedBy = &adminID
	}
	var p *models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = r.payments.TransitionTx(tx, ref, models.StatusRejected, opts); err != nil {
			return err
		}
		return expireByRefTx(tx, ref)
	})
	if err != nil {
		return nil, err
	}
	r.hub.Publish(events.Event{Kind: events.PaymentRejected, Payment: *p})
	return p, nil
}

// complete moves the payment to completed and grants access in one
// transaction, then delivers the invite outside it.
func (r *Reconciler) complete(ctx context.Context, ref string, opts TransitionOpts) (*models.Payment, error) {
	var p *models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = r.payments.TransitionTx(tx, ref, models.StatusCompleted, opts)
		if err != nil {
			return err
		}
		return r.users.MarkPaidTx(tx, p.UserID)
	})
	if err != nil {
		return nil, err
	}

	sent, err := r.deliver(ctx, p.UserID)
	if err != nil {
		// Access is granted; DeliverPending retries the invite.
		r.log.Warn("invite delivery failed",
			zap.String("ref", ref), zap.Int64("user_id", p.UserID), zap.Error(err))
	}
	r.hub.Publish(events.Event{Kind: events.PaymentCompleted, Payment: *p, InviteSent: sent})
	return p, nil
}

// DeliverPending sends the invite to a paid user who doesn't have it yet.
// It reports whether this call delivered it.
func (r *Reconciler) DeliverPending(ctx context.Context, userID int64) (bool, error) {
	u, err := r.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.HasPaid {
		return false, ErrNotPaid
	}
	if u.InviteSent {
		return false, nil
	}
	return r.deliver(ctx, userID)
}

func (r *Reconciler) deliver(ctx context.Context, userID int64) (bool, error) {
	claimed, err := r.users.ClaimInvite(ctx, userID)
	if err != nil || !claimed {
		return false, err
	}
	if err := r.inviter.SendInvite(ctx, userID); err != nil {
		if rerr := r.users.ReleaseInvite(ctx, userID); rerr != nil {
			r.log.Error("release invite lease failed", zap.Int64("user_id", userID), zap.Error(rerr))
		}
		return false, fmt.Errorf("send invite: %w", err)
	}
	if err := r.users.MarkInviteSent(ctx, userID); err != nil {
		return true, fmt.Errorf("mark invite sent: %w", err)
	}
	r.log.Info("invite delivered", zap.Int64("user_id", userID))
	return true, nil
}

// alreadySettled reports whether err means another path already moved the
// payment on, so the caller can treat its own attempt as done.
func alreadySettled(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConcurrencyConflict)
}
