package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/models"
)

const (
	reasonSessionExpired = "session expired"
	reasonPayerCanceled  = "canceled by payer"
)

// Instructions tell the user how to finish a payment they just started.
type Instructions struct {
	Payment *models.Payment
	Method  Method

	// automated
	ApprovalURL string
	SessionID   string
	ExpiresAt   time.Time

	// manual
	PaymentURI string
}

// Checkout starts payments and handles the gateway's return paths.
type Checkout struct {
	registry   *Registry
	payments   *PaymentLedger
	users      *AccessLedger
	sessions   *SessionStore
	reconciler *Reconciler
	gateway    Gateway
	publicURL  string
	ttl        time.Duration
	log        *zap.Logger
	now        func() time.Time
}

type CheckoutDeps struct {
	Registry   *Registry
	Payments   *PaymentLedger
	Users      *AccessLedger
	Sessions   *SessionStore
	Reconciler *Reconciler
	Gateway    Gateway
	PublicURL  string
	SessionTTL time.Duration
}

func NewCheckout(d CheckoutDeps, log *zap.Logger) *Checkout {
	return &Checkout{
		registry:   d.Registry,
		payments:   d.Payments,
		users:      d.Users,
		sessions:   d.Sessions,
		reconciler: d.Reconciler,
		gateway:    d.Gateway,
		publicURL:  strings.TrimRight(d.PublicURL, "/"),
		ttl:        d.SessionTTL,
		log:        log.Named("checkout"),
		now:        utcNow,
	}
}

// Start creates a pending payment for the user. For automated methods it also
// creates the gateway charge and a session that expires after the TTL. If the
// gateway fails the pending payment stays recorded and a *GatewayError is
// returned.
func (c *Checkout) Start(ctx context.Context, userID int64, methodKey string) (*Instructions, error) {
	paid, err := c.users.HasPaid(ctx, userID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, ErrAlreadyPaid
	}
	method, err := c.registry.Resolve(methodKey)
	if err != nil {
		return nil, err
	}
	p, err := c.payments.Create(ctx, userID, method)
	if err != nil {
		return nil, err
	}
	in := &Instructions{Payment: p, Method: method}

	if !method.Automated() {
		in.PaymentURI = method.PaymentURI(p.PaymentRef)
		return in, nil
	}
	if c.gateway == nil {
		return nil, &GatewayError{Op: "create", Message: "no gateway configured"}
	}

	sessionID := uuid.NewString()
	q := url.Values{"session_id": {sessionID}}.Encode()
	charge, err := c.gateway.CreateCharge(ctx, ChargeRequest{
		Ref:         p.PaymentRef,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: fmt.Sprintf("Group access %s", p.PaymentRef),
		ReturnURL:   c.publicURL + "/payment/success?" + q,
		CancelURL:   c.publicURL + "/payment/cancel?" + q,
	})
	if err != nil {
		c.log.Warn("create charge failed", zap.String("ref", p.PaymentRef), zap.Error(err))
		return nil, err
	}
	if err := c.payments.AttachGateway(ctx, p.PaymentRef, charge.GatewayPaymentID); err != nil {
		return nil, err
	}
	gid := charge.GatewayPaymentID
	p.GatewayPaymentID = &gid

	sess := &models.PaymentSession{
		SessionID:        sessionID,
		UserID:           userID,
		PaymentRef:       p.PaymentRef,
		GatewayPaymentID: charge.GatewayPaymentID,
		PaymentURL:       charge.ApprovalURL,
		ExpiresAt:        c.now().Add(c.ttl),
		Status:           models.SessionPending,
	}
	if err := c.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	in.ApprovalURL = charge.ApprovalURL
	in.SessionID = sessionID
	in.ExpiresAt = sess.ExpiresAt
	return in, nil
}

// ConfirmReturn handles the payer coming back from the gateway. Repeating it
// for a completed session returns the stored payment.
func (c *Checkout) ConfirmReturn(ctx context.Context, sessionID, gatewayPaymentID, payerID string) (*models.Payment, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.SessionCompleted:
		return c.settledPayment(ctx, sess.PaymentRef)
	case models.SessionExpired:
		return nil, ErrSessionExpired
	}
	if sess.Expired(c.now()) {
		c.Expire(ctx, *sess, reasonSessionExpired)
		return nil, ErrSessionExpired
	}
	if gatewayPaymentID != "" && gatewayPaymentID != sess.GatewayPaymentID {
		return nil, fmt.Errorf("%w: session %s does not match gateway payment", ErrNotFound, sessionID)
	}

	// Never capture money for a payment that is already closed.
	p, err := c.payments.GetByRef(ctx, sess.PaymentRef)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		if p.Status == models.StatusCompleted {
			c.closeSession(ctx, sessionID)
			return p, nil
		}
		if _, err := c.sessions.SetStatus(ctx, sessionID, models.SessionExpired); err != nil {
			c.log.Error("close session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, &TransitionError{Ref: p.PaymentRef, From: p.Status, To: models.StatusCompleted}
	}
	if c.gateway == nil {
		return nil, &GatewayError{Op: "capture", Message: "no gateway configured"}
	}

	res, err := c.gateway.Capture(ctx, sess.GatewayPaymentID, payerID)
	if err != nil {
		return nil, err
	}
	p, err = c.reconciler.AutoComplete(ctx, sess.PaymentRef, res)
	var mm *MismatchError
	switch {
	case err == nil:
	case errors.As(err, &mm):
		// Held for an admin; the session has done its job.
		c.closeSession(ctx, sessionID)
		return nil, err
	case alreadySettled(err):
		p, err = c.payments.GetByRef(ctx, sess.PaymentRef)
		if err != nil {
			return nil, err
		}
		if p.Status != models.StatusCompleted {
			return nil, &TransitionError{Ref: p.PaymentRef, From: p.Status, To: models.StatusCompleted}
		}
	default:
		return nil, err
	}
	c.closeSession(ctx, sessionID)
	return p, nil
}

// settledPayment returns the payment behind a closed session, or the reason
// it did not complete.
func (c *Checkout) settledPayment(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := c.payments.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status == models.StatusCompleted:
		return p, nil
	case p.ReviewReason != nil && !p.Status.Terminal():
		return nil, fmt.Errorf("%w: payment %s is held for review: %s", ErrMismatch, ref, *p.ReviewReason)
	default:
		return nil, &TransitionError{Ref: ref, From: p.Status, To: models.StatusCompleted}
	}
}

func (c *Checkout) closeSession(ctx context.Context, sessionID string) {
	if _, err := c.sessions.SetStatus(ctx, sessionID, models.SessionCompleted); err != nil {
		c.log.Error("close session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ConfirmWebhook settles a payment the gateway reports as completed. It is
// safe to race with ConfirmReturn: whichever loses sees the payment done. An
// expired session is refused whatever the gateway says.
func (c *Checkout) ConfirmWebhook(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	p, err := c.payments.GetByGatewayID(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusCompleted {
		return p, nil
	}

	sess, err := c.sessions.GetByRef(ctx, p.PaymentRef)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionExpired {
		return nil, ErrSessionExpired
	}
	if sess.Status == models.SessionPending && sess.Expired(c.now()) {
		c.Expire(ctx, *sess, reasonSessionExpired)
		return nil, ErrSessionExpired
	}

	if p.Status == models.StatusRejected {
		c.log.Error("gateway reports money for a rejected payment",
			zap.String("ref", p.PaymentRef), zap.String("gateway_payment_id", gatewayPaymentID))
		return nil, &TransitionError{Ref: p.PaymentRef, From: p.Status, To: models.StatusCompleted}
	}
	if c.gateway == nil {
		return nil, &GatewayError{Op: "check", Message: "no gateway configured"}
	}

	res, err := c.gateway.CheckStatus(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if !res.Settled() {
		return p, nil
	}
	done, err := c.reconciler.AutoComplete(ctx, p.PaymentRef, res)
	if alreadySettled(err) {
		return c.payments.GetByRef(ctx, p.PaymentRef)
	}
	if err != nil {
		return nil, err
	}
	if err := c.sessions.CompleteByRef(ctx, p.PaymentRef); err != nil {
		c.log.Error("close session failed", zap.String("ref", p.PaymentRef), zap.Error(err))
	}
	return done, nil
}

// Cancel handles the payer abandoning the gateway page.
func (c *Checkout) Cancel(ctx context.Context, sessionID string) error {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionPending {
		return nil
	}
	c.Expire(ctx, *sess, reasonPayerCanceled)
	return nil
}

// Expire closes a pending session and rejects its payment if it is still
// pending. Payments held for review are left for an admin. It reports
// whether the session has left pending, by this call or an earlier one.
func (c *Checkout) Expire(ctx context.Context, sess models.PaymentSession, reason string) bool {
	log := c.log.With(zap.String("session_id", sess.SessionID), zap.String("ref", sess.PaymentRef))
	ok, err := c.sessions.SetStatus(ctx, sess.SessionID, models.SessionExpired)
	if err != nil {
		log.Error("expire session failed", zap.Error(err))
		return false
	}
	if !ok {
		return true
	}
	p, err := c.payments.GetByRef(ctx, sess.PaymentRef)
	if err != nil {
		log.Error("load expired payment failed", zap.Error(err))
		return true
	}
	if p.Status != models.StatusPending || p.ReviewReason != nil {
		return true
	}
	if _, err := c.reconciler.Reject(ctx, sess.PaymentRef, 0, reason); err != nil && !alreadySettled(err) {
		log.Error("reject expired payment failed", zap.Error(err))
		return true
	}
	log.Info("payment session closed", zap.String("reason", reason))
	return true
}
