package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/services"
)

// handleTimeout bounds the work done for one update.
const handleTimeout = 45 * time.Second

type Deps struct {
	Messenger  Messenger
	Registry   *services.Registry
	Checkout   *services.Checkout
	Reconciler *services.Reconciler
	Payments   *services.PaymentLedger
	Users      *services.AccessLedger
	AdminID    int64
	PublicURL  string
}

// Dispatcher routes bot events to the payment core.
type Dispatcher struct {
	m          Messenger
	registry   *services.Registry
	checkout   *services.Checkout
	reconciler *services.Reconciler
	payments   *services.PaymentLedger
	users      *services.AccessLedger
	adminID    int64
	publicURL  string
	log        *zap.Logger
}

func NewDispatcher(d Deps, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		m:          d.Messenger,
		registry:   d.Registry,
		checkout:   d.Checkout,
		reconciler: d.Reconciler,
		payments:   d.Payments,
		users:      d.Users,
		adminID:    d.AdminID,
		publicURL:  strings.TrimRight(d.PublicURL, "/"),
		log:        log.Named("bot"),
	}
}

// Handle processes one update. Errors are reported to the user; nothing
// propagates back to the transport.
func (d *Dispatcher) Handle(ctx context.Context, u *Update) {
	ev, ok := NewEvent(u, d.m)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := d.users.Upsert(ctx, ev.Profile); err != nil {
		d.log.Error("upsert user failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
	}

	var err error
	if ev.Callback {
		err = d.handleCallback(ctx, ev)
	} else {
		err = d.handleCommand(ctx, ev)
	}
	if err != nil {
		d.log.Warn("handle update failed",
			zap.Int64("user_id", ev.UserID),
			zap.String("command", ev.Command),
			zap.Error(err))
		_ = ev.Ack(ctx, "")
		if rerr := ev.Respond(ctx, services.UserMessage(err), nil); rerr != nil {
			d.log.Warn("reply failed", zap.Int64("chat_id", ev.ChatID), zap.Error(rerr))
		}
	}
}

func (d *Dispatcher) isAdmin(ev *Event) bool {
	return d.adminID != 0 && ev.UserID == d.adminID
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev *Event) error {
	switch ev.Command {
	case "start":
		return d.start(ctx, ev)
	case "pay", "methods":
		return ev.Respond(ctx, "Choose a payment method:", methodsKeyboard(d.registry.List()))
	case "status":
		return d.status(ctx, ev)
	case "proof", "paid":
		return d.proof(ctx, ev)
	case "help":
		text := helpText
		if d.isAdmin(ev) {
			text += adminHelpText
		}
		return ev.Respond(ctx, text, nil)
	case "pending", "approve", "reject", "stats":
		if !d.isAdmin(ev) {
			return ev.Respond(ctx, "⛔ Admins only.", nil)
		}
		return d.adminCommand(ctx, ev)
	default:
		return ev.Respond(ctx, "Try /pay or /help", nil)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, ev *Event) error {
	switch ev.Command {
	case "method":
		if err := ev.Ack(ctx, ""); err != nil {
			d.log.Debug("ack failed", zap.Error(err))
		}
		return d.startPayment(ctx, ev, ev.Arg(0))
	case "status":
		_ = ev.Ack(ctx, "")
		return d.status(ctx, ev)
	case "approve", "reject":
		if !d.isAdmin(ev) {
			return ev.Ack(ctx, "Admins only")
		}
		return d.adminCallback(ctx, ev)
	default:
		return ev.Ack(ctx, "")
	}
}

func (d *Dispatcher) start(ctx context.Context, ev *Event) error {
	paid, err := d.users.HasPaid(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if paid {
		return d.status(ctx, ev)
	}
	return ev.Respond(ctx, welcomeText(ev.Profile.FirstName), methodsKeyboard(d.registry.List()))
}

func (d *Dispatcher) startPayment(ctx context.Context, ev *Event, key string) error {
	in, err := d.checkout.Start(ctx, ev.UserID, key)
	if errors.Is(err, services.ErrAlreadyPaid) {
		return d.status(ctx, ev)
	}
	if err != nil {
		return err
	}

	var markup any
	if in.ApprovalURL != "" {
		markup = InlineKeyboard{Rows: [][]InlineButton{
			{{Text: "Pay " + in.Method.Price(), URL: in.ApprovalURL}},
			{{Text: "🔄 Check status", CallbackData: "status"}},
		}}
	}
	if err := ev.Edit(ctx, instructionsText(in), markup); err != nil {
		return err
	}
	if in.PaymentURI != "" && d.publicURL != "" {
		qr := d.publicURL + "/qr/" + url.PathEscape(in.Payment.PaymentRef) + ".png"
		if err := d.m.SendPhoto(ctx, ev.ChatID, qr, "Scan to pay", nil); err != nil {
			d.log.Warn("send qr failed", zap.String("ref", in.Payment.PaymentRef), zap.Error(err))
		}
	}
	return nil
}

// status shows the user's access and recent payments, and re-sends the invite
// if an earlier delivery failed.
func (d *Dispatcher) status(ctx context.Context, ev *Event) error {
	u, err := d.users.Get(ctx, ev.UserID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return err
	}
	if u != nil && u.HasPaid {
		if !u.InviteSent {
			sent, err := d.reconciler.DeliverPending(ctx, ev.UserID)
			if err != nil {
				return err
			}
			if sent {
				return nil
			}
		}
		return ev.Respond(ctx, "✅ You have access. Check your earlier messages for the invite link.", nil)
	}

	list, err := d.payments.ListByUser(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return ev.Respond(ctx, "You have no payments yet. Use /pay to start.", nil)
	}
	if len(list) > 5 {
		list = list[:5]
	}
	var b strings.Builder
	b.WriteString("<b>Your payments</b>\n")
	for _, p := range list {
		b.WriteString("\n" + statusLine(p))
	}
	return ev.Respond(ctx, b.String(), statusKeyboard())
}

func (d *Dispatcher) proof(ctx context.Context, ev *Event) error {
	ref := ev.Arg(0)
	if ref == "" {
		return ev.Respond(ctx, "Use: /proof REF TRANSACTION_ID", nil)
	}
	proof := strings.Join(ev.Args[1:], " ")
	p, err := d.payments.GetByRef(ctx, ref)
	if err != nil {
		return err
	}
	if m, err := d.registry.Resolve(p.Method); err == nil {
		if man, ok := m.Settlement.(services.Manual); ok && man.ProofRequired && proof == "" {
			return ev.Respond(ctx, fmt.Sprintf("Please include the transaction id:\n<code>/proof %s TRANSACTION_ID</code>", html.EscapeString(ref)), nil)
		}
	}
	p, err = d.reconciler.SubmitProof(ctx, ref, ev.UserID, proof)
	if err != nil {
		return err
	}
	return ev.Respond(ctx, proofReceivedText(p), statusKeyboard())
}

func (d *Dispatcher) adminCommand(ctx context.Context, ev *Event) error {
	switch ev.Command {
	case "pending":
		list, err := d.payments.ListPending(ctx)
		if err != nil {
			return err
		}
		return ev.Respond(ctx, pendingText(list), nil)
	case "stats":
		s, err := d.users.Stats(ctx)
		if err != nil {
			return err
		}
		return ev.Respond(ctx, statsText(s), nil)
	case "approve":
		ref := ev.Arg(0)
		if ref == "" {
			return ev.Respond(ctx, "Use: /approve REF", nil)
		}
		p, err := d.reconciler.Approve(ctx, ref, ev.UserID)
		if err != nil {
			return adminError(ctx, ev, ref, err)
		}
		return ev.Respond(ctx, fmt.Sprintf("✅ Approved <code>%s</code> for user %d.", p.PaymentRef, p.UserID), nil)
	case "reject":
		ref := ev.Arg(0)
		if ref == "" {
			return ev.Respond(ctx, "Use: /reject REF [reason]", nil)
		}
		p, err := d.reconciler.Reject(ctx, ref, ev.UserID, strings.Join(ev.Args[1:], " "))
		if err != nil {
			return adminError(ctx, ev, ref, err)
		}
		return ev.Respond(ctx, fmt.Sprintf("❌ Rejected <code>%s</code>.", p.PaymentRef), nil)
	}
	return nil
}

func (d *Dispatcher) adminCallback(ctx context.Context, ev *Event) error {
	ref := ev.Arg(0)
	var (
		text string
		err  error
	)
	switch ev.Command {
	case "approve":
		_, err = d.reconciler.Approve(ctx, ref, ev.UserID)
		text = fmt.Sprintf("✅ Approved <code>%s</code>", ref)
	case "reject":
		_, err = d.reconciler.Reject(ctx, ref, ev.UserID, "rejected by admin")
		text = fmt.Sprintf("❌ Rejected <code>%s</code>", ref)
	}
	if err != nil {
		_ = ev.Ack(ctx, services.UserMessage(err))
		return adminError(ctx, ev, ref, err)
	}
	_ = ev.Ack(ctx, "Done")
	return ev.Edit(ctx, text, nil)
}

// adminError gives the admin the exact reason instead of the neutral text.
func adminError(ctx context.Context, ev *Event, ref string, err error) error {
	return ev.Respond(ctx, fmt.Sprintf("⚠️ <code>%s</code>: %s", html.EscapeString(ref), html.EscapeString(err.Error())), nil)
}
