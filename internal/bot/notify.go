package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/events"
	"github.com/lojf/paygate/internal/services"
)

const notifyTimeout = 15 * time.Second

// Inviter delivers the group invite as a private message. In Telegram a
// user's private chat id equals their user id.
type Inviter struct {
	m    Messenger
	link string
}

var _ services.Inviter = (*Inviter)(nil)

func NewInviter(m Messenger, inviteLink string) *Inviter {
	return &Inviter{m: m, link: inviteLink}
}

func (i *Inviter) SendInvite(ctx context.Context, userID int64) error {
	return i.m.SendMessage(ctx, userID, inviteText(i.link), nil)
}

// Notifier tells users and the admin about payment events.
type Notifier struct {
	m       Messenger
	adminID int64
	log     *zap.Logger
}

func NewNotifier(m Messenger, adminID int64, log *zap.Logger) *Notifier {
	return &Notifier{m: m, adminID: adminID, log: log.Named("notify")}
}

// Subscribe registers the notifier on hub.
func (n *Notifier) Subscribe(hub *events.Hub) {
	hub.Subscribe(n.handle)
}

func (n *Notifier) handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	p := e.Payment
	var err error
	switch e.Kind {
	case events.PaymentCompleted:
		// The invite message doubles as the confirmation.
		if !e.InviteSent {
			err = n.m.SendMessage(ctx, p.UserID,
				"✅ Payment <code>"+p.PaymentRef+"</code> confirmed. Use /status if you haven't received your invite.", nil)
		}
	case events.PaymentRejected:
		err = n.m.SendMessage(ctx, p.UserID, rejectedText(&p), nil)
	case events.ProofSubmitted:
		err = n.toAdmin(ctx, adminProofText(&p), reviewKeyboard(p.PaymentRef))
	case events.PaymentFlagged:
		err = n.toAdmin(ctx, adminFlaggedText(&p), reviewKeyboard(p.PaymentRef))
	}
	if err != nil {
		n.log.Warn("notification failed",
			zap.String("kind", string(e.Kind)),
			zap.String("ref", p.PaymentRef),
			zap.Error(err))
	}
}

func (n *Notifier) toAdmin(ctx context.Context, text string, markup any) error {
	if n.adminID == 0 {
		return nil
	}
	return n.m.SendMessage(ctx, n.adminID, text, markup)
}
