package bot

import (
	"context"
	"strings"

	"github.com/lojf/paygate/internal/services"
)

// Event is one inbound interaction, whether typed as a message or tapped as
// a button. The transport decides how Respond and Edit are delivered.
type Event struct {
	UserID  int64
	ChatID  int64
	Profile services.UserProfile

	// Command is the lower-cased command without its slash ("pay"), or the
	// callback action ("method"). Args holds the rest.
	Command  string
	Args     []string
	Callback bool

	respond func(ctx context.Context, text string, markup any) error
	edit    func(ctx context.Context, text string, markup any) error
	ack     func(ctx context.Context, text string) error
}

// Respond sends a new message to the chat the event came from.
func (e *Event) Respond(ctx context.Context, text string, markup any) error {
	return e.respond(ctx, text, markup)
}

// Edit replaces the message a button belonged to. For typed messages there
// is nothing to edit, so it responds instead.
func (e *Event) Edit(ctx context.Context, text string, markup any) error {
	if e.edit == nil {
		return e.respond(ctx, text, markup)
	}
	return e.edit(ctx, text, markup)
}

// Ack answers a button press; it is a no-op for messages.
func (e *Event) Ack(ctx context.Context, text string) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx, text)
}

// Arg returns the i-th argument or "".
func (e *Event) Arg(i int) string {
	if i < len(e.Args) {
		return e.Args[i]
	}
	return ""
}

// NewEvent binds an update to m. It reports false for updates the bot
// ignores (edits, channel posts, messages without a sender).
func NewEvent(u *Update, m Messenger) (*Event, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		msg := u.Message
		e := baseEvent(msg.From, msg.Chat.ID, m)
		e.Command, e.Args = parseCommand(msg.Text)
		return e, true

	case u.Callback != nil && u.Callback.From != nil:
		cb := u.Callback
		chatID := cb.From.ID
		if cb.Message != nil && cb.Message.Chat != nil {
			chatID = cb.Message.Chat.ID
		}
		e := baseEvent(cb.From, chatID, m)
		e.Callback = true
		action, arg, _ := strings.Cut(cb.Data, ":")
		e.Command = action
		if arg != "" {
			e.Args = []string{arg}
		}
		if cb.Message != nil {
			msgID := cb.Message.MessageID
			e.edit = func(ctx context.Context, text string, markup any) error {
				return m.EditMessageText(ctx, chatID, msgID, text, markup)
			}
		}
		id := cb.ID
		e.ack = func(ctx context.Context, text string) error {
			return m.AnswerCallbackQuery(ctx, id, text)
		}
		return e, true
	}
	return nil, false
}

func baseEvent(from *User, chatID int64, m Messenger) *Event {
	return &Event{
		UserID: from.ID,
		ChatID: chatID,
		Profile: services.UserProfile{
			UserID:    from.ID,
			Username:  from.Username,
			FirstName: from.FirstName,
			LastName:  from.LastName,
		},
		respond: func(ctx context.Context, text string, markup any) error {
			return m.SendMessage(ctx, chatID, text, markup)
		},
	}
}

// parseCommand splits "/proof@SomeBot REF tx" into ("proof", [REF tx]).
// Plain text yields an empty command.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", fields
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), fields[1:]
}
