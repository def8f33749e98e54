package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/db"
	"github.com/lojf/paygate/internal/events"
	"github.com/lojf/paygate/internal/services"
)

const (
	adminID = int64(1000)
	userID  = int64(42)
)

type apiCall struct {
	Method    string
	ChatID    int64
	MessageID int64
	Text      string
	Markup    any
}

// fakeMessenger records every Bot API call.
type fakeMessenger struct {
	mu    sync.Mutex
	calls []apiCall
	fail  error
}

func (f *fakeMessenger) record(s apiCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, s)
	return nil
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, markup any) error {
	return f.record(apiCall{Method: "sendMessage", ChatID: chatID, Text: text, Markup: markup})
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID int64, photoURL, caption string, markup any) error {
	return f.record(apiCall{Method: "sendPhoto", ChatID: chatID, Text: photoURL, Markup: markup})
}

func (f *fakeMessenger) EditMessageText(_ context.Context, chatID, messageID int64, text string, markup any) error {
	return f.record(apiCall{Method: "editMessageText", ChatID: chatID, MessageID: messageID, Text: text, Markup: markup})
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	return f.record(apiCall{Method: "answerCallbackQuery", Text: text})
}

func (f *fakeMessenger) all() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

// to returns the texts of messages sent or edited in chatID.
func (f *fakeMessenger) to(chatID int64) []string {
	var out []string
	for _, c := range f.all() {
		if c.ChatID == chatID && (c.Method == "sendMessage" || c.Method == "editMessageText") {
			out = append(out, c.Text)
		}
	}
	return out
}

func (f *fakeMessenger) last(chatID int64) string {
	texts := f.to(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// stubGateway approves every charge it creates.
type stubGateway struct{}

func (stubGateway) CreateCharge(_ context.Context, req services.ChargeRequest) (*services.Charge, error) {
	return &services.Charge{GatewayPaymentID: "PAYID-" + req.Ref, ApprovalURL: "https://paypal.test/approve"}, nil
}

func (stubGateway) Capture(_ context.Context, id, payerID string) (*services.CaptureResult, error) {
	return &services.CaptureResult{GatewayPaymentID: id, PayerID: payerID, State: services.CaptureCompleted,
		Amount: decimal.RequireFromString("10.00"), Currency: "USD"}, nil
}

func (stubGateway) CheckStatus(_ context.Context, id string) (*services.CaptureResult, error) {
	return &services.CaptureResult{GatewayPaymentID: id, State: services.CaptureCreated}, nil
}

type testBot struct {
	m          *fakeMessenger
	d          *Dispatcher
	payments   *services.PaymentLedger
	users      *services.AccessLedger
	reconciler *services.Reconciler
	hub        *events.Hub
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "bot.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	conn, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn},
		logger.Default.LogMode(logger.Silent), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	log := zap.NewNop()
	registry, err := services.RegistryFromConfig(config.Default().Payments.Methods)
	require.NoError(t, err)

	m := &fakeMessenger{}
	hub := events.NewHub()
	NewNotifier(m, adminID, log).Subscribe(hub)

	payments := services.NewPaymentLedger(conn, log)
	users := services.NewAccessLedger(conn, log)
	reconciler := services.NewReconciler(conn, payments, users, NewInviter(m, "https://t.me/+group"), hub, log)
	checkout := services.NewCheckout(services.CheckoutDeps{
		Registry:   registry,
		Payments:   payments,
		Users:      users,
		Sessions:   services.NewSessionStore(conn),
		Reconciler: reconciler,
		Gateway:    stubGateway{},
		PublicURL:  "https://pay.example.com",
		SessionTTL: config.Default().Payments.SessionTTL,
	}, log)

	d := NewDispatcher(Deps{
		Messenger:  m,
		Registry:   registry,
		Checkout:   checkout,
		Reconciler: reconciler,
		Payments:   payments,
		Users:      users,
		AdminID:    adminID,
		PublicURL:  "https://pay.example.com",
	}, log)

	return &testBot{m: m, d: d, payments: payments, users: users, reconciler: reconciler, hub: hub}
}

func (b *testBot) text(from int64, text string) {
	b.d.Handle(context.Background(), &Update{Message: &Message{
		MessageID: 1,
		From:      &User{ID: from, FirstName: "Ann", Username: "ann"},
		Chat:      &Chat{ID: from, Type: "private"},
		Text:      text,
	}})
}

func (b *testBot) tap(from int64, data string) {
	b.d.Handle(context.Background(), &Update{Callback: &CallbackQuery{
		ID:   "cb-1",
		From: &User{ID: from, FirstName: "Ann"},
		Message: &Message{
			MessageID: 77,
			Chat:      &Chat{ID: from, Type: "private"},
		},
		Data: data,
	}})
}
