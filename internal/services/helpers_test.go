package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/db"
	"github.com/lojf/paygate/internal/events"
)

const defaultTTL = 30 * time.Minute

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	conn, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn},
		logger.Default.LogMode(logger.Silent), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

func testMethods() []Method {
	return []Method{
		{
			Key: "paypal", Name: "PayPal",
			Amount: decimal.RequireFromString("10.00"), Currency: "USD",
			Settlement: Automated{Provider: "paypal"},
		},
		{
			Key: "bitcoin", Name: "Bitcoin",
			Amount: decimal.RequireFromString("10.00"), Currency: "USD",
			Settlement: Manual{
				ProofRequired: true,
				Destination:   Destination{Kind: DestWallet, Scheme: "bitcoin", Address: "bc1qtest"},
			},
		},
		{
			Key: "bank_transfer", Name: "Bank Transfer",
			Amount: decimal.RequireFromString("100.00"), Currency: "INR",
			Settlement: Manual{
				Destination: Destination{Kind: DestBank, BankName: "Test Bank", AccountNumber: "123"},
			},
		},
		{
			Key: "upi", Name: "UPI",
			Amount: decimal.RequireFromString("100.00"), Currency: "INR",
			Settlement: Manual{
				ProofRequired: true,
				Destination:   Destination{Kind: DestUPI, Address: "shop@upi", Payee: "Shop"},
			},
		},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testMethods())
	require.NoError(t, err)
	return r
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	args := m.Called(ctx, req)
	if c := args.Get(0); c != nil {
		return c.(*Charge), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, gatewayPaymentID, payerID string) (*CaptureResult, error) {
	args := m.Called(ctx, gatewayPaymentID, payerID)
	if r := args.Get(0); r != nil {
		return r.(*CaptureResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*CaptureResult, error) {
	args := m.Called(ctx, gatewayPaymentID)
	if r := args.Get(0); r != nil {
		return r.(*CaptureResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingInviter counts invites per user and can be told to fail.
type recordingInviter struct {
	mu   sync.Mutex
	sent map[int64]int
	fail error
}

func newRecordingInviter() *recordingInviter {
	return &recordingInviter{sent: make(map[int64]int)}
}

func (r *recordingInviter) SendInvite(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent[userID]++
	return nil
}

func (r *recordingInviter) count(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[userID]
}

// env wires the whole core against one temp database.
type env struct {
	db         *gorm.DB
	registry   *Registry
	payments   *PaymentLedger
	users      *AccessLedger
	sessions   *SessionStore
	reconciler *Reconciler
	checkout   *Checkout
	gateway    *MockGateway
	inviter    *recordingInviter
	hub        *events.Hub
	events     *[]events.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn := newTestDB(t)
	log := zap.NewNop()
	e := &env{
		db:       conn,
		registry: testRegistry(t),
		payments: NewPaymentLedger(conn, log),
		users:    NewAccessLedger(conn, log),
		sessions: NewSessionStore(conn),
		gateway:  new(MockGateway),
		inviter:  newRecordingInviter(),
		hub:      events.NewHub(),
	}
	var (
		mu  sync.Mutex
		got []events.Event
	)
	e.hub.Subscribe(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	e.events = &got
	e.reconciler = NewReconciler(conn, e.payments, e.users, e.inviter, e.hub, log)
	e.checkout = NewCheckout(CheckoutDeps{
		Registry:   e.registry,
		Payments:   e.payments,
		Users:      e.users,
		Sessions:   e.sessions,
		Reconciler: e.reconciler,
		Gateway:    e.gateway,
		PublicURL:  "https://pay.example.com/",
		SessionTTL: defaultTTL,
	}, log)
	return e
}

func (e *env) kinds() []events.Kind {
	out := make([]events.Kind, 0, len(*e.events))
	for _, ev := range *e.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *env) mustMethod(t *testing.T, key string) Method {
	t.Helper()
	m, err := e.registry.Resolve(key)
	require.NoError(t, err)
	return m
}
