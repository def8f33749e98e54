package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lojf/paygate/internal/bot"
	"github.com/lojf/paygate/internal/handlers"
	"github.com/lojf/paygate/internal/logging"
	"github.com/lojf/paygate/internal/services"
)

type Deps struct {
	DB            *gorm.DB
	Registry      *services.Registry
	Payments      *services.PaymentLedger
	Users         *services.AccessLedger
	Checkout      *services.Checkout
	Reconciler    *services.Reconciler
	Dispatcher    *bot.Dispatcher
	WebhookSecret string
	AdminToken    string
	AdminID       int64
}

func Router(d Deps, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(log.Named("http")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.Health(d.DB))
	r.Post("/tg/webhook", handlers.TelegramWebhook(d.WebhookSecret, d.Dispatcher))

	// PayPal redirects and notifications
	r.Get("/payment/success", handlers.PaymentSuccess(d.Checkout, log))
	r.Get("/payment/cancel", handlers.PaymentCancel(d.Checkout, log))
	r.Post("/webhook/paypal", handlers.PayPalWebhook(d.Checkout, log.Named("webhook")))

	// QR image
	r.Get("/qr/{ref}.png", handlers.QR(d.Payments, d.Registry))

	admin := &handlers.Admin{
		Payments:   d.Payments,
		Users:      d.Users,
		Reconciler: d.Reconciler,
		AdminID:    d.AdminID,
		Log:        log.Named("admin"),
	}
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(handlers.RequireAdmin(d.AdminToken))
		ar.Get("/payments/pending", admin.Pending)
		ar.Post("/payments/{ref}/approve", admin.Approve)
		ar.Post("/payments/{ref}/reject", admin.Reject)
		ar.Get("/stats", admin.Stats)
	})

	return r
}
