package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/services"
)

// PaymentSuccess is the PayPal return URL:
// GET /payment/success?session_id=..&paymentId=..&PayerID=..
func PaymentSuccess(co *services.Checkout, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sessionID, paymentID, payerID := q.Get("session_id"), q.Get("paymentId"), q.Get("PayerID")
		if sessionID == "" || paymentID == "" || payerID == "" {
			renderPage(w, http.StatusBadRequest, page{
				Title: "Missing payment details",
				Body:  "The link you followed is incomplete.",
			})
			return
		}

		p, err := co.ConfirmReturn(r.Context(), sessionID, paymentID, payerID)
		if err != nil {
			log.Warn("payment return failed",
				zap.String("session_id", sessionID),
				zap.String("gateway_payment_id", paymentID),
				zap.Error(err))
			title := "Payment not completed"
			if errors.Is(err, services.ErrMismatch) {
				title = "Payment under review"
			}
			renderPage(w, statusFor(err), page{Title: title, Body: services.UserMessage(err)})
			return
		}
		renderPage(w, http.StatusOK, page{
			Title: "Payment successful",
			Body:  "Thank you! Your invite link has been sent to you in Telegram.",
			Ref:   p.PaymentRef,
		})
	}
}

// PaymentCancel is the PayPal cancel URL: GET /payment/cancel?session_id=..
func PaymentCancel(co *services.Checkout, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID != "" {
			if err := co.Cancel(r.Context(), sessionID); err != nil && !errors.Is(err, services.ErrNotFound) {
				log.Warn("payment cancel failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		renderPage(w, http.StatusOK, page{
			Title: "Payment canceled",
			Body:  "No money was taken. Use /pay in Telegram to try again.",
		})
	}
}

const saleCompleted = "PAYMENT.SALE.COMPLETED"

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		ParentPayment string `json:"parent_payment"`
		State         string `json:"state"`
	} `json:"resource"`
}

// PayPalWebhook accepts PayPal notifications at POST /webhook/paypal. The
// body is only a hint: the payment state is re-read from PayPal before
// anything is granted.
func PayPalWebhook(co *services.Checkout, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var ev paypalWebhook
		if err := json.Unmarshal(b, &ev); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if ev.EventType != saleCompleted || ev.Resource.ParentPayment == "" {
			log.Debug("webhook ignored", zap.String("event_id", ev.ID), zap.String("event_type", ev.EventType))
			w.WriteHeader(http.StatusOK)
			return
		}

		p, err := co.ConfirmWebhook(r.Context(), ev.Resource.ParentPayment)
		switch {
		case err == nil:
			log.Info("webhook processed",
				zap.String("event_id", ev.ID),
				zap.String("ref", p.PaymentRef),
				zap.String("status", string(p.Status)))
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, services.ErrNotFound):
			// Not ours, or created by another deployment.
			log.Warn("webhook for unknown payment", zap.String("gateway_payment_id", ev.Resource.ParentPayment))
			w.WriteHeader(http.StatusOK)
		default:
			// Non-2xx makes PayPal redeliver; only worth it for transient failures.
			log.Error("webhook failed",
				zap.String("event_id", ev.ID),
				zap.String("gateway_payment_id", ev.Resource.ParentPayment),
				zap.Error(err))
			var ge *services.GatewayError
			if errors.As(err, &ge) && ge.Retryable {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}
}
