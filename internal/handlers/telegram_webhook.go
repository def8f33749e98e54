package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lojf/paygate/internal/bot"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhook receives bot updates at POST /tg/webhook. The secret is
// accepted from Telegram's secret-token header or the ?secret= query. With no
// secret configured the endpoint is closed.
func TelegramWebhook(secret string, d *bot.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(secretHeader)
		if got == "" {
			got = r.URL.Query().Get("secret")
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		defer r.Body.Close()
		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var up bot.Update
		if err := json.Unmarshal(b, &up); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Telegram may drop the connection before we finish; the update is
		// still ours to process.
		d.Handle(context.WithoutCancel(r.Context()), &up)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
