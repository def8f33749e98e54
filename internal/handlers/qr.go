package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/lojf/paygate/internal/models"
	"github.com/lojf/paygate/internal/services"
)

// QR renders the payment URI of a manual payment as a PNG, so wallets and
// UPI apps can scan it: GET /qr/{ref}.png
func QR(payments *services.PaymentLedger, registry *services.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimSuffix(chi.URLParam(r, "ref"), ".png")
		if ref == "" {
			http.NotFound(w, r)
			return
		}
		p, err := payments.GetByRef(r.Context(), ref)
		if err != nil || p.Status.Terminal() {
			http.NotFound(w, r)
			return
		}
		m, err := registry.Resolve(p.Method)
		if err != nil || p.Settlement != models.SettlementManual {
			http.NotFound(w, r)
			return
		}
		uri := m.PaymentURI(p.PaymentRef)
		if uri == "" {
			http.NotFound(w, r)
			return
		}

		png, err := qrcode.Encode(uri, qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "failed to generate qr", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}
