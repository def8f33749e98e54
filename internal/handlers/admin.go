package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/models"
	"github.com/lojf/paygate/internal/services"
)

// Admin serves the JSON admin API. Actions taken here are recorded as the
// configured bot admin.
type Admin struct {
	Payments   *services.PaymentLedger
	Users      *services.AccessLedger
	Reconciler *services.Reconciler
	AdminID    int64
	Log        *zap.Logger
}

type paymentView struct {
	Ref              string  `json:"ref"`
	UserID           int64   `json:"user_id"`
	Method           string  `json:"method"`
	Settlement       string  `json:"settlement"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	GatewayPaymentID *string `json:"gateway_payment_id,omitempty"`
	TransactionHash  *string `json:"transaction_hash,omitempty"`
	ReviewReason     *string `json:"review_reason,omitempty"`
	RejectReason     *string `json:"reject_reason,omitempty"`
	CreatedAt        string  `json:"created_at"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

func viewOf(p *models.Payment) paymentView {
	v := paymentView{
		Ref:              p.PaymentRef,
		UserID:           p.UserID,
		Method:           p.Method,
		Settlement:       string(p.Settlement),
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           string(p.Status),
		GatewayPaymentID: p.GatewayPaymentID,
		TransactionHash:  p.TransactionHash,
		ReviewReason:     p.ReviewReason,
		RejectReason:     p.RejectReason,
		CreatedAt:        p.CreatedAt.UTC().Format(timeLayout),
	}
	if p.CompletedAt != nil {
		s := p.CompletedAt.UTC().Format(timeLayout)
		v.CompletedAt = &s
	}
	return v
}

const timeLayout = "2006-01-02T15:04:05Z"

// GET /admin/payments/pending
func (a *Admin) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := a.Payments.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]paymentView, 0, len(list))
	for i := range list {
		out = append(out, viewOf(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

// POST /admin/payments/{ref}/approve
func (a *Admin) Approve(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	p, err := a.Reconciler.Approve(r.Context(), ref, a.AdminID)
	if err != nil {
		a.Log.Warn("admin approve failed", zap.String("ref", ref), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

// POST /admin/payments/{ref}/reject with an optional {"reason": ".."} body.
func (a *Admin) Reject(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
			return
		}
	}
	p, err := a.Reconciler.Reject(r.Context(), ref, a.AdminID, body.Reason)
	if err != nil {
		a.Log.Warn("admin reject failed", zap.String("ref", ref), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

// GET /admin/stats
func (a *Admin) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.Users.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	revenue := make(map[string]string, len(s.Revenue))
	for cur, amt := range s.Revenue {
		revenue[cur] = amt.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_users":      s.TotalUsers,
		"paid_users":       s.PaidUsers,
		"invited_users":    s.InvitedUsers,
		"pending_payments": s.PendingPayments,
		"revenue":          revenue,
	})
}
