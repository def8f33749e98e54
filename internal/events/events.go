// Package events fans payment lifecycle changes out to whoever needs to tell
// a human about them.
package events

import (
	"sync"

	"github.com/lojf/paygate/internal/models"
)

type Kind string

const (
	PaymentCompleted Kind = "payment.completed"
	PaymentRejected  Kind = "payment.rejected"
	ProofSubmitted   Kind = "payment.proof_submitted"
	PaymentFlagged   Kind = "payment.flagged"
)

// Event carries a snapshot of the payment after the change. InviteSent is
// only meaningful for PaymentCompleted.
type Event struct {
	Kind       Kind
	Payment    models.Payment
	InviteSent bool
}

type Handler func(Event)

// Hub delivers events synchronously to subscribers in registration order.
// A nil *Hub drops everything.
type Hub struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) Subscribe(fn Handler) {
	h.mu.Lock()
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()
}

func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}
