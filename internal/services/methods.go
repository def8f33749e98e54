package services

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/models"
)

// Settlement says how a method's payments get completed. It is either
// Automated or Manual.
type Settlement interface {
	Kind() models.Settlement
	isSettlement()
}

// Automated payments are confirmed by a gateway callback.
type Automated struct {
	Provider string
}

func (Automated) Kind() models.Settlement { return models.SettlementAutomated }
func (Automated) isSettlement()           {}

// Manual payments are confirmed by an admin after the user reports them.
type Manual struct {
	Destination   Destination
	ProofRequired bool
}

func (Manual) Kind() models.Settlement { return models.SettlementManual }
func (Manual) isSettlement()           {}

type DestinationKind string

const (
	DestWallet DestinationKind = "wallet"
	DestBank   DestinationKind = "bank"
	DestUPI    DestinationKind = "upi"
)

// Destination is where a manual payment is sent.
type Destination struct {
	Kind DestinationKind

	// wallet
	Address string
	Network string
	Scheme  string

	// upi (Address is the VPA)
	Payee string

	// bank
	BankName      string
	AccountName   string
	AccountNumber string
	IFSC          string
}

// PaymentURI returns a wallet/UPI deep link carrying the reference, or ""
// when the destination has no URI form (bank transfers).
func (d Destination) PaymentURI(amount decimal.Decimal, currency, ref string) string {
	amt := amount.StringFixed(2)
	switch d.Kind {
	case DestWallet:
		switch d.Scheme {
		case "bitcoin":
			q := url.Values{"amount": {amt}, "message": {ref}}
			return "bitcoin:" + d.Address + "?" + q.Encode()
		case "ton":
			q := url.Values{"amount": {amt}, "text": {ref}}
			return "ton://transfer/" + d.Address + "?" + q.Encode()
		case "":
			return ""
		default:
			q := url.Values{"amount": {amt}, "message": {ref}}
			return d.Scheme + ":" + d.Address + "?" + q.Encode()
		}
	case DestUPI:
		q := url.Values{
			"pa": {d.Address},
			"pn": {d.Payee},
			"am": {amt},
			"cu": {currency},
			"tn": {ref},
		}
		return "upi://pay?" + q.Encode()
	default:
		return ""
	}
}

// Method is one configured way to pay.
type Method struct {
	Key        string
	Name       string
	Amount     decimal.Decimal
	Currency   string
	Settlement Settlement
}

// Automated reports whether a gateway confirms this method.
func (m Method) Automated() bool {
	return m.Settlement.Kind() == models.SettlementAutomated
}

// Symbol is the display prefix for the method's currency.
func (m Method) Symbol() string {
	return CurrencySymbol(m.Currency)
}

// Price formats the amount for display, e.g. "$10.00" or "₹100.00".
func (m Method) Price() string {
	return FormatAmount(m.Amount, m.Currency)
}

// PaymentURI is the deep link for ref, or "" for automated and bank methods.
func (m Method) PaymentURI(ref string) string {
	man, ok := m.Settlement.(Manual)
	if !ok {
		return ""
	}
	return man.Destination.PaymentURI(m.Amount, m.Currency, ref)
}

func CurrencySymbol(currency string) string {
	switch strings.ToUpper(currency) {
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "INR":
		return "₹"
	default:
		return strings.ToUpper(currency) + " "
	}
}

func FormatAmount(amount decimal.Decimal, currency string) string {
	return CurrencySymbol(currency) + amount.StringFixed(2)
}

// Registry is the read-only set of payment methods.
type Registry struct {
	order   []string
	methods map[string]Method
}

// NewRegistry validates methods and keeps them in the given order.
func NewRegistry(methods []Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]Method, len(methods))}
	providers := make(map[string]string)
	for _, m := range methods {
		if m.Key == "" {
			return nil, fmt.Errorf("payment method without key")
		}
		if _, dup := r.methods[m.Key]; dup {
			return nil, fmt.Errorf("duplicate payment method %q", m.Key)
		}
		if !m.Amount.IsPositive() {
			return nil, fmt.Errorf("payment method %q: amount must be positive", m.Key)
		}
		if len(m.Currency) != 3 {
			return nil, fmt.Errorf("payment method %q: currency must be a 3-letter code", m.Key)
		}
		switch s := m.Settlement.(type) {
		case Automated:
			if s.Provider == "" {
				return nil, fmt.Errorf("payment method %q: automated method needs a provider", m.Key)
			}
			if other, ok := providers[s.Provider]; ok {
				return nil, fmt.Errorf("payment methods %q and %q share provider %q", other, m.Key, s.Provider)
			}
			providers[s.Provider] = m.Key
		case Manual:
			if s.Destination.Kind == "" {
				return nil, fmt.Errorf("payment method %q: manual method needs a destination", m.Key)
			}
			if s.Destination.Kind != DestBank && s.Destination.Address == "" {
				return nil, fmt.Errorf("payment method %q: destination address is empty", m.Key)
			}
		default:
			return nil, fmt.Errorf("payment method %q: settlement is not set", m.Key)
		}
		m.Currency = strings.ToUpper(m.Currency)
		r.methods[m.Key] = m
		r.order = append(r.order, m.Key)
	}
	return r, nil
}

// RegistryFromConfig builds the registry from the payments section.
func RegistryFromConfig(cfgs []config.MethodConfig) (*Registry, error) {
	methods := make([]Method, 0, len(cfgs))
	for _, c := range cfgs {
		amount, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return nil, fmt.Errorf("payment method %q: bad amount %q: %w", c.Key, c.Amount, err)
		}
		m := Method{Key: c.Key, Name: c.Name, Amount: amount, Currency: c.Currency}
		switch c.Settlement {
		case "automated":
			m.Settlement = Automated{Provider: c.Provider}
		case "manual":
			m.Settlement = Manual{
				ProofRequired: c.ProofRequired,
				Destination: Destination{
					Kind:          DestinationKind(c.Kind),
					Address:       c.Address,
					Network:       c.Network,
					Scheme:        c.Scheme,
					Payee:         c.Payee,
					BankName:      c.BankName,
					AccountName:   c.AccountName,
					AccountNumber: c.AccountNumber,
					IFSC:          c.IFSC,
				},
			}
		}
		methods = append(methods, m)
	}
	return NewRegistry(methods)
}

// Resolve returns the method for key, or ErrUnknownMethod.
func (r *Registry) Resolve(key string) (Method, error) {
	m, ok := r.methods[key]
	if !ok {
		return Method{}, fmt.Errorf("%w: %q", ErrUnknownMethod, key)
	}
	return m, nil
}

// List returns methods in configured order.
func (r *Registry) List() []Method {
	out := make([]Method, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.methods[k])
	}
	return out
}
