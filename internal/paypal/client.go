// Package paypal is a small client for the PayPal REST v1 payments API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/services"
)

// Tokens are refreshed this long before PayPal says they expire.
const tokenSkew = time.Minute

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	timeout      time.Duration
	http         *http.Client
	log          *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ services.Gateway = (*Client)(nil)

func NewClient(cfg config.PayPalConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:      cfg.APIBase(),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      cfg.Timeout,
		http:         &http.Client{Timeout: cfg.Timeout},
		log:          log.Named("paypal"),
	}
}

type amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type sale struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Amount amount `json:"amount"`
}

type transaction struct {
	Amount           amount `json:"amount"`
	Description      string `json:"description,omitempty"`
	InvoiceNumber    string `json:"invoice_number,omitempty"`
	RelatedResources []struct {
		Sale *sale `json:"sale,omitempty"`
	} `json:"related_resources,omitempty"`
}

type payment struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Payer struct {
		PaymentMethod string `json:"payment_method"`
		PayerInfo     struct {
			PayerID string `json:"payer_id"`
		} `json:"payer_info"`
	} `json:"payer"`
	Transactions []transaction `json:"transactions"`
	Links        []link        `json:"links"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Desc    string `json:"error_description"`
}

// CreateCharge creates a sale payment and returns its approval URL.
func (c *Client) CreateCharge(ctx context.Context, req services.ChargeRequest) (*services.Charge, error) {
	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"redirect_urls": map[string]string{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
		"transactions": []transaction{{
			Amount:        amount{Total: req.Amount.StringFixed(2), Currency: req.Currency},
			Description:   req.Description,
			InvoiceNumber: req.Ref,
		}},
	}
	var p payment
	if err := c.do(ctx, "create", http.MethodPost, "/v1/payments/payment", body, &p); err != nil {
		return nil, err
	}
	for _, l := range p.Links {
		if l.Rel == "approval_url" {
			c.log.Info("payment created", zap.String("ref", req.Ref), zap.String("payment_id", p.ID))
			return &services.Charge{GatewayPaymentID: p.ID, ApprovalURL: l.Href}, nil
		}
	}
	return nil, &services.GatewayError{Op: "create", Code: "NO_APPROVAL_URL", Message: "response has no approval_url"}
}

// Capture executes an approved payment for the payer.
func (c *Client) Capture(ctx context.Context, paymentID, payerID string) (*services.CaptureResult, error) {
	var p payment
	path := "/v1/payments/payment/" + url.PathEscape(paymentID) + "/execute"
	if err := c.do(ctx, "capture", http.MethodPost, path, map[string]string{"payer_id": payerID}, &p); err != nil {
		return nil, err
	}
	return toResult(&p, "capture")
}

// CheckStatus reads the current state of a payment.
func (c *Client) CheckStatus(ctx context.Context, paymentID string) (*services.CaptureResult, error) {
	var p payment
	if err := c.do(ctx, "status", http.MethodGet, "/v1/payments/payment/"+url.PathEscape(paymentID), nil, &p); err != nil {
		return nil, err
	}
	return toResult(&p, "status")
}

func toResult(p *payment, op string) (*services.CaptureResult, error) {
	if len(p.Transactions) == 0 {
		return nil, &services.GatewayError{Op: op, Code: "NO_TRANSACTIONS", Message: "payment has no transactions"}
	}
	tx := p.Transactions[0]
	total, err := decimal.NewFromString(tx.Amount.Total)
	if err != nil {
		return nil, &services.GatewayError{Op: op, Code: "PARSE_ERROR", Message: "bad amount " + tx.Amount.Total, Err: err}
	}

	state := p.State
	for _, rr := range tx.RelatedResources {
		if rr.Sale == nil {
			continue
		}
		switch rr.Sale.State {
		case "completed":
			state = services.CaptureCompleted
		case "denied", "refunded", "partially_refunded":
			state = services.CaptureFailed
		}
	}
	return &services.CaptureResult{
		GatewayPaymentID: p.ID,
		PayerID:          p.Payer.PayerInfo.PayerID,
		Amount:           total,
		Currency:         strings.ToUpper(tx.Amount.Currency),
		State:            state,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form))
	if err != nil {
		return "", &services.GatewayError{Op: "auth", Code: "REQUEST_ERROR", Err: err}
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.roundTrip(req, "auth", &tok); err != nil {
		return "", err
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &services.GatewayError{Op: op, Code: "MARSHAL_ERROR", Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &services.GatewayError{Op: op, Code: "REQUEST_ERROR", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	err = c.roundTrip(req, op, out)
	var ge *services.GatewayError
	if errors.As(err, &ge) && ge.Code == "401" {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	return err
}

func (c *Client) roundTrip(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("op", op), zap.Error(err))
		return &services.GatewayError{Op: op, Code: "API_ERROR", Message: "request failed", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &services.GatewayError{Op: op, Code: "RESPONSE_ERROR", Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e apiError
		_ = json.Unmarshal(respBody, &e)
		msg := e.Message
		if msg == "" {
			msg = e.Desc
		}
		if msg == "" {
			msg = e.Name + e.Error
		}
		c.log.Error("api error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("name", e.Name),
			zap.String("message", msg))
		return &services.GatewayError{
			Op:        op,
			Code:      fmt.Sprintf("%d", resp.StatusCode),
			Message:   msg,
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &services.GatewayError{Op: op, Code: "PARSE_ERROR", Message: "failed to parse response", Err: err}
	}
	return nil
}
