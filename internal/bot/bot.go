package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/config"
)

// Messenger is the part of the Bot API the dispatcher needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyMarkup any) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, replyMarkup any) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, replyMarkup any) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

type Client struct {
	httpc  *http.Client
	apiURL string
	log    *zap.Logger
}

var _ Messenger = (*Client)(nil)

func NewClient(cfg config.TelegramConfig, log *zap.Logger) *Client {
	return &Client{
		apiURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		// Long polling holds requests for up to pollTimeout.
		httpc: &http.Client{Timeout: pollTimeout + 10*time.Second},
		log:   log.Named("telegram"),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("telegram %s: %s", method, resp.Status)
	}
	if !ar.OK {
		c.log.Warn("api call failed",
			zap.String("method", method),
			zap.Int("error_code", ar.ErrorCode),
			zap.String("description", ar.Description))
		return fmt.Errorf("telegram %s: %d %s", method, ar.ErrorCode, ar.Description)
	}
	if out != nil {
		return json.Unmarshal(ar.Result, out)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup any) error {
	data := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if replyMarkup != nil {
		data["reply_markup"] = replyMarkup
	}
	return c.call(ctx, "sendMessage", data, nil)
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, replyMarkup any) error {
	data := map[string]any{
		"chat_id": chatID,
		"photo":   photoURL, // served by /qr/{ref}.png
	}
	if caption != "" {
		data["caption"] = caption
		data["parse_mode"] = "HTML"
	}
	if replyMarkup != nil {
		data["reply_markup"] = replyMarkup
	}
	return c.call(ctx, "sendPhoto", data, nil)
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, replyMarkup any) error {
	data := map[string]any{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if replyMarkup != nil {
		data["reply_markup"] = replyMarkup
	}
	return c.call(ctx, "editMessageText", data, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	data := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		data["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", data, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var out []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(pollTimeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}, &out)
	return out, err
}
