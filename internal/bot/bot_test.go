package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lojf/paygate/internal/config"
)

// fakeTelegram answers Bot API calls under /bot<token>/<method>.
type fakeTelegram struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	updates  []Update
}

func newFakeTelegram(t *testing.T) (*fakeTelegram, *httptest.Server) {
	t.Helper()
	f := &fakeTelegram{requests: make(map[string][]map[string]any)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/botTOKEN/sendMessage", "/botTOKEN/editMessageText", "/botTOKEN/answerCallbackQuery", "/botTOKEN/sendPhoto":
			method := r.URL.Path[len("/botTOKEN/"):]
			f.requests[method] = append(f.requests[method], body)
			if body["chat_id"] == float64(-1) {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		case "/botTOKEN/getUpdates":
			f.requests["getUpdates"] = append(f.requests["getUpdates"], body)
			ups := f.updates
			f.updates = nil
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": ups})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTelegram) calls(method string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func testClient(srv *httptest.Server) *Client {
	return NewClient(config.TelegramConfig{APIURL: srv.URL, Token: "TOKEN"}, zap.NewNop())
}

func TestClient_SendMessage(t *testing.T) {
	f, srv := newFakeTelegram(t)
	c := testClient(srv)

	err := c.SendMessage(context.Background(), 42, "<b>hi</b>", statusKeyboard())
	require.NoError(t, err)

	reqs := f.calls("sendMessage")
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(42), reqs[0]["chat_id"])
	assert.Equal(t, "HTML", reqs[0]["parse_mode"])
	markup, ok := reqs[0]["reply_markup"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, markup, "inline_keyboard")
}

func TestClient_APIError(t *testing.T) {
	_, srv := newFakeTelegram(t)
	c := testClient(srv)

	err := c.SendMessage(context.Background(), -1, "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "blocked")
}

func TestClient_AnswerCallbackOmitsEmptyText(t *testing.T) {
	f, srv := newFakeTelegram(t)
	c := testClient(srv)

	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb", ""))
	reqs := f.calls("answerCallbackQuery")
	require.Len(t, reqs, 1)
	assert.Equal(t, "cb", reqs[0]["callback_query_id"])
	assert.NotContains(t, reqs[0], "text")
}

func TestPoller_DispatchesAndAdvancesOffset(t *testing.T) {
	f, srv := newFakeTelegram(t)
	f.updates = []Update{
		{UpdateID: 10, Message: &Message{From: &User{ID: userID, FirstName: "Ann"}, Chat: &Chat{ID: userID}, Text: "/help"}},
		{UpdateID: 11, Message: &Message{From: &User{ID: userID, FirstName: "Ann"}, Chat: &Chat{ID: userID}, Text: "/help"}},
	}

	b := newTestBot(t)
	p := NewPoller(testClient(srv), b.d, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.calls("getUpdates")) >= 2 && len(b.m.to(userID)) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	polls := f.calls("getUpdates")
	assert.Equal(t, float64(0), polls[0]["offset"])
	assert.Equal(t, float64(12), polls[1]["offset"])
	assert.Contains(t, b.m.last(userID), "/pay")
}
