package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/config"
)

type botCall struct {
	Method string
	Text   string
	Markup string
}

// fakeBotAPI answers the Bot API methods the channel uses.
type fakeBotAPI struct {
	srv   *httptest.Server
	mu    sync.Mutex
	calls []botCall
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		var result interface{}
		switch method {
		case "getMe":
			result = map[string]interface{}{"id": 1, "is_bot": true, "username": "storacha_bot"}
		case "sendMessage", "editMessageText":
			f.mu.Lock()
			f.calls = append(f.calls, botCall{Method: method, Text: r.FormValue("text"), Markup: r.FormValue("reply_markup")})
			f.mu.Unlock()
			result = map[string]interface{}{"message_id": 7, "chat": map[string]interface{}{"id": 42}, "date": 0}
		default:
			result = true
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) Calls() []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]botCall(nil), f.calls...)
}

func connectedTelegram(t *testing.T, f *fakeBotAPI) *TelegramChannel {
	t.Helper()
	cfg := &config.TelegramConfig{Enabled: true, Token: "123:abc", EditIntervalMs: 10}
	c := NewTelegramChannel(cfg, bus.NewMessageBus())
	c.Endpoint = f.srv.URL + "/bot%s/%s"
	require.NoError(t, c.Connect())
	return c
}

func TestTelegramSendButtons(t *testing.T) {
	f := newFakeBotAPI(t)
	c := connectedTelegram(t, f)

	err := c.Send(context.Background(), bus.OutboundMessage{
		ChatID:  "42",
		Content: "Select the type of data you want to upload:",
		Buttons: []bus.Button{{Text: "📄 PDF", Data: "upload:pdf"}, {Text: "🔗 URL", Data: "upload:url"}},
	})
	require.NoError(t, err)

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Contains(t, calls[0].Markup, `"callback_data":"upload:pdf"`)
	assert.Contains(t, calls[0].Markup, `"callback_data":"upload:url"`)
}

func TestTelegramSendStreamsEdits(t *testing.T) {
	f := newFakeBotAPI(t)
	c := connectedTelegram(t, f)

	updates := make(chan string, 4)
	updates <- "Hello▌"
	updates <- "Hello world▌"
	updates <- "Hello world"
	close(updates)

	err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "42", Content: "Hel▌", Updates: updates})
	require.NoError(t, err)

	calls := f.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, botCall{Method: "sendMessage", Text: "Hel▌"}, calls[0])
	last := calls[len(calls)-1]
	assert.Equal(t, "editMessageText", last.Method)
	assert.Equal(t, "Hello world", last.Text)
}

func TestTelegramSendRejectsBadChatID(t *testing.T) {
	f := newFakeBotAPI(t)
	c := connectedTelegram(t, f)
	assert.Error(t, c.Send(context.Background(), bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}))
}

func TestInboundFromMessage(t *testing.T) {
	from := &tgbotapi.User{ID: 42, UserName: "ada"}
	chat := &tgbotapi.Chat{ID: 42}

	in, fileID := inboundFromMessage(&tgbotapi.Message{From: from, Chat: chat, Text: "/upload"})
	assert.Empty(t, fileID)
	assert.Equal(t, bus.InboundText, in.Kind)
	assert.Equal(t, "42|ada", in.SenderID)
	assert.Equal(t, "42", in.ChatID)
	assert.Equal(t, "/upload", in.Content)

	in, fileID = inboundFromMessage(&tgbotapi.Message{From: from, Chat: chat,
		Document: &tgbotapi.Document{FileID: "doc-1", FileName: "paper.pdf", MimeType: "application/pdf"}})
	assert.Equal(t, "doc-1", fileID)
	assert.Equal(t, bus.InboundDocument, in.Kind)
	assert.Equal(t, "paper.pdf", in.Attachment.FileName)

	in, fileID = inboundFromMessage(&tgbotapi.Message{From: from, Chat: chat, Caption: "what is this?",
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}})
	assert.Equal(t, "large", fileID)
	assert.Equal(t, bus.InboundPhoto, in.Kind)
	assert.Equal(t, "what is this?", in.Content)
}
