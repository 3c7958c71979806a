package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/config"
	"github.com/storacha-rag/ragbot/pkg/utils"
)

// TelegramChannel implements the Telegram channel: long polling for updates,
// inline keyboards for upload type selection and in-place edits for
// streamed replies.
type TelegramChannel struct {
	BaseChannel
	Config *config.TelegramConfig

	// Endpoint overrides the Bot API endpoint format, e.g. for a local Bot API server.
	Endpoint string

	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config:   cfg,
		Endpoint: tgbotapi.APIEndpoint,
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

// Connect authorizes the bot without starting to poll.
func (c *TelegramChannel) Connect() error {
	c.httpClient = &http.Client{}
	if c.Config.Proxy != "" {
		proxyURL, err := url.Parse(c.Config.Proxy)
		if err != nil {
			return fmt.Errorf("invalid telegram proxy: %w", err)
		}
		c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.Config.Token, c.Endpoint, c.httpClient)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot
	zap.S().Infow("Telegram bot authorized", "account", bot.Self.UserName)
	return nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}
	if c.bot == nil {
		if err := c.Connect(); err != nil {
			return err
		}
	}

	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(ctx, update)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	c.wg.Wait()
	return nil
}

// Send delivers a reply. Buttons become an inline keyboard; a reply with
// Updates is sent once and then edited at most every EditIntervalMs.
func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %s", msg.ChatID)
	}

	if msg.Content == "" && msg.Updates == nil {
		return nil
	}

	reply := tgbotapi.NewMessage(chatID, msg.Content)
	if len(msg.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	sent, err := c.bot.Send(reply)
	if err != nil {
		if msg.Updates != nil {
			finalRendering(ctx, msg)
		}
		return err
	}
	if msg.Updates != nil {
		return c.streamEdits(ctx, chatID, sent.MessageID, msg.Content, msg.Updates)
	}
	return nil
}

func (c *TelegramChannel) streamEdits(ctx context.Context, chatID int64, messageID int, shown string, updates <-chan string) error {
	interval := time.Duration(c.Config.EditIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	// Telegram rejects edits that do not change the text; followStream skips those
	return followStream(ctx, c.Name(), shown, updates, interval, func(text string) error {
		_, err := c.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
		return err
	})
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if _, err := c.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			zap.S().Debugw("Failed to answer callback", "err", err)
		}
		if cb.Message == nil || cb.From == nil {
			return
		}
		c.HandleMessage(ctx, bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: senderID(cb.From),
			ChatID:   strconv.FormatInt(cb.Message.Chat.ID, 10),
			Kind:     bus.InboundSelection,
			Content:  cb.Data,
		})
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	in, fileID := inboundFromMessage(msg)
	if fileID != "" {
		if !c.IsAllowed(in.SenderID) {
			return
		}
		att, err := c.download(ctx, fileID, in.Attachment)
		if err != nil {
			zap.S().Warnw("Telegram download failed", "chat", in.ChatID, "err", err)
			c.reply(msg.Chat.ID, "⚠️ Error: could not download the file.")
			return
		}
		in.Attachment = att
	}
	c.HandleMessage(ctx, in)
}

// inboundFromMessage converts a Telegram message. For documents and photos
// it returns the file to download; the attachment then carries only metadata.
func inboundFromMessage(msg *tgbotapi.Message) (bus.InboundMessage, string) {
	in := bus.InboundMessage{
		Channel:  "telegram",
		SenderID: senderID(msg.From),
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		Kind:     bus.InboundText,
		Content:  msg.Text,
		Metadata: map[string]interface{}{
			"message_id": msg.MessageID,
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
		},
	}

	switch {
	case msg.Document != nil:
		in.Kind = bus.InboundDocument
		in.Content = msg.Caption
		in.Attachment = &bus.Attachment{FileName: msg.Document.FileName, MimeType: msg.Document.MimeType}
		return in, msg.Document.FileID
	case len(msg.Photo) > 0:
		// sizes are ascending; the last is the original resolution
		photo := msg.Photo[len(msg.Photo)-1]
		in.Kind = bus.InboundPhoto
		in.Content = msg.Caption
		in.Attachment = &bus.Attachment{MimeType: "image/jpeg"}
		return in, photo.FileID
	}
	return in, ""
}

func (c *TelegramChannel) download(ctx context.Context, fileID string, att *bus.Attachment) (*bus.Attachment, error) {
	link, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	data, name, err := utils.FetchMedia(ctx, c.httpClient, link, utils.MaxMediaSize)
	if err != nil {
		return nil, err
	}
	out := *att
	out.Data = data
	if out.FileName == "" {
		out.FileName = name
	}
	return &out, nil
}

func (c *TelegramChannel) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		zap.S().Warnw("Telegram send failed", "chat", chatID, "err", err)
	}
}

func senderID(u *tgbotapi.User) string {
	id := strconv.FormatInt(u.ID, 10)
	if u.UserName != "" {
		id = fmt.Sprintf("%s|%s", id, u.UserName)
	}
	return id
}
