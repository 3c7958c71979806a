package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/config"
)

const cardTitle = "Storacha RAG Bot"

// FeishuChannel implements the Feishu channel. Events arrive over the
// WebSocket client; replies are sent as interactive cards. Only text is
// collected, so upload options are listed in the card body.
type FeishuChannel struct {
	BaseChannel
	Config   *config.FeishuConfig
	client   *lark.Client
	wsClient *larkws.Client
	cancel   context.CancelFunc
}

// NewFeishuChannel creates a new FeishuChannel.
func NewFeishuChannel(cfg *config.FeishuConfig, messageBus *bus.MessageBus) *FeishuChannel {
	return &FeishuChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *FeishuChannel) Name() string {
	return "feishu"
}

func (c *FeishuChannel) Start(ctx context.Context) error {
	if !c.Config.Enabled || c.Config.AppID == "" || c.Config.AppSecret == "" {
		return nil
	}

	c.client = lark.NewClient(c.Config.AppID, c.Config.AppSecret)

	handler := larkdispatcher.NewEventDispatcher(c.Config.VerificationToken, c.Config.EncryptKey).
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			msg := event.Event.Message
			if msg == nil || msg.Content == nil || msg.ChatId == nil || event.Event.Sender == nil ||
				event.Event.Sender.SenderId == nil || event.Event.Sender.SenderId.OpenId == nil {
				return nil
			}
			msgType := ""
			if msg.MessageType != nil {
				msgType = *msg.MessageType
			}

			c.HandleMessage(ctx, bus.InboundMessage{
				Channel:  c.Name(),
				SenderID: *event.Event.Sender.SenderId.OpenId,
				ChatID:   *msg.ChatId,
				Kind:     bus.InboundText,
				Content:  feishuText(msgType, *msg.Content),
			})
			return nil
		})

	c.wsClient = larkws.NewClient(
		c.Config.AppID,
		c.Config.AppSecret,
		larkws.WithEventHandler(handler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		zap.S().Info("Starting Feishu WebSocket client")
		if err := c.wsClient.Start(ctx); err != nil {
			zap.S().Errorw("Feishu WebSocket error", "err", err)
		}
	}()

	zap.S().Info("Feishu bot started")
	return nil
}

// feishuText extracts the user's text from a message payload. Non-text
// messages map to their type in brackets, which the bot rejects as
// unexpected input.
func feishuText(msgType, content string) string {
	var text struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &text); err == nil && text.Text != "" {
		// mentions arrive as @_user_N placeholders
		fields := strings.Fields(text.Text)
		kept := fields[:0]
		for _, f := range fields {
			if !strings.HasPrefix(f, "@_user_") {
				kept = append(kept, f)
			}
		}
		return strings.Join(kept, " ")
	}
	if msgType == "" {
		return content
	}
	return "[" + msgType + "]"
}

func (c *FeishuChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a reply as an interactive card. A streamed reply is sent
// once and the card is patched with later renderings, at most once a second.
func (c *FeishuChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.client == nil {
		if msg.Updates != nil {
			finalRendering(ctx, msg)
		}
		return fmt.Errorf("feishu client not initialized")
	}
	if msg.Updates == nil {
		_, err := c.createCard(ctx, msg.ChatID, buttonHint(msg.Content, msg.Buttons))
		return err
	}

	messageID, err := c.createCard(ctx, msg.ChatID, msg.Content)
	if err != nil || messageID == "" {
		last := finalRendering(ctx, msg)
		if err == nil && last != msg.Content {
			_, err = c.createCard(ctx, msg.ChatID, last)
		}
		return err
	}
	return followStream(ctx, c.Name(), msg.Content, msg.Updates, time.Second, func(content string) error {
		return c.patchCard(ctx, messageID, content)
	})
}

// createCard sends content as a card and returns the new message ID.
func (c *FeishuChannel) createCard(ctx context.Context, chatID, content string) (string, error) {
	if content == "" {
		return "", nil
	}
	receiveIDType := larkim.ReceiveIdTypeOpenId
	if strings.HasPrefix(chatID, "oc_") {
		receiveIDType = larkim.ReceiveIdTypeChatId
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeInteractive).
			Content(feishuCard(content)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu error: %d %s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", nil
	}
	return *resp.Data.MessageId, nil
}

// patchCard replaces the content of a sent card.
func (c *FeishuChannel) patchCard(ctx context.Context, messageID, content string) error {
	req := larkim.NewPatchMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewPatchMessageReqBodyBuilder().
			Content(feishuCard(content)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Patch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu patch error: %d %s", resp.Code, resp.Msg)
	}
	return nil
}

func feishuCard(content string) string {
	card := map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
			// required for the card to be patched in place
			"update_multi": true,
		},
		"header": map[string]interface{}{
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": cardTitle,
			},
			"template": "blue",
		},
		"elements": []interface{}{
			map[string]interface{}{
				"tag": "div",
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": content,
				},
			},
		},
	}
	data, _ := json.Marshal(card)
	return string(data)
}
