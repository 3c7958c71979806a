package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dingtalkim "github.com/alibabacloud-go/dingtalk/im_1_0"
	dingtalkoauth2 "github.com/alibabacloud-go/dingtalk/oauth2_1_0"
	dingtalkrobot "github.com/alibabacloud-go/dingtalk/robot_1_0"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/google/uuid"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/logger"
	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/config"
)

// DingTalkChannel implements the DingTalk channel. Messages arrive over the
// Stream SDK; replies go through the robot API, or an interactive card when a
// template is configured and the reply is streamed.
type DingTalkChannel struct {
	BaseChannel
	Config       *config.DingTalkConfig
	streamClient *client.StreamClient
	robotClient  *dingtalkrobot.Client
	imClient     *dingtalkim.Client
	oauthClient  *dingtalkoauth2.Client

	tokenMu       sync.RWMutex
	accessToken   string
	tokenExpireAt time.Time
}

func NewDingTalkChannel(cfg *config.DingTalkConfig, messageBus *bus.MessageBus) *DingTalkChannel {
	return &DingTalkChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *DingTalkChannel) Name() string {
	return "dingtalk"
}

func (c *DingTalkChannel) Start(ctx context.Context) error {
	if !c.Config.Enabled || c.Config.ClientID == "" || c.Config.AppSecret == "" {
		return nil
	}

	apiConfig := &openapi.Config{
		Protocol: tea.String("https"),
		RegionId: tea.String("central"),
	}

	robotClient, err := dingtalkrobot.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk robot client: %v", err)
	}
	c.robotClient = robotClient

	imClient, err := dingtalkim.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk im client: %v", err)
	}
	c.imClient = imClient

	oauthClient, err := dingtalkoauth2.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk oauth client: %v", err)
	}
	c.oauthClient = oauthClient

	logger.SetLogger(logger.NewStdTestLogger())
	c.streamClient = client.NewStreamClient(client.WithAppCredential(client.NewAppCredentialConfig(c.Config.ClientID, c.Config.AppSecret)))
	c.streamClient.RegisterChatBotCallbackRouter(c.onChatReceive)

	if err := c.streamClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dingtalk stream client: %w", err)
	}

	zap.S().Info("DingTalk bot started")
	return nil
}

func (c *DingTalkChannel) Stop() error {
	if c.streamClient != nil {
		c.streamClient.Close()
	}
	return nil
}

func (c *DingTalkChannel) getAccessToken() (string, error) {
	if c.oauthClient == nil {
		return "", fmt.Errorf("dingtalk client not initialized")
	}
	c.tokenMu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		defer c.tokenMu.RUnlock()
		return c.accessToken, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	// Double check
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		return c.accessToken, nil
	}

	req := &dingtalkoauth2.GetAccessTokenRequest{
		AppKey:    tea.String(c.Config.ClientID),
		AppSecret: tea.String(c.Config.AppSecret),
	}
	resp, err := c.oauthClient.GetAccessToken(req)
	if err != nil {
		return "", err
	}

	if resp.Body == nil || resp.Body.AccessToken == nil {
		return "", fmt.Errorf("failed to get access token, response body is empty")
	}

	c.accessToken = *resp.Body.AccessToken
	// ExpireIn is seconds. Buffer it by 60s
	expireIn := *resp.Body.ExpireIn
	c.tokenExpireAt = time.Now().Add(time.Duration(expireIn-60) * time.Second)

	return c.accessToken, nil
}

func (c *DingTalkChannel) onChatReceive(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	in, ok := inboundFromDingTalk(data)
	if !ok {
		zap.S().Debugw("Ignoring DingTalk callback without text or sender", "msgtype", data.Msgtype)
		return nil, nil
	}
	zap.S().Debugw("DingTalk message", "sender", in.SenderID, "conversation_type", data.ConversationType, "chat", in.ChatID)
	c.HandleMessage(ctx, in)
	return nil, nil
}

// inboundFromDingTalk converts a robot callback. Group conversations
// (type "2") are answered in the group; single chats to the sender.
func inboundFromDingTalk(data *chatbot.BotCallbackDataModel) (bus.InboundMessage, bool) {
	content := strings.TrimSpace(data.Text.Content)
	sender := data.SenderStaffId
	if sender == "" {
		sender = data.SenderId
	}
	if content == "" || sender == "" {
		return bus.InboundMessage{}, false
	}

	target := sender
	if data.ConversationType == "2" && data.ConversationId != "" {
		target = data.ConversationId
	}
	return bus.InboundMessage{
		Channel:  "dingtalk",
		SenderID: sender,
		ChatID:   target,
		Kind:     bus.InboundText,
		Content:  content,
		Metadata: map[string]interface{}{
			"sender_name": data.SenderNick,
		},
	}, true
}

type dingTalkSampleTextParam struct {
	Content string `json:"content"`
}

func (c *DingTalkChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	token, err := c.getAccessToken()
	if err != nil {
		if msg.Updates != nil {
			finalRendering(ctx, msg)
		}
		return fmt.Errorf("failed to get access token: %w", err)
	}

	if msg.Updates != nil && c.Config.TemplateID != "" {
		return c.sendStream(ctx, msg, token)
	}
	return c.sendText(ctx, token, msg)
}

// sendText sends a reply as robot text messages. Without a card template a
// streamed reply is sent as its first rendering followed by its final one.
func (c *DingTalkChannel) sendText(ctx context.Context, token string, msg bus.OutboundMessage) error {
	first := msg
	first.Content = buttonHint(msg.Content, msg.Buttons)
	if err := c.sendRobot(token, first); err != nil {
		if msg.Updates != nil {
			finalRendering(ctx, msg)
		}
		return err
	}
	if msg.Updates == nil {
		return nil
	}

	last := finalRendering(ctx, msg)
	if last == msg.Content || last == "" {
		return nil
	}
	msg.Content = last
	return c.sendRobot(token, msg)
}

func (c *DingTalkChannel) sendRobot(token string, msg bus.OutboundMessage) error {
	if msg.Content == "" {
		return nil
	}
	// conversation IDs start with "cid"; anything else is a staff ID
	if strings.HasPrefix(msg.ChatID, "cid") {
		if err := c.sendGroup(token, msg); err != nil {
			return fmt.Errorf("failed to send dingtalk group message: %w", err)
		}
		return nil
	}
	if err := c.sendOTO(token, msg); err != nil {
		return fmt.Errorf("failed to send dingtalk message (OTO): %w", err)
	}
	return nil
}

// sendStream shows a streamed reply in an interactive card, updating it at
// most every 200ms to stay under the API rate limit.
func (c *DingTalkChannel) sendStream(ctx context.Context, msg bus.OutboundMessage, token string) error {
	outTrackID := uuid.New().String()
	isGroup := strings.HasPrefix(msg.ChatID, "cid")

	if err := c.createInteractiveCard(token, outTrackID, msg.ChatID, isGroup, msg.Content); err != nil {
		zap.S().Warnw("DingTalk card creation failed, falling back to text", "err", err)
		return c.sendText(ctx, token, msg)
	}

	return followStream(ctx, c.Name(), msg.Content, msg.Updates, 200*time.Millisecond, func(content string) error {
		return c.updateInteractiveCard(token, outTrackID, content)
	})
}

// createInteractiveCard sends a card instance from the configured template.
func (c *DingTalkChannel) createInteractiveCard(token, outTrackId, targetId string, isGroup bool, content string) error {
	headers := &dingtalkim.SendInteractiveCardHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	req := &dingtalkim.SendInteractiveCardRequest{
		OutTrackId:     tea.String(outTrackId),
		CardTemplateId: tea.String(c.Config.TemplateID),
		CardData: &dingtalkim.SendInteractiveCardRequestCardData{
			CardParamMap: map[string]*string{
				"content":         tea.String(content),
				"text":            tea.String(content),
				"markdown":        tea.String(content),
				"body":            tea.String(content),
				"message":         tea.String(content),
				"description":     tea.String(content),
				"title":           tea.String(content),
				"header":          tea.String(content),
				"markdownContent": tea.String(content),
			},
		},
		RobotCode: tea.String(c.Config.RobotCode),
	}

	if isGroup {
		req.ConversationType = tea.Int32(1)
		req.OpenConversationId = tea.String(targetId)
	} else {
		req.ConversationType = tea.Int32(0)
		req.ReceiverUserIdList = []*string{tea.String(targetId)}
	}

	_, err := c.imClient.SendInteractiveCardWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}

// updateInteractiveCard replaces the content of a sent card.
func (c *DingTalkChannel) updateInteractiveCard(token, outTrackId, content string) error {
	headers := &dingtalkim.UpdateInteractiveCardHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	req := &dingtalkim.UpdateInteractiveCardRequest{
		OutTrackId: tea.String(outTrackId),
		CardData: &dingtalkim.UpdateInteractiveCardRequestCardData{
			CardParamMap: map[string]*string{
				"content":     tea.String(content),
				"lastMessage": tea.String(content),
			},
		},
		CardOptions: &dingtalkim.UpdateInteractiveCardRequestCardOptions{
			UpdateCardDataByKey: tea.Bool(false),
		},
	}

	_, err := c.imClient.UpdateInteractiveCardWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}

func (c *DingTalkChannel) sendOTO(token string, msg bus.OutboundMessage) error {
	headers := &dingtalkrobot.BatchSendOTOHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	param := dingTalkSampleTextParam{Content: msg.Content}
	msgParamBytes, _ := json.Marshal(param)

	req := &dingtalkrobot.BatchSendOTORequest{
		RobotCode: tea.String(c.Config.RobotCode),
		UserIds:   []*string{tea.String(msg.ChatID)},
		MsgKey:    tea.String("sampleText"),
		MsgParam:  tea.String(string(msgParamBytes)),
	}

	_, err := c.robotClient.BatchSendOTOWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}

func (c *DingTalkChannel) sendGroup(token string, msg bus.OutboundMessage) error {
	headers := &dingtalkrobot.OrgGroupSendHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	param := dingTalkSampleTextParam{Content: msg.Content}
	msgParamBytes, _ := json.Marshal(param)

	req := &dingtalkrobot.OrgGroupSendRequest{
		RobotCode:          tea.String(c.Config.RobotCode),
		OpenConversationId: tea.String(msg.ChatID),
		MsgKey:             tea.String("sampleText"),
		MsgParam:           tea.String(string(msgParamBytes)),
	}

	_, err := c.robotClient.OrgGroupSendWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}
