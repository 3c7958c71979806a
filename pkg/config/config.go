package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every structured environment override, e.g.
// RAGBOT_KNOWLEDGE_RAG_API_URL. Fields with an envconfig tag also match the
// bare tag (RAG_API_URL).
const EnvPrefix = "ragbot"

type TelegramConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Token          string   `json:"token" yaml:"token" envconfig:"TELEGRAM_BOT_TOKEN" validate:"required_if=Enabled true"`
	AllowFrom      []string `json:"allowFrom" yaml:"allowFrom"`
	Proxy          string   `json:"proxy,omitempty" yaml:"proxy,omitempty" validate:"omitempty,url"`
	EditIntervalMs int      `json:"editIntervalMs" yaml:"editIntervalMs" validate:"gte=0"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	AppID             string   `json:"appId" yaml:"appId" envconfig:"FEISHU_APP_ID" validate:"required_if=Enabled true"`
	AppSecret         string   `json:"appSecret" yaml:"appSecret" envconfig:"FEISHU_APP_SECRET" validate:"required_if=Enabled true"`
	EncryptKey        string   `json:"encryptKey" yaml:"encryptKey"`
	VerificationToken string   `json:"verificationToken" yaml:"verificationToken"`
	AllowFrom         []string `json:"allowFrom" yaml:"allowFrom"`
}

type DingTalkConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	ClientID   string   `json:"clientId" yaml:"clientId" envconfig:"DINGTALK_CLIENT_ID" validate:"required_if=Enabled true"`
	AppSecret  string   `json:"appSecret" yaml:"appSecret" envconfig:"DINGTALK_APP_SECRET" validate:"required_if=Enabled true"`
	RobotCode  string   `json:"robotCode" yaml:"robotCode"`
	TemplateID string   `json:"templateId,omitempty" yaml:"templateId,omitempty"`
	AllowFrom  []string `json:"allowFrom" yaml:"allowFrom"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Feishu   FeishuConfig   `json:"feishu" yaml:"feishu"`
	DingTalk DingTalkConfig `json:"dingtalk" yaml:"dingtalk"`
}

// KnowledgeConfig points at the retrieval-augmented backend.
type KnowledgeConfig struct {
	BaseURL               string `json:"baseUrl" yaml:"baseUrl" envconfig:"RAG_API_URL" validate:"required,url"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds" validate:"gte=1"`
	UploadTimeoutSeconds  int    `json:"uploadTimeoutSeconds" yaml:"uploadTimeoutSeconds" validate:"gte=1"`
}

// RequestTimeout bounds text uploads, URL uploads and queries.
func (k KnowledgeConfig) RequestTimeout() time.Duration {
	return time.Duration(k.RequestTimeoutSeconds) * time.Second
}

// UploadTimeout bounds PDF uploads.
func (k KnowledgeConfig) UploadTimeout() time.Duration {
	return time.Duration(k.UploadTimeoutSeconds) * time.Second
}

// VisionConfig configures the streaming image analysis service.
type VisionConfig struct {
	APIKey       string `json:"apiKey" yaml:"apiKey" envconfig:"MISTRAL_API_KEY"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" envconfig:"MISTRAL_API_BASE" validate:"omitempty,url"`
	Model        string `json:"model" yaml:"model" validate:"required"`
	SafeMode     bool   `json:"safeMode" yaml:"safeMode"`
	SystemPrompt string `json:"systemPrompt" yaml:"systemPrompt"`
	UserPrompt   string `json:"userPrompt" yaml:"userPrompt"`
}

// SessionsConfig controls in-memory session housekeeping.
type SessionsConfig struct {
	// IdleTTLMinutes resets sessions idle for longer than this. 0 disables sweeping.
	IdleTTLMinutes int    `json:"idleTtlMinutes" yaml:"idleTtlMinutes" validate:"gte=0"`
	SweepSchedule  string `json:"sweepSchedule" yaml:"sweepSchedule" validate:"required_unless=IdleTTLMinutes 0"`
}

// IdleTTL returns the idle timeout, or 0 when sweeping is disabled.
func (s SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

type ChatConfig struct {
	SessionKey string `json:"sessionKey" yaml:"sessionKey" validate:"required"`
	Cursor     string `json:"cursor" yaml:"cursor"`
}

type LogConfig struct {
	Dir   string `json:"dir" yaml:"dir"`
	Level string `json:"level" yaml:"level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

type Config struct {
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	Vision    VisionConfig    `json:"vision" yaml:"vision"`
	Sessions  SessionsConfig  `json:"sessions" yaml:"sessions"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Chat      ChatConfig      `json:"chat" yaml:"chat"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Knowledge: KnowledgeConfig{
			BaseURL:               "http://localhost:3000/rag",
			RequestTimeoutSeconds: 30,
			UploadTimeoutSeconds:  600,
		},
		Vision: VisionConfig{
			APIBase:      "https://api.mistral.ai/v1",
			Model:        "pixtral-12b-2409",
			SafeMode:     true,
			SystemPrompt: "You are a helpful AI assistant with vision capabilities.",
			UserPrompt:   "Analyze this image:",
		},
		Sessions: SessionsConfig{
			SweepSchedule: "@every 10m",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{EditIntervalMs: 800},
		},
		Chat: ChatConfig{
			SessionKey: "chat:default",
			Cursor:     "▌",
		},
		Log: LogConfig{
			Dir:   "~/.ragbot/logs",
			Level: "info",
		},
	}
}

// DefaultPath is where onboard writes and LoadConfig looks when no path is given.
func DefaultPath() string {
	return ExpandPath(filepath.Join("~", ".ragbot", "config.json"))
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// LoadConfig loads the configuration from the given path, then applies .env
// and environment overrides and validates the result. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

var validate = validator.New()

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SaveConfig writes cfg as indented JSON, or YAML when path ends in .yaml/.yml.
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
