package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/agent"
	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/channels"
	"github.com/storacha-rag/ragbot/pkg/cli"
	"github.com/storacha-rag/ragbot/pkg/config"
	"github.com/storacha-rag/ragbot/pkg/cron"
	"github.com/storacha-rag/ragbot/pkg/knowledge"
	"github.com/storacha-rag/ragbot/pkg/providers"
	"github.com/storacha-rag/ragbot/pkg/session"
	"github.com/storacha-rag/ragbot/pkg/utils"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ragbot <command> [args]")
		fmt.Println("Commands: chat, gateway, onboard, status, version")
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "chat":
		runChat(os.Args[2:])
	case "gateway":
		runGateway(os.Args[2:])
	case "onboard":
		runOnboard(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("ragbot %s\n", version)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		os.Exit(1)
	}
}

func loadConfig(name string, args []string) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogger(cfg *config.Config, fileOnly bool) func() {
	flush, err := utils.SetupLogger(utils.LogOptions{
		Dir:      config.ExpandPath(cfg.Log.Dir),
		Level:    cfg.Log.Level,
		FileOnly: fileOnly,
	})
	if err != nil {
		fmt.Printf("Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	return flush
}

// core holds the components shared by every surface.
type core struct {
	sessions *session.Manager
	kb       *knowledge.Client
	vision   providers.VisionProvider
	settings agent.VisionSettings
}

func newCore(cfg *config.Config) *core {
	c := &core{
		sessions: session.NewManager(session.WithSafeMode(cfg.Vision.SafeMode)),
		kb: knowledge.NewClient(cfg.Knowledge.BaseURL,
			knowledge.WithTimeouts(cfg.Knowledge.RequestTimeout(), cfg.Knowledge.UploadTimeout())),
		settings: agent.VisionSettings{
			Model:        cfg.Vision.Model,
			SystemPrompt: cfg.Vision.SystemPrompt,
			UserPrompt:   cfg.Vision.UserPrompt,
			Cursor:       cfg.Chat.Cursor,
		},
	}

	vision, err := providers.NewVisionProvider(cfg)
	switch {
	case err == nil:
		c.vision = vision
	case errors.Is(err, providers.ErrNoAPIKey):
		zap.S().Warn("No vision API key configured; image analysis is disabled")
	default:
		zap.S().Warnw("Vision provider unavailable", "err", err)
	}
	return c
}

func (c *core) orchestrator(channel string) *agent.Orchestrator {
	policy := agent.PolicyFor(channel)
	var opts []agent.Option
	if c.vision != nil && policy.AcceptImages {
		opts = append(opts, agent.WithVision(c.vision, c.settings))
	}
	return agent.NewOrchestrator(channel, policy, c.sessions, c.kb, opts...)
}

// startSweeper resets sessions left idle longer than the configured TTL.
func (c *core) startSweeper(cfg *config.Config) *cron.Service {
	svc := cron.NewService()
	if ttl := cfg.Sessions.IdleTTL(); ttl > 0 {
		if _, err := svc.AddJob("session-sweep", cfg.Sessions.SweepSchedule, c.sessions.SweepJob(ttl)); err != nil {
			zap.S().Errorw("Invalid session sweep schedule", "schedule", cfg.Sessions.SweepSchedule, "err", err)
		}
	}
	svc.Start()
	return svc
}

func runChat(args []string) {
	cfg := loadConfig("chat", args)
	flush := setupLogger(cfg, true)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCore(cfg)
	sweeper := c.startSweeper(cfg)
	defer sweeper.Stop(context.Background())

	err := cli.RunChat(ctx, c.orchestrator("chat"), cli.ChatConfig{
		SessionKey: cfg.Chat.SessionKey,
		Backend:    cfg.Knowledge.BaseURL,
		Model:      cfg.Vision.Model,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func runGateway(args []string) {
	cfg := loadConfig("gateway", args)
	flush := setupLogger(cfg, false)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCore(cfg)
	messageBus := bus.NewMessageBus()
	gateway := agent.NewGateway(messageBus)

	var active []channels.Channel
	candidates := []struct {
		enabled bool
		ch      channels.Channel
	}{
		{cfg.Channels.Telegram.Enabled, channels.NewTelegramChannel(&cfg.Channels.Telegram, messageBus)},
		{cfg.Channels.Feishu.Enabled, channels.NewFeishuChannel(&cfg.Channels.Feishu, messageBus)},
		{cfg.Channels.DingTalk.Enabled, channels.NewDingTalkChannel(&cfg.Channels.DingTalk, messageBus)},
	}
	for _, cand := range candidates {
		if !cand.enabled {
			continue
		}
		if err := cand.ch.Start(ctx); err != nil {
			zap.S().Errorw("Failed to start channel", "channel", cand.ch.Name(), "err", err)
			continue
		}
		gateway.Register(c.orchestrator(cand.ch.Name()))
		channels.Attach(ctx, messageBus, cand.ch)
		active = append(active, cand.ch)
		zap.S().Infow("Channel started", "channel", cand.ch.Name())
	}
	if len(active) == 0 {
		fmt.Println("No channels enabled. Enable one in the config or run 'ragbot chat'.")
		os.Exit(1)
	}

	sweeper := c.startSweeper(cfg)

	go messageBus.DispatchOutbound(ctx)
	zap.S().Infow("Gateway running", "backend", cfg.Knowledge.BaseURL, "channels", len(active))
	gateway.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	for _, ch := range active {
		if err := ch.Stop(); err != nil {
			zap.S().Warnw("Error stopping channel", "channel", ch.Name(), "err", err)
		}
	}
	messageBus.Stop()
	zap.S().Info("Gateway stopped")
}

func runOnboard(args []string) {
	fs := flag.NewFlagSet("onboard", flag.ExitOnError)
	configPath := fs.String("c", config.DefaultPath(), "Path to config file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("Config file already exists at %s\n", *configPath)
	} else {
		if err := config.SaveConfig(*configPath, config.DefaultConfig()); err != nil {
			fmt.Printf("Error writing config file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created config file at %s\n", *configPath)
	}

	logDir := config.ExpandPath(config.DefaultConfig().Log.Dir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Printf("Error creating log directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Onboarding complete! Edit %s to set the backend URL and API keys,\n", *configPath)
	fmt.Println("or set RAG_API_URL, MISTRAL_API_KEY and TELEGRAM_BOT_TOKEN in the environment.")
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("c", config.DefaultPath(), "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	cli.RunStatus(cfg, *configPath)
}
