package cli

import (
	"fmt"
	"os"

	"github.com/storacha-rag/ragbot/pkg/config"
)

// RunStatus displays the current configuration status with styled output.
func RunStatus(cfg *config.Config, cfgPath string) {
	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s ragbot Status", Logo)))
	fmt.Println()

	fmt.Printf("  %-12s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Printf("  %-12s %s\n", "Backend", cfg.Knowledge.BaseURL)
	fmt.Printf("  %-12s %s\n", "Model", cfg.Vision.Model)
	fmt.Printf("  %-12s %s  %s\n", "Vision key", StatusBadge(cfg.Vision.APIKey != "" || os.Getenv("MISTRAL_API_KEY") != ""), DimStyle.Render("safe mode "+OnOff(cfg.Vision.SafeMode)))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Channels"))
	fmt.Printf("    %s  Telegram\n", StatusBadge(cfg.Channels.Telegram.Enabled))
	fmt.Printf("    %s  Feishu\n", StatusBadge(cfg.Channels.Feishu.Enabled))
	fmt.Printf("    %s  DingTalk\n", StatusBadge(cfg.Channels.DingTalk.Enabled))
	fmt.Println()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
