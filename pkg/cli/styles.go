package cli

import "github.com/charmbracelet/lipgloss"

const Logo = "🤖"

var (
	Accent = lipgloss.Color("#0176CE")
	Subtle = lipgloss.Color("#555555")
	Green  = lipgloss.Color("#04B575")
	Red    = lipgloss.Color("#FF4444")

	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	BotLabel    = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	UserLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
	NoticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888"))
	ErrStyle    = lipgloss.NewStyle().Foreground(Red)
	OkStyle     = lipgloss.NewStyle().Foreground(Green).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(Subtle)
)

func StatusBadge(ok bool) string {
	if ok {
		return OkStyle.Render("✓")
	}
	return DimStyle.Render("✗")
}

func OnOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
