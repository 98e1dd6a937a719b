package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skip2/go-qrcode"
)

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF8C00"))
	bannerKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(10)
	bannerBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF8C00")).
			Padding(0, 1)
)

type field struct{ key, value string }

// renderBanner draws the startup box shown by hub, node and console.
func renderBanner(role, version string, fields ...field) string {
	var b strings.Builder
	b.WriteString(bannerTitle.Render(fmt.Sprintf("ReliefNet %s", role)))
	if version != "" {
		b.WriteString(" " + version)
	}
	for _, f := range fields {
		b.WriteString("\n" + bannerKey.Render(f.key) + f.value)
	}
	return bannerBox.Render(b.String())
}

// portalQR renders url as a terminal QR code so phones can join the node
// portal. It returns an empty string if url cannot be encoded.
func portalQR(url string) string {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return ""
	}
	return qr.ToString(false)
}
