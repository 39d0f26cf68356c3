package admincli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	borderStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// RenderRouteTable prints a one-shot operator-facing summary of the
// configured backend set - not a live TUI, just a styled snapshot
// printed in the startup logs.
func RenderRouteTable(backends []*domain.Backend) string {
	if len(backends) == 0 {
		return borderStyle.Render("no backends configured")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-22s %-8s %8s", "NAME", "ADDR", "HEALTHY", "EWMA(ms)")))
	b.WriteString("\n")

	for _, bk := range backends {
		state := downStyle.Render("down")
		if bk.Healthy() {
			state = healthyStyle.Render("up")
		}
		b.WriteString(fmt.Sprintf("%-20s %-22s %-8s %8.1f\n", bk.Name, bk.Addr, state, bk.Ewma.CurrentEWMA()))
	}

	return borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}
