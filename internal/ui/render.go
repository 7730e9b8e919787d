package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colors of the screens
type Theme struct {
	Primary    lipgloss.Color // Bars and connected ring
	Background lipgloss.Color // What zero opacity fades into
	Dim        lipgloss.Color // Help text and idle ring
	Alert      lipgloss.Color // Errors
}

// DefaultTheme is the orange-on-black Gymmando look
var DefaultTheme = Theme{
	Primary:    lipgloss.Color("#ff7a1a"),
	Background: lipgloss.Color("#000000"),
	Dim:        lipgloss.Color("#6e7681"),
	Alert:      lipgloss.Color("#ff4d4f"),
}

// Styles holds all styles derived from a theme
type Styles struct {
	Title  lipgloss.Style
	Status lipgloss.Style
	Ring   lipgloss.Style
	Idle   lipgloss.Style
	Help   lipgloss.Style
	Error  lipgloss.Style
	Button lipgloss.Style
}

// NewStyles creates styles from a theme
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Status: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")),
		Ring:   lipgloss.NewStyle().Foreground(t.Primary),
		Idle:   lipgloss.NewStyle().Foreground(t.Dim),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Error:  lipgloss.NewStyle().Foreground(t.Alert),
		Button: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).
			Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 2),
	}
}

const (
	barGlyph   = "█"
	trailGlyph = "▒"
	barGap     = " "
)

// RenderWaveform draws bars mirrored around the center line in 2*half rows
func RenderWaveform(bars []Bar, half int, theme Theme) string {
	if half < 1 {
		half = 1
	}

	rows := make([]string, 0, 2*half)
	for r := 0; r < 2*half; r++ {
		// Distance of this row from the center line, 1-based on both sides
		dist := half - r
		if r >= half {
			dist = r - half + 1
		}

		var sb strings.Builder
		for i, b := range bars {
			if i > 0 {
				sb.WriteString(barGap)
			}
			switch {
			case float64(dist) <= math.Round(b.Height):
				sb.WriteString(lipgloss.NewStyle().Foreground(fade(theme.Primary, theme.Background, b.Opacity)).Render(barGlyph + barGlyph))
			case float64(dist) <= math.Round(b.TrailHeight):
				sb.WriteString(lipgloss.NewStyle().Foreground(fade(theme.Primary, theme.Background, b.TrailOpacity)).Render(trailGlyph + trailGlyph))
			default:
				sb.WriteString("  ")
			}
		}
		rows = append(rows, sb.String())
	}
	return strings.Join(rows, "\n")
}

// fade mixes fg over bg with the given opacity
func fade(fg, bg lipgloss.Color, opacity float64) lipgloss.Color {
	fr, fgG, fb, ok1 := parseHex(string(fg))
	br, bgG, bb, ok2 := parseHex(string(bg))
	if !ok1 || !ok2 {
		return fg
	}
	a := math.Max(0, math.Min(1, opacity))
	mix := func(f, b int) int {
		return int(math.Round(float64(b) + (float64(f)-float64(b))*a))
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", mix(fr, br), mix(fgG, bgG), mix(fb, bb)))
}

func parseHex(s string) (r, g, b int, ok bool) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0, false
	}
	return r, g, b, true
}
