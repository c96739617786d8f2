package viz

import "github.com/charmbracelet/lipgloss"

// Theme is the palette of the live merge view.
type Theme struct {
	Name        string
	Road        lipgloss.Color
	Mainline    lipgloss.Color
	Ramp        lipgloss.Color
	Coordinated lipgloss.Color
	Text        lipgloss.Color
	Muted       lipgloss.Color
	Warning     lipgloss.Color
	Error       lipgloss.Color
}

var (
	ThemeCyberpunk = Theme{
		Name:        "cyberpunk",
		Road:        lipgloss.Color("#00ffff"),
		Mainline:    lipgloss.Color("#ff00ff"),
		Ramp:        lipgloss.Color("#ffff00"),
		Coordinated: lipgloss.Color("#00ff00"),
		Text:        lipgloss.Color("#ffffff"),
		Muted:       lipgloss.Color("#666666"),
		Warning:     lipgloss.Color("#ff8800"),
		Error:       lipgloss.Color("#ff0000"),
	}

	ThemeMinimal = Theme{
		Name:        "minimal",
		Road:        lipgloss.Color("#cccccc"),
		Mainline:    lipgloss.Color("#ffffff"),
		Ramp:        lipgloss.Color("#0088ff"),
		Coordinated: lipgloss.Color("#00ff00"),
		Text:        lipgloss.Color("#ffffff"),
		Muted:       lipgloss.Color("#888888"),
		Warning:     lipgloss.Color("#ffaa00"),
		Error:       lipgloss.Color("#ff0000"),
	}

	ThemeOcean = Theme{
		Name:        "ocean",
		Road:        lipgloss.Color("#00a8cc"),
		Mainline:    lipgloss.Color("#e0f0ff"),
		Ramp:        lipgloss.Color("#ffd700"),
		Coordinated: lipgloss.Color("#00ff88"),
		Text:        lipgloss.Color("#e0f0ff"),
		Muted:       lipgloss.Color("#4488aa"),
		Warning:     lipgloss.Color("#ffcc00"),
		Error:       lipgloss.Color("#ff4444"),
	}

	CurrentTheme = ThemeCyberpunk

	Themes = []Theme{ThemeCyberpunk, ThemeMinimal, ThemeOcean}
)

// GetTheme returns the named theme, falling back to cyberpunk.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return ThemeCyberpunk
}

func SetTheme(name string) { CurrentTheme = GetTheme(name) }

// NextTheme cycles CurrentTheme through Themes.
func NextTheme() {
	for i, t := range Themes {
		if t.Name == CurrentTheme.Name {
			CurrentTheme = Themes[(i+1)%len(Themes)]
			return
		}
	}
	CurrentTheme = Themes[0]
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}
