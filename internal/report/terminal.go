package report

import (
	"github.com/charmbracelet/glamour"
)

// Terminal renders markdown reports for an interactive terminal.
type Terminal struct {
	renderer *glamour.TermRenderer
}

func NewTerminal(width int) (*Terminal, error) {
	if width <= 0 {
		width = 120
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Terminal{renderer: r}, nil
}

func (t *Terminal) Render(markdown string) (string, error) {
	return t.renderer.Render(markdown)
}
