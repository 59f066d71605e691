package cmd

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// answerRenderer renders markdown answers for terminal display.
// A nil inner renderer means passthrough: callers get the raw markdown.
type answerRenderer struct {
	renderer *glamour.TermRenderer
}

// newAnswerRenderer creates a renderer. plain forces passthrough; a
// renderer construction failure degrades to passthrough as well.
func newAnswerRenderer(plain bool) *answerRenderer {
	if plain {
		return &answerRenderer{}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return &answerRenderer{}
	}
	return &answerRenderer{renderer: r}
}

// Render converts markdown to styled terminal output.
// Returns the raw input if rendering is unavailable or fails.
func (a *answerRenderer) Render(markdown string) string {
	if a == nil || a.renderer == nil {
		return markdown
	}
	out, err := a.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimSuffix(out, "\n")
}
