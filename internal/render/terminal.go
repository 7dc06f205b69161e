// Package render prints streamed reply text to the terminal, optionally
// through a markdown renderer.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"
)

const paragraphBreak = "\n\n"

// TerminalRenderer accumulates streamed chunks and flushes them at
// paragraph breaks so partially-received markdown constructs are not
// rendered half-formed.
type TerminalRenderer struct {
	// markdown is nil in plain-text mode.
	markdown *glamour.TermRenderer
	buffer   strings.Builder
}

func NewTerminalRenderer(usePlainText bool) *TerminalRenderer {
	t := &TerminalRenderer{}
	if !usePlainText {
		t.markdown, _ = glamour.NewTermRenderer(
			markdown.WithWrap(120),
			glamour.WithAutoStyle(),
		)
	}
	return t
}

// Write appends one streamed chunk and renders everything up to the last
// complete paragraph, keeping the unfinished tail buffered.
func (t *TerminalRenderer) Write(chunk string) error {
	t.buffer.WriteString(chunk)
	content := t.buffer.String()

	idx := strings.LastIndex(content, paragraphBreak)
	if idx < 0 {
		return nil
	}
	cut := idx + len(paragraphBreak)

	t.buffer.Reset()
	t.buffer.WriteString(content[cut:])
	return t.renderSection(content[:cut])
}

// Flush renders whatever is still buffered. Call once after the stream
// completes or errors.
func (t *TerminalRenderer) Flush() error {
	remaining := t.buffer.String()
	t.buffer.Reset()
	if remaining != "" {
		if err := t.renderSection(remaining); err != nil {
			return err
		}
	}
	fmt.Println()
	return nil
}

func (t *TerminalRenderer) renderSection(section string) error {
	if t.markdown == nil {
		fmt.Print(section)
		return nil
	}

	section = strings.TrimSpace(section)
	if strings.HasPrefix(section, "#") {
		// Headings need a preceding blank line to render cleanly.
		fmt.Println()
	}
	rendered, err := t.markdown.Render(section)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	fmt.Println(strings.TrimSpace(rendered))
	return nil
}
