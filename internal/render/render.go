// Package render formats chat lines for a terminal: the sender's nickname in
// green, then the payload exactly as it was typed.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/pipechat/internal/wire"
)

var nicknameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

// Printer writes chat lines to an output stream.
type Printer struct {
	w     io.Writer
	style lipgloss.Style
}

// NewPrinter returns a Printer writing to w. Colour is applied only when
// color is true; pass false for logs, files and tests.
func NewPrinter(w io.Writer, color bool) *Printer {
	style := nicknameStyle
	if !color {
		style = lipgloss.NewStyle()
	}
	return &Printer{w: w, style: style}
}

// Line renders "<nickname>: <payload>". A payload without a trailing newline
// gets one, so every message ends up on its own line.
func (p *Printer) Line(nickname, payload string) error {
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	_, err := fmt.Fprintf(p.w, "%s %s", p.style.Render(nickname+":"), payload)
	return err
}

// Message renders a wire message.
func (p *Printer) Message(msg wire.Message) error {
	return p.Line(msg.NicknameString(), msg.PayloadString())
}
