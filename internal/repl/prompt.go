package repl

import (
	"os"
	"os/user"
	"strings"

	"jobshell/internal/config"

	"github.com/charmbracelet/lipgloss"
)

// Prompt renders the configured prompt format.
type Prompt struct {
	format string
	style  lipgloss.Style
	color  bool

	// overridable in tests
	user func() string
	host func() string
	cwd  func() string
}

func NewPrompt(cfg config.PromptConfig) *Prompt {
	return &Prompt{
		format: cfg.Format,
		style:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		color:  cfg.Color,
		user:   currentUser,
		host:   hostname,
		cwd:    workingDir,
	}
}

// Render expands %u, %h and %w; %% is a literal percent sign.
func (p *Prompt) Render() string {
	var b strings.Builder
	for i := 0; i < len(p.format); i++ {
		c := p.format[i]
		if c != '%' || i+1 == len(p.format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch p.format[i] {
		case 'u':
			b.WriteString(p.user())
		case 'h':
			b.WriteString(p.host())
		case 'w':
			b.WriteString(p.cwd())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(p.format[i])
		}
	}
	if !p.color {
		return b.String()
	}
	return p.style.Render(b.String())
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "?"
	}
	return u.Username
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "?"
	}
	return h
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "?"
	}
	return wd
}
