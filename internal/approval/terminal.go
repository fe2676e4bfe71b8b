package approval

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/agentcore/internal/policy"
)

var (
	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("11"))

	promptLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	promptHighStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	promptMediumStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208"))

	promptHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type promptKeys struct {
	Approve key.Binding
	Deny    key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

var defaultPromptKeys = promptKeys{
	Approve: key.NewBinding(key.WithKeys("y", "a"), key.WithHelp("y", "approve")),
	Deny:    key.NewBinding(key.WithKeys("n", "d"), key.WithHelp("n", "deny")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit reason")),
	Quit:    key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "leave pending")),
}

type tickMsg time.Time

type promptModel struct {
	req      Request
	keys     promptKeys
	reason   textinput.Model
	denying  bool
	decision Status
	done     bool
}

func newPromptModel(req Request) promptModel {
	ti := textinput.New()
	ti.Placeholder = "reason (optional)"
	ti.CharLimit = 200
	return promptModel{req: req, keys: defaultPromptKeys, reason: ti}
}

func (m promptModel) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if time.Time(msg).After(m.req.Deadline) {
			m.done = true
			return m, tea.Quit
		}
		return m, tick()
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.done = true
			return m, tea.Quit
		}
		if m.denying {
			if key.Matches(msg, m.keys.Confirm) {
				m.decision = StatusDenied
				m.done = true
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.reason, cmd = m.reason.Update(msg)
			return m, cmd
		}
		switch {
		case key.Matches(msg, m.keys.Approve):
			m.decision = StatusApproved
			m.done = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Deny):
			m.denying = true
			cmd := m.reason.Focus()
			return m, cmd
		}
	}
	return m, nil
}

func (m promptModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(promptTitleStyle.Render("Approval required") + "\n\n")
	b.WriteString(promptLabelStyle.Render("tool       ") + m.req.Tool + "\n")
	b.WriteString(promptLabelStyle.Render("risk       ") + riskStyle(m.req.Risk).Render(string(m.req.Risk)) + "\n")
	b.WriteString(promptLabelStyle.Render("operation  ") + m.req.Operation + "\n")
	if m.req.Message != "" {
		b.WriteString(promptLabelStyle.Render("reason     ") + m.req.Message + "\n")
	}
	if len(m.req.Params) > 0 {
		data, _ := json.MarshalIndent(m.req.Params, "           ", "  ")
		b.WriteString(promptLabelStyle.Render("params     ") + string(data) + "\n")
	}
	left := time.Until(m.req.Deadline).Round(time.Second)
	b.WriteString(promptLabelStyle.Render("expires in ") + left.String() + "\n\n")

	if m.denying {
		b.WriteString(m.reason.View() + "\n")
		b.WriteString(promptHelpStyle.Render(helpLine(m.keys.Confirm, m.keys.Quit)))
	} else {
		b.WriteString(promptHelpStyle.Render(helpLine(m.keys.Approve, m.keys.Deny, m.keys.Quit)))
	}
	return b.String() + "\n"
}

func riskStyle(r policy.Risk) lipgloss.Style {
	switch r {
	case policy.RiskHigh:
		return promptHighStyle
	case policy.RiskMedium:
		return promptMediumStyle
	}
	return promptLabelStyle
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// TerminalApprover prompts on the terminal for each pending request. Prompts
// are serialised so only one is on screen at a time.
type TerminalApprover struct {
	mgr  *Manager
	in   io.Reader
	out  io.Writer
	user string
	mu   sync.Mutex
}

// NewTerminalApprover returns an approver bound to mgr. Nil in/out use the
// process terminal.
func NewTerminalApprover(mgr *Manager, in io.Reader, out io.Writer, user string) *TerminalApprover {
	if user == "" {
		user = "terminal"
	}
	return &TerminalApprover{mgr: mgr, in: in, out: out, user: user}
}

// Attach registers the approver as the manager's request hook.
func (t *TerminalApprover) Attach() {
	t.mgr.OnRequest(func(req Request) {
		if err := t.Prompt(req); err != nil {
			t.mgr.logger.Warn("approval prompt failed", map[string]interface{}{
				"id":    req.ID,
				"error": err.Error(),
			})
		}
	})
}

// Prompt shows req and applies the answer. Leaving the prompt keeps the
// request pending until its deadline.
func (t *TerminalApprover) Prompt(req Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var opts []tea.ProgramOption
	if t.in != nil {
		opts = append(opts, tea.WithInput(t.in))
	}
	if t.out != nil {
		opts = append(opts, tea.WithOutput(t.out))
	}
	final, err := tea.NewProgram(newPromptModel(req), opts...).Run()
	if err != nil {
		return fmt.Errorf("approval prompt: %w", err)
	}
	m := final.(promptModel)
	switch m.decision {
	case StatusApproved:
		return ignoreUnknown(t.mgr.Approve(req.ID, t.user))
	case StatusDenied:
		return ignoreUnknown(t.mgr.Deny(req.ID, t.user, strings.TrimSpace(m.reason.Value())))
	}
	return nil
}

// A request may expire while the prompt is open.
func ignoreUnknown(err error) error {
	if err == ErrUnknownRequest {
		return nil
	}
	return err
}
