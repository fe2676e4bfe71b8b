package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	pagerInfoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pagerMatchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pagerFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pagerLiveStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// RenderFunc produces the pager content. Live pagers call it again after
// every change to the watched file.
type RenderFunc func() (string, error)

// Page shows content in an interactive pager.
func Page(title, content string) error {
	prog := tea.NewProgram(newPagerModel(title, content), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := prog.Run()
	return err
}

// PageLive shows render's output and re-renders whenever path changes.
func PageLive(title, path string, render RenderFunc) error {
	content, err := render()
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m := newPagerModel(title, content)
	m.live = true
	m.render = render
	m.watcher = watcher
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

// fileChangedMsg is sent when the watched file changes.
type fileChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live       bool
	render     RenderFunc
	watcher    *fsnotify.Watcher
	lastUpdate time.Time

	searching    bool
	searchInput  textinput.Model
	searchQuery  string
	searchLines  []int // line numbers in wrapped content
	searchIndex  int
	searchFailed bool
}

func newPagerModel(title, content string) *pagerModel {
	return &pagerModel{title: title, content: content}
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live && m.watcher != nil {
		return m.watchFile()
	}
	return nil
}

func (m *pagerModel) watchFile() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Let appends settle.
					time.Sleep(100 * time.Millisecond)
					return fileChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.searchQuery = m.searchInput.Value()
				m.searching = false
				m.executeSearch()
				if len(m.searchLines) > 0 {
					m.jumpToMatch(0)
				}
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.clearSearch()
				return m, nil
			}
		}
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case fileChangedMsg:
		if content, err := m.render(); err == nil {
			offset := m.viewport.YOffset
			m.setContent(content)
			m.viewport.SetYOffset(offset)
			m.lastUpdate = time.Now()
		}
		cmds = append(cmds, m.watchFile())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.searchQuery == "" {
				return m, tea.Quit
			}
			m.clearSearch()
		case "g":
			m.viewport.GotoTop()
		case "G", "f":
			m.viewport.GotoBottom()
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			m.searchInput.SetValue(m.searchQuery)
			m.searchInput.Focus()
			return m, textinput.Blink
		case "n":
			if len(m.searchLines) > 0 {
				m.jumpToMatch((m.searchIndex + 1) % len(m.searchLines))
			}
		case "N":
			if len(m.searchLines) > 0 {
				m.jumpToMatch((m.searchIndex - 1 + len(m.searchLines)) % len(m.searchLines))
			}
		}

	case tea.WindowSizeMsg:
		// one line each for header and footer
		height := msg.Height - 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = 1
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.setContent(m.content)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// setContent rewraps content to the viewport width and reruns any search.
func (m *pagerModel) setContent(content string) {
	m.content = content
	m.wrapped = wrapContent(content, m.viewport.Width)
	m.viewport.SetContent(m.wrapped)
	if m.searchQuery != "" {
		m.executeSearch()
	}
}

func (m *pagerModel) clearSearch() {
	m.searchQuery = ""
	m.searchLines = nil
	m.searchFailed = false
}

// executeSearch finds lines of the wrapped content containing the query,
// ignoring case.
func (m *pagerModel) executeSearch() {
	m.searchLines = nil
	m.searchIndex = 0
	m.searchFailed = false
	if m.searchQuery == "" {
		return
	}
	query := strings.ToLower(m.searchQuery)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			m.searchLines = append(m.searchLines, i)
		}
	}
	m.searchFailed = len(m.searchLines) == 0
}

// jumpToMatch centres the given match on screen.
func (m *pagerModel) jumpToMatch(index int) {
	if index < 0 || index >= len(m.searchLines) {
		return
	}
	m.searchIndex = index
	m.viewport.SetYOffset(m.searchLines[index] - m.viewport.Height/2)
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	header := lipgloss.JoinHorizontal(lipgloss.Center, title,
		pagerInfoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))))

	if m.searching {
		return header + "\n" + m.viewport.View() + "\n" + pagerMatchStyle.Render("/") + m.searchInput.View()
	}

	var help string
	switch {
	case m.searchFailed:
		help = fmt.Sprintf(" %s │ /: search ", pagerFailStyle.Render("Pattern not found"))
	case len(m.searchLines) > 0:
		match := pagerMatchStyle.Render(fmt.Sprintf("[%d/%d]", m.searchIndex+1, len(m.searchLines)))
		help = fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ", match)
	case m.live:
		help = fmt.Sprintf(" %s │ q: quit │ /: search │ f: follow │ g/G: top/bottom ", pagerLiveStyle.Render("● LIVE"))
	default:
		help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}
	info := fmt.Sprintf(" %d%% ", int(m.viewport.ScrollPercent()*100))
	fill := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))
	footer := pagerInfoStyle.Render(help) + pagerInfoStyle.Render(fill) + pagerInfoStyle.Render(info)

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapContent wraps each line to width. Timeline rows keep their
// continuation lines aligned with the content column after the last │.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	var result []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}

		if last := strings.LastIndex(line, "│"); last > 0 {
			start := last + len("│")
			for start < len(line) && line[start] == ' ' {
				start++
			}
			prefixWidth := lipgloss.Width(line[:start])
			contentWidth := max(width-prefixWidth, 20)

			wrapped := strings.Split(wordwrap.String(line[start:], contentWidth), "\n")
			result = append(result, line[:start]+wrapped[0])
			pad := strings.Repeat(" ", prefixWidth)
			for _, w := range wrapped[1:] {
				result = append(result, pad+w)
			}
			continue
		}

		result = append(result, strings.Split(wordwrap.String(line, width), "\n")...)
	}
	return strings.Join(result, "\n")
}
