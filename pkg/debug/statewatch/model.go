// Package statewatch is a terminal viewer that polls a LockManager and draws
// its holder tables and counters while a workload runs.
//
// The viewer samples with TryState so it never queues behind a structural
// section; a poll that finds the manager busy is counted and the previous
// sample stays on screen.
package statewatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"locklevels/pkg/concurrency/lock"
)

// Source is what the viewer samples. *lock.LockManager satisfies it.
type Source interface {
	TryState() (lock.Snapshot, bool)
}

type stateMsg struct {
	snap lock.Snapshot
	ok   bool
}

// Model is the bubbletea model of the viewer.
type Model struct {
	src     Source
	title   string
	refresh time.Duration

	snap     lock.Snapshot
	haveSnap bool
	busy     bool
	polls    int
	missed   int

	paused    bool
	byHolders bool
	showHelp  bool

	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap
	width   int
}

func New(src Source, title string, refresh time.Duration) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 10},
			{Title: "Level 0", Width: 10},
			{Title: "Level 1", Width: 8},
		}),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(primaryColor).
		BorderBottom(true).
		Bold(true).
		Foreground(primaryColor)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(warningColor)

	return Model{
		src:     src,
		title:   title,
		refresh: refresh,
		table:   t,
		spinner: sp,
		help:    help.New(),
		keys:    keys,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll, m.spinner.Tick)
}

func (m Model) poll() tea.Msg {
	snap, ok := m.src.TryState()
	return stateMsg{snap: snap, ok: ok}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg { return m.poll() })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.polls++
		m.busy = !msg.ok
		if !msg.ok {
			m.missed++
		} else if !m.paused {
			m.snap, m.haveSnap = msg.snap, true
			m.table.SetRows(holderRows(m.snap, m.byHolders))
		}
		return m, m.schedule()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height-16))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Sort):
			m.byHolders = !m.byHolders
			m.table.SetRows(holderRows(m.snap, m.byHolders))
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
		}
	}
	return m, nil
}

func (m Model) View() string {
	sections := []string{
		titleStyle.Render("Lock state: " + m.title),
		m.renderFlags(),
	}
	if m.structuralActive() {
		sections = append(sections, lipgloss.NewStyle().Foreground(warningColor).
			Render(m.spinner.View()+" structural section in progress"))
	}
	if m.haveSnap {
		sections = append(sections, headerStyle.Render(fmt.Sprintf(" Holders (%d) ", len(m.table.Rows()))))
		sections = append(sections, m.table.View())
		sections = append(sections, m.renderCounters())
	} else {
		sections = append(sections, valueStyle.Render("waiting for first sample..."))
	}
	sections = append(sections, m.renderStatusBar())

	if m.showHelp {
		sections = append(sections, helpStyle.Render(m.help.FullHelpView(m.keys.FullHelp())))
	} else {
		sections = append(sections, helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	}
	return strings.Join(sections, "\n")
}

func (m Model) structuralActive() bool {
	return m.busy || m.snap.Level3Pending > 0
}

func (m Model) renderFlags() string {
	s := m.snap
	return lipgloss.JoinHorizontal(lipgloss.Left,
		flag("L3", s.Level3InUse), " ",
		labelStyle.Render("pending "), valueStyle.Render(strconv.Itoa(s.Level3Pending)), "  ",
		flag("L2", s.Level2InUse), " ",
		labelStyle.Render("n_level2 "), valueStyle.Render(strconv.Itoa(s.Level2Attempts)), "  ",
		labelStyle.Render("level-1 holders "), valueStyle.Render(strconv.Itoa(len(s.Level1Holders))),
	)
}

func (m Model) renderCounters() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-8s %12s %12s", "", "acquired", "waited")))
	for l := lock.Level0; l <= lock.Level3; l++ {
		fmt.Fprintf(&b, "\n%-8s %s %s", l,
			rightAlign(strconv.FormatUint(m.snap.Stats.Acquired[l], 10), 12),
			rightAlign(strconv.FormatUint(m.snap.Stats.Waited[l], 10), 12))
	}
	fmt.Fprintf(&b, "\n%-8s %s", "faults", rightAlign(strconv.FormatUint(m.snap.Stats.Faults, 10), 12))
	return valueStyle.Render(b.String())
}

func (m Model) renderStatusBar() string {
	order := "key"
	if m.byHolders {
		order = "holders"
	}
	text := fmt.Sprintf("polls %d | busy %d | sort: %s | every %s", m.polls, m.missed, order, m.refresh)
	bar := statusBarStyle.Render(text)
	if m.paused {
		bar = lipgloss.JoinHorizontal(lipgloss.Top, bar, " ", pausedStyle.Render("PAUSED"))
	}
	return bar
}

// holderRows lists every key with a level-0 entry or a level-1 hold. Rows are
// ordered by key, or with level-1 holders first and then by descending
// level-0 count when byHolders is set.
func holderRows(s lock.Snapshot, byHolders bool) []table.Row {
	exclusive := make(map[int]bool, len(s.Level1Holders))
	keys := s.Level0Keys()
	for _, k := range s.Level1Holders {
		exclusive[k] = true
		if _, ok := s.Level0Holders[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	if byHolders {
		slices.SortStableFunc(keys, func(a, b int) int {
			if exclusive[a] != exclusive[b] {
				if exclusive[a] {
					return -1
				}
				return 1
			}
			return s.Level0Holders[b] - s.Level0Holders[a]
		})
	}

	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		held := ""
		if exclusive[k] {
			held = "held"
		}
		rows = append(rows, table.Row{strconv.Itoa(k), strconv.Itoa(s.Level0Holders[k]), held})
	}
	return rows
}

// Run draws the viewer until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source, title string, refresh time.Duration) error {
	p := tea.NewProgram(New(src, title, refresh), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
