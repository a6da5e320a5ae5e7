// Package tui is the interactive review console: one hunk on screen at a
// time, accept/reject/defer keys, and a live queue summary.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/connor15mcc/patchpal/internal/daemon"
	"github.com/connor15mcc/patchpal/internal/protocol"
	"github.com/connor15mcc/patchpal/internal/registry"
)

// Styles using AdaptiveColor for light/dark terminal support.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "125", Dark: "205"}) // Magenta/Pink

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "242", Dark: "246"}) // Gray

	pathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "33"}) // Blue

	addStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "46"})   // Green
	delStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"}) // Red
	hunkStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "30", Dark: "51"})   // Cyan

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "242", Dark: "246"}) // Gray

	flashStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "166", Dark: "208"}) // Orange
)

// ClipboardWriter is an interface for clipboard operations (allows mocking in tests)
type ClipboardWriter interface {
	WriteText(text string) error
}

type realClipboard struct{}

func (r *realClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

type snapshotMsg registry.QueueSnapshot

type decideResultMsg struct {
	outcome protocol.Outcome
	err     error
}

type clipboardResultMsg struct{ err error }

type flashExpireMsg struct{ seq int }

const flashDuration = 2 * time.Second

type model struct {
	console *daemon.Console
	snaps   <-chan registry.QueueSnapshot

	snap   registry.QueueSnapshot
	scroll int
	width  int
	height int

	flashMessage string
	flashSeq     int

	clipboard ClipboardWriter
}

func newModel(console *daemon.Console, snaps <-chan registry.QueueSnapshot) model {
	return model{
		console:   console,
		snaps:     snaps,
		width:     80, // sensible defaults until we get WindowSizeMsg
		height:    24,
		clipboard: &realClipboard{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tea.WindowSize(), m.waitForSnapshot())
}

// waitForSnapshot blocks on the subscription channel and forwards the next
// coalesced snapshot into the update loop.
func (m model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.snaps
		if !ok {
			return tea.Quit()
		}
		return snapshotMsg(snap)
	}
}

// pullNext claims the next pending hunk when nothing is under review. The
// resulting state change comes back through the snapshot subscription.
func (m model) pullNext() tea.Cmd {
	return func() tea.Msg {
		m.console.NextHunk()
		return nil
	}
}

func (m model) decide(hunkID uint64, outcome protocol.Outcome) tea.Cmd {
	return func() tea.Msg {
		return decideResultMsg{outcome: outcome, err: m.console.Decide(hunkID, outcome)}
	}
}

func (m model) deferHunk(hunkID uint64) tea.Cmd {
	return func() tea.Msg {
		if err := m.console.Defer(hunkID); err != nil {
			return decideResultMsg{err: err}
		}
		return nil
	}
}

func (m model) copyHunk(h *registry.Hunk) tea.Cmd {
	content := h.Header + "\n" + h.Content
	return func() tea.Msg {
		return clipboardResultMsg{err: m.clipboard.WriteText(content)}
	}
}

func (m *model) setFlash(msg string) tea.Cmd {
	m.flashMessage = msg
	m.flashSeq++
	seq := m.flashSeq
	return tea.Tick(flashDuration, func(time.Time) tea.Msg {
		return flashExpireMsg{seq: seq}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		prevActive := m.snap.Active
		m.snap = registry.QueueSnapshot(msg)
		if m.snap.Active == nil || prevActive == nil || m.snap.Active.ID != prevActive.ID {
			m.scroll = 0
		}
		cmds := []tea.Cmd{m.waitForSnapshot()}
		if m.snap.Active == nil && m.snap.Pending > 0 {
			cmds = append(cmds, m.pullNext())
		}
		return m, tea.Batch(cmds...)

	case decideResultMsg:
		if msg.err != nil {
			return m, m.setFlash(fmt.Sprintf("Error: %v", msg.err))
		}
		return m, nil

	case clipboardResultMsg:
		if msg.err != nil {
			return m, m.setFlash(fmt.Sprintf("Clipboard error: %v", msg.err))
		}
		return m, m.setFlash("Copied hunk to clipboard")

	case flashExpireMsg:
		if msg.seq == m.flashSeq {
			m.flashMessage = ""
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active := m.snap.Active

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "y", "a":
		if active != nil {
			return m, m.decide(active.ID, protocol.OutcomeAccepted)
		}
	case "n", "r":
		if active != nil {
			return m, m.decide(active.ID, protocol.OutcomeRejected)
		}
	case "d":
		if active != nil {
			return m, m.deferHunk(active.ID)
		}
	case "c":
		if active != nil {
			return m, m.copyHunk(active)
		}

	case "j", "down":
		if m.scroll < m.maxScroll() {
			m.scroll++
		}
	case "k", "up":
		if m.scroll > 0 {
			m.scroll--
		}
	case "g", "home":
		m.scroll = 0
	case "G", "end":
		m.scroll = m.maxScroll()
	}
	return m, nil
}

// bodyHeight is the space left for diff lines after the header, status,
// history, flash, and help rows.
func (m model) bodyHeight() int {
	h := m.height - 4
	if n := len(m.snap.Recent); n > 0 {
		if n > historyTail {
			n = historyTail
		}
		h -= n
	}
	if m.flashMessage != "" {
		h--
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (m model) maxScroll() int {
	if m.snap.Active == nil {
		return 0
	}
	lines := strings.Count(m.snap.Active.Content, "\n") + 1
	max := lines - m.bodyHeight()
	if max < 0 {
		max = 0
	}
	return max
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("patchpal review"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("%d pending | %d decided | %d cancelled",
		m.snap.Pending, m.snap.Decided, m.snap.Cancelled)))
	b.WriteString("\n")

	active := m.snap.Active
	if active == nil {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render("Waiting for submissions..."))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("%s  ", active.Path)
		if m.snap.ActivePatch != nil {
			header += fmt.Sprintf("(patch %d, %s)", active.PatchID, m.snap.ActivePatch.RepoRef)
		}
		b.WriteString(pathStyle.Render(runewidth.Truncate(header, m.width, "…")))
		b.WriteString("\n")
		b.WriteString(hunkStyle.Render(runewidth.Truncate(active.Header, m.width, "…")))
		b.WriteString("\n")
		b.WriteString(m.renderDiff(active.Content))
	}

	if tail := m.renderHistory(); tail != "" {
		b.WriteString(tail)
	}

	if m.flashMessage != "" {
		b.WriteString(flashStyle.Render(m.flashMessage))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(m.helpLine()))
	return b.String()
}

// historyTail is how many recent decisions show under the diff
const historyTail = 3

func (m model) renderHistory() string {
	recent := m.snap.Recent
	if len(recent) == 0 {
		return ""
	}
	if len(recent) > historyTail {
		recent = recent[len(recent)-historyTail:]
	}

	var b strings.Builder
	for _, d := range recent {
		var verdict string
		if d.Outcome == protocol.OutcomeAccepted {
			verdict = addStyle.Render("accepted")
		} else {
			verdict = delStyle.Render("rejected")
		}
		detail := runewidth.Truncate(fmt.Sprintf("hunk %d %s", d.HunkID, d.Path), m.width-12, "…")
		b.WriteString("  " + verdict + " " + detail)
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) helpLine() string {
	if m.snap.Active == nil {
		return "q quit"
	}
	return "y accept  n reject  d defer  c copy  j/k scroll  q quit"
}

// renderDiff colors hunk body lines by their diff prefix and applies the
// current scroll window.
func (m model) renderDiff(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	start := m.scroll
	if start > len(lines) {
		start = len(lines)
	}
	end := start + m.bodyHeight()
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for _, line := range lines[start:end] {
		line = runewidth.Truncate(line, m.width, "…")
		switch {
		case strings.HasPrefix(line, "+"):
			b.WriteString(addStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(delStyle.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(hunkStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Run starts the interactive review console and blocks until the reviewer
// quits or ctx is cancelled.
func Run(ctx context.Context, console *daemon.Console) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		newModel(console, console.Subscribe(ctx)),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
