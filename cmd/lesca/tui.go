package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ostin-pil/lesca/internal/metrics"
	"github.com/ostin-pil/lesca/internal/types"
)

var (
	tuiHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	tuiDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	tuiOpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tuiHalfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiClosedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// metricEventMsg wraps one event forwarded from the Collector's
// subscriber channel into bubbletea's message loop.
type metricEventMsg types.MetricEvent

// tickMsg drives the periodic full-repaint independent of event arrival,
// so the dashboard's elapsed-time fields keep moving even during a quiet
// session.
type tickMsg time.Time

type watchModel struct {
	collector *metrics.Collector
	events    <-chan types.MetricEvent
	unsub     func()
	refresh   time.Duration
	lastEvent types.MetricEvent
	quitting  bool
}

func newWatchModel(c *metrics.Collector, refresh time.Duration) watchModel {
	ch, unsub := c.Subscribe(64)
	if refresh <= 0 {
		refresh = time.Second
	}
	return watchModel{collector: c, events: ch, unsub: unsub, refresh: refresh}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(waitForMetricEvent(m.events), tickEvery(m.refresh))
}

func waitForMetricEvent(ch <-chan types.MetricEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return metricEventMsg(ev)
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		}
	case metricEventMsg:
		m.lastEvent = types.MetricEvent(msg)
		return m, waitForMetricEvent(m.events)
	case tickMsg:
		return m, tickEvery(m.refresh)
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(tuiHeaderStyle.Render("lesca metrics watch") + tuiDimStyle.Render("  (q to quit)") + "\n\n")

	summary := m.collector.GetSummary()
	fmt.Fprintf(&b, "sessions=%d  acquisitions=%d  releases=%d  failures=%d  open=%d  half-open=%d\n\n",
		summary.SessionCount, summary.TotalAcquisitions, summary.TotalReleases, summary.TotalFailures,
		summary.OpenBreakers, summary.HalfOpenBreakers)

	fmt.Fprintf(&b, "%-20s %6s %6s %6s %10s %8s %10s\n", "SESSION", "POOL", "ACTIVE", "IDLE", "ACQ/MIN", "FAILRATE", "CIRCUIT")
	for _, sm := range m.collector.AllSessionMetrics() {
		circuit := string(sm.CircuitState)
		switch sm.CircuitState {
		case types.BreakerOpen:
			circuit = tuiOpenStyle.Render(circuit)
		case types.BreakerHalfOpen:
			circuit = tuiHalfStyle.Render(circuit)
		case types.BreakerClosed:
			circuit = tuiClosedStyle.Render(circuit)
		}
		fmt.Fprintf(&b, "%-20s %6d %6d %6d %10.2f %8.2f %10s\n",
			sm.SessionName, sm.PoolSize, sm.Active, sm.Idle, sm.AcquisitionsPerMinute, sm.FailureRate, circuit)
	}

	if m.lastEvent.Type != "" {
		fmt.Fprintf(&b, "\n%s\n", tuiDimStyle.Render(fmt.Sprintf("last event: %s session=%s", m.lastEvent.Type, m.lastEvent.SessionName)))
	}

	return b.String()
}

// runMetricsWatchTUI drives the dashboard to completion (until the user
// quits). Refresh bounds the minimum interval between full repaints of
// fields (like elapsed-time derived values) that don't change on every
// event.
func runMetricsWatchTUI(c *metrics.Collector, refresh time.Duration) error {
	p := tea.NewProgram(newWatchModel(c, refresh))
	_, err := p.Run()
	return err
}
