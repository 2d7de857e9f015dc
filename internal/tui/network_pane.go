package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/events"
)

// NetworkPaneModel shows activation levels for the query in progress and a
// summary of the last completed query.
type NetworkPaneModel struct {
	queryID      string
	step         int
	activations  map[string]float64
	newly        map[string]bool
	contributors []string
	steps        int
	duration     time.Duration
	done         bool
	width        int
	height       int
	focused      bool
}

// NewNetworkPaneModel creates a new network pane model.
func NewNetworkPaneModel() NetworkPaneModel {
	return NetworkPaneModel{}
}

// Update handles messages for the network pane.
func (m NetworkPaneModel) Update(msg tea.Msg) (NetworkPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ActivationRoundEvent:
		if msg.QueryID != m.queryID {
			m.queryID = msg.QueryID
			m.done = false
			m.contributors = nil
		}
		m.step = msg.Step
		m.activations = msg.Activations
		m.newly = make(map[string]bool, len(msg.NewlyActivated))
		for _, name := range msg.NewlyActivated {
			m.newly[name] = true
		}

	case events.QueryCompletedEvent:
		m.queryID = msg.QueryID
		m.contributors = msg.Contributors
		m.steps = msg.Steps
		m.duration = msg.Duration
		m.done = true
	}

	return m, nil
}

// View renders the network pane.
func (m NetworkPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Activation")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.queryID == "" {
		b.WriteString(StyleStatusPending.Render("No query yet"))
	} else {
		fmt.Fprintf(&b, "Query %s  step %d\n\n", shortID(m.queryID), m.step)

		names := make([]string, 0, len(m.activations))
		for name := range m.activations {
			names = append(names, name)
		}
		slices.Sort(names)

		barWidth := max(min(m.width-30, 30), 5)
		for _, name := range names {
			a := m.activations[name]
			filled := int(a * float64(barWidth))
			bar := StyleActive.Render(strings.Repeat("#", filled)) +
				StyleDormant.Render(strings.Repeat(".", barWidth-filled))
			marker := " "
			if m.newly[name] {
				marker = StyleNewlyActive.Render("+")
			}
			fmt.Fprintf(&b, "%s %-14s [%s] %.2f\n", marker, truncate(name, 14), bar, a)
		}

		if m.done {
			fmt.Fprintf(&b, "\nDone in %d steps (%s)\nContributors: %s\n",
				m.steps, m.duration.Round(time.Millisecond), strings.Join(m.contributors, ", "))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *NetworkPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *NetworkPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
