package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneNetwork
	PaneQueue
)

const paneCount = 3

// DoneMsg tells the TUI that the run it is watching has finished.
type DoneMsg struct {
	Err error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane    TaskPaneModel
	networkPane NetworkPaneModel
	queuePane   QueuePaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
	done        bool
	err         error
}

// New creates a new TUI model subscribed to every topic on the bus.
func New(eventBus *events.EventBus) Model {
	return Model{
		taskPane:    NewTaskPaneModel(),
		networkPane: NewNetworkPaneModel(),
		queuePane:   NewQueuePaneModel(),
		focusedPane: PaneTasks,
		eventSub:    eventBus.Subscribe(256),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Err returns the error the watched run finished with, if any.
func (m Model) Err() error {
	return m.err
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneNetwork
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneQueue
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case DoneMsg:
		m.done = true
		m.err = msg.Err

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskQueuedEvent, events.TaskStartedEvent, events.TaskOutputEvent,
		events.TaskCompletedEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.TaskRequeuedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.QueueProgressEvent:
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.ActivationRoundEvent, events.QueryCompletedEvent:
		m.networkPane, _ = m.networkPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Unknown event types are consumed so the subscription keeps draining.
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.networkPane.View(), m.queuePane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, m.statusLine())
}

func (m Model) statusLine() string {
	switch {
	case !m.done:
		return HelpView()
	case m.err != nil:
		return StyleStatusFailed.Render(fmt.Sprintf("Finished with error: %v", m.err)) + "  " + HelpView()
	default:
		return StyleStatusComplete.Render("Finished") + "  " + HelpView()
	}
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 40) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	rightTopHeight := (availableHeight * 60) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.networkPane.SetSize(rightWidth, rightTopHeight)
	m.queuePane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.networkPane.SetFocused(m.focusedPane == PaneNetwork)
	m.queuePane.SetFocused(m.focusedPane == PaneQueue)
}
