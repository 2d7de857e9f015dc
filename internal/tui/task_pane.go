package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/events"
)

// TaskState is what the task pane knows about one task.
type TaskState struct {
	TaskID    string
	TaskType  string
	Workers   []string
	Status    string // "queued", "running", "completed", "failed"
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists tasks and shows the selected task's worker outputs.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		case KeyFirst:
			m.selectedIdx = 0
			m.updateViewportContent()
		case KeyLast:
			m.selectedIdx = max(len(m.taskOrder)-1, 0)
			m.updateViewportContent()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskQueuedEvent:
		task := m.track(msg.ID, msg.TaskType)
		task.Output = append(task.Output, fmt.Sprintf("[Queued with priority %d]", msg.Priority))
		m.refreshIfSelected(msg.ID)

	case events.TaskRequeuedEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Output = append(task.Output, fmt.Sprintf("[Requeued (attempt %d): %s]", msg.Attempts, msg.Reason))
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskStartedEvent:
		task := m.track(msg.ID, msg.TaskType)
		task.Status = "running"
		task.Workers = msg.Workers
		task.StartTime = msg.Timestamp
		task.Output = append(task.Output, fmt.Sprintf("[Started on %s]", strings.Join(msg.Workers, ", ")))
		m.refreshIfSelected(msg.ID)

	case events.TaskOutputEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Output = append(task.Output, fmt.Sprintf("%s: %s", msg.Worker, msg.Output))
			if m.selectedTaskID() == msg.ID {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.TaskCompletedEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Status = "completed"
			task.Duration = msg.Duration
			task.Output = append(task.Output, fmt.Sprintf("\n[Completed in %v]", msg.Duration))
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskFailedEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Status = "failed"
			task.Duration = msg.Duration
			task.Output = append(task.Output, fmt.Sprintf("\n[Failed: %v]", msg.Err))
			m.refreshIfSelected(msg.ID)
		}

	case tickMsg:
		// Only the latest tick refreshes the viewport.
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// track returns the state for id, adding it to the list on first sight.
func (m *TaskPaneModel) track(id, taskType string) *TaskState {
	if task, ok := m.tasks[id]; ok {
		return task
	}
	task := &TaskState{TaskID: id, TaskType: taskType, Status: "queued"}
	m.tasks[id] = task
	m.taskOrder = append(m.taskOrder, id)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return task
}

func (m *TaskPaneModel) refreshIfSelected(id string) {
	if m.selectedTaskID() == id {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.taskOrder {
			task := m.tasks[id]
			label := task.TaskID
			if task.TaskType != "" {
				label = task.TaskType + " " + label
			}
			if len(label) > width-6 {
				label = label[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", StatusIcon(task.Status), label)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// Task returns a copy of the state for id.
func (m TaskPaneModel) Task(id string) (TaskState, bool) {
	task, ok := m.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	cp := *task
	cp.Output = append([]string(nil), task.Output...)
	return cp, true
}

func (m TaskPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.selectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	m.viewport.SetContent(strings.Join(task.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-25-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
