// Package tui provides a k9s-style terminal UI for watching Chrona tasks.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/chronalabs/chrona/pkg/apis/v1alpha1"
	"github.com/chronalabs/chrona/pkg/client"
)

// requestTimeout bounds every API call made by the UI so a hung server
// never freezes the event loop.
const requestTimeout = 5 * time.Second

// App is the main TUI application. It polls the Chrona REST API and displays
// tasks in a navigable table, with a describe panel for the full conversation.
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	header      *tview.TextView
	footer      *tview.TextView
	table       *tview.Table
	filterInput *tview.InputField
	detailView  *tview.TextView
	layout      *tview.Flex

	client     *client.Client
	serverAddr string
	// stateView narrows the task list to one lifecycle state; empty means all.
	stateView v1alpha1.TaskState
	filter    string

	// Cached data from the last successful refresh.
	tasks   []*v1alpha1.Task
	lastErr error

	mu sync.Mutex

	// mainFlex is the outermost vertical flex (header + content + footer).
	mainFlex *tview.Flex

	// describeOpen tracks whether the describe panel is visible.
	describeOpen bool
	// filterOpen tracks whether the filter input is visible.
	filterOpen bool
}

// NewApp creates a new TUI application connected to the given Chrona API server.
func NewApp(serverAddr string) *App {
	a := &App{
		app:        tview.NewApplication(),
		client:     client.New(serverAddr),
		serverAddr: serverAddr,
	}

	// -- Header --
	a.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.header.SetBackgroundColor(tcell.ColorDarkBlue)

	// -- Footer --
	a.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.footer.SetBackgroundColor(tcell.ColorDarkBlue)

	// -- Table --
	a.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0). // header row stays fixed
		SetSeparator(tview.Borders.Vertical)
	a.table.SetBorder(false)
	a.table.SetBorderPadding(0, 0, 1, 1)

	// -- Filter input --
	a.filterInput = tview.NewInputField().
		SetLabel(" Filter: ").
		SetFieldWidth(40).
		SetFieldBackgroundColor(tcell.ColorBlack).
		SetLabelColor(tcell.ColorYellow)

	a.filterInput.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			a.mu.Lock()
			a.filter = a.filterInput.GetText()
			a.mu.Unlock()
			a.hideFilter()
			a.updateTable()
			a.app.SetFocus(a.table)
		case tcell.KeyEscape:
			a.mu.Lock()
			a.filter = ""
			a.mu.Unlock()
			a.filterInput.SetText("")
			a.hideFilter()
			a.updateTable()
			a.app.SetFocus(a.table)
		}
	})

	// -- Detail / Describe view --
	a.detailView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	a.detailView.SetBorder(true).
		SetTitle(" Describe ").
		SetBorderColor(tcell.ColorDodgerBlue)

	// -- Build the main layout --
	// contentFlex holds the table (and optionally the detail panel).
	contentFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(a.table, 0, 1, true)

	// mainFlex is the full vertical layout: header, content, footer.
	a.mainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 1, 0, false).
		AddItem(contentFlex, 0, 1, true).
		AddItem(a.footer, 1, 0, false)

	a.layout = contentFlex

	// Pages allows switching between the main view and overlays.
	a.pages = tview.NewPages().
		AddPage("main", a.mainFlex, true, true)

	a.updateHeader()
	a.updateFooter()
	a.setupKeyBindings()

	a.app.SetRoot(a.pages, true).SetFocus(a.table)

	return a
}

// Run starts the background refresh goroutine and runs the TUI event loop.
func (a *App) Run() error {
	// Perform an initial synchronous refresh so the table is populated
	// before the first render.
	a.refresh()

	// Background poller.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			a.refresh()
			a.app.QueueUpdateDraw(func() {
				a.updateTable()
			})
		}
	}()

	return a.app.Run()
}

// ---------------------------------------------------------------------------
// Key bindings
// ---------------------------------------------------------------------------

func (a *App) setupKeyBindings() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// When the filter input has focus, let it handle its own keys.
		if a.filterOpen {
			return event
		}

		// When the describe panel is open, Escape closes it.
		if a.describeOpen && event.Key() == tcell.KeyEscape {
			a.hideDescribe()
			return nil
		}

		switch event.Key() {
		case tcell.KeyRune:
			switch event.Rune() {
			case '1':
				a.switchView("")
				return nil
			case '2':
				a.switchView(v1alpha1.TaskWorking)
				return nil
			case '3':
				a.switchView(v1alpha1.TaskCompleted)
				return nil
			case '4':
				a.switchView(v1alpha1.TaskFailed)
				return nil
			case '/':
				a.showFilter()
				return nil
			case 'q':
				a.app.Stop()
				return nil
			case 'r':
				go func() {
					a.refresh()
					a.app.QueueUpdateDraw(func() {
						a.updateTable()
					})
				}()
				return nil
			case 'c':
				a.confirmCancel()
				return nil
			case 'j':
				// Move selection down (vim-style).
				row, _ := a.table.GetSelection()
				if row < a.table.GetRowCount()-1 {
					a.table.Select(row+1, 0)
				}
				return nil
			case 'k':
				// Move selection up (vim-style).
				row, _ := a.table.GetSelection()
				if row > 1 { // row 0 is the header
					a.table.Select(row-1, 0)
				}
				return nil
			}
		case tcell.KeyEnter:
			a.showDescribe()
			return nil
		case tcell.KeyEscape:
			if a.filter != "" {
				a.mu.Lock()
				a.filter = ""
				a.mu.Unlock()
				a.updateTable()
			}
			return nil
		}

		return event
	})
}

// ---------------------------------------------------------------------------
// View switching
// ---------------------------------------------------------------------------

func (a *App) switchView(state v1alpha1.TaskState) {
	a.mu.Lock()
	a.stateView = state
	a.mu.Unlock()

	a.updateHeader()

	go func() {
		a.refresh()
		a.app.QueueUpdateDraw(func() {
			a.updateTable()
		})
	}()
}

// ---------------------------------------------------------------------------
// Data refresh
// ---------------------------------------------------------------------------

func (a *App) refresh() {
	a.mu.Lock()
	state := a.stateView
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	tasks, err := a.client.ListTasks(ctx, "", state)

	a.mu.Lock()
	a.tasks = tasks
	a.lastErr = err
	a.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Table rendering
// ---------------------------------------------------------------------------

func (a *App) updateTable() {
	a.table.Clear()

	a.mu.Lock()
	filter := strings.ToLower(a.filter)
	err := a.lastErr
	a.mu.Unlock()

	if err != nil {
		a.setTableHeaders([]string{"ERROR"})
		a.table.SetCell(1, 0,
			tview.NewTableCell(fmt.Sprintf("Error: %v", err)).
				SetTextColor(tcell.ColorRed))
		return
	}

	a.renderTasks(filter)

	// Ensure a row is selected.
	if a.table.GetRowCount() > 1 {
		a.table.Select(1, 0)
	}
}

func (a *App) setTableHeaders(headers []string) {
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(tcell.ColorWhite).
			SetBackgroundColor(tcell.ColorDarkCyan).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1)
		a.table.SetCell(0, col, cell)
	}
}

// matchesFilter returns true if any of the values contain the filter string.
func matchesFilter(filter string, values ...string) bool {
	if filter == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), filter) {
			return true
		}
	}
	return false
}

func (a *App) renderTasks(filter string) {
	headers := []string{"ID", "CONTEXT", "STATE", "ROUNDS", "AGE", "QUESTION"}
	a.setTableHeaders(headers)

	a.mu.Lock()
	tasks := a.tasks
	a.mu.Unlock()

	row := 1
	for _, t := range tasks {
		state := string(t.Status.State)
		rounds := fmt.Sprintf("%d", t.Status.Rounds)
		age := formatAge(t.Metadata.CreatedAt)
		question := firstUserText(t)

		if !matchesFilter(filter, t.Metadata.ID, t.Metadata.ContextID, state, question) {
			continue
		}

		a.table.SetCell(row, 0, tview.NewTableCell(t.Metadata.ID).SetExpansion(1))
		a.table.SetCell(row, 1, tview.NewTableCell(t.Metadata.ContextID).SetExpansion(1))
		a.table.SetCell(row, 2, tview.NewTableCell(state).
			SetTextColor(stateColor(t.Status.State)).SetExpansion(1))
		a.table.SetCell(row, 3, tview.NewTableCell(rounds).SetExpansion(1))
		a.table.SetCell(row, 4, tview.NewTableCell(age).SetExpansion(1))
		a.table.SetCell(row, 5, tview.NewTableCell(truncate(question, 60)).SetExpansion(2))
		row++
	}
}

// firstUserText returns the text of the first user message, which is the
// question the task was submitted with.
func firstUserText(t *v1alpha1.Task) string {
	for _, m := range t.History {
		if m.Role == v1alpha1.RoleUser {
			return m.Text
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// ---------------------------------------------------------------------------
// Describe (detail panel)
// ---------------------------------------------------------------------------

func (a *App) showDescribe() {
	row, _ := a.table.GetSelection()
	if row < 1 || row >= a.table.GetRowCount() {
		return
	}

	id := a.table.GetCell(row, 0).Text

	a.detailView.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var detail string
	task, err := a.client.GetTask(ctx, id)
	if err != nil {
		detail = fmt.Sprintf("[red]Error: %v[-]", err)
	} else {
		detail = a.formatTaskDescribe(task)
	}

	a.detailView.SetText(detail)

	if !a.describeOpen {
		a.layout.AddItem(a.detailView, 0, 1, false)
		a.describeOpen = true
	}
}

func (a *App) hideDescribe() {
	if a.describeOpen {
		a.layout.RemoveItem(a.detailView)
		a.describeOpen = false
		a.app.SetFocus(a.table)
	}
}

func (a *App) formatTaskDescribe(task *v1alpha1.Task) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[::b]ID:[-::-]       %s\n", task.Metadata.ID))
	b.WriteString(fmt.Sprintf("[::b]Context:[-::-]  %s\n", task.Metadata.ContextID))
	b.WriteString(fmt.Sprintf("[::b]State:[-::-]    [%s]%s[-]\n",
		stateColorName(task.Status.State), task.Status.State))
	b.WriteString(fmt.Sprintf("[::b]Rounds:[-::-]   %d\n", task.Status.Rounds))
	b.WriteString(fmt.Sprintf("[::b]Created:[-::-]  %s\n", task.Metadata.CreatedAt.Format(time.RFC3339)))
	if !task.Status.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf("[::b]Started:[-::-]  %s\n", task.Status.StartedAt.Format(time.RFC3339)))
	}
	if !task.Status.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("[::b]Finished:[-::-] %s\n", task.Status.FinishedAt.Format(time.RFC3339)))
	}
	if task.Status.Incomplete {
		b.WriteString("[yellow][::b]Incomplete:[-::-] round limit reached[-]\n")
	}
	if task.Status.Error != "" {
		b.WriteString(fmt.Sprintf("[red][::b]Error:[-::-] %s[-]\n", task.Status.Error))
	}

	if len(task.Metadata.Labels) > 0 {
		b.WriteString("[::b]Labels:[-::-]\n")
		for k, v := range task.Metadata.Labels {
			b.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
		}
	}

	b.WriteString("\n[::b]Conversation:[-::-]\n")
	for _, m := range task.History {
		switch m.Role {
		case v1alpha1.RoleUser:
			b.WriteString(fmt.Sprintf("[cyan]user>[-] %s\n", m.Text))
		case v1alpha1.RoleAgent:
			if m.Text != "" {
				b.WriteString(fmt.Sprintf("[green]agent>[-] %s\n", m.Text))
			}
			for _, call := range m.ToolCalls {
				b.WriteString(fmt.Sprintf("[green]agent>[-] [yellow]call %s(%s)[-]\n", call.Name, call.Arguments))
			}
		case v1alpha1.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			if m.ToolResult.Error != nil {
				b.WriteString(fmt.Sprintf("[gray]tool %s>[-] [red]%s: %s[-]\n",
					m.ToolResult.Name, m.ToolResult.Error.Code, m.ToolResult.Error.Message))
			} else {
				b.WriteString(fmt.Sprintf("[gray]tool %s>[-] %s\n", m.ToolResult.Name, m.ToolResult.Content))
			}
		}
	}

	if task.Status.Answer != "" {
		b.WriteString(fmt.Sprintf("\n[::b]Answer:[-::-]\n%s\n", task.Status.Answer))
	}

	return b.String()
}

// ---------------------------------------------------------------------------
// Filter
// ---------------------------------------------------------------------------

func (a *App) showFilter() {
	if a.filterOpen {
		return
	}
	a.filterOpen = true
	a.filterInput.SetText(a.filter)

	// Replace footer with filter input in the main vertical flex.
	a.mainFlex.RemoveItem(a.footer)
	a.mainFlex.AddItem(a.filterInput, 1, 0, true)
	a.app.SetFocus(a.filterInput)
}

func (a *App) hideFilter() {
	if !a.filterOpen {
		return
	}
	a.filterOpen = false

	// Restore footer in place of filter input.
	a.mainFlex.RemoveItem(a.filterInput)
	a.mainFlex.AddItem(a.footer, 1, 0, false)
	a.app.SetFocus(a.table)
}

// ---------------------------------------------------------------------------
// Cancel with confirmation
// ---------------------------------------------------------------------------

func (a *App) confirmCancel() {
	row, _ := a.table.GetSelection()
	if row < 1 || row >= a.table.GetRowCount() {
		return
	}

	id := a.table.GetCell(row, 0).Text

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Cancel task %q?", id)).
		AddButtons([]string{"Cancel task", "Keep running"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			if buttonLabel == "Cancel task" {
				a.cancelTask(id)
			}
			a.pages.RemovePage("confirm")
			a.app.SetFocus(a.table)
		})
	modal.SetBackgroundColor(tcell.ColorDarkRed)

	a.pages.AddPage("confirm", modal, true, true)
}

func (a *App) cancelTask(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := a.client.CancelTask(ctx, id); err != nil {
		a.footer.SetText(fmt.Sprintf(" [red]Cancel failed: %v[-]", err))
		go func() {
			time.Sleep(3 * time.Second)
			a.app.QueueUpdateDraw(func() {
				a.updateFooter()
			})
		}()
		return
	}

	// Refresh immediately after the cancel lands.
	go func() {
		a.refresh()
		a.app.QueueUpdateDraw(func() {
			a.updateTable()
		})
	}()
}

// ---------------------------------------------------------------------------
// Header & Footer
// ---------------------------------------------------------------------------

func (a *App) updateHeader() {
	views := []struct {
		key   string
		name  string
		state v1alpha1.TaskState
	}{
		{"1", "All", ""},
		{"2", "Working", v1alpha1.TaskWorking},
		{"3", "Completed", v1alpha1.TaskCompleted},
		{"4", "Failed", v1alpha1.TaskFailed},
	}

	a.mu.Lock()
	current := a.stateView
	filter := a.filter
	a.mu.Unlock()

	var parts []string
	for _, v := range views {
		if v.state == current {
			parts = append(parts, fmt.Sprintf("[::b]<%s>[%s][::-]", v.key, v.name))
		} else {
			parts = append(parts, fmt.Sprintf("<%s>%s", v.key, v.name))
		}
	}

	filterInfo := ""
	if filter != "" {
		filterInfo = fmt.Sprintf(" | [yellow]filter: %s[-]", filter)
	}

	a.header.SetText(fmt.Sprintf(" [::b]Chrona[::-] | %s | %s%s",
		a.serverAddr, strings.Join(parts, "  "), filterInfo))
}

func (a *App) updateFooter() {
	a.footer.SetText(" [yellow]<enter>[white]Describe  [yellow]<c>[white]Cancel  [yellow]</>[white]Filter  [yellow]<q>[white]Quit  [yellow]<r>[white]Refresh  [yellow]<esc>[white]Back")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// formatAge returns a human-readable duration string since the given time.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// stateColor returns the tcell color appropriate for a task state.
func stateColor(state v1alpha1.TaskState) tcell.Color {
	switch state {
	case v1alpha1.TaskCompleted:
		return tcell.ColorGreen
	case v1alpha1.TaskWorking:
		return tcell.ColorYellow
	case v1alpha1.TaskSubmitted:
		return tcell.ColorWhite
	case v1alpha1.TaskFailed:
		return tcell.ColorRed
	case v1alpha1.TaskCanceled:
		return tcell.ColorGray
	default:
		return tcell.ColorWhite
	}
}

// stateColorName returns the tview color tag name for a task state.
func stateColorName(state v1alpha1.TaskState) string {
	switch state {
	case v1alpha1.TaskCompleted:
		return "green"
	case v1alpha1.TaskWorking:
		return "yellow"
	case v1alpha1.TaskSubmitted:
		return "white"
	case v1alpha1.TaskFailed:
		return "red"
	case v1alpha1.TaskCanceled:
		return "gray"
	default:
		return "white"
	}
}
