// Package tui is the interactive terminal editor of one collection, with
// inline editing, keyboard moves and mouse drag and drop.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"linkdeck/internal/collection"
	"linkdeck/internal/drag"
	"linkdeck/internal/field"
	"linkdeck/internal/hierarchy"
)

// headerRows is the number of screen rows above the first item.
const headerRows = 2

type styles struct {
	title    lipgloss.Style
	cursor   lipgloss.Style
	hover    lipgloss.Style
	dragging lipgloss.Style
	busy     lipgloss.Style
	label    lipgloss.Style
	err      lipgloss.Style
	ok       lipgloss.Style
	help     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		cursor:   lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
		hover:    lipgloss.NewStyle().Background(lipgloss.Color("236")),
		dragging: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true),
		busy:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// frame is one collection on the navigation stack.
type frame struct {
	ctrl    *collection.Controller
	drag    *drag.Adapter
	title   string
	cursor  int
	changes chan struct{}
	done    chan struct{}
	unsub   func()
}

func newFrame(ctrl *collection.Controller, title string) *frame {
	f := &frame{
		ctrl:    ctrl,
		drag:    drag.New(ctrl),
		title:   title,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	f.unsub = ctrl.Subscribe(func([]collection.Item) {
		select {
		case f.changes <- struct{}{}:
		default:
		}
	})
	return f
}

func (f *frame) close() {
	f.unsub()
	close(f.done)
}

type formMode int

const (
	formNone formMode = iota
	formAdd
	formEdit
)

type form struct {
	mode   formMode
	id     string
	field  int
	values map[string]string
}

type changedMsg struct{ frame *frame }

type opDoneMsg struct {
	op  string
	err error
}

type childLoadedMsg struct {
	title string
	ctrl  *collection.Controller
	err   error
}

type Model struct {
	ctx    context.Context
	tree   *hierarchy.Controller
	stack  []*frame
	form   form
	input  textinput.Model
	hover  int
	status string
	failed bool
	styles styles
}

// New builds the editor for root. tree is set when root's kind has child
// scopes, and must own root as its parent.
func New(ctx context.Context, root *collection.Controller, tree *hierarchy.Controller) Model {
	input := textinput.New()
	input.Prompt = ""
	input.CharLimit = 0
	return Model{
		ctx:    ctx,
		tree:   tree,
		stack:  []*frame{newFrame(root, root.Kind().Name)},
		input:  input,
		hover:  -1,
		styles: defaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForChange(m.top())
}

func waitForChange(f *frame) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.changes:
			return changedMsg{frame: f}
		case <-f.done:
			return nil
		}
	}
}

func (m Model) top() *frame {
	return m.stack[len(m.stack)-1]
}

func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		for _, f := range m.stack {
			if f == msg.frame {
				m.clampCursor()
				return m, waitForChange(f)
			}
		}
		return m, nil

	case opDoneMsg:
		return m.finish(msg)

	case childLoadedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		f := newFrame(msg.ctrl, msg.title)
		m.stack = append(m.stack, f)
		m.setStatus("")
		return m, waitForChange(f)

	case tea.MouseMsg:
		return m.mouse(msg)

	case tea.KeyMsg:
		if m.form.mode != formNone {
			return m.formKey(msg)
		}
		return m.key(msg)
	}
	return m, nil
}

func (m Model) finish(msg opDoneMsg) (tea.Model, tea.Cmd) {
	m.clampCursor()
	if msg.err != nil {
		m.setError(msg.err)
		return m, nil
	}
	if (msg.op == "add" || msg.op == "save") && m.form.mode != formNone {
		m.form = form{}
		m.input.Blur()
	}
	m.setStatus(msg.op + " ok")
	return m, nil
}

func (m Model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := m.top()
	items := f.ctrl.Items()
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if f.cursor > 0 {
			f.cursor--
		}
	case "down", "j":
		if f.cursor < len(items)-1 {
			f.cursor++
		}
	case "K":
		return m, m.move(f, -1)
	case "J":
		return m, m.move(f, 1)
	case "a":
		m.form = form{mode: formAdd, values: map[string]string{}}
		for k, v := range f.ctrl.Kind().Defaults {
			m.form.values[k] = v
		}
		m.loadField()
		return m, textinput.Blink
	case "e":
		if len(items) == 0 {
			return m, nil
		}
		id := items[f.cursor].ID
		if err := f.ctrl.BeginEdit(id); err != nil {
			m.setError(err)
			return m, nil
		}
		m.form = form{mode: formEdit, id: id}
		m.loadField()
		return m, textinput.Blink
	case "d":
		if len(items) == 0 {
			return m, nil
		}
		id := items[f.cursor].ID
		if m.tree != nil && len(m.stack) == 1 {
			tree := m.tree
			return m, m.run("delete", func(ctx context.Context) error { return tree.DeleteParent(ctx, id) })
		}
		return m, m.run("delete", func(ctx context.Context) error { return f.ctrl.Delete(ctx, id) })
	case "o":
		if m.tree == nil || len(m.stack) > 1 || len(items) == 0 {
			m.setStatus("no child items here")
			return m, nil
		}
		id := items[f.cursor].ID
		title := f.title + " › " + f.ctrl.Label(id)
		tree, ctx := m.tree, m.ctx
		return m, func() tea.Msg {
			ctrl, err := tree.LoadChild(ctx, id)
			return childLoadedMsg{title: title, ctrl: ctrl, err: err}
		}
	case "backspace":
		if len(m.stack) > 1 {
			m.top().close()
			m.stack = m.stack[:len(m.stack)-1]
			m.setStatus("")
		}
	case "esc":
		f.drag.Cancel()
	}
	return m, nil
}

func (m Model) move(f *frame, delta int) tea.Cmd {
	from := f.cursor
	to := from + delta
	if to < 0 || to >= f.ctrl.Len() {
		return nil
	}
	f.cursor = to
	return m.run("move", func(ctx context.Context) error { return f.ctrl.Reorder(ctx, from, to) })
}

func (m Model) formKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := m.top()
	fields := f.ctrl.Kind().Fields
	switch msg.String() {
	case "esc":
		if m.form.mode == formEdit {
			if err := f.ctrl.CancelEdit(m.form.id); err != nil {
				m.setError(err)
				return m, nil
			}
		}
		m.form = form{}
		m.input.Blur()
		m.setStatus("cancelled")
		return m, nil
	case "tab", "shift+tab":
		if err := m.commitField(); err != nil {
			m.setError(err)
			return m, nil
		}
		step := 1
		if msg.String() == "shift+tab" {
			step = len(fields) - 1
		}
		m.form.field = (m.form.field + step) % len(fields)
		m.loadField()
		return m, nil
	case "enter":
		if err := m.commitField(); err != nil {
			m.setError(err)
			return m, nil
		}
		if m.form.mode == formAdd {
			values := make(map[string]string, len(m.form.values))
			for k, v := range m.form.values {
				values[k] = v
			}
			return m, m.run("add", func(ctx context.Context) error {
				_, err := f.ctrl.Add(ctx, values)
				return err
			})
		}
		id := m.form.id
		return m, m.run("save", func(ctx context.Context) error {
			_, err := f.ctrl.Save(ctx, id)
			return err
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// commitField stores the input value as the pending value of the current
// field.
func (m *Model) commitField() error {
	f := m.top()
	d := f.ctrl.Kind().Fields[m.form.field]
	value := m.input.Value()
	if m.form.mode == formAdd {
		m.form.values[d.Key] = value
		return nil
	}
	return f.ctrl.UpdateTemp(m.form.id, d.Key, value)
}

// loadField points the input at the current field's pending value.
func (m *Model) loadField() {
	f := m.top()
	d := f.ctrl.Kind().Fields[m.form.field]
	value := m.form.values[d.Key]
	if m.form.mode == formEdit {
		if st, ok := f.ctrl.State(m.form.id); ok {
			value = st.Temp[d.Key]
		}
	}
	m.input.Placeholder = d.DisplayLabel()
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m Model) mouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	f := m.top()
	items := f.ctrl.Items()
	row := msg.Y - headerRows
	inList := row >= 0 && row < len(items)

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft || !inList || m.form.mode != formNone {
			return m, nil
		}
		f.cursor = row
		if err := f.drag.Start(items[row].ID); err != nil {
			m.setError(err)
		}
	case tea.MouseActionMotion:
		m.hover = -1
		if inList {
			m.hover = row
		}
	case tea.MouseActionRelease:
		if _, dragging := f.drag.Active(); !dragging {
			return m, nil
		}
		if !inList {
			f.drag.Cancel()
			return m, nil
		}
		overID := items[row].ID
		f.cursor = row
		m.hover = -1
		return m, m.run("move", func(ctx context.Context) error { return f.drag.Drop(ctx, overID) })
	}
	return m, nil
}

func (m *Model) clampCursor() {
	for _, f := range m.stack {
		if n := f.ctrl.Len(); f.cursor >= n {
			f.cursor = n - 1
		}
		if f.cursor < 0 {
			f.cursor = 0
		}
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.failed = false
}

func (m *Model) setError(err error) {
	m.failed = true
	var validationErr *field.ValidationError
	switch {
	case errors.As(err, &validationErr):
		m.status = validationErr.Error()
	case errors.Is(err, collection.ErrItemBusy):
		m.status = "item is busy, try again"
	default:
		m.status = err.Error()
	}
}

func (m Model) View() string {
	f := m.top()
	var b strings.Builder
	b.WriteString(m.styles.title.Render(f.title))
	b.WriteString("\n\n")

	active, _ := f.drag.Active()
	items := f.ctrl.Items()
	if len(items) == 0 {
		b.WriteString(m.styles.busy.Render("  (empty)"))
		b.WriteString("\n")
	}
	for i, it := range items {
		line := f.ctrl.Label(it.ID)
		if st, ok := f.ctrl.State(it.ID); ok && st.Busy() {
			line += m.styles.busy.Render(" …")
		}
		switch {
		case it.ID == active:
			line = m.styles.dragging.Render("≡ " + line)
		case i == f.cursor:
			line = m.styles.cursor.Render("› " + line)
		default:
			line = "  " + line
		}
		if i == m.hover && it.ID != active {
			line = m.styles.hover.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.form.mode != formNone {
		b.WriteString("\n")
		b.WriteString(m.formView(f))
	}

	b.WriteString("\n")
	if m.status != "" {
		style := m.styles.ok
		if m.failed {
			style = m.styles.err
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.help.Render(m.help()))
	return b.String()
}

func (m Model) formView(f *frame) string {
	var b strings.Builder
	title := "New " + f.ctrl.Kind().Name
	if m.form.mode == formEdit {
		title = "Edit " + f.ctrl.Label(m.form.id)
	}
	b.WriteString(m.styles.title.Render(title))
	b.WriteString("\n")
	var temp map[string]string
	if m.form.mode == formEdit {
		if st, ok := f.ctrl.State(m.form.id); ok {
			temp = st.Temp
		}
	} else {
		temp = m.form.values
	}
	for i, d := range f.ctrl.Kind().Fields {
		label := m.styles.label.Render(fmt.Sprintf("%-12s", d.DisplayLabel()))
		value := temp[d.Key]
		if i == m.form.field {
			value = m.input.View()
		}
		b.WriteString(label + " " + value + "\n")
	}
	return b.String()
}

func (m Model) help() string {
	if m.form.mode != formNone {
		return "tab next field · enter save · esc cancel"
	}
	parts := []string{"a add", "e edit", "d delete", "K/J move", "drag to reorder"}
	if m.tree != nil && len(m.stack) == 1 {
		parts = append(parts, "o open")
	}
	if len(m.stack) > 1 {
		parts = append(parts, "backspace back")
	}
	return strings.Join(append(parts, "q quit"), " · ")
}
