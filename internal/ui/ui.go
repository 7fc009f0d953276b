package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/services"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/desertthunder/detectx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	FileView ViewState = iota
	ModuleView
	ClassView
	ConfirmView
	ProgressView
	ResultView
	ReportView
)

// ReportLoader fetches and parses the report at url.
type ReportLoader func(ctx context.Context, url string) (*formatter.Report, error)

// Options holds the optional collaborators of a [Model].
type Options struct {
	PageSize   int
	LoadReport ReportLoader       // defaults to [formatter.FetchReport] with the default client
	OpenURL    func(string) error // defaults to [shared.OpenBrowser]
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	session *tasks.Session
	guard   *tasks.Guard
	catalog services.Catalog
	opts    Options

	width  int
	height int

	fileInput  textinput.Model
	moduleList list.Model
	classList  list.Model
	module     string
	loading    string

	state       models.SessionState
	updates     <-chan models.SessionState
	unsubscribe func()
	uploadBar   progress.Model
	taskBar     progress.Model

	report   *formatter.Report
	page     int
	pageSize int

	confirmQuit bool
	status      string
	err         error
	help        help.Model
	keys        keyMap
}

// NewModel creates a new TUI model over session. The model subscribes to the session immediately;
// call [Model.Close] once the program exits.
func NewModel(ctx context.Context, session *tasks.Session, catalog services.Catalog, opts Options) *Model {
	if opts.LoadReport == nil {
		opts.LoadReport = func(ctx context.Context, url string) (*formatter.Report, error) {
			return formatter.FetchReport(ctx, nil, url)
		}
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenBrowser
	}
	if opts.PageSize <= 0 {
		opts.PageSize = formatter.DefaultPageSize
	}

	input := textinput.New()
	input.Placeholder = "/path/to/video.mp4"
	input.Prompt = "File: "
	input.Focus()

	updates, unsubscribe := session.Subscribe()

	return &Model{
		ctx:         ctx,
		view:        FileView,
		session:     session,
		guard:       tasks.NewGuard(session),
		catalog:     catalog,
		opts:        opts,
		fileInput:   input,
		moduleList:  newList("Processing Module", []list.Item{moduleItem{}}),
		classList:   newList("Classes", nil),
		updates:     updates,
		unsubscribe: unsubscribe,
		uploadBar:   progress.New(progress.WithDefaultGradient()),
		taskBar:     progress.New(progress.WithDefaultGradient()),
		pageSize:    opts.PageSize,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

func newList(title string, items []list.Item) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	l := list.New(items, delegate, 0, 0)
	l.Title = title
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	return l
}

// Close ends the model's session subscription.
func (m *Model) Close() {
	m.unsubscribe()
}

// Init starts listening for session updates and fetches the module catalog.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchModules(), m.waitForState())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.moduleList.SetSize(msg.Width-4, msg.Height-8)
		m.classList.SetSize(msg.Width-4, msg.Height-8)
		m.uploadBar.Width = max(msg.Width-16, 10)
		m.taskBar.Width = max(msg.Width-16, 10)
		return m, nil

	case tea.KeyMsg:
		if m.confirmQuit {
			return m.handleQuitKeys(msg)
		}
		switch m.view {
		case FileView:
			return m.handleFileKeys(msg)
		case ModuleView:
			return m.handleModuleKeys(msg)
		case ClassView:
			return m.handleClassKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ProgressView:
			return m.handleProgressKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		case ReportView:
			return m.handleReportKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateInputs(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgModulesFetched:
		data := msg.data.(fetched)
		if data.err != nil {
			m.status = fmt.Sprintf("could not load modules: %v", data.err)
			return m, nil
		}
		items := []list.Item{moduleItem{}}
		for _, name := range data.names {
			items = append(items, moduleItem{name: name})
		}
		return m, m.moduleList.SetItems(items)

	case MsgClassesFetched:
		data := msg.data.(fetched)
		m.loading = ""
		if data.err != nil {
			m.err = data.err
			m.view = ModuleView
			return m, nil
		}
		items := make([]list.Item, len(data.names))
		for i, name := range data.names {
			items[i] = classItem{name: name}
		}
		m.classList.Title = fmt.Sprintf("Classes in '%s'", m.module)
		return m, m.classList.SetItems(items)

	case MsgStateChanged:
		m.state = msg.data.(models.SessionState)
		if m.view == ProgressView && m.state.Phase.Terminal() {
			m.view = ResultView
		}
		return m, m.waitForState()

	case MsgPipelineDone:
		err, _ := msg.data.(error)
		if err != nil && !errors.Is(err, shared.ErrSuperseded) {
			m.err = err
			if m.view == ProgressView {
				m.view = ConfirmView
			}
		}
		return m, nil

	case MsgReportLoaded:
		data := msg.data.(reportLoaded)
		m.loading = ""
		if data.err != nil {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
		m.report = data.report
		m.page = 0
		return m, nil

	case MsgOpened:
		if err, _ := msg.data.(error); err != nil {
			m.status = fmt.Sprintf("could not open browser: %v", err)
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.confirmQuit {
		return m.renderQuitConfirm()
	}

	switch m.view {
	case FileView:
		return m.renderFile()
	case ModuleView:
		return m.renderList(m.moduleList, m.keys.enter, m.keys.back, m.keys.quit)
	case ClassView:
		if m.loading != "" {
			return styles.help.Render(m.loading)
		}
		return m.renderList(m.classList, m.keys.toggle, m.keys.enter, m.keys.back, m.keys.quit)
	case ConfirmView:
		return m.renderConfirm()
	case ProgressView:
		return m.renderProgress()
	case ResultView:
		return m.renderResult()
	case ReportView:
		return m.renderReport()
	default:
		return ""
	}
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	if m.guard.InFlight() {
		m.confirmQuit = true
		return m, nil
	}
	return m, tea.Quit
}

func (m *Model) handleQuitKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.confirmQuit = false
		if m.guard.ConfirmLeave(func() bool { return true }) {
			return m, tea.Quit
		}
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.confirmQuit = false
	}
	return m, nil
}

func (m *Model) handleFileKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m.quit()
	case tea.KeyEnter:
		path := strings.TrimSpace(m.fileInput.Value())
		asset, err := services.SelectFile(path, "")
		if err == nil {
			err = m.session.SelectFile(asset)
		}
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.view = ModuleView
		return m, nil
	}

	var cmd tea.Cmd
	m.fileInput, cmd = m.fileInput.Update(msg)
	return m, cmd
}

func (m *Model) handleModuleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.back):
		m.view = FileView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		item, ok := m.moduleList.SelectedItem().(moduleItem)
		if !ok {
			return m, nil
		}
		m.err = nil
		m.module = item.name
		if item.name == "" {
			m.classList.SetItems(nil)
			m.view = ConfirmView
			return m, nil
		}
		m.view = ClassView
		m.loading = fmt.Sprintf("Loading classes for %s...", item.name)
		return m, m.fetchClasses(item.name)
	}

	var cmd tea.Cmd
	m.moduleList, cmd = m.moduleList.Update(msg)
	return m, cmd
}

func (m *Model) handleClassKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.back):
		m.view = ModuleView
		return m, nil
	case key.Matches(msg, m.keys.toggle):
		item, ok := m.classList.SelectedItem().(classItem)
		if !ok {
			return m, nil
		}
		item.selected = !item.selected
		return m, m.classList.SetItem(m.classList.Index(), item)
	case key.Matches(msg, m.keys.enter):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.classList, cmd = m.classList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.view = ModuleView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.err = nil
		m.view = ProgressView
		return m, m.runPipeline()
	}
	return m, nil
}

func (m *Model) handleProgressKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) {
		return m.quit()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.open):
		if m.state.VideoURL == "" {
			m.status = "no processed video available"
			return m, nil
		}
		return m, m.openURL(m.state.VideoURL)
	case key.Matches(msg, m.keys.report):
		if m.state.ReportURL == "" {
			m.status = "no report available"
			return m, nil
		}
		m.err = nil
		m.view = ReportView
		m.report = nil
		m.loading = "Loading report..."
		return m, m.loadReport(m.state.ReportURL)
	case key.Matches(msg, m.keys.restart):
		m.session.Reset()
		m.fileInput.Reset()
		m.module = ""
		m.report = nil
		m.err = nil
		m.status = ""
		m.view = FileView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleReportKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.back):
		m.view = ResultView
	case m.report == nil:
	case key.Matches(msg, m.keys.next):
		m.page = min(m.page+1, m.report.PageCount(m.pageSize)-1)
	case key.Matches(msg, m.keys.prev):
		m.page = max(m.page-1, 0)
	case key.Matches(msg, m.keys.pageSize):
		i := slices.Index(formatter.PageSizes, m.pageSize)
		m.pageSize = formatter.PageSizes[(i+1)%len(formatter.PageSizes)]
		m.page = 0
	}
	return m, nil
}

func (m *Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case FileView:
		m.fileInput, cmd = m.fileInput.Update(msg)
	case ModuleView:
		m.moduleList, cmd = m.moduleList.Update(msg)
	case ClassView:
		m.classList, cmd = m.classList.Update(msg)
	}
	return m, cmd
}

func (m *Model) selectedClasses() []string {
	var classes []string
	for _, it := range m.classList.Items() {
		if c, ok := it.(classItem); ok && c.selected {
			classes = append(classes, c.name)
		}
	}
	return classes
}

func (m *Model) fetchModules() tea.Cmd {
	return func() tea.Msg {
		modules, err := m.catalog.ListModules(m.ctx)
		return modulesFetchedMsg(modules, err)
	}
}

func (m *Model) fetchClasses(module string) tea.Cmd {
	return func() tea.Msg {
		classes, err := m.catalog.ListClasses(m.ctx, module)
		return classesFetchedMsg(classes, err)
	}
}

// runPipeline uploads the selected file when needed and starts the task.
//
// A failed upload leaves the session Idle and a failed start leaves it Uploaded, so running the
// pipeline again resumes from the failed step.
func (m *Model) runPipeline() tea.Cmd {
	ctx, session := m.ctx, m.session
	module, classes := m.module, m.selectedClasses()
	return func() tea.Msg {
		if session.State().Phase == models.Idle {
			if err := session.Upload(ctx); err != nil {
				return pipelineDoneMsg(err)
			}
		}
		_, err := session.Start(ctx, module, classes)
		return pipelineDoneMsg(err)
	}
}

func (m *Model) waitForState() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		state, ok := <-updates
		if !ok {
			return nil
		}
		return stateChangedMsg(state)
	}
}

func (m *Model) loadReport(url string) tea.Cmd {
	return func() tea.Msg {
		report, err := m.opts.LoadReport(m.ctx, url)
		return reportLoadedMsg(report, err)
	}
}

func (m *Model) openURL(url string) tea.Cmd {
	return func() tea.Msg {
		return openedMsg(m.opts.OpenURL(url))
	}
}

func (m *Model) footer(keys ...key.Binding) string {
	var b strings.Builder
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(styles.warn.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(keys))
	return b.String()
}

func (m *Model) renderFile() string {
	title := styles.title.Render("Select a file to process")
	submit := key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select"))
	quit := key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit"))
	return fmt.Sprintf("%s\n%s\n%s", title, m.fileInput.View(), m.footer(submit, quit))
}

func (m *Model) renderList(l list.Model, keys ...key.Binding) string {
	return fmt.Sprintf("%s\n%s", l.View(), m.footer(keys...))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render("Upload and start processing?")

	var b strings.Builder
	if asset := m.state.Asset; asset != nil {
		fmt.Fprintf(&b, "%s%s (%d bytes, %s)\n", styles.label.Render("File"), asset.Name, asset.ByteSize, asset.MimeType)
	}
	module := m.module
	if module == "" {
		module = "(none)"
	}
	fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Module"), module)
	if classes := m.selectedClasses(); len(classes) > 0 {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Classes"), strings.Join(classes, ", "))
	}
	if m.state.Phase == models.Uploaded {
		fmt.Fprintf(&b, "%s%s/%s (already uploaded)\n", styles.label.Render("Object"), m.state.ContainerID, m.state.ObjectKey)
	}

	return fmt.Sprintf("%s\n%s%s", title, b.String(), m.footer(m.keys.yes, m.keys.no, m.keys.quit))
}

func (m *Model) renderProgress() string {
	name := ""
	if m.state.Asset != nil {
		name = m.state.Asset.Name
	}
	title := styles.title.Render(fmt.Sprintf("Processing %s", name))

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Upload"), m.uploadBar.ViewAs(float64(m.state.UploadPercentage)/100))
	fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Task"), m.taskBar.ViewAs(float64(m.state.TaskPercentage)/100))
	fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Phase"), styles.As(m.state.Phase.String(), styles.accent))
	if id := m.state.TaskID(); id != "" {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Task ID"), id)
	}
	if m.state.Warning != "" {
		b.WriteString(styles.warn.Render("Channel: " + m.state.Warning))
		b.WriteString("\n")
	}

	return fmt.Sprintf("%s\n%s%s", title, b.String(), m.footer(m.keys.quit))
}

func (m *Model) renderResult() string {
	var title string
	switch {
	case m.state.Phase == models.Completed:
		title = styles.ok.Render("✓ Processing Complete!")
	case m.state.Err != nil:
		title = styles.err.Render(fmt.Sprintf("Task ended: %v", m.state.Err))
	default:
		title = styles.warn.Render("Task abandoned")
	}

	var b strings.Builder
	if id := m.state.TaskID(); id != "" {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Task ID"), id)
	}
	if m.state.ReportURL != "" {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Report"), m.state.ReportURL)
	}
	if m.state.VideoURL != "" {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Video"), m.state.VideoURL)
	}

	return fmt.Sprintf("%s\n\n%s%s", title, b.String(), m.footer(m.keys.open, m.keys.report, m.keys.restart, m.keys.quit))
}

func (m *Model) renderReport() string {
	if m.report == nil {
		return fmt.Sprintf("%s\n%s", styles.help.Render(m.loading), m.footer(m.keys.back, m.keys.quit))
	}

	title := styles.title.Render(fmt.Sprintf("Total Objects Detected: %d", m.report.Total()))
	table, err := formatter.RenderPage(m.report, m.page, m.pageSize)
	if err != nil {
		table = styles.err.Render(err.Error())
	}
	pager := styles.help.Render(fmt.Sprintf("Page %d of %d • %d per page", m.page+1, m.report.PageCount(m.pageSize), m.pageSize))

	return fmt.Sprintf("%s\n%s\n%s\n%s", title, table, pager, m.footer(m.keys.prev, m.keys.next, m.keys.pageSize, m.keys.back, m.keys.quit))
}

func (m *Model) renderQuitConfirm() string {
	title := styles.warn.Render("A task is still in progress.")
	body := "Leaving stops tracking it; server-side processing continues. Quit anyway?"
	return fmt.Sprintf("%s\n\n%s\n%s", title, body, m.footer(m.keys.yes, m.keys.no))
}
