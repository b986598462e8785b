package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/controller"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/secrets"
	"github.com/harshul/droidpanel/internal/settings"
	"github.com/harshul/droidpanel/internal/tasktimer"
)

// Panel is the controller surface the dashboard drives.
type Panel interface {
	Logs() []model.LogLine
	ClearLogs()
	SubscribeLogs() (<-chan struct{}, func())
	SubscribeTask() (<-chan controller.Event, func())
	SubscribeDevice() (<-chan bool, func())
	Task() model.Task
	PipelineState() model.PipelineState
	IsTaskRunning() bool
	CurrentTaskElapsed() time.Duration
	EmulatorRunning() bool
	Settings() settings.Settings
	CancelCurrentTask()
	PrepareGradle() error
	Compile() error
	BuildAndRun(ctx context.Context) error
	NeedsCredentials() bool
	BuildAPK(creds secrets.Credentials) error
	InstallAPK(ctx context.Context) error
	Authorize(ctx context.Context, code string) error
	ToggleEmulator(ctx context.Context) error
}

// ResourceStats is the host load shown in the header.
type ResourceStats struct {
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryTotal uint64
	MemPercent  float64
	CPUTemp     float64 // in Celsius, -1 if unavailable
}

// DashboardModel is the main bubbletea model for the TUI dashboard
type DashboardModel struct {
	ctx   context.Context
	panel Panel

	// Task and device state, refreshed from the panel events.
	task     model.Task
	state    model.PipelineState
	elapsed  time.Duration
	emulator bool

	resources ResourceStats

	// UI state
	width    int
	height   int
	viewport viewport.Model
	prompt   *FormPrompt
	showHelp bool
	quitting bool
	tick     time.Duration

	// Channels for updates
	updateChan chan tea.Msg

	keys   keyMap
	styles *Styles
}

// keyMap defines the key bindings for the dashboard
type keyMap struct {
	Compile     key.Binding
	BuildAndRun key.Binding
	BuildAPK    key.Binding
	Install     key.Binding
	Authorize   key.Binding
	Emulator    key.Binding
	Gradle      key.Binding
	Stop        key.Binding
	ClearLogs   key.Binding
	Up          key.Binding
	Down        key.Binding
	Bottom      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Compile: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "compile"),
		),
		BuildAndRun: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "build & run"),
		),
		BuildAPK: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "build apk"),
		),
		Install: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "install apk"),
		),
		Authorize: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "authorize"),
		),
		Emulator: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "emulator"),
		),
		Gradle: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "stop gradle"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x", "ctrl+x"),
			key.WithHelp("x", "stop task"),
		),
		ClearLogs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "clear logs"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k", "pgup"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j", "pgdown"),
			key.WithHelp("↓/j", "scroll down"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "follow"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) actions() []key.Binding {
	return []key.Binding{k.Compile, k.BuildAndRun, k.BuildAPK, k.Install, k.Authorize, k.Emulator, k.Gradle, k.Stop}
}

func (k keyMap) navigation() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Bottom, k.ClearLogs, k.Help, k.Quit}
}

// Styles holds all lipgloss styles for the dashboard
type Styles struct {
	App    lipgloss.Style
	Header lipgloss.Style
	Footer lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style

	StatusRunning lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusError   lipgloss.Style
	StatusStopped lipgloss.Style

	LogViewport lipgloss.Style
	LogNormal   lipgloss.Style
	LogError    lipgloss.Style
	LogSuccess  lipgloss.Style
	LogWarning  lipgloss.Style

	Prompt   lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
}

// DefaultStyles returns the default color scheme
func DefaultStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#999"}
	highlight := lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#3DDC84"}
	success := lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}
	warning := lipgloss.AdaptiveColor{Light: "#AAAA00", Dark: "#FFFF00"}
	errorColor := lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF5555"}
	info := lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"}

	return &Styles{
		App: lipgloss.NewStyle().
			Padding(0, 1),

		Header: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(subtle).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(subtle).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight),

		Dim: lipgloss.NewStyle().
			Foreground(subtle),

		StatusRunning: lipgloss.NewStyle().
			Foreground(info).
			Bold(true),

		StatusSuccess: lipgloss.NewStyle().
			Foreground(success),

		StatusError: lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true),

		StatusStopped: lipgloss.NewStyle().
			Foreground(warning),

		LogViewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle).
			Padding(0, 1),

		LogNormal: lipgloss.NewStyle(),

		LogError: lipgloss.NewStyle().
			Foreground(errorColor),

		LogSuccess: lipgloss.NewStyle().
			Foreground(success),

		LogWarning: lipgloss.NewStyle().
			Foreground(warning),

		Prompt: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(0, 1),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpDesc: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// Messages for bubbletea
type tickMsg time.Time
type resourceTickMsg time.Time
type resourceUpdateMsg ResourceStats
type logsChangedMsg struct{}
type refreshMsg struct{}
type taskEventMsg controller.Event
type deviceMsg bool
type actionDoneMsg struct {
	label string
	err   error
}
type quitMsg struct{}

// NewDashboard creates a new dashboard model. Actions run with ctx.
func NewDashboard(ctx context.Context, panel Panel, tick time.Duration) *DashboardModel {
	if tick <= 0 {
		tick = tasktimer.DefaultTick
	}

	vp := viewport.New(80, 20)
	vp.SetContent("")
	vp.MouseWheelEnabled = true

	return &DashboardModel{
		ctx:        ctx,
		panel:      panel,
		task:       panel.Task(),
		state:      panel.PipelineState(),
		emulator:   panel.EmulatorRunning(),
		resources:  ResourceStats{CPUTemp: -1},
		viewport:   vp,
		tick:       tick,
		keys:       defaultKeyMap(),
		styles:     DefaultStyles(),
		updateChan: make(chan tea.Msg, 100),
	}
}

// Init implements tea.Model
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		resourceTickCmd(),
		m.fetchResourceStats(),
		m.listenForUpdates(),
		func() tea.Msg { return refreshMsg{} },
	)
}

func (m *DashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func resourceTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return resourceTickMsg(t)
	})
}

// listenForUpdates listens for external updates
func (m *DashboardModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

// Update implements tea.Model
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// Handle quit FIRST - before anything else can consume the key
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "ctrl+c" {
		return m, m.quit()
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt != nil {
			return m, m.updatePrompt(msg)
		}
		return m, m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		m.updateViewportContent()

	case tickMsg:
		m.elapsed = m.panel.CurrentTaskElapsed()
		cmds = append(cmds, m.tickCmd())

	case resourceTickMsg:
		cmds = append(cmds, resourceTickCmd(), m.fetchResourceStats())

	case resourceUpdateMsg:
		m.resources = ResourceStats(msg)

	// Only messages read from updateChan re-arm the listener.
	case refreshMsg:
		m.updateViewportContent()

	case logsChangedMsg:
		m.updateViewportContent()
		cmds = append(cmds, m.listenForUpdates())

	case taskEventMsg:
		m.task = msg.Task
		m.state = msg.State
		if !msg.Task.Running {
			m.elapsed = 0
		}
		cmds = append(cmds, m.listenForUpdates())

	case deviceMsg:
		m.emulator = bool(msg)
		cmds = append(cmds, m.listenForUpdates())

	case actionDoneMsg:
		// Rejections are already in the log.

	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *DashboardModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Compile):
		return m.action("Compile", m.panel.Compile)

	case key.Matches(msg, m.keys.BuildAndRun):
		return m.action("Build and run", func() error { return m.panel.BuildAndRun(m.ctx) })

	case key.Matches(msg, m.keys.BuildAPK):
		if m.panel.NeedsCredentials() {
			m.prompt = NewCredentialsPrompt(func(creds secrets.Credentials) tea.Cmd {
				return m.action("Build APK", func() error { return m.panel.BuildAPK(creds) })
			})
			m.resizeViewport()
			return nil
		}
		return m.action("Build APK", func() error { return m.panel.BuildAPK(secrets.Credentials{}) })

	case key.Matches(msg, m.keys.Install):
		return m.action("Install APK", func() error { return m.panel.InstallAPK(m.ctx) })

	case key.Matches(msg, m.keys.Authorize):
		m.prompt = NewCodePrompt(func(code string) tea.Cmd {
			return m.action("Authorize", func() error { return m.panel.Authorize(m.ctx, code) })
		})
		m.resizeViewport()
		return nil

	case key.Matches(msg, m.keys.Emulator):
		return m.action("Emulator", func() error { return m.panel.ToggleEmulator(m.ctx) })

	case key.Matches(msg, m.keys.Gradle):
		return m.action("Prepare Gradle", m.panel.PrepareGradle)

	case key.Matches(msg, m.keys.Stop):
		if m.panel.IsTaskRunning() {
			m.panel.CancelCurrentTask()
		}

	case key.Matches(msg, m.keys.ClearLogs):
		m.panel.ClearLogs()

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.resizeViewport()
	}

	return nil
}

func (m *DashboardModel) updatePrompt(msg tea.KeyMsg) tea.Cmd {
	cmd, done := m.prompt.Update(msg)
	if done {
		m.prompt = nil
		m.resizeViewport()
	}
	return cmd
}

// action runs a panel action outside of the update loop since resolving the
// target device talks to adb.
func (m *DashboardModel) action(label string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{label: label, err: fn()}
	}
}

func (m *DashboardModel) quit() tea.Cmd {
	m.quitting = true
	if m.panel.IsTaskRunning() {
		m.panel.CancelCurrentTask()
	}
	return tea.Quit
}

// fetchResourceStats fetches system resource statistics
func (m *DashboardModel) fetchResourceStats() tea.Cmd {
	return func() tea.Msg {
		return resourceUpdateMsg(GetResourceStats(m.ctx))
	}
}

func (m *DashboardModel) resizeViewport() {
	if m.width == 0 {
		return
	}
	m.viewport.Width = m.width - 6

	// Header(2) + status(2) + footer(1) + borders(2)
	reserved := 7
	if m.showHelp {
		reserved += 3
	}
	if m.prompt != nil {
		reserved += m.prompt.Height()
	}
	m.viewport.Height = max(m.height-reserved, 3)
}

// updateViewportContent renders the log lines into the viewport
func (m *DashboardModel) updateViewportContent() {
	lines := m.panel.Logs()

	var content string
	if len(lines) == 0 {
		content = renderWelcome(m.viewport.Width, m.panel.Settings(), m.styles)
	} else {
		rendered := make([]string, 0, len(lines))
		for _, l := range lines {
			rendered = append(rendered, m.renderLine(l))
		}
		content = strings.Join(rendered, "\n")
	}

	// Check if user is at the bottom before updating content
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(content)

	// Only auto-scroll to bottom if user was already at the bottom
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *DashboardModel) renderLine(l model.LogLine) string {
	text := l.Text
	if w := m.viewport.Width; w > 4 && lipgloss.Width(text) > w {
		text = truncate(text, w-3) + "..."
	}

	switch l.Kind {
	case model.KindError:
		return m.styles.LogError.Render(text)
	case model.KindSuccess:
		return m.styles.LogSuccess.Render(text)
	case model.KindWarning:
		return m.styles.LogWarning.Render(text)
	default:
		return m.styles.LogNormal.Render(text)
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

// View implements tea.Model
func (m *DashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.styles.LogViewport.Render(m.viewport.View()))
	b.WriteString("\n")

	if m.prompt != nil {
		b.WriteString(m.styles.Prompt.Render(m.prompt.View()))
		b.WriteString("\n")
	}
	if m.showHelp {
		b.WriteString(m.renderHelp())
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())

	return m.styles.App.Render(b.String())
}

// renderHeader renders the project and the host load
func (m *DashboardModel) renderHeader() string {
	s := m.panel.Settings()

	title := m.styles.Title.Render("🤖 droidpanel")
	project := "no project"
	if s.ProjectPath != "" {
		project = fmt.Sprintf("%s · %s · %s", filepath.Base(s.ProjectPath), s.Module, s.BuildType)
	}
	left := title + "  " + m.styles.Dim.Render(project)
	right := m.styles.Dim.Render(m.renderResources())

	headerWidth := max(m.width-4, 40)
	padding := max(headerWidth-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)

	return m.styles.Header.Width(headerWidth).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *DashboardModel) renderResources() string {
	var parts []string
	if m.resources.CPUPercent > 0 {
		parts = append(parts, fmt.Sprintf("CPU %.0f%%", m.resources.CPUPercent))
	}
	if m.resources.MemoryTotal > 0 {
		parts = append(parts, "Mem "+FormatMemory(m.resources.MemoryUsed, m.resources.MemoryTotal))
	}
	if m.resources.CPUTemp > 0 {
		parts = append(parts, fmt.Sprintf("🌡️ %.0f°C", m.resources.CPUTemp))
	}
	return strings.Join(parts, " | ")
}

// renderStatus renders the device and the task status
func (m *DashboardModel) renderStatus() string {
	device := m.styles.Dim.Render("○ No emulator")
	if m.emulator {
		device = m.styles.StatusSuccess.Render("📱 Emulator running")
	}
	if d := m.panel.Settings().Device; d != "" {
		device += m.styles.Dim.Render(" (" + d + ")")
	}

	return device + "   " + m.renderTask()
}

func (m *DashboardModel) renderTask() string {
	t := m.task
	if t.Running {
		text := fmt.Sprintf("● %s  %s", t.Label, tasktimer.Format(m.elapsed))
		if m.state != model.StateIdle && !m.state.Terminal() {
			text += fmt.Sprintf("  [%s]", m.state)
		}
		return m.styles.StatusRunning.Render(text)
	}

	switch t.LastOutcome {
	case model.OutcomeSucceeded:
		return m.styles.StatusSuccess.Render(fmt.Sprintf("✓ %s succeeded", t.Label))
	case model.OutcomeFailed:
		text := fmt.Sprintf("✗ %s failed (code %d)", t.Label, t.ExitCode)
		if t.FailedStep != "" {
			text = fmt.Sprintf("✗ %s failed at %s (code %d)", t.Label, t.FailedStep, t.ExitCode)
		}
		return m.styles.StatusError.Render(text)
	case model.OutcomeCancelled:
		return m.styles.StatusStopped.Render(fmt.Sprintf("■ %s cancelled", t.Label))
	}
	return m.styles.Dim.Render("Idle")
}

func (m *DashboardModel) renderHelp() string {
	render := func(bindings []key.Binding) string {
		parts := make([]string, 0, len(bindings))
		for _, b := range bindings {
			h := b.Help()
			parts = append(parts, m.styles.HelpKey.Render(h.Key)+" "+m.styles.HelpDesc.Render(h.Desc))
		}
		return strings.Join(parts, " • ")
	}
	return m.styles.Footer.Render(render(m.keys.actions()) + "\n" + render(m.keys.navigation()))
}

// renderFooter renders the dashboard footer with help
func (m *DashboardModel) renderFooter() string {
	var help string
	switch {
	case m.prompt != nil:
		help = fmt.Sprintf("%s next field • %s confirm • %s cancel",
			m.styles.HelpKey.Render("tab"),
			m.styles.HelpKey.Render("enter"),
			m.styles.HelpKey.Render("esc"))
	case m.task.Running:
		help = fmt.Sprintf("%s stop • %s scroll • %s help • %s quit",
			m.styles.HelpKey.Render("x"),
			m.styles.HelpKey.Render("↑↓"),
			m.styles.HelpKey.Render("?"),
			m.styles.HelpKey.Render("q"))
	default:
		help = fmt.Sprintf("%s compile • %s run • %s apk • %s install • %s emulator • %s help • %s quit",
			m.styles.HelpKey.Render("c"),
			m.styles.HelpKey.Render("r"),
			m.styles.HelpKey.Render("b"),
			m.styles.HelpKey.Render("i"),
			m.styles.HelpKey.Render("e"),
			m.styles.HelpKey.Render("?"),
			m.styles.HelpKey.Render("q"))
	}
	return m.styles.Footer.Render(help)
}

// Forward pushes the panel notifications into the update channel until ctx
// is done.
func (m *DashboardModel) Forward(ctx context.Context) {
	logs, unsubscribeLogs := m.panel.SubscribeLogs()
	defer unsubscribeLogs()
	tasks, unsubscribeTasks := m.panel.SubscribeTask()
	defer unsubscribeTasks()
	devices, unsubscribeDevices := m.panel.SubscribeDevice()
	defer unsubscribeDevices()

	for {
		var msg tea.Msg
		select {
		case <-ctx.Done():
			return
		case _, ok := <-logs:
			if !ok {
				return
			}
			// Log notifications coalesce, one pending is enough.
			select {
			case m.updateChan <- logsChangedMsg{}:
			default:
			}
			continue
		case ev, ok := <-tasks:
			if !ok {
				return
			}
			msg = taskEventMsg(ev)
		case running, ok := <-devices:
			if !ok {
				devices = nil
				continue
			}
			msg = deviceMsg(running)
		}

		select {
		case m.updateChan <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// SendQuit sends a quit signal to the dashboard
func (m *DashboardModel) SendQuit() {
	select {
	case m.updateChan <- quitMsg{}:
	default:
	}
}

// renderWelcome is shown while the log is empty.
func renderWelcome(width int, s settings.Settings, styles *Styles) string {
	var b strings.Builder

	center := func(text string) string {
		return lipgloss.NewStyle().Width(max(width, 40)).Align(lipgloss.Center).Render(text)
	}

	b.WriteString("\n")
	for _, line := range droidLogo {
		b.WriteString(center(styles.Title.Render(line)) + "\n")
	}
	b.WriteString("\n")

	if s.ProjectPath == "" {
		b.WriteString(center(styles.StatusStopped.Render("No project configured")) + "\n\n")
		b.WriteString(center(styles.Dim.Render("droidpanel config set project_path /path/to/android/project")) + "\n")
		return b.String()
	}

	b.WriteString(center(styles.Dim.Render("Ready to build "+filepath.Base(s.ProjectPath))) + "\n\n")
	usage := []struct{ key, desc string }{
		{"c", "Compile the debug sources"},
		{"r", "Install and launch the " + s.BuildType + " build"},
		{"b", "Build the " + s.BuildType + " APK"},
		{"i", "Install the newest APK"},
		{"e", "Start or stop the emulator"},
	}
	if s.BuildType == android.BuildTypeRelease {
		usage[2].desc = "Compile, align, sign and verify the release APK"
	}
	for _, u := range usage {
		b.WriteString(center(styles.HelpKey.Render(fmt.Sprintf("%-3s", u.key))+styles.HelpDesc.Render(fmt.Sprintf("%-48s", u.desc))) + "\n")
	}

	return b.String()
}

var droidLogo = []string{
	`  \  ___  /  `,
	`   /     \   `,
	`  | ●   ● |  `,
	`  +-------+  `,
}
