package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harshul/droidpanel/internal/secrets"
)

// ErrPromptCancelled is returned when the user leaves a prompt with esc.
var ErrPromptCancelled = errors.New("prompt cancelled")

var (
	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#3DDC84"})

	promptSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"})

	promptUnselectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})

	promptCursorStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#3DDC84"})

	promptErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF5555"})

	promptDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
)

// ============================================================================
// Form prompt, embedded in the dashboard
// ============================================================================

// FormField is one input of a FormPrompt.
type FormField struct {
	Label    string
	Secret   bool
	Required bool
}

// FormPrompt is a small multi field form. The dashboard renders it below the
// log and routes every key to it while it is open.
type FormPrompt struct {
	title    string
	fields   []FormField
	inputs   []textinput.Model
	focus    int
	err      string
	onSubmit func(values []string) tea.Cmd
}

// NewFormPrompt returns a focused form. onSubmit gets the values in field
// order once every required field is filled.
func NewFormPrompt(title string, fields []FormField, onSubmit func(values []string) tea.Cmd) *FormPrompt {
	inputs := make([]textinput.Model, len(fields))
	for i, f := range fields {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 256
		ti.Width = 40
		if f.Secret {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		inputs[i] = ti
	}
	if len(inputs) > 0 {
		inputs[0].Focus()
	}

	return &FormPrompt{title: title, fields: fields, inputs: inputs, onSubmit: onSubmit}
}

// NewCredentialsPrompt asks for the keystore and key passwords.
func NewCredentialsPrompt(onSubmit func(creds secrets.Credentials) tea.Cmd) *FormPrompt {
	return NewFormPrompt("🔐 Release signing", []FormField{
		{Label: "Keystore password", Secret: true, Required: true},
		{Label: "Key password (empty: same as keystore)", Secret: true},
	}, func(values []string) tea.Cmd {
		creds := secrets.Credentials{StorePassword: values[0], KeyPassword: values[1]}
		if creds.KeyPassword == "" {
			creds.KeyPassword = creds.StorePassword
		}
		return onSubmit(creds)
	})
}

// NewCodePrompt asks for the code typed on the device.
func NewCodePrompt(onSubmit func(code string) tea.Cmd) *FormPrompt {
	return NewFormPrompt("🔑 Authorize device", []FormField{
		{Label: "Code", Required: true},
	}, func(values []string) tea.Cmd {
		return onSubmit(values[0])
	})
}

// Update handles a key. done is true once the form was submitted or
// cancelled.
func (p *FormPrompt) Update(msg tea.KeyMsg) (cmd tea.Cmd, done bool) {
	switch msg.String() {
	case "esc":
		p.clear()
		return nil, true

	case "tab", "down":
		p.move(1)
		return nil, false

	case "shift+tab", "up":
		p.move(-1)
		return nil, false

	case "enter":
		if p.focus < len(p.inputs)-1 {
			p.move(1)
			return nil, false
		}
		for i, f := range p.fields {
			if f.Required && p.inputs[i].Value() == "" {
				p.err = f.Label + " is required"
				p.setFocus(i)
				return nil, false
			}
		}

		values := make([]string, len(p.inputs))
		for i := range p.inputs {
			values[i] = p.inputs[i].Value()
		}
		p.clear()
		return p.onSubmit(values), true
	}

	p.err = ""
	p.inputs[p.focus], cmd = p.inputs[p.focus].Update(msg)
	return cmd, false
}

func (p *FormPrompt) move(delta int) {
	n := len(p.inputs)
	p.setFocus(((p.focus+delta)%n + n) % n)
}

func (p *FormPrompt) setFocus(i int) {
	p.inputs[p.focus].Blur()
	p.focus = i
	p.inputs[p.focus].Focus()
}

// clear drops the typed values so secrets do not outlive the form.
func (p *FormPrompt) clear() {
	for i := range p.inputs {
		p.inputs[i].Reset()
	}
}

// Height is the number of lines View renders, border included.
func (p *FormPrompt) Height() int {
	return len(p.fields) + 4
}

// View renders the form.
func (p *FormPrompt) View() string {
	var b strings.Builder

	b.WriteString(promptTitleStyle.Render(p.title) + "\n")
	for i, f := range p.fields {
		cursor := "  "
		label := promptUnselectedStyle.Render(f.Label + ": ")
		if i == p.focus {
			cursor = promptCursorStyle.Render("❯ ")
			label = promptSelectedStyle.Render(f.Label + ": ")
		}
		b.WriteString(cursor + label + p.inputs[i].View() + "\n")
	}
	if p.err != "" {
		b.WriteString(promptErrorStyle.Render("  " + p.err))
	}

	return strings.TrimRight(b.String(), "\n")
}

// ============================================================================
// Standalone prompts for the CLI commands
// ============================================================================

// YesNoPrompt creates an interactive yes/no prompt
type YesNoPrompt struct {
	question  string
	selected  bool // true = Yes, false = No
	confirmed bool
}

func (m YesNoPrompt) Init() tea.Cmd {
	return nil
}

func (m YesNoPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "left", "h", "y", "Y":
			m.selected = true
		case "right", "l", "n", "N":
			m.selected = false
		case "tab":
			m.selected = !m.selected
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m YesNoPrompt) View() string {
	yes, no := promptUnselectedStyle.Render("  Yes"), promptUnselectedStyle.Render("  No")
	if m.selected {
		yes = promptCursorStyle.Render("❯ ") + promptSelectedStyle.Render("Yes")
	} else {
		no = promptCursorStyle.Render("❯ ") + promptSelectedStyle.Render("No")
	}

	return promptTitleStyle.Render("? "+m.question) + "\n\n" +
		yes + "    " + no + "\n\n" +
		promptDimStyle.Render("  ← → to select • enter to confirm • esc to cancel")
}

// Confirm asks a yes/no question. Cancelling answers no.
func Confirm(question string, defaultYes bool) (bool, error) {
	model, err := tea.NewProgram(YesNoPrompt{question: question, selected: defaultYes}).Run()
	if err != nil {
		return false, err
	}

	result := model.(YesNoPrompt)
	return result.confirmed && result.selected, nil
}

// SelectOption represents an option in the select prompt
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectPrompt creates an interactive list selection prompt
type SelectPrompt struct {
	title     string
	options   []SelectOption
	cursor    int
	confirmed bool
}

func (m SelectPrompt) Init() tea.Cmd {
	return nil
}

func (m SelectPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m SelectPrompt) View() string {
	var b strings.Builder

	b.WriteString(promptTitleStyle.Render("? "+m.title) + "\n\n")
	for i, opt := range m.options {
		if i == m.cursor {
			b.WriteString(promptCursorStyle.Render("❯ ") + promptSelectedStyle.Render(opt.Label))
			if opt.Description != "" {
				b.WriteString(promptDimStyle.Render(" - " + opt.Description))
			}
		} else {
			b.WriteString("  " + promptUnselectedStyle.Render(opt.Label))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + promptDimStyle.Render("  ↑ ↓ to navigate • enter to select • esc to cancel"))

	return b.String()
}

// Select asks to pick one option.
func Select(title string, options []SelectOption) (SelectOption, error) {
	if len(options) == 0 {
		return SelectOption{}, fmt.Errorf("nothing to select")
	}

	model, err := tea.NewProgram(SelectPrompt{title: title, options: options}).Run()
	if err != nil {
		return SelectOption{}, err
	}

	result := model.(SelectPrompt)
	if !result.confirmed {
		return SelectOption{}, ErrPromptCancelled
	}
	return result.options[result.cursor], nil
}

// formModel runs a FormPrompt as its own program.
type formModel struct {
	form      *FormPrompt
	submitted bool
}

func (m *formModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if keyMsg.String() == "ctrl+c" {
		m.form.clear()
		return m, tea.Quit
	}

	cmd, done := m.form.Update(keyMsg)
	if done {
		return m, tea.Quit
	}
	return m, cmd
}

func (m *formModel) View() string {
	return m.form.View() + "\n\n" + promptDimStyle.Render("  tab next field • enter confirm • esc cancel") + "\n"
}

// AskCredentials prompts for the signing passwords on the terminal.
func AskCredentials() (secrets.Credentials, error) {
	m := &formModel{}
	var creds secrets.Credentials
	m.form = NewCredentialsPrompt(func(c secrets.Credentials) tea.Cmd {
		creds = c
		m.submitted = true
		return nil
	})

	if _, err := tea.NewProgram(m).Run(); err != nil {
		return secrets.Credentials{}, err
	}
	if !m.submitted {
		return secrets.Credentials{}, ErrPromptCancelled
	}
	return creds, nil
}

// ============================================================================
// Styled Output Helpers
// ============================================================================

// PrintSuccess prints a success message
func PrintSuccess(text string) {
	fmt.Println(promptSelectedStyle.Render("✓ ") + text)
}

// PrintWarning prints a warning message
func PrintWarning(text string) {
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AAAA00", Dark: "#FFFF00"}).Render("⚠ ") + text)
}

// PrintError prints an error message
func PrintError(text string) {
	fmt.Println(promptErrorStyle.Render("✗ ") + text)
}

// PrintHighlight prints a highlighted key-value pair
func PrintHighlight(label, value string) {
	fmt.Println(promptDimStyle.Render(fmt.Sprintf("  %-24s", label)) + value)
}
