package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jwebster45206/storyloom/internal/director"
	"github.com/jwebster45206/storyloom/internal/playback"
	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/timeline"
	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/reconcile"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	AppTitle         = "STORYLOOM"
	PlaceHolderText  = "Write a line, or /gen to continue the story..."
	maxIncomingShown = 5
)

// Playback is the subset of the playback controller the UI drives.
type Playback interface {
	Pause() bool
	Resume() bool
	Cancel()
	State() playback.State
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	ctx       context.Context
	director  *director.Director
	player    Playback
	sessionID string

	storyViewport viewport.Model
	metaViewport  viewport.Model
	textarea      textarea.Model
	ready         bool
	width         int
	height        int

	generating   bool
	progressTick int

	// Entries announced for playback stay hidden until revealed.
	hidden   map[string]bool
	revealed map[string]int

	status      string
	statusLevel slog.Level

	conflict       *conflictMsg
	conflictChoice reconcile.Resolution

	incoming        []services.IncomingRecord
	incomingEnabled bool

	showQuitModal bool
}

type generateDoneMsg struct{ err error }

type actionDoneMsg struct {
	status string
	err    error
}

type progressTickMsg struct{}

var (
	storyPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	indexStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

// typeStyles colours the label of each known entry type. Unknown types are left unstyled.
var typeStyles = map[entry.Type]lipgloss.Style{
	entry.TypeDialogue:  lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
	entry.TypeAction:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true),
	entry.TypeNarration: lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
	entry.TypeDirection: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	entry.TypeJSON:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	entry.TypeReject:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

var titleCaser = cases.Title(language.English)

func NewConsoleUI(ctx context.Context, d *director.Director, player Playback, sessionID string) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 4000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	storyVp := viewport.New(50, 20)
	storyVp.MouseWheelEnabled = true

	return ConsoleUI{
		ctx:             ctx,
		director:        d,
		player:          player,
		sessionID:       sessionID,
		textarea:        ta,
		storyViewport:   storyVp,
		metaViewport:    viewport.New(20, 20),
		hidden:          make(map[string]bool),
		revealed:        make(map[string]int),
		incomingEnabled: d.Settings().EnableIncomingWebhook,
	}
}

// typeLabel title-cases the entry type for display.
func typeLabel(t entry.Type) string {
	if t == entry.TypeJSON {
		return "JSON"
	}
	return titleCaser.String(string(t))
}

// formatEntry renders one timeline entry at the given width. content may be a
// partially revealed prefix of e.Content.
func formatEntry(index int, e entry.Entry, content string, width int) string {
	label := "[" + typeLabel(e.Type) + "]"
	if style, ok := typeStyles[e.Type]; ok {
		label = style.Render(label)
	}

	var header strings.Builder
	header.WriteString(indexStyle.Render(fmt.Sprintf("%3d ", index)))
	header.WriteString(label)
	if e.Name != nil && *e.Name != "" {
		header.WriteString(" " + speakerStyle.Render(*e.Name))
	}

	if width < 10 {
		width = 10
	}
	body := wordwrap.String(content, width-4)
	return header.String() + "\n    " + strings.ReplaceAll(body, "\n", "\n    ")
}

// parseInput turns a plain line into an entry. "Name: line" becomes dialogue
// spoken by Name; anything else is an author direction.
func parseInput(input string) entry.Entry {
	if idx := strings.Index(input, ":"); idx > 0 && idx <= 30 {
		speaker := strings.TrimSpace(input[:idx])
		rest := strings.TrimSpace(input[idx+1:])
		if speaker != "" && rest != "" && len(strings.Fields(speaker)) <= 3 {
			return entry.New(entry.TypeDialogue, speaker, rest)
		}
	}
	return entry.New(entry.TypeDirection, "", input)
}

// parseCommand splits "/name arg..." into the lower-cased name and the trimmed argument.
func parseCommand(input string) (name, arg string) {
	input = strings.TrimSpace(strings.TrimPrefix(input, "/"))
	name, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// writeStoryContent rebuilds the timeline view for the current viewport width.
func (m *ConsoleUI) writeStoryContent() {
	width := m.storyViewport.Width - 6

	var content strings.Builder
	content.WriteString(titleStyle.Render(AppTitle) + "\n\n")

	entries := m.director.Timeline().All()
	if len(entries) == 0 {
		content.WriteString("The story is empty. Write a line below, or /gen to begin.\n")
	}
	for i, e := range entries {
		if m.hidden[e.ID] {
			continue
		}
		text := e.Content
		if n, ok := m.revealed[e.ID]; ok {
			if runes := []rune(text); n < len(runes) {
				text = string(runes[:n])
			}
		}
		content.WriteString(formatEntry(i+1, e, text, width) + "\n\n")
	}

	if m.generating {
		content.WriteString(m.renderProgressBar())
	}

	m.storyViewport.SetContent(content.String())
	m.storyViewport.GotoBottom()
}

func (m *ConsoleUI) writeMetadata() {
	settings := m.director.Settings()

	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")
	content.WriteString("Session:\n" + shortID(m.sessionID) + "\n\n")
	if settings.Model != "" {
		content.WriteString("Model:\n" + settings.Model + "\n\n")
	}
	content.WriteString(fmt.Sprintf("Entries:\n%d\n\n", m.director.Timeline().Len()))
	content.WriteString("Playback:\n" + m.player.State().String() + "\n\n")

	if m.status != "" {
		content.WriteString(statusStyle(m.statusLevel).Render(m.status) + "\n\n")
	}

	if m.incomingEnabled {
		content.WriteString("Incoming webhooks:\n")
		if len(m.incoming) == 0 {
			content.WriteString("None yet\n")
		}
		for _, r := range m.incoming {
			content.WriteString(fmt.Sprintf("• #%d %s\n", r.ID, truncate(string(r.Data), 24)))
		}
		content.WriteString("\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• /gen [note]\n")
	content.WriteString("• /pause /resume\n")
	content.WriteString("• /skip\n")
	content.WriteString("• /delete-after N\n")
	content.WriteString("• /copy\n")
	content.WriteString("• /quit\n")

	m.metaViewport.SetContent(content.String())
}

func statusStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return errorStyle
	case level >= slog.LevelWarn:
		return warnStyle
	default:
		return infoStyle
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func (m *ConsoleUI) refresh() {
	if !m.ready {
		return
	}
	m.writeStoryContent()
	m.writeMetadata()
}

func (m *ConsoleUI) setStatus(level slog.Level, text string) {
	m.status = text
	m.statusLevel = level
}

func (m ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.conflict != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m.updateConflictModal(msg)
		}
	}

	if m.showQuitModal {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m.updateQuitModal(msg)
		}
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.storyViewport, vpCmd = m.storyViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		storyWidth := int(float64(m.width)*0.75) - 4
		metaWidth := m.width - storyWidth - 6

		m.storyViewport.Width = storyWidth - 2
		m.storyViewport.Height = m.height - 7
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(storyWidth - 4)

		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if m.generating {
				m.setStatus(slog.LevelWarn, "Wait for the generation to finish.")
				m.refresh()
				return m, nil
			}
			return m, m.addEntry(parseInput(input))
		}

	case timelineMsg:
		// Entries appended by a running generation are about to be played back.
		if m.generating && msg.change.Kind == timeline.ChangeAppended {
			for _, id := range msg.change.IDs {
				m.hidden[id] = true
			}
		}
		m.refresh()

	case playbackMsg:
		for _, id := range msg.ids {
			m.hidden[id] = true
		}
		m.refresh()

	case revealMsg:
		delete(m.hidden, msg.entry.ID)
		m.revealed[msg.entry.ID] = msg.revealed
		m.refresh()

	case renderMsg:
		delete(m.hidden, msg.entry.ID)
		delete(m.revealed, msg.entry.ID)
		m.refresh()

	case teardownMsg:
		clear(m.hidden)
		clear(m.revealed)
		m.refresh()

	case notifyMsg:
		m.setStatus(msg.level, msg.text)
		m.refresh()

	case conflictMsg:
		m.conflict = &msg
		m.conflictChoice = reconcile.ReloadRemote
		return m, nil

	case incomingMsg:
		if msg.err != nil {
			m.setStatus(slog.LevelWarn, "Incoming webhooks unavailable: "+msg.err.Error())
		} else {
			m.incomingEnabled = msg.list.Enabled
			m.incoming = append(m.incoming, msg.list.Records...)
			if len(m.incoming) > maxIncomingShown {
				m.incoming = m.incoming[len(m.incoming)-maxIncomingShown:]
			}
		}
		m.refresh()

	case generateDoneMsg:
		m.generating = false
		if msg.err == nil {
			m.setStatus(slog.LevelInfo, "Generated.")
		} else {
			// Nothing will be played back; show whatever was appended.
			clear(m.hidden)
		}
		m.refresh()
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, director.ErrReloaded) && !errors.Is(msg.err, director.ErrInactiveSession) {
				m.setStatus(slog.LevelError, msg.err.Error())
			}
		} else if msg.status != "" {
			m.setStatus(slog.LevelInfo, msg.status)
		}
		m.refresh()
		return m, nil

	case progressTickMsg:
		if m.generating {
			m.progressTick++
			m.writeStoryContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.storyViewport, vpCmd = m.storyViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(input)

	switch name {
	case "gen", "generate":
		if m.generating {
			m.setStatus(slog.LevelWarn, "A generation is already running.")
			break
		}
		m.generating = true
		m.progressTick = 0
		m.setStatus(slog.LevelInfo, "Generating...")
		m.refresh()
		return m, tea.Batch(m.generate(arg), progressTick())

	case "pause":
		if m.player.Pause() {
			m.setStatus(slog.LevelInfo, "Playback paused.")
		} else {
			m.setStatus(slog.LevelWarn, "Nothing is playing.")
		}

	case "resume":
		if m.player.Resume() {
			m.setStatus(slog.LevelInfo, "Playback resumed.")
		} else {
			m.setStatus(slog.LevelWarn, "Playback is not paused.")
		}

	case "skip":
		m.player.Cancel()
		m.setStatus(slog.LevelInfo, "Playback skipped.")

	case "delete-after":
		n, err := strconv.Atoi(arg)
		entries := m.director.Timeline().All()
		if err != nil || n < 1 || n > len(entries) {
			m.setStatus(slog.LevelWarn, fmt.Sprintf("Usage: /delete-after N (1-%d)", len(entries)))
			break
		}
		return m, m.deleteAfter(entries[n-1].ID)

	case "copy":
		entries := m.director.Timeline().All()
		if len(entries) == 0 {
			m.setStatus(slog.LevelWarn, "Nothing to copy.")
			break
		}
		if err := clipboard.WriteAll(entries[len(entries)-1].Content); err != nil {
			m.setStatus(slog.LevelError, "Copy failed: "+err.Error())
		} else {
			m.setStatus(slog.LevelInfo, "Copied the last entry.")
		}

	case "quit", "exit":
		return m, tea.Quit

	default:
		m.setStatus(slog.LevelWarn, "Unknown command: /"+name)
	}

	m.refresh()
	return m, nil
}

func (m ConsoleUI) generate(instruction string) tea.Cmd {
	return func() tea.Msg {
		return generateDoneMsg{err: m.director.Generate(m.ctx, instruction)}
	}
}

func (m ConsoleUI) addEntry(e entry.Entry) tea.Cmd {
	return func() tea.Msg {
		if err := m.director.AddEntry(m.ctx, e); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "Added " + string(e.Type) + "."}
	}
}

func (m ConsoleUI) deleteAfter(id string) tea.Cmd {
	return func() tea.Msg {
		n, err := m.director.DeleteAfter(m.ctx, id)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: fmt.Sprintf("Deleted %d entries.", n)}
	}
}

func (m ConsoleUI) updateConflictModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	choose := func(r reconcile.Resolution) (tea.Model, tea.Cmd) {
		m.conflict.reply <- r
		m.conflict = nil
		m.textarea.Focus()
		return m, textarea.Blink
	}

	switch key.Type {
	case tea.KeyUp, tea.KeyDown, tea.KeyTab:
		if m.conflictChoice == reconcile.ReloadRemote {
			m.conflictChoice = reconcile.OverwriteRemote
		} else {
			m.conflictChoice = reconcile.ReloadRemote
		}
	case tea.KeyEnter:
		return choose(m.conflictChoice)
	default:
		switch key.String() {
		case "r", "R":
			return choose(reconcile.ReloadRemote)
		case "o", "O":
			return choose(reconcile.OverwriteRemote)
		}
	}
	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEnter:
		return m, tea.Quit
	default:
		switch key.String() {
		case "y", "Y":
			return m, tea.Quit
		case "n", "N", "esc":
			m.showQuitModal = false
			m.textarea.Focus()
			return m, textarea.Blink
		}
	}
	return m, nil
}

func (m ConsoleUI) renderConflictModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("The saved story changed"))
	content.WriteString("\n\n")
	content.WriteString(wordwrap.String(m.conflict.report.Summary, 52))
	content.WriteString("\n\n")

	for _, r := range []reconcile.Resolution{reconcile.ReloadRemote, reconcile.OverwriteRemote} {
		label := titleCaser.String(r.String())
		if r == m.conflictChoice {
			content.WriteString(modalSelectedItemStyle.Render("▶ " + label))
		} else {
			content.WriteString(modalItemStyle.Render("  " + label))
		}
		content.WriteString("\n")
	}

	content.WriteString("\n")
	content.WriteString(promptStyle.Render("R to reload, O to overwrite, or ↑/↓ and Enter"))

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Unsaved edits are flushed before exit.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	if m.conflict != nil {
		return m.renderConflictModal()
	}

	if m.showQuitModal {
		return m.renderQuitModal()
	}

	storyWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - storyWidth - 6

	storyPanel := storyPanelStyle.Width(storyWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.storyViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(storyWidth-4, 0))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, storyPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while a generation runs.
func (m ConsoleUI) renderProgressBar() string {
	usable := m.storyViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
