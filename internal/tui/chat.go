// Package tui is the interactive terminal chat: one conversation against a
// selected workflow, with slash commands to switch workflows mid-session.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/basket/atohub/internal/conversation"
	"github.com/basket/atohub/internal/workflow"
)

// TurnRunner runs one workflow turn. Satisfied by workflow.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req workflow.Request) (workflow.Response, error)
}

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	guardStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
)

type chatEntry struct {
	role conversation.Role
	// guard marks a blocked turn so it renders in the warning style.
	guard bool
	text  string
}

type replyMsg struct {
	resp workflow.Response
	err  error
}

type ctxDoneMsg struct{}

type chatModel struct {
	ctx    context.Context
	runner TurnRunner
	logger *slog.Logger

	workflowID string
	ownerID    string
	sessionID  string

	turns   []conversation.Turn
	entries []chatEntry

	input    textinput.Model
	view     viewport.Model
	spin     spinner.Model
	thinking bool
	ready    bool
}

func newChatModel(ctx context.Context, runner TurnRunner, workflowID, ownerID string, logger *slog.Logger) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message. /workflow <name> to switch, /quit to exit."
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Line

	if logger == nil {
		logger = slog.Default()
	}

	m := chatModel{
		ctx:        ctx,
		runner:     runner,
		logger:     logger,
		workflowID: workflowID,
		ownerID:    ownerID,
		sessionID:  uuid.NewString(),
		input:      ti,
		spin:       sp,
	}
	m.entries = append(m.entries, chatEntry{
		role: conversation.RoleSystem,
		text: fmt.Sprintf("Connected to the %s workflow.", workflowID),
	})
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitCtxDone(m.ctx))
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		const chrome = 4 // header, blank, input, status
		if !m.ready {
			m.view = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = msg.Height - chrome
		}
		m.view.SetContent(m.renderEntries())
		m.view.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			if m.thinking {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			if strings.HasPrefix(line, "/") {
				return m.handleCommand(line)
			}
			return m.send(line)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case replyMsg:
		m.thinking = false
		return m.applyReply(msg), nil

	case spinner.TickMsg:
		if !m.thinking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m chatModel) handleCommand(line string) (chatModel, tea.Cmd) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/workflow", "/wf":
		if len(fields) < 2 {
			m = m.addSystem("Workflows: " + strings.Join(workflowNames(), ", "))
			return m, nil
		}
		name := strings.ToLower(fields[1])
		if _, ok := workflow.Builtins()[name]; !ok {
			m = m.addSystem(fmt.Sprintf("Unknown workflow %q. Workflows: %s", name, strings.Join(workflowNames(), ", ")))
			return m, nil
		}
		m.workflowID = name
		m.sessionID = uuid.NewString()
		m.turns = nil
		m = m.addSystem(fmt.Sprintf("Switched to the %s workflow. Fresh session.", name))
		return m, nil

	case "/clear":
		m.turns = nil
		m.entries = nil
		m.sessionID = uuid.NewString()
		m = m.addSystem("Session cleared.")
		return m, nil

	default:
		m = m.addSystem(fmt.Sprintf("Unknown command %q. Commands: /workflow, /clear, /quit.", fields[0]))
		return m, nil
	}
}

func (m chatModel) send(line string) (chatModel, tea.Cmd) {
	m.turns = append(m.turns, conversation.Turn{Role: conversation.RoleUser, Text: line})
	m.entries = append(m.entries, chatEntry{role: conversation.RoleUser, text: line})
	m.thinking = true
	m = m.refresh()

	req := workflow.Request{
		Workflow:  m.workflowID,
		OwnerID:   m.ownerID,
		SessionID: m.sessionID,
		Turns:     append([]conversation.Turn(nil), m.turns...),
	}
	return m, tea.Batch(runTurnCmd(m.ctx, m.runner, m.logger, req), m.spin.Tick)
}

func runTurnCmd(ctx context.Context, runner TurnRunner, logger *slog.Logger, req workflow.Request) tea.Cmd {
	return func() tea.Msg {
		resp, err := runner.Run(ctx, req)
		if err != nil {
			logger.Warn("tui: turn rejected", "workflow", req.Workflow, "session_id", req.SessionID, "error", err)
		}
		return replyMsg{resp: resp, err: err}
	}
}

func (m chatModel) applyReply(msg replyMsg) chatModel {
	switch {
	case msg.err != nil:
		m.entries = append(m.entries, chatEntry{role: conversation.RoleSystem, guard: true, text: fmt.Sprintf("Error: %v", msg.err)})

	case msg.resp.Fail != nil:
		m.entries = append(m.entries, chatEntry{role: conversation.RoleSystem, guard: true, text: "Message blocked by a safety check."})

	default:
		m.turns = append(m.turns, conversation.Turn{Role: conversation.RoleAssistant, Text: msg.resp.Text})
		m.entries = append(m.entries, chatEntry{role: conversation.RoleAssistant, text: msg.resp.Text})
	}
	return m.refresh()
}

func (m chatModel) addSystem(text string) chatModel {
	m.entries = append(m.entries, chatEntry{role: conversation.RoleSystem, text: text})
	return m.refresh()
}

func (m chatModel) refresh() chatModel {
	if m.ready {
		m.view.SetContent(m.renderEntries())
		m.view.GotoBottom()
	}
	return m
}

func (m chatModel) renderEntries() string {
	var b strings.Builder
	for _, e := range m.entries {
		switch {
		case e.guard:
			b.WriteString(guardStyle.Render("! " + e.text))
		case e.role == conversation.RoleUser:
			b.WriteString(userStyle.Render("You: ") + e.text)
		case e.role == conversation.RoleAssistant:
			b.WriteString(assistantStyle.Render(m.workflowID + ": " + e.text))
		default:
			b.WriteString(systemStyle.Render(e.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "loading..."
	}
	status := " "
	if m.thinking {
		status = m.spin.View() + " thinking..."
	}
	return headerStyle.Render("atohub — "+m.workflowID) + "\n" +
		m.view.View() + "\n" +
		m.input.View() + "\n" +
		systemStyle.Render(status)
}

func workflowNames() []string {
	defs := workflow.Builtins()
	names := make([]string, 0, len(defs))
	for id := range defs {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
