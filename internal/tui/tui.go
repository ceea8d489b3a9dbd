package tui

import (
	"context"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the interactive chat against the given workflow and blocks
// until the user exits or the context ends.
func Run(ctx context.Context, runner TurnRunner, workflowID, ownerID string, logger *slog.Logger) error {
	// BubbleTea restores the terminal on a clean exit, but an interrupt at
	// an unfortunate time can leave ICRNL off (Enter shows as ^M). This is
	// a best-effort safety net.
	defer bestEffortResetTTY()

	m := newChatModel(ctx, runner, workflowID, ownerID, logger)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		// Renderer errors during shutdown are noise.
		return nil
	}
	return err
}
