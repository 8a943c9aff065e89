package trainer

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"pintrainer/internal/usecase"
)

// verifyCmd records an attempt off the UI goroutine; the history store may
// touch disk.
func verifyCmd(ctx context.Context, t *usecase.Trainer, sessionID string) tea.Cmd {
	return func() tea.Msg {
		a, err := t.Verify(ctx, sessionID)
		return VerifiedMsg{Attempt: a, Err: err}
	}
}
