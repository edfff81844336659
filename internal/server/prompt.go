package server

import (
	"context"
	"strings"
)

const summaryTurnPrefix = "Summary so far: "

// assemblePrompt builds the ordered completion input: an optional system turn
// carrying the stored summary, the chronological history window, then the new
// user message last. Callers persist the user message before building the
// prompt, so the newest history turn repeats it.
func assemblePrompt(summary string, history []ChatTurn, userMessage string) []ChatTurn {
	prompt := make([]ChatTurn, 0, len(history)+2)
	if strings.TrimSpace(summary) != "" {
		prompt = append(prompt, ChatTurn{Role: roleSystem, Content: summaryTurnPrefix + summary})
	}
	prompt = append(prompt, history...)
	prompt = append(prompt, ChatTurn{Role: roleUser, Content: userMessage})
	return prompt
}

// buildPrompt loads the latest summary (if any) and the last N messages for
// the chat. A chat with fewer than N messages contributes what exists; there
// is no token-count truncation.
func (a *App) buildPrompt(ctx context.Context, chatID int64, userMessage string) ([]ChatTurn, error) {
	summary, err := a.latestSummary(ctx, chatID)
	if err != nil {
		return nil, err
	}
	window := a.cfg.PromptWindowSize
	if window < 1 {
		window = 10
	}
	history, err := a.lastMessages(ctx, chatID, window)
	if err != nil {
		return nil, err
	}
	return assemblePrompt(summary, history, userMessage), nil
}
