// Package specialist runs a single-shot, non-tool specialist agent call and
// formats its output as a system-role note for injection into the main
// conversation.
package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/router"
)

const specialistTemperature = 0.2

// Result is what Run returns: the raw specialist text and the note the
// caller should append as a system message.
type Result struct {
	Text string
	Note string
}

// Run invokes the chat provider once with the specialist's system prompt and
// the user's request, toolChoice=none, temperature 0.2.
func Run(ctx context.Context, client *chatprovider.Client, model string, profile router.Profile, requestText string) (Result, error) {
	req := chatprovider.Request{
		Model: model,
		Messages: []convo.Message{
			convo.NewText(convo.RoleSystem, profile.SystemPrompt),
			convo.NewText(convo.RoleUser, requestText),
		},
		ToolChoice:  chatprovider.ToolChoiceNone,
		Temperature: specialistTemperature,
	}

	completion, err := client.Chat(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(completion.Choices) == 0 {
		return Result{}, convo.NewError(convo.ErrProvider, "specialist call returned no choices")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Text())
	note := fmt.Sprintf(
		"Specialist agent (%s) output:\n%s\nUse this as draft guidance and respond to the user.",
		profile.Name, text,
	)
	return Result{Text: text, Note: note}, nil
}
