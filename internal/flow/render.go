package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// Button identifiers used by the review and modify screens. Transports with
// native buttons echo these back as the ButtonID of the interaction.
const (
	buttonSubmit     = "submit"
	buttonModify     = "modify"
	buttonCancel     = "cancel"
	buttonEditPrefix = "edit:"
)

// reviewChoices lists the review-screen button IDs in rendered order, so a
// numeric reply over a text transport maps to the right choice.
var reviewChoices = []string{buttonSubmit, buttonModify, buttonCancel}

// sendQuestion asks the question at idx, with its options attached as
// buttons when the question defines any.
func (c *Conversation) sendQuestion(ctx context.Context, idx int) error {
	return c.sendQuestionWithPreface(ctx, idx, "")
}

// sendQuestionWithPreface asks the question at idx, prefixed by a rejection
// or validation message when one applies.
func (c *Conversation) sendQuestionWithPreface(ctx context.Context, idx int, preface string) error {
	q := &c.script.Questions[idx]

	body := q.Query
	if preface != "" {
		body = preface + "\n\n" + q.Query
	}

	var buttons []models.Button
	for _, opt := range q.ButtonOptions {
		buttons = append(buttons, models.Button{ID: opt, Label: opt})
	}

	if _, err := c.msg.SendPrompt(ctx, c.target.ID, body, buttons); err != nil {
		return fmt.Errorf("failed to send question %s: %w", q.Column, err)
	}
	return nil
}

// sendReview shows every answer for confirmation, with submit, modify, and
// cancel choices.
func (c *Conversation) sendReview(ctx context.Context) error {
	var b strings.Builder
	b.WriteString("Here's what you entered:\n")
	for i := range c.script.Questions {
		fmt.Fprintf(&b, "\n%s: %s", c.script.Questions[i].Label(), c.answers[i].Raw)
	}
	b.WriteString("\n\nSubmit, or modify an answer?")

	buttons := []models.Button{
		{ID: buttonSubmit, Label: "Submit"},
		{ID: buttonModify, Label: "Modify"},
		{ID: buttonCancel, Label: "Cancel"},
	}

	if _, err := c.msg.SendPrompt(ctx, c.target.ID, b.String(), buttons); err != nil {
		return fmt.Errorf("failed to send review: %w", err)
	}
	return nil
}

// sendModifySelection asks which answer to edit, one button per question.
func (c *Conversation) sendModifySelection(ctx context.Context) error {
	buttons := make([]models.Button, 0, len(c.script.Questions))
	for i := range c.script.Questions {
		q := &c.script.Questions[i]
		buttons = append(buttons, models.Button{ID: buttonEditPrefix + q.Column, Label: q.Label()})
	}

	if _, err := c.msg.SendPrompt(ctx, c.target.ID, "Which answer would you like to change?", buttons); err != nil {
		return fmt.Errorf("failed to send modify selection: %w", err)
	}
	return nil
}
