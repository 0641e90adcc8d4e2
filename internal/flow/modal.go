package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// receiveModal handles events for single-shot form scripts. The whole form
// is validated together: either every answer passes and the record is
// submitted immediately, or nothing is kept and the form is re-sent
// prefilled with what the user typed, alongside the full list of problems.
func (c *Conversation) receiveModal(ctx context.Context, ev models.Event) (bool, error) {
	var fields map[string]string

	switch ev.Kind {
	case models.EventForm:
		fields = ev.Fields
	default:
		text := strings.TrimSpace(ev.Text)
		if strings.EqualFold(text, cancelKeyword) {
			return true, c.cancel(ctx)
		}
		// Text transports degrade the form to one answer per line, in
		// question order.
		lines := splitFormLines(text)
		if len(lines) != len(c.script.Questions) {
			notice := fmt.Sprintf("Expected %d answers, one per line, but got %d.", len(c.script.Questions), len(lines))
			if err := c.msg.SendMessage(ctx, c.target.ID, notice); err != nil {
				return true, err
			}
			return false, c.sendForm(ctx, c.rawValues())
		}
		fields = make(map[string]string, len(lines))
		for i := range c.script.Questions {
			fields[c.script.Questions[i].Column] = lines[i]
		}
	}

	var problems []string
	for i := range c.script.Questions {
		q := &c.script.Questions[i]
		raw := strings.TrimSpace(fields[q.Column])
		c.answers[i] = models.Answer{Raw: raw}

		if !q.Matches(raw) {
			reason := q.RejectionResponse
			if reason == "" {
				reason = "invalid value"
			}
			problems = append(problems, fmt.Sprintf("%s: %s", q.Label(), reason))
			continue
		}

		value := any(raw)
		if q.ProcessorFunc != nil {
			processed, err := q.ProcessorFunc(ctx, raw, c.gc)
			if err != nil {
				if models.IsValidationError(err) {
					problems = append(problems, fmt.Sprintf("%s: %s", q.Label(), err.Error()))
					continue
				}
				slog.Error("Conversation form processor failed", "error", err, "target", c.target.ID, "column", q.Column)
				c.notifyFailure(ctx)
				return true, fmt.Errorf("processor for question %s: %w", q.Column, err)
			}
			value = processed
		}
		c.answers[i].Value = value
	}

	if len(problems) > 0 {
		slog.Debug("Conversation form rejected", "kind", c.script.Kind, "target", c.target.ID, "problems", len(problems))
		var b strings.Builder
		b.WriteString("Please fix the following and resubmit:")
		for _, p := range problems {
			b.WriteString("\n- ")
			b.WriteString(p)
		}
		if err := c.msg.SendMessage(ctx, c.target.ID, b.String()); err != nil {
			return true, err
		}
		return false, c.sendForm(ctx, c.rawValues())
	}

	// Every answer passed, so the form submits in one shot.
	return c.submit(ctx)
}

// sendForm sends the script's form, prefilled from the given raw values
// when present, otherwise from each question's modal default.
func (c *Conversation) sendForm(ctx context.Context, prefill map[string]string) error {
	form := models.Form{
		Title:  c.script.Beginning,
		Fields: make([]models.FormField, 0, len(c.script.Questions)),
	}
	if form.Title == "" {
		form.Title = string(c.script.Kind)
	}
	for i := range c.script.Questions {
		q := &c.script.Questions[i]
		value := q.ModalDefault
		if prefill != nil {
			value = prefill[q.Column]
		}
		form.Fields = append(form.Fields, models.FormField{
			Column: q.Column,
			Label:  q.Query,
			Value:  value,
			Long:   q.ModalLong,
		})
	}

	if _, err := c.msg.SendForm(ctx, c.target.ID, form); err != nil {
		return fmt.Errorf("failed to send form: %w", err)
	}
	return nil
}

// splitFormLines splits a degraded text form reply into per-question
// answers, dropping blank leading and trailing lines.
func splitFormLines(text string) []string {
	lines := strings.Split(text, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		out = append(out, strings.TrimSpace(line))
	}
	return out
}
