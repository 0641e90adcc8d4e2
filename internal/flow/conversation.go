// Package flow implements the conversation engine: the per-user state
// machine that walks a script's questions, the review/modify/submit cycle,
// and the manager that routes transport events to active conversations.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/messaging"
	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// cancelKeyword aborts a conversation from any sequential state. Matched
// case-insensitively against the whole trimmed message before anything else.
const cancelKeyword = "cancel"

// User-facing notices shared by all scripts.
const (
	cancelledNotice = "Okay, cancelled. Nothing was saved."
	fatalNotice     = "Something went wrong on our end and this conversation has been cancelled. Please start over."
)

// Conversation is one in-progress scripted exchange with a single target
// user. It is not safe for concurrent use; the Manager serializes event
// delivery per conversation.
type Conversation struct {
	script    *models.Script
	initiator models.User
	target    models.User
	gc        models.GameContext
	msg       messaging.Service

	state     models.ConversationState
	answers   []models.Answer
	current   int // next unanswered question while QUESTIONING
	modifying int // question being re-answered while MODIFYING
	startedAt time.Time
	lastEvent time.Time
}

// NewConversation creates a conversation for the given script and
// participants. Call Begin before delivering events.
func NewConversation(s *models.Script, initiator, target models.User, gc models.GameContext, msg messaging.Service) *Conversation {
	now := time.Now()
	return &Conversation{
		script:    s,
		initiator: initiator,
		target:    target,
		gc:        gc,
		msg:       msg,
		state:     models.StateBeginning,
		answers:   make([]models.Answer, len(s.Questions)),
		startedAt: now,
		lastEvent: now,
	}
}

// Target returns the user answering this conversation.
func (c *Conversation) Target() models.User {
	return c.target
}

// LastEventAt returns when the conversation last saw activity, used for
// idle eviction.
func (c *Conversation) LastEventAt() time.Time {
	return c.lastEvent
}

// Summary describes the conversation for the admin listing.
func (c *Conversation) Summary() models.ConversationSummary {
	return models.ConversationSummary{
		Kind:      c.script.Kind,
		Initiator: c.initiator,
		Target:    c.target,
		State:     c.state,
		StartedAt: c.startedAt,
	}
}

// Begin runs the script's start hook, sends the opening text, and asks the
// first question (or sends the form for modal scripts). A validation error
// from the start hook vetoes the conversation: the message is relayed to
// the initiator and the error returned so the caller does not register the
// conversation.
func (c *Conversation) Begin(ctx context.Context) error {
	slog.Debug("Conversation Begin", "kind", c.script.Kind, "target", c.target.ID)

	if c.script.StartFunc != nil {
		if err := c.script.StartFunc(ctx, c.target, c.gc); err != nil {
			if models.IsValidationError(err) {
				slog.Info("Conversation Begin vetoed by start hook", "kind", c.script.Kind, "target", c.target.ID)
				if sendErr := c.msg.SendMessage(ctx, c.initiator.ID, err.Error()); sendErr != nil {
					slog.Error("Conversation Begin failed to relay veto", "error", sendErr, "initiator", c.initiator.ID)
				}
				return err
			}
			slog.Error("Conversation Begin start hook failed", "error", err, "kind", c.script.Kind, "target", c.target.ID)
			return fmt.Errorf("start hook for script %s: %w", c.script.Kind, err)
		}
	}

	if c.script.Beginning != "" {
		if err := c.msg.SendMessage(ctx, c.target.ID, c.script.Beginning); err != nil {
			return fmt.Errorf("failed to send opening message: %w", err)
		}
	}

	c.state = models.StateQuestioning
	if c.script.Modal {
		return c.sendForm(ctx, nil)
	}
	return c.sendQuestion(ctx, 0)
}

// Receive delivers one inbound event to the conversation. It returns true
// when the conversation has finished (submitted, cancelled, or failed) and
// should be evicted. A non-nil error is always fatal to the conversation.
func (c *Conversation) Receive(ctx context.Context, ev models.Event) (bool, error) {
	c.lastEvent = time.Now()
	slog.Debug("Conversation Receive", "kind", c.script.Kind, "target", c.target.ID, "state", c.state, "event", ev.Kind)

	if c.script.Modal {
		return c.receiveModal(ctx, ev)
	}

	text := strings.TrimSpace(eventText(ev))
	if strings.EqualFold(text, cancelKeyword) {
		return true, c.cancel(ctx)
	}

	switch c.state {
	case models.StateQuestioning:
		return c.receiveQuestioning(ctx, text)
	case models.StateReviewing:
		return c.receiveReviewing(ctx, ev, text)
	case models.StateModifyingSelection:
		return c.receiveModifyingSelection(ctx, ev, text)
	case models.StateModifying:
		return c.receiveModifying(ctx, text)
	default:
		return true, fmt.Errorf("conversation in unexpected state %s", c.state)
	}
}

// receiveQuestioning treats the text as the answer to the current question.
func (c *Conversation) receiveQuestioning(ctx context.Context, text string) (bool, error) {
	accepted, err := c.handleAnswer(ctx, c.current, text)
	if err != nil {
		return true, err
	}
	if !accepted {
		return false, nil
	}

	c.current++
	if c.current < len(c.script.Questions) {
		return false, c.sendQuestion(ctx, c.current)
	}

	c.state = models.StateReviewing
	return false, c.sendReview(ctx)
}

// receiveReviewing handles the submit / modify choice. Text transports
// render the choices as a numbered list, so a bare number picks the
// corresponding choice.
func (c *Conversation) receiveReviewing(ctx context.Context, ev models.Event, text string) (bool, error) {
	choice := strings.ToLower(text)
	if ev.ButtonID != "" {
		choice = ev.ButtonID
	} else if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(reviewChoices) {
		choice = reviewChoices[n-1]
	}

	switch choice {
	case buttonSubmit:
		return c.submit(ctx)
	case buttonCancel:
		return true, c.cancel(ctx)
	case buttonModify:
		c.state = models.StateModifyingSelection
		return false, c.sendModifySelection(ctx)
	default:
		slog.Debug("Conversation review choice not understood", "target", c.target.ID, "choice", choice)
		if err := c.msg.SendMessage(ctx, c.target.ID, "Sorry, I didn't catch that."); err != nil {
			return true, err
		}
		return false, c.sendReview(ctx)
	}
}

// receiveModifyingSelection resolves which answer the user wants to edit,
// by button, by question name, or by the number shown in the rendered list.
func (c *Conversation) receiveModifyingSelection(ctx context.Context, ev models.Event, text string) (bool, error) {
	token := text
	if strings.HasPrefix(ev.ButtonID, buttonEditPrefix) {
		token = strings.TrimPrefix(ev.ButtonID, buttonEditPrefix)
	}

	if n, err := strconv.Atoi(token); err == nil && n >= 1 && n <= len(c.script.Questions) {
		c.modifying = n - 1
		c.state = models.StateModifying
		return false, c.sendQuestion(ctx, n-1)
	}

	idx, ok := c.script.QuestionByToken(token)
	if !ok {
		slog.Debug("Conversation modify selection not understood", "target", c.target.ID, "token", token)
		return false, c.sendModifySelection(ctx)
	}

	c.modifying = idx
	c.state = models.StateModifying
	return false, c.sendQuestion(ctx, idx)
}

// receiveModifying re-answers the selected question, then returns to review.
func (c *Conversation) receiveModifying(ctx context.Context, text string) (bool, error) {
	accepted, err := c.handleAnswer(ctx, c.modifying, text)
	if err != nil {
		return true, err
	}
	if !accepted {
		return false, nil
	}

	c.state = models.StateReviewing
	return false, c.sendReview(ctx)
}

// handleAnswer validates and processes one raw answer for the question at
// idx. Returns whether the answer was accepted; a rejected answer re-asks
// the question. The returned error is fatal.
func (c *Conversation) handleAnswer(ctx context.Context, idx int, raw string) (bool, error) {
	q := &c.script.Questions[idx]
	raw = resolveOption(q, raw)

	if !q.Matches(raw) {
		slog.Debug("Conversation answer rejected by pattern", "target", c.target.ID, "column", q.Column)
		return false, c.sendQuestionWithPreface(ctx, idx, q.RejectionResponse)
	}

	value := any(raw)
	if q.ProcessorFunc != nil {
		processed, err := q.ProcessorFunc(ctx, raw, c.gc)
		if err != nil {
			if models.IsValidationError(err) {
				slog.Debug("Conversation answer rejected by processor", "target", c.target.ID, "column", q.Column)
				return false, c.sendQuestionWithPreface(ctx, idx, err.Error())
			}
			slog.Error("Conversation answer processor failed", "error", err, "target", c.target.ID, "column", q.Column)
			c.notifyFailure(ctx)
			return false, fmt.Errorf("processor for question %s: %w", q.Column, err)
		}
		value = processed
	}

	c.answers[idx] = models.Answer{Raw: raw, Value: value}
	return true, nil
}

// submit runs the end hook, persists the row, and sends the closing text.
func (c *Conversation) submit(ctx context.Context) (bool, error) {
	values := make(map[string]any, len(c.script.Questions))
	for i := range c.script.Questions {
		values[c.script.Questions[i].Column] = c.answers[i].Value
	}

	if c.script.EndFunc != nil {
		final, err := c.script.EndFunc(ctx, values, c.gc, c.initiator, c.target)
		if err != nil {
			if models.IsValidationError(err) {
				slog.Info("Conversation submit rejected by end hook", "kind", c.script.Kind, "target", c.target.ID)
				if sendErr := c.msg.SendMessage(ctx, c.target.ID, err.Error()); sendErr != nil {
					return true, sendErr
				}
				if c.script.Modal {
					return false, c.sendForm(ctx, c.rawValues())
				}
				c.state = models.StateReviewing
				return false, c.sendReview(ctx)
			}
			slog.Error("Conversation end hook failed", "error", err, "kind", c.script.Kind, "target", c.target.ID)
			c.notifyFailure(ctx)
			return true, fmt.Errorf("end hook for script %s: %w", c.script.Kind, err)
		}
		values = final
	}

	if err := c.gc.Insert(ctx, c.script.Table, values); err != nil {
		slog.Error("Conversation submit insert failed", "error", err, "kind", c.script.Kind, "table", c.script.Table)
		c.notifyFailure(ctx)
		return true, fmt.Errorf("failed to save %s record: %w", c.script.Kind, err)
	}

	slog.Info("Conversation submitted", "kind", c.script.Kind, "target", c.target.ID, "table", c.script.Table)
	if c.script.Ending != "" {
		if err := c.msg.SendMessage(ctx, c.target.ID, c.script.Ending); err != nil {
			return true, err
		}
	}
	return true, nil
}

// cancel ends the conversation without saving anything.
func (c *Conversation) cancel(ctx context.Context) error {
	slog.Info("Conversation cancelled", "kind", c.script.Kind, "target", c.target.ID, "state", c.state)
	return c.msg.SendMessage(ctx, c.target.ID, cancelledNotice)
}

// notifyFailure tells the target the conversation died. Best effort; the
// fatal error is already on its way to the caller.
func (c *Conversation) notifyFailure(ctx context.Context) {
	if err := c.msg.SendMessage(ctx, c.target.ID, fatalNotice); err != nil {
		slog.Error("Conversation failed to send failure notice", "error", err, "target", c.target.ID)
	}
}

// rawValues returns the raw answers keyed by column, used to prefill a
// re-sent form.
func (c *Conversation) rawValues() map[string]string {
	raws := make(map[string]string, len(c.answers))
	for i := range c.script.Questions {
		raws[c.script.Questions[i].Column] = c.answers[i].Raw
	}
	return raws
}

// eventText extracts the typed text of an event. Button presses count as
// typing the button's label.
func eventText(ev models.Event) string {
	return ev.Text
}

// resolveOption maps a reply to one of the question's options: a number N
// picks the Nth option, and a label match returns its canonical casing.
// Other text, and questions without options, pass through unchanged.
func resolveOption(q *models.Question, raw string) string {
	if len(q.ButtonOptions) == 0 {
		return raw
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(q.ButtonOptions) {
		return q.ButtonOptions[n-1]
	}
	for _, opt := range q.ButtonOptions {
		if strings.EqualFold(opt, raw) {
			return opt
		}
	}
	return raw
}
