// Package models defines the core data structures for FormPipe.
//
// It includes the script/question templates, conversation answers, the
// unified inbound event variant, and transport value types shared across
// modules.
package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ScriptKind identifies one conversation template (e.g. "register", "tag").
type ScriptKind string

// ConversationState identifies where a conversation is in its lifecycle.
type ConversationState string

const (
	// StateBeginning is the initial state before the opening text is sent.
	StateBeginning ConversationState = "BEGINNING"
	// StateQuestioning means the conversation is walking through questions in order.
	StateQuestioning ConversationState = "QUESTIONING"
	// StateReviewing means all questions are answered and the summary is shown.
	StateReviewing ConversationState = "REVIEWING"
	// StateModifyingSelection means the user is picking which answer to edit.
	StateModifyingSelection ConversationState = "MODIFYING_SELECTION"
	// StateModifying means the user is re-answering a single selected question.
	StateModifying ConversationState = "MODIFYING"
)

// Validation constants for script definitions
const (
	// MaxModalQuestions is the maximum number of questions a modal script may carry.
	MaxModalQuestions = 5
	// MaxButtonOptionsCount is the maximum number of selectable options per question.
	MaxButtonOptionsCount = 10
)

// Error variables for better error handling and testability
var (
	ErrUnknownScriptKind = errors.New("unknown script kind")
	ErrScriptDisabled    = errors.New("script is currently disabled")
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
)

// ValidationError is a recoverable user-input error. Its message is shown
// verbatim to the user and the offending question is asked again. Any other
// error escaping a processor is fatal to the conversation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a recoverable validation error with the given
// user-facing message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a recoverable
// validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// User identifies a participant on the chat transport. ID is the canonical
// transport identifier; Name is the human-readable handle used in messages.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// GameContext is the handle given to processors and hooks. It exposes the
// row store and role bookkeeping without tying processor code to a concrete
// backend.
type GameContext interface {
	// Insert adds one row to the named table.
	Insert(ctx context.Context, table string, values map[string]any) error

	// Update mutates rows matching where with the given values.
	Update(ctx context.Context, table string, values, where map[string]any) error

	// Select returns all rows matching where by exact column match.
	Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error)

	// GrantRole grants a named game role (e.g. "human", "zombie") to a user.
	GrantRole(ctx context.Context, userID, role string) error

	// RevokeRole removes a named game role from a user.
	RevokeRole(ctx context.Context, userID, role string) error
}

// QuestionProcessor transforms or validates a single raw answer. It may
// return a *ValidationError to re-ask the question, or any value to store
// as the processed result.
type QuestionProcessor func(ctx context.Context, raw string, gc GameContext) (any, error)

// StartProcessor runs before a conversation's opening text. Returning an
// error vetoes starting the conversation.
type StartProcessor func(ctx context.Context, target User, gc GameContext) error

// EndProcessor runs on submit with the accumulated column to processed-value
// mapping. It may enrich the mapping or perform side effects, and must
// return the final mapping to persist. A *ValidationError aborts the save
// and keeps the conversation in review.
type EndProcessor func(ctx context.Context, values map[string]any, gc GameContext, initiator, target User) (map[string]any, error)

// Question is one prompt within a script. The yaml field names are the
// stable wire contract of the script definition format.
type Question struct {
	Column            string   `yaml:"column" json:"column"`
	DisplayName       string   `yaml:"display_name" json:"display_name,omitempty"`
	Query             string   `yaml:"query" json:"query"`
	ValidRegex        string   `yaml:"valid_regex" json:"valid_regex,omitempty"`
	RejectionResponse string   `yaml:"rejection_response" json:"rejection_response,omitempty"`
	ModalDefault      string   `yaml:"modal_default" json:"modal_default,omitempty"`
	ModalLong         bool     `yaml:"modal_long" json:"modal_long,omitempty"`
	Processor         string   `yaml:"processor" json:"processor,omitempty"`
	ButtonOptions     []string `yaml:"button_options" json:"button_options,omitempty"`

	// Resolved at load time; never mutated afterwards.
	Pattern       *regexp.Regexp    `yaml:"-" json:"-"`
	ProcessorFunc QuestionProcessor `yaml:"-" json:"-"`
}

// Matches reports whether the full raw text matches the question's
// validation pattern. Questions without a pattern accept anything.
func (q *Question) Matches(raw string) bool {
	if q.Pattern == nil {
		return true
	}
	return q.Pattern.MatchString(raw)
}

// Label returns the name shown for this question in review and selection
// screens, falling back to the column name.
func (q *Question) Label() string {
	if q.DisplayName != "" {
		return q.DisplayName
	}
	return q.Column
}

// Script is one named conversation template. Loaded and validated once at
// startup; immutable thereafter.
type Script struct {
	Kind              ScriptKind `yaml:"kind" json:"kind"`
	Table             string     `yaml:"table" json:"table"`
	Modal             bool       `yaml:"modal" json:"modal,omitempty"`
	Beginning         string     `yaml:"beginning" json:"beginning"`
	Ending            string     `yaml:"ending" json:"ending"`
	StartingProcessor string     `yaml:"starting_processor" json:"starting_processor,omitempty"`
	EndingProcessor   string     `yaml:"ending_processor" json:"ending_processor,omitempty"`
	Questions         []Question `yaml:"questions" json:"questions"`

	// Resolved at load time.
	StartFunc StartProcessor `yaml:"-" json:"-"`
	EndFunc   EndProcessor   `yaml:"-" json:"-"`
}

// QuestionByToken finds a question whose column name or display label
// matches the token case-insensitively. Returns the index and true on a
// match.
func (s *Script) QuestionByToken(token string) (int, bool) {
	for i := range s.Questions {
		q := &s.Questions[i]
		if strings.EqualFold(q.Column, token) || (q.DisplayName != "" && strings.EqualFold(q.DisplayName, token)) {
			return i, true
		}
	}
	return 0, false
}

// Answer is one stored answer within an in-progress conversation.
type Answer struct {
	Raw   string `json:"raw"`
	Value any    `json:"value"`
}

// EventKind discriminates the unified inbound event variant.
type EventKind string

const (
	// EventFreeText is a plain typed message.
	EventFreeText EventKind = "free_text"
	// EventButton is a button press; the button's label is treated as typed text.
	EventButton EventKind = "button"
	// EventForm is a single-shot form submission carrying all raw answers.
	EventForm EventKind = "form"
)

// Event is the single input model the conversation state machine consumes,
// regardless of how the transport sourced it.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Text       string            `json:"text,omitempty"`
	MessageRef string            `json:"message_ref,omitempty"`
	ButtonID   string            `json:"button_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Time       int64             `json:"time,omitempty"`
}

// Button is one selectable option attached to an outbound prompt.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FormField is one input within a single-shot form.
type FormField struct {
	Column string `json:"column"`
	Label  string `json:"label"`
	Value  string `json:"value,omitempty"`
	Long   bool   `json:"long,omitempty"`
}

// Form is a single-shot form carrying all questions of a modal script.
type Form struct {
	Title  string      `json:"title"`
	Fields []FormField `json:"fields"`
}

// Response represents an incoming free-text message from a participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Interaction represents an inbound button press or form submission.
type Interaction struct {
	From       string            `json:"from"`
	MessageRef string            `json:"message_ref,omitempty"`
	ButtonID   string            `json:"button_id,omitempty"`
	Label      string            `json:"label,omitempty"`
	FormValues map[string]string `json:"form_values,omitempty"`
	Time       int64             `json:"time"`
}

// IsForm reports whether the interaction is a form submission rather than a
// button press.
func (i Interaction) IsForm() bool {
	return i.FormValues != nil
}

// ConversationSummary describes one active conversation for the admin
// listing.
type ConversationSummary struct {
	Kind      ScriptKind        `json:"kind"`
	Initiator User              `json:"initiator"`
	Target    User              `json:"target"`
	State     ConversationState `json:"state"`
	StartedAt time.Time         `json:"started_at"`
}
