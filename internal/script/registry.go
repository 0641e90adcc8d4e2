// Package script loads and validates the declarative conversation
// templates that drive the FormPipe engine.
//
// Scripts are loaded once at startup from a YAML collection; every
// processor name they reference must resolve against the Registry at load
// time. Nothing in this package mutates after Load returns.
package script

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// Registry maps stable string identifiers to processor functions. Built-in
// processors are registered at startup; callers may add extensions before
// loading scripts. Names referenced by a script that do not resolve are
// load-time errors.
type Registry struct {
	mu        sync.RWMutex
	questions map[string]models.QuestionProcessor
	starts    map[string]models.StartProcessor
	ends      map[string]models.EndProcessor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		questions: make(map[string]models.QuestionProcessor),
		starts:    make(map[string]models.StartProcessor),
		ends:      make(map[string]models.EndProcessor),
	}
}

// RegisterQuestionProcessor associates a name with a question processor.
// Registering a duplicate name returns an error rather than silently
// replacing the earlier function.
func (r *Registry) RegisterQuestionProcessor(name string, fn models.QuestionProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.questions[name]; exists {
		return fmt.Errorf("question processor %q already registered", name)
	}
	r.questions[name] = fn
	slog.Debug("Registry question processor registered", "name", name)
	return nil
}

// RegisterStartProcessor associates a name with a conversation start hook.
func (r *Registry) RegisterStartProcessor(name string, fn models.StartProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.starts[name]; exists {
		return fmt.Errorf("start processor %q already registered", name)
	}
	r.starts[name] = fn
	slog.Debug("Registry start processor registered", "name", name)
	return nil
}

// RegisterEndProcessor associates a name with a conversation end hook.
func (r *Registry) RegisterEndProcessor(name string, fn models.EndProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ends[name]; exists {
		return fmt.Errorf("end processor %q already registered", name)
	}
	r.ends[name] = fn
	slog.Debug("Registry end processor registered", "name", name)
	return nil
}

// QuestionProcessor resolves a question processor by name.
func (r *Registry) QuestionProcessor(name string) (models.QuestionProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.questions[name]
	return fn, ok
}

// StartProcessor resolves a start hook by name.
func (r *Registry) StartProcessor(name string) (models.StartProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.starts[name]
	return fn, ok
}

// EndProcessor resolves an end hook by name.
func (r *Registry) EndProcessor(name string) (models.EndProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ends[name]
	return fn, ok
}
