package script

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/OutbreakHQ/FormPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// Library is the immutable set of validated scripts for one process
// lifetime. A reload requires a process restart.
type Library struct {
	byKind map[models.ScriptKind]*models.Script
}

// Get returns the script for a kind.
func (l *Library) Get(kind models.ScriptKind) (*models.Script, bool) {
	s, ok := l.byKind[kind]
	return s, ok
}

// Kinds returns all loaded script kinds.
func (l *Library) Kinds() []models.ScriptKind {
	kinds := make([]models.ScriptKind, 0, len(l.byKind))
	for k := range l.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

// Len returns the number of loaded scripts.
func (l *Library) Len() int {
	return len(l.byKind)
}

// Load reads a YAML script collection from disk and validates it against
// the registry. Any violation aborts the entire load; partial libraries
// are never returned.
func Load(path string, registry *Registry) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Script Load failed to read file", "error", err, "path", path)
		return nil, fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	lib, err := Parse(data, registry)
	if err != nil {
		return nil, fmt.Errorf("script file %s: %w", path, err)
	}
	slog.Info("Script library loaded", "path", path, "scripts", lib.Len())
	return lib, nil
}

// Parse parses and validates a YAML script collection. Every violated
// invariant across the whole collection is collected and reported
// together, not just the first.
func Parse(data []byte, registry *Registry) (*Library, error) {
	var raw struct {
		Scripts []*models.Script `yaml:"scripts"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse script YAML: %w", err)
	}
	if len(raw.Scripts) == 0 {
		return nil, errors.New("script collection defines no scripts")
	}

	var problems []error
	byKind := make(map[models.ScriptKind]*models.Script, len(raw.Scripts))
	tables := make(map[string]models.ScriptKind)

	for _, s := range raw.Scripts {
		problems = append(problems, validateScript(s, registry)...)
		if s.Kind == "" {
			continue
		}
		if _, dup := byKind[s.Kind]; dup {
			problems = append(problems, fmt.Errorf("script %q: duplicate kind", s.Kind))
			continue
		}
		byKind[s.Kind] = s
		if s.Table != "" {
			if other, shared := tables[s.Table]; shared {
				problems = append(problems, fmt.Errorf("script %q: table %q already used by script %q", s.Kind, s.Table, other))
			} else {
				tables[s.Table] = s.Kind
			}
		}
	}

	if len(problems) > 0 {
		slog.Error("Script Parse validation failed", "violations", len(problems))
		return nil, errors.Join(problems...)
	}
	return &Library{byKind: byKind}, nil
}

// validateScript checks one script's invariants and resolves its processor
// references. Returns all violations rather than stopping at the first.
func validateScript(s *models.Script, registry *Registry) []error {
	var problems []error
	name := string(s.Kind)
	if name == "" {
		name = "(unnamed)"
	}
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("script %q: "+format, append([]any{name}, args...)...))
	}

	if s.Kind == "" {
		fail("missing required field kind")
	}
	if s.Table == "" {
		fail("missing required field table")
	}
	if len(s.Questions) == 0 {
		fail("must define at least one question")
	}
	if s.Modal && len(s.Questions) > models.MaxModalQuestions {
		fail("modal scripts may carry at most %d questions, has %d", models.MaxModalQuestions, len(s.Questions))
	}

	if s.StartingProcessor != "" {
		fn, ok := registry.StartProcessor(s.StartingProcessor)
		if !ok {
			fail("starting_processor %q does not resolve", s.StartingProcessor)
		} else {
			s.StartFunc = fn
		}
	}
	if s.EndingProcessor != "" {
		fn, ok := registry.EndProcessor(s.EndingProcessor)
		if !ok {
			fail("ending_processor %q does not resolve", s.EndingProcessor)
		} else {
			s.EndFunc = fn
		}
	}

	columns := make(map[string]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		qname := q.Column
		if qname == "" {
			qname = fmt.Sprintf("#%d", i+1)
		}
		qfail := func(format string, args ...any) {
			problems = append(problems, fmt.Errorf("script %q question %s: "+format, append([]any{name, qname}, args...)...))
		}

		if q.Column == "" {
			qfail("missing required field column")
		} else if columns[q.Column] {
			qfail("duplicate column name")
		} else {
			columns[q.Column] = true
		}
		if q.Query == "" {
			qfail("missing required field query")
		}
		if !s.Modal && q.DisplayName == "" {
			qfail("non-modal questions require display_name")
		}
		if s.Modal && len(q.ButtonOptions) > 0 {
			qfail("modal questions may not define button_options")
		}
		if len(q.ButtonOptions) > models.MaxButtonOptionsCount {
			qfail("at most %d button_options allowed, has %d", models.MaxButtonOptionsCount, len(q.ButtonOptions))
		}

		// valid_regex and rejection_response come as a pair
		if (q.ValidRegex == "") != (q.RejectionResponse == "") {
			qfail("valid_regex and rejection_response must both be present or both absent")
		}
		if q.ValidRegex != "" {
			// Anchor so the whole raw answer must match.
			pattern, err := regexp.Compile("^(?:" + q.ValidRegex + ")$")
			if err != nil {
				qfail("invalid valid_regex: %v", err)
			} else {
				q.Pattern = pattern
			}
		}

		if q.Processor != "" {
			fn, ok := registry.QuestionProcessor(q.Processor)
			if !ok {
				qfail("processor %q does not resolve", q.Processor)
			} else {
				q.ProcessorFunc = fn
			}
		}
	}

	return problems
}
