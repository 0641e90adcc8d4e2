package script

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterQuestionProcessor("upper", func(ctx context.Context, raw string, gc models.GameContext) (any, error) {
		return strings.ToUpper(raw), nil
	}); err != nil {
		t.Fatalf("RegisterQuestionProcessor() error = %v", err)
	}
	if err := r.RegisterStartProcessor("gate", func(ctx context.Context, target models.User, gc models.GameContext) error {
		return nil
	}); err != nil {
		t.Fatalf("RegisterStartProcessor() error = %v", err)
	}
	if err := r.RegisterEndProcessor("finish", func(ctx context.Context, values map[string]any, gc models.GameContext, initiator, target models.User) (map[string]any, error) {
		return values, nil
	}); err != nil {
		t.Fatalf("RegisterEndProcessor() error = %v", err)
	}
	return r
}

const validCollectionYAML = `
scripts:
  - kind: register
    table: players
    beginning: "Welcome!"
    ending: "Done."
    starting_processor: gate
    ending_processor: finish
    questions:
      - column: name
        display_name: Name
        query: "What is your name?"
      - column: email
        display_name: Email
        query: "What is your email?"
        valid_regex: '\S+@\S+'
        rejection_response: "That does not look like an email address."
        processor: upper
  - kind: squad
    table: squads
    modal: true
    beginning: "New squad"
    ending: "Squad created."
    questions:
      - column: name
        query: "Squad name"
      - column: motto
        query: "Motto"
        modal_long: true
`

func TestParseValidCollection(t *testing.T) {
	lib, err := Parse([]byte(validCollectionYAML), testRegistry(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if lib.Len() != 2 {
		t.Errorf("Len() = %d, want 2", lib.Len())
	}

	reg, ok := lib.Get("register")
	if !ok {
		t.Fatal("Get(register) not found")
	}
	if reg.StartFunc == nil || reg.EndFunc == nil {
		t.Error("register script hooks not resolved")
	}
	email := reg.Questions[1]
	if email.Pattern == nil {
		t.Fatal("email question pattern not compiled")
	}
	if !email.Matches("a@b.com") {
		t.Error("Matches(a@b.com) = false, want true")
	}
	// Pattern must be anchored so partial matches are rejected.
	if email.Matches("say hi to a@b.com please") {
		t.Error("Matches() accepted a partial match")
	}
	if email.ProcessorFunc == nil {
		t.Error("email question processor not resolved")
	}

	squad, ok := lib.Get("squad")
	if !ok {
		t.Fatal("Get(squad) not found")
	}
	if !squad.Modal {
		t.Error("squad script should be modal")
	}
}

func TestParseIdempotence(t *testing.T) {
	reg := testRegistry(t)
	first, err := Parse([]byte(validCollectionYAML), reg)
	if err != nil {
		t.Fatalf("first Parse() error = %v", err)
	}
	second, err := Parse([]byte(validCollectionYAML), reg)
	if err != nil {
		t.Fatalf("second Parse() error = %v", err)
	}

	if first.Len() != second.Len() {
		t.Fatalf("Len() = %d then %d", first.Len(), second.Len())
	}
	for _, kind := range first.Kinds() {
		a, _ := first.Get(kind)
		b, ok := second.Get(kind)
		if !ok {
			t.Fatalf("second library missing script %s", kind)
		}

		// The declarative fields carry json tags; the resolved funcs and
		// compiled patterns are excluded, so marshaling compares structure.
		aJSON, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal %s: %v", kind, err)
		}
		bJSON, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal %s: %v", kind, err)
		}
		if !bytes.Equal(aJSON, bJSON) {
			t.Errorf("script %s differs between loads:\n%s\n%s", kind, aJSON, bJSON)
		}

		for i := range a.Questions {
			ap, bp := a.Questions[i].Pattern, b.Questions[i].Pattern
			if (ap == nil) != (bp == nil) {
				t.Errorf("script %s question %d pattern presence differs", kind, i)
				continue
			}
			if ap != nil && ap.String() != bp.String() {
				t.Errorf("script %s question %d pattern %q vs %q", kind, i, ap, bp)
			}
		}
	}
}

func TestParseRejectsInvalidCollections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty collection",
			yaml:    "scripts: []",
			wantErr: "no scripts",
		},
		{
			name: "missing kind and table",
			yaml: `
scripts:
  - beginning: "hi"
    questions:
      - column: a
        display_name: A
        query: q
`,
			wantErr: "missing required field kind",
		},
		{
			name: "duplicate kind",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q}
  - kind: register
    table: other
    questions:
      - {column: a, display_name: A, query: q}
`,
			wantErr: "duplicate kind",
		},
		{
			name: "shared table",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q}
  - kind: enroll
    table: players
    questions:
      - {column: a, display_name: A, query: q}
`,
			wantErr: "already used by script",
		},
		{
			name: "duplicate column",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q}
      - {column: a, display_name: B, query: q}
`,
			wantErr: "duplicate column",
		},
		{
			name: "regex without rejection response",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q, valid_regex: '\d+'}
`,
			wantErr: "both be present or both absent",
		},
		{
			name: "rejection response without regex",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q, rejection_response: "no"}
`,
			wantErr: "both be present or both absent",
		},
		{
			name: "invalid regex",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q, valid_regex: '[', rejection_response: "no"}
`,
			wantErr: "invalid valid_regex",
		},
		{
			name: "unresolvable question processor",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q, processor: nope}
`,
			wantErr: `processor "nope" does not resolve`,
		},
		{
			name: "unresolvable end processor",
			yaml: `
scripts:
  - kind: register
    table: players
    ending_processor: nope
    questions:
      - {column: a, display_name: A, query: q}
`,
			wantErr: `ending_processor "nope" does not resolve`,
		},
		{
			name: "modal with too many questions",
			yaml: `
scripts:
  - kind: squad
    table: squads
    modal: true
    questions:
      - {column: a, query: q}
      - {column: b, query: q}
      - {column: c, query: q}
      - {column: d, query: q}
      - {column: e, query: q}
      - {column: f, query: q}
`,
			wantErr: "at most 5 questions",
		},
		{
			name: "modal with button options",
			yaml: `
scripts:
  - kind: squad
    table: squads
    modal: true
    questions:
      - column: a
        query: q
        button_options: ["yes", "no"]
`,
			wantErr: "may not define button_options",
		},
		{
			name: "non-modal missing display_name",
			yaml: `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, query: q}
`,
			wantErr: "require display_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), testRegistry(t))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseReportsAllViolationsTogether(t *testing.T) {
	yaml := `
scripts:
  - kind: register
    table: players
    questions:
      - {column: a, display_name: A, query: q, processor: nope}
      - {column: b, query: q}
`
	_, err := Parse([]byte(yaml), testRegistry(t))
	if err == nil {
		t.Fatal("Parse() expected error, got nil")
	}
	for _, want := range []string{"does not resolve", "require display_name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Parse() error = %v, missing %q", err, want)
		}
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := testRegistry(t)
	err := r.RegisterQuestionProcessor("upper", func(ctx context.Context, raw string, gc models.GameContext) (any, error) {
		return raw, nil
	})
	if err == nil {
		t.Error("RegisterQuestionProcessor() expected duplicate error, got nil")
	}
}
