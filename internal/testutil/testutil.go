// Package testutil provides common test utilities and helpers for FormPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OutbreakHQ/FormPipe/internal/api"
	"github.com/OutbreakHQ/FormPipe/internal/flow"
	"github.com/OutbreakHQ/FormPipe/internal/game"
	"github.com/OutbreakHQ/FormPipe/internal/messaging"
	"github.com/OutbreakHQ/FormPipe/internal/script"
	"github.com/OutbreakHQ/FormPipe/internal/store"
)

// testScripts is a minimal script collection exercising both sequential and
// modal flows.
const testScripts = `
scripts:
  - kind: register
    table: players
    beginning: "Welcome!"
    ending: "Done."
    questions:
      - column: name
        display_name: Name
        query: "What is your name?"
  - kind: squad
    table: squads
    modal: true
    beginning: "New squad"
    ending: "Created."
    questions:
      - column: name
        query: "Squad name"
`

// TestFixture bundles the in-memory pieces behind a test API server.
type TestFixture struct {
	Server  *api.Server
	Msg     *messaging.MockService
	Store   *store.InMemoryStore
	Manager *flow.Manager
	Library *script.Library
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer(t *testing.T) *TestFixture {
	t.Helper()

	registry := script.NewRegistry()
	if err := game.RegisterBuiltins(registry); err != nil {
		t.Fatalf("failed to register builtin processors: %v", err)
	}
	library, err := script.Parse([]byte(testScripts), registry)
	if err != nil {
		t.Fatalf("failed to parse test scripts: %v", err)
	}

	msg := messaging.NewMockService()
	st := store.NewInMemoryStore()
	manager := flow.NewManager(msg, library, st, game.NewContext(st, nil))

	return &TestFixture{
		Server:  api.NewServer(msg, manager, st, library),
		Msg:     msg,
		Store:   st,
		Manager: manager,
		Library: library,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
