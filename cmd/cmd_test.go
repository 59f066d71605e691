package cmd

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/route"
	"github.com/sathlab/medq/internal/session"
)

// captureStdout runs fn while capturing everything it writes to stdout.
// Not safe for parallel tests: os.Stdout is process-global.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	return buf.String()
}

// withArgs swaps os.Args for the duration of the test.
func withArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = append([]string{"medq"}, args...)
}

// ============================================================================
// Execute dispatch
// ============================================================================

func TestExecute_UnknownCommand(t *testing.T) {
	withArgs(t, "frobnicate")

	err := Execute()
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown command")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error %q does not name the offending command", err)
	}
}

func TestExecute_Help(t *testing.T) {
	withArgs(t, "help")

	out := captureStdout(t, func() {
		if err := Execute(); err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	})

	for _, want := range []string{"Usage:", "chat", "ask", "serve", "ingest", "sessions", "mcp", "version"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestExecute_NoArgsShowsHelp(t *testing.T) {
	withArgs(t)

	out := captureStdout(t, func() {
		if err := Execute(); err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	})
	if !strings.Contains(out, "Usage:") {
		t.Error("expected bare invocation to print usage")
	}
}

func TestExecute_Version(t *testing.T) {
	withArgs(t, "version")

	out := captureStdout(t, func() {
		if err := Execute(); err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	})

	for _, want := range []string{"medq " + Version, "Build time:", "Git commit:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q\nGot: %s", want, out)
		}
	}
}

// ============================================================================
// Serve helpers
// ============================================================================

func TestParseRateBurst(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "unset", value: "", want: 0},
		{name: "valid", value: "25", want: 25},
		{name: "zero", value: "0", want: 0},
		{name: "non-numeric", value: "abc", want: 0},
		{name: "negative", value: "-3", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MEDQ_RATE_BURST", tt.value)
			if got := parseRateBurst(); got != tt.want {
				t.Errorf("parseRateBurst() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Chat slash commands
// ============================================================================

func newTestChat(t *testing.T) *chatSession {
	t.Helper()
	return &chatSession{
		logger:    log.NewNop(),
		sessionID: "sess-initial",
		stateDir:  t.TempDir(),
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		wantExit   bool
		wantOutput []string
	}{
		{
			name:       "help",
			command:    "/help",
			wantExit:   false,
			wantOutput: []string{"/new", "/route", "/quit", "/exit"},
		},
		{
			name:       "route before any answer",
			command:    "/route",
			wantExit:   false,
			wantOutput: []string{"Nothing answered yet"},
		},
		{
			name:       "quit",
			command:    "/quit",
			wantExit:   true,
			wantOutput: []string{"Bye."},
		},
		{
			name:       "exit",
			command:    "/exit",
			wantExit:   true,
			wantOutput: []string{"Bye."},
		},
		{
			name:       "unknown command",
			command:    "/frobnicate",
			wantExit:   false,
			wantOutput: []string{"Unknown command: /frobnicate", "/help"},
		},
		{
			name:       "command with trailing words",
			command:    "/quit now please",
			wantExit:   true,
			wantOutput: []string{"Bye."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := newTestChat(t)

			var exit bool
			out := captureStdout(t, func() { exit = cs.handleCommand(tt.command) })

			if exit != tt.wantExit {
				t.Errorf("handleCommand(%q) exit = %v, want %v", tt.command, exit, tt.wantExit)
			}
			for _, want := range tt.wantOutput {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q\nGot: %s", want, out)
				}
			}
		})
	}
}

func TestHandleCommand_NewRotatesSession(t *testing.T) {
	cs := newTestChat(t)
	cs.lastRoute = route.Wiki

	out := captureStdout(t, func() {
		if cs.handleCommand("/new") {
			t.Error("/new should not exit the loop")
		}
	})

	if !strings.Contains(out, "Started session") {
		t.Errorf("output missing confirmation\nGot: %s", out)
	}
	if cs.sessionID == "sess-initial" {
		t.Error("session id was not rotated")
	}
	if _, err := session.NormalizeID(cs.sessionID); err != nil {
		t.Errorf("minted session id %q is invalid: %v", cs.sessionID, err)
	}
	if cs.lastRoute != "" {
		t.Errorf("lastRoute = %q, want reset", cs.lastRoute)
	}

	saved, err := session.LoadCurrentSessionID(cs.stateDir)
	if err != nil {
		t.Fatalf("LoadCurrentSessionID() error = %v", err)
	}
	if saved != cs.sessionID {
		t.Errorf("persisted session id = %q, want %q", saved, cs.sessionID)
	}
}

func TestHandleCommand_RouteAfterAnswer(t *testing.T) {
	cs := newTestChat(t)
	cs.lastRoute = route.Wiki

	out := captureStdout(t, func() { cs.handleCommand("/route") })
	if !strings.Contains(out, string(route.Wiki)) {
		t.Errorf("output missing route %q\nGot: %s", route.Wiki, out)
	}
}

func TestCurrentOrNewSessionID(t *testing.T) {
	dir := t.TempDir()
	logger := log.NewNop()

	first := currentOrNewSessionID(dir, logger)
	if _, err := session.NormalizeID(first); err != nil {
		t.Fatalf("minted id %q is invalid: %v", first, err)
	}

	// A second call resumes the persisted session.
	second := currentOrNewSessionID(dir, logger)
	if second != first {
		t.Errorf("resumed id = %q, want %q", second, first)
	}
}

// ============================================================================
// Answer rendering
// ============================================================================

func TestAnswerRenderer_PlainPassthrough(t *testing.T) {
	const md = "# Heading\n\nSome **bold** text."
	if got := newAnswerRenderer(true).Render(md); got != md {
		t.Errorf("plain Render() = %q, want input unchanged", got)
	}
}

func TestAnswerRenderer_NilPassthrough(t *testing.T) {
	var r *answerRenderer
	if got := r.Render("text"); got != "text" {
		t.Errorf("nil Render() = %q, want %q", got, "text")
	}
}

func TestAnswerRenderer_KeepsContent(t *testing.T) {
	out := newAnswerRenderer(false).Render("# Aspirin\n\nCommon analgesic.")
	for _, want := range []string{"Aspirin", "Common analgesic."} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q\nGot: %s", want, out)
		}
	}
}

// ============================================================================
// Ingest helpers
// ============================================================================

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
