package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sathlab/medq/internal/app"
	"github.com/sathlab/medq/internal/config"
	"github.com/sathlab/medq/internal/orchestrator"
	"github.com/sathlab/medq/internal/route"
	"github.com/sathlab/medq/internal/session"
)

// responder answers one question within a session.
// *orchestrator.Orchestrator satisfies it.
type responder interface {
	Respond(ctx context.Context, sessionID, question string) (orchestrator.Result, error)
}

// chatSession holds the interactive loop state.
type chatSession struct {
	responder responder
	render    *answerRenderer
	logger    *slog.Logger
	sessionID string
	lastRoute route.Decision
	stateDir  string // "" = ~/.medq
}

// runChat starts the interactive conversation loop. The session persists
// across invocations via the current-session state file; /new rotates it.
func runChat(_ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	cs := &chatSession{
		responder: a.Orchestrator,
		render:    newAnswerRenderer(false),
		logger:    logger,
		sessionID: currentOrNewSessionID("", logger),
	}

	fmt.Printf("medq %s — ask about symptoms, treatments, or anything medical.\n", Version)
	fmt.Println("Type /help for commands, Ctrl+D to leave.")
	fmt.Printf("Session: %s\n\n", cs.sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println("\nBye.")
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if cs.handleCommand(input) {
				break
			}
			continue
		}

		res, err := cs.responder.Respond(ctx, cs.sessionID, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\nBye.")
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			continue
		}
		cs.lastRoute = res.Route

		fmt.Println(cs.render.Render(res.Answer))
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// handleCommand processes a slash command. Returns true when the loop
// should exit.
func (cs *chatSession) handleCommand(input string) bool {
	switch strings.Fields(input)[0] {
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /new           Start a fresh session")
		fmt.Println("  /route         Show which branch answered the last question")
		fmt.Println("  /quit, /exit   Leave the conversation")
		fmt.Println()
	case "/new":
		cs.sessionID = session.NewID()
		cs.lastRoute = ""
		if err := session.SaveCurrentSessionID(cs.stateDir, cs.sessionID); err != nil {
			cs.logger.Warn("saving session state", "error", err)
		}
		fmt.Printf("Started session %s\n\n", cs.sessionID)
	case "/route":
		if cs.lastRoute == "" {
			fmt.Println("Nothing answered yet in this session.")
		} else {
			fmt.Printf("Last answer came from: %s\n", cs.lastRoute)
		}
		fmt.Println()
	case "/quit", "/exit":
		fmt.Println("Bye.")
		return true
	default:
		fmt.Printf("Unknown command: %s\n", input)
		fmt.Println("Type /help to see available commands.")
		fmt.Println()
	}
	return false
}

// currentOrNewSessionID resumes the persisted current session when one
// exists, otherwise mints and persists a fresh id. State file problems
// degrade to a fresh unsaved session rather than failing the command.
func currentOrNewSessionID(stateDir string, logger *slog.Logger) string {
	id, err := session.LoadCurrentSessionID(stateDir)
	if err != nil {
		logger.Warn("loading session state", "error", err)
	}
	if id != "" {
		return id
	}

	id = session.NewID()
	if err := session.SaveCurrentSessionID(stateDir, id); err != nil {
		logger.Warn("saving session state", "error", err)
	}
	return id
}
