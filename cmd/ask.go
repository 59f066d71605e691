package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sathlab/medq/internal/app"
	"github.com/sathlab/medq/internal/config"
	"github.com/sathlab/medq/internal/session"
)

// runAsk answers a single question and exits. Without --session the
// question joins the current session (shared with chat), so follow-up
// questions across invocations keep their context.
func runAsk(args []string) error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	sessionFlag := askFlags.String("session", "", "Answer within this session id")
	plain := askFlags.Bool("plain", false, "Skip terminal markdown rendering")

	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: medq ask [--session id] [--plain] <question>")
	}

	logger := slog.Default()

	var sessionID string
	if *sessionFlag != "" {
		id, err := session.NormalizeID(*sessionFlag)
		if err != nil {
			return fmt.Errorf("invalid --session: %w", err)
		}
		sessionID = id
	} else {
		sessionID = currentOrNewSessionID("", logger)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Orchestrator.Respond(ctx, sessionID, question)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(newAnswerRenderer(*plain).Render(res.Answer))
	return nil
}
