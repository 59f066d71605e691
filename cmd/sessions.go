package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sathlab/medq/db"
	"github.com/sathlab/medq/internal/config"
	"github.com/sathlab/medq/internal/session"
)

// runSessions dispatches the session management subcommands.
func runSessions(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: medq sessions <list|show|delete|prune> [args]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openSessionStore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer closeStore()

	switch args[0] {
	case "list":
		return runSessionsList(ctx, store)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: medq sessions show <session-id>")
		}
		return runSessionsShow(ctx, store, args[1])
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: medq sessions delete <session-id>")
		}
		return runSessionsDelete(ctx, store, args[1], "")
	case "prune":
		return runSessionsPrune(ctx, store, args[1:])
	default:
		return fmt.Errorf("unknown sessions subcommand: %s (list|show|delete|prune)", args[0])
	}
}

// openSessionStore connects directly to the durable session backend,
// skipping the model and embedder setup the other commands need. The
// in-memory backend only lives for one process, so there is nothing for
// a management command to operate on.
func openSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.SessionBackend != config.SessionBackendPostgres {
		return nil, nil, fmt.Errorf(
			"the sessions command requires session_backend: postgres (currently %q)", cfg.SessionBackend)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	return session.NewPostgres(pool, logger), pool.Close, nil
}

func runSessionsList(ctx context.Context, store session.Store) error {
	sessions, err := store.Sessions(ctx, 100, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURNS\tCREATED\tLAST ACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			s.ID, s.TurnCount, formatTime(s.CreatedAt), formatTime(s.LastActiveAt))
	}
	return tw.Flush()
}

func runSessionsShow(ctx context.Context, store session.Store, rawID string) error {
	id, err := session.NormalizeID(rawID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	turns, err := store.History(ctx, id)
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	if len(turns) == 0 {
		fmt.Printf("Session %s has no recorded turns.\n", id)
		return nil
	}

	fmt.Printf("Session: %s\n", id)
	fmt.Printf("Turns: %d\n", len(turns))
	fmt.Println()
	fmt.Println("───────────────────────────────────────")
	fmt.Println()

	for _, t := range turns {
		speaker := "You"
		if t.Role == session.RoleAssistant {
			speaker = "medq"
		}
		fmt.Printf("%s> %s\n", speaker, t.Content)
		fmt.Println()
	}

	return nil
}

func runSessionsDelete(ctx context.Context, store session.Store, rawID, stateDir string) error {
	id, err := session.NormalizeID(rawID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session %s does not exist", id)
		}
		return fmt.Errorf("deleting session: %w", err)
	}

	// Forget the CLI's current-session pointer when it referenced the
	// deleted session, so the next chat starts fresh instead of resuming
	// a transcript that no longer exists.
	if current, err := session.LoadCurrentSessionID(stateDir); err == nil && current == id {
		if err := session.ClearCurrentSessionID(stateDir); err != nil {
			slog.Warn("clearing current session state", "error", err)
		}
	}

	fmt.Printf("Deleted session %s\n", id)
	return nil
}

// runSessionsPrune deletes sessions whose last activity is older than the
// --older-than cutoff.
func runSessionsPrune(ctx context.Context, store session.Store, args []string) error {
	pruneFlags := flag.NewFlagSet("sessions prune", flag.ContinueOnError)
	pruneFlags.SetOutput(os.Stderr)
	olderThan := pruneFlags.Duration("older-than", 30*24*time.Hour, "Delete sessions idle longer than this")

	if err := pruneFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing prune flags: %w", err)
	}
	if *olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", *olderThan)
	}

	// The PostgreSQL store prunes in one statement; other stores page
	// through the listing and delete one session at a time.
	if pg, ok := store.(*session.Postgres); ok {
		n, err := pg.PruneIdle(ctx, *olderThan)
		if err != nil {
			return fmt.Errorf("pruning sessions: %w", err)
		}
		if n == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		fmt.Printf("Pruned %d session(s)\n", n)
		return nil
	}

	stale, err := staleSessionIDs(ctx, store, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}

	deleted := 0
	for _, id := range stale {
		if err := store.Delete(ctx, id); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				continue // someone else got there first
			}
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
		deleted++
	}

	fmt.Printf("Pruned %d session(s)\n", deleted)
	return nil
}

// staleSessionIDs pages through the store and collects sessions whose last
// activity predates cutoff. IDs are collected before any deletion so the
// listing offsets stay stable while paging.
func staleSessionIDs(ctx context.Context, store session.Store, cutoff time.Time) ([]string, error) {
	const pageSize = 500

	var stale []string
	for offset := 0; ; offset += pageSize {
		page, err := store.Sessions(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		for _, s := range page {
			if s.LastActiveAt.Before(cutoff) {
				stale = append(stale, s.ID)
			}
		}
		if len(page) < pageSize {
			return stale, nil
		}
	}
}

// formatTime formats a timestamp relative to now for listings.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
