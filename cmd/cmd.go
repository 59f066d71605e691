// Package cmd implements the medq command line interface.
//
// Commands:
//   - chat: interactive conversation in the terminal
//   - ask: answer a single question and exit
//   - serve: HTTP JSON API server
//   - ingest: index local documents into the corpus
//   - sessions: inspect and manage stored transcripts
//   - mcp: Model Context Protocol server on stdio
//
// Long-running commands install signal handlers and shut down gracefully
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sathlab/medq/internal/log"
)

// Execute is the entry point for the medq CLI. It dispatches to the
// requested command and returns its error, if any.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	// Logs go to stderr. chat and ask own stdout for answers, and the MCP
	// server reserves stdout for the JSON-RPC stream.
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "chat":
		return runChat(args)
	case "ask":
		return runAsk(args)
	case "serve":
		return runServe(args)
	case "ingest":
		return runIngest(args)
	case "sessions":
		return runSessions(args)
	case "mcp":
		return runMCP(args)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s (run 'medq help')", os.Args[1])
	}
}

// runHelp prints usage information.
func runHelp() {
	fmt.Println("medq - conversational medical question assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  medq chat                      Interactive conversation")
	fmt.Println("  medq ask [flags] <question>    Answer one question and exit")
	fmt.Println("  medq serve [addr]              Start the HTTP API server")
	fmt.Println("  medq ingest [flags] <path>     Index .txt/.md documents into the corpus")
	fmt.Println("  medq sessions <subcommand>     Manage stored sessions (list|show|delete|prune)")
	fmt.Println("  medq mcp                       Start the MCP server on stdio")
	fmt.Println("  medq version                   Show version information")
	fmt.Println("  medq help                      Show this help")
	fmt.Println()
	fmt.Println("Ask flags:")
	fmt.Println("  --session <id>    Answer within the given session instead of the current one")
	fmt.Println("  --plain           Print the raw answer without terminal markdown rendering")
	fmt.Println()
	fmt.Println("Ingest flags:")
	fmt.Println("  --source-type <t> Tag indexed documents with a source type (default \"file\")")
	fmt.Println()
	fmt.Println("Chat commands:")
	fmt.Println("  /new              Start a fresh session")
	fmt.Println("  /route            Show which branch answered the last question")
	fmt.Println("  /quit, /exit      Leave the conversation (Ctrl+D also works)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GROQ_API_KEY      Router model key (or set router_provider: chat in config)")
	fmt.Println("  DATABASE_URL      PostgreSQL connection URL (overrides postgres_* settings)")
	fmt.Println("  DEBUG             Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.medq/config.yaml (see config.example.yaml).")
}
