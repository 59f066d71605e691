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
	"time"

	"github.com/sathlab/medq/internal/app"
	"github.com/sathlab/medq/internal/config"
	"github.com/sathlab/medq/internal/rag"
)

// runIngest indexes a file or directory of documents into the corpus.
// Supports:
//   - medq ingest ./notes            (positional)
//   - medq ingest --source-type pubmed ./papers
func runIngest(args []string) error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	sourceType := ingestFlags.String("source-type", "", "Tag for indexed documents (default \"file\")")

	// Check for positional argument first (medq ingest ./notes).
	var path string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path = args[0]
		args = args[1:]
	}

	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}
	if path == "" {
		path = ingestFlags.Arg(0)
	}
	if path == "" {
		return fmt.Errorf("usage: medq ingest [--source-type type] <path>")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

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

	ing := a.Ingester.WithSourceType(*sourceType)

	var res *rag.Result
	if info.IsDir() {
		res, err = ing.AddDirectory(ctx, path)
	} else {
		res, err = ing.AddFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Indexed %d file(s), %d chunk(s), %s in %s\n",
		res.FilesAdded, res.Chunks, formatBytes(res.TotalSize), res.Duration.Round(time.Millisecond))
	if res.FilesSkipped > 0 {
		fmt.Printf("Skipped %d file(s) (unsupported extension or too large)\n", res.FilesSkipped)
	}
	if res.FilesFailed > 0 {
		fmt.Printf("Failed %d file(s); run with DEBUG=1 for details\n", res.FilesFailed)
	}
	if total, err := a.Corpus.Count(ctx); err == nil {
		fmt.Printf("Corpus now holds %d chunk(s)\n", total)
	}
	return nil
}

// formatBytes renders a byte count in human-readable form.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
