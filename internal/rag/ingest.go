package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/sathlab/medq/internal/corpus"
)

// MaxFileSize is the largest file the ingester will read. Anything bigger
// is almost certainly not prose worth embedding.
const MaxFileSize = 8 << 20 // 8 MiB

// defaultExtensions are the file types ingested when the config does not
// name its own.
var defaultExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// CorpusStore is the part of the corpus store ingestion needs.
// corpus.Store satisfies it.
type CorpusStore interface {
	Upsert(ctx context.Context, docs ...corpus.Document) error
	DeleteSource(ctx context.Context, source string) (int64, error)
}

// IngesterConfig configures an Ingester. The zero value is usable.
type IngesterConfig struct {
	// SourceType tags ingested documents; defaults to corpus.SourceTypeFile.
	SourceType string
	// Extensions whitelists file types (e.g. ".txt"); defaults to .txt and .md.
	Extensions []string
	// ChunkSize and ChunkOverlap configure splitting; zero values take the
	// splitter defaults.
	ChunkSize    int
	ChunkOverlap int
	// LockPath is a lock file guarding against concurrent ingest runs
	// across processes. Empty disables locking.
	LockPath string
	Logger   *slog.Logger
}

// Result summarizes one ingest run.
type Result struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
	Chunks       int
	TotalSize    int64
	Duration     time.Duration
}

// Ingester reads local text files, splits them into chunks, and upserts
// the chunks into the corpus. Re-ingesting a source replaces all of its
// previous chunks.
type Ingester struct {
	store      CorpusStore
	splitter   *Splitter
	sourceType string
	extensions map[string]bool
	lockPath   string
	logger     *slog.Logger
}

// NewIngester creates an Ingester over the given store.
func NewIngester(store CorpusStore, cfg IngesterConfig) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = corpus.SourceTypeFile
	}

	extensions := make(map[string]bool)
	if len(cfg.Extensions) > 0 {
		for _, ext := range cfg.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			extensions[strings.ToLower(ext)] = true
		}
	} else {
		for ext := range defaultExtensions {
			extensions[ext] = true
		}
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = DefaultChunkOverlap
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingester{
		store:      store,
		splitter:   NewSplitter(chunkSize, chunkOverlap),
		sourceType: sourceType,
		extensions: extensions,
		lockPath:   cfg.LockPath,
		logger:     logger,
	}, nil
}

// WithSourceType returns a copy of the ingester that tags documents with
// the given source type. It shares the store, splitter, and lock with the
// receiver. An empty sourceType returns the receiver unchanged.
func (ing *Ingester) WithSourceType(sourceType string) *Ingester {
	if sourceType == "" {
		return ing
	}
	clone := *ing
	clone.sourceType = sourceType
	return &clone
}

// AddFile ingests a single file.
func (ing *Ingester) AddFile(ctx context.Context, filePath string) (*Result, error) {
	release, err := ing.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	// Read through os.Root so symlinks cannot escape the parent directory.
	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	fileName := filepath.Base(absPath)
	info, err := root.Stat(fileName)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", fileName, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use AddDirectory instead", filePath)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !ing.extensions[ext] {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, over the %d byte limit", fileName, info.Size(), MaxFileSize)
	}

	content, err := root.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileName, err)
	}

	chunks, err := ing.index(ctx, absPath, string(content), info.Size())
	if err != nil {
		return nil, err
	}

	return &Result{
		FilesAdded: 1,
		Chunks:     chunks,
		TotalSize:  info.Size(),
		Duration:   time.Since(start),
	}, nil
}

// AddDirectory recursively ingests every supported file under dirPath.
// Individual file failures are logged and counted, not fatal.
func (ing *Ingester) AddDirectory(ctx context.Context, dirPath string) (*Result, error) {
	release, err := ing.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	result := &Result{}

	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.FilesFailed++
			return nil
		}

		if d.IsDir() {
			// Skip hidden directories like .git wholesale.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != absDir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !ing.extensions[ext] {
			result.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.FilesFailed++
			return nil
		}
		if info.Size() > MaxFileSize {
			ing.logger.Warn("skipping oversized file", "path", path, "size", info.Size())
			result.FilesSkipped++
			return nil
		}

		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}
		content, err := root.ReadFile(relPath)
		if err != nil {
			ing.logger.Warn("skipping unreadable file", "path", path, "error", err)
			result.FilesFailed++
			return nil
		}

		chunks, err := ing.index(ctx, path, string(content), info.Size())
		if err != nil {
			ing.logger.Warn("indexing failed", "path", path, "error", err)
			result.FilesFailed++
			return nil
		}

		result.FilesAdded++
		result.Chunks += chunks
		result.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dirPath, err)
	}

	result.Duration = time.Since(start)
	ing.logger.Info("ingest complete",
		"dir", absDir,
		"added", result.FilesAdded,
		"skipped", result.FilesSkipped,
		"failed", result.FilesFailed,
		"chunks", result.Chunks,
	)
	return result, nil
}

// RemoveSource deletes every chunk previously ingested from source,
// returning how many were removed.
func (ing *Ingester) RemoveSource(ctx context.Context, source string) (int64, error) {
	absPath, err := filepath.Abs(source)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}
	return ing.store.DeleteSource(ctx, absPath)
}

// index replaces all chunks for source with a fresh split of content.
// Deleting first keeps a shrunken file from leaving stale tail chunks
// behind.
func (ing *Ingester) index(ctx context.Context, source, content string, size int64) (int, error) {
	if _, err := ing.store.DeleteSource(ctx, source); err != nil {
		return 0, fmt.Errorf("clearing previous chunks: %w", err)
	}

	chunks := ing.splitter.Split(content)
	if len(chunks) == 0 {
		return 0, nil
	}

	indexedAt := time.Now().Format(time.RFC3339)
	docs := make([]corpus.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = corpus.Document{
			ID:         chunkID(source, i),
			Source:     source,
			SourceType: ing.sourceType,
			Chunk:      i,
			Content:    chunk,
			Metadata: map[string]string{
				"file_name":  filepath.Base(source),
				"file_ext":   strings.ToLower(filepath.Ext(source)),
				"file_size":  strconv.FormatInt(size, 10),
				"indexed_at": indexedAt,
			},
		}
	}

	if err := ing.store.Upsert(ctx, docs...); err != nil {
		return 0, fmt.Errorf("upserting chunks: %w", err)
	}
	return len(docs), nil
}

// acquireLock takes the cross-process ingest lock, returning a release
// func. With no LockPath configured both are no-ops.
func (ing *Ingester) acquireLock() (func(), error) {
	if ing.lockPath == "" {
		return func() {}, nil
	}

	lock := flock.New(ing.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ingest run holds %s", ing.lockPath)
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}

// chunkID derives a stable chunk identifier from the source path and
// chunk index, so re-ingesting a file overwrites in place.
func chunkID(source string, idx int) string {
	hash := sha256.Sum256([]byte(source))
	return "doc_" + hex.EncodeToString(hash[:16]) + ":" + strconv.Itoa(idx)
}
