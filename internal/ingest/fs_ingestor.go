package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/expense-intake/constants"
)

// FileResult is the per-file outcome of a directory ingest.
type FileResult struct {
	Path         string
	StagedID     string
	Kind         constants.DocumentKind
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// DirOptions controls a directory ingest.
type DirOptions struct {
	SkipHidden   bool
	Concurrency  int // files ingested at once; defaults to 4
	DocumentType string
}

// IngestPath ingests a single file from disk as a manual upload.
func (s *Service) IngestPath(ctx context.Context, ownerID uuid.UUID, path, documentType string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("abs path: %w", err)
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		return Result{}, fmt.Errorf("%s: %w", filepath.Base(abs), ErrUnsupportedType)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", abs, err)
	}
	return s.IngestFile(ctx, FileRequest{
		OwnerID:      ownerID,
		Filename:     filepath.Base(abs),
		MIMEType:     constants.MIMEFromFilename(abs),
		Data:         data,
		SourceKind:   constants.SourceManual,
		DocumentType: documentType,
		Metadata:     map[string]any{"source_path": abs},
	})
}

// IngestDirectory walks root, skips hidden entries if requested and ingests every
// supported file with bounded concurrency. Per-file failures are reported in the
// results, in walk order, and never stop the walk.
func (s *Service) IngestDirectory(ctx context.Context, ownerID uuid.UUID, root string, opts DirOptions) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}

	var stats DirStats
	var results []FileResult
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if opts.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}

	var succeeded, deduplicated, failed atomic.Uint32
	fileResults := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			r, err := s.IngestPath(gctx, ownerID, path, opts.DocumentType)
			if err != nil {
				fileResults[i] = FileResult{Path: path, Err: err.Error()}
				failed.Add(1)
				s.Logger.WarnContext(gctx, "ingest.file_failed", "path", path, "err", err)
				return nil
			}
			fileResults[i] = FileResult{Path: path, Kind: r.Kind, Deduplicated: r.Deduplicated, HashHex: r.ContentHash}
			if r.StagedID != uuid.Nil {
				fileResults[i].StagedID = r.StagedID.String()
			}
			succeeded.Add(1)
			if r.Deduplicated {
				deduplicated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Succeeded += succeeded.Load()
	stats.Deduplicated += deduplicated.Load()
	stats.Failed += failed.Load()
	results = append(results, fileResults...)
	if err := ctx.Err(); err != nil {
		return results, stats, err
	}
	return results, stats, nil
}
