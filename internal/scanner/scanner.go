// Package scanner discovers top-level backup units under a source root and sizes them.
package scanner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// Warning is a non-fatal problem met while sizing a unit, usually a permission error.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) Error() string { return fmt.Sprintf("%s: %v", w.Path, w.Err) }

// Result is the outcome of one scan.
type Result struct {
	Records  []models.DirectoryRecord
	Warnings []Warning
}

// WarningStrings renders warnings for status output.
func (r Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

// Scanner sizes every non-hidden child directory of Root.
type Scanner struct {
	Root        string
	Destination string
	Rules       Rules
	Order       models.Order
	Parallelism int
	logger      *log.Logger
}

// New creates a scanner from the backup configuration.
func New(cfg shared.BackupConfig, logger *log.Logger) (*Scanner, error) {
	order, err := models.ParseOrder(cfg.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: backup.order: %v", shared.ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Scanner{
		Root:        shared.ExpandHome(cfg.SourceRoot),
		Destination: shared.ExpandHome(cfg.Destination),
		Rules:       NewRules(cfg.Exclude),
		Order:       order,
		Parallelism: 4,
		logger:      shared.WithLogger(logger, "component", "scanner"),
	}, nil
}

// Scan lists the units under root with default settings.
func Scan(ctx context.Context, root string, rules Rules) (*Result, error) {
	s := &Scanner{Root: root, Rules: rules, Parallelism: 4, logger: shared.NewLogger(nil)}
	return s.Scan(ctx)
}

// Scan enumerates the units and computes their sizes concurrently.
//
// Files at the root, hidden children and children matching an exclusion rule are ignored.
// Unreadable subtrees produce warnings rather than failing the scan.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source root %s: %w", s.Root, err)
	}

	var records []models.DirectoryRecord
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if s.Rules.Match(name) {
			s.logger.Debug("skipping excluded unit", "name", name)
			continue
		}

		rec := models.DirectoryRecord{
			Name:       name,
			SourcePath: filepath.Join(s.Root, name),
			Selected:   true,
			Status:     models.Pending,
		}
		if s.Destination != "" {
			rec.DestinationPath = filepath.Join(s.Destination, name)
		}
		records = append(records, rec)
	}

	var (
		mu       sync.Mutex
		warnings []Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Parallelism, 1))

	for i := range records {
		g.Go(func() error {
			size, warns, err := s.size(gctx, records[i].SourcePath)
			if err != nil {
				return err
			}
			records[i].SizeBytes = size
			if len(warns) > 0 {
				mu.Lock()
				warnings = append(warnings, warns...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range warnings {
		s.logger.Warn("scan warning", "path", w.Path, "err", w.Err)
	}
	slices.SortFunc(warnings, func(a, b Warning) int { return strings.Compare(a.Path, b.Path) })

	Sort(records, s.Order)
	s.logger.Info("scan complete", "root", s.Root, "units", len(records), "warnings", len(warnings))
	return &Result{Records: records, Warnings: warnings}, nil
}

// size sums regular file sizes below dir, skipping excluded paths.
func (s *Scanner) size(ctx context.Context, dir string) (int64, []Warning, error) {
	var (
		total int64
		warns []Warning
	)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			warns = append(warns, Warning{Path: p, Err: err})
			if d != nil && d.IsDir() && p != dir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(dir, p)
		if s.Rules.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				warns = append(warns, Warning{Path: p, Err: err})
			}
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return 0, nil, err
	}
	return total, warns, nil
}

// Sort orders records in place: name descending, or size descending with name as tie-break.
func Sort(records []models.DirectoryRecord, order models.Order) {
	slices.SortStableFunc(records, func(a, b models.DirectoryRecord) int {
		if order == models.OrderSize {
			if c := cmp.Compare(b.SizeBytes, a.SizeBytes); c != 0 {
				return c
			}
		}
		return strings.Compare(b.Name, a.Name)
	})
}
