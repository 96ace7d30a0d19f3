package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// PartitionLister returns mounted filesystems. It matches [disk.PartitionsWithContext].
type PartitionLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// Checker answers destination readiness.
//
// A destination is ready when it is an existing, writable directory and,
// with RequireMountpoint, the mount point of a filesystem.
type Checker struct {
	RequireMountpoint bool
	Partitions        PartitionLister
	logger            *log.Logger
}

// NewChecker creates a checker from the mount config section.
func NewChecker(cfg shared.MountConfig, logger *log.Logger) *Checker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Checker{
		RequireMountpoint: cfg.RequireMountpoint,
		Partitions:        disk.PartitionsWithContext,
		logger:            shared.WithLogger(logger, "component", "mount"),
	}
}

// IsDestinationReady never returns an error: every failure becomes a reason.
func (c *Checker) IsDestinationReady(ctx context.Context, path string) models.Readiness {
	r := c.check(ctx, path)
	if !r.Ready {
		c.logger.Warn("destination not ready", "path", path, "reason", r.Reason)
	}
	return r
}

func (c *Checker) check(ctx context.Context, path string) models.Readiness {
	if path == "" {
		return models.Readiness{Reason: "no destination configured"}
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return models.Readiness{Reason: fmt.Sprintf("%s does not exist", path)}
	case err != nil:
		return models.Readiness{Reason: fmt.Sprintf("cannot access %s: %v", path, err)}
	case !info.IsDir():
		return models.Readiness{Reason: fmt.Sprintf("%s is not a directory", path)}
	}

	if c.RequireMountpoint {
		mounted, err := c.isMountpoint(ctx, path)
		if err != nil {
			return models.Readiness{Reason: fmt.Sprintf("cannot list mounts: %v", err)}
		}
		if !mounted {
			return models.Readiness{Reason: fmt.Sprintf("%s is not a mounted drive", path)}
		}
	}

	f, err := os.CreateTemp(path, ".bulkup-probe-*")
	if err != nil {
		return models.Readiness{Reason: fmt.Sprintf("%s is not writable: %v", path, err)}
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		c.logger.Debug("failed to remove probe file", "path", name, "err", err)
	}

	return models.Readiness{Ready: true}
}

func (c *Checker) isMountpoint(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	parts, err := c.Partitions(ctx, true)
	if err != nil {
		return false, err
	}
	for _, p := range parts {
		if filepath.Clean(p.Mountpoint) == abs {
			return true, nil
		}
	}
	return false, nil
}

// Usage is the space report for one path.
type Usage struct {
	Path        string  `json:"path"`
	Available   bool    `json:"available"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskUsage reports filesystem usage for path. A missing path is reported unavailable, not as an error.
func DiskUsage(ctx context.Context, path string) (Usage, error) {
	u := Usage{Path: path}
	if _, err := os.Stat(path); err != nil {
		return u, nil
	}
	st, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return u, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}
	u.Available = true
	u.Total = st.Total
	u.Used = st.Used
	u.Free = st.Free
	u.UsedPercent = st.UsedPercent
	return u, nil
}

// Report is served by the disk endpoint.
type Report struct {
	Source      Usage            `json:"source"`
	Destination Usage            `json:"destination"`
	Readiness   models.Readiness `json:"readiness"`
}

// BuildReport gathers source and destination usage plus destination readiness.
func (c *Checker) BuildReport(ctx context.Context, source, destination string) (Report, error) {
	src, err := DiskUsage(ctx, source)
	if err != nil {
		return Report{}, err
	}
	dst, err := DiskUsage(ctx, destination)
	if err != nil {
		return Report{}, err
	}
	return Report{Source: src, Destination: dst, Readiness: c.IsDestinationReady(ctx, destination)}, nil
}
