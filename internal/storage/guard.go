package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/logger"
)

const (
	DefaultEstimatedSegmentSize int64 = 2 << 20
	DefaultMaxArtifactSize      int64 = 8 << 30
)

var ErrUnsupported = errors.New("free space check not supported on this platform")

// Guard rejects jobs whose artifact would not fit the configured limits.
type Guard struct {
	EstimatedSegmentSize int64
	// MaxArtifactSize of 0 disables the size limit.
	MaxArtifactSize int64

	freeSpace func(path string) (int64, error)
}

func NewGuard(estimatedSegmentSize, maxArtifactSize int64) *Guard {
	if estimatedSegmentSize <= 0 {
		estimatedSegmentSize = DefaultEstimatedSegmentSize
	}

	return &Guard{
		EstimatedSegmentSize: estimatedSegmentSize,
		MaxArtifactSize:      maxArtifactSize,
		freeSpace:            FreeSpace,
	}
}

// Estimate returns the heuristic artifact size for segmentCount segments.
func (g *Guard) Estimate(segmentCount int) int64 {
	return int64(segmentCount) * g.EstimatedSegmentSize
}

// Check validates the estimated size of a job with segmentCount segments
// against the size limit and the free space of the filesystem holding dir.
func (g *Guard) Check(segmentCount int, dir string) error {
	estimate := g.Estimate(segmentCount)

	if g.MaxArtifactSize > 0 && estimate > g.MaxArtifactSize {
		return errors.NewValidationError(
			fmt.Errorf("%w: estimated %d bytes, limit %d", errors.ErrSizeLimitExceeded, estimate, g.MaxArtifactSize), dir)
	}

	free, err := g.freeSpace(existingAncestor(dir))
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			logger.Warnf("Skipping free space check for %s: %v", dir, err)
			return nil
		}
		return errors.NewValidationError(fmt.Errorf("query free space: %w", err), dir)
	}

	if estimate > free {
		return errors.NewValidationError(
			fmt.Errorf("%w: need about %d bytes, %d available", errors.ErrInsufficientSpace, estimate, free), dir)
	}

	logger.Debugf("Storage check passed for %s: estimate=%d free=%d", dir, estimate, free)

	return nil
}

// CheckActual validates the real number of bytes written against the size limit.
func (g *Guard) CheckActual(written int64) error {
	if g.MaxArtifactSize > 0 && written > g.MaxArtifactSize {
		return errors.NewValidationError(
			fmt.Errorf("%w: wrote %d bytes, limit %d", errors.ErrSizeLimitExceeded, written, g.MaxArtifactSize), "")
	}

	return nil
}

// existingAncestor returns dir or its closest parent that exists, since the
// download directory is created lazily.
func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
