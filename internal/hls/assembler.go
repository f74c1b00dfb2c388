package hls

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
)

const DefaultWriteChunkSize = 1 << 20

// SizeChecker re-validates the real artifact size.
type SizeChecker interface {
	CheckActual(written int64) error
}

// Assembler appends fetched segments to a part file in index order and
// renames it to the final artifact once the job completes.
type Assembler struct {
	partPath  string
	finalPath string
	chunkSize int
	limits    SizeChecker

	file      *os.File
	w         *bufio.Writer
	written   int64
	lastIndex int
}

func NewAssembler(dir, partName, finalName string, chunkSize int, limits SizeChecker) *Assembler {
	if chunkSize <= 0 {
		chunkSize = DefaultWriteChunkSize
	}

	return &Assembler{
		partPath:  filepath.Join(dir, partName),
		finalPath: filepath.Join(dir, finalName),
		chunkSize: chunkSize,
		limits:    limits,
		lastIndex: -1,
	}
}

func (a *Assembler) PartPath() string {
	return a.partPath
}

func (a *Assembler) Written() int64 {
	return a.written
}

// Append writes the successful results, sorted by index, after everything
// written so far. Indices must be greater than any previously appended one.
// It returns the number of bytes appended.
func (a *Assembler) Append(results []Result) (int64, error) {
	ok := make([]Result, 0, len(results))
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		}
	}

	slices.SortFunc(ok, func(x, y Result) int {
		return x.Index - y.Index
	})

	if err := a.open(); err != nil {
		return 0, err
	}

	var appended int64
	for _, r := range ok {
		if r.Index <= a.lastIndex {
			return appended, errors.NewAssemblyError(
				fmt.Errorf("segment %d appended after segment %d", r.Index, a.lastIndex), a.partPath)
		}

		for off := 0; off < len(r.Data); off += a.chunkSize {
			end := min(off+a.chunkSize, len(r.Data))

			n, err := a.w.Write(r.Data[off:end])
			appended += int64(n)
			a.written += int64(n)
			if err != nil {
				return appended, errors.NewAssemblyError(fmt.Errorf("write segment %d: %w", r.Index, err), a.partPath)
			}
		}

		a.lastIndex = r.Index
	}

	if err := a.w.Flush(); err != nil {
		return appended, errors.NewAssemblyError(fmt.Errorf("flush: %w", err), a.partPath)
	}

	metrics.BytesAssembledTotal.Add(float64(appended))

	if a.limits != nil {
		if err := a.limits.CheckActual(a.written); err != nil {
			return appended, errors.NewAssemblyError(err, a.partPath)
		}
	}

	return appended, nil
}

// Finalize re-validates the written size, syncs the part file and renames
// it to the final artifact path, which it returns.
func (a *Assembler) Finalize() (string, error) {
	if err := a.open(); err != nil {
		return "", err
	}

	if a.limits != nil {
		if err := a.limits.CheckActual(a.written); err != nil {
			return "", errors.NewAssemblyError(err, a.partPath)
		}
	}

	if err := a.w.Flush(); err != nil {
		return "", errors.NewAssemblyError(fmt.Errorf("flush: %w", err), a.partPath)
	}

	if err := a.file.Sync(); err != nil {
		return "", errors.NewAssemblyError(fmt.Errorf("sync: %w", err), a.partPath)
	}

	if err := a.file.Close(); err != nil {
		a.file = nil
		return "", errors.NewAssemblyError(fmt.Errorf("close: %w", err), a.partPath)
	}
	a.file = nil

	if err := os.Rename(a.partPath, a.finalPath); err != nil {
		return "", errors.NewAssemblyError(fmt.Errorf("rename: %w", err), a.finalPath)
	}

	logger.Infof("Assembled %s (%d bytes)", a.finalPath, a.written)

	return a.finalPath, nil
}

// Discard closes and removes both the part file and the final artifact.
// It is safe to call more than once.
func (a *Assembler) Discard() error {
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			logger.Warnf("Failed to close %s: %v", a.partPath, err)
		}
		a.file = nil
	}

	var errs []error
	for _, p := range []string{a.partPath, a.finalPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Assembler) open() error {
	if a.file != nil {
		return nil
	}

	if a.w != nil {
		return errors.NewAssemblyError(errors.New("artifact already finalized or discarded"), a.partPath)
	}

	if err := os.MkdirAll(filepath.Dir(a.partPath), 0o755); err != nil {
		return errors.NewAssemblyError(fmt.Errorf("create directory: %w", err), a.partPath)
	}

	f, err := os.OpenFile(a.partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewAssemblyError(fmt.Errorf("create part file: %w", err), a.partPath)
	}

	a.file = f
	a.w = bufio.NewWriterSize(f, a.chunkSize)

	return nil
}
