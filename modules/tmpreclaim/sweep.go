package tmpreclaim

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SweepOptions parameterizes one sweep.
type SweepOptions struct {
	Dir      string
	MaxAge   time.Duration
	MaxBytes int64
	Now      time.Time
	// Live lists paths that must survive the sweep.
	Live []string
}

// Report summarizes one sweep.
type Report struct {
	Scanned        int
	RemovedByAge   int
	RemovedBySize  int
	ReclaimedBytes int64
	RemainingBytes int64
	// Skipped counts files that could not be inspected or removed.
	Skipped int
}

// Removed returns the number of deleted files.
func (r Report) Removed() int {
	return r.RemovedByAge + r.RemovedBySize
}

type tempFile struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep enforces the age ceiling and then the size ceiling on the regular
// files directly under Dir. Per-file failures are counted and skipped.
// A missing directory is an empty sweep.
func Sweep(ctx context.Context, options SweepOptions) (Report, error) {
	var report Report

	entries, err := os.ReadDir(options.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read %s: %w", options.Dir, err)
	}

	live := make(map[string]struct{}, len(options.Live))
	for _, path := range options.Live {
		live[cleanAbs(path)] = struct{}{}
	}

	files := make([]tempFile, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			report.Skipped++
			continue
		}
		files = append(files, tempFile{
			path:    filepath.Join(options.Dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	report.Scanned = len(files)

	remaining := files[:0]
	for _, file := range files {
		expired := options.MaxAge > 0 && options.Now.Sub(file.modTime) > options.MaxAge
		if !expired || isLive(live, file.path) {
			remaining = append(remaining, file)
			continue
		}
		switch removeFile(file.path) {
		case removeOK:
			report.RemovedByAge++
			report.ReclaimedBytes += file.size
		case removeGone:
		default:
			report.Skipped++
			remaining = append(remaining, file)
		}
	}

	var total int64
	for _, file := range remaining {
		total += file.size
	}

	if options.MaxBytes > 0 && total > options.MaxBytes {
		sort.SliceStable(remaining, func(left, right int) bool {
			return remaining[left].modTime.Before(remaining[right].modTime)
		})
		for _, file := range remaining {
			if total <= options.MaxBytes {
				break
			}
			if err := ctx.Err(); err != nil {
				report.RemainingBytes = total
				return report, err
			}
			if isLive(live, file.path) {
				continue
			}
			switch removeFile(file.path) {
			case removeOK:
				report.RemovedBySize++
				report.ReclaimedBytes += file.size
				total -= file.size
			case removeGone:
				total -= file.size
			default:
				report.Skipped++
			}
		}
	}
	report.RemainingBytes = total

	return report, nil
}

type removeResult int

const (
	removeOK removeResult = iota
	removeGone
	removeFailed
)

func removeFile(path string) removeResult {
	err := os.Remove(path)
	switch {
	case err == nil:
		return removeOK
	case errors.Is(err, fs.ErrNotExist):
		return removeGone
	default:
		return removeFailed
	}
}

func isLive(live map[string]struct{}, path string) bool {
	if len(live) == 0 {
		return false
	}
	_, ok := live[cleanAbs(path)]

	return ok
}

func cleanAbs(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return filepath.Clean(path)
}
