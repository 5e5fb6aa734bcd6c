// Package scanner walks a device's scan roots and feeds discovered
// files into the catalog: registering the device, detecting moves,
// marking missing files, and computing hashes (spec.md §4.1, §4.3).
//
// The directory walk itself is a fan-out/fan-in design — one goroutine
// per directory, semaphore-bounded, funneling into a single collector —
// generalizing dupedog's internal/scanner walker from an in-memory
// duplicate-finder into a catalog-writing pass.
package scanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/slyckmb/hashall/internal/progress"
)

// discovered is one regular file found during a walk, with the raw
// identity fields the catalog keys rows on.
type discovered struct {
	AbsPath string
	Size    int64
	MTime   time.Time
	Inode   uint64
	Nlink   uint32
}

// walkStats tracks traversal progress using atomic counters so any
// walker goroutine can update them without lock contention.
type walkStats struct {
	scannedFiles atomic.Int64
	scannedBytes atomic.Int64
	startTime    time.Time
}

func (s *walkStats) String() string {
	return fmt.Sprintf("scanned %d files (%s) in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())), time.Since(s.startTime).Seconds())
}

// walker runs the fan-out/fan-in directory traversal under root,
// bounded to maxWorkers concurrent directory reads. It never crosses
// onto a different filesystem than root's: a nested mount belongs to
// its own device and is scanned as its own root, not folded into this
// one (a file's inode number is only unique within its own device).
type walker struct {
	maxWorkers   int
	errCh        chan<- error
	showProgress bool
	rootDev      uint64

	wg  sync.WaitGroup
	sem chan struct{}
}

func newWalker(maxWorkers int, errCh chan<- error) *walker {
	return newWalkerWithProgress(maxWorkers, errCh, false)
}

func newWalkerWithProgress(maxWorkers int, errCh chan<- error, showProgress bool) *walker {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &walker{maxWorkers: maxWorkers, errCh: errCh, showProgress: showProgress, sem: make(chan struct{}, maxWorkers)}
}

// Walk traverses root and returns every regular file found. It blocks
// until the traversal completes or ctx is cancelled.
func (w *walker) Walk(ctx context.Context, root string) []discovered {
	if info, err := os.Lstat(root); err == nil {
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			w.rootDev = uint64(stat.Dev) //nolint:unconvert
		}
	}

	resultCh := make(chan discovered, 1000)
	stats := &walkStats{startTime: time.Now()}
	bar := progress.New(w.showProgress, -1)
	bar.Describe(stats)

	var collectorWg sync.WaitGroup
	var results []discovered
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for r := range resultCh {
			results = append(results, r)
			stats.scannedFiles.Add(1)
			stats.scannedBytes.Add(r.Size)
			bar.Describe(stats)
		}
	}()

	w.walkDirectory(ctx, root, resultCh)
	w.wg.Wait()
	close(resultCh)
	collectorWg.Wait()
	bar.Finish(stats)

	return results
}

func (w *walker) walkDirectory(ctx context.Context, dir string, resultCh chan<- discovered) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		files, subdirs, err := listDirectory(dir, w.rootDev)
		<-w.sem

		if err != nil {
			w.sendError(err)
			return
		}

		for _, f := range files {
			select {
			case resultCh <- f:
			case <-ctx.Done():
				return
			}
		}

		for _, sub := range subdirs {
			w.walkDirectory(ctx, sub, resultCh)
		}
	}()
}

func (w *walker) sendError(err error) {
	if w.errCh != nil {
		w.errCh <- err
	}
}

func listDirectory(dirPath string, rootDev uint64) (files []discovered, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}
		for _, entry := range entries {
			fullPath := filepath.Join(dirPath, entry.Name())
			if entry.IsDir() {
				info, err := entry.Info()
				if err != nil {
					continue
				}
				if stat, ok := info.Sys().(*syscall.Stat_t); ok && uint64(stat.Dev) != rootDev { //nolint:unconvert
					continue
				}
				subdirs = append(subdirs, fullPath)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, newDiscovered(fullPath, info))
		}
	}
	return files, subdirs, nil
}

func newDiscovered(path string, info os.FileInfo) discovered {
	stat := info.Sys().(*syscall.Stat_t)
	return discovered{
		AbsPath: path,
		Size:    info.Size(),
		MTime:   info.ModTime(),
		Inode:   stat.Ino,
		Nlink:   uint32(stat.Nlink), //nolint:unconvert
	}
}
