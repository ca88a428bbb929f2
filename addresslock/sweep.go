package addresslock

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/KyberNetwork/logger"
	"github.com/spf13/afero"
)

type lockDir struct {
	fs  afero.Fs
	dir string
}

var registry struct {
	sync.Mutex
	dirs map[lockDir]struct{}
}

// register remembers dir so that Sweep can clean it up later.
func register(fs afero.Fs, dir string) {
	registry.Lock()
	defer registry.Unlock()
	if registry.dirs == nil {
		registry.dirs = make(map[lockDir]struct{})
	}
	registry.dirs[lockDir{fs: fs, dir: dir}] = struct{}{}
}

// Sweep removes every marker owned by the current process in all directories
// any FileLocks of this process has locked in. It returns the number of
// markers removed.
//
// Ownership is decided by the pid prefix of the marker content. A restarted
// process that got the same pid would have its markers swept too; callers
// that cannot accept this should rely on expiry instead.
func Sweep() int {
	registry.Lock()
	dirs := make([]lockDir, 0, len(registry.dirs))
	for d := range registry.dirs {
		dirs = append(dirs, d)
	}
	registry.Unlock()

	prefix := ownerPrefix()
	removed := 0
	for _, d := range dirs {
		removed += sweepDir(d.fs, d.dir, prefix)
	}
	return removed
}

func sweepDir(fs afero.Fs, dir, prefix string) int {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		logger.WithFields(logger.Fields{
			"dir":   dir,
			"error": err,
		}).Error("failed to read lock directory during sweep")
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), markerSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := afero.ReadFile(fs, path)
		if err != nil || !strings.HasPrefix(string(content), prefix) {
			continue
		}
		logger.WithFields(logger.Fields{
			"marker":  path,
			"lock_id": string(content),
		}).Warn("deleting leftover lock file")
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.WithFields(logger.Fields{
				"marker": path,
				"error":  err,
			}).Error("failed to delete leftover lock file")
			continue
		}
		removed++
	}
	return removed
}

// SweepOnSignal sweeps this process's markers when SIGINT or SIGTERM arrives
// and then re-raises the signal with the default handler restored. The hook
// is removed when ctx is done.
func SweepOnSignal(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			n := Sweep()
			logger.WithFields(logger.Fields{
				"signal":  sig.String(),
				"removed": n,
			}).Info("swept lock files on signal")
			signal.Stop(signals)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-ctx.Done():
		}
	}()
}
