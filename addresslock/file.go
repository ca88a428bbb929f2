package addresslock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/afero"
)

const markerSuffix = ".lock"

// FileLocks is a Locker backed by marker files in Dir. Exclusive creation of
// the marker is the only atomic primitive it relies on; the marker's mtime is
// the only expiry signal.
type FileLocks struct {
	Dir string
	Fs  afero.Fs

	// WaitTimeout bounds a single Lock call.
	WaitTimeout time.Duration
	// Expiration is the age after which a marker is considered left behind
	// by a crashed holder and may be deleted by anyone.
	Expiration time.Duration
	// Settle is the pause after deleting an expired marker. Must be > 0.
	Settle time.Duration
	// PollInterval is the retry interval while the marker exists.
	PollInterval time.Duration
}

// FileOption configures a FileLocks.
type FileOption func(*FileLocks)

// WithFs replaces the OS filesystem, mostly for tests.
func WithFs(fs afero.Fs) FileOption {
	return func(f *FileLocks) {
		f.Fs = fs
	}
}

// WithSettle sets the pause after an expired marker was deleted.
func WithSettle(d time.Duration) FileOption {
	return func(f *FileLocks) {
		f.Settle = d
	}
}

// WithPollInterval sets the retry interval while an address is busy.
func WithPollInterval(d time.Duration) FileOption {
	return func(f *FileLocks) {
		f.PollInterval = d
	}
}

// NewFileLocks creates a file backed locker writing markers to dir.
func NewFileLocks(dir string, waitTimeout, expiration time.Duration, opts ...FileOption) *FileLocks {
	f := &FileLocks{
		Dir:          dir,
		Fs:           afero.NewOsFs(),
		WaitTimeout:  waitTimeout,
		Expiration:   expiration,
		Settle:       DefaultSettle,
		PollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FileLocks) fs() afero.Fs {
	if f.Fs == nil {
		f.Fs = afero.NewOsFs()
	}
	return f.Fs
}

// MarkerPath returns the marker file used for addr.
func (f *FileLocks) MarkerPath(addr common.Address) string {
	return filepath.Join(f.Dir, addr.Hex()+markerSuffix)
}

func (f *FileLocks) prepare() error {
	if f.Settle <= 0 {
		return fmt.Errorf("file lock settle window must be positive, got %s", f.Settle)
	}
	if err := f.fs().MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", f.Dir, err)
	}
	register(f.fs(), f.Dir)
	return nil
}

func (f *FileLocks) create(path, id string) error {
	file, err := f.fs().OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := file.WriteString(id)
	cerr := file.Close()
	if werr != nil || cerr != nil {
		_ = f.fs().Remove(path)
		return errors.Join(werr, cerr)
	}
	return nil
}

// reclaimExpired deletes the marker at path if it is older than Expiration.
// Another process may do the same at the same moment, so callers must
// settle afterwards.
func (f *FileLocks) reclaimExpired(path string, addr common.Address) bool {
	info, err := f.fs().Stat(path)
	if err != nil {
		return false
	}
	age := time.Since(info.ModTime())
	if age <= f.Expiration {
		return false
	}
	logger.WithFields(logger.Fields{
		"wallet": addr.Hex(),
		"marker": path,
		"age":    age.String(),
	}).Warn("deleting expired lock file")
	if err := f.fs().Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFields(logger.Fields{
			"marker": path,
			"error":  err,
		}).Error("failed to delete expired lock file")
	}
	return true
}

// Lock creates the marker for addr, retrying until WaitTimeout elapses.
func (f *FileLocks) Lock(ctx context.Context, addr common.Address) (Lock, error) {
	if err := f.prepare(); err != nil {
		return Lock{}, err
	}
	poll := f.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	path := f.MarkerPath(addr)
	id := nextLockID()
	start := time.Now()
	for time.Since(start) < f.WaitTimeout {
		err := f.create(path, id)
		if err == nil {
			logger.WithFields(logger.Fields{
				"wallet":  addr.Hex(),
				"lock_id": id,
				"waited":  time.Since(start).String(),
			}).Debug("file lock acquired")
			return Lock{Address: addr, ID: id}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			logger.WithFields(logger.Fields{
				"marker": path,
				"error":  err,
			}).Debug("lock file creation failed")
		}
		if f.reclaimExpired(path, addr) {
			if err := sleepCtx(ctx, f.Settle); err != nil {
				return Lock{}, err
			}
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return Lock{}, err
		}
	}
	return Lock{}, timeoutError(addr, time.Since(start))
}

// Release deletes the marker only when it still carries lock.ID.
func (f *FileLocks) Release(lock Lock) error {
	path := f.MarkerPath(lock.Address)
	content, err := afero.ReadFile(f.fs(), path)
	if os.IsNotExist(err) {
		return ErrLockLost
	}
	if err != nil {
		return fmt.Errorf("reading lock file %s: %w", path, err)
	}
	if string(content) != lock.ID {
		return ErrLockLost
	}
	if err := f.fs().Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file %s: %w", path, err)
	}
	return nil
}

// Marker describes one lock file found in the directory.
type Marker struct {
	Address common.Address
	Owner   string
	ModTime time.Time
}

// Expired reports whether the marker is older than expiration.
func (m Marker) Expired(expiration time.Duration) bool {
	return time.Since(m.ModTime) > expiration
}

// List returns every marker currently present in Dir.
func (f *FileLocks) List() ([]Marker, error) {
	entries, err := afero.ReadDir(f.fs(), f.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var markers []Marker
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, markerSuffix) {
			continue
		}
		hex := strings.TrimSuffix(name, markerSuffix)
		if !common.IsHexAddress(hex) {
			continue
		}
		content, err := afero.ReadFile(f.fs(), filepath.Join(f.Dir, name))
		if err != nil {
			// released while listing
			continue
		}
		markers = append(markers, Marker{
			Address: common.HexToAddress(hex),
			Owner:   string(content),
			ModTime: entry.ModTime(),
		})
	}
	return markers, nil
}

// RemoveExpired deletes markers older than Expiration and returns how many
// were removed.
func (f *FileLocks) RemoveExpired() (int, error) {
	markers, err := f.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range markers {
		if !m.Expired(f.Expiration) {
			continue
		}
		if f.reclaimExpired(f.MarkerPath(m.Address), m.Address) {
			removed++
		}
	}
	return removed, nil
}
