package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// FileLocker implements Locker with an flock(2) on a local file. It only
// serializes processes on one host; the ttl is ignored because the kernel
// drops the lock when the holder exits.
type FileLocker struct {
	path string
}

func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

func (l *FileLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fileLease{fl: fl}, nil
}

type fileLease struct {
	fl *flock.Flock
}

// Extend is a no-op; flock leases do not expire.
func (f fileLease) Extend(context.Context, time.Duration) error {
	return nil
}

func (f fileLease) Release(context.Context) error {
	if err := f.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
