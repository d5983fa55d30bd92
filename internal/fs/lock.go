package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned when another process holds the lock: immediately
// by [Locker.TryLock], or once the context is done for [Locker.Lock].
var ErrWouldBlock = errors.New("lock would block")

// errReplaced means the lock file at path is no longer the inode we locked.
var errReplaced = errors.New("lock file replaced")

// Locker hands out exclusive flock(2) locks on lock files. flock is advisory
// and binds to an inode, so a lock file must never be replaced or unlinked
// while it may be held. Unix only.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker over fsys.
func NewLocker(fsys FS) *Locker {
	return &Locker{fs: fsys, flock: unix.Flock}
}

// Lock is a held file lock.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock. Safe to call more than once.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := retryEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close lock file: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock takes the lock at path or fails with [ErrWouldBlock] right away.
func (l *Locker) TryLock(path string) (*Lock, error) {
	for {
		lk, err := l.attempt(path)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// Lock takes the lock at path, polling with backoff (1ms doubling to 25ms)
// until it is free or ctx is done. A done ctx yields an error wrapping both
// [ErrWouldBlock] and the context error.
func (l *Locker) Lock(ctx context.Context, path string) (*Lock, error) {
	backoff := time.Millisecond

	for {
		lk, err := l.attempt(path)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errReplaced) {
			return nil, err
		}

		timer := time.NewTimer(backoff)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("%w: %w", ErrWouldBlock, context.Cause(ctx))
		case <-timer.C:
		}

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

func (l *Locker) attempt(path string) (*Lock, error) {
	file, err := l.open(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(file.Fd())

	err = retryEINTR(l.flock, fd, unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	// The file may have been swapped between open and flock.
	same, err := l.samePath(file, path)
	if err != nil || !same {
		_ = retryEINTR(l.flock, fd, unix.LOCK_UN)
		_ = file.Close()

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("check lock file: %w", err)
		}

		return nil, errReplaced
	}

	return &Lock{file: file, flock: l.flock}, nil
}

func (l *Locker) open(path string) (File, error) {
	const flags = os.O_RDWR | os.O_CREATE

	f, err := l.fs.OpenFile(path, flags, 0o600)
	if !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = l.fs.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flags, 0o600)
}

// samePath reports whether f and the file now at path share device and inode.
func (l *Locker) samePath(f File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}

	current, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	a, okA := held.Sys().(*syscall.Stat_t)
	b, okB := current.Sys().(*syscall.Stat_t)

	if !okA || !okB {
		return false, fmt.Errorf("stat: unexpected %T / %T", held.Sys(), current.Sys())
	}

	return a.Dev == b.Dev && a.Ino == b.Ino, nil
}

func retryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	var err error

	for range 10000 {
		err = flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
