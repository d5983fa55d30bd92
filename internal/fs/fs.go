// Package fs provides the filesystem abstraction used by the on-disk
// key-value backends.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the backends need
//   - [Real]: production implementation using [os] and atomic renames
//   - [Locker]: flock(2) based exclusive locks on a lock file
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// [File.Fd] must return a valid OS file descriptor usable with flock until the
// file is closed. This interface is satisfied by [os.File].
type File interface {
	io.ReadWriteCloser

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations used by the directory backend.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data so that readers observe either
	// the old or the new content, never a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir reads the named directory. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove removes the named file. See [os.Remove].
	Remove(path string) error
}

var _ File = (*os.File)(nil)
