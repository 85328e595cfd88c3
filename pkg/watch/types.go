package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// EntryKind distinguishes watched files from watched directories.
type EntryKind int

const (
	File EntryKind = iota
	Directory
)

func (k EntryKind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// RootState tracks a root from the AddRoot call to the end of its walk.
type RootState int

const (
	Requested RootState = iota
	Walking
	Active
)

func (s RootState) String() string {
	switch s {
	case Requested:
		return "requested"
	case Walking:
		return "walking"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Root is a path handed to AddRoot.
type Root struct {
	Path      string
	Recursive bool
	State     RootState
}

// Entry is one watched file or directory. The tree holds exactly one entry
// per canonical path.
type Entry struct {
	LogicalPath   string
	CanonicalPath string
	Kind          EntryKind
	Recursive     bool
}

// Change is a single observed filesystem change.
type Change struct {
	Path string
	Op   fsnotify.Op
	Kind EntryKind
	Time time.Time

	// Synthetic marks changes for files found while walking a directory
	// that appeared after watching started.
	Synthetic bool
}

// Backend is the native change-subscription capability. A subscription is
// identified by the path it was added with.
type Backend interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsnotifyBackend struct {
	watcher *fsnotify.Watcher
}

// NewFSNotifyBackend returns a Backend over a fresh fsnotify watcher.
func NewFSNotifyBackend() (Backend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyBackend{watcher: watcher}, nil
}

func (b *fsnotifyBackend) Add(path string) error         { return b.watcher.Add(path) }
func (b *fsnotifyBackend) Remove(path string) error      { return b.watcher.Remove(path) }
func (b *fsnotifyBackend) Events() <-chan fsnotify.Event { return b.watcher.Events }
func (b *fsnotifyBackend) Errors() <-chan error          { return b.watcher.Errors }
func (b *fsnotifyBackend) Close() error                  { return b.watcher.Close() }
