package transfer

import (
	"fmt"
	"path"
	"time"
)

// Task is one (session index, file) pair that has failed at least once.
// Attempts counts every failed attempt so far, the initial one included.
type Task struct {
	Index         int
	File          string
	Attempts      int
	LastErr       error
	NextAttemptAt time.Time
}

// NewFailedTask builds the task for an (index, file) pair whose first attempt failed.
func NewFailedTask(index int, file string, err error) *Task {
	return &Task{Index: index, File: file, Attempts: 1, LastErr: err}
}

// Key returns the artifact key "<index>/<file>".
func (t *Task) Key() string {
	return ArtifactKey(t.Index, t.File)
}

func (t *Task) String() string {
	return fmt.Sprintf("%d/%s (attempts=%d)", t.Index, t.File, t.Attempts)
}

// ArtifactKey is the storage key of a session file, relative to the download root.
func ArtifactKey(index int, file string) string {
	return path.Join(fmt.Sprint(index), file)
}
