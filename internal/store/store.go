// Package store provides persistence for Chrona tasks.
//
// Keys follow the convention "/Task/{id}". Watchers subscribe by key
// prefix, which is how the dispatcher learns about newly submitted tasks
// and how the API server streams state changes to callers.
package store

import (
	"fmt"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// Store is the persistence interface for tasks.
type Store interface {
	// Create stores a new task at the given key.
	// Returns ErrAlreadyExists if the key is taken.
	Create(key string, task *v1alpha1.Task) error

	// Get retrieves the task stored at key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) (*v1alpha1.Task, error)

	// Update replaces the task at the given key.
	// Returns ErrNotFound if the key does not exist.
	Update(key string, task *v1alpha1.Task) error

	// Delete removes the task at the given key.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns every task whose key starts with prefix.
	List(prefix string) ([]*v1alpha1.Task, error)

	// Watch returns a channel that emits events for every mutation whose key
	// starts with prefix. The returned cancel function removes the watcher
	// and closes the channel.
	Watch(prefix string) (<-chan v1alpha1.WatchEvent, func())

	// Close releases any resources held by the store (e.g. BoltDB file handle).
	Close() error
}

// Common sentinel errors.
var (
	ErrAlreadyExists = fmt.Errorf("key already exists")
	ErrNotFound      = fmt.Errorf("key not found")
)

// TaskPrefix is the key prefix under which all tasks live.
const TaskPrefix = "/" + v1alpha1.KindTask + "/"

// TaskKey builds the canonical store key for a task id.
//
//	TaskKey("4f8b...") => "/Task/4f8b..."
func TaskKey(id string) string {
	return TaskPrefix + id
}
