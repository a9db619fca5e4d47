package store

import (
	"encoding/json"
	"strings"
	"sync"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// watcher is an internal subscription to store mutations.
type watcher struct {
	prefix string
	ch     chan v1alpha1.WatchEvent
}

// MemoryStore is a thread-safe, in-memory Store backed by a simple map.
// Useful for unit tests and for running the agent without durability.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte // key -> JSON bytes
	watchers []*watcher
}

// NewMemoryStore creates a ready-to-use in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// ---------- CRUD ----------

func (m *MemoryStore) Create(key string, task *v1alpha1.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return ErrAlreadyExists
	}
	m.data[key] = raw

	m.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventAdded,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: task,
	})
	return nil
}

func (m *MemoryStore) Get(key string) (*v1alpha1.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	var task v1alpha1.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (m *MemoryStore) Update(key string, task *v1alpha1.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}
	m.data[key] = raw

	m.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventModified,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: task,
	})
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, exists := m.data[key]
	if !exists {
		return ErrNotFound
	}
	delete(m.data, key)

	// Deserialise the old value so watchers receive the deleted task.
	var task v1alpha1.Task
	_ = json.Unmarshal(raw, &task)

	m.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventDeleted,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: &task,
	})
	return nil
}

// ---------- List ----------

func (m *MemoryStore) List(prefix string) ([]*v1alpha1.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*v1alpha1.Task
	for k, raw := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var task v1alpha1.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, err
		}
		results = append(results, &task)
	}
	return results, nil
}

// ---------- Watch ----------

func (m *MemoryStore) Watch(prefix string) (<-chan v1alpha1.WatchEvent, func()) {
	w := &watcher{
		prefix: prefix,
		ch:     make(chan v1alpha1.WatchEvent, 64),
	}

	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, existing := range m.watchers {
			if existing == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				close(w.ch)
				return
			}
		}
	}

	return w.ch, cancel
}

// ---------- Close ----------

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.watchers {
		close(w.ch)
	}
	m.watchers = nil
	m.data = make(map[string][]byte)
	return nil
}

// ---------- internal ----------

// notify sends the event to every watcher whose prefix matches.
// Callers hold m.mu.
func (m *MemoryStore) notify(evt v1alpha1.WatchEvent) {
	for _, w := range m.watchers {
		if strings.HasPrefix(evt.Key, w.prefix) {
			select {
			case w.ch <- evt:
			default:
				// Drop event if the watcher is not consuming fast enough.
			}
		}
	}
}
