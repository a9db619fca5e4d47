package store

import (
	"encoding/json"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

var bucketName = []byte("tasks")

// BoltStore persists tasks to a BoltDB file on disk, so conversation
// history survives agent restarts.
type BoltStore struct {
	db       *bolt.DB
	mu       sync.RWMutex   // protects watchers slice only
	watchers []*boltWatcher // in-memory watchers; same pattern as MemoryStore
}

type boltWatcher struct {
	prefix string
	ch     chan v1alpha1.WatchEvent
}

// NewBoltStore opens (or creates) a BoltDB database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	// Ensure the bucket exists.
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// ---------- CRUD ----------

func (b *BoltStore) Create(key string, task *v1alpha1.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get([]byte(key)) != nil {
			return ErrAlreadyExists
		}
		return bkt.Put([]byte(key), raw)
	})
	if err != nil {
		return err
	}

	b.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventAdded,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: task,
	})
	return nil
}

func (b *BoltStore) Get(key string) (*v1alpha1.Task, error) {
	var task v1alpha1.Task
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		raw := bkt.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *BoltStore) Update(key string, task *v1alpha1.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bkt.Put([]byte(key), raw)
	})
	if err != nil {
		return err
	}

	b.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventModified,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: task,
	})
	return nil
}

func (b *BoltStore) Delete(key string) error {
	var task v1alpha1.Task

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		raw := bkt.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		// Capture the task before deletion so watchers receive it.
		_ = json.Unmarshal(raw, &task)
		return bkt.Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	b.notify(v1alpha1.WatchEvent{
		Type:   v1alpha1.EventDeleted,
		Kind:   v1alpha1.KindTask,
		Key:    key,
		Object: &task,
	})
	return nil
}

// ---------- List ----------

func (b *BoltStore) List(prefix string) ([]*v1alpha1.Task, error) {
	var results []*v1alpha1.Task

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		c := bkt.Cursor()
		pfx := []byte(prefix)

		for k, v := c.Seek(pfx); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var task v1alpha1.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			results = append(results, &task)
		}
		return nil
	})
	return results, err
}

// ---------- Watch ----------

func (b *BoltStore) Watch(prefix string) (<-chan v1alpha1.WatchEvent, func()) {
	w := &boltWatcher{
		prefix: prefix,
		ch:     make(chan v1alpha1.WatchEvent, 64),
	}

	b.mu.Lock()
	b.watchers = append(b.watchers, w)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.watchers {
			if existing == w {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				close(w.ch)
				return
			}
		}
	}

	return w.ch, cancel
}

// ---------- Close ----------

func (b *BoltStore) Close() error {
	b.mu.Lock()
	for _, w := range b.watchers {
		close(w.ch)
	}
	b.watchers = nil
	b.mu.Unlock()

	return b.db.Close()
}

// ---------- internal ----------

func (b *BoltStore) notify(evt v1alpha1.WatchEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, w := range b.watchers {
		if strings.HasPrefix(evt.Key, w.prefix) {
			select {
			case w.ch <- evt:
			default:
				// Drop event if the watcher is not consuming fast enough.
			}
		}
	}
}
