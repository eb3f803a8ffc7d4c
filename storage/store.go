// Package storage caches compiled models in a bbolt file, so that
// repeatedly invoked sources are deserialized once. Only compiled
// models are stored; session state is never persisted.
package storage

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/BWeng20/ruFSM/executor"
	"github.com/BWeng20/ruFSM/fsm"
	"github.com/BWeng20/ruFSM/serializer"
)

var modelsBucket = []byte("models")

// FsmCache stores rfsm-serialized models keyed by source name.
type FsmCache struct {
	db *bolt.DB
}

// Open creates or opens a cache file.
func Open(path string) (*FsmCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &FsmCache{db: db}, nil
}

func (c *FsmCache) Close() error { return c.db.Close() }

// Put serializes and stores a model.
func (c *FsmCache) Put(name string, f *fsm.Fsm) error {
	var buf bytes.Buffer
	if err := serializer.Write(f, &buf); err != nil {
		return fmt.Errorf("serializing '%s': %w", name, err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Put([]byte(name), buf.Bytes())
	})
}

// Get loads a cached model; ok is false on a miss.
func (c *FsmCache) Get(name string) (*fsm.Fsm, bool, error) {
	var blob []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(modelsBucket).Get([]byte(name)); v != nil {
			blob = append(blob, v...)
		}
		return nil
	})
	if err != nil || blob == nil {
		return nil, false, err
	}
	f, err := serializer.Read(bytes.NewReader(blob))
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Delete removes a cached model.
func (c *FsmCache) Delete(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Delete([]byte(name))
	})
}

// CachingLoader wraps a loader with the cache.
type CachingLoader struct {
	cache *FsmCache
	next  executor.Loader
}

func NewCachingLoader(cache *FsmCache, next executor.Loader) *CachingLoader {
	return &CachingLoader{cache: cache, next: next}
}

func (l *CachingLoader) Load(source string, includePaths []string) (*fsm.Fsm, error) {
	if f, hit, err := l.cache.Get(source); err == nil && hit {
		return f, nil
	}
	f, err := l.next.Load(source, includePaths)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Put(source, f); err != nil {
		return nil, err
	}
	return f, nil
}
