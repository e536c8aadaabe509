package levelstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sudo-init-do/channelhub/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store is a persistent embedded record store backed by LevelDB. Writes are
// serialised through a process-wide mutex so Update stays atomic per path.
type Store struct {
	db     *leveldb.DB
	mu     sync.Mutex
	broker *storage.Broker
}

// Open creates or opens a LevelDB database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db, broker: storage.NewBroker()}, nil
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	v, err := s.db.Get([]byte(path), nil)
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	b, err := storage.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put([]byte(path), b, nil); err != nil {
		return translate(err)
	}
	s.broker.Publish(storage.Event{Path: path, Value: b})
	return nil
}

func (s *Store) Update(_ context.Context, path string, patch storage.Patch) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.db.Get([]byte(path), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return translate(err)
	}
	next, err := storage.ApplyPatch(current, patch)
	if err != nil {
		return err
	}
	if err := s.db.Put([]byte(path), next, nil); err != nil {
		return translate(err)
	}
	s.broker.Publish(storage.Event{Path: path, Value: next})
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete([]byte(path), nil); err != nil {
		return translate(err)
	}
	s.broker.Publish(storage.Event{Path: path, Deleted: true})
	return nil
}

func (s *Store) List(_ context.Context, collection string) ([]storage.Record, error) {
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(collection+"/")), nil)
	defer iter.Release()

	var out []storage.Record
	for iter.Next() {
		path := string(iter.Key())
		if !storage.IsChild(collection, path) {
			continue
		}
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out = append(out, storage.Record{ID: path[len(collection)+1:], Path: path, Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) Push(ctx context.Context, collection string, value any) (string, error) {
	id := uuid.New().String()
	if err := s.Set(ctx, storage.Join(collection, id), value); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (<-chan storage.Event, error) {
	return s.broker.Subscribe(ctx, prefix)
}

// Close releases watchers and the database handle.
func (s *Store) Close() error {
	s.broker.Close()
	return s.db.Close()
}

func translate(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return storage.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	default:
		return err
	}
}
