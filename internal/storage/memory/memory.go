package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sudo-init-do/channelhub/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store is an in-process record store used for tests and local development.
type Store struct {
	mu      sync.Mutex
	records map[string][]byte
	broker  *storage.Broker
	closed  bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: map[string][]byte{},
		broker:  storage.NewBroker(),
	}
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}
	v, ok := s.records[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
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
	if s.closed {
		return storage.ErrUnavailable
	}
	s.records[path] = b
	s.broker.Publish(storage.Event{Path: path, Value: clone(b)})
	return nil
}

func (s *Store) Update(_ context.Context, path string, patch storage.Patch) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}
	next, err := storage.ApplyPatch(s.records[path], patch)
	if err != nil {
		return err
	}
	s.records[path] = next
	s.broker.Publish(storage.Event{Path: path, Value: clone(next)})
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrUnavailable
	}
	if _, ok := s.records[path]; !ok {
		return nil
	}
	delete(s.records, path)
	s.broker.Publish(storage.Event{Path: path, Deleted: true})
	return nil
}

func (s *Store) List(_ context.Context, collection string) ([]storage.Record, error) {
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrUnavailable
	}
	var out []storage.Record
	for path, v := range s.records {
		if !storage.IsChild(collection, path) {
			continue
		}
		out = append(out, storage.Record{ID: path[len(collection)+1:], Path: path, Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
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

// Close drops all watchers; later calls fail with storage.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.broker.Close()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
