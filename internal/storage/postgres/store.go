package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/channelhub/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

const notifyChannel = "record_changes"

// Store provides Postgres-backed record persistence. Every record is one
// JSONB row keyed by its path; a trigger publishes changes for Watch.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects, pings, and ensures the schema exists.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			path TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection ON records (collection);`,
		`CREATE OR REPLACE FUNCTION notify_record_change() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify('` + notifyChannel + `', 'D' || OLD.path);
				RETURN OLD;
			END IF;
			PERFORM pg_notify('` + notifyChannel + `', 'U' || NEW.path);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS records_notify ON records;`,
		`CREATE TRIGGER records_notify AFTER INSERT OR UPDATE OR DELETE ON records
			FOR EACH ROW EXECUTE FUNCTION notify_record_change();`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return translate(s.pool.Ping(ctx))
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM records WHERE path = $1`, path).Scan(&value)
	if err != nil {
		return nil, translate(err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	b, err := storage.Encode(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO records (path, collection, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		path, collectionOf(path), b,
	)
	return translate(err)
}

// Update locks the row, applies the patch, and writes it back in one
// transaction so concurrent increments on the same path never interleave.
func (s *Store) Update(ctx context.Context, path string, patch storage.Patch) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	for attempt := 0; attempt < 2; attempt++ {
		done, err := s.updateOnce(ctx, path, patch)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("%w: concurrent create of %s", storage.ErrUnavailable, path)
}

func (s *Store) updateOnce(ctx context.Context, path string, patch storage.Patch) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, translate(err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT value FROM records WHERE path = $1 FOR UPDATE`, path).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, translate(err)
	}

	next, err := storage.ApplyPatch(current, patch)
	if err != nil {
		return false, err
	}

	if exists {
		if _, err := tx.Exec(ctx,
			`UPDATE records SET value = $2, updated_at = NOW() WHERE path = $1`, path, next,
		); err != nil {
			return false, translate(err)
		}
	} else {
		// Another writer may create the row between our SELECT and INSERT;
		// in that case nothing is inserted and the caller retries under the row lock.
		ct, err := tx.Exec(ctx, `
			INSERT INTO records (path, collection, value, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (path) DO NOTHING`,
			path, collectionOf(path), next,
		)
		if err != nil {
			return false, translate(err)
		}
		if ct.RowsAffected() == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, translate(err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM records WHERE path = $1`, path)
	return translate(err)
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Record, error) {
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT path, value FROM records WHERE collection = $1 ORDER BY path`, collection)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.Path, &r.Value); err != nil {
			return nil, translate(err)
		}
		r.ID = r.Path[len(collection)+1:]
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
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

// Watch holds one pooled connection in LISTEN mode for the lifetime of ctx.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan storage.Event, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, translate(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, translate(err)
	}

	out := make(chan storage.Event, 64)
	go func() {
		defer close(out)
		defer func() {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel)
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			if len(n.Payload) < 2 {
				continue
			}
			op, path := n.Payload[:1], n.Payload[1:]
			if !storage.Matches(prefix, path) {
				continue
			}
			evt := storage.Event{Path: path, Deleted: op == "D"}
			if !evt.Deleted {
				v, err := s.Get(ctx, path)
				switch {
				case errors.Is(err, storage.ErrNotFound):
					evt.Deleted = true
				case err != nil:
					continue
				default:
					evt.Value = v
				}
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collectionOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// translate maps driver errors onto the storage error taxonomy. Server-side
// SQL errors pass through; connection-level failures become ErrUnavailable.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}
