// Package desiredstate holds the durable job_id -> (tenant, spec) mapping
// that the reconciler drives the pool toward.
package desiredstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coldstart-systems/coldstart/lib/spec"
	"github.com/coldstart-systems/coldstart/lib/sqlitepool"
)

// ErrStoreUnavailable wraps persistent-storage I/O errors; it bubbles up
// to the API per §7.
var ErrStoreUnavailable = errors.New("desiredstate: store unavailable")

const schema = `
CREATE TABLE IF NOT EXISTS desired_jobs (
  job_id      TEXT PRIMARY KEY,
  tenant      TEXT NOT NULL,
  spec_json   TEXT NOT NULL,
  inserted_at INTEGER NOT NULL
)`

// Entry is a single desired-state record.
type Entry struct {
	JobID  spec.JobId
	Tenant spec.Tenant
	Spec   spec.Spec
}

// Store is the single-writer desired state authority. The mutex plus
// SQLite's own WAL writer-serialization give single-writer semantics; the
// mutex additionally makes store operations atomic at the Go level.
type Store struct {
	mu   sync.Mutex
	pool *sqlitepool.Pool
	now  func() int64
}

// Open opens (creating if absent) the SQLite-backed desired state store
// at path and ensures its schema exists.
func Open(path string, now func() int64) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: path,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Store{pool: pool, now: now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Put is an UPSERT: it replaces any existing row for job_id and returns
// once the write is durable.
func (s *Store) Put(ctx context.Context, jobID spec.JobId, tenant spec.Tenant, sp spec.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	specJSON, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("desiredstate: marshal spec: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO desired_jobs (job_id, tenant, spec_json, inserted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET tenant = excluded.tenant,
		   spec_json = excluded.spec_json, inserted_at = excluded.inserted_at`,
		&sqlitex.ExecOptions{Args: []any{string(jobID), string(tenant), string(specJSON), s.now()}},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes job_id's row. Idempotent: deleting an unknown job_id is
// not an error.
func (s *Store) Delete(ctx context.Context, jobID spec.JobId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM desired_jobs WHERE job_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(jobID)}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns job_id's record, or ok=false on a miss.
func (s *Store) Get(ctx context.Context, jobID spec.JobId) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.pool.Put(conn)

	var found Entry
	var ok bool
	err = sqlitex.Execute(conn, `SELECT job_id, tenant, spec_json FROM desired_jobs WHERE job_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(jobID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var sp spec.Spec
				if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &sp); err != nil {
					return err
				}
				found = Entry{
					JobID:  spec.JobId(stmt.ColumnText(0)),
					Tenant: spec.Tenant(stmt.ColumnText(1)),
					Spec:   sp,
				}
				ok = true
				return nil
			},
		})
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return found, ok, nil
}

// TenantFor resolves job_id's tenant. Satisfies pool.TenantLookup so the
// Pool Manager's Attach can look up a job's tenant without importing this
// package directly.
func (s *Store) TenantFor(ctx context.Context, jobID spec.JobId) (spec.Tenant, bool, error) {
	entry, ok, err := s.Get(ctx, jobID)
	if err != nil {
		return "", false, err
	}
	return entry.Tenant, ok, nil
}

// List returns a snapshot of all records keyed by job_id.
func (s *Store) List(ctx context.Context) (map[spec.JobId]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.pool.Put(conn)

	out := make(map[spec.JobId]Entry)
	err = sqlitex.Execute(conn, `SELECT job_id, tenant, spec_json FROM desired_jobs`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var sp spec.Spec
				if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &sp); err != nil {
					return err
				}
				jobID := spec.JobId(stmt.ColumnText(0))
				out[jobID] = Entry{JobID: jobID, Tenant: spec.Tenant(stmt.ColumnText(1)), Spec: sp}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// DeleteAll wipes every row. Test support only; not exposed externally.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, `DELETE FROM desired_jobs`, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
