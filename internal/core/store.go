package core

// store.go owns every session.
//
// Each session carries two single-slot semaphores. lock is the execution
// lock: edits and instruction commits hold it while they read the current
// table and install a new one, so at most one mutation per session is in
// flight. queue orders instructions: an instruction holds it from
// submission to completion so two instructions on one session never
// interleave, while edits still slip in during translation.
//
// Tables are immutable once committed. Readers copy the current pointer
// under a read lock and never observe a half-applied change.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// DefaultLockWait bounds how long a mutation waits for the session lock.
const DefaultLockWait = 5 * time.Second

// Snapshot is a consistent view of a session at one revision.
type Snapshot struct {
	ID       string
	FileName string
	Table    *sheet.Table
	Revision int64
	// ShapeRevision is the revision of the last commit that changed the
	// row count or the columns.
	ShapeRevision int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Change is what a WithLock callback asks to commit.
type Change struct {
	Table   *sheet.Table
	Kind    ChangeKind
	Summary string
}

type session struct {
	id        string
	fileName  string
	createdAt time.Time

	lock  chan struct{}
	queue chan struct{}

	mu            sync.RWMutex
	table         *sheet.Table
	revision      int64
	shapeRevision int64
	updatedAt     time.Time
	expired       bool

	lastUsed atomic.Int64 // unix nanos
	history  *history
}

func (s *session) snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expired {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	return Snapshot{
		ID:            s.id,
		FileName:      s.fileName,
		Table:         s.table,
		Revision:      s.revision,
		ShapeRevision: s.shapeRevision,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}, nil
}

func (s *session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

// acquire takes a single-slot semaphore, giving up after wait (when
// positive) or when ctx ends.
func acquire(ctx context.Context, sem chan struct{}, wait time.Duration) error {
	select {
	case sem <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrLockTimeout
	}
}

// Store maps session ids to sessions. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	lockWait     time.Duration
	historyLimit int
	now          func() time.Time
}

// NewStore creates an empty store. lockWait bounds WithLock's wait for a
// busy session; historyLimit bounds per-session history.
func NewStore(lockWait time.Duration, historyLimit int) *Store {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Store{
		sessions:     make(map[string]*session),
		lockWait:     lockWait,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Create stores t as a new session at revision 0.
func (st *Store) Create(t *sheet.Table, fileName string) Snapshot {
	now := st.now()
	sess := &session{
		id:        uuid.New().String(),
		fileName:  fileName,
		createdAt: now,
		lock:      make(chan struct{}, 1),
		queue:     make(chan struct{}, 1),
		table:     t,
		updatedAt: now,
		history:   newHistory(st.historyLimit),
	}
	sess.touch(now)

	st.mu.Lock()
	st.sessions[sess.id] = sess
	st.mu.Unlock()

	snap, _ := sess.snapshot()
	return snap
}

func (st *Store) lookup(id string) (*session, error) {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Get returns the current snapshot of a session.
func (st *Store) Get(id string) (Snapshot, error) {
	sess, err := st.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	sess.touch(st.now())
	return sess.snapshot()
}

// WithLock runs fn under the session's execution lock. When fn returns a
// Change with a table, that table is committed and the revision bumped
// once; a nil Change commits nothing. The lock is released on every exit
// path, including a panic in fn. If the session expires while fn runs, the
// change is discarded and ErrSessionNotFound returned.
//
// The returned snapshot reflects the session after the call.
func (st *Store) WithLock(ctx context.Context, id string, fn func(Snapshot) (*Change, error)) (Snapshot, error) {
	sess, err := st.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	if err := acquire(ctx, sess.lock, st.lockWait); err != nil {
		return Snapshot{}, fmt.Errorf("session %s: %w", id, err)
	}
	defer func() { <-sess.lock }()

	sess.touch(st.now())
	cur, err := sess.snapshot()
	if err != nil {
		return Snapshot{}, err
	}

	change, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if change == nil || change.Table == nil {
		return cur, nil
	}
	return st.commit(sess, cur, change)
}

func (st *Store) commit(sess *session, prev Snapshot, change *Change) (Snapshot, error) {
	now := st.now()

	sess.mu.Lock()
	if sess.expired {
		sess.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s expired before commit", ErrSessionNotFound, sess.id)
	}
	structural := !prev.Table.SameShape(change.Table)
	sess.table = change.Table
	sess.revision++
	if structural {
		sess.shapeRevision = sess.revision
	}
	sess.updatedAt = now
	rev := sess.revision
	sess.mu.Unlock()

	sess.touch(now)
	sess.history.add(HistoryEntry{
		Revision:   rev,
		Kind:       change.Kind,
		Summary:    change.Summary,
		Structural: structural,
		Rows:       change.Table.NumRows(),
		Columns:    change.Table.NumColumns(),
		At:         now,
	})
	return sess.snapshot()
}

// Enqueue takes the session's instruction slot, waiting as long as ctx
// allows. The returned release func must be called exactly once.
func (st *Store) Enqueue(ctx context.Context, id string) (release func(), err error) {
	sess, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := acquire(ctx, sess.queue, 0); err != nil {
		return nil, err
	}

	var once sync.Once
	release = func() { once.Do(func() { <-sess.queue }) }

	if _, err := sess.snapshot(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// History returns the commit log of a session, newest first.
func (st *Store) History(id string) ([]HistoryEntry, error) {
	sess, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	if _, err := sess.snapshot(); err != nil {
		return nil, err
	}
	return sess.history.list(), nil
}

// Expire removes a session. Expiring an unknown session is a no-op.
// Operations already holding the session's lock finish, and their result
// is discarded.
func (st *Store) Expire(id string) bool {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.expired = true
	sess.table = nil
	sess.mu.Unlock()
	return true
}

// Sweep expires sessions idle for longer than ttl and returns their ids.
// Sessions with a mutation in flight are skipped.
func (st *Store) Sweep(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := st.now().Add(-ttl).UnixNano()

	st.mu.RLock()
	var stale []string
	for id, sess := range st.sessions {
		if sess.lastUsed.Load() < cutoff && len(sess.lock) == 0 && len(sess.queue) == 0 {
			stale = append(stale, id)
		}
	}
	st.mu.RUnlock()

	expired := stale[:0]
	for _, id := range stale {
		if st.Expire(id) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
