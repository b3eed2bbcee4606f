package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/pkg/distlock"
)

const (
	sessionLockPrefix = "import-session:"
	lockPollInterval  = 25 * time.Millisecond
)

// Manager owns sessions by id. Transitions on one id are serialized; analysis
// runs on a snapshot outside the lock and is discarded with ErrStale if the
// session was reset or replaced meanwhile. Without a Locker the guarantee only
// holds within one process.
type Manager struct {
	store    Store
	pipeline *Pipeline
	locks    keyedMutex
	locker   *distlock.Locker
	logger   *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLocker makes transitions also take a shared per-session lock, for
// deployments where several instances serve the same session store.
func WithLocker(l *distlock.Locker) ManagerOption {
	return func(m *Manager) { m.locker = l }
}

func NewManager(store Store, pipeline *Pipeline, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, pipeline: pipeline, logger: logger.Named("session")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) (Session, error) {
	s := New(uuid.NewString())
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// update applies fn to the stored session under the per-id lock and stores
// the result when fn succeeds.
func (m *Manager) update(ctx context.Context, id string, fn func(Session) (Session, error)) (Session, error) {
	var out Session
	err := m.exclusive(ctx, id, func(ctx context.Context) error {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		out = cur
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := m.store.Put(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// exclusive runs fn holding the in-process lock on id and, with a Locker,
// the shared lock for the same session.
func (m *Manager) exclusive(ctx context.Context, id string, fn func(context.Context) error) error {
	unlock := m.locks.lock(id)
	defer unlock()
	if m.locker == nil {
		return fn(ctx)
	}
	return m.locker.Wait(ctx, sessionLockPrefix+id, lockPollInterval, fn)
}

// Upload parses data and analyzes it.
func (m *Manager) Upload(ctx context.Context, id string, data []byte, fileName, languageHint string) (Session, error) {
	snap, err := m.update(ctx, id, func(s Session) (Session, error) {
		return m.pipeline.Upload(ctx, s, data, fileName)
	})
	if err != nil {
		return snap, err
	}
	return m.analyze(ctx, snap, languageHint)
}

// EnterEdit switches to manual grid entry.
func (m *Manager) EnterEdit(ctx context.Context, id string) (Session, error) {
	return m.update(ctx, id, Session.EnterEdit)
}

// SubmitGrid takes manually entered cells and analyzes them.
func (m *Manager) SubmitGrid(ctx context.Context, id string, headers []string, rows [][]string, languageHint string) (Session, error) {
	snap, err := m.update(ctx, id, func(s Session) (Session, error) {
		return m.pipeline.SubmitGrid(ctx, s, headers, rows)
	})
	if err != nil {
		return snap, err
	}
	return m.analyze(ctx, snap, languageHint)
}

func (m *Manager) analyze(ctx context.Context, snap Session, languageHint string) (Session, error) {
	result, analyzeErr := m.pipeline.Analyze(ctx, snap, languageHint)

	var out Session
	err := m.exclusive(ctx, snap.ID, func(ctx context.Context) error {
		cur, err := m.store.Get(ctx, snap.ID)
		if err != nil {
			return err
		}
		out = cur
		if cur.Generation != snap.Generation || cur.State != StateAnalyzing {
			m.logger.Info("dropping stale analysis",
				zap.String("session_id", snap.ID),
				zap.Int("generation", snap.Generation),
				zap.Int("current_generation", cur.Generation))
			return ErrStale
		}
		if analyzeErr != nil && result.State == StateAnalyzing {
			result, _ = cur.Abort()
		}
		if err := m.store.Put(ctx, result); err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, analyzeErr
}

func (m *Manager) SetMapping(ctx context.Context, id, header string, field *datanorm.Field) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.SetMapping(header, field)
	})
}

func (m *Manager) Preview(ctx context.Context, id string) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return m.pipeline.Preview(ctx, s)
	})
}

func (m *Manager) ToggleRow(ctx context.Context, id, rowID string) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.ToggleRow(rowID)
	})
}

func (m *Manager) ToggleAll(ctx context.Context, id string, selected bool) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.ToggleAll(selected)
	})
}

func (m *Manager) KeepDuplicates(ctx context.Context, id string, rowIDs []string) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.KeepDuplicates(rowIDs)
	})
}

func (m *Manager) DeleteDuplicates(ctx context.Context, id string, rowIDs []string) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.DeleteDuplicates(rowIDs)
	})
}

func (m *Manager) BackToMapping(ctx context.Context, id string) (Session, error) {
	return m.update(ctx, id, Session.BackToMapping)
}

// Reset starts the session over; in-flight analysis of the old generation
// is dropped when it finishes.
func (m *Manager) Reset(ctx context.Context, id string) (Session, error) {
	return m.update(ctx, id, func(s Session) (Session, error) {
		return s.Reset(), nil
	})
}

// Commit sends the reviewed rows to sink. The session lock is held for the
// whole call.
func (m *Manager) Commit(ctx context.Context, id string, sink contacts.Sink, opts CommitOptions) (Session, contacts.BulkResult, error) {
	var result contacts.BulkResult
	s, err := m.update(ctx, id, func(s Session) (Session, error) {
		next, res, err := m.pipeline.Commit(ctx, s, sink, opts)
		result = res
		return next, err
	})
	return s, result, err
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
