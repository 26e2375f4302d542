package policy

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// Subscriber is notified after a snapshot is published. Errors are logged and
// never undo the swap.
type Subscriber func(ctx context.Context, snap *Snapshot) error

// ReloadObserver records reload outcomes.
type ReloadObserver interface {
	PolicyReloaded(accepted bool, version int)
}

// Store publishes the current Snapshot behind an atomic pointer.
type Store struct {
	path     string
	logger   *zap.Logger
	observer ReloadObserver
	now      func() time.Time

	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	version     int
	subscribers []Subscriber
}

// NewStore starts from the built-in default; call Reload to load path.
func NewStore(path string, logger *zap.Logger, observer ReloadObserver) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:     path,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
	s.current.Store(Default())
	return s
}

// Current returns the active snapshot. Safe for concurrent use.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Path is the watched policy file.
func (s *Store) Path() string { return s.path }

// Subscribe registers fn for future swaps.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Reload re-reads the policy file. On any failure the previous snapshot stays
// active and a CONFIG_INVALID error is returned.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.reject(err)
		return s.Current(), apperrors.NewConfigError("policy file unreadable", err)
	}
	return s.ReloadFrom(ctx, data, s.path)
}

// ReloadFrom validates data and swaps it in. An identical document is a no-op.
func (s *Store) ReloadFrom(ctx context.Context, data []byte, source string) (*Snapshot, error) {
	snap, err := Parse(data)
	if err != nil {
		s.reject(err)
		return s.Current(), apperrors.NewConfigError("policy rejected", err)
	}

	s.mu.Lock()
	prev := s.current.Load()
	if prev.version > 0 && prev.checksum == snap.checksum {
		s.mu.Unlock()
		return prev, nil
	}
	s.version++
	snap.version = s.version
	snap.source = source
	snap.loadedAt = s.now().UTC()
	s.current.Store(snap)
	subscribers := append([]Subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	s.logger.Info("sla policy loaded",
		zap.Int("version", snap.version),
		zap.String("source", source),
		zap.String("checksum", snap.checksum),
	)
	if s.observer != nil {
		s.observer.PolicyReloaded(true, snap.version)
	}

	for _, fn := range subscribers {
		if err := fn(ctx, snap); err != nil {
			s.logger.Warn("policy subscriber failed", zap.Int("version", snap.version), zap.Error(err))
		}
	}
	return snap, nil
}

func (s *Store) reject(err error) {
	current := s.Current()
	s.logger.Error("sla policy reload rejected, keeping previous policy",
		zap.String("path", s.path),
		zap.Int("active_version", current.version),
		zap.Error(err),
	)
	if s.observer != nil {
		s.observer.PolicyReloaded(false, current.version)
	}
}
