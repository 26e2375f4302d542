package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/repository"
)

// PolicyService exposes the policy store to operators and keeps the
// versioned policy history.
type PolicyService struct {
	policies   *policy.Store
	store      repository.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewPolicyService constructs the service and subscribes it to reloads.
func NewPolicyService(policies *policy.Store, store repository.Store, dispatcher events.Dispatcher, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PolicyService{policies: policies, store: store, dispatcher: dispatcher, logger: logger}
	policies.Subscribe(s.recordVersion)
	return s
}

// Current returns the active snapshot.
func (s *PolicyService) Current() *policy.Snapshot {
	return s.policies.Current()
}

// Reload re-reads the policy file. On failure the previous snapshot stays
// active and a config error is returned.
func (s *PolicyService) Reload(ctx context.Context, actor string) (*policy.Snapshot, error) {
	snap, err := s.policies.Reload(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sla policy reload requested",
		zap.String("actor", changedBy(actor)),
		zap.Int("version", snap.Version()))
	return snap, nil
}

// Versions lists recorded policy versions, newest first.
func (s *PolicyService) Versions(ctx context.Context, limit int) ([]domain.PolicyVersion, error) {
	return s.store.ListPolicyVersions(ctx, limit)
}

func (s *PolicyService) recordVersion(ctx context.Context, snap *policy.Snapshot) error {
	version := &domain.PolicyVersion{
		ID:        uuid.NewString(),
		Version:   snap.Version(),
		Source:    snap.Source(),
		Checksum:  snap.Checksum(),
		Document:  snap.Raw(),
		CreatedAt: snap.LoadedAt(),
		CreatedBy: events.ActorSystem,
	}
	if err := s.store.SavePolicyVersion(ctx, version); err != nil {
		return err
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:      events.EventSLAPolicyReloaded,
		Actor:     events.SystemActor,
		Timestamp: snap.LoadedAt(),
		Payload: events.SLAPolicyReloadedPayload{
			Version:  snap.Version(),
			Source:   snap.Source(),
			Checksum: snap.Checksum(),
		},
	})
	return nil
}
