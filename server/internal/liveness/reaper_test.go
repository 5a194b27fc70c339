package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

type fakeMachineRepo struct {
	stale   []db.Machine
	updated []db.Machine
}

func (f *fakeMachineRepo) Create(ctx context.Context, m *db.Machine) error { return nil }
func (f *fakeMachineRepo) GetByID(ctx context.Context, id uuid.UUID) (*db.Machine, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMachineRepo) GetByFingerprint(ctx context.Context, fp string) (*db.Machine, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMachineRepo) Update(ctx context.Context, m *db.Machine) error {
	f.updated = append(f.updated, *m)
	return nil
}
func (f *fakeMachineRepo) List(ctx context.Context, opts repository.ListOptions) ([]db.Machine, int64, error) {
	return nil, 0, nil
}
func (f *fakeMachineRepo) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]db.Machine, error) {
	return f.stale, nil
}

func TestSweepTransitionsStaleMachinesToOffline(t *testing.T) {
	stale := []db.Machine{
		{Status: string(status.MachineOnline)},
		{Status: string(status.MachineIdle)},
	}
	for i := range stale {
		stale[i].ID = uuid.Must(uuid.NewV7())
	}
	repo := &fakeMachineRepo{stale: stale}

	r := &Reaper{machines: repo, offlineWindow: 5 * time.Minute, logger: zap.NewNop()}

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 machines reaped, got %d", n)
	}
	for _, m := range repo.updated {
		if m.Status != string(status.MachineOffline) {
			t.Errorf("expected machine %s to be set offline, got %s", m.ID, m.Status)
		}
	}
}

func TestSweepWithNoStaleMachinesIsNoop(t *testing.T) {
	repo := &fakeMachineRepo{}
	r := &Reaper{machines: repo, offlineWindow: 5 * time.Minute, logger: zap.NewNop()}

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 machines reaped, got %d", n)
	}
	if len(repo.updated) != 0 {
		t.Fatalf("expected no updates when nothing is stale")
	}
}
