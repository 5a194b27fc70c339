package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

type fakeMachineRepo struct {
	updated *db.Machine
}

func (f *fakeMachineRepo) Create(ctx context.Context, m *db.Machine) error { return nil }
func (f *fakeMachineRepo) GetByID(ctx context.Context, id uuid.UUID) (*db.Machine, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMachineRepo) GetByFingerprint(ctx context.Context, fp string) (*db.Machine, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMachineRepo) Update(ctx context.Context, m *db.Machine) error {
	f.updated = m
	return nil
}
func (f *fakeMachineRepo) List(ctx context.Context, opts repository.ListOptions) ([]db.Machine, int64, error) {
	return nil, 0, nil
}
func (f *fakeMachineRepo) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]db.Machine, error) {
	return nil, nil
}

type fakeHeartbeatRepo struct {
	created *db.Heartbeat
}

func (f *fakeHeartbeatRepo) Create(ctx context.Context, hb *db.Heartbeat) error {
	f.created = hb
	return nil
}
func (f *fakeHeartbeatRepo) ListByMachine(ctx context.Context, machineID uuid.UUID, opts repository.ListOptions) ([]db.Heartbeat, int64, error) {
	return nil, 0, nil
}

func TestIngestClassifiesIdleAndComputesDelta(t *testing.T) {
	cfg := DefaultConfig()
	machines := &fakeMachineRepo{}
	heartbeats := &fakeHeartbeatRepo{}
	ing := New(machines, heartbeats, cfg)

	now := time.Now()
	machine := &db.Machine{
		LastSeenAt: now.Add(-60 * time.Second),
		Status:     string(status.MachineOnline),
	}
	machine.ID = uuid.Must(uuid.NewV7())

	res, err := ing.Ingest(context.Background(), machine, Heartbeat{
		IdleSeconds: 600,
		Timestamp:   now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.MachineStatus != status.MachineIdle {
		t.Fatalf("expected machine status idle, got %v", res.MachineStatus)
	}

	wantEnergy := 60.0 * cfg.IdlePowerWatts / 3_600_000
	if res.DeltaEnergyKWh != wantEnergy {
		t.Fatalf("delta energy = %v, want %v", res.DeltaEnergyKWh, wantEnergy)
	}
	if machines.updated.TotalEnergyKWh != wantEnergy {
		t.Fatalf("machine cumulative total not updated: got %v want %v", machines.updated.TotalEnergyKWh, wantEnergy)
	}
	if heartbeats.created == nil || !heartbeats.created.ClassifiedIdle {
		t.Fatalf("expected a history row classified idle")
	}
}

func TestIngestOnlineBelowThresholdHasNoEnergy(t *testing.T) {
	cfg := DefaultConfig()
	machines := &fakeMachineRepo{}
	heartbeats := &fakeHeartbeatRepo{}
	ing := New(machines, heartbeats, cfg)

	now := time.Now()
	machine := &db.Machine{
		LastSeenAt: now.Add(-60 * time.Second),
		Status:     string(status.MachineIdle),
	}
	machine.ID = uuid.Must(uuid.NewV7())

	res, err := ing.Ingest(context.Background(), machine, Heartbeat{
		IdleSeconds: 0,
		Timestamp:   now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.MachineStatus != status.MachineOnline {
		t.Fatalf("expected machine status online, got %v", res.MachineStatus)
	}
	if res.DeltaEnergyKWh != 0 {
		t.Fatalf("expected zero delta energy for idle_seconds=0, got %v", res.DeltaEnergyKWh)
	}
}

func TestIngestClampsElapsedForMissedHeartbeats(t *testing.T) {
	cfg := DefaultConfig()
	machines := &fakeMachineRepo{}
	heartbeats := &fakeHeartbeatRepo{}
	ing := New(machines, heartbeats, cfg)

	now := time.Now()
	machine := &db.Machine{
		LastSeenAt: now.Add(-1 * time.Hour), // far more than 4 missed heartbeats
		Status:     string(status.MachineOffline),
	}
	machine.ID = uuid.Must(uuid.NewV7())

	res, err := ing.Ingest(context.Background(), machine, Heartbeat{
		IdleSeconds: 600,
		Timestamp:   now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	maxElapsed := float64(cfg.HeartbeatIntervalSeconds * 4)
	wantEnergy := maxElapsed * cfg.IdlePowerWatts / 3_600_000
	if res.DeltaEnergyKWh != wantEnergy {
		t.Fatalf("expected elapsed clamped to %v seconds worth of energy (%v), got %v", maxElapsed, wantEnergy, res.DeltaEnergyKWh)
	}
}
