// Package telemetry turns agent heartbeats into accounted energy, cost, and
// CO2 deltas and keeps each Machine's cumulative totals and status current.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

// Config holds the tunables that turn a raw heartbeat into accounted energy.
// All five have defaults matching the reference deployment; operators may
// override via server configuration.
type Config struct {
	// IdleThresholdSeconds is the minimum reported idle duration that
	// classifies a machine as idle rather than online.
	IdleThresholdSeconds int64
	// HeartbeatIntervalSeconds is the expected gap between heartbeats, used
	// to bound the elapsed-time window credited to a single heartbeat.
	HeartbeatIntervalSeconds int64
	// IdlePowerWatts is the assumed draw of an idle machine.
	IdlePowerWatts float64
	// CostPerKWh converts energy to a monetary delta.
	CostPerKWh float64
	// CO2FactorPerKWh converts energy to a CO2-kg delta (grid carbon intensity).
	CO2FactorPerKWh float64
}

// DefaultConfig returns the reference tuning used throughout the system's
// worked examples.
func DefaultConfig() Config {
	return Config{
		IdleThresholdSeconds:     300,
		HeartbeatIntervalSeconds: 60,
		IdlePowerWatts:           65,
		CostPerKWh:               0.15,
		CO2FactorPerKWh:          0.4,
	}
}

// Heartbeat is the normalized, already-validated input to Ingest.
// idle_seconds must already be clamped to [0, 86400] by the caller.
type Heartbeat struct {
	IdleSeconds   int64
	CPUPercent    *float64
	MemoryPercent *float64
	IPAddress     string
	Timestamp     time.Time
}

// Result carries what a caller (the HTTP handler) needs to build a response.
// Whether a shutdown command is pending is a separate concern, resolved by
// the handler via the command dispatcher rather than here.
type Result struct {
	MachineStatus  status.MachineStatus
	DeltaEnergyKWh float64
}

// Ingestor applies the accounting procedure and persists its effects.
type Ingestor struct {
	machines   repository.MachineRepository
	heartbeats repository.HeartbeatRepository
	cfg        Config
}

// New returns an Ingestor using cfg for its accounting constants.
func New(machines repository.MachineRepository, heartbeats repository.HeartbeatRepository, cfg Config) *Ingestor {
	return &Ingestor{machines: machines, heartbeats: heartbeats, cfg: cfg}
}

// Ingest classifies idleness, computes a bounded energy/cost/CO2 delta for
// the gap since the machine's previous heartbeat, updates the Machine's
// cumulative totals and status, and appends an immutable history row.
func (ing *Ingestor) Ingest(ctx context.Context, machine *db.Machine, hb Heartbeat) (*Result, error) {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now()
	}

	idle := hb.IdleSeconds >= ing.cfg.IdleThresholdSeconds

	elapsed := hb.Timestamp.Sub(machine.LastSeenAt).Seconds()
	maxElapsed := float64(ing.cfg.HeartbeatIntervalSeconds * 4)
	switch {
	case elapsed < 0:
		elapsed = 0
	case elapsed > maxElapsed:
		elapsed = maxElapsed
	}

	var deltaEnergy, deltaCost, deltaCO2 float64
	if idle {
		deltaEnergy = elapsed * ing.cfg.IdlePowerWatts / 3_600_000
		deltaCost = deltaEnergy * ing.cfg.CostPerKWh
		deltaCO2 = deltaEnergy * ing.cfg.CO2FactorPerKWh
	}

	newStatus := status.MachineOnline
	if idle {
		newStatus = status.MachineIdle
	}

	machine.IdleSeconds = hb.IdleSeconds
	machine.Status = string(newStatus)
	machine.LastSeenAt = hb.Timestamp
	machine.TotalIdleSecs += hb.IdleSeconds
	machine.TotalEnergyKWh += deltaEnergy
	machine.TotalCost += deltaCost
	machine.TotalCO2Kg += deltaCO2
	if hb.IPAddress != "" {
		machine.LastIP = hb.IPAddress
	}

	if err := ing.machines.Update(ctx, machine); err != nil {
		return nil, fmt.Errorf("telemetry: updating machine totals: %w", err)
	}

	record := &db.Heartbeat{
		MachineID:      machine.ID,
		Timestamp:      hb.Timestamp,
		IdleSeconds:    hb.IdleSeconds,
		CPUPercent:     hb.CPUPercent,
		MemoryPercent:  hb.MemoryPercent,
		DeltaEnergyKWh: deltaEnergy,
		DeltaCost:      deltaCost,
		DeltaCO2Kg:     deltaCO2,
		ClassifiedIdle: idle,
	}
	if err := ing.heartbeats.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("telemetry: appending heartbeat history: %w", err)
	}

	return &Result{MachineStatus: newStatus, DeltaEnergyKWh: deltaEnergy}, nil
}
