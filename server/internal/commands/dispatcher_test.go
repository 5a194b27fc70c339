package commands

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	fleetdb "github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One named in-memory database per test, so each test's seeded machine
	// does not collide with another's on the unique fingerprint index.
	conn, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening in-memory sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&fleetdb.Machine{}, &fleetdb.ShutdownCommand{}, &fleetdb.AuditLog{}); err != nil {
		t.Fatalf("auto-migrating test schema: %v", err)
	}
	return conn
}

func seedIdleMachine(t *testing.T, conn *gorm.DB) uuid.UUID {
	t.Helper()
	m := &fleetdb.Machine{
		Fingerprint:  "AA:BB:CC:DD:EE:FF",
		Hostname:     "test-host",
		OSType:       "linux",
		Status:       string(status.MachineIdle),
		FirstSeenAt:  time.Now(),
		LastSeenAt:   time.Now(),
		RegisteredAt: time.Now(),
		Active:       true,
	}
	if err := repository.NewMachineRepository(conn).Create(context.Background(), m); err != nil {
		t.Fatalf("seeding machine: %v", err)
	}
	return m.ID
}

func TestIssueRejectsNonIdleMachine(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)

	if err := conn.Model(&fleetdb.Machine{}).Where("id = ?", machineID).Update("status", string(status.MachineOnline)).Error; err != nil {
		t.Fatalf("setting machine online: %v", err)
	}

	d := New(conn)
	_, err := d.Issue(context.Background(), machineID, uuid.Must(uuid.NewV7()), 10, "")
	if err != ErrMachineNotIdle {
		t.Fatalf("expected ErrMachineNotIdle, got %v", err)
	}
}

func TestIssueThenPollReturnsCommand(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)
	issuerID := uuid.Must(uuid.NewV7())

	d := New(conn)
	issued, err := d.Issue(context.Background(), machineID, issuerID, 10, "maintenance window")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	polled, err := d.Poll(context.Background(), machineID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polled == nil {
		t.Fatalf("expected a pending command to be returned")
	}
	if polled.ID != issued.ID {
		t.Fatalf("polled command id %s != issued command id %s", polled.ID, issued.ID)
	}
}

func TestIssueExpiresPriorPending(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)
	issuerID := uuid.Must(uuid.NewV7())

	d := New(conn)
	first, err := d.Issue(context.Background(), machineID, issuerID, 10, "")
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := d.Issue(context.Background(), machineID, issuerID, 10, "")
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	var firstRow fleetdb.ShutdownCommand
	if err := conn.First(&firstRow, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("reloading first command: %v", err)
	}
	if firstRow.Status != string(status.CommandExpired) {
		t.Fatalf("expected prior pending command to be expired, got %s", firstRow.Status)
	}

	polled, err := d.Poll(context.Background(), machineID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polled == nil || polled.ID != second.ID {
		t.Fatalf("expected poll to return the second command")
	}
}

func TestResultExecutedTransitionsMachineToShutdown(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)
	issuerID := uuid.Must(uuid.NewV7())

	d := New(conn)
	cmd, err := d.Issue(context.Background(), machineID, issuerID, 10, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := d.Result(context.Background(), machineID, ResultReport{CommandID: cmd.ID, Executed: true}); err != nil {
		t.Fatalf("Result: %v", err)
	}

	machine, err := repository.NewMachineRepository(conn).GetByID(context.Background(), machineID)
	if err != nil {
		t.Fatalf("reloading machine: %v", err)
	}
	if machine.Status != string(status.MachineShutdown) {
		t.Fatalf("expected machine status shutdown, got %s", machine.Status)
	}
}

func TestResultIsIdempotentOnRetry(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)
	issuerID := uuid.Must(uuid.NewV7())

	d := New(conn)
	cmd, err := d.Issue(context.Background(), machineID, issuerID, 10, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := d.Result(context.Background(), machineID, ResultReport{CommandID: cmd.ID, Executed: false, Reason: "user active"}); err != nil {
		t.Fatalf("first Result: %v", err)
	}
	// Retry reporting the same outcome must succeed as a no-op.
	if err := d.Result(context.Background(), machineID, ResultReport{CommandID: cmd.ID, Executed: false, Reason: "user active"}); err != nil {
		t.Fatalf("retried Result: %v", err)
	}
}

func TestResultRejectsMismatchedMachine(t *testing.T) {
	conn := newTestDB(t)
	machineID := seedIdleMachine(t, conn)
	issuerID := uuid.Must(uuid.NewV7())

	d := New(conn)
	cmd, err := d.Issue(context.Background(), machineID, issuerID, 10, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	otherMachine := uuid.Must(uuid.NewV7())
	err = d.Result(context.Background(), otherMachine, ResultReport{CommandID: cmd.ID, Executed: true})
	if err != ErrCommandMismatch {
		t.Fatalf("expected ErrCommandMismatch, got %v", err)
	}
}
