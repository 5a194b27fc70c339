package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
)

// bootstrapLockKey is the fixed key passed to pg_advisory_xact_lock so every
// server process serializes on the same lock regardless of how many are
// starting up concurrently. Arbitrary but stable — never change it, or
// concurrently-deployed old/new binaries would stop serializing with each
// other.
const bootstrapLockKey = "fleet_admin_bootstrap"

// sqliteBootstrapMu serializes bootstrap within one process when the driver
// is sqlite. It only protects against two goroutines in the same process
// racing; db.New's SetMaxOpenConns(1) is also per process, so two server
// processes sharing one sqlite file are not serialized by either.
var sqliteBootstrapMu sync.Mutex

// BootstrapAdmin ensures at least one active admin operator exists. It is
// idempotent and safe to call on every server start: if any active operator
// already exists, it does nothing. Otherwise it creates one admin account
// with the given username/password.
//
// Concurrency is handled by acquiring a transaction-scoped named advisory
// lock on postgres before the existence check, so N server processes
// starting simultaneously against a fresh database create exactly one admin
// and log exactly once. On sqlite there is no advisory lock primitive, so a
// process-local mutex stands in, which serializes callers within one process
// only.
func BootstrapAdmin(ctx context.Context, database *gorm.DB, operators repository.OperatorRepository, driver, username, password string) error {
	switch driver {
	case "postgres":
		return bootstrapWithAdvisoryLock(ctx, database, operators, username, password)
	default:
		sqliteBootstrapMu.Lock()
		defer sqliteBootstrapMu.Unlock()
		return bootstrapOnce(ctx, operators, username, password)
	}
}

// bootstrapWithAdvisoryLock ignores the operators argument and constructs a
// fresh repository bound to the locked transaction instead, so every read
// and write in the critical section happens through the same tx.
func bootstrapWithAdvisoryLock(ctx context.Context, database *gorm.DB, _ repository.OperatorRepository, username, password string) error {
	return database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", bootstrapLockKey).Error; err != nil {
			return fmt.Errorf("auth: acquiring bootstrap advisory lock: %w", err)
		}

		txOperators := repository.NewOperatorRepository(tx)
		err := bootstrapOnce(ctx, txOperators, username, password)
		if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			// Another process won the race despite the lock (e.g. a manual
			// insert between releases) — the desired state (an admin exists)
			// is already met, so this is success, not failure.
			return nil
		}
		return err
	})
}

func bootstrapOnce(ctx context.Context, operators repository.OperatorRepository, username, password string) error {
	count, err := operators.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("auth: checking for existing admin: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("auth: hashing bootstrap admin password: %w", err)
	}

	if err := operators.Create(ctx, &db.Operator{
		Username:     normalizeUsername(username),
		PasswordHash: hash,
		Role:         "admin",
		Active:       true,
	}); err != nil {
		return fmt.Errorf("auth: creating bootstrap admin: %w", err)
	}

	return nil
}

// LogBootstrapResult emits a single structured log line confirming that the
// configured admin account exists. It does not distinguish an account that
// this process just created from one that was already present, and every
// process that calls it logs its own line.
func LogBootstrapResult(logger *zap.Logger, operators repository.OperatorRepository, username string) {
	op, err := operators.GetByUsername(context.Background(), normalizeUsername(username))
	if err != nil {
		logger.Warn("bootstrap: could not confirm admin account", zap.Error(err))
		return
	}
	logger.Info("bootstrap: admin account ready", zap.String("username", op.Username))
}
