// Package repository implements data access for the fleet server on top of
// GORM. Each entity gets a small hand-written interface plus a gormXRepository
// implementation; callers depend on the interface so tests can swap in fakes.
package repository

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist in the database. Callers should check for this error
// explicitly using errors.Is to distinguish missing records from other
// database errors.
//
//	machine, err := repo.GetByID(ctx, id)
//	if errors.Is(err, repository.ErrNotFound) {
//	    handle not found
//	}
var ErrNotFound = errors.New("record not found")

// ErrConflict names a unique-constraint violation, for example a username
// that already exists. The GORM repositories in this package do not return
// it: they wrap the driver's error instead.
var ErrConflict = errors.New("record already exists")

// ListOptions controls pagination for List-style queries.
type ListOptions struct {
	Limit  int
	Offset int
}
