// Package store defines the transactional persistence contract the
// engine runs on. Implementations must make Update all-or-nothing: if
// the callback fails, no effect of the transaction survives.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/quotaops/internal/models"
)

var (
	// ErrNotFound is the uniform miss sentinel for every Get accessor.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned when inserting over an existing primary key.
	ErrExists = errors.New("store: already exists")
)

// Store opens transactions against the backing state.
type Store interface {
	// Update runs fn in a read-write transaction and commits iff fn
	// returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Close()
}

// Tx is the typed accessor surface of one transaction. GetHolding with
// lock=true takes an exclusive row lock held until transaction end;
// callers are responsible for acquiring locks in sorted (entity,
// resource) order across multi-holding operations.
type Tx interface {
	GetEntity(name string) (*models.Entity, error)
	InsertEntity(e *models.Entity) error
	UpdateEntity(e *models.Entity) error
	DeleteEntity(name string) error
	ListChildren(owner string) ([]string, error)

	GetPolicy(name string) (*models.Policy, error)
	InsertPolicy(p *models.Policy) error
	UpdatePolicy(p *models.Policy) error
	DeletePolicy(name string) error

	GetHolding(entity, resource string, lock bool) (*models.Holding, error)
	InsertHolding(h *models.Holding) error
	UpdateHolding(h *models.Holding) error
	DeleteHolding(entity, resource string) error
	ListHoldings(entity string) ([]models.Holding, error)
	EntityHasHoldings(entity string) (bool, error)
	ResourceHeldBy(entities []string, resource string) (bool, error)

	// NextSerial allocates the next monotonic commission serial.
	NextSerial() (int64, error)
	InsertCommission(c *models.Commission) error
	GetCommission(serial int64) (*models.Commission, error)
	DeleteCommission(serial int64) error
	PendingSerials(clientKey string) ([]int64, error)

	InsertProvision(p *models.Provision) error
	Provisions(serial int64) ([]models.Provision, error)
	DeleteProvisions(serial int64) error

	AppendLog(l *models.ProvisionLog) error
	// ScanLog returns log rows with after < LogTime <= before in
	// ascending (LogTime, ID) order, paged by offset/limit.
	ScanLog(after, before time.Time, offset, limit int) ([]models.ProvisionLog, error)

	GetCallSerial(clientKey string, serial int64) (*models.CallSerial, error)
	InsertCallSerial(cs *models.CallSerial) error
	DeleteCallSerial(clientKey string, serial int64) error
}
