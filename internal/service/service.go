// Package service implements the quota accounting engine: entity and
// policy bookkeeping, the holding ledger, the two-phase commission
// protocol, idempotent call replay, and timeline reconstruction. Every
// operation runs as a single store transaction; a failed operation
// leaves no partial effects.
package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/store"
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// authEntity resolves an entity and verifies the presented key.
func authEntity(tx store.Tx, name, key string) (*models.Entity, error) {
	ent, err := tx.GetEntity(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, quota.NoEntity("entity %q does not exist", name)
	}
	if err != nil {
		return nil, err
	}
	if ent.Key != key {
		return nil, quota.InvalidKey("key mismatch for entity %q", name)
	}
	return ent, nil
}

// holdingView assembles the arithmetic view of a holding from its
// counters and referenced policy. A dangling policy reference is an
// internal invariant violation.
func holdingView(tx store.Tx, h *models.Holding) (quota.View, *models.Policy, error) {
	p, err := tx.GetPolicy(h.Policy)
	if errors.Is(err, store.ErrNotFound) {
		return quota.View{}, nil, quota.Corrupted("holding (%s, %s) references missing policy %q",
			h.Entity, h.Resource, h.Policy)
	}
	if err != nil {
		return quota.View{}, nil, err
	}
	return quota.View{
		Quantity:    p.Quantity,
		Capacity:    p.Capacity,
		ImportLimit: p.ImportLimit,
		ExportLimit: p.ExportLimit,
		Imported:    h.Imported,
		Importing:   h.Importing,
		Exported:    h.Exported,
		Exporting:   h.Exporting,
		Returned:    h.Returned,
		Returning:   h.Returning,
		Released:    h.Released,
		Releasing:   h.Releasing,
	}, p, nil
}

// mintPolicy inserts a fresh immutable policy record with one reference.
func mintPolicy(tx store.Tx, quantity, capacity, importLimit, exportLimit quota.Limit) (*models.Policy, error) {
	p := &models.Policy{
		Name:        uuid.NewString(),
		Quantity:    quantity,
		Capacity:    capacity,
		ImportLimit: importLimit,
		ExportLimit: exportLimit,
		RefCount:    1,
	}
	if err := tx.InsertPolicy(p); err != nil {
		return nil, err
	}
	return p, nil
}

// dropPolicyRef decrements a policy's reference count and garbage
// collects the record once unreferenced.
func dropPolicyRef(tx store.Tx, name string) error {
	p, err := tx.GetPolicy(name)
	if errors.Is(err, store.ErrNotFound) {
		return quota.Corrupted("dropping reference to missing policy %q", name)
	}
	if err != nil {
		return err
	}
	p.RefCount--
	if p.RefCount <= 0 {
		return tx.DeletePolicy(name)
	}
	return tx.UpdatePolicy(p)
}

// verdict reports whether err is an engine error kind rather than a
// storage failure. Batch calls convert verdicts into per-item rejects;
// storage failures abort the whole transaction.
func verdict(err error) bool {
	var qe *quota.Error
	return errors.As(err, &qe)
}

// holdingImage freezes one side of a settlement for the audit log.
func holdingImage(p *models.Policy, entity string, before, after quota.Counters) models.HoldingImage {
	return models.HoldingImage{
		Entity:      entity,
		Quantity:    p.Quantity,
		Capacity:    p.Capacity,
		ImportLimit: p.ImportLimit,
		ExportLimit: p.ExportLimit,
		Before:      before,
		After:       after,
	}
}
