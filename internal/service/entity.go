package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/store"
)

// CreateEntities creates entities whose stated owner exists and whose
// ownerkey matches. Rejected items are reported by index.
func (s *Service) CreateEntities(ctx context.Context, args models.CreateEntityArgs) (*models.CreateEntityResult, error) {
	res := &models.CreateEntityResult{Rejected: []int{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for i, item := range args.Entities {
			if item.Entity == "" {
				res.Rejected = append(res.Rejected, i)
				continue
			}
			if _, err := authEntity(tx, item.Owner, item.OwnerKey); err != nil {
				if verdict(err) {
					res.Rejected = append(res.Rejected, i)
					continue
				}
				return err
			}
			err := tx.InsertEntity(&models.Entity{
				Name:  item.Entity,
				Owner: item.Owner,
				Key:   item.Key,
			})
			if errors.Is(err, store.ErrExists) {
				res.Rejected = append(res.Rejected, i)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetEntityKeys rotates entity keys. Each item must present the
// entity's current key.
func (s *Service) SetEntityKeys(ctx context.Context, args models.SetEntityKeyArgs) (*models.SetEntityKeyResult, error) {
	res := &models.SetEntityKeyResult{Rejected: []string{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, item := range args.Entities {
			ent, err := authEntity(tx, item.Entity, item.Key)
			if err != nil {
				if verdict(err) {
					res.Rejected = append(res.Rejected, item.Entity)
					continue
				}
				return err
			}
			ent.Key = item.NewKey
			if err := tx.UpdateEntity(ent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetEntities returns (entity, owner) pairs for items whose key checks
// out; everything else is silently dropped.
func (s *Service) GetEntities(ctx context.Context, args models.GetEntityArgs) (*models.GetEntityResult, error) {
	res := &models.GetEntityResult{Entities: []models.EntityOwner{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, item := range args.Entities {
			ent, err := authEntity(tx, item.Entity, item.Key)
			if err != nil {
				if verdict(err) {
					continue
				}
				return err
			}
			res.Entities = append(res.Entities, models.EntityOwner{
				Entity: ent.Name,
				Owner:  ent.Owner,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListEntities returns the child entities of an authenticated entity.
func (s *Service) ListEntities(ctx context.Context, args models.ListEntitiesArgs) (*models.ListEntitiesResult, error) {
	res := &models.ListEntitiesResult{Entities: []string{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := authEntity(tx, args.Entity, args.Key); err != nil {
			return err
		}
		children, err := tx.ListChildren(args.Entity)
		if err != nil {
			return err
		}
		res.Entities = append(res.Entities, children...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReleaseEntities releases every holding of each entity and deletes the
// entity. Entities that still own children, carry pending reservations,
// or cannot return their balance are rejected untouched.
func (s *Service) ReleaseEntities(ctx context.Context, args models.ReleaseEntityArgs) (*models.ReleaseEntityResult, error) {
	res := &models.ReleaseEntityResult{Rejected: []string{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, item := range args.Entities {
			ent, err := authEntity(tx, item.Entity, item.Key)
			if err != nil {
				if verdict(err) {
					res.Rejected = append(res.Rejected, item.Entity)
					continue
				}
				return err
			}
			ok, err := s.releaseEntity(tx, ent)
			if err != nil {
				return err
			}
			if !ok {
				res.Rejected = append(res.Rejected, item.Entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// releaseEntity tears one entity down inside tx. All holdings are
// checked releasable before anything is touched so a rejected entity
// stays fully intact.
func (s *Service) releaseEntity(tx store.Tx, ent *models.Entity) (bool, error) {
	children, err := tx.ListChildren(ent.Name)
	if err != nil {
		return false, err
	}
	if len(children) > 0 {
		return false, nil
	}
	held, err := tx.EntityHasHoldings(ent.Name)
	if err != nil {
		return false, err
	}
	if !held {
		return true, tx.DeleteEntity(ent.Name)
	}
	holdings, err := tx.ListHoldings(ent.Name)
	if err != nil {
		return false, err
	}
	// Lock every row the release can touch, in the same sorted order
	// the commission paths use, before any check or mutation.
	keys := map[holdingKey]bool{}
	for i := range holdings {
		keys[holdingKey{ent.Name, holdings[i].Resource}] = true
		keys[holdingKey{ent.Owner, holdings[i].Resource}] = true
	}
	if err := lockExisting(tx, keys); err != nil {
		return false, err
	}
	for i := range holdings {
		if ok, err := s.releasableHolding(tx, ent, &holdings[i]); err != nil || !ok {
			return false, err
		}
	}
	for i := range holdings {
		if err := s.releaseHolding(tx, ent, &holdings[i]); err != nil {
			return false, err
		}
	}
	return true, tx.DeleteEntity(ent.Name)
}
