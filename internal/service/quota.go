package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/store"
)

// errCode extracts the stable code of an engine verdict.
func errCode(err error) string {
	var qe *quota.Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return quota.CodeInvalidData
}

// SetQuota assigns quota by replacing each holding's policy wholesale,
// creating the holding when it does not exist yet. Per-item rejects.
func (s *Service) SetQuota(ctx context.Context, args models.SetQuotaArgs) (*models.SetQuotaResult, error) {
	res := &models.SetQuotaResult{Rejected: []models.RejectedQuota{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, item := range args.Quotas {
			if item.Resource == "" {
				res.Rejected = append(res.Rejected, models.RejectedQuota{
					Entity: item.Entity, Resource: item.Resource, Code: quota.CodeInvalidData,
				})
				continue
			}
			if _, err := authEntity(tx, item.Entity, item.Key); err != nil {
				if verdict(err) {
					res.Rejected = append(res.Rejected, models.RejectedQuota{
						Entity: item.Entity, Resource: item.Resource, Code: errCode(err),
					})
					continue
				}
				return err
			}
			p, err := mintPolicy(tx, item.Quantity, item.Capacity, item.ImportLimit, item.ExportLimit)
			if err != nil {
				return err
			}
			h, err := tx.GetHolding(item.Entity, item.Resource, true)
			if errors.Is(err, store.ErrNotFound) {
				err = tx.InsertHolding(&models.Holding{
					Entity:   item.Entity,
					Resource: item.Resource,
					Policy:   p.Name,
					Flags:    item.Flags,
				})
				if err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := dropPolicyRef(tx, h.Policy); err != nil {
				return err
			}
			h.Policy = p.Name
			h.Flags = item.Flags
			if err := tx.UpdateHolding(h); err != nil {
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

// AddQuota applies relative deltas to each holding's limits by minting a
// replacement policy. Unlimited limits absorb deltas and stay unlimited;
// an item whose resulting limits would go negative is rejected. When the
// call carries a (clientkey, serial) pair, a previously applied serial
// rejects the whole call as a duplicate and a successful call records
// its arguments for replay detection.
func (s *Service) AddQuota(ctx context.Context, args models.AddQuotaArgs) (*models.AddQuotaResult, error) {
	res := &models.AddQuotaResult{Rejected: []models.RejectedQuota{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if args.Serial != nil {
			if args.ClientKey == "" {
				return quota.InvalidData("serial %d given without clientkey", *args.Serial)
			}
			_, err := tx.GetCallSerial(args.ClientKey, *args.Serial)
			if err == nil {
				return quota.Duplicate("serial %d already applied for client %q",
					*args.Serial, args.ClientKey)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		for _, item := range args.Quotas {
			code, err := s.addQuotaItem(tx, item)
			if err != nil {
				return err
			}
			if code != "" {
				res.Rejected = append(res.Rejected, models.RejectedQuota{
					Entity: item.Entity, Resource: item.Resource, Code: code,
				})
			}
		}
		if args.Serial != nil {
			raw, err := json.Marshal(args)
			if err != nil {
				return err
			}
			return tx.InsertCallSerial(&models.CallSerial{
				ClientKey: args.ClientKey,
				Serial:    *args.Serial,
				Args:      raw,
				Applied:   s.now(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// addQuotaItem applies one delta item. A non-empty code rejects the item
// without effect; a returned error aborts the whole call.
func (s *Service) addQuotaItem(tx store.Tx, item models.AddQuotaItem) (string, error) {
	if _, err := authEntity(tx, item.Entity, item.Key); err != nil {
		if verdict(err) {
			return errCode(err), nil
		}
		return "", err
	}
	h, err := tx.GetHolding(item.Entity, item.Resource, true)
	if errors.Is(err, store.ErrNotFound) {
		return quota.CodeNoEntity, nil
	}
	if err != nil {
		return "", err
	}
	_, p, err := holdingView(tx, h)
	if err != nil {
		return "", err
	}
	quantity, err := p.Quantity.Add(item.Quantity)
	if err != nil {
		return quota.CodeInvalidData, nil
	}
	capacity, err := p.Capacity.Add(item.Capacity)
	if err != nil {
		return quota.CodeInvalidData, nil
	}
	importLimit, err := p.ImportLimit.Add(item.ImportLimit)
	if err != nil {
		return quota.CodeInvalidData, nil
	}
	exportLimit, err := p.ExportLimit.Add(item.ExportLimit)
	if err != nil {
		return quota.CodeInvalidData, nil
	}
	np, err := mintPolicy(tx, quantity, capacity, importLimit, exportLimit)
	if err != nil {
		return "", err
	}
	if err := dropPolicyRef(tx, h.Policy); err != nil {
		return "", err
	}
	h.Policy = np.Name
	return "", tx.UpdateHolding(h)
}

// AckSerials clears previously recorded add_quota serials for a caller,
// returning the original arguments of each acknowledged call. Unknown
// serials are skipped.
func (s *Service) AckSerials(ctx context.Context, args models.AckSerialsArgs) (*models.AckSerialsResult, error) {
	res := &models.AckSerialsResult{Acked: []models.AckedSerial{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, serial := range args.Serials {
			cs, err := tx.GetCallSerial(args.ClientKey, serial)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var orig models.AddQuotaArgs
			if err := json.Unmarshal(cs.Args, &orig); err != nil {
				return quota.Corrupted("recorded arguments for serial %d: %v", serial, err)
			}
			if err := tx.DeleteCallSerial(args.ClientKey, serial); err != nil {
				return err
			}
			res.Acked = append(res.Acked, models.AckedSerial{Serial: serial, Args: &orig})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func quotaView(v quota.View, h *models.Holding) models.QuotaView {
	actual, ok := v.ActualQuantity()
	if !ok {
		// Unlimited quantity has no finite balance; report the net
		// settled counter sum, per QuotaView.ActualQuantity.
		actual = v.Imported + v.Returned - v.Exported - v.Released
	}
	return models.QuotaView{
		Entity:         h.Entity,
		Resource:       h.Resource,
		Quantity:       v.Quantity,
		Capacity:       v.Capacity,
		ImportLimit:    v.ImportLimit,
		ExportLimit:    v.ExportLimit,
		ActualQuantity: actual,
		Flags:          h.Flags,
	}
}

// GetQuota returns the settled quota tuple for each authorized holding;
// missing or unauthorized items are dropped.
func (s *Service) GetQuota(ctx context.Context, args models.GetQuotaArgs) (*models.GetQuotaResult, error) {
	res := &models.GetQuotaResult{Quotas: []models.QuotaView{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, item := range args.Holdings {
			h, v, err := s.authHolding(tx, item)
			if err != nil {
				return err
			}
			if h == nil {
				continue
			}
			res.Quotas = append(res.Quotas, quotaView(v, h))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetHolding returns the full holding state including pending counters.
func (s *Service) GetHolding(ctx context.Context, args models.GetQuotaArgs) (*models.GetHoldingResult, error) {
	res := &models.GetHoldingResult{Holdings: []models.HoldingView{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, item := range args.Holdings {
			h, v, err := s.authHolding(tx, item)
			if err != nil {
				return err
			}
			if h == nil {
				continue
			}
			res.Holdings = append(res.Holdings, models.HoldingView{
				QuotaView: quotaView(v, h),
				Imported:  h.Imported,
				Importing: h.Importing,
				Exported:  h.Exported,
				Exporting: h.Exporting,
				Returned:  h.Returned,
				Returning: h.Returning,
				Released:  h.Released,
				Releasing: h.Releasing,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// authHolding resolves one (entity, resource, key) triple; nil holding
// means the item should be dropped from the result.
func (s *Service) authHolding(tx store.Tx, item models.HoldingKeyItem) (*models.Holding, quota.View, error) {
	if _, err := authEntity(tx, item.Entity, item.Key); err != nil {
		if verdict(err) {
			return nil, quota.View{}, nil
		}
		return nil, quota.View{}, err
	}
	h, err := tx.GetHolding(item.Entity, item.Resource, false)
	if errors.Is(err, store.ErrNotFound) {
		return nil, quota.View{}, nil
	}
	if err != nil {
		return nil, quota.View{}, err
	}
	v, _, err := holdingView(tx, h)
	if err != nil {
		return nil, quota.View{}, err
	}
	return h, v, nil
}

// ListHoldings returns the resources held by each authenticated entity.
func (s *Service) ListHoldings(ctx context.Context, args models.ListHoldingsArgs) (*models.ListHoldingsResult, error) {
	res := &models.ListHoldingsResult{Holdings: []models.EntityHoldings{}, Rejected: []string{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, item := range args.Entities {
			if _, err := authEntity(tx, item.Entity, item.Key); err != nil {
				if verdict(err) {
					res.Rejected = append(res.Rejected, item.Entity)
					continue
				}
				return err
			}
			holdings, err := tx.ListHoldings(item.Entity)
			if err != nil {
				return err
			}
			resources := make([]string, 0, len(holdings))
			for i := range holdings {
				resources = append(resources, holdings[i].Resource)
			}
			res.Holdings = append(res.Holdings, models.EntityHoldings{
				Entity:    item.Entity,
				Resources: resources,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReleaseHoldings releases holdings that carry no pending reservation
// and have no dependent child holdings, returning any positive settled
// balance to the owner's holding of the same resource.
func (s *Service) ReleaseHoldings(ctx context.Context, args models.ReleaseHoldingArgs) (*models.ReleaseHoldingResult, error) {
	res := &models.ReleaseHoldingResult{Rejected: []models.RejectedQuota{}}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		for _, item := range args.Holdings {
			code, err := s.releaseHoldingItem(tx, item)
			if err != nil {
				return err
			}
			if code != "" {
				res.Rejected = append(res.Rejected, models.RejectedQuota{
					Entity: item.Entity, Resource: item.Resource, Code: code,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) releaseHoldingItem(tx store.Tx, item models.HoldingKeyItem) (string, error) {
	ent, err := authEntity(tx, item.Entity, item.Key)
	if err != nil {
		if verdict(err) {
			return errCode(err), nil
		}
		return "", err
	}
	// Lock the holding and the owner's holding in sorted order.
	for _, name := range lockOrder(ent.Name, ent.Owner) {
		if _, err := tx.GetHolding(name, item.Resource, true); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	h, err := tx.GetHolding(item.Entity, item.Resource, false)
	if errors.Is(err, store.ErrNotFound) {
		return quota.CodeNoEntity, nil
	}
	if err != nil {
		return "", err
	}
	ok, err := s.releasableHolding(tx, ent, h)
	if err != nil {
		return "", err
	}
	if !ok {
		return quota.CodeInvalidData, nil
	}
	return "", s.releaseHolding(tx, ent, h)
}

func lockOrder(a, b string) []string {
	if a == b {
		return []string{a}
	}
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}

// releasableHolding reports whether the holding can be released without
// touching anything: no pending reservations, no child of the holder
// still holding the resource, and a returnable settled balance.
func (s *Service) releasableHolding(tx store.Tx, ent *models.Entity, h *models.Holding) (bool, error) {
	if h.Pending() {
		return false, nil
	}
	children, err := tx.ListChildren(ent.Name)
	if err != nil {
		return false, err
	}
	held, err := tx.ResourceHeldBy(children, h.Resource)
	if err != nil {
		return false, err
	}
	if held {
		return false, nil
	}
	v, _, err := holdingView(tx, h)
	if err != nil {
		return false, err
	}
	actual, finite := v.ActualQuantity()
	if !finite {
		return false, nil
	}
	if actual < 0 {
		return false, quota.Corrupted("holding (%s, %s) has negative balance %d",
			h.Entity, h.Resource, actual)
	}
	if actual > 0 {
		if ent.Owner == ent.Name {
			return false, nil
		}
		if _, err := tx.GetHolding(ent.Owner, h.Resource, false); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// releaseHolding performs the release; callers must have verified
// releasableHolding first and hold the row locks.
func (s *Service) releaseHolding(tx store.Tx, ent *models.Entity, h *models.Holding) error {
	v, _, err := holdingView(tx, h)
	if err != nil {
		return err
	}
	actual, _ := v.ActualQuantity()
	if actual > 0 {
		oh, err := tx.GetHolding(ent.Owner, h.Resource, true)
		if err != nil {
			return err
		}
		oh.Returned += actual
		if err := tx.UpdateHolding(oh); err != nil {
			return err
		}
	}
	if err := dropPolicyRef(tx, h.Policy); err != nil {
		return err
	}
	return tx.DeleteHolding(h.Entity, h.Resource)
}
