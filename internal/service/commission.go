package service

import (
	"context"
	"errors"
	"sort"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/store"
)

type holdingKey struct {
	entity   string
	resource string
}

func sortedKeys(keys map[holdingKey]bool) []holdingKey {
	ordered := make([]holdingKey, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].entity == ordered[j].entity {
			return ordered[i].resource < ordered[j].resource
		}
		return ordered[i].entity < ordered[j].entity
	})
	return ordered
}

// lockHoldings acquires row locks on every named holding in sorted
// (entity, resource) order before any of them is mutated, so concurrent
// commissions touching the same holdings in opposite roles cannot
// deadlock.
func lockHoldings(tx store.Tx, keys map[holdingKey]bool) (map[holdingKey]*models.Holding, []holdingKey, error) {
	ordered := sortedKeys(keys)
	holdings := make(map[holdingKey]*models.Holding, len(ordered))
	for _, k := range ordered {
		h, err := tx.GetHolding(k.entity, k.resource, true)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, quota.NoEntity("no holding for (%s, %s)", k.entity, k.resource)
		}
		if err != nil {
			return nil, nil, err
		}
		holdings[k] = h
	}
	return holdings, ordered, nil
}

// lockExisting locks the named holdings in the same sorted order but
// skips rows that do not exist, for paths where absence is legal.
func lockExisting(tx store.Tx, keys map[holdingKey]bool) error {
	for _, k := range sortedKeys(keys) {
		if _, err := tx.GetHolding(k.entity, k.resource, true); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// IssueCommission validates and reserves every provision of a transfer
// request, then persists the commission under a freshly allocated
// serial. Any failed check aborts the whole commission with no
// reservation left behind.
func (s *Service) IssueCommission(ctx context.Context, args models.IssueCommissionArgs) (*models.IssueCommissionResult, error) {
	if args.Target == "" || len(args.Provisions) == 0 {
		return nil, quota.InvalidData("commission needs a target and at least one provision")
	}
	res := &models.IssueCommissionResult{}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if _, err := authEntity(tx, args.Target, args.Key); err != nil {
			return err
		}
		seen := map[holdingKey]bool{}
		keys := map[holdingKey]bool{}
		for _, p := range args.Provisions {
			if p.Resource == "" {
				return quota.InvalidData("provision without a resource")
			}
			if p.Entity == args.Target {
				return quota.Duplicate("provision source equals target %q", args.Target)
			}
			k := holdingKey{p.Entity, p.Resource}
			if seen[k] {
				return quota.Duplicate("(%s, %s) repeats within one commission",
					p.Entity, p.Resource)
			}
			seen[k] = true
			keys[k] = true
			keys[holdingKey{args.Target, p.Resource}] = true
		}
		holdings, ordered, err := lockHoldings(tx, keys)
		if err != nil {
			return err
		}
		for _, p := range args.Provisions {
			src := holdings[holdingKey{p.Entity, p.Resource}]
			tgt := holdings[holdingKey{args.Target, p.Resource}]
			if err := s.reserve(tx, src, tgt, p.Quantity); err != nil {
				return err
			}
		}
		serial, err := tx.NextSerial()
		if err != nil {
			return err
		}
		err = tx.InsertCommission(&models.Commission{
			Serial:    serial,
			Target:    args.Target,
			ClientKey: args.ClientKey,
			Name:      args.Name,
			IssueTime: s.now(),
		})
		if err != nil {
			return err
		}
		for _, p := range args.Provisions {
			err := tx.InsertProvision(&models.Provision{
				Serial:   serial,
				Source:   p.Entity,
				Resource: p.Resource,
				Quantity: p.Quantity,
			})
			if err != nil {
				return err
			}
		}
		for _, k := range ordered {
			if err := tx.UpdateHolding(holdings[k]); err != nil {
				return err
			}
		}
		res.Serial = serial
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// reserve checks one provision against both holdings and bumps the
// pending counters. Positive quantity flows source -> target; negative
// quantity reverses a prior transfer, target -> source.
func (s *Service) reserve(tx store.Tx, src, tgt *models.Holding, q int64) error {
	if q >= 0 {
		sv, _, err := holdingView(tx, src)
		if err != nil {
			return err
		}
		if err := sv.CheckOutbound(q, false); err != nil {
			return err
		}
		tv, _, err := holdingView(tx, tgt)
		if err != nil {
			return err
		}
		if err := tv.CheckInbound(q, false); err != nil {
			return err
		}
		src.Exporting += q
		tgt.Importing += q
		return nil
	}
	n := -q
	tv, _, err := holdingView(tx, tgt)
	if err != nil {
		return err
	}
	if err := tv.CheckOutbound(n, true); err != nil {
		return err
	}
	sv, _, err := holdingView(tx, src)
	if err != nil {
		return err
	}
	if err := sv.CheckInbound(n, true); err != nil {
		return err
	}
	tgt.Releasing += n
	src.Returning += n
	return nil
}

// AcceptCommissions settles the named serials: pending amounts move to
// their settled counterparts and one audit row is written per
// provision. Unknown or foreign serials are silently skipped.
func (s *Service) AcceptCommissions(ctx context.Context, args models.ResolveCommissionsArgs) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		for _, serial := range args.Serials {
			if err := s.resolveOne(tx, args.ClientKey, serial, args.Reason, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// RejectCommissions undoes the reservations of the named serials
// without writing audit rows. Unknown or foreign serials are silently
// skipped.
func (s *Service) RejectCommissions(ctx context.Context, args models.ResolveCommissionsArgs) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		for _, serial := range args.Serials {
			if err := s.resolveOne(tx, args.ClientKey, serial, args.Reason, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPendingCommissions lists unresolved serials issued by a caller in
// ascending order.
func (s *Service) GetPendingCommissions(ctx context.Context, args models.GetPendingCommissionsArgs) (*models.GetPendingCommissionsResult, error) {
	res := &models.GetPendingCommissionsResult{Serials: []int64{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		serials, err := tx.PendingSerials(args.ClientKey)
		if err != nil {
			return err
		}
		res.Serials = append(res.Serials, serials...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResolvePendingCommissions accepts the caller's pending serials listed
// in the accept set and rejects every other pending serial up to and
// including the watermark, in ascending order.
func (s *Service) ResolvePendingCommissions(ctx context.Context, args models.ResolvePendingCommissionsArgs) error {
	accept := make(map[int64]bool, len(args.Accept))
	for _, serial := range args.Accept {
		accept[serial] = true
	}
	return s.store.Update(ctx, func(tx store.Tx) error {
		serials, err := tx.PendingSerials(args.ClientKey)
		if err != nil {
			return err
		}
		for _, serial := range serials {
			if serial > args.MaxSerial {
				break
			}
			if err := s.resolveOne(tx, args.ClientKey, serial, args.Reason, accept[serial]); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveOne settles or undoes a single commission. Once resolved a
// commission no longer exists, which is what makes repeated resolve
// calls no-ops.
func (s *Service) resolveOne(tx store.Tx, clientKey string, serial int64, reason string, accept bool) error {
	c, err := tx.GetCommission(serial)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.ClientKey != clientKey {
		return nil
	}
	provs, err := tx.Provisions(serial)
	if err != nil {
		return err
	}
	keys := map[holdingKey]bool{}
	for _, p := range provs {
		keys[holdingKey{p.Source, p.Resource}] = true
		keys[holdingKey{c.Target, p.Resource}] = true
	}
	holdings, ordered, err := lockHoldings(tx, keys)
	if err != nil {
		if errors.Is(err, quota.ErrNoEntity) {
			return quota.Corrupted("commission %d references a missing holding", serial)
		}
		return err
	}
	for _, p := range provs {
		src := holdings[holdingKey{p.Source, p.Resource}]
		tgt := holdings[holdingKey{c.Target, p.Resource}]
		srcBefore, tgtBefore := src.Counters(), tgt.Counters()
		if q := p.Quantity; q >= 0 {
			if src.Exporting < q || tgt.Importing < q {
				return quota.Corrupted("commission %d reservation underflow on %q", serial, p.Resource)
			}
			src.Exporting -= q
			tgt.Importing -= q
			if accept {
				src.Exported += q
				tgt.Imported += q
			}
		} else {
			n := -q
			if tgt.Releasing < n || src.Returning < n {
				return quota.Corrupted("commission %d reservation underflow on %q", serial, p.Resource)
			}
			tgt.Releasing -= n
			src.Returning -= n
			if accept {
				tgt.Released += n
				src.Returned += n
			}
		}
		if accept {
			sp, err := tx.GetPolicy(src.Policy)
			if err != nil {
				return quota.Corrupted("holding (%s, %s) references missing policy", src.Entity, src.Resource)
			}
			tp, err := tx.GetPolicy(tgt.Policy)
			if err != nil {
				return quota.Corrupted("holding (%s, %s) references missing policy", tgt.Entity, tgt.Resource)
			}
			err = tx.AppendLog(&models.ProvisionLog{
				Serial:    serial,
				Name:      c.Name,
				Resource:  p.Resource,
				Quantity:  p.Quantity,
				Source:    holdingImage(sp, src.Entity, srcBefore, src.Counters()),
				Target:    holdingImage(tp, tgt.Entity, tgtBefore, tgt.Counters()),
				IssueTime: c.IssueTime,
				LogTime:   s.now(),
				Reason:    reason,
			})
			if err != nil {
				return err
			}
		}
	}
	for _, k := range ordered {
		if err := tx.UpdateHolding(holdings[k]); err != nil {
			return err
		}
	}
	if err := tx.DeleteProvisions(serial); err != nil {
		return err
	}
	return tx.DeleteCommission(serial)
}
