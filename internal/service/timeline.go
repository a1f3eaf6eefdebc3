package service

import (
	"context"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/store"
)

// timelinePageSize bounds how many log rows a single scan fetches.
const timelinePageSize = 128

func timelineSide(img models.HoldingImage) models.TimelineSide {
	c := img.After
	return models.TimelineSide{
		Entity:           img.Entity,
		Allocated:        c.Allocated(),
		AllocatedThrough: c.AllocatedThrough(),
		Inbound:          c.Inbound(),
		InboundThrough:   c.InboundThrough(),
		Outbound:         c.Outbound(),
		OutboundThrough:  c.OutboundThrough(),
	}
}

// GetTimeline reconstructs the chronological transfer ledger for the
// requested entity and resource sets within a time window. Triples
// whose key does not match are silently dropped; the log is walked in
// ascending settlement order in bounded pages until the window is
// exhausted.
func (s *Service) GetTimeline(ctx context.Context, args models.GetTimelineArgs) (*models.GetTimelineResult, error) {
	res := &models.GetTimelineResult{Entries: []models.TimelineEntry{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		entities := map[string]bool{}
		resources := map[string]bool{}
		for _, item := range args.Holdings {
			if _, err := authEntity(tx, item.Entity, item.Key); err != nil {
				if verdict(err) {
					continue
				}
				return err
			}
			entities[item.Entity] = true
			resources[item.Resource] = true
		}
		if len(entities) == 0 {
			return nil
		}
		for offset := 0; ; offset += timelinePageSize {
			page, err := tx.ScanLog(args.After, args.Before, offset, timelinePageSize)
			if err != nil {
				return err
			}
			for _, l := range page {
				if !resources[l.Resource] {
					continue
				}
				if !entities[l.Source.Entity] && !entities[l.Target.Entity] {
					continue
				}
				res.Entries = append(res.Entries, models.TimelineEntry{
					Serial:    l.Serial,
					Name:      l.Name,
					Resource:  l.Resource,
					Quantity:  l.Quantity,
					Source:    timelineSide(l.Source),
					Target:    timelineSide(l.Target),
					IssueTime: l.IssueTime,
					LogTime:   l.LogTime,
					Reason:    l.Reason,
				})
			}
			if len(page) < timelinePageSize {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
