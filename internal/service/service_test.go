package service_test

import (
	"context"
	"testing"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/service"
	"github.com/punchamoorthee/quotaops/internal/store"
	"github.com/punchamoorthee/quotaops/internal/store/memory"
	"github.com/stretchr/testify/require"
)

const (
	rootEntity = "system"
	rootKey    = "root-key"
	childName  = "child"
	childKey   = "child-key"
	clientKey  = "orchestrator"
	resource   = "cpu"
)

// newEngine returns an engine over a fresh in-memory store with the
// self-owned root entity already in place.
func newEngine(t *testing.T) (*service.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	err := st.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertEntity(&models.Entity{Name: rootEntity, Owner: rootEntity, Key: rootKey})
	})
	require.NoError(t, err)
	return service.NewService(st), st
}

// newTree builds the reference fixture: root holding cpu with
// quantity=100/capacity=0 and a child with quantity=0/capacity=100/
// import_limit=50.
func newTree(t *testing.T) *service.Service {
	t.Helper()
	svc, _ := newEngine(t)
	ctx := context.Background()

	res, err := svc.SetQuota(ctx, models.SetQuotaArgs{Quotas: []models.SetQuotaItem{{
		Entity:   rootEntity,
		Resource: resource,
		Key:      rootKey,
		Quantity: quota.L(100),
		Capacity: quota.L(0),
	}}})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)

	created, err := svc.CreateEntities(ctx, models.CreateEntityArgs{Entities: []models.CreateEntityItem{{
		Entity:   childName,
		Owner:    rootEntity,
		Key:      childKey,
		OwnerKey: rootKey,
	}}})
	require.NoError(t, err)
	require.Empty(t, created.Rejected)

	res, err = svc.SetQuota(ctx, models.SetQuotaArgs{Quotas: []models.SetQuotaItem{{
		Entity:      childName,
		Resource:    resource,
		Key:         childKey,
		Quantity:    quota.L(0),
		Capacity:    quota.L(100),
		ImportLimit: quota.L(50),
	}}})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)

	return svc
}

// getHolding fetches one holding view or fails the test.
func getHolding(t *testing.T, svc *service.Service, entity, key, res string) models.HoldingView {
	t.Helper()
	out, err := svc.GetHolding(context.Background(), models.GetQuotaArgs{
		Holdings: []models.HoldingKeyItem{{Entity: entity, Resource: res, Key: key}},
	})
	require.NoError(t, err)
	require.Len(t, out.Holdings, 1)
	return out.Holdings[0]
}

// issue issues a single-provision commission and returns its serial.
func issue(t *testing.T, svc *service.Service, source string, quantity int64) int64 {
	t.Helper()
	res, err := svc.IssueCommission(context.Background(), models.IssueCommissionArgs{
		ClientKey: clientKey,
		Target:    childName,
		Key:       childKey,
		Name:      "test transfer",
		Provisions: []models.ProvisionItem{
			{Entity: source, Resource: resource, Quantity: quantity},
		},
	})
	require.NoError(t, err)
	return res.Serial
}
