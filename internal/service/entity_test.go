package service_test

import (
	"context"
	"testing"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEntitiesRejectsByIndex(t *testing.T) {
	svc, _ := newEngine(t)
	ctx := context.Background()

	res, err := svc.CreateEntities(ctx, models.CreateEntityArgs{Entities: []models.CreateEntityItem{
		{Entity: "a", Owner: rootEntity, Key: "ka", OwnerKey: rootKey},
		{Entity: "b", Owner: rootEntity, Key: "kb", OwnerKey: "wrong"},
		{Entity: "c", Owner: "missing", Key: "kc", OwnerKey: "x"},
		{Entity: "a", Owner: rootEntity, Key: "other", OwnerKey: rootKey},
		{Entity: "", Owner: rootEntity, Key: "k", OwnerKey: rootKey},
	}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, res.Rejected)

	list, err := svc.ListEntities(ctx, models.ListEntitiesArgs{Entity: rootEntity, Key: rootKey})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, list.Entities)
}

func TestSetEntityKeysRotates(t *testing.T) {
	svc, _ := newEngine(t)
	ctx := context.Background()

	res, err := svc.SetEntityKeys(ctx, models.SetEntityKeyArgs{Entities: []models.SetEntityKeyItem{
		{Entity: rootEntity, Key: rootKey, NewKey: "rotated"},
		{Entity: rootEntity, Key: "stale", NewKey: "nope"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{rootEntity}, res.Rejected)

	// The old key no longer authenticates, the new one does.
	out, err := svc.GetEntities(ctx, models.GetEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: rootEntity, Key: rootKey},
		{Entity: rootEntity, Key: "rotated"},
	}})
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, rootEntity, out.Entities[0].Entity)
	assert.Equal(t, rootEntity, out.Entities[0].Owner)
}

func TestListEntitiesRequiresKey(t *testing.T) {
	svc, _ := newEngine(t)

	_, err := svc.ListEntities(context.Background(), models.ListEntitiesArgs{
		Entity: rootEntity, Key: "wrong",
	})
	assert.ErrorIs(t, err, quota.ErrInvalidKey)

	_, err = svc.ListEntities(context.Background(), models.ListEntitiesArgs{
		Entity: "ghost", Key: "x",
	})
	assert.ErrorIs(t, err, quota.ErrNoEntity)
}

func TestReleaseEntityRejectsWithChildren(t *testing.T) {
	svc := newTree(t)
	ctx := context.Background()

	res, err := svc.ReleaseEntities(ctx, models.ReleaseEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: rootEntity, Key: rootKey},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{rootEntity}, res.Rejected)
}

func TestReleaseEntityReturnsHoldings(t *testing.T) {
	svc := newTree(t)
	ctx := context.Background()

	serial := issue(t, svc, rootEntity, 30)
	require.NoError(t, svc.AcceptCommissions(ctx, models.ResolveCommissionsArgs{
		ClientKey: clientKey, Serials: []int64{serial},
	}))

	res, err := svc.ReleaseEntities(ctx, models.ReleaseEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: childName, Key: childKey},
	}})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)

	src := getHolding(t, svc, rootEntity, rootKey, resource)
	assert.Equal(t, int64(30), src.Returned)
	assert.Equal(t, int64(100), src.ActualQuantity)

	list, err := svc.ListEntities(ctx, models.ListEntitiesArgs{Entity: rootEntity, Key: rootKey})
	require.NoError(t, err)
	assert.Empty(t, list.Entities)
}

func TestReleaseEntityWithoutHoldings(t *testing.T) {
	svc, _ := newEngine(t)
	ctx := context.Background()

	created, err := svc.CreateEntities(ctx, models.CreateEntityArgs{Entities: []models.CreateEntityItem{{
		Entity: "leaf", Owner: rootEntity, Key: "leaf-key", OwnerKey: rootKey,
	}}})
	require.NoError(t, err)
	require.Empty(t, created.Rejected)

	res, err := svc.ReleaseEntities(ctx, models.ReleaseEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: "leaf", Key: "leaf-key"},
	}})
	require.NoError(t, err)
	assert.Empty(t, res.Rejected)

	list, err := svc.ListEntities(ctx, models.ListEntitiesArgs{Entity: rootEntity, Key: rootKey})
	require.NoError(t, err)
	assert.Empty(t, list.Entities)
}

func TestReleaseEntityReturnsEveryResource(t *testing.T) {
	svc := newTree(t)
	ctx := context.Background()

	// Give both sides a ram holding next to the fixture's cpu one.
	res, err := svc.SetQuota(ctx, models.SetQuotaArgs{Quotas: []models.SetQuotaItem{
		{Entity: rootEntity, Resource: "ram", Key: rootKey, Quantity: quota.L(50), Capacity: quota.L(0)},
		{Entity: childName, Resource: "ram", Key: childKey, Quantity: quota.L(0), Capacity: quota.L(50)},
	}})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)

	issued, err := svc.IssueCommission(ctx, models.IssueCommissionArgs{
		ClientKey: clientKey,
		Target:    childName,
		Key:       childKey,
		Provisions: []models.ProvisionItem{
			{Entity: rootEntity, Resource: resource, Quantity: 30},
			{Entity: rootEntity, Resource: "ram", Quantity: 20},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.AcceptCommissions(ctx, models.ResolveCommissionsArgs{
		ClientKey: clientKey, Serials: []int64{issued.Serial},
	}))

	released, err := svc.ReleaseEntities(ctx, models.ReleaseEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: childName, Key: childKey},
	}})
	require.NoError(t, err)
	require.Empty(t, released.Rejected)

	cpu := getHolding(t, svc, rootEntity, rootKey, resource)
	ram := getHolding(t, svc, rootEntity, rootKey, "ram")
	assert.Equal(t, int64(30), cpu.Returned)
	assert.Equal(t, int64(100), cpu.ActualQuantity)
	assert.Equal(t, int64(20), ram.Returned)
	assert.Equal(t, int64(50), ram.ActualQuantity)
}

func TestReleaseEntityRejectsPendingHolding(t *testing.T) {
	svc := newTree(t)
	ctx := context.Background()

	issue(t, svc, rootEntity, 30)

	res, err := svc.ReleaseEntities(ctx, models.ReleaseEntityArgs{Entities: []models.EntityKeyItem{
		{Entity: childName, Key: childKey},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{childName}, res.Rejected)

	// The entity and its holding survive intact.
	tgt := getHolding(t, svc, childName, childKey, resource)
	assert.Equal(t, int64(30), tgt.Importing)
}
