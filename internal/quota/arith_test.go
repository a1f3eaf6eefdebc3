package quota_test

import (
	"errors"
	"testing"

	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActualQuantity(t *testing.T) {
	v := quota.View{
		Quantity: quota.L(100),
		Imported: 20, Returned: 5, Exported: 30, Released: 10,
	}
	actual, ok := v.ActualQuantity()
	require.True(t, ok)
	assert.Equal(t, int64(85), actual)

	v.Quantity = quota.Unlimited()
	_, ok = v.ActualQuantity()
	assert.False(t, ok)
}

func TestAvailableSubtractsPendingOutbound(t *testing.T) {
	v := quota.View{
		Quantity:  quota.L(100),
		Exported:  30,
		Exporting: 20,
		Releasing: 5,
	}
	avail, ok := v.Available()
	require.True(t, ok)
	assert.Equal(t, int64(45), avail)
}

func TestHeadroomBoundsNetInbound(t *testing.T) {
	v := quota.View{
		Capacity:  quota.L(100),
		Imported:  30,
		Importing: 10,
		Returning: 5,
	}
	room, ok := v.Headroom()
	require.True(t, ok)
	assert.Equal(t, int64(55), room)

	v.Capacity = quota.Unlimited()
	_, ok = v.Headroom()
	assert.False(t, ok)
}

func TestCheckOutbound(t *testing.T) {
	v := quota.View{Quantity: quota.L(100), ExportLimit: quota.L(60), Exported: 30}

	assert.NoError(t, v.CheckOutbound(30, false))

	err := v.CheckOutbound(80, false)
	assert.True(t, errors.Is(err, quota.ErrNoQuantity))

	// Settled exports count against the limit.
	err = v.CheckOutbound(40, false)
	assert.True(t, errors.Is(err, quota.ErrExportLimit))
}

func TestCheckInbound(t *testing.T) {
	v := quota.View{Quantity: quota.L(0), Capacity: quota.L(100), ImportLimit: quota.L(50), Imported: 30}

	assert.NoError(t, v.CheckInbound(20, false))

	err := v.CheckInbound(80, false)
	assert.True(t, errors.Is(err, quota.ErrNoCapacity))

	err = v.CheckInbound(25, false)
	assert.True(t, errors.Is(err, quota.ErrImportLimit))
}

func TestReversalChecksUseOwnCounters(t *testing.T) {
	v := quota.View{
		Quantity:    quota.L(0),
		Imported:    30,
		Capacity:    quota.L(100),
		ExportLimit: quota.L(10),
		ImportLimit: quota.L(40),
	}
	// Releasing is bounded by the export limit.
	err := v.CheckOutbound(15, true)
	assert.True(t, errors.Is(err, quota.ErrExportLimit))
	assert.NoError(t, v.CheckOutbound(10, true))

	// Returning is bounded by the import limit, independent of imported.
	assert.NoError(t, v.CheckInbound(40, true))
	err = v.CheckInbound(41, true)
	assert.True(t, errors.Is(err, quota.ErrImportLimit))
}

func TestChecksReturnNilErrorOnSuccess(t *testing.T) {
	v := quota.View{Quantity: quota.L(100), Capacity: quota.L(100)}

	// The success path must be a plain nil error interface, not a
	// typed nil pointer, for every flavor of check.
	var err error = v.CheckOutbound(10, false)
	assert.NoError(t, err)
	err = v.CheckOutbound(0, true)
	assert.NoError(t, err)
	err = v.CheckInbound(10, false)
	assert.NoError(t, err)
	err = v.CheckInbound(0, true)
	assert.NoError(t, err)
}

func TestDerivedCounters(t *testing.T) {
	c := quota.Counters{Imported: 50, Exported: 20, Returned: 5, Released: 10}
	assert.Equal(t, int64(50), c.Inbound())
	assert.Equal(t, int64(55), c.InboundThrough())
	assert.Equal(t, int64(20), c.Outbound())
	assert.Equal(t, int64(30), c.OutboundThrough())
	assert.Equal(t, int64(30), c.Allocated())
	assert.Equal(t, int64(25), c.AllocatedThrough())
}
