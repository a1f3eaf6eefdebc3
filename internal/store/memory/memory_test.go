package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/store"
	"github.com/punchamoorthee/quotaops/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRollsBackOnError(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.Update(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertEntity(&models.Entity{Name: "a", Owner: "a", Key: "k"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetEntity("a")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestViewDiscardsWrites(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.View(ctx, func(tx store.Tx) error {
		return tx.InsertEntity(&models.Entity{Name: "a", Owner: "a", Key: "k"})
	})
	require.NoError(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetEntity("a")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertDuplicates(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.Update(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertEntity(&models.Entity{Name: "a", Owner: "a", Key: "k"}))
		assert.ErrorIs(t, tx.InsertEntity(&models.Entity{Name: "a", Owner: "a"}), store.ErrExists)

		require.NoError(t, tx.InsertHolding(&models.Holding{Entity: "a", Resource: "cpu", Policy: "p"}))
		assert.ErrorIs(t, tx.InsertHolding(&models.Holding{Entity: "a", Resource: "cpu"}), store.ErrExists)

		require.NoError(t, tx.InsertCallSerial(&models.CallSerial{ClientKey: "c", Serial: 1}))
		assert.ErrorIs(t, tx.InsertCallSerial(&models.CallSerial{ClientKey: "c", Serial: 1}), store.ErrExists)
		return nil
	})
	require.NoError(t, err)
}

func TestListChildrenExcludesSelfOwnedRoot(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	err := st.Update(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertEntity(&models.Entity{Name: "root", Owner: "root"}))
		require.NoError(t, tx.InsertEntity(&models.Entity{Name: "b", Owner: "root"}))
		require.NoError(t, tx.InsertEntity(&models.Entity{Name: "a", Owner: "root"}))
		return nil
	})
	require.NoError(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		children, err := tx.ListChildren("root")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, children)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSerialIsMonotonic(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	var first, second int64
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.NextSerial()
		return err
	}))
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		var err error
		second, err = tx.NextSerial()
		return err
	}))
	assert.Equal(t, first+1, second)
}

func TestScanLogWindowAndPaging(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		for i := 0; i < 5; i++ {
			err := tx.AppendLog(&models.ProvisionLog{
				Serial:   int64(i + 1),
				Resource: "cpu",
				LogTime:  base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	err := st.View(ctx, func(tx store.Tx) error {
		// The window is half-open: after is exclusive, before inclusive.
		page, err := tx.ScanLog(base, base.Add(3*time.Minute), 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, int64(2), page[0].Serial)
		assert.Equal(t, int64(4), page[2].Serial)

		// Offset past the window yields nothing.
		page, err = tx.ScanLog(base, base.Add(3*time.Minute), 3, 10)
		require.NoError(t, err)
		assert.Empty(t, page)

		// Limit truncates.
		page, err = tx.ScanLog(base.Add(-time.Minute), base.Add(time.Hour), 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(2), page[0].Serial)
		assert.Equal(t, int64(3), page[1].Serial)
		return nil
	})
	require.NoError(t, err)
}

func TestScanLogOrdersByTimeThenID(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		for _, serial := range []int64{7, 8, 9} {
			if err := tx.AppendLog(&models.ProvisionLog{Serial: serial, LogTime: at}); err != nil {
				return err
			}
		}
		return nil
	}))

	err := st.View(ctx, func(tx store.Tx) error {
		page, err := tx.ScanLog(at.Add(-time.Second), at, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, []int64{7, 8, 9}, []int64{page[0].Serial, page[1].Serial, page[2].Serial})
		assert.Less(t, page[0].ID, page[1].ID)
		return nil
	})
	require.NoError(t, err)
}
