package quota_test

import (
	"encoding/json"
	"testing"

	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitAllows(t *testing.T) {
	assert.True(t, quota.Unlimited().Allows(1<<40))
	assert.True(t, quota.L(10).Allows(10))
	assert.False(t, quota.L(10).Allows(11))
}

func TestLimitAdd(t *testing.T) {
	l, err := quota.L(10).Add(-3)
	require.NoError(t, err)
	assert.Equal(t, quota.L(7), l)

	_, err = quota.L(10).Add(-11)
	assert.Error(t, err)

	// Unlimited absorbs any delta and stays unlimited.
	l, err = quota.Unlimited().Add(-1 << 40)
	require.NoError(t, err)
	assert.False(t, l.Valid)
}

func TestLimitJSON(t *testing.T) {
	raw, err := json.Marshal(quota.L(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(raw))

	raw, err = json.Marshal(quota.Unlimited())
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	var l quota.Limit
	require.NoError(t, json.Unmarshal([]byte("null"), &l))
	assert.False(t, l.Valid)

	require.NoError(t, json.Unmarshal([]byte("7"), &l))
	assert.Equal(t, quota.L(7), l)

	assert.Error(t, json.Unmarshal([]byte("-1"), &l))
}

func TestLimitZeroValueIsUnlimited(t *testing.T) {
	// Absent JSON fields leave the zero value, which must mean "no bound".
	var l quota.Limit
	assert.True(t, l.Allows(1<<40))
}
