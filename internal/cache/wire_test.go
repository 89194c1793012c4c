package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	expireAt := time.Now().Add(time.Minute)
	in := entry{Payload: []byte(`{"id":1}`), ExpireAt: expireAt}

	out, err := decodeEntry(encodeEntry(in))
	require.NoError(t, err)
	assert.False(t, out.Absent)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, expireAt.UnixMilli(), out.ExpireAt.UnixMilli())
}

func TestWireAbsentMarker(t *testing.T) {
	out, err := decodeEntry(encodeEntry(entry{Absent: true}))
	require.NoError(t, err)
	assert.True(t, out.Absent)
	assert.Empty(t, out.Payload)
	assert.True(t, out.ExpireAt.IsZero())
}

func TestWireRejectsCorrupt(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"short":           {'H'},
		"bad magic":       {'X', 'Y', wireVersion, 0},
		"bad version":     {'H', 'D', 99, 0},
		"truncated stamp": {'H', 'D', wireVersion, flagLogical, 1, 2},
	}
	for name, raw := range cases {
		_, err := decodeEntry(raw)
		assert.ErrorIs(t, err, ErrCorruptEntry, name)
	}
}
