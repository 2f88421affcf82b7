package flash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracker_CoalescesAdjacentPages(t *testing.T) {
	tr := NewTracker(4096)
	tr.Add(10, 20)
	tr.Add(4090, 10)
	tr.Add(20000, 1)

	got := tr.Coalesced(1 << 20)
	require.Equal(t, []Range{
		{Off: 0, Len: 8192},
		{Off: 16384, Len: 4096},
	}, got)
}

func TestTracker_ClipsToLimit(t *testing.T) {
	tr := NewTracker(4096)
	tr.Add(5000, 10)
	require.Equal(t, []Range{{Off: 4096, Len: 904}}, tr.Coalesced(5000))
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(0)
	tr.Add(0, 0)
	require.Equal(t, 0, tr.Len(), "empty ranges are ignored")
	tr.Add(0, 1)
	require.Equal(t, 1, tr.Len())
	tr.Reset()
	require.Nil(t, tr.Coalesced(4096))
}
