package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanSlots_BestFitLowestAddress(t *testing.T) {
	free := []span{{0x1000, 200}, {0x2000, 100}, {0x3000, 100}}

	frags, rest, err := planSlots(free, 30)
	require.NoError(t, err)

	// The 100-byte span at 0x2000 is the smallest fit; its 4-byte leftover
	// is too small for a free node and becomes padding.
	require.Equal(t, []fragment{{addr: 0x2000, cur: 36, align: 6}}, frags)
	require.Equal(t, []span{{0x1000, 200}, {0x3000, 100}}, rest)
	require.Equal(t, []span{{0x1000, 200}, {0x2000, 100}, {0x3000, 100}}, free, "input must not change")
}

func TestPlanSlots_CarvesFromTail(t *testing.T) {
	frags, rest, err := planSlots([]span{{0x1000, 400}}, 100)
	require.NoError(t, err)
	require.Equal(t, []fragment{{addr: 0x1000 + 236, cur: 100}}, frags)
	require.Equal(t, []span{{0x1000, 236}}, rest)
}

func TestPlanSlots_ChainsLargestFirst(t *testing.T) {
	free := []span{{0x1000, 300}, {0x2000, 500}, {0x3000, 200}}

	frags, rest, err := planSlots(free, 700)
	require.NoError(t, err)
	require.Equal(t, []fragment{
		{addr: 0x2000, cur: 436},
		{addr: 0x1000, cur: 236},
		{addr: 0x3000 + 108, cur: 28},
	}, frags)
	require.Equal(t, []span{{0x3000, 108}}, rest)

	var total uint32
	for _, f := range frags {
		total += f.dataLen()
	}
	require.Equal(t, uint32(700), total)
}

func TestPlanSlots_PadsUnalignedChainTail(t *testing.T) {
	frags, _, err := planSlots([]span{{0x1000, 100}, {0x2000, 100}}, 61)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	require.Equal(t, uint32(36), frags[0].cur)
	require.Equal(t, uint8(0), frags[0].align)
	require.Equal(t, uint32(61), frags[0].dataLen()+frags[1].dataLen())
	require.Zero(t, frags[1].cur%4)
}

func TestPlanSlots_NotEnoughSpace(t *testing.T) {
	_, _, err := planSlots([]span{{0x1000, 100}, {0x2000, 100}}, 100)
	require.Error(t, err)

	_, _, err = planSlots(nil, 1)
	require.Error(t, err)
}

func TestReleaseSpan_Coalesces(t *testing.T) {
	tests := []struct {
		name string
		free []span
		r    span
		want []span
	}{
		{"empty", nil, span{100, 50}, []span{{100, 50}}},
		{"both sides", []span{{0, 100}, {200, 100}}, span{100, 100}, []span{{0, 300}}},
		{"left only", []span{{0, 100}, {300, 100}}, span{100, 100}, []span{{0, 200}, {300, 100}}},
		{"right only", []span{{200, 100}}, span{100, 100}, []span{{100, 200}}},
		{"isolated", []span{{0, 50}}, span{100, 50}, []span{{0, 50}, {100, 50}}},
		{"front", []span{{500, 50}}, span{100, 50}, []span{{100, 50}, {500, 50}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, releaseSpan(tt.free, tt.r))
		})
	}
}

func TestGaps(t *testing.T) {
	free, lost := gaps([]span{{100, 50}, {200, 100}}, 0, 400)
	require.Equal(t, []span{{0, 100}, {150, 50}, {300, 100}}, free)
	require.Zero(t, lost)

	free, lost = gaps([]span{{0, 90}, {100, 300}}, 0, 400)
	require.Empty(t, free)
	require.Equal(t, uint32(10), lost)

	free, _ = gaps(nil, 0x1000, 0x2000)
	require.Equal(t, []span{{0x1000, 0x1000}}, free)
}

func TestSortSpans_ReportsOverlap(t *testing.T) {
	spans := []span{{200, 50}, {0, 100}, {90, 20}}
	ov := sortSpans(spans)
	require.NotNil(t, ov)
	require.Equal(t, span{0, 100}, ov[0])
	require.Equal(t, span{90, 20}, ov[1])

	require.Nil(t, sortSpans([]span{{100, 10}, {0, 100}}))
}
