package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlign4(t *testing.T) {
	require.Equal(t, uint32(0), Align4(0))
	require.Equal(t, uint32(4), Align4(1))
	require.Equal(t, uint32(4), Align4(4))
	require.Equal(t, uint32(16), Align4(13))
	require.Equal(t, uint32(12), Floor4(15))
	require.Equal(t, uint32(SlotOverhead+16), SlotExtent(16))
}
