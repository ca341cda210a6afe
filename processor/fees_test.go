package processor

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeFeeEvenSplit(t *testing.T) {
	shares := distributeFee(big.NewInt(100), 4)
	require.Len(t, shares, 4)
	for _, s := range shares {
		assert.Equal(t, "25", s.String())
	}
}

func TestDistributeFeeRemainderGoesToFirstTransfers(t *testing.T) {
	// 10 div 3 = 3 r 1: the first transfer gets 4, the rest get 3.
	shares := distributeFee(big.NewInt(10), 3)
	require.Len(t, shares, 3)
	assert.Equal(t, "4", shares[0].String())
	assert.Equal(t, "3", shares[1].String())
	assert.Equal(t, "3", shares[2].String())
}

func TestDistributeFeeZeroTransfers(t *testing.T) {
	assert.Nil(t, distributeFee(big.NewInt(100), 0))
}

func TestDistributeFeeSumMatchesInput(t *testing.T) {
	fee := big.NewInt(987)
	shares := distributeFee(fee, 7)
	sum := big.NewInt(0)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	assert.Equal(t, fee, sum)
}

func TestIsBumped10(t *testing.T) {
	assert.False(t, isBumped10(big.NewInt(100), big.NewInt(100)), "unchanged config is not a bump")
	assert.True(t, isBumped10(big.NewInt(90), big.NewInt(100)), "config more than 10%% above stored is a bump")
	assert.False(t, isBumped10(big.NewInt(115), big.NewInt(100)), "config below stored is not a bump")
	// Borderline: stored*11 == config*10 counts as bumped (<=, not <).
	assert.True(t, isBumped10(big.NewInt(100), big.NewInt(110)))
}

func TestBumpedPriorityFeeCapsAtMax(t *testing.T) {
	got := bumpedPriorityFee(big.NewInt(100), big.NewInt(105))
	assert.Equal(t, big.NewInt(105), got)
}

func TestBumpedPriorityFeeUnderCap(t *testing.T) {
	got := bumpedPriorityFee(big.NewInt(100), big.NewInt(1000))
	assert.Equal(t, big.NewInt(111), got) // 100*11/10 + 1 = 110+1
}
