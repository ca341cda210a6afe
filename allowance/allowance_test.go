package allowance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSufficientAmountAtHalfMax(t *testing.T) {
	assert.True(t, isSufficientAmount(halfMaxUint256.ToBig().String()))
}

func TestIsSufficientAmountJustBelowHalfMax(t *testing.T) {
	below := new(big.Int).Sub(halfMaxUint256.ToBig(), big.NewInt(1))
	assert.False(t, isSufficientAmount(below.String()))
}

func TestIsSufficientAmountZero(t *testing.T) {
	assert.False(t, isSufficientAmount("0"))
}

func TestIsSufficientAmountMaxUint256(t *testing.T) {
	assert.True(t, isSufficientAmount(maxUint256.ToBig().String()))
}

func TestIsSufficientAmountRejectsGarbage(t *testing.T) {
	assert.False(t, isSufficientAmount("not-a-number"))
}
