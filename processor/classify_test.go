package processor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHelpersAreCaseAndPunctuationInsensitive(t *testing.T) {
	assert.True(t, isGasExceedsAllowance(errors.New("execution reverted: Gas required EXCEEDS allowance")))
	assert.True(t, isFaucetExhausted(errors.New("Cannot Acquire More Funds right now")))
	assert.True(t, isTransferExceedsBalance(errors.New("ERC20: transfer amount exceeds balance")))
	assert.True(t, isInsufficientFunds(errors.New("insufficient funds for gas * price + value")))
	assert.True(t, isInvalidSender(errors.New("invalid sender")))
	assert.True(t, isAlreadyKnown(errors.New("already known")))
}

func TestClassifyHelpersRejectUnrelatedErrors(t *testing.T) {
	err := errors.New("nonce too low")
	assert.False(t, isGasExceedsAllowance(err))
	assert.False(t, isFaucetExhausted(err))
	assert.False(t, isTransferExceedsBalance(err))
	assert.False(t, isInsufficientFunds(err))
	assert.False(t, isInvalidSender(err))
	assert.False(t, isAlreadyKnown(err))
}

func TestClassifyHelpersHandleNilError(t *testing.T) {
	assert.False(t, isGasExceedsAllowance(nil))
	assert.False(t, contains(nil, "anything"))
}
