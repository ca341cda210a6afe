package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransferStateQueued(t *testing.T) {
	tr := &Transfer{}
	assert.Equal(t, TransferQueued, tr.State())
	assert.False(t, tr.IsTerminal())
}

func TestTransferStateProcessing(t *testing.T) {
	id := int64(1)
	tr := &Transfer{TxID: &id}
	assert.Equal(t, TransferProcessing, tr.State())
	assert.False(t, tr.IsTerminal())
}

func TestTransferStateDoneRequiresBothFeeAndPaidDate(t *testing.T) {
	fee := "100"
	now := time.Now()
	tr := &Transfer{TxID: new(int64), FeePaid: &fee, PaidDate: &now}
	assert.Equal(t, TransferDone, tr.State())
	assert.True(t, tr.IsTerminal())
}

func TestTransferStateDoneNotReachedWithOnlyFeePaid(t *testing.T) {
	fee := "100"
	tr := &Transfer{TxID: new(int64), FeePaid: &fee}
	assert.Equal(t, TransferProcessing, tr.State())
}

func TestTransferStateFailedTakesPrecedence(t *testing.T) {
	fee := "100"
	now := time.Now()
	errMsg := "no gas"
	tr := &Transfer{TxID: new(int64), FeePaid: &fee, PaidDate: &now, Error: &errMsg}
	assert.Equal(t, TransferFailed, tr.State())
	assert.True(t, tr.IsTerminal())
}
