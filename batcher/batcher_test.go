package batcher

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/evmpay/model"
)

var (
	sender   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver = common.HexToAddress("0x2222222222222222222222222222222222222222")
	receiver2 = common.HexToAddress("0x3333333333333333333333333333333333333333")
	token    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func nativeTransfer(id int64, amount string) *model.Transfer {
	return &model.Transfer{ID: id, From: sender, Receiver: receiver, Amount: amount}
}

func tokenTransfer(id int64, to common.Address, amount string) *model.Transfer {
	return &model.Transfer{ID: id, From: sender, Receiver: to, Token: &token, Amount: amount}
}

func TestValidateDropsZeroAddresses(t *testing.T) {
	good := nativeTransfer(1, "10")
	badFrom := &model.Transfer{ID: 2, Receiver: receiver, Amount: "5"}
	badReceiver := &model.Transfer{ID: 3, From: sender, Amount: "5"}

	ok, failedIDs, reasons := validate([]*model.Transfer{good, badFrom, badReceiver})
	require.Len(t, ok, 1)
	assert.Equal(t, good, ok[0])
	assert.Equal(t, []int64{2, 3}, failedIDs)
	require.Len(t, reasons, 2)
}

func TestGroupByK1MergesSameFromReceiverToken(t *testing.T) {
	transfers := []*model.Transfer{
		nativeTransfer(1, "10"),
		nativeTransfer(2, "5"),
		tokenTransfer(3, receiver, "7"),
	}
	groups := groupByK1(transfers)
	require.Len(t, groups, 2)

	nativeGroup := groups[0]
	assert.Equal(t, int64(1), nativeGroup.minID)
	assert.Len(t, nativeGroup.transfers, 2)
	assert.Equal(t, "15", nativeGroup.total.String())

	tokenGroup := groups[1]
	assert.Equal(t, int64(3), tokenGroup.minID)
	assert.Equal(t, "7", tokenGroup.total.String())
}

func TestGroupByK1SeparatesDifferentReceivers(t *testing.T) {
	transfers := []*model.Transfer{
		nativeTransfer(1, "10"),
		{ID: 2, From: sender, Receiver: receiver2, Amount: "20"},
	}
	groups := groupByK1(transfers)
	assert.Len(t, groups, 2)
}

func TestGroupByK2MergesAcrossReceiversForSameSenderToken(t *testing.T) {
	k1s := groupByK1([]*model.Transfer{
		tokenTransfer(1, receiver, "1"),
		tokenTransfer(2, receiver2, "2"),
	})
	require.Len(t, k1s, 2)

	k2s := groupByK2(k1s)
	require.Len(t, k2s, 1, "same (sender, token) with no deposit scoping collapses into one k2 group")
	assert.Len(t, k2s[0].groups, 2)
	assert.Equal(t, int64(1), k2s[0].minID)
}

func TestGroupByK2KeepsNativeAndTokenSeparate(t *testing.T) {
	k1s := groupByK1([]*model.Transfer{
		nativeTransfer(1, "10"),
		tokenTransfer(2, receiver, "5"),
	})
	k2s := groupByK2(k1s)
	assert.Len(t, k2s, 2)
}
