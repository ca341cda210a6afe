package txbuilder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRecipientsRoundTrip(t *testing.T) {
	recipients := []Recipient{
		{Address: common.HexToAddress("0x1111111111111111111111111111111111111111"), Amount: big.NewInt(1)},
		{Address: common.HexToAddress("0x2222222222222222222222222222222222222222"), Amount: big.NewInt(1000000000000)},
	}
	packed, err := PackRecipients(recipients)
	require.NoError(t, err)
	require.Len(t, packed, 2)

	unpacked := UnpackRecipients(packed)
	require.Len(t, unpacked, 2)
	for i, r := range recipients {
		assert.Equal(t, r.Address, unpacked[i].Address)
		assert.Equal(t, 0, r.Amount.Cmp(unpacked[i].Amount))
	}
}

func TestPackRecipientsRejectsAmountNotFittingPackedEncoding(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 96) // exactly 2^96, doesn't fit the low 96 bits
	_, err := PackRecipients([]Recipient{{Address: common.Address{}, Amount: tooBig}})
	assert.Error(t, err)
}

func TestPackERC20AllowanceMatchesABIPack(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	data, err := PackERC20Allowance(owner, spender)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	erc20, _, _, _ := abis()
	packedArgs, err := erc20.Pack("allowance", owner, spender)
	require.NoError(t, err)
	assert.Equal(t, packedArgs, data)
}

func TestBuildMultiTransferChoosesCorrectMethodPerVariant(t *testing.T) {
	chain := int64(1)
	from := common.HexToAddress("0x5555555555555555555555555555555555555555")
	multi := common.HexToAddress("0x6666666666666666666666666666666666666666")
	token := common.HexToAddress("0x7777777777777777777777777777777777777777")
	recipients := []Recipient{{Address: from, Amount: big.NewInt(42)}}

	cases := []struct {
		direct, packed bool
		wantMethod     string
	}{
		{true, false, "golemTransferDirect"},
		{false, false, "golemTransferIndirect"},
		{true, true, "golemTransferDirectPacked"},
		{false, true, "golemTransferIndirectPacked"},
	}
	for _, c := range cases {
		tx, err := BuildMultiTransfer(chain, from, multi, token, recipients, c.direct, c.packed)
		require.NoError(t, err)
		assert.Equal(t, multi, tx.To)
		assert.NotEmpty(t, tx.Data)

		_, multiABI, _, _ := abis()
		method, err := multiABI.MethodById(tx.Data[:4])
		require.NoError(t, err)
		assert.Equal(t, c.wantMethod, method.Name)
	}
}

func TestBuildFaucetCreatePacksTokenAndAmount(t *testing.T) {
	chain := int64(1)
	from := common.HexToAddress("0x8888888888888888888888888888888888888888")
	faucet := common.HexToAddress("0x9999999999999999999999999999999999999999")
	token := common.HexToAddress("0xaAaaAAaaAAAAAAAAaAaAaAaaAAAAAAAAAAAAAAAA")
	amount := big.NewInt(500)

	tx, err := BuildFaucetCreate(chain, from, faucet, token, amount)
	require.NoError(t, err)
	assert.Equal(t, faucet, tx.To)

	_, _, _, faucetABI := abis()
	args, err := faucetABI.Methods["create"].Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, token, args[0])
	assert.Equal(t, 0, amount.Cmp(args[1].(*big.Int)))
}
